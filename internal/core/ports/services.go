package ports

import (
	"context"
	"time"

	"paircast/internal/core/domain"
)

// SessionRegistry is the relay's only entry point for session mutation. All
// operations are synchronous and never leave a session half-bound.
type SessionRegistry interface {
	// CreateSession generates a unique code and inserts a session owned by
	// conn. Returns domain.ErrRateLimited when origin exceeded its window.
	CreateSession(ctx context.Context, conn domain.ConnectionID, origin string) (domain.Code, error)

	// JoinSession binds conn as the viewer of the session identified by raw
	// (case-insensitive). Returns domain.ErrSessionNotFound for missing or
	// expired codes and domain.ErrAlreadyBound when a viewer already won.
	JoinSession(ctx context.Context, raw string, conn domain.ConnectionID) (*domain.PairingSession, error)

	// Lookup returns the live, unexpired session for a code.
	Lookup(ctx context.Context, code domain.Code) (*domain.PairingSession, error)

	// RemoveSession deletes the session; idempotent.
	RemoveSession(ctx context.Context, code domain.Code) error

	// RemoveByConnection removes any session the connection participates in
	// and reports who else should be notified. Returns nil when the
	// connection held no session.
	RemoveByConnection(ctx context.Context, id domain.ConnectionID) (*domain.RemovedSession, error)

	// SweepExpired removes sessions older than the TTL; returns the count.
	SweepExpired(ctx context.Context, now time.Time) int

	ActiveSessions(ctx context.Context) int
}
