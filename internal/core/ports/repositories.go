package ports

import (
	"context"

	"paircast/internal/core/domain"
)

// SessionRepository stores live pairing sessions. Implementations must make
// Create and BindViewer atomic: Create fails with domain.ErrCodeTaken on a
// code collision, and BindViewer is a single check-and-set that exactly one
// of two racing joins can win (the loser sees domain.ErrAlreadyBound).
type SessionRepository interface {
	Create(ctx context.Context, session *domain.PairingSession) error
	Get(ctx context.Context, code domain.Code) (*domain.PairingSession, error)
	BindViewer(ctx context.Context, code domain.Code, viewer domain.ConnectionID) error
	Delete(ctx context.Context, code domain.Code) error
	FindByConnection(ctx context.Context, id domain.ConnectionID) (*domain.PairingSession, error)
	List(ctx context.Context) ([]*domain.PairingSession, error)
	Count(ctx context.Context) (int, error)
}
