package services

import (
	"context"
	"crypto/rand"
	"fmt"
	"math/big"
	"time"

	"paircast/internal/core/domain"
	"paircast/internal/core/ports"

	"go.uber.org/zap"
)

const codeAlphabet = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZ"

// maxCodeAttempts bounds collision retries during code generation. With a
// 36^6 space and hour-long sessions, a second collision is already unlikely.
const maxCodeAttempts = 5

// Registry owns pairing session lifecycle: code generation, join
// check-and-set, removal, expiry, and per-origin creation rate limiting. It
// is the only entry point for session mutation.
type Registry struct {
	repo    ports.SessionRepository
	windows *RateWindows

	ttl           time.Duration
	sweepInterval time.Duration

	now    func() time.Time
	done   chan struct{}
	logger *zap.SugaredLogger
}

// RegistryOption customizes a Registry.
type RegistryOption func(*Registry)

// WithClock overrides the registry's time source (tests).
func WithClock(now func() time.Time) RegistryOption {
	return func(r *Registry) { r.now = now }
}

// WithSweepInterval overrides how often the expiry sweeper runs.
func WithSweepInterval(d time.Duration) RegistryOption {
	return func(r *Registry) { r.sweepInterval = d }
}

// WithSessionTTL overrides the session expiry threshold.
func WithSessionTTL(d time.Duration) RegistryOption {
	return func(r *Registry) { r.ttl = d }
}

func NewRegistry(repo ports.SessionRepository, maxCreates int, window time.Duration, logger *zap.SugaredLogger, opts ...RegistryOption) *Registry {
	r := &Registry{
		repo:          repo,
		windows:       NewRateWindows(maxCreates, window),
		ttl:           domain.SessionTTL,
		sweepInterval: 5 * time.Minute,
		now:           time.Now,
		done:          make(chan struct{}),
		logger:        logger,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// CreateSession generates a collision-free code and inserts a session with
// conn as the source. Rate limited per origin.
func (r *Registry) CreateSession(ctx context.Context, conn domain.ConnectionID, origin string) (domain.Code, error) {
	now := r.now()
	if !r.windows.Allow(origin, now) {
		r.logger.Warnw("session creation rate limited", "origin", origin)
		return "", domain.ErrRateLimited
	}

	for attempt := 0; attempt < maxCodeAttempts; attempt++ {
		code, err := generateCode()
		if err != nil {
			return "", fmt.Errorf("generate code: %w", err)
		}

		session := &domain.PairingSession{
			Code:       code,
			SourceConn: conn,
			CreatedAt:  now,
		}
		err = r.repo.Create(ctx, session)
		if err == nil {
			r.logger.Infow("session created", "code", code, "source", conn)
			return code, nil
		}
		if err != domain.ErrCodeTaken {
			return "", fmt.Errorf("create session: %w", err)
		}
	}

	return "", fmt.Errorf("could not generate a unique code after %d attempts", maxCodeAttempts)
}

// JoinSession binds conn as the viewer of the session named by raw. The
// bind is a single check-and-set in the repository; when two joins race,
// exactly one succeeds and the other observes domain.ErrAlreadyBound.
func (r *Registry) JoinSession(ctx context.Context, raw string, conn domain.ConnectionID) (*domain.PairingSession, error) {
	code := domain.NormalizeCode(raw)

	session, err := r.repo.Get(ctx, code)
	if err != nil {
		return nil, err
	}
	if session.Expired(r.now(), r.ttl) {
		// Expired-on-read: the sweeper may not have run yet.
		_ = r.repo.Delete(ctx, code)
		return nil, domain.ErrSessionNotFound
	}

	if err := r.repo.BindViewer(ctx, code, conn); err != nil {
		return nil, err
	}

	session, err = r.repo.Get(ctx, code)
	if err != nil {
		return nil, err
	}
	r.logger.Infow("viewer joined session", "code", code, "viewer", conn)
	return session, nil
}

// Lookup returns the live, unexpired session for a code.
func (r *Registry) Lookup(ctx context.Context, code domain.Code) (*domain.PairingSession, error) {
	session, err := r.repo.Get(ctx, code)
	if err != nil {
		return nil, err
	}
	if session.Expired(r.now(), r.ttl) {
		return nil, domain.ErrSessionNotFound
	}
	return session, nil
}

// RemoveSession deletes a session; removing an absent code is not an error.
func (r *Registry) RemoveSession(ctx context.Context, code domain.Code) error {
	return r.repo.Delete(ctx, code)
}

// RemoveByConnection removes the session (if any) that the connection
// participates in, reporting the role it held and the counterpart to notify.
func (r *Registry) RemoveByConnection(ctx context.Context, id domain.ConnectionID) (*domain.RemovedSession, error) {
	session, err := r.repo.FindByConnection(ctx, id)
	if err == domain.ErrSessionNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	if err := r.repo.Delete(ctx, session.Code); err != nil {
		return nil, err
	}

	role, _ := session.RoleOf(id)
	removed := &domain.RemovedSession{Session: session, Role: role}
	if counterpart, ok := session.Counterpart(id); ok {
		removed.Counterpart = counterpart
	}

	r.logger.Infow("session removed on disconnect",
		"code", session.Code,
		"role", role,
		"had_counterpart", removed.Counterpart != "",
	)
	return removed, nil
}

// SweepExpired removes all sessions older than the TTL and prunes rate
// windows. A join racing with the sweep simply observes not-found.
func (r *Registry) SweepExpired(ctx context.Context, now time.Time) int {
	sessions, err := r.repo.List(ctx)
	if err != nil {
		r.logger.Errorw("expiry sweep failed to list sessions", "error", err)
		return 0
	}

	removed := 0
	for _, session := range sessions {
		if session.Expired(now, r.ttl) {
			if err := r.repo.Delete(ctx, session.Code); err != nil {
				r.logger.Errorw("expiry sweep failed to delete session", "code", session.Code, "error", err)
				continue
			}
			removed++
		}
	}

	r.windows.Prune(now)

	if removed > 0 {
		r.logger.Infow("swept expired sessions", "count", removed)
	}
	return removed
}

// ActiveSessions returns the live session count.
func (r *Registry) ActiveSessions(ctx context.Context) int {
	count, err := r.repo.Count(ctx)
	if err != nil {
		r.logger.Errorw("failed to count sessions", "error", err)
		return 0
	}
	return count
}

// StartSweeper runs the periodic expiry sweep until Stop is called.
func (r *Registry) StartSweeper(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(r.sweepInterval)
		defer ticker.Stop()

		for {
			select {
			case <-r.done:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
				r.SweepExpired(ctx, r.now())
			}
		}
	}()
	r.logger.Infow("expiry sweeper started", "interval", r.sweepInterval, "ttl", r.ttl)
}

// Stop halts the sweeper.
func (r *Registry) Stop() {
	close(r.done)
}

func generateCode() (domain.Code, error) {
	buf := make([]byte, domain.CodeLength)
	max := big.NewInt(int64(len(codeAlphabet)))
	for i := range buf {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", err
		}
		buf[i] = codeAlphabet[n.Int64()]
	}
	return domain.Code(buf), nil
}
