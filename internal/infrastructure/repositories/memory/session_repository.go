package memory

import (
	"context"
	"sync"

	"paircast/internal/core/domain"
	"paircast/internal/core/ports"
)

// MemorySessionRepository keeps live sessions in a mutex-guarded map. Create
// and BindViewer run entirely under the write lock, which is what makes the
// join check-and-set indivisible.
type MemorySessionRepository struct {
	sessions map[domain.Code]*domain.PairingSession
	mu       sync.RWMutex
}

func NewMemorySessionRepository() ports.SessionRepository {
	return &MemorySessionRepository{
		sessions: make(map[domain.Code]*domain.PairingSession),
	}
}

func (r *MemorySessionRepository) Create(ctx context.Context, session *domain.PairingSession) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.sessions[session.Code]; exists {
		return domain.ErrCodeTaken
	}

	copied := *session
	r.sessions[session.Code] = &copied
	return nil
}

func (r *MemorySessionRepository) Get(ctx context.Context, code domain.Code) (*domain.PairingSession, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	session, exists := r.sessions[code]
	if !exists {
		return nil, domain.ErrSessionNotFound
	}

	copied := *session
	return &copied, nil
}

func (r *MemorySessionRepository) BindViewer(ctx context.Context, code domain.Code, viewer domain.ConnectionID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	session, exists := r.sessions[code]
	if !exists {
		return domain.ErrSessionNotFound
	}
	if session.HasViewer() {
		return domain.ErrAlreadyBound
	}

	session.ViewerConn = viewer
	return nil
}

func (r *MemorySessionRepository) Delete(ctx context.Context, code domain.Code) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.sessions, code)
	return nil
}

func (r *MemorySessionRepository) FindByConnection(ctx context.Context, id domain.ConnectionID) (*domain.PairingSession, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, session := range r.sessions {
		if session.SourceConn == id || (session.HasViewer() && session.ViewerConn == id) {
			copied := *session
			return &copied, nil
		}
	}
	return nil, domain.ErrSessionNotFound
}

func (r *MemorySessionRepository) List(ctx context.Context) ([]*domain.PairingSession, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	sessions := make([]*domain.PairingSession, 0, len(r.sessions))
	for _, session := range r.sessions {
		copied := *session
		sessions = append(sessions, &copied)
	}
	return sessions, nil
}

func (r *MemorySessionRepository) Count(ctx context.Context) (int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.sessions), nil
}
