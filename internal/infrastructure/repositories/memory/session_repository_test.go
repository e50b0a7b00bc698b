package memory

import (
	"context"
	"sync"
	"testing"
	"time"

	"paircast/internal/core/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newSession(code domain.Code, source domain.ConnectionID) *domain.PairingSession {
	return &domain.PairingSession{
		Code:       code,
		SourceConn: source,
		CreatedAt:  time.Now(),
	}
}

func TestCreateRejectsDuplicateCode(t *testing.T) {
	repo := NewMemorySessionRepository()
	ctx := context.Background()

	require.NoError(t, repo.Create(ctx, newSession("ABC123", "conn-1")))
	err := repo.Create(ctx, newSession("ABC123", "conn-2"))
	assert.ErrorIs(t, err, domain.ErrCodeTaken)
}

func TestGetReturnsCopy(t *testing.T) {
	repo := NewMemorySessionRepository()
	ctx := context.Background()

	require.NoError(t, repo.Create(ctx, newSession("ABC123", "conn-1")))

	got, err := repo.Get(ctx, "ABC123")
	require.NoError(t, err)
	got.ViewerConn = "tampered"

	again, err := repo.Get(ctx, "ABC123")
	require.NoError(t, err)
	assert.False(t, again.HasViewer(), "mutating a returned session must not affect the store")
}

func TestBindViewerOnce(t *testing.T) {
	repo := NewMemorySessionRepository()
	ctx := context.Background()

	require.NoError(t, repo.Create(ctx, newSession("ABC123", "conn-1")))
	require.NoError(t, repo.BindViewer(ctx, "ABC123", "conn-2"))

	err := repo.BindViewer(ctx, "ABC123", "conn-3")
	assert.ErrorIs(t, err, domain.ErrAlreadyBound)

	got, err := repo.Get(ctx, "ABC123")
	require.NoError(t, err)
	assert.Equal(t, domain.ConnectionID("conn-2"), got.ViewerConn)
}

func TestBindViewerMissingSession(t *testing.T) {
	repo := NewMemorySessionRepository()
	err := repo.BindViewer(context.Background(), "NOPE00", "conn-2")
	assert.ErrorIs(t, err, domain.ErrSessionNotFound)
}

func TestConcurrentBindExactlyOneWins(t *testing.T) {
	repo := NewMemorySessionRepository()
	ctx := context.Background()
	require.NoError(t, repo.Create(ctx, newSession("ABC123", "conn-1")))

	const contenders = 32
	var wg sync.WaitGroup
	errs := make([]error, contenders)

	for i := 0; i < contenders; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = repo.BindViewer(ctx, "ABC123", domain.ConnectionID(rune('a'+i)))
		}(i)
	}
	wg.Wait()

	winners := 0
	for _, err := range errs {
		if err == nil {
			winners++
		} else {
			assert.ErrorIs(t, err, domain.ErrAlreadyBound)
		}
	}
	assert.Equal(t, 1, winners)
}

func TestDeleteIsIdempotent(t *testing.T) {
	repo := NewMemorySessionRepository()
	ctx := context.Background()

	require.NoError(t, repo.Create(ctx, newSession("ABC123", "conn-1")))
	require.NoError(t, repo.Delete(ctx, "ABC123"))
	require.NoError(t, repo.Delete(ctx, "ABC123"))

	_, err := repo.Get(ctx, "ABC123")
	assert.ErrorIs(t, err, domain.ErrSessionNotFound)
}

func TestFindByConnectionMatchesEitherRole(t *testing.T) {
	repo := NewMemorySessionRepository()
	ctx := context.Background()

	require.NoError(t, repo.Create(ctx, newSession("ABC123", "source-conn")))
	require.NoError(t, repo.BindViewer(ctx, "ABC123", "viewer-conn"))

	bySource, err := repo.FindByConnection(ctx, "source-conn")
	require.NoError(t, err)
	assert.Equal(t, domain.Code("ABC123"), bySource.Code)

	byViewer, err := repo.FindByConnection(ctx, "viewer-conn")
	require.NoError(t, err)
	assert.Equal(t, domain.Code("ABC123"), byViewer.Code)

	_, err = repo.FindByConnection(ctx, "unknown")
	assert.ErrorIs(t, err, domain.ErrSessionNotFound)
}

func TestListAndCount(t *testing.T) {
	repo := NewMemorySessionRepository()
	ctx := context.Background()

	require.NoError(t, repo.Create(ctx, newSession("AAAAAA", "c1")))
	require.NoError(t, repo.Create(ctx, newSession("BBBBBB", "c2")))

	sessions, err := repo.List(ctx)
	require.NoError(t, err)
	assert.Len(t, sessions, 2)

	count, err := repo.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, count)
}
