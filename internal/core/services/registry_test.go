package services

import (
	"context"
	"sync"
	"testing"
	"time"

	"paircast/internal/core/domain"
	"paircast/internal/infrastructure/repositories/memory"
	"paircast/pkg/validation"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func testRegistry(t *testing.T, opts ...RegistryOption) *Registry {
	t.Helper()
	repo := memory.NewMemorySessionRepository()
	return NewRegistry(repo, 10, time.Hour, zap.NewNop().Sugar(), opts...)
}

func TestCreateSessionGeneratesValidUniqueCodes(t *testing.T) {
	reg := testRegistry(t)
	ctx := context.Background()

	seen := make(map[domain.Code]bool)
	for i := 0; i < 10; i++ {
		code, err := reg.CreateSession(ctx, domain.ConnectionID(rune('a'+i)), "10.0.0.1")
		require.NoError(t, err)
		require.NoError(t, validation.ValidateCode(string(code)))
		assert.Len(t, string(code), domain.CodeLength)
		assert.False(t, seen[code], "codes must be unique among live sessions")
		seen[code] = true
	}
}

func TestCreateSessionRateLimited(t *testing.T) {
	repo := memory.NewMemorySessionRepository()
	reg := NewRegistry(repo, 3, time.Hour, zap.NewNop().Sugar())
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := reg.CreateSession(ctx, domain.ConnectionID(rune('a'+i)), "10.0.0.9")
		require.NoError(t, err)
	}
	_, err := reg.CreateSession(ctx, "conn-x", "10.0.0.9")
	assert.ErrorIs(t, err, domain.ErrRateLimited)

	// A different origin is unaffected.
	_, err = reg.CreateSession(ctx, "conn-y", "10.0.0.10")
	assert.NoError(t, err)
}

func TestRateWindowResetsAtBoundary(t *testing.T) {
	now := time.Now()
	clock := func() time.Time { return now }

	repo := memory.NewMemorySessionRepository()
	reg := NewRegistry(repo, 1, time.Hour, zap.NewNop().Sugar(), WithClock(func() time.Time { return clock() }))
	ctx := context.Background()

	_, err := reg.CreateSession(ctx, "c1", "origin")
	require.NoError(t, err)
	_, err = reg.CreateSession(ctx, "c2", "origin")
	assert.ErrorIs(t, err, domain.ErrRateLimited)

	// Cross the window boundary: the counter resets atomically.
	now = now.Add(time.Hour)
	_, err = reg.CreateSession(ctx, "c3", "origin")
	assert.NoError(t, err)
}

func TestJoinSessionCaseInsensitive(t *testing.T) {
	reg := testRegistry(t)
	ctx := context.Background()

	code, err := reg.CreateSession(ctx, "source-conn", "o1")
	require.NoError(t, err)

	lower := string(code)
	lower = string(domain.NormalizeCode(lower)) // sanity: already upper
	session, err := reg.JoinSession(ctx, string(code), "viewer-conn")
	require.NoError(t, err)
	assert.Equal(t, domain.ConnectionID("viewer-conn"), session.ViewerConn)
	assert.Equal(t, domain.Code(lower), session.Code)
}

func TestJoinSessionLowercaseInput(t *testing.T) {
	reg := testRegistry(t)
	ctx := context.Background()

	code, err := reg.CreateSession(ctx, "source-conn", "o1")
	require.NoError(t, err)

	session, err := reg.JoinSession(ctx, " "+string(code[0]|0x20)+string(code[1:])+" ", "viewer-conn")
	require.NoError(t, err)
	assert.True(t, session.HasViewer())
}

func TestJoinSessionUnknownCode(t *testing.T) {
	reg := testRegistry(t)
	_, err := reg.JoinSession(context.Background(), "ZZZZZZ", "viewer-conn")
	assert.ErrorIs(t, err, domain.ErrSessionNotFound)
}

func TestJoinSessionAlreadyBound(t *testing.T) {
	reg := testRegistry(t)
	ctx := context.Background()

	code, err := reg.CreateSession(ctx, "source-conn", "o1")
	require.NoError(t, err)

	_, err = reg.JoinSession(ctx, string(code), "viewer-1")
	require.NoError(t, err)
	_, err = reg.JoinSession(ctx, string(code), "viewer-2")
	assert.ErrorIs(t, err, domain.ErrAlreadyBound)
}

func TestConcurrentJoinsExactlyOneWinner(t *testing.T) {
	reg := testRegistry(t)
	ctx := context.Background()

	code, err := reg.CreateSession(ctx, "source-conn", "o1")
	require.NoError(t, err)

	const contenders = 16
	var wg sync.WaitGroup
	errs := make([]error, contenders)
	for i := 0; i < contenders; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = reg.JoinSession(ctx, string(code), domain.ConnectionID(rune('a'+i)))
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

func TestExpiredSessionUnreachableBeforeSweep(t *testing.T) {
	now := time.Now()
	clock := func() time.Time { return now }
	reg := testRegistry(t, WithClock(func() time.Time { return clock() }))
	ctx := context.Background()

	code, err := reg.CreateSession(ctx, "source-conn", "o1")
	require.NoError(t, err)

	now = now.Add(domain.SessionTTL + time.Minute)
	_, err = reg.JoinSession(ctx, string(code), "viewer-conn")
	assert.ErrorIs(t, err, domain.ErrSessionNotFound)
}

func TestSweepExpiredRemovesOldSessions(t *testing.T) {
	now := time.Now()
	clock := func() time.Time { return now }
	reg := testRegistry(t, WithClock(func() time.Time { return clock() }))
	ctx := context.Background()

	_, err := reg.CreateSession(ctx, "old-conn", "o1")
	require.NoError(t, err)

	now = now.Add(30 * time.Minute)
	fresh, err := reg.CreateSession(ctx, "fresh-conn", "o2")
	require.NoError(t, err)

	now = now.Add(45 * time.Minute) // old is 75m, fresh is 45m
	removed := reg.SweepExpired(ctx, now)
	assert.Equal(t, 1, removed)
	assert.Equal(t, 1, reg.ActiveSessions(ctx))

	_, err = reg.Lookup(ctx, fresh)
	assert.NoError(t, err)
}

func TestRemoveByConnectionReportsCounterpart(t *testing.T) {
	reg := testRegistry(t)
	ctx := context.Background()

	code, err := reg.CreateSession(ctx, "source-conn", "o1")
	require.NoError(t, err)
	_, err = reg.JoinSession(ctx, string(code), "viewer-conn")
	require.NoError(t, err)

	removed, err := reg.RemoveByConnection(ctx, "source-conn")
	require.NoError(t, err)
	require.NotNil(t, removed)
	assert.Equal(t, domain.RoleSource, removed.Role)
	assert.Equal(t, domain.ConnectionID("viewer-conn"), removed.Counterpart)

	// Session gone: join with same code now fails.
	_, err = reg.JoinSession(ctx, string(code), "viewer-2")
	assert.ErrorIs(t, err, domain.ErrSessionNotFound)

	// Idempotent for unknown connections.
	again, err := reg.RemoveByConnection(ctx, "source-conn")
	require.NoError(t, err)
	assert.Nil(t, again)
}

func TestRemoveByConnectionViewerSide(t *testing.T) {
	reg := testRegistry(t)
	ctx := context.Background()

	code, err := reg.CreateSession(ctx, "source-conn", "o1")
	require.NoError(t, err)
	_, err = reg.JoinSession(ctx, string(code), "viewer-conn")
	require.NoError(t, err)

	removed, err := reg.RemoveByConnection(ctx, "viewer-conn")
	require.NoError(t, err)
	require.NotNil(t, removed)
	assert.Equal(t, domain.RoleViewer, removed.Role)
	assert.Equal(t, domain.ConnectionID("source-conn"), removed.Counterpart)
}

func TestRemoveSessionIdempotent(t *testing.T) {
	reg := testRegistry(t)
	ctx := context.Background()

	code, err := reg.CreateSession(ctx, "source-conn", "o1")
	require.NoError(t, err)

	require.NoError(t, reg.RemoveSession(ctx, code))
	require.NoError(t, reg.RemoveSession(ctx, code))
}
