package media

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestDirFrameSinkWritesFrames(t *testing.T) {
	dir := t.TempDir()
	sink, err := NewDirFrameSink(filepath.Join(dir, "frames"), zap.NewNop().Sugar())
	require.NoError(t, err)

	frame := SampleFrame(256)
	require.NoError(t, sink.SaveFrame(frame))

	entries, err := os.ReadDir(filepath.Join(dir, "frames"))
	require.NoError(t, err)
	require.Len(t, entries, 1)

	data, err := os.ReadFile(filepath.Join(dir, "frames", entries[0].Name()))
	require.NoError(t, err)
	assert.Equal(t, frame, data)
}

func TestSyntheticSourceReusesTrack(t *testing.T) {
	src := NewSyntheticSource(zap.NewNop().Sugar())
	t.Cleanup(func() { src.Close() })

	first, err := src.Tracks(context.Background())
	require.NoError(t, err)
	require.Len(t, first, 1)

	second, err := src.Tracks(context.Background())
	require.NoError(t, err)
	assert.Same(t, first[0], second[0])

	require.NoError(t, src.Close())
	require.NoError(t, src.Close())
}
