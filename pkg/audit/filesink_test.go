package audit

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileSink_WriteAndRead(t *testing.T) {
	dir := t.TempDir()
	sink, err := NewFileSink(FileSinkConfig{Dir: dir})
	require.NoError(t, err)
	defer sink.Close()

	ctx := context.Background()
	for _, id := range []string{"e1", "e2", "e3"} {
		e := NewEvent(ActionLogin)
		e.ID = id
		e.ServiceName = "identity"
		require.NoError(t, sink.Write(ctx, e))
	}

	assert.FileExists(t, filepath.Join(dir, "audit.log"))

	events, err := sink.ReadEvents(0)
	require.NoError(t, err)
	require.Len(t, events, 3)
	assert.Equal(t, "e1", events[0].ID)
	assert.Equal(t, ActionLogin, events[2].Action)

	limited, err := sink.ReadEvents(2)
	require.NoError(t, err)
	assert.Len(t, limited, 2)
}

func TestFileSink_Rotation(t *testing.T) {
	dir := t.TempDir()
	sink, err := NewFileSink(FileSinkConfig{Dir: dir, MaxSizeBytes: 1, MaxFiles: 2})
	require.NoError(t, err)
	defer sink.Close()

	tick := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	sink.now = func() time.Time {
		tick = tick.Add(time.Second)
		return tick
	}

	ctx := context.Background()
	for i := 0; i < 5; i++ {
		e := NewEvent(ActionRead)
		e.ServiceName = "svc"
		require.NoError(t, sink.Write(ctx, e))
	}

	rotated, err := sink.RotatedFiles()
	require.NoError(t, err)
	assert.Len(t, rotated, 2)
	assert.Equal(t, filepath.Join(dir, "audit-20240101-000003.000000000.log"), rotated[0])

	events, err := sink.ReadEvents(0)
	require.NoError(t, err)
	assert.Len(t, events, 1)
}

func TestFileSink_WriteAfterClose(t *testing.T) {
	sink, err := NewFileSink(FileSinkConfig{Dir: t.TempDir()})
	require.NoError(t, err)
	require.NoError(t, sink.Close())
	require.NoError(t, sink.Close())

	assert.Error(t, sink.Write(context.Background(), NewEvent(ActionRead)))
}

func TestFileSink_BadDirectory(t *testing.T) {
	file := filepath.Join(t.TempDir(), "not-a-dir")
	require.NoError(t, os.WriteFile(file, []byte("x"), 0o644))

	_, err := NewFileSink(FileSinkConfig{Dir: filepath.Join(file, "audit")})
	assert.Error(t, err)
}
