package logger

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// steppingClock returns a clock that advances one second per call.
func steppingClock() func() time.Time {
	t := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	return func() time.Time {
		t = t.Add(time.Second)
		return t
	}
}

func TestOpenRotating(t *testing.T) {
	t.Run("creates missing directory", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "nested", "audit.jsonl")
		w, err := OpenRotating(path, RotationPolicy{})
		require.NoError(t, err)
		defer w.Close()

		assert.FileExists(t, path)
	})

	t.Run("appends to existing content", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "toolgate.log")
		require.NoError(t, os.WriteFile(path, []byte("first\n"), 0644))

		w, err := OpenRotating(path, RotationPolicy{MaxSizeMB: 1})
		require.NoError(t, err)
		_, err = w.Write([]byte("second\n"))
		require.NoError(t, err)
		require.NoError(t, w.Close())

		content, err := os.ReadFile(path)
		require.NoError(t, err)
		assert.Equal(t, "first\nsecond\n", string(content))
	})

	t.Run("write after close", func(t *testing.T) {
		w, err := OpenRotating(filepath.Join(t.TempDir(), "x.log"), RotationPolicy{})
		require.NoError(t, err)
		require.NoError(t, w.Close())

		_, err = w.Write([]byte("late"))
		assert.ErrorIs(t, err, os.ErrClosed)
		assert.ErrorIs(t, w.Rotate(), os.ErrClosed)
	})
}

func TestRotatingWriter_RotatesOnSize(t *testing.T) {
	path := filepath.Join(t.TempDir(), "toolgate.log")
	w, err := OpenRotating(path, RotationPolicy{MaxSizeMB: 1})
	require.NoError(t, err)
	w.limit = 100
	w.now = func() time.Time { return time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC) }

	_, err = w.Write([]byte(strings.Repeat("a", 80)))
	require.NoError(t, err)
	_, err = w.Write([]byte(strings.Repeat("b", 80)))
	require.NoError(t, err)
	require.NoError(t, w.Close())

	rotated, err := os.ReadFile(path + ".20260102T030405.000")
	require.NoError(t, err)
	assert.Equal(t, strings.Repeat("a", 80), string(rotated))

	current, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, strings.Repeat("b", 80), string(current))
}

func TestRotatingWriter_KeepsMaxBackups(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.jsonl")
	w, err := OpenRotating(path, RotationPolicy{MaxBackups: 2})
	require.NoError(t, err)
	w.now = steppingClock()

	for i := 0; i < 4; i++ {
		_, err := w.Write([]byte("line\n"))
		require.NoError(t, err)
		require.NoError(t, w.Rotate())
	}
	require.NoError(t, w.Close())

	backups := w.backups()
	require.Len(t, backups, 2)
	assert.Equal(t, path+".20260102T030409.000", backups[0])
	assert.Equal(t, path+".20260102T030408.000", backups[1])
}

func TestRotatingWriter_Compresses(t *testing.T) {
	path := filepath.Join(t.TempDir(), "toolgate.log")
	w, err := OpenRotating(path, RotationPolicy{Compress: true})
	require.NoError(t, err)
	w.now = func() time.Time { return time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC) }

	_, err = w.Write([]byte("0123456789"))
	require.NoError(t, err)
	require.NoError(t, w.Rotate())
	require.NoError(t, w.Close())

	assert.FileExists(t, path+".20260102T030405.000.gz")
	assert.NoFileExists(t, path+".20260102T030405.000")
}

func TestRotatingWriter_PrunesByAge(t *testing.T) {
	path := filepath.Join(t.TempDir(), "toolgate.log")

	stale := path + ".20200101T120000.000.gz"
	require.NoError(t, os.WriteFile(stale, []byte("old"), 0644))
	old := time.Now().AddDate(0, 0, -10)
	require.NoError(t, os.Chtimes(stale, old, old))

	fresh := path + ".20260101T120000.000"
	require.NoError(t, os.WriteFile(fresh, []byte("fresh"), 0644))

	w, err := OpenRotating(path, RotationPolicy{MaxAgeDays: 7})
	require.NoError(t, err)
	defer w.Close()

	assert.NoFileExists(t, stale)
	assert.FileExists(t, fresh)
}

func TestGzipFile(t *testing.T) {
	name := filepath.Join(t.TempDir(), "test.txt")
	require.NoError(t, os.WriteFile(name, []byte("test content"), 0644))

	require.NoError(t, gzipFile(name))
	assert.FileExists(t, name+".gz")
	assert.NoFileExists(t, name)
}
