package mediacache

import (
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testID = "gen_0123456789abcdef"

func newStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(filepath.Join(t.TempDir(), "media"), zerolog.Nop())
	require.NoError(t, err)
	return s
}

func TestPutAndOpen(t *testing.T) {
	s := newStore(t)
	require.NoError(t, s.Put(testID, "jpg", []byte("jpeg-data")))

	f, contentType, err := s.Open(testID)
	require.NoError(t, err)
	defer f.Close()

	data, err := io.ReadAll(f)
	require.NoError(t, err)
	assert.Equal(t, []byte("jpeg-data"), data)
	assert.Equal(t, "image/jpeg", contentType)

	entries, err := os.ReadDir(s.Dir())
	require.NoError(t, err)
	assert.Len(t, entries, 1, "no temp files left behind")
}

func TestPutRejectsBadInput(t *testing.T) {
	s := newStore(t)
	assert.Error(t, s.Put("../escape", "png", []byte("x")))
	assert.Error(t, s.Put(testID, "exe", []byte("x")))
}

func TestOpenMissing(t *testing.T) {
	s := newStore(t)
	for _, id := range []string{testID, "../../etc/passwd", "gen_XYZ"} {
		_, _, err := s.Open(id)
		assert.ErrorIs(t, err, ErrNotFound, id)
	}
}

func TestValidID(t *testing.T) {
	assert.True(t, ValidID(testID))
	assert.False(t, ValidID("gen_0123456789ABCDEF"))
	assert.False(t, ValidID("gen_0123"))
	assert.False(t, ValidID(""))
}

func TestSweepRemovesExpired(t *testing.T) {
	s := newStore(t)
	require.NoError(t, s.Put(testID, "png", []byte("old")))
	require.NoError(t, s.Put("gen_fedcba9876543210", "mp4", []byte("new")))

	now := time.Now()
	old := now.Add(-2 * time.Hour)
	require.NoError(t, os.Chtimes(filepath.Join(s.Dir(), testID+".png"), old, old))

	removed, err := s.Sweep(time.Hour, now)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	_, _, err = s.Open(testID)
	assert.ErrorIs(t, err, ErrNotFound)

	f, contentType, err := s.Open("gen_fedcba9876543210")
	require.NoError(t, err)
	f.Close()
	assert.Equal(t, "video/mp4", contentType)
}

func TestSweeper(t *testing.T) {
	s := newStore(t)
	require.NoError(t, s.Put(testID, "gif", []byte("gif")))

	_, err := NewSweeper(s, "not a schedule", time.Hour, zerolog.Nop())
	assert.Error(t, err)

	sw, err := NewSweeper(s, "@every 10m", time.Hour, zerolog.Nop())
	require.NoError(t, err)
	sw.now = func() time.Time { return time.Now().Add(3 * time.Hour) }

	sw.Start()
	sw.Run()
	sw.Stop()

	_, _, err = s.Open(testID)
	assert.ErrorIs(t, err, ErrNotFound)
}
