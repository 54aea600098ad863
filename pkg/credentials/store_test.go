package credentials

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func TestLoad_CreatesEmptyStorage(t *testing.T) {
	base := t.TempDir()
	s := NewStore(base, zerolog.Nop())

	h, err := s.Load("tenant-1")
	require.NoError(t, err)
	require.Nil(t, h.Payload())
	require.DirExists(t, filepath.Join(base, "tenant-1"))
}

func TestSaveAndReload(t *testing.T) {
	base := t.TempDir()
	s := NewStore(base, zerolog.Nop())

	h, err := s.Load("tenant-1")
	require.NoError(t, err)
	require.NoError(t, h.Save([]byte(`{"noise":"abc"}`)))
	require.Equal(t, []byte(`{"noise":"abc"}`), h.Payload())

	// A second store over the same base sees the persisted payload.
	s2 := NewStore(base, zerolog.Nop())
	h2, err := s2.Load("tenant-1")
	require.NoError(t, err)
	require.Equal(t, []byte(`{"noise":"abc"}`), h2.Payload())

	// No stray temp files left behind.
	entries, err := os.ReadDir(h.Dir())
	require.NoError(t, err)
	require.Len(t, entries, 1)
}

func TestLoad_ReturnsSameHandle(t *testing.T) {
	s := NewStore(t.TempDir(), zerolog.Nop())

	h1, err := s.Load("tenant-1")
	require.NoError(t, err)
	h2, err := s.Load("tenant-1")
	require.NoError(t, err)
	require.Same(t, h1, h2)
}

func TestWipe_InvalidatesHandle(t *testing.T) {
	base := t.TempDir()
	s := NewStore(base, zerolog.Nop())

	h, err := s.Load("tenant-1")
	require.NoError(t, err)
	require.NoError(t, h.Save([]byte("secret")))

	require.NoError(t, s.Wipe("tenant-1"))
	require.NoDirExists(t, filepath.Join(base, "tenant-1"))
	require.False(t, h.Valid())
	require.Nil(t, h.Payload())
	require.Error(t, h.Save([]byte("stale write")))

	// Loading again starts from scratch.
	fresh, err := s.Load("tenant-1")
	require.NoError(t, err)
	require.NotSame(t, h, fresh)
	require.Nil(t, fresh.Payload())
}

func TestWipe_AbsentSessionIsNoop(t *testing.T) {
	s := NewStore(t.TempDir(), zerolog.Nop())
	require.NoError(t, s.Wipe("never-loaded"))
}
