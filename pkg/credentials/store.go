// Package credentials persists per-session pairing material under a base
// directory, one subdirectory per session.
package credentials

import (
	"os"
	"path/filepath"
	"sync"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

const payloadFile = "creds.json"

// Store manages the credential directories of all sessions.
type Store struct {
	base string
	log  zerolog.Logger

	mu      sync.Mutex
	handles map[string]*Handle
}

func NewStore(base string, log zerolog.Logger) *Store {
	return &Store{
		base:    base,
		log:     log,
		handles: make(map[string]*Handle),
	}
}

// Load returns the handle for sessionID, creating an empty credential
// directory if none exists yet. Repeated loads return the same handle until
// it is wiped.
func (s *Store) Load(sessionID string) (*Handle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if h, ok := s.handles[sessionID]; ok && h.Valid() {
		return h, nil
	}

	dir := filepath.Join(s.base, sessionID)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, errors.Wrapf(err, "create credential dir %s", dir)
	}

	h := &Handle{dir: dir, valid: true}
	payload, err := os.ReadFile(filepath.Join(dir, payloadFile))
	switch {
	case err == nil:
		h.payload = payload
	case os.IsNotExist(err):
		// fresh session, pairing will fill it in
	default:
		return nil, errors.Wrapf(err, "read credentials for %s", sessionID)
	}

	s.handles[sessionID] = h
	return h, nil
}

// Wipe deletes all stored material for sessionID and invalidates any
// outstanding handle. Wiping a session that has no stored material is a
// no-op.
func (s *Store) Wipe(sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if h, ok := s.handles[sessionID]; ok {
		h.invalidate()
		delete(s.handles, sessionID)
	}

	dir := filepath.Join(s.base, sessionID)
	if err := os.RemoveAll(dir); err != nil {
		return errors.Wrapf(err, "wipe credentials for %s", sessionID)
	}
	s.log.Debug().Str("session_id", sessionID).Msg("credentials wiped")
	return nil
}

// Handle is one session's view of its credential directory. It is exclusively
// owned by that session.
type Handle struct {
	dir string

	mu      sync.Mutex
	payload []byte
	valid   bool
}

// Dir is the session's private credential directory. Transport adapters may
// keep their own state files inside it.
func (h *Handle) Dir() string { return h.dir }

// Payload returns the last persisted credential blob, nil before first
// pairing.
func (h *Handle) Payload() []byte {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.payload
}

func (h *Handle) Valid() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.valid
}

func (h *Handle) invalidate() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.valid = false
	h.payload = nil
}

// Save durably replaces the credential payload. The write goes through a
// temp file and rename so a crash never leaves a truncated blob behind.
func (h *Handle) Save(payload []byte) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.valid {
		return errors.New("credential handle invalidated")
	}

	tmp, err := os.CreateTemp(h.dir, payloadFile+".tmp-*")
	if err != nil {
		return errors.Wrap(err, "create temp credential file")
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(payload); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return errors.Wrap(err, "write credentials")
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return errors.Wrap(err, "sync credentials")
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return errors.Wrap(err, "close temp credential file")
	}
	if err := os.Rename(tmpName, filepath.Join(h.dir, payloadFile)); err != nil {
		_ = os.Remove(tmpName)
		return errors.Wrap(err, "replace credential file")
	}

	h.payload = append([]byte(nil), payload...)
	return nil
}
