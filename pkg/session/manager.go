package session

import (
	"context"
	"sort"
	"sync"

	"github.com/pkg/errors"

	"github.com/BrnEnd/AgenteAutonomoWPP/pkg/store"
)

var (
	ErrAlreadyExists = errors.New("session already exists")
	ErrNotFound      = errors.New("session not found")
	ErrNotConnected  = errors.New("session not connected")
)

// Manager is the registry of live sessions. It is the sole writer of the
// collection: mutation is confined to Create, Destroy and RestoreAll.
type Manager struct {
	deps Deps

	mu       sync.Mutex
	sessions map[string]*Session
}

func NewManager(deps Deps) *Manager {
	if deps.Recorder == nil {
		deps.Recorder = store.NewNop()
	}
	deps.Delays = deps.Delays.withDefaults()
	return &Manager{
		deps:     deps,
		sessions: make(map[string]*Session),
	}
}

// Create registers and starts a new session. When starting fails the session
// is evicted again, an error status is recorded and the failure is surfaced
// to the caller.
func (m *Manager) Create(ctx context.Context, id string, cfg Config) (*Session, error) {
	if id == "" {
		return nil, errors.New("empty session id")
	}

	m.mu.Lock()
	if _, ok := m.sessions[id]; ok {
		m.mu.Unlock()
		return nil, ErrAlreadyExists
	}
	s := newSession(id, cfg, m.deps)
	m.sessions[id] = s
	m.mu.Unlock()

	if err := s.Start(ctx); err != nil {
		m.mu.Lock()
		delete(m.sessions, id)
		m.mu.Unlock()
		s.quiesce()
		m.deps.Recorder.UpdateStatus(ctx, id, "error", map[string]any{store.ExtraLastError: err.Error()})
		return nil, errors.Wrapf(err, "start session %s", id)
	}
	return s, nil
}

// Get returns the session or ErrNotFound; it never constructs implicitly.
func (m *Manager) Get(id string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, ErrNotFound
	}
	return s, nil
}

// List returns a point-in-time snapshot of every registered session, ordered
// by session id.
func (m *Manager) List() []Snapshot {
	m.mu.Lock()
	sessions := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	m.mu.Unlock()

	sort.Slice(sessions, func(i, j int) bool { return sessions[i].id < sessions[j].id })
	out := make([]Snapshot, 0, len(sessions))
	for _, s := range sessions {
		out = append(out, s.Snapshot())
	}
	return out
}

// Destroy stops the session and removes it from the registry. Removal happens
// even when the transport logout fails; cleanup is never blocked by it.
func (m *Manager) Destroy(ctx context.Context, id string, wipeCredentials bool) error {
	m.mu.Lock()
	s, ok := m.sessions[id]
	if !ok {
		m.mu.Unlock()
		return ErrNotFound
	}
	delete(m.sessions, id)
	m.mu.Unlock()

	s.Stop(ctx, wipeCredentials)
	return nil
}

// RestoreAll recreates the sessions the recorder flags as restorable. One
// session's failure is logged and recorded but does not abort the rest.
func (m *Manager) RestoreAll(ctx context.Context) {
	rows, err := m.deps.Recorder.ListRestorable(ctx)
	if err != nil {
		m.deps.Logger.Error().Err(err).Msg("querying restorable sessions failed")
		return
	}

	for _, r := range rows {
		m.mu.Lock()
		_, exists := m.sessions[r.SessionID]
		m.mu.Unlock()
		if exists {
			continue
		}

		m.deps.Logger.Info().Str("session_id", r.SessionID).Msg("restoring session")
		_, err := m.Create(ctx, r.SessionID, Config{
			DisplayName: r.DisplayName,
			Context:     r.Context,
			AutoRestart: r.AutoRestart,
		})
		if err != nil {
			// Create already recorded the error status.
			m.deps.Logger.Error().Err(err).Str("session_id", r.SessionID).Msg("restore failed")
		}
	}
}

// Shutdown quiesces every registered session for process exit. Transport
// connections are closed but no session logs out and no terminal status is
// written, so the durable records keep their last live status and RestoreAll
// brings the sessions back on the next boot. Destroy remains the only path
// that logs out.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	sessions := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	m.sessions = make(map[string]*Session)
	m.mu.Unlock()

	for _, s := range sessions {
		s.log.Info().Msg("suspending session for shutdown")
		s.quiesce()
	}
}

// Status returns the snapshot of one session.
func (m *Manager) Status(id string) (Snapshot, error) {
	s, err := m.Get(id)
	if err != nil {
		return Snapshot{}, err
	}
	return s.Snapshot(), nil
}

// PairingInfo returns the pairing state of one session.
func (m *Manager) PairingInfo(id string) (PairingInfo, error) {
	s, err := m.Get(id)
	if err != nil {
		return PairingInfo{}, err
	}
	return s.PairingInfo(), nil
}

// PatchRequest is a partial update of a session's mutable fields.
type PatchRequest struct {
	Context     *string
	DisplayName *string
	AutoRestart *bool
}

// Patch applies a partial update and persists the resulting record.
func (m *Manager) Patch(ctx context.Context, id string, p PatchRequest) (Snapshot, error) {
	s, err := m.Get(id)
	if err != nil {
		return Snapshot{}, err
	}
	if p.Context != nil {
		s.SetContext(ctx, *p.Context)
	}
	if p.DisplayName != nil && *p.DisplayName != "" {
		s.SetDisplayName(*p.DisplayName)
	}
	if p.AutoRestart != nil {
		s.SetAutoRestart(*p.AutoRestart)
	}

	snap := s.Snapshot()
	m.deps.Recorder.UpdateStatus(ctx, id, string(snap.Status), map[string]any{
		store.ExtraContext:     snap.Context,
		store.ExtraDisplayName: snap.DisplayName,
		store.ExtraAutoRestart: snap.AutoRestart,
	})
	return snap, nil
}

// Send delivers an outbound message through one session.
func (m *Manager) Send(ctx context.Context, id, peer, text string) error {
	s, err := m.Get(id)
	if err != nil {
		return err
	}
	return s.Send(ctx, peer, text)
}

// Count returns the number of registered sessions.
func (m *Manager) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}
