// Package session implements the per-tenant connection state machine and the
// registry that manages many of them.
package session

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/BrnEnd/AgenteAutonomoWPP/pkg/ai"
	"github.com/BrnEnd/AgenteAutonomoWPP/pkg/credentials"
	"github.com/BrnEnd/AgenteAutonomoWPP/pkg/store"
	"github.com/BrnEnd/AgenteAutonomoWPP/pkg/transport"
)

// Status is the lifecycle state of a session.
type Status string

const (
	StatusCreated         Status = "created"
	StatusStarting        Status = "starting"
	StatusConnecting      Status = "connecting"
	StatusWaitingPairing  Status = "waiting_pairing"
	StatusConnected       Status = "connected"
	StatusDisconnected    Status = "disconnected"
	StatusAwaitingPairing Status = "awaiting_pairing"
	StatusStopped         Status = "stopped"
)

// ReconnectDelays are the fixed retry delays of the reconnect scheduler.
type ReconnectDelays struct {
	// Invalidated applies after a permanent credential invalidation forced a
	// wipe and the session must re-pair.
	Invalidated time.Duration
	// Transient applies after any other connection close.
	Transient time.Duration
	// RebuildFailure applies when rebuilding the transport client itself
	// failed.
	RebuildFailure time.Duration
}

func DefaultDelays() ReconnectDelays {
	return ReconnectDelays{
		Invalidated:    3 * time.Second,
		Transient:      5 * time.Second,
		RebuildFailure: 10 * time.Second,
	}
}

func (d ReconnectDelays) withDefaults() ReconnectDelays {
	def := DefaultDelays()
	if d.Invalidated <= 0 {
		d.Invalidated = def.Invalidated
	}
	if d.Transient <= 0 {
		d.Transient = def.Transient
	}
	if d.RebuildFailure <= 0 {
		d.RebuildFailure = def.RebuildFailure
	}
	return d
}

// Config is the caller-supplied configuration of one session.
type Config struct {
	DisplayName string
	Context     string
	AutoRestart bool
}

// Deps are the collaborators shared by all sessions of a Manager.
type Deps struct {
	Dialer      transport.Dialer
	Credentials *credentials.Store
	Recorder    store.Recorder
	Responder   ai.Responder
	Logger      zerolog.Logger
	Delays      ReconnectDelays
}

// Session is one tenant's managed connection and its state machine. All
// transitions go through the event handlers and the exported operations;
// nothing mutates status directly from outside.
type Session struct {
	id     string
	log    zerolog.Logger
	dialer transport.Dialer
	creds  *credentials.Store
	rec    store.Recorder
	resp   ai.Responder
	delays ReconnectDelays

	// ctx is cancelled by Stop and bounds every in-flight generation call.
	ctx    context.Context
	cancel context.CancelFunc

	mu             sync.Mutex
	displayName    string
	contextBlob    string
	autoRestart    bool
	status         Status
	connected      bool
	pairingCode    string
	handle         *credentials.Handle
	client         transport.Client
	reconnectTimer *time.Timer
	stopped        bool
}

func newSession(id string, cfg Config, deps Deps) *Session {
	displayName := cfg.DisplayName
	if displayName == "" {
		displayName = id
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Session{
		id:          id,
		log:         deps.Logger.With().Str("session_id", id).Logger(),
		dialer:      deps.Dialer,
		creds:       deps.Credentials,
		rec:         deps.Recorder,
		resp:        deps.Responder,
		delays:      deps.Delays.withDefaults(),
		ctx:         ctx,
		cancel:      cancel,
		displayName: displayName,
		contextBlob: cfg.Context,
		autoRestart: cfg.AutoRestart,
		status:      StatusCreated,
	}
}

// ID returns the immutable session key.
func (s *Session) ID() string { return s.id }

// Start moves the session from created to starting: it loads or creates the
// credential handle, persists the initial record and opens the transport.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.status != StatusCreated {
		status := s.status
		s.mu.Unlock()
		return errors.Errorf("session %s cannot start from state %s", s.id, status)
	}
	s.status = StatusStarting
	s.mu.Unlock()

	s.log.Info().Msg("starting session")

	handle, err := s.creds.Load(s.id)
	if err != nil {
		return errors.Wrap(err, "load credentials")
	}

	s.mu.Lock()
	s.handle = handle
	rec := store.SessionRecord{
		SessionID:   s.id,
		DisplayName: s.displayName,
		Context:     s.contextBlob,
		Status:      string(s.status),
		TokensPath:  handle.Dir(),
		AutoRestart: s.autoRestart,
	}
	s.mu.Unlock()
	s.rec.UpsertSession(ctx, rec)

	return s.dial(ctx)
}

// dial replaces the transport client with a freshly built one. The old client,
// if any, is closed first; a session's client is 1:1 and never shared across
// reconnects.
func (s *Session) dial(ctx context.Context) error {
	s.mu.Lock()
	handle := s.handle
	old := s.client
	s.client = nil
	s.mu.Unlock()

	if old != nil {
		old.Close()
	}

	if handle == nil || !handle.Valid() {
		h, err := s.creds.Load(s.id)
		if err != nil {
			return errors.Wrap(err, "reload credentials")
		}
		handle = h
		s.mu.Lock()
		s.handle = h
		s.mu.Unlock()
	}

	client, err := s.dialer.Dial(ctx, transport.AuthState{Dir: handle.Dir(), Payload: handle.Payload()}, transport.Handlers{
		OnConnectionUpdate:   s.handleConnectionUpdate,
		OnCredentialsUpdated: s.handleCredentialsUpdated,
		OnMessages:           s.handleMessages,
	})
	if err != nil {
		return errors.Wrap(err, "dial transport")
	}

	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		client.Close()
		return nil
	}
	s.client = client
	s.mu.Unlock()
	return nil
}

func (s *Session) handleConnectionUpdate(u transport.ConnectionUpdate) {
	if u.PairingCode != "" {
		s.handlePairingCode(u.PairingCode)
	}

	switch u.State {
	case transport.StateConnecting:
		s.mu.Lock()
		if s.stopped {
			s.mu.Unlock()
			return
		}
		s.status = StatusConnecting
		s.mu.Unlock()
		s.log.Info().Msg("connecting to transport")
		s.rec.UpdateStatus(s.ctx, s.id, string(StatusConnecting), nil)

	case transport.StateOpen:
		s.mu.Lock()
		if s.stopped {
			s.mu.Unlock()
			return
		}
		s.status = StatusConnected
		s.connected = true
		s.pairingCode = ""
		s.mu.Unlock()
		s.log.Info().Msg("session connected")
		s.rec.UpdateStatus(s.ctx, s.id, string(StatusConnected), map[string]any{store.ExtraLastQR: nil})
		s.rec.RecordEvent(s.ctx, s.id, "connected", nil)

	case transport.StateClosed:
		s.handleClose(u)
	}
}

func (s *Session) handlePairingCode(code string) {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.status = StatusWaitingPairing
	s.connected = false
	s.pairingCode = code
	s.mu.Unlock()

	s.log.Info().Msg("pairing code issued")
	s.rec.UpdateStatus(s.ctx, s.id, string(StatusWaitingPairing), map[string]any{store.ExtraLastQR: code})
	s.rec.RecordEvent(s.ctx, s.id, "pairing_issued", nil)
}

func (s *Session) handleClose(u transport.ConnectionUpdate) {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.status = StatusDisconnected
	s.connected = false
	autoRestart := s.autoRestart
	s.mu.Unlock()

	payload := map[string]any{"reason": u.CloseReason.String()}
	if u.CloseErr != nil {
		payload["error"] = u.CloseErr.Error()
	}
	s.log.Warn().Str("reason", u.CloseReason.String()).Msg("connection closed")
	s.rec.UpdateStatus(s.ctx, s.id, string(StatusDisconnected), nil)
	s.rec.RecordEvent(s.ctx, s.id, "connection_closed", payload)

	if u.CloseReason.Permanent() {
		s.log.Warn().Msg("credentials permanently invalidated, wiping")
		if err := s.creds.Wipe(s.id); err != nil {
			s.log.Error().Err(err).Msg("credential wipe failed")
		}
		s.mu.Lock()
		s.handle = nil
		s.status = StatusAwaitingPairing
		s.mu.Unlock()
		s.rec.UpdateStatus(s.ctx, s.id, string(StatusAwaitingPairing), nil)
		if autoRestart {
			s.scheduleReconnect(s.delays.Invalidated)
		}
		return
	}

	if autoRestart {
		s.scheduleReconnect(s.delays.Transient)
	}
}

// scheduleReconnect arms the single retry slot. A new schedule replaces any
// pending timer, so two close events in a row never produce two concurrent
// reconnect attempts.
func (s *Session) scheduleReconnect(delay time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return
	}
	if s.reconnectTimer != nil {
		s.reconnectTimer.Stop()
	}
	s.log.Info().Dur("delay", delay).Msg("reconnect scheduled")
	s.reconnectTimer = time.AfterFunc(delay, s.reconnect)
}

func (s *Session) reconnect() {
	s.mu.Lock()
	s.reconnectTimer = nil
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.status = StatusConnecting
	autoRestart := s.autoRestart
	s.mu.Unlock()

	s.log.Info().Msg("attempting reconnect")
	s.rec.UpdateStatus(s.ctx, s.id, string(StatusConnecting), nil)

	if err := s.dial(s.ctx); err != nil {
		s.log.Error().Err(err).Msg("reconnect failed")
		s.rec.RecordEvent(s.ctx, s.id, "reconnect_failed", map[string]any{"error": err.Error()})
		if autoRestart {
			s.scheduleReconnect(s.delays.RebuildFailure)
		}
	}
}

// handleCredentialsUpdated persists rotated secrets synchronously; the
// transport must not race ahead of an unsaved credential update.
func (s *Session) handleCredentialsUpdated(payload []byte) {
	s.mu.Lock()
	handle := s.handle
	s.mu.Unlock()
	if handle == nil {
		return
	}
	if err := handle.Save(payload); err != nil {
		s.log.Error().Err(err).Msg("persisting rotated credentials failed")
		return
	}
	s.log.Debug().Msg("credentials saved")
}

// Stop cancels any pending reconnect, logs out of the transport (best-effort),
// optionally wipes credentials and leaves the session in its terminal state.
// It is idempotent and safe to call concurrently with an in-flight reconnect.
func (s *Session) Stop(ctx context.Context, wipeCredentials bool) {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	if s.reconnectTimer != nil {
		s.reconnectTimer.Stop()
		s.reconnectTimer = nil
	}
	client := s.client
	s.client = nil
	s.handle = nil
	s.status = StatusStopped
	s.connected = false
	s.pairingCode = ""
	s.mu.Unlock()

	s.cancel()

	if client != nil {
		if err := client.Logout(ctx); err != nil {
			s.log.Warn().Err(err).Msg("transport logout failed")
		}
		client.Close()
	}

	if wipeCredentials {
		if err := s.creds.Wipe(s.id); err != nil {
			s.log.Warn().Err(err).Msg("credential wipe failed")
		}
	}

	s.rec.UpdateStatus(ctx, s.id, string(StatusStopped), nil)
	s.rec.RecordEvent(ctx, s.id, "stopped", map[string]any{"wipe_credentials": wipeCredentials})
	s.log.Info().Msg("session stopped")
}

// quiesce releases the session's resources without the stop bookkeeping:
// the transport connection is closed but nothing is logged out, credentials
// stay on disk and no terminal status is recorded. Used for sessions that
// never finished starting and for process shutdown, where the durable record
// must keep its last live status so the next boot restores the session.
func (s *Session) quiesce() {
	s.mu.Lock()
	s.stopped = true
	if s.reconnectTimer != nil {
		s.reconnectTimer.Stop()
		s.reconnectTimer = nil
	}
	client := s.client
	s.client = nil
	s.mu.Unlock()
	s.cancel()
	if client != nil {
		client.Close()
	}
}

// SetContext replaces the tenant's generation context and persists it. The
// connection state is untouched.
func (s *Session) SetContext(ctx context.Context, contextBlob string) {
	s.mu.Lock()
	s.contextBlob = contextBlob
	s.mu.Unlock()
	s.rec.UpdateContext(ctx, s.id, contextBlob)
}

func (s *Session) SetDisplayName(name string) {
	s.mu.Lock()
	s.displayName = name
	s.mu.Unlock()
}

func (s *Session) SetAutoRestart(v bool) {
	s.mu.Lock()
	s.autoRestart = v
	s.mu.Unlock()
}

// Send delivers an API-triggered outbound message. The session must be
// connected.
func (s *Session) Send(ctx context.Context, peer, text string) error {
	s.mu.Lock()
	client := s.client
	connected := s.connected
	s.mu.Unlock()
	if client == nil || !connected {
		return ErrNotConnected
	}
	if err := client.SendMessage(ctx, peer, text); err != nil {
		return errors.Wrap(err, "send message")
	}
	s.rec.RecordMessage(ctx, store.MessageRecord{
		SessionID: s.id,
		Direction: "outgoing",
		Peer:      peer,
		Body:      text,
		Metadata:  map[string]any{"triggered_by": "api"},
	})
	return nil
}

// Snapshot is a point-in-time view of a session.
type Snapshot struct {
	SessionID   string  `json:"sessionId"`
	DisplayName string  `json:"displayName"`
	Status      Status  `json:"status"`
	Connected   bool    `json:"connected"`
	PairingCode *string `json:"pairingCode"`
	Context     string  `json:"context"`
	AutoRestart bool    `json:"autoRestart"`
}

func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap := Snapshot{
		SessionID:   s.id,
		DisplayName: s.displayName,
		Status:      s.status,
		Connected:   s.connected,
		Context:     s.contextBlob,
		AutoRestart: s.autoRestart,
	}
	if s.pairingCode != "" {
		code := s.pairingCode
		snap.PairingCode = &code
	}
	return snap
}

// PairingInfo describes the pairing state of a session.
type PairingInfo struct {
	PairingCode *string `json:"pairingCode"`
	Connected   bool    `json:"connected"`
	Message     string  `json:"message,omitempty"`
}

func (s *Session) PairingInfo() PairingInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.connected {
		return PairingInfo{Connected: true, Message: "session already connected"}
	}
	if s.pairingCode == "" {
		return PairingInfo{Message: "pairing code not available yet"}
	}
	code := s.pairingCode
	return PairingInfo{PairingCode: &code}
}
