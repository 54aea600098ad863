// Package store records session lifecycle and message traffic durably. All
// write operations are best-effort: failures are logged and swallowed so the
// in-memory state machine is never blocked by the durable layer.
package store

import "context"

// SessionRecord is the full durable row for one session.
type SessionRecord struct {
	SessionID   string
	DisplayName string
	Context     string
	Status      string
	TokensPath  string
	AutoRestart bool
}

// MessageRecord is one inbound or outbound message.
type MessageRecord struct {
	SessionID string
	Direction string // "incoming" or "outgoing"
	Peer      string
	Body      string
	Metadata  map[string]any
}

// RestorableSession describes a session eligible for restart at boot.
type RestorableSession struct {
	SessionID   string
	DisplayName string
	Context     string
	AutoRestart bool
}

// Extra field names accepted by UpdateStatus. Anything else is dropped.
const (
	ExtraLastQR      = "last_qr"
	ExtraLastError   = "last_error"
	ExtraContext     = "context"
	ExtraDisplayName = "display_name"
	ExtraAutoRestart = "auto_restart"
)

// Recorder is the durable store capability. Writes never return errors;
// implementations log and move on. Only ListRestorable, which gates boot-time
// restoration, surfaces failures.
type Recorder interface {
	UpsertSession(ctx context.Context, rec SessionRecord)
	UpdateStatus(ctx context.Context, sessionID, status string, extra map[string]any)
	RecordMessage(ctx context.Context, rec MessageRecord)
	RecordEvent(ctx context.Context, sessionID, eventType string, payload map[string]any)
	UpdateContext(ctx context.Context, sessionID, contextBlob string)
	ListRestorable(ctx context.Context) ([]RestorableSession, error)
}

// Nop is the recorder used when no database is configured: every operation
// degrades to a no-op and nothing is restorable.
type Nop struct{}

var _ Recorder = Nop{}

func NewNop() Nop { return Nop{} }

func (Nop) UpsertSession(context.Context, SessionRecord)                {}
func (Nop) UpdateStatus(context.Context, string, string, map[string]any) {}
func (Nop) RecordMessage(context.Context, MessageRecord)                {}
func (Nop) RecordEvent(context.Context, string, string, map[string]any) {}
func (Nop) UpdateContext(context.Context, string, string)               {}

func (Nop) ListRestorable(context.Context) ([]RestorableSession, error) {
	return nil, nil
}
