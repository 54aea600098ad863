package transport

import "context"

// State is the coarse connection state reported by a transport client.
type State string

const (
	StateConnecting State = "connecting"
	StateOpen       State = "open"
	StateClosed     State = "closed"
)

// CloseReason classifies why the transport dropped the connection.
type CloseReason int

const (
	CloseUnknown CloseReason = iota
	// CloseConnectionLost covers transient network drops and server restarts.
	CloseConnectionLost
	// CloseRestartRequired means the transport asked for a clean reconnect.
	CloseRestartRequired
	// CloseLoggedOut means the pairing was revoked from the peer device.
	CloseLoggedOut
	// CloseUnauthorized means the stored credentials were rejected.
	CloseUnauthorized
)

func (r CloseReason) String() string {
	switch r {
	case CloseConnectionLost:
		return "connection_lost"
	case CloseRestartRequired:
		return "restart_required"
	case CloseLoggedOut:
		return "logged_out"
	case CloseUnauthorized:
		return "unauthorized"
	default:
		return "unknown"
	}
}

// Permanent reports whether the close reason invalidates the stored
// credentials, requiring a wipe and a fresh pairing.
func (r CloseReason) Permanent() bool {
	return r == CloseLoggedOut || r == CloseUnauthorized
}

// ConnectionUpdate is a lifecycle event emitted by a transport client. A
// non-empty PairingCode may arrive with or without a State change, mirroring
// how pairing tokens are issued mid-handshake.
type ConnectionUpdate struct {
	State       State
	PairingCode string
	CloseReason CloseReason
	CloseErr    error
}

// Presence is a chat-level typing indicator.
type Presence string

const (
	PresenceComposing Presence = "composing"
	PresencePaused    Presence = "paused"
)

// Handlers is the event surface a session registers when dialing. The dialer
// must invoke OnCredentialsUpdated synchronously whenever the transport
// rotates secrets; the caller persists the payload before returning, so a
// client must not process further traffic until the callback completes.
type Handlers struct {
	OnConnectionUpdate   func(ConnectionUpdate)
	OnCredentialsUpdated func(payload []byte)
	OnMessages           func(batch []Message)
}

// AuthState carries the durable pairing material for one dial attempt.
type AuthState struct {
	// Dir is the session's private credential directory. Implementations may
	// keep their own state files inside it.
	Dir string
	// Payload is the last persisted credential blob, nil before first pairing.
	Payload []byte
}

// Client is one live connection to the messaging network.
type Client interface {
	SendMessage(ctx context.Context, peer, text string) error
	SendPresence(ctx context.Context, peer string, p Presence) error
	Logout(ctx context.Context) error
	Close()
}

// Dialer opens transport connections. Each call returns a fresh Client; a
// session never shares a client across reconnects.
type Dialer interface {
	Dial(ctx context.Context, auth AuthState, h Handlers) (Client, error)
}
