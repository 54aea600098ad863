// Package transporttest provides an in-memory transport for exercising
// session logic without a network.
package transporttest

import (
	"context"
	"sync"

	"github.com/BrnEnd/AgenteAutonomoWPP/pkg/transport"
)

// Dialer hands out fake clients and remembers the handlers of the most recent
// dial so tests can drive events into the session under test.
type Dialer struct {
	mu sync.Mutex

	// DialErr, when set, makes the next Dial call fail once.
	DialErr error

	dials    int
	clients  []*Client
	handlers transport.Handlers
}

func NewDialer() *Dialer {
	return &Dialer{}
}

func (d *Dialer) Dial(_ context.Context, _ transport.AuthState, h transport.Handlers) (transport.Client, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.dials++
	if err := d.DialErr; err != nil {
		d.DialErr = nil
		return nil, err
	}
	c := &Client{}
	d.clients = append(d.clients, c)
	d.handlers = h
	return c, nil
}

// Dials returns how many times Dial was invoked, including failed attempts.
func (d *Dialer) Dials() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dials
}

// Client returns the most recently dialed client.
func (d *Dialer) Client() *Client {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.clients) == 0 {
		return nil
	}
	return d.clients[len(d.clients)-1]
}

// FailNextDial arms a one-shot dial failure.
func (d *Dialer) FailNextDial(err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.DialErr = err
}

func (d *Dialer) currentHandlers() transport.Handlers {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.handlers
}

// EmitConnection delivers a connection update to the session, synchronously.
func (d *Dialer) EmitConnection(u transport.ConnectionUpdate) {
	if h := d.currentHandlers(); h.OnConnectionUpdate != nil {
		h.OnConnectionUpdate(u)
	}
}

// EmitCredentials delivers a rotated credential payload.
func (d *Dialer) EmitCredentials(payload []byte) {
	if h := d.currentHandlers(); h.OnCredentialsUpdated != nil {
		h.OnCredentialsUpdated(payload)
	}
}

// EmitMessages delivers an inbound batch.
func (d *Dialer) EmitMessages(batch []transport.Message) {
	if h := d.currentHandlers(); h.OnMessages != nil {
		h.OnMessages(batch)
	}
}

// Sent is one outbound message captured by the fake client.
type Sent struct {
	Peer string
	Text string
}

// PresenceChange is one presence update captured by the fake client.
type PresenceChange struct {
	Peer  string
	State transport.Presence
}

// Client records every command issued against it. Error fields, when set,
// make the corresponding command fail.
type Client struct {
	mu sync.Mutex

	SendErr     error
	PresenceErr error
	LogoutErr   error

	sent      []Sent
	presences []PresenceChange
	loggedOut bool
	closed    bool
}

func (c *Client) SendMessage(_ context.Context, peer, text string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.SendErr != nil {
		return c.SendErr
	}
	c.sent = append(c.sent, Sent{Peer: peer, Text: text})
	return nil
}

func (c *Client) SendPresence(_ context.Context, peer string, p transport.Presence) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.PresenceErr != nil {
		return c.PresenceErr
	}
	c.presences = append(c.presences, PresenceChange{Peer: peer, State: p})
	return nil
}

func (c *Client) Logout(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.loggedOut = true
	return c.LogoutErr
}

func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
}

func (c *Client) SentMessages() []Sent {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Sent(nil), c.sent...)
}

func (c *Client) Presences() []PresenceChange {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]PresenceChange(nil), c.presences...)
}

func (c *Client) LoggedOut() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.loggedOut
}

func (c *Client) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}
