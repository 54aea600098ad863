// Package wameow adapts go.mau.fi/whatsmeow to the transport capability
// interface. Each dial builds a dedicated device store inside the session's
// credential directory, so wiping that directory is all it takes to force a
// fresh pairing.
package wameow

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/store/sqlstore"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
	"google.golang.org/protobuf/proto"

	"github.com/BrnEnd/AgenteAutonomoWPP/pkg/transport"
)

const deviceDBFile = "wameow.db"

// Dialer builds whatsmeow-backed transport clients.
type Dialer struct {
	log zerolog.Logger
}

var _ transport.Dialer = &Dialer{}

func NewDialer(log zerolog.Logger) *Dialer {
	return &Dialer{log: log}
}

func (d *Dialer) Dial(ctx context.Context, auth transport.AuthState, h transport.Handlers) (transport.Client, error) {
	dsn := fmt.Sprintf("file:%s?_foreign_keys=on", filepath.Join(auth.Dir, deviceDBFile))
	container, err := sqlstore.New(ctx, "sqlite3", dsn, newWALogger(d.log))
	if err != nil {
		return nil, errors.Wrap(err, "open device store")
	}

	device, err := container.GetFirstDevice(ctx)
	if err != nil {
		_ = container.Close()
		return nil, errors.Wrap(err, "load device")
	}

	cli := whatsmeow.NewClient(device, newWALogger(d.log))
	// The session owns reconnection; whatsmeow must not retry on its own.
	cli.EnableAutoReconnect = false

	c := &client{cli: cli, container: container, h: h, log: d.log}
	cli.AddEventHandler(c.handleEvent)

	emitConnection(h, transport.ConnectionUpdate{State: transport.StateConnecting})

	if cli.Store.ID == nil {
		// Unpaired device: the QR channel must be armed before Connect.
		qrChan, err := cli.GetQRChannel(ctx)
		if err != nil {
			_ = container.Close()
			return nil, errors.Wrap(err, "open pairing channel")
		}
		go c.watchQR(qrChan)
	}

	if err := cli.Connect(); err != nil {
		_ = container.Close()
		return nil, errors.Wrap(err, "connect")
	}
	return c, nil
}

type client struct {
	cli       *whatsmeow.Client
	container *sqlstore.Container
	h         transport.Handlers
	log       zerolog.Logger
}

var _ transport.Client = &client{}

func emitConnection(h transport.Handlers, u transport.ConnectionUpdate) {
	if h.OnConnectionUpdate != nil {
		h.OnConnectionUpdate(u)
	}
}

func (c *client) watchQR(ch <-chan whatsmeow.QRChannelItem) {
	for item := range ch {
		switch item.Event {
		case whatsmeow.QRChannelEventCode:
			emitConnection(c.h, transport.ConnectionUpdate{PairingCode: item.Code})
		case whatsmeow.QRChannelSuccess.Event:
			// events.PairSuccess carries the credential update.
		default:
			// timeout or error; the client emits the close event itself
		}
	}
}

func (c *client) handleEvent(evt interface{}) {
	switch e := evt.(type) {
	case *events.Connected:
		emitConnection(c.h, transport.ConnectionUpdate{State: transport.StateOpen})

	case *events.PairSuccess:
		if c.h.OnCredentialsUpdated != nil {
			payload, _ := json.Marshal(map[string]string{"jid": e.ID.String()})
			c.h.OnCredentialsUpdated(payload)
		}

	case *events.Disconnected:
		emitConnection(c.h, transport.ConnectionUpdate{
			State:       transport.StateClosed,
			CloseReason: transport.CloseConnectionLost,
		})

	case *events.StreamReplaced:
		emitConnection(c.h, transport.ConnectionUpdate{
			State:       transport.StateClosed,
			CloseReason: transport.CloseRestartRequired,
		})

	case *events.LoggedOut:
		emitConnection(c.h, transport.ConnectionUpdate{
			State:       transport.StateClosed,
			CloseReason: transport.CloseLoggedOut,
			CloseErr:    errors.Errorf("logged out: %s", e.Reason),
		})

	case *events.ConnectFailure:
		reason := transport.CloseUnknown
		if int(e.Reason) == http.StatusUnauthorized {
			reason = transport.CloseUnauthorized
		}
		emitConnection(c.h, transport.ConnectionUpdate{
			State:       transport.StateClosed,
			CloseReason: reason,
			CloseErr:    errors.Errorf("connect failure: %s", e.Reason),
		})

	case *events.Message:
		if c.h.OnMessages != nil {
			c.h.OnMessages([]transport.Message{toMessage(e)})
		}
	}
}

func toMessage(e *events.Message) transport.Message {
	msg := transport.Message{
		ID:     e.Info.ID,
		Peer:   e.Info.Chat.String(),
		FromMe: e.Info.IsFromMe,
		Group:  e.Info.IsGroup,
	}
	if text := e.Message.GetConversation(); text != "" {
		msg.Parts = append(msg.Parts, transport.Envelope{Kind: transport.EnvelopeText, Text: text})
	}
	if text := e.Message.GetExtendedTextMessage().GetText(); text != "" {
		msg.Parts = append(msg.Parts, transport.Envelope{Kind: transport.EnvelopeExtendedText, Text: text})
	}
	return msg
}

func (c *client) SendMessage(ctx context.Context, peer, text string) error {
	jid, err := types.ParseJID(peer)
	if err != nil {
		return errors.Wrapf(err, "parse peer %q", peer)
	}
	_, err = c.cli.SendMessage(ctx, jid, &waE2E.Message{Conversation: proto.String(text)})
	return errors.Wrap(err, "send message")
}

func (c *client) SendPresence(ctx context.Context, peer string, p transport.Presence) error {
	jid, err := types.ParseJID(peer)
	if err != nil {
		return errors.Wrapf(err, "parse peer %q", peer)
	}
	state := types.ChatPresencePaused
	if p == transport.PresenceComposing {
		state = types.ChatPresenceComposing
	}
	return errors.Wrap(c.cli.SendChatPresence(ctx, jid, state, types.ChatPresenceMediaText), "send presence")
}

func (c *client) Logout(ctx context.Context) error {
	return errors.Wrap(c.cli.Logout(ctx), "logout")
}

func (c *client) Close() {
	c.cli.RemoveEventHandlers()
	c.cli.Disconnect()
	if err := c.container.Close(); err != nil {
		c.log.Warn().Err(err).Msg("closing device store failed")
	}
}
