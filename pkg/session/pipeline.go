package session

import (
	"github.com/pkg/errors"

	"github.com/BrnEnd/AgenteAutonomoWPP/pkg/store"
	"github.com/BrnEnd/AgenteAutonomoWPP/pkg/transport"
)

const fallbackReply = "Desculpe, ocorreu um erro. Tente novamente."

// handleMessages runs the inbound pipeline over one batch, sequentially. A
// failure on one message is logged, recorded and answered with the fallback
// reply; the remaining messages still get processed.
func (s *Session) handleMessages(batch []transport.Message) {
	for _, msg := range batch {
		if err := s.process(msg); err != nil {
			s.log.Error().Err(err).Str("peer", msg.Peer).Msg("message processing failed")
			s.rec.RecordEvent(s.ctx, s.id, "message_error", map[string]any{"error": err.Error()})
			s.sendFallbackReply(msg)
		}
	}
}

func (s *Session) process(msg transport.Message) error {
	if msg.FromMe || msg.Group {
		return nil
	}
	text := msg.Text()
	if text == "" {
		return nil
	}

	s.mu.Lock()
	client := s.client
	contextBlob := s.contextBlob
	s.mu.Unlock()
	if client == nil {
		return errors.New("no transport client")
	}

	s.log.Info().Str("peer", msg.Peer).Msg("inbound message")
	s.rec.RecordMessage(s.ctx, store.MessageRecord{
		SessionID: s.id,
		Direction: "incoming",
		Peer:      msg.Peer,
		Body:      text,
		Metadata:  map[string]any{"message_id": msg.ID},
	})

	if err := client.SendPresence(s.ctx, msg.Peer, transport.PresenceComposing); err != nil {
		s.log.Warn().Err(err).Str("peer", msg.Peer).Msg("presence update failed")
	}

	reply, err := s.resp.Generate(s.ctx, text, contextBlob)
	if err != nil {
		return errors.Wrap(err, "generate reply")
	}

	if err := client.SendMessage(s.ctx, msg.Peer, reply); err != nil {
		return errors.Wrap(err, "send reply")
	}

	s.rec.RecordMessage(s.ctx, store.MessageRecord{
		SessionID: s.id,
		Direction: "outgoing",
		Peer:      msg.Peer,
		Body:      reply,
		Metadata:  map[string]any{"in_response_to": msg.ID},
	})

	if err := client.SendPresence(s.ctx, msg.Peer, transport.PresencePaused); err != nil {
		s.log.Warn().Err(err).Str("peer", msg.Peer).Msg("presence update failed")
	}
	return nil
}

func (s *Session) sendFallbackReply(msg transport.Message) {
	if msg.Peer == "" || msg.FromMe || msg.Group {
		return
	}
	s.mu.Lock()
	client := s.client
	s.mu.Unlock()
	if client == nil {
		return
	}
	if err := client.SendMessage(s.ctx, msg.Peer, fallbackReply); err != nil {
		s.log.Error().Err(err).Str("peer", msg.Peer).Msg("fallback reply failed")
	}
}
