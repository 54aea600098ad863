package transport

import "strings"

// EnvelopeKind identifies one shape of the inbound message payload union.
type EnvelopeKind string

const (
	// EnvelopeText is a plain conversation body.
	EnvelopeText EnvelopeKind = "text"
	// EnvelopeExtendedText is a body carrying quotes, links or mentions.
	EnvelopeExtendedText EnvelopeKind = "extended_text"
)

// envelopePriority is the extraction order: the first kind with non-empty
// trimmed text wins.
var envelopePriority = []EnvelopeKind{EnvelopeText, EnvelopeExtendedText}

// Envelope is one payload variant of an inbound message.
type Envelope struct {
	Kind EnvelopeKind
	Text string
}

// Message is one inbound message as delivered by the transport.
type Message struct {
	ID     string
	Peer   string
	FromMe bool
	Group  bool
	Parts  []Envelope
}

// Text resolves the payload union: it returns the trimmed text of the highest
// priority non-empty envelope, or "" when no variant carries text.
func (m Message) Text() string {
	for _, kind := range envelopePriority {
		for _, p := range m.Parts {
			if p.Kind != kind {
				continue
			}
			if text := strings.TrimSpace(p.Text); text != "" {
				return text
			}
		}
	}
	return ""
}
