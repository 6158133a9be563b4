package pipeline

import (
	"context"
	"strconv"
	"time"

	"github.com/waddlechat/waddle/internal/event"
)

// PresenceProcessor recognizes bare presence stanzas (contact availability),
// grounded on handlePresenceStanza in the predecessor XMPP client. MUC
// presence (carrying a muc#user <x>) is left to the MUC processor.
type PresenceProcessor struct {
	now func() time.Time
}

func NewPresenceProcessor(now func() time.Time) *PresenceProcessor {
	if now == nil {
		now = time.Now
	}
	return &PresenceProcessor{now: now}
}

func (p *PresenceProcessor) Name() string { return "presence" }

func (p *PresenceProcessor) ProcessInbound(_ context.Context, pub Publisher, s *Stanza) (bool, error) {
	if s.Kind != KindPresence {
		return false, nil
	}
	if _, _, ok := s.Child("x", "http://jabber.org/protocol/muc#user"); ok {
		return false, nil
	}

	if s.Type == "subscribe" {
		ch, err := event.NewChannel(event.ChXMPPSubscriptionRequest)
		if err != nil {
			return false, err
		}
		pub.Publish(event.New(ch, p.now(), event.XMPPSource(), event.SubscriptionRequest{From: bareJID(s.From)}))
		return true, nil
	}

	changed := event.PresenceChanged{JID: bareJID(s.From), Resource: resourcePart(s.From)}
	changed.Unavailable = s.Type == "unavailable"

	if _, body, ok := s.Child("show", ""); ok {
		changed.Show = CharData(body)
	}
	if _, body, ok := s.Child("status", ""); ok {
		changed.Status = CharData(body)
	}
	if _, body, ok := s.Child("priority", ""); ok {
		if v, err := strconv.Atoi(CharData(body)); err == nil {
			changed.Priority = v
		}
	}

	ch, err := event.NewChannel(event.ChXMPPPresenceChanged)
	if err != nil {
		return false, err
	}
	pub.Publish(event.New(ch, p.now(), event.XMPPSource(), changed))
	return true, nil
}

func bareJID(full string) string {
	if i := indexByte(full, '/'); i >= 0 {
		return full[:i]
	}
	return full
}

func resourcePart(full string) string {
	if i := indexByte(full, '/'); i >= 0 {
		return full[i+1:]
	}
	return ""
}

func indexByte(s string, c byte) int {
	for i := 0; i < len(s); i++ {
		if s[i] == c {
			return i
		}
	}
	return -1
}
