package pipeline

import (
	"context"
	"time"

	"github.com/waddlechat/waddle/internal/event"
)

// ChatStateProcessor recognizes XEP-0085 chat state notifications
// (active/composing/paused/inactive/gone) carried as an empty child element
// of a message stanza. Purely observational (spec §4.2, §4.6).
type ChatStateProcessor struct {
	now func() time.Time
}

func NewChatStateProcessor(now func() time.Time) *ChatStateProcessor {
	if now == nil {
		now = time.Now
	}
	return &ChatStateProcessor{now: now}
}

func (p *ChatStateProcessor) Name() string { return "chatstate" }

var chatStates = []string{"active", "composing", "paused", "inactive", "gone"}

func (p *ChatStateProcessor) ProcessInbound(_ context.Context, pub Publisher, s *Stanza) (bool, error) {
	if s.Kind != KindMessage {
		return false, nil
	}
	for _, state := range chatStates {
		if _, _, ok := s.Child(state, "http://jabber.org/protocol/chatstates"); ok {
			ch, err := event.NewChannel(event.ChXMPPChatStateReceived)
			if err != nil {
				return false, err
			}
			pub.Publish(event.New(ch, p.now(), event.XMPPSource(), event.ChatStateReceived{
				From:  bareJID(s.From),
				State: state,
			}))
			return true, nil
		}
	}
	return false, nil
}
