package pipeline

import (
	"context"
	"encoding/xml"
	"time"

	"github.com/waddlechat/waddle/internal/event"
)

// MessageProcessor recognizes 1:1 chat/normal/headline messages and
// XEP-0184 delivery receipts, grounded on handleMessage in the predecessor
// XMPP client.
type MessageProcessor struct {
	now func() time.Time
}

func NewMessageProcessor(now func() time.Time) *MessageProcessor {
	if now == nil {
		now = time.Now
	}
	return &MessageProcessor{now: now}
}

func (p *MessageProcessor) Name() string { return "message" }

func (p *MessageProcessor) ProcessInbound(_ context.Context, pub Publisher, s *Stanza) (bool, error) {
	if s.Kind != KindMessage {
		return false, nil
	}
	// Groupchat bodies belong to the MUC processor.
	if s.Type == "groupchat" {
		return false, nil
	}

	handled := false

	if _, body, ok := s.Child("body", ""); ok {
		msgType := s.Type
		if msgType == "" {
			msgType = "normal"
		}
		msg := event.ChatMessage{
			ID:          s.ID,
			From:        s.From,
			To:          s.To,
			Body:        CharData(body),
			Timestamp:   p.now().UTC(),
			MessageType: msgType,
		}
		if _, threadBody, ok := s.Child("thread", ""); ok {
			msg.Thread = CharData(threadBody)
		}
		ch, err := event.NewChannel(event.ChXMPPMessageReceived)
		if err != nil {
			return false, err
		}
		pub.Publish(event.New(ch, p.now(), event.XMPPSource(), event.MessageReceived{Message: msg}))
		handled = true
	}

	if start, _, ok := s.Child("received", "urn:xmpp:receipts"); ok {
		id := childAttr(start, "id")
		if id != "" {
			ch, err := event.NewChannel(event.ChXMPPMessageDelivered)
			if err != nil {
				return false, err
			}
			pub.Publish(event.New(ch, p.now(), event.XMPPSource(), event.MessageDelivered{ID: id, From: s.From}))
			handled = true
		}
	}

	return handled, nil
}

func childAttr(start xml.StartElement, local string) string {
	for _, a := range start.Attr {
		if a.Name.Local == local {
			return a.Value
		}
	}
	return ""
}
