package pipeline

import (
	"context"
	"encoding/xml"
	"time"

	"github.com/waddlechat/waddle/internal/event"
)

// MamProcessor recognizes XEP-0313 archive results forwarded inside
// <message> stanzas and the terminating <fin> of an IQ result, per spec
// §4.8. Only the pipeline parses the wire format; query-id correlation and
// checkpointing are the MAM manager's job.
type MamProcessor struct {
	now func() time.Time
}

func NewMamProcessor(now func() time.Time) *MamProcessor {
	if now == nil {
		now = time.Now
	}
	return &MamProcessor{now: now}
}

func (p *MamProcessor) Name() string { return "mam" }

const mamNS = "urn:xmpp:mam:2"

func (p *MamProcessor) ProcessInbound(_ context.Context, pub Publisher, s *Stanza) (bool, error) {
	switch s.Kind {
	case KindMessage:
		return p.handleResult(pub, s)
	case KindIQ:
		return p.handleFin(pub, s)
	}
	return false, nil
}

func (p *MamProcessor) handleResult(pub Publisher, s *Stanza) (bool, error) {
	result, resultChildren, ok := s.Child("result", mamNS)
	if !ok {
		return false, nil
	}
	queryID := childAttr(result, "queryid")

	forwarded, fwdChildren, ok := childElement(resultChildren, "forwarded", "urn:xmpp:forward:0")
	if !ok {
		return false, nil
	}
	_ = forwarded

	msgStart, msgChildren, ok := childElement(fwdChildren, "message", "")
	if !ok {
		return false, nil
	}

	msg := event.ChatMessage{
		ID:          childAttr(msgStart, "id"),
		From:        childAttr(msgStart, "from"),
		To:          childAttr(msgStart, "to"),
		Timestamp:   p.now().UTC(),
		MessageType: "chat",
	}
	if mt := childAttr(msgStart, "type"); mt != "" {
		msg.MessageType = mt
	}
	if _, body, ok := childElement(msgChildren, "body", ""); ok {
		msg.Body = CharData(body)
	}
	if _, delay, ok := childElement(fwdChildren, "delay", "urn:xmpp:delay"); ok {
		_ = delay
	}

	ch, err := event.NewChannel(event.ChXMPPMamResultReceived)
	if err != nil {
		return false, err
	}
	pub.Publish(event.New(ch, p.now(), event.XMPPSource(), event.MamResultReceived{
		QueryID:  queryID,
		Messages: []event.ChatMessage{msg},
	}))
	return true, nil
}

func (p *MamProcessor) handleFin(pub Publisher, s *Stanza) (bool, error) {
	fin, finChildren, ok := s.Child("fin", mamNS)
	if !ok {
		return false, nil
	}

	complete := childAttr(fin, "complete") == "true"
	var lastID string
	if _, setChildren, ok := childElement(finChildren, "set", "http://jabber.org/protocol/rsm"); ok {
		if _, last, ok := childElement(setChildren, "last", ""); ok {
			lastID = CharData(last)
		}
	}

	ch, err := event.NewChannel(event.ChXMPPMamFinReceived)
	if err != nil {
		return false, err
	}
	pub.Publish(event.New(ch, p.now(), event.XMPPSource(), event.MamFinReceived{
		QueryID:  s.ID,
		Complete: complete,
		LastID:   lastID,
	}))
	return true, nil
}

// childElement finds the first start element with the given local name (and
// namespace, if non-empty) among toks, returning its start tag and the
// tokens nested inside it.
func childElement(toks []xml.Token, local, space string) (xml.StartElement, []xml.Token, bool) {
	depth := 0
	for i, tok := range toks {
		switch t := tok.(type) {
		case xml.StartElement:
			if depth == 0 && t.Name.Local == local && (space == "" || t.Name.Space == space) {
				return t, innerTokens(toks[i+1:]), true
			}
			depth++
		case xml.EndElement:
			depth--
		}
	}
	return xml.StartElement{}, nil, false
}
