package pipeline

import (
	"context"
	"encoding/xml"
	"time"

	"github.com/waddlechat/waddle/internal/event"
)

// MucProcessor recognizes XEP-0045 MUC presence (occupant/room state) and
// groupchat messages (room messages, subject changes).
type MucProcessor struct {
	now func() time.Time
}

func NewMucProcessor(now func() time.Time) *MucProcessor {
	if now == nil {
		now = time.Now
	}
	return &MucProcessor{now: now}
}

func (p *MucProcessor) Name() string { return "muc" }

func (p *MucProcessor) ProcessInbound(_ context.Context, pub Publisher, s *Stanza) (bool, error) {
	switch s.Kind {
	case KindPresence:
		return p.handlePresence(pub, s)
	case KindMessage:
		if s.Type == "groupchat" {
			return p.handleMessage(pub, s)
		}
	}
	return false, nil
}

func (p *MucProcessor) handlePresence(pub Publisher, s *Stanza) (bool, error) {
	_, xChildren, ok := s.Child("x", "http://jabber.org/protocol/muc#user")
	if !ok {
		return false, nil
	}

	room := bareJID(s.From)
	nick := resourcePart(s.From)

	occupant := event.MucOccupant{Nick: nick, Role: "participant"}
	statusCodes := map[string]bool{}

	depth := 0
	for i := 0; i < len(xChildren); i++ {
		switch t := xChildren[i].(type) {
		case xml.StartElement:
			switch {
			case depth == 0 && t.Name.Local == "item":
				occupant.JID = childAttr(t, "jid")
				if role := childAttr(t, "role"); role != "" {
					occupant.Role = role
				}
			case depth == 0 && t.Name.Local == "status":
				statusCodes[childAttr(t, "code")] = true
			}
			depth++
		case xml.EndElement:
			depth--
		}
	}

	if s.Type == "unavailable" {
		occupant.Role = "none"
	}

	// Code 110 = this presence is our own; code 201 = room newly created.
	if statusCodes["110"] && s.Type != "unavailable" {
		ch, err := event.NewChannel(event.ChXMPPMucJoined)
		if err != nil {
			return false, err
		}
		pub.Publish(event.New(ch, p.now(), event.XMPPSource(), event.MucJoined{Room: room, Nick: nick}))
	}
	if statusCodes["110"] && s.Type == "unavailable" {
		ch, err := event.NewChannel(event.ChXMPPMucLeft)
		if err != nil {
			return false, err
		}
		pub.Publish(event.New(ch, p.now(), event.XMPPSource(), event.MucLeft{Room: room}))
		return true, nil
	}

	ch, err := event.NewChannel(event.ChXMPPMucOccupantChanged)
	if err != nil {
		return false, err
	}
	pub.Publish(event.New(ch, p.now(), event.XMPPSource(), event.MucOccupantChanged{Room: room, Occupant: occupant}))
	return true, nil
}

func (p *MucProcessor) handleMessage(pub Publisher, s *Stanza) (bool, error) {
	handled := false

	if _, subjectBody, ok := s.Child("subject", ""); ok {
		ch, err := event.NewChannel(event.ChXMPPMucSubjectChanged)
		if err != nil {
			return false, err
		}
		pub.Publish(event.New(ch, p.now(), event.XMPPSource(), event.MucSubjectChanged{
			Room:    bareJID(s.From),
			Subject: CharData(subjectBody),
		}))
		handled = true
	}

	if _, body, ok := s.Child("body", ""); ok {
		ch, err := event.NewChannel(event.ChXMPPMucMessageReceived)
		if err != nil {
			return false, err
		}
		pub.Publish(event.New(ch, p.now(), event.XMPPSource(), event.MucMessageReceived{
			Room:      bareJID(s.From),
			From:      resourcePart(s.From),
			Body:      CharData(body),
			Timestamp: p.now().UTC(),
		}))
		handled = true
	}

	return handled, nil
}
