package pipeline

import (
	"context"
	"encoding/xml"
	"time"

	"github.com/waddlechat/waddle/internal/event"
)

// RosterProcessor recognizes jabber:iq:roster pushes and results, grounded
// on the hand-rolled roster query parsing in the predecessor XMPP client.
type RosterProcessor struct {
	now func() time.Time
}

func NewRosterProcessor(now func() time.Time) *RosterProcessor {
	if now == nil {
		now = time.Now
	}
	return &RosterProcessor{now: now}
}

func (p *RosterProcessor) Name() string { return "roster" }

func (p *RosterProcessor) ProcessInbound(_ context.Context, pub Publisher, s *Stanza) (bool, error) {
	if s.Kind != KindIQ {
		return false, nil
	}
	_, children, ok := s.Child("query", "jabber:iq:roster")
	if !ok {
		return false, nil
	}

	items := parseRosterItems(children)

	if s.Type == "set" {
		// Roster push: a single-item delta, not a wholesale replace.
		if len(items) == 0 {
			return true, nil
		}
		if items[0].Subscription == "remove" {
			ch, err := event.NewChannel(event.ChXMPPRosterRemoved)
			if err != nil {
				return false, err
			}
			pub.Publish(event.New(ch, p.now(), event.XMPPSource(), event.RosterRemoved{JID: items[0].JID}))
			return true, nil
		}
		ch, err := event.NewChannel(event.ChXMPPRosterUpdated)
		if err != nil {
			return false, err
		}
		pub.Publish(event.New(ch, p.now(), event.XMPPSource(), event.RosterUpdated{Item: items[0]}))
		return true, nil
	}

	// IQ result for a full roster get.
	ch, err := event.NewChannel(event.ChXMPPRosterReceived)
	if err != nil {
		return false, err
	}
	pub.Publish(event.New(ch, p.now(), event.XMPPSource(), event.RosterReceived{Items: items}))
	return true, nil
}

func parseRosterItems(children []xml.Token) []event.RosterItem {
	var items []event.RosterItem
	depth := 0
	for i := 0; i < len(children); i++ {
		switch t := children[i].(type) {
		case xml.StartElement:
			if depth == 0 && t.Name.Local == "item" {
				item, consumed := parseRosterItem(t, children[i+1:])
				items = append(items, item)
				i += consumed
				continue
			}
			depth++
		case xml.EndElement:
			depth--
		}
	}
	return items
}

func parseRosterItem(start xml.StartElement, rest []xml.Token) (event.RosterItem, int) {
	item := event.RosterItem{Subscription: "none"}
	for _, a := range start.Attr {
		switch a.Name.Local {
		case "jid":
			item.JID = a.Value
		case "name":
			item.Name = a.Value
		case "subscription":
			item.Subscription = a.Value
		}
	}

	depth := 0
	consumed := 0
	for i := 0; i < len(rest); i++ {
		consumed = i + 1
		switch t := rest[i].(type) {
		case xml.StartElement:
			if depth == 0 && t.Name.Local == "group" {
				if i+1 < len(rest) {
					if cd, ok := rest[i+1].(xml.CharData); ok {
						item.Groups = append(item.Groups, string(cd))
					}
				}
			}
			depth++
		case xml.EndElement:
			if depth == 0 && t.Name.Local == "item" {
				return item, consumed
			}
			depth--
		}
	}
	return item, consumed
}
