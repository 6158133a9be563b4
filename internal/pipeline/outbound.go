package pipeline

import (
	"fmt"

	"github.com/waddlechat/waddle/internal/event"
)

// Writer is the minimal transport sink for serialized outbound stanzas,
// implemented by internal/connection.Manager.
type Writer interface {
	WriteStanza(b []byte) error
}

// Serialize turns a command event's payload into wire bytes, mirroring the
// ad-hoc XML construction the predecessor XMPP client did inline in
// SendMessage/SendPresence/AddContact/etc. Returns ok=false for payloads the
// outbound path does not handle (e.g. purely informational events).
func Serialize(ev event.Event) (b []byte, ok bool, err error) {
	switch p := ev.Payload.(type) {
	case event.MessageSendRequested:
		return []byte(fmt.Sprintf(
			`<message id='%s' to='%s' type='chat'><body>%s</body><request xmlns='urn:xmpp:receipts'/><markable xmlns='urn:xmpp:chat-markers:0'/></message>`,
			escape(p.ID), escape(p.To), escape(p.Body))), true, nil

	case event.ChatStateSendRequested:
		return []byte(fmt.Sprintf(
			`<message to='%s'><%s xmlns='http://jabber.org/protocol/chatstates'/></message>`,
			escape(p.To), p.State)), true, nil

	case event.PresenceSetRequested:
		if !p.Available {
			return []byte(`<presence type='unavailable'/>`), true, nil
		}
		return []byte(fmt.Sprintf(`<presence><show>%s</show><status>%s</status></presence>`,
			escape(p.Show), escape(p.Status))), true, nil

	case event.RosterAddRequested:
		groups := ""
		for _, g := range p.Groups {
			groups += fmt.Sprintf("<group>%s</group>", escape(g))
		}
		return []byte(fmt.Sprintf(
			`<iq type='set'><query xmlns='jabber:iq:roster'><item jid='%s' name='%s'>%s</item></query></iq>`,
			escape(p.JID), escape(p.Name), groups)), true, nil

	case event.RosterUpdateRequested:
		groups := ""
		for _, g := range p.Item.Groups {
			groups += fmt.Sprintf("<group>%s</group>", escape(g))
		}
		return []byte(fmt.Sprintf(
			`<iq type='set'><query xmlns='jabber:iq:roster'><item jid='%s' name='%s'>%s</item></query></iq>`,
			escape(p.Item.JID), escape(p.Item.Name), groups)), true, nil

	case event.SubscriptionSendRequested:
		typ := "unsubscribe"
		if p.Subscribe {
			typ = "subscribe"
		}
		return []byte(fmt.Sprintf(`<presence to='%s' type='%s'/>`, escape(p.To), typ)), true, nil

	case event.SubscriptionRespondRequested:
		typ := "unsubscribed"
		if p.Accept {
			typ = "subscribed"
		}
		return []byte(fmt.Sprintf(`<presence to='%s' type='%s'/>`, escape(p.To), typ)), true, nil

	case event.MucJoinRequested:
		return []byte(fmt.Sprintf(`<presence to='%s/%s'><x xmlns='http://jabber.org/protocol/muc'/></presence>`,
			escape(p.Room), escape(p.Nick))), true, nil

	case event.MucLeaveRequested:
		return []byte(fmt.Sprintf(`<presence to='%s' type='unavailable'/>`, escape(p.Room))), true, nil

	case event.MucMessageSendRequested:
		return []byte(fmt.Sprintf(`<message to='%s' type='groupchat'><body>%s</body></message>`,
			escape(p.Room), escape(p.Body))), true, nil

	case event.MamQueryRequested:
		return serializeMamQuery(p), true, nil

	default:
		return nil, false, nil
	}
}

func serializeMamQuery(p event.MamQueryRequested) []byte {
	max := p.Max
	if max <= 0 {
		max = 50
	}
	filters := ""
	if p.WithJID != "" {
		filters += fmt.Sprintf("<field var='with'><value>%s</value></field>", escape(p.WithJID))
	}
	if p.After != "" {
		filters += fmt.Sprintf("<field var='start'><value>%s</value></field>", escape(p.After))
	}
	return []byte(fmt.Sprintf(
		`<iq type='set' id='%s'><query xmlns='urn:xmpp:mam:2' queryid='%s'><x xmlns='jabber:x:data' type='submit'>%s</x><set xmlns='http://jabber.org/protocol/rsm'><max>%d</max></set></query></iq>`,
		escape(p.QueryID), escape(p.QueryID), filters, max))
}

func escape(s string) string {
	out := make([]byte, 0, len(s))
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '&':
			out = append(out, "&amp;"...)
		case '<':
			out = append(out, "&lt;"...)
		case '>':
			out = append(out, "&gt;"...)
		case '\'':
			out = append(out, "&apos;"...)
		case '"':
			out = append(out, "&quot;"...)
		default:
			out = append(out, s[i])
		}
	}
	return string(out)
}
