// Package pipeline implements the stanza pipeline (spec §4.2): an ordered
// chain of processors that turn inbound wire stanzas into typed bus events,
// and a symmetric outbound path that serializes command events back to wire
// bytes. Grounded on the token-by-token stanza decoding in
// internal/connection's predecessor (mellium.im/xmpp's TokenReader).
package pipeline

import (
	"encoding/xml"
)

// Kind is the top-level stanza type.
type Kind string

const (
	KindMessage  Kind = "message"
	KindPresence Kind = "presence"
	KindIQ       Kind = "iq"
	KindUnknown  Kind = ""
)

// Stanza is the parsed representation handed to every inbound processor.
// It is built once per wire stanza by ParseStanza (called from the
// connection manager's read loop) and Dispatch shares it read-only across
// all processors in the chain.
type Stanza struct {
	Kind Kind
	From string
	To   string
	ID   string
	Type string // message/presence/iq "type" attribute

	Start    xml.StartElement
	Children []xml.Token // tokens between Start and its matching EndElement, end marker excluded
}

// Child returns the first child start element with the given local name and
// namespace (namespace "" matches any), along with the tokens following it
// up to (but excluding) its end element.
func (s *Stanza) Child(local, space string) (xml.StartElement, []xml.Token, bool) {
	depth := 0
	for i, tok := range s.Children {
		switch t := tok.(type) {
		case xml.StartElement:
			if depth == 0 && t.Name.Local == local && (space == "" || t.Name.Space == space) {
				return t, innerTokens(s.Children[i+1:]), true
			}
			depth++
		case xml.EndElement:
			depth--
		}
	}
	return xml.StartElement{}, nil, false
}

// innerTokens returns the prefix of toks up to (excluding) the first token
// that closes the element started immediately before toks began.
func innerTokens(toks []xml.Token) []xml.Token {
	depth := 0
	for i, tok := range toks {
		switch tok.(type) {
		case xml.StartElement:
			depth++
		case xml.EndElement:
			if depth == 0 {
				return toks[:i]
			}
			depth--
		}
	}
	return toks
}

// CharData concatenates all character data in toks, at any depth, used to read
// simple text content like <body>hello</body>.
func CharData(toks []xml.Token) string {
	var out string
	for _, tok := range toks {
		if cd, ok := tok.(xml.CharData); ok {
			out += string(cd)
		}
	}
	return out
}

func attr(start xml.StartElement, local string) string {
	for _, a := range start.Attr {
		if a.Name.Local == local {
			return a.Value
		}
	}
	return ""
}

// ParseStanza builds a Stanza from a top-level start element and the full
// token stream for its children, read up to the matching end element.
func ParseStanza(start xml.StartElement, children []xml.Token) *Stanza {
	s := &Stanza{
		From:     attr(start, "from"),
		To:       attr(start, "to"),
		ID:       attr(start, "id"),
		Type:     attr(start, "type"),
		Start:    start,
		Children: children,
	}
	switch start.Name.Local {
	case "message":
		s.Kind = KindMessage
	case "presence":
		s.Kind = KindPresence
	case "iq":
		s.Kind = KindIQ
	default:
		s.Kind = KindUnknown
	}
	return s
}
