package event

import (
	"time"

	"github.com/google/uuid"
)

// SourceKind tags which variant an EventSource holds.
type SourceKind int

const (
	SourceSystem SourceKind = iota
	SourceXMPP
	SourceUI
	SourcePlugin
)

// UISurface distinguishes the two UI front-ends that can originate events.
type UISurface int

const (
	UITui UISurface = iota
	UIGui
)

// Source is the tagged union identifying who published an event.
type Source struct {
	Kind      SourceKind
	Component string    // SourceSystem: component name
	Surface   UISurface // SourceUI only
	PluginID  string    // SourcePlugin only
}

// SystemSource builds a System(component_name) source.
func SystemSource(component string) Source { return Source{Kind: SourceSystem, Component: component} }

// XMPPSource builds an Xmpp source.
func XMPPSource() Source { return Source{Kind: SourceXMPP} }

// UISource builds a Ui(surface) source.
func UISource(surface UISurface) Source { return Source{Kind: SourceUI, Surface: surface} }

// PluginSource builds a Plugin(plugin_id) source.
func PluginSource(id string) Source { return Source{Kind: SourcePlugin, PluginID: id} }

// Event is the immutable envelope carried over the bus.
type Event struct {
	Channel       Channel
	Timestamp     time.Time
	ID            string
	CorrelationID string // empty when unset
	Source        Source
	Payload       Payload
}

// New constructs an Event with a fresh unique id and the given timestamp.
// now is supplied by the caller so event construction stays deterministic
// in tests.
func New(ch Channel, now time.Time, src Source, payload Payload) Event {
	return Event{
		Channel:   ch,
		Timestamp: now,
		ID:        uuid.NewString(),
		Source:    src,
		Payload:   payload,
	}
}

// WithCorrelation returns a copy of e carrying correlationID.
func (e Event) WithCorrelation(correlationID string) Event {
	e.CorrelationID = correlationID
	return e
}
