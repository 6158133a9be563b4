package event

import (
	"encoding/json"
	"fmt"
	"time"
)

// Payload is the closed tagged union of every domain event carried by the
// bus. Concrete types below are the only valid implementations; adding a
// new event type means adding a new struct here and a channel constant in
// channels.go.
type Payload interface{}

// TypeName returns the concrete Go type name of a payload, used for logging
// and for the plugin host's JSON event bridge.
func TypeName(p Payload) string {
	return fmt.Sprintf("%T", p)
}

// --- system.* ---

type StartupComplete struct{}

type ShutdownRequested struct {
	Reason string
}

type ConnectionEstablished struct {
	JID string
}

type ConnectionLost struct {
	Reason    string
	WillRetry bool
}

type ConnectionReconnecting struct {
	Attempt int
}

type SyncStarted struct{}

type SyncCompleted struct {
	MessagesSynced int
}

type ErrorOccurred struct {
	Component   string
	Message     string
	Recoverable bool
}

// --- xmpp.roster.* / ui.roster.* ---

type RosterItem struct {
	JID          string
	Name         string
	Subscription string // none, to, from, both, remove
	Groups       []string
}

type RosterReceived struct {
	Items []RosterItem
}

type RosterUpdated struct {
	Item RosterItem
}

type RosterRemoved struct {
	JID string
}

type RosterUpdateRequested struct {
	Item RosterItem
}

type RosterAddRequested struct {
	JID    string
	Name   string
	Groups []string
}

type SubscriptionRequest struct {
	From string
}

type SubscriptionSendRequested struct {
	To        string
	Subscribe bool
}

type SubscriptionRespondRequested struct {
	To     string
	Accept bool
}

// --- xmpp.presence.* / ui.presence.* ---

type PresenceChanged struct {
	JID         string
	Resource    string
	Show        string
	Status      string
	Priority    int
	Unavailable bool
}

type OwnPresenceChanged struct {
	Show        string
	Unavailable bool
}

type PresenceSetRequested struct {
	Show      string
	Status    string
	Available bool
}

// --- xmpp.message.* / ui.message.* ---

type ChatMessage struct {
	ID          string
	From        string
	To          string
	Body        string
	Timestamp   time.Time
	MessageType string // chat, groupchat, normal, headline, error
	Thread      string
}

type MessageReceived struct {
	Message ChatMessage
}

type MessageSent struct {
	ID string
}

type MessageDelivered struct {
	ID   string
	From string
}

type MessageSendRequested struct {
	ID   string
	To   string
	Body string
}

type ChatStateReceived struct {
	From  string
	State string
}

type ChatStateSendRequested struct {
	To    string
	State string
}

// --- xmpp.muc.* / ui.muc.* ---

type MucOccupant struct {
	Nick string
	JID  string // empty if not visible
	Role string // none means departed
	Show string
}

type MucJoinRequested struct {
	Room string
	Nick string
}

type MucLeaveRequested struct {
	Room string
}

type MucJoined struct {
	Room string
	Nick string
}

type MucLeft struct {
	Room string
}

type MucOccupantChanged struct {
	Room     string
	Occupant MucOccupant
}

type MucSubjectChanged struct {
	Room    string
	Subject string
}

type MucMessageReceived struct {
	Room      string
	From      string
	Body      string
	Timestamp time.Time
}

type MucMessageSendRequested struct {
	Room string
	Body string
}

// --- xmpp.mam.* / ui.mam.* ---

type MamQueryRequested struct {
	QueryID string
	WithJID string
	After   string
	Before  string
	Max     int
}

type MamResultReceived struct {
	QueryID  string
	Messages []ChatMessage
	Complete bool
}

type MamFinReceived struct {
	QueryID  string
	Complete bool
	LastID   string
}

// --- xmpp.raw.* ---

type RawStanzaReceived struct {
	Bytes []byte
}

// --- plugin.* ---

type PluginLoaded struct {
	ID string
}

type PluginUnloaded struct {
	ID string
}

type PluginErrorEvent struct {
	ID     string
	Reason string
}

type PluginCustomEvent struct {
	PluginID  string
	EventType string
	Data      json.RawMessage
}
