// Package storage defines the persistence facade consumed by every
// manager (spec §3 "Storage Facade"). Callers never see SQL; the schema is
// an implementation detail of the backing store (internal/storage/sqlite).
package storage

import "time"

// Message is a persisted chat message, keyed by its globally unique id.
type Message struct {
	ID          string
	From        string
	To          string
	Body        string
	Timestamp   time.Time
	MessageType string
	Thread      string
	Read        bool
}

// RosterItem is a persisted roster contact.
type RosterItem struct {
	JID          string
	Name         string
	Subscription string
	Groups       []string
}

// MucRoom is a persisted MUC room's durable state (subject/joined flag);
// occupants are in-memory only (spec §3: "owned by ... Manager").
type MucRoom struct {
	RoomJID string
	Nick    string
	Joined  bool
	Subject string
}

// QueueStatus is the lifecycle state of an OfflineQueueEntry.
type QueueStatus string

const (
	QueuePending   QueueStatus = "pending"
	QueueSent      QueueStatus = "sent"
	QueueConfirmed QueueStatus = "confirmed"
	QueueFailed    QueueStatus = "failed"
)

// StanzaType identifies what kind of stanza an offline queue entry carries.
type StanzaType string

const (
	StanzaMessage  StanzaType = "message"
	StanzaIQ       StanzaType = "iq"
	StanzaPresence StanzaType = "presence"
)

// QueueEntry is a persisted offline-queue row (spec §3 OfflineQueueEntry).
type QueueEntry struct {
	ID          int64
	StanzaType  StanzaType
	Payload     []byte
	Status      QueueStatus
	MessageID   string // non-empty for StanzaMessage, used to match delivery receipts
	EnqueuedAt  time.Time
}

// MamSyncState is a persisted per-conversation MAM checkpoint. jid is
// "__global__" for the catch-up cursor (spec §3).
type MamSyncState struct {
	JID          string
	LastStanzaID string
	LastSyncAt   time.Time
}

// Store is the persistence facade. All methods are safe for concurrent use.
// Writes to different entity tables are not guaranteed to proceed in
// parallel: memstore guards every table with a single mutex.
type Store interface {
	Close() error

	// Messages
	SaveMessage(m Message) error // insert-or-ignore on ID: dedup across MAM and live delivery
	GetMessages(jid string, limit int, beforeID string) ([]Message, error)
	MessageExists(id string) (bool, error)

	// Roster
	ReplaceRoster(items []RosterItem) error
	UpsertRosterItem(item RosterItem) error
	RemoveRosterItem(jid string) error
	GetRoster() ([]RosterItem, error)

	// MUC
	SaveMucRoom(room MucRoom) error
	GetMucRoom(roomJID string) (*MucRoom, error)
	DeleteMucRoom(roomJID string) error

	// Offline queue
	EnqueueCommand(stanzaType StanzaType, payload []byte, messageID string) (int64, error)
	SetQueueStatus(id int64, status QueueStatus) error
	SetQueueStatusByMessageID(messageID string, status QueueStatus) error
	PendingQueueEntries() ([]QueueEntry, error)
	SentQueueEntries() ([]QueueEntry, error)

	// MAM sync state
	GetMamSyncState(jid string) (*MamSyncState, error)
	SetMamSyncState(state MamSyncState) error
}
