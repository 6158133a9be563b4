// Package memstore is an in-memory storage.Store used by manager tests so
// they do not depend on cgo/sqlite.
package memstore

import (
	"sort"
	"sync"

	"github.com/waddlechat/waddle/internal/storage"
)

// Store is a goroutine-safe in-memory implementation of storage.Store.
type Store struct {
	mu       sync.Mutex
	messages map[string]storage.Message
	roster   map[string]storage.RosterItem
	rooms    map[string]storage.MucRoom
	queue    []storage.QueueEntry
	nextID   int64
	mam      map[string]storage.MamSyncState
}

// New returns an empty Store.
func New() *Store {
	return &Store{
		messages: make(map[string]storage.Message),
		roster:   make(map[string]storage.RosterItem),
		rooms:    make(map[string]storage.MucRoom),
		mam:      make(map[string]storage.MamSyncState),
	}
}

func (s *Store) Close() error { return nil }

func (s *Store) SaveMessage(m storage.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.messages[m.ID]; ok {
		return nil
	}
	s.messages[m.ID] = m
	return nil
}

func (s *Store) MessageExists(id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.messages[id]
	return ok, nil
}

func (s *Store) GetMessages(jid string, limit int, beforeID string) ([]storage.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var cutoff int64 = 1<<63 - 1
	if beforeID != "" {
		if m, ok := s.messages[beforeID]; ok {
			cutoff = m.Timestamp.UnixNano()
		}
	}

	var matched []storage.Message
	for _, m := range s.messages {
		if (m.From == jid || m.To == jid) && m.Timestamp.UnixNano() < cutoff {
			matched = append(matched, m)
		}
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].Timestamp.Before(matched[j].Timestamp) })
	if len(matched) > limit && limit > 0 {
		matched = matched[len(matched)-limit:]
	}
	return matched, nil
}

func (s *Store) ReplaceRoster(items []storage.RosterItem) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.roster = make(map[string]storage.RosterItem, len(items))
	for _, item := range items {
		s.roster[item.JID] = item
	}
	return nil
}

func (s *Store) UpsertRosterItem(item storage.RosterItem) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.roster[item.JID] = item
	return nil
}

func (s *Store) RemoveRosterItem(jid string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.roster, jid)
	return nil
}

func (s *Store) GetRoster() ([]storage.RosterItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]storage.RosterItem, 0, len(s.roster))
	for _, item := range s.roster {
		out = append(out, item)
	}
	return out, nil
}

func (s *Store) SaveMucRoom(room storage.MucRoom) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rooms[room.RoomJID] = room
	return nil
}

func (s *Store) GetMucRoom(roomJID string) (*storage.MucRoom, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	room, ok := s.rooms[roomJID]
	if !ok {
		return nil, nil
	}
	return &room, nil
}

func (s *Store) DeleteMucRoom(roomJID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.rooms, roomJID)
	return nil
}

func (s *Store) EnqueueCommand(stanzaType storage.StanzaType, payload []byte, messageID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	s.queue = append(s.queue, storage.QueueEntry{
		ID:         s.nextID,
		StanzaType: stanzaType,
		Payload:    payload,
		Status:     storage.QueuePending,
		MessageID:  messageID,
	})
	return s.nextID, nil
}

func (s *Store) SetQueueStatus(id int64, status storage.QueueStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.queue {
		if s.queue[i].ID == id {
			s.queue[i].Status = status
		}
	}
	return nil
}

func (s *Store) SetQueueStatusByMessageID(messageID string, status storage.QueueStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.queue {
		if s.queue[i].MessageID == messageID {
			s.queue[i].Status = status
		}
	}
	return nil
}

func (s *Store) PendingQueueEntries() ([]storage.QueueEntry, error) {
	return s.queueEntriesWithStatus(storage.QueuePending), nil
}

func (s *Store) SentQueueEntries() ([]storage.QueueEntry, error) {
	return s.queueEntriesWithStatus(storage.QueueSent), nil
}

func (s *Store) queueEntriesWithStatus(status storage.QueueStatus) []storage.QueueEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []storage.QueueEntry
	for _, e := range s.queue {
		if e.Status == status {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (s *Store) GetMamSyncState(jid string) (*storage.MamSyncState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	state, ok := s.mam[jid]
	if !ok {
		return nil, nil
	}
	return &state, nil
}

func (s *Store) SetMamSyncState(state storage.MamSyncState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.mam[state.JID] = state
	return nil
}

var _ storage.Store = (*Store)(nil)
