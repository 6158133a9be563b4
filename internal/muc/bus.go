package muc

import (
	"context"
	"log/slog"
	"time"

	"mellium.im/xmpp/jid"

	"github.com/waddlechat/waddle/internal/event"
	"github.com/waddlechat/waddle/internal/eventbus"
	"github.com/waddlechat/waddle/internal/storage"
)

// BusManager wires the in-memory MUC room cache (Manager) to the bus and
// storage facade, implementing spec §4.7. Rooms are independent: leaving
// one never affects another.
type BusManager struct {
	cache *Manager
	store storage.Store
	bus   *eventbus.Bus
	log   *slog.Logger
	now   func() time.Time
}

func NewBusManager(store storage.Store, bus *eventbus.Bus, log *slog.Logger) *BusManager {
	return &BusManager{cache: NewManager(), store: store, bus: bus, log: log, now: time.Now}
}

func (b *BusManager) Run(ctx context.Context) error {
	sub, err := b.bus.Subscribe("xmpp.muc.**")
	if err != nil {
		return err
	}
	for {
		ev, err := sub.Recv(ctx)
		if err != nil {
			if _, ok := eventbus.AsLagged(err); ok {
				b.log.Warn("muc manager lagged, resuming from queue head")
				continue
			}
			return err
		}
		switch p := ev.Payload.(type) {
		case event.MucJoined:
			b.handleJoined(p)
		case event.MucLeft:
			b.handleLeft(p)
		case event.MucOccupantChanged:
			b.handleOccupantChanged(p)
		case event.MucSubjectChanged:
			b.handleSubjectChanged(p)
		case event.MucMessageReceived:
			b.handleMessageReceived(p)
		}
	}
}

func (b *BusManager) handleJoined(p event.MucJoined) {
	roomJID, err := jid.Parse(p.Room)
	if err != nil {
		b.log.Warn("muc joined with invalid room jid", "room", p.Room, "err", err)
		return
	}
	room := b.cache.GetRoom(roomJID)
	if room == nil {
		room = b.cache.JoinRoom(roomJID, p.Nick, "")
	}
	b.cache.SetJoined(roomJID)
	if err := b.store.SaveMucRoom(storage.MucRoom{RoomJID: p.Room, Nick: p.Nick, Joined: true}); err != nil {
		b.log.Error("persisting muc room", "err", err)
	}
}

func (b *BusManager) handleLeft(p event.MucLeft) {
	roomJID, err := jid.Parse(p.Room)
	if err != nil {
		return
	}
	room := b.cache.GetRoom(roomJID)
	if room != nil {
		room.Occupants = make(map[string]*Occupant)
		room.Joined = false
	}
	if err := b.store.SaveMucRoom(storage.MucRoom{RoomJID: p.Room, Joined: false}); err != nil {
		b.log.Error("persisting muc room", "err", err)
	}
}

// handleOccupantChanged upserts the occupant, or removes it if role=none
// (spec §4.7: "if role=none, remove the occupant; else upsert").
func (b *BusManager) handleOccupantChanged(p event.MucOccupantChanged) {
	roomJID, err := jid.Parse(p.Room)
	if err != nil {
		return
	}
	if p.Occupant.Role == "none" {
		b.cache.RemoveOccupant(roomJID, p.Occupant.Nick)
		return
	}
	var realJID jid.JID
	if p.Occupant.JID != "" {
		if parsed, err := jid.Parse(p.Occupant.JID); err == nil {
			realJID = parsed
		}
	}
	b.cache.AddOccupant(roomJID, Occupant{
		Nick: p.Occupant.Nick,
		JID:  realJID,
		Role: Role(p.Occupant.Role),
		Show: p.Occupant.Show,
	})
}

func (b *BusManager) handleSubjectChanged(p event.MucSubjectChanged) {
	roomJID, err := jid.Parse(p.Room)
	if err != nil {
		return
	}
	b.cache.SetSubject(roomJID, p.Subject, "")
	if err := b.store.SaveMucRoom(storage.MucRoom{RoomJID: p.Room, Subject: p.Subject, Joined: true}); err != nil {
		b.log.Error("persisting muc subject", "err", err)
	}
}

func (b *BusManager) handleMessageReceived(p event.MucMessageReceived) {
	roomJID, err := jid.Parse(p.Room)
	if err != nil {
		return
	}
	b.cache.AddMessage(roomJID, Message{
		ID:        p.Room + "#" + p.Timestamp.String(),
		From:      p.From,
		Body:      p.Body,
		Timestamp: p.Timestamp,
		Type:      "groupchat",
	})
}

// JoinRoom requests the server-side join (spec §4.7: "join_room emits
// MucJoinRequested").
func (b *BusManager) JoinRoom(room, nick string) error {
	ch, err := event.NewChannel(event.ChUIMucJoin)
	if err != nil {
		return err
	}
	b.bus.Publish(event.New(ch, b.now(), event.UISource(event.UITui), event.MucJoinRequested{Room: room, Nick: nick}))
	return nil
}

// LeaveRoom requests the server-side leave.
func (b *BusManager) LeaveRoom(room string) error {
	ch, err := event.NewChannel(event.ChUIMucLeave)
	if err != nil {
		return err
	}
	b.bus.Publish(event.New(ch, b.now(), event.UISource(event.UITui), event.MucLeaveRequested{Room: room}))
	return nil
}

// SendMessage requests a groupchat message be sent to room.
func (b *BusManager) SendMessage(room, body string) error {
	ch, err := event.NewChannel(event.ChUIMucMessageSend)
	if err != nil {
		return err
	}
	b.bus.Publish(event.New(ch, b.now(), event.UISource(event.UITui), event.MucMessageSendRequested{Room: room, Body: body}))
	return nil
}

// GetOccupants returns the current occupant table for room.
func (b *BusManager) GetOccupants(room string) []*Occupant {
	roomJID, err := jid.Parse(room)
	if err != nil {
		return nil
	}
	r := b.cache.GetRoom(roomJID)
	if r == nil {
		return nil
	}
	occupants := make([]*Occupant, 0, len(r.Occupants))
	for _, o := range r.Occupants {
		occupants = append(occupants, o)
	}
	return occupants
}

// GetOccupant looks up a single occupant of room by nick.
func (b *BusManager) GetOccupant(room, nick string) *Occupant {
	roomJID, err := jid.Parse(room)
	if err != nil {
		return nil
	}
	return b.cache.GetOccupant(roomJID, nick)
}

// ListRooms returns every room this manager knows about, joined or not, for
// a ListRooms-style UI listing.
func (b *BusManager) ListRooms() []*Room {
	return b.cache.GetAllRooms()
}

// JoinedRooms returns only the rooms currently joined.
func (b *BusManager) JoinedRooms() []*Room {
	return b.cache.GetJoinedRooms()
}

// MarkRead clears room's unread counter.
func (b *BusManager) MarkRead(room string) error {
	roomJID, err := jid.Parse(room)
	if err != nil {
		return err
	}
	b.cache.MarkRead(roomJID)
	return nil
}

// ClearHistory discards room's cached message history without leaving it.
func (b *BusManager) ClearHistory(room string) error {
	roomJID, err := jid.Parse(room)
	if err != nil {
		return err
	}
	b.cache.ClearHistory(roomJID)
	return nil
}

// ForgetRoom evicts room entirely — unlike LeaveRoom (which only requests
// the server-side part and leaves the cached history/occupant table for
// handleLeft to clear in place), this drops the room from both the cache and
// the store, for a UI action that removes a room from the list rather than
// just leaving it.
func (b *BusManager) ForgetRoom(room string) error {
	roomJID, err := jid.Parse(room)
	if err != nil {
		return err
	}
	b.cache.LeaveRoom(roomJID)
	return b.store.DeleteMucRoom(room)
}
