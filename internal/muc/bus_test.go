package muc

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"mellium.im/xmpp/jid"

	"github.com/waddlechat/waddle/internal/event"
	"github.com/waddlechat/waddle/internal/eventbus"
	"github.com/waddlechat/waddle/internal/storage/memstore"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func mustJID(t *testing.T, s string) jid.JID {
	t.Helper()
	j, err := jid.Parse(s)
	if err != nil {
		t.Fatalf("jid.Parse(%q): %v", s, err)
	}
	return j
}

func TestHandleJoinedMarksRoomJoined(t *testing.T) {
	store := memstore.New()
	b := NewBusManager(store, eventbus.New(8), testLogger())

	b.handleJoined(event.MucJoined{Room: "room@conference.example.com", Nick: "me"})

	room, err := store.GetMucRoom("room@conference.example.com")
	if err != nil || room == nil || !room.Joined {
		t.Fatalf("expected room persisted as joined, got %#v, err %v", room, err)
	}
}

func TestHandleOccupantChangedUpsertsThenRemovesOnRoleNone(t *testing.T) {
	store := memstore.New()
	b := NewBusManager(store, eventbus.New(8), testLogger())
	b.handleJoined(event.MucJoined{Room: "room@conference.example.com", Nick: "me"})

	b.handleOccupantChanged(event.MucOccupantChanged{
		Room:     "room@conference.example.com",
		Occupant: event.MucOccupant{Nick: "alice", Role: "participant"},
	})
	occupants := b.GetOccupants("room@conference.example.com")
	if len(occupants) != 1 || occupants[0].Nick != "alice" {
		t.Fatalf("expected alice present, got %#v", occupants)
	}

	b.handleOccupantChanged(event.MucOccupantChanged{
		Room:     "room@conference.example.com",
		Occupant: event.MucOccupant{Nick: "alice", Role: "none"},
	})
	occupants = b.GetOccupants("room@conference.example.com")
	if len(occupants) != 0 {
		t.Fatalf("expected alice removed after role=none, got %#v", occupants)
	}
}

func TestHandleLeftClearsOccupantsButKeepsRoomIndependent(t *testing.T) {
	store := memstore.New()
	b := NewBusManager(store, eventbus.New(8), testLogger())
	b.handleJoined(event.MucJoined{Room: "room1@conference.example.com", Nick: "me"})
	b.handleJoined(event.MucJoined{Room: "room2@conference.example.com", Nick: "me"})
	b.handleOccupantChanged(event.MucOccupantChanged{
		Room:     "room1@conference.example.com",
		Occupant: event.MucOccupant{Nick: "alice", Role: "participant"},
	})

	b.handleLeft(event.MucLeft{Room: "room1@conference.example.com"})

	if got := b.GetOccupants("room1@conference.example.com"); len(got) != 0 {
		t.Fatalf("expected room1 occupants cleared, got %#v", got)
	}
	room2, err := store.GetMucRoom("room2@conference.example.com")
	if err != nil || room2 == nil || !room2.Joined {
		t.Fatalf("expected room2 unaffected by room1 leave, got %#v, err %v", room2, err)
	}
}

func TestListRoomsAndJoinedRoomsAndGetOccupant(t *testing.T) {
	store := memstore.New()
	b := NewBusManager(store, eventbus.New(8), testLogger())
	b.handleJoined(event.MucJoined{Room: "room1@conference.example.com", Nick: "me"})
	b.handleJoined(event.MucJoined{Room: "room2@conference.example.com", Nick: "me"})
	b.handleLeft(event.MucLeft{Room: "room2@conference.example.com"})
	b.handleOccupantChanged(event.MucOccupantChanged{
		Room:     "room1@conference.example.com",
		Occupant: event.MucOccupant{Nick: "alice", Role: "participant"},
	})

	if got := b.ListRooms(); len(got) != 2 {
		t.Fatalf("expected 2 known rooms, got %#v", got)
	}
	joined := b.JoinedRooms()
	if len(joined) != 1 || joined[0].JID.Bare().String() != "room1@conference.example.com" {
		t.Fatalf("expected only room1 joined, got %#v", joined)
	}

	occ := b.GetOccupant("room1@conference.example.com", "alice")
	if occ == nil || occ.Nick != "alice" {
		t.Fatalf("expected alice, got %#v", occ)
	}
	if b.GetOccupant("room1@conference.example.com", "bob") != nil {
		t.Fatalf("expected no occupant for unknown nick")
	}
}

func TestMarkReadClearsUnreadAndClearHistoryEmptiesMessages(t *testing.T) {
	store := memstore.New()
	b := NewBusManager(store, eventbus.New(8), testLogger())
	b.handleJoined(event.MucJoined{Room: "room@conference.example.com", Nick: "me"})
	b.handleMessageReceived(event.MucMessageReceived{Room: "room@conference.example.com", From: "alice", Body: "hi", Timestamp: time.Now()})

	room := b.cache.GetRoom(mustJID(t, "room@conference.example.com"))
	if room.Unread != 1 || len(room.Messages) != 1 {
		t.Fatalf("expected one unread message before MarkRead/ClearHistory, got %#v", room)
	}

	if err := b.MarkRead("room@conference.example.com"); err != nil {
		t.Fatalf("MarkRead: %v", err)
	}
	if room.Unread != 0 {
		t.Fatalf("expected unread cleared, got %d", room.Unread)
	}

	if err := b.ClearHistory("room@conference.example.com"); err != nil {
		t.Fatalf("ClearHistory: %v", err)
	}
	if len(room.Messages) != 0 {
		t.Fatalf("expected messages cleared, got %#v", room.Messages)
	}
}

func TestForgetRoomRemovesFromCacheAndStore(t *testing.T) {
	store := memstore.New()
	b := NewBusManager(store, eventbus.New(8), testLogger())
	b.handleJoined(event.MucJoined{Room: "room@conference.example.com", Nick: "me"})

	if err := b.ForgetRoom("room@conference.example.com"); err != nil {
		t.Fatalf("ForgetRoom: %v", err)
	}

	if got := b.cache.GetRoom(mustJID(t, "room@conference.example.com")); got != nil {
		t.Fatalf("expected room evicted from cache, got %#v", got)
	}
	persisted, err := store.GetMucRoom("room@conference.example.com")
	if err != nil {
		t.Fatalf("GetMucRoom: %v", err)
	}
	if persisted != nil {
		t.Fatalf("expected room removed from store, got %#v", persisted)
	}
}

func TestJoinRoomPublishesCommand(t *testing.T) {
	bus := eventbus.New(8)
	sub, err := bus.Subscribe(event.ChUIMucJoin)
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	b := NewBusManager(memstore.New(), bus, testLogger())

	if err := b.JoinRoom("room@conference.example.com", "me"); err != nil {
		t.Fatalf("JoinRoom: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	got, err := sub.Recv(ctx)
	if err != nil {
		t.Fatalf("Recv: %v", err)
	}
	p, ok := got.Payload.(event.MucJoinRequested)
	if !ok || p.Room != "room@conference.example.com" || p.Nick != "me" {
		t.Fatalf("unexpected payload: %#v", got.Payload)
	}
}
