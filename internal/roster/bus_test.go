package roster

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"mellium.im/xmpp/jid"

	"github.com/waddlechat/waddle/internal/event"
	"github.com/waddlechat/waddle/internal/eventbus"
	"github.com/waddlechat/waddle/internal/storage"
	"github.com/waddlechat/waddle/internal/storage/memstore"
)

func findRosterItem(t *testing.T, store *memstore.Store, j string) *storage.RosterItem {
	t.Helper()
	items, err := store.GetRoster()
	if err != nil {
		t.Fatalf("GetRoster: %v", err)
	}
	for i := range items {
		if items[i].JID == j {
			return &items[i]
		}
	}
	return nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func mustSelf(t *testing.T) jid.JID {
	t.Helper()
	j, err := jid.Parse("me@example.com/waddle")
	if err != nil {
		t.Fatalf("jid.Parse: %v", err)
	}
	return j
}

func TestHandleReceivedAddsSelfWhenMissing(t *testing.T) {
	store := memstore.New()
	self := mustSelf(t)
	b := NewBusManager(store, eventbus.New(8), self, testLogger())

	b.handleReceived(event.RosterReceived{Items: []event.RosterItem{
		{JID: "you@example.com", Name: "You", Subscription: "both"},
	}})

	items := b.Items()
	found := map[string]bool{}
	for _, it := range items {
		found[it.JID.Bare().String()] = true
	}
	if !found["you@example.com"] {
		t.Fatalf("expected you@example.com present, got %#v", items)
	}
	if !found[self.Bare().String()] {
		t.Fatalf("expected self injected into roster cache, got %#v", items)
	}
}

func TestHandleReceivedReplacesPriorCache(t *testing.T) {
	store := memstore.New()
	b := NewBusManager(store, eventbus.New(8), mustSelf(t), testLogger())

	b.handleReceived(event.RosterReceived{Items: []event.RosterItem{
		{JID: "stale@example.com", Subscription: "both"},
	}})
	b.handleReceived(event.RosterReceived{Items: []event.RosterItem{
		{JID: "fresh@example.com", Subscription: "both"},
	}})

	for _, it := range b.Items() {
		if it.JID.Bare().String() == "stale@example.com" {
			t.Fatalf("expected stale contact cleared on re-sync, got %#v", b.Items())
		}
	}
}

func TestHandleUpdatedRejectsDuplicateGroups(t *testing.T) {
	store := memstore.New()
	b := NewBusManager(store, eventbus.New(8), mustSelf(t), testLogger())

	b.handleUpdated(event.RosterUpdated{Item: event.RosterItem{
		JID: "you@example.com", Groups: []string{"friends", "friends"},
	}})

	if item := findRosterItem(t, store, "you@example.com"); item != nil {
		t.Fatalf("expected rejected update not persisted, got %#v", item)
	}
}

func TestHandleUpdatedPersistsValidItem(t *testing.T) {
	store := memstore.New()
	b := NewBusManager(store, eventbus.New(8), mustSelf(t), testLogger())

	b.handleUpdated(event.RosterUpdated{Item: event.RosterItem{
		JID: "you@example.com", Name: "You", Subscription: "both", Groups: []string{"friends"},
	}})

	if item := findRosterItem(t, store, "you@example.com"); item == nil {
		t.Fatalf("expected persisted item")
	}
	j, _ := jid.Parse("you@example.com")
	if b.cache.Get(j) == nil {
		t.Fatalf("expected cache updated")
	}
}

func TestHandleRemovedClearsCacheAndStore(t *testing.T) {
	store := memstore.New()
	b := NewBusManager(store, eventbus.New(8), mustSelf(t), testLogger())
	b.handleUpdated(event.RosterUpdated{Item: event.RosterItem{JID: "you@example.com", Subscription: "both"}})

	b.handleRemoved(event.RosterRemoved{JID: "you@example.com"})

	if item := findRosterItem(t, store, "you@example.com"); item != nil {
		t.Fatalf("expected item removed from store, got %#v", item)
	}
	j, _ := jid.Parse("you@example.com")
	if b.cache.Get(j) != nil {
		t.Fatalf("expected item removed from cache")
	}
}

func TestAddContactPublishesUpdateAndSubscribe(t *testing.T) {
	bus := eventbus.New(8)
	updateSub, err := bus.Subscribe(event.ChUIRosterAdd)
	if err != nil {
		t.Fatalf("Subscribe update: %v", err)
	}
	subSub, err := bus.Subscribe(event.ChUISubscriptionSend)
	if err != nil {
		t.Fatalf("Subscribe subscribe: %v", err)
	}
	b := NewBusManager(memstore.New(), bus, mustSelf(t), testLogger())

	if err := b.AddContact("you@example.com", "You", []string{"friends"}, true); err != nil {
		t.Fatalf("AddContact: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if _, err := updateSub.Recv(ctx); err != nil {
		t.Fatalf("Recv update: %v", err)
	}
	if _, err := subSub.Recv(ctx); err != nil {
		t.Fatalf("Recv subscribe: %v", err)
	}
}

func TestAddContactRejectsInvalidGroups(t *testing.T) {
	b := NewBusManager(memstore.New(), eventbus.New(8), mustSelf(t), testLogger())
	if err := b.AddContact("you@example.com", "You", []string{"", "friends"}, false); err == nil {
		t.Fatalf("expected error for empty group name")
	}
}

func TestGroupsByGroupUngroupedAndCount(t *testing.T) {
	store := memstore.New()
	b := NewBusManager(store, eventbus.New(8), mustSelf(t), testLogger())

	b.handleReceived(event.RosterReceived{Items: []event.RosterItem{
		{JID: "alice@example.com", Subscription: "both", Groups: []string{"friends"}},
		{JID: "bob@example.com", Subscription: "both", Groups: []string{"work"}},
		{JID: "carol@example.com", Subscription: "both"},
	}})

	groups := b.Groups()
	if len(groups) != 2 {
		t.Fatalf("expected 2 distinct groups, got %#v", groups)
	}

	friends := b.ItemsByGroup("friends")
	if len(friends) != 1 || friends[0].JID.Bare().String() != "alice@example.com" {
		t.Fatalf("expected only alice in friends, got %#v", friends)
	}

	ungrouped := b.UngroupedItems()
	found := false
	for _, it := range ungrouped {
		if it.JID.Bare().String() == "carol@example.com" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected carol in ungrouped, got %#v", ungrouped)
	}

	// 3 contacts plus the synthetic self row handleReceived injects.
	if got := b.Count(); got != 4 {
		t.Fatalf("expected count 4, got %d", got)
	}
}
