package presence

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"mellium.im/xmpp/jid"

	"github.com/waddlechat/waddle/internal/event"
	"github.com/waddlechat/waddle/internal/eventbus"
)

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

func TestHandleConnectedSetsOwnUnavailable(t *testing.T) {
	self := mustSelf(t)
	b := NewBusManager(eventbus.New(8), self, testLogger())

	b.handleConnected()

	own := b.cache.GetOwn()
	if own == nil || own.Show != ShowUnavailable {
		t.Fatalf("expected own presence unavailable after connect, got %#v", own)
	}
}

func TestHandleDisconnectedClearsAllPresence(t *testing.T) {
	self := mustSelf(t)
	b := NewBusManager(eventbus.New(8), self, testLogger())
	b.handlePresenceChanged(event.PresenceChanged{JID: "you@example.com", Resource: "phone", Show: "away", Priority: 1})

	b.handleDisconnected()

	you, _ := jid.Parse("you@example.com")
	if b.Get(you) != nil {
		t.Fatalf("expected presence cleared on disconnect")
	}
	own := b.cache.GetOwn()
	if own == nil || own.Show != ShowUnavailable {
		t.Fatalf("expected own presence reset unavailable, got %#v", own)
	}
}

func TestHandleRosterReceivedSendsInitialPresenceOncePerConnection(t *testing.T) {
	bus := eventbus.New(8)
	sub, err := bus.Subscribe(event.ChUIPresenceSet)
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	b := NewBusManager(bus, mustSelf(t), testLogger())

	b.handleRosterReceived()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	ev, err := sub.Recv(ctx)
	if err != nil {
		t.Fatalf("Recv: %v", err)
	}
	p, ok := ev.Payload.(event.PresenceSetRequested)
	if !ok || !p.Available {
		t.Fatalf("unexpected payload: %#v", ev.Payload)
	}

	// A second RosterReceived within the same connection must not re-send.
	b.handleRosterReceived()
	shortCtx, cancel2 := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel2()
	if _, err := sub.Recv(shortCtx); err == nil {
		t.Fatalf("expected no second initial-presence publish")
	}
}

func TestHandlePresenceChangedResolvesHighestPriorityResource(t *testing.T) {
	b := NewBusManager(eventbus.New(8), mustSelf(t), testLogger())

	b.handlePresenceChanged(event.PresenceChanged{JID: "you@example.com", Resource: "phone", Show: "away", Priority: 1})
	b.handlePresenceChanged(event.PresenceChanged{JID: "you@example.com", Resource: "laptop", Show: "", Priority: 5})

	you, _ := jid.Parse("you@example.com")
	best := b.Get(you)
	if best == nil || best.Priority != 5 || best.Show != ShowOnline {
		t.Fatalf("expected laptop resource to win on priority, got %#v", best)
	}
}

func TestHandlePresenceChangedUnavailableRemovesResource(t *testing.T) {
	b := NewBusManager(eventbus.New(8), mustSelf(t), testLogger())
	b.handlePresenceChanged(event.PresenceChanged{JID: "you@example.com", Resource: "phone", Show: "", Priority: 1})

	b.handlePresenceChanged(event.PresenceChanged{JID: "you@example.com", Resource: "phone", Unavailable: true})

	you, _ := jid.Parse("you@example.com")
	if b.Get(you) != nil {
		t.Fatalf("expected resource removed after unavailable presence")
	}
}
