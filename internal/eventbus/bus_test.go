package eventbus

import (
	"context"
	"testing"
	"time"

	"github.com/waddlechat/waddle/internal/event"
)

func mustChannel(t *testing.T, name string) event.Channel {
	t.Helper()
	ch, err := event.NewChannel(name)
	if err != nil {
		t.Fatalf("NewChannel(%q): %v", name, err)
	}
	return ch
}

func TestSubscribeReceivesPublishedEvent(t *testing.T) {
	b := New(8)
	sub, err := b.Subscribe("xmpp.message.*")
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	ch := mustChannel(t, "xmpp.message.received")
	want := event.New(ch, time.Unix(0, 0), event.XMPPSource(), event.MessageReceived{Message: event.ChatMessage{ID: "m1"}})
	b.Publish(want)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	got, err := sub.Recv(ctx)
	if err != nil {
		t.Fatalf("Recv: %v", err)
	}
	if got.ID != want.ID {
		t.Fatalf("got id %q, want %q", got.ID, want.ID)
	}
}

func TestSubscribeFiltersNonMatchingChannels(t *testing.T) {
	b := New(8)
	sub, err := b.Subscribe("xmpp.roster.*")
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	b.Publish(event.New(mustChannel(t, "xmpp.message.received"), time.Unix(0, 0), event.XMPPSource(), event.MessageReceived{}))
	b.Publish(event.New(mustChannel(t, "xmpp.roster.received"), time.Unix(0, 0), event.XMPPSource(), event.RosterReceived{}))

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	got, err := sub.Recv(ctx)
	if err != nil {
		t.Fatalf("Recv: %v", err)
	}
	if got.Channel.String() != "xmpp.roster.received" {
		t.Fatalf("got channel %q, want xmpp.roster.received", got.Channel.String())
	}
}

func TestFireHoseSubscriptionDrawsFromAllDomains(t *testing.T) {
	b := New(8)
	sub, err := b.Subscribe("**.error.occurred")
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	b.Publish(event.New(mustChannel(t, "system.error.occurred"), time.Unix(0, 0), event.SystemSource("test"), event.ErrorOccurred{Message: "boom"}))

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	got, err := sub.Recv(ctx)
	if err != nil {
		t.Fatalf("Recv: %v", err)
	}
	payload, ok := got.Payload.(event.ErrorOccurred)
	if !ok || payload.Message != "boom" {
		t.Fatalf("unexpected payload: %#v", got.Payload)
	}
}

func TestLagReportsDroppedCount(t *testing.T) {
	b := New(2)
	sub, err := b.Subscribe("system.*")
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	for i := 0; i < 5; i++ {
		b.Publish(event.New(mustChannel(t, "system.startup.complete"), time.Unix(0, 0), event.SystemSource("test"), event.StartupComplete{}))
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_, err = sub.Recv(ctx)
	lagged, ok := AsLagged(err)
	if !ok {
		t.Fatalf("expected LaggedError, got %v", err)
	}
	if lagged.Count != 3 {
		t.Fatalf("expected 3 dropped events, got %d", lagged.Count)
	}

	// Subsequent reads resume from the queue head.
	got, err := sub.Recv(ctx)
	if err != nil {
		t.Fatalf("Recv after lag: %v", err)
	}
	if got.Channel.String() != "system.startup.complete" {
		t.Fatalf("unexpected channel after lag: %s", got.Channel.String())
	}
}

func TestCloseReturnsChannelClosedAfterDrain(t *testing.T) {
	b := New(8)
	sub, err := b.Subscribe("system.*")
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	b.Publish(event.New(mustChannel(t, "system.startup.complete"), time.Unix(0, 0), event.SystemSource("test"), event.StartupComplete{}))
	b.Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if _, err := sub.Recv(ctx); err != nil {
		t.Fatalf("expected to drain buffered event before close, got %v", err)
	}
	if _, err := sub.Recv(ctx); err != ErrChannelClosed {
		t.Fatalf("expected ErrChannelClosed, got %v", err)
	}
}

func TestInvalidPatternRejected(t *testing.T) {
	b := New(8)
	if _, err := b.Subscribe(""); err != ErrInvalidPattern {
		t.Fatalf("expected ErrInvalidPattern, got %v", err)
	}
}

func TestInvalidChannelRejected(t *testing.T) {
	if _, err := event.NewChannel("bogus.segment"); err != event.ErrInvalidChannel {
		t.Fatalf("expected ErrInvalidChannel, got %v", err)
	}
	if _, err := event.NewChannel("system..double"); err != event.ErrInvalidChannel {
		t.Fatalf("expected ErrInvalidChannel, got %v", err)
	}
}
