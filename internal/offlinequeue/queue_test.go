package offlinequeue

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/waddlechat/waddle/internal/event"
	"github.com/waddlechat/waddle/internal/eventbus"
	"github.com/waddlechat/waddle/internal/storage"
	"github.com/waddlechat/waddle/internal/storage/memstore"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestDrainReplaysPendingMessageAndMarksSent(t *testing.T) {
	store := memstore.New()
	payload, err := json.Marshal(event.MessageSendRequested{ID: "m1", To: "you@example.com", Body: "hi"})
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	if _, err := store.EnqueueCommand(storage.StanzaMessage, payload, "m1"); err != nil {
		t.Fatalf("EnqueueCommand: %v", err)
	}

	bus := eventbus.New(8)
	sub, err := bus.Subscribe(event.ChUIMessageSend)
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	m := New(store, bus, testLogger())

	m.Drain()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	ev, err := sub.Recv(ctx)
	if err != nil {
		t.Fatalf("Recv: %v", err)
	}
	req, ok := ev.Payload.(event.MessageSendRequested)
	if !ok || req.ID != "m1" || req.Body != "hi" {
		t.Fatalf("unexpected replayed payload: %#v", ev.Payload)
	}

	sent, err := store.SentQueueEntries()
	if err != nil || len(sent) != 1 || sent[0].MessageID != "m1" {
		t.Fatalf("expected m1 marked sent, got %#v, err %v", sent, err)
	}
}

func TestDrainConfirmsNonMessageStanzasImmediately(t *testing.T) {
	store := memstore.New()
	id, err := store.EnqueueCommand(storage.StanzaType("presence"), []byte(`{}`), "")
	if err != nil {
		t.Fatalf("EnqueueCommand: %v", err)
	}

	m := New(store, eventbus.New(8), testLogger())
	m.Drain()

	pending, err := store.PendingQueueEntries()
	if err != nil {
		t.Fatalf("PendingQueueEntries: %v", err)
	}
	if len(pending) != 0 {
		t.Fatalf("expected no pending entries after drain, got %#v", pending)
	}
	_ = id
}

func TestReconcileConfirmsViaMamReplay(t *testing.T) {
	store := memstore.New()
	payload, err := json.Marshal(event.MessageSendRequested{ID: "m1", To: "you@example.com", Body: "hi"})
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	qid, err := store.EnqueueCommand(storage.StanzaMessage, payload, "m1")
	if err != nil {
		t.Fatalf("EnqueueCommand: %v", err)
	}
	if err := store.SetQueueStatus(qid, storage.QueueSent); err != nil {
		t.Fatalf("SetQueueStatus: %v", err)
	}

	m := New(store, eventbus.New(8), testLogger())
	m.reconcile(event.MamResultReceived{Messages: []event.ChatMessage{{ID: "m1"}}})

	sent, err := store.SentQueueEntries()
	if err != nil {
		t.Fatalf("SentQueueEntries: %v", err)
	}
	if len(sent) != 0 {
		t.Fatalf("expected m1 no longer sent (now confirmed), got %#v", sent)
	}
}
