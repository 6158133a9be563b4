package mam

import (
	"context"
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

func runManager(t *testing.T, m *Manager) context.Context {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		m.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return ctx
}

// answerOnePage waits for the next MamQueryRequested on the bus and replies
// with a single complete page of msgs, mirroring what the inbound pipeline
// does after parsing a MAM IQ result + fin.
func answerOnePage(t *testing.T, bus *eventbus.Bus, msgs []event.ChatMessage, lastID string) {
	t.Helper()
	sub, err := bus.Subscribe(event.ChUIMamQuery)
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		ev, err := sub.Recv(ctx)
		if err != nil {
			return
		}
		req, ok := ev.Payload.(event.MamQueryRequested)
		if !ok {
			return
		}
		resCh, _ := event.NewChannel(event.ChXMPPMamResultReceived)
		bus.Publish(event.New(resCh, time.Now(), event.XMPPSource(), event.MamResultReceived{
			QueryID: req.QueryID, Messages: msgs,
		}))
		finCh, _ := event.NewChannel(event.ChXMPPMamFinReceived)
		bus.Publish(event.New(finCh, time.Now(), event.XMPPSource(), event.MamFinReceived{
			QueryID: req.QueryID, Complete: true, LastID: lastID,
		}))
	}()
}

func TestFetchHistoryPrefersLocalStore(t *testing.T) {
	store := memstore.New()
	if err := store.SaveMessage(storage.Message{ID: "m1", From: "you@example.com", To: "me@example.com", Body: "hi", Timestamp: time.Unix(1, 0)}); err != nil {
		t.Fatalf("SaveMessage: %v", err)
	}
	bus := eventbus.New(8)
	m := NewManager(store, bus, testLogger())
	ctx := runManager(t, m)

	// No answerOnePage wired: if FetchHistory issued a network query it
	// would block for pageTimeout. Lower it so the test fails fast instead
	// of hanging if the local-first behavior regresses.
	m.pageTimeout = 200 * time.Millisecond

	got, err := m.FetchHistory(ctx, "you@example.com", "", 1)
	if err != nil {
		t.Fatalf("FetchHistory: %v", err)
	}
	if len(got) != 1 || got[0].ID != "m1" {
		t.Fatalf("expected local message m1, got %#v", got)
	}
}

func TestFetchHistoryFallsBackToNetworkForGap(t *testing.T) {
	store := memstore.New()
	bus := eventbus.New(8)
	m := NewManager(store, bus, testLogger())
	ctx := runManager(t, m)

	answerOnePage(t, bus, []event.ChatMessage{
		{ID: "m1", From: "you@example.com", To: "me@example.com", Body: "hi", Timestamp: time.Unix(1, 0), MessageType: "chat"},
	}, "m1")

	got, err := m.FetchHistory(ctx, "you@example.com", "", 5)
	if err != nil {
		t.Fatalf("FetchHistory: %v", err)
	}
	if len(got) != 1 || got[0].ID != "m1" {
		t.Fatalf("expected network-fetched message m1 persisted and returned, got %#v", got)
	}

	exists, err := store.MessageExists("m1")
	if err != nil || !exists {
		t.Fatalf("expected m1 persisted, exists=%v err=%v", exists, err)
	}
}

func TestRunCatchupCheckpointsAndEmitsSyncCompleted(t *testing.T) {
	store := memstore.New()
	bus := eventbus.New(8)
	sub, err := bus.Subscribe(event.ChSystemSyncCompleted)
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	m := NewManager(store, bus, testLogger())
	ctx := runManager(t, m)

	answerOnePage(t, bus, []event.ChatMessage{
		{ID: "m1", From: "you@example.com", To: "me@example.com", Body: "hi", Timestamp: time.Unix(1, 0), MessageType: "chat"},
	}, "m1")

	m.runCatchup(ctx)

	recvCtx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	ev, err := sub.Recv(recvCtx)
	if err != nil {
		t.Fatalf("Recv SyncCompleted: %v", err)
	}
	p, ok := ev.Payload.(event.SyncCompleted)
	if !ok || p.MessagesSynced != 1 {
		t.Fatalf("unexpected SyncCompleted payload: %#v", ev.Payload)
	}

	state, err := store.GetMamSyncState(globalSyncKey)
	if err != nil || state == nil || state.LastStanzaID != "m1" {
		t.Fatalf("expected checkpoint at m1, got %#v, err %v", state, err)
	}
}
