// Package offlinequeue implements the reconnect drain and MAM
// reconciliation behavior for the persistent FIFO command queue (spec
// §4.9). The queue rows themselves live in the storage facade; this
// package only owns the state-transition logic.
package offlinequeue

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/waddlechat/waddle/internal/event"
	"github.com/waddlechat/waddle/internal/eventbus"
	"github.com/waddlechat/waddle/internal/storage"
)

// Manager drains the offline queue on reconnect and reconciles sent
// messages to confirmed via MAM resync; delivery receipts are handled by
// internal/message.
type Manager struct {
	store storage.Store
	bus   *eventbus.Bus
	log   *slog.Logger
	now   func() time.Time
}

// New returns a queue manager bound to store and bus.
func New(store storage.Store, bus *eventbus.Bus, log *slog.Logger) *Manager {
	return &Manager{store: store, bus: bus, log: log, now: time.Now}
}

func (m *Manager) Run(ctx context.Context) error {
	sub, err := m.bus.Subscribe("**")
	if err != nil {
		return err
	}
	for {
		ev, err := sub.Recv(ctx)
		if err != nil {
			if _, ok := eventbus.AsLagged(err); ok {
				m.log.Warn("offline queue manager lagged, resuming from queue head")
				continue
			}
			return err
		}
		switch p := ev.Payload.(type) {
		case event.ConnectionEstablished:
			m.Drain()
		case event.MamResultReceived:
			m.reconcile(p)
		}
	}
}

// Drain replays every pending entry in FIFO (id) order. Message commands
// transition pending → sent and await confirmation; every other stanza
// type has no delivery receipt and transitions straight to confirmed
// (spec §4.9).
func (m *Manager) Drain() {
	entries, err := m.store.PendingQueueEntries()
	if err != nil {
		m.log.Error("listing pending queue entries", "err", err)
		return
	}
	for _, entry := range entries {
		switch entry.StanzaType {
		case storage.StanzaMessage:
			m.replayMessage(entry)
		default:
			if err := m.store.SetQueueStatus(entry.ID, storage.QueueConfirmed); err != nil {
				m.log.Error("confirming drained queue entry", "id", entry.ID, "err", err)
			}
		}
	}
}

func (m *Manager) replayMessage(entry storage.QueueEntry) {
	var req event.MessageSendRequested
	if err := json.Unmarshal(entry.Payload, &req); err != nil {
		m.log.Error("decoding queued message payload", "id", entry.ID, "err", err)
		return
	}
	ch, err := event.NewChannel(event.ChUIMessageSend)
	if err != nil {
		return
	}
	m.bus.Publish(event.New(ch, m.now(), event.SystemSource("offlinequeue"), req))
	if err := m.store.SetQueueStatus(entry.ID, storage.QueueSent); err != nil {
		m.log.Error("marking drained queue entry sent", "id", entry.ID, "err", err)
	}
}

// reconcile confirms sent entries whose message id resurfaces via MAM,
// the fallback path when a MessageDelivered receipt never arrives (spec
// §4.9: "(b) the message surfaces via a later MamResultReceived").
func (m *Manager) reconcile(p event.MamResultReceived) {
	for _, cm := range p.Messages {
		if err := m.store.SetQueueStatusByMessageID(cm.ID, storage.QueueConfirmed); err != nil {
			m.log.Error("reconciling queue entry via mam", "id", cm.ID, "err", err)
		}
	}
}
