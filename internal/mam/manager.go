// Package mam implements the paginated Message Archive Management sync
// strategy described in spec §4.8: a catch-up pass on reconnect plus
// on-demand history fetches, both built on the same page-at-a-time
// query/result/fin correlation.
package mam

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"github.com/waddlechat/waddle/internal/event"
	"github.com/waddlechat/waddle/internal/eventbus"
	"github.com/waddlechat/waddle/internal/storage"
)

// globalSyncKey is the storage.MamSyncState key used for the catch-up
// cursor, as opposed to a per-conversation checkpoint (spec §3).
const globalSyncKey = "__global__"

const defaultPageSize = 50

// maxConcurrentQueries bounds how many MAM query/result round-trips may be
// outstanding at once — the catch-up pass and any number of concurrent
// fetch_history calls all fall through issueQuery, and an unbounded count
// of in-flight queries would let a slow server-side page starve the rest.
const maxConcurrentQueries = 4

var errPageTimeout = errors.New("mam: page timed out")

type pageResult struct {
	messages []event.ChatMessage
	complete bool
	lastID   string
}

// Manager drives MAM sync over the bus (spec §4.8).
type Manager struct {
	store storage.Store
	bus   *eventbus.Bus
	log   *slog.Logger
	now   func() time.Time

	pageTimeout time.Duration

	mu      sync.Mutex
	pending map[string]chan pageResult
	buffers map[string][]event.ChatMessage

	queryPool *semaphore.Weighted

	sawAvailableSinceConnect bool
}

func NewManager(store storage.Store, bus *eventbus.Bus, log *slog.Logger) *Manager {
	return &Manager{
		store:       store,
		bus:         bus,
		log:         log,
		now:         time.Now,
		pageTimeout: 30 * time.Second,
		pending:     make(map[string]chan pageResult),
		buffers:     make(map[string][]event.ChatMessage),
		queryPool:   semaphore.NewWeighted(maxConcurrentQueries),
	}
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
				m.log.Warn("mam manager lagged, resuming from queue head")
				continue
			}
			return err
		}
		switch p := ev.Payload.(type) {
		case event.ConnectionEstablished:
			m.sawAvailableSinceConnect = false
		case event.OwnPresenceChanged:
			m.handleOwnPresenceChanged(ctx, p)
		case event.MamResultReceived:
			m.handleResultReceived(p)
		case event.MamFinReceived:
			m.handleFinReceived(p)
		}
	}
}

// handleOwnPresenceChanged starts the catch-up sync the first time own
// presence goes available after a connect (spec §4.8).
func (m *Manager) handleOwnPresenceChanged(ctx context.Context, p event.OwnPresenceChanged) {
	if p.Unavailable || m.sawAvailableSinceConnect {
		return
	}
	m.sawAvailableSinceConnect = true
	go m.runCatchup(ctx)
}

func (m *Manager) handleResultReceived(p event.MamResultReceived) {
	for _, cm := range p.Messages {
		m.persist(cm)
	}
	m.mu.Lock()
	if _, ok := m.pending[p.QueryID]; ok {
		m.buffers[p.QueryID] = append(m.buffers[p.QueryID], p.Messages...)
	}
	m.mu.Unlock()
}

func (m *Manager) handleFinReceived(p event.MamFinReceived) {
	m.mu.Lock()
	ch, ok := m.pending[p.QueryID]
	msgs := m.buffers[p.QueryID]
	m.mu.Unlock()
	if !ok {
		return
	}
	ch <- pageResult{messages: msgs, complete: p.Complete, lastID: p.LastID}
}

func (m *Manager) persist(cm event.ChatMessage) {
	if err := m.store.SaveMessage(storage.Message{
		ID:          cm.ID,
		From:        cm.From,
		To:          cm.To,
		Body:        cm.Body,
		Timestamp:   cm.Timestamp,
		MessageType: cm.MessageType,
		Thread:      cm.Thread,
	}); err != nil {
		m.log.Error("persisting mam message", "id", cm.ID, "err", err)
	}
}

// issueQuery emits MamQueryRequested and blocks for the matching
// MamResultReceived/MamFinReceived pair, bounded by pageTimeout.
func (m *Manager) issueQuery(ctx context.Context, withJID, after, before string, max int) (pageResult, error) {
	if err := m.queryPool.Acquire(ctx, 1); err != nil {
		return pageResult{}, err
	}
	defer m.queryPool.Release(1)

	queryID := uuid.NewString()
	result := make(chan pageResult, 1)

	m.mu.Lock()
	m.pending[queryID] = result
	m.mu.Unlock()
	defer func() {
		m.mu.Lock()
		delete(m.pending, queryID)
		delete(m.buffers, queryID)
		m.mu.Unlock()
	}()

	ch, err := event.NewChannel(event.ChUIMamQuery)
	if err != nil {
		return pageResult{}, err
	}
	m.bus.Publish(event.New(ch, m.now(), event.SystemSource("mam"), event.MamQueryRequested{
		QueryID: queryID,
		WithJID: withJID,
		After:   after,
		Before:  before,
		Max:     max,
	}))

	timer := time.NewTimer(m.pageTimeout)
	defer timer.Stop()
	select {
	case res := <-result:
		return res, nil
	case <-timer.C:
		return pageResult{}, errPageTimeout
	case <-ctx.Done():
		return pageResult{}, ctx.Err()
	}
}

// runCatchup paginates from the stored global checkpoint (or "all time"
// if none) until complete or a page fails, checkpointing after every
// successful page (spec §4.8: "progress persists" across timeouts).
func (m *Manager) runCatchup(ctx context.Context) {
	correlationID := uuid.NewString()

	startCh, err := event.NewChannel(event.ChSystemSyncStarted)
	if err != nil {
		m.log.Error("invalid channel", "err", err)
		return
	}
	m.bus.Publish(event.New(startCh, m.now(), event.SystemSource("mam"), event.SyncStarted{}).WithCorrelation(correlationID))

	after := ""
	if state, err := m.store.GetMamSyncState(globalSyncKey); err == nil && state != nil {
		after = state.LastStanzaID
	}

	total := 0
	for {
		res, err := m.issueQuery(ctx, "", after, "", defaultPageSize)
		if err != nil {
			m.log.Warn("mam catch-up page abandoned", "err", err)
			break
		}
		total += len(res.messages)
		if res.lastID != "" {
			after = res.lastID
			if err := m.store.SetMamSyncState(storage.MamSyncState{
				JID:          globalSyncKey,
				LastStanzaID: after,
				LastSyncAt:   m.now(),
			}); err != nil {
				m.log.Error("checkpointing mam sync state", "err", err)
			}
		}
		if res.complete {
			break
		}
	}

	doneCh, err := event.NewChannel(event.ChSystemSyncCompleted)
	if err != nil {
		return
	}
	m.bus.Publish(event.New(doneCh, m.now(), event.SystemSource("mam"), event.SyncCompleted{MessagesSynced: total}).WithCorrelation(correlationID))
}

// FetchHistory serves an on-demand history request: it prefers the local
// store and only issues a MAM query for the gap (DESIGN.md Open Question
// resolution #1), persisting whatever the network page returns before
// re-reading the merged result.
func (m *Manager) FetchHistory(ctx context.Context, jid string, before string, limit int) ([]storage.Message, error) {
	if limit <= 0 {
		limit = defaultPageSize
	}
	local, err := m.store.GetMessages(jid, limit, before)
	if err != nil {
		return nil, err
	}
	if len(local) >= limit {
		return local, nil
	}
	if _, err := m.issueQuery(ctx, jid, "", before, limit); err != nil {
		m.log.Warn("mam fetch_history network page failed", "jid", jid, "err", err)
		return local, nil
	}
	return m.store.GetMessages(jid, limit, before)
}
