package message

import (
	"context"
	"encoding/json"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"
	"mellium.im/xmpp/jid"

	"github.com/waddlechat/waddle/internal/event"
	"github.com/waddlechat/waddle/internal/eventbus"
	"github.com/waddlechat/waddle/internal/storage"
)

// BusManager wires the in-memory chat session cache (Manager) to the bus
// and storage facade, implementing spec §4.6.
type BusManager struct {
	cache *Manager
	store storage.Store
	bus   *eventbus.Bus
	self  jid.JID
	log   *slog.Logger
	now   func() time.Time

	online bool
}

func NewBusManager(store storage.Store, bus *eventbus.Bus, self jid.JID, log *slog.Logger) *BusManager {
	return &BusManager{cache: NewManager(), store: store, bus: bus, self: self, log: log, now: time.Now}
}

func (b *BusManager) Run(ctx context.Context) error {
	sub, err := b.bus.Subscribe("**")
	if err != nil {
		return err
	}
	for {
		ev, err := sub.Recv(ctx)
		if err != nil {
			if _, ok := eventbus.AsLagged(err); ok {
				b.log.Warn("message manager lagged, resuming from queue head")
				continue
			}
			return err
		}
		switch p := ev.Payload.(type) {
		case event.ConnectionEstablished:
			b.online = true
		case event.ConnectionLost:
			b.online = false
		case event.MessageReceived:
			b.handleMessageReceived(p)
		case event.MessageSent:
			b.handleMessageSent(p)
		case event.MessageDelivered:
			b.handleMessageDelivered(p)
		case event.ChatStateReceived:
			b.handleChatStateReceived(p)
		}
	}
}

// handleMessageReceived persists the message idempotently (insert-or-ignore
// on id) and adds it to the in-memory session (spec §4.6).
func (b *BusManager) handleMessageReceived(p event.MessageReceived) {
	from, err := jid.Parse(p.Message.From)
	if err != nil {
		b.log.Warn("message received with invalid from jid", "from", p.Message.From, "err", err)
		return
	}
	to, _ := jid.Parse(p.Message.To)

	if err := b.store.SaveMessage(storage.Message{
		ID:          p.Message.ID,
		From:        p.Message.From,
		To:          p.Message.To,
		Body:        p.Message.Body,
		Timestamp:   p.Message.Timestamp,
		MessageType: p.Message.MessageType,
		Thread:      p.Message.Thread,
	}); err != nil {
		b.log.Error("persisting received message", "err", err)
	}

	b.cache.AddMessage(from, Message{
		ID:        p.Message.ID,
		From:      from,
		To:        to,
		Body:      p.Message.Body,
		Type:      p.Message.MessageType,
		Timestamp: p.Message.Timestamp,
		Thread:    p.Message.Thread,
	})
}

// handleMessageSent transitions the matching offline-queue entry pending →
// sent once the server echoes the outgoing stanza.
func (b *BusManager) handleMessageSent(p event.MessageSent) {
	if err := b.store.SetQueueStatusByMessageID(p.ID, storage.QueueSent); err != nil {
		b.log.Error("marking queue entry sent", "id", p.ID, "err", err)
	}
}

// handleMessageDelivered transitions sent → confirmed (spec §4.9).
func (b *BusManager) handleMessageDelivered(p event.MessageDelivered) {
	from, err := jid.Parse(p.From)
	if err == nil {
		b.cache.MarkReceived(from, p.ID)
	}
	if err := b.store.SetQueueStatusByMessageID(p.ID, storage.QueueConfirmed); err != nil {
		b.log.Error("marking queue entry confirmed", "id", p.ID, "err", err)
	}
}

func (b *BusManager) handleChatStateReceived(p event.ChatStateReceived) {
	from, err := jid.Parse(p.From)
	if err != nil {
		return
	}
	b.cache.SetChatState(from, ChatState(p.State))
}

// SendMessage persists the outgoing message and, if connected, requests it
// be sent over the wire; otherwise it is queued for the next reconnect
// drain (spec §4.6).
func (b *BusManager) SendMessage(to, body string) (string, error) {
	toJID, err := jid.Parse(to)
	if err != nil {
		return "", err
	}
	id := uuid.NewString()
	now := b.now()

	if err := b.store.SaveMessage(storage.Message{
		ID:          id,
		From:        b.self.Bare().String(),
		To:          toJID.Bare().String(),
		Body:        body,
		Timestamp:   now,
		MessageType: "chat",
	}); err != nil {
		return "", err
	}
	b.cache.AddMessage(toJID.Bare(), Message{
		ID:        id,
		From:      b.self.Bare(),
		To:        toJID.Bare(),
		Body:      body,
		Type:      "chat",
		Timestamp: now,
	})

	payload, err := json.Marshal(event.MessageSendRequested{ID: id, To: to, Body: body})
	if err != nil {
		return "", err
	}
	qid, err := b.store.EnqueueCommand(storage.StanzaMessage, payload, id)
	if err != nil {
		return "", err
	}

	if !b.online {
		return id, nil
	}

	if err := b.store.SetQueueStatus(qid, storage.QueueSent); err != nil {
		b.log.Error("marking queue entry sent", "id", qid, "err", err)
	}

	ch, err := event.NewChannel(event.ChUIMessageSend)
	if err != nil {
		return "", err
	}
	b.bus.Publish(event.New(ch, now, event.UISource(event.UITui), event.MessageSendRequested{ID: id, To: to, Body: body}))
	return id, nil
}

// SendChatState requests a chat-state notification be sent to jid.
func (b *BusManager) SendChatState(to, state string) error {
	ch, err := event.NewChannel(event.ChUIChatStateSend)
	if err != nil {
		return err
	}
	b.bus.Publish(event.New(ch, b.now(), event.UISource(event.UITui), event.ChatStateSendRequested{To: to, State: state}))
	return nil
}

// GetMessages returns the persisted message history for jid, optionally
// paging further back than beforeID (spec §4.6:
// "get_messages(jid, limit, before_id?)"). The Storage Facade is the
// source of truth (spec §3/§5): every message reaching this manager is
// saved there before it is added to the in-memory session cache, so a
// store read also covers history synced by MAM catch-up/FetchHistory,
// which never touches the cache directly. The cache is still consulted as
// a fallback for anything that failed to persist but made it into the
// process-lifetime session (e.g. a SaveMessage error logged and
// swallowed in handleMessageReceived/SendMessage).
func (b *BusManager) GetMessages(j string, limit int, beforeID string) ([]Message, error) {
	parsed, err := jid.Parse(j)
	if err != nil {
		return nil, err
	}

	stored, err := b.store.GetMessages(j, limit, beforeID)
	if err != nil {
		return nil, err
	}
	out := make([]Message, 0, len(stored))
	seen := make(map[string]bool, len(stored))
	for _, sm := range stored {
		from, err := jid.Parse(sm.From)
		if err != nil {
			continue
		}
		to, _ := jid.Parse(sm.To)
		out = append(out, Message{
			ID: sm.ID, From: from, To: to, Body: sm.Body,
			Type: sm.MessageType, Timestamp: sm.Timestamp, Thread: sm.Thread,
		})
		seen[sm.ID] = true
	}

	if beforeID == "" {
		for _, cm := range b.cache.GetHistory(parsed, 0) {
			if !seen[cm.ID] {
				out = append(out, cm)
			}
		}
		sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
		if limit > 0 && len(out) > limit {
			out = out[len(out)-limit:]
		}
	}
	return out, nil
}
