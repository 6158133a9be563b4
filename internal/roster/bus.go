package roster

import (
	"context"
	"log/slog"
	"time"

	"mellium.im/xmpp/jid"

	"github.com/waddlechat/waddle/internal/event"
	"github.com/waddlechat/waddle/internal/eventbus"
	"github.com/waddlechat/waddle/internal/storage"
)

// BusManager wires the in-memory roster cache (Manager) to the event bus
// and storage facade, implementing spec §4.4. It owns the roster's slice of
// storage and is the single writer to the roster table.
type BusManager struct {
	cache *Manager
	store storage.Store
	bus   *eventbus.Bus
	self  jid.JID
	log   *slog.Logger
	now   func() time.Time
}

func NewBusManager(store storage.Store, bus *eventbus.Bus, self jid.JID, log *slog.Logger) *BusManager {
	return &BusManager{cache: NewManager(), store: store, bus: bus, self: self, log: log, now: time.Now}
}

// Run subscribes to the roster's slice of the bus and processes events
// until ctx is canceled or the bus closes.
func (b *BusManager) Run(ctx context.Context) error {
	sub, err := b.bus.Subscribe("xmpp.roster.**")
	if err != nil {
		return err
	}
	for {
		ev, err := sub.Recv(ctx)
		if err != nil {
			if _, ok := eventbus.AsLagged(err); ok {
				b.log.Warn("roster manager lagged, resuming from queue head")
				continue
			}
			return err
		}
		switch p := ev.Payload.(type) {
		case event.RosterReceived:
			b.handleReceived(p)
		case event.RosterUpdated:
			b.handleUpdated(p)
		case event.RosterRemoved:
			b.handleRemoved(p)
		case event.SubscriptionRequest:
			// Observational: surfaced to UI by the pipeline already; nothing
			// further for the manager to do until the user responds.
		}
	}
}

func (b *BusManager) handleReceived(p event.RosterReceived) {
	items := p.Items
	if !hasSelf(items, b.self) {
		items = append(items, event.RosterItem{JID: b.self.Bare().String(), Subscription: "both"})
	}

	b.cache.Clear()
	stored := make([]storage.RosterItem, 0, len(items))
	for _, it := range items {
		j, err := jid.Parse(it.JID)
		if err != nil {
			b.log.Warn("skipping roster item with invalid jid", "jid", it.JID, "err", err)
			continue
		}
		b.cache.Set(Item{JID: j, Name: it.Name, Subscription: Subscription(it.Subscription), Groups: it.Groups})
		stored = append(stored, storage.RosterItem{JID: it.JID, Name: it.Name, Subscription: it.Subscription, Groups: it.Groups})
	}
	if err := b.store.ReplaceRoster(stored); err != nil {
		b.log.Error("persisting roster", "err", err)
	}
}

func hasSelf(items []event.RosterItem, self jid.JID) bool {
	bare := self.Bare().String()
	for _, it := range items {
		if it.JID == bare {
			return true
		}
	}
	return false
}

func (b *BusManager) handleUpdated(p event.RosterUpdated) {
	j, err := jid.Parse(p.Item.JID)
	if err != nil {
		b.log.Warn("roster update with invalid jid", "jid", p.Item.JID, "err", err)
		return
	}
	if err := validateGroups(p.Item.Groups); err != nil {
		b.log.Warn("roster update rejected", "jid", p.Item.JID, "err", err)
		return
	}
	b.cache.Set(Item{JID: j, Name: p.Item.Name, Subscription: Subscription(p.Item.Subscription), Groups: p.Item.Groups})
	if err := b.store.UpsertRosterItem(storage.RosterItem{
		JID: p.Item.JID, Name: p.Item.Name, Subscription: p.Item.Subscription, Groups: p.Item.Groups,
	}); err != nil {
		b.log.Error("persisting roster item", "err", err)
	}
}

func (b *BusManager) handleRemoved(p event.RosterRemoved) {
	j, err := jid.Parse(p.JID)
	if err != nil {
		b.log.Warn("roster removal with invalid jid", "jid", p.JID, "err", err)
		return
	}
	b.cache.Remove(j)
	if err := b.store.RemoveRosterItem(p.JID); err != nil {
		b.log.Error("removing roster item", "err", err)
	}
}

// validateGroups enforces spec §4.4: group names must be non-empty and
// unique within an item.
func validateGroups(groups []string) error {
	seen := make(map[string]bool, len(groups))
	for _, g := range groups {
		if g == "" {
			return errEmptyGroup
		}
		if seen[g] {
			return errDuplicateGroup
		}
		seen[g] = true
	}
	return nil
}
