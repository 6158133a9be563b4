package roster

import (
	"github.com/waddlechat/waddle/internal/event"
	"github.com/waddlechat/waddle/internal/storage"
)

// AddContact persists a new contact locally and requests the server-side
// roster set, optionally sending a subscription request (spec §4.4).
func (b *BusManager) AddContact(jid, name string, groups []string, sendSubscribe bool) error {
	if err := validateGroups(groups); err != nil {
		return err
	}
	if err := b.store.UpsertRosterItem(storage.RosterItem{JID: jid, Name: name, Subscription: "none", Groups: groups}); err != nil {
		return err
	}
	ch, err := event.NewChannel(event.ChUIRosterAdd)
	if err != nil {
		return err
	}
	b.bus.Publish(event.New(ch, b.now(), event.UISource(event.UITui), event.RosterUpdateRequested{
		Item: event.RosterItem{JID: jid, Name: name, Subscription: "none", Groups: groups},
	}))

	if sendSubscribe {
		subCh, err := event.NewChannel(event.ChUISubscriptionSend)
		if err != nil {
			return err
		}
		b.bus.Publish(event.New(subCh, b.now(), event.UISource(event.UITui), event.SubscriptionSendRequested{To: jid, Subscribe: true}))
	}
	return nil
}

// ApproveSubscription responds to an inbound subscription request.
func (b *BusManager) ApproveSubscription(jid string, accept bool) error {
	ch, err := event.NewChannel(event.ChUISubscriptionRespond)
	if err != nil {
		return err
	}
	b.bus.Publish(event.New(ch, b.now(), event.UISource(event.UITui), event.SubscriptionRespondRequested{To: jid, Accept: accept}))
	return nil
}

// Items returns a snapshot of the in-memory roster cache.
func (b *BusManager) Items() []*Item {
	return b.cache.All()
}

// Groups returns every group name present across the roster, for a
// group-by-group UI listing.
func (b *BusManager) Groups() []string {
	return b.cache.Groups()
}

// ItemsByGroup returns the roster items belonging to group.
func (b *BusManager) ItemsByGroup(group string) []*Item {
	return b.cache.ByGroup(group)
}

// UngroupedItems returns roster items that belong to no group, the
// counterpart a "Groups" UI view needs for contacts not filed under any of
// them.
func (b *BusManager) UngroupedItems() []*Item {
	return b.cache.Ungrouped()
}

// Count returns the number of contacts currently in the roster.
func (b *BusManager) Count() int {
	return b.cache.Count()
}
