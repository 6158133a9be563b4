package presence

import (
	"context"
	"log/slog"
	"time"

	"mellium.im/xmpp/jid"

	"github.com/waddlechat/waddle/internal/event"
	"github.com/waddlechat/waddle/internal/eventbus"
)

// BusManager wires the in-memory presence cache (Manager) to the bus,
// implementing the per-resource priority resolution and own-presence
// lifecycle described in spec §4.5.
type BusManager struct {
	cache *Manager
	bus   *eventbus.Bus
	self  jid.JID
	log   *slog.Logger
	now   func() time.Time

	sawRosterSinceConnect bool
}

func NewBusManager(bus *eventbus.Bus, self jid.JID, log *slog.Logger) *BusManager {
	return &BusManager{cache: NewManager(), bus: bus, self: self, log: log, now: time.Now}
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
				b.log.Warn("presence manager lagged, resuming from queue head")
				continue
			}
			return err
		}
		switch p := ev.Payload.(type) {
		case event.ConnectionEstablished:
			b.handleConnected()
		case event.ConnectionLost:
			b.handleDisconnected()
		case event.RosterReceived:
			b.handleRosterReceived()
		case event.PresenceChanged:
			b.handlePresenceChanged(p)
		}
	}
}

// handleConnected resets own presence to Unavailable (spec §4.5: "on
// ConnectionEstablished the own show is set to Unavailable").
func (b *BusManager) handleConnected() {
	b.sawRosterSinceConnect = false
	b.cache.SetOwn(Status{JID: b.self, Show: ShowUnavailable})
}

// handleDisconnected clears every presence entry to Unavailable (spec
// §4.5: "On ConnectionLost all presence entries are cleared to
// Unavailable").
func (b *BusManager) handleDisconnected() {
	b.cache.Clear()
	b.cache.SetOwn(Status{JID: b.self, Show: ShowUnavailable})
}

// handleRosterReceived sends the initial presence once per connection
// (spec §4.5: "on RosterReceived the manager sends the initial
// PresenceSetRequested{Available}").
func (b *BusManager) handleRosterReceived() {
	if b.sawRosterSinceConnect {
		return
	}
	b.sawRosterSinceConnect = true

	ch, err := event.NewChannel(event.ChUIPresenceSet)
	if err != nil {
		b.log.Error("invalid channel", "err", err)
		return
	}
	b.bus.Publish(event.New(ch, b.now(), event.XMPPSource(), event.PresenceSetRequested{Available: true}))

	own, err := event.NewChannel(event.ChXMPPPresenceOwnChanged)
	if err != nil {
		return
	}
	b.bus.Publish(event.New(own, b.now(), event.XMPPSource(), event.OwnPresenceChanged{Show: string(ShowOnline)}))
}

func (b *BusManager) handlePresenceChanged(p event.PresenceChanged) {
	j, err := jid.Parse(p.JID)
	if err != nil {
		b.log.Warn("presence change with invalid jid", "jid", p.JID, "err", err)
		return
	}
	if p.Resource != "" {
		var rerr error
		j, rerr = j.WithResource(p.Resource)
		if rerr != nil {
			b.log.Warn("presence change with invalid resource", "resource", p.Resource, "err", rerr)
			return
		}
	}

	if p.Unavailable {
		b.cache.Remove(j)
		return
	}
	b.cache.Set(Status{JID: j, Show: StringToShow(p.Show), Status: p.Status, Priority: p.Priority})
}

// Get returns the effective (highest-priority) presence for a bare JID.
func (b *BusManager) Get(j jid.JID) *Status {
	return b.cache.Get(j)
}
