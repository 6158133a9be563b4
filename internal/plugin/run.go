package plugin

import (
	"context"

	"github.com/waddlechat/waddle/internal/event"
	"github.com/waddlechat/waddle/internal/eventbus"
)

// Run fans every bus event out to subscribed plugins via DispatchEvent,
// and additionally feeds raw stanza traffic to plugin_process_inbound
// (spec §4.10's "stanza_processor" hook). Plugin-domain events are
// skipped to avoid a plugin's own custom events re-triggering itself.
func (h *Host) Run(ctx context.Context) error {
	sub, err := h.bus.Subscribe("**")
	if err != nil {
		return err
	}
	for {
		ev, err := sub.Recv(ctx)
		if err != nil {
			if _, ok := eventbus.AsLagged(err); ok {
				h.log.Warn("plugin host lagged, resuming from queue head")
				continue
			}
			return err
		}
		if ev.Channel.Domain() == event.DomainPlugin {
			continue
		}

		h.DispatchEvent(ctx, ev.Channel.String(), ev.Payload)

		if raw, ok := ev.Payload.(event.RawStanzaReceived); ok {
			h.DispatchStanza(ctx, "plugin_process_inbound", raw.Bytes)
		}
	}
}
