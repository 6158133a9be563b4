package pipeline

import (
	"context"
	"log/slog"

	"github.com/waddlechat/waddle/internal/eventbus"
)

// Router is the outbound half of the stanza pipeline (spec §2 data flow:
// "UI/managers publish command events → Outbound Router subscribes,
// serializes, hands to Connection Manager → wire"). It draws every command
// event off the bus, serializes it with Serialize, and forwards the bytes
// to a Writer (the Connection Manager).
type Router struct {
	bus *eventbus.Bus
	w   Writer
	log *slog.Logger
}

func NewRouter(bus *eventbus.Bus, w Writer, log *slog.Logger) *Router {
	return &Router{bus: bus, w: w, log: log}
}

// Run subscribes to every channel ("**") and writes out each event whose
// payload Serialize recognizes, until ctx is canceled or the bus closes.
// Commands travel on ui.* channels whether the UI or a manager publishes
// them (e.g. MAM queries on ui.mam.query).
func (r *Router) Run(ctx context.Context) error {
	sub, err := r.bus.Subscribe("**")
	if err != nil {
		return err
	}
	for {
		ev, err := sub.Recv(ctx)
		if err != nil {
			if _, ok := eventbus.AsLagged(err); ok {
				continue
			}
			return err
		}

		b, ok, err := Serialize(ev)
		if err != nil {
			r.log.Error("serializing outbound command", "channel", ev.Channel.String(), "err", err)
			continue
		}
		if !ok {
			continue
		}
		if err := r.w.WriteStanza(b); err != nil {
			r.log.Error("writing outbound stanza", "channel", ev.Channel.String(), "err", err)
		}
	}
}
