package pipeline

import (
	"context"
	"log/slog"

	"github.com/waddlechat/waddle/internal/event"
)

// Publisher is the subset of eventbus.Bus a processor needs. Kept as an
// interface so processors are testable without a live bus.
type Publisher interface {
	Publish(e event.Event)
}

// Processor inspects a parsed stanza and, if it recognizes it, publishes
// one or more typed events and returns handled=true. Processors MUST NOT
// block on the bus or retain stanza state between calls (spec §4.2).
type Processor interface {
	Name() string
	ProcessInbound(ctx context.Context, pub Publisher, s *Stanza) (handled bool, err error)
}

// Pipeline is the ordered processor registry. All processors see every
// stanza; handling is non-exclusive.
type Pipeline struct {
	processors []Processor
	log        *slog.Logger
}

// New builds a pipeline that runs processors in the order they are given;
// it does not reorder them.
func New(log *slog.Logger, processors ...Processor) *Pipeline {
	return &Pipeline{processors: processors, log: log}
}

// Dispatch runs every processor against s in registration order. Errors are
// logged and do not abort the chain (spec §4.2).
func (p *Pipeline) Dispatch(ctx context.Context, pub Publisher, s *Stanza) (anyHandled bool) {
	for _, proc := range p.processors {
		handled, err := proc.ProcessInbound(ctx, pub, s)
		if err != nil {
			p.log.Error("stanza processor failed", "processor", proc.Name(), "kind", s.Kind, "err", err)
			continue
		}
		if handled {
			anyHandled = true
		}
	}
	return anyHandled
}

// DebugProcessor logs every stanza at debug level and never reports it
// handled. The module has no separate dev and release builds: cmd/rosterd
// always registers it.
type DebugProcessor struct {
	log *slog.Logger
}

func NewDebugProcessor(log *slog.Logger) *DebugProcessor {
	return &DebugProcessor{log: log}
}

func (d *DebugProcessor) Name() string { return "debug" }

func (d *DebugProcessor) ProcessInbound(_ context.Context, _ Publisher, s *Stanza) (bool, error) {
	d.log.Debug("inbound stanza", "kind", s.Kind, "from", s.From, "to", s.To, "id", s.ID, "type", s.Type)
	return false, nil
}
