package plugin

import (
	"context"
	"encoding/json"

	"github.com/waddlechat/waddle/internal/event"
)

// DispatchEvent fire-and-forgets a bus event to every loaded plugin whose
// subscriptions match ev's channel (spec §4.10: "each matching plugin is
// called; errors are collected but do not abort the loop").
func (h *Host) DispatchEvent(ctx context.Context, channel string, payload any) []error {
	data, err := json.Marshal(payload)
	if err != nil {
		return []error{err}
	}

	var errs []error
	for _, lp := range h.List() {
		if !lp.subscribedTo(channel) {
			continue
		}
		if _, err := h.callWithData(ctx, lp, "plugin_handle_event", lp.quotas.FuelPerInvocation, data); err != nil {
			errs = append(errs, err)
			h.recordError(lp.Manifest.ID, lp.Manifest.normalizedID(), err.Error())
		}
	}
	return errs
}

// DispatchStanza fire-and-forgets a raw inbound/outbound stanza to every
// loaded plugin (spec §4.10: stanza hooks are fire-and-forget like event
// hooks). Manifests carry no stanza-access permission, so no loaded plugin
// is skipped.
func (h *Host) DispatchStanza(ctx context.Context, export string, raw []byte) []error {
	var errs []error
	for _, lp := range h.List() {
		if _, err := h.callWithData(ctx, lp, export, lp.quotas.FuelPerInvocation, raw); err != nil {
			errs = append(errs, err)
			h.recordError(lp.Manifest.ID, lp.Manifest.normalizedID(), err.Error())
		}
	}
	return errs
}

// DispatchTransform runs a bidirectional hook across loaded plugins in
// stable order; the first plugin to produce a non-empty result wins and
// the rest are skipped (spec §4.10: "message-transform, render-tui,
// render-gui ... the first plugin that produces a non-empty result
// wins").
func (h *Host) DispatchTransform(ctx context.Context, export string, input []byte) ([]byte, error) {
	for _, lp := range h.List() {
		result, err := h.callWithData(ctx, lp, export, lp.quotas.FuelPerRender, input)
		if err != nil {
			h.recordError(lp.Manifest.ID, lp.Manifest.normalizedID(), err.Error())
			continue
		}
		if len(result) > 0 {
			return result, nil
		}
	}
	return nil, nil
}

// callWithData writes data into the guest via guest_alloc, invokes
// export(ptr, len), and reads back get_result_ptr/get_result_len (spec
// §4.10 data marshaling).
func (h *Host) callWithData(ctx context.Context, lp *LoadedPlugin, export string, fuel uint64, data []byte) ([]byte, error) {
	ptr, err := lp.module.WriteGuest(ctx, data)
	if err != nil {
		return nil, err
	}
	if _, err := h.callGuest(ctx, func() ([]uint64, error) {
		return lp.module.Call(ctx, export, fuel, uint64(ptr), uint64(len(data)))
	}); err != nil {
		return nil, err
	}
	return lp.module.ReadResult(ctx)
}

func (lp *LoadedPlugin) subscribedTo(channel string) bool {
	lp.mu.Lock()
	defer lp.mu.Unlock()
	for _, raw := range lp.subscriptions {
		pattern, err := event.NewPattern(raw)
		if err != nil {
			continue
		}
		if pattern.Match(channel) {
			return true
		}
	}
	return false
}
