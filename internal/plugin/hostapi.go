package plugin

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/tetratelabs/wazero/api"

	"github.com/waddlechat/waddle/internal/event"
	"github.com/waddlechat/waddle/internal/plugin/runtime"
)

// maxHTTPResponseBody caps the fetched body at 64 KiB (spec §4.10).
const maxHTTPResponseBody = 64 * 1024

const defaultHTTPTimeout = 10 * time.Second

// hostFuncs builds the host-events.* / host-http.* import table for lp
// (spec §4.10 Host API).
func (h *Host) hostFuncs(lp *LoadedPlugin) []runtime.HostFunc {
	i32 := api.ValueTypeI32
	return []runtime.HostFunc{
		{
			Module:  "host-events",
			Name:    "publish-event",
			Params:  []api.ValueType{i32, i32, i32, i32},
			Results: []api.ValueType{i32},
			Func: func(ctx context.Context, mod api.Module, stack []uint64) {
				status := h.hostPublishEvent(lp, mod,
					uint32(stack[0]), uint32(stack[1]), uint32(stack[2]), uint32(stack[3]))
				stack[0] = uint64(uint32(status))
			},
		},
		{
			Module:  "host-events",
			Name:    "subscribe",
			Params:  []api.ValueType{i32, i32},
			Results: []api.ValueType{i32},
			Func: func(ctx context.Context, mod api.Module, stack []uint64) {
				status := h.hostSubscribe(lp, mod, uint32(stack[0]), uint32(stack[1]))
				stack[0] = uint64(uint32(status))
			},
		},
		{
			Module:  "host-http",
			Name:    "fetch",
			Params:  []api.ValueType{i32, i32, i32},
			Results: []api.ValueType{i32},
			Func: func(ctx context.Context, mod api.Module, stack []uint64) {
				status := h.hostHTTPFetch(ctx, lp, mod, uint32(stack[0]), uint32(stack[1]), uint32(stack[2]))
				stack[0] = uint64(uint32(status))
			},
		},
		{
			Module:  "host-http",
			Name:    "response_ptr",
			Results: []api.ValueType{i32},
			Func: func(ctx context.Context, mod api.Module, stack []uint64) {
				ptr, _ := h.hostHTTPResponsePtr(ctx, lp, mod)
				stack[0] = uint64(ptr)
			},
		},
		{
			Module:  "host-http",
			Name:    "response_len",
			Results: []api.ValueType{i32},
			Func: func(ctx context.Context, mod api.Module, stack []uint64) {
				lp.mu.Lock()
				n := len(lp.lastHTTPBody)
				lp.mu.Unlock()
				stack[0] = uint64(uint32(n))
			},
		},
	}
}

// hostPublishEvent enforces the plugin.<normalized_id>. namespace before
// wrapping the guest's payload in PluginCustomEvent (spec §4.10).
func (h *Host) hostPublishEvent(lp *LoadedPlugin, mod api.Module, chPtr, chLen, payloadPtr, payloadLen uint32) int32 {
	chBytes, ok := mod.Memory().Read(chPtr, chLen)
	if !ok {
		return -1
	}
	channel := string(chBytes)
	prefix := event.ChPluginPrefix + lp.Manifest.normalizedID() + "."
	if !strings.HasPrefix(channel, prefix) {
		return -1
	}

	payloadBytes, ok := mod.Memory().Read(payloadPtr, payloadLen)
	if !ok {
		return -1
	}
	data := append(json.RawMessage(nil), payloadBytes...)
	if !json.Valid(data) {
		return -1
	}

	ch, err := event.NewChannel(channel)
	if err != nil {
		return -1
	}
	h.bus.Publish(event.New(ch, h.now(), event.PluginSource(lp.Manifest.ID), event.PluginCustomEvent{
		PluginID:  lp.Manifest.ID,
		EventType: strings.TrimPrefix(channel, prefix),
		Data:      data,
	}))
	return 0
}

// hostSubscribe records pattern on lp's subscription list, gated by the
// manifest's declared event_subscriptions (spec §4.10).
func (h *Host) hostSubscribe(lp *LoadedPlugin, mod api.Module, patPtr, patLen uint32) int32 {
	patBytes, ok := mod.Memory().Read(patPtr, patLen)
	if !ok {
		return -1
	}
	pattern := string(patBytes)
	if !lp.Manifest.AllowsSubscription(pattern) {
		return -1
	}
	lp.mu.Lock()
	lp.subscriptions = append(lp.subscriptions, pattern)
	lp.mu.Unlock()
	return 0
}

// hostHTTPFetch performs a bounded GET, gated by the manifest's
// http_hosts allowlist, caching the (size-capped) body for a later
// response_ptr/response_len pair (spec §4.10).
func (h *Host) hostHTTPFetch(ctx context.Context, lp *LoadedPlugin, mod api.Module, urlPtr, urlLen, timeoutMS uint32) int32 {
	urlBytes, ok := mod.Memory().Read(urlPtr, urlLen)
	if !ok {
		return -1
	}
	rawURL := string(urlBytes)

	parsed, err := url.Parse(rawURL)
	if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") {
		return -1
	}
	if !lp.Manifest.AllowsHost(parsed.Hostname()) {
		return -1
	}

	timeout := defaultHTTPTimeout
	if timeoutMS > 0 {
		timeout = time.Duration(timeoutMS) * time.Millisecond
	}
	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, rawURL, nil)
	if err != nil {
		return -1
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return -1
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxHTTPResponseBody))
	if err != nil {
		return -1
	}

	lp.mu.Lock()
	lp.lastHTTPBody = body
	lp.mu.Unlock()
	return int32(resp.StatusCode)
}

// hostHTTPResponsePtr allocates guest memory for the cached response body
// and copies it in, returning the pointer (spec §4.10 data marshaling).
func (h *Host) hostHTTPResponsePtr(ctx context.Context, lp *LoadedPlugin, mod api.Module) (uint32, error) {
	lp.mu.Lock()
	body := append([]byte(nil), lp.lastHTTPBody...)
	lp.mu.Unlock()

	alloc := mod.ExportedFunction("guest_alloc")
	if alloc == nil {
		return 0, ErrInvocationFailed
	}
	results, err := alloc.Call(ctx, uint64(len(body)))
	if err != nil || len(results) == 0 {
		return 0, ErrInvocationFailed
	}
	ptr := uint32(results[0])
	if len(body) > 0 && !mod.Memory().Write(ptr, body) {
		return 0, ErrMemoryLimitExceeded
	}
	return ptr, nil
}
