package plugin

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/waddlechat/waddle/internal/event"
	"github.com/waddlechat/waddle/internal/eventbus"
	"github.com/waddlechat/waddle/internal/plugin/runtime"
)

// guestWorkers is the weight of the semaphore callGuest acquires around
// every guest call, so at most this many guest calls run at once; each
// call runs on the goroutine that made it (spec §4.10 /
// §5 "Concurrency": "default 2 workers").
const guestWorkers = 2

// autoDisableWindow and autoDisableThreshold implement spec §4.10's
// sliding-window auto-disable: "per-plugin sliding window of 60s. When
// the window contains >= 5 errors, the plugin is removed."
const (
	autoDisableWindow    = 60 * time.Second
	autoDisableThreshold = 5
)

// LoadedPlugin is a compiled, running guest plus its manifest-derived
// state (subscriptions, http allowlist, error window). Mirrors the
// teacher's pkg/plugin.LoadedPlugin shape, minus the subprocess client.
type LoadedPlugin struct {
	Manifest *Manifest
	module   *runtime.Module
	quotas   runtime.Quotas

	mu            sync.Mutex
	subscriptions []string
	lastHTTPBody  []byte
}

// Host owns every loaded plugin (spec §4.10 lifecycle), guarded by a
// single mutex — matching the teacher's pkg/plugin.Host pattern, with the
// gRPC subprocess transport replaced by in-process wazero modules.
type Host struct {
	mu       sync.RWMutex
	plugins  map[string]*LoadedPlugin
	disabled map[string]bool

	// errorTimes tracks each plugin's sliding error window by manifest id,
	// independent of whether it currently has a live LoadedPlugin entry in
	// plugins. This is what lets repeated Load failures (plugin_init
	// trapping on every attempt, so no LoadedPlugin is ever registered)
	// still accumulate toward auto-disable (spec §4.10, §8 scenario 4),
	// rather than resetting every attempt like a per-instance field would.
	errorTimes map[string][]time.Time

	bus *eventbus.Bus
	log *slog.Logger
	now func() time.Time

	guestPool *semaphore.Weighted
}

func NewHost(bus *eventbus.Bus, log *slog.Logger) *Host {
	return &Host{
		plugins:    make(map[string]*LoadedPlugin),
		disabled:   make(map[string]bool),
		errorTimes: make(map[string][]time.Time),
		bus:        bus,
		log:        log,
		now:        time.Now,
		guestPool:  semaphore.NewWeighted(guestWorkers),
	}
}

// callGuest runs fn once a slot of the guest pool is free.
func (h *Host) callGuest(ctx context.Context, fn func() ([]uint64, error)) ([]uint64, error) {
	if err := h.guestPool.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	defer h.guestPool.Release(1)
	return fn()
}

// Load validates the manifest, compiles wasmBytes, and invokes
// plugin_init (spec §4.10). On success the plugin is registered in the
// host and PluginLoaded is published; the host keeps no per-plugin status
// field.
func (h *Host) Load(ctx context.Context, manifestBytes, wasmBytes []byte) error {
	m, err := ParseManifest(manifestBytes)
	if err != nil {
		return err
	}

	h.mu.Lock()
	if h.disabled[m.ID] {
		h.mu.Unlock()
		return ErrAutoDisabled
	}
	if _, ok := h.plugins[m.ID]; ok {
		h.mu.Unlock()
		return ErrAlreadyLoaded
	}
	h.mu.Unlock()

	quotas := runtime.DefaultQuotas()
	if m.Quotas.FuelPerInvocation > 0 && m.Quotas.FuelPerInvocation < quotas.FuelPerInvocation {
		quotas.FuelPerInvocation = m.Quotas.FuelPerInvocation
	}
	if m.Quotas.FuelPerRender > 0 && m.Quotas.FuelPerRender < quotas.FuelPerRender {
		quotas.FuelPerRender = m.Quotas.FuelPerRender
	}
	if d := time.Duration(m.Quotas.EpochDeadlineMS) * time.Millisecond; d > 0 && d < quotas.EpochDeadline {
		quotas.EpochDeadline = d
	}
	if m.Quotas.MemoryLimitPages > 0 && m.Quotas.MemoryLimitPages < quotas.MemoryLimitPages {
		quotas.MemoryLimitPages = m.Quotas.MemoryLimitPages
	}

	lp := &LoadedPlugin{Manifest: m, quotas: quotas}

	mod, err := runtime.Compile(ctx, wasmBytes, quotas, h.hostFuncs(lp))
	if err != nil {
		return err
	}
	lp.module = mod

	if _, err := h.callGuest(ctx, func() ([]uint64, error) {
		return mod.Call(ctx, "plugin_init", quotas.FuelPerInvocation)
	}); err != nil {
		mod.Close(ctx)
		if h.recordError(m.ID, m.normalizedID(), err.Error()) {
			return ErrAutoDisabled
		}
		return fmt.Errorf("%w: %v", ErrInvocationFailed, err)
	}

	h.mu.Lock()
	h.plugins[m.ID] = lp
	h.mu.Unlock()

	h.publish(m.normalizedID(), "loaded", event.PluginLoaded{ID: m.ID})
	return nil
}

// Unload invokes plugin_shutdown and tears the module's store down.
func (h *Host) Unload(ctx context.Context, id string) error {
	h.mu.Lock()
	lp, ok := h.plugins[id]
	if ok {
		delete(h.plugins, id)
	}
	h.mu.Unlock()
	if !ok {
		return ErrNotFound
	}

	_, callErr := h.callGuest(ctx, func() ([]uint64, error) {
		return lp.module.Call(ctx, "plugin_shutdown", lp.quotas.FuelPerInvocation)
	})
	closeErr := lp.module.Close(ctx)
	h.publish(lp.Manifest.normalizedID(), "unloaded", event.PluginUnloaded{ID: id})

	if callErr != nil {
		return fmt.Errorf("%w: %v", ErrShutdownFailed, callErr)
	}
	if closeErr != nil {
		return fmt.Errorf("%w: %v", ErrShutdownFailed, closeErr)
	}
	return nil
}

// List returns every loaded plugin in a stable order (sorted by id),
// matching spec §4.10's "enumerates loaded plugins in stable order".
func (h *Host) List() []*LoadedPlugin {
	h.mu.RLock()
	defer h.mu.RUnlock()
	ids := make([]string, 0, len(h.plugins))
	for id := range h.plugins {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	out := make([]*LoadedPlugin, 0, len(ids))
	for _, id := range ids {
		out = append(out, h.plugins[id])
	}
	return out
}

// Get returns a specific loaded plugin.
func (h *Host) Get(id string) *LoadedPlugin {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.plugins[id]
}

// recordError appends to id's sliding error window — tracked on Host by
// manifest id rather than on a per-instance LoadedPlugin, so that errors
// accumulate across separate failed Load attempts as well as across hook
// invocations on a plugin that did load (spec §4.10, §8 scenario 4:
// "attempts 1-4 return InvocationFailed; attempt 5 returns AutoDisabled").
// Once the window holds >= autoDisableThreshold entries within
// autoDisableWindow, any live plugin entry is torn down and id is marked
// disabled. Reports whether this call tripped auto-disable.
func (h *Host) recordError(id, normalizedID, reason string) bool {
	now := h.now()

	h.mu.Lock()
	cutoff := now.Add(-autoDisableWindow)
	kept := h.errorTimes[id][:0]
	for _, t := range h.errorTimes[id] {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	kept = append(kept, now)
	h.errorTimes[id] = kept
	tripped := len(kept) >= autoDisableThreshold

	var lp *LoadedPlugin
	if tripped {
		lp = h.plugins[id]
		delete(h.plugins, id)
		h.disabled[id] = true
		delete(h.errorTimes, id)
	}
	h.mu.Unlock()

	h.publish(normalizedID, "error", event.PluginErrorEvent{ID: id, Reason: reason})

	if !tripped {
		return false
	}

	h.log.Warn("plugin auto-disabled", "id", id)
	if lp != nil {
		lp.module.Close(context.Background())
	}
	h.publish(normalizedID, "unloaded", event.PluginUnloaded{ID: id})
	return true
}

// publish emits a plugin lifecycle event on plugin.<id>.<event> (spec §6
// channel taxonomy: "plugin.<id>.<event> emit PluginLoaded|Unloaded|
// Error|CustomEvent").
func (h *Host) publish(id string, event_ string, p event.Payload) {
	ch, err := event.NewChannel(event.ChPluginPrefix + id + "." + event_)
	if err != nil {
		h.log.Error("invalid plugin lifecycle channel", "id", id, "event", event_, "err", err)
		return
	}
	h.bus.Publish(event.New(ch, h.now(), event.SystemSource("plugin"), p))
}
