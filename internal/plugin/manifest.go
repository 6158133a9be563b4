package plugin

import (
	"fmt"
	"strings"

	"github.com/BurntSushi/toml"
)

// Manifest describes a plugin's identity and declared capabilities,
// loaded from a TOML file shipped alongside the compiled wasm module
// (spec §4.10: "load_plugin(manifest, wasm_bytes) validates the
// manifest").
type Manifest struct {
	ID      string `toml:"id"`
	Name    string `toml:"name"`
	Version string `toml:"version"`

	EventSubscriptions []string `toml:"event_subscriptions"`
	HTTPHosts          []string `toml:"http_hosts"`

	Quotas QuotaOverrides `toml:"quotas"`
}

// QuotaOverrides lets a manifest tighten (never loosen) the default
// resource quotas. Zero values mean "use the runtime default".
type QuotaOverrides struct {
	FuelPerInvocation uint64 `toml:"fuel_per_invocation"`
	FuelPerRender     uint64 `toml:"fuel_per_render"`
	EpochDeadlineMS   int64  `toml:"epoch_deadline_ms"`
	MemoryLimitPages  uint32 `toml:"memory_limit_pages"`
}

// ParseManifest decodes and validates a manifest from TOML bytes.
func ParseManifest(data []byte) (*Manifest, error) {
	var m Manifest
	if _, err := toml.Decode(string(data), &m); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidManifest, err)
	}
	if err := m.validate(); err != nil {
		return nil, err
	}
	return &m, nil
}

func (m *Manifest) validate() error {
	if m.ID == "" {
		return fmt.Errorf("%w: id is required", ErrInvalidManifest)
	}
	if m.Version == "" {
		return fmt.Errorf("%w: version is required", ErrInvalidManifest)
	}
	for _, h := range m.HTTPHosts {
		if h == "" {
			return fmt.Errorf("%w: empty http_hosts entry", ErrInvalidManifest)
		}
	}
	return nil
}

// normalizedID is the id used to prefix the plugin's event channels
// (spec §4.10: "channel MUST begin with plugin.<normalized_id>."). Every
// channel segment must match the bus grammar's [a-z0-9]+, so anything
// else collapses to a single separating dot.
func (m *Manifest) normalizedID() string {
	id := strings.ToLower(m.ID)
	var b strings.Builder
	prevDot := true // suppress a leading dot
	for _, r := range id {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
			prevDot = false
			continue
		}
		if !prevDot {
			b.WriteByte('.')
			prevDot = true
		}
	}
	return strings.Trim(b.String(), ".")
}

// AllowsSubscription reports whether pattern is declared in the
// manifest's event_subscriptions (spec §4.10: host-events.subscribe
// "must match a pattern in the manifest's declared subscriptions").
func (m *Manifest) AllowsSubscription(pattern string) bool {
	for _, p := range m.EventSubscriptions {
		if p == pattern {
			return true
		}
	}
	return false
}

// AllowsHost reports whether host is listed in http_hosts.
func (m *Manifest) AllowsHost(host string) bool {
	for _, h := range m.HTTPHosts {
		if h == host {
			return true
		}
	}
	return false
}
