package plugin

import (
	"errors"
	"testing"
)

func TestParseManifestValid(t *testing.T) {
	data := []byte(`
id = "Echo Bot!"
name = "Echo Bot"
version = "1.0.0"
event_subscriptions = ["message.received"]
http_hosts = ["api.example.com"]

[quotas]
fuel_per_invocation = 1000000
`)
	m, err := ParseManifest(data)
	if err != nil {
		t.Fatalf("ParseManifest: %v", err)
	}
	if m.ID != "Echo Bot!" || m.Name != "Echo Bot" || m.Version != "1.0.0" {
		t.Fatalf("unexpected manifest fields: %#v", m)
	}
	if m.Quotas.FuelPerInvocation != 1000000 {
		t.Fatalf("expected quota override preserved, got %#v", m.Quotas)
	}
}

func TestParseManifestRejectsMissingID(t *testing.T) {
	_, err := ParseManifest([]byte(`version = "1.0.0"`))
	if !errors.Is(err, ErrInvalidManifest) {
		t.Fatalf("expected ErrInvalidManifest, got %v", err)
	}
}

func TestParseManifestRejectsMissingVersion(t *testing.T) {
	_, err := ParseManifest([]byte(`id = "echo"`))
	if !errors.Is(err, ErrInvalidManifest) {
		t.Fatalf("expected ErrInvalidManifest, got %v", err)
	}
}

func TestParseManifestRejectsEmptyHTTPHost(t *testing.T) {
	data := []byte(`
id = "echo"
version = "1.0.0"
http_hosts = ["api.example.com", ""]
`)
	_, err := ParseManifest(data)
	if !errors.Is(err, ErrInvalidManifest) {
		t.Fatalf("expected ErrInvalidManifest, got %v", err)
	}
}

func TestParseManifestRejectsMalformedTOML(t *testing.T) {
	_, err := ParseManifest([]byte(`id = `))
	if !errors.Is(err, ErrInvalidManifest) {
		t.Fatalf("expected ErrInvalidManifest, got %v", err)
	}
}

func TestNormalizedID(t *testing.T) {
	cases := []struct{ id, want string }{
		{"Echo Bot!", "echo.bot"},
		{"echo-bot_v2", "echo.bot.v2"},
		{"  leading-and-trailing  ", "leading.and.trailing"},
		{"already.normal", "already.normal"},
		{"UPPER123", "upper123"},
	}
	for _, c := range cases {
		m := &Manifest{ID: c.id}
		if got := m.normalizedID(); got != c.want {
			t.Errorf("normalizedID(%q) = %q, want %q", c.id, got, c.want)
		}
	}
}

func TestAllowsSubscription(t *testing.T) {
	m := &Manifest{EventSubscriptions: []string{"message.received", "muc.*.occupant.changed"}}
	if !m.AllowsSubscription("message.received") {
		t.Fatalf("expected exact pattern allowed")
	}
	if m.AllowsSubscription("message.sent") {
		t.Fatalf("expected undeclared pattern rejected")
	}
}

func TestAllowsHost(t *testing.T) {
	m := &Manifest{HTTPHosts: []string{"api.example.com"}}
	if !m.AllowsHost("api.example.com") {
		t.Fatalf("expected declared host allowed")
	}
	if m.AllowsHost("evil.example.com") {
		t.Fatalf("expected undeclared host rejected")
	}
}
