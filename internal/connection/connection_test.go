package connection

import (
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/waddlechat/waddle/internal/event"
	"github.com/waddlechat/waddle/internal/pipeline"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type recordingPublisher struct{ events []event.Event }

func (r *recordingPublisher) Publish(e event.Event) { r.events = append(r.events, e) }

func TestStateString(t *testing.T) {
	cases := map[State]string{
		StateDisconnected: "disconnected",
		StateConnecting:   "connecting",
		StateConnected:    "connected",
		StateReconnecting: "reconnecting",
	}
	for s, want := range cases {
		if got := s.String(); got != want {
			t.Errorf("State(%d).String() = %q, want %q", s, got, want)
		}
	}
}

func TestConfigSetDefaults(t *testing.T) {
	cfg := Config{}
	cfg.setDefaults()
	if cfg.Port != 5222 {
		t.Errorf("Port = %d, want 5222", cfg.Port)
	}
	if cfg.MaxReconnectAttempts != 10 {
		t.Errorf("MaxReconnectAttempts = %d, want 10", cfg.MaxReconnectAttempts)
	}
	if cfg.BackoffBase != time.Second {
		t.Errorf("BackoffBase = %v, want 1s", cfg.BackoffBase)
	}
	if cfg.BackoffMax != 2*time.Minute {
		t.Errorf("BackoffMax = %v, want 2m", cfg.BackoffMax)
	}
	if cfg.GraceWindow != 5*time.Second {
		t.Errorf("GraceWindow = %v, want 5s", cfg.GraceWindow)
	}
}

func TestConfigSetDefaultsPreservesExplicitValues(t *testing.T) {
	cfg := Config{Port: 5223, MaxReconnectAttempts: 3, BackoffBase: 2 * time.Second, BackoffMax: time.Minute, GraceWindow: time.Second}
	cfg.setDefaults()
	if cfg.Port != 5223 || cfg.MaxReconnectAttempts != 3 || cfg.BackoffBase != 2*time.Second || cfg.BackoffMax != time.Minute || cfg.GraceWindow != time.Second {
		t.Fatalf("setDefaults overwrote explicit config: %#v", cfg)
	}
}

func TestNewRejectsInvalidJID(t *testing.T) {
	_, err := New(Config{JID: "not a jid"}, &recordingPublisher{}, pipeline.New(testLogger()), testLogger())
	if err == nil {
		t.Fatalf("expected error for invalid jid")
	}
}

func TestNewAppliesResource(t *testing.T) {
	m, err := New(Config{JID: "me@example.com", Resource: "waddle"}, &recordingPublisher{}, pipeline.New(testLogger()), testLogger())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if got := m.self.Resourcepart(); got != "waddle" {
		t.Fatalf("Resourcepart() = %q, want waddle", got)
	}
}

func TestBackoffForGrowsExponentiallyAndCaps(t *testing.T) {
	m := &Manager{cfg: Config{BackoffBase: time.Second, BackoffMax: 10 * time.Second}}
	if got := m.backoffFor(1); got != time.Second {
		t.Errorf("backoffFor(1) = %v, want 1s", got)
	}
	if got := m.backoffFor(2); got != 2*time.Second {
		t.Errorf("backoffFor(2) = %v, want 2s", got)
	}
	if got := m.backoffFor(3); got != 4*time.Second {
		t.Errorf("backoffFor(3) = %v, want 4s", got)
	}
	if got := m.backoffFor(10); got != 10*time.Second {
		t.Errorf("backoffFor(10) = %v, want capped at 10s", got)
	}
}

func TestIsAuthFailure(t *testing.T) {
	wrapped := &authFailure{err: errors.New("not-authorized")}
	if !isAuthFailure(wrapped) {
		t.Fatalf("expected authFailure to be recognized")
	}
	if isAuthFailure(errors.New("connection refused")) {
		t.Fatalf("expected plain error to not be an auth failure")
	}
}

func TestIsAuthNegotiationErr(t *testing.T) {
	cases := []struct {
		err  string
		want bool
	}{
		{"SASL authentication failed", true},
		{"stream:error not-authorized", true},
		{"invalid credentials supplied", true},
		{"connection reset by peer", false},
		{"i/o timeout", false},
	}
	for _, c := range cases {
		if got := isAuthNegotiationErr(errors.New(c.err)); got != c.want {
			t.Errorf("isAuthNegotiationErr(%q) = %v, want %v", c.err, got, c.want)
		}
	}
}

func TestManagerStateTransitions(t *testing.T) {
	m := &Manager{}
	if m.State() != StateDisconnected {
		t.Fatalf("expected zero-value state disconnected")
	}
	m.setState(StateConnected)
	if m.State() != StateConnected {
		t.Fatalf("expected state connected after setState")
	}
}
