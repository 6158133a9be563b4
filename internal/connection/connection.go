// Package connection implements the C2S connection manager (spec §4.3): the
// transport state machine that owns the single underlying XMPP stream,
// authenticates, reconnects with backoff, and feeds every inbound stanza to
// the stanza pipeline. Grounded on the Mellium-based client this module
// replaces (mellium.im/xmpp + mellium.im/sasl), generalized from direct
// method calls to bus-driven command dispatch.
package connection

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"mellium.im/sasl"
	"mellium.im/xmpp"
	"mellium.im/xmpp/carbons"
	"mellium.im/xmpp/jid"
	"mellium.im/xmpp/stanza"

	"github.com/waddlechat/waddle/internal/event"
	"github.com/waddlechat/waddle/internal/pipeline"
)

// pingNS is XEP-0199's ping element namespace. Server-initiated pings
// arrive as a <iq type="get"><ping xmlns="urn:xmpp:ping"/></iq> and must be
// answered with an empty result before the stream idle-times out (spec
// §4.3).
const pingNS = "urn:xmpp:ping"

// State is a Connection Manager lifecycle state (spec §4.3).
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateReconnecting
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	default:
		return "disconnected"
	}
}

// Publisher is the subset of eventbus.Bus the manager needs.
type Publisher interface {
	Publish(e event.Event)
}

// Config configures a Manager.
type Config struct {
	JID      string
	Password string
	Server   string
	Port     int
	Resource string
	Priority int

	MaxReconnectAttempts int
	BackoffBase          time.Duration
	BackoffMax           time.Duration
	GraceWindow          time.Duration // spec §4.3: bounded wait for own-presence echo on shutdown
}

func (c *Config) setDefaults() {
	if c.Port == 0 {
		c.Port = 5222
	}
	if c.MaxReconnectAttempts == 0 {
		c.MaxReconnectAttempts = 10
	}
	if c.BackoffBase == 0 {
		c.BackoffBase = time.Second
	}
	if c.BackoffMax == 0 {
		c.BackoffMax = 2 * time.Minute
	}
	if c.GraceWindow == 0 {
		c.GraceWindow = 5 * time.Second
	}
}

// Manager owns the single underlying XMPP stream and runs the state
// machine described in spec §4.3.
type Manager struct {
	cfg  Config
	self jid.JID

	bus  Publisher
	pl   *pipeline.Pipeline
	log  *slog.Logger

	mu      sync.RWMutex
	state   State
	attempt int
	session *xmpp.Session
}

// New validates cfg and returns a Manager ready to Run.
func New(cfg Config, bus Publisher, pl *pipeline.Pipeline, log *slog.Logger) (*Manager, error) {
	cfg.setDefaults()
	j, err := jid.Parse(cfg.JID)
	if err != nil {
		return nil, fmt.Errorf("connection: invalid jid: %w", err)
	}
	if cfg.Resource != "" {
		if j, err = j.WithResource(cfg.Resource); err != nil {
			return nil, fmt.Errorf("connection: invalid resource: %w", err)
		}
	}
	return &Manager{cfg: cfg, self: j, bus: bus, pl: pl, log: log}, nil
}

func (m *Manager) State() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

func (m *Manager) setState(s State) {
	m.mu.Lock()
	m.state = s
	m.mu.Unlock()
}

// Run drives the connect / read / reconnect loop until ctx is canceled or a
// non-retryable failure (e.g. authentication) occurs.
func (m *Manager) Run(ctx context.Context) error {
	for {
		m.setState(StateConnecting)
		err := m.connect(ctx)
		if err == nil {
			m.mu.Lock()
			m.attempt = 0
			m.mu.Unlock()
			m.setState(StateConnected)
			m.publish(event.ChSystemConnectionEstablished, event.ConnectionEstablished{JID: m.self.String()})

			readErr := m.readLoop(ctx)
			m.closeSession()

			if ctx.Err() != nil {
				m.setState(StateDisconnected)
				return ctx.Err()
			}
			err = readErr
		}

		if ctx.Err() != nil {
			m.setState(StateDisconnected)
			return ctx.Err()
		}

		if isAuthFailure(err) {
			m.setState(StateDisconnected)
			m.publish(event.ChSystemConnectionLost, event.ConnectionLost{Reason: err.Error(), WillRetry: false})
			m.publish(event.ChSystemShutdownRequested, event.ShutdownRequested{Reason: "authentication failed: " + err.Error()})
			return err
		}

		m.mu.Lock()
		m.attempt++
		attempt := m.attempt
		m.mu.Unlock()

		if attempt > m.cfg.MaxReconnectAttempts {
			m.setState(StateDisconnected)
			reason := "max reconnect attempts exceeded"
			if err != nil {
				reason = err.Error()
			}
			m.publish(event.ChSystemConnectionLost, event.ConnectionLost{Reason: reason, WillRetry: false})
			return errors.New(reason)
		}

		reason := "connection lost"
		if err != nil {
			reason = err.Error()
		}
		m.publish(event.ChSystemConnectionLost, event.ConnectionLost{Reason: reason, WillRetry: true})
		m.setState(StateReconnecting)
		m.publish(event.ChSystemConnectionReconnecting, event.ConnectionReconnecting{Attempt: attempt})

		backoff := m.backoffFor(attempt)
		m.log.Warn("reconnecting", "attempt", attempt, "backoff", backoff, "err", err)
		select {
		case <-ctx.Done():
			m.setState(StateDisconnected)
			return ctx.Err()
		case <-time.After(backoff):
		}
	}
}

func (m *Manager) backoffFor(attempt int) time.Duration {
	d := m.cfg.BackoffBase << uint(attempt-1)
	if d > m.cfg.BackoffMax || d <= 0 {
		d = m.cfg.BackoffMax
	}
	return d
}

// authFailure wraps a SASL failure to mark it non-retryable (spec §4.3).
type authFailure struct{ err error }

func (a *authFailure) Error() string { return a.err.Error() }
func (a *authFailure) Unwrap() error { return a.err }

func isAuthFailure(err error) bool {
	var af *authFailure
	return errors.As(err, &af)
}

func (m *Manager) connect(ctx context.Context) error {
	server := m.cfg.Server
	if server == "" {
		server = m.self.Domain().String()
	}
	addr := net.JoinHostPort(server, strconv.Itoa(m.cfg.Port))

	conn, err := net.DialTimeout("tcp", addr, 30*time.Second)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}

	tlsConfig := &tls.Config{ServerName: m.self.Domain().String(), MinVersion: tls.VersionTLS12}

	negotiator := xmpp.NewNegotiator(func(_ *xmpp.Session, _ *xmpp.StreamConfig) xmpp.StreamConfig {
		return xmpp.StreamConfig{
			Features: []xmpp.StreamFeature{
				xmpp.StartTLS(tlsConfig),
				xmpp.SASL("", m.cfg.Password, sasl.ScramSha256Plus, sasl.ScramSha256, sasl.ScramSha1Plus, sasl.ScramSha1, sasl.Plain),
				xmpp.BindResource(),
			},
		}
	})

	session, err := xmpp.NewSession(ctx, m.self.Domain(), m.self, conn, 0, negotiator)
	if err != nil {
		conn.Close()
		if isAuthNegotiationErr(err) {
			return &authFailure{err}
		}
		return fmt.Errorf("negotiate session: %w", err)
	}

	m.mu.Lock()
	m.session = session
	m.self = session.LocalAddr()
	m.mu.Unlock()

	// Message Carbons (XEP-0280): every other client of this account sees a
	// copy of messages sent/received here, transparently to the pipeline
	// (spec §4.3, §2 C3 row).
	if err := carbons.Enable(ctx, session); err != nil {
		m.log.Warn("enabling carbons", "err", err)
	}
	return nil
}

// isAuthNegotiationErr classifies a stream negotiation failure as a
// non-retryable authentication failure rather than a transient network
// error (spec §4.3). SASL mechanism failures surface from the negotiator
// as plain errors mentioning "sasl" or the not-authorized condition.
func isAuthNegotiationErr(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "sasl") || strings.Contains(msg, "not-authorized") || strings.Contains(msg, "credentials")
}

func (m *Manager) closeSession() {
	m.mu.Lock()
	session := m.session
	m.session = nil
	m.mu.Unlock()
	if session != nil {
		session.Close()
	}
}

// readLoop decodes the stream token by token, groups tokens into top-level
// stanzas, and dispatches each to the pipeline.
func (m *Manager) readLoop(ctx context.Context) error {
	m.mu.RLock()
	session := m.session
	m.mu.RUnlock()
	if session == nil {
		return errors.New("connection: no active session")
	}
	tr := session.TokenReader()

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		tok, err := tr.Token()
		if err != nil {
			if err == io.EOF {
				return nil
			}
			return err
		}
		start, ok := tok.(xml.StartElement)
		if !ok {
			continue
		}
		if start.Name.Local != "message" && start.Name.Local != "presence" && start.Name.Local != "iq" {
			continue
		}

		children, err := readUntilEnd(tr, start.Name)
		if err != nil {
			m.log.Error("reading stanza body", "err", err)
			continue
		}

		s := pipeline.ParseStanza(start, children)
		if m.handlePing(s) {
			continue
		}
		m.pl.Dispatch(ctx, m.bus, s)
	}
}

// handlePing answers a server- or peer-initiated XEP-0199 ping in place,
// before the stanza reaches the pipeline (spec §4.3). Reports whether s was
// a ping and has been fully handled.
func (m *Manager) handlePing(s *pipeline.Stanza) bool {
	if s.Kind != pipeline.KindIQ || s.Type != string(stanza.GetIQ) {
		return false
	}
	if _, _, ok := s.Child("ping", pingNS); !ok {
		return false
	}

	result := stanza.IQ{ID: s.ID, Type: stanza.ResultIQ}
	if s.From != "" {
		if from, err := jid.Parse(s.From); err == nil {
			result.To = &from
		}
	}
	b, err := xml.Marshal(result)
	if err != nil {
		m.log.Error("marshaling ping result", "err", err)
		return true
	}
	if err := m.WriteStanza(b); err != nil {
		m.log.Error("replying to ping", "err", err)
	}
	return true
}

func readUntilEnd(tr interface {
	Token() (xml.Token, error)
}, name xml.Name) ([]xml.Token, error) {
	var toks []xml.Token
	depth := 0
	for {
		tok, err := tr.Token()
		if err != nil {
			return nil, err
		}
		if end, ok := tok.(xml.EndElement); ok && depth == 0 && end.Name == name {
			return toks, nil
		}
		switch tok.(type) {
		case xml.StartElement:
			depth++
		case xml.EndElement:
			depth--
		}
		toks = append(toks, xml.CopyToken(tok))
	}
}

// WriteStanza sends raw wire bytes produced by pipeline.Serialize, as
// required by the Stanza Pipeline's outbound contract (spec §4.2).
func (m *Manager) WriteStanza(b []byte) error {
	m.mu.RLock()
	session := m.session
	connected := m.state == StateConnected
	m.mu.RUnlock()
	if !connected || session == nil {
		return errors.New("connection: not connected")
	}
	dec := xml.NewDecoder(bytes.NewReader(b))
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return session.Send(ctx, dec)
}

// Shutdown sends unavailable presence, waits up to cfg.GraceWindow for the
// bus to echo the own-presence change, then closes the stream (spec §4.3).
func (m *Manager) Shutdown(ctx context.Context, ownPresenceEcho <-chan struct{}) error {
	m.mu.RLock()
	session := m.session
	m.mu.RUnlock()
	if session != nil {
		sctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		_ = session.Encode(sctx, stanza.Presence{Type: stanza.UnavailablePresence})
		cancel()
	}

	select {
	case <-ownPresenceEcho:
	case <-time.After(m.cfg.GraceWindow):
	case <-ctx.Done():
	}

	m.closeSession()
	m.setState(StateDisconnected)
	return nil
}

func (m *Manager) publish(channel string, payload event.Payload) {
	ch, err := event.NewChannel(channel)
	if err != nil {
		m.log.Error("invalid channel", "channel", channel, "err", err)
		return
	}
	m.bus.Publish(event.New(ch, time.Now(), event.XMPPSource(), payload))
}
