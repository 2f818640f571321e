// Package session owns the single websocket connection to the relay
// server: it establishes it, announces presence, feeds inbound envelopes
// to a handler and reconnects with bounded exponential backoff when the
// transport drops. Nothing else in the client touches the transport.
package session

import (
	"context"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"sfera/internal/models"
	"sfera/internal/protocol"
)

// Conn is the transport surface the manager needs from a websocket.
type Conn interface {
	Close() error
	WriteJSON(v any) error
	ReadJSON(v any) error
}

// Dialer opens a transport connection. Tests substitute their own.
type Dialer func(ctx context.Context, url string) (Conn, error)

func gorillaDial(ctx context.Context, url string) (Conn, error) {
	dialer := &websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, resp, err := dialer.DialContext(ctx, url, nil)
	if resp != nil && resp.Body != nil && err != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		return nil, err
	}
	return conn, nil
}

// Handler receives every inbound envelope, in receipt order, from a
// single goroutine.
type Handler interface {
	HandleEnvelope(env protocol.Envelope)
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc func(env protocol.Envelope)

func (f HandlerFunc) HandleEnvelope(env protocol.Envelope) { f(env) }

type Config struct {
	URL      string
	Identity models.User
	Backoff  Backoff
	Dial     Dialer
	Logger   zerolog.Logger
	// OnStateChange, when set, observes every connection state change.
	// Notifications are delivered synchronously in transition order; the
	// callback must not call back into the Manager.
	OnStateChange func(models.ConnState)
}

// Manager owns exactly one logical connection at a time.
type Manager struct {
	cfg     Config
	handler Handler
	log     zerolog.Logger

	mu      sync.Mutex
	state   models.ConnState
	conn    Conn
	cancel  context.CancelFunc
	done    chan struct{}
	lastErr error

	// writeMu serializes writes; gorilla connections allow one writer.
	writeMu sync.Mutex
}

func NewManager(cfg Config, handler Handler) *Manager {
	if cfg.Dial == nil {
		cfg.Dial = gorillaDial
	}
	if cfg.Backoff == (Backoff{}) {
		cfg.Backoff = DefaultBackoff()
	}
	return &Manager{
		cfg:     cfg,
		handler: handler,
		log:     cfg.Logger.With().Str("component", "session").Logger(),
		state:   models.StateDisconnected,
	}
}

// Connect starts the connection loop. It is idempotent: calling it while
// a loop is already running is a no-op. A previous terminal failure is
// cleared, so an explicit user retry starts a fresh attempt budget.
func (m *Manager) Connect(ctx context.Context) {
	m.mu.Lock()
	if m.cancel != nil {
		m.mu.Unlock()
		return
	}
	runCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.done = make(chan struct{})
	m.lastErr = nil
	changed := m.setStateLocked(models.StateConnecting)
	done := m.done
	m.mu.Unlock()
	m.notifyState(changed, models.StateConnecting)

	go func() {
		defer close(done)
		m.run(runCtx)
	}()
}

// Disconnect announces going offline best-effort, tears the transport
// down and stops any reconnection. No automatic reconnect happens after
// an explicit Disconnect.
func (m *Manager) Disconnect() {
	// Best effort; the notice is lost if the transport is already gone.
	_ = m.Send(protocol.EventUserOffline, protocol.UserOffline{UserID: m.cfg.Identity.ID})

	m.mu.Lock()
	cancel := m.cancel
	conn := m.conn
	done := m.done
	m.cancel = nil
	m.conn = nil
	m.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if conn != nil {
		_ = conn.Close()
	}
	if done != nil {
		<-done
	}

	// A dial that completed while we were cancelling may have adopted a
	// connection after the snapshot above was taken; close that one too.
	m.mu.Lock()
	late := m.conn
	m.conn = nil
	m.mu.Unlock()
	if late != nil {
		_ = late.Close()
	}

	m.setState(models.StateDisconnected)
}

// Send forwards one event. While not connected the event is dropped, not
// queued; callers needing delivery must re-issue after reconnection.
func (m *Manager) Send(event protocol.EventName, payload any) error {
	m.mu.Lock()
	conn := m.conn
	state := m.state
	m.mu.Unlock()

	if state != models.StateConnected || conn == nil {
		return models.ErrNotConnected
	}

	env, err := protocol.NewEnvelope(event, payload)
	if err != nil {
		return err
	}

	m.writeMu.Lock()
	defer m.writeMu.Unlock()
	return conn.WriteJSON(env)
}

func (m *Manager) State() models.ConnState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Err reports the terminal connection failure, if any. It stays set
// until the next explicit Connect.
func (m *Manager) Err() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastErr
}

func (m *Manager) run(ctx context.Context) {
	defer func() {
		m.mu.Lock()
		cancel := m.cancel
		m.cancel = nil
		changed := m.setStateLocked(models.StateDisconnected)
		m.mu.Unlock()
		m.notifyState(changed, models.StateDisconnected)
		if cancel != nil {
			cancel()
		}
	}()

	attempt := 0
	for {
		conn, err := m.cfg.Dial(ctx, m.cfg.URL)
		if err == nil {
			// A dial can complete in the same instant Disconnect cancels
			// the loop; that connection must never be adopted, or the
			// read loop would sit on a healthy transport nobody owns.
			if ctx.Err() != nil || !m.adopt(conn) {
				_ = conn.Close()
				return
			}
			attempt = 0
			m.announce()
			m.readLoop(conn)
			m.drop(conn)
			if ctx.Err() != nil {
				return
			}
			m.log.Info().Msg("connection lost")
			m.setState(models.StateReconnecting)
		} else {
			if ctx.Err() != nil {
				return
			}
			m.log.Debug().Err(err).Int("attempt", attempt).Msg("dial failed")
			m.setState(models.StateReconnecting)
		}

		if attempt >= m.cfg.Backoff.MaxAttempts {
			m.fail()
			return
		}
		delay := m.cfg.Backoff.Delay(attempt)
		attempt++

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return
		}
	}
}

// readLoop pumps inbound envelopes until the transport errors out.
// Dispatching from this single goroutine keeps event application
// strictly in receipt order.
func (m *Manager) readLoop(conn Conn) {
	for {
		var env protocol.Envelope
		if err := conn.ReadJSON(&env); err != nil {
			return
		}
		m.handler.HandleEnvelope(env)
	}
}

// announce re-registers presence with the server. The server forgets a
// client when its transport drops, so this runs after every successful
// (re)connection.
func (m *Manager) announce() {
	err := m.Send(protocol.EventUserOnline, protocol.UserOnline{
		UserID: m.cfg.Identity.ID,
		UserData: protocol.UserData{
			Name:           m.cfg.Identity.Name,
			Color:          m.cfg.Identity.Color,
			ProfilePicture: m.cfg.Identity.ProfilePicture,
		},
	})
	if err != nil {
		m.log.Warn().Err(err).Msg("presence announce failed")
	}
}

// adopt installs a freshly dialed connection. It reports false when an
// explicit Disconnect already tore the session down; the caller must
// close the connection and stop.
func (m *Manager) adopt(conn Conn) bool {
	m.mu.Lock()
	if m.cancel == nil {
		m.mu.Unlock()
		return false
	}
	m.conn = conn
	changed := m.setStateLocked(models.StateConnected)
	m.mu.Unlock()
	m.notifyState(changed, models.StateConnected)
	m.log.Info().Msg("connected")
	return true
}

func (m *Manager) drop(conn Conn) {
	_ = conn.Close()
	m.mu.Lock()
	if m.conn == conn {
		m.conn = nil
	}
	m.mu.Unlock()
}

func (m *Manager) fail() {
	m.mu.Lock()
	m.lastErr = models.ErrConnectionFailed
	m.mu.Unlock()
	m.log.Error().Int("attempts", m.cfg.Backoff.MaxAttempts).Msg("reconnect attempts exhausted")
}

func (m *Manager) setState(state models.ConnState) {
	m.mu.Lock()
	changed := m.setStateLocked(state)
	m.mu.Unlock()
	m.notifyState(changed, state)
}

// setStateLocked records a transition; the caller must pass the result
// to notifyState after releasing the lock.
func (m *Manager) setStateLocked(state models.ConnState) bool {
	if m.state == state {
		return false
	}
	m.state = state
	return true
}

func (m *Manager) notifyState(changed bool, state models.ConnState) {
	if changed && m.cfg.OnStateChange != nil {
		m.cfg.OnStateChange(state)
	}
}
