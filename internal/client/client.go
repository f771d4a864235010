package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/coder/quartz"
	"github.com/gorilla/websocket"
	"github.com/lox/liarspoker/internal/protocol"
	"golang.org/x/sync/errgroup"
)

var (
	// ErrNotConnected is returned by Send while there is no live connection.
	// The frame is dropped.
	ErrNotConnected = errors.New("not connected")
	// ErrClosed is returned once the manager has been closed.
	ErrClosed = errors.New("connection manager closed")
)

// Status is the connection status as shown to the user
type Status string

const (
	StatusDisconnected Status = "disconnected"
	StatusConnecting   Status = "connecting"
	StatusConnected    Status = "connected"
	StatusReconnecting Status = "reconnecting"
)

// Handler receives inbound frames. Handlers run on the connection's reader
// goroutine, one frame at a time, in the order the server sent them.
type Handler func(protocol.Frame)

// Options configures a Manager
type Options struct {
	URL    string
	Header http.Header

	ReconnectAttempts int
	ReconnectDelay    time.Duration
	HandshakeTimeout  time.Duration
	WriteTimeout      time.Duration
	PingInterval      time.Duration

	Clock  quartz.Clock
	Logger *log.Logger
	Dialer *websocket.Dialer
}

type subscription struct {
	id      uint64
	key     string
	event   string
	handler Handler
}

// Manager owns the single websocket connection to the game server and
// reconnects it when it drops. Subscriptions belong to the manager, so they
// survive reconnects without being registered twice.
type Manager struct {
	opts   Options
	url    string
	clock  quartz.Clock
	logger *log.Logger

	mu        sync.Mutex
	conn      *websocket.Conn
	sid       string
	status    Status
	subs      map[string][]*subscription
	statusFns map[uint64]func(Status)
	nextID    uint64
	started   bool
	closed    bool
	cancel    context.CancelFunc
	done      chan struct{}

	writeMu   sync.Mutex
	closeOnce sync.Once
}

// NewManager creates a manager. Nothing is dialled until Connect.
func NewManager(opts Options) *Manager {
	if opts.Clock == nil {
		opts.Clock = quartz.NewReal()
	}
	if opts.Logger == nil {
		opts.Logger = log.Default()
	}
	if opts.Dialer == nil {
		opts.Dialer = websocket.DefaultDialer
	}
	if opts.ReconnectAttempts < 0 {
		opts.ReconnectAttempts = 0
	}
	if opts.ReconnectDelay <= 0 {
		opts.ReconnectDelay = time.Second
	}
	if opts.HandshakeTimeout <= 0 {
		opts.HandshakeTimeout = 10 * time.Second
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = 10 * time.Second
	}
	if opts.PingInterval <= 0 {
		opts.PingInterval = 54 * time.Second
	}

	return &Manager{
		opts:      opts,
		clock:     opts.Clock,
		logger:    opts.Logger.WithPrefix("client"),
		status:    StatusDisconnected,
		subs:      make(map[string][]*subscription),
		statusFns: make(map[uint64]func(Status)),
		done:      make(chan struct{}),
	}
}

// WebsocketURL converts a server address into the websocket endpoint:
// http(s) schemes become ws(s) and an empty path becomes /ws.
func WebsocketURL(raw string) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("invalid server URL: %w", err)
	}

	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("invalid server URL %q: unsupported scheme %q", raw, u.Scheme)
	}
	if u.Host == "" {
		return "", fmt.Errorf("invalid server URL %q: missing host", raw)
	}
	if u.Path == "" || u.Path == "/" {
		u.Path = "/ws"
	}
	return u.String(), nil
}

// Connect starts connecting in the background. It only fails when the
// manager is misconfigured, already started or closed; transport failures
// are reported through Status.
func (m *Manager) Connect(ctx context.Context) error {
	target, err := WebsocketURL(m.opts.URL)
	if err != nil {
		return err
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrClosed
	}
	if m.started {
		m.mu.Unlock()
		return errors.New("already connecting")
	}
	m.started = true
	m.url = target
	ctx, m.cancel = context.WithCancel(ctx)
	m.mu.Unlock()

	m.setStatus(StatusConnecting)
	go m.run(ctx)
	return nil
}

// Close tears the connection down. It is safe to call more than once and
// from any goroutine other than a Handler. After Close returns no handler
// or status listener is called again.
func (m *Manager) Close() error {
	m.closeOnce.Do(func() {
		m.mu.Lock()
		m.closed = true
		started := m.started
		cancel := m.cancel
		conn := m.conn
		m.mu.Unlock()

		if cancel != nil {
			cancel()
		}
		if conn != nil {
			_ = conn.Close()
		}
		if started {
			<-m.done
		} else {
			close(m.done)
		}

		m.setStatus(StatusDisconnected)

		m.mu.Lock()
		m.subs = make(map[string][]*subscription)
		m.statusFns = make(map[uint64]func(Status))
		m.mu.Unlock()

		m.logger.Debug("Connection manager closed")
	})
	return nil
}

// Done is closed when the connection loop has exited, either through Close
// or because reconnect attempts ran out.
func (m *Manager) Done() <-chan struct{} {
	return m.done
}

// Status returns the current connection status.
func (m *Manager) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status
}

// SessionID returns the id the server assigned to this connection, or ""
// while none is known.
func (m *Manager) SessionID() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sid
}

// OnStatus registers fn for status changes and returns a function that
// removes it.
func (m *Manager) OnStatus(fn func(Status)) (unsubscribe func()) {
	m.mu.Lock()
	m.nextID++
	id := m.nextID
	if !m.closed {
		m.statusFns[id] = fn
	}
	m.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			m.mu.Lock()
			delete(m.statusFns, id)
			m.mu.Unlock()
		})
	}
}

// Subscribe adds handler for event. The returned function removes it and
// may be called any number of times.
func (m *Manager) Subscribe(event string, handler Handler) (unsubscribe func()) {
	return m.SubscribeKeyed("", event, handler)
}

// SubscribeKeyed is Subscribe with an owner key. Subscribing again with the
// same key and event replaces the earlier handler instead of adding a
// second one.
func (m *Manager) SubscribeKeyed(key, event string, handler Handler) (unsubscribe func()) {
	m.mu.Lock()
	m.nextID++
	sub := &subscription{id: m.nextID, key: key, event: event, handler: handler}

	if !m.closed {
		subs := m.subs[event]
		replaced := false
		if key != "" {
			for i, existing := range subs {
				if existing.key == key {
					next := make([]*subscription, len(subs))
					copy(next, subs)
					next[i] = sub
					m.subs[event] = next
					replaced = true
					break
				}
			}
		}
		if !replaced {
			m.subs[event] = append(append([]*subscription(nil), subs...), sub)
		}
	}
	m.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() { m.unsubscribe(sub) })
	}
}

func (m *Manager) unsubscribe(sub *subscription) {
	m.mu.Lock()
	defer m.mu.Unlock()

	subs := m.subs[sub.event]
	for i, existing := range subs {
		if existing.id == sub.id {
			next := make([]*subscription, 0, len(subs)-1)
			next = append(next, subs[:i]...)
			next = append(next, subs[i+1:]...)
			if len(next) == 0 {
				delete(m.subs, sub.event)
			} else {
				m.subs[sub.event] = next
			}
			return
		}
	}
}

// Send writes one frame. While disconnected the frame is dropped and
// ErrNotConnected returned; nothing is queued for a later connection.
func (m *Manager) Send(event string, payload interface{}) error {
	data, err := protocol.Marshal(event, payload)
	if err != nil {
		return err
	}

	m.mu.Lock()
	conn, closed := m.conn, m.closed
	m.mu.Unlock()

	if closed {
		return ErrClosed
	}
	if conn == nil {
		m.logger.Debug("Dropping frame while disconnected", "event", event)
		return ErrNotConnected
	}

	m.writeMu.Lock()
	defer m.writeMu.Unlock()

	_ = conn.SetWriteDeadline(time.Now().Add(m.opts.WriteTimeout))
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("send %s: %w", event, err)
	}
	m.logger.Debug("Sent frame", "event", event)
	return nil
}

// run is the connection loop: dial, serve until the connection drops, then
// retry with a fixed delay until the attempts are used up.
func (m *Manager) run(ctx context.Context) {
	defer close(m.done)
	defer m.setStatus(StatusDisconnected)

	failures := 0
	for {
		conn, err := m.dial(ctx)
		if err == nil {
			failures = 0
			err = m.serve(ctx, conn)
			m.dropConn(conn)
		}
		if ctx.Err() != nil {
			return
		}

		failures++
		if failures > m.opts.ReconnectAttempts {
			m.logger.Warn("Giving up on server", "attempts", failures, "error", err)
			return
		}

		m.logger.Info("Connection lost, retrying", "attempt", failures, "delay", m.opts.ReconnectDelay, "error", err)
		m.setStatus(StatusReconnecting)
		if !m.wait(ctx, m.opts.ReconnectDelay) {
			return
		}
	}
}

func (m *Manager) wait(ctx context.Context, d time.Duration) bool {
	timer := m.clock.NewTimer(d, "client", "reconnect")
	defer timer.Stop()

	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	}
}

func (m *Manager) dial(ctx context.Context) (*websocket.Conn, error) {
	m.logger.Info("Connecting to server", "url", m.url)

	dialCtx, cancel := context.WithTimeout(ctx, m.opts.HandshakeTimeout)
	defer cancel()

	conn, resp, err := m.opts.Dialer.DialContext(dialCtx, m.url, m.opts.Header)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		return nil, fmt.Errorf("failed to connect: %w", err)
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		_ = conn.Close()
		return nil, ErrClosed
	}
	m.conn = conn
	m.mu.Unlock()

	m.setStatus(StatusConnected)
	m.logger.Info("Connected to server")
	return conn, nil
}

func (m *Manager) dropConn(conn *websocket.Conn) {
	_ = conn.Close()

	m.mu.Lock()
	if m.conn == conn {
		m.conn = nil
		m.sid = ""
	}
	m.mu.Unlock()
}

// serve runs the reader and pinger for one connection and returns when
// either of them stops.
func (m *Manager) serve(ctx context.Context, conn *websocket.Conn) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return m.readLoop(conn)
	})
	g.Go(func() error {
		return m.pingLoop(gctx, conn)
	})
	g.Go(func() error {
		<-gctx.Done()
		_ = conn.Close()
		return nil
	})

	return g.Wait()
}

func (m *Manager) readLoop(conn *websocket.Conn) error {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				m.logger.Error("WebSocket error", "error", err)
			}
			return fmt.Errorf("read: %w", err)
		}

		frame, err := protocol.Unmarshal(data)
		if err != nil {
			m.logger.Warn("Dropping undecodable frame", "error", err, "size", len(data))
			continue
		}

		if frame.Event == protocol.EventConnected {
			m.assignSessionID(frame)
		}
		m.dispatch(frame)
	}
}

func (m *Manager) assignSessionID(frame protocol.Frame) {
	var c protocol.Connected
	if err := json.Unmarshal(frame.Data, &c); err != nil || c.SID == "" {
		m.logger.Warn("Connected frame without session id", "error", err)
		return
	}

	m.mu.Lock()
	m.sid = c.SID
	m.mu.Unlock()
	m.logger.Debug("Session assigned", "sid", c.SID)
}

func (m *Manager) pingLoop(ctx context.Context, conn *websocket.Conn) error {
	ticker := m.clock.NewTicker(m.opts.PingInterval, "client", "ping")
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			deadline := time.Now().Add(m.opts.WriteTimeout)
			if err := conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				return fmt.Errorf("ping: %w", err)
			}
		}
	}
}

// dispatch calls the handlers registered for frame.Event synchronously.
func (m *Manager) dispatch(frame protocol.Frame) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	subs := m.subs[frame.Event]
	m.mu.Unlock()

	if len(subs) == 0 {
		m.logger.Debug("No handler for event", "event", frame.Event)
		return
	}
	for _, sub := range subs {
		sub.handler(frame)
	}
}

func (m *Manager) setStatus(s Status) {
	m.mu.Lock()
	if m.status == s {
		m.mu.Unlock()
		return
	}
	m.status = s
	fns := make([]func(Status), 0, len(m.statusFns))
	for _, fn := range m.statusFns {
		fns = append(fns, fn)
	}
	m.mu.Unlock()

	for _, fn := range fns {
		fn(s)
	}
}
