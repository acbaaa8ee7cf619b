package crewai

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Synapse-Labs-X/synapse-protocol-sub000/internal/reliability"
)

const (
	defaultReconnectAttempts = 5
	defaultReconnectDelay    = 3 * time.Second
	frameWriteTimeout        = 3 * time.Second
)

// ManagerOptions configure the shared backend connection.
type ManagerOptions struct {
	BackendURL        string
	ReconnectAttempts int
	ReconnectDelay    time.Duration
	HandshakeTimeout  time.Duration
	OnStatusChange    func(Status)
}

// Manager owns the single shared event channel to the execution backend.
// Multiple run sessions multiplex over it; events are demultiplexed to
// subscribers, each of which filters by its own run ID.
type Manager struct {
	wsURL             string
	reconnectAttempts int
	reconnectDelay    time.Duration
	dialer            websocket.Dialer

	dialMu sync.Mutex

	mu         sync.Mutex
	conn       *websocket.Conn
	status     Status
	closed     bool
	rooms      map[string]struct{}
	nextSubID  int
	statusSubs map[int]func(Status)
	errorSubs  map[int]func(error)
	eventSubs  map[int]eventSub

	writeMu sync.Mutex
}

type eventSub struct {
	event string
	fn    func(json.RawMessage)
}

// NewManager builds a connection manager. The connection itself is
// established lazily on first use.
func NewManager(opts ManagerOptions) (*Manager, error) {
	wsURL, err := normalizeBackendURL(opts.BackendURL)
	if err != nil {
		return nil, err
	}
	if opts.ReconnectAttempts <= 0 {
		opts.ReconnectAttempts = defaultReconnectAttempts
	}
	if opts.ReconnectDelay <= 0 {
		opts.ReconnectDelay = defaultReconnectDelay
	}
	if opts.HandshakeTimeout <= 0 {
		opts.HandshakeTimeout = 4 * time.Second
	}
	m := &Manager{
		wsURL:             wsURL,
		reconnectAttempts: opts.ReconnectAttempts,
		reconnectDelay:    opts.ReconnectDelay,
		dialer: websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: opts.HandshakeTimeout,
		},
		status:     StatusDisconnected,
		rooms:      make(map[string]struct{}),
		statusSubs: make(map[int]func(Status)),
		errorSubs:  make(map[int]func(error)),
		eventSubs:  make(map[int]eventSub),
	}
	if opts.OnStatusChange != nil {
		m.SubscribeStatus(opts.OnStatusChange)
	}
	return m, nil
}

func normalizeBackendURL(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		raw = "http://localhost:8080"
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("parse backend url: %w", err)
	}
	switch strings.ToLower(strings.TrimSpace(u.Scheme)) {
	case "ws", "wss":
	case "http", "":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("unsupported backend url scheme %q", u.Scheme)
	}
	if u.Path == "" || u.Path == "/" {
		u.Path = "/ws"
	}
	return u.String(), nil
}

// Connect ensures a live connection exists, dialing if necessary.
// Concurrent callers share the same dial attempt.
func (m *Manager) Connect(ctx context.Context) error {
	m.dialMu.Lock()
	defer m.dialMu.Unlock()

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return fmt.Errorf("connection manager is closed")
	}
	if m.conn != nil {
		m.mu.Unlock()
		return nil
	}
	m.mu.Unlock()

	m.setStatus(StatusConnecting)
	conn, err := m.dial(ctx)
	if err != nil {
		m.setStatus(StatusDisconnected)
		return err
	}
	m.adopt(conn)
	m.setStatus(StatusConnected)
	return nil
}

func (m *Manager) dial(ctx context.Context) (*websocket.Conn, error) {
	conn, resp, err := m.dialer.DialContext(ctx, m.wsURL, nil)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("backend dial failed (%s): %w", resp.Status, err)
		}
		return nil, fmt.Errorf("backend dial failed: %w", err)
	}
	return conn, nil
}

func (m *Manager) adopt(conn *websocket.Conn) {
	m.mu.Lock()
	m.conn = conn
	m.mu.Unlock()
	go m.readLoop(conn)
}

// Status returns the current connection status.
func (m *Manager) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status
}

// SubscribeStatus registers a status callback. It is invoked immediately
// with the current status and again on every transition. The returned
// function removes the subscription.
func (m *Manager) SubscribeStatus(fn func(Status)) func() {
	m.mu.Lock()
	id := m.nextSubID
	m.nextSubID++
	m.statusSubs[id] = fn
	current := m.status
	m.mu.Unlock()

	fn(current)
	return func() {
		m.mu.Lock()
		delete(m.statusSubs, id)
		m.mu.Unlock()
	}
}

// SubscribeErrors registers a callback for connection-level failures:
// server error events and transport losses that exhausted reconnection.
func (m *Manager) SubscribeErrors(fn func(error)) func() {
	m.mu.Lock()
	id := m.nextSubID
	m.nextSubID++
	m.errorSubs[id] = fn
	m.mu.Unlock()
	return func() {
		m.mu.Lock()
		delete(m.errorSubs, id)
		m.mu.Unlock()
	}
}

// Subscribe registers a handler for a named backend event. Handlers run
// synchronously in arrival order; each handler filters payloads itself.
func (m *Manager) Subscribe(event string, fn func(json.RawMessage)) func() {
	m.mu.Lock()
	id := m.nextSubID
	m.nextSubID++
	m.eventSubs[id] = eventSub{event: event, fn: fn}
	m.mu.Unlock()
	return func() {
		m.mu.Lock()
		delete(m.eventSubs, id)
		m.mu.Unlock()
	}
}

// JoinRoom subscribes this client to events scoped to one run. Membership
// is tracked so rooms are re-joined after a reconnect.
func (m *Manager) JoinRoom(ctx context.Context, runID string) error {
	if err := m.Connect(ctx); err != nil {
		return err
	}
	m.mu.Lock()
	m.rooms[runID] = struct{}{}
	conn := m.conn
	m.mu.Unlock()
	return m.writeFrame(conn, eventJoinRoom, roomPayload{RunID: runID})
}

// LeaveRoom removes run-scoped membership and notifies the backend.
func (m *Manager) LeaveRoom(runID string) {
	m.mu.Lock()
	delete(m.rooms, runID)
	conn := m.conn
	m.mu.Unlock()
	if conn == nil {
		return
	}
	if err := m.writeFrame(conn, eventLeaveRoom, roomPayload{RunID: runID}); err != nil {
		log.Printf("crewai: leave_room %s write failed: %v", runID, err)
	}
}

// Rooms reports current room membership.
func (m *Manager) Rooms() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.rooms))
	for id := range m.rooms {
		out = append(out, id)
	}
	return out
}

// Close tears the connection down. A close is client-initiated and never
// triggers reconnection.
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	conn := m.conn
	m.conn = nil
	m.mu.Unlock()

	m.setStatus(StatusDisconnected)
	if conn != nil {
		return conn.Close()
	}
	return nil
}

func (m *Manager) writeFrame(conn *websocket.Conn, event string, data any) error {
	if conn == nil {
		return fmt.Errorf("backend connection is not established")
	}
	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("marshal %s payload: %w", event, err)
	}
	m.writeMu.Lock()
	defer m.writeMu.Unlock()
	_ = conn.SetWriteDeadline(time.Now().Add(frameWriteTimeout))
	defer conn.SetWriteDeadline(time.Time{})
	if err := conn.WriteJSON(frame{Event: event, Data: payload}); err != nil {
		return fmt.Errorf("write %s frame: %w", event, err)
	}
	return nil
}

func (m *Manager) readLoop(conn *websocket.Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			m.handleReadError(conn, err)
			return
		}
		m.dispatch(data)
	}
}

func (m *Manager) dispatch(data []byte) {
	var f frame
	if err := json.Unmarshal(data, &f); err != nil {
		log.Printf("crewai: frame parse failed: %v", err)
		return
	}
	if f.Event == eventError {
		var p errorPayload
		_ = json.Unmarshal(f.Data, &p)
		msg := strings.TrimSpace(p.Message)
		if msg == "" {
			msg = "backend reported an unspecified error"
		}
		m.notifyError(fmt.Errorf("backend error event: %s", msg))
		return
	}

	m.mu.Lock()
	subs := make([]eventSub, 0, len(m.eventSubs))
	for _, sub := range m.eventSubs {
		if sub.event == f.Event {
			subs = append(subs, sub)
		}
	}
	m.mu.Unlock()
	for _, sub := range subs {
		sub.fn(f.Data)
	}
}

func (m *Manager) handleReadError(conn *websocket.Conn, err error) {
	m.mu.Lock()
	if m.closed || m.conn != conn {
		m.mu.Unlock()
		return
	}
	m.conn = nil
	m.mu.Unlock()
	_ = conn.Close()

	if !reliability.IsRetryableSocketError(err) {
		m.setStatus(StatusDisconnected)
		return
	}

	log.Printf("crewai: connection lost: %v", err)
	m.setStatus(StatusConnecting)
	for attempt := 1; attempt <= m.reconnectAttempts; attempt++ {
		time.Sleep(m.reconnectDelay)
		m.mu.Lock()
		closed := m.closed
		m.mu.Unlock()
		if closed {
			return
		}
		next, dialErr := m.dial(context.Background())
		if dialErr != nil {
			log.Printf("crewai: reconnect attempt %d/%d failed: %v", attempt, m.reconnectAttempts, dialErr)
			continue
		}
		m.adopt(next)
		m.rejoinRooms(next)
		m.setStatus(StatusConnected)
		return
	}

	// Exceeding the retry bound leaves the connection disconnected with no
	// further automatic action; in-flight sessions are told the link is gone.
	m.setStatus(StatusDisconnected)
	m.notifyError(fmt.Errorf("backend connection lost after %d reconnect attempts: %w", m.reconnectAttempts, err))
}

func (m *Manager) rejoinRooms(conn *websocket.Conn) {
	m.mu.Lock()
	rooms := make([]string, 0, len(m.rooms))
	for id := range m.rooms {
		rooms = append(rooms, id)
	}
	m.mu.Unlock()
	for _, id := range rooms {
		if err := m.writeFrame(conn, eventJoinRoom, roomPayload{RunID: id}); err != nil {
			log.Printf("crewai: rejoin room %s failed: %v", id, err)
		}
	}
}

func (m *Manager) setStatus(next Status) {
	m.mu.Lock()
	if m.status == next {
		m.mu.Unlock()
		return
	}
	m.status = next
	subs := make([]func(Status), 0, len(m.statusSubs))
	for _, fn := range m.statusSubs {
		subs = append(subs, fn)
	}
	m.mu.Unlock()
	for _, fn := range subs {
		fn(next)
	}
}

func (m *Manager) notifyError(err error) {
	m.mu.Lock()
	subs := make([]func(error), 0, len(m.errorSubs))
	for _, fn := range m.errorSubs {
		subs = append(subs, fn)
	}
	m.mu.Unlock()
	for _, fn := range subs {
		fn(err)
	}
}
