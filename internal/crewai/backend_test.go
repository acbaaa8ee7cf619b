package crewai

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

// fakeBackend is an in-process stand-in for the execution backend: a
// kickoff HTTP endpoint plus a websocket event channel.
type fakeBackend struct {
	t        *testing.T
	srv      *httptest.Server
	upgrader websocket.Upgrader

	mu    sync.Mutex
	conns []*websocket.Conn

	joins  chan string
	leaves chan string

	dials         atomic.Int32
	rejectDials   atomic.Bool
	kickoffStatus atomic.Int32
	kickoffRunID  atomic.Value
}

func newFakeBackend(t *testing.T) *fakeBackend {
	t.Helper()
	b := &fakeBackend{
		t:      t,
		joins:  make(chan string, 16),
		leaves: make(chan string, 16),
	}
	b.kickoffStatus.Store(http.StatusOK)
	b.kickoffRunID.Store("")

	mux := http.NewServeMux()
	mux.HandleFunc("/run", b.handleKickoff)
	mux.HandleFunc("/ws", b.handleWS)
	b.srv = httptest.NewServer(mux)
	t.Cleanup(b.srv.Close)
	return b
}

func (b *fakeBackend) URL() string { return b.srv.URL }

func (b *fakeBackend) handleKickoff(w http.ResponseWriter, r *http.Request) {
	status := int(b.kickoffStatus.Load())
	if status != http.StatusOK {
		http.Error(w, "kickoff rejected", status)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{"run_id": b.kickoffRunID.Load().(string)})
}

func (b *fakeBackend) handleWS(w http.ResponseWriter, r *http.Request) {
	if b.rejectDials.Load() {
		http.Error(w, "backend down", http.StatusServiceUnavailable)
		return
	}
	conn, err := b.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	b.dials.Add(1)
	b.mu.Lock()
	b.conns = append(b.conns, conn)
	b.mu.Unlock()

	for {
		var f frame
		if err := conn.ReadJSON(&f); err != nil {
			return
		}
		var room roomPayload
		_ = json.Unmarshal(f.Data, &room)
		switch f.Event {
		case eventJoinRoom:
			b.joins <- room.RunID
		case eventLeaveRoom:
			b.leaves <- room.RunID
		}
	}
}

func (b *fakeBackend) send(event string, payload any) {
	b.t.Helper()
	data, err := json.Marshal(payload)
	if err != nil {
		b.t.Fatalf("marshal %s payload: %v", event, err)
	}
	b.mu.Lock()
	conn := b.conns[len(b.conns)-1]
	b.mu.Unlock()
	if err := conn.WriteJSON(frame{Event: event, Data: data}); err != nil {
		b.t.Fatalf("write %s frame: %v", event, err)
	}
}

func (b *fakeBackend) dropConnections() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, conn := range b.conns {
		_ = conn.Close()
	}
	b.conns = nil
}

func (b *fakeBackend) waitJoin(timeout time.Duration) (string, bool) {
	select {
	case id := <-b.joins:
		return id, true
	case <-time.After(timeout):
		return "", false
	}
}

func (b *fakeBackend) waitLeave(timeout time.Duration) (string, bool) {
	select {
	case id := <-b.leaves:
		return id, true
	case <-time.After(timeout):
		return "", false
	}
}

func newTestManager(t *testing.T, b *fakeBackend, attempts int, delay time.Duration) *Manager {
	t.Helper()
	m, err := NewManager(ManagerOptions{
		BackendURL:        b.URL(),
		ReconnectAttempts: attempts,
		ReconnectDelay:    delay,
	})
	if err != nil {
		t.Fatalf("NewManager() error = %v", err)
	}
	t.Cleanup(func() { _ = m.Close() })
	return m
}
