package crewai

import (
	"context"
	"sync"
	"testing"
	"time"
)

func TestSubscribeStatusImmediateAndTransitions(t *testing.T) {
	b := newFakeBackend(t)
	m := newTestManager(t, b, 5, 10*time.Millisecond)

	var mu sync.Mutex
	var seen []Status
	cancel := m.SubscribeStatus(func(s Status) {
		mu.Lock()
		seen = append(seen, s)
		mu.Unlock()
	})
	defer cancel()

	mu.Lock()
	if len(seen) != 1 || seen[0] != StatusDisconnected {
		mu.Unlock()
		t.Fatalf("immediate status = %v, want [disconnected]", seen)
	}
	mu.Unlock()

	if err := m.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}

	mu.Lock()
	got := append([]Status(nil), seen...)
	mu.Unlock()
	want := []Status{StatusDisconnected, StatusConnecting, StatusConnected}
	if len(got) != len(want) {
		t.Fatalf("status transitions = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("status transitions = %v, want %v", got, want)
		}
	}
}

func TestConnectIsIdempotent(t *testing.T) {
	b := newFakeBackend(t)
	m := newTestManager(t, b, 5, 10*time.Millisecond)

	for i := 0; i < 3; i++ {
		if err := m.Connect(context.Background()); err != nil {
			t.Fatalf("Connect() #%d error = %v", i, err)
		}
	}
	// Allow the upgrade handlers to run.
	time.Sleep(50 * time.Millisecond)
	if got := b.dials.Load(); got != 1 {
		t.Fatalf("dials = %d, want 1 (single shared connection)", got)
	}
}

func TestReconnectRejoinsRooms(t *testing.T) {
	b := newFakeBackend(t)
	m := newTestManager(t, b, 5, 10*time.Millisecond)

	if err := m.JoinRoom(context.Background(), "run-abc"); err != nil {
		t.Fatalf("JoinRoom() error = %v", err)
	}
	if id, ok := b.waitJoin(time.Second); !ok || id != "run-abc" {
		t.Fatalf("join = (%q, %v), want run-abc", id, ok)
	}

	b.dropConnections()

	if id, ok := b.waitJoin(2 * time.Second); !ok || id != "run-abc" {
		t.Fatalf("rejoin = (%q, %v), want run-abc after reconnect", id, ok)
	}
	if m.Status() != StatusConnected {
		t.Fatalf("Status() = %q, want connected after reconnect", m.Status())
	}
}

func TestReconnectAttemptsBounded(t *testing.T) {
	b := newFakeBackend(t)
	m := newTestManager(t, b, 3, 5*time.Millisecond)

	if err := m.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}

	statusCh := make(chan Status, 16)
	cancel := m.SubscribeStatus(func(s Status) { statusCh <- s })
	defer cancel()
	<-statusCh // immediate connected

	// Kill the backend entirely so every reconnect attempt fails.
	b.srv.CloseClientConnections()
	b.srv.Close()

	deadline := time.After(3 * time.Second)
	for {
		select {
		case s := <-statusCh:
			if s == StatusDisconnected {
				if got := b.dials.Load(); got != 1 {
					t.Fatalf("dials = %d, want 1 (no successful reconnects)", got)
				}
				return
			}
		case <-deadline:
			t.Fatalf("manager never settled into disconnected")
		}
	}
}

func TestCloseDoesNotReconnect(t *testing.T) {
	b := newFakeBackend(t)
	m := newTestManager(t, b, 5, 5*time.Millisecond)

	if err := m.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	if err := m.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	time.Sleep(100 * time.Millisecond)
	if got := b.dials.Load(); got != 1 {
		t.Fatalf("dials = %d, want 1 (client close must not reconnect)", got)
	}
	if m.Status() != StatusDisconnected {
		t.Fatalf("Status() = %q, want disconnected", m.Status())
	}
}

func TestLeaveRoomRemovesMembership(t *testing.T) {
	b := newFakeBackend(t)
	m := newTestManager(t, b, 5, 10*time.Millisecond)

	if err := m.JoinRoom(context.Background(), "run-1"); err != nil {
		t.Fatalf("JoinRoom() error = %v", err)
	}
	m.LeaveRoom("run-1")

	if id, ok := b.waitLeave(time.Second); !ok || id != "run-1" {
		t.Fatalf("leave = (%q, %v), want run-1", id, ok)
	}
	if rooms := m.Rooms(); len(rooms) != 0 {
		t.Fatalf("Rooms() = %v, want empty", rooms)
	}
}
