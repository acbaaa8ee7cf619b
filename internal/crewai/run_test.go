package crewai

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"
)

func TestExecuteTaskSuccess(t *testing.T) {
	b := newFakeBackend(t)
	m := newTestManager(t, b, 5, 10*time.Millisecond)
	c := NewClient(b.URL(), m, 5*time.Second)

	type out struct {
		result RunResult
		err    error
	}
	done := make(chan out, 1)
	var mu sync.Mutex
	var logs []LogUpdate
	go func() {
		result, err := c.ExecuteTask(context.Background(), "", "write a haiku", func(u LogUpdate) {
			mu.Lock()
			logs = append(logs, u)
			mu.Unlock()
		})
		done <- out{result, err}
	}()

	runID, ok := b.waitJoin(time.Second)
	if !ok {
		t.Fatalf("no join_room observed")
	}

	lvl := 1
	b.send(eventLogUpdate, LogUpdate{Type: "agent_step", RunID: runID, LogPrefix: "crew"})
	b.send(eventLogUpdate, LogUpdate{Type: "agent_step", RunID: runID, LogPrefix: "crew"})
	b.send(eventRunComplete, runComplete{
		RunID:  runID,
		Status: "success",
		FinalResult: &finalResult{
			AgentHierarchy: []HierarchyEntry{{Name: "Text_Generator", Level: &lvl}},
			FinalOutput:    "an old silent pond",
			AgentUsage:     []AgentUsage{{Agent: "Text_Generator", Calls: 1}},
		},
	})

	res := <-done
	if res.err != nil {
		t.Fatalf("ExecuteTask() error = %v", res.err)
	}
	if !res.result.Success {
		t.Fatalf("Success = false, want true")
	}
	if res.result.RunID != runID {
		t.Fatalf("RunID = %q, want %q", res.result.RunID, runID)
	}
	if res.result.FinalOutput != "an old silent pond" {
		t.Fatalf("FinalOutput = %q", res.result.FinalOutput)
	}
	if res.result.TaskDescription != "write a haiku" {
		t.Fatalf("TaskDescription = %q", res.result.TaskDescription)
	}
	mu.Lock()
	gotLogs := len(logs)
	mu.Unlock()
	if gotLogs != 2 {
		t.Fatalf("log updates = %d, want 2", gotLogs)
	}

	// Terminal path leaves the room.
	if id, ok := b.waitLeave(time.Second); !ok || id != runID {
		t.Fatalf("leave = (%q, %v), want %q", id, ok, runID)
	}
}

func TestExecuteTaskBackendFailureResolvesNotErrors(t *testing.T) {
	b := newFakeBackend(t)
	m := newTestManager(t, b, 5, 10*time.Millisecond)
	c := NewClient(b.URL(), m, 5*time.Second)

	done := make(chan RunResult, 1)
	go func() {
		result, err := c.ExecuteTask(context.Background(), "", "impossible task", nil)
		if err != nil {
			t.Errorf("ExecuteTask() error = %v, want resolved failure", err)
		}
		done <- result
	}()

	runID, ok := b.waitJoin(time.Second)
	if !ok {
		t.Fatalf("no join_room observed")
	}
	b.send(eventRunComplete, runComplete{RunID: runID, Status: "error", Error: "crew exploded"})

	result := <-done
	if result.Success {
		t.Fatalf("Success = true, want false")
	}
	if result.Error != "crew exploded" {
		t.Fatalf("Error = %q, want backend message", result.Error)
	}
}

func TestExecuteTaskRunIDIsolation(t *testing.T) {
	b := newFakeBackend(t)
	m := newTestManager(t, b, 5, 10*time.Millisecond)
	c := NewClient(b.URL(), m, 5*time.Second)

	var mu sync.Mutex
	logCounts := map[string]int{}
	results := make(chan RunResult, 2)
	runTask := func(desc string) {
		result, err := c.ExecuteTask(context.Background(), "", desc, func(u LogUpdate) {
			mu.Lock()
			logCounts[u.RunID]++
			mu.Unlock()
		})
		if err != nil {
			t.Errorf("ExecuteTask(%q) error = %v", desc, err)
		}
		results <- result
	}
	go runTask("task one")
	runA, ok := b.waitJoin(time.Second)
	if !ok {
		t.Fatalf("no join for task one")
	}
	go runTask("task two")
	runB, ok := b.waitJoin(time.Second)
	if !ok {
		t.Fatalf("no join for task two")
	}

	// Events for run A must never reach run B's handlers.
	b.send(eventLogUpdate, LogUpdate{Type: "agent_step", RunID: runA})
	b.send(eventLogUpdate, LogUpdate{Type: "agent_step", RunID: runA})
	b.send(eventLogUpdate, LogUpdate{Type: "agent_step", RunID: runB})
	b.send(eventRunComplete, runComplete{RunID: runA, Status: "success", FinalResult: &finalResult{FinalOutput: "A"}})
	b.send(eventRunComplete, runComplete{RunID: runB, Status: "success", FinalResult: &finalResult{FinalOutput: "B"}})

	byRun := map[string]RunResult{}
	for i := 0; i < 2; i++ {
		r := <-results
		byRun[r.RunID] = r
	}
	if byRun[runA].FinalOutput != "A" || byRun[runB].FinalOutput != "B" {
		t.Fatalf("cross-talk between runs: %+v", byRun)
	}

	mu.Lock()
	defer mu.Unlock()
	if logCounts[runA] != 2 {
		t.Fatalf("run A log count = %d, want 2", logCounts[runA])
	}
	if logCounts[runB] != 1 {
		t.Fatalf("run B log count = %d, want 1", logCounts[runB])
	}
}

func TestExecuteTaskKickoffFailureCleansUp(t *testing.T) {
	b := newFakeBackend(t)
	b.kickoffStatus.Store(http.StatusBadRequest)
	m := newTestManager(t, b, 5, 10*time.Millisecond)
	c := NewClient(b.URL(), m, 5*time.Second)

	_, err := c.ExecuteTask(context.Background(), "", "doomed task", nil)
	if err == nil {
		t.Fatalf("ExecuteTask() expected kickoff error")
	}

	if _, ok := b.waitLeave(time.Second); !ok {
		t.Fatalf("no leave_room after kickoff failure")
	}
	if rooms := m.Rooms(); len(rooms) != 0 {
		t.Fatalf("Rooms() = %v, want empty after cleanup", rooms)
	}
	m.mu.Lock()
	dangling := len(m.eventSubs) + len(m.errorSubs)
	m.mu.Unlock()
	if dangling != 0 {
		t.Fatalf("dangling subscriptions = %d, want 0", dangling)
	}
}

func TestExecuteTaskTimeout(t *testing.T) {
	b := newFakeBackend(t)
	m := newTestManager(t, b, 5, 10*time.Millisecond)
	c := NewClient(b.URL(), m, 80*time.Millisecond)

	_, err := c.ExecuteTask(context.Background(), "", "silent task", nil)
	if err == nil {
		t.Fatalf("ExecuteTask() expected timeout error")
	}

	if _, ok := b.waitLeave(time.Second); !ok {
		t.Fatalf("no leave_room after timeout")
	}
	if rooms := m.Rooms(); len(rooms) != 0 {
		t.Fatalf("Rooms() = %v, want empty after timeout", rooms)
	}
}

func TestExecuteTaskCompletionBeatsLateErrors(t *testing.T) {
	b := newFakeBackend(t)
	m := newTestManager(t, b, 5, 10*time.Millisecond)
	c := NewClient(b.URL(), m, 5*time.Second)

	done := make(chan error, 1)
	go func() {
		_, err := c.ExecuteTask(context.Background(), "", "quick task", nil)
		done <- err
	}()

	runID, ok := b.waitJoin(time.Second)
	if !ok {
		t.Fatalf("no join_room observed")
	}
	b.send(eventRunComplete, runComplete{RunID: runID, Status: "success", FinalResult: &finalResult{FinalOutput: "done"}})
	// A second terminal and a server error after resolution must be ignored.
	b.send(eventRunComplete, runComplete{RunID: runID, Status: "error", Error: "late duplicate"})
	b.send(eventError, errorPayload{Message: "late socket error"})

	if err := <-done; err != nil {
		t.Fatalf("ExecuteTask() error = %v, want nil (completion wins)", err)
	}
}

func TestExecuteTaskFailsAfterBackendLinkDies(t *testing.T) {
	b := newFakeBackend(t)
	m := newTestManager(t, b, 2, 10*time.Millisecond)
	c := NewClient(b.URL(), m, 5*time.Second)

	errc := make(chan error, 1)
	go func() {
		_, err := c.ExecuteTask(context.Background(), "", "stranded task", nil)
		errc <- err
	}()

	if _, ok := b.waitJoin(time.Second); !ok {
		t.Fatalf("no join_room before link drop")
	}
	b.rejectDials.Store(true)
	b.dropConnections()

	select {
	case err := <-errc:
		if err == nil {
			t.Fatalf("ExecuteTask() expected error after link death")
		}
		if !strings.Contains(err.Error(), "aborted") {
			t.Fatalf("ExecuteTask() error = %v, want aborted", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatalf("ExecuteTask() never resolved after link death")
	}
}

func TestExecuteTaskReportsKickoffLatency(t *testing.T) {
	b := newFakeBackend(t)
	m := newTestManager(t, b, 5, 10*time.Millisecond)
	c := NewClient(b.URL(), m, 5*time.Second)

	observed := make(chan time.Duration, 1)
	c.OnKickoff = func(d time.Duration) {
		select {
		case observed <- d:
		default:
		}
	}

	done := make(chan error, 1)
	go func() {
		_, err := c.ExecuteTask(context.Background(), "", "measured task", nil)
		done <- err
	}()

	runID, ok := b.waitJoin(time.Second)
	if !ok {
		t.Fatalf("no join_room observed")
	}
	b.send(eventRunComplete, runComplete{RunID: runID, Status: "success"})

	if err := <-done; err != nil {
		t.Fatalf("ExecuteTask() error = %v", err)
	}
	select {
	case d := <-observed:
		if d < 0 {
			t.Fatalf("kickoff latency = %v", d)
		}
	case <-time.After(time.Second):
		t.Fatalf("OnKickoff never fired")
	}
}
