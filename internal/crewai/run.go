package crewai

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

const defaultRunTimeout = 5 * time.Minute

// runState is the lifecycle of one run session.
type runState int

const (
	statePending runState = iota
	stateRunning
	stateSucceeded
	stateFailed
	stateTimedOut
)

// Client executes tasks against the backend: one kickoff request plus a
// run-scoped subscription on the shared event channel.
type Client struct {
	mgr        *Manager
	kickoff    *kickoffClient
	runTimeout time.Duration

	// OnKickoff, when set before the first ExecuteTask, receives the
	// latency of each successful kickoff request.
	OnKickoff func(time.Duration)
}

// NewClient builds a task execution client on top of a connection manager.
func NewClient(backendURL string, mgr *Manager, runTimeout time.Duration) *Client {
	if runTimeout <= 0 {
		runTimeout = defaultRunTimeout
	}
	return &Client{
		mgr:        mgr,
		kickoff:    newKickoffClient(backendURL),
		runTimeout: runTimeout,
	}
}

// runSession tracks a single submission until its terminal event.
// Resolution is at-most-once: a completion that already resolved the
// session suppresses later errors, and cleanup is idempotent.
type runSession struct {
	runID string

	mu    sync.Mutex
	state runState

	resolveOnce sync.Once
	cleanupOnce sync.Once
	done        chan struct{}
	result      RunResult
	err         error

	cancels []func()
}

func (s *runSession) markRunning() {
	s.mu.Lock()
	if s.state == statePending {
		s.state = stateRunning
	}
	s.mu.Unlock()
}

func (s *runSession) resolve(state runState, result RunResult, err error) {
	s.resolveOnce.Do(func() {
		s.mu.Lock()
		s.state = state
		s.mu.Unlock()
		s.result = result
		s.err = err
		close(s.done)
	})
}

func (s *runSession) cleanup(mgr *Manager) {
	s.cleanupOnce.Do(func() {
		for _, cancel := range s.cancels {
			cancel()
		}
		mgr.LeaveRoom(s.runID)
	})
}

// ExecuteTask submits one task and blocks until its terminal event, a
// transport failure, the run timeout, or ctx cancellation. Backend-reported
// task failure resolves with Success=false rather than an error. onLog, when
// non-nil, receives incremental log events for this run only. The caller
// may supply the run ID so it can correlate the run elsewhere before
// kickoff; an empty ID gets a fresh one.
func (c *Client) ExecuteTask(ctx context.Context, runID, taskDescription string, onLog func(LogUpdate)) (RunResult, error) {
	if runID == "" {
		runID = uuid.NewString()
	}
	session := &runSession{
		runID: runID,
		done:  make(chan struct{}),
	}
	defer session.cleanup(c.mgr)

	cancelLogs := c.mgr.Subscribe(eventLogUpdate, func(data json.RawMessage) {
		var update LogUpdate
		if err := json.Unmarshal(data, &update); err != nil {
			return
		}
		if update.RunID != session.runID {
			return
		}
		session.markRunning()
		if onLog != nil {
			onLog(update)
		}
	})

	cancelComplete := c.mgr.Subscribe(eventRunComplete, func(data json.RawMessage) {
		var complete runComplete
		if err := json.Unmarshal(data, &complete); err != nil {
			return
		}
		if complete.RunID != session.runID {
			return
		}
		result := RunResult{
			RunID:           session.runID,
			TaskDescription: taskDescription,
			Success:         complete.Status == "success",
			Error:           complete.Error,
		}
		if complete.FinalResult != nil {
			result.AgentHierarchy = complete.FinalResult.AgentHierarchy
			result.FinalOutput = complete.FinalResult.FinalOutput
			result.AgentUsage = complete.FinalResult.AgentUsage
		}
		state := stateSucceeded
		if !result.Success {
			state = stateFailed
		}
		session.resolve(state, result, nil)
	})

	cancelErrors := c.mgr.SubscribeErrors(func(err error) {
		session.resolve(stateFailed, RunResult{}, fmt.Errorf("run %s aborted: %w", session.runID, err))
	})

	var sawInitialStatus atomic.Bool
	cancelStatus := c.mgr.SubscribeStatus(func(status Status) {
		// The immediate callback reports the pre-join status; only later
		// transitions to disconnected mean the link died under this run.
		if !sawInitialStatus.Swap(true) {
			return
		}
		if status == StatusDisconnected {
			session.resolve(stateFailed, RunResult{}, fmt.Errorf("run %s aborted: backend disconnected", session.runID))
		}
	})
	session.cancels = []func(){cancelLogs, cancelComplete, cancelErrors, cancelStatus}

	if err := c.mgr.JoinRoom(ctx, session.runID); err != nil {
		return RunResult{}, fmt.Errorf("join run room: %w", err)
	}

	kickoffStart := time.Now()
	serverRunID, err := c.kickoff.Kickoff(ctx, taskDescription)
	if err != nil {
		session.resolve(stateFailed, RunResult{}, fmt.Errorf("kickoff failed: %w", err))
	} else if c.OnKickoff != nil {
		c.OnKickoff(time.Since(kickoffStart))
	}
	if err == nil && serverRunID != "" && serverRunID != session.runID {
		// The backend may key its events by its own assigned ID; event
		// matching uses the client-generated one. Tolerated, not fatal.
		log.Printf("crewai: server assigned run id %s differs from client run id %s", serverRunID, session.runID)
	}

	timeout := time.NewTimer(c.runTimeout)
	defer timeout.Stop()

	select {
	case <-session.done:
		return session.result, session.err
	case <-timeout.C:
		session.resolve(stateTimedOut, RunResult{}, fmt.Errorf("run %s timed out after %s", session.runID, c.runTimeout))
		return session.result, session.err
	case <-ctx.Done():
		session.resolve(stateFailed, RunResult{}, ctx.Err())
		return session.result, session.err
	}
}
