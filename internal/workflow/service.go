package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Synapse-Labs-X/synapse-protocol-sub000/internal/agents"
	"github.com/Synapse-Labs-X/synapse-protocol-sub000/internal/crewai"
	"github.com/Synapse-Labs-X/synapse-protocol-sub000/internal/observability"
	"github.com/Synapse-Labs-X/synapse-protocol-sub000/internal/payments"
	"github.com/Synapse-Labs-X/synapse-protocol-sub000/internal/policy"
	"github.com/Synapse-Labs-X/synapse-protocol-sub000/internal/runs"
)

type Config struct {
	RunTimeout   time.Duration
	RunRetention time.Duration
	DatabaseURL  string
}

// Executor runs one task against the agent backend and blocks until it
// resolves. *crewai.Client is the production implementation.
type Executor interface {
	ExecuteTask(ctx context.Context, runID, taskDescription string, onLog func(crewai.LogUpdate)) (crewai.RunResult, error)
}

// Service owns the full life of a run: kickoff, log relay, hierarchy
// mapping, payment settlement and registry bookkeeping.
type Service struct {
	runTimeout time.Duration
	storeMode  string

	executor Executor
	registry *runs.Manager
	roster   *agents.Roster
	engine   *payments.Engine
	metrics  *observability.Metrics
	stages   *observability.RunStageWindow
	store    runs.Store

	mu             sync.Mutex
	runningCancels map[string]context.CancelFunc
}

func New(cfg Config, executor Executor, roster *agents.Roster, engine *payments.Engine, metrics *observability.Metrics) *Service {
	if cfg.RunTimeout <= 0 {
		cfg.RunTimeout = 5 * time.Minute
	}
	if roster == nil {
		roster = agents.DefaultRoster()
	}

	registry := runs.NewManager(cfg.RunRetention)
	var store runs.Store
	storeMode := "in-memory"
	if st, err := runs.NewStore(context.Background(), cfg.DatabaseURL); err == nil {
		store = st
		if store != nil {
			registry.SetStore(store)
			storeMode = "postgres"
		}
	}

	return &Service{
		runTimeout:     cfg.RunTimeout,
		storeMode:      storeMode,
		executor:       executor,
		registry:       registry,
		roster:         roster,
		engine:         engine,
		metrics:        metrics,
		stages:         observability.NewRunStageWindow(256),
		store:          store,
		runningCancels: make(map[string]context.CancelFunc),
	}
}

func (s *Service) StoreMode() string {
	if s == nil {
		return "disabled"
	}
	return s.storeMode
}

func (s *Service) Roster() *agents.Roster {
	return s.roster
}

func (s *Service) StageSnapshot() observability.RunStageSnapshot {
	return s.stages.Snapshot()
}

// ObserveStage records an externally measured stage latency, such as the
// executor's kickoff round trip.
func (s *Service) ObserveStage(stage string, d time.Duration) {
	s.stages.Observe(stage, float64(d.Milliseconds()))
}

func (s *Service) Subscribe(runID string) (<-chan runs.Event, func()) {
	if s == nil {
		ch := make(chan runs.Event)
		close(ch)
		return ch, func() {}
	}
	return s.registry.Subscribe(runID)
}

func (s *Service) StartJanitor(ctx context.Context, interval time.Duration) {
	s.registry.StartJanitor(ctx, interval)
}

// SubmitRun registers a run and drives it in the background. The
// returned record is the pending snapshot; progress flows through
// Subscribe and the registry.
func (s *Service) SubmitRun(ctx context.Context, taskDescription string) (runs.Run, error) {
	_ = ctx
	taskDescription = strings.TrimSpace(taskDescription)
	if taskDescription == "" {
		return runs.Run{}, errors.New("task_description is required")
	}
	if s.executor == nil {
		return runs.Run{}, errors.New("run executor is not configured")
	}

	runID := uuid.NewString()
	run, err := s.registry.Create(runID, taskDescription)
	if err != nil {
		return runs.Run{}, err
	}
	s.metrics.ObserveRunEvent("created")
	s.metrics.SetActiveRuns(s.registry.ActiveCount())

	runCtx, cancel := context.WithTimeout(context.Background(), s.runTimeout)
	s.setRunningCancel(runID, cancel)

	go func() {
		defer cancel()
		defer s.clearRunningCancel(runID)
		s.drive(runCtx, runID, taskDescription)
	}()

	return run, nil
}

func (s *Service) drive(ctx context.Context, runID, taskDescription string) {
	started := time.Now()
	defer func() {
		s.stages.Observe("run_total", float64(time.Since(started).Milliseconds()))
		s.metrics.ObserveRunDuration(time.Since(started))
		s.metrics.SetActiveRuns(s.registry.ActiveCount())
	}()

	var firstLog sync.Once
	result, err := s.executor.ExecuteTask(ctx, runID, taskDescription, func(update crewai.LogUpdate) {
		firstLog.Do(func() {
			s.stages.Observe("first_log", float64(time.Since(started).Milliseconds()))
		})
		_ = s.registry.MarkRunning(runID)
		_ = s.registry.AppendLog(runID, update.LogPrefix, logText(update.Data))
	})
	s.stages.Observe("execution", float64(time.Since(started).Milliseconds()))

	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || ctx.Err() != nil {
			_, _ = s.registry.TimeOut(runID)
			s.metrics.ObserveRunEvent("timed_out")
			return
		}
		_, _ = s.registry.Fail(runID, err.Error())
		s.metrics.ObserveRunEvent("failed")
		return
	}

	chain := s.roster.ChainFromHierarchy(result.AgentHierarchy)
	chainIDs := make([]string, 0, len(chain))
	for _, a := range chain {
		chainIDs = append(chainIDs, a.ID)
	}
	_ = s.registry.SetChain(runID, chainIDs)

	if !result.Success {
		detail := strings.TrimSpace(result.Error)
		if detail == "" {
			detail = "backend reported failure"
		}
		_, _ = s.registry.Fail(runID, detail)
		s.metrics.ObserveRunEvent("failed")
		return
	}

	if s.engine != nil {
		settleStart := time.Now()
		_, settleErr := s.engine.SettleChain(ctx, chain, func(r payments.Receipt) {
			_ = s.registry.RecordPayment(runID, runs.Payment{
				From:      r.From,
				To:        r.To,
				Amount:    r.Amount,
				TxHash:    r.TxHash,
				Simulated: r.Simulated,
				At:        r.At,
			})
			s.metrics.ObservePayment(r.Amount, r.Simulated)
			if r.Simulated {
				s.stages.ObserveIndicator("payment_simulated")
			}
		})
		s.stages.Observe("settlement", float64(time.Since(settleStart).Milliseconds()))
		if settleErr != nil && ctx.Err() != nil {
			_, _ = s.registry.TimeOut(runID)
			s.metrics.ObserveRunEvent("timed_out")
			return
		}
	}

	finalOutput, _ := policy.RedactSecrets(result.FinalOutput)
	_, _ = s.registry.Complete(runID, chainIDs, finalOutput)
	s.metrics.ObserveRunEvent("succeeded")
}

// CancelRun aborts a live run. The run is marked failed before the
// driving context is cancelled so the drive goroutine's deadline
// handling lands on a sticky terminal state instead of relabeling the
// run as timed out.
func (s *Service) CancelRun(runID, reason string) (runs.Run, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		reason = "cancelled"
	}
	run, err := s.registry.Fail(runID, reason)
	if err != nil {
		return runs.Run{}, err
	}
	if cancel := s.getRunningCancel(runID); cancel != nil {
		cancel()
	}
	s.metrics.ObserveRunEvent("cancelled")
	return run, nil
}

func (s *Service) GetRun(runID string) (runs.Run, error) {
	return s.registry.Get(runID)
}

func (s *Service) ListRuns(limit int) []runs.Run {
	return s.registry.List(limit)
}

func (s *Service) ListRunEvents(runID string, limit int) ([]runs.Event, error) {
	return s.registry.ListEvents(runID, limit)
}

func (s *Service) ActiveRunCount() int {
	return s.registry.ActiveCount()
}

func (s *Service) setRunningCancel(runID string, cancel context.CancelFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.runningCancels[runID] = cancel
}

func (s *Service) getRunningCancel(runID string) context.CancelFunc {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.runningCancels[runID]
}

func (s *Service) clearRunningCancel(runID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.runningCancels, runID)
}

// logText unquotes plain string log payloads; structured payloads pass
// through as raw JSON. Backend output never reaches clients with wallet
// secrets intact.
func logText(data json.RawMessage) string {
	if len(data) == 0 {
		return ""
	}
	var text string
	if err := json.Unmarshal(data, &text); err != nil {
		text = string(data)
	}
	redacted, _ := policy.RedactSecrets(text)
	return redacted
}

func (s *Service) Close() error {
	if s == nil || s.store == nil {
		return nil
	}
	return s.store.Close()
}
