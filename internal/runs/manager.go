package runs

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"
)

var ErrRunNotFound = errors.New("run not found")

const defaultEventHistoryLimit = 512

// Manager is the in-memory registry of runs. It is the source of truth
// for live runs; a Store, when configured, persists snapshots for
// recovery and history across restarts.
type Manager struct {
	mu sync.RWMutex

	retention time.Duration
	store     Store

	runs            map[string]*Run
	order           []string
	eventsByRun     map[string][]Event
	eventHistoryMax int

	subscribers map[string]map[int]chan Event
	nextSubID   int
}

func NewManager(retention time.Duration) *Manager {
	if retention <= 0 {
		retention = 30 * time.Minute
	}
	return &Manager{
		retention:       retention,
		runs:            make(map[string]*Run),
		eventsByRun:     make(map[string][]Event),
		eventHistoryMax: defaultEventHistoryLimit,
		subscribers:     make(map[string]map[int]chan Event),
	}
}

func (m *Manager) SetStore(store Store) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.store = store
}

// Subscribe delivers events for one run. The returned cancel func is
// idempotent; slow subscribers drop events rather than block publishers.
func (m *Manager) Subscribe(runID string) (<-chan Event, func()) {
	runID = strings.TrimSpace(runID)
	if runID == "" {
		ch := make(chan Event)
		close(ch)
		return ch, func() {}
	}

	ch := make(chan Event, 256)
	m.mu.Lock()
	m.nextSubID++
	id := m.nextSubID
	if _, ok := m.subscribers[runID]; !ok {
		m.subscribers[runID] = make(map[int]chan Event)
	}
	m.subscribers[runID][id] = ch
	m.mu.Unlock()

	return ch, func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		subs := m.subscribers[runID]
		if subs == nil {
			return
		}
		if c, ok := subs[id]; ok {
			delete(subs, id)
			close(c)
		}
		if len(subs) == 0 {
			delete(m.subscribers, runID)
		}
	}
}

func (m *Manager) Create(runID, taskDescription string) (Run, error) {
	runID = strings.TrimSpace(runID)
	taskDescription = strings.TrimSpace(taskDescription)
	if runID == "" {
		return Run{}, errors.New("run_id is required")
	}
	if taskDescription == "" {
		return Run{}, errors.New("task_description is required")
	}
	now := time.Now().UTC()

	m.mu.Lock()
	defer m.mu.Unlock()

	if existing, ok := m.runs[runID]; ok {
		return existing.Clone(), nil
	}

	run := &Run{
		ID:              runID,
		TaskDescription: taskDescription,
		Status:          RunStatusPending,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	m.runs[runID] = run
	m.order = append(m.order, runID)

	m.publishLocked(runID, Event{
		Type:   EventRunCreated,
		RunID:  runID,
		Status: run.Status,
		Detail: taskDescription,
		At:     now,
	})
	m.persistRun(run.Clone())
	return run.Clone(), nil
}

// MarkRunning is idempotent: the first backend log flips pending to
// running, later logs leave the record alone.
func (m *Manager) MarkRunning(runID string) error {
	now := time.Now().UTC()

	m.mu.Lock()
	defer m.mu.Unlock()

	run, ok := m.runs[runID]
	if !ok {
		return ErrRunNotFound
	}
	if run.Status != RunStatusPending {
		return nil
	}
	run.Status = RunStatusRunning
	run.UpdatedAt = now
	run.StartedAt = &now

	m.publishLocked(runID, Event{
		Type:   EventRunStarted,
		RunID:  runID,
		Status: run.Status,
		At:     now,
	})
	m.persistRun(run.Clone())
	return nil
}

func (m *Manager) AppendLog(runID, logPrefix, delta string) error {
	delta = strings.TrimSpace(delta)
	if delta == "" {
		return nil
	}
	now := time.Now().UTC()

	m.mu.Lock()
	defer m.mu.Unlock()

	run, ok := m.runs[runID]
	if !ok {
		return ErrRunNotFound
	}
	if run.Terminal() {
		return nil
	}
	run.UpdatedAt = now

	m.publishLocked(runID, Event{
		Type:      EventRunLog,
		RunID:     runID,
		Status:    run.Status,
		LogPrefix: strings.TrimSpace(logPrefix),
		TextDelta: delta,
		At:        now,
	})
	return nil
}

func (m *Manager) RecordPayment(runID string, p Payment) error {
	now := time.Now().UTC()
	if p.At.IsZero() {
		p.At = now
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	run, ok := m.runs[runID]
	if !ok {
		return ErrRunNotFound
	}
	run.Payments = append(run.Payments, p)
	run.TotalPaid += p.Amount
	run.UpdatedAt = now

	evt := Event{
		Type:    EventRunPayment,
		RunID:   runID,
		Status:  run.Status,
		Payment: &p,
		At:      now,
	}
	m.publishLocked(runID, evt)
	m.persistRun(run.Clone())
	return nil
}

func (m *Manager) Complete(runID string, chain []string, finalOutput string) (Run, error) {
	return m.finish(runID, RunStatusSucceeded, chain, finalOutput, "")
}

func (m *Manager) Fail(runID, detail string) (Run, error) {
	return m.finish(runID, RunStatusFailed, nil, "", detail)
}

func (m *Manager) TimeOut(runID string) (Run, error) {
	return m.finish(runID, RunStatusTimedOut, nil, "", "run timed out")
}

func (m *Manager) finish(runID string, status RunStatus, chain []string, finalOutput, detail string) (Run, error) {
	now := time.Now().UTC()

	m.mu.Lock()
	defer m.mu.Unlock()

	run, ok := m.runs[runID]
	if !ok {
		return Run{}, ErrRunNotFound
	}
	if run.Terminal() {
		return run.Clone(), nil
	}
	run.Status = status
	run.UpdatedAt = now
	run.EndedAt = &now
	if len(chain) > 0 {
		run.AgentChain = append([]string(nil), chain...)
	}
	run.FinalOutput = strings.TrimSpace(finalOutput)
	run.Error = strings.TrimSpace(detail)

	evtType := EventRunCompleted
	if status != RunStatusSucceeded {
		evtType = EventRunFailed
	}
	m.publishLocked(runID, Event{
		Type:        evtType,
		RunID:       runID,
		Status:      status,
		AgentChain:  run.AgentChain,
		FinalOutput: run.FinalOutput,
		TotalPaid:   run.TotalPaid,
		Detail:      run.Error,
		At:          now,
	})
	m.persistRun(run.Clone())
	return run.Clone(), nil
}

func (m *Manager) SetChain(runID string, chain []string) error {
	now := time.Now().UTC()

	m.mu.Lock()
	defer m.mu.Unlock()

	run, ok := m.runs[runID]
	if !ok {
		return ErrRunNotFound
	}
	run.AgentChain = append([]string(nil), chain...)
	run.UpdatedAt = now
	return nil
}

func (m *Manager) Get(runID string) (Run, error) {
	runID = strings.TrimSpace(runID)
	if runID == "" {
		return Run{}, errors.New("run_id is required")
	}
	m.mu.RLock()
	run, ok := m.runs[runID]
	var snapshot Run
	if ok && run != nil {
		snapshot = run.Clone()
	}
	store := m.store
	m.mu.RUnlock()
	if ok {
		return snapshot, nil
	}
	if store == nil {
		return Run{}, ErrRunNotFound
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	persisted, err := store.GetRun(ctx, runID)
	if err != nil {
		if errors.Is(err, ErrStoreNotFound) {
			return Run{}, ErrRunNotFound
		}
		return Run{}, err
	}
	return persisted.Clone(), nil
}

// List returns runs newest-first, capped at limit.
func (m *Manager) List(limit int) []Run {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]Run, 0, len(m.order))
	for i := len(m.order) - 1; i >= 0; i-- {
		if r, ok := m.runs[m.order[i]]; ok && r != nil {
			out = append(out, r.Clone())
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if limit > 0 && limit < len(out) {
		out = out[:limit]
	}
	return out
}

func (m *Manager) ListEvents(runID string, limit int) ([]Event, error) {
	runID = strings.TrimSpace(runID)
	if runID == "" {
		return nil, errors.New("run_id is required")
	}
	if _, err := m.Get(runID); err != nil {
		return nil, err
	}

	m.mu.RLock()
	events := m.eventsByRun[runID]
	if len(events) == 0 {
		m.mu.RUnlock()
		return []Event{}, nil
	}
	start := 0
	if limit > 0 && limit < len(events) {
		start = len(events) - limit
	}
	out := make([]Event, len(events)-start)
	copy(out, events[start:])
	m.mu.RUnlock()
	return out, nil
}

// StartJanitor prunes terminal runs once they age past the retention
// window. Live runs are never pruned.
func (m *Manager) StartJanitor(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.pruneExpired()
			}
		}
	}()
}

func (m *Manager) ActiveCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	count := 0
	for _, r := range m.runs {
		if !r.Terminal() {
			count++
		}
	}
	return count
}

func (m *Manager) pruneExpired() {
	now := time.Now().UTC()

	m.mu.Lock()
	defer m.mu.Unlock()

	kept := m.order[:0]
	for _, id := range m.order {
		run := m.runs[id]
		if run == nil {
			continue
		}
		if run.Terminal() && run.EndedAt != nil && now.Sub(*run.EndedAt) > m.retention {
			delete(m.runs, id)
			delete(m.eventsByRun, id)
			continue
		}
		kept = append(kept, id)
	}
	m.order = append([]string(nil), kept...)
}

func (m *Manager) persistRun(run Run) {
	store := m.store
	if store == nil {
		return
	}

	go func(snapshot Run) {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = store.SaveRun(ctx, snapshot)
	}(run)
}

func (m *Manager) publishLocked(runID string, evt Event) {
	m.eventsByRun[runID] = append(m.eventsByRun[runID], evt)
	if max := m.eventHistoryMax; max > 0 && len(m.eventsByRun[runID]) > max {
		trimFrom := len(m.eventsByRun[runID]) - max
		m.eventsByRun[runID] = append([]Event(nil), m.eventsByRun[runID][trimFrom:]...)
	}

	subs := m.subscribers[runID]
	if len(subs) == 0 {
		return
	}
	for _, ch := range subs {
		select {
		case ch <- evt:
		default:
		}
	}
}
