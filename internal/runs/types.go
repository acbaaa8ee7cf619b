package runs

import "time"

type RunStatus string

const (
	RunStatusPending   RunStatus = "pending"
	RunStatusRunning   RunStatus = "running"
	RunStatusSucceeded RunStatus = "succeeded"
	RunStatusFailed    RunStatus = "failed"
	RunStatusTimedOut  RunStatus = "timed_out"
)

// Payment records one settled hop of a run's agent chain.
type Payment struct {
	From      string    `json:"from"`
	To        string    `json:"to"`
	Amount    float64   `json:"amount"`
	TxHash    string    `json:"tx_hash,omitempty"`
	Simulated bool      `json:"simulated"`
	At        time.Time `json:"at"`
}

type Run struct {
	ID              string     `json:"id"`
	TaskDescription string     `json:"task_description"`
	Status          RunStatus  `json:"status"`
	AgentChain      []string   `json:"agent_chain,omitempty"`
	FinalOutput     string     `json:"final_output,omitempty"`
	Error           string     `json:"error,omitempty"`
	Payments        []Payment  `json:"payments,omitempty"`
	TotalPaid       float64    `json:"total_paid"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
	StartedAt       *time.Time `json:"started_at,omitempty"`
	EndedAt         *time.Time `json:"ended_at,omitempty"`
}

type EventType string

const (
	EventRunCreated   EventType = "run_created"
	EventRunStarted   EventType = "run_started"
	EventRunLog       EventType = "run_log"
	EventRunPayment   EventType = "run_payment"
	EventRunCompleted EventType = "run_completed"
	EventRunFailed    EventType = "run_failed"
)

type Event struct {
	Type        EventType `json:"type"`
	RunID       string    `json:"run_id"`
	Status      RunStatus `json:"status,omitempty"`
	LogPrefix   string    `json:"log_prefix,omitempty"`
	TextDelta   string    `json:"text_delta,omitempty"`
	Payment     *Payment  `json:"payment,omitempty"`
	AgentChain  []string  `json:"agent_chain,omitempty"`
	FinalOutput string    `json:"final_output,omitempty"`
	TotalPaid   float64   `json:"total_paid,omitempty"`
	Detail      string    `json:"detail,omitempty"`
	At          time.Time `json:"at"`
}

func (r Run) Clone() Run {
	out := r
	if r.AgentChain != nil {
		out.AgentChain = make([]string, len(r.AgentChain))
		copy(out.AgentChain, r.AgentChain)
	}
	if r.Payments != nil {
		out.Payments = make([]Payment, len(r.Payments))
		copy(out.Payments, r.Payments)
	}
	return out
}

func (r Run) Terminal() bool {
	switch r.Status {
	case RunStatusSucceeded, RunStatusFailed, RunStatusTimedOut:
		return true
	default:
		return false
	}
}
