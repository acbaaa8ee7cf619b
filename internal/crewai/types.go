package crewai

import "encoding/json"

// Status reflects the health of the shared backend connection.
type Status string

const (
	StatusConnected    Status = "connected"
	StatusDisconnected Status = "disconnected"
	StatusConnecting   Status = "connecting"
)

// Event names on the backend websocket channel.
const (
	eventJoinRoom    = "join_room"
	eventLeaveRoom   = "leave_room"
	eventLogUpdate   = "log_update"
	eventRunComplete = "run_complete"
	eventError       = "error"
)

// frame is the wire envelope for every message on the channel.
type frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

type roomPayload struct {
	RunID string `json:"run_id"`
}

type errorPayload struct {
	Message string `json:"message"`
}

// LogUpdate is an incremental execution event scoped to one run.
type LogUpdate struct {
	Type      string          `json:"type"`
	RunID     string          `json:"run_id"`
	LogPrefix string          `json:"log_prefix"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// HierarchyEntry is one named execution step reported by the backend.
// Level orders steps; entries without a level sort as level 0.
type HierarchyEntry struct {
	Name  string `json:"name"`
	Role  string `json:"role,omitempty"`
	Level *int   `json:"level,omitempty"`
}

// AgentUsage reports per-agent resource consumption for a run.
type AgentUsage struct {
	Agent  string `json:"agent"`
	Calls  int    `json:"calls,omitempty"`
	Tokens int    `json:"tokens,omitempty"`
}

type finalResult struct {
	AgentHierarchy []HierarchyEntry `json:"agent_hierarchy"`
	FinalOutput    string           `json:"final_output"`
	AgentUsage     []AgentUsage     `json:"agent_usage,omitempty"`
}

// runComplete is the terminal event for a run, success or failure.
type runComplete struct {
	RunID       string       `json:"run_id"`
	Status      string       `json:"status"`
	FinalResult *finalResult `json:"final_result,omitempty"`
	Error       string       `json:"error,omitempty"`
}

// RunResult is the structured outcome of one task execution.
// A backend-reported task failure yields Success=false with Error set;
// it is a legitimate business outcome, not a transport fault.
type RunResult struct {
	RunID           string           `json:"run_id"`
	TaskDescription string           `json:"task_description"`
	AgentHierarchy  []HierarchyEntry `json:"agent_hierarchy,omitempty"`
	FinalOutput     string           `json:"final_output,omitempty"`
	AgentUsage      []AgentUsage     `json:"agent_usage,omitempty"`
	Success         bool             `json:"success"`
	Error           string           `json:"error,omitempty"`
}
