package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// MessageType identifies websocket payload variants.
type MessageType string

const (
	TypeClientSubmitRun  MessageType = "client_submit_run"
	TypeClientCancelRun  MessageType = "client_cancel_run"
	TypeRunSubmitted     MessageType = "run_submitted"
	TypeRunLog           MessageType = "run_log"
	TypePaymentSent      MessageType = "payment_sent"
	TypeConnectionStatus MessageType = "connection_status"
	TypeRunComplete      MessageType = "run_complete"
	TypeErrorEvent       MessageType = "error_event"
)

var ErrUnsupportedType = errors.New("unsupported message type")

type Envelope struct {
	Type MessageType `json:"type"`
}

type ClientSubmitRun struct {
	Type            MessageType `json:"type"`
	TaskDescription string      `json:"task_description"`
}

type ClientCancelRun struct {
	Type   MessageType `json:"type"`
	RunID  string      `json:"run_id"`
	Reason string      `json:"reason,omitempty"`
}

type RunSubmitted struct {
	Type            MessageType `json:"type"`
	RunID           string      `json:"run_id"`
	TaskDescription string      `json:"task_description"`
	Status          string      `json:"status"`
	At              time.Time   `json:"at"`
}

type RunLog struct {
	Type      MessageType `json:"type"`
	RunID     string      `json:"run_id"`
	LogPrefix string      `json:"log_prefix,omitempty"`
	Text      string      `json:"text"`
	At        time.Time   `json:"at"`
}

type PaymentSent struct {
	Type      MessageType `json:"type"`
	RunID     string      `json:"run_id"`
	From      string      `json:"from"`
	To        string      `json:"to"`
	Amount    float64     `json:"amount"`
	TxHash    string      `json:"tx_hash,omitempty"`
	Simulated bool        `json:"simulated"`
	At        time.Time   `json:"at"`
}

type ConnectionStatus struct {
	Type   MessageType `json:"type"`
	Status string      `json:"status"`
	At     time.Time   `json:"at"`
}

type RunComplete struct {
	Type        MessageType `json:"type"`
	RunID       string      `json:"run_id"`
	Status      string      `json:"status"`
	AgentChain  []string    `json:"agent_chain,omitempty"`
	FinalOutput string      `json:"final_output,omitempty"`
	TotalPaid   float64     `json:"total_paid"`
	Error       string      `json:"error,omitempty"`
	At          time.Time   `json:"at"`
}

type ErrorEvent struct {
	Type      MessageType `json:"type"`
	RunID     string      `json:"run_id,omitempty"`
	Code      string      `json:"code"`
	Retryable bool        `json:"retryable"`
	Detail    string      `json:"detail"`
}

// ParseClientMessage validates an inbound dashboard frame and returns
// the typed message.
func ParseClientMessage(raw []byte) (any, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("invalid envelope: %w", err)
	}

	switch env.Type {
	case TypeClientSubmitRun:
		var msg ClientSubmitRun
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		if strings.TrimSpace(msg.TaskDescription) == "" {
			return nil, errors.New("invalid client_submit_run: task_description is required")
		}
		return msg, nil
	case TypeClientCancelRun:
		var msg ClientCancelRun
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		if strings.TrimSpace(msg.RunID) == "" {
			return nil, errors.New("invalid client_cancel_run: run_id is required")
		}
		return msg, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedType, env.Type)
	}
}

// Marshal stamps the variant's type tag and encodes it.
func Marshal(msg any) ([]byte, error) {
	switch v := msg.(type) {
	case RunSubmitted:
		v.Type = TypeRunSubmitted
		return json.Marshal(v)
	case RunLog:
		v.Type = TypeRunLog
		return json.Marshal(v)
	case PaymentSent:
		v.Type = TypePaymentSent
		return json.Marshal(v)
	case ConnectionStatus:
		v.Type = TypeConnectionStatus
		return json.Marshal(v)
	case RunComplete:
		v.Type = TypeRunComplete
		return json.Marshal(v)
	case ErrorEvent:
		v.Type = TypeErrorEvent
		return json.Marshal(v)
	default:
		return nil, fmt.Errorf("%w: %T", ErrUnsupportedType, msg)
	}
}
