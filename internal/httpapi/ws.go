package httpapi

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Synapse-Labs-X/synapse-protocol-sub000/internal/crewai"
	"github.com/Synapse-Labs-X/synapse-protocol-sub000/internal/protocol"
	"github.com/Synapse-Labs-X/synapse-protocol-sub000/internal/runs"
)

// handleRunWS streams run and connection events to one dashboard
// client. The client may watch an existing run via ?run_id=, and may
// submit or cancel runs over the socket.
func (s *Server) handleRunWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	if s.metrics != nil {
		s.metrics.WSClients.Inc()
		defer s.metrics.WSClients.Dec()
	}

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	outbound := make(chan any, 256)
	send := func(msg any) {
		select {
		case outbound <- msg:
		default:
			// Keep websocket writes single-threaded; drop if the outbound
			// queue is saturated.
		}
	}

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-outbound:
				if !ok {
					return
				}
				raw, err := protocol.Marshal(msg)
				if err != nil {
					continue
				}
				_ = conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
				if err := conn.WriteMessage(websocket.TextMessage, raw); err != nil {
					cancel()
					return
				}
				if s.metrics != nil {
					var env protocol.Envelope
					env.Type = messageTypeOf(msg)
					s.metrics.WSMessages.WithLabelValues("outbound", string(env.Type)).Inc()
				}
			}
		}
	}()

	cancelStatus := s.conn.SubscribeStatus(func(status crewai.Status) {
		send(protocol.ConnectionStatus{Status: string(status), At: time.Now().UTC()})
	})
	defer cancelStatus()

	var subMu sync.Mutex
	cancels := make([]func(), 0, 4)
	defer func() {
		subMu.Lock()
		defer subMu.Unlock()
		for _, c := range cancels {
			c()
		}
	}()

	// The run may already be producing events by the time the client
	// subscribes; replay history after subscribing. The overlap window can
	// duplicate an event, which the dashboard tolerates.
	watch := func(runID string) {
		ch, cancelSub := s.runs.Subscribe(runID)
		subMu.Lock()
		cancels = append(cancels, cancelSub)
		subMu.Unlock()
		if backlog, err := s.runs.ListRunEvents(runID, 0); err == nil {
			for _, evt := range backlog {
				if msg, ok := runEventMessage(evt); ok {
					send(msg)
				}
			}
		}
		go func() {
			for {
				select {
				case <-ctx.Done():
					return
				case evt, ok := <-ch:
					if !ok {
						return
					}
					if msg, ok := runEventMessage(evt); ok {
						send(msg)
					}
				}
			}
		}()
	}

	if runID := strings.TrimSpace(r.URL.Query().Get("run_id")); runID != "" {
		if _, err := s.runs.GetRun(runID); err != nil {
			send(protocol.ErrorEvent{RunID: runID, Code: "run_not_found", Detail: err.Error()})
		} else {
			watch(runID)
		}
	}

	conn.SetReadLimit(1 << 20)
	_ = conn.SetReadDeadline(time.Now().Add(120 * time.Second))
	conn.SetPongHandler(func(string) error {
		_ = conn.SetReadDeadline(time.Now().Add(120 * time.Second))
		return nil
	})

	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			break
		}
		if msgType != websocket.TextMessage {
			continue
		}
		parsed, err := protocol.ParseClientMessage(data)
		if err != nil {
			send(protocol.ErrorEvent{Code: "invalid_client_message", Detail: err.Error()})
			continue
		}
		if s.metrics != nil {
			s.metrics.WSMessages.WithLabelValues("inbound", string(messageTypeOf(parsed))).Inc()
		}

		switch msg := parsed.(type) {
		case protocol.ClientSubmitRun:
			run, err := s.runs.SubmitRun(ctx, msg.TaskDescription)
			if err != nil {
				send(protocol.ErrorEvent{Code: "submit_failed", Detail: err.Error()})
				continue
			}
			watch(run.ID)
			send(protocol.RunSubmitted{
				RunID:           run.ID,
				TaskDescription: run.TaskDescription,
				Status:          string(run.Status),
				At:              run.CreatedAt,
			})
		case protocol.ClientCancelRun:
			if _, err := s.runs.CancelRun(msg.RunID, msg.Reason); err != nil {
				send(protocol.ErrorEvent{RunID: msg.RunID, Code: "cancel_failed", Detail: err.Error()})
			}
		}
	}

	cancel()
	<-writerDone
}

func runEventMessage(evt runs.Event) (any, bool) {
	switch evt.Type {
	case runs.EventRunCreated:
		return protocol.RunSubmitted{
			RunID:           evt.RunID,
			TaskDescription: evt.Detail,
			Status:          string(evt.Status),
			At:              evt.At,
		}, true
	case runs.EventRunStarted:
		return protocol.RunLog{RunID: evt.RunID, Text: "run started", At: evt.At}, true
	case runs.EventRunLog:
		return protocol.RunLog{
			RunID:     evt.RunID,
			LogPrefix: evt.LogPrefix,
			Text:      evt.TextDelta,
			At:        evt.At,
		}, true
	case runs.EventRunPayment:
		if evt.Payment == nil {
			return nil, false
		}
		return protocol.PaymentSent{
			RunID:     evt.RunID,
			From:      evt.Payment.From,
			To:        evt.Payment.To,
			Amount:    evt.Payment.Amount,
			TxHash:    evt.Payment.TxHash,
			Simulated: evt.Payment.Simulated,
			At:        evt.Payment.At,
		}, true
	case runs.EventRunCompleted, runs.EventRunFailed:
		return protocol.RunComplete{
			RunID:       evt.RunID,
			Status:      string(evt.Status),
			AgentChain:  evt.AgentChain,
			FinalOutput: evt.FinalOutput,
			TotalPaid:   evt.TotalPaid,
			Error:       evt.Detail,
			At:          evt.At,
		}, true
	default:
		return nil, false
	}
}

func messageTypeOf(v any) protocol.MessageType {
	switch m := v.(type) {
	case protocol.ClientSubmitRun:
		return m.Type
	case protocol.ClientCancelRun:
		return m.Type
	case protocol.RunSubmitted:
		return protocol.TypeRunSubmitted
	case protocol.RunLog:
		return protocol.TypeRunLog
	case protocol.PaymentSent:
		return protocol.TypePaymentSent
	case protocol.ConnectionStatus:
		return protocol.TypeConnectionStatus
	case protocol.RunComplete:
		return protocol.TypeRunComplete
	case protocol.ErrorEvent:
		return protocol.TypeErrorEvent
	default:
		return ""
	}
}
