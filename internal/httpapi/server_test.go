package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Synapse-Labs-X/synapse-protocol-sub000/internal/config"
	"github.com/Synapse-Labs-X/synapse-protocol-sub000/internal/crewai"
	"github.com/Synapse-Labs-X/synapse-protocol-sub000/internal/payments"
	"github.com/Synapse-Labs-X/synapse-protocol-sub000/internal/protocol"
	"github.com/Synapse-Labs-X/synapse-protocol-sub000/internal/wallet"
	"github.com/Synapse-Labs-X/synapse-protocol-sub000/internal/workflow"
)

type stubExecutor struct {
	result crewai.RunResult
	err    error
}

func (f *stubExecutor) ExecuteTask(ctx context.Context, runID, taskDescription string, onLog func(crewai.LogUpdate)) (crewai.RunResult, error) {
	if f.err != nil {
		return crewai.RunResult{}, f.err
	}
	if onLog != nil {
		onLog(crewai.LogUpdate{RunID: runID, LogPrefix: "[Crew]", Data: json.RawMessage(`"working"`)})
	}
	out := f.result
	out.RunID = runID
	out.TaskDescription = taskDescription
	return out, nil
}

func newTestServer(t *testing.T, exec workflow.Executor) *Server {
	t.Helper()
	cfg := config.Config{
		BackendURL:        "http://backend.invalid",
		MainWalletAddress: "rMV5cxLAKs8SuoZ8Ly8geGVonzbzQBbdM4",
	}
	conn, err := crewai.NewManager(crewai.ManagerOptions{
		BackendURL:        cfg.BackendURL,
		ReconnectAttempts: 1,
		ReconnectDelay:    time.Millisecond,
	})
	if err != nil {
		t.Fatalf("NewManager() error = %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })

	store := wallet.NewFileStore(filepath.Join(t.TempDir(), "wallets.json"))
	wallets := wallet.NewService(wallet.LocalProvider{}, store)
	engine := payments.NewEngine(wallets, payments.SimulatedLedger{}, 0)

	svc := workflow.New(workflow.Config{RunTimeout: 2 * time.Second}, exec, nil, engine, nil)
	t.Cleanup(func() { _ = svc.Close() })

	return New(cfg, conn, svc, wallets, nil, nil)
}

func successExecutor() *stubExecutor {
	return &stubExecutor{
		result: crewai.RunResult{
			Success:     true,
			FinalOutput: "all done",
			AgentHierarchy: []crewai.HierarchyEntry{
				{Name: "Orchestrator"},
				{Name: "Text Generator"},
			},
		},
	}
}

func TestHealthEndpoint(t *testing.T) {
	srv := newTestServer(t, successExecutor())
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/healthz")
	if err != nil {
		t.Fatalf("GET /healthz error = %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	var body map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode error = %v", err)
	}
	if body["status"] != "ok" {
		t.Fatalf("status field = %v", body["status"])
	}
	if body["run_store_mode"] != "in-memory" {
		t.Fatalf("run_store_mode = %v, want in-memory", body["run_store_mode"])
	}
}

func TestReadyReportsDegradedWithoutBackend(t *testing.T) {
	srv := newTestServer(t, successExecutor())
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/readyz")
	if err != nil {
		t.Fatalf("GET /readyz error = %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503 while disconnected", resp.StatusCode)
	}
}

func TestListAgents(t *testing.T) {
	srv := newTestServer(t, successExecutor())
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/v1/agents")
	if err != nil {
		t.Fatalf("GET /v1/agents error = %v", err)
	}
	defer resp.Body.Close()
	var body struct {
		Agents []agentView `json:"agents"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode error = %v", err)
	}
	if len(body.Agents) != 8 {
		t.Fatalf("got %d agents, want 8", len(body.Agents))
	}
	if body.Agents[0].ID != "main-orchestrator" {
		t.Fatalf("first agent = %q, want orchestrator", body.Agents[0].ID)
	}
}

func TestAgentWalletHidesSecrets(t *testing.T) {
	srv := newTestServer(t, successExecutor())
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/v1/agents/text-generator/wallet")
	if err != nil {
		t.Fatalf("GET wallet error = %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	var body map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode error = %v", err)
	}
	addr, _ := body["address"].(string)
	if !strings.HasPrefix(addr, "r") {
		t.Fatalf("address = %q, want classic address", addr)
	}
	for _, k := range []string{"seed", "privateKey", "private_key"} {
		if _, ok := body[k]; ok {
			t.Fatalf("wallet response leaks %q", k)
		}
	}
}

func TestAgentWalletUnknownAgent(t *testing.T) {
	srv := newTestServer(t, successExecutor())
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/v1/agents/nobody/wallet")
	if err != nil {
		t.Fatalf("GET wallet error = %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", resp.StatusCode)
	}
}

func TestSubmitAndFetchRun(t *testing.T) {
	srv := newTestServer(t, successExecutor())
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	payload := bytes.NewBufferString(`{"task_description":"write a story"}`)
	resp, err := http.Post(ts.URL+"/v1/runs", "application/json", payload)
	if err != nil {
		t.Fatalf("POST /v1/runs error = %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("status = %d, want 202", resp.StatusCode)
	}
	var submitted submitRunResponse
	if err := json.NewDecoder(resp.Body).Decode(&submitted); err != nil {
		t.Fatalf("decode error = %v", err)
	}
	if submitted.RunID == "" || submitted.Status != "pending" {
		t.Fatalf("unexpected submit response: %+v", submitted)
	}

	deadline := time.Now().Add(3 * time.Second)
	for {
		getResp, err := http.Get(ts.URL + "/v1/runs/" + submitted.RunID)
		if err != nil {
			t.Fatalf("GET run error = %v", err)
		}
		var run map[string]any
		if err := json.NewDecoder(getResp.Body).Decode(&run); err != nil {
			t.Fatalf("decode run error = %v", err)
		}
		getResp.Body.Close()
		status, _ := run["status"].(string)
		if status == "succeeded" {
			if run["final_output"] != "all done" {
				t.Fatalf("final_output = %v", run["final_output"])
			}
			break
		}
		if status == "failed" || status == "timed_out" {
			t.Fatalf("run ended %q: %v", status, run["error"])
		}
		if time.Now().After(deadline) {
			t.Fatalf("run never finished, last status %q", status)
		}
		time.Sleep(10 * time.Millisecond)
	}

	eventsResp, err := http.Get(ts.URL + "/v1/runs/" + submitted.RunID + "/events")
	if err != nil {
		t.Fatalf("GET events error = %v", err)
	}
	defer eventsResp.Body.Close()
	var events struct {
		Events []map[string]any `json:"events"`
	}
	if err := json.NewDecoder(eventsResp.Body).Decode(&events); err != nil {
		t.Fatalf("decode events error = %v", err)
	}
	if len(events.Events) < 3 {
		t.Fatalf("got %d events, want at least created/log/completed", len(events.Events))
	}
}

func TestSubmitRunRejectsBlankDescription(t *testing.T) {
	srv := newTestServer(t, successExecutor())
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	resp, err := http.Post(ts.URL+"/v1/runs", "application/json", bytes.NewBufferString(`{"task_description":"  "}`))
	if err != nil {
		t.Fatalf("POST /v1/runs error = %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
}

func TestGetRunNotFound(t *testing.T) {
	srv := newTestServer(t, successExecutor())
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/v1/runs/ghost")
	if err != nil {
		t.Fatalf("GET run error = %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", resp.StatusCode)
	}
}

func TestRunWSSubmitStreamsLifecycle(t *testing.T) {
	srv := newTestServer(t, successExecutor())
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/v1/runs/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("ws dial error = %v", err)
	}
	defer conn.Close()

	if err := conn.WriteJSON(protocol.ClientSubmitRun{
		Type:            protocol.TypeClientSubmitRun,
		TaskDescription: "summarize the news",
	}); err != nil {
		t.Fatalf("write submit error = %v", err)
	}

	seen := map[protocol.MessageType]bool{}
	deadline := time.Now().Add(3 * time.Second)
	for !seen[protocol.TypeRunComplete] {
		if time.Now().After(deadline) {
			t.Fatalf("never saw run_complete; saw %v", seen)
		}
		_ = conn.SetReadDeadline(time.Now().Add(time.Second))
		_, raw, err := conn.ReadMessage()
		if err != nil {
			t.Fatalf("read error = %v (saw %v)", err, seen)
		}
		var env protocol.Envelope
		if err := json.Unmarshal(raw, &env); err != nil {
			t.Fatalf("bad frame %s: %v", raw, err)
		}
		seen[env.Type] = true
	}

	for _, want := range []protocol.MessageType{
		protocol.TypeConnectionStatus,
		protocol.TypeRunSubmitted,
		protocol.TypeRunLog,
		protocol.TypePaymentSent,
		protocol.TypeRunComplete,
	} {
		if !seen[want] {
			t.Fatalf("missing %q in stream; saw %v", want, seen)
		}
	}
}

func TestRunWSRejectsGarbage(t *testing.T) {
	srv := newTestServer(t, successExecutor())
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/v1/runs/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("ws dial error = %v", err)
	}
	defer conn.Close()

	if err := conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"bogus"}`)); err != nil {
		t.Fatalf("write error = %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for {
		if time.Now().After(deadline) {
			t.Fatal("never saw error_event")
		}
		_ = conn.SetReadDeadline(time.Now().Add(time.Second))
		_, raw, err := conn.ReadMessage()
		if err != nil {
			t.Fatalf("read error = %v", err)
		}
		var env protocol.Envelope
		if err := json.Unmarshal(raw, &env); err != nil {
			t.Fatalf("bad frame: %v", err)
		}
		if env.Type == protocol.TypeErrorEvent {
			return
		}
	}
}
