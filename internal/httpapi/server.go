package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/Synapse-Labs-X/synapse-protocol-sub000/internal/config"
	"github.com/Synapse-Labs-X/synapse-protocol-sub000/internal/crewai"
	"github.com/Synapse-Labs-X/synapse-protocol-sub000/internal/observability"
	"github.com/Synapse-Labs-X/synapse-protocol-sub000/internal/wallet"
	"github.com/Synapse-Labs-X/synapse-protocol-sub000/internal/workflow"
	"github.com/Synapse-Labs-X/synapse-protocol-sub000/internal/xrpl"
)

type Server struct {
	cfg      config.Config
	conn     *crewai.Manager
	runs     *workflow.Service
	wallets  *wallet.Service
	ledger   *xrpl.Client
	metrics  *observability.Metrics
	upgrader websocket.Upgrader
}

func New(cfg config.Config, conn *crewai.Manager, runs *workflow.Service, wallets *wallet.Service, ledger *xrpl.Client, metrics *observability.Metrics) *Server {
	return &Server{
		cfg:     cfg,
		conn:    conn,
		runs:    runs,
		wallets: wallets,
		ledger:  ledger,
		metrics: metrics,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				// Default: only allow browser websocket connections from the same
				// origin. This prevents other websites from driving the user's
				// dashboard if Synapse is ever exposed beyond localhost.
				if cfg.AllowAnyOrigin {
					return true
				}
				origin := strings.TrimSpace(r.Header.Get("Origin"))
				if origin == "" {
					// Non-browser clients often omit Origin. Allow them.
					return true
				}
				u, err := url.Parse(origin)
				if err != nil {
					return false
				}
				if u.Scheme != "http" && u.Scheme != "https" {
					return false
				}
				return strings.EqualFold(u.Host, r.Host)
			},
		},
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", s.handleHealth)
	r.Get("/readyz", s.handleReady)
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		observability.MetricsHandler().ServeHTTP(w, r)
	})

	r.Get("/v1/agents", s.handleListAgents)
	r.Get("/v1/agents/{id}/wallet", s.handleAgentWallet)
	r.Get("/v1/network/status", s.handleNetworkStatus)
	r.Get("/v1/perf/latency", s.handlePerfLatency)
	r.Post("/v1/runs", s.handleSubmitRun)
	r.Get("/v1/runs", s.handleListRuns)
	r.Get("/v1/runs/ws", s.handleRunWS)
	r.Get("/v1/runs/{id}", s.handleGetRun)
	r.Post("/v1/runs/{id}/cancel", s.handleCancelRun)
	r.Get("/v1/runs/{id}/events", s.handleListRunEvents)

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status":         "ok",
		"backend_status": string(s.backendStatus()),
		"run_store_mode": s.runStoreMode(),
	})
}

func (s *Server) handleReady(w http.ResponseWriter, _ *http.Request) {
	status := http.StatusOK
	ready := "ready"
	if s.backendStatus() == crewai.StatusDisconnected {
		// Runs cannot be kicked off without the backend socket; readiness
		// reflects that even though the API itself is up.
		status = http.StatusServiceUnavailable
		ready = "degraded"
	}
	respondJSON(w, status, map[string]any{
		"status":         ready,
		"backend_status": string(s.backendStatus()),
		"run_store_mode": s.runStoreMode(),
		"active_runs":    s.runs.ActiveRunCount(),
	})
}

func (s *Server) handlePerfLatency(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, s.runs.StageSnapshot())
}

func (s *Server) backendStatus() crewai.Status {
	if s.conn == nil {
		return crewai.StatusDisconnected
	}
	return s.conn.Status()
}

func (s *Server) runStoreMode() string {
	if s.runs == nil {
		return "disabled"
	}
	mode := strings.TrimSpace(s.runs.StoreMode())
	if mode == "" {
		return "disabled"
	}
	return mode
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

var errEmptyBody = errors.New("empty body")

func decodeJSON(r *http.Request, out any) error {
	if r.Body == nil {
		return errEmptyBody
	}
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(out); err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "eof") {
			return errEmptyBody
		}
		return err
	}
	return nil
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, errorResponse{Error: message, Code: code})
}
