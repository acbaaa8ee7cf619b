package httpapi

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
)

type agentView struct {
	ID      string  `json:"id"`
	Name    string  `json:"name"`
	Type    string  `json:"type"`
	Cost    float64 `json:"cost"`
	Balance float64 `json:"balance"`
	Address string  `json:"address,omitempty"`
}

func (s *Server) handleListAgents(w http.ResponseWriter, _ *http.Request) {
	addresses := map[string]string{}
	if s.wallets != nil {
		addresses = s.wallets.Addresses()
	}

	roster := s.runs.Roster().All()
	out := make([]agentView, 0, len(roster))
	for _, a := range roster {
		out = append(out, agentView{
			ID:      a.ID,
			Name:    a.Name,
			Type:    string(a.Type),
			Cost:    a.Cost,
			Balance: a.Balance,
			Address: addresses[a.ID],
		})
	}
	respondJSON(w, http.StatusOK, map[string]any{"agents": out})
}

func (s *Server) handleAgentWallet(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(chi.URLParam(r, "id"))
	if id == "" {
		respondError(w, http.StatusBadRequest, "invalid_agent_id", "missing agent id")
		return
	}
	if _, ok := s.runs.Roster().Get(id); !ok {
		respondError(w, http.StatusNotFound, "agent_not_found", "unknown agent "+id)
		return
	}
	if s.wallets == nil {
		respondError(w, http.StatusNotImplemented, "wallets_disabled", "wallet provider is not configured")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()
	wlt, err := s.wallets.WalletFor(ctx, id)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "wallet_unavailable", err.Error())
		return
	}

	view := map[string]any{
		"agent_id": id,
		"address":  wlt.Address,
	}
	if s.ledger != nil {
		if balance, err := s.ledger.AccountBalance(ctx, wlt.Address); err == nil {
			view["ledger_balance"] = balance
		}
	}
	// Seed and key material never leave the service.
	respondJSON(w, http.StatusOK, view)
}

func (s *Server) handleNetworkStatus(w http.ResponseWriter, r *http.Request) {
	status := map[string]any{
		"backend_status": string(s.backendStatus()),
		"backend_url":    s.cfg.BackendURL,
		"xrpl_endpoint":  s.cfg.XRPLEndpoint,
		"main_wallet":    s.cfg.MainWalletAddress,
		"active_runs":    s.runs.ActiveRunCount(),
		"run_store_mode": s.runStoreMode(),
		"agent_count":    len(s.runs.Roster().All()),
	}
	if s.ledger != nil && strings.TrimSpace(s.cfg.MainWalletAddress) != "" {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()
		if balance, err := s.ledger.AccountBalance(ctx, s.cfg.MainWalletAddress); err == nil {
			status["main_wallet_balance"] = balance
		}
	}
	respondJSON(w, http.StatusOK, status)
}
