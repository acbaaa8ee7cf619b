package app

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/Synapse-Labs-X/synapse-protocol-sub000/internal/config"
	"github.com/Synapse-Labs-X/synapse-protocol-sub000/internal/crewai"
	"github.com/Synapse-Labs-X/synapse-protocol-sub000/internal/httpapi"
	"github.com/Synapse-Labs-X/synapse-protocol-sub000/internal/observability"
	"github.com/Synapse-Labs-X/synapse-protocol-sub000/internal/payments"
	"github.com/Synapse-Labs-X/synapse-protocol-sub000/internal/wallet"
	"github.com/Synapse-Labs-X/synapse-protocol-sub000/internal/workflow"
	"github.com/Synapse-Labs-X/synapse-protocol-sub000/internal/xrpl"
)

type BuildResult struct {
	Config     config.Config
	API        *httpapi.Server
	Conn       *crewai.Manager
	Runs       *workflow.Service
	Wallets    *wallet.Service
	Ledger     *xrpl.Client
	Metrics    *observability.Metrics
	WalletMode string

	// Cleanup should be called on shutdown to release external resources
	// (DB pool, sockets).
	Cleanup func() error
}

func Build(ctx context.Context, cfg config.Config) (*BuildResult, error) {
	_ = ctx
	metrics := observability.NewMetrics(cfg.MetricsNamespace)

	conn, err := crewai.NewManager(crewai.ManagerOptions{
		BackendURL:        cfg.BackendURL,
		ReconnectAttempts: cfg.ReconnectAttempts,
		ReconnectDelay:    cfg.ReconnectDelay,
		OnStatusChange: func(status crewai.Status) {
			metrics.SetBackendConnected(status == crewai.StatusConnected)
			if status == crewai.StatusConnecting {
				metrics.ReconnectsTotal.Inc()
			}
		},
	})
	if err != nil {
		return nil, fmt.Errorf("backend connection init failed: %w", err)
	}

	executor := crewai.NewClient(cfg.BackendURL, conn, cfg.RunTimeout)

	provider, walletMode, err := wallet.SelectProvider(cfg.WalletProvider, cfg.XRPLFaucetURL)
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("wallet provider init failed: %w", err)
	}
	wallets := wallet.NewService(provider, wallet.NewFileStore(cfg.WalletStorePath))

	var ledger *xrpl.Client
	if strings.TrimSpace(cfg.XRPLEndpoint) != "" {
		ledger = xrpl.NewClient(cfg.XRPLEndpoint)
	}

	var settle payments.Ledger = payments.SimulatedLedger{}
	if ledger != nil {
		settle = payments.NewXRPLLedger(ledger, cfg.PaymentCurrency, cfg.MainWalletAddress)
	}
	engine := payments.NewEngine(wallets, settle, cfg.PaymentDelay)

	runs := workflow.New(workflow.Config{
		RunTimeout:   cfg.RunTimeout,
		RunRetention: cfg.RunRetention,
		DatabaseURL:  cfg.DatabaseURL,
	}, executor, nil, engine, metrics)

	executor.OnKickoff = func(d time.Duration) {
		runs.ObserveStage("kickoff", d)
	}

	api := httpapi.New(cfg, conn, runs, wallets, ledger, metrics)

	cleanup := func() error {
		var errs []string
		if err := runs.Close(); err != nil {
			errs = append(errs, err.Error())
		}
		if ledger != nil {
			if err := ledger.Close(); err != nil {
				errs = append(errs, err.Error())
			}
		}
		if err := conn.Close(); err != nil {
			errs = append(errs, err.Error())
		}
		if len(errs) > 0 {
			return fmt.Errorf("%s", strings.Join(errs, "; "))
		}
		return nil
	}

	return &BuildResult{
		Config:     cfg,
		API:        api,
		Conn:       conn,
		Runs:       runs,
		Wallets:    wallets,
		Ledger:     ledger,
		Metrics:    metrics,
		WalletMode: walletMode,
		Cleanup:    cleanup,
	}, nil
}

// Start connects the backend socket and starts background maintenance.
// Connection failure is not fatal: the manager keeps its reconnect
// loop and the API reports degraded readiness until the backend is up.
func (b *BuildResult) Start(ctx context.Context) {
	b.Runs.StartJanitor(ctx, time.Minute)
	go func() {
		dialCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()
		if err := b.Conn.Connect(dialCtx); err != nil {
			log.Printf("backend connect failed (will retry on demand): %v", err)
		}
	}()
}
