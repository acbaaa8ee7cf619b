package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config contains all runtime settings for the Synapse network service.
type Config struct {
	BindAddr         string
	ShutdownTimeout  time.Duration
	MetricsNamespace string

	AllowAnyOrigin bool

	BackendURL        string
	RunTimeout        time.Duration
	ReconnectAttempts int
	ReconnectDelay    time.Duration

	XRPLEndpoint      string
	XRPLFaucetURL     string
	MainWalletAddress string

	WalletProvider  string
	WalletStorePath string

	PaymentDelay    time.Duration
	PaymentCurrency string
	RunRetention    time.Duration

	DatabaseURL string
}

// Load reads environment variables and applies safe defaults.
func Load() (Config, error) {
	cfg := Config{
		BindAddr:         envOrDefault("SYNAPSE_BIND_ADDR", ":8090"),
		MetricsNamespace: envOrDefault("SYNAPSE_METRICS_NAMESPACE", "synapse"),
		AllowAnyOrigin:   false,
		// Remote CrewAI execution backend (kickoff HTTP + event websocket).
		BackendURL: envOrDefault("SYNAPSE_BACKEND_URL", "http://localhost:8080"),
		// XRPL testnet websocket endpoint and the faucet that funds demo wallets.
		XRPLEndpoint:      envOrDefault("SYNAPSE_XRPL_URL", "wss://s.altnet.rippletest.net:51233"),
		XRPLFaucetURL:     envOrDefault("SYNAPSE_XRPL_FAUCET_URL", "https://faucet.altnet.rippletest.net/accounts"),
		MainWalletAddress: envOrDefault("SYNAPSE_MAIN_WALLET_ADDRESS", "rMV5cxLAKs8SuoZ8Ly8geGVonzbzQBbdM4"),
		PaymentCurrency:   envOrDefault("SYNAPSE_PAYMENT_CURRENCY", "SYN"),
		WalletProvider:    envOrDefault("SYNAPSE_WALLET_PROVIDER", "auto"),
		WalletStorePath:   envOrDefault("SYNAPSE_WALLET_STORE_PATH", ".synapse/wallets.json"),
		DatabaseURL:       stringsTrimSpace("DATABASE_URL"),
		RunTimeout:        5 * time.Minute,
		ReconnectAttempts: 5,
		ReconnectDelay:    3 * time.Second,
		PaymentDelay:      1500 * time.Millisecond,
		RunRetention:      30 * time.Minute,
		ShutdownTimeout:   15 * time.Second,
	}
	var err error
	cfg.ShutdownTimeout, err = durationFromEnv("APP_SHUTDOWN_TIMEOUT", cfg.ShutdownTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.RunTimeout, err = durationFromEnv("SYNAPSE_RUN_TIMEOUT", cfg.RunTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.ReconnectDelay, err = durationFromEnv("SYNAPSE_RECONNECT_DELAY", cfg.ReconnectDelay)
	if err != nil {
		return Config{}, err
	}
	cfg.PaymentDelay, err = durationFromEnv("SYNAPSE_PAYMENT_DELAY", cfg.PaymentDelay)
	if err != nil {
		return Config{}, err
	}
	cfg.RunRetention, err = durationFromEnv("SYNAPSE_RUN_RETENTION", cfg.RunRetention)
	if err != nil {
		return Config{}, err
	}
	cfg.ReconnectAttempts, err = intFromEnv("SYNAPSE_RECONNECT_ATTEMPTS", cfg.ReconnectAttempts)
	if err != nil {
		return Config{}, err
	}
	cfg.AllowAnyOrigin, err = boolFromEnv("SYNAPSE_ALLOW_ANY_ORIGIN", cfg.AllowAnyOrigin)
	if err != nil {
		return Config{}, err
	}

	if strings.TrimSpace(cfg.BackendURL) == "" {
		return Config{}, fmt.Errorf("SYNAPSE_BACKEND_URL must not be empty")
	}
	if cfg.RunTimeout < 10*time.Second {
		return Config{}, fmt.Errorf("SYNAPSE_RUN_TIMEOUT must be at least 10s")
	}
	if cfg.ReconnectAttempts < 0 {
		return Config{}, fmt.Errorf("SYNAPSE_RECONNECT_ATTEMPTS must be >= 0")
	}
	if cfg.ReconnectDelay <= 0 {
		return Config{}, fmt.Errorf("SYNAPSE_RECONNECT_DELAY must be positive")
	}
	if cfg.PaymentDelay < 0 {
		return Config{}, fmt.Errorf("SYNAPSE_PAYMENT_DELAY must be >= 0")
	}

	switch strings.ToLower(strings.TrimSpace(cfg.WalletProvider)) {
	case "auto", "xrpl", "local":
	default:
		return Config{}, fmt.Errorf("invalid SYNAPSE_WALLET_PROVIDER: %q (expected auto|xrpl|local)", cfg.WalletProvider)
	}

	return cfg, nil
}

func envOrDefault(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}

func stringsTrimSpace(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}

func durationFromEnv(key string, fallback time.Duration) (time.Duration, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return d, nil
}

func intFromEnv(key string, fallback int) (int, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return n, nil
}

func boolFromEnv(key string, fallback bool) (bool, error) {
	v := strings.ToLower(stringsTrimSpace(key))
	if v == "" {
		return fallback, nil
	}
	switch v {
	case "1", "true", "t", "yes", "y", "on":
		return true, nil
	case "0", "false", "f", "no", "n", "off":
		return false, nil
	default:
		return false, fmt.Errorf("%s parse error: expected bool", key)
	}
}
