// Command runprobe submits synthetic runs against a running synapsed
// instance and reports end-to-end latency percentiles, for soak testing
// the kickoff/settlement pipeline without a browser.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"math"
	"net/url"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Synapse-Labs-X/synapse-protocol-sub000/internal/protocol"
)

type options struct {
	baseURL       string
	runs          int
	interRunDelay time.Duration
	runTimeout    time.Duration
	tasks         []string
	verbose       bool
}

type runSample struct {
	RunID      string
	Status     string
	TotalMS    float64
	FirstLogMS float64
	Payments   int
}

var defaultTasks = []string{
	"Summarize the latest block activity in two sentences.",
	"Write a haiku about distributed ledgers.",
	"Translate 'hello agents' into French.",
	"Analyze this quarter's payment volume trend.",
}

func main() {
	cfg, err := parseFlags()
	if err != nil {
		fmt.Fprintf(os.Stderr, "runprobe: %v\n", err)
		os.Exit(2)
	}
	if err := run(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "runprobe: %v\n", err)
		os.Exit(1)
	}
}

func parseFlags() (options, error) {
	var cfg options
	var tasksRaw string
	var interRunMS int
	var runTimeoutMS int

	flag.StringVar(&cfg.baseURL, "base-url", "http://127.0.0.1:8090", "synapsed base URL")
	flag.IntVar(&cfg.runs, "runs", 5, "number of runs to submit")
	flag.IntVar(&interRunMS, "inter-run-ms", 250, "delay between runs in milliseconds")
	flag.IntVar(&runTimeoutMS, "run-timeout-ms", 300000, "timeout waiting for run_complete per run in milliseconds")
	flag.StringVar(&tasksRaw, "tasks", "", "task descriptions separated by '|' (optional)")
	flag.BoolVar(&cfg.verbose, "verbose", true, "print per-run progress")
	flag.Parse()

	cfg.baseURL = strings.TrimRight(strings.TrimSpace(cfg.baseURL), "/")
	if cfg.baseURL == "" {
		return options{}, fmt.Errorf("base-url is required")
	}
	if cfg.runs <= 0 {
		return options{}, fmt.Errorf("runs must be > 0")
	}
	if interRunMS < 0 {
		interRunMS = 0
	}
	if runTimeoutMS < 1000 {
		runTimeoutMS = 1000
	}
	cfg.interRunDelay = time.Duration(interRunMS) * time.Millisecond
	cfg.runTimeout = time.Duration(runTimeoutMS) * time.Millisecond

	if strings.TrimSpace(tasksRaw) == "" {
		cfg.tasks = append([]string(nil), defaultTasks...)
	} else {
		for _, t := range strings.Split(tasksRaw, "|") {
			if t = strings.TrimSpace(t); t != "" {
				cfg.tasks = append(cfg.tasks, t)
			}
		}
		if len(cfg.tasks) == 0 {
			return options{}, fmt.Errorf("tasks must contain at least one non-empty entry")
		}
	}
	return cfg, nil
}

func run(cfg options) error {
	wsURL, err := websocketURL(cfg.baseURL)
	if err != nil {
		return err
	}

	samples := make([]runSample, 0, cfg.runs)
	for i := 0; i < cfg.runs; i++ {
		if i > 0 && cfg.interRunDelay > 0 {
			time.Sleep(cfg.interRunDelay)
		}
		task := cfg.tasks[i%len(cfg.tasks)]
		if cfg.verbose {
			fmt.Printf("run %d/%d: %s\n", i+1, cfg.runs, task)
		}
		sample, err := probeOnce(wsURL, task, cfg.runTimeout)
		if err != nil {
			return fmt.Errorf("run %d: %w", i+1, err)
		}
		if cfg.verbose {
			fmt.Printf("  %s status=%s total=%.0fms payments=%d\n",
				sample.RunID, sample.Status, sample.TotalMS, sample.Payments)
		}
		samples = append(samples, sample)
	}

	printReport(samples)
	return nil
}

func probeOnce(wsURL, task string, timeout time.Duration) (runSample, error) {
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		return runSample{}, fmt.Errorf("dial %s: %w", wsURL, err)
	}
	defer conn.Close()

	started := time.Now()
	if err := conn.WriteJSON(protocol.ClientSubmitRun{
		Type:            protocol.TypeClientSubmitRun,
		TaskDescription: task,
	}); err != nil {
		return runSample{}, fmt.Errorf("submit: %w", err)
	}

	sample := runSample{FirstLogMS: -1}
	deadline := time.Now().Add(timeout)
	for {
		if time.Now().After(deadline) {
			return runSample{}, fmt.Errorf("timed out waiting for run_complete")
		}
		_ = conn.SetReadDeadline(deadline)
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return runSample{}, fmt.Errorf("read: %w", err)
		}
		var env protocol.Envelope
		if err := json.Unmarshal(raw, &env); err != nil {
			continue
		}
		switch env.Type {
		case protocol.TypeRunSubmitted:
			var msg protocol.RunSubmitted
			if err := json.Unmarshal(raw, &msg); err == nil {
				sample.RunID = msg.RunID
			}
		case protocol.TypeRunLog:
			if sample.FirstLogMS < 0 {
				sample.FirstLogMS = float64(time.Since(started).Milliseconds())
			}
		case protocol.TypePaymentSent:
			sample.Payments++
		case protocol.TypeErrorEvent:
			var msg protocol.ErrorEvent
			if err := json.Unmarshal(raw, &msg); err == nil && msg.Code == "submit_failed" {
				return runSample{}, fmt.Errorf("submit rejected: %s", msg.Detail)
			}
		case protocol.TypeRunComplete:
			var msg protocol.RunComplete
			if err := json.Unmarshal(raw, &msg); err != nil {
				continue
			}
			if sample.RunID != "" && msg.RunID != sample.RunID {
				continue
			}
			sample.Status = msg.Status
			sample.TotalMS = float64(time.Since(started).Milliseconds())
			return sample, nil
		}
	}
}

func websocketURL(baseURL string) (string, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return "", fmt.Errorf("parse base-url: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	u.Path = "/v1/runs/ws"
	return u.String(), nil
}

func printReport(samples []runSample) {
	if len(samples) == 0 {
		fmt.Println("no samples collected")
		return
	}

	totals := make([]float64, 0, len(samples))
	firstLogs := make([]float64, 0, len(samples))
	succeeded := 0
	payments := 0
	for _, s := range samples {
		totals = append(totals, s.TotalMS)
		if s.FirstLogMS >= 0 {
			firstLogs = append(firstLogs, s.FirstLogMS)
		}
		if s.Status == "succeeded" {
			succeeded++
		}
		payments += s.Payments
	}

	fmt.Printf("\nruns: %d  succeeded: %d  payments: %d\n", len(samples), succeeded, payments)
	printStatLine("run_total_ms", totals)
	if len(firstLogs) > 0 {
		printStatLine("first_log_ms", firstLogs)
	}
}

func printStatLine(name string, values []float64) {
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)
	fmt.Printf("%-14s min=%.0f p50=%.0f p95=%.0f max=%.0f\n",
		name, sorted[0], percentile(sorted, 0.50), percentile(sorted, 0.95), sorted[len(sorted)-1])
}

func percentile(sorted []float64, q float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	if q <= 0 {
		return sorted[0]
	}
	if q >= 1 {
		return sorted[len(sorted)-1]
	}
	idx := q * float64(len(sorted)-1)
	lo := int(math.Floor(idx))
	hi := int(math.Ceil(idx))
	if lo == hi {
		return sorted[lo]
	}
	frac := idx - float64(lo)
	return sorted[lo]*(1-frac) + sorted[hi]*frac
}
