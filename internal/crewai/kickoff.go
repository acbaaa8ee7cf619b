package crewai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/Synapse-Labs-X/synapse-protocol-sub000/internal/reliability"
)

type kickoffRequest struct {
	TaskDescription string `json:"task_description"`
}

type kickoffResponse struct {
	RunID string `json:"run_id"`
}

// kickoffClient submits new tasks to the backend's HTTP surface.
// The event stream for the run arrives separately over the websocket.
type kickoffClient struct {
	url      string
	client   *http.Client
	attempts int
	backoff  time.Duration
}

func newKickoffClient(backendURL string) *kickoffClient {
	return &kickoffClient{
		url: strings.TrimRight(strings.TrimSpace(backendURL), "/") + "/run",
		client: &http.Client{
			Timeout: 30 * time.Second,
		},
		attempts: 3,
		backoff:  500 * time.Millisecond,
	}
}

func (k *kickoffClient) Kickoff(ctx context.Context, taskDescription string) (string, error) {
	payload, err := json.Marshal(kickoffRequest{TaskDescription: taskDescription})
	if err != nil {
		return "", fmt.Errorf("marshal kickoff request: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt < k.attempts; attempt++ {
		if attempt > 0 {
			wait := reliability.ExponentialBackoff(attempt-1, k.backoff, 5*time.Second)
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(wait):
			}
		}
		runID, retryable, err := k.kickoffOnce(ctx, payload)
		if err == nil {
			return runID, nil
		}
		lastErr = err
		if !retryable {
			return "", err
		}
	}
	return "", lastErr
}

func (k *kickoffClient) kickoffOnce(ctx context.Context, payload []byte) (runID string, retryable bool, err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, k.url, bytes.NewReader(payload))
	if err != nil {
		return "", false, fmt.Errorf("create kickoff request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	res, err := k.client.Do(req)
	if err != nil {
		return "", ctx.Err() == nil, fmt.Errorf("send kickoff request: %w", err)
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(res.Body, 4<<10))
		return "", reliability.IsRetryableHTTPStatus(res.StatusCode),
			fmt.Errorf("kickoff http status %d: %s", res.StatusCode, string(body))
	}

	var out kickoffResponse
	if err := json.NewDecoder(res.Body).Decode(&out); err != nil {
		return "", false, fmt.Errorf("decode kickoff response: %w", err)
	}
	return strings.TrimSpace(out.RunID), false, nil
}
