package xrpl

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Faucet asks the testnet faucet to fund an account with demo XRP.
type Faucet struct {
	url    string
	client *http.Client
}

func NewFaucet(url string) *Faucet {
	return &Faucet{
		url: strings.TrimSpace(url),
		client: &http.Client{
			Timeout: 20 * time.Second,
		},
	}
}

type faucetRequest struct {
	Destination string `json:"destination"`
}

// Fund requests testnet funding for the given address.
func (f *Faucet) Fund(ctx context.Context, address string) error {
	payload, err := json.Marshal(faucetRequest{Destination: address})
	if err != nil {
		return fmt.Errorf("marshal faucet request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, f.url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("create faucet request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	res, err := f.client.Do(req)
	if err != nil {
		return fmt.Errorf("send faucet request: %w", err)
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(res.Body, 4<<10))
		return fmt.Errorf("faucet http status %d: %s", res.StatusCode, string(body))
	}
	return nil
}
