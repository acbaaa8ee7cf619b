package xrpl

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	commandWriteTimeout = 3 * time.Second
	dropsPerXRP         = 1_000_000
)

var ErrClientClosed = errors.New("xrpl client is closed")

// Client speaks the XRP Ledger websocket API: every command carries a
// numeric id, and responses are correlated back to the pending caller.
type Client struct {
	endpoint string
	dialer   websocket.Dialer

	dialMu sync.Mutex

	mu      sync.Mutex
	conn    *websocket.Conn
	closed  bool
	nextID  uint64
	pending map[uint64]chan commandResponse

	writeMu sync.Mutex
}

type commandRequest struct {
	ID      uint64 `json:"id"`
	Command string `json:"command"`

	Account     string `json:"account,omitempty"`
	LedgerIndex string `json:"ledger_index,omitempty"`
	TxJSON      any    `json:"tx_json,omitempty"`
	Secret      string `json:"secret,omitempty"`
}

type commandResponse struct {
	ID     uint64          `json:"id"`
	Status string          `json:"status"`
	Type   string          `json:"type"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  string          `json:"error,omitempty"`
}

type accountInfoResult struct {
	AccountData struct {
		Account string `json:"Account"`
		Balance string `json:"Balance"`
	} `json:"account_data"`
}

// NewClient builds a client for one XRPL websocket endpoint. The
// connection is dialed lazily on first command.
func NewClient(endpoint string) *Client {
	return &Client{
		endpoint: endpoint,
		dialer: websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: 5 * time.Second,
		},
		pending: make(map[uint64]chan commandResponse),
	}
}

func (c *Client) ensure(ctx context.Context) error {
	c.dialMu.Lock()
	defer c.dialMu.Unlock()

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClientClosed
	}
	if c.conn != nil {
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()

	conn, resp, err := c.dialer.DialContext(ctx, c.endpoint, nil)
	if err != nil {
		if resp != nil {
			return fmt.Errorf("xrpl dial failed (%s): %w", resp.Status, err)
		}
		return fmt.Errorf("xrpl dial failed: %w", err)
	}

	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()
	go c.readLoop(conn)
	return nil
}

func (c *Client) readLoop(conn *websocket.Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			c.failPending(fmt.Errorf("xrpl connection lost: %w", err))
			c.mu.Lock()
			if c.conn == conn {
				c.conn = nil
			}
			c.mu.Unlock()
			_ = conn.Close()
			return
		}
		var res commandResponse
		if err := json.Unmarshal(data, &res); err != nil {
			continue
		}
		c.mu.Lock()
		ch, ok := c.pending[res.ID]
		if ok {
			delete(c.pending, res.ID)
		}
		c.mu.Unlock()
		if ok {
			ch <- res
		}
	}
}

func (c *Client) failPending(err error) {
	c.mu.Lock()
	pending := c.pending
	c.pending = make(map[uint64]chan commandResponse)
	c.mu.Unlock()
	for _, ch := range pending {
		ch <- commandResponse{Status: "error", Error: err.Error()}
	}
}

func (c *Client) call(ctx context.Context, req commandRequest) (commandResponse, error) {
	if err := c.ensure(ctx); err != nil {
		return commandResponse{}, err
	}

	ch := make(chan commandResponse, 1)
	c.mu.Lock()
	c.nextID++
	req.ID = c.nextID
	c.pending[req.ID] = ch
	conn := c.conn
	c.mu.Unlock()

	c.writeMu.Lock()
	_ = conn.SetWriteDeadline(time.Now().Add(commandWriteTimeout))
	err := conn.WriteJSON(req)
	_ = conn.SetWriteDeadline(time.Time{})
	c.writeMu.Unlock()
	if err != nil {
		c.mu.Lock()
		delete(c.pending, req.ID)
		c.mu.Unlock()
		return commandResponse{}, fmt.Errorf("write %s command: %w", req.Command, err)
	}

	select {
	case res := <-ch:
		if res.Status != "success" {
			msg := res.Error
			if msg == "" {
				msg = "unspecified ledger error"
			}
			return commandResponse{}, fmt.Errorf("xrpl %s failed: %s", req.Command, msg)
		}
		return res, nil
	case <-ctx.Done():
		c.mu.Lock()
		delete(c.pending, req.ID)
		c.mu.Unlock()
		return commandResponse{}, ctx.Err()
	}
}

// AccountBalance returns the XRP balance of an account on the validated
// ledger.
func (c *Client) AccountBalance(ctx context.Context, address string) (float64, error) {
	res, err := c.call(ctx, commandRequest{
		Command:     "account_info",
		Account:     address,
		LedgerIndex: "validated",
	})
	if err != nil {
		return 0, err
	}
	var info accountInfoResult
	if err := json.Unmarshal(res.Result, &info); err != nil {
		return 0, fmt.Errorf("decode account_info result: %w", err)
	}
	drops, err := strconv.ParseInt(info.AccountData.Balance, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse balance %q: %w", info.AccountData.Balance, err)
	}
	return float64(drops) / dropsPerXRP, nil
}

// Close tears the connection down and fails any in-flight commands.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	conn := c.conn
	c.conn = nil
	c.mu.Unlock()

	c.failPending(ErrClientClosed)
	if conn != nil {
		return conn.Close()
	}
	return nil
}
