package xrpl

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

type issuedAmount struct {
	Currency string `json:"currency"`
	Issuer   string `json:"issuer"`
	Value    string `json:"value"`
}

type paymentTx struct {
	TransactionType string `json:"TransactionType"`
	Account         string `json:"Account"`
	Destination     string `json:"Destination"`
	Amount          string `json:"Amount"`
}

type trustSetTx struct {
	TransactionType string       `json:"TransactionType"`
	Account         string       `json:"Account"`
	LimitAmount     issuedAmount `json:"LimitAmount"`
}

type submitResult struct {
	EngineResult        string `json:"engine_result"`
	EngineResultMessage string `json:"engine_result_message"`
	TxJSON              struct {
		Hash string `json:"hash"`
	} `json:"tx_json"`
}

// SubmitPayment sends XRP from one demo wallet to another through the
// endpoint's sign-and-submit mode. The seed travels to the signer, which
// is only acceptable because demo wallets are throwaway.
func (c *Client) SubmitPayment(ctx context.Context, seed, from, to string, amount float64) (string, error) {
	drops := int64(amount * dropsPerXRP)
	if drops <= 0 {
		return "", fmt.Errorf("payment amount %v is below one drop", amount)
	}
	return c.submit(ctx, seed, paymentTx{
		TransactionType: "Payment",
		Account:         from,
		Destination:     to,
		Amount:          strconv.FormatInt(drops, 10),
	})
}

// CreateTrustline authorizes the account to hold the issued currency.
func (c *Client) CreateTrustline(ctx context.Context, seed, account, currency, issuer, limit string) (string, error) {
	return c.submit(ctx, seed, trustSetTx{
		TransactionType: "TrustSet",
		Account:         account,
		LimitAmount:     issuedAmount{Currency: currency, Issuer: issuer, Value: limit},
	})
}

func (c *Client) submit(ctx context.Context, seed string, tx any) (string, error) {
	res, err := c.call(ctx, commandRequest{
		Command: "submit",
		Secret:  seed,
		TxJSON:  tx,
	})
	if err != nil {
		return "", err
	}
	var out submitResult
	if err := json.Unmarshal(res.Result, &out); err != nil {
		return "", fmt.Errorf("decode submit result: %w", err)
	}
	// Only tes-class engine results mean the transaction was applied.
	if !strings.HasPrefix(out.EngineResult, "tes") {
		return "", fmt.Errorf("xrpl submit rejected: %s (%s)", out.EngineResult, out.EngineResultMessage)
	}
	return out.TxJSON.Hash, nil
}
