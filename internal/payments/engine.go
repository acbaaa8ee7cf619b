package payments

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/Synapse-Labs-X/synapse-protocol-sub000/internal/agents"
	"github.com/Synapse-Labs-X/synapse-protocol-sub000/internal/wallet"
)

// Receipt is the outcome of one settled hop. Simulated is set when the
// ledger could not take the payment and the engine fell back to a
// simulated settlement.
type Receipt struct {
	From      string    `json:"from"`
	To        string    `json:"to"`
	Amount    float64   `json:"amount"`
	TxHash    string    `json:"tx_hash"`
	Simulated bool      `json:"simulated"`
	At        time.Time `json:"at"`
}

// Ledger settles a single payment between two funded wallets.
type Ledger interface {
	Pay(ctx context.Context, from, to wallet.Wallet, amount float64) (txHash string, err error)
}

// SimulatedLedger settles every payment locally. Transaction hashes are
// derived from the hop so replays of the same hop at the same instant
// stay distinguishable per run.
type SimulatedLedger struct{}

func (SimulatedLedger) Pay(_ context.Context, from, to wallet.Wallet, amount float64) (string, error) {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s|%s|%f|%d", from.Address, to.Address, amount, time.Now().UnixNano())))
	return strings.ToUpper(hex.EncodeToString(sum[:])), nil
}

type Engine struct {
	wallets *wallet.Service
	ledger  Ledger
	delay   time.Duration
}

func NewEngine(wallets *wallet.Service, ledger Ledger, delay time.Duration) *Engine {
	if ledger == nil {
		ledger = SimulatedLedger{}
	}
	if delay < 0 {
		delay = 0
	}
	return &Engine{wallets: wallets, ledger: ledger, delay: delay}
}

// SettleChain pays each hop of the chain in order: chain[i] pays
// chain[i+1] that agent's cost. Hops are paced by the configured delay
// so a dashboard can animate them; cancellation stops between hops and
// returns the receipts settled so far. A ledger failure on one hop
// degrades that hop to a simulated receipt instead of aborting the
// chain.
func (e *Engine) SettleChain(ctx context.Context, chain []agents.Agent, onReceipt func(Receipt)) ([]Receipt, error) {
	if len(chain) < 2 {
		return nil, nil
	}

	receipts := make([]Receipt, 0, len(chain)-1)
	for i := 0; i < len(chain)-1; i++ {
		if i > 0 && e.delay > 0 {
			select {
			case <-ctx.Done():
				return receipts, ctx.Err()
			case <-time.After(e.delay):
			}
		}

		payer, payee := chain[i], chain[i+1]
		receipt, err := e.settleHop(ctx, payer, payee)
		if err != nil {
			if ctx.Err() != nil {
				return receipts, ctx.Err()
			}
			return receipts, err
		}
		receipts = append(receipts, receipt)
		if onReceipt != nil {
			onReceipt(receipt)
		}
	}
	return receipts, nil
}

func (e *Engine) settleHop(ctx context.Context, payer, payee agents.Agent) (Receipt, error) {
	from, err := e.wallets.WalletFor(ctx, payer.ID)
	if err != nil {
		return Receipt{}, fmt.Errorf("wallet for %s: %w", payer.ID, err)
	}
	to, err := e.wallets.WalletFor(ctx, payee.ID)
	if err != nil {
		return Receipt{}, fmt.Errorf("wallet for %s: %w", payee.ID, err)
	}

	receipt := Receipt{
		From:   payer.ID,
		To:     payee.ID,
		Amount: payee.Cost,
		At:     time.Now().UTC(),
	}

	txHash, err := e.ledger.Pay(ctx, from, to, payee.Cost)
	if err != nil {
		if ctx.Err() != nil {
			return Receipt{}, ctx.Err()
		}
		log.Printf("payments: ledger rejected %s -> %s (%.2f), settling simulated: %v", payer.ID, payee.ID, payee.Cost, err)
		sim, simErr := SimulatedLedger{}.Pay(ctx, from, to, payee.Cost)
		if simErr != nil {
			return Receipt{}, simErr
		}
		receipt.TxHash = sim
		receipt.Simulated = true
		return receipt, nil
	}

	receipt.TxHash = txHash
	if _, ok := e.ledger.(SimulatedLedger); ok {
		receipt.Simulated = true
	}
	return receipt, nil
}
