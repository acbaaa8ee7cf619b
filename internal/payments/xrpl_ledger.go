package payments

import (
	"context"
	"log"
	"sync"

	"github.com/Synapse-Labs-X/synapse-protocol-sub000/internal/wallet"
)

const trustlineLimit = "1000000"

// LedgerSubmitter is the slice of the XRPL client the live settlement
// path needs.
type LedgerSubmitter interface {
	SubmitPayment(ctx context.Context, seed, from, to string, amount float64) (string, error)
	CreateTrustline(ctx context.Context, seed, account, currency, issuer, limit string) (string, error)
}

// XRPLLedger settles hops on the live testnet. The first time a wallet
// takes part in a settlement it opens a trustline for the issued demo
// currency; a trustline failure is logged and does not block the XRP
// payment itself. The engine's per-hop fallback covers payment failures.
type XRPLLedger struct {
	client   LedgerSubmitter
	currency string
	issuer   string

	mu         sync.Mutex
	trustlines map[string]bool
}

func NewXRPLLedger(client LedgerSubmitter, currency, issuer string) *XRPLLedger {
	return &XRPLLedger{
		client:     client,
		currency:   currency,
		issuer:     issuer,
		trustlines: make(map[string]bool),
	}
}

func (l *XRPLLedger) Pay(ctx context.Context, from, to wallet.Wallet, amount float64) (string, error) {
	l.ensureTrustline(ctx, from)
	l.ensureTrustline(ctx, to)
	return l.client.SubmitPayment(ctx, from.Seed, from.Address, to.Address, amount)
}

func (l *XRPLLedger) ensureTrustline(ctx context.Context, w wallet.Wallet) {
	if l.currency == "" || l.issuer == "" || w.Address == l.issuer {
		return
	}
	l.mu.Lock()
	done := l.trustlines[w.Address]
	l.mu.Unlock()
	if done {
		return
	}
	if _, err := l.client.CreateTrustline(ctx, w.Seed, w.Address, l.currency, l.issuer, trustlineLimit); err != nil {
		log.Printf("payments: trustline for %s not established: %v", w.Address, err)
		return
	}
	l.mu.Lock()
	l.trustlines[w.Address] = true
	l.mu.Unlock()
}
