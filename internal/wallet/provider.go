package wallet

import (
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/Synapse-Labs-X/synapse-protocol-sub000/internal/xrpl"
)

// Provider creates new wallets. Implementations are selected at startup
// rather than loaded lazily, so tests can inject whichever they need.
type Provider interface {
	Generate(ctx context.Context) (Wallet, error)
}

// LocalProvider generates wallets offline; nothing touches the network.
type LocalProvider struct{}

func (LocalProvider) Generate(ctx context.Context) (Wallet, error) {
	_ = ctx
	kp, err := xrpl.GenerateKeypair()
	if err != nil {
		return Wallet{}, fmt.Errorf("generate keypair: %w", err)
	}
	return fromKeypair(kp), nil
}

// FundedProvider generates a wallet and asks the testnet faucet to fund
// it. Faucet failure degrades to an unfunded wallet instead of blocking
// the demo flow.
type FundedProvider struct {
	faucet *xrpl.Faucet
}

func NewFundedProvider(faucet *xrpl.Faucet) *FundedProvider {
	return &FundedProvider{faucet: faucet}
}

func (p *FundedProvider) Generate(ctx context.Context) (Wallet, error) {
	w, err := LocalProvider{}.Generate(ctx)
	if err != nil {
		return Wallet{}, err
	}
	if err := p.faucet.Fund(ctx, w.Address); err != nil {
		log.Printf("wallet: faucet funding for %s failed, continuing unfunded: %v", w.Address, err)
	}
	return w, nil
}

// SelectProvider picks a provider implementation by configured mode.
func SelectProvider(mode, faucetURL string) (Provider, string, error) {
	switch strings.ToLower(strings.TrimSpace(mode)) {
	case "local":
		return LocalProvider{}, "local", nil
	case "xrpl":
		if strings.TrimSpace(faucetURL) == "" {
			return nil, "", fmt.Errorf("wallet provider xrpl requires a faucet url")
		}
		return NewFundedProvider(xrpl.NewFaucet(faucetURL)), "xrpl", nil
	case "auto", "":
		if strings.TrimSpace(faucetURL) != "" {
			return NewFundedProvider(xrpl.NewFaucet(faucetURL)), "xrpl", nil
		}
		return LocalProvider{}, "local", nil
	default:
		return nil, "", fmt.Errorf("unknown wallet provider mode %q", mode)
	}
}
