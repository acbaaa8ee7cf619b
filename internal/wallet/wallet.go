package wallet

import (
	"errors"
	"fmt"

	"github.com/Synapse-Labs-X/synapse-protocol-sub000/internal/xrpl"
)

var ErrUntrusted = errors.New("cached wallet failed re-derivation")

// Wallet is the secret material for one agent account.
type Wallet struct {
	Address    string `json:"address"`
	Seed       string `json:"seed"`
	PublicKey  string `json:"publicKey"`
	PrivateKey string `json:"privateKey"`
}

// Verify re-derives the keypair from the stored seed and checks it
// reproduces the stored address. An entry is only trusted if it does.
func (w Wallet) Verify() error {
	kp, err := xrpl.KeypairFromSeed(w.Seed)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUntrusted, err)
	}
	if kp.Address != w.Address {
		return fmt.Errorf("%w: derived %s, stored %s", ErrUntrusted, kp.Address, w.Address)
	}
	if w.PublicKey != "" && kp.PublicKey != w.PublicKey {
		return fmt.Errorf("%w: public key mismatch", ErrUntrusted)
	}
	return nil
}

func fromKeypair(kp xrpl.Keypair) Wallet {
	return Wallet{
		Address:    kp.Address,
		Seed:       kp.Seed,
		PublicKey:  kp.PublicKey,
		PrivateKey: kp.PrivateKey,
	}
}
