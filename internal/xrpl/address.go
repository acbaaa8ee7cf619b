package xrpl

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"golang.org/x/crypto/ripemd160"
)

// XRPL uses its own base58 dictionary; 'r' encodes zero, hence the
// canonical r-prefixed account addresses.
const rippleAlphabet = "rpshnaf39wBUDNEGHJKLM4PQRST7VWXYZ2bcdeCg65jkm8oFqi1tuvAxyz"

var (
	// accountIDPrefix tags an account ID payload before base58check encoding.
	accountIDPrefix = []byte{0x00}
	// ed25519SeedPrefix tags a 16-byte ed25519 family seed (the "sEd" form).
	ed25519SeedPrefix = []byte{0x01, 0xE1, 0x4B}
	// keyMarker prefixes ed25519 keys in XRPL's hex display form.
	keyMarker = byte(0xED)
)

var ErrInvalidSeed = errors.New("invalid xrpl seed")

// Keypair is a derived ed25519 signing pair with its XRPL encodings.
type Keypair struct {
	Seed       string
	Address    string
	PublicKey  string
	PrivateKey string

	signer ed25519.PrivateKey
}

// GenerateKeypair creates a fresh random ed25519 keypair.
func GenerateKeypair() (Keypair, error) {
	entropy := make([]byte, 16)
	if _, err := rand.Read(entropy); err != nil {
		return Keypair{}, fmt.Errorf("read entropy: %w", err)
	}
	return KeypairFromEntropy(entropy)
}

// KeypairFromSeed re-derives the full keypair from an encoded family seed.
// Re-derivation is what lets a cached wallet be verified before trust.
func KeypairFromSeed(seed string) (Keypair, error) {
	entropy, err := decodeSeed(seed)
	if err != nil {
		return Keypair{}, err
	}
	return KeypairFromEntropy(entropy)
}

// KeypairFromEntropy derives an ed25519 keypair the way XRPL does: the
// 16-byte seed entropy is stretched with SHA-512 (first half) into the
// ed25519 private scalar.
func KeypairFromEntropy(entropy []byte) (Keypair, error) {
	if len(entropy) != 16 {
		return Keypair{}, fmt.Errorf("%w: entropy must be 16 bytes, got %d", ErrInvalidSeed, len(entropy))
	}
	digest := sha512.Sum512(entropy)
	signer := ed25519.NewKeyFromSeed(digest[:32])
	pub := signer.Public().(ed25519.PublicKey)

	pubWire := append([]byte{keyMarker}, pub...)
	privWire := append([]byte{keyMarker}, digest[:32]...)

	return Keypair{
		Seed:       encodeSeed(entropy),
		Address:    AddressFromPublicKey(pubWire),
		PublicKey:  strings.ToUpper(hex.EncodeToString(pubWire)),
		PrivateKey: strings.ToUpper(hex.EncodeToString(privWire)),
		signer:     signer,
	}, nil
}

// Sign signs a message with the derived private key.
func (k Keypair) Sign(message []byte) []byte {
	return ed25519.Sign(k.signer, message)
}

// AddressFromPublicKey computes the classic r-address for a wire-form
// public key: SHA-256 then RIPEMD-160, base58check-encoded.
func AddressFromPublicKey(pubWire []byte) string {
	sha := sha256.Sum256(pubWire)
	ripe := ripemd160.New()
	ripe.Write(sha[:])
	return encodeBase58Check(accountIDPrefix, ripe.Sum(nil))
}

func encodeSeed(entropy []byte) string {
	return encodeBase58Check(ed25519SeedPrefix, entropy)
}

func decodeSeed(seed string) ([]byte, error) {
	payload, err := decodeBase58Check(seed)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSeed, err)
	}
	if len(payload) != len(ed25519SeedPrefix)+16 {
		return nil, fmt.Errorf("%w: unexpected payload length %d", ErrInvalidSeed, len(payload))
	}
	for i, b := range ed25519SeedPrefix {
		if payload[i] != b {
			return nil, fmt.Errorf("%w: not an ed25519 family seed", ErrInvalidSeed)
		}
	}
	return payload[len(ed25519SeedPrefix):], nil
}

func checksum(payload []byte) []byte {
	first := sha256.Sum256(payload)
	second := sha256.Sum256(first[:])
	return second[:4]
}

func encodeBase58Check(prefix, data []byte) string {
	payload := append(append([]byte{}, prefix...), data...)
	full := append(payload, checksum(payload)...)
	return encodeBase58(full)
}

func decodeBase58Check(s string) ([]byte, error) {
	full, err := decodeBase58(s)
	if err != nil {
		return nil, err
	}
	if len(full) < 5 {
		return nil, errors.New("payload too short")
	}
	payload, check := full[:len(full)-4], full[len(full)-4:]
	want := checksum(payload)
	for i := range check {
		if check[i] != want[i] {
			return nil, errors.New("checksum mismatch")
		}
	}
	return payload, nil
}

func encodeBase58(input []byte) string {
	zeros := 0
	for zeros < len(input) && input[zeros] == 0 {
		zeros++
	}

	num := new(big.Int).SetBytes(input)
	base := big.NewInt(58)
	mod := new(big.Int)
	var out []byte
	for num.Sign() > 0 {
		num.DivMod(num, base, mod)
		out = append(out, rippleAlphabet[mod.Int64()])
	}
	for i := 0; i < zeros; i++ {
		out = append(out, rippleAlphabet[0])
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return string(out)
}

func decodeBase58(s string) ([]byte, error) {
	num := big.NewInt(0)
	base := big.NewInt(58)
	for _, c := range s {
		idx := strings.IndexRune(rippleAlphabet, c)
		if idx < 0 {
			return nil, fmt.Errorf("invalid base58 character %q", c)
		}
		num.Mul(num, base)
		num.Add(num, big.NewInt(int64(idx)))
	}

	zeros := 0
	for zeros < len(s) && s[zeros] == rippleAlphabet[0] {
		zeros++
	}
	decoded := num.Bytes()
	out := make([]byte, zeros+len(decoded))
	copy(out[zeros:], decoded)
	return out, nil
}
