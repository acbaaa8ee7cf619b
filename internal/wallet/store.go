package wallet

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// ErrCorruptStore marks an unreadable cache document. Callers treat it as
// recoverable: the cache is discarded and wallets are regenerated.
var ErrCorruptStore = errors.New("wallet store is corrupt")

// Store persists the wallet cache as one JSON document keyed by agent ID.
type Store interface {
	Load(ctx context.Context) (map[string]Wallet, error)
	Save(ctx context.Context, entries map[string]Wallet) error
}

// FileStore keeps the cache in a single file on disk.
type FileStore struct {
	path string
}

func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

func (s *FileStore) Load(ctx context.Context) (map[string]Wallet, error) {
	_ = ctx
	raw, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return map[string]Wallet{}, nil
		}
		return nil, fmt.Errorf("read wallet store: %w", err)
	}
	var entries map[string]Wallet
	if err := json.Unmarshal(raw, &entries); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptStore, err)
	}
	if entries == nil {
		entries = map[string]Wallet{}
	}
	return entries, nil
}

func (s *FileStore) Save(ctx context.Context, entries map[string]Wallet) error {
	_ = ctx
	raw, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal wallet store: %w", err)
	}
	dir := filepath.Dir(s.path)
	if dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return fmt.Errorf("create wallet store dir: %w", err)
		}
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o600); err != nil {
		return fmt.Errorf("write wallet store: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("replace wallet store: %w", err)
	}
	return nil
}
