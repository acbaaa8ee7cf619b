package wallet

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"sync"

	"golang.org/x/sync/singleflight"
)

// Service hands out one wallet per agent, backed by a persistent cache.
// Cached entries are only trusted after re-derivation from their seed;
// concurrent requests for the same agent share a single creation.
type Service struct {
	provider Provider
	store    Store

	mu     sync.Mutex
	cache  map[string]Wallet
	loaded bool

	group singleflight.Group
}

func NewService(provider Provider, store Store) *Service {
	return &Service{
		provider: provider,
		store:    store,
		cache:    map[string]Wallet{},
	}
}

// WalletFor returns the cached wallet for an agent, creating and
// persisting one if the cache has no trustworthy entry.
func (s *Service) WalletFor(ctx context.Context, agentID string) (Wallet, error) {
	if err := s.ensureLoaded(ctx); err != nil {
		return Wallet{}, err
	}

	if w, ok := s.trustedCached(agentID); ok {
		return w, nil
	}

	v, err, _ := s.group.Do(agentID, func() (any, error) {
		// Another caller may have finished creation while we queued.
		if w, ok := s.trustedCached(agentID); ok {
			return w, nil
		}
		w, err := s.provider.Generate(ctx)
		if err != nil {
			return Wallet{}, fmt.Errorf("create wallet for %s: %w", agentID, err)
		}
		if err := s.put(ctx, agentID, w); err != nil {
			return Wallet{}, err
		}
		return w, nil
	})
	if err != nil {
		return Wallet{}, err
	}
	return v.(Wallet), nil
}

// Addresses returns agent ID to address for every cached wallet, without
// secret material.
func (s *Service) Addresses() map[string]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]string, len(s.cache))
	for id, w := range s.cache {
		out[id] = w.Address
	}
	return out
}

// AgentIDs lists cached agent IDs in stable order.
func (s *Service) AgentIDs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.cache))
	for id := range s.cache {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

func (s *Service) ensureLoaded(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.loaded {
		return nil
	}
	entries, err := s.store.Load(ctx)
	if err != nil {
		if errors.Is(err, ErrCorruptStore) {
			// Unparseable cache is recoverable: start fresh.
			log.Printf("wallet: discarding corrupt cache: %v", err)
			entries = map[string]Wallet{}
		} else {
			return err
		}
	}
	s.cache = entries
	s.loaded = true
	return nil
}

func (s *Service) trustedCached(agentID string) (Wallet, bool) {
	s.mu.Lock()
	w, ok := s.cache[agentID]
	s.mu.Unlock()
	if !ok {
		return Wallet{}, false
	}
	if err := w.Verify(); err != nil {
		log.Printf("wallet: discarding cached wallet for %s: %v", agentID, err)
		s.mu.Lock()
		delete(s.cache, agentID)
		s.mu.Unlock()
		return Wallet{}, false
	}
	return w, true
}

func (s *Service) put(ctx context.Context, agentID string, w Wallet) error {
	s.mu.Lock()
	s.cache[agentID] = w
	snapshot := make(map[string]Wallet, len(s.cache))
	for id, entry := range s.cache {
		snapshot[id] = entry
	}
	s.mu.Unlock()
	if err := s.store.Save(ctx, snapshot); err != nil {
		return fmt.Errorf("persist wallet for %s: %w", agentID, err)
	}
	return nil
}
