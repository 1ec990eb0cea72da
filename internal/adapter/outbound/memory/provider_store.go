package memory

import (
	"context"
	"sync"

	"github.com/Prompt-Gate/Promptgate/internal/domain/mux"
)

// ProviderStore implements mux.ProviderStore with an in-memory map keyed by
// provider name. Thread-safe for concurrent access via sync.RWMutex.
type ProviderStore struct {
	providers map[string]mux.Provider
	mu        sync.RWMutex
}

// NewProviderStore creates a new in-memory provider store.
func NewProviderStore() *ProviderStore {
	return &ProviderStore{
		providers: make(map[string]mux.Provider),
	}
}

// List returns all registered providers.
func (s *ProviderStore) List(ctx context.Context) ([]mux.Provider, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]mux.Provider, 0, len(s.providers))
	for _, p := range s.providers {
		result = append(result, p)
	}
	return result, nil
}

// Get returns a provider by name.
// Returns ErrProviderNotFound if no provider has the name.
func (s *ProviderStore) Get(ctx context.Context, name string) (*mux.Provider, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.providers[name]
	if !ok {
		return nil, mux.ErrProviderNotFound
	}
	return &p, nil
}

// Add registers a provider.
// Returns ErrDuplicateProviderName when the name is taken.
func (s *ProviderStore) Add(ctx context.Context, p *mux.Provider) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.providers[p.Name]; ok {
		return mux.ErrDuplicateProviderName
	}
	s.providers[p.Name] = *p
	return nil
}

// Delete removes a provider by name.
// Returns ErrProviderNotFound if no provider has the name.
func (s *ProviderStore) Delete(ctx context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.providers[name]; !ok {
		return mux.ErrProviderNotFound
	}
	delete(s.providers, name)
	return nil
}

// Compile-time interface verification.
var _ mux.ProviderStore = (*ProviderStore)(nil)
