package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/Prompt-Gate/Promptgate/internal/domain/mux"
)

// ProviderService exposes provider endpoint administration.
type ProviderService struct {
	store  mux.ProviderStore
	logger *slog.Logger
}

// NewProviderService creates the provider admin service.
func NewProviderService(store mux.ProviderStore, logger *slog.Logger) *ProviderService {
	return &ProviderService{store: store, logger: logger}
}

// Register validates and stores a provider endpoint.
func (s *ProviderService) Register(ctx context.Context, p *mux.Provider) error {
	if err := p.Validate(); err != nil {
		return err
	}
	p.CreatedAt = time.Now().UTC()
	if err := s.store.Add(ctx, p); err != nil {
		return err
	}
	s.logger.Info("provider registered", "provider", p.Name, "type", p.Type, "base_url", p.BaseURL)
	return nil
}

// List returns all registered providers.
func (s *ProviderService) List(ctx context.Context) ([]mux.Provider, error) {
	return s.store.List(ctx)
}

// Get returns a provider by name.
func (s *ProviderService) Get(ctx context.Context, name string) (*mux.Provider, error) {
	return s.store.Get(ctx, name)
}

// Remove deletes a provider by name. Mux rules referencing the name stop
// matching requests to a live backend and routing fails fast for them.
func (s *ProviderService) Remove(ctx context.Context, name string) error {
	if err := s.store.Delete(ctx, name); err != nil {
		return err
	}
	s.logger.Info("provider removed", "provider", name)
	return nil
}
