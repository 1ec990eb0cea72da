package mux

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"time"
)

// Sentinel errors for provider store operations.
var (
	// ErrProviderNotFound is returned when no provider has the given name.
	ErrProviderNotFound = errors.New("provider not found")
	// ErrDuplicateProviderName is returned when a provider name is taken.
	ErrDuplicateProviderName = errors.New("duplicate provider name")
)

// Provider is a registered upstream endpoint.
type Provider struct {
	// Name is the unique registration name referenced by mux rules.
	Name string
	// Type is the wire dialect the endpoint speaks.
	Type ProviderType
	// BaseURL is the endpoint root (e.g. "https://api.openai.com/v1").
	BaseURL string
	// AuthKey is the credential sent to the endpoint. Never logged.
	AuthKey string
	// CreatedAt is when the provider was registered.
	CreatedAt time.Time
}

// Validate checks provider configuration.
func (p *Provider) Validate() error {
	if p.Name == "" {
		return errors.New("provider name is required")
	}
	if !p.Type.Valid() {
		return fmt.Errorf("unknown provider type %q", p.Type)
	}
	parsed, err := url.Parse(p.BaseURL)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return errors.New("base url is not a valid URL")
	}
	return nil
}

// ProviderStore provides CRUD for registered provider endpoints.
// Interface owned by the domain per hexagonal architecture.
type ProviderStore interface {
	// List returns all registered providers.
	List(ctx context.Context) ([]Provider, error)
	// Get returns a provider by name.
	// Returns ErrProviderNotFound if no provider has the name.
	Get(ctx context.Context, name string) (*Provider, error)
	// Add registers a provider.
	// Returns ErrDuplicateProviderName when the name is taken.
	Add(ctx context.Context, p *Provider) error
	// Delete removes a provider by name.
	// Returns ErrProviderNotFound if no provider has the name.
	Delete(ctx context.Context, name string) error
}
