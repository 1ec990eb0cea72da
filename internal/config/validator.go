package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

// validProviderTypes are the wire dialects the gateway speaks.
var validProviderTypes = map[string]struct{}{
	"openai":    {},
	"anthropic": {},
	"ollama":    {},
	"gemini":    {},
}

// RegisterCustomValidators registers gateway-specific validation rules.
// Must be called before validating Config.
func RegisterCustomValidators(v *validator.Validate) error {
	if err := v.RegisterValidation("provider_type", validateProviderType); err != nil {
		return fmt.Errorf("failed to register provider_type validator: %w", err)
	}
	return nil
}

// validateProviderType checks a provider type names a supported dialect.
func validateProviderType(fl validator.FieldLevel) bool {
	_, ok := validProviderTypes[fl.Field().String()]
	return ok
}

// Validate validates the Config using struct tags and custom cross-field
// rules. Returns an error with actionable messages on failure.
func (c *Config) Validate() error {
	v := validator.New(validator.WithRequiredStructEnabled())
	if err := RegisterCustomValidators(v); err != nil {
		return err
	}
	if err := v.Struct(c); err != nil {
		return formatValidationErrors(err)
	}
	if err := c.validateStorage(); err != nil {
		return err
	}
	return c.validateProviderNames()
}

// validateStorage ensures the sqlite backend has a path.
func (c *Config) validateStorage() error {
	if c.Storage.Backend == "sqlite" && c.Storage.SQLitePath == "" {
		return errors.New("storage: sqlite_path is required when backend is sqlite")
	}
	return nil
}

// validateProviderNames ensures seeded provider names are unique.
func (c *Config) validateProviderNames() error {
	seen := make(map[string]struct{}, len(c.Providers))
	for i, p := range c.Providers {
		if _, dup := seen[p.Name]; dup {
			return fmt.Errorf("providers[%d]: duplicate provider name %q", i, p.Name)
		}
		seen[p.Name] = struct{}{}
	}
	return nil
}

// formatValidationErrors converts validator.ValidationErrors to
// user-friendly messages.
func formatValidationErrors(err error) error {
	var validationErrors validator.ValidationErrors
	if errors.As(err, &validationErrors) {
		var messages []string
		for _, e := range validationErrors {
			messages = append(messages, formatSingleValidationError(e))
		}
		return errors.New(strings.Join(messages, "; "))
	}
	return err
}

// formatSingleValidationError creates a user-friendly message for a single
// validation error.
func formatSingleValidationError(e validator.FieldError) string {
	field := e.Namespace()
	switch e.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", field)
	case "oneof":
		return fmt.Sprintf("%s must be one of: %s", field, e.Param())
	case "url":
		return fmt.Sprintf("%s must be a valid URL", field)
	case "hostname_port":
		return fmt.Sprintf("%s must be a valid host:port", field)
	case "provider_type":
		return fmt.Sprintf("%s must be one of: openai, anthropic, ollama, gemini", field)
	default:
		return fmt.Sprintf("%s failed validation: %s", field, e.Tag())
	}
}
