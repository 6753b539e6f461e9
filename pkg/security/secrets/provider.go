package secrets

import (
	"context"
	"errors"
)

// ErrNotFound is returned by a provider that has no value for a name.
var ErrNotFound = errors.New("secret not found")

// Provider looks secrets up by name.
type Provider interface {
	// GetSecret returns the value for name, or an error wrapping
	// ErrNotFound when the provider does not hold it.
	GetSecret(ctx context.Context, name string) (string, error)

	// Name identifies the provider in logs ("env", "file").
	Name() string
}
