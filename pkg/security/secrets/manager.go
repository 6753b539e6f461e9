package secrets

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"llamachat-hq/relay/pkg/config"
)

var refPattern = regexp.MustCompile(`\$\{secret:([^}]+)\}`)

// IsReference reports whether s contains a ${secret:name} reference.
func IsReference(s string) bool {
	return refPattern.MatchString(s)
}

// Resolver tries its providers in order.
type Resolver struct {
	providers []Provider
}

// NewResolver creates a resolver over providers.
func NewResolver(providers ...Provider) *Resolver {
	return &Resolver{providers: providers}
}

// FromConfig builds the env provider, followed by the file provider when
// a directory is configured.
func FromConfig(cfg config.SecretsConfig) (*Resolver, error) {
	providers := []Provider{NewEnvProvider(cfg.EnvPrefix)}
	if cfg.Dir != "" {
		fp, err := NewFileProvider(cfg.Dir)
		if err != nil {
			return nil, err
		}
		providers = append(providers, fp)
	}
	return NewResolver(providers...), nil
}

// GetSecret returns the first value any provider holds for name.
func (r *Resolver) GetSecret(ctx context.Context, name string) (string, error) {
	for _, p := range r.providers {
		value, err := p.GetSecret(ctx, name)
		if err == nil {
			slog.Debug("secret resolved", "provider", p.Name(), "name", name)
			return value, nil
		}
		if !errors.Is(err, ErrNotFound) {
			return "", fmt.Errorf("%s provider: %w", p.Name(), err)
		}
	}
	return "", fmt.Errorf("%w: %s", ErrNotFound, name)
}

// Resolve replaces every ${secret:name} in input. Unresolvable references
// are reported together and left in place.
func (r *Resolver) Resolve(ctx context.Context, input string) (string, error) {
	var failed []string
	out := refPattern.ReplaceAllStringFunc(input, func(match string) string {
		name := strings.TrimSpace(refPattern.FindStringSubmatch(match)[1])
		value, err := r.GetSecret(ctx, name)
		if err != nil {
			failed = append(failed, err.Error())
			return match
		}
		return value
	})
	if len(failed) > 0 {
		return out, fmt.Errorf("failed to resolve secret references: %s", strings.Join(failed, "; "))
	}
	return out, nil
}
