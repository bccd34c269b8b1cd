// Package keyring stores the credentials referenced from the
// configuration, such as the InfluxDB token and the storage DSN.
package keyring

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/whhaicheng/SchedBench/internal/domain/config"
)

// SecretPrefix marks a configuration value that names a stored secret.
const SecretPrefix = "secret:"

// Provider defines the interface for secret storage operations.
type Provider interface {
	// Set stores a secret under name.
	Set(ctx context.Context, name, secret string) error

	// Get retrieves the secret stored under name.
	// Returns an error if the name is not found.
	Get(ctx context.Context, name string) (string, error)

	// Delete removes the secret stored under name.
	// Returns an error if the name is not found.
	Delete(ctx context.Context, name string) error

	// Available checks if the provider can store secrets.
	Available(ctx context.Context) bool
}

// ErrNotFound is returned when a name is not found in the store.
type ErrNotFound struct {
	Key string
}

func (e *ErrNotFound) Error() string {
	return fmt.Sprintf("secret not found: %s", e.Key)
}

// IsNotFound checks if an error is ErrNotFound.
func IsNotFound(err error) bool {
	var nf *ErrNotFound
	return errors.As(err, &nf)
}

// Resolve returns value unchanged unless it has the form "secret:<name>",
// in which case the stored secret is returned.
func Resolve(ctx context.Context, p Provider, value string) (string, error) {
	name, ok := strings.CutPrefix(value, SecretPrefix)
	if !ok {
		return value, nil
	}
	if name == "" {
		return "", fmt.Errorf("%w: empty secret name", config.ErrInvalidConfiguration)
	}
	if p == nil {
		return "", fmt.Errorf("%w: %s needs a secret store", config.ErrInvalidConfiguration, value)
	}
	secret, err := p.Get(ctx, name)
	if err != nil {
		return "", fmt.Errorf("resolve %s: %w", value, err)
	}
	return secret, nil
}

// ResolveConfig replaces secret references in the credential fields of
// cfg in place.
func ResolveConfig(ctx context.Context, p Provider, cfg *config.Config) error {
	fields := []struct {
		name  string
		value *string
	}{
		{"storage.dsn", &cfg.Storage.DSN},
		{"influx.token", &cfg.Influx.Token},
	}
	for _, f := range fields {
		resolved, err := Resolve(ctx, p, *f.value)
		if err != nil {
			return fmt.Errorf("%s: %w", f.name, err)
		}
		*f.value = resolved
	}
	return nil
}
