package secrets

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ErrNotFound is returned when no provider has the secret.
var ErrNotFound = errors.New("secret not found")

// Provider looks up a secret by name.
type Provider interface {
	Lookup(ctx context.Context, name string) (string, error)
	Name() string
}

// Env reads secrets from environment variables. The name is upper-cased,
// hyphens become underscores and Prefix is prepended.
type Env struct {
	Prefix string
}

// Lookup implements Provider.
func (e Env) Lookup(_ context.Context, name string) (string, error) {
	key := e.variable(name)
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return "", fmt.Errorf("%w: %s (env %s)", ErrNotFound, name, key)
	}
	return v, nil
}

// Name implements Provider.
func (Env) Name() string { return "env" }

func (e Env) variable(name string) string {
	return e.Prefix + strings.ToUpper(strings.ReplaceAll(name, "-", "_"))
}

// Dir reads secrets from one file per secret under Path. Surrounding
// whitespace is trimmed.
type Dir struct {
	Path string
}

// Lookup implements Provider.
func (d Dir) Lookup(_ context.Context, name string) (string, error) {
	if name != filepath.Base(name) || name == "." || name == ".." {
		return "", fmt.Errorf("invalid secret name %q", name)
	}
	path := filepath.Join(d.Path, name)

	info, err := os.Stat(path)
	if errors.Is(err, os.ErrNotExist) {
		return "", fmt.Errorf("%w: %s (file %s)", ErrNotFound, name, path)
	}
	if err != nil {
		return "", err
	}
	if mode := info.Mode().Perm(); mode&0o077 != 0 {
		return "", fmt.Errorf("insecure permissions on %s: %o (expected 0600 or 0400)", path, mode)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(data)), nil
}

// Name implements Provider.
func (Dir) Name() string { return "file" }
