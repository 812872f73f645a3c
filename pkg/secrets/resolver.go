package secrets

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"sync"
)

var refPattern = regexp.MustCompile(`\$\{secret:([^}]+)\}`)

// IsReference reports whether s contains a secret reference.
func IsReference(s string) bool {
	return refPattern.MatchString(s)
}

// Resolver looks secrets up in its providers, first hit wins. Values are
// cached for the life of the Resolver.
type Resolver struct {
	providers []Provider
	logger    *slog.Logger

	mu    sync.RWMutex
	cache map[string]string
}

// New creates a Resolver. A nil logger uses slog.Default().
func New(logger *slog.Logger, providers ...Provider) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{
		providers: providers,
		logger:    logger.With("component", "secrets"),
		cache:     make(map[string]string),
	}
}

// Get returns the named secret.
func (r *Resolver) Get(ctx context.Context, name string) (string, error) {
	r.mu.RLock()
	v, ok := r.cache[name]
	r.mu.RUnlock()
	if ok {
		return v, nil
	}

	var errs []error
	for _, p := range r.providers {
		v, err := p.Lookup(ctx, name)
		if err != nil {
			if !errors.Is(err, ErrNotFound) {
				r.logger.WarnContext(ctx, "secret provider failed", "provider", p.Name(), "name", name, "error", err)
			}
			errs = append(errs, err)
			continue
		}
		r.mu.Lock()
		r.cache[name] = v
		r.mu.Unlock()
		r.logger.DebugContext(ctx, "secret resolved", "provider", p.Name(), "name", name)
		return v, nil
	}
	if len(errs) == 0 {
		return "", fmt.Errorf("%w: %s (no providers)", ErrNotFound, name)
	}
	return "", errors.Join(errs...)
}

// Resolve replaces every ${secret:name} in s. Strings without references
// are returned unchanged.
func (r *Resolver) Resolve(ctx context.Context, s string) (string, error) {
	var errs []error
	out := refPattern.ReplaceAllStringFunc(s, func(match string) string {
		name := refPattern.FindStringSubmatch(match)[1]
		v, err := r.Get(ctx, name)
		if err != nil {
			errs = append(errs, err)
			return match
		}
		return v
	})
	if len(errs) > 0 {
		return "", errors.Join(errs...)
	}
	return out, nil
}

// ResolveAll resolves each field in place. A failure leaves that field
// unchanged; all failures are returned together.
func (r *Resolver) ResolveAll(ctx context.Context, fields map[string]*string) error {
	var errs []error
	for field, dst := range fields {
		if dst == nil || !IsReference(*dst) {
			continue
		}
		v, err := r.Resolve(ctx, *dst)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", field, err))
			continue
		}
		*dst = v
	}
	return errors.Join(errs...)
}
