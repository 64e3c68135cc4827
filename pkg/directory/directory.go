// Package directory maps capability ids to agent cards. It is populated
// at startup and read on every pipeline stage; it never checks whether a
// registered agent is alive.
package directory

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/igorsilveira/deckhand/pkg/a2a"
	"github.com/igorsilveira/deckhand/pkg/audit"
	"github.com/igorsilveira/deckhand/pkg/telemetry"
)

var ErrNotFound = errors.New("no agent registered")

// DiscoveryError reports a lookup that found nothing.
type DiscoveryError struct {
	Capability string
	Err        error
}

func (e *DiscoveryError) Error() string {
	return fmt.Sprintf("directory: capability %q: %v", e.Capability, e.Err)
}

func (e *DiscoveryError) Unwrap() error { return e.Err }

// Finder resolves a capability id to a card.
type Finder interface {
	Find(ctx context.Context, capability string) (*a2a.AgentCard, error)
}

type Registration struct {
	Capability string         `json:"capability"`
	Card       *a2a.AgentCard `json:"card"`
}

type Registry struct {
	store    Store
	auditLog a2a.Auditor
	logger   *slog.Logger
}

type Option func(*Registry)

func WithAuditLog(a a2a.Auditor) Option {
	return func(r *Registry) { r.auditLog = a }
}

func WithLogger(l *slog.Logger) Option {
	return func(r *Registry) { r.logger = l }
}

func NewRegistry(store Store, opts ...Option) *Registry {
	if store == nil {
		store = NewMemoryStore()
	}
	r := &Registry{store: store, logger: slog.Default()}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register stores card under capability, replacing any earlier card.
// Registering the same card twice is a no-op in effect.
func (r *Registry) Register(ctx context.Context, capability string, card *a2a.AgentCard) error {
	capability = normalize(capability)
	if capability == "" {
		return errors.New("directory: empty capability id")
	}
	if err := card.Validate(); err != nil {
		return fmt.Errorf("directory: registering %q: %w", capability, err)
	}
	if err := r.store.Save(ctx, capability, card.Clone()); err != nil {
		return fmt.Errorf("directory: registering %q: %w", capability, err)
	}

	telemetry.Metrics.DirectoryRegister.WithLabelValues(capability).Inc()
	r.logger.Info("card registered",
		slog.String("capability", capability),
		slog.String("agent", card.Name),
		slog.String("url", card.URL),
	)
	if r.auditLog != nil {
		detail := map[string]string{"capability": capability, "url": card.URL}
		if err := r.auditLog.Log(ctx, audit.EventCardRegister, "", card.Name, "directory", detail); err != nil {
			r.logger.Warn("audit log write failed", telemetry.Err(err))
		}
	}
	return nil
}

func (r *Registry) Find(ctx context.Context, capability string) (*a2a.AgentCard, error) {
	capability = normalize(capability)
	card, err := r.store.Get(ctx, capability)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			telemetry.Metrics.DirectoryLookups.WithLabelValues(capability, "miss").Inc()
			return nil, &DiscoveryError{Capability: capability, Err: ErrNotFound}
		}
		return nil, fmt.Errorf("directory: finding %q: %w", capability, err)
	}
	telemetry.Metrics.DirectoryLookups.WithLabelValues(capability, "hit").Inc()
	return card.Clone(), nil
}

func (r *Registry) List(ctx context.Context) ([]Registration, error) {
	regs, err := r.store.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("directory: listing: %w", err)
	}
	return regs, nil
}

// Seed registers every entry, stopping at the first failure.
func (r *Registry) Seed(ctx context.Context, regs []Registration) error {
	for _, reg := range regs {
		if err := r.Register(ctx, reg.Capability, reg.Card); err != nil {
			return err
		}
	}
	return nil
}

func (r *Registry) Close() error {
	return r.store.Close()
}

func normalize(capability string) string {
	return strings.ToLower(strings.TrimSpace(capability))
}
