package provider

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/rcrowley/go-metrics"

	"github.com/kiquetal/go-jwk-provider/internal/jwks"
)

// IDPStatus is a point-in-time view of one registered IdP.
type IDPStatus struct {
	Name        string           `json:"name"`
	Source      string           `json:"source"`
	Lookups     int64            `json:"lookups"`
	Failures    int64            `json:"failures"`
	LastLookup  time.Time        `json:"last_lookup,omitempty"`
	LastError   string           `json:"last_error,omitempty"`
	LastErrorAt time.Time        `json:"last_error_at,omitempty"`
	Metrics     map[string]int64 `json:"metrics"`
}

type idpEntry struct {
	name     string
	source   string
	provider KeyProvider
	registry metrics.Registry

	lookups     int64
	failures    int64
	lastLookup  time.Time
	lastError   string
	lastErrorAt time.Time
}

// Manager routes key lookups to the pipeline registered for each IdP.
type Manager struct {
	mu     sync.RWMutex
	idps   map[string]*idpEntry
	logger *slog.Logger
}

// NewManager creates an empty manager.
func NewManager(logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Manager{
		idps:   make(map[string]*idpEntry),
		logger: logger,
	}
}

// Register adds a pipeline under name. source describes where its keys come
// from; registry, if non-nil, is the one the pipeline records metrics in.
func (m *Manager) Register(name, source string, p KeyProvider, registry metrics.Registry) error {
	if name == "" || p == nil {
		return fmt.Errorf("%w: idp needs a name and a provider", ErrInvalidConfiguration)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.idps[name]; exists {
		return fmt.Errorf("%w: idp %q already registered", ErrInvalidConfiguration, name)
	}
	m.idps[name] = &idpEntry{
		name:     name,
		source:   source,
		provider: p,
		registry: registry,
	}

	m.logger.Info("Registered IDP", "idp", name, "source", source)
	return nil
}

// GetKey resolves kid through the pipeline registered under name.
func (m *Manager) GetKey(ctx context.Context, name, kid string) (*jwks.Key, error) {
	m.mu.RLock()
	entry, exists := m.idps[name]
	m.mu.RUnlock()
	if !exists {
		return nil, fmt.Errorf("%w: %q", ErrUnknownIDP, name)
	}

	key, err := entry.provider.GetKey(ctx, kid)
	m.record(entry, kid, err)
	return key, err
}

func (m *Manager) record(entry *idpEntry, kid string, err error) {
	now := time.Now()

	m.mu.Lock()
	entry.lookups++
	entry.lastLookup = now
	if err != nil {
		entry.failures++
		entry.lastError = err.Error()
		entry.lastErrorAt = now
	}
	m.mu.Unlock()

	var rl *RateLimitError
	switch {
	case err == nil:
		m.logger.Debug("Resolved key", "idp", entry.name, "kid", kid)
	case errors.Is(err, ErrKeyNotFound):
		m.logger.Info("Key not found", "idp", entry.name, "kid", kid)
	case errors.As(err, &rl):
		m.logger.Warn("Key lookup rate limited",
			"idp", entry.name,
			"kid", kid,
			"retry_after", rl.RetryAfter,
		)
	default:
		m.logger.Error("Failed to resolve key",
			"idp", entry.name,
			"kid", kid,
			"error", err,
		)
	}
}

// Status returns a snapshot for one IdP.
func (m *Manager) Status(name string) (*IDPStatus, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	entry, exists := m.idps[name]
	if !exists {
		return nil, false
	}
	return entry.status(), true
}

// StatusAll returns a snapshot for every IdP.
func (m *Manager) StatusAll() map[string]*IDPStatus {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make(map[string]*IDPStatus, len(m.idps))
	for name, entry := range m.idps {
		result[name] = entry.status()
	}
	return result
}

// Names returns the registered IdP names in sorted order.
func (m *Manager) Names() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	names := make([]string, 0, len(m.idps))
	for name := range m.idps {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// status copies the entry. Must be called with the manager lock held.
func (e *idpEntry) status() *IDPStatus {
	return &IDPStatus{
		Name:        e.name,
		Source:      e.source,
		Lookups:     e.lookups,
		Failures:    e.failures,
		LastLookup:  e.lastLookup,
		LastError:   e.lastError,
		LastErrorAt: e.lastErrorAt,
		Metrics:     Snapshot(e.registry),
	}
}
