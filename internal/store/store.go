// Package store holds provider descriptors and is the only writer of their
// token fields.
package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"reflect"
	"sync"
	"time"

	"github.com/hpn/hpn-g-adapter/internal/domain"
)

// ErrNotFound is returned when no descriptor has the requested ID.
var ErrNotFound = errors.New("provider not found")

// Store is the read side plus the narrow token write the engine needs.
type Store interface {
	Get(ctx context.Context, id string) (*domain.ProviderDescriptor, error)
	UpdateToken(ctx context.Context, id, token string, expiresAt time.Time) error
}

// MemoryStore keeps descriptors in memory, optionally persisting tokens to a
// TokenFile. It is safe for concurrent use.
type MemoryStore struct {
	// mu guards descriptors and order.
	mu sync.RWMutex

	descriptors map[string]*domain.ProviderDescriptor

	// order preserves configuration order for List.
	order []string

	tokens *TokenFile
	logger *slog.Logger
}

// Option is a functional option for configuring MemoryStore.
type Option func(*MemoryStore)

// WithTokenFile persists tokens to tf and seeds descriptors from it.
func WithTokenFile(tf *TokenFile) Option {
	return func(s *MemoryStore) {
		s.tokens = tf
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *MemoryStore) {
		s.logger = logger
	}
}

// NewMemoryStore creates a store holding copies of descs.
func NewMemoryStore(descs []domain.ProviderDescriptor, opts ...Option) (*MemoryStore, error) {
	s := &MemoryStore{
		descriptors: make(map[string]*domain.ProviderDescriptor),
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}

	if err := s.Replace(descs); err != nil {
		return nil, err
	}

	if s.tokens != nil {
		records, err := s.tokens.Load()
		if err != nil {
			return nil, err
		}
		s.mu.Lock()
		for id, rec := range records {
			if d, ok := s.descriptors[id]; ok {
				d.Token, d.TokenExpiresAt = rec.Token, rec.ExpiresAt
			}
		}
		s.mu.Unlock()
	}
	return s, nil
}

// Get returns a copy of the descriptor with the given ID.
func (s *MemoryStore) Get(_ context.Context, id string) (*domain.ProviderDescriptor, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	d, ok := s.descriptors[id]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrNotFound, id)
	}
	return d.Clone(), nil
}

// List returns copies of all descriptors in configuration order.
func (s *MemoryStore) List() []*domain.ProviderDescriptor {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*domain.ProviderDescriptor, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.descriptors[id].Clone())
	}
	return out
}

// FirstActive returns the first active descriptor of the given kind.
func (s *MemoryStore) FirstActive(kind domain.ProviderKind) (*domain.ProviderDescriptor, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, id := range s.order {
		if d := s.descriptors[id]; d.Kind == kind && d.IsActive {
			return d.Clone(), nil
		}
	}
	return nil, fmt.Errorf("%w: no active %s provider", ErrNotFound, kind)
}

// Replace swaps in a new descriptor set, as on configuration reload. Tokens
// already held for IDs that survive are kept unless their auth section changed.
func (s *MemoryStore) Replace(descs []domain.ProviderDescriptor) error {
	next := make(map[string]*domain.ProviderDescriptor, len(descs))
	order := make([]string, 0, len(descs))
	for i := range descs {
		d := descs[i].Clone()
		if d.ID == "" {
			return fmt.Errorf("store: provider at index %d has no id", i)
		}
		if _, dup := next[d.ID]; dup {
			return fmt.Errorf("store: duplicate provider id %q", d.ID)
		}
		next[d.ID] = d
		order = append(order, d.ID)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for id, d := range next {
		if old, ok := s.descriptors[id]; ok && d.Token == "" && reflect.DeepEqual(old.Auth, d.Auth) {
			d.Token, d.TokenExpiresAt = old.Token, old.TokenExpiresAt
		}
	}
	s.descriptors = next
	s.order = order
	return nil
}

// UpdateToken records a new token for id and persists it when a TokenFile is
// configured. It touches no other descriptor field.
func (s *MemoryStore) UpdateToken(_ context.Context, id, token string, expiresAt time.Time) error {
	s.mu.Lock()
	d, ok := s.descriptors[id]
	if ok {
		d.Token, d.TokenExpiresAt = token, expiresAt
	}
	s.mu.Unlock()

	if !ok {
		return fmt.Errorf("%w: %q", ErrNotFound, id)
	}
	if s.tokens == nil {
		return nil
	}
	if err := s.tokens.Put(id, TokenRecord{Token: token, ExpiresAt: expiresAt}); err != nil {
		return err
	}
	s.logger.Debug("provider token persisted", "provider", id, "path", s.tokens.Path())
	return nil
}
