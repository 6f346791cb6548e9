// Package eligibility answers whether a provider principal may submit claims
// for a given service year.
package eligibility

import (
	"context"
	"sync"

	"github.com/Mindburn-Labs/veris/pkg/identity"
)

// Window is a provider's enrollment record. StartYear/EndYear of 0 mean
// open-ended on that side.
type Window struct {
	Active    bool   `json:"active" yaml:"active"`
	StartYear uint16 `json:"start_year" yaml:"start_year"`
	EndYear   uint16 `json:"end_year" yaml:"end_year"`
}

// Covers reports whether the window admits the given year.
func (w Window) Covers(year uint16) bool {
	if !w.Active {
		return false
	}
	if w.StartYear != 0 && year < w.StartYear {
		return false
	}
	if w.EndYear != 0 && year > w.EndYear {
		return false
	}
	return true
}

// Oracle is the read side consumed by the adjudication engine.
type Oracle interface {
	// IsActive reports whether the principal may submit claims for the year.
	// Unknown principals are inactive, not an error.
	IsActive(ctx context.Context, provider identity.Principal, year uint16) (bool, error)
}

// Store adds the administrative write side.
type Store interface {
	Oracle
	Set(ctx context.Context, provider identity.Principal, w Window) error
	Get(ctx context.Context, provider identity.Principal) (Window, bool, error)
	Delete(ctx context.Context, provider identity.Principal) error
}

// MemoryStore is a mutex-guarded in-memory Store.
type MemoryStore struct {
	mu      sync.RWMutex
	windows map[identity.Principal]Window
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{windows: make(map[identity.Principal]Window)}
}

func (s *MemoryStore) IsActive(_ context.Context, provider identity.Principal, year uint16) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	w, ok := s.windows[provider]
	if !ok {
		return false, nil
	}
	return w.Covers(year), nil
}

func (s *MemoryStore) Set(_ context.Context, provider identity.Principal, w Window) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.windows[provider] = w
	return nil
}

func (s *MemoryStore) Get(_ context.Context, provider identity.Principal) (Window, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	w, ok := s.windows[provider]
	return w, ok, nil
}

func (s *MemoryStore) Delete(_ context.Context, provider identity.Principal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.windows, provider)
	return nil
}
