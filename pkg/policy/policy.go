// Package policy holds the per-code pricing and enablement rules consumed by
// the adjudication engine.
package policy

import (
	"context"
	"sort"
	"sync"
)

// Rule prices and gates one service code. Price is in minor units.
// MaxPerYear of 0 means unlimited visits per (patient, year).
type Rule struct {
	Enabled    bool   `json:"enabled" yaml:"enabled"`
	Price      int64  `json:"price" yaml:"price"`
	MaxPerYear uint64 `json:"max_per_year" yaml:"max_per_year"`
	Label      string `json:"label" yaml:"label"`
}

// Payable reports whether a claim against this rule can be approved at all.
func (r Rule) Payable() bool {
	return r.Enabled && r.Price > 0
}

// Source is the read side consumed by the adjudication engine.
type Source interface {
	// Rule returns the rule for a code. Unknown codes return ok=false, not an
	// error; the engine treats them as disabled.
	Rule(ctx context.Context, code uint16) (Rule, bool, error)
}

// Store adds the administrative write side.
type Store interface {
	Source
	Set(ctx context.Context, code uint16, r Rule) error
	Delete(ctx context.Context, code uint16) error
	List(ctx context.Context) (map[uint16]Rule, error)
}

// MemoryStore is a mutex-guarded in-memory Store.
type MemoryStore struct {
	mu    sync.RWMutex
	rules map[uint16]Rule
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{rules: make(map[uint16]Rule)}
}

func (s *MemoryStore) Rule(_ context.Context, code uint16) (Rule, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.rules[code]
	return r, ok, nil
}

func (s *MemoryStore) Set(_ context.Context, code uint16, r Rule) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rules[code] = r
	return nil
}

func (s *MemoryStore) Delete(_ context.Context, code uint16) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.rules, code)
	return nil
}

func (s *MemoryStore) List(_ context.Context) (map[uint16]Rule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[uint16]Rule, len(s.rules))
	for code, r := range s.rules {
		out[code] = r
	}
	return out, nil
}

// Codes returns the configured codes in ascending order. Convenience for
// deterministic listings.
func Codes(rules map[uint16]Rule) []uint16 {
	codes := make([]uint16, 0, len(rules))
	for c := range rules {
		codes = append(codes, c)
	}
	sort.Slice(codes, func(i, j int) bool { return codes[i] < codes[j] })
	return codes
}
