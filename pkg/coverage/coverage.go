// Package coverage answers whether a pseudonymous patient is covered for a
// given service year.
//
// Records are keyed by a salted one-way digest of the patient token, never by
// the token itself, so no coverage store can be inverted to a patient identity.
package coverage

import (
	"context"
	"sync"

	"github.com/Mindburn-Labs/veris/pkg/commitment"
	"github.com/Mindburn-Labs/veris/pkg/identity"
)

// Window is a patient's coverage record. StartYear/EndYear of 0 mean
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

// Digester turns a patient token into its keying digest. *commitment.Deriver
// satisfies it.
type Digester interface {
	PatientDigest(patient identity.PatientToken) commitment.Digest
}

// Oracle is the read side consumed by the adjudication engine.
type Oracle interface {
	// IsCovered reports whether the patient is covered for the year.
	// Unknown patients are uncovered, not an error.
	IsCovered(ctx context.Context, patient identity.PatientToken, year uint16) (bool, error)
}

// Store adds the administrative write side.
type Store interface {
	Oracle
	Set(ctx context.Context, patient identity.PatientToken, w Window) error
	Get(ctx context.Context, patient identity.PatientToken) (Window, bool, error)
	Delete(ctx context.Context, patient identity.PatientToken) error
}

// MemoryStore is a mutex-guarded in-memory Store.
type MemoryStore struct {
	mu       sync.RWMutex
	digester Digester
	windows  map[commitment.Digest]Window
}

func NewMemoryStore(digester Digester) *MemoryStore {
	return &MemoryStore{
		digester: digester,
		windows:  make(map[commitment.Digest]Window),
	}
}

func (s *MemoryStore) IsCovered(_ context.Context, patient identity.PatientToken, year uint16) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	w, ok := s.windows[s.digester.PatientDigest(patient)]
	if !ok {
		return false, nil
	}
	return w.Covers(year), nil
}

func (s *MemoryStore) Set(_ context.Context, patient identity.PatientToken, w Window) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.windows[s.digester.PatientDigest(patient)] = w
	return nil
}

func (s *MemoryStore) Get(_ context.Context, patient identity.PatientToken) (Window, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	w, ok := s.windows[s.digester.PatientDigest(patient)]
	return w, ok, nil
}

func (s *MemoryStore) Delete(_ context.Context, patient identity.PatientToken) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.windows, s.digester.PatientDigest(patient))
	return nil
}
