// Package store provides the adjudicator's state backends: an in-memory state
// for single-node and test use, and a database/sql state that works against
// SQLite and Postgres.
package store

import (
	"context"
	"fmt"
	"sync"

	"github.com/Mindburn-Labs/veris/pkg/adjudicator"
	"github.com/Mindburn-Labs/veris/pkg/commitment"
)

var _ adjudicator.State = (*MemoryState)(nil)

// MemoryState keeps counters, commitments, and claim records in maps.
// Transactions stage writes and apply them on Commit.
type MemoryState struct {
	mu          sync.Mutex
	counters    map[commitment.VisitGroup]uint64
	commitments map[commitment.Key]struct{}
	records     map[uint64]commitment.Key
	lastID      uint64
}

func NewMemoryState() *MemoryState {
	return &MemoryState{
		counters:    make(map[commitment.VisitGroup]uint64),
		commitments: make(map[commitment.Key]struct{}),
		records:     make(map[uint64]commitment.Key),
	}
}

func (s *MemoryState) Begin(_ context.Context) (adjudicator.StateTx, error) {
	return &memoryTx{
		parent:   s,
		counters: make(map[commitment.VisitGroup]uint64),
		marked:   make(map[commitment.Key]struct{}),
		records:  make(map[uint64]commitment.Key),
	}, nil
}

func (s *MemoryState) ClaimKeyOf(_ context.Context, id uint64) (commitment.Key, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key, ok := s.records[id]
	if !ok {
		return commitment.Key{}, adjudicator.ErrNoSuchClaim
	}
	return key, nil
}

func (s *MemoryState) LastClaimID(_ context.Context) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastID, nil
}

type memoryTx struct {
	parent   *MemoryState
	counters map[commitment.VisitGroup]uint64
	marked   map[commitment.Key]struct{}
	records  map[uint64]commitment.Key
	done     bool
}

func (t *memoryTx) VisitCount(_ context.Context, group commitment.VisitGroup) (uint64, error) {
	if n, ok := t.counters[group]; ok {
		return n, nil
	}
	t.parent.mu.Lock()
	defer t.parent.mu.Unlock()
	return t.parent.counters[group], nil
}

func (t *memoryTx) SetVisitCount(_ context.Context, group commitment.VisitGroup, count uint64) error {
	t.counters[group] = count
	return nil
}

func (t *memoryTx) HasCommitment(_ context.Context, key commitment.Key) (bool, error) {
	if _, ok := t.marked[key]; ok {
		return true, nil
	}
	t.parent.mu.Lock()
	defer t.parent.mu.Unlock()
	_, ok := t.parent.commitments[key]
	return ok, nil
}

func (t *memoryTx) MarkCommitment(ctx context.Context, key commitment.Key) error {
	used, err := t.HasCommitment(ctx, key)
	if err != nil {
		return err
	}
	if used {
		return fmt.Errorf("store: commitment key %s already used", key)
	}
	t.marked[key] = struct{}{}
	return nil
}

func (t *memoryTx) NextClaimID(_ context.Context) (uint64, error) {
	t.parent.mu.Lock()
	defer t.parent.mu.Unlock()
	return t.parent.lastID + uint64(len(t.records)) + 1, nil
}

func (t *memoryTx) PutClaimRecord(_ context.Context, id uint64, key commitment.Key) error {
	if _, ok := t.records[id]; ok {
		return fmt.Errorf("store: claim id %d already staged", id)
	}
	t.records[id] = key
	return nil
}

func (t *memoryTx) Commit() error {
	if t.done {
		return fmt.Errorf("store: transaction already finished")
	}
	t.done = true

	t.parent.mu.Lock()
	defer t.parent.mu.Unlock()
	for group, n := range t.counters {
		t.parent.counters[group] = n
	}
	for key := range t.marked {
		t.parent.commitments[key] = struct{}{}
	}
	for id, key := range t.records {
		t.parent.records[id] = key
		if id > t.parent.lastID {
			t.parent.lastID = id
		}
	}
	return nil
}

func (t *memoryTx) Rollback() error {
	// Rollback after Commit (or a second Rollback) is a no-op.
	t.done = true
	return nil
}
