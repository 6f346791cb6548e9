// Package ledger provides the append-only, hash-chained outcome trail.
//
// Every adjudication outcome (paid, rejected) and administrative transition
// (paused, resumed) is appended as an immutable entry chained to its
// predecessor. Entries carry only non-identifying data: patient tokens never
// reach this package.
package ledger

import (
	"fmt"
	"sync"
	"time"

	"github.com/Mindburn-Labs/veris/pkg/canon"
)

// EntryKind categorizes a ledger entry.
type EntryKind string

const (
	KindPaid     EntryKind = "PAID"
	KindRejected EntryKind = "REJECTED"
	KindPaused   EntryKind = "PAUSED"
	KindResumed  EntryKind = "RESUMED"
)

// Entry is an immutable, hash-chained record of one observable outcome.
type Entry struct {
	Sequence    uint64                 `json:"sequence"`
	Kind        EntryKind              `json:"kind"`
	ContentHash string                 `json:"content_hash"`
	PrevHash    string                 `json:"prev_hash"`
	Timestamp   time.Time              `json:"timestamp"`
	Data        map[string]interface{} `json:"data"`
}

// Ledger is an append-only, hash-chained log. A nil *Ledger is not usable;
// construct with New.
type Ledger struct {
	mu       sync.RWMutex
	entries  []Entry
	headHash string
	clock    func() time.Time
}

// New creates an empty ledger.
func New() *Ledger {
	return &Ledger{
		entries:  make([]Entry, 0),
		headHash: "genesis",
		clock:    time.Now,
	}
}

// WithClock overrides the clock for testing.
func (l *Ledger) WithClock(clock func() time.Time) *Ledger {
	l.clock = clock
	return l
}

// Append adds an entry and returns its sequence number.
func (l *Ledger) Append(kind EntryKind, data map[string]interface{}) (uint64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	seq := uint64(len(l.entries)) + 1
	contentHash, err := entryHash(seq, kind, data, l.headHash)
	if err != nil {
		return 0, err
	}

	l.entries = append(l.entries, Entry{
		Sequence:    seq,
		Kind:        kind,
		ContentHash: contentHash,
		PrevHash:    l.headHash,
		Timestamp:   l.clock().UTC(),
		Data:        data,
	})
	l.headHash = contentHash
	return seq, nil
}

// Get retrieves an entry by sequence number.
func (l *Ledger) Get(seq uint64) (*Entry, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if seq == 0 || seq > uint64(len(l.entries)) {
		return nil, fmt.Errorf("ledger: entry %d not found", seq)
	}
	entry := l.entries[seq-1]
	return &entry, nil
}

// Tail returns up to n most recent entries, oldest first.
func (l *Ledger) Tail(n int) []Entry {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if n <= 0 || n > len(l.entries) {
		n = len(l.entries)
	}
	out := make([]Entry, n)
	copy(out, l.entries[len(l.entries)-n:])
	return out
}

// Head returns the current head hash.
func (l *Ledger) Head() string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.headHash
}

// Length returns the number of entries.
func (l *Ledger) Length() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.entries)
}

// Verify checks the integrity of the entire chain.
func (l *Ledger) Verify() (bool, string) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	prevHash := "genesis"
	for i, entry := range l.entries {
		if entry.PrevHash != prevHash {
			return false, fmt.Sprintf("chain broken at entry %d: expected prev %s, got %s", i+1, prevHash, entry.PrevHash)
		}
		computed, err := entryHash(entry.Sequence, entry.Kind, entry.Data, entry.PrevHash)
		if err != nil {
			return false, fmt.Sprintf("failed to hash entry %d", i+1)
		}
		if computed != entry.ContentHash {
			return false, fmt.Sprintf("hash mismatch at entry %d", i+1)
		}
		prevHash = entry.ContentHash
	}
	return true, "chain verified"
}

func entryHash(seq uint64, kind EntryKind, data map[string]interface{}, prevHash string) (string, error) {
	hashInput := struct {
		Seq      uint64                 `json:"seq"`
		Kind     EntryKind              `json:"kind"`
		Data     map[string]interface{} `json:"data"`
		PrevHash string                 `json:"prev"`
	}{seq, kind, data, prevHash}

	h, err := canon.Hash(hashInput)
	if err != nil {
		return "", fmt.Errorf("ledger: failed to hash entry: %w", err)
	}
	return "sha256:" + h, nil
}
