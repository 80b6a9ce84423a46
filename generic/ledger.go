/*
ledger.go - Append-only offense ledger

PURPOSE:
  The Ledger is the source of truth for how many confirmed offenses of a
  rule an employee has committed. Every confirmation and every overturned
  appeal is recorded here. Offense counts are always computed by summing
  entries in a window - there's no separate counter that can drift.

CRITICAL INVARIANTS:
  1. APPEND-ONLY: No Update, No Delete. EVER.
  2. IMMUTABLE: Once written, entries cannot be modified
  3. IDEMPOTENT: Same idempotency key = same entry (no duplicates)

CORRECTIONS:
  An overturned appeal does not delete the confirmation. Instead a
  reversal entry with Delta -1 is appended; both stay in the ledger and
  the windowed sum drops by one.

EXAMPLE FLOW:
  1. Late arrival confirmed on Mar 3:   +1  (count 1)
  2. Late arrival confirmed on Mar 10:  +1  (count 2)
  3. Mar 10 appeal overturned:          -1  (count 1)

SEE ALSO:
  - store.go: Low-level persistence interface
  - attendance/service.go: Appends on violation review decisions
*/
package generic

import (
	"context"
	"time"
)

// =============================================================================
// ENTRY - One immutable ledger line
// =============================================================================

type EntryType string

const (
	EntryOffense  EntryType = "offense"  // Violation confirmed (or appeal upheld)
	EntryReversal EntryType = "reversal" // Confirmation undone by an overturned appeal
)

type Entry struct {
	ID             EntryID
	EntityID       EntityID // Employee
	Code           string   // Violation code
	EffectiveAt    Date     // Work date of the offense
	Delta          int
	Type           EntryType
	ReferenceID    string // Violation ID
	Reason         string
	IdempotencyKey string

	CreatedBy string
	CreatedAt time.Time
}

// =============================================================================
// LEDGER
// =============================================================================

// Ledger is the source of truth for confirmed offense counts.
//
// INVARIANTS:
//   - Append-only: No Update, No Delete. EVER.
//   - Immutable: Once written, entries cannot be modified.
type Ledger interface {
	// Append adds an entry. Fails if the idempotency key exists.
	Append(ctx context.Context, e Entry) error

	// Entries returns entries for entity+code in [from, to], chronologically.
	Entries(ctx context.Context, entityID EntityID, code string, from, to Date) ([]Entry, error)

	// CountInWindow sums entry deltas for entity+code in the period.
	// Never negative.
	CountInWindow(ctx context.Context, entityID EntityID, code string, window Period) (int, error)

	// CountsInWindow sums deltas per code for every code the entity has
	// entries for in the period.
	CountsInWindow(ctx context.Context, entityID EntityID, window Period) (map[string]int, error)
}

// =============================================================================
// DEFAULT LEDGER - Implementation using Store
// =============================================================================

type DefaultLedger struct {
	Store Store
}

func NewLedger(store Store) *DefaultLedger {
	return &DefaultLedger{Store: store}
}

func (l *DefaultLedger) Append(ctx context.Context, e Entry) error {
	if e.IdempotencyKey != "" {
		exists, err := l.Store.Exists(ctx, e.IdempotencyKey)
		if err != nil {
			return err
		}
		if exists {
			return ErrDuplicateIdempotencyKey
		}
	}
	return l.Store.AppendEntry(ctx, e)
}

func (l *DefaultLedger) Entries(ctx context.Context, entityID EntityID, code string, from, to Date) ([]Entry, error) {
	all, err := l.Store.LoadEntries(ctx, entityID, from, to)
	if err != nil {
		return nil, err
	}
	var out []Entry
	for _, e := range all {
		if e.Code == code {
			out = append(out, e)
		}
	}
	return out, nil
}

func (l *DefaultLedger) CountInWindow(ctx context.Context, entityID EntityID, code string, window Period) (int, error) {
	counts, err := l.CountsInWindow(ctx, entityID, window)
	if err != nil {
		return 0, err
	}
	return counts[code], nil
}

func (l *DefaultLedger) CountsInWindow(ctx context.Context, entityID EntityID, window Period) (map[string]int, error) {
	if err := window.Validate(); err != nil {
		return nil, err
	}
	entries, err := l.Store.LoadEntries(ctx, entityID, window.Start, window.End)
	if err != nil {
		return nil, err
	}
	counts := make(map[string]int)
	for _, e := range entries {
		counts[e.Code] += e.Delta
	}
	for code, n := range counts {
		if n < 0 {
			counts[code] = 0
		}
	}
	return counts, nil
}
