/*
store.go - Persistence interfaces for the ledger and the audit log

PURPOSE:
  Defines the interface between the ledger and the database. The Store
  handles persistence while maintaining append-only semantics.

APPEND-ONLY CONTRACT:
  - AppendEntry(): Single entry write
  - NO Update() or Delete() methods exist

IMPLEMENTATIONS:
  - store/sqlite/sqlite.go: Production SQLite
  - generic/store/memory.go: In-memory for testing

SEE ALSO:
  - ledger.go: Higher-level interface using Store
*/
package generic

import (
	"context"
	"time"
)

// =============================================================================
// STORE - Interface for ledger persistence (append-only)
// =============================================================================

// Store handles persistence of ledger entries.
// IMPORTANT: Store is APPEND-ONLY. No Update, No Delete. Ever.
type Store interface {
	// AppendEntry persists an entry. Returns ErrDuplicateIdempotencyKey
	// if the key exists.
	AppendEntry(ctx context.Context, e Entry) error

	// LoadEntries returns entries for an entity with EffectiveAt in
	// [from, to], ordered by EffectiveAt.
	LoadEntries(ctx context.Context, entityID EntityID, from, to Date) ([]Entry, error)

	// Exists checks if idempotency key already exists.
	Exists(ctx context.Context, idempotencyKey string) (bool, error)
}

// =============================================================================
// AUDIT LOG - Separate from ledger, tracks who did what when
// =============================================================================

// AuditEntry records who did what when.
type AuditEntry struct {
	ID        string
	Timestamp time.Time
	ActorID   string
	Action    AuditAction
	EntityID  EntityID // Employee
	TargetID  string   // Record, correction or payroll run
	Payload   map[string]any
}

type AuditAction string

const (
	AuditRecordProcessed     AuditAction = "record_processed"
	AuditRecordSuperseded    AuditAction = "record_superseded"
	AuditRecordsLocked       AuditAction = "records_locked"
	AuditCorrectionSubmitted AuditAction = "correction_submitted"
	AuditCorrectionApproved  AuditAction = "correction_approved"
	AuditCorrectionRejected  AuditAction = "correction_rejected"
	AuditCorrectionApplied   AuditAction = "correction_applied"
	AuditViolationReviewed   AuditAction = "violation_reviewed"
	AuditExceptionApproved   AuditAction = "exception_approved"
	AuditTimesheetApproved   AuditAction = "timesheet_approved"
	AuditTimesheetRejected   AuditAction = "timesheet_rejected"
)

// AuditLog stores audit entries. Also append-only.
type AuditLog interface {
	AppendAudit(ctx context.Context, entry AuditEntry) error
	QueryAudit(ctx context.Context, filter AuditFilter) ([]AuditEntry, error)
}

type AuditFilter struct {
	EntityID *EntityID
	TargetID *string
	ActorID  *string
	Actions  []AuditAction
	From     *time.Time
	To       *time.Time
}

// Matches reports whether e passes the filter.
func (f AuditFilter) Matches(e AuditEntry) bool {
	if f.EntityID != nil && e.EntityID != *f.EntityID {
		return false
	}
	if f.TargetID != nil && e.TargetID != *f.TargetID {
		return false
	}
	if f.ActorID != nil && e.ActorID != *f.ActorID {
		return false
	}
	if f.From != nil && e.Timestamp.Before(*f.From) {
		return false
	}
	if f.To != nil && e.Timestamp.After(*f.To) {
		return false
	}
	if len(f.Actions) > 0 {
		for _, a := range f.Actions {
			if a == e.Action {
				return true
			}
		}
		return false
	}
	return true
}
