package generic_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/attendance-engine/generic"
	"github.com/warp/attendance-engine/generic/store"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

func newTestLedger() generic.Ledger {
	return generic.NewLedger(store.NewMemory())
}

func offense(emp, code string, d generic.Date, delta int) generic.Entry {
	typ := generic.EntryOffense
	if delta < 0 {
		typ = generic.EntryReversal
	}
	return generic.Entry{
		ID:             generic.EntryID(fmt.Sprintf("%s-%s-%s-%d", emp, code, d, delta)),
		EntityID:       generic.EntityID(emp),
		Code:           code,
		EffectiveAt:    d,
		Delta:          delta,
		Type:           typ,
		IdempotencyKey: fmt.Sprintf("%s:%s:%s:%d", emp, code, d, delta),
		CreatedAt:      time.Now(),
	}
}

// =============================================================================
// OFFENSE COUNTS
// =============================================================================

func TestLedger_CountsInWindow_SumsDeltasPerCode(t *testing.T) {
	ctx := context.Background()
	ledger := newTestLedger()

	// GIVEN: Two late offenses, one reversed, and an overtime offense
	require.NoError(t, ledger.Append(ctx, offense("emp-1", "LATE_ARRIVAL", generic.NewDate(2026, time.March, 2), 1)))
	require.NoError(t, ledger.Append(ctx, offense("emp-1", "LATE_ARRIVAL", generic.NewDate(2026, time.March, 3), 1)))
	require.NoError(t, ledger.Append(ctx, offense("emp-1", "LATE_ARRIVAL", generic.NewDate(2026, time.March, 3), -1)))
	require.NoError(t, ledger.Append(ctx, offense("emp-1", "EXCESSIVE_OVERTIME", generic.NewDate(2026, time.March, 4), 1)))

	// WHEN: Counting the window that ends the day before March 10
	counts, err := ledger.CountsInWindow(ctx, "emp-1", generic.RollingWindow(generic.NewDate(2026, time.March, 10), 90))
	require.NoError(t, err)

	// THEN: Each code sums its own deltas
	assert.Equal(t, 1, counts["LATE_ARRIVAL"])
	assert.Equal(t, 1, counts["EXCESSIVE_OVERTIME"])
}

func TestLedger_CountInWindow_ExcludesEntriesOutsideWindow(t *testing.T) {
	ctx := context.Background()
	ledger := newTestLedger()

	// GIVEN: One offense long ago, one last week, one on the anchor day
	anchor := generic.NewDate(2026, time.June, 15)
	require.NoError(t, ledger.Append(ctx, offense("emp-1", "LATE_ARRIVAL", anchor.AddDays(-120), 1)))
	require.NoError(t, ledger.Append(ctx, offense("emp-1", "LATE_ARRIVAL", anchor.AddDays(-7), 1)))
	require.NoError(t, ledger.Append(ctx, offense("emp-1", "LATE_ARRIVAL", anchor, 1)))

	// WHEN
	n, err := ledger.CountInWindow(ctx, "emp-1", "LATE_ARRIVAL", generic.RollingWindow(anchor, 90))
	require.NoError(t, err)

	// THEN: Only last week's offense is inside [anchor-90, anchor-1]
	assert.Equal(t, 1, n)
}

func TestLedger_CountNeverNegative(t *testing.T) {
	ctx := context.Background()
	ledger := newTestLedger()

	// GIVEN: A reversal with no offense left in the window
	d := generic.NewDate(2026, time.March, 2)
	require.NoError(t, ledger.Append(ctx, offense("emp-1", "LATE_ARRIVAL", d, -1)))

	// WHEN
	n, err := ledger.CountInWindow(ctx, "emp-1", "LATE_ARRIVAL", generic.Period{Start: d, End: d})
	require.NoError(t, err)

	// THEN
	assert.Equal(t, 0, n)
}

func TestLedger_CountsAreScopedPerEmployee(t *testing.T) {
	ctx := context.Background()
	ledger := newTestLedger()

	d := generic.NewDate(2026, time.March, 2)
	require.NoError(t, ledger.Append(ctx, offense("emp-1", "LATE_ARRIVAL", d, 1)))

	n, err := ledger.CountInWindow(ctx, "emp-2", "LATE_ARRIVAL", generic.Period{Start: d, End: d})
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestLedger_InvalidWindow(t *testing.T) {
	ledger := newTestLedger()

	_, err := ledger.CountsInWindow(context.Background(), "emp-1", generic.Period{
		Start: generic.NewDate(2026, time.March, 10),
		End:   generic.NewDate(2026, time.March, 1),
	})
	assert.ErrorIs(t, err, generic.ErrInvalidPeriod)
}

// =============================================================================
// IDEMPOTENCY
// =============================================================================

func TestLedger_Append_RejectsDuplicateKey(t *testing.T) {
	ctx := context.Background()
	ledger := newTestLedger()
	e := offense("emp-1", "LATE_ARRIVAL", generic.NewDate(2026, time.March, 2), 1)

	// GIVEN: The entry was appended once
	require.NoError(t, ledger.Append(ctx, e))

	// WHEN: A retry appends it again
	err := ledger.Append(ctx, e)

	// THEN: The retry is rejected and the count stays at one
	assert.ErrorIs(t, err, generic.ErrDuplicateIdempotencyKey)
	assert.True(t, generic.IsConflict(err))
	n, err := ledger.CountInWindow(ctx, "emp-1", "LATE_ARRIVAL", generic.Period{Start: e.EffectiveAt, End: e.EffectiveAt})
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestLedger_Entries_FiltersByCodeInDateOrder(t *testing.T) {
	ctx := context.Background()
	ledger := newTestLedger()

	// GIVEN: Entries appended out of date order
	require.NoError(t, ledger.Append(ctx, offense("emp-1", "LATE_ARRIVAL", generic.NewDate(2026, time.March, 5), 1)))
	require.NoError(t, ledger.Append(ctx, offense("emp-1", "EARLY_DEPARTURE", generic.NewDate(2026, time.March, 4), 1)))
	require.NoError(t, ledger.Append(ctx, offense("emp-1", "LATE_ARRIVAL", generic.NewDate(2026, time.March, 2), 1)))

	// WHEN
	entries, err := ledger.Entries(ctx, "emp-1", "LATE_ARRIVAL", generic.NewDate(2026, time.March, 1), generic.NewDate(2026, time.March, 31))
	require.NoError(t, err)

	// THEN
	require.Len(t, entries, 2)
	assert.Equal(t, generic.NewDate(2026, time.March, 2), entries[0].EffectiveAt)
	assert.Equal(t, generic.NewDate(2026, time.March, 5), entries[1].EffectiveAt)
}

// =============================================================================
// AUDIT LOG
// =============================================================================

func TestMemoryAudit_QueryFilters(t *testing.T) {
	ctx := context.Background()
	m := store.NewMemory()
	now := time.Date(2026, time.March, 2, 9, 0, 0, 0, time.UTC)

	require.NoError(t, m.AppendAudit(ctx, generic.AuditEntry{ID: "a1", EntityID: "emp-1", TargetID: "rec-1", Action: generic.AuditRecordsLocked, ActorID: "payroll", Timestamp: now}))
	require.NoError(t, m.AppendAudit(ctx, generic.AuditEntry{ID: "a2", EntityID: "emp-2", TargetID: "rec-2", Action: generic.AuditRecordsLocked, ActorID: "payroll", Timestamp: now}))
	require.NoError(t, m.AppendAudit(ctx, generic.AuditEntry{ID: "a3", EntityID: "emp-2", TargetID: "rec-2", Action: generic.AuditCorrectionApplied, ActorID: "hr", Timestamp: now.Add(time.Hour)}))

	emp := generic.EntityID("emp-2")
	got, err := m.QueryAudit(ctx, generic.AuditFilter{EntityID: &emp})
	require.NoError(t, err)
	assert.Len(t, got, 2)

	got, err = m.QueryAudit(ctx, generic.AuditFilter{EntityID: &emp, Actions: []generic.AuditAction{generic.AuditCorrectionApplied}})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "a3", got[0].ID)

	from := now.Add(30 * time.Minute)
	got, err = m.QueryAudit(ctx, generic.AuditFilter{From: &from})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "hr", got[0].ActorID)
}
