/*
Package sqlite provides a SQLite-backed implementation of the storage interfaces.

PURPOSE:
  Implements every persistence interface the engine consumes using SQLite.
  In production, the same patterns apply to PostgreSQL - only minor SQL
  dialect differences.

INTERFACES IMPLEMENTED:
  attendance.TxStore:           Records and corrections, with transactions
  attendance.EventStore:        Raw check-in/out/break events
  attendance.PolicyStore:       Policies (JSON config) and assignments
  attendance.EmployeeDirectory: Employees and hourly rates
  attendance.LeaveProvider:     Approved leave ranges
  attendance.Calendar:          Holidays and Ramadan periods
  generic.Store:                Offense ledger entries
  generic.AuditLog:             Who did what when

APPEND-ONLY ENFORCEMENT:
  - No UPDATE or DELETE statements on ledger_entries, audit_log, events
  - A record revision is rewritten only while unlocked; corrections to a
    locked day insert a new revision row

KEY TABLES:
  records:         One row per revision; full record as JSON plus the
                   columns the filters need
  corrections:     Correction requests
  events:          Raw events, seq = ingestion order
  ledger_entries:  Offense ledger (idempotency key unique)
  audit_log:       Audit trail
  policies, policy_assignments, employees, leaves, holidays, ramadan_periods

CONCURRENCY:
  Uses sync.RWMutex for thread-safety and a single connection, so an
  in-memory database is shared by every caller. WithTx holds the write
  lock for the whole transaction; code inside it must only use the Tx.

USAGE:
  store, err := sqlite.New("./data/attendance.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

MIGRATION:
  Schema is auto-migrated on New(). For production, use a proper
  migration tool (golang-migrate, goose) with versioned migrations.

SEE ALSO:
  - attendance/store.go: Interface definitions
  - generic/store.go: Ledger and audit interfaces
  - store/memory: In-memory implementation for testing
*/
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/warp/attendance-engine/attendance"
	"github.com/warp/attendance-engine/factory"
	"github.com/warp/attendance-engine/generic"
)

// Store implements all storage interfaces using SQLite.
type Store struct {
	db       *sql.DB
	mu       sync.RWMutex
	policies *factory.PolicyFactory
}

var (
	_ attendance.TxStore           = (*Store)(nil)
	_ attendance.EventStore        = (*Store)(nil)
	_ attendance.PolicyStore       = (*Store)(nil)
	_ attendance.EmployeeDirectory = (*Store)(nil)
	_ attendance.LeaveProvider     = (*Store)(nil)
	_ attendance.Calendar          = (*Store)(nil)
	_ generic.Store                = (*Store)(nil)
	_ generic.AuditLog             = (*Store)(nil)
)

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	store := &Store{db: db, policies: factory.NewPolicyFactory()}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	-- Attendance records (one row per revision)
	CREATE TABLE IF NOT EXISTS records (
		id TEXT PRIMARY KEY,
		employee_id TEXT NOT NULL,
		work_date TEXT NOT NULL,
		revision INTEGER NOT NULL,
		status TEXT NOT NULL,
		locked INTEGER NOT NULL DEFAULT 0,
		payroll_run_id TEXT,
		data_json TEXT NOT NULL,
		updated_at TEXT NOT NULL,
		UNIQUE(employee_id, work_date, revision)
	);

	CREATE INDEX IF NOT EXISTS idx_records_employee_date
		ON records(employee_id, work_date, revision DESC);
	CREATE INDEX IF NOT EXISTS idx_records_date
		ON records(work_date);
	CREATE INDEX IF NOT EXISTS idx_records_run
		ON records(payroll_run_id) WHERE payroll_run_id IS NOT NULL;

	-- Correction requests
	CREATE TABLE IF NOT EXISTS corrections (
		id TEXT PRIMARY KEY,
		record_id TEXT NOT NULL,
		employee_id TEXT NOT NULL,
		work_date TEXT NOT NULL,
		field TEXT NOT NULL,
		status TEXT NOT NULL,
		requested_at INTEGER NOT NULL,
		data_json TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_corrections_status
		ON corrections(status, record_id);
	CREATE INDEX IF NOT EXISTS idx_corrections_day
		ON corrections(employee_id, work_date);

	-- Raw events (append-only)
	CREATE TABLE IF NOT EXISTS events (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		id TEXT NOT NULL UNIQUE,
		employee_id TEXT NOT NULL,
		kind TEXT NOT NULL,
		at_unix_nano INTEGER NOT NULL,
		data_json TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_events_employee_at
		ON events(employee_id, at_unix_nano);

	-- Offense ledger (append-only)
	CREATE TABLE IF NOT EXISTS ledger_entries (
		id TEXT PRIMARY KEY,
		entity_id TEXT NOT NULL,
		code TEXT NOT NULL,
		effective_at TEXT NOT NULL,
		delta INTEGER NOT NULL,
		entry_type TEXT NOT NULL,
		reference_id TEXT,
		reason TEXT,
		idempotency_key TEXT UNIQUE,
		created_by TEXT,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_ledger_entity_date
		ON ledger_entries(entity_id, effective_at);

	-- Audit trail (append-only)
	CREATE TABLE IF NOT EXISTS audit_log (
		id TEXT PRIMARY KEY,
		timestamp TEXT NOT NULL,
		actor_id TEXT,
		action TEXT NOT NULL,
		entity_id TEXT,
		target_id TEXT,
		payload_json TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_audit_entity
		ON audit_log(entity_id);
	CREATE INDEX IF NOT EXISTS idx_audit_target
		ON audit_log(target_id);

	-- Policies
	CREATE TABLE IF NOT EXISTS policies (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		config_json TEXT NOT NULL,
		version INTEGER DEFAULT 1,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	-- Policy Assignments
	CREATE TABLE IF NOT EXISTS policy_assignments (
		id TEXT PRIMARY KEY,
		entity_id TEXT NOT NULL,
		policy_id TEXT NOT NULL,
		effective_from TEXT NOT NULL,
		effective_to TEXT,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_assignments_entity
		ON policy_assignments(entity_id);

	-- Employees
	CREATE TABLE IF NOT EXISTS employees (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		email TEXT,
		department TEXT,
		region TEXT,
		hire_date TEXT,
		hourly_rate TEXT NOT NULL,
		currency TEXT NOT NULL,
		created_at TEXT NOT NULL
	);

	-- Approved leave
	CREATE TABLE IF NOT EXISTS leaves (
		id TEXT PRIMARY KEY,
		employee_id TEXT NOT NULL,
		leave_type TEXT NOT NULL,
		start_date TEXT NOT NULL,
		end_date TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_leaves_employee
		ON leaves(employee_id, start_date, end_date);

	-- Holidays ('' region = every region)
	CREATE TABLE IF NOT EXISTS holidays (
		id TEXT PRIMARY KEY,
		region TEXT NOT NULL DEFAULT '',
		date TEXT NOT NULL,
		name TEXT NOT NULL,
		holiday_type TEXT NOT NULL DEFAULT 'national',
		recurring BOOLEAN DEFAULT FALSE,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_holidays_region_date
		ON holidays(region, date);
	CREATE UNIQUE INDEX IF NOT EXISTS idx_holidays_unique
		ON holidays(region, date, name);

	-- Ramadan periods per region and year
	CREATE TABLE IF NOT EXISTS ramadan_periods (
		region TEXT NOT NULL DEFAULT '',
		start_date TEXT NOT NULL,
		end_date TEXT NOT NULL,
		PRIMARY KEY(region, start_date)
	);
	`

	_, err := s.db.Exec(schema)
	return err
}

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// =============================================================================
// RECORD STORE (attendance.RecordStore interface)
// =============================================================================

func (s *Store) GetRecord(ctx context.Context, id attendance.RecordID) (*attendance.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return getRecord(ctx, s.db, id)
}

func (s *Store) CurrentRecord(ctx context.Context, employeeID attendance.EmployeeID, date generic.Date) (*attendance.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return currentRecord(ctx, s.db, employeeID, date)
}

func (s *Store) SaveRecord(ctx context.Context, r attendance.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return saveRecord(ctx, s.db, r)
}

func (s *Store) QueryRecords(ctx context.Context, f attendance.RecordFilter) ([]attendance.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return queryRecords(ctx, s.db, f)
}

func getRecord(ctx context.Context, q querier, id attendance.RecordID) (*attendance.Record, error) {
	var data string
	err := q.QueryRowContext(ctx, "SELECT data_json FROM records WHERE id = ?", id).Scan(&data)
	if err == sql.ErrNoRows {
		return nil, &attendance.NotFoundError{Kind: "record", ID: string(id)}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load record: %w", err)
	}
	return decodeRecord(data)
}

func currentRecord(ctx context.Context, q querier, employeeID attendance.EmployeeID, date generic.Date) (*attendance.Record, error) {
	var data string
	err := q.QueryRowContext(ctx, `
		SELECT data_json FROM records
		WHERE employee_id = ? AND work_date = ?
		ORDER BY revision DESC LIMIT 1
	`, employeeID, date.String()).Scan(&data)
	if err == sql.ErrNoRows {
		return nil, &attendance.NotFoundError{Kind: "record", ID: string(employeeID) + "/" + date.String()}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load current record: %w", err)
	}
	return decodeRecord(data)
}

func saveRecord(ctx context.Context, q querier, r attendance.Record) error {
	data, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("failed to encode record: %w", err)
	}
	query := `
		INSERT INTO records (id, employee_id, work_date, revision, status, locked, payroll_run_id, data_json, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			locked = excluded.locked,
			payroll_run_id = excluded.payroll_run_id,
			data_json = excluded.data_json,
			updated_at = excluded.updated_at
	`
	_, err = q.ExecContext(ctx, query,
		r.ID, r.EmployeeID, r.Date().String(), r.Revision, r.Status,
		boolInt(r.Lock.Locked), nullString(string(r.Lock.PayrollRunID)),
		string(data), r.UpdatedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("failed to save record: %w", err)
	}
	return nil
}

// queryRecords pushes the column filters into SQL and applies the rest
// (HasViolations) on the decoded records.
func queryRecords(ctx context.Context, q querier, f attendance.RecordFilter) ([]attendance.Record, error) {
	var where []string
	var args []any
	where = append(where, `r.revision = (SELECT MAX(r2.revision) FROM records r2
		WHERE r2.employee_id = r.employee_id AND r2.work_date = r.work_date)`)
	if f.EmployeeID != "" {
		where = append(where, "r.employee_id = ?")
		args = append(args, f.EmployeeID)
	}
	if f.Period != nil {
		where = append(where, "r.work_date >= ? AND r.work_date <= ?")
		args = append(args, f.Period.Start.String(), f.Period.End.String())
	}
	if f.Status != "" {
		where = append(where, "r.status = ?")
		args = append(args, f.Status)
	}
	if f.Locked != nil {
		where = append(where, "r.locked = ?")
		args = append(args, boolInt(*f.Locked))
	}
	if f.PayrollRunID != "" {
		where = append(where, "r.payroll_run_id = ?")
		args = append(args, f.PayrollRunID)
	}

	query := "SELECT r.data_json FROM records r WHERE " + strings.Join(where, " AND ") +
		" ORDER BY r.work_date ASC, r.employee_id ASC"
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query records: %w", err)
	}
	defer rows.Close()

	var out []attendance.Record
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, err
		}
		r, err := decodeRecord(data)
		if err != nil {
			return nil, err
		}
		if f.Matches(*r) {
			out = append(out, *r)
		}
	}
	return out, rows.Err()
}

func decodeRecord(data string) (*attendance.Record, error) {
	var r attendance.Record
	if err := json.Unmarshal([]byte(data), &r); err != nil {
		return nil, fmt.Errorf("failed to decode record: %w", err)
	}
	return &r, nil
}

// =============================================================================
// CORRECTION STORE (attendance.CorrectionStore interface)
// =============================================================================

func (s *Store) SaveCorrection(ctx context.Context, c attendance.CorrectionRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return saveCorrection(ctx, s.db, c)
}

func (s *Store) GetCorrection(ctx context.Context, id attendance.CorrectionID) (*attendance.CorrectionRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return getCorrection(ctx, s.db, id)
}

func (s *Store) PendingCorrections(ctx context.Context, recordID attendance.RecordID) ([]attendance.CorrectionRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return pendingCorrections(ctx, s.db, recordID)
}

func (s *Store) CorrectionsFor(ctx context.Context, employeeID attendance.EmployeeID, date generic.Date) ([]attendance.CorrectionRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return correctionsFor(ctx, s.db, employeeID, date)
}

func saveCorrection(ctx context.Context, q querier, c attendance.CorrectionRequest) error {
	data, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to encode correction: %w", err)
	}
	query := `
		INSERT INTO corrections (id, record_id, employee_id, work_date, field, status, requested_at, data_json)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			data_json = excluded.data_json
	`
	_, err = q.ExecContext(ctx, query,
		c.ID, c.RecordID, c.EmployeeID, c.Date.String(), c.Field, c.Status,
		c.RequestedAt.UnixNano(), string(data),
	)
	if err != nil {
		return fmt.Errorf("failed to save correction: %w", err)
	}
	return nil
}

func getCorrection(ctx context.Context, q querier, id attendance.CorrectionID) (*attendance.CorrectionRequest, error) {
	var data string
	err := q.QueryRowContext(ctx, "SELECT data_json FROM corrections WHERE id = ?", id).Scan(&data)
	if err == sql.ErrNoRows {
		return nil, &attendance.NotFoundError{Kind: "correction", ID: string(id)}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load correction: %w", err)
	}
	var c attendance.CorrectionRequest
	if err := json.Unmarshal([]byte(data), &c); err != nil {
		return nil, fmt.Errorf("failed to decode correction: %w", err)
	}
	return &c, nil
}

func pendingCorrections(ctx context.Context, q querier, recordID attendance.RecordID) ([]attendance.CorrectionRequest, error) {
	query := "SELECT data_json FROM corrections WHERE status = ?"
	args := []any{attendance.CorrectionPending}
	if recordID != "" {
		query += " AND record_id = ?"
		args = append(args, recordID)
	}
	return queryCorrections(ctx, q, query+" ORDER BY requested_at ASC, id ASC", args...)
}

func correctionsFor(ctx context.Context, q querier, employeeID attendance.EmployeeID, date generic.Date) ([]attendance.CorrectionRequest, error) {
	return queryCorrections(ctx, q,
		"SELECT data_json FROM corrections WHERE employee_id = ? AND work_date = ? ORDER BY requested_at ASC, id ASC",
		employeeID, date.String())
}

func queryCorrections(ctx context.Context, q querier, query string, args ...any) ([]attendance.CorrectionRequest, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query corrections: %w", err)
	}
	defer rows.Close()

	var out []attendance.CorrectionRequest
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, err
		}
		var c attendance.CorrectionRequest
		if err := json.Unmarshal([]byte(data), &c); err != nil {
			return nil, fmt.Errorf("failed to decode correction: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// =============================================================================
// TRANSACTIONAL STORE (attendance.TxStore interface)
// =============================================================================

// WithTx executes a function within a database transaction.
func (s *Store) WithTx(ctx context.Context, fn func(tx attendance.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	if err := fn(&txStore{tx: sqlTx}); err != nil {
		return err
	}

	return sqlTx.Commit()
}

type txStore struct {
	tx *sql.Tx
}

func (ts *txStore) GetRecord(ctx context.Context, id attendance.RecordID) (*attendance.Record, error) {
	return getRecord(ctx, ts.tx, id)
}

func (ts *txStore) CurrentRecord(ctx context.Context, employeeID attendance.EmployeeID, date generic.Date) (*attendance.Record, error) {
	return currentRecord(ctx, ts.tx, employeeID, date)
}

func (ts *txStore) SaveRecord(ctx context.Context, r attendance.Record) error {
	return saveRecord(ctx, ts.tx, r)
}

func (ts *txStore) QueryRecords(ctx context.Context, f attendance.RecordFilter) ([]attendance.Record, error) {
	return queryRecords(ctx, ts.tx, f)
}

func (ts *txStore) SaveCorrection(ctx context.Context, c attendance.CorrectionRequest) error {
	return saveCorrection(ctx, ts.tx, c)
}

func (ts *txStore) GetCorrection(ctx context.Context, id attendance.CorrectionID) (*attendance.CorrectionRequest, error) {
	return getCorrection(ctx, ts.tx, id)
}

func (ts *txStore) PendingCorrections(ctx context.Context, recordID attendance.RecordID) ([]attendance.CorrectionRequest, error) {
	return pendingCorrections(ctx, ts.tx, recordID)
}

func (ts *txStore) CorrectionsFor(ctx context.Context, employeeID attendance.EmployeeID, date generic.Date) ([]attendance.CorrectionRequest, error) {
	return correctionsFor(ctx, ts.tx, employeeID, date)
}

// =============================================================================
// EVENT STORE (attendance.EventStore interface)
// =============================================================================

// AppendEvent stores an event; the autoincrement seq is its ingestion order.
func (s *Store) AppendEvent(ctx context.Context, e attendance.Event) (attendance.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e.Seq = 0
	data, err := json.Marshal(e)
	if err != nil {
		return attendance.Event{}, fmt.Errorf("failed to encode event: %w", err)
	}
	res, err := s.db.ExecContext(ctx,
		"INSERT INTO events (id, employee_id, kind, at_unix_nano, data_json) VALUES (?, ?, ?, ?, ?)",
		e.ID, e.EmployeeID, e.Kind, e.At.UnixNano(), string(data),
	)
	if err != nil {
		return attendance.Event{}, fmt.Errorf("failed to append event: %w", err)
	}
	e.Seq, err = res.LastInsertId()
	if err != nil {
		return attendance.Event{}, err
	}
	return e, nil
}

func (s *Store) EventsBetween(ctx context.Context, employeeID attendance.EmployeeID, from, to time.Time) ([]attendance.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT seq, data_json FROM events
		WHERE employee_id = ? AND at_unix_nano >= ? AND at_unix_nano < ?
		ORDER BY at_unix_nano ASC, seq ASC
	`, employeeID, from.UnixNano(), to.UnixNano())
	if err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}
	defer rows.Close()

	var out []attendance.Event
	for rows.Next() {
		var seq int64
		var data string
		if err := rows.Scan(&seq, &data); err != nil {
			return nil, err
		}
		var e attendance.Event
		if err := json.Unmarshal([]byte(data), &e); err != nil {
			return nil, fmt.Errorf("failed to decode event: %w", err)
		}
		e.Seq = seq
		out = append(out, e)
	}
	return out, rows.Err()
}

// =============================================================================
// LEDGER STORE (generic.Store interface)
// =============================================================================

// AppendEntry adds a ledger entry. Append-only.
func (s *Store) AppendEntry(ctx context.Context, e generic.Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := `
		INSERT INTO ledger_entries
		(id, entity_id, code, effective_at, delta, entry_type, reference_id, reason, idempotency_key, created_by, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	createdAt := e.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx, query,
		e.ID, e.EntityID, e.Code, e.EffectiveAt.String(), e.Delta, e.Type,
		nullString(e.ReferenceID), nullString(e.Reason), nullString(e.IdempotencyKey),
		nullString(e.CreatedBy), createdAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return generic.ErrDuplicateIdempotencyKey
		}
		return fmt.Errorf("failed to append ledger entry: %w", err)
	}
	return nil
}

func (s *Store) LoadEntries(ctx context.Context, entityID generic.EntityID, from, to generic.Date) ([]generic.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, entity_id, code, effective_at, delta, entry_type, reference_id, reason, idempotency_key, created_by, created_at
		FROM ledger_entries
		WHERE entity_id = ? AND effective_at >= ? AND effective_at <= ?
		ORDER BY effective_at ASC, created_at ASC
	`, entityID, from.String(), to.String())
	if err != nil {
		return nil, fmt.Errorf("failed to query ledger: %w", err)
	}
	defer rows.Close()

	var entries []generic.Entry
	for rows.Next() {
		var (
			e                                       generic.Entry
			effectiveAt, createdAt                  string
			referenceID, reason, idemKey, createdBy sql.NullString
		)
		if err := rows.Scan(&e.ID, &e.EntityID, &e.Code, &effectiveAt, &e.Delta, &e.Type,
			&referenceID, &reason, &idemKey, &createdBy, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan ledger entry: %w", err)
		}
		e.EffectiveAt, _ = generic.ParseDate(effectiveAt)
		e.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
		e.ReferenceID = referenceID.String
		e.Reason = reason.String
		e.IdempotencyKey = idemKey.String
		e.CreatedBy = createdBy.String
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Exists checks if an idempotency key exists.
func (s *Store) Exists(ctx context.Context, idempotencyKey string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var count int
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM ledger_entries WHERE idempotency_key = ?",
		idempotencyKey,
	).Scan(&count)

	return count > 0, err
}

// =============================================================================
// AUDIT LOG (generic.AuditLog interface)
// =============================================================================

func (s *Store) AppendAudit(ctx context.Context, entry generic.AuditEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	payload, _ := json.Marshal(entry.Payload)
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO audit_log (id, timestamp, actor_id, action, entity_id, target_id, payload_json)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, entry.ID, entry.Timestamp.UTC().Format(time.RFC3339Nano), entry.ActorID, entry.Action,
		entry.EntityID, entry.TargetID, string(payload))
	if err != nil {
		return fmt.Errorf("failed to append audit entry: %w", err)
	}
	return nil
}

func (s *Store) QueryAudit(ctx context.Context, filter generic.AuditFilter) ([]generic.AuditEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := "SELECT id, timestamp, actor_id, action, entity_id, target_id, payload_json FROM audit_log WHERE 1=1"
	var args []any
	if filter.EntityID != nil {
		query += " AND entity_id = ?"
		args = append(args, *filter.EntityID)
	}
	if filter.TargetID != nil {
		query += " AND target_id = ?"
		args = append(args, *filter.TargetID)
	}
	rows, err := s.db.QueryContext(ctx, query+" ORDER BY timestamp ASC", args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit log: %w", err)
	}
	defer rows.Close()

	var out []generic.AuditEntry
	for rows.Next() {
		var (
			e               generic.AuditEntry
			ts              string
			actor, entity   sql.NullString
			target, payload sql.NullString
		)
		if err := rows.Scan(&e.ID, &ts, &actor, &e.Action, &entity, &target, &payload); err != nil {
			return nil, err
		}
		e.Timestamp, _ = time.Parse(time.RFC3339Nano, ts)
		e.ActorID = actor.String
		e.EntityID = generic.EntityID(entity.String)
		e.TargetID = target.String
		if payload.Valid && payload.String != "" {
			json.Unmarshal([]byte(payload.String), &e.Payload)
		}
		if filter.Matches(e) {
			out = append(out, e)
		}
	}
	return out, rows.Err()
}

// =============================================================================
// POLICY STORE (attendance.PolicyStore interface)
// =============================================================================

// SavePolicy stores the policy's JSON form. Saving an existing ID bumps
// its version.
func (s *Store) SavePolicy(ctx context.Context, p attendance.Policy) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	config, err := s.policies.MarshalPolicy(&p)
	if err != nil {
		return fmt.Errorf("failed to encode policy: %w", err)
	}
	query := `
		INSERT INTO policies (id, name, config_json, version, created_at, updated_at)
		VALUES (?, ?, ?, 1, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			config_json = excluded.config_json,
			version = policies.version + 1,
			updated_at = excluded.updated_at
	`
	now := time.Now().UTC().Format(time.RFC3339)
	_, err = s.db.ExecContext(ctx, query, p.ID, p.Name, string(config), now, now)
	return err
}

func (s *Store) GetPolicy(ctx context.Context, id attendance.PolicyID) (*attendance.Policy, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var config string
	err := s.db.QueryRowContext(ctx, "SELECT config_json FROM policies WHERE id = ?", id).Scan(&config)
	if err == sql.ErrNoRows {
		return nil, &attendance.NotFoundError{Kind: "policy", ID: string(id)}
	}
	if err != nil {
		return nil, err
	}
	return s.policies.ParsePolicy(config)
}

func (s *Store) ListPolicies(ctx context.Context) ([]attendance.Policy, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, "SELECT config_json FROM policies ORDER BY name")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var policies []attendance.Policy
	for rows.Next() {
		var config string
		if err := rows.Scan(&config); err != nil {
			return nil, err
		}
		p, err := s.policies.ParsePolicy(config)
		if err != nil {
			return nil, err
		}
		policies = append(policies, *p)
	}
	return policies, rows.Err()
}

// SaveAssignment saves a policy assignment.
func (s *Store) SaveAssignment(ctx context.Context, a attendance.PolicyAssignment) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var effectiveTo sql.NullString
	if a.EffectiveTo != nil {
		effectiveTo = sql.NullString{String: a.EffectiveTo.String(), Valid: true}
	}
	query := `
		INSERT INTO policy_assignments (id, entity_id, policy_id, effective_from, effective_to, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			policy_id = excluded.policy_id,
			effective_from = excluded.effective_from,
			effective_to = excluded.effective_to
	`
	_, err := s.db.ExecContext(ctx, query,
		a.ID, a.EmployeeID, a.PolicyID, a.EffectiveFrom.String(), effectiveTo,
		time.Now().UTC().Format(time.RFC3339),
	)
	return err
}

func (s *Store) AssignmentsFor(ctx context.Context, employeeID attendance.EmployeeID) ([]attendance.PolicyAssignment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, entity_id, policy_id, effective_from, effective_to
		FROM policy_assignments WHERE entity_id = ? ORDER BY effective_from ASC
	`, employeeID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []attendance.PolicyAssignment
	for rows.Next() {
		var (
			a    attendance.PolicyAssignment
			from string
			to   sql.NullString
		)
		if err := rows.Scan(&a.ID, &a.EmployeeID, &a.PolicyID, &from, &to); err != nil {
			return nil, err
		}
		a.EffectiveFrom, _ = generic.ParseDate(from)
		if to.Valid {
			d, err := generic.ParseDate(to.String)
			if err == nil {
				a.EffectiveTo = &d
			}
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// =============================================================================
// EMPLOYEE DIRECTORY (attendance.EmployeeDirectory interface)
// =============================================================================

// SaveEmployee saves an employee.
func (s *Store) SaveEmployee(ctx context.Context, emp attendance.Employee) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := `
		INSERT INTO employees (id, name, email, department, region, hire_date, hourly_rate, currency, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			email = excluded.email,
			department = excluded.department,
			region = excluded.region,
			hire_date = excluded.hire_date,
			hourly_rate = excluded.hourly_rate,
			currency = excluded.currency
	`
	var hireDate sql.NullString
	if !emp.HireDate.IsZero() {
		hireDate = sql.NullString{String: emp.HireDate.String(), Valid: true}
	}
	_, err := s.db.ExecContext(ctx, query,
		emp.ID, emp.Name, emp.Email, emp.Department, emp.Region, hireDate,
		emp.HourlyRate.Value.String(), emp.HourlyRate.Currency,
		time.Now().UTC().Format(time.RFC3339),
	)
	return err
}

const employeeColumns = "id, name, email, department, region, hire_date, hourly_rate, currency"

// GetEmployee retrieves an employee by ID.
func (s *Store) GetEmployee(ctx context.Context, id attendance.EmployeeID) (*attendance.Employee, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	emp, err := scanEmployee(s.db.QueryRowContext(ctx,
		"SELECT "+employeeColumns+" FROM employees WHERE id = ?", id))
	if err == sql.ErrNoRows {
		return nil, &attendance.NotFoundError{Kind: "employee", ID: string(id)}
	}
	if err != nil {
		return nil, err
	}
	return emp, nil
}

// ListEmployees returns all employees.
func (s *Store) ListEmployees(ctx context.Context) ([]attendance.Employee, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, "SELECT "+employeeColumns+" FROM employees ORDER BY id")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var employees []attendance.Employee
	for rows.Next() {
		emp, err := scanEmployee(rows)
		if err != nil {
			return nil, err
		}
		employees = append(employees, *emp)
	}
	return employees, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEmployee(row rowScanner) (*attendance.Employee, error) {
	var (
		emp                        attendance.Employee
		email, dept, region, hired sql.NullString
		rate, currency             string
	)
	if err := row.Scan(&emp.ID, &emp.Name, &email, &dept, &region, &hired, &rate, &currency); err != nil {
		return nil, err
	}
	emp.Email = email.String
	emp.Department = dept.String
	emp.Region = region.String
	if hired.Valid {
		emp.HireDate, _ = generic.ParseDate(hired.String)
	}
	emp.HourlyRate = generic.NewMoney(generic.MustParseDecimal(rate), generic.Currency(currency))
	return &emp, nil
}

// =============================================================================
// LEAVE PROVIDER (attendance.LeaveProvider interface)
// =============================================================================

func (s *Store) SaveLeave(ctx context.Context, l attendance.Leave) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO leaves (id, employee_id, leave_type, start_date, end_date)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			leave_type = excluded.leave_type,
			start_date = excluded.start_date,
			end_date = excluded.end_date
	`, l.ID, l.EmployeeID, l.Type, l.Start.String(), l.End.String())
	return err
}

func (s *Store) ApprovedLeave(ctx context.Context, employeeID attendance.EmployeeID, date generic.Date) (*attendance.Leave, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var l attendance.Leave
	var start, end string
	err := s.db.QueryRowContext(ctx, `
		SELECT id, employee_id, leave_type, start_date, end_date FROM leaves
		WHERE employee_id = ? AND start_date <= ? AND end_date >= ?
		ORDER BY start_date ASC LIMIT 1
	`, employeeID, date.String(), date.String()).Scan(&l.ID, &l.EmployeeID, &l.Type, &start, &end)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	l.Start, _ = generic.ParseDate(start)
	l.End, _ = generic.ParseDate(end)
	return &l, nil
}

func (s *Store) ListLeaves(ctx context.Context, employeeID attendance.EmployeeID) ([]attendance.Leave, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, employee_id, leave_type, start_date, end_date FROM leaves
		WHERE ? = '' OR employee_id = ?
		ORDER BY start_date ASC
	`, employeeID, employeeID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []attendance.Leave
	for rows.Next() {
		var l attendance.Leave
		var start, end string
		if err := rows.Scan(&l.ID, &l.EmployeeID, &l.Type, &start, &end); err != nil {
			return nil, err
		}
		l.Start, _ = generic.ParseDate(start)
		l.End, _ = generic.ParseDate(end)
		out = append(out, l)
	}
	return out, rows.Err()
}

// =============================================================================
// CALENDAR (attendance.Calendar interface)
// =============================================================================

// SaveHoliday saves a holiday.
func (s *Store) SaveHoliday(ctx context.Context, h generic.Holiday) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	holidayType := h.Type
	if holidayType == "" {
		holidayType = generic.HolidayNational
	}
	query := `
		INSERT INTO holidays (id, region, date, name, holiday_type, recurring, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			region = excluded.region,
			date = excluded.date,
			name = excluded.name,
			holiday_type = excluded.holiday_type,
			recurring = excluded.recurring
	`
	_, err := s.db.ExecContext(ctx, query,
		h.ID, h.Region, h.Date.String(), h.Name, holidayType, h.Recurring,
		time.Now().UTC().Format(time.RFC3339),
	)
	return err
}

// HolidayOn matches exact dates and, for recurring holidays, month-day.
func (s *Store) HolidayOn(ctx context.Context, region string, date generic.Date) (*generic.Holiday, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ds := date.String()
	h, err := scanHoliday(s.db.QueryRowContext(ctx, `
		SELECT id, region, date, name, holiday_type, recurring FROM holidays
		WHERE (region = '' OR region = ?)
		  AND (date = ? OR (recurring = 1 AND substr(date, 6) = ?))
		ORDER BY region DESC LIMIT 1
	`, region, ds, ds[5:]))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return h, nil
}

// ListHolidays returns the region's holidays plus the global ones.
func (s *Store) ListHolidays(ctx context.Context, region string) ([]generic.Holiday, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, region, date, name, holiday_type, recurring FROM holidays
		WHERE region = '' OR region = ?
		ORDER BY date ASC
	`, region)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []generic.Holiday
	for rows.Next() {
		h, err := scanHoliday(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *h)
	}
	return out, rows.Err()
}

func scanHoliday(row rowScanner) (*generic.Holiday, error) {
	var h generic.Holiday
	var date string
	if err := row.Scan(&h.ID, &h.Region, &date, &h.Name, &h.Type, &h.Recurring); err != nil {
		return nil, err
	}
	h.Date, _ = generic.ParseDate(date)
	return &h, nil
}

func (s *Store) SaveRamadan(ctx context.Context, r attendance.RamadanPeriod) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO ramadan_periods (region, start_date, end_date) VALUES (?, ?, ?)
		ON CONFLICT(region, start_date) DO UPDATE SET end_date = excluded.end_date
	`, r.Region, r.Start.String(), r.End.String())
	return err
}

func (s *Store) RamadanOn(ctx context.Context, region string, date generic.Date) (*attendance.RamadanPeriod, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var r attendance.RamadanPeriod
	var start, end string
	err := s.db.QueryRowContext(ctx, `
		SELECT region, start_date, end_date FROM ramadan_periods
		WHERE (region = '' OR region = ?) AND start_date <= ? AND end_date >= ?
		ORDER BY region DESC LIMIT 1
	`, region, date.String(), date.String()).Scan(&r.Region, &start, &end)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	r.Start, _ = generic.ParseDate(start)
	r.End, _ = generic.ParseDate(end)
	return &r, nil
}

// =============================================================================
// UTILITIES
// =============================================================================

// Reset clears all data (for testing/demo).
func (s *Store) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tables := []string{
		"records", "corrections", "events", "ledger_entries", "audit_log",
		"policy_assignments", "policies", "employees", "leaves", "holidays", "ramadan_periods",
	}
	for _, table := range tables {
		if _, err := s.db.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return err
		}
	}
	return nil
}

// Helper functions

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func isUniqueConstraintError(err error) bool {
	return err != nil && (strings.Contains(err.Error(), "UNIQUE constraint failed") ||
		strings.Contains(err.Error(), "duplicate key"))
}
