// Package memory is an in-memory implementation of every store interface
// the attendance service consumes. Used by engine tests and the demo
// server mode; nothing survives a restart.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/warp/attendance-engine/attendance"
	"github.com/warp/attendance-engine/generic"
)

type Store struct {
	mu   sync.RWMutex
	txMu sync.Mutex // one writer transaction at a time

	records     map[attendance.RecordID]attendance.Record
	corrections map[attendance.CorrectionID]attendance.CorrectionRequest

	events map[attendance.EmployeeID][]attendance.Event
	seq    int64

	policies    map[attendance.PolicyID]attendance.Policy
	assignments map[attendance.EmployeeID][]attendance.PolicyAssignment
	employees   map[attendance.EmployeeID]attendance.Employee
	leaves      []attendance.Leave
	holidays    []generic.Holiday
	ramadan     []attendance.RamadanPeriod
}

func New() *Store {
	return &Store{
		records:     make(map[attendance.RecordID]attendance.Record),
		corrections: make(map[attendance.CorrectionID]attendance.CorrectionRequest),
		events:      make(map[attendance.EmployeeID][]attendance.Event),
		policies:    make(map[attendance.PolicyID]attendance.Policy),
		assignments: make(map[attendance.EmployeeID][]attendance.PolicyAssignment),
		employees:   make(map[attendance.EmployeeID]attendance.Employee),
	}
}

var (
	_ attendance.TxStore           = (*Store)(nil)
	_ attendance.EventStore        = (*Store)(nil)
	_ attendance.PolicyStore       = (*Store)(nil)
	_ attendance.EmployeeDirectory = (*Store)(nil)
	_ attendance.LeaveProvider     = (*Store)(nil)
	_ attendance.Calendar          = (*Store)(nil)
)

// =============================================================================
// RECORDS & CORRECTIONS
// =============================================================================

func (s *Store) GetRecord(ctx context.Context, id attendance.RecordID) (*attendance.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return getRecord(s.records, nil, id)
}

func (s *Store) CurrentRecord(ctx context.Context, employeeID attendance.EmployeeID, date generic.Date) (*attendance.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return currentRecord(s.records, nil, employeeID, date)
}

func (s *Store) SaveRecord(ctx context.Context, r attendance.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[r.ID] = r.Clone()
	return nil
}

func (s *Store) QueryRecords(ctx context.Context, f attendance.RecordFilter) ([]attendance.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return queryRecords(s.records, nil, f), nil
}

func (s *Store) SaveCorrection(ctx context.Context, c attendance.CorrectionRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.corrections[c.ID] = c
	return nil
}

func (s *Store) GetCorrection(ctx context.Context, id attendance.CorrectionID) (*attendance.CorrectionRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return getCorrection(s.corrections, nil, id)
}

func (s *Store) PendingCorrections(ctx context.Context, recordID attendance.RecordID) ([]attendance.CorrectionRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return filterCorrections(s.corrections, nil, func(c attendance.CorrectionRequest) bool {
		return c.Status == attendance.CorrectionPending && (recordID == "" || c.RecordID == recordID)
	}), nil
}

func (s *Store) CorrectionsFor(ctx context.Context, employeeID attendance.EmployeeID, date generic.Date) ([]attendance.CorrectionRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return filterCorrections(s.corrections, nil, func(c attendance.CorrectionRequest) bool {
		return c.EmployeeID == employeeID && c.Date == date
	}), nil
}

// WithTx stages fn's writes and applies them only when fn returns nil.
func (s *Store) WithTx(ctx context.Context, fn func(tx attendance.Tx) error) error {
	s.txMu.Lock()
	defer s.txMu.Unlock()

	tx := &memTx{
		base:        s,
		records:     make(map[attendance.RecordID]attendance.Record),
		corrections: make(map[attendance.CorrectionID]attendance.CorrectionRequest),
	}
	if err := fn(tx); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for id, r := range tx.records {
		s.records[id] = r
	}
	for id, c := range tx.corrections {
		s.corrections[id] = c
	}
	return nil
}

// memTx reads through its overlay to the base store.
type memTx struct {
	base        *Store
	records     map[attendance.RecordID]attendance.Record
	corrections map[attendance.CorrectionID]attendance.CorrectionRequest
}

func (t *memTx) GetRecord(ctx context.Context, id attendance.RecordID) (*attendance.Record, error) {
	t.base.mu.RLock()
	defer t.base.mu.RUnlock()
	return getRecord(t.base.records, t.records, id)
}

func (t *memTx) CurrentRecord(ctx context.Context, employeeID attendance.EmployeeID, date generic.Date) (*attendance.Record, error) {
	t.base.mu.RLock()
	defer t.base.mu.RUnlock()
	return currentRecord(t.base.records, t.records, employeeID, date)
}

func (t *memTx) SaveRecord(ctx context.Context, r attendance.Record) error {
	t.records[r.ID] = r.Clone()
	return nil
}

func (t *memTx) QueryRecords(ctx context.Context, f attendance.RecordFilter) ([]attendance.Record, error) {
	t.base.mu.RLock()
	defer t.base.mu.RUnlock()
	return queryRecords(t.base.records, t.records, f), nil
}

func (t *memTx) SaveCorrection(ctx context.Context, c attendance.CorrectionRequest) error {
	t.corrections[c.ID] = c
	return nil
}

func (t *memTx) GetCorrection(ctx context.Context, id attendance.CorrectionID) (*attendance.CorrectionRequest, error) {
	t.base.mu.RLock()
	defer t.base.mu.RUnlock()
	return getCorrection(t.base.corrections, t.corrections, id)
}

func (t *memTx) PendingCorrections(ctx context.Context, recordID attendance.RecordID) ([]attendance.CorrectionRequest, error) {
	t.base.mu.RLock()
	defer t.base.mu.RUnlock()
	return filterCorrections(t.base.corrections, t.corrections, func(c attendance.CorrectionRequest) bool {
		return c.Status == attendance.CorrectionPending && (recordID == "" || c.RecordID == recordID)
	}), nil
}

func (t *memTx) CorrectionsFor(ctx context.Context, employeeID attendance.EmployeeID, date generic.Date) ([]attendance.CorrectionRequest, error) {
	t.base.mu.RLock()
	defer t.base.mu.RUnlock()
	return filterCorrections(t.base.corrections, t.corrections, func(c attendance.CorrectionRequest) bool {
		return c.EmployeeID == employeeID && c.Date == date
	}), nil
}

// =============================================================================
// OVERLAY HELPERS - overlay wins over base; nil overlay reads base only
// =============================================================================

func getRecord(base, overlay map[attendance.RecordID]attendance.Record, id attendance.RecordID) (*attendance.Record, error) {
	r, ok := overlay[id]
	if !ok {
		r, ok = base[id]
	}
	if !ok {
		return nil, &attendance.NotFoundError{Kind: "record", ID: string(id)}
	}
	c := r.Clone()
	return &c, nil
}

func mergedRecords(base, overlay map[attendance.RecordID]attendance.Record) map[attendance.RecordID]attendance.Record {
	if len(overlay) == 0 {
		return base
	}
	out := make(map[attendance.RecordID]attendance.Record, len(base)+len(overlay))
	for id, r := range base {
		out[id] = r
	}
	for id, r := range overlay {
		out[id] = r
	}
	return out
}

type dayKey struct {
	employeeID attendance.EmployeeID
	date       generic.Date
}

// currents keeps the highest revision per employee day.
func currents(all map[attendance.RecordID]attendance.Record) map[dayKey]attendance.Record {
	out := make(map[dayKey]attendance.Record)
	for _, r := range all {
		k := dayKey{r.EmployeeID, r.Date()}
		if cur, ok := out[k]; !ok || r.Revision > cur.Revision {
			out[k] = r
		}
	}
	return out
}

func currentRecord(base, overlay map[attendance.RecordID]attendance.Record, employeeID attendance.EmployeeID, date generic.Date) (*attendance.Record, error) {
	var best *attendance.Record
	for _, r := range mergedRecords(base, overlay) {
		if r.EmployeeID != employeeID || r.Date() != date {
			continue
		}
		if best == nil || r.Revision > best.Revision {
			r := r
			best = &r
		}
	}
	if best == nil {
		return nil, &attendance.NotFoundError{Kind: "record", ID: string(employeeID) + "/" + date.String()}
	}
	c := best.Clone()
	return &c, nil
}

func queryRecords(base, overlay map[attendance.RecordID]attendance.Record, f attendance.RecordFilter) []attendance.Record {
	var out []attendance.Record
	for _, r := range currents(mergedRecords(base, overlay)) {
		if f.Matches(r) {
			out = append(out, r.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Date() != out[j].Date() {
			return out[i].Date().Before(out[j].Date())
		}
		return out[i].EmployeeID < out[j].EmployeeID
	})
	return out
}

func getCorrection(base, overlay map[attendance.CorrectionID]attendance.CorrectionRequest, id attendance.CorrectionID) (*attendance.CorrectionRequest, error) {
	c, ok := overlay[id]
	if !ok {
		c, ok = base[id]
	}
	if !ok {
		return nil, &attendance.NotFoundError{Kind: "correction", ID: string(id)}
	}
	return &c, nil
}

func filterCorrections(base, overlay map[attendance.CorrectionID]attendance.CorrectionRequest, keep func(attendance.CorrectionRequest) bool) []attendance.CorrectionRequest {
	var out []attendance.CorrectionRequest
	for id, c := range base {
		if o, ok := overlay[id]; ok {
			c = o
		}
		if keep(c) {
			out = append(out, c)
		}
	}
	for id, c := range overlay {
		if _, ok := base[id]; !ok && keep(c) {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].RequestedAt.Equal(out[j].RequestedAt) {
			return out[i].RequestedAt.Before(out[j].RequestedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// =============================================================================
// EVENTS
// =============================================================================

func (s *Store) AppendEvent(ctx context.Context, e attendance.Event) (attendance.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	e.Seq = s.seq
	s.events[e.EmployeeID] = append(s.events[e.EmployeeID], e)
	return e, nil
}

func (s *Store) EventsBetween(ctx context.Context, employeeID attendance.EmployeeID, from, to time.Time) ([]attendance.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []attendance.Event
	for _, e := range s.events[employeeID] {
		if !e.At.Before(from) && e.At.Before(to) {
			out = append(out, e)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].At.Equal(out[j].At) {
			return out[i].At.Before(out[j].At)
		}
		return out[i].Seq < out[j].Seq
	})
	return out, nil
}

// =============================================================================
// REFERENCE DATA
// =============================================================================

func (s *Store) SavePolicy(p attendance.Policy) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.policies[p.ID] = p
}

func (s *Store) GetPolicy(ctx context.Context, id attendance.PolicyID) (*attendance.Policy, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.policies[id]
	if !ok {
		return nil, &attendance.NotFoundError{Kind: "policy", ID: string(id)}
	}
	return &p, nil
}

func (s *Store) ListPolicies(ctx context.Context) ([]attendance.Policy, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]attendance.Policy, 0, len(s.policies))
	for _, p := range s.policies {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Store) Assign(a attendance.PolicyAssignment) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.assignments[a.EmployeeID] = append(s.assignments[a.EmployeeID], a)
}

func (s *Store) AssignmentsFor(ctx context.Context, employeeID attendance.EmployeeID) ([]attendance.PolicyAssignment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]attendance.PolicyAssignment(nil), s.assignments[employeeID]...), nil
}

func (s *Store) SaveEmployee(e attendance.Employee) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.employees[e.ID] = e
}

func (s *Store) GetEmployee(ctx context.Context, id attendance.EmployeeID) (*attendance.Employee, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.employees[id]
	if !ok {
		return nil, &attendance.NotFoundError{Kind: "employee", ID: string(id)}
	}
	return &e, nil
}

func (s *Store) ListEmployees(ctx context.Context) ([]attendance.Employee, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]attendance.Employee, 0, len(s.employees))
	for _, e := range s.employees {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Store) AddLeave(l attendance.Leave) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.leaves = append(s.leaves, l)
}

func (s *Store) ApprovedLeave(ctx context.Context, employeeID attendance.EmployeeID, date generic.Date) (*attendance.Leave, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, l := range s.leaves {
		if l.EmployeeID == employeeID && l.Covers(date) {
			l := l
			return &l, nil
		}
	}
	return nil, nil
}

func (s *Store) AddHoliday(h generic.Holiday) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.holidays = append(s.holidays, h)
}

func (s *Store) HolidayOn(ctx context.Context, region string, date generic.Date) (*generic.Holiday, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, h := range s.holidays {
		if (h.Region == "" || h.Region == region) && h.Matches(date) {
			h := h
			return &h, nil
		}
	}
	return nil, nil
}

func (s *Store) AddRamadan(r attendance.RamadanPeriod) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ramadan = append(s.ramadan, r)
}

func (s *Store) RamadanOn(ctx context.Context, region string, date generic.Date) (*attendance.RamadanPeriod, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, r := range s.ramadan {
		if (r.Region == "" || r.Region == region) && r.DayOf(date) > 0 {
			r := r
			return &r, nil
		}
	}
	return nil, nil
}
