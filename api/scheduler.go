/*
scheduler.go - End-of-day processing scheduler

PURPOSE:
  Periodically runs the attendance pipeline for every employee over the
  last few closed days, so records exist without anyone calling
  /api/records/process.

DESIGN:
  - Runs a background goroutine with configurable check interval
  - Each run covers [today - LookbackDays, yesterday] in the scheduler's
    time zone; re-running a day is idempotent
  - Days already locked for payroll are left out of the batch
  - Failures are logged per unit; one bad day does not stop the batch

CONFIGURATION:
  - CheckInterval: How often to run (default: 1 hour)
  - LookbackDays:  Closed days re-run each time (default: 1)
  - Enabled:       Whether scheduler is active (default: true)

USAGE:
  scheduler := NewEndOfDayScheduler(store, service)
  scheduler.Start()
  // ... later
  scheduler.Stop()

SEE ALSO:
  - handlers.go: ProcessRecords endpoint (manual processing)
  - attendance/pipeline.go: ProcessBatch
*/
package api

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/warp/attendance-engine/attendance"
	"github.com/warp/attendance-engine/generic"
)

// EmployeeLister lists the employees the scheduler processes.
type EmployeeLister interface {
	ListEmployees(ctx context.Context) ([]attendance.Employee, error)
}

// EndOfDayScheduler handles automated daily processing.
type EndOfDayScheduler struct {
	Employees     EmployeeLister
	Service       *attendance.Service
	CheckInterval time.Duration
	LookbackDays  int
	Location      *time.Location
	Enabled       bool
	Now           func() time.Time

	ticker *time.Ticker
	stop   chan bool
	wg     sync.WaitGroup
	mu     sync.Mutex
}

// NewEndOfDayScheduler creates a new scheduler.
func NewEndOfDayScheduler(employees EmployeeLister, svc *attendance.Service) *EndOfDayScheduler {
	return &EndOfDayScheduler{
		Employees:     employees,
		Service:       svc,
		CheckInterval: 1 * time.Hour,
		LookbackDays:  1,
		Location:      time.UTC,
		Enabled:       true,
		Now:           time.Now,
		stop:          make(chan bool),
	}
}

// Start begins the scheduler.
func (s *EndOfDayScheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.Enabled {
		log.Println("[Scheduler] Disabled, not starting")
		return
	}

	s.ticker = time.NewTicker(s.CheckInterval)
	s.wg.Add(1)

	go s.run()

	log.Printf("[Scheduler] Started with check interval: %v", s.CheckInterval)
}

// Stop stops the scheduler.
func (s *EndOfDayScheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ticker != nil {
		s.ticker.Stop()
		close(s.stop)
		s.wg.Wait()
		s.ticker = nil
		log.Println("[Scheduler] Stopped")
	}
}

func (s *EndOfDayScheduler) run() {
	defer s.wg.Done()

	// Run immediately on start
	s.RunNow(context.Background())

	for {
		select {
		case <-s.ticker.C:
			s.RunNow(context.Background())
		case <-s.stop:
			return
		}
	}
}

// Units returns the (employee, day) pairs one run covers.
func (s *EndOfDayScheduler) Units(ctx context.Context) ([]attendance.Unit, error) {
	employees, err := s.Employees.ListEmployees(ctx)
	if err != nil {
		return nil, err
	}

	lookback := s.LookbackDays
	if lookback < 1 {
		lookback = 1
	}
	today := generic.DateOf(s.Now(), s.Location)
	days := generic.Period{Start: today.AddDays(-lookback), End: today.AddDays(-1)}.Days()

	locked := true
	period := generic.Period{Start: days[0], End: days[len(days)-1]}
	lockedRecords, err := s.Service.ListRecords(ctx, attendance.RecordFilter{Period: &period, Locked: &locked})
	if err != nil {
		return nil, err
	}
	skip := make(map[attendance.Unit]bool, len(lockedRecords))
	for _, rec := range lockedRecords {
		skip[attendance.Unit{EmployeeID: rec.EmployeeID, Date: rec.Date()}] = true
	}

	units := make([]attendance.Unit, 0, len(employees)*len(days))
	for _, emp := range employees {
		for _, d := range days {
			u := attendance.Unit{EmployeeID: emp.ID, Date: d}
			if !skip[u] {
				units = append(units, u)
			}
		}
	}
	return units, nil
}

// RunNow triggers an immediate run (for testing/admin).
func (s *EndOfDayScheduler) RunNow(ctx context.Context) attendance.BatchResult {
	log.Printf("[Scheduler] Processing closed days at %v", s.Now())

	units, err := s.Units(ctx)
	if err != nil {
		log.Printf("[Scheduler] Error listing employees: %v", err)
		return attendance.BatchResult{}
	}
	if len(units) == 0 {
		return attendance.BatchResult{}
	}

	result := s.Service.ProcessBatch(ctx, units)
	for _, res := range result.Results {
		if res.Err != nil {
			log.Printf("[Scheduler] Error processing %s: %v", res.Unit, res.Err)
		}
	}
	log.Printf("[Scheduler] Completed: %d processed, %d failed, %d skipped",
		result.Succeeded, result.Failed, result.Skipped)
	return result
}

// GetNextRunTime returns when the next scheduled run will occur.
func (s *EndOfDayScheduler) GetNextRunTime() time.Time {
	return s.Now().Add(s.CheckInterval)
}
