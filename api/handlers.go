/*
handlers.go - HTTP API handlers for the attendance engine

PURPOSE:
  Exposes the attendance service via REST API. Handles HTTP
  request/response, JSON serialization, and delegates to the service.

ENDPOINTS:
  Events:
    POST   /api/events                                  Submit raw event

  Records:
    POST   /api/records/process                         Process (employee, date) units
    GET    /api/records                                 Query current records
    GET    /api/records/{id}                            One record (any revision)
    PUT    /api/records/{id}/notes                      Notes and flags
    POST   /api/records/{id}/excuse-late                Excuse lateness
    POST   /api/records/{id}/approve-early-departure    Approve early departure
    POST   /api/records/{id}/approve-overtime           Approve overtime minutes
    POST   /api/records/{id}/approve-timesheet          Sign off the day
    POST   /api/records/{id}/reject-timesheet           Send the day back with a reason
    POST   /api/records/{id}/supersede                  New revision of a locked record
    POST   /api/records/{id}/corrections                Submit correction
    POST   /api/records/{id}/violations/{vid}/{action}  Violation review

  Corrections:
    GET    /api/corrections/pending                     Pending corrections
    GET    /api/corrections/{id}                        One correction
    POST   /api/corrections/{id}/approve|reject|apply   Workflow

  Payroll:
    POST   /api/payroll/lock                            All-or-nothing batch lock

  Summaries:
    GET    /api/summary/daily?date=                     Day rollup
    GET    /api/summary/employees/{id}?from=&to=        Employee rollup
    GET    /api/summary/compliance?from=&to=            Compliance report

ARCHITECTURE:
  Handler struct holds all dependencies:
  - Store: Database access for reference data
  - Service: The attendance engine
  - PolicyFactory: JSON to Policy conversion

ERROR HANDLING:
  Errors are returned as JSON with appropriate HTTP status:
  - 400: Validation errors, invalid input, invalid state transition
  - 404: Resource not found
  - 409: Locked record, duplicate correction, batch lock conflict
  - 422: Incomplete attendance data, no policy assigned
  - 500: Internal errors

SECURITY NOTE:
  Currently NO authentication or authorization. Actor names are taken
  from request bodies as given.

SEE ALSO:
  - dto.go: Request/response data structures
  - reference.go: Employees, policies, assignments, calendars, leave
  - scenarios.go: Demo scenario loaders
  - server.go: Router setup and middleware
*/
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/warp/attendance-engine/attendance"
	"github.com/warp/attendance-engine/factory"
	"github.com/warp/attendance-engine/generic"
	"github.com/warp/attendance-engine/store/sqlite"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Store         *sqlite.Store
	Service       *attendance.Service
	PolicyFactory *factory.PolicyFactory

	// Track currently loaded scenario
	mu              sync.Mutex
	currentScenario string
}

// NewHandler creates a new handler with the given store and service.
func NewHandler(store *sqlite.Store, svc *attendance.Service) *Handler {
	return &Handler{
		Store:         store,
		Service:       svc,
		PolicyFactory: factory.NewPolicyFactory(),
	}
}

// =============================================================================
// EVENT HANDLERS
// =============================================================================

// SubmitEvent stores a raw event. A duplicate returns 200 with the stored
// event and accepted=false; a new event returns 201.
func (h *Handler) SubmitEvent(w http.ResponseWriter, r *http.Request) {
	var req SubmitEventRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	stored, accepted, err := h.Service.SubmitEvent(r.Context(), attendance.Event{
		ID:         attendance.EventID(req.ID),
		EmployeeID: attendance.EmployeeID(req.EmployeeID),
		Kind:       attendance.EventKind(req.Kind),
		At:         req.Timestamp,
		Method:     attendance.CheckMethod(req.Method),
		Location:   req.Location,
		Confidence: req.Confidence,
		BreakType:  attendance.BreakType(req.BreakType),
	})
	if err != nil {
		writeServiceError(w, "Failed to submit event", err)
		return
	}

	status := http.StatusCreated
	if !accepted {
		status = http.StatusOK
	}
	writeJSON(w, status, SubmitEventResponse{Event: toEventDTO(stored), Accepted: accepted})
}

func toEventDTO(e attendance.Event) EventDTO {
	return EventDTO{
		ID:         string(e.ID),
		EmployeeID: string(e.EmployeeID),
		Kind:       string(e.Kind),
		Timestamp:  e.At,
		Method:     string(e.Method),
		Location:   e.Location,
		Confidence: e.Confidence,
		BreakType:  string(e.BreakType),
		ReceivedAt: e.ReceivedAt,
		Seq:        e.Seq,
	}
}

// =============================================================================
// RECORD HANDLERS
// =============================================================================

// ProcessRecords runs the pipeline for a batch of units. Per-unit failures
// are reported in the body; the request itself succeeds.
func (h *Handler) ProcessRecords(w http.ResponseWriter, r *http.Request) {
	var req ProcessRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	units := req.Units
	if req.From != "" || req.To != "" {
		period, err := parsePeriod(req.From, req.To)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid date range", err)
			return
		}
		ids := req.EmployeeIDs
		if len(ids) == 0 {
			employees, err := h.Store.ListEmployees(r.Context())
			if err != nil {
				writeError(w, http.StatusInternalServerError, "Failed to list employees", err)
				return
			}
			for _, e := range employees {
				ids = append(ids, string(e.ID))
			}
		}
		for _, id := range ids {
			for _, d := range period.Days() {
				units = append(units, attendance.Unit{EmployeeID: attendance.EmployeeID(id), Date: d})
			}
		}
	}
	if len(units) == 0 {
		writeError(w, http.StatusBadRequest, "No units to process", nil)
		return
	}

	batch := h.Service.ProcessBatch(r.Context(), units)
	resp := ProcessResponse{
		Succeeded: batch.Succeeded,
		Failed:    batch.Failed,
		Skipped:   batch.Skipped,
		Results:   make([]UnitResultDTO, 0, len(batch.Results)),
	}
	seen := make(map[attendance.Unit]bool)
	for _, u := range units {
		if seen[u] {
			continue
		}
		seen[u] = true
		res, ok := batch.Results[u]
		if !ok {
			continue
		}
		dto := UnitResultDTO{EmployeeID: string(u.EmployeeID), Date: u.Date.String()}
		if res.Err != nil {
			dto.Error = res.Err.Error()
		}
		if res.Record != nil {
			dto.RecordID = string(res.Record.ID)
			dto.Status = string(res.Record.Status)
		}
		resp.Results = append(resp.Results, dto)
	}
	writeJSON(w, http.StatusOK, resp)
}

// ListRecords returns current records filtered by employee_id, from, to,
// status, locked and payroll_run_id.
func (h *Handler) ListRecords(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := attendance.RecordFilter{
		EmployeeID:   attendance.EmployeeID(q.Get("employee_id")),
		Status:       attendance.Status(q.Get("status")),
		PayrollRunID: attendance.PayrollRunID(q.Get("payroll_run_id")),
	}
	if f.Status != "" && !f.Status.Valid() {
		writeError(w, http.StatusBadRequest, "Invalid status", fmt.Errorf("unknown status %q", f.Status))
		return
	}
	if q.Get("from") != "" || q.Get("to") != "" {
		period, err := parsePeriod(q.Get("from"), q.Get("to"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid date range", err)
			return
		}
		f.Period = &period
	}
	if v := q.Get("locked"); v != "" {
		locked := v == "true"
		f.Locked = &locked
	}
	if v := q.Get("has_violations"); v != "" {
		has := v == "true"
		f.HasViolations = &has
	}

	records, err := h.Service.ListRecords(r.Context(), f)
	if err != nil {
		writeServiceError(w, "Failed to list records", err)
		return
	}
	if records == nil {
		records = []attendance.Record{}
	}
	writeJSON(w, http.StatusOK, records)
}

func (h *Handler) GetRecord(w http.ResponseWriter, r *http.Request) {
	rec, err := h.Service.GetRecord(r.Context(), recordID(r))
	if err != nil {
		writeServiceError(w, "Failed to get record", err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (h *Handler) UpdateNotes(w http.ResponseWriter, r *http.Request) {
	var req NotesRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	rec, err := h.Service.UpdateNotes(r.Context(), recordID(r), attendance.NotesUpdate{
		EmployeeNotes: req.EmployeeNotes,
		ManagerNotes:  req.ManagerNotes,
		Flagged:       req.Flagged,
		FlagReason:    req.FlagReason,
	}, req.Actor)
	if err != nil {
		writeServiceError(w, "Failed to update notes", err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (h *Handler) ExcuseLate(w http.ResponseWriter, r *http.Request) {
	var req ActorRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	rec, err := h.Service.ExcuseLate(r.Context(), recordID(r), req.Actor, req.Reason)
	if err != nil {
		writeServiceError(w, "Failed to excuse lateness", err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (h *Handler) ApproveEarlyDeparture(w http.ResponseWriter, r *http.Request) {
	var req ActorRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	rec, err := h.Service.ApproveEarlyDeparture(r.Context(), recordID(r), req.Actor)
	if err != nil {
		writeServiceError(w, "Failed to approve early departure", err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (h *Handler) ApproveOvertime(w http.ResponseWriter, r *http.Request) {
	var req ApproveOvertimeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	rec, err := h.Service.ApproveOvertime(r.Context(), recordID(r), generic.Minutes(req.Minutes), req.Actor)
	if err != nil {
		writeServiceError(w, "Failed to approve overtime", err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (h *Handler) ApproveTimesheet(w http.ResponseWriter, r *http.Request) {
	var req ActorRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	rec, err := h.Service.ApproveTimesheet(r.Context(), recordID(r), req.Actor, req.Notes)
	if err != nil {
		writeServiceError(w, "Failed to approve timesheet", err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (h *Handler) RejectTimesheet(w http.ResponseWriter, r *http.Request) {
	var req ActorRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	rec, err := h.Service.RejectTimesheet(r.Context(), recordID(r), req.Actor, req.Reason)
	if err != nil {
		writeServiceError(w, "Failed to reject timesheet", err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (h *Handler) Supersede(w http.ResponseWriter, r *http.Request) {
	var req ActorRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	rec, err := h.Service.Supersede(r.Context(), recordID(r), req.Actor, req.Reason)
	if err != nil {
		writeServiceError(w, "Failed to supersede record", err)
		return
	}
	writeJSON(w, http.StatusCreated, rec)
}

// =============================================================================
// VIOLATION HANDLERS
// =============================================================================

// ReviewViolation handles review, confirm, dismiss, appeal and
// appeal-decision.
func (h *Handler) ReviewViolation(w http.ResponseWriter, r *http.Request) {
	var action attendance.ReviewAction
	switch chi.URLParam(r, "action") {
	case "review":
		action = attendance.ActionMarkForReview
	case "confirm":
		action = attendance.ActionConfirm
	case "dismiss":
		action = attendance.ActionDismiss
	case "appeal":
		action = attendance.ActionAppeal
	case "appeal-decision":
		action = attendance.ActionDecide
	default:
		writeError(w, http.StatusNotFound, "Unknown violation action", nil)
		return
	}

	var req ViolationActionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	in := attendance.ReviewInput{
		Action:   action,
		Actor:    req.Actor,
		Notes:    req.Notes,
		Decision: attendance.AppealDecision(req.Decision),
		Severity: attendance.Severity(req.Severity),
	}
	if action == attendance.ActionAppeal && req.Reason != "" {
		in.Notes = req.Reason
	}
	if req.Penalty != nil {
		pen, err := req.Penalty.Penalty()
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid penalty", err)
			return
		}
		in.Penalty = pen
	}

	rec, err := h.Service.ReviewViolation(r.Context(), recordID(r), attendance.ViolationID(chi.URLParam(r, "vid")), in)
	if err != nil {
		writeServiceError(w, "Failed to review violation", err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// =============================================================================
// CORRECTION HANDLERS
// =============================================================================

func (h *Handler) SubmitCorrection(w http.ResponseWriter, r *http.Request) {
	var req SubmitCorrectionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	c, err := h.Service.SubmitCorrection(r.Context(), attendance.CorrectionRequest{
		RecordID:    recordID(r),
		Type:        attendance.CorrectionType(req.Type),
		Field:       attendance.CorrectionField(req.Field),
		Proposed:    req.ProposedValue,
		Reason:      req.Justification,
		RequestedBy: req.RequestedBy,
	})
	if err != nil {
		writeServiceError(w, "Failed to submit correction", err)
		return
	}
	writeJSON(w, http.StatusCreated, c)
}

func (h *Handler) ListPendingCorrections(w http.ResponseWriter, r *http.Request) {
	pending, err := h.Service.PendingCorrections(r.Context())
	if err != nil {
		writeServiceError(w, "Failed to list corrections", err)
		return
	}
	if pending == nil {
		pending = []attendance.CorrectionRequest{}
	}
	writeJSON(w, http.StatusOK, pending)
}

func (h *Handler) GetCorrection(w http.ResponseWriter, r *http.Request) {
	c, err := h.Service.GetCorrection(r.Context(), correctionID(r))
	if err != nil {
		writeServiceError(w, "Failed to get correction", err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func (h *Handler) ApproveCorrection(w http.ResponseWriter, r *http.Request) {
	var req ActorRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	c, err := h.Service.ApproveCorrection(r.Context(), correctionID(r), req.Actor, req.Notes)
	if err != nil {
		writeServiceError(w, "Failed to approve correction", err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func (h *Handler) RejectCorrection(w http.ResponseWriter, r *http.Request) {
	var req ActorRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	c, err := h.Service.RejectCorrection(r.Context(), correctionID(r), req.Actor, req.Reason)
	if err != nil {
		writeServiceError(w, "Failed to reject correction", err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

// ApplyCorrection re-runs the day with the correction and returns both
// the new record and the applied correction.
func (h *Handler) ApplyCorrection(w http.ResponseWriter, r *http.Request) {
	var req ActorRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	rec, c, err := h.Service.ApplyCorrection(r.Context(), correctionID(r), req.Actor)
	if err != nil {
		writeServiceError(w, "Failed to apply correction", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"record": rec, "correction": c})
}

// =============================================================================
// PAYROLL HANDLERS
// =============================================================================

// LockRecords locks a batch for a payroll run. A rejected batch returns
// 409 with every conflicting record and why.
func (h *Handler) LockRecords(w http.ResponseWriter, r *http.Request) {
	var req LockRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	ids := make([]attendance.RecordID, len(req.RecordIDs))
	for i, id := range req.RecordIDs {
		ids[i] = attendance.RecordID(id)
	}

	result, err := h.Service.Lock(r.Context(), ids, attendance.PayrollRunID(req.PayrollRunID), req.Actor)
	if err != nil {
		writeServiceError(w, "Failed to lock records", err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// =============================================================================
// SUMMARY HANDLERS
// =============================================================================

func (h *Handler) DailySummary(w http.ResponseWriter, r *http.Request) {
	date, err := generic.ParseDate(r.URL.Query().Get("date"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid date", err)
		return
	}
	summary, err := h.Service.DailySummary(r.Context(), date)
	if err != nil {
		writeServiceError(w, "Failed to summarize day", err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func (h *Handler) EmployeeSummary(w http.ResponseWriter, r *http.Request) {
	period, err := parsePeriod(r.URL.Query().Get("from"), r.URL.Query().Get("to"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid date range", err)
		return
	}
	summary, err := h.Service.EmployeeSummary(r.Context(), attendance.EmployeeID(chi.URLParam(r, "id")), period)
	if err != nil {
		writeServiceError(w, "Failed to summarize employee", err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func (h *Handler) ComplianceReport(w http.ResponseWriter, r *http.Request) {
	period, err := parsePeriod(r.URL.Query().Get("from"), r.URL.Query().Get("to"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid date range", err)
		return
	}
	report, err := h.Service.ComplianceReport(r.Context(), period)
	if err != nil {
		writeServiceError(w, "Failed to build compliance report", err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// =============================================================================
// HELPERS
// =============================================================================

func recordID(r *http.Request) attendance.RecordID {
	return attendance.RecordID(chi.URLParam(r, "id"))
}

func correctionID(r *http.Request) attendance.CorrectionID {
	return attendance.CorrectionID(chi.URLParam(r, "id"))
}

// parsePeriod parses an inclusive YYYY-MM-DD range. A missing end means
// a single day.
func parsePeriod(from, to string) (generic.Period, error) {
	start, err := generic.ParseDate(from)
	if err != nil {
		return generic.Period{}, err
	}
	end := start
	if to != "" {
		if end, err = generic.ParseDate(to); err != nil {
			return generic.Period{}, err
		}
	}
	p := generic.Period{Start: start, End: end}
	return p, p.Validate()
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}

// writeServiceError maps the engine's error taxonomy to HTTP statuses.
func writeServiceError(w http.ResponseWriter, message string, err error) {
	var conflict *attendance.LockConflictError
	switch {
	case errors.As(err, &conflict):
		writeJSON(w, http.StatusConflict, LockConflictResponse{
			Error:     message,
			Details:   err.Error(),
			Conflicts: conflict.Conflicts,
		})
	case generic.IsNotFound(err):
		writeError(w, http.StatusNotFound, message, err)
	case generic.IsClientError(err):
		writeError(w, http.StatusBadRequest, message, err)
	case generic.IsConflict(err):
		writeError(w, http.StatusConflict, message, err)
	case generic.IsUnprocessable(err):
		writeError(w, http.StatusUnprocessableEntity, message, err)
	default:
		writeError(w, http.StatusInternalServerError, message, err)
	}
}
