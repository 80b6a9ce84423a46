package api

// Reference data handlers: employees, policies, assignments, calendars,
// leave and the audit trail. Everything here writes straight to the store;
// the engine reads it at processing time.

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/warp/attendance-engine/attendance"
	"github.com/warp/attendance-engine/factory"
	"github.com/warp/attendance-engine/generic"
)

// =============================================================================
// EMPLOYEE HANDLERS
// =============================================================================

func (h *Handler) ListEmployees(w http.ResponseWriter, r *http.Request) {
	employees, err := h.Store.ListEmployees(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list employees", err)
		return
	}

	dtos := make([]EmployeeDTO, len(employees))
	for i, e := range employees {
		dtos[i] = toEmployeeDTO(e)
	}
	writeJSON(w, http.StatusOK, dtos)
}

func (h *Handler) GetEmployee(w http.ResponseWriter, r *http.Request) {
	emp, err := h.Store.GetEmployee(r.Context(), attendance.EmployeeID(chi.URLParam(r, "id")))
	if err != nil {
		writeServiceError(w, "Failed to get employee", err)
		return
	}
	writeJSON(w, http.StatusOK, toEmployeeDTO(*emp))
}

// CreateEmployee creates or replaces an employee.
func (h *Handler) CreateEmployee(w http.ResponseWriter, r *http.Request) {
	var req EmployeeDTO
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.ID == "" || req.Name == "" {
		writeError(w, http.StatusBadRequest, "id and name are required", nil)
		return
	}

	emp := attendance.Employee{
		ID:         attendance.EmployeeID(req.ID),
		Name:       req.Name,
		Email:      req.Email,
		Department: req.Department,
		Region:     req.Region,
	}
	if req.HireDate != "" {
		d, err := generic.ParseDate(req.HireDate)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid hire_date format (use YYYY-MM-DD)", err)
			return
		}
		emp.HireDate = d
	}
	rate, err := decimal.NewFromString(req.HourlyRate)
	if err != nil || rate.IsNegative() {
		writeError(w, http.StatusBadRequest, "Invalid hourly_rate", err)
		return
	}
	currency := generic.Currency(req.Currency)
	if currency == "" {
		currency = "AED"
	}
	emp.HourlyRate = generic.NewMoney(rate, currency)

	if err := h.Store.SaveEmployee(r.Context(), emp); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to create employee", err)
		return
	}
	writeJSON(w, http.StatusCreated, toEmployeeDTO(emp))
}

func toEmployeeDTO(e attendance.Employee) EmployeeDTO {
	dto := EmployeeDTO{
		ID:         string(e.ID),
		Name:       e.Name,
		Email:      e.Email,
		Department: e.Department,
		Region:     e.Region,
		HourlyRate: e.HourlyRate.Value.String(),
		Currency:   string(e.HourlyRate.Currency),
	}
	if !e.HireDate.IsZero() {
		dto.HireDate = e.HireDate.String()
	}
	return dto
}

// =============================================================================
// POLICY HANDLERS
// =============================================================================

func (h *Handler) ListPolicies(w http.ResponseWriter, r *http.Request) {
	policies, err := h.Store.ListPolicies(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list policies", err)
		return
	}

	dtos := make([]factory.PolicyJSON, len(policies))
	for i := range policies {
		dtos[i] = h.PolicyFactory.ToJSON(&policies[i])
	}
	writeJSON(w, http.StatusOK, dtos)
}

// CreatePolicy validates a policy document and stores it. Saving an
// existing ID bumps its version; records already computed keep the
// policy they were computed with.
func (h *Handler) CreatePolicy(w http.ResponseWriter, r *http.Request) {
	var req factory.PolicyJSON
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	policy, err := h.PolicyFactory.FromJSON(req)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid policy configuration", err)
		return
	}
	if err := h.Store.SavePolicy(r.Context(), *policy); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to create policy", err)
		return
	}
	writeJSON(w, http.StatusCreated, h.PolicyFactory.ToJSON(policy))
}

func (h *Handler) GetPolicy(w http.ResponseWriter, r *http.Request) {
	policy, err := h.Store.GetPolicy(r.Context(), attendance.PolicyID(chi.URLParam(r, "id")))
	if err != nil {
		writeServiceError(w, "Failed to get policy", err)
		return
	}
	writeJSON(w, http.StatusOK, h.PolicyFactory.ToJSON(policy))
}

// =============================================================================
// ASSIGNMENT HANDLERS
// =============================================================================

func (h *Handler) GetAssignments(w http.ResponseWriter, r *http.Request) {
	assignments, err := h.Store.AssignmentsFor(r.Context(), attendance.EmployeeID(chi.URLParam(r, "id")))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to get assignments", err)
		return
	}

	dtos := make([]AssignmentDTO, len(assignments))
	for i, a := range assignments {
		dtos[i] = AssignmentDTO{
			ID:            a.ID,
			EmployeeID:    string(a.EmployeeID),
			PolicyID:      string(a.PolicyID),
			EffectiveFrom: a.EffectiveFrom.String(),
		}
		if a.EffectiveTo != nil {
			dtos[i].EffectiveTo = a.EffectiveTo.String()
		}
	}
	writeJSON(w, http.StatusOK, dtos)
}

func (h *Handler) CreateAssignment(w http.ResponseWriter, r *http.Request) {
	var req AssignmentDTO
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if id := chi.URLParam(r, "id"); id != "" {
		req.EmployeeID = id
	}

	from, err := generic.ParseDate(req.EffectiveFrom)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid effective_from date", err)
		return
	}
	a := attendance.PolicyAssignment{
		ID:            req.ID,
		EmployeeID:    attendance.EmployeeID(req.EmployeeID),
		PolicyID:      attendance.PolicyID(req.PolicyID),
		EffectiveFrom: from,
	}
	if req.EffectiveTo != "" {
		to, err := generic.ParseDate(req.EffectiveTo)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid effective_to date", err)
			return
		}
		if to.Before(from) {
			writeError(w, http.StatusBadRequest, "effective_to is before effective_from", nil)
			return
		}
		a.EffectiveTo = &to
	}
	if _, err := h.Store.GetPolicy(r.Context(), a.PolicyID); err != nil {
		writeServiceError(w, "Unknown policy", err)
		return
	}
	if a.ID == "" {
		a.ID = fmt.Sprintf("assign-%s-%s-%s", a.EmployeeID, a.PolicyID, from)
		req.ID = a.ID
	}

	if err := h.Store.SaveAssignment(r.Context(), a); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to create assignment", err)
		return
	}
	writeJSON(w, http.StatusCreated, req)
}

// =============================================================================
// CALENDAR HANDLERS
// =============================================================================

// ListHolidays returns holidays for ?region=, or all of them.
func (h *Handler) ListHolidays(w http.ResponseWriter, r *http.Request) {
	holidays, err := h.Store.ListHolidays(r.Context(), r.URL.Query().Get("region"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to get holidays", err)
		return
	}

	dtos := make([]HolidayDTO, 0, len(holidays))
	for _, hol := range holidays {
		dtos = append(dtos, HolidayDTO{
			ID:        hol.ID,
			Region:    hol.Region,
			Date:      hol.Date.String(),
			Name:      hol.Name,
			Type:      string(hol.Type),
			Recurring: hol.Recurring,
		})
	}
	writeJSON(w, http.StatusOK, dtos)
}

func (h *Handler) CreateHoliday(w http.ResponseWriter, r *http.Request) {
	var req HolidayDTO
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.Date == "" || req.Name == "" {
		writeError(w, http.StatusBadRequest, "Date and name are required", nil)
		return
	}
	date, err := generic.ParseDate(req.Date)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid date format (use YYYY-MM-DD)", err)
		return
	}
	if req.ID == "" {
		req.ID = fmt.Sprintf("holiday-%s-%s", req.Region, req.Date)
	}
	if req.Type == "" {
		req.Type = string(generic.HolidayNational)
	}

	holiday := generic.Holiday{
		ID:        req.ID,
		Region:    req.Region,
		Date:      date,
		Name:      req.Name,
		Type:      generic.HolidayType(req.Type),
		Recurring: req.Recurring,
	}
	if err := h.Store.SaveHoliday(r.Context(), holiday); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to create holiday", err)
		return
	}
	writeJSON(w, http.StatusCreated, req)
}

func (h *Handler) CreateRamadan(w http.ResponseWriter, r *http.Request) {
	var req RamadanDTO
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	period, err := parsePeriod(req.StartDate, req.EndDate)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid date range", err)
		return
	}

	rp := attendance.RamadanPeriod{Region: req.Region, Start: period.Start, End: period.End}
	if err := h.Store.SaveRamadan(r.Context(), rp); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to save Ramadan period", err)
		return
	}
	writeJSON(w, http.StatusCreated, rp)
}

// =============================================================================
// LEAVE HANDLERS
// =============================================================================

func (h *Handler) ListLeaves(w http.ResponseWriter, r *http.Request) {
	leaves, err := h.Store.ListLeaves(r.Context(), attendance.EmployeeID(r.URL.Query().Get("employee_id")))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list leave", err)
		return
	}
	if leaves == nil {
		leaves = []attendance.Leave{}
	}
	writeJSON(w, http.StatusOK, leaves)
}

// CreateLeave records approved leave. Days already processed need a
// re-run to pick it up.
func (h *Handler) CreateLeave(w http.ResponseWriter, r *http.Request) {
	var req LeaveDTO
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.EmployeeID == "" {
		writeError(w, http.StatusBadRequest, "employee_id is required", nil)
		return
	}
	period, err := parsePeriod(req.StartDate, req.EndDate)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid date range", err)
		return
	}
	if req.ID == "" {
		req.ID = uuid.NewString()
	}
	if req.Type == "" {
		req.Type = "annual"
	}

	leave := attendance.Leave{
		ID:         req.ID,
		EmployeeID: attendance.EmployeeID(req.EmployeeID),
		Type:       req.Type,
		Start:      period.Start,
		End:        period.End,
	}
	if err := h.Store.SaveLeave(r.Context(), leave); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to save leave", err)
		return
	}
	writeJSON(w, http.StatusCreated, leave)
}

// =============================================================================
// AUDIT
// =============================================================================

// QueryAudit returns audit entries filtered by employee_id, target_id and
// actor.
func (h *Handler) QueryAudit(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var filter generic.AuditFilter
	if v := q.Get("employee_id"); v != "" {
		id := generic.EntityID(v)
		filter.EntityID = &id
	}
	if v := q.Get("target_id"); v != "" {
		filter.TargetID = &v
	}
	if v := q.Get("actor"); v != "" {
		filter.ActorID = &v
	}

	entries, err := h.Store.QueryAudit(r.Context(), filter)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to query audit log", err)
		return
	}

	type AuditEntryDTO struct {
		ID        string         `json:"id"`
		Timestamp time.Time      `json:"timestamp"`
		Actor     string         `json:"actor"`
		Action    string         `json:"action"`
		EntityID  string         `json:"employee_id"`
		TargetID  string         `json:"target_id"`
		Payload   map[string]any `json:"payload,omitempty"`
	}

	dtos := make([]AuditEntryDTO, len(entries))
	for i, e := range entries {
		dtos[i] = AuditEntryDTO{
			ID:        e.ID,
			Timestamp: e.Timestamp,
			Actor:     e.ActorID,
			Action:    string(e.Action),
			EntityID:  string(e.EntityID),
			TargetID:  e.TargetID,
			Payload:   e.Payload,
		}
	}
	writeJSON(w, http.StatusOK, dtos)
}

// ResetDatabase clears all data.
func (h *Handler) ResetDatabase(w http.ResponseWriter, r *http.Request) {
	if err := h.Store.Reset(r.Context()); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to reset database", err)
		return
	}

	h.mu.Lock()
	h.currentScenario = ""
	h.mu.Unlock()

	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
