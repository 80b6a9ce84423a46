/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. Logger:     Request logging
  2. Recoverer:  Panic recovery (500 instead of crash)
  3. RequestID:  Unique ID per request for tracing
  4. CORS:       Cross-origin requests for dashboards

ROUTE GROUPS:
  /api/events           Raw event intake
  /api/records/*        Daily records, exceptions, violations, corrections
  /api/corrections/*    Correction workflow
  /api/payroll/*        Payroll locking
  /api/summary/*        Daily, employee and compliance rollups
  /api/employees/*      Employees and policy assignments
  /api/policies/*       Policy management
  /api/holidays, /api/ramadan, /api/leaves   Calendars and leave
  /api/audit            Audit trail
  /api/scenarios/*      Demo scenarios

SECURITY NOTE:
  No authentication middleware currently. All endpoints are public.

SEE ALSO:
  - handlers.go: Handler implementations
  - cmd/server/main.go: Server startup
*/
package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

var defaultOrigins = []string{"http://localhost:5173", "http://localhost:8080"}

// NewRouter creates a new router with all routes configured. An empty
// origin list allows the local development origins.
func NewRouter(h *Handler, allowedOrigins []string) *chi.Mux {
	if len(allowedOrigins) == 0 {
		allowedOrigins = defaultOrigins
	}

	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   allowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}))

	r.Route("/api", func(r chi.Router) {
		r.Post("/events", h.SubmitEvent)

		// Record routes
		r.Route("/records", func(r chi.Router) {
			r.Get("/", h.ListRecords)
			r.Post("/process", h.ProcessRecords)
			r.Get("/{id}", h.GetRecord)
			r.Put("/{id}/notes", h.UpdateNotes)
			r.Post("/{id}/excuse-late", h.ExcuseLate)
			r.Post("/{id}/approve-early-departure", h.ApproveEarlyDeparture)
			r.Post("/{id}/approve-overtime", h.ApproveOvertime)
			r.Post("/{id}/approve-timesheet", h.ApproveTimesheet)
			r.Post("/{id}/reject-timesheet", h.RejectTimesheet)
			r.Post("/{id}/supersede", h.Supersede)
			r.Post("/{id}/corrections", h.SubmitCorrection)
			r.Post("/{id}/violations/{vid}/{action}", h.ReviewViolation)
		})

		// Correction routes
		r.Route("/corrections", func(r chi.Router) {
			r.Get("/pending", h.ListPendingCorrections)
			r.Get("/{id}", h.GetCorrection)
			r.Post("/{id}/approve", h.ApproveCorrection)
			r.Post("/{id}/reject", h.RejectCorrection)
			r.Post("/{id}/apply", h.ApplyCorrection)
		})

		r.Post("/payroll/lock", h.LockRecords)

		// Summary routes
		r.Route("/summary", func(r chi.Router) {
			r.Get("/daily", h.DailySummary)
			r.Get("/employees/{id}", h.EmployeeSummary)
			r.Get("/compliance", h.ComplianceReport)
		})

		// Employee routes
		r.Route("/employees", func(r chi.Router) {
			r.Get("/", h.ListEmployees)
			r.Post("/", h.CreateEmployee)
			r.Get("/{id}", h.GetEmployee)
			r.Get("/{id}/assignments", h.GetAssignments)
			r.Post("/{id}/assignments", h.CreateAssignment)
		})

		// Policy routes
		r.Route("/policies", func(r chi.Router) {
			r.Get("/", h.ListPolicies)
			r.Post("/", h.CreatePolicy)
			r.Get("/{id}", h.GetPolicy)
		})

		// Calendar and leave routes
		r.Get("/holidays", h.ListHolidays)
		r.Post("/holidays", h.CreateHoliday)
		r.Post("/ramadan", h.CreateRamadan)
		r.Get("/leaves", h.ListLeaves)
		r.Post("/leaves", h.CreateLeave)

		r.Get("/audit", h.QueryAudit)

		// Scenario routes
		r.Route("/scenarios", func(r chi.Router) {
			r.Get("/", h.ListScenarios)
			r.Get("/current", h.GetCurrentScenario)
			r.Post("/load", h.LoadScenario)
			r.Post("/reset", h.ResetDatabase)
		})
	})

	r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte(`<!DOCTYPE html>
<html>
<head><title>Attendance Engine</title></head>
<body style="font-family: system-ui; max-width: 800px; margin: 50px auto; padding: 20px;">
<h1>Attendance Engine API</h1>
<h2>API Endpoints</h2>
<ul>
<li><a href="/api/employees">/api/employees</a> - List employees</li>
<li><a href="/api/policies">/api/policies</a> - List policies</li>
<li><a href="/api/records">/api/records</a> - Daily records</li>
<li><a href="/api/corrections/pending">/api/corrections/pending</a> - Pending corrections</li>
<li><a href="/api/scenarios">/api/scenarios</a> - List scenarios</li>
</ul>
</body>
</html>`))
	})

	return r
}
