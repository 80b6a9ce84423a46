package attendance

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/warp/attendance-engine/generic"
)

// =============================================================================
// READ-SIDE ROLLUPS - Pure aggregates over already computed records
// =============================================================================

type DailySummary struct {
	Date               generic.Date    `json:"date"`
	TotalEmployees     int             `json:"total_employees"`
	ByStatus           map[Status]int  `json:"by_status"`
	Present            int             `json:"present"`
	Absent             int             `json:"absent"`
	Late               int             `json:"late"`
	EarlyDeparture     int             `json:"early_departure"`
	OnLeave            int             `json:"on_leave"`
	Weekend            int             `json:"weekend"`
	Holiday            int             `json:"holiday"`
	PresentPercentage  decimal.Decimal `json:"present_percentage"`
	TotalWorkHours     decimal.Decimal `json:"total_work_hours"`
	TotalOvertimeHours decimal.Decimal `json:"total_overtime_hours"`
	ViolationCount     int             `json:"violation_count"`
}

// SummarizeDay rolls up the records of one date. Present counts every
// status in which the employee attended.
func SummarizeDay(date generic.Date, records []Record) DailySummary {
	out := DailySummary{Date: date, ByStatus: make(map[Status]int)}
	var worked, overtime generic.Minutes
	for _, r := range records {
		if r.Date() != date {
			continue
		}
		out.TotalEmployees++
		out.ByStatus[r.Status]++
		if r.Status.Attended() {
			out.Present++
		}
		switch r.Status {
		case StatusAbsent:
			out.Absent++
		case StatusLate:
			out.Late++
		case StatusEarlyDeparture:
			out.EarlyDeparture++
		case StatusOnLeave:
			out.OnLeave++
		case StatusWeekend:
			out.Weekend++
		case StatusHoliday:
			out.Holiday++
		}
		worked += r.WorkedMinutes
		overtime += r.OvertimeMinutes
		out.ViolationCount += len(r.Violations)
	}
	out.PresentPercentage = percentage(out.Present, out.TotalEmployees)
	out.TotalWorkHours = worked.HoursRounded()
	out.TotalOvertimeHours = overtime.HoursRounded()
	return out
}

type EmployeeSummary struct {
	EmployeeID         EmployeeID      `json:"employee_id"`
	EmployeeName       string          `json:"employee_name,omitempty"`
	Department         string          `json:"department,omitempty"`
	Period             generic.Period  `json:"period"`
	WorkDays           int             `json:"work_days"`
	PresentDays        int             `json:"present_days"`
	AbsentDays         int             `json:"absent_days"`
	LateDays           int             `json:"late_days"`
	EarlyDepartureDays int             `json:"early_departure_days"`
	HalfDays           int             `json:"half_days"`
	LeaveDays          int             `json:"leave_days"`
	TotalLateMinutes   generic.Minutes `json:"total_late_minutes"`
	TotalWorkHours     decimal.Decimal `json:"total_work_hours"`
	TotalOvertimeHours decimal.Decimal `json:"total_overtime_hours"`
	AverageWorkHours   decimal.Decimal `json:"average_work_hours"`
	AttendanceRate     decimal.Decimal `json:"attendance_rate"`
	PunctualityRate    decimal.Decimal `json:"punctuality_rate"`
	ViolationCount     int             `json:"violation_count"`
	TotalDeductions    generic.Money   `json:"total_deductions"`
}

// SummarizeEmployee rolls up one employee's records over a period.
// Work days are scheduled days (not leave, holiday or weekend).
// Attendance rate is present / work days; punctuality rate is on-time
// arrivals / present days. Deductions are summed from the already
// rounded payroll lines.
func SummarizeEmployee(emp Employee, period generic.Period, records []Record) EmployeeSummary {
	out := EmployeeSummary{
		EmployeeID:      emp.ID,
		EmployeeName:    emp.Name,
		Department:      emp.Department,
		Period:          period,
		TotalDeductions: generic.ZeroMoney(emp.HourlyRate.Currency),
	}
	var worked, overtime generic.Minutes
	onTime := 0
	for _, r := range records {
		if r.EmployeeID != emp.ID || !period.Contains(r.Date()) {
			continue
		}
		if r.Status.IsScheduledDay() {
			out.WorkDays++
		}
		if r.Status.Attended() {
			out.PresentDays++
			if r.LateArrival == nil {
				onTime++
			}
		}
		switch r.Status {
		case StatusAbsent:
			out.AbsentDays++
		case StatusOnLeave:
			out.LeaveDays++
		case StatusHalfDay:
			out.HalfDays++
		}
		if r.LateArrival != nil {
			out.LateDays++
			out.TotalLateMinutes += r.LateArrival.LateMinutes
		}
		if r.EarlyDeparture != nil {
			out.EarlyDepartureDays++
		}
		worked += r.WorkedMinutes
		overtime += r.OvertimeMinutes
		out.ViolationCount += len(r.Violations)
		if r.Payroll != nil {
			out.TotalDeductions = out.TotalDeductions.Add(r.Payroll.Deductions.Total)
		}
	}
	out.TotalWorkHours = worked.HoursRounded()
	out.TotalOvertimeHours = overtime.HoursRounded()
	out.AverageWorkHours = decimal.Zero
	if out.PresentDays > 0 {
		out.AverageWorkHours = worked.Hours().Div(decimal.NewFromInt(int64(out.PresentDays))).Round(2)
	}
	out.AttendanceRate = percentage(out.PresentDays, out.WorkDays)
	out.PunctualityRate = percentage(onTime, out.PresentDays)
	return out
}

type ComplianceReport struct {
	Period           generic.Period              `json:"period"`
	Records          int                         `json:"records"`
	Overall          map[OverallCompliance]int   `json:"overall"`
	NonCompliant     map[ComplianceCheckType]int `json:"non_compliant"`
	ViolationsByCode map[ViolationCode]int       `json:"violations_by_code"`
	BySeverity       map[Severity]int            `json:"by_severity"`
}

func BuildComplianceReport(period generic.Period, records []Record) ComplianceReport {
	out := ComplianceReport{
		Period:           period,
		Overall:          make(map[OverallCompliance]int),
		NonCompliant:     make(map[ComplianceCheckType]int),
		ViolationsByCode: make(map[ViolationCode]int),
		BySeverity:       make(map[Severity]int),
	}
	for _, r := range records {
		if !period.Contains(r.Date()) {
			continue
		}
		out.Records++
		if r.Compliance != nil {
			out.Overall[r.Compliance.Overall]++
			for _, c := range r.Compliance.Checks {
				if !c.Compliant {
					out.NonCompliant[c.Type]++
				}
			}
		}
		for _, v := range r.Violations {
			if v.Status == ViolationDismissed || v.Status == ViolationOverturned {
				continue
			}
			out.ViolationsByCode[v.Code]++
			out.BySeverity[v.Severity]++
		}
	}
	return out
}

func percentage(n, of int) decimal.Decimal {
	if of == 0 {
		return decimal.Zero
	}
	return decimal.NewFromInt(int64(n)).Mul(decimal.NewFromInt(100)).Div(decimal.NewFromInt(int64(of))).Round(2)
}

// =============================================================================
// SERVICE QUERIES
// =============================================================================

func (s *Service) DailySummary(ctx context.Context, date generic.Date) (DailySummary, error) {
	period := generic.Period{Start: date, End: date}
	records, err := s.store.QueryRecords(ctx, RecordFilter{Period: &period})
	if err != nil {
		return DailySummary{}, err
	}
	return SummarizeDay(date, records), nil
}

func (s *Service) EmployeeSummary(ctx context.Context, employeeID EmployeeID, period generic.Period) (EmployeeSummary, error) {
	if err := period.Validate(); err != nil {
		return EmployeeSummary{}, err
	}
	emp, err := s.employees.GetEmployee(ctx, employeeID)
	if err != nil {
		return EmployeeSummary{}, fmt.Errorf("fetch employee %s: %w", employeeID, err)
	}
	records, err := s.store.QueryRecords(ctx, RecordFilter{EmployeeID: employeeID, Period: &period})
	if err != nil {
		return EmployeeSummary{}, err
	}
	return SummarizeEmployee(*emp, period, records), nil
}

func (s *Service) ComplianceReport(ctx context.Context, period generic.Period) (ComplianceReport, error) {
	if err := period.Validate(); err != nil {
		return ComplianceReport{}, err
	}
	records, err := s.store.QueryRecords(ctx, RecordFilter{Period: &period})
	if err != nil {
		return ComplianceReport{}, err
	}
	return BuildComplianceReport(period, records), nil
}
