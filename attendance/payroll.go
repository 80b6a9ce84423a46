/*
payroll.go - PayrollAggregator: classified day → payroll line

PURPOSE:
  Prices one record: payable hours, gross pay, overtime pay and the
  deductions that apply to it, including violation penalties detected
  by rules.go. Pricing is deterministic; running it twice on the same
  record gives the same line.

HOURS:
  paid / unpaid break minutes come from the classified breaks.
  payableRegular = max(0, regular − paidBreaks)
  totalPayable   = payableRegular + min(paidBreaks, regular)

  Worked minutes already include paid breaks, so they are split out of
  the regular minutes rather than added on top.

PAY:
  regular pay  = totalPayable × hourly rate
  overtime pay = overtime × hourly rate × multiplier
                 (holiday multiplier on holidays and rest days; only
                 approved minutes when the policy requires approval)
  gross        = regular pay + overtime pay

DEDUCTIONS:
  late      actualLate × rate, unless excused
  early     actualEarly × rate, unless approved
  absence   deductionDays × scheduled day pay
  violation percentage of gross | days × scheduled day pay | fixed amount,
            for effective violations only (confirmed, appealed, upheld,
            modified)

ROUNDING:
  Every amount is carried unrounded through the chain and rounded once,
  half-up to the currency minor unit, when written to the line.

SEE ALSO:
  - service.go: Lock, which freezes priced records
  - rules.go: Where penalties are attached
*/
package attendance

import (
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/warp/attendance-engine/generic"
)

// Aggregate prices a record. Locked records are never repriced.
func Aggregate(rec Record, p Policy, rates PayRates) (PayrollLine, error) {
	if rec.Lock.Locked {
		return PayrollLine{}, &AlreadyLockedError{RecordID: rec.ID, PayrollRunID: rec.Lock.PayrollRunID}
	}

	rate := rates.HourlyRate
	zero := generic.ZeroMoney(rate.Currency)

	var paidBreaks, unpaidBreaks generic.Minutes
	for _, b := range rec.Breaks {
		if b.Paid {
			paidBreaks += b.Minutes
		} else {
			unpaidBreaks += b.Minutes
		}
	}
	payableRegular := (rec.RegularMinutes - paidBreaks).Max(0)
	hours := PayrollHours{
		RegularMinutes:      payableRegular,
		OvertimeMinutes:     rec.OvertimeMinutes,
		PaidBreakMinutes:    paidBreaks,
		UnpaidBreakMinutes:  unpaidBreaks,
		TotalPayableMinutes: payableRegular + paidBreaks.Min(rec.RegularMinutes),
	}

	// Overtime
	paidOvertime := rec.OvertimeMinutes
	if p.RequireOvertimeApproval {
		approved := generic.Minutes(0)
		if rec.OvertimeApproval != nil {
			approved = rec.OvertimeApproval.ApprovedMinutes
		}
		paidOvertime = paidOvertime.Min(approved)
	}
	multiplier := p.OvertimeMultiplier
	if rec.DateInfo.IsHoliday || rec.DateInfo.IsWeekend {
		multiplier = p.HolidayOvertimeMultiplier
	}
	if multiplier.IsZero() {
		multiplier = decimal.NewFromInt(1)
	}
	overtimePay := rate.MulMinutes(paidOvertime).Mul(multiplier)

	regularPay := rate.MulMinutes(hours.TotalPayableMinutes)
	gross := regularPay.Add(overtimePay)
	dayPay := rate.MulMinutes(scheduledDayMinutes(rec, p))

	// Deductions
	late, early, absence := zero, zero, zero
	if la := rec.LateArrival; la != nil && la.DeductionApplicable && !la.Excused {
		late = rate.MulMinutes(la.DeductionMinutes)
	}
	if ed := rec.EarlyDeparture; ed != nil && ed.DeductionApplicable && !ed.Approved {
		early = rate.MulMinutes(ed.DeductionMinutes)
	}
	if a := rec.Absence; a != nil && a.DeductionApplicable && !a.Authorized {
		absence = dayPay.Mul(decimal.NewFromInt(int64(a.DeductionDays)))
	}

	violationTotal := zero
	var byViolation []ViolationDeduction
	for _, v := range rec.Violations {
		if !v.Effective() {
			continue
		}
		amount, err := PenaltyAmount(v.Penalty, gross, dayPay)
		if err != nil {
			return PayrollLine{}, fmt.Errorf("violation %s: %w", v.ID, err)
		}
		if amount.IsZero() {
			continue
		}
		violationTotal = violationTotal.Add(amount)
		byViolation = append(byViolation, ViolationDeduction{ViolationID: v.ID, Code: v.Code, Amount: amount.Rounded()})
	}

	total := late.Add(early).Add(absence).Add(violationTotal)

	return PayrollLine{
		Hours:    hours,
		GrossPay: gross.Rounded(),
		Overtime: OvertimePay{
			Minutes:    paidOvertime,
			HourlyRate: rate,
			Multiplier: multiplier.String(),
			Amount:     overtimePay.Rounded(),
		},
		Deductions: PayrollDeductions{
			Late:           late.Rounded(),
			Absence:        absence.Rounded(),
			EarlyDeparture: early.Rounded(),
			Violations:     violationTotal.Rounded(),
			Total:          total.Rounded(),
			ByViolation:    byViolation,
		},
	}, nil
}

// PenaltyAmount resolves a penalty to an unrounded amount. A fixed
// deduction in another currency than the pay is rejected, never converted.
func PenaltyAmount(pen Penalty, gross, dayPay generic.Money) (generic.Money, error) {
	switch v := pen.(type) {
	case PercentagePenalty:
		return gross.Percent(v.Percent), nil
	case SuspensionPenalty:
		return dayPay.Mul(decimal.NewFromInt(int64(v.Days))), nil
	case DeductionPenalty:
		if v.Amount.Currency != gross.Currency {
			return generic.Money{}, fmt.Errorf("%w: deduction penalty in %s cannot price %s pay",
				generic.ErrInvalidInput, v.Amount.Currency, gross.Currency)
		}
		return v.Amount, nil
	}
	return generic.ZeroMoney(gross.Currency), nil
}

// scheduledDayMinutes is the length of a normal working day for pricing
// absences and suspensions. Non-working days fall back to the policy day.
func scheduledDayMinutes(rec Record, p Policy) generic.Minutes {
	if rec.Schedule.ScheduledMinutes > 0 {
		return rec.Schedule.ScheduledMinutes
	}
	return p.ScheduledMinutes
}
