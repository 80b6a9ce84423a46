package attendance

import (
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/warp/attendance-engine/generic"
)

// =============================================================================
// PENALTY - Closed set of penalty variants
// =============================================================================

type PenaltyType string

const (
	PenaltyWarning    PenaltyType = "warning"
	PenaltyPercentage PenaltyType = "percentage"
	PenaltySuspension PenaltyType = "days_suspension"
	PenaltyDeduction  PenaltyType = "deduction"
)

// Penalty is implemented only by the variants in this file. Rules attach
// one at detection time; PayrollAggregator turns it into currency.
type Penalty interface {
	Type() PenaltyType
	isPenalty()
}

// WarningPenalty has no monetary effect.
type WarningPenalty struct{}

// PercentagePenalty deducts Percent of the day's gross pay.
type PercentagePenalty struct {
	Percent decimal.Decimal
}

// SuspensionPenalty deducts Days of scheduled day pay.
type SuspensionPenalty struct {
	Days int
}

// DeductionPenalty deducts a fixed amount.
type DeductionPenalty struct {
	Amount generic.Money
}

func (WarningPenalty) Type() PenaltyType    { return PenaltyWarning }
func (PercentagePenalty) Type() PenaltyType { return PenaltyPercentage }
func (SuspensionPenalty) Type() PenaltyType { return PenaltySuspension }
func (DeductionPenalty) Type() PenaltyType  { return PenaltyDeduction }

func (WarningPenalty) isPenalty()    {}
func (PercentagePenalty) isPenalty() {}
func (SuspensionPenalty) isPenalty() {}
func (DeductionPenalty) isPenalty()  {}

// Percent returns a PercentagePenalty from a decimal string such as "10".
func Percent(s string) PercentagePenalty {
	return PercentagePenalty{Percent: generic.MustParseDecimal(s)}
}

// =============================================================================
// WIRE FORM - Used by JSON policy configs, the store and the API
// =============================================================================

// PenaltySpec is the flat serialized form of a Penalty.
type PenaltySpec struct {
	Type     PenaltyType      `json:"type"`
	Percent  *decimal.Decimal `json:"percent,omitempty"`
	Days     *int             `json:"days,omitempty"`
	Amount   *decimal.Decimal `json:"amount,omitempty"`
	Currency generic.Currency `json:"currency,omitempty"`
}

// SpecOf flattens p. A nil penalty is a warning.
func SpecOf(p Penalty) PenaltySpec {
	switch v := p.(type) {
	case nil, WarningPenalty:
		return PenaltySpec{Type: PenaltyWarning}
	case PercentagePenalty:
		pct := v.Percent
		return PenaltySpec{Type: PenaltyPercentage, Percent: &pct}
	case SuspensionPenalty:
		days := v.Days
		return PenaltySpec{Type: PenaltySuspension, Days: &days}
	case DeductionPenalty:
		amt := v.Amount.Value
		return PenaltySpec{Type: PenaltyDeduction, Amount: &amt, Currency: v.Amount.Currency}
	default:
		panic(fmt.Sprintf("attendance: unknown penalty variant %T", p))
	}
}

// Penalty rebuilds the variant, validating required fields.
func (s PenaltySpec) Penalty() (Penalty, error) {
	switch s.Type {
	case "", PenaltyWarning:
		return WarningPenalty{}, nil
	case PenaltyPercentage:
		if s.Percent == nil || s.Percent.IsNegative() || s.Percent.GreaterThan(decimal.NewFromInt(100)) {
			return nil, fmt.Errorf("%w: percentage penalty needs percent in [0,100]", generic.ErrInvalidInput)
		}
		return PercentagePenalty{Percent: *s.Percent}, nil
	case PenaltySuspension:
		if s.Days == nil || *s.Days < 0 {
			return nil, fmt.Errorf("%w: suspension penalty needs non-negative days", generic.ErrInvalidInput)
		}
		return SuspensionPenalty{Days: *s.Days}, nil
	case PenaltyDeduction:
		if s.Amount == nil || s.Amount.IsNegative() {
			return nil, fmt.Errorf("%w: deduction penalty needs non-negative amount", generic.ErrInvalidInput)
		}
		if s.Currency == "" {
			return nil, fmt.Errorf("%w: deduction penalty needs a currency", generic.ErrInvalidInput)
		}
		return DeductionPenalty{Amount: generic.NewMoney(*s.Amount, s.Currency)}, nil
	default:
		return nil, fmt.Errorf("%w: unknown penalty type %q", generic.ErrInvalidInput, s.Type)
	}
}
