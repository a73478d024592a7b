/*
proration.go - Monthly proration calculator

PURPOSE:
  Computes the day-weighted pay of one employee for one calendar month,
  blending every compensation interval that touches the month.

ALGORITHM:
  daysInMonth = calendar days of the month (28..31)
  for each interval overlapping [periodStart, periodEnd]:
      days  = |[valid_from, valid_to or periodEnd+1) ∩ month|
      base += base_salary * days / daysInMonth
      perf += perf_salary * days / daysInMonth
  round base and perf once, to the cent, half away from zero

  Partial sums are kept at full decimal precision; only the totals are
  rounded.

EXAMPLE (2024-01, 31 days):
  [01-01, 01-16) base 3000 -> 15 days -> 1451.6129...
  [01-16, open)  base 6000 -> 16 days -> 3096.7741...
  base = round(4548.3870...) = 4548.39
*/
package payroll

import (
	"context"
	"fmt"

	"github.com/warp/payroll-engine/generic"
)

// Prorate is pure: it never touches the store. comps must be the intervals
// overlapping month, in any order.
func Prorate(employeeID int64, month generic.Date, comps []Compensation) (*ProrationResult, error) {
	period := generic.MonthPeriod(month)
	daysInMonth := period.Days()

	result := &ProrationResult{
		EmployeeID:  employeeID,
		Month:       period.Start,
		DaysInMonth: daysInMonth,
		BaseAmount:  zero,
		PerfAmount:  zero,
		Lines:       []ProrationLine{},
	}

	totalBase, totalPerf := zero, zero
	for _, c := range comps {
		days := c.Interval().DaysIn(period)
		if days <= 0 {
			continue
		}
		basePart := generic.Prorate(c.BaseSalary, days, daysInMonth)
		perfPart := generic.Prorate(c.PerfSalary, days, daysInMonth)

		totalBase = totalBase.Add(basePart)
		totalPerf = totalPerf.Add(perfPart)
		result.DaysCovered += days
		result.Lines = append(result.Lines, ProrationLine{
			CompID:      c.ID,
			ValidFrom:   c.ValidFrom,
			ValidTo:     c.ValidTo,
			DaysInRange: days,
			BaseSalary:  c.BaseSalary,
			PerfSalary:  c.PerfSalary,
			BasePart:    basePart,
			PerfPart:    perfPart,
		})
	}

	if result.DaysCovered == 0 {
		return nil, fmt.Errorf("employee %d month %s: %w", employeeID, period.Start.MonthKey(), generic.ErrNoCompensation)
	}

	result.BaseAmount = generic.RoundCents(totalBase)
	result.PerfAmount = generic.RoundCents(totalPerf)
	return result, nil
}

// PreviewMonthlyPayroll computes the proration without persisting anything.
func (e *Engine) PreviewMonthlyPayroll(ctx context.Context, employeeID int64, month generic.Date) (*ProrationResult, error) {
	if err := validateID("user_id", employeeID); err != nil {
		return nil, err
	}
	if err := validateDate("month", month); err != nil {
		return nil, err
	}
	return e.prorate(ctx, e.store, employeeID, month)
}

func (e *Engine) prorate(ctx context.Context, s CompensationStore, employeeID int64, month generic.Date) (*ProrationResult, error) {
	comps, err := s.CompensationsOverlapping(ctx, employeeID, generic.MonthPeriod(month))
	if err != nil {
		return nil, storeErr("load compensations", err)
	}
	return Prorate(employeeID, month, comps)
}
