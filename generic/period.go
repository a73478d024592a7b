package generic

// =============================================================================
// PERIOD - Closed calendar range used for pay periods
// =============================================================================

// Period is the inclusive range [Start, End].
//
// Examples:
//   - Pay month 2024-01: Jan 1 - Jan 31
//   - Pay month 2024-02: Feb 1 - Feb 29
type Period struct {
	Start Date
	End   Date
}

// MonthPeriod returns the calendar month containing d.
func MonthPeriod(d Date) Period {
	return Period{Start: d.StartOfMonth(), End: d.EndOfMonth()}
}

// Contains returns true if d is within [Start, End].
func (p Period) Contains(d Date) bool {
	return d.AfterOrEqual(p.Start) && d.BeforeOrEqual(p.End)
}

// Days is the number of calendar days in the period.
func (p Period) Days() int {
	if p.End.Before(p.Start) {
		return 0
	}
	return DaysBetween(p.Start, p.End) + 1
}

func (p Period) String() string {
	return "[" + p.Start.String() + ", " + p.End.String() + "]"
}

// =============================================================================
// INTERVAL - Half-open validity range [From, To)
// =============================================================================

// Interval is a validity range. To == nil means open-ended.
type Interval struct {
	From Date
	To   *Date
}

// IsOpen reports whether the interval has no end.
func (iv Interval) IsOpen() bool { return iv.To == nil }

// Valid enforces From < To when To is set.
func (iv Interval) Valid() bool {
	return iv.To == nil || iv.From.Before(*iv.To)
}

// Covers reports whether day d falls in [From, To).
func (iv Interval) Covers(d Date) bool {
	if d.Before(iv.From) {
		return false
	}
	return iv.To == nil || d.Before(*iv.To)
}

// Overlaps reports whether two half-open intervals share at least one day.
func (iv Interval) Overlaps(other Interval) bool {
	// a.From < b.To && b.From < a.To, with nil To as +inf
	if other.To != nil && !iv.From.Before(*other.To) {
		return false
	}
	if iv.To != nil && !other.From.Before(*iv.To) {
		return false
	}
	return true
}

// DaysIn counts the days of the interval inside p.
// A day counts if it is on or after From and strictly before To; an
// open-ended interval runs through p.End.
func (iv Interval) DaysIn(p Period) int {
	start := MaxDate(iv.From, p.Start)
	endExclusive := p.End.AddDays(1)
	if iv.To != nil {
		endExclusive = MinDate(*iv.To, endExclusive)
	}
	if !start.Before(endExclusive) {
		return 0
	}
	return DaysBetween(start, endExclusive)
}
