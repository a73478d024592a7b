package generic_test

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/payroll-engine/generic"
)

func datePtr(s string) *generic.Date {
	d := generic.MustParseDate(s)
	return &d
}

// =============================================================================
// DATE
// =============================================================================

func TestDate_MonthBoundaries(t *testing.T) {
	tests := []struct {
		date  string
		start string
		end   string
		days  int
	}{
		{"2024-01-15", "2024-01-01", "2024-01-31", 31},
		{"2024-02-10", "2024-02-01", "2024-02-29", 29},
		{"2023-02-10", "2023-02-01", "2023-02-28", 28},
		{"2024-04-30", "2024-04-01", "2024-04-30", 30},
		{"2024-12-31", "2024-12-01", "2024-12-31", 31},
	}
	for _, tt := range tests {
		t.Run(tt.date, func(t *testing.T) {
			d := generic.MustParseDate(tt.date)
			assert.Equal(t, tt.start, d.StartOfMonth().String())
			assert.Equal(t, tt.end, d.EndOfMonth().String())
			assert.Equal(t, tt.days, d.DaysInMonth())
		})
	}
}

func TestParseDate(t *testing.T) {
	d, err := generic.ParseDate("2024-01-16")
	require.NoError(t, err)
	assert.Equal(t, generic.NewDate(2024, time.January, 16), d)

	// RFC3339 keeps only the calendar day
	d, err = generic.ParseDate("2024-01-16T23:30:00Z")
	require.NoError(t, err)
	assert.Equal(t, "2024-01-16", d.String())

	_, err = generic.ParseDate("16/01/2024")
	require.Error(t, err)
	assert.True(t, generic.IsValidation(err))
}

func TestDate_JSON(t *testing.T) {
	type wrapper struct {
		D generic.Date  `json:"d"`
		P *generic.Date `json:"p"`
		Z generic.Date  `json:"z"`
	}
	b, err := json.Marshal(wrapper{D: generic.MustParseDate("2024-02-29")})
	require.NoError(t, err)
	assert.JSONEq(t, `{"d":"2024-02-29","p":null,"z":null}`, string(b))

	var w wrapper
	require.NoError(t, json.Unmarshal([]byte(`{"d":"2024-03-01","p":"2024-03-02","z":null}`), &w))
	assert.Equal(t, "2024-03-01", w.D.String())
	require.NotNil(t, w.P)
	assert.Equal(t, "2024-03-02", w.P.String())
	assert.True(t, w.Z.IsZero())

	assert.Error(t, json.Unmarshal([]byte(`{"d":"March"}`), &w))
}

func TestDaysBetween(t *testing.T) {
	a := generic.MustParseDate("2024-02-27")
	b := generic.MustParseDate("2024-03-02")
	assert.Equal(t, 4, generic.DaysBetween(a, b))
	assert.Equal(t, -4, generic.DaysBetween(b, a))
	assert.Equal(t, a, generic.MinDate(a, b))
	assert.Equal(t, b, generic.MaxDate(a, b))
}

// =============================================================================
// PERIOD / INTERVAL
// =============================================================================

func TestMonthPeriod(t *testing.T) {
	p := generic.MonthPeriod(generic.MustParseDate("2024-02-14"))
	assert.Equal(t, "[2024-02-01, 2024-02-29]", p.String())
	assert.Equal(t, 29, p.Days())
	assert.True(t, p.Contains(generic.MustParseDate("2024-02-29")))
	assert.False(t, p.Contains(generic.MustParseDate("2024-03-01")))
}

func TestInterval_Covers_HalfOpen(t *testing.T) {
	iv := generic.Interval{From: generic.MustParseDate("2024-01-01"), To: datePtr("2024-01-16")}

	assert.True(t, iv.Covers(generic.MustParseDate("2024-01-01")))
	assert.True(t, iv.Covers(generic.MustParseDate("2024-01-15")))
	assert.False(t, iv.Covers(generic.MustParseDate("2024-01-16")), "valid_to is exclusive")
	assert.False(t, iv.Covers(generic.MustParseDate("2023-12-31")))

	open := generic.Interval{From: generic.MustParseDate("2024-01-16")}
	assert.True(t, open.IsOpen())
	assert.True(t, open.Covers(generic.MustParseDate("2099-01-01")))
}

func TestInterval_Overlaps(t *testing.T) {
	jan := generic.Interval{From: generic.MustParseDate("2024-01-01"), To: datePtr("2024-02-01")}
	feb := generic.Interval{From: generic.MustParseDate("2024-02-01"), To: datePtr("2024-03-01")}
	midJan := generic.Interval{From: generic.MustParseDate("2024-01-20")}

	assert.False(t, jan.Overlaps(feb), "adjacent intervals share no day")
	assert.False(t, feb.Overlaps(jan))
	assert.True(t, jan.Overlaps(midJan))
	assert.True(t, midJan.Overlaps(feb))
	assert.True(t, midJan.Overlaps(generic.Interval{From: generic.MustParseDate("2030-01-01")}))
}

func TestInterval_DaysIn(t *testing.T) {
	jan := generic.MonthPeriod(generic.MustParseDate("2024-01-01"))

	tests := []struct {
		name string
		iv   generic.Interval
		want int
	}{
		{"first half", generic.Interval{From: generic.MustParseDate("2023-06-01"), To: datePtr("2024-01-16")}, 15},
		{"second half open", generic.Interval{From: generic.MustParseDate("2024-01-16")}, 16},
		{"whole month", generic.Interval{From: generic.MustParseDate("2023-01-01")}, 31},
		{"before month", generic.Interval{From: generic.MustParseDate("2023-01-01"), To: datePtr("2024-01-01")}, 0},
		{"after month", generic.Interval{From: generic.MustParseDate("2024-02-01")}, 0},
		{"single day", generic.Interval{From: generic.MustParseDate("2024-01-31"), To: datePtr("2024-02-01")}, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.iv.DaysIn(jan))
		})
	}
}

// =============================================================================
// MONEY
// =============================================================================

func TestRoundCents_HalfUp(t *testing.T) {
	assert.Equal(t, "0.01", generic.FormatMoney(generic.RoundCents(generic.MustParseMoney("0.005"))))
	assert.Equal(t, "4548.39", generic.FormatMoney(generic.RoundCents(generic.MustParseMoney("4548.387096774"))))
	assert.Equal(t, "3000.00", generic.FormatMoney(generic.MustParseMoney("3000")))
}

func TestProrate(t *testing.T) {
	// 3100 for 15 of 31 days
	got := generic.Prorate(generic.MustParseMoney("3100"), 15, 31)
	assert.True(t, got.Equal(generic.MustParseMoney("1500")))

	assert.True(t, generic.Prorate(generic.MustParseMoney("3000"), 0, 31).IsZero())
	assert.True(t, generic.Prorate(generic.MustParseMoney("3000"), 5, 0).IsZero())
}

func TestErrorTaxonomy(t *testing.T) {
	overlap := &generic.OverlapError{EmployeeID: 1, ValidFrom: generic.MustParseDate("2024-01-10"), ExistingID: 7}
	assert.True(t, generic.IsConflict(overlap))
	assert.True(t, errors.Is(overlap, generic.ErrOverlappingCompensation))

	dup := &generic.DuplicateRunError{EmployeeID: 1, Month: generic.MustParseDate("2024-01-01"), ExistingRunID: 3}
	assert.True(t, generic.IsConflict(dup))
	assert.Contains(t, dup.Error(), "2024-01")

	assert.True(t, generic.IsNotFound(generic.ErrNoCompensation))
	assert.True(t, generic.IsInvalidTransition(&generic.InvalidTransitionError{From: "paid", Action: "confirm"}))

	down := generic.Unavailable("acquire lock", errors.New("dial tcp: refused"))
	assert.True(t, generic.IsUnavailable(down))
	assert.True(t, generic.IsRetryable(down))
	assert.False(t, generic.IsRetryable(generic.ErrDuplicateRun))
}
