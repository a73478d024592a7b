package sqlite_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/payroll-engine/generic"
	"github.com/warp/payroll-engine/payroll"
	"github.com/warp/payroll-engine/store/sqlite"
)

func newStore(t *testing.T) *sqlite.Store {
	t.Helper()
	store, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func date(s string) generic.Date { return generic.MustParseDate(s) }

func datePtr(s string) *generic.Date {
	d := date(s)
	return &d
}

func comp(employee int64, from string, to *generic.Date, base string) *payroll.Compensation {
	return &payroll.Compensation{
		OrgID:      1,
		EmployeeID: employee,
		BaseSalary: generic.MustParseMoney(base),
		PerfSalary: generic.MustParseMoney("0"),
		ValidFrom:  date(from),
		ValidTo:    to,
		CreatedBy:  99,
	}
}

func run(employee int64, month string) *payroll.PayrollRun {
	m := date(month)
	now := time.Date(2024, time.February, 1, 8, 0, 0, 0, time.UTC)
	r := &payroll.PayrollRun{
		OrgID:        1,
		EmployeeID:   employee,
		PayrollMonth: m,
		PeriodStart:  m,
		PeriodEnd:    m.EndOfMonth(),
		DaysInMonth:  m.DaysInMonth(),
		DaysCovered:  m.DaysInMonth(),
		BaseAmount:   generic.MustParseMoney("4548.39"),
		PerfAmount:   generic.MustParseMoney("0"),
		Allowances:   generic.MustParseMoney("100"),
		Deductions:   generic.MustParseMoney("0"),
		TaxAmount:    generic.MustParseMoney("0"),
		Status:       payroll.StatusDraft,
		Snapshot:     json.RawMessage(`{"inputs":{"allowances":"100"}}`),
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	r.UpdateAmounts()
	return r
}

// =============================================================================
// COMPENSATIONS
// =============================================================================

func TestCompensation_RoundTrip(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)

	c := comp(7, "2024-01-01", nil, "3000.50")
	c.Reason = "annual review"
	require.NoError(t, store.InsertCompensation(ctx, c))
	assert.NotZero(t, c.ID)

	got, err := store.EffectiveCompensation(ctx, 7, date("2024-06-01"))
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, c.ID, got.ID)
	assert.Equal(t, "3000.5", got.BaseSalary.String())
	assert.Equal(t, "annual review", got.Reason)
	assert.Nil(t, got.ValidTo)
	assert.Equal(t, int64(99), got.CreatedBy)
	assert.False(t, got.CreatedAt.IsZero())
}

func TestCompensation_SecondOpenIntervalRejected(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	require.NoError(t, store.InsertCompensation(ctx, comp(7, "2024-01-01", nil, "3000")))

	err := store.InsertCompensation(ctx, comp(7, "2024-02-01", nil, "3500"))

	require.Error(t, err)
	assert.ErrorIs(t, err, generic.ErrOverlappingCompensation)

	// another employee is unaffected
	require.NoError(t, store.InsertCompensation(ctx, comp(8, "2024-02-01", nil, "3500")))
}

func TestCompensation_SameStartRejected(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	require.NoError(t, store.InsertCompensation(ctx, comp(7, "2024-01-01", datePtr("2024-02-01"), "3000")))

	err := store.InsertCompensation(ctx, comp(7, "2024-01-01", datePtr("2024-01-20"), "3500"))
	assert.ErrorIs(t, err, generic.ErrOverlappingCompensation)
}

func TestCompensation_EmptyIntervalRejected(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)

	err := store.InsertCompensation(ctx, comp(7, "2024-01-01", datePtr("2024-01-01"), "3000"))
	assert.Error(t, err)
}

func TestCompensation_CloseOnlyOnce(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	c := comp(7, "2024-01-01", nil, "3000")
	require.NoError(t, store.InsertCompensation(ctx, c))

	require.NoError(t, store.CloseCompensation(ctx, c.ID, date("2024-01-16")))

	err := store.CloseCompensation(ctx, c.ID, date("2024-01-20"))
	assert.ErrorIs(t, err, generic.ErrConcurrentModification)

	got, err := store.CompensationsAt(ctx, 7, date("2024-01-16"))
	require.NoError(t, err)
	require.Len(t, got, 1, "valid_to >= D matches the closure lookup")
	assert.Equal(t, "2024-01-16", got[0].ValidTo.String())
}

func TestCompensation_Lookups(t *testing.T) {
	// GIVEN: [2023-06-01, 2024-01-16) and [2024-01-16, open)
	ctx := context.Background()
	store := newStore(t)
	a := comp(7, "2023-06-01", datePtr("2024-01-16"), "3000")
	b := comp(7, "2024-01-16", nil, "6000")
	require.NoError(t, store.InsertCompensation(ctx, a))
	require.NoError(t, store.InsertCompensation(ctx, b))

	t.Run("effective is half-open", func(t *testing.T) {
		got, err := store.EffectiveCompensation(ctx, 7, date("2024-01-15"))
		require.NoError(t, err)
		assert.Equal(t, a.ID, got.ID)

		got, err = store.EffectiveCompensation(ctx, 7, date("2024-01-16"))
		require.NoError(t, err)
		assert.Equal(t, b.ID, got.ID)

		got, err = store.EffectiveCompensation(ctx, 7, date("2023-05-31"))
		require.NoError(t, err)
		assert.Nil(t, got)
	})

	t.Run("overlapping month ascending", func(t *testing.T) {
		got, err := store.CompensationsOverlapping(ctx, 7, generic.MonthPeriod(date("2024-01-01")))
		require.NoError(t, err)
		require.Len(t, got, 2)
		assert.Equal(t, a.ID, got[0].ID)
		assert.Equal(t, b.ID, got[1].ID)

		got, err = store.CompensationsOverlapping(ctx, 7, generic.MonthPeriod(date("2024-02-01")))
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.Equal(t, b.ID, got[0].ID)

		got, err = store.CompensationsOverlapping(ctx, 7, generic.MonthPeriod(date("2023-05-01")))
		require.NoError(t, err)
		assert.Empty(t, got)
	})

	t.Run("next after a date", func(t *testing.T) {
		got, err := store.NextCompensation(ctx, 7, date("2023-01-01"))
		require.NoError(t, err)
		assert.Equal(t, a.ID, got.ID)

		got, err = store.NextCompensation(ctx, 7, date("2024-01-16"))
		require.NoError(t, err)
		assert.Nil(t, got)
	})

	t.Run("history newest first", func(t *testing.T) {
		got, err := store.CompensationHistory(ctx, 7, payroll.HistoryFilter{})
		require.NoError(t, err)
		require.Len(t, got, 2)
		assert.Equal(t, b.ID, got[0].ID)

		got, err = store.CompensationHistory(ctx, 7, payroll.HistoryFilter{To: datePtr("2023-12-31")})
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.Equal(t, a.ID, got[0].ID)
	})
}

// =============================================================================
// RUNS
// =============================================================================

func TestRun_RoundTrip(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	r := run(7, "2024-01-01")
	require.NoError(t, store.InsertRun(ctx, r))
	assert.NotZero(t, r.ID)

	got, err := store.GetRun(ctx, r.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "4648.39", generic.FormatMoney(got.GrossAmount))
	assert.Equal(t, "4648.39", generic.FormatMoney(got.NetAmount))
	assert.Equal(t, "2024-01-31", got.PeriodEnd.String())
	assert.Equal(t, 31, got.DaysInMonth)
	assert.Equal(t, payroll.StatusDraft, got.Status)
	assert.JSONEq(t, string(r.Snapshot), string(got.Snapshot))
	assert.True(t, got.CreatedAt.Equal(r.CreatedAt))

	found, err := store.FindRun(ctx, 7, date("2024-01-01"))
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, r.ID, found.ID)

	missing, err := store.GetRun(ctx, 9999)
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestRun_UniquePerEmployeeMonth(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	require.NoError(t, store.InsertRun(ctx, run(7, "2024-01-01")))

	err := store.InsertRun(ctx, run(7, "2024-01-01"))

	require.Error(t, err)
	assert.ErrorIs(t, err, generic.ErrDuplicateRun)
	assert.True(t, generic.IsConflict(err))

	require.NoError(t, store.InsertRun(ctx, run(7, "2024-02-01")))
	require.NoError(t, store.InsertRun(ctx, run(8, "2024-01-01")))
}

func TestRun_ConditionalStatusUpdate(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	r := run(7, "2024-01-01")
	require.NoError(t, store.InsertRun(ctx, r))
	at := time.Date(2024, time.February, 2, 10, 0, 0, 0, time.UTC)

	require.NoError(t, store.UpdateRunStatus(ctx, r.ID, payroll.StatusDraft, payroll.StatusConfirmed, at))

	// a second writer that still believes the run is draft loses
	err := store.UpdateRunStatus(ctx, r.ID, payroll.StatusDraft, payroll.StatusConfirmed, at)
	assert.ErrorIs(t, err, generic.ErrConcurrentModification)

	got, err := store.GetRun(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, payroll.StatusConfirmed, got.Status)
	assert.True(t, got.UpdatedAt.Equal(at))
}

func TestRun_List(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	for _, r := range []*payroll.PayrollRun{run(7, "2024-01-01"), run(7, "2024-03-01"), run(8, "2024-03-01")} {
		require.NoError(t, store.InsertRun(ctx, r))
	}
	other := run(9, "2024-03-01")
	other.OrgID = 2
	require.NoError(t, store.InsertRun(ctx, other))

	all, err := store.ListRuns(ctx, payroll.RunFilter{OrgID: 1})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "2024-03-01", all[0].PayrollMonth.String())
	assert.Equal(t, "2024-01-01", all[2].PayrollMonth.String())

	emp := int64(7)
	mine, err := store.ListRuns(ctx, payroll.RunFilter{OrgID: 1, EmployeeID: &emp})
	require.NoError(t, err)
	assert.Len(t, mine, 2)

	march, err := store.ListRuns(ctx, payroll.RunFilter{OrgID: 1, Month: datePtr("2024-03-01")})
	require.NoError(t, err)
	assert.Len(t, march, 2)
}

// =============================================================================
// AUDIT / TRANSACTIONS
// =============================================================================

func TestAudit_AppendAndQuery(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)

	entity := payroll.EntityPayrollRun
	for i, status := range []payroll.RunStatus{payroll.StatusConfirmed, payroll.StatusPaid} {
		require.NoError(t, store.AppendAudit(ctx, &payroll.AuditEntry{
			OrgID:      1,
			ActorID:    42,
			EntityType: entity,
			EntityID:   5,
			Action:     payroll.AuditUpdate,
			Diff:       map[string]any{"updated_status": status},
			RequestID:  "req-1",
			CreatedAt:  time.Date(2024, time.February, 1, 8, i, 0, 0, time.UTC),
		}))
	}
	require.NoError(t, store.AppendAudit(ctx, &payroll.AuditEntry{
		OrgID: 1, ActorID: 42, EntityType: payroll.EntityCompensation, EntityID: 5, Action: payroll.AuditCreate,
	}))

	id := int64(5)
	got, err := store.QueryAudit(ctx, payroll.AuditFilter{EntityType: &entity, EntityID: &id})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "confirmed", got[0].Diff["updated_status"], "oldest first")
	assert.Equal(t, "paid", got[1].Diff["updated_status"])
	assert.Equal(t, "req-1", got[0].RequestID)

	org := int64(1)
	all, err := store.QueryAudit(ctx, payroll.AuditFilter{OrgID: &org})
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

func TestWithTx_RollsBackOnError(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	boom := errors.New("boom")

	err := store.WithTx(ctx, func(tx payroll.Store) error {
		if err := tx.InsertRun(ctx, run(7, "2024-01-01")); err != nil {
			return err
		}
		if err := tx.AppendAudit(ctx, &payroll.AuditEntry{OrgID: 1, EntityType: payroll.EntityPayrollRun, EntityID: 1, Action: payroll.AuditCreate}); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	found, err := store.FindRun(ctx, 7, date("2024-01-01"))
	require.NoError(t, err)
	assert.Nil(t, found)
	audit, err := store.QueryAudit(ctx, payroll.AuditFilter{})
	require.NoError(t, err)
	assert.Empty(t, audit)
}

func TestWithTx_Commits(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	c := comp(7, "2024-01-01", nil, "3000")
	require.NoError(t, store.InsertCompensation(ctx, c))

	err := store.WithTx(ctx, func(tx payroll.Store) error {
		if err := tx.CloseCompensation(ctx, c.ID, date("2024-01-16")); err != nil {
			return err
		}
		return tx.InsertCompensation(ctx, comp(7, "2024-01-16", nil, "6000"))
	})
	require.NoError(t, err)

	history, err := store.CompensationHistory(ctx, 7, payroll.HistoryFilter{})
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Nil(t, history[0].ValidTo)
	assert.Equal(t, "2024-01-16", history[1].ValidTo.String())
}

func TestPing(t *testing.T) {
	assert.NoError(t, newStore(t).Ping(context.Background()))
}
