package memory_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/payroll-engine/generic"
	"github.com/warp/payroll-engine/payroll"
	"github.com/warp/payroll-engine/store/memory"
)

func open(employee int64, from string) *payroll.Compensation {
	return &payroll.Compensation{
		OrgID:      1,
		EmployeeID: employee,
		BaseSalary: generic.MustParseMoney("3000"),
		PerfSalary: generic.MustParseMoney("0"),
		ValidFrom:  generic.MustParseDate(from),
	}
}

func TestMemory_OneOpenIntervalPerEmployee(t *testing.T) {
	ctx := context.Background()
	m := memory.New()
	require.NoError(t, m.InsertCompensation(ctx, open(7, "2024-01-01")))

	err := m.InsertCompensation(ctx, open(7, "2024-02-01"))
	assert.ErrorIs(t, err, generic.ErrOverlappingCompensation)

	require.NoError(t, m.InsertCompensation(ctx, open(8, "2024-02-01")))
}

func TestMemory_ReturnedValuesAreCopies(t *testing.T) {
	ctx := context.Background()
	m := memory.New()
	c := open(7, "2024-01-01")
	require.NoError(t, m.InsertCompensation(ctx, c))

	got, err := m.CompensationHistory(ctx, 7, payroll.HistoryFilter{})
	require.NoError(t, err)
	require.Len(t, got, 1)
	to := generic.MustParseDate("2024-06-01")
	got[0].ValidTo = &to

	again, err := m.EffectiveCompensation(ctx, 7, generic.MustParseDate("2024-07-01"))
	require.NoError(t, err)
	require.NotNil(t, again)
	assert.Nil(t, again.ValidTo)
}

func TestMemory_WithTxRollsBack(t *testing.T) {
	ctx := context.Background()
	m := memory.New()
	c := open(7, "2024-01-01")
	require.NoError(t, m.InsertCompensation(ctx, c))
	boom := errors.New("boom")

	err := m.WithTx(ctx, func(tx payroll.Store) error {
		if err := tx.CloseCompensation(ctx, c.ID, generic.MustParseDate("2024-01-16")); err != nil {
			return err
		}
		if err := tx.InsertCompensation(ctx, open(7, "2024-01-16")); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	history, err := m.CompensationHistory(ctx, 7, payroll.HistoryFilter{})
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Nil(t, history[0].ValidTo, "close was rolled back")
}

func TestMemory_RunStatusIsConditional(t *testing.T) {
	ctx := context.Background()
	m := memory.New()
	month := generic.MustParseDate("2024-01-01")
	r := &payroll.PayrollRun{OrgID: 1, EmployeeID: 7, PayrollMonth: month, Status: payroll.StatusDraft}
	require.NoError(t, m.InsertRun(ctx, r))

	dup := &payroll.PayrollRun{OrgID: 1, EmployeeID: 7, PayrollMonth: month, Status: payroll.StatusDraft}
	assert.ErrorIs(t, m.InsertRun(ctx, dup), generic.ErrDuplicateRun)

	require.NoError(t, m.UpdateRunStatus(ctx, r.ID, payroll.StatusDraft, payroll.StatusConfirmed, r.CreatedAt))
	err := m.UpdateRunStatus(ctx, r.ID, payroll.StatusDraft, payroll.StatusConfirmed, r.CreatedAt)
	assert.ErrorIs(t, err, generic.ErrConcurrentModification)
}

func TestMemory_AuditDiffIsStoredAsJSON(t *testing.T) {
	ctx := context.Background()
	m := memory.New()

	require.NoError(t, m.AppendAudit(ctx, &payroll.AuditEntry{
		OrgID:      1,
		EntityType: payroll.EntityPayrollRun,
		EntityID:   3,
		Action:     payroll.AuditUpdate,
		Diff:       map[string]any{"previous_status": payroll.StatusDraft, "count": 2},
	}))

	entries, err := m.QueryAudit(ctx, payroll.AuditFilter{})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "draft", entries[0].Diff["previous_status"])
	assert.Equal(t, float64(2), entries[0].Diff["count"])
	assert.False(t, entries[0].CreatedAt.IsZero())
}
