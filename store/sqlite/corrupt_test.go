package sqlite

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/payroll-engine/generic"
	"github.com/warp/payroll-engine/payroll"
)

func TestParseTime(t *testing.T) {
	ts, err := parseTime("2024-02-01T08:00:00.5Z")
	require.NoError(t, err)
	assert.Equal(t, 500000000, ts.Nanosecond())

	_, err = parseTime("yesterday")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "corrupt timestamp")
}

func TestCorruptTimestampsAreReported(t *testing.T) {
	ctx := context.Background()
	s, err := New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	// GIVEN: one row of each table with a mangled created_at
	c := &payroll.Compensation{
		OrgID:      1,
		EmployeeID: 7,
		BaseSalary: generic.MustParseMoney("3000"),
		PerfSalary: generic.MustParseMoney("0"),
		ValidFrom:  generic.MustParseDate("2024-01-01"),
	}
	require.NoError(t, s.InsertCompensation(ctx, c))
	month := generic.MustParseDate("2024-01-01")
	r := &payroll.PayrollRun{
		OrgID: 1, EmployeeID: 7, PayrollMonth: month, PeriodStart: month, PeriodEnd: month.EndOfMonth(),
		Status: payroll.StatusDraft, Snapshot: []byte(`{}`),
	}
	require.NoError(t, s.InsertRun(ctx, r))
	require.NoError(t, s.AppendAudit(ctx, &payroll.AuditEntry{
		OrgID: 1, EntityType: payroll.EntityPayrollRun, EntityID: r.ID, Action: payroll.AuditCreate,
	}))
	for _, table := range []string{"compensations", "payroll_runs", "audit_log"} {
		_, err := s.db.ExecContext(ctx, `UPDATE `+table+` SET created_at = 'not-a-time'`)
		require.NoError(t, err, table)
	}

	// WHEN / THEN: reads fail instead of returning zero times
	_, err = s.CompensationHistory(ctx, 7, payroll.HistoryFilter{})
	assert.ErrorContains(t, err, "corrupt timestamp")

	_, err = s.GetRun(ctx, r.ID)
	assert.ErrorContains(t, err, "corrupt timestamp")

	_, err = s.QueryAudit(ctx, payroll.AuditFilter{})
	assert.ErrorContains(t, err, "corrupt timestamp")
}
