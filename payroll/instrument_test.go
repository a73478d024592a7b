package payroll_test

import (
	"context"
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/warp/payroll-engine/generic"
	"github.com/warp/payroll-engine/payroll"
)

// counterValue reads payroll_operations_total{operation, outcome}.
func counterValue(t *testing.T, reg *prometheus.Registry, operation, outcome string) float64 {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)
	for _, mf := range families {
		if mf.GetName() != "payroll_operations_total" {
			continue
		}
		for _, m := range mf.GetMetric() {
			labels := map[string]string{}
			for _, lp := range m.GetLabel() {
				labels[lp.GetName()] = lp.GetValue()
			}
			if labels["operation"] == operation && labels["outcome"] == outcome {
				return m.GetCounter().GetValue()
			}
		}
	}
	return 0
}

func TestInstrument_CountsOutcomes(t *testing.T) {
	// GIVEN: an instrumented engine
	f := newFixture(t)
	reg := prometheus.NewRegistry()
	core, logs := observer.New(zapcore.InfoLevel)
	svc := payroll.Instrument(f.engine, zap.New(core), payroll.NewMetrics(reg))
	ctx := context.Background()

	// WHEN: one success, one conflict, one validation failure
	f.employ(7)
	_, err := svc.CreateCompensation(ctx, compInput(7, "2024-01-01", "3000", "0"))
	require.NoError(t, err)
	_, err = svc.CreateCompensation(ctx, compInput(7, "2024-01-01", "3000", "0"))
	require.Error(t, err)
	_, err = svc.CreateCompensation(ctx, compInput(0, "2024-01-01", "3000", "0"))
	require.Error(t, err)

	// THEN
	assert.Equal(t, 1.0, counterValue(t, reg, "create_compensation", "ok"))
	assert.Equal(t, 1.0, counterValue(t, reg, "create_compensation", "conflict"))
	assert.Equal(t, 1.0, counterValue(t, reg, "create_compensation", "validation"))

	rejected := logs.FilterMessage("payroll operation rejected").All()
	assert.Len(t, rejected, 2)
	assert.Empty(t, logs.FilterMessage("payroll operation failed").All())
}

func TestInstrument_LogsBackendFailuresAsErrors(t *testing.T) {
	f := newFixture(t, withLocker(downLocker{}))
	core, logs := observer.New(zapcore.InfoLevel)
	svc := payroll.Instrument(f.engine, zap.New(core), nil)
	f.employ(7)

	ctx := payroll.WithRequestID(context.Background(), "req-9")
	_, err := svc.CreateCompensation(ctx, compInput(7, "2024-01-01", "3000", "0"))
	require.Error(t, err)

	failed := logs.FilterMessage("payroll operation failed").All()
	require.Len(t, failed, 1)
	assert.Equal(t, zapcore.ErrorLevel, failed[0].Level)
	fields := failed[0].ContextMap()
	assert.Equal(t, "unavailable", fields["outcome"])
	assert.Equal(t, "req-9", fields["request_id"])
}

func TestInstrument_PassesResultsThrough(t *testing.T) {
	f := newFixture(t)
	svc := payroll.Instrument(f.engine, nil, payroll.NewMetrics(prometheus.NewRegistry()))
	f.employ(7)
	ctx := context.Background()

	c, err := svc.CreateCompensation(ctx, compInput(7, "2024-01-01", "3000", "0"))
	require.NoError(t, err)

	eff, err := svc.GetEffectiveCompensation(ctx, 7, date("2024-06-01"))
	require.NoError(t, err)
	require.NotNil(t, eff)
	assert.Equal(t, c.ID, eff.SourceCompID)

	res, err := svc.PreviewMonthlyPayroll(ctx, 7, date("2024-06-01"))
	require.NoError(t, err)
	assertMoney(t, "3000.00", res.BaseAmount)
}

func TestOutcome(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{nil, "ok"},
		{generic.ErrDuplicateRun, "conflict"},
		{generic.ErrLockNotAcquired, "conflict"},
		{generic.ErrRunNotFound, "not_found"},
		{&generic.InvalidTransitionError{From: "paid", Action: "confirm"}, "invalid_transition"},
		{&generic.ValidationError{Field: "month", Message: "is required"}, "validation"},
		{generic.Unavailable("ping", errors.New("refused")), "unavailable"},
		{errors.New("boom"), "error"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, payroll.Outcome(tt.err))
	}
}
