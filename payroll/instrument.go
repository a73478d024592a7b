/*
instrument.go - Logging and metrics around every Service operation

PURPOSE:
  Observability is applied by wrapping, not by the operations themselves:
  Instrument(svc, logger, metrics) returns a Service that times each call,
  counts it by outcome, and logs failures with their error category.

OUTCOMES:
  ok | conflict | not_found | invalid_transition | validation | unavailable | error

METRICS:
  payroll_operations_total{operation, outcome}
  payroll_operation_duration_seconds{operation}
*/
package payroll

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"

	"github.com/warp/payroll-engine/generic"
)

// Metrics are registered against the registry passed to NewMetrics.
type Metrics struct {
	Operations *prometheus.CounterVec
	Duration   *prometheus.HistogramVec
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Operations: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "payroll",
			Name:      "operations_total",
			Help:      "Payroll operations by outcome.",
		}, []string{"operation", "outcome"}),
		Duration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "payroll",
			Name:      "operation_duration_seconds",
			Help:      "Payroll operation latency.",
			Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		}, []string{"operation"}),
	}
}

// Outcome classifies err for metrics and logs.
func Outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case generic.IsConflict(err):
		return "conflict"
	case generic.IsNotFound(err):
		return "not_found"
	case generic.IsInvalidTransition(err):
		return "invalid_transition"
	case generic.IsValidation(err):
		return "validation"
	case generic.IsUnavailable(err):
		return "unavailable"
	}
	return "error"
}

type instrumented struct {
	next    Service
	logger  *zap.Logger
	metrics *Metrics
}

// Instrument wraps svc. metrics may be nil.
func Instrument(svc Service, logger *zap.Logger, metrics *Metrics) Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &instrumented{next: svc, logger: logger, metrics: metrics}
}

func (s *instrumented) observe(ctx context.Context, op string, start time.Time, err error, fields ...zap.Field) {
	outcome := Outcome(err)
	elapsed := time.Since(start)
	if s.metrics != nil {
		s.metrics.Operations.WithLabelValues(op, outcome).Inc()
		s.metrics.Duration.WithLabelValues(op).Observe(elapsed.Seconds())
	}
	if err == nil {
		return
	}

	fields = append(fields,
		zap.String("operation", op),
		zap.String("outcome", outcome),
		zap.Duration("duration", elapsed),
		zap.Error(err),
	)
	if id := RequestIDFrom(ctx); id != "" {
		fields = append(fields, zap.String("request_id", id))
	}
	// Client-side outcomes are expected traffic.
	if outcome == "unavailable" || outcome == "error" {
		s.logger.Error("payroll operation failed", fields...)
		return
	}
	s.logger.Info("payroll operation rejected", fields...)
}

func (s *instrumented) CreateCompensation(ctx context.Context, in CreateCompensationInput) (c *Compensation, err error) {
	defer func(start time.Time) {
		s.observe(ctx, "create_compensation", start, err, zap.Int64("user_id", in.EmployeeID))
	}(time.Now())
	return s.next.CreateCompensation(ctx, in)
}

func (s *instrumented) GetEffectiveCompensation(ctx context.Context, employeeID int64, date generic.Date) (c *EffectiveCompensation, err error) {
	defer func(start time.Time) {
		s.observe(ctx, "effective_compensation", start, err, zap.Int64("user_id", employeeID))
	}(time.Now())
	return s.next.GetEffectiveCompensation(ctx, employeeID, date)
}

func (s *instrumented) CompensationHistory(ctx context.Context, employeeID int64, f HistoryFilter) (c []Compensation, err error) {
	defer func(start time.Time) {
		s.observe(ctx, "compensation_history", start, err, zap.Int64("user_id", employeeID))
	}(time.Now())
	return s.next.CompensationHistory(ctx, employeeID, f)
}

func (s *instrumented) PreviewMonthlyPayroll(ctx context.Context, employeeID int64, month generic.Date) (p *ProrationResult, err error) {
	defer func(start time.Time) {
		s.observe(ctx, "preview_payroll", start, err, zap.Int64("user_id", employeeID), zap.String("month", month.MonthKey()))
	}(time.Now())
	return s.next.PreviewMonthlyPayroll(ctx, employeeID, month)
}

func (s *instrumented) GeneratePayrollRun(ctx context.Context, in GenerateRunInput) (r *PayrollRun, err error) {
	defer func(start time.Time) {
		s.observe(ctx, "generate_run", start, err, zap.Int64("user_id", in.EmployeeID), zap.String("month", in.Month.MonthKey()))
	}(time.Now())
	return s.next.GeneratePayrollRun(ctx, in)
}

func (s *instrumented) GenerateBatch(ctx context.Context, in BatchInput) (r *BatchResult, err error) {
	defer func(start time.Time) {
		s.observe(ctx, "generate_batch", start, err, zap.Int64("org_id", in.OrgID), zap.String("month", in.Month.MonthKey()))
	}(time.Now())
	return s.next.GenerateBatch(ctx, in)
}

func (s *instrumented) UpdatePayrollRunStatus(ctx context.Context, runID int64, action RunAction, actorID int64) (r *PayrollRun, err error) {
	defer func(start time.Time) {
		s.observe(ctx, "update_run_status", start, err, zap.Int64("run_id", runID), zap.String("action", string(action)))
	}(time.Now())
	return s.next.UpdatePayrollRunStatus(ctx, runID, action, actorID)
}

func (s *instrumented) GetPayrollRun(ctx context.Context, runID int64) (r *PayrollRun, err error) {
	defer func(start time.Time) {
		s.observe(ctx, "get_run", start, err, zap.Int64("run_id", runID))
	}(time.Now())
	return s.next.GetPayrollRun(ctx, runID)
}

func (s *instrumented) ListPayrollRuns(ctx context.Context, f RunFilter) (r []PayrollRun, err error) {
	defer func(start time.Time) {
		s.observe(ctx, "list_runs", start, err, zap.Int64("org_id", f.OrgID))
	}(time.Now())
	return s.next.ListPayrollRuns(ctx, f)
}

func (s *instrumented) AuditTrail(ctx context.Context, f AuditFilter) (a []AuditEntry, err error) {
	defer func(start time.Time) {
		s.observe(ctx, "audit_trail", start, err)
	}(time.Now())
	return s.next.AuditTrail(ctx, f)
}
