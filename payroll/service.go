/*
service.go - Payroll engine entry point

PURPOSE:
  Engine wires the compensation store, the distributed lock, the user
  directory and the event publisher into the operations exposed to
  callers. Each operation lives in its own file:

    compensation.go  CreateCompensation, GetEffectiveCompensation, CompensationHistory
    proration.go     Prorate (pure), PreviewMonthlyPayroll
    run.go           GeneratePayrollRun, UpdatePayrollRunStatus, runs queries
    batch.go         GenerateBatch

CONCURRENCY:
  Writers are serialized by lock key, then made atomic by a storage
  transaction. Reads are never lock-guarded.

    lock:compensation:user:{employee}     CreateCompensation
    lock:payroll:run:{employee}:{month}   GeneratePayrollRun
    lock:payroll:month:{org}:{month}      GenerateBatch

SEE ALSO:
  - instrument.go: logging + metrics wrapper around Service
  - lock/lock.go: Do / WithLock
*/
package payroll

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/warp/payroll-engine/events"
	"github.com/warp/payroll-engine/generic"
	"github.com/warp/payroll-engine/lock"
)

// Service is the set of payroll operations exposed to the HTTP layer and
// the batch scheduler.
type Service interface {
	CreateCompensation(ctx context.Context, in CreateCompensationInput) (*Compensation, error)
	GetEffectiveCompensation(ctx context.Context, employeeID int64, date generic.Date) (*EffectiveCompensation, error)
	CompensationHistory(ctx context.Context, employeeID int64, f HistoryFilter) ([]Compensation, error)

	PreviewMonthlyPayroll(ctx context.Context, employeeID int64, month generic.Date) (*ProrationResult, error)
	GeneratePayrollRun(ctx context.Context, in GenerateRunInput) (*PayrollRun, error)
	GenerateBatch(ctx context.Context, in BatchInput) (*BatchResult, error)
	UpdatePayrollRunStatus(ctx context.Context, runID int64, action RunAction, actorID int64) (*PayrollRun, error)
	GetPayrollRun(ctx context.Context, runID int64) (*PayrollRun, error)
	ListPayrollRuns(ctx context.Context, f RunFilter) ([]PayrollRun, error)

	AuditTrail(ctx context.Context, f AuditFilter) ([]AuditEntry, error)
}

// =============================================================================
// CONFIG
// =============================================================================

// Config holds the lock budgets of each critical section.
type Config struct {
	CompensationLock lock.Options
	RunLock          lock.Options
	BatchLock        lock.Options

	// Now is the clock used for snapshots and status timestamps.
	Now func() time.Time
}

// DefaultConfig: 30s/3 retries for single writes, 60s/2 retries with lease
// renewal for batches.
func DefaultConfig() Config {
	return Config{
		CompensationLock: lock.Options{TTL: 30 * time.Second, MaxRetries: 3, RetryDelay: lock.DefaultRetryDelay},
		RunLock:          lock.Options{TTL: 30 * time.Second, MaxRetries: 3, RetryDelay: lock.DefaultRetryDelay},
		BatchLock:        lock.Options{TTL: 60 * time.Second, MaxRetries: 2, RetryDelay: lock.DefaultRetryDelay, AutoExtend: true},
		Now:              func() time.Time { return time.Now().UTC() },
	}
}

// =============================================================================
// ENGINE
// =============================================================================

// Deps are the collaborators of an Engine. Users and Events are optional.
type Deps struct {
	Store  TxStore
	Locker lock.Locker
	Users  UserLookup
	Events events.Publisher
	Logger *zap.Logger
	Config *Config
}

// Engine implements Service.
type Engine struct {
	store  TxStore
	locker lock.Locker
	users  UserLookup
	events events.Publisher
	logger *zap.Logger
	cfg    Config
}

var _ Service = (*Engine)(nil)

func NewEngine(d Deps) *Engine {
	cfg := DefaultConfig()
	if d.Config != nil {
		cfg = *d.Config
		if cfg.Now == nil {
			cfg.Now = DefaultConfig().Now
		}
	}
	e := &Engine{
		store:  d.Store,
		locker: d.Locker,
		users:  d.Users,
		events: d.Events,
		logger: d.Logger,
		cfg:    cfg,
	}
	if e.events == nil {
		e.events = events.Nop{}
	}
	if e.logger == nil {
		e.logger = zap.NewNop()
	}
	return e
}

// publish is fire-and-forget: the primary write already committed.
func (e *Engine) publish(ctx context.Context, ev events.Event) {
	if err := e.events.Publish(ctx, ev); err != nil {
		e.logger.Warn("event publish failed",
			zap.String("event_type", ev.Type),
			zap.String("aggregate_id", ev.AggregateID),
			zap.Error(err),
		)
	}
}

// AuditTrail returns audit entries matching f, oldest first.
func (e *Engine) AuditTrail(ctx context.Context, f AuditFilter) ([]AuditEntry, error) {
	entries, err := e.store.QueryAudit(ctx, f)
	if err != nil {
		return nil, storeErr("query audit", err)
	}
	return entries, nil
}

// storeErr passes classified errors through and turns anything else coming
// out of the store into an Unavailable error.
func storeErr(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	switch {
	case generic.IsConflict(err), generic.IsNotFound(err), generic.IsValidation(err),
		generic.IsInvalidTransition(err), generic.IsUnavailable(err):
		return err
	}
	return generic.Unavailable(op, err)
}

func validateID(field string, id int64) error {
	if id <= 0 {
		return &generic.ValidationError{Field: field, Message: "must be a positive id"}
	}
	return nil
}

func validateNonNegative(field string, m generic.Money) error {
	if m.LessThan(zero) {
		return &generic.ValidationError{Field: field, Message: "must be >= 0"}
	}
	return nil
}

func validateDate(field string, d generic.Date) error {
	if d.IsZero() {
		return &generic.ValidationError{Field: field, Message: "is required"}
	}
	return nil
}
