/*
run.go - Payroll run generation and the run state machine

GENERATE (under lock:payroll:run:{employee}:{month}):
  1. Reject if (employee, month) already has a run         -> Conflict
  2. Prorate the month; zero coverage propagates          -> NotFound
  3. gross = base + perf + allowances - deductions, net = gross - tax
  4. Insert a draft run with its snapshot, audit 'create' -> one transaction
  5. Publish payroll_run.generated after commit

  Nothing is written until every check has passed. The unique index on
  (employee_id, payroll_month) backstops step 1.

STATE MACHINE:
  draft --confirm--> confirmed --pay--> paid

  Anything else is InvalidTransition. The store update is conditional on
  the status we read, so two concurrent confirms produce one success and
  one ErrConcurrentModification.
*/
package payroll

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"github.com/warp/payroll-engine/events"
	"github.com/warp/payroll-engine/generic"
	"github.com/warp/payroll-engine/lock"
)

func validateRunInput(in GenerateRunInput) error {
	if err := validateID("org_id", in.OrgID); err != nil {
		return err
	}
	if err := validateID("user_id", in.EmployeeID); err != nil {
		return err
	}
	if err := validateDate("month", in.Month); err != nil {
		return err
	}
	if err := validateNonNegative("allowances", in.Allowances); err != nil {
		return err
	}
	return validateNonNegative("deductions", in.Deductions)
}

// GeneratePayrollRun creates a draft run for one employee and month.
func (e *Engine) GeneratePayrollRun(ctx context.Context, in GenerateRunInput) (*PayrollRun, error) {
	if err := validateRunInput(in); err != nil {
		return nil, err
	}
	if e.users != nil {
		if _, err := e.users.Validate(ctx, in.EmployeeID, in.OrgID); err != nil {
			return nil, err
		}
	}
	return e.generateRun(ctx, in)
}

// generateRun assumes in is valid.
func (e *Engine) generateRun(ctx context.Context, in GenerateRunInput) (*PayrollRun, error) {
	in.Month = in.Month.StartOfMonth()

	key := lock.PayrollRunKey(in.EmployeeID, in.Month)
	run, err := lock.Do(ctx, e.locker, key, e.cfg.RunLock, func(ctx context.Context) (*PayrollRun, error) {
		existing, err := e.store.FindRun(ctx, in.EmployeeID, in.Month)
		if err != nil {
			return nil, storeErr("find run", err)
		}
		if existing != nil {
			return nil, &generic.DuplicateRunError{EmployeeID: in.EmployeeID, Month: in.Month, ExistingRunID: existing.ID}
		}

		used, err := e.store.CompensationsOverlapping(ctx, in.EmployeeID, generic.MonthPeriod(in.Month))
		if err != nil {
			return nil, storeErr("load compensations", err)
		}
		proration, err := Prorate(in.EmployeeID, in.Month, used)
		if err != nil {
			return nil, err
		}
		history, err := e.store.CompensationHistory(ctx, in.EmployeeID, HistoryFilter{})
		if err != nil {
			return nil, storeErr("load compensation history", err)
		}

		run, err := e.buildRun(in, proration, used, history)
		if err != nil {
			return nil, err
		}

		err = e.store.WithTx(ctx, func(tx Store) error {
			if err := tx.InsertRun(ctx, run); err != nil {
				return err
			}
			return tx.AppendAudit(ctx, &AuditEntry{
				OrgID:      in.OrgID,
				ActorID:    in.ActorID,
				EntityType: EntityPayrollRun,
				EntityID:   run.ID,
				Action:     AuditCreate,
				Diff:       map[string]any{"created": in},
				RequestID:  RequestIDFrom(ctx),
				CreatedAt:  run.CreatedAt,
			})
		})
		if err != nil {
			return nil, storeErr("insert run", err)
		}
		return run, nil
	})
	if err != nil {
		return nil, err
	}

	e.logger.Info("payroll run generated",
		zap.Int64("run_id", run.ID),
		zap.Int64("user_id", run.EmployeeID),
		zap.String("month", run.PayrollMonth.MonthKey()),
		zap.String("gross", generic.FormatMoney(run.GrossAmount)),
	)
	e.publish(ctx, events.New(events.TypeRunGenerated, events.AggregatePayrollRun, run.ID, run.OrgID, map[string]any{
		"user_id":       run.EmployeeID,
		"payroll_month": run.PayrollMonth,
		"status":        run.Status,
		"gross_amount":  run.GrossAmount,
		"net_amount":    run.NetAmount,
	}))
	return run, nil
}

// buildRun freezes used (the intervals overlapping the month) and the full
// history into the snapshot.
func (e *Engine) buildRun(in GenerateRunInput, p *ProrationResult, used, history []Compensation) (*PayrollRun, error) {
	now := e.cfg.Now()
	period := generic.MonthPeriod(in.Month)

	run := &PayrollRun{
		OrgID:        in.OrgID,
		EmployeeID:   in.EmployeeID,
		PayrollMonth: period.Start,
		PeriodStart:  period.Start,
		PeriodEnd:    period.End,
		DaysInMonth:  p.DaysInMonth,
		DaysCovered:  p.DaysCovered,
		BaseAmount:   p.BaseAmount,
		PerfAmount:   p.PerfAmount,
		Allowances:   generic.RoundCents(in.Allowances),
		Deductions:   generic.RoundCents(in.Deductions),
		TaxAmount:    zero,
		Status:       StatusDraft,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	run.UpdateAmounts()

	snapshot, err := json.Marshal(RunSnapshot{
		CalculationDate:    now,
		CompensationsUsed:   used,
		CompensationHistory: history,
		CalculationDetails:  *p,
		Inputs: SnapshotInputs{
			Allowances: run.Allowances,
			Deductions: run.Deductions,
			TaxAmount:  run.TaxAmount,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("marshal run snapshot: %w", err)
	}
	run.Snapshot = snapshot
	return run, nil
}

// =============================================================================
// STATUS TRANSITIONS
// =============================================================================

// UpdatePayrollRunStatus applies confirm or pay to a run.
func (e *Engine) UpdatePayrollRunStatus(ctx context.Context, runID int64, action RunAction, actorID int64) (*PayrollRun, error) {
	if err := validateID("run_id", runID); err != nil {
		return nil, err
	}
	if _, err := ParseRunAction(string(action)); err != nil {
		return nil, err
	}

	run, err := e.GetPayrollRun(ctx, runID)
	if err != nil {
		return nil, err
	}

	from := run.Status
	to, ok := from.Apply(action)
	if !ok {
		return nil, &generic.InvalidTransitionError{RunID: runID, From: string(from), Action: string(action)}
	}

	now := e.cfg.Now()
	err = e.store.WithTx(ctx, func(tx Store) error {
		if err := tx.UpdateRunStatus(ctx, runID, from, to, now); err != nil {
			return err
		}
		return tx.AppendAudit(ctx, &AuditEntry{
			OrgID:      run.OrgID,
			ActorID:    actorID,
			EntityType: EntityPayrollRun,
			EntityID:   runID,
			Action:     AuditUpdate,
			Diff:       map[string]any{"previous_status": from, "updated_status": to},
			RequestID:  RequestIDFrom(ctx),
			CreatedAt:  now,
		})
	})
	if err != nil {
		return nil, storeErr("update run status", err)
	}

	run.Status = to
	run.UpdatedAt = now

	e.logger.Info("payroll run status changed",
		zap.Int64("run_id", runID),
		zap.String("from", string(from)),
		zap.String("to", string(to)),
		zap.Int64("actor_id", actorID),
	)
	e.publish(ctx, events.New(events.TypeRunStatusChanged, events.AggregatePayrollRun, runID, run.OrgID, map[string]any{
		"previous_status": from,
		"updated_status":  to,
		"actor_id":        actorID,
	}))
	return run, nil
}

// =============================================================================
// QUERIES
// =============================================================================

func (e *Engine) GetPayrollRun(ctx context.Context, runID int64) (*PayrollRun, error) {
	run, err := e.store.GetRun(ctx, runID)
	if err != nil {
		return nil, storeErr("get run", err)
	}
	if run == nil {
		return nil, fmt.Errorf("run %d: %w", runID, generic.ErrRunNotFound)
	}
	return run, nil
}

func (e *Engine) ListPayrollRuns(ctx context.Context, f RunFilter) ([]PayrollRun, error) {
	if err := validateID("org_id", f.OrgID); err != nil {
		return nil, err
	}
	if f.Month != nil {
		m := f.Month.StartOfMonth()
		f.Month = &m
	}
	runs, err := e.store.ListRuns(ctx, f)
	if err != nil {
		return nil, storeErr("list runs", err)
	}
	return runs, nil
}
