package payroll

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/warp/payroll-engine/events"
	"github.com/warp/payroll-engine/generic"
	"github.com/warp/payroll-engine/lock"
)

// ErrNoDirectory is returned by GenerateBatch when no UserLookup is wired.
var ErrNoDirectory = errors.New("employee directory not configured")

// BatchID names the batch of one org and month: run-2024-01-org3.
func BatchID(orgID int64, month generic.Date) string {
	return fmt.Sprintf("run-%s-org%d", month.MonthKey(), orgID)
}

// GenerateBatch generates draft runs for every active employee of an org.
//
// The whole batch holds lock:payroll:month:{org}:{month}; a second batch for
// the same org and month fails with Conflict before any employee is touched.
// Per-employee outcomes never abort the batch: an existing run or a month
// without compensation is counted as skipped, anything else as failed.
// If the batch lease is lost the loop stops and the error is returned.
func (e *Engine) GenerateBatch(ctx context.Context, in BatchInput) (*BatchResult, error) {
	if err := validateID("org_id", in.OrgID); err != nil {
		return nil, err
	}
	if err := validateDate("month", in.Month); err != nil {
		return nil, err
	}
	if e.users == nil {
		return nil, generic.Unavailable("generate batch", ErrNoDirectory)
	}
	month := in.Month.StartOfMonth()
	batchID := BatchID(in.OrgID, month)

	key := lock.PayrollMonthKey(in.OrgID, month)
	result, err := lock.Do(ctx, e.locker, key, e.cfg.BatchLock, func(ctx context.Context) (*BatchResult, error) {
		employees, err := e.users.ListActive(ctx, in.OrgID, in.Filter)
		if err != nil {
			return nil, err
		}

		res := &BatchResult{
			BatchID:   batchID,
			Month:     month,
			Submitted: true,
			Estimated: len(employees),
			RunIDs:    []int64{},
		}
		for i, u := range employees {
			if ctx.Err() != nil {
				return nil, fmt.Errorf("batch %s stopped after %d of %d employees: %w",
					batchID, i, len(employees), context.Cause(ctx))
			}

			run, err := e.generateRun(ctx, GenerateRunInput{
				OrgID:      in.OrgID,
				EmployeeID: u.ID,
				Month:      month,
				Allowances: zero,
				Deductions: zero,
				ActorID:    in.ActorID,
			})
			switch {
			case err == nil:
				res.Generated++
				res.RunIDs = append(res.RunIDs, run.ID)
			case generic.IsConflict(err), generic.IsNotFound(err):
				res.Skipped++
				e.logger.Debug("batch employee skipped",
					zap.String("batch_id", batchID), zap.Int64("user_id", u.ID), zap.Error(err))
			default:
				res.Failed = append(res.Failed, BatchFailure{EmployeeID: u.ID, Reason: err.Error()})
				e.logger.Warn("batch employee failed",
					zap.String("batch_id", batchID), zap.Int64("user_id", u.ID), zap.Error(err))
			}
		}
		return res, nil
	})
	if err != nil {
		return nil, err
	}

	e.logger.Info("payroll batch submitted",
		zap.String("batch_id", batchID),
		zap.Int("estimated", result.Estimated),
		zap.Int("generated", result.Generated),
		zap.Int("skipped", result.Skipped),
		zap.Int("failed", len(result.Failed)),
	)
	e.publish(ctx, events.New(events.TypeBatchSubmitted, events.AggregatePayrollBatch, in.OrgID, in.OrgID, result))
	return result, nil
}
