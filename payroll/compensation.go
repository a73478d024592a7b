/*
compensation.go - Interval closure algorithm

PURPOSE:
  Adds a compensation interval starting at D while keeping each employee's
  timeline free of overlaps, with at most one open-ended interval.

ALGORITHM (under lock:compensation:user:{employee}, inside one transaction):
  1. Find intervals with valid_from <= D and (valid_to >= D or open).
  2. Open match starting before D: close it at D (no gap, no overlap).
  3. Bounded match, or an open match starting exactly at D: Conflict.
  4. Insert the new interval. It is open-ended unless a later interval
     already exists (backdated insert), in which case it ends where that
     later interval begins.
  5. Audit entry in the same transaction; event after commit.

EXAMPLE:
  A = [2024-01-01, open)        insert B from 2024-01-16
  A = [2024-01-01, 2024-01-16)  B = [2024-01-16, open)
*/
package payroll

import (
	"context"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/warp/payroll-engine/events"
	"github.com/warp/payroll-engine/generic"
	"github.com/warp/payroll-engine/lock"
)

// MaxReasonLength bounds the free-text reason.
const MaxReasonLength = 200

func validateCompensation(in CreateCompensationInput) error {
	if err := validateID("org_id", in.OrgID); err != nil {
		return err
	}
	if err := validateID("user_id", in.EmployeeID); err != nil {
		return err
	}
	if err := validateNonNegative("base_salary", in.BaseSalary); err != nil {
		return err
	}
	if err := validateNonNegative("perf_salary", in.PerfSalary); err != nil {
		return err
	}
	if err := validateDate("valid_from", in.ValidFrom); err != nil {
		return err
	}
	if utf8.RuneCountInString(in.Reason) > MaxReasonLength {
		return &generic.ValidationError{Field: "reason", Message: "must be at most 200 characters"}
	}
	return nil
}

// CreateCompensation runs the closure algorithm and returns the new interval.
func (e *Engine) CreateCompensation(ctx context.Context, in CreateCompensationInput) (*Compensation, error) {
	if err := validateCompensation(in); err != nil {
		return nil, err
	}
	if e.users != nil {
		if _, err := e.users.Validate(ctx, in.EmployeeID, in.OrgID); err != nil {
			return nil, err
		}
	}

	type outcome struct {
		created *Compensation
		closed  *Compensation
	}

	key := lock.CompensationKey(in.EmployeeID)
	out, err := lock.Do(ctx, e.locker, key, e.cfg.CompensationLock, func(ctx context.Context) (outcome, error) {
		var o outcome
		err := e.store.WithTx(ctx, func(tx Store) error {
			created, closed, err := closeAndInsert(ctx, tx, in)
			if err != nil {
				return err
			}

			diff := map[string]any{"created": in}
			if closed != nil {
				diff["closed"] = map[string]any{"comp_id": closed.ID, "valid_to": closed.ValidTo}
			}
			if err := tx.AppendAudit(ctx, &AuditEntry{
				OrgID:      in.OrgID,
				ActorID:    in.OperatorID,
				EntityType: EntityCompensation,
				EntityID:   created.ID,
				Action:     AuditCreate,
				Diff:       diff,
				RequestID:  RequestIDFrom(ctx),
				CreatedAt:  e.cfg.Now(),
			}); err != nil {
				return err
			}
			o = outcome{created: created, closed: closed}
			return nil
		})
		return o, storeErr("create compensation", err)
	})
	if err != nil {
		return nil, err
	}

	logFields := []zap.Field{
		zap.Int64("comp_id", out.created.ID),
		zap.Int64("user_id", in.EmployeeID),
		zap.String("valid_from", in.ValidFrom.String()),
	}
	payload := map[string]any{"compensation": out.created}
	if out.closed != nil {
		payload["closed_comp_id"] = out.closed.ID
		logFields = append(logFields, zap.Int64("closed_comp_id", out.closed.ID))
	}
	e.logger.Info("compensation created", logFields...)
	e.publish(ctx, events.New(events.TypeCompensationCreated, events.AggregateCompensation, out.created.ID, in.OrgID, payload))

	return out.created, nil
}

// closeAndInsert is steps 1-4. It must run under the employee lock and
// inside a transaction; the caller owns both.
func closeAndInsert(ctx context.Context, tx Store, in CreateCompensationInput) (created, closed *Compensation, err error) {
	d := in.ValidFrom

	matches, err := tx.CompensationsAt(ctx, in.EmployeeID, d)
	if err != nil {
		return nil, nil, err
	}

	var open *Compensation
	for i := range matches {
		m := matches[i]
		if !m.IsOpen() || m.ValidFrom.Equal(d) || open != nil {
			return nil, nil, &generic.OverlapError{
				EmployeeID:   in.EmployeeID,
				ValidFrom:    d,
				ExistingID:   m.ID,
				ExistingFrom: m.ValidFrom,
				ExistingTo:   m.ValidTo,
			}
		}
		open = &m
	}

	if open != nil {
		if err := tx.CloseCompensation(ctx, open.ID, d); err != nil {
			return nil, nil, err
		}
		to := d
		open.ValidTo = &to
	}

	c := &Compensation{
		OrgID:      in.OrgID,
		EmployeeID: in.EmployeeID,
		BaseSalary: in.BaseSalary,
		PerfSalary: in.PerfSalary,
		ValidFrom:  d,
		Reason:     in.Reason,
		CreatedBy:  in.OperatorID,
	}

	// Backdated: bound the new interval at the next known start.
	if open == nil {
		next, err := tx.NextCompensation(ctx, in.EmployeeID, d)
		if err != nil {
			return nil, nil, err
		}
		if next != nil {
			to := next.ValidFrom
			c.ValidTo = &to
		}
	}

	if err := tx.InsertCompensation(ctx, c); err != nil {
		return nil, nil, err
	}
	return c, open, nil
}

// GetEffectiveCompensation returns the salary in force on date, or nil when
// no interval covers it.
func (e *Engine) GetEffectiveCompensation(ctx context.Context, employeeID int64, date generic.Date) (*EffectiveCompensation, error) {
	if err := validateID("user_id", employeeID); err != nil {
		return nil, err
	}
	if err := validateDate("date", date); err != nil {
		return nil, err
	}

	c, err := e.store.EffectiveCompensation(ctx, employeeID, date)
	if err != nil {
		return nil, storeErr("effective compensation", err)
	}
	if c == nil {
		return nil, nil
	}
	return &EffectiveCompensation{
		EmployeeID:   employeeID,
		Date:         date,
		BaseSalary:   c.BaseSalary,
		PerfSalary:   c.PerfSalary,
		SourceCompID: c.ID,
	}, nil
}

// CompensationHistory lists intervals newest first.
func (e *Engine) CompensationHistory(ctx context.Context, employeeID int64, f HistoryFilter) ([]Compensation, error) {
	if err := validateID("user_id", employeeID); err != nil {
		return nil, err
	}
	if f.From != nil && f.To != nil && f.To.Before(*f.From) {
		return nil, &generic.ValidationError{Field: "to", Message: "must not be before from"}
	}
	comps, err := e.store.CompensationHistory(ctx, employeeID, f)
	if err != nil {
		return nil, storeErr("compensation history", err)
	}
	return comps, nil
}
