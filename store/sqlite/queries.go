package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/warp/payroll-engine/generic"
	"github.com/warp/payroll-engine/payroll"
)

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// queries holds every statement. It takes no locks.
type queries struct {
	db querier
}

// =============================================================================
// COMPENSATIONS
// =============================================================================

const compensationColumns = `id, org_id, employee_id, base_salary, perf_salary,
	valid_from, valid_to, reason, created_by, created_at`

func (q queries) InsertCompensation(ctx context.Context, c *payroll.Compensation) error {
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}

	res, err := q.db.ExecContext(ctx, `
		INSERT INTO compensations
		(org_id, employee_id, base_salary, perf_salary, valid_from, valid_to, reason, created_by, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		c.OrgID,
		c.EmployeeID,
		c.BaseSalary.String(),
		c.PerfSalary.String(),
		c.ValidFrom.String(),
		nullDate(c.ValidTo),
		nullString(c.Reason),
		c.CreatedBy,
		formatTime(c.CreatedAt),
	)
	if err != nil {
		if isUniqueConstraintError(err, "compensations") {
			return fmt.Errorf("employee %d from %s: %w", c.EmployeeID, c.ValidFrom, generic.ErrOverlappingCompensation)
		}
		return fmt.Errorf("failed to insert compensation: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to read compensation id: %w", err)
	}
	c.ID = id
	return nil
}

func (q queries) CloseCompensation(ctx context.Context, compID int64, validTo generic.Date) error {
	res, err := q.db.ExecContext(ctx,
		`UPDATE compensations SET valid_to = ? WHERE id = ? AND valid_to IS NULL`,
		validTo.String(), compID,
	)
	if err != nil {
		return fmt.Errorf("failed to close compensation %d: %w", compID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to close compensation %d: %w", compID, err)
	}
	if n == 0 {
		return fmt.Errorf("compensation %d is not open: %w", compID, generic.ErrConcurrentModification)
	}
	return nil
}

func (q queries) CompensationsAt(ctx context.Context, employeeID int64, d generic.Date) ([]payroll.Compensation, error) {
	return q.queryCompensations(ctx, `
		SELECT `+compensationColumns+`
		FROM compensations
		WHERE employee_id = ? AND valid_from <= ? AND (valid_to >= ? OR valid_to IS NULL)
		ORDER BY valid_from ASC
	`, employeeID, d.String(), d.String())
}

func (q queries) NextCompensation(ctx context.Context, employeeID int64, d generic.Date) (*payroll.Compensation, error) {
	comps, err := q.queryCompensations(ctx, `
		SELECT `+compensationColumns+`
		FROM compensations
		WHERE employee_id = ? AND valid_from > ?
		ORDER BY valid_from ASC
		LIMIT 1
	`, employeeID, d.String())
	if err != nil || len(comps) == 0 {
		return nil, err
	}
	return &comps[0], nil
}

func (q queries) EffectiveCompensation(ctx context.Context, employeeID int64, d generic.Date) (*payroll.Compensation, error) {
	comps, err := q.queryCompensations(ctx, `
		SELECT `+compensationColumns+`
		FROM compensations
		WHERE employee_id = ? AND valid_from <= ? AND (valid_to > ? OR valid_to IS NULL)
		ORDER BY valid_from DESC
		LIMIT 1
	`, employeeID, d.String(), d.String())
	if err != nil || len(comps) == 0 {
		return nil, err
	}
	return &comps[0], nil
}

func (q queries) CompensationsOverlapping(ctx context.Context, employeeID int64, p generic.Period) ([]payroll.Compensation, error) {
	return q.queryCompensations(ctx, `
		SELECT `+compensationColumns+`
		FROM compensations
		WHERE employee_id = ? AND valid_from <= ? AND (valid_to > ? OR valid_to IS NULL)
		ORDER BY valid_from ASC
	`, employeeID, p.End.String(), p.Start.String())
}

func (q queries) CompensationHistory(ctx context.Context, employeeID int64, f payroll.HistoryFilter) ([]payroll.Compensation, error) {
	query := `SELECT ` + compensationColumns + ` FROM compensations WHERE employee_id = ?`
	args := []any{employeeID}
	if f.From != nil {
		query += ` AND valid_from >= ?`
		args = append(args, f.From.String())
	}
	if f.To != nil {
		query += ` AND valid_from <= ?`
		args = append(args, f.To.String())
	}
	query += ` ORDER BY valid_from DESC`
	return q.queryCompensations(ctx, query, args...)
}

func (q queries) queryCompensations(ctx context.Context, query string, args ...any) ([]payroll.Compensation, error) {
	rows, err := q.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query compensations: %w", err)
	}
	defer rows.Close()

	comps := []payroll.Compensation{}
	for rows.Next() {
		c, err := scanCompensation(rows)
		if err != nil {
			return nil, err
		}
		comps = append(comps, c)
	}
	return comps, rows.Err()
}

func scanCompensation(rows *sql.Rows) (payroll.Compensation, error) {
	var (
		c          payroll.Compensation
		baseSalary string
		perfSalary string
		validFrom  string
		validTo    sql.NullString
		reason     sql.NullString
		createdAt  string
		err        error
	)
	if err = rows.Scan(
		&c.ID, &c.OrgID, &c.EmployeeID, &baseSalary, &perfSalary,
		&validFrom, &validTo, &reason, &c.CreatedBy, &createdAt,
	); err != nil {
		return c, fmt.Errorf("failed to scan compensation: %w", err)
	}

	if c.BaseSalary, err = parseMoney(baseSalary); err != nil {
		return c, err
	}
	if c.PerfSalary, err = parseMoney(perfSalary); err != nil {
		return c, err
	}
	if c.ValidFrom, err = parseDate(validFrom); err != nil {
		return c, err
	}
	if validTo.Valid {
		to, err := parseDate(validTo.String)
		if err != nil {
			return c, err
		}
		c.ValidTo = &to
	}
	c.Reason = reason.String
	if c.CreatedAt, err = parseTime(createdAt); err != nil {
		return c, err
	}
	return c, nil
}

// =============================================================================
// PAYROLL RUNS
// =============================================================================

const runColumns = `id, org_id, employee_id, payroll_month, period_start, period_end,
	days_in_month, days_covered, base_amount, perf_amount, allowances, deductions,
	gross_amount, tax_amount, net_amount, status, snapshot_json, created_at, updated_at`

func (q queries) InsertRun(ctx context.Context, r *payroll.PayrollRun) error {
	now := time.Now().UTC()
	if r.CreatedAt.IsZero() {
		r.CreatedAt = now
	}
	if r.UpdatedAt.IsZero() {
		r.UpdatedAt = r.CreatedAt
	}
	snapshot := string(r.Snapshot)
	if snapshot == "" {
		snapshot = "{}"
	}

	res, err := q.db.ExecContext(ctx, `
		INSERT INTO payroll_runs
		(org_id, employee_id, payroll_month, period_start, period_end, days_in_month, days_covered,
		 base_amount, perf_amount, allowances, deductions, gross_amount, tax_amount, net_amount,
		 status, snapshot_json, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		r.OrgID,
		r.EmployeeID,
		r.PayrollMonth.String(),
		r.PeriodStart.String(),
		r.PeriodEnd.String(),
		r.DaysInMonth,
		r.DaysCovered,
		generic.FormatMoney(r.BaseAmount),
		generic.FormatMoney(r.PerfAmount),
		generic.FormatMoney(r.Allowances),
		generic.FormatMoney(r.Deductions),
		generic.FormatMoney(r.GrossAmount),
		generic.FormatMoney(r.TaxAmount),
		generic.FormatMoney(r.NetAmount),
		string(r.Status),
		snapshot,
		formatTime(r.CreatedAt),
		formatTime(r.UpdatedAt),
	)
	if err != nil {
		if isUniqueConstraintError(err, "payroll_runs") {
			return fmt.Errorf("employee %d month %s: %w", r.EmployeeID, r.PayrollMonth.MonthKey(), generic.ErrDuplicateRun)
		}
		return fmt.Errorf("failed to insert payroll run: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to read payroll run id: %w", err)
	}
	r.ID = id
	return nil
}

func (q queries) GetRun(ctx context.Context, runID int64) (*payroll.PayrollRun, error) {
	runs, err := q.queryRuns(ctx, `SELECT `+runColumns+` FROM payroll_runs WHERE id = ?`, runID)
	if err != nil || len(runs) == 0 {
		return nil, err
	}
	return &runs[0], nil
}

func (q queries) FindRun(ctx context.Context, employeeID int64, month generic.Date) (*payroll.PayrollRun, error) {
	runs, err := q.queryRuns(ctx,
		`SELECT `+runColumns+` FROM payroll_runs WHERE employee_id = ? AND payroll_month = ?`,
		employeeID, month.StartOfMonth().String(),
	)
	if err != nil || len(runs) == 0 {
		return nil, err
	}
	return &runs[0], nil
}

func (q queries) UpdateRunStatus(ctx context.Context, runID int64, from, to payroll.RunStatus, at time.Time) error {
	res, err := q.db.ExecContext(ctx,
		`UPDATE payroll_runs SET status = ?, updated_at = ? WHERE id = ? AND status = ?`,
		string(to), formatTime(at), runID, string(from),
	)
	if err != nil {
		return fmt.Errorf("failed to update payroll run %d: %w", runID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to update payroll run %d: %w", runID, err)
	}
	if n == 0 {
		return fmt.Errorf("run %d is no longer %s: %w", runID, from, generic.ErrConcurrentModification)
	}
	return nil
}

func (q queries) ListRuns(ctx context.Context, f payroll.RunFilter) ([]payroll.PayrollRun, error) {
	query := `SELECT ` + runColumns + ` FROM payroll_runs WHERE org_id = ?`
	args := []any{f.OrgID}
	if f.EmployeeID != nil {
		query += ` AND employee_id = ?`
		args = append(args, *f.EmployeeID)
	}
	if f.Month != nil {
		query += ` AND payroll_month = ?`
		args = append(args, f.Month.StartOfMonth().String())
	}
	query += ` ORDER BY payroll_month DESC, created_at DESC, id DESC`
	return q.queryRuns(ctx, query, args...)
}

func (q queries) queryRuns(ctx context.Context, query string, args ...any) ([]payroll.PayrollRun, error) {
	rows, err := q.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query payroll runs: %w", err)
	}
	defer rows.Close()

	runs := []payroll.PayrollRun{}
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

func scanRun(rows *sql.Rows) (payroll.PayrollRun, error) {
	var (
		r                                  payroll.PayrollRun
		month, periodStart, periodEnd      string
		base, perf, allowances, deductions string
		gross, tax, net                    string
		status, snapshot                   string
		createdAt, updatedAt               string
		err                                error
	)
	if err = rows.Scan(
		&r.ID, &r.OrgID, &r.EmployeeID, &month, &periodStart, &periodEnd,
		&r.DaysInMonth, &r.DaysCovered, &base, &perf, &allowances, &deductions,
		&gross, &tax, &net, &status, &snapshot, &createdAt, &updatedAt,
	); err != nil {
		return r, fmt.Errorf("failed to scan payroll run: %w", err)
	}

	dates := []struct {
		dst *generic.Date
		src string
	}{{&r.PayrollMonth, month}, {&r.PeriodStart, periodStart}, {&r.PeriodEnd, periodEnd}}
	for _, d := range dates {
		if *d.dst, err = parseDate(d.src); err != nil {
			return r, err
		}
	}

	amounts := []struct {
		dst *generic.Money
		src string
	}{
		{&r.BaseAmount, base}, {&r.PerfAmount, perf}, {&r.Allowances, allowances},
		{&r.Deductions, deductions}, {&r.GrossAmount, gross}, {&r.TaxAmount, tax}, {&r.NetAmount, net},
	}
	for _, a := range amounts {
		if *a.dst, err = parseMoney(a.src); err != nil {
			return r, err
		}
	}

	r.Status = payroll.RunStatus(status)
	r.Snapshot = json.RawMessage(snapshot)
	if r.CreatedAt, err = parseTime(createdAt); err != nil {
		return r, err
	}
	if r.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return r, err
	}
	return r, nil
}

// =============================================================================
// AUDIT LOG
// =============================================================================

func (q queries) AppendAudit(ctx context.Context, e *payroll.AuditEntry) error {
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	diff, err := marshalDiff(e.Diff)
	if err != nil {
		return err
	}

	res, err := q.db.ExecContext(ctx, `
		INSERT INTO audit_log
		(org_id, actor_user_id, entity_type, entity_id, action, diff_json, request_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`,
		e.OrgID, e.ActorID, string(e.EntityType), e.EntityID, string(e.Action),
		diff, nullString(e.RequestID), formatTime(e.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to append audit entry: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to read audit id: %w", err)
	}
	e.ID = id
	return nil
}

func (q queries) QueryAudit(ctx context.Context, f payroll.AuditFilter) ([]payroll.AuditEntry, error) {
	var (
		where []string
		args  []any
	)
	if f.OrgID != nil {
		where = append(where, "org_id = ?")
		args = append(args, *f.OrgID)
	}
	if f.EntityType != nil {
		where = append(where, "entity_type = ?")
		args = append(args, string(*f.EntityType))
	}
	if f.EntityID != nil {
		where = append(where, "entity_id = ?")
		args = append(args, *f.EntityID)
	}
	if f.ActorID != nil {
		where = append(where, "actor_user_id = ?")
		args = append(args, *f.ActorID)
	}

	query := `SELECT id, org_id, actor_user_id, entity_type, entity_id, action, diff_json, request_id, created_at FROM audit_log`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY created_at ASC, id ASC`

	rows, err := q.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit log: %w", err)
	}
	defer rows.Close()

	entries := []payroll.AuditEntry{}
	for rows.Next() {
		var (
			e          payroll.AuditEntry
			entityType string
			action     string
			diff       string
			requestID  sql.NullString
			createdAt  string
		)
		if err := rows.Scan(&e.ID, &e.OrgID, &e.ActorID, &entityType, &e.EntityID, &action, &diff, &requestID, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan audit entry: %w", err)
		}
		e.EntityType = payroll.EntityType(entityType)
		e.Action = payroll.AuditAction(action)
		e.RequestID = requestID.String
		if e.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(diff), &e.Diff); err != nil {
			return nil, fmt.Errorf("failed to decode audit diff %d: %w", e.ID, err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
