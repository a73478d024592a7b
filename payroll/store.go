/*
store.go - Persistence interfaces for compensation intervals, runs and audit

PURPOSE:
  Defines the boundary between the payroll engine and the database.
  Different implementations can use SQLite, PostgreSQL, or in-memory storage.

KEY INTERFACES:
  CompensationStore: Interval reads and the two writes the closure needs
  RunStore:          Payroll run persistence with (employee, month) uniqueness
  AuditLog:          Append-only who-did-what-when
  TxStore:           All of the above inside one atomic transaction

APPEND-MOSTLY CONTRACT:
  Compensation intervals are never deleted. The only mutation is closing
  an open interval (setting valid_to) inside the closure transaction.
  Payroll runs are never deleted; only their status moves forward.

DATE SEMANTICS:
  valid_from is inclusive, valid_to exclusive, valid_to NULL means open.

IMPLEMENTATIONS:
  - store/sqlite/sqlite.go: Production SQLite
  - store/memory/memory.go: In-memory for testing

SEE ALSO:
  - compensation.go: Interval closure algorithm (uses CompensationsAt)
  - proration.go: Monthly proration (uses CompensationsOverlapping)
*/
package payroll

import (
	"context"
	"time"

	"github.com/warp/payroll-engine/generic"
)

// =============================================================================
// COMPENSATION STORE
// =============================================================================

type CompensationStore interface {
	// InsertCompensation persists c and assigns c.ID and c.CreatedAt.
	InsertCompensation(ctx context.Context, c *Compensation) error

	// CloseCompensation sets valid_to on an open interval.
	CloseCompensation(ctx context.Context, compID int64, validTo generic.Date) error

	// CompensationsAt returns intervals with valid_from <= d and
	// (valid_to >= d or valid_to is null), ordered by valid_from.
	CompensationsAt(ctx context.Context, employeeID int64, d generic.Date) ([]Compensation, error)

	// NextCompensation returns the earliest interval with valid_from > d, or nil.
	NextCompensation(ctx context.Context, employeeID int64, d generic.Date) (*Compensation, error)

	// EffectiveCompensation returns the interval covering d on [from, to), or nil.
	EffectiveCompensation(ctx context.Context, employeeID int64, d generic.Date) (*Compensation, error)

	// CompensationsOverlapping returns intervals intersecting p:
	// valid_from <= p.End and (valid_to > p.Start or valid_to is null),
	// ordered by valid_from ascending.
	CompensationsOverlapping(ctx context.Context, employeeID int64, p generic.Period) ([]Compensation, error)

	// CompensationHistory returns intervals whose valid_from lies in the
	// filter bounds, newest first.
	CompensationHistory(ctx context.Context, employeeID int64, f HistoryFilter) ([]Compensation, error)
}

// =============================================================================
// RUN STORE
// =============================================================================

type RunStore interface {
	// InsertRun persists r and assigns r.ID. Returns generic.ErrDuplicateRun
	// if (employee, month) already exists.
	InsertRun(ctx context.Context, r *PayrollRun) error

	// GetRun returns nil when the id is unknown.
	GetRun(ctx context.Context, runID int64) (*PayrollRun, error)

	// FindRun returns the run for (employee, month), or nil.
	FindRun(ctx context.Context, employeeID int64, month generic.Date) (*PayrollRun, error)

	// UpdateRunStatus moves a run from one status to another. Returns
	// generic.ErrConcurrentModification if the run is no longer in from.
	UpdateRunStatus(ctx context.Context, runID int64, from, to RunStatus, at time.Time) error

	// ListRuns returns runs newest month first, then newest created.
	ListRuns(ctx context.Context, f RunFilter) ([]PayrollRun, error)
}

// =============================================================================
// AUDIT LOG
// =============================================================================

type AuditLog interface {
	AppendAudit(ctx context.Context, e *AuditEntry) error
	QueryAudit(ctx context.Context, f AuditFilter) ([]AuditEntry, error)
}

// =============================================================================
// TRANSACTIONAL STORE
// =============================================================================

type Store interface {
	CompensationStore
	RunStore
	AuditLog
}

// TxStore wraps Store with transaction support.
type TxStore interface {
	Store

	// WithTx executes fn within a transaction.
	// If fn returns error, transaction is rolled back.
	// If fn returns nil, transaction is committed.
	WithTx(ctx context.Context, fn func(Store) error) error
}
