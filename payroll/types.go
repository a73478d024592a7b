package payroll

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/payroll-engine/generic"
)

// =============================================================================
// COMPENSATION INTERVAL
// =============================================================================

// Compensation is one time-bounded salary record for one employee.
//
// INVARIANTS (per employee):
//   - at most one interval has ValidTo == nil
//   - ValidFrom < *ValidTo whenever ValidTo is set
//   - no two intervals overlap on [ValidFrom, ValidTo)
type Compensation struct {
	ID         int64         `json:"comp_id"`
	OrgID      int64         `json:"org_id"`
	EmployeeID int64         `json:"user_id"`
	BaseSalary generic.Money `json:"base_salary"`
	PerfSalary generic.Money `json:"perf_salary"`
	ValidFrom  generic.Date  `json:"valid_from"`
	ValidTo    *generic.Date `json:"valid_to"`
	Reason     string        `json:"reason,omitempty"`
	CreatedBy  int64         `json:"created_by"`
	CreatedAt  time.Time     `json:"created_at"`
}

// Interval returns the half-open validity range.
func (c Compensation) Interval() generic.Interval {
	return generic.Interval{From: c.ValidFrom, To: c.ValidTo}
}

// IsOpen reports whether this is the currently active interval.
func (c Compensation) IsOpen() bool { return c.ValidTo == nil }

// Total is base + performance salary.
func (c Compensation) Total() generic.Money { return c.BaseSalary.Add(c.PerfSalary) }

// EffectiveCompensation is the salary in force on one date.
type EffectiveCompensation struct {
	EmployeeID   int64         `json:"user_id"`
	Date         generic.Date  `json:"date"`
	BaseSalary   generic.Money `json:"base_salary"`
	PerfSalary   generic.Money `json:"perf_salary"`
	SourceCompID int64         `json:"source_comp_id"`
}

// CreateCompensationInput is the request to add an interval starting ValidFrom.
type CreateCompensationInput struct {
	OrgID      int64         `json:"org_id"`
	EmployeeID int64         `json:"user_id"`
	BaseSalary generic.Money `json:"base_salary"`
	PerfSalary generic.Money `json:"perf_salary"`
	ValidFrom  generic.Date  `json:"valid_from"`
	Reason     string        `json:"reason,omitempty"`
	OperatorID int64         `json:"operator_id"`
}

// HistoryFilter bounds a compensation history query on valid_from.
type HistoryFilter struct {
	From *generic.Date
	To   *generic.Date
}

// =============================================================================
// PAYROLL RUN - State machine draft -> confirmed -> paid
// =============================================================================

type RunStatus string

const (
	StatusDraft     RunStatus = "draft"
	StatusConfirmed RunStatus = "confirmed"
	StatusPaid      RunStatus = "paid"
)

type RunAction string

const (
	ActionConfirm RunAction = "confirm"
	ActionPay     RunAction = "pay"
)

// ParseRunAction validates an action string.
func ParseRunAction(s string) (RunAction, error) {
	switch RunAction(s) {
	case ActionConfirm, ActionPay:
		return RunAction(s), nil
	}
	return "", &generic.ValidationError{Field: "action", Message: "must be one of confirm, pay"}
}

// Apply returns the status reached by action, or false when the edge does
// not exist. Only draft -confirm-> confirmed and confirmed -pay-> paid.
func (s RunStatus) Apply(action RunAction) (RunStatus, bool) {
	switch {
	case s == StatusDraft && action == ActionConfirm:
		return StatusConfirmed, true
	case s == StatusConfirmed && action == ActionPay:
		return StatusPaid, true
	}
	return s, false
}

// PayrollRun is one persisted computation of an employee's pay for a month.
// Natural key: (EmployeeID, PayrollMonth).
type PayrollRun struct {
	ID           int64           `json:"run_id"`
	OrgID        int64           `json:"org_id"`
	EmployeeID   int64           `json:"user_id"`
	PayrollMonth generic.Date    `json:"payroll_month"`
	PeriodStart  generic.Date    `json:"period_start"`
	PeriodEnd    generic.Date    `json:"period_end"`
	DaysInMonth  int             `json:"days_in_month"`
	DaysCovered  int             `json:"days_covered"`
	BaseAmount   generic.Money   `json:"base_amount"`
	PerfAmount   generic.Money   `json:"perf_amount"`
	Allowances   generic.Money   `json:"allowances"`
	Deductions   generic.Money   `json:"deductions"`
	GrossAmount  generic.Money   `json:"gross_amount"`
	TaxAmount    generic.Money   `json:"tax_amount"`
	NetAmount    generic.Money   `json:"net_amount"`
	Status       RunStatus       `json:"status"`
	Snapshot     json.RawMessage `json:"snapshot_json"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

// UpdateAmounts derives gross = base + perf + allowances - deductions and
// net = gross - tax.
func (r *PayrollRun) UpdateAmounts() {
	r.GrossAmount = r.BaseAmount.Add(r.PerfAmount).Add(r.Allowances).Sub(r.Deductions)
	r.NetAmount = r.GrossAmount.Sub(r.TaxAmount)
}

// GenerateRunInput is the request to create a draft run.
type GenerateRunInput struct {
	OrgID      int64         `json:"org_id"`
	EmployeeID int64         `json:"user_id"`
	Month      generic.Date  `json:"month"`
	Allowances generic.Money `json:"allowances"`
	Deductions generic.Money `json:"deductions"`
	ActorID    int64         `json:"actor_id"`
}

// RunFilter selects runs of one org.
type RunFilter struct {
	OrgID      int64
	EmployeeID *int64
	Month      *generic.Date
}

// RunSnapshot is frozen into every run. It must be enough to reconstruct
// the computation without re-reading mutable state.
//
// CompensationsUsed are the intervals overlapping the month;
// CompensationHistory is the employee's whole timeline at calculation time.
type RunSnapshot struct {
	CalculationDate     time.Time       `json:"calculation_date"`
	CompensationsUsed   []Compensation  `json:"compensations_used"`
	CompensationHistory []Compensation  `json:"compensation_history"`
	CalculationDetails  ProrationResult `json:"calculation_details"`
	Inputs              SnapshotInputs  `json:"inputs"`
}

type SnapshotInputs struct {
	Allowances generic.Money `json:"allowances"`
	Deductions generic.Money `json:"deductions"`
	TaxAmount  generic.Money `json:"tax_amount"`
}

// =============================================================================
// PRORATION
// =============================================================================

// ProrationResult is the day-weighted pay for one employee and month.
type ProrationResult struct {
	EmployeeID  int64           `json:"user_id"`
	Month       generic.Date    `json:"month"`
	DaysInMonth int             `json:"days_in_month"`
	DaysCovered int             `json:"days_covered"`
	BaseAmount  generic.Money   `json:"base_amount"`
	PerfAmount  generic.Money   `json:"perf_amount"`
	Lines       []ProrationLine `json:"lines"`
}

// ProrationLine is one interval's unrounded contribution.
type ProrationLine struct {
	CompID      int64         `json:"comp_id"`
	ValidFrom   generic.Date  `json:"valid_from"`
	ValidTo     *generic.Date `json:"valid_to"`
	DaysInRange int           `json:"days_in_range"`
	BaseSalary  generic.Money `json:"base_salary"`
	PerfSalary  generic.Money `json:"perf_salary"`
	BasePart    generic.Money `json:"base_part"`
	PerfPart    generic.Money `json:"perf_part"`
}

// =============================================================================
// BATCH
// =============================================================================

// BatchFilter narrows the employees of a batch.
type BatchFilter struct {
	CampusIDs        []int64 `json:"campus_ids,omitempty"`
	EmploymentStatus string  `json:"employment_status,omitempty"`
}

type BatchInput struct {
	OrgID   int64        `json:"org_id"`
	Month   generic.Date `json:"month"`
	Filter  BatchFilter  `json:"filter"`
	ActorID int64        `json:"actor_id"`
}

type BatchResult struct {
	BatchID   string         `json:"batch_id"`
	Month     generic.Date   `json:"month"`
	Submitted bool           `json:"submitted"`
	Estimated int            `json:"estimated"`
	Generated int            `json:"generated"`
	Skipped   int            `json:"skipped"`
	RunIDs    []int64        `json:"run_ids"`
	Failed    []BatchFailure `json:"failed,omitempty"`
}

type BatchFailure struct {
	EmployeeID int64  `json:"user_id"`
	Reason     string `json:"reason"`
}

// =============================================================================
// AUDIT LOG - Separate from the payroll tables, tracks who did what when
// =============================================================================

type EntityType string

const (
	EntityCompensation EntityType = "user_compensation"
	EntityPayrollRun   EntityType = "payroll_run"
)

type AuditAction string

const (
	AuditCreate AuditAction = "create"
	AuditUpdate AuditAction = "update"
)

// AuditEntry is append-only.
type AuditEntry struct {
	ID         int64          `json:"id"`
	OrgID      int64          `json:"org_id"`
	ActorID    int64          `json:"actor_user_id"`
	EntityType EntityType     `json:"entity_type"`
	EntityID   int64          `json:"entity_id"`
	Action     AuditAction    `json:"action"`
	Diff       map[string]any `json:"diff_json"`
	RequestID  string         `json:"request_id,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`
}

type AuditFilter struct {
	OrgID      *int64
	EntityType *EntityType
	EntityID   *int64
	ActorID    *int64
}

// zero is a shorthand for decimal.Zero.
var zero = decimal.Zero
