/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. Responses reuse the
  payroll types directly (their json tags are the wire contract); requests
  get their own types because org and actor come from headers, not bodies.

NAMING CONVENTION:
  - *Request: Request body types from clients
  - *Response: Envelope types

ENVELOPE:
  Success: {"data": ...}
  Failure: {"error": "...", "details": "...", "code": "conflict"}

VALIDATION:
  Validation is done by the payroll engine, not in DTOs. DTOs are pure
  data carriers; handlers only reject bodies that do not parse.
*/
package api

import (
	"github.com/warp/payroll-engine/generic"
	"github.com/warp/payroll-engine/payroll"
)

// =============================================================================
// ENVELOPES
// =============================================================================

// DataResponse wraps every successful payload.
type DataResponse struct {
	Data any `json:"data"`
}

// ErrorResponse is the body of every failed request.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
	Code    string `json:"code,omitempty"`
}

// =============================================================================
// COMPENSATIONS
// =============================================================================

// CreateCompensationRequest is the request to add a compensation interval.
type CreateCompensationRequest struct {
	UserID     int64         `json:"user_id"`
	BaseSalary generic.Money `json:"base_salary"`
	PerfSalary generic.Money `json:"perf_salary"`
	ValidFrom  string        `json:"valid_from"`
	Reason     string        `json:"reason,omitempty"`
}

// =============================================================================
// RUNS
// =============================================================================

// GenerateRunRequest creates a draft run. Month is YYYY-MM or any date in it.
type GenerateRunRequest struct {
	UserID     int64          `json:"user_id"`
	Month      string         `json:"month"`
	Allowances *generic.Money `json:"allowances,omitempty"`
	Deductions *generic.Money `json:"deductions,omitempty"`
}

// GenerateBatchRequest runs every active employee of the org.
type GenerateBatchRequest struct {
	Month  string              `json:"month"`
	Filter payroll.BatchFilter `json:"filter"`
}

// UpdateRunStatusRequest applies one state machine edge.
type UpdateRunStatusRequest struct {
	Action string `json:"action"`
}

// RunStatusDTO is the short answer to a status change.
type RunStatusDTO struct {
	RunID     int64             `json:"run_id"`
	Status    payroll.RunStatus `json:"status"`
	UpdatedAt string            `json:"updated_at"`
}

// HealthDTO reports dependency reachability.
type HealthDTO struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}
