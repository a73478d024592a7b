/*
handlers.go - HTTP API handlers for the payroll engine

PURPOSE:
  Exposes payroll.Service via REST API. Handles HTTP request/response,
  JSON serialization, and delegates to the engine.

ENDPOINTS:
  Compensations:
    POST   /api/payroll/compensations            Create interval (closes the open one)
    GET    /api/payroll/compensations            History ?user_id=&from=&to=
    GET    /api/payroll/compensations/effective  In force on ?user_id=&date=

  Runs:
    GET    /api/payroll/runs/preview             Proration only ?user_id=&month=
    POST   /api/payroll/runs/generate            Persist a draft run
    POST   /api/payroll/runs/generate-batch      Draft runs for every active employee
    GET    /api/payroll/runs                     List ?user_id=&month=
    GET    /api/payroll/runs/{id}                Get one run
    PATCH  /api/payroll/runs/{id}                {"action": "confirm"|"pay"}

  Audit:
    GET    /api/payroll/audit                    ?entity_type=&entity_id=&actor_id=

  Scenarios (demo mode only, see scenarios.go):
    GET    /api/scenarios                        List
    POST   /api/scenarios/load                   {"scenario_id": "..."}

ERROR HANDLING:
  Errors are returned as JSON with the status of their category:
  - 400: Validation errors, invalid input
  - 404: Run / compensation / user not found
  - 409: Conflict (overlap, duplicate run, lock not acquired)
  - 422: Status change off the state machine
  - 503: Store or lock backend unavailable
  - 500: Anything else

SEE ALSO:
  - dto.go: Request/response data structures
  - server.go: Router setup and middleware
  - payroll/service.go: Operations
*/
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/warp/payroll-engine/generic"
	"github.com/warp/payroll-engine/payroll"
)

const (
	// HeaderOrgID selects the tenant. Defaults to DefaultOrgID.
	HeaderOrgID = "X-Org-Id"
	// HeaderUserID is the acting user recorded in audit entries.
	HeaderUserID = "X-User-Id"

	DefaultOrgID int64 = 1
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Service payroll.Service
	Logger  *zap.Logger

	// Metrics is mounted on /metrics when set.
	Metrics http.Handler

	AllowedOrigins []string

	// Checks are run by /healthz, keyed by dependency name.
	Checks map[string]func(context.Context) error

	// Directory enables /api/scenarios when set.
	Directory Directory
}

// NewHandler creates a new handler over svc.
func NewHandler(svc payroll.Service, logger *zap.Logger) *Handler {
	return &Handler{
		Service: svc,
		Logger:  logger,
		Checks:  make(map[string]func(context.Context) error),
	}
}

func (h *Handler) logger() *zap.Logger {
	if h.Logger == nil {
		return zap.NewNop()
	}
	return h.Logger
}

func (h *Handler) allowedOrigins() []string {
	if len(h.AllowedOrigins) == 0 {
		return []string{"http://localhost:5173", "http://localhost:8080"}
	}
	return h.AllowedOrigins
}

// Health reports 200 when every check passes, 503 otherwise.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	resp := HealthDTO{Status: "ok", Checks: make(map[string]string, len(h.Checks))}
	status := http.StatusOK
	for name, check := range h.Checks {
		if err := check(ctx); err != nil {
			resp.Checks[name] = err.Error()
			resp.Status = "degraded"
			status = http.StatusServiceUnavailable
			continue
		}
		resp.Checks[name] = "ok"
	}
	writeJSON(w, status, resp)
}

// =============================================================================
// COMPENSATION HANDLERS
// =============================================================================

// CreateCompensation adds an interval starting valid_from.
func (h *Handler) CreateCompensation(w http.ResponseWriter, r *http.Request) {
	var req CreateCompensationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	validFrom, err := generic.ParseDate(req.ValidFrom)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid valid_from format (use YYYY-MM-DD)", err)
		return
	}
	orgID, actorID, ok := h.tenant(w, r)
	if !ok {
		return
	}

	comp, err := h.Service.CreateCompensation(r.Context(), payroll.CreateCompensationInput{
		OrgID:      orgID,
		EmployeeID: req.UserID,
		BaseSalary: req.BaseSalary,
		PerfSalary: req.PerfSalary,
		ValidFrom:  validFrom,
		Reason:     req.Reason,
		OperatorID: actorID,
	})
	if err != nil {
		h.writeServiceError(w, r, "Failed to create compensation", err)
		return
	}
	writeJSON(w, http.StatusCreated, DataResponse{Data: comp})
}

// GetEffectiveCompensation answers {"data": null} when nothing is in force.
func (h *Handler) GetEffectiveCompensation(w http.ResponseWriter, r *http.Request) {
	userID, err := queryID(r, "user_id", true)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid user_id", err)
		return
	}
	date := generic.Today()
	if s := r.URL.Query().Get("date"); s != "" {
		if date, err = generic.ParseDate(s); err != nil {
			writeError(w, http.StatusBadRequest, "Invalid date format (use YYYY-MM-DD)", err)
			return
		}
	}

	eff, err := h.Service.GetEffectiveCompensation(r.Context(), *userID, date)
	if err != nil {
		h.writeServiceError(w, r, "Failed to get effective compensation", err)
		return
	}
	writeJSON(w, http.StatusOK, DataResponse{Data: eff})
}

// CompensationHistory lists intervals newest first.
func (h *Handler) CompensationHistory(w http.ResponseWriter, r *http.Request) {
	userID, err := queryID(r, "user_id", true)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid user_id", err)
		return
	}
	var f payroll.HistoryFilter
	if f.From, err = queryDate(r, "from"); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid from date", err)
		return
	}
	if f.To, err = queryDate(r, "to"); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid to date", err)
		return
	}

	comps, err := h.Service.CompensationHistory(r.Context(), *userID, f)
	if err != nil {
		h.writeServiceError(w, r, "Failed to get compensation history", err)
		return
	}
	if comps == nil {
		comps = []payroll.Compensation{}
	}
	writeJSON(w, http.StatusOK, DataResponse{Data: comps})
}

// =============================================================================
// RUN HANDLERS
// =============================================================================

// PreviewMonthlyPayroll computes proration without persisting anything.
func (h *Handler) PreviewMonthlyPayroll(w http.ResponseWriter, r *http.Request) {
	userID, err := queryID(r, "user_id", true)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid user_id", err)
		return
	}
	month, err := parseMonth(r.URL.Query().Get("month"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid month (use YYYY-MM)", err)
		return
	}

	res, err := h.Service.PreviewMonthlyPayroll(r.Context(), *userID, month)
	if err != nil {
		h.writeServiceError(w, r, "Failed to preview payroll", err)
		return
	}
	writeJSON(w, http.StatusOK, DataResponse{Data: res})
}

// GeneratePayrollRun persists a draft run.
func (h *Handler) GeneratePayrollRun(w http.ResponseWriter, r *http.Request) {
	var req GenerateRunRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	month, err := parseMonth(req.Month)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid month (use YYYY-MM)", err)
		return
	}
	orgID, actorID, ok := h.tenant(w, r)
	if !ok {
		return
	}

	in := payroll.GenerateRunInput{
		OrgID:      orgID,
		EmployeeID: req.UserID,
		Month:      month,
		ActorID:    actorID,
	}
	if req.Allowances != nil {
		in.Allowances = *req.Allowances
	}
	if req.Deductions != nil {
		in.Deductions = *req.Deductions
	}

	run, err := h.Service.GeneratePayrollRun(r.Context(), in)
	if err != nil {
		h.writeServiceError(w, r, "Failed to generate payroll run", err)
		return
	}
	writeJSON(w, http.StatusCreated, DataResponse{Data: run})
}

// GenerateBatch drafts runs for every active employee of the org.
func (h *Handler) GenerateBatch(w http.ResponseWriter, r *http.Request) {
	var req GenerateBatchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	month, err := parseMonth(req.Month)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid month (use YYYY-MM)", err)
		return
	}
	orgID, actorID, ok := h.tenant(w, r)
	if !ok {
		return
	}

	res, err := h.Service.GenerateBatch(r.Context(), payroll.BatchInput{
		OrgID:   orgID,
		Month:   month,
		Filter:  req.Filter,
		ActorID: actorID,
	})
	if err != nil {
		h.writeServiceError(w, r, "Failed to generate payroll batch", err)
		return
	}
	writeJSON(w, http.StatusAccepted, DataResponse{Data: res})
}

// ListPayrollRuns lists the org's runs, newest month first.
func (h *Handler) ListPayrollRuns(w http.ResponseWriter, r *http.Request) {
	orgID, _, ok := h.tenant(w, r)
	if !ok {
		return
	}
	f := payroll.RunFilter{OrgID: orgID}
	var err error
	if f.EmployeeID, err = queryID(r, "user_id", false); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid user_id", err)
		return
	}
	if s := r.URL.Query().Get("month"); s != "" {
		month, err := parseMonth(s)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid month (use YYYY-MM)", err)
			return
		}
		f.Month = &month
	}

	runs, err := h.Service.ListPayrollRuns(r.Context(), f)
	if err != nil {
		h.writeServiceError(w, r, "Failed to list payroll runs", err)
		return
	}
	if runs == nil {
		runs = []payroll.PayrollRun{}
	}
	writeJSON(w, http.StatusOK, DataResponse{Data: runs})
}

// GetPayrollRun returns one run. Runs of other orgs are reported missing.
func (h *Handler) GetPayrollRun(w http.ResponseWriter, r *http.Request) {
	run, _, ok := h.loadRun(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, DataResponse{Data: run})
}

// UpdatePayrollRunStatus applies confirm or pay.
func (h *Handler) UpdatePayrollRunStatus(w http.ResponseWriter, r *http.Request) {
	var req UpdateRunStatusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	action, err := payroll.ParseRunAction(req.Action)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid action", err)
		return
	}
	run, actorID, ok := h.loadRun(w, r)
	if !ok {
		return
	}

	updated, err := h.Service.UpdatePayrollRunStatus(r.Context(), run.ID, action, actorID)
	if err != nil {
		h.writeServiceError(w, r, "Failed to update payroll run status", err)
		return
	}
	writeJSON(w, http.StatusOK, DataResponse{Data: RunStatusDTO{
		RunID:     updated.ID,
		Status:    updated.Status,
		UpdatedAt: updated.UpdatedAt.UTC().Format(time.RFC3339),
	}})
}

// loadRun resolves {id} within the caller's org and returns the acting
// user. It writes the error response itself and reports false on failure.
func (h *Handler) loadRun(w http.ResponseWriter, r *http.Request) (*payroll.PayrollRun, int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, "Invalid run id", err)
		return nil, 0, false
	}
	orgID, actorID, ok := h.tenant(w, r)
	if !ok {
		return nil, 0, false
	}
	run, err := h.Service.GetPayrollRun(r.Context(), id)
	if err != nil {
		h.writeServiceError(w, r, "Failed to get payroll run", err)
		return nil, 0, false
	}
	if run.OrgID != orgID {
		h.writeServiceError(w, r, "Failed to get payroll run", generic.ErrRunNotFound)
		return nil, 0, false
	}
	return run, actorID, true
}

// =============================================================================
// AUDIT HANDLERS
// =============================================================================

// AuditTrail returns the org's audit entries, oldest first.
func (h *Handler) AuditTrail(w http.ResponseWriter, r *http.Request) {
	orgID, _, ok := h.tenant(w, r)
	if !ok {
		return
	}
	f := payroll.AuditFilter{OrgID: &orgID}
	if s := r.URL.Query().Get("entity_type"); s != "" {
		et := payroll.EntityType(s)
		if et != payroll.EntityCompensation && et != payroll.EntityPayrollRun {
			writeError(w, http.StatusBadRequest, "Invalid entity_type", nil)
			return
		}
		f.EntityType = &et
	}
	var err error
	if f.EntityID, err = queryID(r, "entity_id", false); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid entity_id", err)
		return
	}
	if f.ActorID, err = queryID(r, "actor_id", false); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid actor_id", err)
		return
	}

	entries, err := h.Service.AuditTrail(r.Context(), f)
	if err != nil {
		h.writeServiceError(w, r, "Failed to query audit trail", err)
		return
	}
	if entries == nil {
		entries = []payroll.AuditEntry{}
	}
	writeJSON(w, http.StatusOK, DataResponse{Data: entries})
}

// =============================================================================
// HELPERS
// =============================================================================

// tenant reads the org and acting user headers. A missing org defaults to
// DefaultOrgID; a missing user is 0 (system).
func (h *Handler) tenant(w http.ResponseWriter, r *http.Request) (orgID, actorID int64, ok bool) {
	orgID = DefaultOrgID
	if s := r.Header.Get(HeaderOrgID); s != "" {
		id, err := strconv.ParseInt(s, 10, 64)
		if err != nil || id <= 0 {
			writeError(w, http.StatusBadRequest, "Invalid "+HeaderOrgID+" header", err)
			return 0, 0, false
		}
		orgID = id
	}
	if s := r.Header.Get(HeaderUserID); s != "" {
		id, err := strconv.ParseInt(s, 10, 64)
		if err != nil || id < 0 {
			writeError(w, http.StatusBadRequest, "Invalid "+HeaderUserID+" header", err)
			return 0, 0, false
		}
		actorID = id
	}
	return orgID, actorID, true
}

func queryID(r *http.Request, name string, required bool) (*int64, error) {
	s := r.URL.Query().Get(name)
	if s == "" {
		if required {
			return nil, &generic.ValidationError{Field: name, Message: "is required"}
		}
		return nil, nil
	}
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 {
		return nil, &generic.ValidationError{Field: name, Message: "must be a positive id"}
	}
	return &id, nil
}

func queryDate(r *http.Request, name string) (*generic.Date, error) {
	s := r.URL.Query().Get(name)
	if s == "" {
		return nil, nil
	}
	d, err := generic.ParseDate(s)
	if err != nil {
		return nil, err
	}
	return &d, nil
}

// parseMonth accepts YYYY-MM or any YYYY-MM-DD within the month and
// returns the first day of that month.
func parseMonth(s string) (generic.Date, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return generic.Date{}, &generic.ValidationError{Field: "month", Message: "is required"}
	}
	if t, err := time.Parse("2006-01", s); err == nil {
		return generic.DateOf(t), nil
	}
	d, err := generic.ParseDate(s)
	if err != nil {
		return generic.Date{}, &generic.ValidationError{Field: "month", Message: "use YYYY-MM"}
	}
	return d.StartOfMonth(), nil
}

// statusFor maps an engine error to its HTTP status and short code.
func statusFor(err error) (int, string) {
	switch {
	case generic.IsValidation(err):
		return http.StatusBadRequest, "validation"
	case generic.IsInvalidTransition(err):
		return http.StatusUnprocessableEntity, "invalid_transition"
	case generic.IsConflict(err):
		return http.StatusConflict, "conflict"
	case generic.IsNotFound(err):
		return http.StatusNotFound, "not_found"
	case generic.IsUnavailable(err):
		return http.StatusServiceUnavailable, "unavailable"
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable, "timeout"
	}
	return http.StatusInternalServerError, "internal"
}

func (h *Handler) writeServiceError(w http.ResponseWriter, r *http.Request, message string, err error) {
	status, code := statusFor(err)
	if status >= http.StatusInternalServerError {
		h.logger().Error(message,
			zap.String("path", r.URL.Path),
			zap.String("request_id", payroll.RequestIDFrom(r.Context())),
			zap.Error(err),
		)
	}
	writeJSON(w, status, ErrorResponse{Error: message, Details: err.Error(), Code: code})
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}
