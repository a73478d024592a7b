/*
Package users adapts the user service to payroll.UserLookup.

IMPLEMENTATIONS:
  HTTPLookup: resty client against the user service
                GET /users/{id}                           -> one user
                GET /users?org_id=&status=&campus_ids=    -> org directory
              Both respond with {"data": ...}.
  Memory:     in-process directory for tests and local runs

ERRORS:
  404, or a user belonging to another org    -> generic.ErrUserNotFound
  transport failure or 5xx after retries     -> generic.Unavailable
  any other non-2xx                          -> plain error
*/
package users

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"

	"github.com/warp/payroll-engine/generic"
	"github.com/warp/payroll-engine/payroll"
)

// StatusActive is the employment status batches select by default.
const StatusActive = "active"

// HTTPLookup implements payroll.UserLookup over HTTP.
type HTTPLookup struct {
	client *resty.Client
	logger *zap.Logger
}

var _ payroll.UserLookup = (*HTTPLookup)(nil)

type envelope[T any] struct {
	Data T `json:"data"`
}

// NewHTTPLookup creates a client for the user service at baseURL.
func NewHTTPLookup(baseURL string, timeout time.Duration, logger *zap.Logger) *HTTPLookup {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	client := resty.New().
		SetBaseURL(strings.TrimRight(baseURL, "/")).
		SetTimeout(timeout).
		SetRetryCount(2).
		SetRetryWaitTime(100 * time.Millisecond).
		SetRetryMaxWaitTime(time.Second).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			return err != nil || r.StatusCode() >= http.StatusInternalServerError
		}).
		SetHeader("Accept", "application/json")

	return &HTTPLookup{client: client, logger: logger}
}

// Validate confirms the user exists and belongs to orgID.
func (l *HTTPLookup) Validate(ctx context.Context, userID, orgID int64) (payroll.UserSummary, error) {
	var body envelope[payroll.UserSummary]
	resp, err := l.client.R().
		SetContext(ctx).
		SetPathParam("id", strconv.FormatInt(userID, 10)).
		SetResult(&body).
		Get("/users/{id}")
	if err := classify("get user", resp, err); err != nil {
		if generic.IsUnavailable(err) {
			l.logger.Warn("user service unavailable", zap.Int64("user_id", userID), zap.Error(err))
		}
		return payroll.UserSummary{}, err
	}

	if body.Data.ID != userID || body.Data.OrgID != orgID {
		return payroll.UserSummary{}, fmt.Errorf("user %d in org %d: %w", userID, orgID, generic.ErrUserNotFound)
	}
	return body.Data, nil
}

// ListActive returns the org's employees matching filter.
func (l *HTTPLookup) ListActive(ctx context.Context, orgID int64, filter payroll.BatchFilter) ([]payroll.UserSummary, error) {
	status := filter.EmploymentStatus
	if status == "" {
		status = StatusActive
	}
	req := l.client.R().
		SetContext(ctx).
		SetQueryParam("org_id", strconv.FormatInt(orgID, 10)).
		SetQueryParam("status", status)
	if len(filter.CampusIDs) > 0 {
		ids := make([]string, len(filter.CampusIDs))
		for i, id := range filter.CampusIDs {
			ids[i] = strconv.FormatInt(id, 10)
		}
		req.SetQueryParam("campus_ids", strings.Join(ids, ","))
	}

	var body envelope[[]payroll.UserSummary]
	resp, err := req.SetResult(&body).Get("/users")
	if err := classify("list users", resp, err); err != nil {
		return nil, err
	}

	// The service may ignore filters it does not know; apply them here too.
	return Filter(body.Data, orgID, payroll.BatchFilter{CampusIDs: filter.CampusIDs, EmploymentStatus: status}), nil
}

func classify(op string, resp *resty.Response, err error) error {
	if err != nil {
		return generic.Unavailable(op, err)
	}
	switch code := resp.StatusCode(); {
	case code == http.StatusNotFound:
		return fmt.Errorf("%s: %w", op, generic.ErrUserNotFound)
	case code >= http.StatusInternalServerError:
		return generic.Unavailable(op, fmt.Errorf("user service returned %d", code))
	case code >= http.StatusBadRequest:
		return fmt.Errorf("%s: user service returned %d", op, code)
	}
	return nil
}

// Filter keeps users of orgID matching f.
func Filter(all []payroll.UserSummary, orgID int64, f payroll.BatchFilter) []payroll.UserSummary {
	campuses := make(map[int64]bool, len(f.CampusIDs))
	for _, id := range f.CampusIDs {
		campuses[id] = true
	}
	out := []payroll.UserSummary{}
	for _, u := range all {
		if u.OrgID != orgID {
			continue
		}
		if f.EmploymentStatus != "" && u.EmploymentStatus != f.EmploymentStatus {
			continue
		}
		if len(campuses) > 0 && !campuses[u.CampusID] {
			continue
		}
		out = append(out, u)
	}
	return out
}
