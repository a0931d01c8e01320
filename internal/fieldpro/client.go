// Package fieldpro provides the typed client for the FieldPro field-service
// API (quotes and work orders). Every call runs under the resilient caller
// and records one external-api-call trace entry per attempt.
package fieldpro

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/allisson/syncbridge/internal/config"
	apperrors "github.com/allisson/syncbridge/internal/errors"
	"github.com/allisson/syncbridge/internal/retry"
	traceDomain "github.com/allisson/syncbridge/internal/trace/domain"
)

// Service is the external service name recorded on trace entries.
const Service = "fieldpro"

// CallRecorder records outbound network calls; satisfied by the trace recorder.
type CallRecorder interface {
	RecordAPICall(
		ctx context.Context,
		service, operation string,
		duration time.Duration,
		status traceDomain.CallStatus,
		httpStatus int,
		err error,
	)
}

// Technician is the responsible party on a quote or work order.
type Technician struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
}

// Quote is a FieldPro quote as returned by the API.
type Quote struct {
	ID          string       `json:"id"`
	Number      string       `json:"number"`
	Title       string       `json:"title"`
	Description string       `json:"description"`
	Status      string       `json:"status"`
	Site        string       `json:"site"`
	Total       string       `json:"total"`
	DueDate     string       `json:"due_date"`
	Technicians []Technician `json:"technicians"`
}

// WorkOrder is a FieldPro work order as returned by the API.
type WorkOrder struct {
	ID          string       `json:"id"`
	Number      string       `json:"number"`
	Title       string       `json:"title"`
	Description string       `json:"description"`
	Status      string       `json:"status"`
	Site        string       `json:"site"`
	Priority    string       `json:"priority"`
	DueDate     string       `json:"due_date"`
	Technicians []Technician `json:"technicians"`
}

// FieldMap flattens the quote into the source field set consumed by the
// declarative mapping tables.
func (q *Quote) FieldMap() map[string]string {
	return map[string]string{
		"title":       q.Title,
		"description": q.Description,
		"status":      q.Status,
		"site":        q.Site,
		"total":       q.Total,
		"due_date":    q.DueDate,
	}
}

// AssigneeIDs returns the identifiers of the quote's responsible parties.
func (q *Quote) AssigneeIDs() []string {
	ids := make([]string, 0, len(q.Technicians))
	for _, t := range q.Technicians {
		if t.Email != "" {
			ids = append(ids, t.Email)
		} else {
			ids = append(ids, t.ID)
		}
	}
	return ids
}

// FieldMap flattens the work order into the source field set consumed by the
// declarative mapping tables.
func (w *WorkOrder) FieldMap() map[string]string {
	return map[string]string{
		"title":       w.Title,
		"description": w.Description,
		"status":      w.Status,
		"site":        w.Site,
		"priority":    w.Priority,
		"due_date":    w.DueDate,
	}
}

// AssigneeIDs returns the identifiers of the work order's responsible parties.
func (w *WorkOrder) AssigneeIDs() []string {
	ids := make([]string, 0, len(w.Technicians))
	for _, t := range w.Technicians {
		if t.Email != "" {
			ids = append(ids, t.Email)
		} else {
			ids = append(ids, t.ID)
		}
	}
	return ids
}

// Client calls the FieldPro REST API. Safe for concurrent use by many
// in-flight traces.
type Client struct {
	baseURL    string
	token      string
	timeout    time.Duration
	httpClient *http.Client
	caller     *retry.Caller
	recorder   CallRecorder
	logger     *slog.Logger
}

// NewClient creates a FieldPro client. recorder may be nil.
func NewClient(
	cfg config.RemoteSystemConfig,
	caller *retry.Caller,
	recorder CallRecorder,
	logger *slog.Logger,
) *Client {
	return &Client{
		baseURL:    cfg.BaseURL,
		token:      cfg.APIToken,
		timeout:    cfg.Timeout,
		httpClient: &http.Client{},
		caller:     caller,
		recorder:   recorder,
		logger:     logger,
	}
}

// GetQuote fetches the authoritative quote fresh from FieldPro.
func (c *Client) GetQuote(ctx context.Context, id string) (*Quote, error) {
	var quote Quote
	path := fmt.Sprintf("/api/v1/quotes/%s", url.PathEscape(id))
	if err := c.do(ctx, "get_quote", http.MethodGet, path, nil, &quote); err != nil {
		return nil, err
	}
	return &quote, nil
}

// GetWorkOrder fetches the authoritative work order fresh from FieldPro.
func (c *Client) GetWorkOrder(ctx context.Context, id string) (*WorkOrder, error) {
	var workOrder WorkOrder
	path := fmt.Sprintf("/api/v1/work-orders/%s", url.PathEscape(id))
	if err := c.do(ctx, "get_work_order", http.MethodGet, path, nil, &workOrder); err != nil {
		return nil, err
	}
	return &workOrder, nil
}

// UpdateQuoteFields writes the given fields back to a quote.
func (c *Client) UpdateQuoteFields(ctx context.Context, id string, fields map[string]string) error {
	path := fmt.Sprintf("/api/v1/quotes/%s", url.PathEscape(id))
	return c.do(ctx, "update_quote", http.MethodPatch, path, fields, nil)
}

// UpdateWorkOrderFields writes the given fields back to a work order.
func (c *Client) UpdateWorkOrderFields(ctx context.Context, id string, fields map[string]string) error {
	path := fmt.Sprintf("/api/v1/work-orders/%s", url.PathEscape(id))
	return c.do(ctx, "update_work_order", http.MethodPatch, path, fields, nil)
}

// do executes one logical API operation under the retry policy. The per-call
// wall-clock budget is enforced per attempt through the request context.
func (c *Client) do(ctx context.Context, operation, method, path string, body, out any) error {
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return apperrors.Wrap(err, "failed to marshal request body")
		}
	}

	return c.caller.Do(ctx, Service+"."+operation, func(ctx context.Context) error {
		return c.attempt(ctx, operation, method, path, payload, out)
	})
}

// attempt performs a single HTTP round-trip and records it.
func (c *Client) attempt(ctx context.Context, operation, method, path string, payload []byte, out any) error {
	callCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var reqBody io.Reader
	if payload != nil {
		reqBody = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(callCtx, method, c.baseURL+path, reqBody)
	if err != nil {
		return apperrors.Wrap(err, "failed to build request")
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	duration := time.Since(start)

	if err != nil {
		c.record(ctx, operation, duration, 0, err)
		return apperrors.Wrapf(err, "%s %s failed", Service, operation)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode >= 400 {
		apiErr := &apperrors.APIError{
			Service:    Service,
			Operation:  operation,
			StatusCode: resp.StatusCode,
			Message:    readErrorBody(resp.Body),
		}
		c.record(ctx, operation, duration, resp.StatusCode, apiErr)
		return apiErr
	}

	c.record(ctx, operation, duration, resp.StatusCode, nil)

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return apperrors.Wrapf(err, "%s %s: failed to decode response", Service, operation)
		}
	}
	return nil
}

// record reports one attempt to the trace recorder.
func (c *Client) record(ctx context.Context, operation string, duration time.Duration, httpStatus int, err error) {
	if c.recorder == nil {
		return
	}
	status := traceDomain.CallSuccess
	if err != nil {
		status = traceDomain.CallFailed
		if apperrors.Classify(err) == apperrors.CategoryTimeout {
			status = traceDomain.CallTimeout
		}
	}
	c.recorder.RecordAPICall(ctx, Service, operation, duration, status, httpStatus, err)
}

// readErrorBody captures a bounded prefix of an error response body.
func readErrorBody(body io.Reader) string {
	data, err := io.ReadAll(io.LimitReader(body, 512))
	if err != nil {
		return ""
	}
	return string(data)
}
