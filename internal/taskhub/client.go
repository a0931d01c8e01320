// Package taskhub provides the typed client for the TaskHub task-management
// API. The durable cross-system link lives on the task itself: the source
// record's id is stored in the queryable external_id field, and every lookup
// searches on it rather than trusting any local id-to-id table.
package taskhub

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
const Service = "taskhub"

// ExternalIDField is the queryable task field holding the source record id.
const ExternalIDField = "external_id"

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

// Assignee is one member of a task's assignee set.
type Assignee struct {
	ID    string `json:"id"`
	Email string `json:"email"`
}

// Task is a TaskHub task as returned by the API. Fields carries the managed
// field set; fields not managed by this system never appear in it.
type Task struct {
	ID         string            `json:"id"`
	ExternalID string            `json:"external_id"`
	Fields     map[string]string `json:"fields"`
	Assignees  []Assignee        `json:"assignees"`
}

// AssigneeIDs returns the task's assignee identifiers.
func (t *Task) AssigneeIDs() []string {
	ids := make([]string, 0, len(t.Assignees))
	for _, a := range t.Assignees {
		if a.Email != "" {
			ids = append(ids, a.Email)
		} else {
			ids = append(ids, a.ID)
		}
	}
	return ids
}

// TaskInput is the payload for task creation and update.
type TaskInput struct {
	ExternalID string            `json:"external_id,omitempty"`
	Fields     map[string]string `json:"fields"`
	Assignees  []string          `json:"assignees,omitempty"`
}

// searchResponse is the envelope of the task search endpoint.
type searchResponse struct {
	Tasks []Task `json:"tasks"`
}

// Client calls the TaskHub REST API. Safe for concurrent use by many
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

// NewClient creates a TaskHub client. recorder may be nil.
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

// GetTask fetches one task by its TaskHub id.
func (c *Client) GetTask(ctx context.Context, id string) (*Task, error) {
	var task Task
	path := fmt.Sprintf("/api/v2/tasks/%s", url.PathEscape(id))
	if err := c.do(ctx, "get_task", http.MethodGet, path, nil, &task); err != nil {
		return nil, err
	}
	return &task, nil
}

// SearchByExternalRef finds the tasks whose external_id field equals the
// given source record id. The target system is the durable source of truth
// for the link, so this search runs on every reconciliation.
func (c *Client) SearchByExternalRef(ctx context.Context, externalID string) ([]Task, error) {
	var result searchResponse
	path := fmt.Sprintf("/api/v2/tasks?%s=%s", ExternalIDField, url.QueryEscape(externalID))
	if err := c.do(ctx, "search_tasks", http.MethodGet, path, nil, &result); err != nil {
		return nil, err
	}
	return result.Tasks, nil
}

// CreateTask creates a new task carrying the external_id used by SearchByExternalRef.
func (c *Client) CreateTask(ctx context.Context, input TaskInput) (*Task, error) {
	var task Task
	if err := c.do(ctx, "create_task", http.MethodPost, "/api/v2/tasks", input, &task); err != nil {
		return nil, err
	}
	return &task, nil
}

// UpdateTask overwrites a task's managed fields.
func (c *Client) UpdateTask(ctx context.Context, id string, input TaskInput) error {
	path := fmt.Sprintf("/api/v2/tasks/%s", url.PathEscape(id))
	return c.do(ctx, "update_task", http.MethodPatch, path, input, nil)
}

// AddAssignee adds one member to a task's assignee set. TaskHub's ownership
// model is additive/subtractive, not overwrite-based.
func (c *Client) AddAssignee(ctx context.Context, taskID, userID string) error {
	path := fmt.Sprintf("/api/v2/tasks/%s/assignees", url.PathEscape(taskID))
	return c.do(ctx, "add_assignee", http.MethodPost, path, map[string]string{"user_id": userID}, nil)
}

// RemoveAssignee removes one member from a task's assignee set.
func (c *Client) RemoveAssignee(ctx context.Context, taskID, userID string) error {
	path := fmt.Sprintf("/api/v2/tasks/%s/assignees/%s", url.PathEscape(taskID), url.PathEscape(userID))
	return c.do(ctx, "remove_assignee", http.MethodDelete, path, nil, nil)
}

// do executes one logical API operation under the retry policy.
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
