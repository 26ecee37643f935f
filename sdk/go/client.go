package permitlinesdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client is a minimal permitline HTTP API client.
type Client struct {
	BaseURL     string
	BasePath    string
	APIKey      string
	BearerToken string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults.
func New(baseURL string) *Client {
	return &Client{
		BaseURL:  baseURL,
		BasePath: "/v1",
		Timeout:  10 * time.Second,
	}
}

// Application is the API application model. Details is kept as raw JSON.
type Application struct {
	ID                string          `json:"id"`
	ApplicantID       string          `json:"applicant_id"`
	Status            string          `json:"status"`
	AssignedOfficerID *string         `json:"assigned_officer_id,omitempty"`
	SubmittedAt       *time.Time      `json:"submitted_at,omitempty"`
	ApprovedAt        *time.Time      `json:"approved_at,omitempty"`
	RejectedAt        *time.Time      `json:"rejected_at,omitempty"`
	RejectionReason   string          `json:"rejection_reason,omitempty"`
	LastQueriedAt     *time.Time      `json:"last_queried_at,omitempty"`
	CreatedAt         time.Time       `json:"created_at"`
	UpdatedAt         time.Time       `json:"updated_at"`
	Details           json.RawMessage `json:"details,omitempty"`
}

// StatusChange is one status history row.
type StatusChange struct {
	ID         string    `json:"id"`
	FromStatus string    `json:"from_status"`
	ToStatus   string    `json:"to_status"`
	ActorID    string    `json:"actor_id"`
	ActorRole  string    `json:"actor_role"`
	Remarks    string    `json:"remarks,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// Validation is the completeness result of an application.
type Validation struct {
	Complete   bool     `json:"complete"`
	Violations []string `json:"violations"`
}

// Decision is an authorization verdict.
type Decision struct {
	Allowed bool   `json:"allowed"`
	Reason  string `json:"reason"`
	Message string `json:"message,omitempty"`
}

// Capabilities describes what the caller may do with one application.
type Capabilities struct {
	ApplicationID string   `json:"application_id"`
	Status        string   `json:"status"`
	CanView       bool     `json:"can_view"`
	CanEdit       bool     `json:"can_edit"`
	Targets       []string `json:"targets"`
}

// Event represents a log entry.
type Event struct {
	ID            int64          `json:"id"`
	TS            string         `json:"ts"`
	Type          string         `json:"type"`
	ApplicationID string         `json:"application_id,omitempty"`
	EntityID      string         `json:"entity_id"`
	EntityKind    string         `json:"entity_kind"`
	ActorID       string         `json:"actor_id"`
	Payload       map[string]any `json:"payload"`
}

// PaginatedEvents wraps list responses with cursors.
type PaginatedEvents struct {
	Items      []Event `json:"items"`
	NextCursor string  `json:"next_cursor"`
}

// Principal is the identity the server resolved for the client.
type Principal struct {
	ActorID string `json:"actor_id"`
	Role    string `json:"role"`
	Source  string `json:"source"`
}

// APIError wraps non-2xx responses. Code, Message and Details are decoded
// from the error envelope when present.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
	Details    map[string]any
	Body       string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("api error: status=%d code=%s message=%s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// Violations returns the completeness violations of an incomplete_application error.
func (e *APIError) Violations() []string {
	raw, _ := e.Details["violations"].([]any)
	out := make([]string, 0, len(raw))
	for _, v := range raw {
		if s, ok := v.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

// CreateApplication creates a draft. details is any JSON-encodable value in
// the API details shape; applicantID is only honoured for admins.
func (c *Client) CreateApplication(ctx context.Context, id, applicantID string, details any) (Application, error) {
	body := map[string]any{}
	if id != "" {
		body["id"] = id
	}
	if applicantID != "" {
		body["applicant_id"] = applicantID
	}
	if details != nil {
		body["details"] = details
	}
	var resp Application
	err := c.do(ctx, http.MethodPost, "applications", body, &resp)
	return resp, err
}

// UpdateApplication replaces the details of an application.
func (c *Client) UpdateApplication(ctx context.Context, id string, details any) (Application, error) {
	var resp Application
	err := c.do(ctx, http.MethodPut, appPath(id, ""), details, &resp)
	return resp, err
}

// GetApplication fetches an application with its details.
func (c *Client) GetApplication(ctx context.Context, id string) (Application, error) {
	var resp Application
	err := c.do(ctx, http.MethodGet, appPath(id, ""), nil, &resp)
	return resp, err
}

// ListApplications returns applications visible to the caller.
func (c *Client) ListApplications(ctx context.Context, statuses ...string) ([]Application, error) {
	q := url.Values{}
	for _, s := range statuses {
		q.Add("status", s)
	}
	endpoint := "applications"
	if len(q) > 0 {
		endpoint += "?" + q.Encode()
	}
	var resp struct {
		Items []Application `json:"items"`
	}
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp.Items, err
}

// Validate runs the completeness rules.
func (c *Client) Validate(ctx context.Context, id string) (Validation, error) {
	var resp Validation
	err := c.do(ctx, http.MethodGet, appPath(id, "validation"), nil, &resp)
	return resp, err
}

// Submit moves a draft to SUBMITTED.
func (c *Client) Submit(ctx context.Context, id string) (Application, error) {
	var resp Application
	err := c.do(ctx, http.MethodPost, appPath(id, "submit"), nil, &resp)
	return resp, err
}

// Resubmit answers a query.
func (c *Client) Resubmit(ctx context.Context, id string) (Application, error) {
	var resp Application
	err := c.do(ctx, http.MethodPost, appPath(id, "resubmit"), nil, &resp)
	return resp, err
}

// Withdraw withdraws an application.
func (c *Client) Withdraw(ctx context.Context, id, reason string) (Application, error) {
	var resp Application
	err := c.do(ctx, http.MethodPost, appPath(id, "withdraw"), map[string]any{"reason": reason}, &resp)
	return resp, err
}

// ChangeStatus moves an application to another status.
func (c *Client) ChangeStatus(ctx context.Context, id, status, remarks string) (Application, error) {
	body := map[string]any{"status": status}
	if remarks != "" {
		body["remarks"] = remarks
	}
	var resp Application
	err := c.do(ctx, http.MethodPost, appPath(id, "status"), body, &resp)
	return resp, err
}

// AssignOfficer routes an application to a reviewer; empty clears it.
func (c *Client) AssignOfficer(ctx context.Context, id, officerID string) (Application, error) {
	var resp Application
	err := c.do(ctx, http.MethodPost, appPath(id, "assignment"), map[string]any{"officer_id": officerID}, &resp)
	return resp, err
}

// History returns the status history, oldest first.
func (c *Client) History(ctx context.Context, id string) ([]StatusChange, error) {
	var resp struct {
		Items []StatusChange `json:"items"`
	}
	err := c.do(ctx, http.MethodGet, appPath(id, "history"), nil, &resp)
	return resp.Items, err
}

// Capabilities reports what the caller may do with an application.
func (c *Client) Capabilities(ctx context.Context, id string) (Capabilities, error) {
	var resp Capabilities
	err := c.do(ctx, http.MethodGet, appPath(id, "capabilities"), nil, &resp)
	return resp, err
}

// Authorize evaluates action (VIEW, EDIT, TRANSITION). target is only used
// for TRANSITION and may be empty.
func (c *Client) Authorize(ctx context.Context, id, action, target string) (Decision, error) {
	body := map[string]any{"action": action}
	if target != "" {
		body["target_status"] = target
	}
	var resp Decision
	err := c.do(ctx, http.MethodPost, appPath(id, "authorize"), body, &resp)
	return resp, err
}

// EventsPage returns a paginated event listing, newest first.
func (c *Client) EventsPage(ctx context.Context, applicationID string, limit int, cursor string) (PaginatedEvents, error) {
	q := url.Values{}
	if applicationID != "" {
		q.Set("application_id", applicationID)
	}
	if limit > 0 {
		q.Set("limit", fmt.Sprintf("%d", limit))
	}
	if cursor != "" {
		q.Set("cursor", cursor)
	}
	endpoint := "events"
	if len(q) > 0 {
		endpoint += "?" + q.Encode()
	}
	var resp PaginatedEvents
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// Me returns the principal the server authenticated.
func (c *Client) Me(ctx context.Context) (Principal, error) {
	var resp Principal
	err := c.do(ctx, http.MethodGet, "me", nil, &resp)
	return resp, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	url := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, url, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	switch {
	case c.BearerToken != "":
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	case c.APIKey != "":
		req.Header.Set("X-Api-Key", c.APIKey)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		apiErr := &APIError{StatusCode: resp.StatusCode, Body: string(b)}
		var env struct {
			Error struct {
				Code    string         `json:"code"`
				Message string         `json:"message"`
				Details map[string]any `json:"details"`
			} `json:"error"`
		}
		if json.Unmarshal(b, &env) == nil {
			apiErr.Code = env.Error.Code
			apiErr.Message = env.Error.Message
			apiErr.Details = env.Error.Details
		}
		return apiErr
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func appPath(id, sub string) string {
	p := "applications/" + url.PathEscape(id)
	if sub != "" {
		p += "/" + sub
	}
	return p
}

func (c *Client) base() string {
	base := strings.TrimRight(c.BaseURL, "/")
	if p := strings.Trim(c.BasePath, "/"); p != "" {
		base += "/" + p
	}
	return base
}
