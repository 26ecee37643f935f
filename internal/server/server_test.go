package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"permitline/internal/config"
	"permitline/internal/db"
	"permitline/internal/domain"
	"permitline/internal/engine"
	"permitline/internal/engine/auth"
	"permitline/internal/engine/lifecycle"
	"permitline/internal/events"
	"permitline/internal/metrics"
	"permitline/internal/migrate"
	"permitline/internal/repo"
	"permitline/internal/testfixture"
)

const testSecret = "test-secret"

var (
	oemHeaders     = map[string]string{"X-Actor-Id": "oem-1", "X-Actor-Role": "OEM"}
	otherHeaders   = map[string]string{"X-Actor-Id": "oem-2", "X-Actor-Role": "OEM"}
	officerHeaders = map[string]string{"X-Actor-Id": "officer-1", "X-Actor-Role": "OFFICER"}
	adminHeaders   = map[string]string{"X-Actor-Id": "admin-1", "X-Actor-Role": "ADMIN"}
)

type testServer struct {
	URL    string
	Engine engine.Engine
	client *http.Client
}

func newTestEngine(t *testing.T, cfg *config.Config) engine.Engine {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	require.NoError(t, migrate.Migrate(conn))
	e, err := engine.New(conn, cfg)
	require.NoError(t, err)
	logger, _ := logtest.NewNullLogger()
	e.Log = logger
	e.Metrics = metrics.NewCollector()
	return e
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	e := newTestEngine(t, config.Default())
	handler, err := New(Config{
		Engine:   e,
		BasePath: "/v1",
		Auth: AuthConfig{
			JWTSecret:              testSecret,
			AllowLegacyActorHeader: true,
			DevLogin:               true,
		},
	})
	require.NoError(t, err)
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return &testServer{URL: srv.URL + "/v1", Engine: e, client: srv.Client()}
}

func (s *testServer) do(t *testing.T, method, path string, body any, headers map[string]string) (*http.Response, []byte) {
	t.Helper()
	var reader io.Reader = bytes.NewReader(nil)
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, s.URL+path, reader)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	res, err := s.client.Do(req)
	require.NoError(t, err)
	defer res.Body.Close()
	data, err := io.ReadAll(res.Body)
	require.NoError(t, err)
	return res, data
}

type errorEnvelope struct {
	Error struct {
		Code    string         `json:"code"`
		Message string         `json:"message"`
		Details map[string]any `json:"details"`
	} `json:"error"`
}

func decodeError(t *testing.T, data []byte) errorEnvelope {
	t.Helper()
	var env errorEnvelope
	require.NoError(t, json.Unmarshal(data, &env), string(data))
	return env
}

func createBody(id string, d domain.Details) CreateApplicationRequest {
	return CreateApplicationRequest{ID: id, Details: *detailsBody(d)}
}

func (s *testServer) createApp(t *testing.T, id string, d domain.Details) ApplicationResponse {
	t.Helper()
	res, data := s.do(t, http.MethodPost, "/applications", createBody(id, d), oemHeaders)
	require.Equal(t, http.StatusCreated, res.StatusCode, string(data))
	var app ApplicationResponse
	require.NoError(t, json.Unmarshal(data, &app))
	for i, p := range d.Payments {
		if !p.Status.Settled() {
			continue
		}
		res, data = s.do(t, http.MethodPost, "/applications/"+id+"/payments/"+app.Details.Payments[i].ID,
			RecordPaymentRequest{Status: string(p.Status)}, adminHeaders)
		require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	}
	return app
}

func TestHealthIsPublic(t *testing.T) {
	srv := newTestServer(t)
	res, data := srv.do(t, http.MethodGet, "/health", nil, nil)
	require.Equal(t, http.StatusOK, res.StatusCode)
	var body map[string]string
	require.NoError(t, json.Unmarshal(data, &body))
	assert.Equal(t, "ok", body["status"])
}

func TestMissingCredentialsAreRejected(t *testing.T) {
	srv := newTestServer(t)
	res, data := srv.do(t, http.MethodGet, "/applications", nil, nil)
	require.Equal(t, http.StatusUnauthorized, res.StatusCode)
	assert.Equal(t, "unauthorized", decodeError(t, data).Error.Code)

	res, _ = srv.do(t, http.MethodGet, "/me", nil, map[string]string{"X-Actor-Id": "oem-1", "X-Actor-Role": "PIRATE"})
	assert.Equal(t, http.StatusUnauthorized, res.StatusCode)

	res, _ = srv.do(t, http.MethodGet, "/me", nil, map[string]string{"Authorization": "Bearer not-a-jwt"})
	assert.Equal(t, http.StatusUnauthorized, res.StatusCode)
}

func TestSubmitAndReviewFlow(t *testing.T) {
	srv := newTestServer(t)
	created := srv.createApp(t, "app-1", testfixture.CompleteDetails())
	assert.Equal(t, domain.StatusDraft, created.Status)
	require.NotNil(t, created.Details)
	assert.Equal(t, "12500000.00", *created.Details.Turnover.Year1)

	res, data := srv.do(t, http.MethodGet, "/applications/app-1/validation", nil, oemHeaders)
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	var validation ValidationResponse
	require.NoError(t, json.Unmarshal(data, &validation))
	assert.True(t, validation.Complete)
	assert.NotNil(t, validation.Violations)
	assert.Empty(t, validation.Violations)

	res, data = srv.do(t, http.MethodPost, "/applications/app-1/submit", nil, oemHeaders)
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	var app ApplicationResponse
	require.NoError(t, json.Unmarshal(data, &app))
	assert.Equal(t, domain.StatusSubmitted, app.Status)
	assert.NotNil(t, app.SubmittedAt)

	res, data = srv.do(t, http.MethodPost, "/applications/app-1/status",
		ChangeStatusRequest{Status: "UNDER_REVIEW", Remarks: "picked up"}, officerHeaders)
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))

	res, data = srv.do(t, http.MethodGet, "/applications/app-1/history", nil, oemHeaders)
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	var history HistoryResponse
	require.NoError(t, json.Unmarshal(data, &history))
	require.Len(t, history.Items, 2)
	assert.Equal(t, domain.StatusUnderReview, history.Items[1].ToStatus)
	assert.Equal(t, "picked up", history.Items[1].Remarks)

	res, data = srv.do(t, http.MethodGet, "/applications/app-1/capabilities", nil, officerHeaders)
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	var caps CapabilitiesResponse
	require.NoError(t, json.Unmarshal(data, &caps))
	assert.True(t, caps.CanView)
	assert.True(t, caps.CanEdit)
	assert.ElementsMatch(t, []domain.Status{
		domain.StatusQueried, domain.StatusCommitteeReview, domain.StatusRejected,
	}, caps.Targets)
}

func TestIncompleteSubmitReportsViolations(t *testing.T) {
	srv := newTestServer(t)
	srv.createApp(t, "app-1", testfixture.WithoutAttachment(testfixture.CompleteDetails(), "photo-2"))

	res, data := srv.do(t, http.MethodPost, "/applications/app-1/submit", nil, oemHeaders)
	require.Equal(t, http.StatusBadRequest, res.StatusCode, string(data))
	env := decodeError(t, data)
	assert.Equal(t, "incomplete_application", env.Error.Code)
	assert.Equal(t, []any{"At least 2 geo-tagged photographs are required (Field 19)"}, env.Error.Details["violations"])
}

func TestOnlyAdminsRecordPayments(t *testing.T) {
	srv := newTestServer(t)
	body := createBody("app-1", testfixture.CompleteDetails())
	res, data := srv.do(t, http.MethodPost, "/applications", body, oemHeaders)
	require.Equal(t, http.StatusCreated, res.StatusCode, string(data))
	var created ApplicationResponse
	require.NoError(t, json.Unmarshal(data, &created))
	require.Len(t, created.Details.Payments, 1)
	assert.Equal(t, "PENDING", created.Details.Payments[0].Status)

	res, data = srv.do(t, http.MethodPost, "/applications/app-1/payments/pay-1", RecordPaymentRequest{Status: "COMPLETED"}, oemHeaders)
	require.Equal(t, http.StatusForbidden, res.StatusCode, string(data))

	res, data = srv.do(t, http.MethodPost, "/applications/app-1/submit", nil, oemHeaders)
	require.Equal(t, http.StatusBadRequest, res.StatusCode, string(data))
	assert.Equal(t, []any{"Application fee payment must be completed (Field 20)"}, decodeError(t, data).Error.Details["violations"])

	res, data = srv.do(t, http.MethodPost, "/applications/app-1/payments/pay-1", RecordPaymentRequest{Status: "COMPLETED"}, adminHeaders)
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	var app ApplicationResponse
	require.NoError(t, json.Unmarshal(data, &app))
	assert.Equal(t, "COMPLETED", app.Details.Payments[0].Status)

	res, data = srv.do(t, http.MethodPost, "/applications/app-1/payments/missing", RecordPaymentRequest{Status: "COMPLETED"}, adminHeaders)
	require.Equal(t, http.StatusNotFound, res.StatusCode, string(data))

	res, data = srv.do(t, http.MethodPost, "/applications/app-1/submit", nil, oemHeaders)
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
}

func TestDeniedRequestsUseForbidden(t *testing.T) {
	srv := newTestServer(t)
	srv.createApp(t, "app-1", testfixture.CompleteDetails())

	res, data := srv.do(t, http.MethodGet, "/applications/app-1", nil, otherHeaders)
	require.Equal(t, http.StatusForbidden, res.StatusCode, string(data))
	env := decodeError(t, data)
	assert.Equal(t, "ownership_violation", env.Error.Code)
	assert.Equal(t, "OWNERSHIP_VIOLATION", env.Error.Details["reason"])

	res, data = srv.do(t, http.MethodGet, "/applications/app-1", nil, officerHeaders)
	require.Equal(t, http.StatusForbidden, res.StatusCode, string(data))
	assert.Equal(t, "role_not_permitted", decodeError(t, data).Error.Code)

	res, data = srv.do(t, http.MethodPost, "/applications/app-1/status",
		ChangeStatusRequest{Status: "APPROVED"}, oemHeaders)
	require.Equal(t, http.StatusForbidden, res.StatusCode, string(data))
}

func TestInvalidTransitionAndMissingApplication(t *testing.T) {
	srv := newTestServer(t)
	srv.createApp(t, "app-1", testfixture.CompleteDetails())

	res, data := srv.do(t, http.MethodPost, "/applications/app-1/resubmit", nil, oemHeaders)
	require.Equal(t, http.StatusBadRequest, res.StatusCode, string(data))
	assert.Equal(t, "invalid_state_transition", decodeError(t, data).Error.Code)

	res, data = srv.do(t, http.MethodPost, "/applications/app-1/status", ChangeStatusRequest{Status: "DRAFT"}, adminHeaders)
	require.Equal(t, http.StatusBadRequest, res.StatusCode, string(data))
	env := decodeError(t, data)
	assert.Equal(t, "invalid_state_transition", env.Error.Code)
	assert.Equal(t, "status already set to this value", env.Error.Message)

	res, data = srv.do(t, http.MethodGet, "/applications/missing", nil, oemHeaders)
	require.Equal(t, http.StatusNotFound, res.StatusCode, string(data))
	assert.Equal(t, "not_found", decodeError(t, data).Error.Code)
}

func TestCreateRejectsMalformedDetails(t *testing.T) {
	srv := newTestServer(t)
	body := createBody("app-1", testfixture.CompleteDetails())
	body.Details.Contacts[0].Email = "not-an-email"

	res, data := srv.do(t, http.MethodPost, "/applications", body, oemHeaders)
	require.Equal(t, http.StatusBadRequest, res.StatusCode, string(data))
	env := decodeError(t, data)
	assert.Equal(t, "bad_request", env.Error.Code)
	assert.Contains(t, fmt.Sprint(env.Error.Details["fields"]), "Email")

	body = createBody("app-2", testfixture.CompleteDetails())
	bad := "twelve"
	body.Details.Turnover.Year1 = &bad
	res, data = srv.do(t, http.MethodPost, "/applications", body, oemHeaders)
	require.Equal(t, http.StatusBadRequest, res.StatusCode, string(data))
}

func TestListApplicationsScopesToOwner(t *testing.T) {
	srv := newTestServer(t)
	srv.createApp(t, "app-1", testfixture.CompleteDetails())
	res, data := srv.do(t, http.MethodPost, "/applications", CreateApplicationRequest{ID: "app-2"}, otherHeaders)
	require.Equal(t, http.StatusCreated, res.StatusCode, string(data))

	res, data = srv.do(t, http.MethodGet, "/applications", nil, oemHeaders)
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	var list ApplicationListResponse
	require.NoError(t, json.Unmarshal(data, &list))
	require.Len(t, list.Items, 1)
	assert.Equal(t, "app-1", list.Items[0].ID)
	assert.Nil(t, list.Items[0].Details)

	res, data = srv.do(t, http.MethodGet, "/applications?status=DRAFT", nil, adminHeaders)
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	require.NoError(t, json.Unmarshal(data, &list))
	assert.Len(t, list.Items, 2)

	res, _ = srv.do(t, http.MethodGet, "/applications?status=PENDING", nil, adminHeaders)
	assert.Equal(t, http.StatusBadRequest, res.StatusCode)
}

func TestAuthorizeEndpoint(t *testing.T) {
	srv := newTestServer(t)
	srv.createApp(t, "app-1", testfixture.CompleteDetails())

	target := "SUBMITTED"
	res, data := srv.do(t, http.MethodPost, "/applications/app-1/authorize",
		AuthorizeRequest{Action: "TRANSITION", TargetStatus: &target}, oemHeaders)
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	var d DecisionResponse
	require.NoError(t, json.Unmarshal(data, &d))
	assert.True(t, d.Allowed)
	assert.Equal(t, "ALLOWED", d.Reason)

	res, data = srv.do(t, http.MethodPost, "/applications/app-1/authorize",
		AuthorizeRequest{Action: "EDIT"}, adminHeaders)
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	require.NoError(t, json.Unmarshal(data, &d))
	assert.False(t, d.Allowed)
	assert.Equal(t, "ROLE_NOT_PERMITTED", d.Reason)
}

func TestDevLoginIssuesUsableToken(t *testing.T) {
	srv := newTestServer(t)
	res, data := srv.do(t, http.MethodPost, "/auth/dev/login", DevLoginRequest{ActorID: "oem-1", Role: "OEM"}, nil)
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	var login DevLoginResponse
	require.NoError(t, json.Unmarshal(data, &login))
	require.NotEmpty(t, login.Token)

	res, data = srv.do(t, http.MethodGet, "/me", nil, map[string]string{"Authorization": "Bearer " + login.Token})
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	var me WhoAmIResponse
	require.NoError(t, json.Unmarshal(data, &me))
	assert.Equal(t, WhoAmIResponse{ActorID: "oem-1", Role: domain.RoleApplicant, Source: "jwt"}, me)

	res, _ = srv.do(t, http.MethodPost, "/auth/dev/login", DevLoginRequest{ActorID: "oem-1", Role: "KING"}, nil)
	assert.Equal(t, http.StatusBadRequest, res.StatusCode)
}

func TestDevLoginDisabledByDefault(t *testing.T) {
	e := newTestEngine(t, config.Default())
	handler, err := New(Config{Engine: e, Auth: AuthConfig{JWTSecret: testSecret}})
	require.NoError(t, err)
	srv := httptest.NewServer(handler)
	defer srv.Close()

	res, err := srv.Client().Post(srv.URL+"/v1/auth/dev/login", "application/json", strings.NewReader(`{"actor_id":"a","role":"OEM"}`))
	require.NoError(t, err)
	res.Body.Close()
	assert.NotEqual(t, http.StatusOK, res.StatusCode)

	res, err = srv.Client().Get(srv.URL + "/v1/me")
	require.NoError(t, err)
	res.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, res.StatusCode)
}

func TestAPIKeyLifecycle(t *testing.T) {
	srv := newTestServer(t)

	res, data := srv.do(t, http.MethodPost, "/api-keys", CreateAPIKeyRequest{ActorID: "portal", Role: "OEM", Name: "portal"}, oemHeaders)
	require.Equal(t, http.StatusForbidden, res.StatusCode, string(data))

	res, data = srv.do(t, http.MethodPost, "/api-keys", CreateAPIKeyRequest{ActorID: "portal", Role: "OEM", Name: "portal"}, adminHeaders)
	require.Equal(t, http.StatusCreated, res.StatusCode, string(data))
	var created CreateAPIKeyResponse
	require.NoError(t, json.Unmarshal(data, &created))
	require.True(t, strings.HasPrefix(created.Secret, "plk_"))

	keyHeaders := map[string]string{"X-Api-Key": created.Secret}
	res, data = srv.do(t, http.MethodGet, "/me", nil, keyHeaders)
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	var me WhoAmIResponse
	require.NoError(t, json.Unmarshal(data, &me))
	assert.Equal(t, "portal", me.ActorID)
	assert.Equal(t, domain.RoleApplicant, me.Role)
	assert.Equal(t, "api_key", me.Source)

	res, data = srv.do(t, http.MethodGet, "/api-keys", nil, adminHeaders)
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	assert.NotContains(t, string(data), created.Secret)
	assert.Contains(t, string(data), created.Key.ID)

	res, data = srv.do(t, http.MethodDelete, "/api-keys/"+created.Key.ID, nil, adminHeaders)
	require.Equal(t, http.StatusNoContent, res.StatusCode, string(data))

	res, _ = srv.do(t, http.MethodGet, "/me", nil, keyHeaders)
	assert.Equal(t, http.StatusUnauthorized, res.StatusCode)
}

func TestActorsAndAssignment(t *testing.T) {
	srv := newTestServer(t)
	srv.createApp(t, "app-1", testfixture.CompleteDetails())
	res, data := srv.do(t, http.MethodPost, "/applications/app-1/submit", nil, oemHeaders)
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))

	for _, a := range []RegisterActorRequest{
		{ID: "officer-1", Role: "OFFICER"},
		{ID: "officer-2", Role: "OFFICER", DisplayName: "Second"},
	} {
		res, data := srv.do(t, http.MethodPost, "/actors", a, adminHeaders)
		require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	}
	res, data = srv.do(t, http.MethodGet, "/actors?role=OFFICER", nil, adminHeaders)
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	assert.Contains(t, string(data), "officer-2")

	res, data = srv.do(t, http.MethodPost, "/applications/app-1/assignment", AssignOfficerRequest{OfficerID: "officer-2"}, adminHeaders)
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	var app ApplicationResponse
	require.NoError(t, json.Unmarshal(data, &app))
	require.NotNil(t, app.AssignedOfficerID)
	assert.Equal(t, "officer-2", *app.AssignedOfficerID)

	res, data = srv.do(t, http.MethodPost, "/applications/app-1/status", ChangeStatusRequest{Status: "UNDER_REVIEW"}, officerHeaders)
	require.Equal(t, http.StatusForbidden, res.StatusCode, string(data))

	res, data = srv.do(t, http.MethodPost, "/applications/app-1/assignment", AssignOfficerRequest{OfficerID: "nobody"}, adminHeaders)
	require.Equal(t, http.StatusBadRequest, res.StatusCode, string(data))
}

func TestEventsPaginate(t *testing.T) {
	srv := newTestServer(t)
	srv.createApp(t, "app-1", testfixture.CompleteDetails())
	res, data := srv.do(t, http.MethodPost, "/applications/app-1/submit", nil, oemHeaders)
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))

	res, data = srv.do(t, http.MethodGet, "/events?application_id=app-1&limit=1", nil, oemHeaders)
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	var page paginatedEvents
	require.NoError(t, json.Unmarshal(data, &page))
	require.Len(t, page.Items, 1)
	assert.Equal(t, events.TypeApplicationTransitioned, page.Items[0].Type)
	assert.Equal(t, "SUBMITTED", page.Items[0].Payload["to"])
	require.NotEmpty(t, page.NextCursor)

	res, data = srv.do(t, http.MethodGet, "/events?application_id=app-1&limit=1&cursor="+page.NextCursor, nil, oemHeaders)
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	require.NoError(t, json.Unmarshal(data, &page))
	require.Len(t, page.Items, 1)
	assert.Equal(t, events.TypePaymentRecorded, page.Items[0].Type)
	assert.Equal(t, "COMPLETED", page.Items[0].Payload["status"])
	require.NotEmpty(t, page.NextCursor)

	res, data = srv.do(t, http.MethodGet, "/events?application_id=app-1&limit=1&cursor="+page.NextCursor, nil, oemHeaders)
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	require.NoError(t, json.Unmarshal(data, &page))
	require.Len(t, page.Items, 1)
	assert.Equal(t, events.TypeApplicationCreated, page.Items[0].Type)
	assert.Empty(t, page.NextCursor)

	res, _ = srv.do(t, http.MethodGet, "/events", nil, oemHeaders)
	assert.Equal(t, http.StatusForbidden, res.StatusCode)
	res, _ = srv.do(t, http.MethodGet, "/events?cursor=abc", nil, adminHeaders)
	assert.Equal(t, http.StatusBadRequest, res.StatusCode)
}

func TestMetricsAndOpenAPIArePublished(t *testing.T) {
	srv := newTestServer(t)
	srv.createApp(t, "app-1", testfixture.CompleteDetails())
	srv.do(t, http.MethodPost, "/applications/app-1/submit", nil, oemHeaders)

	res, err := srv.client.Get(strings.TrimSuffix(srv.URL, "/v1") + "/metrics")
	require.NoError(t, err)
	body, _ := io.ReadAll(res.Body)
	res.Body.Close()
	require.Equal(t, http.StatusOK, res.StatusCode)
	assert.Contains(t, string(body), "permitline_http_requests_total")
	assert.Contains(t, string(body), `permitline_lifecycle_transitions_total{from="DRAFT",to="SUBMITTED"} 1`)

	res, data := srv.do(t, http.MethodGet, "/openapi.json", nil, nil)
	require.Equal(t, http.StatusOK, res.StatusCode)
	assert.Contains(t, string(data), "/v1/applications/{id}/submit")
	assert.Contains(t, string(data), "bearerAuth")
}

func TestHandleErrorMapping(t *testing.T) {
	h := handlers{log: logrus.New()}
	cases := []struct {
		err    error
		status int
		code   string
	}{
		{auth.DeniedError{Reason: auth.ReasonAuthenticationRequired}, http.StatusUnauthorized, "unauthorized"},
		{auth.DeniedError{Reason: auth.ReasonIllegalTransition, Message: "no"}, http.StatusForbidden, "illegal_transition"},
		{&lifecycle.IncompleteApplicationError{Violations: []string{"x"}}, http.StatusBadRequest, "incomplete_application"},
		{&lifecycle.InvalidTransitionError{From: domain.StatusDraft, To: domain.StatusApproved, Message: "no"}, http.StatusBadRequest, "invalid_state_transition"},
		{fmt.Errorf("load: %w", repo.ErrNotFound), http.StatusNotFound, "not_found"},
		{fmt.Errorf("commit: %w", repo.ErrConflict), http.StatusConflict, "concurrency_conflict"},
		{fmt.Errorf("%w: bad", engine.ErrInvalidInput), http.StatusBadRequest, "bad_request"},
		{errors.New("disk on fire"), http.StatusInternalServerError, "internal_error"},
	}
	for _, tc := range cases {
		got := h.handleError(tc.err).(*apiError)
		assert.Equal(t, tc.status, got.GetStatus(), tc.err.Error())
		assert.Equal(t, tc.code, got.Body.Code, tc.err.Error())
	}
	assert.Equal(t, "internal error", h.handleError(errors.New("secret detail")).Error())
}

type hookRecorder struct {
	mu       sync.Mutex
	status   int
	requests []recordedHook
}

type recordedHook struct {
	Header http.Header
	Body   []byte
}

func (r *hookRecorder) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	body, _ := io.ReadAll(req.Body)
	r.mu.Lock()
	defer r.mu.Unlock()
	r.requests = append(r.requests, recordedHook{Header: req.Header.Clone(), Body: body})
	if r.status != 0 {
		w.WriteHeader(r.status)
	}
}

func (r *hookRecorder) received() []recordedHook {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]recordedHook(nil), r.requests...)
}

func TestWebhookDeliversSignedEvents(t *testing.T) {
	rec := &hookRecorder{}
	hook := httptest.NewServer(rec)
	defer hook.Close()

	cfg := config.Default()
	cfg.Webhooks = []config.WebhookConfig{{
		URL:    hook.URL,
		Events: []string{events.TypeApplicationTransitioned},
		Secret: "s3cret",
	}}
	e := newTestEngine(t, cfg)
	ctx := context.Background()
	oem := &domain.Actor{ID: "oem-1", Role: domain.RoleApplicant}

	_, err := e.CreateApplication(ctx, oem, engine.ApplicationInput{ID: "app-0"})
	require.NoError(t, err)

	d := newWebhookDispatcher(e, nil)
	require.NotNil(t, d)
	d.dispatchAll(ctx)
	assert.Empty(t, rec.received(), "events before start are not replayed")

	_, err = e.CreateApplication(ctx, oem, engine.ApplicationInput{ID: "app-1", Details: testfixture.CompleteDetails()})
	require.NoError(t, err)
	_, err = e.RecordPayment(ctx, &domain.Actor{ID: "admin-1", Role: domain.RoleAdmin}, "app-1", "pay-1", domain.PaymentCompleted)
	require.NoError(t, err)
	_, err = e.Submit(ctx, oem, "app-1")
	require.NoError(t, err)
	d.dispatchAll(ctx)

	got := rec.received()
	require.Len(t, got, 1)
	assert.Equal(t, events.TypeApplicationTransitioned, got[0].Header.Get("X-Permitline-Event"))
	assert.Equal(t, "sha256="+signPayload("s3cret", got[0].Body), got[0].Header.Get("X-Permitline-Signature"))
	var payload webhookEvent
	require.NoError(t, json.Unmarshal(got[0].Body, &payload))
	assert.Equal(t, "app-1", payload.ApplicationID)
	assert.Contains(t, string(payload.Payload), `"to":"SUBMITTED"`)

	d.dispatchAll(ctx)
	assert.Len(t, rec.received(), 1)
}

func TestWebhookRetriesFailedDelivery(t *testing.T) {
	rec := &hookRecorder{status: http.StatusBadGateway}
	hook := httptest.NewServer(rec)
	defer hook.Close()

	cfg := config.Default()
	cfg.Webhooks = []config.WebhookConfig{{URL: hook.URL}}
	e := newTestEngine(t, cfg)
	ctx := context.Background()

	d := newWebhookDispatcher(e, nil)
	d.dispatchAll(ctx)
	_, err := e.CreateApplication(ctx, &domain.Actor{ID: "oem-1", Role: domain.RoleApplicant}, engine.ApplicationInput{ID: "app-1"})
	require.NoError(t, err)

	d.dispatchAll(ctx)
	d.dispatchAll(ctx)
	got := rec.received()
	require.Len(t, got, 2)
	assert.Equal(t, got[0].Header.Get("X-Permitline-Delivery"), got[1].Header.Get("X-Permitline-Delivery"))
	assert.Empty(t, got[0].Header.Get("X-Permitline-Signature"))
}

func TestWebhookDispatcherNeedsHooks(t *testing.T) {
	assert.Nil(t, newWebhookDispatcher(newTestEngine(t, config.Default()), nil))
}
