package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
	"github.com/sirupsen/logrus"

	"permitline/internal/domain"
	"permitline/internal/engine"
	"permitline/internal/engine/auth"
	"permitline/internal/engine/lifecycle"
	"permitline/internal/metrics"
	"permitline/internal/repo"
)

// Config for the HTTP API handler.
type Config struct {
	Engine   engine.Engine
	BasePath string
	Auth     AuthConfig
	Log      logrus.FieldLogger
	Metrics  *metrics.Collector
}

type apiErrorBody struct {
	Code    string         `json:"code" example:"role_not_permitted"`
	Message string         `json:"message" example:"Role OFFICER cannot edit applications in DRAFT status"`
	Details map[string]any `json:"details,omitempty" jsonschema:"type=object,additionalProperties=true"`
}

// apiError models the error envelope.
type apiError struct {
	status int
	Body   apiErrorBody `json:"error"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Body.Message }

// New returns an HTTP handler exposing the permitline API.
func New(cfg Config) (http.Handler, error) {
	basePath := cfg.BasePath
	if basePath == "" {
		basePath = "/v1"
	}
	if !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}
	log := cfg.Log
	if log == nil {
		log = cfg.Engine.Log
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	if cfg.Auth.Logger == nil {
		cfg.Auth.Logger = log
	}
	collector := cfg.Metrics
	if collector == nil {
		collector = cfg.Engine.Metrics
	}

	huma.DefaultArrayNullable = false
	huma.NewError = func(status int, msg string, errs ...error) huma.StatusError {
		return newAPIError(status, "", msg, nil)
	}
	huma.NewErrorWithContext = func(_ huma.Context, status int, msg string, errs ...error) huma.StatusError {
		if status == http.StatusUnprocessableEntity && strings.Contains(strings.ToLower(msg), "validation") {
			status = http.StatusBadRequest
		}
		var details map[string]any
		if len(errs) > 0 {
			details = map[string]any{"errors": errs}
		}
		return newAPIError(status, "", msg, details)
	}

	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.Recoverer)
	router.Use(collector.InstrumentHandler)
	router.Use(newAuthMiddleware(basePath, cfg.Auth, cfg.Engine.Repo))
	if collector != nil {
		router.Handle("/metrics", collector.Handler())
	}

	hcfg := huma.DefaultConfig("permitline API", "1.0.0")
	hcfg.OpenAPIPath = ""
	hcfg.DocsPath = ""
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	h := handlers{engine: cfg.Engine, log: log}
	registerDocs(router, basePath)
	registerHealth(group)
	registerMe(group)
	registerApplications(group, h)
	registerTransitions(group, h)
	registerPayments(group, h)
	registerAuthorization(group, h)
	registerEvents(group, h)
	registerActors(group, h)
	registerAPIKeys(group, h)
	if cfg.Auth.DevLogin {
		registerDevAuth(group, cfg.Auth)
	}
	registerOpenAPI(router, api, basePath)

	return router, nil
}

// handlers carries what every route needs.
type handlers struct {
	engine engine.Engine
	log    logrus.FieldLogger
}

func newAPIError(status int, code, message string, details map[string]any) huma.StatusError {
	if code == "" {
		code = defaultCodeForStatus(status)
	}
	return &apiError{
		status: status,
		Body: apiErrorBody{
			Code:    code,
			Message: message,
			Details: details,
		},
	}
}

// handleError maps engine errors onto the envelope.
func (h handlers) handleError(err error) huma.StatusError {
	if err == nil {
		return nil
	}
	var denied auth.DeniedError
	if errors.As(err, &denied) {
		details := map[string]any{"reason": denied.Reason}
		if denied.Reason == auth.ReasonAuthenticationRequired {
			return newAPIError(http.StatusUnauthorized, "unauthorized", err.Error(), details)
		}
		return newAPIError(http.StatusForbidden, strings.ToLower(string(denied.Reason)), err.Error(), details)
	}
	var incomplete *lifecycle.IncompleteApplicationError
	if errors.As(err, &incomplete) {
		return newAPIError(http.StatusBadRequest, "incomplete_application", "application is incomplete",
			map[string]any{"violations": incomplete.Violations})
	}
	var invalid *lifecycle.InvalidTransitionError
	if errors.As(err, &invalid) {
		return newAPIError(http.StatusBadRequest, "invalid_state_transition", invalid.Message,
			map[string]any{"from": invalid.From, "to": invalid.To})
	}
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) {
		fields := make([]string, 0, len(verrs))
		for _, fe := range verrs {
			fields = append(fields, fmt.Sprintf("%s: %s", fe.Namespace(), fe.Tag()))
		}
		return newAPIError(http.StatusBadRequest, "bad_request", "request validation failed", map[string]any{"fields": fields})
	}
	switch {
	case errors.Is(err, repo.ErrNotFound):
		return newAPIError(http.StatusNotFound, "not_found", err.Error(), nil)
	case errors.Is(err, repo.ErrConflict):
		return newAPIError(http.StatusConflict, "concurrency_conflict", err.Error(), nil)
	case errors.Is(err, engine.ErrInvalidInput):
		return newAPIError(http.StatusBadRequest, "bad_request", err.Error(), nil)
	}
	h.log.WithError(err).Error("request failed")
	return newAPIError(http.StatusInternalServerError, "internal_error", "internal error", nil)
}

func defaultCodeForStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "bad_request"
	case http.StatusUnauthorized:
		return "unauthorized"
	case http.StatusNotFound:
		return "not_found"
	case http.StatusConflict:
		return "conflict"
	case http.StatusUnprocessableEntity:
		return "validation_failed"
	case http.StatusForbidden:
		return "forbidden"
	case http.StatusInternalServerError:
		return "internal_error"
	default:
		return strings.ToLower(strings.ReplaceAll(http.StatusText(status), " ", "_"))
	}
}

func registerDocs(r chi.Router, basePath string) {
	r.Get("/docs", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		io.WriteString(w, swaggerHTML(basePath))
	})
}

func registerOpenAPI(r chi.Router, api huma.API, basePath string) {
	var (
		once sync.Once
		spec []byte
	)
	r.Get(path.Join(basePath, "openapi.json"), func(w http.ResponseWriter, r *http.Request) {
		once.Do(func() {
			oas := api.OpenAPI()
			ensureDefaultErrorResponses(oas)
			applyAuthSecurity(oas, basePath)
			spec, _ = json.Marshal(oas)
		})
		w.Header().Set("Content-Type", "application/json")
		w.Write(spec)
	})
}

func ensureDefaultErrorResponses(oas *huma.OpenAPI) {
	if oas == nil || oas.Paths == nil {
		return
	}
	for _, item := range oas.Paths {
		for _, op := range []*huma.Operation{
			item.Get, item.Put, item.Post, item.Delete, item.Options, item.Head, item.Patch, item.Trace,
		} {
			if op == nil {
				continue
			}
			if op.Responses == nil {
				op.Responses = map[string]*huma.Response{}
			}
			op.Responses["default"] = &huma.Response{
				Description: "Error",
				Content: map[string]*huma.MediaType{
					"application/json": {
						Schema: &huma.Schema{Ref: "#/components/schemas/ApiError"},
					},
				},
			}
		}
	}
}

func applyAuthSecurity(oas *huma.OpenAPI, basePath string) {
	if oas == nil {
		return
	}
	if oas.Components == nil {
		oas.Components = &huma.Components{}
	}
	if oas.Components.SecuritySchemes == nil {
		oas.Components.SecuritySchemes = map[string]*huma.SecurityScheme{}
	}
	oas.Components.SecuritySchemes["bearerAuth"] = &huma.SecurityScheme{
		Type:         "http",
		Scheme:       "bearer",
		BearerFormat: "JWT",
	}
	oas.Components.SecuritySchemes["apiKeyAuth"] = &huma.SecurityScheme{
		Type: "apiKey",
		In:   "header",
		Name: "X-Api-Key",
	}
	security := []map[string][]string{
		{"bearerAuth": {}},
		{"apiKeyAuth": {}},
	}
	oas.Security = security
	public := map[string]bool{
		path.Join(basePath, "health"):         true,
		path.Join(basePath, "auth/dev/login"): true,
	}
	for route, item := range oas.Paths {
		for _, op := range []*huma.Operation{
			item.Get, item.Put, item.Post, item.Delete, item.Options, item.Head, item.Patch, item.Trace,
		} {
			if op == nil {
				continue
			}
			if public[route] {
				op.Security = []map[string][]string{}
				continue
			}
			op.Security = security
		}
	}
}

func swaggerHTML(basePath string) string {
	specURL := path.Join("/", path.Join(basePath, "openapi.json"))
	return fmt.Sprintf(`<!doctype html>
<html lang="en">
  <head>
    <meta charset="utf-8"/>
    <meta name="viewport" content="width=device-width, initial-scale=1"/>
    <title>permitline API Docs</title>
    <link rel="stylesheet" href="https://unpkg.com/swagger-ui-dist@5/swagger-ui.css" />
  </head>
  <body>
    <div id="swagger-ui"></div>
    <script src="https://unpkg.com/swagger-ui-dist@5/swagger-ui-bundle.js" crossorigin></script>
    <script>
      window.onload = () => {
        SwaggerUIBundle({
          url: '%s',
          dom_id: '#swagger-ui'
        });
      };
    </script>
    <p style="padding: 1rem; font-family: sans-serif; color: #444;">
      Authenticate with Authorization: Bearer &lt;token&gt; or X-Api-Key.
    </p>
  </body>
</html>`, specURL)
}

var commonErrors = []int{
	http.StatusBadRequest,
	http.StatusUnauthorized,
	http.StatusForbidden,
	http.StatusNotFound,
	http.StatusConflict,
}

func registerHealth(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "health",
		Method:      http.MethodGet,
		Path:        "/health",
		Summary:     "Health check",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body map[string]string `json:"body"`
	}, error) {
		return &struct {
			Body map[string]string `json:"body"`
		}{Body: map[string]string{"status": "ok"}}, nil
	})
}

func registerMe(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "me",
		Method:      http.MethodGet,
		Path:        "/me",
		Summary:     "Current principal",
		Errors:      []int{http.StatusUnauthorized},
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body WhoAmIResponse `json:"body"`
	}, error) {
		principal, authErr := principalFromRequest(ctx)
		if authErr != nil {
			return nil, authErr
		}
		return &struct {
			Body WhoAmIResponse `json:"body"`
		}{Body: WhoAmIResponse{ActorID: principal.ActorID, Role: principal.Role, Source: principal.Source}}, nil
	})
}

type applicationPath struct {
	ID string `path:"id"`
}

type applicationOutput struct {
	Body ApplicationResponse `json:"body"`
}

func registerApplications(api huma.API, h handlers) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-application",
		Method:        http.MethodPost,
		Path:          "/applications",
		Summary:       "Create a draft application",
		DefaultStatus: http.StatusCreated,
		Errors:        commonErrors,
	}, func(ctx context.Context, input *struct {
		Body CreateApplicationRequest `json:"body"`
	}) (*applicationOutput, error) {
		if err := validate.Struct(input.Body); err != nil {
			return nil, h.handleError(err)
		}
		details, err := input.Body.Details.toDomain()
		if err != nil {
			return nil, h.handleError(err)
		}
		app, err := h.engine.CreateApplication(ctx, actorFromContext(ctx), engine.ApplicationInput{
			ID:          input.Body.ID,
			ApplicantID: input.Body.ApplicantID,
			Details:     details,
		})
		if err != nil {
			return nil, h.handleError(err)
		}
		return &applicationOutput{Body: applicationResponse(app, true)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-applications",
		Method:      http.MethodGet,
		Path:        "/applications",
		Summary:     "List visible applications",
		Errors:      commonErrors,
	}, func(ctx context.Context, input *struct {
		Status []string `query:"status"`
		Limit  int      `query:"limit" default:"50"`
	}) (*struct {
		Body ApplicationListResponse `json:"body"`
	}, error) {
		var statuses []domain.Status
		for _, s := range input.Status {
			st, err := domain.ParseStatus(s)
			if err != nil {
				return nil, newAPIError(http.StatusBadRequest, "bad_request", err.Error(), nil)
			}
			statuses = append(statuses, st)
		}
		apps, err := h.engine.ListApplications(ctx, actorFromContext(ctx), engine.ListOptions{
			Statuses: statuses,
			Limit:    normalizeLimit(input.Limit),
		})
		if err != nil {
			return nil, h.handleError(err)
		}
		res := ApplicationListResponse{Items: make([]ApplicationResponse, 0, len(apps))}
		for _, app := range apps {
			res.Items = append(res.Items, applicationResponse(app, false))
		}
		return &struct {
			Body ApplicationListResponse `json:"body"`
		}{Body: res}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-application",
		Method:      http.MethodGet,
		Path:        "/applications/{id}",
		Summary:     "Get application",
		Errors:      commonErrors,
	}, func(ctx context.Context, input *applicationPath) (*applicationOutput, error) {
		app, err := h.engine.GetApplication(ctx, actorFromContext(ctx), input.ID)
		if err != nil {
			return nil, h.handleError(err)
		}
		return &applicationOutput{Body: applicationResponse(app, true)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-application",
		Method:      http.MethodPut,
		Path:        "/applications/{id}",
		Summary:     "Replace application details",
		Errors:      commonErrors,
	}, func(ctx context.Context, input *struct {
		ID   string                 `path:"id"`
		Body ApplicationDetailsBody `json:"body"`
	}) (*applicationOutput, error) {
		if err := validate.Struct(input.Body); err != nil {
			return nil, h.handleError(err)
		}
		details, err := input.Body.toDomain()
		if err != nil {
			return nil, h.handleError(err)
		}
		app, err := h.engine.UpdateApplication(ctx, actorFromContext(ctx), input.ID, details)
		if err != nil {
			return nil, h.handleError(err)
		}
		return &applicationOutput{Body: applicationResponse(app, true)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "validate-application",
		Method:      http.MethodGet,
		Path:        "/applications/{id}/validation",
		Summary:     "Run the completeness rules",
		Errors:      commonErrors,
	}, func(ctx context.Context, input *applicationPath) (*struct {
		Body ValidationResponse `json:"body"`
	}, error) {
		violations, err := h.engine.Validate(ctx, actorFromContext(ctx), input.ID)
		if err != nil {
			return nil, h.handleError(err)
		}
		return &struct {
			Body ValidationResponse `json:"body"`
		}{Body: ValidationResponse{Complete: len(violations) == 0, Violations: violations}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "application-history",
		Method:      http.MethodGet,
		Path:        "/applications/{id}/history",
		Summary:     "Status history, oldest first",
		Errors:      commonErrors,
	}, func(ctx context.Context, input *applicationPath) (*struct {
		Body HistoryResponse `json:"body"`
	}, error) {
		items, err := h.engine.History(ctx, actorFromContext(ctx), input.ID)
		if err != nil {
			return nil, h.handleError(err)
		}
		if items == nil {
			items = []domain.StatusHistory{}
		}
		return &struct {
			Body HistoryResponse `json:"body"`
		}{Body: HistoryResponse{Items: items}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "assign-officer",
		Method:      http.MethodPost,
		Path:        "/applications/{id}/assignment",
		Summary:     "Assign a reviewing officer",
		Errors:      commonErrors,
	}, func(ctx context.Context, input *struct {
		ID   string               `path:"id"`
		Body AssignOfficerRequest `json:"body"`
	}) (*applicationOutput, error) {
		app, err := h.engine.AssignOfficer(ctx, actorFromContext(ctx), input.ID, input.Body.OfficerID)
		if err != nil {
			return nil, h.handleError(err)
		}
		return &applicationOutput{Body: applicationResponse(app, false)}, nil
	})
}

func registerTransitions(api huma.API, h handlers) {
	huma.Register(api, huma.Operation{
		OperationID: "submit-application",
		Method:      http.MethodPost,
		Path:        "/applications/{id}/submit",
		Summary:     "Submit a draft",
		Errors:      commonErrors,
	}, func(ctx context.Context, input *applicationPath) (*applicationOutput, error) {
		app, err := h.engine.Submit(ctx, actorFromContext(ctx), input.ID)
		if err != nil {
			return nil, h.handleError(err)
		}
		return &applicationOutput{Body: applicationResponse(app, false)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "resubmit-application",
		Method:      http.MethodPost,
		Path:        "/applications/{id}/resubmit",
		Summary:     "Answer a query",
		Errors:      commonErrors,
	}, func(ctx context.Context, input *applicationPath) (*applicationOutput, error) {
		app, err := h.engine.Resubmit(ctx, actorFromContext(ctx), input.ID)
		if err != nil {
			return nil, h.handleError(err)
		}
		return &applicationOutput{Body: applicationResponse(app, false)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "withdraw-application",
		Method:      http.MethodPost,
		Path:        "/applications/{id}/withdraw",
		Summary:     "Withdraw an application",
		Errors:      commonErrors,
	}, func(ctx context.Context, input *struct {
		ID   string          `path:"id"`
		Body WithdrawRequest `json:"body"`
	}) (*applicationOutput, error) {
		app, err := h.engine.Withdraw(ctx, actorFromContext(ctx), input.ID, input.Body.Reason)
		if err != nil {
			return nil, h.handleError(err)
		}
		return &applicationOutput{Body: applicationResponse(app, false)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "change-status",
		Method:      http.MethodPost,
		Path:        "/applications/{id}/status",
		Summary:     "Move an application to another status",
		Errors:      commonErrors,
	}, func(ctx context.Context, input *struct {
		ID   string              `path:"id"`
		Body ChangeStatusRequest `json:"body"`
	}) (*applicationOutput, error) {
		app, err := h.engine.ChangeStatus(ctx, actorFromContext(ctx), input.ID,
			domain.Status(strings.TrimSpace(input.Body.Status)), input.Body.Remarks)
		if err != nil {
			return nil, h.handleError(err)
		}
		return &applicationOutput{Body: applicationResponse(app, false)}, nil
	})
}

func registerPayments(api huma.API, h handlers) {
	huma.Register(api, huma.Operation{
		OperationID: "record-payment",
		Method:      http.MethodPost,
		Path:        "/applications/{id}/payments/{payment_id}",
		Summary:     "Record the reconciled status of a payment",
		Errors:      commonErrors,
	}, func(ctx context.Context, input *struct {
		ID        string               `path:"id"`
		PaymentID string               `path:"payment_id"`
		Body      RecordPaymentRequest `json:"body"`
	}) (*applicationOutput, error) {
		app, err := h.engine.RecordPayment(ctx, actorFromContext(ctx), input.ID, input.PaymentID,
			domain.PaymentStatus(input.Body.Status))
		if err != nil {
			return nil, h.handleError(err)
		}
		return &applicationOutput{Body: applicationResponse(app, true)}, nil
	})
}

func registerAuthorization(api huma.API, h handlers) {
	huma.Register(api, huma.Operation{
		OperationID: "authorize",
		Method:      http.MethodPost,
		Path:        "/applications/{id}/authorize",
		Summary:     "Evaluate one authorization decision",
		Errors:      commonErrors,
	}, func(ctx context.Context, input *struct {
		ID   string           `path:"id"`
		Body AuthorizeRequest `json:"body"`
	}) (*struct {
		Body DecisionResponse `json:"body"`
	}, error) {
		action, err := domain.ParseAction(input.Body.Action)
		if err != nil {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", err.Error(), nil)
		}
		var target *domain.Status
		if input.Body.TargetStatus != nil {
			st := domain.Status(strings.TrimSpace(*input.Body.TargetStatus))
			target = &st
		}
		d, err := h.engine.Authorize(ctx, actorFromContext(ctx), action, input.ID, target)
		if err != nil {
			return nil, h.handleError(err)
		}
		return &struct {
			Body DecisionResponse `json:"body"`
		}{Body: DecisionResponse{Allowed: d.Allowed, Reason: string(d.Reason), Message: d.Message}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "application-capabilities",
		Method:      http.MethodGet,
		Path:        "/applications/{id}/capabilities",
		Summary:     "What the caller may do with an application",
		Errors:      commonErrors,
	}, func(ctx context.Context, input *applicationPath) (*struct {
		Body CapabilitiesResponse `json:"body"`
	}, error) {
		caps, err := h.engine.Capabilities(ctx, actorFromContext(ctx), input.ID)
		if err != nil {
			return nil, h.handleError(err)
		}
		return &struct {
			Body CapabilitiesResponse `json:"body"`
		}{Body: caps}, nil
	})
}

func registerEvents(api huma.API, h handlers) {
	huma.Register(api, huma.Operation{
		OperationID: "list-events",
		Method:      http.MethodGet,
		Path:        "/events",
		Summary:     "List recent audit events",
		Errors:      commonErrors,
	}, func(ctx context.Context, input *struct {
		ApplicationID string `query:"application_id"`
		Type          string `query:"type"`
		Limit         int    `query:"limit" default:"50"`
		Cursor        string `query:"cursor"`
	}) (*struct {
		Body paginatedEvents `json:"body"`
	}, error) {
		limit := normalizeLimit(input.Limit)
		var cursorID int64
		if input.Cursor != "" {
			parsed, err := strconv.ParseInt(input.Cursor, 10, 64)
			if err != nil {
				return nil, newAPIError(http.StatusBadRequest, "bad_request", "invalid cursor", map[string]any{"cursor": input.Cursor})
			}
			cursorID = parsed
		}
		items, err := h.engine.ListEvents(ctx, actorFromContext(ctx), repo.EventFilters{
			Limit:         limit + 1,
			Cursor:        cursorID,
			ApplicationID: input.ApplicationID,
			Type:          input.Type,
		})
		if err != nil {
			return nil, h.handleError(err)
		}
		resp := paginatedEvents{Items: []EventResponse{}}
		if len(items) > limit {
			resp.NextCursor = strconv.FormatInt(items[limit-1].ID, 10)
			items = items[:limit]
		}
		for _, evt := range items {
			resp.Items = append(resp.Items, eventResponse(evt))
		}
		return &struct {
			Body paginatedEvents `json:"body"`
		}{Body: resp}, nil
	})
}

func registerActors(api huma.API, h handlers) {
	huma.Register(api, huma.Operation{
		OperationID: "register-actor",
		Method:      http.MethodPost,
		Path:        "/actors",
		Summary:     "Register an actor and its role",
		Errors:      commonErrors,
	}, func(ctx context.Context, input *struct {
		Body RegisterActorRequest `json:"body"`
	}) (*struct {
		Body domain.ActorRecord `json:"body"`
	}, error) {
		rec, err := h.engine.RegisterActor(ctx, actorFromContext(ctx), domain.ActorRecord{
			ID:          input.Body.ID,
			Role:        domain.Role(strings.TrimSpace(input.Body.Role)),
			DisplayName: input.Body.DisplayName,
		})
		if err != nil {
			return nil, h.handleError(err)
		}
		return &struct {
			Body domain.ActorRecord `json:"body"`
		}{Body: rec}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-actors",
		Method:      http.MethodGet,
		Path:        "/actors",
		Summary:     "List registered actors",
		Errors:      commonErrors,
	}, func(ctx context.Context, input *struct {
		Role string `query:"role"`
	}) (*struct {
		Body struct {
			Items []domain.ActorRecord `json:"items"`
		} `json:"body"`
	}, error) {
		items, err := h.engine.ListActors(ctx, actorFromContext(ctx), domain.Role(input.Role))
		if err != nil {
			return nil, h.handleError(err)
		}
		out := &struct {
			Body struct {
				Items []domain.ActorRecord `json:"items"`
			} `json:"body"`
		}{}
		out.Body.Items = nonNilSlice(items)
		return out, nil
	})
}

func registerAPIKeys(api huma.API, h handlers) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-api-key",
		Method:        http.MethodPost,
		Path:          "/api-keys",
		Summary:       "Issue an API key",
		DefaultStatus: http.StatusCreated,
		Errors:        commonErrors,
	}, func(ctx context.Context, input *struct {
		Body CreateAPIKeyRequest `json:"body"`
	}) (*struct {
		Body CreateAPIKeyResponse `json:"body"`
	}, error) {
		key, secret, err := h.engine.CreateAPIKey(ctx, actorFromContext(ctx), input.Body.ActorID,
			domain.Role(strings.TrimSpace(input.Body.Role)), input.Body.Name)
		if err != nil {
			return nil, h.handleError(err)
		}
		return &struct {
			Body CreateAPIKeyResponse `json:"body"`
		}{Body: CreateAPIKeyResponse{Key: apiKeyResponse(key), Secret: secret}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-api-keys",
		Method:      http.MethodGet,
		Path:        "/api-keys",
		Summary:     "List API keys",
		Errors:      commonErrors,
	}, func(ctx context.Context, input *struct {
		ActorID string `query:"actor_id"`
	}) (*struct {
		Body struct {
			Items []APIKeyResponse `json:"items"`
		} `json:"body"`
	}, error) {
		keys, err := h.engine.ListAPIKeys(ctx, actorFromContext(ctx), input.ActorID)
		if err != nil {
			return nil, h.handleError(err)
		}
		out := &struct {
			Body struct {
				Items []APIKeyResponse `json:"items"`
			} `json:"body"`
		}{}
		out.Body.Items = make([]APIKeyResponse, 0, len(keys))
		for _, k := range keys {
			out.Body.Items = append(out.Body.Items, apiKeyResponse(k))
		}
		return out, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "delete-api-key",
		Method:        http.MethodDelete,
		Path:          "/api-keys/{id}",
		Summary:       "Revoke an API key",
		DefaultStatus: http.StatusNoContent,
		Errors:        commonErrors,
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct{}, error) {
		if err := h.engine.DeleteAPIKey(ctx, actorFromContext(ctx), input.ID); err != nil {
			return nil, h.handleError(err)
		}
		return &struct{}{}, nil
	})
}

func registerDevAuth(api huma.API, authCfg AuthConfig) {
	huma.Register(api, huma.Operation{
		OperationID: "dev-login",
		Method:      http.MethodPost,
		Path:        "/auth/dev/login",
		Summary:     "DEV ONLY: mint a JWT for local testing",
		Errors:      []int{http.StatusBadRequest, http.StatusInternalServerError},
	}, func(ctx context.Context, input *struct {
		Body DevLoginRequest `json:"body"`
	}) (*struct {
		Body DevLoginResponse `json:"body"`
	}, error) {
		actor := strings.TrimSpace(input.Body.ActorID)
		role, err := domain.ParseRole(strings.TrimSpace(input.Body.Role))
		if actor == "" || err != nil {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "actor_id and a known role are required", nil)
		}
		ttl := time.Duration(input.Body.TTLSeconds) * time.Second
		token, err := signDevToken(authCfg.JWTSecret, actor, role, ttl)
		if err != nil {
			return nil, newAPIError(http.StatusInternalServerError, "internal_error", err.Error(), nil)
		}
		return &struct {
			Body DevLoginResponse `json:"body"`
		}{Body: DevLoginResponse{Token: token}}, nil
	})
}

func normalizeLimit(in int) int {
	if in <= 0 {
		return 50
	}
	if in > 200 {
		return 200
	}
	return in
}

func nonNilSlice[T any](in []T) []T {
	if in == nil {
		return []T{}
	}
	return in
}
