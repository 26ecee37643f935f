package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"permitline/internal/config"
	"permitline/internal/domain"
	"permitline/internal/engine/auth"
	"permitline/internal/engine/completeness"
	"permitline/internal/engine/lifecycle"
	"permitline/internal/events"
	"permitline/internal/metrics"
	"permitline/internal/repo"
)

// ErrInvalidInput marks requests rejected before any rule is evaluated.
var ErrInvalidInput = errors.New("invalid input")

type Engine struct {
	DB         *sql.DB
	Repo       repo.Repo
	Events     events.Writer
	Config     *config.Config
	Authorizer auth.Authorizer
	Validator  *completeness.Validator
	Lifecycle  lifecycle.Lifecycle
	Log        logrus.FieldLogger
	Metrics    *metrics.Collector
	Now        func() time.Time
	NewID      func() string
}

func New(db *sql.DB, cfg *config.Config) (Engine, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	if err := cfg.Validate(); err != nil {
		return Engine{}, err
	}
	validator, err := completeness.New(cfg.Rules())
	if err != nil {
		return Engine{}, err
	}
	lc := lifecycle.New(validator)
	lc.RevalidateOnResubmit = cfg.RevalidateOnResubmit()
	return Engine{
		DB:         db,
		Repo:       repo.Repo{DB: db},
		Events:     events.Writer{},
		Config:     cfg,
		Authorizer: auth.NewAuthorizer(auth.DefaultTable()),
		Validator:  validator,
		Lifecycle:  lc,
		Log:        logrus.StandardLogger(),
		Metrics:    metrics.NewCollector(),
		Now:        time.Now,
		NewID:      uuid.NewString,
	}, nil
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now().UTC()
	}
	return time.Now().UTC()
}

func (e Engine) newID() string {
	if e.NewID != nil {
		return e.NewID()
	}
	return uuid.NewString()
}

func (e Engine) logger() logrus.FieldLogger {
	if e.Log != nil {
		return e.Log
	}
	return logrus.StandardLogger()
}

func (e Engine) lc() lifecycle.Lifecycle {
	lc := e.Lifecycle
	lc.Now = e.now
	lc.NewID = e.newID
	return lc
}

func (e Engine) writer() events.Writer {
	w := e.Events
	w.Now = e.now
	return w
}

// requireActor rejects anonymous callers before anything is loaded.
func requireActor(actor *domain.Actor) (domain.Actor, error) {
	if actor == nil || strings.TrimSpace(actor.ID) == "" {
		return domain.Actor{}, auth.DeniedError{Reason: auth.ReasonAuthenticationRequired, Message: "authentication required"}
	}
	return *actor, nil
}

func requirePrivileged(actor *domain.Actor, what string) (domain.Actor, error) {
	a, err := requireActor(actor)
	if err != nil {
		return a, err
	}
	if !a.Role.Privileged() {
		return a, auth.DeniedError{
			Reason:  auth.ReasonRoleNotPermitted,
			Message: fmt.Sprintf("Role %s cannot %s", a.Role, what),
		}
	}
	return a, nil
}

func (e Engine) decide(actor *domain.Actor, action domain.Action, app domain.Application, target *domain.Status) auth.Decision {
	d := e.Authorizer.Authorize(actor, action, app, target)
	e.Metrics.RecordDecision(string(action), string(d.Reason))
	if !d.Allowed {
		fields := logrus.Fields{
			"application_id": app.ID,
			"action":         action,
			"status":         app.Status,
			"reason":         d.Reason,
		}
		if actor != nil {
			fields["actor_id"] = actor.ID
			fields["role"] = actor.Role
		}
		e.logger().WithFields(fields).Debug("authorization denied")
	}
	return d
}

// Authorize loads the application header and evaluates one decision.
func (e Engine) Authorize(ctx context.Context, actor *domain.Actor, action domain.Action, id string, target *domain.Status) (auth.Decision, error) {
	if _, err := requireActor(actor); err != nil {
		return e.decide(nil, action, domain.Application{ID: id}, target), nil
	}
	app, err := e.Repo.LoadForAuthorization(ctx, id)
	if err != nil {
		return auth.Decision{}, err
	}
	return e.decide(actor, action, app, target), nil
}

// Validate runs the completeness rules against the stored application.
func (e Engine) Validate(ctx context.Context, actor *domain.Actor, id string) ([]string, error) {
	app, err := e.viewable(ctx, actor, id)
	if err != nil {
		return nil, err
	}
	full, err := e.Repo.LoadForCompleteness(ctx, app.ID)
	if err != nil {
		return nil, err
	}
	violations := e.Validator.Validate(full)
	if violations == nil {
		violations = []string{}
	}
	return violations, nil
}

// Capabilities summarises what actor may do with one application.
type Capabilities struct {
	ApplicationID string          `json:"application_id"`
	Status        domain.Status   `json:"status"`
	CanView       bool            `json:"can_view"`
	CanEdit       bool            `json:"can_edit"`
	Targets       []domain.Status `json:"targets"`
}

func (e Engine) Capabilities(ctx context.Context, actor *domain.Actor, id string) (Capabilities, error) {
	a, err := requireActor(actor)
	if err != nil {
		return Capabilities{}, err
	}
	app, err := e.Repo.LoadForAuthorization(ctx, id)
	if err != nil {
		return Capabilities{}, err
	}
	caps := Capabilities{
		ApplicationID: app.ID,
		Status:        app.Status,
		CanView:       e.Authorizer.Authorize(&a, domain.ActionView, app, nil).Allowed,
		CanEdit:       e.Authorizer.Authorize(&a, domain.ActionEdit, app, nil).Allowed,
		Targets:       e.Authorizer.Targets(a, app),
	}
	if caps.Targets == nil {
		caps.Targets = []domain.Status{}
	}
	return caps, nil
}

func (e Engine) viewable(ctx context.Context, actor *domain.Actor, id string) (domain.Application, error) {
	if _, err := requireActor(actor); err != nil {
		return domain.Application{}, err
	}
	app, err := e.Repo.LoadForAuthorization(ctx, id)
	if err != nil {
		return domain.Application{}, err
	}
	if err := e.decide(actor, domain.ActionView, app, nil).Err(); err != nil {
		return domain.Application{}, err
	}
	return app, nil
}
