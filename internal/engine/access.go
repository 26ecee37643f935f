package engine

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"permitline/internal/domain"
	"permitline/internal/events"
	"permitline/internal/repo"
)

const apiKeyPrefix = "plk_"

// RegisterActor records a user and its role. Re-registering updates both.
func (e Engine) RegisterActor(ctx context.Context, actor *domain.Actor, rec domain.ActorRecord) (domain.ActorRecord, error) {
	if _, err := requirePrivileged(actor, "register actors"); err != nil {
		return domain.ActorRecord{}, err
	}
	rec.ID = strings.TrimSpace(rec.ID)
	if rec.ID == "" {
		return domain.ActorRecord{}, fmt.Errorf("%w: actor id is required", ErrInvalidInput)
	}
	if !rec.Role.Valid() {
		return domain.ActorRecord{}, fmt.Errorf("%w: unknown role %q", ErrInvalidInput, rec.Role)
	}
	if rec.CreatedAt == "" {
		rec.CreatedAt = e.now().Format(time.RFC3339)
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.ActorRecord{}, err
	}
	defer tx.Rollback()
	if err := e.Repo.UpsertActor(ctx, tx, rec); err != nil {
		return domain.ActorRecord{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.ActorRecord{}, err
	}
	return e.Repo.GetActor(ctx, rec.ID)
}

func (e Engine) ListActors(ctx context.Context, actor *domain.Actor, role domain.Role) ([]domain.ActorRecord, error) {
	if _, err := requirePrivileged(actor, "list actors"); err != nil {
		return nil, err
	}
	return e.Repo.ListActors(ctx, role)
}

// CreateAPIKey issues a key for a service account. The plaintext is only
// returned here; storage keeps the hash.
func (e Engine) CreateAPIKey(ctx context.Context, actor *domain.Actor, actorID string, role domain.Role, name string) (domain.APIKey, string, error) {
	a, err := requirePrivileged(actor, "manage API keys")
	if err != nil {
		return domain.APIKey{}, "", err
	}
	actorID = strings.TrimSpace(actorID)
	if actorID == "" {
		return domain.APIKey{}, "", fmt.Errorf("%w: actor id is required", ErrInvalidInput)
	}
	if !role.Valid() {
		return domain.APIKey{}, "", fmt.Errorf("%w: unknown role %q", ErrInvalidInput, role)
	}
	secret, err := newAPIKeySecret()
	if err != nil {
		return domain.APIKey{}, "", err
	}
	key := domain.APIKey{
		ID:        e.newID(),
		ActorID:   actorID,
		Role:      role,
		Name:      strings.TrimSpace(name),
		KeyHash:   repo.HashAPIKey(secret),
		CreatedAt: e.now().Format(time.RFC3339),
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.APIKey{}, "", err
	}
	defer tx.Rollback()
	if err := e.Repo.InsertAPIKey(ctx, tx, key); err != nil {
		return domain.APIKey{}, "", err
	}
	if err := e.writer().Append(ctx, tx, events.Event{
		Type:       events.TypeAPIKeyCreated,
		EntityKind: "api_key",
		EntityID:   key.ID,
		ActorID:    a.ID,
		Payload:    events.Payload{"actor_id": actorID, "role": role, "name": key.Name},
	}); err != nil {
		return domain.APIKey{}, "", err
	}
	if err := tx.Commit(); err != nil {
		return domain.APIKey{}, "", err
	}
	e.logger().WithField("api_key_id", key.ID).WithField("actor_id", actorID).Info("api key created")
	return key, secret, nil
}

func (e Engine) ListAPIKeys(ctx context.Context, actor *domain.Actor, actorID string) ([]domain.APIKey, error) {
	if _, err := requirePrivileged(actor, "manage API keys"); err != nil {
		return nil, err
	}
	return e.Repo.ListAPIKeys(ctx, actorID)
}

func (e Engine) DeleteAPIKey(ctx context.Context, actor *domain.Actor, id string) error {
	a, err := requirePrivileged(actor, "manage API keys")
	if err != nil {
		return err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := e.Repo.DeleteAPIKey(ctx, tx, id); err != nil {
		return err
	}
	if err := e.writer().Append(ctx, tx, events.Event{
		Type:       events.TypeAPIKeyDeleted,
		EntityKind: "api_key",
		EntityID:   id,
		ActorID:    a.ID,
	}); err != nil {
		return err
	}
	return tx.Commit()
}

// ListEvents pages through the audit outbox. Events of one application are
// visible to whoever may view it; the full log needs a privileged role.
func (e Engine) ListEvents(ctx context.Context, actor *domain.Actor, f repo.EventFilters) ([]domain.Event, error) {
	if f.ApplicationID != "" {
		if _, err := e.viewable(ctx, actor, f.ApplicationID); err != nil {
			return nil, err
		}
	} else if _, err := requirePrivileged(actor, "read the audit log"); err != nil {
		return nil, err
	}
	return e.Repo.LatestEvents(ctx, f)
}

func newAPIKeySecret() (string, error) {
	buf := make([]byte, 24)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate api key: %w", err)
	}
	return apiKeyPrefix + hex.EncodeToString(buf), nil
}
