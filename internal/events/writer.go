// Package events appends audit events to the outbox table inside the
// caller's transaction.
package events

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

const (
	TypeApplicationCreated      = "application.created"
	TypeApplicationUpdated      = "application.updated"
	TypeApplicationAssigned     = "application.assigned"
	TypeApplicationTransitioned = "application.transitioned"
	TypePaymentRecorded         = "payment.recorded"
	TypeAPIKeyCreated           = "api_key.created"
	TypeAPIKeyDeleted           = "api_key.deleted"
)

// Types lists every event type the engine emits.
func Types() []string {
	return []string{
		TypeApplicationCreated,
		TypeApplicationUpdated,
		TypeApplicationAssigned,
		TypeApplicationTransitioned,
		TypePaymentRecorded,
		TypeAPIKeyCreated,
		TypeAPIKeyDeleted,
	}
}

// Execer is satisfied by *sql.Tx and *sqlx.Tx.
type Execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

type Writer struct {
	Now func() time.Time
}

type Payload map[string]any

// Event is one row to append.
type Event struct {
	Type          string
	ApplicationID string
	EntityKind    string
	EntityID      string
	ActorID       string
	Payload       Payload
}

func (w Writer) Append(ctx context.Context, tx Execer, evt Event) error {
	now := w.Now
	if now == nil {
		now = time.Now
	}
	payload := evt.Payload
	if payload == nil {
		payload = Payload{}
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal event payload: %w", err)
	}
	_, err = tx.ExecContext(ctx,
		`INSERT INTO events(ts,type,application_id,entity_kind,entity_id,actor_id,payload_json) VALUES (?,?,?,?,?,?,?)`,
		now().UTC().Format(time.RFC3339Nano), evt.Type, nullable(evt.ApplicationID), evt.EntityKind,
		nullable(evt.EntityID), evt.ActorID, string(data))
	if err != nil {
		return fmt.Errorf("append %s event: %w", evt.Type, err)
	}
	return nil
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}
