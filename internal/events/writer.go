package events

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/goccy/go-json"
)

const (
	UserSeen           = "user.seen"
	APIKeyCreated      = "api_key.created"
	HabitCreated       = "habit.created"
	HabitLogged        = "habit.logged"
	ChallengeCreated   = "challenge.created"
	ChallengeAccepted  = "challenge.accepted"
	ChallengeDeclined  = "challenge.declined"
	ChallengeCompleted = "challenge.completed"
	PointsAwarded      = "points.awarded"
)

// Writer appends rows to the events table inside the caller's transaction.
type Writer struct {
	Now func() time.Time
}

type EventPayload map[string]any

func (w Writer) Append(ctx context.Context, tx *sql.Tx, evtType, entityKind, entityID, actorID string, payload EventPayload) error {
	now := time.Now
	if w.Now != nil {
		now = w.Now
	}
	if payload == nil {
		payload = EventPayload{}
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal event payload: %w", err)
	}
	_, err = tx.ExecContext(ctx, `INSERT INTO events(ts,type,entity_kind,entity_id,actor_id,payload_json) VALUES (?,?,?,?,?,?)`,
		now().UTC().Format(time.RFC3339Nano), evtType, entityKind, nullable(entityID), actorID, string(data))
	return err
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}
