// Package events is the Event & State Emitter (component F). It
// publishes typed state events to the channels in §3/§6, sharing a
// common header (UTC timestamp, event type, optional game mode /
// session id / run id). Grounded on the teacher's idle worker, which
// marshals a map payload and publishes it with Redis PUBLISH, logging
// subscriber counts the same way.
package events

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/playmatatu/matchcore/internal/store"
)

// Type enumerates the state events named across §4.D/§8.
type Type string

const (
	QueueSizeChanged        Type = "queue_size_changed"
	LoadingSessionCreated   Type = "loading_session_created"
	PlayerReady             Type = "player_ready"
	DedicatedSessionCreated Type = "dedicated_session_created"
	DedicatedSessionFailed  Type = "dedicated_session_failed"
	LoadingSessionTimeout   Type = "loading_session_timeout"
	LoadingSessionCompleted Type = "loading_session_completed"
	LoadingSessionCancelled Type = "loading_session_cancelled"
	ViolationRecorded       Type = "violation_recorded"
)

// Event is the common header every state event shares.
type Event struct {
	Timestamp time.Time              `json:"timestamp"`
	Type      Type                   `json:"type"`
	GameMode  string                 `json:"game_mode,omitempty"`
	SessionID string                 `json:"session_id,omitempty"`
	RunID     string                 `json:"run_id,omitempty"`
	Data      map[string]interface{} `json:"data,omitempty"`
}

// Emitter publishes to the store's pub/sub channels. A publish error is
// logged and swallowed — the emitter never fails the caller, per §4.F.
type Emitter struct {
	rdb     *redis.Client
	enabled bool
	runID   string
}

// New builds an Emitter. When enabled is false (redis.enable_state_events
// = false), Publish is a no-op, matching the production feature flag.
func New(rdb *redis.Client, enabled bool, runID string) *Emitter {
	return &Emitter{rdb: rdb, enabled: enabled, runID: runID}
}

// PublishQueue emits onto events:queue:<mode>.
func (e *Emitter) PublishQueue(ctx context.Context, gameMode string, typ Type, data map[string]interface{}) {
	e.publish(ctx, store.QueueEventsChannel(gameMode), Event{
		Timestamp: time.Now().UTC(),
		Type:      typ,
		GameMode:  gameMode,
		RunID:     e.runID,
		Data:      data,
	})
}

// PublishSession emits onto events:session:<session_id>.
func (e *Emitter) PublishSession(ctx context.Context, sessionID, gameMode string, typ Type, data map[string]interface{}) {
	e.publish(ctx, store.SessionEventsChannel(sessionID), Event{
		Timestamp: time.Now().UTC(),
		Type:      typ,
		GameMode:  gameMode,
		SessionID: sessionID,
		RunID:     e.runID,
		Data:      data,
	})
}

// PublishViolation emits onto events:violation:<code>.
func (e *Emitter) PublishViolation(ctx context.Context, code string, data map[string]interface{}) {
	e.publish(ctx, store.ViolationEventsChannel(code), Event{
		Timestamp: time.Now().UTC(),
		Type:      ViolationRecorded,
		RunID:     e.runID,
		Data:      data,
	})
}

func (e *Emitter) publish(ctx context.Context, channel string, evt Event) {
	if !e.enabled {
		return
	}
	payload, err := json.Marshal(evt)
	if err != nil {
		log.Printf("[EVENTS] failed to marshal event type=%s channel=%s: %v", evt.Type, channel, err)
		return
	}
	n, err := e.rdb.Publish(ctx, channel, payload).Result()
	if err != nil {
		log.Printf("[EVENTS] publish failed channel=%s type=%s: %v", channel, evt.Type, err)
		return
	}
	log.Printf("[EVENTS] published type=%s channel=%s subscribers=%d", evt.Type, channel, n)
}
