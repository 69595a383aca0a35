// Package history is the match-history audit sink: every terminal
// allocation outcome (success or exhausted retries) is appended to
// Postgres for offline audit, the same way the teacher persists
// completed game sessions via sqlx. This is storage only — no ranking
// or MMR is derived from it; that stays a non-goal.
package history

import (
	"context"
	"log"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
)

// Sink appends match outcomes to the match_history table.
type Sink struct {
	db *sqlx.DB
}

// Connect opens the Postgres connection pool, mirroring the teacher's
// database.Connect: configure pool limits, verify with Ping.
func Connect(databaseURL string) (*sqlx.DB, error) {
	db, err := sqlx.Connect("postgres", databaseURL)
	if err != nil {
		return nil, err
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)

	if err := db.Ping(); err != nil {
		return nil, err
	}

	return db, nil
}

// NewSink wraps an existing connection pool. db may be nil in
// environments with no history store configured — every method is a
// safe no-op in that case, the same defensive-nil style the teacher
// uses for its optional SMS/payment clients.
func NewSink(db *sqlx.DB) *Sink {
	return &Sink{db: db}
}

// RecordSuccess appends a dedicated_session_created outcome.
func (s *Sink) RecordSuccess(ctx context.Context, sessionID, gameMode string, players []string, serverAddress string) {
	if s == nil || s.db == nil {
		return
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO match_history (session_id, game_mode, players, outcome, server_address, created_at)
		VALUES ($1, $2, $3, 'allocated', $4, $5)
		ON CONFLICT (session_id) DO NOTHING
	`, sessionID, gameMode, pqStringArray(players), serverAddress, time.Now().UTC())
	if err != nil {
		log.Printf("[HISTORY] failed to record success for session %s: %v", sessionID, err)
	}
}

// RecordFailure appends a dedicated_session_failed outcome.
func (s *Sink) RecordFailure(ctx context.Context, sessionID, gameMode string, players []string, reason string) {
	if s == nil || s.db == nil {
		return
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO match_history (session_id, game_mode, players, outcome, failure_reason, created_at)
		VALUES ($1, $2, $3, 'failed', $4, $5)
		ON CONFLICT (session_id) DO NOTHING
	`, sessionID, gameMode, pqStringArray(players), reason, time.Now().UTC())
	if err != nil {
		log.Printf("[HISTORY] failed to record failure for session %s: %v", sessionID, err)
	}
}

// pqStringArray renders a player roster as a Postgres text[] literal.
// Kept deliberately simple: player identifiers never contain the
// characters that would require quoting.
func pqStringArray(players []string) string {
	out := "{"
	for i, p := range players {
		if i > 0 {
			out += ","
		}
		out += p
	}
	return out + "}"
}
