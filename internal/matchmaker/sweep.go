package matchmaker

import (
	"context"
	"log"
	"time"

	"github.com/playmatatu/matchcore/internal/events"
	"github.com/playmatatu/matchcore/internal/lock"
	"github.com/playmatatu/matchcore/internal/models"
	"github.com/playmatatu/matchcore/internal/store"
)

// TriggerSweep runs one sweep pass on demand, used by the ops API to
// force reclamation without waiting for the next ticker fire.
func (m *Matchmaker) TriggerSweep(ctx context.Context) {
	m.sweepStaleSessions(ctx)
}

// sweepStaleSessions runs §4.D "Stale-Session Sweep": the sweep walks
// the loading-session index set (populated atomically alongside each
// loading hash by Pop-N-For-Match) instead of an unbounded KEYS/SCAN
// over loading:*, guarding each candidate with its own short-lived lock
// so two pods racing the same sweep interval do not double-reap the
// same session.
func (m *Matchmaker) sweepStaleSessions(ctx context.Context) {
	sessionIDs, err := m.Store.Client.SMembers(ctx, store.LoadingIndexKey()).Result()
	if err != nil {
		log.Printf("[MATCHMAKER] sweep: failed to list outstanding loading sessions: %v", err)
		return
	}

	now := time.Now().Unix()
	for _, sessionID := range sessionIDs {
		m.sweepOne(ctx, sessionID, now)
	}
}

// untrackLoadingSession removes sessionID from the sweep's candidate
// set; the entry itself is added atomically by Pop-N-For-Match, so the
// only removal path is here, called from PlayerReady, CancelSession,
// sweepOne, and the tick's disconnected-member cancel path once each
// has finished with the session.
func (m *Matchmaker) untrackLoadingSession(ctx context.Context, sessionID string) {
	m.Store.Client.SRem(ctx, store.LoadingIndexKey(), sessionID)
}

func (m *Matchmaker) sweepOne(ctx context.Context, sessionID string, now int64) {
	sweepLockKey := store.LockKey("sweep:" + sessionID)
	heldLock, result, _, err := lock.Acquire(ctx, m.Store.Client, sweepLockKey, 10_000)
	if err != nil || result == lock.Busy {
		return
	}
	defer m.release(ctx, heldLock, "sweep:"+sessionID)

	loadingKey := store.LoadingKey(sessionID)
	sweep, err := m.Store.SweepStale(ctx, loadingKey, now, m.Config.LoadingSessionTimeoutSeconds)
	if err != nil {
		log.Printf("[MATCHMAKER] sweep-stale script failed for %s: %v", sessionID, err)
		return
	}
	if !sweep.Stale {
		return
	}

	m.untrackLoadingSession(ctx, sessionID)

	if sweep.AlreadyReady {
		log.Printf("[MATCHMAKER] sweep for session %s skipped, roster already moved to allocation", sessionID)
		m.markLoadingCompletedOnce(ctx, sessionID, sweep.GameMode, nil)
		return
	}

	log.Printf("[MATCHMAKER] session %s timed out (%d member(s) never readied), %d survivor(s)", sessionID, sweep.TimedOutCount, len(sweep.Survivors))
	m.Emitter.PublishSession(ctx, sessionID, sweep.GameMode, events.LoadingSessionTimeout, map[string]interface{}{
		"timed_out_count": sweep.TimedOutCount,
		"survivors":       sweep.Survivors,
	})
	m.notifySurvivors(ctx, sweep.Survivors, models.ErrMatchmakingTimeout, "loading session timed out, you have been returned to the queue")
	m.requeueSurvivors(ctx, sweep.GameMode, sweep.Survivors)
}
