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

// CancelSession runs the disconnect path of §4.D "Cancellation on
// Disconnect": the Session Gateway calls this when a player owning a
// loading session drops. Survivors go back into the queue; the special
// "already ready" reply means allocation has already taken over that
// roster's fate, so cancellation only needs to confirm
// loading_session_completed was published. Protected by
// lock:loading:<session_id> with the same short contention retry as
// Loading Completion, since both handlers mutate the same hash.
func (m *Matchmaker) CancelSession(ctx context.Context, sessionID string, disconnectedPlayerID string) {
	lockKey := store.LockKey("loading:" + sessionID)
	heldLock, lockResult, _, err := lock.Acquire(ctx, m.Store.Client, lockKey, loadingLockDurationMS)
	if err != nil {
		log.Printf("[MATCHMAKER] loading lock acquisition error for session %s: %v", sessionID, err)
		return
	}
	if lockResult == lock.Busy {
		log.Printf("[MATCHMAKER] loading lock for session %s busy, retrying cancellation in %v", sessionID, loadingLockRetryDelay)
		go m.retryCancelSessionAfter(sessionID, disconnectedPlayerID, loadingLockRetryDelay)
		return
	}
	defer m.release(ctx, heldLock, "loading:"+sessionID)

	loadingKey := store.LoadingKey(sessionID)
	result, err := m.Store.CancelSession(ctx, loadingKey, disconnectedPlayerID)
	if err != nil {
		log.Printf("[MATCHMAKER] cancel-session script failed for %s: %v", sessionID, err)
		return
	}
	if !result.Existed {
		return
	}
	m.untrackLoadingSession(ctx, sessionID)
	if result.AlreadyReady {
		log.Printf("[MATCHMAKER] cancel for session %s ignored, roster already moved to allocation", sessionID)
		m.markLoadingCompletedOnce(ctx, sessionID, result.GameMode, nil)
		return
	}

	log.Printf("[MATCHMAKER] session %s cancelled by disconnect of %s, %d survivor(s)", sessionID, disconnectedPlayerID, len(result.Survivors))
	m.Emitter.PublishSession(ctx, sessionID, result.GameMode, events.LoadingSessionCancelled, map[string]interface{}{
		"disconnected": disconnectedPlayerID,
		"survivors":    result.Survivors,
	})
	m.notifySurvivors(ctx, result.Survivors, models.ErrTemporaryAllocationError, "a player disconnected during loading, you have been returned to the queue")
	m.requeueSurvivors(ctx, result.GameMode, result.Survivors)
}

func (m *Matchmaker) retryCancelSessionAfter(sessionID, disconnectedPlayerID string, delay time.Duration) {
	time.Sleep(delay)
	m.CancelSession(context.Background(), sessionID, disconnectedPlayerID)
}
