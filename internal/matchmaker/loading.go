package matchmaker

import (
	"context"
	"log"
	"time"

	"github.com/playmatatu/matchcore/internal/allocator"
	"github.com/playmatatu/matchcore/internal/events"
	"github.com/playmatatu/matchcore/internal/lock"
	"github.com/playmatatu/matchcore/internal/models"
	"github.com/playmatatu/matchcore/internal/store"
)

const allocWatchdogDelay = 2 * time.Second

// loadingLockDurationMS bounds how long one call holds
// lock:loading:<session_id> while it runs the Mark-Ready script and its
// disambiguating follow-up read.
const loadingLockDurationMS = 5_000

// loadingLockRetryDelay is the contention re-drive delay from §4.D:
// "re-queue the same message after 200 ms if busy."
const loadingLockRetryDelay = 200 * time.Millisecond

// loadingCompletedFlagTTL bounds the SETNX guard that keeps
// loading_session_completed from being published twice when the
// completing PlayerReady call races a Cancel/Sweep hitting the
// already-ready branch for the same session.
func (m *Matchmaker) loadingCompletedFlagTTL() time.Duration {
	return time.Duration(m.Config.LoadingSessionTimeoutSeconds) * time.Second * 4
}

// PlayerReady runs §4.D "Loading Completion": a player marks itself
// ready inside a loading session; once every member is ready the
// roster moves on to dedicated-server allocation. Protected by
// lock:loading:<session_id> with a short contention retry, since both
// the completing call and a stray duplicate can race against the same
// hash.
func (m *Matchmaker) PlayerReady(ctx context.Context, sessionID string, playerID string) {
	lockKey := store.LockKey("loading:" + sessionID)
	heldLock, lockResult, _, err := lock.Acquire(ctx, m.Store.Client, lockKey, loadingLockDurationMS)
	if err != nil {
		log.Printf("[MATCHMAKER] loading lock acquisition error for session %s: %v", sessionID, err)
		return
	}
	if lockResult == lock.Busy {
		log.Printf("[MATCHMAKER] loading lock for session %s busy, retrying loading_complete in %v", sessionID, loadingLockRetryDelay)
		go m.retryPlayerReadyAfter(sessionID, playerID, loadingLockRetryDelay)
		return
	}
	defer m.release(ctx, heldLock, "loading:"+sessionID)

	loadingKey := store.LoadingKey(sessionID)
	result, err := m.Store.MarkReady(ctx, loadingKey, playerID)
	if err != nil {
		log.Printf("[MATCHMAKER] mark-ready script failed for session %s player %s: %v", sessionID, playerID, err)
		return
	}

	switch result.Outcome {
	case store.MarkReadyGone:
		return

	case store.MarkReadyWaiting:
		log.Printf("[MATCHMAKER] player %s ready in session %s, waiting for others", playerID, sessionID)
		m.Emitter.PublishSession(ctx, sessionID, result.GameMode, events.PlayerReady, map[string]interface{}{
			"player_id": playerID,
		})
		return

	case store.MarkReadyCompleted:
		log.Printf("[MATCHMAKER] all players ready for session %s, roster=%v", sessionID, result.Roster)

	case store.MarkReadyAlreadyReady:
		log.Printf("[MATCHMAKER] session %s already marked ready, retry path re-driving allocation", sessionID)
	}

	m.untrackLoadingSession(ctx, sessionID)
	m.markLoadingCompletedOnce(ctx, sessionID, result.GameMode, result.Roster)
	m.beginAllocation(ctx, sessionID, result.GameMode, result.Roster)
}

func (m *Matchmaker) retryPlayerReadyAfter(sessionID, playerID string, delay time.Duration) {
	time.Sleep(delay)
	m.PlayerReady(context.Background(), sessionID, playerID)
}

// markLoadingCompletedOnce publishes loading_session_completed exactly
// once per session: the completing PlayerReady call and an
// already-ready Cancel/Sweep cleanup can both reach this point for the
// same session id, and the SETNX guard makes the second arrival a
// no-op instead of a duplicate event.
func (m *Matchmaker) markLoadingCompletedOnce(ctx context.Context, sessionID, gameMode string, roster []string) {
	ok, err := m.Store.Client.SetNX(ctx, store.LoadingCompletedFlagKey(sessionID), "1", m.loadingCompletedFlagTTL()).Result()
	if err != nil {
		log.Printf("[MATCHMAKER] loading-completed flag error for session %s: %v", sessionID, err)
		return
	}
	if !ok {
		return
	}
	m.Emitter.PublishSession(ctx, sessionID, gameMode, events.LoadingSessionCompleted, map[string]interface{}{
		"roster": roster,
	})
}

// beginAllocation acquires the per-session allocation token, and on
// contention arms a watchdog retry rather than blocking the tick loop
// (§5 "allocation never holds the distributed lock during HTTP I/O").
func (m *Matchmaker) beginAllocation(ctx context.Context, sessionID, gameMode string, roster []string) {
	tokenKey := store.AllocTokenKey(sessionID)
	ttlMS := m.Config.AllocationTokenTTLSeconds * 1000

	heldLock, result, _, err := lock.Acquire(ctx, m.Store.Client, tokenKey, ttlMS)
	if err != nil {
		log.Printf("[MATCHMAKER] allocation token acquisition error for session %s: %v", sessionID, err)
		return
	}
	if result == lock.Busy {
		log.Printf("[MATCHMAKER] allocation token for session %s busy, arming watchdog retry", sessionID)
		go m.retryAllocationAfter(sessionID, gameMode, roster, allocWatchdogDelay)
		return
	}

	go m.runAllocation(context.Background(), heldLock, sessionID, gameMode, roster)
}

func (m *Matchmaker) retryAllocationAfter(sessionID, gameMode string, roster []string, delay time.Duration) {
	time.Sleep(delay)
	m.beginAllocation(context.Background(), sessionID, gameMode, roster)
}

// runAllocation calls the dedicated-server Provider and routes the
// result through the Allocation Retry Policy (§4.D) on failure.
func (m *Matchmaker) runAllocation(ctx context.Context, tok *lock.Lock, sessionID, gameMode string, roster []string) {
	defer m.release(ctx, tok, "alloc:"+sessionID)

	session, err := m.Allocator.CreateSession(ctx, roster)
	if err != nil {
		m.handleAllocationFailure(ctx, sessionID, gameMode, roster, err)
		return
	}

	log.Printf("[MATCHMAKER] session %s allocated at %s", sessionID, session.ServerAddress)
	for _, p := range roster {
		m.publishToPlayer(ctx, p, map[string]interface{}{
			"type":           "match_found",
			"session_id":     session.SessionID,
			"server_address": session.ServerAddress,
		})
	}
	m.Emitter.PublishSession(ctx, sessionID, gameMode, events.DedicatedSessionCreated, map[string]interface{}{
		"server_address": session.ServerAddress,
		"roster":         roster,
	})
	m.History.RecordSuccess(ctx, sessionID, gameMode, roster, session.ServerAddress)
	m.Store.Client.Del(ctx, store.RetryKey(gameMode, store.SortedRosterKey(roster)))
}

// handleAllocationFailure implements the Allocation Retry Policy: a
// per-roster counter (keyed by the canonical sorted roster, not a
// durable group identity) tracks attempts; once it exceeds the
// configured maximum the match is abandoned, every member is notified,
// and the members still connected are re-queued individually.
func (m *Matchmaker) handleAllocationFailure(ctx context.Context, sessionID, gameMode string, roster []string, cause error) {
	log.Printf("[MATCHMAKER] allocation failed for session %s: %v", sessionID, cause)

	retryKey := store.RetryKey(gameMode, store.SortedRosterKey(roster))
	attempts, err := m.Store.Client.Incr(ctx, retryKey).Result()
	if err != nil {
		log.Printf("[MATCHMAKER] retry counter increment failed for session %s: %v", sessionID, err)
		attempts = int64(m.Config.MaxDedicatedServerRetries) + 1 // fail safe toward giving up
	}
	m.Store.Client.Expire(ctx, retryKey, time.Duration(m.Config.LoadingSessionTimeoutSeconds)*time.Second*4)

	kind := allocator.FailureResponseParse
	if f, ok := cause.(*allocator.Failure); ok {
		kind = f.Kind
	}

	if int(attempts) <= m.Config.MaxDedicatedServerRetries {
		log.Printf("[MATCHMAKER] retrying allocation for session %s (attempt %d/%d, cause=%s)", sessionID, attempts, m.Config.MaxDedicatedServerRetries, kind)
		go m.retryAllocationAfter(sessionID, gameMode, roster, backoffFor(int(attempts)))
		return
	}

	log.Printf("[MATCHMAKER] session %s exhausted retries, abandoning match", sessionID)
	for _, p := range roster {
		m.publishToPlayer(ctx, p, map[string]interface{}{
			"type":    "error",
			"code":    models.ErrMaxRetriesExceeded,
			"message": "dedicated server allocation failed too many times; you have been returned to the queue",
		})
	}
	m.Emitter.PublishSession(ctx, sessionID, gameMode, events.DedicatedSessionFailed, map[string]interface{}{
		"roster": roster,
		"cause":  kind,
	})
	m.History.RecordFailure(ctx, sessionID, gameMode, roster, string(kind))
	m.Store.Client.Del(ctx, retryKey)
	active, verr := m.validateActive(ctx, roster)
	if verr != nil {
		active = roster
	}
	m.requeueSurvivors(ctx, gameMode, active)
}

// backoffFor grows the re-drive delay with attempt count, capped so a
// pathological provider outage cannot stall a roster indefinitely.
func backoffFor(attempt int) time.Duration {
	d := time.Duration(attempt) * time.Second
	const maxBackoff = 10 * time.Second
	if d > maxBackoff {
		return maxBackoff
	}
	return d
}
