// Package matchmaker is the per-pod coordinator (component D):
// periodically attempts matches, manages loading handshakes, allocates
// dedicated servers, and runs retry and stale-cleanup policies.
// Grounded on the teacher's matchmaker_worker.go / idle_worker.go:
// a ticker-driven background goroutine selected by context
// cancellation, with bracketed log prefixes and no cross-actor shared
// memory — every mutation goes through the Shared Store.
package matchmaker

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/playmatatu/matchcore/internal/allocator"
	"github.com/playmatatu/matchcore/internal/blacklist"
	"github.com/playmatatu/matchcore/internal/config"
	"github.com/playmatatu/matchcore/internal/events"
	"github.com/playmatatu/matchcore/internal/history"
	"github.com/playmatatu/matchcore/internal/lock"
	"github.com/playmatatu/matchcore/internal/models"
	"github.com/playmatatu/matchcore/internal/store"
)

const lockDurationMS = 30_000 // 30s, per §5 "Distributed lock: TTL = 30s"

// ActivePlayerChecker validates that the given players owned by podID
// are still actively connected. Implemented by the Session Gateway's
// Hub; defined here (the consumer) so this package never imports
// gateway. Local pods answer from their in-process registry; remote
// pods answer via store pub/sub request/reply. On internal error the
// implementation should fall back to reporting the input unchanged
// (§"Supplemented features" #4).
type ActivePlayerChecker interface {
	ValidateActivePlayers(ctx context.Context, podID string, playerIDs []string) ([]string, error)
}

// PlayerPodResolver looks up which pod currently owns a player's queue
// metadata, so the tick can batch liveness checks per owning pod.
type PlayerPodResolver interface {
	PodForPlayer(ctx context.Context, playerID string) (string, error)
}

// Matchmaker holds no durable state of its own; everything mutable
// lives in the Shared Store. Its fields are the wired collaborators.
type Matchmaker struct {
	Store       *store.Store
	Config      *config.Config
	Emitter     *events.Emitter
	Allocator   allocator.Provider
	Blacklist   blacklist.Oracle
	History     *history.Sink
	Checker     ActivePlayerChecker
	PodResolver PlayerPodResolver
	PodID       string
}

// New builds a Matchmaker bound to its pod identity.
func New(s *store.Store, cfg *config.Config, emitter *events.Emitter, alloc allocator.Provider, oracle blacklist.Oracle, hist *history.Sink, checker ActivePlayerChecker, resolver PlayerPodResolver, podID string) *Matchmaker {
	return &Matchmaker{
		Store:       s,
		Config:      cfg,
		Emitter:     emitter,
		Allocator:   alloc,
		Blacklist:   oracle,
		History:     hist,
		Checker:     checker,
		PodResolver: resolver,
		PodID:       podID,
	}
}

// Run starts the periodic tick for every configured game mode plus the
// stale-session sweep, returning once ctx is cancelled.
func (m *Matchmaker) Run(ctx context.Context) {
	interval := time.Duration(m.Config.TickIntervalSeconds) * time.Second
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	sweepInterval := sweepInterval(m.Config.LoadingSessionTimeoutSeconds)
	sweepTicker := time.NewTicker(sweepInterval)
	defer sweepTicker.Stop()

	log.Printf("[MATCHMAKER] starting tick loop (interval=%v, sweep=%v, modes=%d)", interval, sweepInterval, len(m.Config.GameModes))

	for {
		select {
		case <-ctx.Done():
			log.Printf("[MATCHMAKER] stopped")
			return
		case <-ticker.C:
			for _, mode := range m.Config.GameModes {
				m.tick(ctx, mode)
			}
		case <-sweepTicker.C:
			m.sweepStaleSessions(ctx)
		}
	}
}

// sweepInterval implements §5: "sweep runs every ≤ TTL/4 and
// lower-bounded at 5s".
func sweepInterval(loadingTimeoutSeconds int) time.Duration {
	quarter := time.Duration(loadingTimeoutSeconds) * time.Second / 4
	if quarter < 5*time.Second {
		return 5 * time.Second
	}
	return quarter
}

// tick is one pass of §4.D "Periodic Tick" for a single game mode.
func (m *Matchmaker) tick(ctx context.Context, mode models.GameMode) {
	if mode.UseMMRMatching {
		log.Printf("[MATCHMAKER] MMR-based matching for %q is not implemented; falling back to simple matching", mode.ID)
	}

	lockKey := store.LockKey("match:" + mode.ID)
	heldLock, result, remainingMS, err := lock.Acquire(ctx, m.Store.Client, lockKey, lockDurationMS)
	if err != nil {
		log.Printf("[MATCHMAKER] lock acquisition error for mode %s: %v", mode.ID, err)
		return
	}
	if result == lock.Busy {
		log.Printf("[MATCHMAKER] lock for mode %s busy (remaining=%dms), skipping this tick", mode.ID, remainingMS)
		return
	}
	defer m.release(ctx, heldLock, mode.ID)

	queueKey := store.QueueKey(m.Config.QueueKeyPrefix, mode.ID)
	sessionID := uuid.NewString()
	loadingKey := store.LoadingKey(sessionID)
	now := time.Now().Unix()

	popResult, err := m.Store.PopNForMatch(ctx, queueKey, loadingKey, store.LoadingIndexKey(), mode.RequiredPlayers, sessionID, mode.ID, now, m.Config.LoadingSessionTimeoutSeconds)
	if err != nil {
		log.Printf("[MATCHMAKER] pop-n script failed for mode %s: %v", mode.ID, err)
		return
	}
	if !popResult.Matched {
		return
	}

	log.Printf("[MATCHMAKER] [%s] potential match session=%s players=%v", mode.ID, sessionID, popResult.Players)

	active, err := m.validateActive(ctx, popResult.Players)
	if err != nil {
		log.Printf("[MATCHMAKER] active-player validation failed, proceeding with original roster: %v", err)
		active = popResult.Players
	}

	if len(active) != len(popResult.Players) {
		log.Printf("[MATCHMAKER] [%s] session %s has disconnected members, cancelling (active=%v)", mode.ID, sessionID, active)
		cancelResult, cerr := m.Store.CancelSession(ctx, loadingKey, "")
		if cerr != nil {
			log.Printf("[MATCHMAKER] cancel-session failed for %s: %v", sessionID, cerr)
			return
		}
		m.untrackLoadingSession(ctx, sessionID)
		m.requeueSurvivors(ctx, mode.ID, active)
		_ = cancelResult
		return
	}

	for _, p := range popResult.Players {
		m.publishToPlayer(ctx, p, map[string]interface{}{
			"type":               "start_loading",
			"loading_session_id": sessionID,
		})
	}
	m.Emitter.PublishSession(ctx, sessionID, mode.ID, events.LoadingSessionCreated, map[string]interface{}{
		"players": popResult.Players,
	})
}

func (m *Matchmaker) release(ctx context.Context, l *lock.Lock, domain string) {
	ok, err := l.Release(ctx, m.Store.Client)
	if err != nil {
		log.Printf("[MATCHMAKER] failed to release lock for %s: %v", domain, err)
		return
	}
	if !ok {
		log.Printf("[MATCHMAKER] lock for %s was already released or re-owned", domain)
	}
}

// validateActive asks each player's owning pod (local or remote)
// whether they are still connected, batching by pod.
func (m *Matchmaker) validateActive(ctx context.Context, players []string) ([]string, error) {
	if m.Checker == nil || m.PodResolver == nil {
		return players, nil
	}

	byPod := make(map[string][]string)
	for _, p := range players {
		pod, err := m.PodResolver.PodForPlayer(ctx, p)
		if err != nil || pod == "" {
			pod = m.PodID
		}
		byPod[pod] = append(byPod[pod], p)
	}

	var active []string
	for pod, ids := range byPod {
		got, err := m.Checker.ValidateActivePlayers(ctx, pod, ids)
		if err != nil {
			return players, err
		}
		active = append(active, got...)
	}
	return active, nil
}

// survivorRequeueDelay dampens thundering-herd re-matching (§4.D
// Cancellation/Sweep) by holding survivors out of the queue briefly
// before re-enqueueing them.
const survivorRequeueDelay = 5 * time.Second

// requeueSurvivors re-enqueues still-connected players into the same
// mode's queue after survivorRequeueDelay, used by cancellation, sweep,
// and allocation-failure cleanup alike. Runs on its own goroutine so
// the caller's lock is released well before the delay elapses.
func (m *Matchmaker) requeueSurvivors(ctx context.Context, gameMode string, survivors []string) {
	if len(survivors) == 0 {
		return
	}
	go m.delayedRequeue(gameMode, survivors)
}

func (m *Matchmaker) delayedRequeue(gameMode string, survivors []string) {
	time.Sleep(survivorRequeueDelay)
	ctx := context.Background()

	queueKey := store.QueueKey(m.Config.QueueKeyPrefix, gameMode)
	for _, p := range survivors {
		meta := models.QueueMetadata{PodID: m.PodID, EnqueueAt: time.Now()}
		metaJSON, _ := json.Marshal(meta)
		if _, err := m.Store.Enqueue(ctx, queueKey, p, time.Now().Unix(), string(metaJSON)); err != nil {
			log.Printf("[MATCHMAKER] failed to re-queue player %s into %s: %v", p, gameMode, err)
			continue
		}
	}
	m.Emitter.PublishQueue(ctx, gameMode, events.QueueSizeChanged, map[string]interface{}{"requeued": survivors})
}

// notifySurvivors publishes the standard error envelope (§6) to each
// survivor explaining why their loading session ended, per the
// Cancellation and Sweep handlers' "publish an informational error"
// requirement.
func (m *Matchmaker) notifySurvivors(ctx context.Context, survivors []string, code models.ErrorCode, message string) {
	for _, p := range survivors {
		m.publishToPlayer(ctx, p, map[string]interface{}{
			"type":    "error",
			"code":    code,
			"message": message,
		})
	}
}

// publishToPlayer delivers a server message to a player: primarily on
// the owning pod's game-message channel (cross-pod routing per §4.E),
// mirrored onto the legacy per-player channel as a redundancy path
// (open question decision: legacy channel kept alongside the new one).
func (m *Matchmaker) publishToPlayer(ctx context.Context, playerID string, message map[string]interface{}) {
	payload, err := json.Marshal(message)
	if err != nil {
		log.Printf("[MATCHMAKER] failed to marshal message for player %s: %v", playerID, err)
		return
	}

	pod := m.PodID
	if m.PodResolver != nil {
		if p, err := m.PodResolver.PodForPlayer(ctx, playerID); err == nil && p != "" {
			pod = p
		}
	}

	envelope, _ := json.Marshal(map[string]interface{}{
		"target_player_id": playerID,
		"payload":          json.RawMessage(payload),
	})
	podChannel := store.PodGameMessageChannel(pod)
	if n, err := m.Store.Client.Publish(ctx, podChannel, envelope).Result(); err != nil {
		log.Printf("[MATCHMAKER] publish to %s failed: %v", podChannel, err)
	} else if n == 0 {
		log.Printf("[MATCHMAKER] publish to %s had zero subscribers for player %s", podChannel, playerID)
	}

	legacyChannel := store.NotificationChannel(playerID)
	m.Store.Client.Publish(ctx, legacyChannel, payload)
}

// EnqueuePlayer runs §4.D "Enqueue Handling".
func (m *Matchmaker) EnqueuePlayer(ctx context.Context, playerID models.PlayerID, gameMode string, clientMetadata map[string]interface{}) (models.ErrorCode, bool) {
	if _, ok := m.Config.ModeByID(gameMode); !ok {
		return models.ErrInvalidGameMode, false
	}

	queueKey := store.QueueKey(m.Config.QueueKeyPrefix, gameMode)
	meta := models.QueueMetadata{PodID: m.PodID, Client: clientMetadata, EnqueueAt: time.Now()}
	metaJSON, err := json.Marshal(meta)
	if err != nil {
		return models.ErrInvalidMetadata, false
	}

	result, err := m.Store.Enqueue(ctx, queueKey, string(playerID), time.Now().Unix(), string(metaJSON))
	if err != nil {
		log.Printf("[MATCHMAKER] enqueue script failed for player %s mode %s: %v", playerID, gameMode, err)
		return models.ErrInternalError, false
	}

	if !result.Added {
		m.Emitter.PublishViolation(ctx, string(models.ViolationDuplicated), map[string]interface{}{"player_id": playerID, "game_mode": gameMode})
		return models.ErrAlreadyInQueue, false
	}

	m.Store.Client.Set(ctx, store.QueueTimeKey(string(playerID)), time.Now().Unix(), 0)
	m.Emitter.PublishQueue(ctx, gameMode, events.QueueSizeChanged, map[string]interface{}{"size": result.NewSize})
	return "", true
}

// DequeuePlayer runs §4.D "Dequeue Handling".
func (m *Matchmaker) DequeuePlayer(ctx context.Context, playerID models.PlayerID, gameMode string) {
	queueKey := store.QueueKey(m.Config.QueueKeyPrefix, gameMode)
	removed, err := m.Store.Client.SRem(ctx, queueKey, string(playerID)).Result()
	if err != nil {
		log.Printf("[MATCHMAKER] dequeue failed for player %s mode %s: %v", playerID, gameMode, err)
		return
	}
	if removed > 0 {
		size, _ := m.Store.Client.SCard(ctx, queueKey).Result()
		m.Emitter.PublishQueue(ctx, gameMode, events.QueueSizeChanged, map[string]interface{}{"size": size})
	}
}
