package gateway

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/playmatatu/matchcore/internal/models"
	"github.com/playmatatu/matchcore/internal/store"
)

// podMessage is the envelope carried on pod:<pid>:game_message: either
// a server message addressed to one locally-registered player, or an
// internal validate-active-players request/reply.
type podMessage struct {
	Type           string          `json:"type,omitempty"`
	TargetPlayerID string          `json:"target_player_id,omitempty"`
	Payload        json.RawMessage `json:"payload,omitempty"`
	RequestID      string          `json:"request_id,omitempty"`
	ReplyChannel   string          `json:"reply_channel,omitempty"`
	PlayerIDs      []string        `json:"player_ids,omitempty"`
}

const remoteValidateTimeout = 500 * time.Millisecond

// Subscribe runs the per-pod subscriber loop until ctx is cancelled:
// pod:<pid>:game_message for direct routing and the legacy
// notifications:* pattern as a redundancy path, grounded on the
// teacher's StartIdleEventSubscriber.
func (h *Hub) Subscribe(ctx context.Context) {
	podChannel := store.PodGameMessageChannel(h.PodID)
	sub := h.Store.Client.Subscribe(ctx, podChannel)
	legacy := h.Store.Client.PSubscribe(ctx, "notifications:*")
	log.Printf("[WS] pod subscriber started on %s and notifications:*", podChannel)

	h.subscribeWG.Add(2)

	go func() {
		defer h.subscribeWG.Done()
		ch := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				sub.Close()
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				h.handlePodMessage(ctx, msg.Payload)
			}
		}
	}()

	go func() {
		defer h.subscribeWG.Done()
		ch := legacy.Channel()
		for {
			select {
			case <-ctx.Done():
				legacy.Close()
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				h.handleLegacyMessage(msg.Channel, msg.Payload)
			}
		}
	}()
}

// DrainSubscribers waits up to timeout for both Subscribe goroutines to
// exit after their context is cancelled, the third step of the
// graceful-shutdown sequence (§5): notify, stop accepting, drain, exit.
func (h *Hub) DrainSubscribers(timeout time.Duration) {
	done := make(chan struct{})
	go func() {
		h.subscribeWG.Wait()
		close(done)
	}()

	select {
	case <-done:
		log.Printf("[WS] pod subscriber streams drained")
	case <-time.After(timeout):
		log.Printf("[WS] pod subscriber drain timed out after %v", timeout)
	}
}

func (h *Hub) handlePodMessage(ctx context.Context, raw string) {
	var env podMessage
	if err := json.Unmarshal([]byte(raw), &env); err != nil {
		log.Printf("[WS] malformed pod message: %v", err)
		return
	}

	switch env.Type {
	case "validate_active_players":
		h.replyValidateActivePlayers(ctx, env)
	default:
		if env.TargetPlayerID == "" {
			return
		}
		h.deliverLocal(models.PlayerID(env.TargetPlayerID), env.Payload)
	}
}

func (h *Hub) handleLegacyMessage(channel string, raw string) {
	playerID := channel[len("notifications:"):]
	h.deliverLocal(models.PlayerID(playerID), json.RawMessage(raw))
}

// deliverLocal hands a raw server payload to the local client,
// applying the protocol-state transitions the message implies.
func (h *Hub) deliverLocal(playerID models.PlayerID, payload json.RawMessage) {
	h.mu.RLock()
	c, ok := h.clients[playerID]
	h.mu.RUnlock()
	if !ok {
		return
	}
	c.applyServerMessage(payload)
}

func (h *Hub) replyValidateActivePlayers(ctx context.Context, env podMessage) {
	h.mu.RLock()
	var active []string
	for _, p := range env.PlayerIDs {
		if _, ok := h.clients[models.PlayerID(p)]; ok {
			active = append(active, p)
		}
	}
	h.mu.RUnlock()

	payload, _ := json.Marshal(active)
	h.Store.Client.Publish(ctx, env.ReplyChannel, payload)
}

// validateRemote asks podID's subscriber which of playerIDs are still
// locally connected there, falling back to "assume active" on timeout
// or transport error so a transient cross-pod hiccup never cancels a
// match that would otherwise have completed fine.
func (h *Hub) validateRemote(ctx context.Context, podID string, playerIDs []string) ([]string, error) {
	requestID := uuid.NewString()
	replyChannel := "validate_reply:" + requestID

	sub := h.Store.Client.Subscribe(ctx, replyChannel)
	defer sub.Close()

	req := podMessage{
		Type:         "validate_active_players",
		RequestID:    requestID,
		ReplyChannel: replyChannel,
		PlayerIDs:    playerIDs,
	}
	payload, err := json.Marshal(req)
	if err != nil {
		return playerIDs, nil
	}
	if err := h.Store.Client.Publish(ctx, store.PodGameMessageChannel(podID), payload).Err(); err != nil {
		log.Printf("[WS] failed to publish validate request to pod %s: %v", podID, err)
		return playerIDs, nil
	}

	timeoutCtx, cancel := context.WithTimeout(ctx, remoteValidateTimeout)
	defer cancel()

	select {
	case msg, ok := <-sub.Channel():
		if !ok {
			return playerIDs, nil
		}
		var active []string
		if err := json.Unmarshal([]byte(msg.Payload), &active); err != nil {
			return playerIDs, nil
		}
		return active, nil
	case <-timeoutCtx.Done():
		log.Printf("[WS] validate-active-players against pod %s timed out, assuming active", podID)
		return playerIDs, nil
	}
}
