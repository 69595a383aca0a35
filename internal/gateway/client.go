package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/playmatatu/matchcore/internal/models"
	"github.com/playmatatu/matchcore/internal/store"
)

// Client is one actor per connection: it owns the websocket framing
// and the protocol state machine (§4.E). All mutable fields are
// guarded by mu since readPump/writePump/cross-pod delivery all touch
// them from different goroutines.
type Client struct {
	conn     *websocket.Conn
	playerID models.PlayerID
	ip       string
	send     chan json.RawMessage
	hub      *Hub

	mu             sync.Mutex
	protocolState  State
	currentMode    string
	currentSession string
}

func newClient(conn *websocket.Conn, playerID models.PlayerID, ip string, hub *Hub) *Client {
	return &Client{
		conn:          conn,
		playerID:      playerID,
		ip:            ip,
		send:          make(chan json.RawMessage, 256),
		hub:           hub,
		protocolState: Idle,
	}
}

func (c *Client) state() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.protocolState
}

func (c *Client) gameMode() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.currentMode
}

func (c *Client) sessionID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.currentSession
}

// transition attempts from -> to and reports whether it was legal. An
// illegal attempt is logged and leaves the state unchanged; classifying
// and handling it (illegalTransition) is left to the caller.
func (c *Client) transition(to State) bool {
	c.mu.Lock()
	from := c.protocolState
	if canTransition(from, to) {
		c.protocolState = to
		c.mu.Unlock()
		return true
	}
	c.mu.Unlock()

	log.Printf("[WS] illegal transition for player %s: %s -> %s", c.playerID, from, to)
	return false
}

func (c *Client) setMatch(mode, sessionID string) {
	c.mu.Lock()
	c.currentMode = mode
	c.currentSession = sessionID
	c.mu.Unlock()
}

func (c *Client) writePump() {
	interval := time.Duration(c.hub.Config.HeartbeatIntervalSeconds) * time.Second
	ticker := time.NewTicker(interval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				log.Printf("[WS] write error for player %s: %v", c.playerID, err)
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				log.Printf("[WS] ping error for player %s: %v", c.playerID, err)
				return
			}
		}
	}
}

func (c *Client) readPump() {
	defer func() {
		c.hub.unregister(c)
		c.conn.Close()
	}()

	timeout := time.Duration(c.hub.Config.ClientTimeoutSeconds) * time.Second
	c.conn.SetReadLimit(65536)
	c.conn.SetReadDeadline(time.Now().Add(timeout))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(timeout))
		c.hub.Store.Client.Set(context.Background(), store.PlayerPodKey(string(c.playerID)), c.hub.PodID, timeout)
		return nil
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("[WS] unexpected close for player %s: %v", c.playerID, err)
			}
			return
		}

		var msg clientMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			c.recordViolation(models.ViolationUnknownType)
			c.sendError(models.ErrInvalidMessageFormat, "malformed json")
			continue
		}
		c.handleMessage(msg)
	}
}

type clientMessage struct {
	Type             string                 `json:"type"`
	PlayerID         string                 `json:"player_id"`
	GameMode         string                 `json:"game_mode"`
	Metadata         map[string]interface{} `json:"metadata"`
	LoadingSessionID string                 `json:"loading_session_id"`
}

func (c *Client) sendError(code models.ErrorCode, message string) {
	payload, _ := json.Marshal(map[string]interface{}{
		"type":    "error",
		"code":    code,
		"message": message,
	})
	select {
	case c.send <- payload:
	default:
	}
}

func (c *Client) recordViolation(kind models.ViolationKind) {
	ctx := context.Background()
	c.hub.Blacklist.RecordViolation(ctx, c.playerID, kind, c.ip)
	if c.hub.Matchmaker != nil {
		c.hub.Matchmaker.Emitter.PublishViolation(ctx, string(kind), map[string]interface{}{
			"player_id": c.playerID,
		})
	}
}

// handleMessage dispatches a parsed client message per §6, enforcing
// the protocol state machine and rate limits before reaching the
// Matchmaker.
func (c *Client) handleMessage(msg clientMessage) {
	ctx := context.Background()

	switch msg.Type {
	case "enqueue":
		if !c.hub.limiter.allow(c.ip) {
			c.sendError(models.ErrRateLimitExceeded, "too many enqueue requests")
			return
		}
		if !c.transition(Enqueuing) {
			return
		}
		code, ok := c.hub.Matchmaker.EnqueuePlayer(ctx, c.playerID, msg.GameMode, msg.Metadata)
		if !ok {
			c.transitionToError()
			c.sendError(code, string(code))
			return
		}
		c.setMatch(msg.GameMode, "")
		c.transition(InQueue)
		payload, _ := json.Marshal(map[string]interface{}{"type": "enqueued", "pod_id": c.hub.PodID})
		c.send <- payload

	case "dequeue":
		c.hub.Matchmaker.DequeuePlayer(ctx, c.playerID, msg.GameMode)
		payload, _ := json.Marshal(map[string]interface{}{"type": "dequeued"})
		c.send <- payload

	case "loading_complete":
		c.handleLoadingComplete(msg)

	default:
		c.recordViolation(models.ViolationUnknownType)
		c.sendError(models.ErrInvalidMessageFormat, fmt.Sprintf("unknown message type %q", msg.Type))
	}
}

// handleLoadingComplete implements §4.E's illegal-transition rules for
// LoadingComplete specifically: ignored outside InLoading, critical
// (WrongSessionId, violation, close) on a session id mismatch.
func (c *Client) handleLoadingComplete(msg clientMessage) {
	if c.state() != InLoading {
		c.illegalTransition(severityMinor, "loading_complete from non-InLoading gateway for player %s, ignored", c.playerID)
		return
	}
	if msg.LoadingSessionID != c.sessionID() {
		c.illegalTransition(severityCritical, "loading_complete session id mismatch for player %s", c.playerID)
		return
	}
	c.hub.Matchmaker.PlayerReady(context.Background(), msg.LoadingSessionID, string(c.playerID))
}

func (c *Client) transitionToError() {
	c.mu.Lock()
	c.protocolState = Error
	c.mu.Unlock()
}

// illegalTransition logs and handles an out-of-protocol message per
// §4.E's classification: minor is a log-only ignore, major resets the
// connection to Error, critical additionally records a violation and
// closes the connection.
func (c *Client) illegalTransition(sev severity, format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)
	switch sev {
	case severityMinor:
		log.Printf("[WS] minor: %s", msg)
	case severityMajor:
		log.Printf("[WS] major: %s", msg)
		c.transitionToError()
	case severityCritical:
		log.Printf("[WS] critical: %s", msg)
		c.recordViolation(models.ViolationWrongSessionID)
		c.sendError(models.ErrWrongSessionID, msg)
		c.conn.Close()
	}
}

type serverMessageHeader struct {
	Type             string           `json:"type"`
	LoadingSessionID string           `json:"loading_session_id"`
	SessionID        string           `json:"session_id"`
	Code             models.ErrorCode `json:"code"`
}

// applyServerMessage updates the protocol state machine for a server
// message arriving either from the local Matchmaker or via cross-pod
// delivery, then forwards the payload verbatim to the client,
// classifying illegal transitions per §4.E.
func (c *Client) applyServerMessage(payload json.RawMessage) {
	var hdr serverMessageHeader
	if err := json.Unmarshal(payload, &hdr); err != nil {
		log.Printf("[WS] malformed server message for player %s: %v", c.playerID, err)
		return
	}

	switch hdr.Type {
	case "start_loading":
		switch c.state() {
		case InQueue:
			c.setMatch(c.gameMode(), hdr.LoadingSessionID)
			c.transition(InLoading)
		case InLoading:
			if c.sessionID() == hdr.LoadingSessionID {
				c.illegalTransition(severityMinor, "duplicate start_loading for player %s, ignored", c.playerID)
				return
			}
			c.illegalTransition(severityMajor, "duplicate start_loading with different session for player %s", c.playerID)
			return
		default:
			c.illegalTransition(severityMajor, "start_loading while in %s for player %s", c.state(), c.playerID)
			return
		}

	case "match_found":
		if c.state() != InLoading {
			c.illegalTransition(severityMajor, "match_found while in %s for player %s", c.state(), c.playerID)
			return
		}
		c.transition(Completed)

	case "error":
		// the standard error envelope (§6) doubles as the matchmaker's
		// "you've been returned to the queue" notification for
		// retry-exhausted allocation, cancelled, and timed-out loading
		// sessions alike; in each case the matchmaker has already
		// re-queued the roster, so resync the local state machine back
		// to InQueue without replaying Enqueuing.
		switch hdr.Code {
		case models.ErrMaxRetriesExceeded, models.ErrTemporaryAllocationError, models.ErrMatchmakingTimeout:
			c.mu.Lock()
			c.protocolState = InQueue
			c.currentSession = ""
			c.mu.Unlock()
		}
	}

	select {
	case c.send <- payload:
	default:
		log.Printf("[WS] send buffer full for player %s, dropping server message", c.playerID)
	}
}
