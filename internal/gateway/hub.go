// Package gateway is the Session Gateway (component E): one actor per
// active client connection, owning the websocket framing and a small
// protocol state machine. Grounded on the teacher's internal/ws
// (Hub/Client/register/unregister channels, writePump ping ticker,
// readPump deadline/pong handling), generalized from a two-player pool
// game room to an arbitrary-size matched roster with cross-pod
// delivery.
package gateway

import (
	"context"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/playmatatu/matchcore/internal/auth"
	"github.com/playmatatu/matchcore/internal/blacklist"
	"github.com/playmatatu/matchcore/internal/config"
	"github.com/playmatatu/matchcore/internal/matchmaker"
	"github.com/playmatatu/matchcore/internal/models"
	"github.com/playmatatu/matchcore/internal/store"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Hub maintains the set of locally connected clients for this pod.
type Hub struct {
	mu      sync.RWMutex
	clients map[models.PlayerID]*Client

	Store      *store.Store
	Config     *config.Config
	Matchmaker *matchmaker.Matchmaker
	Blacklist  blacklist.Oracle
	limiter    *rateLimiter
	PodID      string

	subscribeWG sync.WaitGroup
}

// NewHub builds a Hub bound to its pod identity and collaborators. The
// Matchmaker is wired in afterward with SetMatchmaker, since the
// Matchmaker in turn needs the Hub as its ActivePlayerChecker/
// PlayerPodResolver — the two are constructed in two steps to break
// the cycle.
func NewHub(s *store.Store, cfg *config.Config, oracle blacklist.Oracle, podID string) *Hub {
	return &Hub{
		clients:   make(map[models.PlayerID]*Client),
		Store:     s,
		Config:    cfg,
		Blacklist: oracle,
		limiter:   newRateLimiter(cfg.EnqueueRateLimitPerMin),
		PodID:     podID,
	}
}

// SetMatchmaker completes construction once the Matchmaker exists.
func (h *Hub) SetMatchmaker(mm *matchmaker.Matchmaker) {
	h.Matchmaker = mm
}

// register adds or replaces the client registered for its player id,
// closing a prior connection for the same player the way the teacher's
// runGameHub handles a reconnect.
func (h *Hub) register(c *Client) {
	h.mu.Lock()
	if old, exists := h.clients[c.playerID]; exists {
		log.Printf("[WS] player %s reconnecting, closing previous connection", c.playerID)
		old.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "replaced by new connection"), time.Now().Add(5*time.Second))
		old.conn.Close()
		closeSendOnce(old)
	}
	h.clients[c.playerID] = c
	h.mu.Unlock()

	ctx := context.Background()
	h.Store.Client.Set(ctx, store.PlayerPodKey(string(c.playerID)), h.PodID, time.Duration(h.Config.ClientTimeoutSeconds)*time.Second)
	log.Printf("[WS] player %s connected on pod %s", c.playerID, h.PodID)
}

// unregister removes c iff it is still the registered client for its
// player id (an already-replaced connection closing must not evict the
// new one).
func (h *Hub) unregister(c *Client) {
	h.mu.Lock()
	cur, ok := h.clients[c.playerID]
	if ok && cur == c {
		delete(h.clients, c.playerID)
	}
	h.mu.Unlock()
	if !ok || cur != c {
		return
	}

	ctx := context.Background()
	h.Store.Client.Del(ctx, store.PlayerPodKey(string(c.playerID)))
	closeSendOnce(c)

	switch c.state() {
	case InQueue, Enqueuing:
		h.Matchmaker.DequeuePlayer(ctx, c.playerID, c.gameMode())
	case InLoading:
		h.Matchmaker.CancelSession(ctx, c.sessionID(), string(c.playerID))
	}
	log.Printf("[WS] player %s disconnected from pod %s", c.playerID, h.PodID)
}

// NotifyShutdown pushes an unavailability error to every locally
// connected client. It is the first step of the graceful-shutdown
// sequence (§5): notify, then stop accepting connections, then drain
// the subscriber streams.
func (h *Hub) NotifyShutdown() {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, c := range h.clients {
		c.sendError(models.ErrInternalError, "this pod is shutting down, please reconnect")
	}
	log.Printf("[WS] notified %d connected player(s) of pod shutdown", len(h.clients))
}

func closeSendOnce(c *Client) {
	select {
	case <-c.send:
	default:
		close(c.send)
	}
}

// ValidateActivePlayers implements matchmaker.ActivePlayerChecker: for
// its own pod, answer from the local registry; for a remote pod,
// request/reply over the pod's game-message channel.
func (h *Hub) ValidateActivePlayers(ctx context.Context, podID string, playerIDs []string) ([]string, error) {
	if podID == h.PodID {
		h.mu.RLock()
		defer h.mu.RUnlock()
		var active []string
		for _, p := range playerIDs {
			if _, ok := h.clients[models.PlayerID(p)]; ok {
				active = append(active, p)
			}
		}
		return active, nil
	}
	return h.validateRemote(ctx, podID, playerIDs)
}

// PodForPlayer implements matchmaker.PlayerPodResolver.
func (h *Hub) PodForPlayer(ctx context.Context, playerID string) (string, error) {
	h.mu.RLock()
	_, local := h.clients[models.PlayerID(playerID)]
	h.mu.RUnlock()
	if local {
		return h.PodID, nil
	}
	return h.Store.Client.Get(ctx, store.PlayerPodKey(playerID)).Result()
}

// HandleWebSocket upgrades an authenticated HTTP request into a
// registered gateway connection.
func (h *Hub) HandleWebSocket(c *gin.Context) {
	playerID, err := auth.PlayerIDFromBearer(c.GetHeader("Authorization"), h.Config.JWTSecret)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	verdict := blacklist.CheckPlayerBlockFailOpen(c.Request.Context(), h.Blacklist, playerID, c.ClientIP())
	if verdict.Blocked {
		c.JSON(http.StatusForbidden, gin.H{"error": string(models.ErrPlayerTemporarilyBlocked), "remaining_secs": verdict.RemainingSecs})
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Printf("[WS] upgrade error for player %s: %v", playerID, err)
		return
	}

	client := newClient(conn, playerID, c.ClientIP(), h)
	h.register(client)

	go client.writePump()
	go client.readPump()
}
