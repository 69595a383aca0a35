package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"golang.org/x/crypto/bcrypt"

	"github.com/playmatatu/matchcore/internal/config"
	"github.com/playmatatu/matchcore/internal/matchmaker"
	"github.com/playmatatu/matchcore/internal/store"
)

// OpsAuth gates the operator endpoints behind a single bearer token
// whose bcrypt hash is configured out of band, the same
// hash-and-compare shape as the teacher's admin.VerifyAdminToken.
func OpsAuth(cfg *config.Config) gin.HandlerFunc {
	return func(c *gin.Context) {
		if cfg.OpsTokenHash == "" {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "ops api disabled, no token configured"})
			c.Abort()
			return
		}
		token := c.GetHeader("X-Ops-Token")
		if token == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "missing X-Ops-Token header"})
			c.Abort()
			return
		}
		if err := bcrypt.CompareHashAndPassword([]byte(cfg.OpsTokenHash), []byte(token)); err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid ops token"})
			c.Abort()
			return
		}
		c.Next()
	}
}

// QueueSize reports the current depth of a game mode's queue.
func QueueSize(s *store.Store, cfg *config.Config) gin.HandlerFunc {
	return func(c *gin.Context) {
		mode := c.Param("mode")
		n, err := s.Client.SCard(c.Request.Context(), store.QueueKey(cfg.QueueKeyPrefix, mode)).Result()
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"mode": mode, "size": n})
	}
}

// TriggerSweep forces an immediate stale-session reclamation pass
// instead of waiting for the next ticker fire.
func TriggerSweep(mm *matchmaker.Matchmaker) gin.HandlerFunc {
	return func(c *gin.Context) {
		mm.TriggerSweep(c.Request.Context())
		c.JSON(http.StatusOK, gin.H{"status": "swept"})
	}
}
