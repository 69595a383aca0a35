// Package middleware holds gin middleware shared across the API and
// websocket upgrade routes, adapted from the teacher's
// internal/middleware/cors.go.
package middleware

import (
	"log"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/playmatatu/matchcore/internal/config"
)

// CORSMiddleware returns a CORS middleware configured for the
// environment, same origin-allowlist-by-environment shape as the
// teacher's.
func CORSMiddleware(cfg *config.Config) gin.HandlerFunc {
	log.Printf("[CORS] environment=%s frontend_url=%s", cfg.Environment, cfg.FrontendURL)

	corsConfig := cors.Config{
		AllowMethods: []string{"GET", "POST", "OPTIONS"},
		AllowHeaders: []string{"Origin", "Content-Length", "Content-Type", "Authorization", "Accept"},
		MaxAge:       12 * time.Hour,
	}

	if cfg.Environment == "development" {
		corsConfig.AllowOrigins = []string{"http://localhost:5173", "http://127.0.0.1:5173"}
		corsConfig.AllowCredentials = true
	} else {
		var allowed []string
		if cfg.FrontendURL != "" {
			allowed = append(allowed, cfg.FrontendURL)
		}
		corsConfig.AllowOrigins = allowed
		corsConfig.AllowCredentials = true
		log.Printf("[CORS] production allowed origins: %v", allowed)
	}

	return cors.New(corsConfig)
}
