package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

var startTime = time.Now()

const version = "1.0.0"

// HealthCheck reports liveness, grounded on the teacher's
// handlers.HealthCheck.
func HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"service": "matchcore",
		"version": version,
		"uptime":  time.Since(startTime).String(),
	})
}
