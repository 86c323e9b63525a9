package controllers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

// HealthCheck is one named dependency probe.
type HealthCheck struct {
	Name  string
	Probe func(ctx context.Context) error
}

// Health reports liveness plus the state of each dependency. Any failed probe turns
// the response into a 503.
func Health(checks ...HealthCheck) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 3*time.Second)
		defer cancel()

		status := http.StatusOK
		deps := gin.H{}
		for _, check := range checks {
			if err := check.Probe(ctx); err != nil {
				deps[check.Name] = "unavailable"
				status = http.StatusServiceUnavailable
				continue
			}
			deps[check.Name] = "ok"
		}

		state := "ok"
		if status != http.StatusOK {
			state = "degraded"
		}
		c.JSON(status, gin.H{
			"status":       state,
			"message":      "KYC Document API is running",
			"dependencies": deps,
		})
	}
}
