package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/triagebox/mailsync/interfaces"
)

// HealthCheck provides a simple health check endpoint
func HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "ok",
	})
}

// Status returns the live sync status of all accounts
func Status(engine interfaces.SyncEngine) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, engine.Status())
	}
}
