package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/codeready-toolchain/stride/pkg/models"
)

// ExecuteStep handles POST /execute-step, the queue callback. The response
// status steers redelivery: 2xx acknowledges, 4xx is terminal, 5xx retries.
func (s *Server) ExecuteStep(c *gin.Context) {
	var task models.StepTask
	if err := c.ShouldBindJSON(&task); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body: " + err.Error()})
		return
	}
	if task.SessionID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "sessionId is required"})
		return
	}

	summary, err := s.engine.ExecuteStep(c.Request.Context(), &task)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, summary)
}

// Healthz handles GET /execute-step, used by the queue provider and load
// balancers to probe the callback endpoint.
func (s *Server) Healthz(c *gin.Context) {
	ctx := c.Request.Context()

	status := http.StatusOK
	health := gin.H{
		"status": "healthy",
		"queue":  s.queue.Health(ctx),
		"stats":  s.queue.Stats(),
	}
	if err := s.store.Ping(ctx); err != nil {
		status = http.StatusServiceUnavailable
		health["status"] = "unhealthy"
		health["store"] = err.Error()
	}
	if err := s.stream.Ping(ctx); err != nil {
		status = http.StatusServiceUnavailable
		health["status"] = "unhealthy"
		health["events"] = err.Error()
	}
	c.JSON(status, health)
}
