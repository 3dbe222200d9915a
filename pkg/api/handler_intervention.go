package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/codeready-toolchain/stride/pkg/session"
)

// PostIntervention handles POST /human-intervention.
func (s *Server) PostIntervention(c *gin.Context) {
	var req session.InterventionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body: " + err.Error()})
		return
	}

	taskID, err := s.coordinator.ProcessIntervention(c.Request.Context(), req)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"sessionId": req.SessionID,
		"action":    req.Action,
		"taskId":    taskID,
	})
}

// ListInterventions handles GET /human-intervention.
func (s *Server) ListInterventions(c *gin.Context) {
	sessionID := c.Query("sessionId")
	userID := c.Query("userId")
	if sessionID == "" && userID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "sessionId or userId is required"})
		return
	}

	pending, err := s.coordinator.ListPendingInterventions(c.Request.Context(), sessionID, userID)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"pending": pending})
}
