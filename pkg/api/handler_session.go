package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/codeready-toolchain/stride/pkg/session"
)

// CreateSession handles POST /session.
func (s *Server) CreateSession(c *gin.Context) {
	var req session.CreateSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body: " + err.Error()})
		return
	}

	resp, err := s.coordinator.CreateSession(c.Request.Context(), req)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// GetSession handles GET /session.
func (s *Server) GetSession(c *gin.Context) {
	sessionID := c.Query("sessionId")
	if sessionID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "sessionId is required"})
		return
	}

	includeHistory, _ := strconv.ParseBool(c.Query("includeHistory"))
	historyLimit, _ := strconv.Atoi(c.Query("historyLimit"))

	resp, err := s.coordinator.GetStatus(c.Request.Context(), session.StatusRequest{
		SessionID:      sessionID,
		IncludeHistory: includeHistory,
		HistoryLimit:   historyLimit,
	})
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// DeleteSession handles DELETE /session.
func (s *Server) DeleteSession(c *gin.Context) {
	sessionID := c.Query("sessionId")
	if sessionID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "sessionId is required"})
		return
	}

	if err := s.coordinator.DeleteSession(c.Request.Context(), sessionID); err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"deleted": true, "sessionId": sessionID})
}

// StartSession handles POST /start.
func (s *Server) StartSession(c *gin.Context) {
	var req session.StartRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body: " + err.Error()})
		return
	}

	taskID, err := s.coordinator.Start(c.Request.Context(), req)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"sessionId": req.SessionID, "taskId": taskID})
}
