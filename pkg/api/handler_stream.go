package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/codeready-toolchain/stride/pkg/events"
	"github.com/codeready-toolchain/stride/pkg/models"
)

// StreamEvents handles GET /stream: an SSE feed of the session's event log
// with optional history replay and resume via lastEventId.
func (s *Server) StreamEvents(c *gin.Context) {
	sessionID := c.Query("sessionId")
	if sessionID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "sessionId is required"})
		return
	}
	lastEventID := c.Query("lastEventId")
	if lastEventID == "" {
		lastEventID = c.GetHeader("Last-Event-ID")
	}
	if lastEventID == "" {
		lastEventID = "0"
	}
	includeHistory, _ := strconv.ParseBool(c.Query("includeHistory"))

	if _, err := s.store.LoadState(c.Request.Context(), sessionID); err != nil {
		s.writeError(c, err)
		return
	}

	h := c.Writer.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache, no-transform")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	h.Set("Access-Control-Allow-Origin", "*")
	h.Set("Access-Control-Allow-Methods", "GET")
	h.Set("Access-Control-Allow-Headers", "Cache-Control, Last-Event-ID")
	c.Writer.WriteHeader(http.StatusOK)
	c.Writer.Flush()

	writeFrame := func(v any) {
		payload, err := json.Marshal(v)
		if err != nil {
			s.logger.Error("failed to encode sse frame", "session_id", sessionID, "error", err)
			return
		}
		fmt.Fprintf(c.Writer, "data: %s\n\n", payload)
		c.Writer.Flush()
	}

	writeFrame(gin.H{
		"lastEventId": lastEventID,
		"sessionId":   sessionID,
		"timestamp":   time.Now().UnixMilli(),
		"type":        "connected",
	})

	// History replays chronologically, filtered to events newer than the
	// client's cursor. The live subscription resumes after the last replayed
	// event so nothing is delivered twice.
	resumeID := lastEventID
	if includeHistory {
		history, err := s.stream.History(c.Request.Context(), sessionID, events.DefaultHistoryCount)
		if err != nil {
			s.logger.Warn("history unavailable", "session_id", sessionID, "error", err)
		}
		for i := len(history) - 1; i >= 0; i-- {
			evt := history[i]
			if strconv.FormatInt(evt.Timestamp, 10) <= lastEventID {
				continue
			}
			writeFrame(evt)
			resumeID = evt.ID
		}
	}

	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()

	frames := make(chan models.Event, 64)
	subErr := make(chan error, 1)
	go func() {
		err := s.stream.Subscribe(ctx, sessionID, resumeID, func(batch []models.Event) error {
			for _, evt := range batch {
				select {
				case frames <- evt:
				case <-ctx.Done():
					return nil
				}
			}
			return nil
		})
		if err != nil {
			subErr <- err
		}
	}()

	heartbeat := time.NewTicker(s.heartbeat)
	defer heartbeat.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case evt := <-frames:
			writeFrame(evt)
		case <-heartbeat.C:
			writeFrame(gin.H{
				"sessionId": sessionID,
				"timestamp": time.Now().UnixMilli(),
				"type":      "heartbeat",
			})
		case err := <-subErr:
			s.logger.Error("subscription failed", "session_id", sessionID, "error", err)
			writeFrame(gin.H{
				"type": "error",
				"data": gin.H{"phase": "stream_subscription", "error": err.Error()},
			})
			return
		}
	}
}
