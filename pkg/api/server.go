// Package api exposes the HTTP surface: session CRUD, the queue callback
// endpoint, human interventions, and the SSE event stream.
package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/codeready-toolchain/stride/pkg/engine"
	"github.com/codeready-toolchain/stride/pkg/events"
	"github.com/codeready-toolchain/stride/pkg/queue"
	"github.com/codeready-toolchain/stride/pkg/session"
	"github.com/codeready-toolchain/stride/pkg/store"
)

// HeartbeatInterval is how often SSE connections emit keep-alive frames.
const HeartbeatInterval = 30 * time.Second

// Server wires the HTTP handlers to the runtime components.
type Server struct {
	coordinator *session.Coordinator
	engine      *engine.Engine
	stream      events.EventStream
	store       store.SessionStore
	queue       queue.StepQueue
	logger      *slog.Logger

	heartbeat time.Duration
}

// NewServer creates the HTTP server facade.
func NewServer(coord *session.Coordinator, eng *engine.Engine, stream events.EventStream, st store.SessionStore, q queue.StepQueue, logger *slog.Logger) *Server {
	return &Server{
		coordinator: coord,
		engine:      eng,
		stream:      stream,
		store:       st,
		queue:       q,
		logger:      logger.With("component", "api"),
		heartbeat:   HeartbeatInterval,
	}
}

// Router builds the gin engine with all routes registered.
func (s *Server) Router() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery(), s.requestLogger())

	r.POST("/session", s.CreateSession)
	r.GET("/session", s.GetSession)
	r.DELETE("/session", s.DeleteSession)

	r.POST("/start", s.StartSession)

	r.POST("/execute-step", s.ExecuteStep)
	r.GET("/execute-step", s.Healthz)
	r.GET("/healthz", s.Healthz)

	r.POST("/human-intervention", s.PostIntervention)
	r.GET("/human-intervention", s.ListInterventions)

	r.GET("/stream", s.StreamEvents)

	return r
}

// HTTPServer wraps the router in an http.Server listening on addr.
func (s *Server) HTTPServer(addr string) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		// SSE requests hold the connection open; skip their latency noise.
		if c.Writer.Header().Get("Content-Type") == "text/event-stream" {
			return
		}
		s.logger.Info("request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"duration_ms", time.Since(start).Milliseconds())
	}
}
