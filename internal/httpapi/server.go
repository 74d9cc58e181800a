// Package httpapi exposes the Tool Dispatcher over a single JSON-RPC-style
// HTTP endpoint, following the teacher's apps/rest-api pattern of a thin
// gin.Engine wrapping the domain layer rather than embedding business logic
// in handlers.
package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/taskmesh/taskcore/internal/dispatch"
	"github.com/taskmesh/taskcore/internal/observability"
)

// Server wraps a gin.Engine configured with the single POST /rpc route plus
// a liveness probe, the minimum surface a fleet of agents needs.
type Server struct {
	engine *gin.Engine
	http   *http.Server
	logger observability.Logger
}

// rpcRequest is the JSON-RPC-style envelope every tool call arrives as.
type rpcRequest struct {
	Method string          `json:"method" binding:"required"`
	Params json.RawMessage `json:"params"`
}

// New builds a Server bound to addr, routing every POST /rpc call through
// d.Dispatch.
func New(addr string, d *dispatch.Dispatcher, logger observability.Logger, metricsRegistry http.Handler) *Server {
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(requestLogger(logger))

	engine.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	if metricsRegistry != nil {
		engine.GET("/metrics", gin.WrapH(metricsRegistry))
	}
	engine.POST("/rpc", rpcHandler(d))

	return &Server{
		engine: engine,
		logger: logger,
		http: &http.Server{
			Addr:         addr,
			Handler:      engine,
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 15 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
	}
}

// rpcHandler decodes the envelope and always writes 200 with a
// dispatch.Response body; transport-level failures (bad JSON) are the only
// case that gets a non-200 status, per §6's JSON-RPC-style contract.
func rpcHandler(d *dispatch.Dispatcher) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req rpcRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": gin.H{
				"kind": "ValidationError", "message": err.Error(),
			}})
			return
		}
		resp := d.Dispatch(c.Request.Context(), req.Method, req.Params)
		c.JSON(http.StatusOK, resp)
	}
}

func requestLogger(logger observability.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		if logger == nil {
			return
		}
		logger.Debug("http request", observability.Fields{
			"path":     c.Request.URL.Path,
			"status":   c.Writer.Status(),
			"duration": time.Since(start).String(),
		})
	}
}

// Start runs the HTTP server; it blocks until the server stops (normally
// via Shutdown from another goroutine).
func (s *Server) Start() error {
	err := s.http.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown gracefully drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}
