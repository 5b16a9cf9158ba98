package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"signal-engine-go/internal/models"
	"signal-engine-go/internal/pipeline"
)

// Server exposes the signal ingestion and query HTTP surface.
type Server struct {
	server *http.Server
	engine *pipeline.Engine
	logger *zap.Logger
}

// NewServer builds the HTTP server and its routes.
func NewServer(engine *pipeline.Engine, port int, logger *zap.Logger) *Server {
	s := &Server{
		engine: engine,
		logger: logger.Named("api"),
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	router.GET("/health", s.health)
	v1 := router.Group("/api/v1")
	{
		v1.POST("/signals", s.ingestSignal)
		v1.GET("/signals/:id", s.getSignal)
	}

	s.server = &http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: router,
	}
	return s
}

// Start runs the HTTP server in a new goroutine.
func (s *Server) Start() {
	s.logger.Info("Starting API server", zap.String("address", s.server.Addr))
	go func() {
		if err := s.server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("API server failed", zap.Error(err))
		}
	}()
}

// Stop gracefully shuts down the server.
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("Stopping API server...")
	return s.server.Shutdown(ctx)
}

// ingestSignal accepts a raw signal. Execution is asynchronous; the response
// acknowledges the ingestion outcome only.
func (s *Server) ingestSignal(c *gin.Context) {
	var raw pipeline.RawSignal
	if err := c.ShouldBindJSON(&raw); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body: " + err.Error()})
		return
	}

	sig, err := s.engine.Submit(raw)
	if err != nil {
		s.logger.Error("Signal submission failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "signal submission failed"})
		return
	}

	switch sig.Status {
	case models.SignalQueued:
		c.JSON(http.StatusAccepted, gin.H{"signal_id": sig.ID, "status": sig.Status})
	case models.SignalSkipped:
		c.JSON(http.StatusConflict, gin.H{"signal_id": sig.ID, "status": sig.Status, "reason": sig.StatusReason})
	default:
		c.JSON(http.StatusBadRequest, gin.H{"signal_id": sig.ID, "status": sig.Status, "reason": sig.StatusReason})
	}
}

// getSignal returns the signal's current status and reason.
func (s *Server) getSignal(c *gin.Context) {
	sig, err := s.engine.SignalStatus(c.Param("id"))
	if errors.Is(err, gorm.ErrRecordNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "signal not found"})
		return
	}
	if err != nil {
		s.logger.Error("Signal lookup failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "signal lookup failed"})
		return
	}
	c.JSON(http.StatusOK, sig)
}

func (s *Server) health(c *gin.Context) {
	c.String(http.StatusOK, "OK")
}
