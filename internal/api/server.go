// Package api serves the read-only status endpoints and the Prometheus
// scrape target. It exposes observation only; no endpoint mutates trading
// state.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"smc-trading-bot/internal/engine"
)

// Config holds the HTTP server settings.
type Config struct {
	Addr             string        `json:"addr"`
	HeartbeatTimeout time.Duration `json:"heartbeat_timeout"`
}

// Server is the read-only status API.
type Server struct {
	cfg    Config
	view   *engine.View
	logger zerolog.Logger
	http   *http.Server
}

// NewServer builds the router over the engine's view.
func NewServer(cfg Config, view *engine.View, logger zerolog.Logger) *Server {
	if cfg.Addr == "" {
		cfg.Addr = ":8080"
	}
	if cfg.HeartbeatTimeout <= 0 {
		cfg.HeartbeatTimeout = 30 * time.Second
	}

	s := &Server{
		cfg:    cfg,
		view:   view,
		logger: logger.With().Str("component", "api").Logger(),
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(cors.New(cors.Config{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{"GET"},
		AllowHeaders: []string{"Content-Type"},
		MaxAge:       12 * time.Hour,
	}))

	router.GET("/health", s.handleHealth)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	apiGroup := router.Group("/api")
	{
		apiGroup.GET("/status", s.handleStatus)
		apiGroup.GET("/positions", s.handlePositions)
		apiGroup.GET("/signals", s.handleSignals)
	}

	s.http = &http.Server{
		Addr:         cfg.Addr,
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
	return s
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info().Str("addr", s.cfg.Addr).Msg("status API listening")
		if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.http.Shutdown(shutdownCtx)
	}
}

func (s *Server) handleHealth(c *gin.Context) {
	snap := s.view.Snapshot(s.cfg.HeartbeatTimeout)
	status := http.StatusOK
	if !snap.Connected {
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, gin.H{
		"status":    healthWord(snap.Connected),
		"connected": snap.Connected,
	})
}

func (s *Server) handleStatus(c *gin.Context) {
	c.JSON(http.StatusOK, s.view.Snapshot(s.cfg.HeartbeatTimeout))
}

func (s *Server) handlePositions(c *gin.Context) {
	snap := s.view.Snapshot(s.cfg.HeartbeatTimeout)
	c.JSON(http.StatusOK, gin.H{
		"positions": snap.Positions,
		"count":     len(snap.Positions),
	})
}

func (s *Server) handleSignals(c *gin.Context) {
	snap := s.view.Snapshot(s.cfg.HeartbeatTimeout)
	c.JSON(http.StatusOK, gin.H{
		"signals": snap.RecentSignals,
		"count":   len(snap.RecentSignals),
	})
}

func healthWord(connected bool) string {
	if connected {
		return "ok"
	}
	return "degraded"
}
