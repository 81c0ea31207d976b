package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/cyderes/social-feed/internal/apperr"
	"github.com/cyderes/social-feed/internal/config"
	"github.com/cyderes/social-feed/internal/feed"
	"github.com/cyderes/social-feed/internal/logging"
	"github.com/cyderes/social-feed/internal/models"
)

// Feed is the part of feed.Controller the server uses
type Feed interface {
	Load(ctx context.Context, forceRefresh bool) (feed.Result, error)
	Posts() []models.DisplayPost
	Status() models.FeedStatus
}

// Pinger reports whether the cache is reachable
type Pinger interface {
	Ping(ctx context.Context) error
}

// UserFetcher looks up a user on the remote API
type UserFetcher interface {
	FetchUser(ctx context.Context, id int) (*models.User, error)
}

// Server handles HTTP requests
type Server struct {
	config  config.ServerConfig
	feed    Feed
	store   Pinger
	users   UserFetcher
	metrics http.Handler
	logger  *slog.Logger
	server  *http.Server
}

// NewServer creates a new HTTP server. metricsHandler may be nil, in which
// case /metrics is not registered.
func NewServer(cfg config.ServerConfig, f Feed, store Pinger, users UserFetcher, metricsHandler http.Handler, logger *slog.Logger) *Server {
	s := &Server{
		config:  cfg,
		feed:    f,
		store:   store,
		users:   users,
		metrics: metricsHandler,
		logger:  logging.OrDefault(logger).With("component", "server"),
	}

	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      s.Router(),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}

	return s
}

// Router builds the gin engine with every route registered
func (s *Server) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), s.requestLogger())

	r.GET("/health", s.handleHealth)
	r.GET("/feed", s.handleFeed)
	r.POST("/feed/refresh", s.handleRefresh)
	r.GET("/posts/:id", s.handlePostByID)
	r.GET("/users/:id", s.handleUserByID)
	r.GET("/status", s.handleStatus)
	if s.metrics != nil {
		r.GET("/metrics", gin.WrapH(s.metrics))
	}

	return r
}

// Start starts the HTTP server. It returns nil once Shutdown has been called.
func (s *Server) Start() error {
	s.logger.Info("starting HTTP server", "addr", s.server.Addr)
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.logger.Debug("request",
			"method", c.Request.Method,
			"path", c.FullPath(),
			"status", c.Writer.Status(),
			"duration", time.Since(start),
		)
	}
}

// handleHealth handles health check requests
func (s *Server) handleHealth(c *gin.Context) {
	now := time.Now().UTC().Format(time.RFC3339)
	if err := s.store.Ping(c.Request.Context()); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status": "unhealthy",
			"error":  err.Error(),
			"time":   now,
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status": "healthy",
		"time":   now,
	})
}

func (s *Server) handleFeed(c *gin.Context) {
	posts := s.feed.Posts()
	c.JSON(http.StatusOK, gin.H{
		"posts": posts,
		"count": len(posts),
	})
}

// handleRefresh forces a network load. A failed fetch still answers 200 with
// the fallback posts and the error message, as the feed does.
func (s *Server) handleRefresh(c *gin.Context) {
	result, err := s.feed.Load(c.Request.Context(), true)
	if err != nil && result.Source == "" {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
		return
	}

	body := gin.H{
		"load_id": result.LoadID,
		"source":  result.Source,
		"posts":   result.Posts,
		"count":   len(result.Posts),
	}
	if err != nil {
		body["error"] = err.Error()
	}
	if result.Warning != "" {
		body["warning"] = result.Warning
	}
	c.JSON(http.StatusOK, body)
}

// handlePostByID handles GET requests for a specific post in the feed
func (s *Server) handlePostByID(c *gin.Context) {
	id, err := strconv.Atoi(c.Param("id"))
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid post ID"})
		return
	}

	for _, post := range s.feed.Posts() {
		if post.ID == id {
			c.JSON(http.StatusOK, post)
			return
		}
	}
	c.JSON(http.StatusNotFound, gin.H{"error": "Post not found"})
}

func (s *Server) handleUserByID(c *gin.Context) {
	id, err := strconv.Atoi(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid user ID"})
		return
	}

	user, err := s.users.FetchUser(c.Request.Context(), id)
	if err != nil {
		code := apperr.Code(err)
		c.JSON(apperr.HTTPStatus(code), gin.H{"error": err.Error(), "code": code})
		return
	}
	c.JSON(http.StatusOK, user)
}

// handleStatus reports the outcome of the last feed load
func (s *Server) handleStatus(c *gin.Context) {
	c.JSON(http.StatusOK, s.feed.Status())
}
