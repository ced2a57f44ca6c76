package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/yourorg/scenegen/internal/config"
	"github.com/yourorg/scenegen/internal/pipeline"
	"github.com/yourorg/scenegen/pkg/types"
)

// Runner executes one generation run.
type Runner interface {
	Run(ctx context.Context, topic string) (*types.RunResult, error)
}

// Snapshots reads session snapshots from the cache.
type Snapshots interface {
	Get(ctx context.Context, sessionID string) (*types.Scene, bool, error)
	Ping(ctx context.Context) error
	Available() bool
	Reconnect(ctx context.Context) error
}

// Records reads durable scene records.
type Records interface {
	Get(ctx context.Context, id string) (*types.Scene, error)
	List(ctx context.Context, limit int) ([]types.Scene, error)
}

// Server wraps the HTTP API around the pipeline.
type Server struct {
	cfg       *config.Config
	runner    Runner
	snapshots Snapshots
	records   Records
	logger    *slog.Logger
	router    *gin.Engine
}

// New constructs a Server with routes registered.
func New(cfg *config.Config, runner Runner, snapshots Snapshots, records Records, logger *slog.Logger) (*Server, error) {
	if cfg == nil {
		return nil, errors.New("config is nil")
	}
	if runner == nil {
		return nil, errors.New("runner is nil")
	}
	if snapshots == nil {
		return nil, errors.New("snapshot cache is nil")
	}
	if records == nil {
		return nil, errors.New("record store is nil")
	}
	if logger == nil {
		logger = slog.Default()
	}

	router := gin.New()
	router.Use(gin.Recovery(), requestID(), requestLogger(logger))
	router.Use(cors.New(cors.Config{
		AllowOrigins: cfg.Server.AllowOrigins,
		AllowMethods: []string{"GET", "POST", "OPTIONS"},
		AllowHeaders: []string{"Content-Type", "X-Request-ID"},
		MaxAge:       12 * time.Hour,
	}))

	s := &Server{
		cfg:       cfg,
		runner:    runner,
		snapshots: snapshots,
		records:   records,
		logger:    logger,
		router:    router,
	}
	s.Register(router)
	return s, nil
}

// Handler returns the http handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Register mounts the API routes on r.
func (s *Server) Register(r gin.IRouter) {
	api := r.Group("/api/v1")
	{
		api.GET("/health", s.handleHealth)
		api.POST("/generate", s.handleGenerate)
		api.GET("/sessions/:id", s.handleSession)
		api.GET("/scenes", s.handleScenes)
		api.GET("/scenes/:id", s.handleScene)
	}
}

func requestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader("X-Request-ID")
		if id == "" {
			id = uuid.NewString()[:8]
		}
		c.Header("X-Request-ID", id)
		c.Set("requestID", id)
		c.Next()
	}
}

func requestLogger(logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Info("request",
			"method", c.Request.Method,
			"path", c.FullPath(),
			"status", c.Writer.Status(),
			"latency", time.Since(start),
			"request_id", c.GetString("requestID"),
		)
	}
}

func (s *Server) handleHealth(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()
	check := s.snapshots.Ping
	if !s.snapshots.Available() {
		check = s.snapshots.Reconnect
	}
	if err := check(ctx); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded", "cache": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

type generateRequest struct {
	Topic string `json:"topic"`
}

func (s *Server) handleGenerate(c *gin.Context) {
	var req generateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.errorResponse(c, http.StatusBadRequest, "ValidationError", "invalid json body")
		return
	}
	if err := pipeline.ValidateTopic(req.Topic); err != nil {
		s.errorResponse(c, http.StatusBadRequest, "ValidationError", "topic is required")
		return
	}

	// A started run finishes or fails on its own terms once accepted.
	res, err := s.runner.Run(context.WithoutCancel(c.Request.Context()), req.Topic)
	if err != nil {
		if errors.Is(err, types.ErrValidation) {
			s.errorResponse(c, http.StatusBadRequest, "ValidationError", "topic is required")
			return
		}
		s.logger.Error("generate failed", "error", err, "request_id", c.GetString("requestID"))
		s.errorResponse(c, http.StatusInternalServerError, "InternalError", "failed to generate scene")
		return
	}
	c.JSON(http.StatusOK, res)
}

func (s *Server) handleSession(c *gin.Context) {
	scene, ok, err := s.snapshots.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.logger.Error("read snapshot failed", "error", err)
		s.errorResponse(c, http.StatusInternalServerError, "InternalError", "failed to read session")
		return
	}
	if !ok {
		s.errorResponse(c, http.StatusNotFound, "NotFound", "session not found or expired")
		return
	}
	c.JSON(http.StatusOK, scene)
}

func (s *Server) handleScenes(c *gin.Context) {
	limit := 0
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			s.errorResponse(c, http.StatusBadRequest, "ValidationError", "limit must be a non-negative integer")
			return
		}
		limit = n
	}
	scenes, err := s.records.List(c.Request.Context(), limit)
	if err != nil {
		s.logger.Error("list scenes failed", "error", err)
		s.errorResponse(c, http.StatusInternalServerError, "InternalError", "failed to list scenes")
		return
	}
	c.JSON(http.StatusOK, gin.H{"scenes": scenes})
}

func (s *Server) handleScene(c *gin.Context) {
	scene, err := s.records.Get(c.Request.Context(), c.Param("id"))
	if errors.Is(err, types.ErrNotFound) {
		s.errorResponse(c, http.StatusNotFound, "NotFound", "scene not found")
		return
	}
	if err != nil {
		s.logger.Error("get scene failed", "error", err)
		s.errorResponse(c, http.StatusInternalServerError, "InternalError", "failed to read scene")
		return
	}
	c.JSON(http.StatusOK, scene)
}

func (s *Server) errorResponse(c *gin.Context, status int, kind, msg string) {
	c.AbortWithStatusJSON(status, gin.H{
		"error":      kind,
		"message":    msg,
		"request_id": c.GetString("requestID"),
	})
}
