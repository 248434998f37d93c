package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"sentinel/api/middleware"
	"sentinel/internal/agent/scheduler"
	"sentinel/internal/check"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const Version = "1.2.0"

// Server is the agent's control surface. The master drives it to place,
// update and remove checks; every route except /version requires the
// Agent-UUID header.
type Server struct {
	logger    *zap.Logger
	scheduler *scheduler.Scheduler
	engine    *gin.Engine
	http      *http.Server
	uuid      string
	started   time.Time
}

func NewServer(logger *zap.Logger, sched *scheduler.Scheduler, uuid string) *Server {
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())

	s := &Server{
		logger:    logger,
		scheduler: sched,
		engine:    engine,
		uuid:      uuid,
		started:   time.Now(),
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	limiter := middleware.NewIPRateLimiter(rate.Limit(20), 40)
	s.engine.Use(middleware.RateLimit(limiter))

	s.engine.GET("/version", s.handleVersion)

	authed := s.engine.Group("/", middleware.AgentAuth(s.uuid))
	authed.GET("/uptime", s.handleUptime)
	authed.GET("/checks", s.handleListChecks)

	authed.GET("/check/:id", s.handleGetCheck)
	authed.POST("/check/:id", s.handleCreateCheck)
	authed.PUT("/check/:id", s.handleUpsertCheck)
	authed.DELETE("/check/:id", s.handleDeleteCheck)

	authed.GET("/check/:id/run", s.handleRunCheck)
	authed.GET("/check/:id/pause", s.handlePauseCheck)
	authed.GET("/check/:id/resume", s.handleResumeCheck)

	authed.GET("/agent/start", s.handleAgentStart)
	authed.GET("/agent/pause", s.handleAgentPause)
	authed.GET("/agent/resume", s.handleAgentResume)
	authed.GET("/agent/stop", s.handleAgentStop)
}

func (s *Server) Run(host string, port int) error {
	s.http = &http.Server{
		Addr:           fmt.Sprintf("%s:%d", host, port),
		Handler:        s.engine,
		ReadTimeout:    10 * time.Second,
		WriteTimeout:   30 * time.Second,
		MaxHeaderBytes: 1 << 20,
	}
	s.logger.Info("Agent API listening", zap.String("addr", s.http.Addr))
	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.http == nil {
		return nil
	}
	return s.http.Shutdown(ctx)
}

// Handler exposes the router for tests.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// handleVersion is the one unauthenticated route. It must never expose the
// agent's identity: the uuid doubles as the auth token.
func (s *Server) handleVersion(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"version": Version,
	})
}

func (s *Server) handleUptime(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"uptime_seconds": int64(time.Since(s.started).Seconds()),
	})
}

func (s *Server) handleListChecks(c *gin.Context) {
	jobs := s.scheduler.List()
	checks := make(map[uint32]scheduler.JobSummary, len(jobs))
	for _, j := range jobs {
		checks[j.Spec.ID] = j
	}
	c.JSON(http.StatusOK, gin.H{"checks": checks})
}

func (s *Server) handleGetCheck(c *gin.Context) {
	id, ok := s.checkID(c)
	if !ok {
		return
	}
	sum, err := s.scheduler.Get(id)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, sum)
}

func (s *Server) handleCreateCheck(c *gin.Context) {
	id, ok := s.checkID(c)
	if !ok {
		return
	}
	spec, ok := s.bindSpec(c, id)
	if !ok {
		return
	}

	if err := s.scheduler.Schedule(spec); err != nil {
		if errors.Is(err, scheduler.ErrConflict) {
			c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, gin.H{"status": "scheduled"})
}

func (s *Server) handleUpsertCheck(c *gin.Context) {
	id, ok := s.checkID(c)
	if !ok {
		return
	}
	spec, ok := s.bindSpec(c, id)
	if !ok {
		return
	}

	if err := s.scheduler.Reschedule(spec); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "scheduled"})
}

func (s *Server) handleDeleteCheck(c *gin.Context) {
	id, ok := s.checkID(c)
	if !ok {
		return
	}
	if err := s.scheduler.Unschedule(id); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "deleted"})
}

func (s *Server) handleRunCheck(c *gin.Context) {
	s.jobAction(c, s.scheduler.RunOnce, "triggered")
}

func (s *Server) handlePauseCheck(c *gin.Context) {
	s.jobAction(c, s.scheduler.Pause, "paused")
}

func (s *Server) handleResumeCheck(c *gin.Context) {
	s.jobAction(c, s.scheduler.Resume, "resumed")
}

func (s *Server) handleAgentStart(c *gin.Context) {
	s.scheduler.Start()
	c.JSON(http.StatusOK, gin.H{"status": "started"})
}

func (s *Server) handleAgentPause(c *gin.Context) {
	s.scheduler.PauseAll()
	c.JSON(http.StatusOK, gin.H{"status": "paused"})
}

func (s *Server) handleAgentResume(c *gin.Context) {
	s.scheduler.Start()
	c.JSON(http.StatusOK, gin.H{"status": "resumed"})
}

func (s *Server) handleAgentStop(c *gin.Context) {
	s.scheduler.Stop()
	c.JSON(http.StatusOK, gin.H{"status": "stopped"})
}

func (s *Server) jobAction(c *gin.Context, action func(uint32) error, status string) {
	id, ok := s.checkID(c)
	if !ok {
		return
	}
	if err := action(id); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": status})
}

func (s *Server) checkID(c *gin.Context) (uint32, bool) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid check id"})
		return 0, false
	}
	return uint32(id), true
}

func (s *Server) bindSpec(c *gin.Context, id uint32) (check.Spec, bool) {
	var spec check.Spec
	if err := c.ShouldBindJSON(&spec); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return spec, false
	}
	spec.ID = id
	return spec, true
}
