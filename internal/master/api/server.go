package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"sentinel/api/middleware"
	"sentinel/internal/check"
	"sentinel/internal/config"
	"sentinel/internal/elasticsearch"
	"sentinel/internal/master/dispatch"
	"sentinel/internal/master/engine"
	"sentinel/internal/models"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
	"gorm.io/gorm"
)

// Server is the master's HTTP surface: the result ingest endpoint the agents
// post to, and the admin API that manages check definitions.
type Server struct {
	logger     *zap.Logger
	db         *gorm.DB
	engine     *engine.Engine
	dispatcher *dispatch.Dispatcher
	es         *elasticsearch.Client
	agents     map[string]bool
	gin        *gin.Engine
	http       *http.Server
}

func NewServer(logger *zap.Logger, db *gorm.DB, eng *engine.Engine, dispatcher *dispatch.Dispatcher, es *elasticsearch.Client, agents []config.AgentEndpoint) *Server {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	known := make(map[string]bool, len(agents))
	for _, a := range agents {
		known[a.UUID] = true
	}

	s := &Server{
		logger:     logger,
		db:         db,
		engine:     eng,
		dispatcher: dispatcher,
		es:         es,
		agents:     known,
		gin:        router,
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	limiter := middleware.NewIPRateLimiter(rate.Limit(100), 200)
	s.gin.Use(middleware.RateLimit(limiter))

	s.gin.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	s.gin.POST("/agent/check/result", s.handleIngest)

	api := s.gin.Group("/api")
	api.GET("/checks", s.handleListChecks)
	api.POST("/check", s.handleCreateCheck)
	api.GET("/check/:id", s.handleGetCheck)
	api.PUT("/check/:id", s.handleUpdateCheck)
	api.DELETE("/check/:id", s.handleDeleteCheck)
	api.GET("/check/:id/history", s.handleCheckHistory)
	api.GET("/check/:id/uptime", s.handleCheckUptime)
	api.GET("/check/:id/run", s.handleRunCheck)
	api.GET("/check/:id/pause", s.handlePauseCheck)
	api.GET("/check/:id/resume", s.handleResumeCheck)
	api.GET("/agents", s.handleListAgents)
	api.GET("/agent/:uuid/status", s.handleAgentStatus)
}

func (s *Server) Run(host string, port int) error {
	s.http = &http.Server{
		Addr:           fmt.Sprintf("%s:%d", host, port),
		Handler:        s.gin,
		ReadTimeout:    10 * time.Second,
		WriteTimeout:   30 * time.Second,
		MaxHeaderBytes: 1 << 20,
	}
	s.logger.Info("Master API listening", zap.String("addr", s.http.Addr))
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
	return s.gin
}

// handleIngest accepts one observation from an agent. It always answers ok
// once the payload parses: the agent's retry loop keys off transport errors
// and 5xx, and a result the master cannot process will not improve on replay.
func (s *Server) handleIngest(c *gin.Context) {
	agentUUID := c.GetHeader("Agent-UUID")
	if !s.agents[agentUUID] {
		s.logger.Warn("Result from unknown agent discarded",
			zap.String("agent", agentUUID),
			zap.String("ip", c.ClientIP()))
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
		return
	}

	var payload check.ResultPayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		s.logger.Warn("Malformed result payload",
			zap.String("agent", agentUUID),
			zap.Error(err))
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
		return
	}

	ctx := c.Request.Context()
	var err error
	switch payload.CheckType {
	case string(check.KindSSL):
		err = s.engine.HandleSSL(ctx, &payload)
	case string(check.KindBody):
		err = s.engine.HandleBody(ctx, &payload)
	default:
		err = s.engine.HandleResult(ctx, &payload)
		if err == nil {
			s.index(ctx, agentUUID, &payload)
		}
	}
	if err != nil {
		s.logger.Error("Failed to process result",
			zap.Uint32("check_id", payload.CheckID),
			zap.String("check_type", payload.CheckType),
			zap.String("agent", agentUUID),
			zap.Error(err))
	}

	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) index(ctx context.Context, agentUUID string, payload *check.ResultPayload) {
	if s.es == nil {
		return
	}
	var def models.CheckDefinition
	if err := s.db.First(&def, "id = ?", payload.CheckID).Error; err != nil {
		return
	}
	status := 0
	if payload.Status != nil {
		status = *payload.Status
	}
	at, err := time.Parse(check.TimeLayout, payload.NowUTC)
	if err != nil {
		at = time.Now().UTC()
	}
	s.es.IndexResult(ctx, payload.CheckID, payload.CheckType, def.Name, def.Target(),
		status, payload.ResponseTime, payload.Error, agentUUID, at)
}

// checkRequest is the admin API's create/update body: the wire spec plus the
// master-only fields.
type checkRequest struct {
	check.Spec
	Retries  int      `json:"retries"`
	Priority string   `json:"priority"`
	Agents   []string `json:"agents"`

	TelegramChannelID   uint32 `json:"telegram_channel_id"`
	SlackChannelID      uint32 `json:"slack_channel_id"`
	PagerDutyChannelID  uint32 `json:"pagerduty_channel_id"`
	MattermostChannelID uint32 `json:"mattermost_channel_id"`
	EmailChannelID      uint32 `json:"email_channel_id"`
}

func (r *checkRequest) definition() (*models.CheckDefinition, error) {
	def := &models.CheckDefinition{
		Name:     r.Name,
		Type:     string(r.Type),
		Interval: r.Interval,
		Timeout:  r.Timeout,
		Retries:  r.Retries,
		Enabled:  true,
		Priority: r.Priority,

		TelegramChannelID:   r.TelegramChannelID,
		SlackChannelID:      r.SlackChannelID,
		PagerDutyChannelID:  r.PagerDutyChannelID,
		MattermostChannelID: r.MattermostChannelID,
		EmailChannelID:      r.EmailChannelID,
	}
	if def.Retries == 0 {
		def.Retries = 3
	}
	if def.Priority == "" {
		def.Priority = string(check.PriorityWarning)
	}
	if err := def.SetParams(r.Spec); err != nil {
		return nil, err
	}
	return def, nil
}

type checkView struct {
	Definition models.CheckDefinition `json:"definition"`
	State      *models.CheckState     `json:"state,omitempty"`
	AgentUUID  string                 `json:"agent_uuid,omitempty"`
}

func (s *Server) handleListChecks(c *gin.Context) {
	var defs []models.CheckDefinition
	if err := s.db.Order("id").Find(&defs).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	views := make([]checkView, 0, len(defs))
	for _, def := range defs {
		views = append(views, s.view(def))
	}
	c.JSON(http.StatusOK, gin.H{"checks": views})
}

func (s *Server) view(def models.CheckDefinition) checkView {
	v := checkView{Definition: def}
	var state models.CheckState
	if err := s.db.First(&state, "check_id = ?", def.ID).Error; err == nil {
		v.State = &state
	}
	var assignment models.AgentAssignment
	if err := s.db.First(&assignment, "check_id = ?", def.ID).Error; err == nil {
		v.AgentUUID = assignment.AgentUUID
	}
	return v
}

// handleCreateCheck creates one check per requested agent. All instances
// share a group id so they read as one logical multi-region check.
func (s *Server) handleCreateCheck(c *gin.Context) {
	var req checkRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if len(req.Agents) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "at least one agent is required"})
		return
	}
	seen := map[string]bool{}
	for _, uuid := range req.Agents {
		if seen[uuid] {
			c.JSON(http.StatusBadRequest, gin.H{"error": "duplicate agent: " + uuid})
			return
		}
		seen[uuid] = true
	}

	// Validate the spec shape before touching the database. The per-instance
	// id is assigned on insert.
	probe := req.Spec
	probe.ID = 1
	if err := probe.Validate(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	var created []checkView
	var groupID uint32
	for _, agentUUID := range req.Agents {
		def, err := req.definition()
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		def.GroupID = groupID

		if err := s.db.Create(def).Error; err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		if groupID == 0 {
			groupID = def.ID
			if err := s.db.Model(def).Update("group_id", groupID).Error; err != nil {
				c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
				return
			}
			def.GroupID = groupID
		}

		state := models.CheckState{
			CheckID:    def.ID,
			Status:     int(check.StatusUnknown),
			BodyStatus: int(check.StatusUnknown),
		}
		if err := s.db.Create(&state).Error; err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}

		spec, err := def.Spec()
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		if err := s.dispatcher.Place(c.Request.Context(), agentUUID, spec); err != nil {
			s.logger.Error("Failed to place check",
				zap.Uint32("check_id", def.ID),
				zap.String("agent", agentUUID),
				zap.Error(err))
			c.JSON(http.StatusBadGateway, gin.H{
				"error":   err.Error(),
				"created": created,
			})
			return
		}

		created = append(created, s.view(*def))
	}

	c.JSON(http.StatusCreated, gin.H{"checks": created})
}

func (s *Server) handleGetCheck(c *gin.Context) {
	def, ok := s.loadDefinition(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, s.view(*def))
}

func (s *Server) handleUpdateCheck(c *gin.Context) {
	def, ok := s.loadDefinition(c)
	if !ok {
		return
	}

	var req checkRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	req.Spec.ID = def.ID
	if err := req.Spec.Validate(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	updated, err := req.definition()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	updated.ID = def.ID
	updated.GroupID = def.GroupID
	updated.Enabled = def.Enabled
	updated.CreatedAt = def.CreatedAt

	if err := s.db.Save(updated).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	spec, err := updated.Spec()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if err := s.dispatcher.Update(c.Request.Context(), spec); err != nil {
		s.logger.Error("Failed to push updated check",
			zap.Uint32("check_id", def.ID),
			zap.Error(err))
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, s.view(*updated))
}

func (s *Server) handleDeleteCheck(c *gin.Context) {
	def, ok := s.loadDefinition(c)
	if !ok {
		return
	}

	if err := s.dispatcher.Withdraw(c.Request.Context(), def.ID); err != nil {
		// Withdrawal failures must not leave an undeletable check; the agent
		// drops unknown checks on its next sync.
		s.logger.Warn("Failed to withdraw check from agent",
			zap.Uint32("check_id", def.ID),
			zap.Error(err))
	}

	if err := s.db.Where("check_id = ?", def.ID).Delete(&models.CheckState{}).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if err := s.db.Where("check_id = ?", def.ID).Delete(&models.AgentAssignment{}).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if err := s.db.Delete(def).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "deleted"})
}

func (s *Server) handleCheckHistory(c *gin.Context) {
	def, ok := s.loadDefinition(c)
	if !ok {
		return
	}

	limit := 100
	if raw := c.Query("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 && n <= 1000 {
			limit = n
		}
	}

	var rows []models.CheckHistory
	query := s.db.Where("check_id = ?", def.ID)
	if kind := c.Query("kind"); kind != "" {
		query = query.Where("kind = ?", kind)
	}
	if err := query.Order("checked_at DESC").Limit(limit).Find(&rows).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"history": rows})
}

func (s *Server) handleCheckUptime(c *gin.Context) {
	def, ok := s.loadDefinition(c)
	if !ok {
		return
	}
	var state models.CheckState
	if err := s.db.First(&state, "check_id = ?", def.ID).Error; err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "no state recorded"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"check_id":          def.ID,
		"uptime_percentage": state.UptimePercentage,
		"status":            state.Status,
		"last_up":           state.LastUp,
		"last_down":         state.LastDown,
	})
}

func (s *Server) handleRunCheck(c *gin.Context) {
	s.jobAction(c, "run")
}

func (s *Server) handlePauseCheck(c *gin.Context) {
	def, ok := s.loadDefinition(c)
	if !ok {
		return
	}
	if err := s.dispatcher.JobAction(c.Request.Context(), def.ID, "pause"); err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}
	if err := s.db.Model(def).Update("enabled", false).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "paused"})
}

func (s *Server) handleResumeCheck(c *gin.Context) {
	def, ok := s.loadDefinition(c)
	if !ok {
		return
	}
	if err := s.dispatcher.JobAction(c.Request.Context(), def.ID, "resume"); err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}
	if err := s.db.Model(def).Update("enabled", true).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "resumed"})
}

func (s *Server) jobAction(c *gin.Context, action string) {
	def, ok := s.loadDefinition(c)
	if !ok {
		return
	}
	if err := s.dispatcher.JobAction(c.Request.Context(), def.ID, action); err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": action})
}

func (s *Server) handleListAgents(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"agents": s.dispatcher.Agents()})
}

func (s *Server) handleAgentStatus(c *gin.Context) {
	uuid := c.Param("uuid")
	if !s.agents[uuid] {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown agent"})
		return
	}
	if err := s.dispatcher.Ping(c.Request.Context(), uuid); err != nil {
		c.JSON(http.StatusOK, gin.H{"uuid": uuid, "alive": false, "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"uuid": uuid, "alive": true})
}

func (s *Server) loadDefinition(c *gin.Context) (*models.CheckDefinition, bool) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid check id"})
		return nil, false
	}
	var def models.CheckDefinition
	if err := s.db.First(&def, "id = ?", uint32(id)).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "check not found"})
			return nil, false
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return nil, false
	}
	return &def, true
}
