package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	agentapi "sentinel/internal/agent/api"
	"sentinel/internal/agent/scheduler"
	"sentinel/internal/alert"
	"sentinel/internal/check"
	"sentinel/internal/config"
	"sentinel/internal/master/dispatch"
	"sentinel/internal/master/engine"
	"sentinel/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const agentUUID = "c1000000-aaaa-bbbb-cccc-000000000001"

type silentAlerter struct{}

func (silentAlerter) Dispatch(ctx context.Context, def *models.CheckDefinition, event alert.Event) {}

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "test.db")), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(
		&models.CheckDefinition{},
		&models.AgentAssignment{},
		&models.CheckState{},
		&models.CheckHistory{},
		&models.AlertEvent{},
	))
	return db
}

// newTestMaster wires a master server against a real in-process agent API so
// placement and job actions exercise the actual wire protocol.
func newTestMaster(t *testing.T) (*Server, *gorm.DB) {
	t.Helper()
	log := zap.NewNop()

	sched := scheduler.New(log, func(ctx context.Context, spec *check.Spec) {})
	t.Cleanup(sched.Stop)
	agentSrv := httptest.NewServer(agentapi.NewServer(log, sched, agentUUID).Handler())
	t.Cleanup(agentSrv.Close)

	agents := []config.AgentEndpoint{{UUID: agentUUID, URL: agentSrv.URL, Region: "eu"}}

	db := openTestDB(t)
	eng := engine.New(log, db, silentAlerter{}, config.SSLAlertConfig{ExpireWarningDays: 14, ExpireCriticalDays: 7})
	dispatcher := dispatch.New(log, db, agents)

	return NewServer(log, db, eng, dispatcher, nil, agents), db
}

func doRequest(t *testing.T, s *Server, method, path string, body any, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	return w
}

func agentHeaders() map[string]string {
	return map[string]string{"Agent-UUID": agentUUID}
}

func createRequestBody() map[string]any {
	return map[string]any{
		"name":       "db-primary",
		"check_type": "tcp",
		"interval":   60,
		"timeout":    5,
		"tcp":        map[string]any{"ip": "10.0.0.1", "port": 5432},
		"agents":     []string{agentUUID},
	}
}

func createCheck(t *testing.T, s *Server) uint32 {
	t.Helper()
	w := doRequest(t, s, http.MethodPost, "/api/check", createRequestBody(), nil)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var resp struct {
		Checks []struct {
			Definition models.CheckDefinition `json:"definition"`
		} `json:"checks"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Len(t, resp.Checks, 1)
	return resp.Checks[0].Definition.ID
}

func primaryBody(id uint32, status int, errMsg string) map[string]any {
	body := map[string]any{
		"check_id":   id,
		"check_type": "tcp",
		"now_utc":    time.Now().UTC().Format(check.TimeLayout),
		"status":     status,
		"error":      errMsg,
	}
	if status == 1 {
		body["response_time"] = 12
	}
	return body
}

func TestIngestAlwaysAnswersOK(t *testing.T) {
	s, db := newTestMaster(t)
	id := createCheck(t, s)

	// Valid result.
	w := doRequest(t, s, http.MethodPost, "/agent/check/result", primaryBody(id, 1, ""), agentHeaders())
	assert.Equal(t, http.StatusOK, w.Code)

	// Unknown check id: processing fails, the agent still gets ok.
	w = doRequest(t, s, http.MethodPost, "/agent/check/result", primaryBody(9999, 1, ""), agentHeaders())
	assert.Equal(t, http.StatusOK, w.Code)

	// Malformed body.
	req := httptest.NewRequest(http.MethodPost, "/agent/check/result", bytes.NewReader([]byte("{broken")))
	req.Header.Set("Agent-UUID", agentUUID)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)

	// Only the valid result left a history row.
	var n int64
	require.NoError(t, db.Model(&models.CheckHistory{}).Count(&n).Error)
	assert.EqualValues(t, 1, n)
}

func TestIngestDiscardsUnknownAgents(t *testing.T) {
	s, db := newTestMaster(t)
	id := createCheck(t, s)

	w := doRequest(t, s, http.MethodPost, "/agent/check/result", primaryBody(id, 1, ""),
		map[string]string{"Agent-UUID": "not-an-agent"})
	assert.Equal(t, http.StatusOK, w.Code)

	var n int64
	require.NoError(t, db.Model(&models.CheckHistory{}).Count(&n).Error)
	assert.Zero(t, n)
}

func TestIngestRoutesByCheckType(t *testing.T) {
	s, db := newTestMaster(t)
	id := createCheck(t, s)
	now := time.Now().UTC()

	sslBody := map[string]any{
		"check_id":     id,
		"check_type":   "ssl",
		"now_utc":      now.Format(check.TimeLayout),
		"ssl_date_exp": now.AddDate(0, 2, 0).Format(check.TimeLayout),
		"now_date":     now.Format(check.TimeLayout),
		"url":          "https://example.com",
	}
	w := doRequest(t, s, http.MethodPost, "/agent/check/result", sslBody, agentHeaders())
	require.Equal(t, http.StatusOK, w.Code)

	bodyBody := map[string]any{
		"check_id":   id,
		"check_type": "body",
		"now_utc":    now.Format(check.TimeLayout),
		"status":     0,
		"error":      `Body does not contain "healthy"`,
	}
	w = doRequest(t, s, http.MethodPost, "/agent/check/result", bodyBody, agentHeaders())
	require.Equal(t, http.StatusOK, w.Code)

	for _, kind := range []string{"ssl", "body"} {
		var n int64
		require.NoError(t, db.Model(&models.CheckHistory{}).
			Where("check_id = ? AND kind = ?", id, kind).Count(&n).Error)
		assert.EqualValues(t, 1, n, kind)
	}
}

func TestCreatePlacesCheckOnAgent(t *testing.T) {
	s, db := newTestMaster(t)
	id := createCheck(t, s)

	var assignment models.AgentAssignment
	require.NoError(t, db.First(&assignment, "check_id = ?", id).Error)
	assert.Equal(t, agentUUID, assignment.AgentUUID)

	var state models.CheckState
	require.NoError(t, db.First(&state, "check_id = ?", id).Error)
	assert.Equal(t, int(check.StatusUnknown), state.Status)
}

func TestCreateValidation(t *testing.T) {
	s, _ := newTestMaster(t)

	body := createRequestBody()
	delete(body, "agents")
	w := doRequest(t, s, http.MethodPost, "/api/check", body, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	body = createRequestBody()
	body["agents"] = []string{agentUUID, agentUUID}
	w = doRequest(t, s, http.MethodPost, "/api/check", body, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	body = createRequestBody()
	body["timeout"] = 120
	w = doRequest(t, s, http.MethodPost, "/api/check", body, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestCheckCRUD(t *testing.T) {
	s, _ := newTestMaster(t)
	id := createCheck(t, s)

	w := doRequest(t, s, http.MethodGet, "/api/checks", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = doRequest(t, s, http.MethodGet, checkPath(id), nil, nil)
	require.Equal(t, http.StatusOK, w.Code)

	// Update pushes the new interval down to the agent.
	body := createRequestBody()
	body["interval"] = 30
	w = doRequest(t, s, http.MethodPut, checkPath(id), body, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = doRequest(t, s, http.MethodDelete, checkPath(id), nil, nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = doRequest(t, s, http.MethodGet, checkPath(id), nil, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestCheckNotFound(t *testing.T) {
	s, _ := newTestMaster(t)

	for _, p := range []string{"/api/check/999", "/api/check/999/history", "/api/check/999/uptime"} {
		w := doRequest(t, s, http.MethodGet, p, nil, nil)
		assert.Equal(t, http.StatusNotFound, w.Code, p)
	}
}

func TestPauseResumeTogglesEnabled(t *testing.T) {
	s, db := newTestMaster(t)
	id := createCheck(t, s)

	w := doRequest(t, s, http.MethodGet, checkPath(id)+"/pause", nil, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var def models.CheckDefinition
	require.NoError(t, db.First(&def, "id = ?", id).Error)
	assert.False(t, def.Enabled)

	w = doRequest(t, s, http.MethodGet, checkPath(id)+"/resume", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)

	require.NoError(t, db.First(&def, "id = ?", id).Error)
	assert.True(t, def.Enabled)
}

func TestAgentStatus(t *testing.T) {
	s, _ := newTestMaster(t)

	w := doRequest(t, s, http.MethodGet, "/api/agent/"+agentUUID+"/status", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)

	var resp map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, true, resp["alive"])

	w = doRequest(t, s, http.MethodGet, "/api/agent/unknown/status", nil, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestCheckHistoryEndpoint(t *testing.T) {
	s, _ := newTestMaster(t)
	id := createCheck(t, s)

	doRequest(t, s, http.MethodPost, "/agent/check/result", primaryBody(id, 1, ""), agentHeaders())
	doRequest(t, s, http.MethodPost, "/agent/check/result", primaryBody(id, 0, "Port is unreachable"), agentHeaders())

	w := doRequest(t, s, http.MethodGet, checkPath(id)+"/history", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		History []models.CheckHistory `json:"history"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Len(t, resp.History, 2)
}

func checkPath(id uint32) string {
	return "/api/check/" + strconv.FormatUint(uint64(id), 10)
}
