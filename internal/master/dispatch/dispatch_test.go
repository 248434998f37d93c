package dispatch

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"sentinel/internal/check"
	"sentinel/internal/config"
	"sentinel/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "test.db")), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&models.CheckDefinition{}, &models.AgentAssignment{}))
	return db
}

func testSpec(id uint32) check.Spec {
	return check.Spec{
		ID:       id,
		Name:     "db",
		Type:     check.TypeTCP,
		Interval: 60,
		Timeout:  5,
		TCP:      &check.TCPParams{IP: "10.0.0.1", Port: 5432},
	}
}

func newDispatcherAgainst(t *testing.T, handler http.HandlerFunc) (*Dispatcher, *gorm.DB) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	db := openTestDB(t)
	d := New(zap.NewNop(), db, []config.AgentEndpoint{{UUID: "agent-1", URL: srv.URL}})
	return d, db
}

func TestPlaceRecordsAssignment(t *testing.T) {
	var gotPath, gotUUID string
	d, db := newDispatcherAgainst(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotUUID = r.Header.Get("Agent-UUID")
		w.WriteHeader(http.StatusCreated)
	})

	require.NoError(t, d.Place(context.Background(), "agent-1", testSpec(5)))
	assert.Equal(t, "/check/5", gotPath)
	assert.Equal(t, "agent-1", gotUUID)

	var assignment models.AgentAssignment
	require.NoError(t, db.First(&assignment, "check_id = ?", 5).Error)
	assert.Equal(t, "agent-1", assignment.AgentUUID)
}

func TestPlaceConflictSurfacesAsError(t *testing.T) {
	d, db := newDispatcherAgainst(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
	})

	err := d.Place(context.Background(), "agent-1", testSpec(5))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrAgentRejected)

	// The diverged placement is not recorded as an assignment.
	var n int64
	require.NoError(t, db.Model(&models.AgentAssignment{}).Count(&n).Error)
	assert.Zero(t, n)
}

func TestPlaceUnknownAgent(t *testing.T) {
	d, _ := newDispatcherAgainst(t, func(w http.ResponseWriter, r *http.Request) {})
	err := d.Place(context.Background(), "nope", testSpec(5))
	assert.ErrorIs(t, err, ErrAgentUnknown)
}

func TestWithdrawClearsAssignmentEvenOn404(t *testing.T) {
	d, db := newDispatcherAgainst(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})
	require.NoError(t, db.Create(&models.AgentAssignment{CheckID: 5, AgentUUID: "agent-1"}).Error)

	require.NoError(t, d.Withdraw(context.Background(), 5))

	var n int64
	require.NoError(t, db.Model(&models.AgentAssignment{}).Count(&n).Error)
	assert.Zero(t, n)
}

func TestUpdateRequiresAssignment(t *testing.T) {
	d, _ := newDispatcherAgainst(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	err := d.Update(context.Background(), testSpec(5))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no agent assignment")
}

func TestSyncAllRestoresEnabledChecks(t *testing.T) {
	var synced []string
	d, db := newDispatcherAgainst(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPut {
			synced = append(synced, r.URL.Path)
		}
		w.WriteHeader(http.StatusOK)
	})

	enabled := models.CheckDefinition{ID: 1, Name: "a", Type: "tcp", Interval: 60, Timeout: 5, Enabled: true, Params: `{"ip":"10.0.0.1","port":80}`}
	disabled := models.CheckDefinition{ID: 2, Name: "b", Type: "tcp", Interval: 60, Timeout: 5, Enabled: false, Params: `{"ip":"10.0.0.2","port":80}`}
	require.NoError(t, db.Create(&enabled).Error)
	require.NoError(t, db.Create(&disabled).Error)
	require.NoError(t, db.Create(&models.AgentAssignment{CheckID: 1, AgentUUID: "agent-1"}).Error)
	require.NoError(t, db.Create(&models.AgentAssignment{CheckID: 2, AgentUUID: "agent-1"}).Error)

	d.SyncAll(context.Background(), func(def *models.CheckDefinition) (check.Spec, error) {
		return def.Spec()
	})

	assert.Equal(t, []string{"/check/1"}, synced)
}
