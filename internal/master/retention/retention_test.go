package retention

import (
	"path/filepath"
	"testing"
	"time"

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
	require.NoError(t, db.AutoMigrate(&models.CheckHistory{}, &models.AlertEvent{}))
	return db
}

func TestPrune(t *testing.T) {
	db := openTestDB(t)
	now := time.Now().UTC()

	rows := []models.CheckHistory{
		{CheckID: 1, Kind: "check", Status: 1, CheckedAt: now.AddDate(0, 0, -40)},
		{CheckID: 1, Kind: "check", Status: 1, CheckedAt: now.AddDate(0, 0, -31)},
		{CheckID: 1, Kind: "check", Status: 0, CheckedAt: now.AddDate(0, 0, -5)},
		{CheckID: 1, Kind: "check", Status: 1, CheckedAt: now},
	}
	require.NoError(t, db.Create(&rows).Error)

	alerts := []models.AlertEvent{
		{CheckID: 1, Level: "warning", SentAt: now.AddDate(0, 0, -35)},
		{CheckID: 1, Level: "info", SentAt: now},
	}
	require.NoError(t, db.Create(&alerts).Error)

	NewPruner(zap.NewNop(), db, 30).Prune()

	var historyLeft, alertsLeft int64
	require.NoError(t, db.Model(&models.CheckHistory{}).Count(&historyLeft).Error)
	require.NoError(t, db.Model(&models.AlertEvent{}).Count(&alertsLeft).Error)
	assert.EqualValues(t, 2, historyLeft)
	assert.EqualValues(t, 1, alertsLeft)
}

func TestPruneKeepsEverythingInsideWindow(t *testing.T) {
	db := openTestDB(t)
	now := time.Now().UTC()

	require.NoError(t, db.Create(&models.CheckHistory{
		CheckID: 1, Kind: "check", Status: 1, CheckedAt: now.AddDate(0, 0, -29),
	}).Error)

	NewPruner(zap.NewNop(), db, 30).Prune()

	var left int64
	require.NoError(t, db.Model(&models.CheckHistory{}).Count(&left).Error)
	assert.EqualValues(t, 1, left)
}
