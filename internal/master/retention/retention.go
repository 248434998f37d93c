package retention

import (
	"time"

	"sentinel/internal/models"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Pruner drops history and alert rows older than the retention window. Runs
// hourly; the first pass fires at startup so a long-stopped master catches up
// immediately.
type Pruner struct {
	logger   *zap.Logger
	db       *gorm.DB
	keepDays int
	cron     *cron.Cron
}

func NewPruner(logger *zap.Logger, db *gorm.DB, keepDays int) *Pruner {
	return &Pruner{
		logger:   logger,
		db:       db,
		keepDays: keepDays,
		cron:     cron.New(),
	}
}

func (p *Pruner) Start() error {
	if _, err := p.cron.AddFunc("@every 1h", p.Prune); err != nil {
		return err
	}
	p.cron.Start()
	go p.Prune()
	p.logger.Info("Retention pruner started", zap.Int("keep_days", p.keepDays))
	return nil
}

func (p *Pruner) Stop() {
	p.cron.Stop()
}

// Prune deletes everything past the retention window.
func (p *Pruner) Prune() {
	cutoff := time.Now().UTC().AddDate(0, 0, -p.keepDays)

	history := p.db.Where("checked_at < ?", cutoff).Delete(&models.CheckHistory{})
	if history.Error != nil {
		p.logger.Error("Failed to prune check history", zap.Error(history.Error))
	}

	alerts := p.db.Where("sent_at < ?", cutoff).Delete(&models.AlertEvent{})
	if alerts.Error != nil {
		p.logger.Error("Failed to prune alert events", zap.Error(alerts.Error))
	}

	if history.RowsAffected > 0 || alerts.RowsAffected > 0 {
		p.logger.Info("Pruned old rows",
			zap.Int64("history", history.RowsAffected),
			zap.Int64("alerts", alerts.RowsAffected),
			zap.Time("cutoff", cutoff))
	}
}
