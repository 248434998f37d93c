package alert

import (
	"context"
	"encoding/json"
	"time"

	"sentinel/internal/config"
	"sentinel/internal/models"
	"sentinel/internal/queue"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Dispatcher fans one event out to every channel the check enables. Channels
// are isolated: one backend failing is logged and never blocks the others.
// Every event is persisted as an AlertEvent row with per-channel outcomes,
// whether or not any delivery succeeded.
type Dispatcher struct {
	logger    *zap.Logger
	db        *gorm.DB
	queue     *queue.Publisher
	notifiers map[string]Notifier
}

func NewDispatcher(logger *zap.Logger, db *gorm.DB, channels config.ChannelsConfig, publisher *queue.Publisher) *Dispatcher {
	notifiers := make(map[string]Notifier)
	if channels.Telegram.BotToken != "" {
		notifiers["telegram"] = NewTelegramNotifier(channels.Telegram)
	}
	if channels.Slack.WebhookURL != "" {
		notifiers["slack"] = NewSlackNotifier(channels.Slack)
	}
	if channels.PagerDuty.RoutingKey != "" {
		notifiers["pagerduty"] = NewPagerDutyNotifier(channels.PagerDuty)
	}
	if channels.Mattermost.WebhookURL != "" {
		notifiers["mattermost"] = NewMattermostNotifier(channels.Mattermost)
	}
	if channels.Email.SMTPHost != "" {
		notifiers["email"] = NewEmailNotifier(channels.Email)
	}
	return &Dispatcher{
		logger:    logger,
		db:        db,
		queue:     publisher,
		notifiers: notifiers,
	}
}

// SetNotifier installs or replaces a backend. Used by tests.
func (d *Dispatcher) SetNotifier(name string, n Notifier) {
	d.notifiers[name] = n
}

// Dispatch delivers the event to every channel def enables and records the
// outcome. It never returns an error: alerting is best effort and failure to
// reach a backend must not disturb the state machine.
func (d *Dispatcher) Dispatch(ctx context.Context, def *models.CheckDefinition, event Event) {
	if event.At.IsZero() {
		event.At = time.Now().UTC()
	}

	outcomes := make(map[string]string)
	for _, name := range enabledChannels(def) {
		notifier, ok := d.notifiers[name]
		if !ok {
			outcomes[name] = "not configured"
			d.logger.Warn("Check enables a channel the master has no credentials for",
				zap.Uint32("check_id", event.CheckID),
				zap.String("channel", name))
			continue
		}
		if err := notifier.Notify(ctx, event); err != nil {
			outcomes[name] = err.Error()
			d.logger.Error("Failed to deliver alert",
				zap.Uint32("check_id", event.CheckID),
				zap.String("channel", name),
				zap.String("level", string(event.Level)),
				zap.Error(err))
			continue
		}
		outcomes[name] = "ok"
	}

	d.persist(event, outcomes)

	if err := d.queue.Publish(ctx, event); err != nil {
		d.logger.Error("Failed to publish alert to queue",
			zap.Uint32("check_id", event.CheckID),
			zap.Error(err))
	}

	d.logger.Info("Alert dispatched",
		zap.Uint32("check_id", event.CheckID),
		zap.String("level", string(event.Level)),
		zap.String("message", event.Message),
		zap.Int("channels", len(outcomes)))
}

func (d *Dispatcher) persist(event Event, outcomes map[string]string) {
	channels, err := json.Marshal(outcomes)
	if err != nil {
		channels = []byte("{}")
	}
	row := models.AlertEvent{
		CheckID:  event.CheckID,
		Level:    string(event.Level),
		Message:  event.Message,
		Channels: string(channels),
		SentAt:   event.At,
	}
	if err := d.db.Create(&row).Error; err != nil {
		d.logger.Error("Failed to persist alert event",
			zap.Uint32("check_id", event.CheckID),
			zap.Error(err))
	}
}

func enabledChannels(def *models.CheckDefinition) []string {
	var names []string
	if def.TelegramChannelID != 0 {
		names = append(names, "telegram")
	}
	if def.SlackChannelID != 0 {
		names = append(names, "slack")
	}
	if def.PagerDutyChannelID != 0 {
		names = append(names, "pagerduty")
	}
	if def.MattermostChannelID != 0 {
		names = append(names, "mattermost")
	}
	if def.EmailChannelID != 0 {
		names = append(names, "email")
	}
	return names
}
