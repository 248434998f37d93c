package alert

import (
	"bytes"
	"context"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/smtp"
	"net/url"
	"strings"
	"time"

	"sentinel/internal/config"
)

// Level classifies an alert. Info announces recoveries, warning announces
// degradations, critical announces hard deadlines (certificate about to
// expire).
type Level string

const (
	LevelInfo     Level = "info"
	LevelWarning  Level = "warning"
	LevelCritical Level = "critical"
)

// Event is one alert to fan out. CheckID plus AlertType identify the
// condition for backends that deduplicate (PagerDuty).
type Event struct {
	CheckID   uint32
	CheckName string
	Target    string
	AlertType string // availability, ssl, body
	Level     Level
	Message   string
	At        time.Time
}

// Notifier delivers one event to one backend.
type Notifier interface {
	Name() string
	Notify(ctx context.Context, event Event) error
}

func newHTTPClient() *http.Client {
	return &http.Client{Timeout: 10 * time.Second}
}

func postJSON(ctx context.Context, client *http.Client, endpoint string, body any) error {
	data, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("endpoint responded %d", resp.StatusCode)
	}
	return nil
}

// TelegramNotifier sends through the Bot API sendMessage call.
type TelegramNotifier struct {
	client   *http.Client
	botToken string
	chatID   string
}

func NewTelegramNotifier(cfg config.TelegramConfig) *TelegramNotifier {
	return &TelegramNotifier{
		client:   newHTTPClient(),
		botToken: cfg.BotToken,
		chatID:   cfg.ChatID,
	}
}

func (n *TelegramNotifier) Name() string { return "telegram" }

func (n *TelegramNotifier) Notify(ctx context.Context, event Event) error {
	endpoint := fmt.Sprintf("https://api.telegram.org/bot%s/sendMessage", n.botToken)
	return postJSON(ctx, n.client, endpoint, map[string]string{
		"chat_id": n.chatID,
		"text":    formatMessage(event),
	})
}

// SlackNotifier posts to an incoming webhook.
type SlackNotifier struct {
	client     *http.Client
	webhookURL string
}

func NewSlackNotifier(cfg config.SlackConfig) *SlackNotifier {
	return &SlackNotifier{client: newHTTPClient(), webhookURL: cfg.WebhookURL}
}

func (n *SlackNotifier) Name() string { return "slack" }

func (n *SlackNotifier) Notify(ctx context.Context, event Event) error {
	return postJSON(ctx, n.client, n.webhookURL, map[string]string{
		"text": formatMessage(event),
	})
}

// MattermostNotifier posts to an incoming webhook. Same payload shape as
// Slack.
type MattermostNotifier struct {
	client     *http.Client
	webhookURL string
}

func NewMattermostNotifier(cfg config.MattermostConfig) *MattermostNotifier {
	return &MattermostNotifier{client: newHTTPClient(), webhookURL: cfg.WebhookURL}
}

func (n *MattermostNotifier) Name() string { return "mattermost" }

func (n *MattermostNotifier) Notify(ctx context.Context, event Event) error {
	return postJSON(ctx, n.client, n.webhookURL, map[string]string{
		"text": formatMessage(event),
	})
}

// PagerDutyNotifier sends Events API v2 events. Info-level events resolve the
// incident opened by the matching warning or critical trigger; the dedup key
// is derived from the check's identity and alert type so repeated triggers
// collapse into one incident.
type PagerDutyNotifier struct {
	client     *http.Client
	routingKey string
	endpoint   string
}

func NewPagerDutyNotifier(cfg config.PagerDutyConfig) *PagerDutyNotifier {
	return &PagerDutyNotifier{
		client:     newHTTPClient(),
		routingKey: cfg.RoutingKey,
		endpoint:   "https://events.pagerduty.com/v2/enqueue",
	}
}

func (n *PagerDutyNotifier) Name() string { return "pagerduty" }

func (n *PagerDutyNotifier) Notify(ctx context.Context, event Event) error {
	action := "trigger"
	severity := "warning"
	switch event.Level {
	case LevelInfo:
		action = "resolve"
		severity = "info"
	case LevelCritical:
		severity = "critical"
	}

	payload := map[string]any{
		"routing_key":  n.routingKey,
		"event_action": action,
		"dedup_key":    dedupKey(event),
	}
	if action == "trigger" {
		payload["payload"] = map[string]any{
			"summary":  formatMessage(event),
			"source":   event.Target,
			"severity": severity,
			"custom_details": map[string]any{
				"check_id":   event.CheckID,
				"check_name": event.CheckName,
				"alert_type": event.AlertType,
			},
		}
	}
	return postJSON(ctx, n.client, n.endpoint, payload)
}

func dedupKey(event Event) string {
	h := sha1.Sum([]byte(fmt.Sprintf("%d|%s|%s", event.CheckID, event.Target, event.AlertType)))
	return hex.EncodeToString(h[:])
}

// EmailNotifier sends plain-text mail over SMTP.
type EmailNotifier struct {
	cfg config.EmailConfig
}

func NewEmailNotifier(cfg config.EmailConfig) *EmailNotifier {
	return &EmailNotifier{cfg: cfg}
}

func (n *EmailNotifier) Name() string { return "email" }

func (n *EmailNotifier) Notify(ctx context.Context, event Event) error {
	subject := fmt.Sprintf("[%s] %s", strings.ToUpper(string(event.Level)), event.CheckName)
	msg := strings.Join([]string{
		"From: " + n.cfg.From,
		"To: " + strings.Join(n.cfg.To, ", "),
		"Subject: " + subject,
		"",
		formatMessage(event),
	}, "\r\n")

	addr := fmt.Sprintf("%s:%d", n.cfg.SMTPHost, n.cfg.SMTPPort)
	var auth smtp.Auth
	if n.cfg.Username != "" {
		auth = smtp.PlainAuth("", n.cfg.Username, n.cfg.Password, n.cfg.SMTPHost)
	}
	return smtp.SendMail(addr, auth, n.cfg.From, n.cfg.To, []byte(msg))
}

func formatMessage(event Event) string {
	target := event.Target
	if u, err := url.Parse(target); err == nil && u.Host != "" {
		target = u.Host
	}
	return fmt.Sprintf("%s [%s] %s", event.CheckName, target, event.Message)
}
