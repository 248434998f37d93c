package models

import (
	"time"
)

// CheckDefinition is one check instance bound to one agent. A multi-check
// fanned out across several agents produces one row per target agent, all
// sharing GroupID.
type CheckDefinition struct {
	ID       uint32 `gorm:"primaryKey" json:"id"`
	GroupID  uint32 `gorm:"index" json:"group_id"`
	Name     string `gorm:"size:255;not null" json:"name"`
	Type     string `gorm:"size:50;not null" json:"type"` // http, tcp, dns, ping, smtp, rabbitmq
	Interval int    `gorm:"default:60" json:"interval"`   // seconds
	Timeout  int    `gorm:"default:10" json:"timeout"`    // seconds, below interval
	Retries  int    `gorm:"default:3" json:"retries"`
	Enabled  bool   `json:"enabled"`
	Priority string `gorm:"size:20;default:warning" json:"priority"` // info, warning, error, critical

	// Type-specific parameters, serialized check.Spec params for this type.
	Params string `gorm:"type:text" json:"params"`

	// Notification channels; 0 disables the channel for this check.
	TelegramChannelID   uint32 `gorm:"default:0" json:"telegram_channel_id"`
	SlackChannelID      uint32 `gorm:"default:0" json:"slack_channel_id"`
	PagerDutyChannelID  uint32 `gorm:"default:0" json:"pagerduty_channel_id"`
	MattermostChannelID uint32 `gorm:"default:0" json:"mattermost_channel_id"`
	EmailChannelID      uint32 `gorm:"default:0" json:"email_channel_id"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (CheckDefinition) TableName() string {
	return "check_definitions"
}

// AgentAssignment binds a CheckDefinition to the agent executing it.
// Destroyed when the check is deleted, disabled or moved.
type AgentAssignment struct {
	ID        uint32    `gorm:"primaryKey" json:"id"`
	CheckID   uint32    `gorm:"uniqueIndex;not null" json:"check_id"`
	AgentUUID string    `gorm:"size:64;index;not null" json:"agent_uuid"`
	CreatedAt time.Time `json:"created_at"`
}

func (AgentAssignment) TableName() string {
	return "agent_assignments"
}

// CheckState is the authoritative current state per check. One row per
// CheckDefinition, created with the check, mutated only by the engine.
type CheckState struct {
	ID       uint32 `gorm:"primaryKey" json:"id"`
	CheckID  uint32 `gorm:"uniqueIndex;not null" json:"check_id"`
	Status   int    `gorm:"default:3" json:"status"` // 0 down, 1 up, 3 never observed
	LastDown *time.Time `json:"last_down,omitempty"`
	LastUp   *time.Time `json:"last_up,omitempty"`
	ChangedAt time.Time `json:"changed_at"`

	ResponseTime     *int64 `json:"response_time,omitempty"` // milliseconds, last successful observation
	ConsecutiveFails int    `gorm:"default:0" json:"consecutive_fails"`
	UptimePercentage int    `gorm:"default:0" json:"uptime_percentage"`

	// SSL expiry latches, armed once per sustained condition.
	SSLWarningArmed  bool `gorm:"default:false" json:"ssl_warning_armed"`
	SSLCriticalArmed bool `gorm:"default:false" json:"ssl_critical_armed"`

	// Body side-check axis, independent of the primary status.
	BodyStatus int `gorm:"default:3" json:"body_status"`

	UpdatedAt time.Time `json:"updated_at"`
}

func (CheckState) TableName() string {
	return "check_states"
}

// CheckHistory is the append-only observation log, pruned by the retention
// job.
type CheckHistory struct {
	ID           uint      `gorm:"primaryKey" json:"id"`
	CheckID      uint32    `gorm:"not null;index" json:"check_id"`
	Kind         string    `gorm:"size:10;default:check" json:"kind"` // check, ssl, body
	Status       int       `json:"status"`
	ResponseTime *int64    `json:"response_time,omitempty"`
	Error        string    `gorm:"type:text" json:"error"`
	CheckedAt    time.Time `gorm:"index" json:"checked_at"`
}

func (CheckHistory) TableName() string {
	return "check_history"
}

// AlertEvent records one generated notification and its per-channel
// dispatch outcomes. Immutable once written.
type AlertEvent struct {
	ID       uint32    `gorm:"primaryKey" json:"id"`
	CheckID  uint32    `gorm:"index" json:"check_id"`
	Level    string    `gorm:"size:20" json:"level"` // info, warning, critical
	Message  string    `gorm:"type:text" json:"message"`
	Channels string    `gorm:"type:text" json:"channels"` // JSON map of channel -> outcome
	SentAt   time.Time `json:"sent_at"`
	CreatedAt time.Time `json:"created_at"`
}

func (AlertEvent) TableName() string {
	return "alert_events"
}
