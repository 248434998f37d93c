package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config covers both binaries. The master reads everything; an agent only
// needs the Agent and Logger sections.
type Config struct {
	Server        ServerConfig        `yaml:"server"`
	Database      DatabaseConfig      `yaml:"database"`
	Redis         RedisConfig         `yaml:"redis"`
	Elasticsearch ElasticsearchConfig `yaml:"elasticsearch"`
	Logger        LoggerConfig        `yaml:"logger"`
	Channels      ChannelsConfig      `yaml:"channels"`
	SSL           SSLAlertConfig      `yaml:"ssl"`
	History       HistoryConfig       `yaml:"history"`
	Agent         AgentConfig         `yaml:"agent"`
	Agents        []AgentEndpoint     `yaml:"agents"`
}

type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

type DatabaseConfig struct {
	Driver   string `yaml:"driver"` // sqlite, mysql, postgres
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	DBName   string `yaml:"dbname"`
	SSLMode  string `yaml:"sslmode"`
}

type RedisConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Queue    string `yaml:"queue"` // list the alert dispatcher publishes to
}

type ElasticsearchConfig struct {
	Enabled     bool     `yaml:"enabled"`
	Addresses   []string `yaml:"addresses"`
	Username    string   `yaml:"username"`
	Password    string   `yaml:"password"`
	IndexPrefix string   `yaml:"index_prefix"`
}

type LoggerConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Output string `yaml:"output"` // stdout, stderr, or file path
}

// ChannelsConfig holds one credential set per notification backend. A check
// enables a backend through its non-zero channel id; the credentials here are
// shared by all checks.
type ChannelsConfig struct {
	Telegram   TelegramConfig   `yaml:"telegram"`
	Slack      SlackConfig      `yaml:"slack"`
	PagerDuty  PagerDutyConfig  `yaml:"pagerduty"`
	Mattermost MattermostConfig `yaml:"mattermost"`
	Email      EmailConfig      `yaml:"email"`
}

type TelegramConfig struct {
	BotToken string `yaml:"bot_token"`
	ChatID   string `yaml:"chat_id"`
}

type SlackConfig struct {
	WebhookURL string `yaml:"webhook_url"`
}

type PagerDutyConfig struct {
	RoutingKey string `yaml:"routing_key"`
}

type MattermostConfig struct {
	WebhookURL string `yaml:"webhook_url"`
}

type EmailConfig struct {
	SMTPHost string   `yaml:"smtp_host"`
	SMTPPort int      `yaml:"smtp_port"`
	Username string   `yaml:"username"`
	Password string   `yaml:"password"`
	From     string   `yaml:"from"`
	To       []string `yaml:"to"`
}

type SSLAlertConfig struct {
	ExpireWarningDays  int `yaml:"ssl_expire_warning_alert"`
	ExpireCriticalDays int `yaml:"ssl_expire_critical_alert"`
}

type HistoryConfig struct {
	KeepRangeDays int `yaml:"keep_history_range"`
}

// AgentConfig configures the agent binary itself.
type AgentConfig struct {
	UUID           string `yaml:"uuid"` // pre-shared identity, checked on every control request
	Host           string `yaml:"host"`
	Port           int    `yaml:"port"`
	MasterURL      string `yaml:"master_url"`
	ReportAttempts int    `yaml:"report_attempts"`
	ReportDelay    int    `yaml:"report_delay"` // seconds between delivery attempts
}

// AgentEndpoint is one remote agent as seen from the master's dispatcher.
type AgentEndpoint struct {
	UUID    string `yaml:"uuid"`
	URL     string `yaml:"url"`
	Region  string `yaml:"region"`
	Country string `yaml:"country"`
}

// LoadFromFile reads a yaml config and applies defaults.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	setDefaults(&config)

	return &config, nil
}

// Load builds a config from environment variables. Used when no config file
// is present.
func Load() *Config {
	cfg := &Config{
		Server: ServerConfig{
			Host: getEnv("HOST", "0.0.0.0"),
			Port: getEnvInt("HTTP_PORT", 8080),
		},
		Database: DatabaseConfig{
			Driver:   getEnv("DB_DRIVER", "sqlite"),
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnvInt("DB_PORT", 3306),
			User:     getEnv("DB_USER", "root"),
			Password: getEnv("DB_PASSWORD", ""),
			DBName:   getEnv("DB_NAME", "sentinel.db"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
		},
		Redis: RedisConfig{
			Enabled:  getEnvBool("REDIS_ENABLED", false),
			Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvInt("REDIS_DB", 0),
			Queue:    getEnv("REDIS_QUEUE", "sentinel-alerts"),
		},
		Elasticsearch: ElasticsearchConfig{
			Enabled:     getEnvBool("ES_ENABLED", false),
			Addresses:   getEnvSlice("ES_ADDRESSES", []string{"http://localhost:9200"}),
			Username:    getEnv("ES_USERNAME", ""),
			Password:    getEnv("ES_PASSWORD", ""),
			IndexPrefix: getEnv("ES_INDEX_PREFIX", "sentinel-results"),
		},
		Logger: LoggerConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Output: getEnv("LOG_OUTPUT", "stdout"),
		},
		Channels: ChannelsConfig{
			Telegram: TelegramConfig{
				BotToken: getEnv("TELEGRAM_BOT_TOKEN", ""),
				ChatID:   getEnv("TELEGRAM_CHAT_ID", ""),
			},
			Slack: SlackConfig{
				WebhookURL: getEnv("SLACK_WEBHOOK_URL", ""),
			},
			PagerDuty: PagerDutyConfig{
				RoutingKey: getEnv("PAGERDUTY_ROUTING_KEY", ""),
			},
			Mattermost: MattermostConfig{
				WebhookURL: getEnv("MATTERMOST_WEBHOOK_URL", ""),
			},
			Email: EmailConfig{
				SMTPHost: getEnv("EMAIL_SMTP_HOST", ""),
				SMTPPort: getEnvInt("EMAIL_SMTP_PORT", 25),
				Username: getEnv("EMAIL_USERNAME", ""),
				Password: getEnv("EMAIL_PASSWORD", ""),
				From:     getEnv("EMAIL_FROM", ""),
				To:       getEnvSlice("EMAIL_TO", nil),
			},
		},
		SSL: SSLAlertConfig{
			ExpireWarningDays:  getEnvInt("SSL_EXPIRE_WARNING_ALERT", 14),
			ExpireCriticalDays: getEnvInt("SSL_EXPIRE_CRITICAL_ALERT", 7),
		},
		History: HistoryConfig{
			KeepRangeDays: getEnvInt("KEEP_HISTORY_RANGE", 30),
		},
		Agent: AgentConfig{
			UUID:           getEnv("AGENT_UUID", ""),
			Host:           getEnv("AGENT_HOST", "0.0.0.0"),
			Port:           getEnvInt("AGENT_PORT", 8081),
			MasterURL:      getEnv("MASTER_URL", "http://localhost:8080"),
			ReportAttempts: getEnvInt("REPORT_ATTEMPTS", 6),
			ReportDelay:    getEnvInt("REPORT_DELAY", 5),
		},
	}

	setDefaults(cfg)
	return cfg
}

func setDefaults(config *Config) {
	if config.Server.Host == "" {
		config.Server.Host = "0.0.0.0"
	}
	if config.Server.Port == 0 {
		config.Server.Port = 8080
	}
	if config.Database.Driver == "" {
		config.Database.Driver = "sqlite"
	}
	if config.Database.DBName == "" {
		config.Database.DBName = "sentinel.db"
	}
	if config.Redis.Addr == "" {
		config.Redis.Addr = "localhost:6379"
	}
	if config.Redis.Queue == "" {
		config.Redis.Queue = "sentinel-alerts"
	}
	if config.Elasticsearch.IndexPrefix == "" {
		config.Elasticsearch.IndexPrefix = "sentinel-results"
	}
	if config.Logger.Level == "" {
		config.Logger.Level = "info"
	}
	if config.Logger.Output == "" {
		config.Logger.Output = "stdout"
	}
	if config.SSL.ExpireWarningDays == 0 {
		config.SSL.ExpireWarningDays = 14
	}
	if config.SSL.ExpireCriticalDays == 0 {
		config.SSL.ExpireCriticalDays = 7
	}
	if config.History.KeepRangeDays == 0 {
		config.History.KeepRangeDays = 30
	}
	if config.Agent.Host == "" {
		config.Agent.Host = "0.0.0.0"
	}
	if config.Agent.Port == 0 {
		config.Agent.Port = 8081
	}
	if config.Agent.MasterURL == "" {
		config.Agent.MasterURL = "http://localhost:8080"
	}
	if config.Agent.ReportAttempts == 0 {
		config.Agent.ReportAttempts = 6
	}
	if config.Agent.ReportDelay == 0 {
		config.Agent.ReportDelay = 5
	}
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		var intVal int
		if _, err := fmt.Sscanf(val, "%d", &intVal); err == nil {
			return intVal
		}
	}
	return defaultVal
}

func getEnvBool(key string, defaultVal bool) bool {
	if val := os.Getenv(key); val != "" {
		return val == "true" || val == "1" || val == "yes"
	}
	return defaultVal
}

func getEnvSlice(key string, defaultVal []string) []string {
	if val := os.Getenv(key); val != "" {
		var result []string
		for _, part := range strings.Split(val, ",") {
			trimmed := strings.TrimSpace(part)
			if trimmed != "" {
				result = append(result, trimmed)
			}
		}
		if len(result) > 0 {
			return result
		}
	}
	return defaultVal
}

// Validate checks the master-side sections.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid HTTP port: %d", c.Server.Port)
	}
	if c.Server.Host == "" {
		return fmt.Errorf("server host cannot be empty")
	}

	validDrivers := map[string]bool{
		"sqlite":   true,
		"mysql":    true,
		"postgres": true,
	}
	if !validDrivers[c.Database.Driver] {
		return fmt.Errorf("invalid database driver: %s", c.Database.Driver)
	}
	if c.Database.Driver != "sqlite" {
		if c.Database.Host == "" {
			return fmt.Errorf("database host cannot be empty for %s", c.Database.Driver)
		}
		if c.Database.Port < 1 || c.Database.Port > 65535 {
			return fmt.Errorf("invalid database port: %d", c.Database.Port)
		}
		if c.Database.User == "" {
			return fmt.Errorf("database user cannot be empty for %s", c.Database.Driver)
		}
	}
	if c.Database.DBName == "" {
		return fmt.Errorf("database name cannot be empty")
	}

	validLogLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if !validLogLevels[c.Logger.Level] {
		return fmt.Errorf("invalid log level: %s", c.Logger.Level)
	}

	if c.Elasticsearch.Enabled && len(c.Elasticsearch.Addresses) == 0 {
		return fmt.Errorf("elasticsearch addresses cannot be empty when enabled")
	}
	if c.Redis.Enabled && c.Redis.Addr == "" {
		return fmt.Errorf("redis addr cannot be empty when enabled")
	}

	if c.SSL.ExpireWarningDays < c.SSL.ExpireCriticalDays {
		return fmt.Errorf("ssl_expire_warning_alert (%d) must not be below ssl_expire_critical_alert (%d)",
			c.SSL.ExpireWarningDays, c.SSL.ExpireCriticalDays)
	}
	if c.History.KeepRangeDays < 1 {
		return fmt.Errorf("keep_history_range must be at least 1 day")
	}

	seen := map[string]bool{}
	for _, a := range c.Agents {
		if a.UUID == "" || a.URL == "" {
			return fmt.Errorf("agent entries need both uuid and url")
		}
		if seen[a.UUID] {
			return fmt.Errorf("duplicate agent uuid: %s", a.UUID)
		}
		seen[a.UUID] = true
	}

	return nil
}

// ValidateAgent checks the sections the agent binary needs.
func (c *Config) ValidateAgent() error {
	if c.Agent.UUID == "" {
		return fmt.Errorf("agent uuid cannot be empty")
	}
	if c.Agent.Port < 1 || c.Agent.Port > 65535 {
		return fmt.Errorf("invalid agent port: %d", c.Agent.Port)
	}
	if c.Agent.MasterURL == "" {
		return fmt.Errorf("master url cannot be empty")
	}
	if c.Agent.ReportAttempts < 1 {
		return fmt.Errorf("report_attempts must be at least 1")
	}
	if c.Agent.ReportDelay < 0 {
		return fmt.Errorf("report_delay cannot be negative")
	}
	return nil
}
