package config

import "fmt"

// Config is the main application configuration struct.
type Config struct {
	App           AppConfig          `mapstructure:"app"`
	Server        ServerConfig       `mapstructure:"server"`
	Database      DatabaseConfig     `mapstructure:"database"`
	Gateway       GatewayConfig      `mapstructure:"gateway"`
	Scheduler     SchedulerConfig    `mapstructure:"scheduler"`
	Executor      ExecutorConfig     `mapstructure:"executor"`
	Webhook       WebhookConfig      `mapstructure:"webhook"`
	Notifications NotificationConfig `mapstructure:"notifications"`
	Logging       LoggingConfig      `mapstructure:"logging"`
}

// --- Core App/Infrastructure Config ---
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Version     string `mapstructure:"version"`
	Environment string `mapstructure:"environment"`
}

type ServerConfig struct {
	Address        string `mapstructure:"address"`         // webhook ingress + payments API
	MetricsAddress string `mapstructure:"metrics_address"` // /metrics and pprof
}

type DatabaseConfig struct {
	Postgres PostgresConfig `mapstructure:"postgres"`
	Redis    RedisConfig    `mapstructure:"redis"`
}

type PostgresConfig struct {
	Host           string `mapstructure:"host"`
	Port           int    `mapstructure:"port"`
	Database       string `mapstructure:"database"`
	User           string `mapstructure:"user"`
	Password       string `mapstructure:"password"`
	MaxConnections int    `mapstructure:"max_connections"`
	MaxIdle        int    `mapstructure:"max_idle"`
	SSLMode        string `mapstructure:"sslmode"`
}

// GetDSN returns the PostgreSQL connection string
func (p PostgresConfig) GetDSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		p.Host, p.Port, p.User, p.Password, p.Database, p.SSLMode,
	)
}

type RedisConfig struct {
	Address  string `mapstructure:"address"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// GatewayConfig holds payment gateway client settings.
type GatewayConfig struct {
	BaseURL   string `mapstructure:"base_url"`
	SecretKey string `mapstructure:"secret_key"`
	Timeout   int    `mapstructure:"timeout"` // milliseconds, per charge call

	// Manual payment-link flow
	LinkAmount    float64 `mapstructure:"link_amount"`
	LinkCurrency  string  `mapstructure:"link_currency"`
	LinkReturnURL string  `mapstructure:"link_return_url"`
}

// SchedulerConfig holds the reconciliation scan parameters.
type SchedulerConfig struct {
	PageSize       int `mapstructure:"page_size"`
	PageDelay      int `mapstructure:"page_delay"`      // milliseconds between pages
	CycleInterval  int `mapstructure:"cycle_interval"`  // milliseconds between cycles
	ReminderWindow int `mapstructure:"reminder_window"` // hours before due date
}

// ExecutorConfig holds the charge attempt retry budget.
type ExecutorConfig struct {
	MaxAttempts    int `mapstructure:"max_attempts"`
	InitialBackoff int `mapstructure:"initial_backoff"` // milliseconds
	MaxBackoff     int `mapstructure:"max_backoff"`     // milliseconds
}

// WebhookConfig holds settings for asynchronous event processing.
type WebhookConfig struct {
	Workers   int `mapstructure:"workers"`
	QueueSize int `mapstructure:"queue_size"`
	DedupTTL  int `mapstructure:"dedup_ttl"` // minutes, redis fast-path dedup
}

// NotificationConfig holds settings for the notification collaborator.
type NotificationConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	TopicARN string `mapstructure:"topic_arn"`
	AWS      struct {
		Region string `mapstructure:"region"`
	} `mapstructure:"aws"`
	Email struct {
		Enabled   bool   `mapstructure:"enabled"`
		FromEmail string `mapstructure:"from_email"`
	} `mapstructure:"email"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	Output string `mapstructure:"output"`
}
