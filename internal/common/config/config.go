// internal/common/config/config.go
package config

import (
	"fmt"
	"time"
)

// Config is the main application configuration struct.
type Config struct {
	App       AppConfig       `mapstructure:"app"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Queue     QueueConfig     `mapstructure:"queue"`
	DeepLink  DeepLinkConfig  `mapstructure:"deeplink"`
	FCM       FCMConfig       `mapstructure:"fcm"`
	AWS       AWSConfig       `mapstructure:"aws"`
	WhatsApp  WhatsAppConfig  `mapstructure:"whatsapp"`
	Webhook   WebhookConfig   `mapstructure:"webhook"`
	Delivery  DeliveryConfig  `mapstructure:"delivery"`
	Producers ProducersConfig `mapstructure:"producers"`
	Server    ServerConfig    `mapstructure:"server"`
	Retention RetentionConfig `mapstructure:"retention"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

// --- Core App/Infrastructure Config ---

type AppConfig struct {
	Name        string `mapstructure:"name"`
	Version     string `mapstructure:"version"`
	Environment string `mapstructure:"environment"`
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

// QueueConfig controls the Redis-backed delivery work queue.
type QueueConfig struct {
	Key        string        `mapstructure:"key"`
	StaleLease time.Duration `mapstructure:"stale_lease"`
	Workers    int           `mapstructure:"workers"`
}

// DeepLinkConfig holds settings for the smart-link service.
type DeepLinkConfig struct {
	SmartHost         string        `mapstructure:"smart_host"`
	DefaultExpiryDays int           `mapstructure:"default_expiry_days"`
	ModuleCacheTTL    time.Duration `mapstructure:"module_cache_ttl"`
}

// FCMConfig holds Firebase Cloud Messaging v1 settings.
type FCMConfig struct {
	Enabled         bool   `mapstructure:"enabled"`
	ProjectID       string `mapstructure:"project_id"`
	CredentialsFile string `mapstructure:"credentials_file"`
}

// AWSConfig holds SES (email) and SNS (SMS) settings.
type AWSConfig struct {
	Region string `mapstructure:"region"`
	SES    struct {
		Enabled   bool   `mapstructure:"enabled"`
		FromEmail string `mapstructure:"from_email"`
		FromName  string `mapstructure:"from_name"`
	} `mapstructure:"ses"`
	SNS struct {
		Enabled  bool   `mapstructure:"enabled"`
		SenderID string `mapstructure:"sender_id"`
	} `mapstructure:"sns"`
}

// WhatsAppConfig points channel delivery at an HTTP gateway.
type WhatsAppConfig struct {
	Enabled    bool   `mapstructure:"enabled"`
	GatewayURL string `mapstructure:"gateway_url"`
	AuthToken  string `mapstructure:"auth_token"`
}

type WebhookConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	URL     string `mapstructure:"url"`
	Secret  string `mapstructure:"secret"`
}

// DeliveryConfig tunes the two-level delivery pipeline.
type DeliveryConfig struct {
	ChunkSize          int           `mapstructure:"chunk_size"`
	ChannelParallelism int           `mapstructure:"channel_parallelism"`
	ChannelTimeout     time.Duration `mapstructure:"channel_timeout"`
	MaxAttempts        int           `mapstructure:"max_attempts"`
	RetryInterval      time.Duration `mapstructure:"retry_interval"`
	PushRatePerSecond  int           `mapstructure:"push_rate_per_second"`
}

// ProducersConfig holds cron schedules for the batch producers and jobs.
type ProducersConfig struct {
	CollectionSchedule string `mapstructure:"collection_schedule"`
	FeedbackSchedule   string `mapstructure:"feedback_schedule"`
	IncentiveSchedule  string `mapstructure:"incentive_schedule"`
	CleanupSchedule    string `mapstructure:"cleanup_schedule"`
	RollupSchedule     string `mapstructure:"rollup_schedule"`
	BulkThreshold      int    `mapstructure:"bulk_threshold"`
}

type ServerConfig struct {
	RedirectAddr string `mapstructure:"redirect_addr"`
	MetricsAddr  string `mapstructure:"metrics_addr"`
	BaseURL      string `mapstructure:"base_url"`
}

// RetentionConfig controls the cleanup sweeps.
type RetentionConfig struct {
	DeepLinkDays     int `mapstructure:"deeplink_days"`
	NotificationDays int `mapstructure:"notification_days"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	Output string `mapstructure:"output"`
}
