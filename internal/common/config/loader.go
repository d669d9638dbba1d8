// internal/common/config/loader.go
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

func Load() (*Config, error) {
	loadEnvFile()

	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath("./configs")
	viper.AddConfigPath("../../configs")
	viper.AddConfigPath(".")

	// Enable ENV override like DATABASE_POSTGRES_HOST
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	viper.AutomaticEnv()

	env := os.Getenv("APP_ENVIRONMENT")
	if env == "" {
		env = "development"
	}

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading base config: %w", err)
		}
	}

	// Environment overlay, e.g. config.production.yaml
	viper.SetConfigName(fmt.Sprintf("config.%s", env))
	_ = viper.MergeInConfig() // ignore error if not found

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	applyDefaults(&cfg)
	if cfg.App.Environment == "" {
		cfg.App.Environment = env
	}

	if err := validateConfig(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// loadEnvFile loads .env from the working directory or the project root.
func loadEnvFile() {
	possiblePaths := []string{".env", "../.env", "../../.env"}

	if rootDir := findProjectRoot(); rootDir != "" {
		possiblePaths = append(possiblePaths, filepath.Join(rootDir, ".env"))
	}

	for _, path := range possiblePaths {
		if _, err := os.Stat(path); err == nil {
			if err := godotenv.Load(path); err == nil {
				return
			}
		}
	}
}

// findProjectRoot walks up directories looking for go.mod.
func findProjectRoot() string {
	dir, err := os.Getwd()
	if err != nil {
		return ""
	}

	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}

	return ""
}

// applyDefaults fills in values suitable for local development only.
func applyDefaults(cfg *Config) {
	if cfg.App.Name == "" {
		cfg.App.Name = "kashee-notify"
	}

	pg := &cfg.Database.Postgres
	if pg.Host == "" {
		pg.Host = "localhost"
	}
	if pg.Port == 0 {
		pg.Port = 5432
	}
	if pg.Database == "" {
		pg.Database = "kashee_notify"
	}
	if pg.User == "" {
		pg.User = "postgres"
	}
	if pg.MaxConnections == 0 {
		pg.MaxConnections = 25
	}
	if pg.MaxIdle == 0 {
		pg.MaxIdle = 5
	}
	if pg.SSLMode == "" {
		pg.SSLMode = "disable"
	}

	if cfg.Database.Redis.Address == "" {
		cfg.Database.Redis.Address = "localhost:6379"
	}

	if cfg.Queue.Key == "" {
		cfg.Queue.Key = "notify:delivery"
	}
	if cfg.Queue.StaleLease == 0 {
		cfg.Queue.StaleLease = 5 * time.Minute
	}
	if cfg.Queue.Workers == 0 {
		cfg.Queue.Workers = 4
	}

	if cfg.DeepLink.SmartHost == "" {
		cfg.DeepLink.SmartHost = "http://localhost:8080/open/"
	}
	if cfg.DeepLink.DefaultExpiryDays == 0 {
		cfg.DeepLink.DefaultExpiryDays = 30
	}
	if cfg.DeepLink.ModuleCacheTTL == 0 {
		cfg.DeepLink.ModuleCacheTTL = time.Hour
	}

	if cfg.AWS.Region == "" {
		cfg.AWS.Region = "ap-south-1"
	}

	d := &cfg.Delivery
	if d.ChunkSize == 0 {
		d.ChunkSize = 500
	}
	if d.ChannelParallelism == 0 {
		d.ChannelParallelism = 8
	}
	if d.ChannelTimeout == 0 {
		d.ChannelTimeout = 30 * time.Second
	}
	if d.MaxAttempts == 0 {
		d.MaxAttempts = 3
	}
	if d.RetryInterval == 0 {
		d.RetryInterval = time.Minute
	}
	if d.PushRatePerSecond == 0 {
		d.PushRatePerSecond = 100
	}

	p := &cfg.Producers
	if p.CollectionSchedule == "" {
		p.CollectionSchedule = "*/15 * * * *"
	}
	if p.FeedbackSchedule == "" {
		p.FeedbackSchedule = "*/30 * * * *"
	}
	if p.IncentiveSchedule == "" {
		p.IncentiveSchedule = "0 9 1 * *"
	}
	if p.CleanupSchedule == "" {
		p.CleanupSchedule = "0 2 * * *"
	}
	if p.RollupSchedule == "" {
		p.RollupSchedule = "30 0 * * *"
	}
	if p.BulkThreshold == 0 {
		p.BulkThreshold = 100
	}

	if cfg.Server.RedirectAddr == "" {
		cfg.Server.RedirectAddr = ":8080"
	}
	if cfg.Server.MetricsAddr == "" {
		cfg.Server.MetricsAddr = ":9100"
	}
	if cfg.Server.BaseURL == "" {
		cfg.Server.BaseURL = "http://localhost:8080"
	}

	if cfg.Retention.DeepLinkDays == 0 {
		cfg.Retention.DeepLinkDays = 90
	}
	if cfg.Retention.NotificationDays == 0 {
		cfg.Retention.NotificationDays = 180
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
}

func validateConfig(cfg *Config) error {
	if !strings.HasSuffix(cfg.DeepLink.SmartHost, "/") {
		cfg.DeepLink.SmartHost += "/"
	}
	if cfg.FCM.Enabled && cfg.FCM.ProjectID == "" {
		return fmt.Errorf("fcm.project_id is required when fcm is enabled")
	}
	if cfg.FCM.Enabled && cfg.FCM.CredentialsFile == "" {
		return fmt.Errorf("fcm.credentials_file is required when fcm is enabled")
	}
	if cfg.AWS.SES.Enabled && cfg.AWS.SES.FromEmail == "" {
		return fmt.Errorf("aws.ses.from_email is required when SES is enabled")
	}
	if cfg.WhatsApp.Enabled && cfg.WhatsApp.GatewayURL == "" {
		return fmt.Errorf("whatsapp.gateway_url is required when whatsapp is enabled")
	}
	if cfg.Webhook.Enabled && cfg.Webhook.URL == "" {
		return fmt.Errorf("webhook.url is required when webhook is enabled")
	}
	return nil
}
