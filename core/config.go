package core

import (
	"fmt"
	"strings"
	"time"
)

const (
	DefaultWebhookProvider        = "paystack"
	DefaultSignatureHeader        = "X-Paystack-Signature"
	DefaultSignatureAlgorithm     = "sha512"
	DefaultProviderBaseURL        = "https://api.paystack.co"
	DefaultDatabaseDriver         = "sqlite3"
	DefaultHTTPAddr               = ":8080"
	DefaultBatchSize              = 100
	DefaultOrderCleanupInterval   = 30
	DefaultPendingPaymentInterval = 20
	DefaultVisibilityInterval     = 15
	DefaultStaleOrderThreshold    = 1800
	DefaultRunTimeout             = 25
	DefaultProviderTimeout        = 10
)

type WebhookConfig struct {
	ProviderID      string `koanf:"provider_id" mapstructure:"provider_id"`
	SignatureHeader string `koanf:"signature_header" mapstructure:"signature_header"`
	Secret          string `koanf:"secret" mapstructure:"secret"`
	Algorithm       string `koanf:"algorithm" mapstructure:"algorithm"`
}

// ScheduleConfig holds deployment-time tunables; no cadence is canonical.
type ScheduleConfig struct {
	OrderCleanupIntervalSeconds      int `koanf:"order_cleanup_interval_seconds" mapstructure:"order_cleanup_interval_seconds"`
	PendingPaymentIntervalSeconds    int `koanf:"pending_payment_interval_seconds" mapstructure:"pending_payment_interval_seconds"`
	ProductVisibilityIntervalSeconds int `koanf:"product_visibility_interval_seconds" mapstructure:"product_visibility_interval_seconds"`
	StaleOrderThresholdSeconds       int `koanf:"stale_order_threshold_seconds" mapstructure:"stale_order_threshold_seconds"`
	RunTimeoutSeconds                int `koanf:"run_timeout_seconds" mapstructure:"run_timeout_seconds"`
	BatchSize                        int `koanf:"batch_size" mapstructure:"batch_size"`
}

type ProviderConfig struct {
	BaseURL        string `koanf:"base_url" mapstructure:"base_url"`
	SecretKey      string `koanf:"secret_key" mapstructure:"secret_key"`
	TimeoutSeconds int    `koanf:"timeout_seconds" mapstructure:"timeout_seconds"`
}

type DatabaseConfig struct {
	Driver             string `koanf:"driver" mapstructure:"driver"`
	DSN                string `koanf:"dsn" mapstructure:"dsn"`
	Debug              bool   `koanf:"debug" mapstructure:"debug"`
	PingTimeoutSeconds int    `koanf:"ping_timeout_seconds" mapstructure:"ping_timeout_seconds"`
}

func (c DatabaseConfig) GetDebug() bool {
	return c.Debug
}

func (c DatabaseConfig) GetDriver() string {
	return strings.TrimSpace(c.Driver)
}

func (c DatabaseConfig) GetServer() string {
	return strings.TrimSpace(c.DSN)
}

func (c DatabaseConfig) GetPingTimeout() time.Duration {
	if c.PingTimeoutSeconds <= 0 {
		return 5 * time.Second
	}
	return time.Duration(c.PingTimeoutSeconds) * time.Second
}

func (c DatabaseConfig) GetOtelIdentifier() string {
	return "go-reconciler"
}

type HTTPConfig struct {
	Addr string `koanf:"addr" mapstructure:"addr"`
}

type Config struct {
	ServiceName string         `koanf:"service_name" mapstructure:"service_name"`
	Webhook     WebhookConfig  `koanf:"webhook" mapstructure:"webhook"`
	Schedule    ScheduleConfig `koanf:"schedule" mapstructure:"schedule"`
	Provider    ProviderConfig `koanf:"provider" mapstructure:"provider"`
	Database    DatabaseConfig `koanf:"database" mapstructure:"database"`
	HTTP        HTTPConfig     `koanf:"http" mapstructure:"http"`
}

func DefaultConfig() Config {
	return Config{
		ServiceName: "reconciler",
		Webhook: WebhookConfig{
			ProviderID:      DefaultWebhookProvider,
			SignatureHeader: DefaultSignatureHeader,
			Algorithm:       DefaultSignatureAlgorithm,
		},
		Schedule: ScheduleConfig{
			OrderCleanupIntervalSeconds:      DefaultOrderCleanupInterval,
			PendingPaymentIntervalSeconds:    DefaultPendingPaymentInterval,
			ProductVisibilityIntervalSeconds: DefaultVisibilityInterval,
			StaleOrderThresholdSeconds:       DefaultStaleOrderThreshold,
			RunTimeoutSeconds:                DefaultRunTimeout,
			BatchSize:                        DefaultBatchSize,
		},
		Provider: ProviderConfig{
			BaseURL:        DefaultProviderBaseURL,
			TimeoutSeconds: DefaultProviderTimeout,
		},
		Database: DatabaseConfig{
			Driver:             DefaultDatabaseDriver,
			DSN:                "file:reconciler.db?cache=shared&_foreign_keys=on",
			PingTimeoutSeconds: 5,
		},
		HTTP: HTTPConfig{Addr: DefaultHTTPAddr},
	}
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.ServiceName) == "" {
		return fmt.Errorf("core: service_name is required")
	}
	if strings.TrimSpace(c.Webhook.SignatureHeader) == "" {
		return fmt.Errorf("core: webhook.signature_header is required")
	}
	switch strings.ToLower(strings.TrimSpace(c.Webhook.Algorithm)) {
	case "", "sha256", "sha512":
	default:
		return fmt.Errorf("core: webhook.algorithm %q is invalid", c.Webhook.Algorithm)
	}
	intervals := map[string]int{
		"schedule.order_cleanup_interval_seconds":      c.Schedule.OrderCleanupIntervalSeconds,
		"schedule.pending_payment_interval_seconds":    c.Schedule.PendingPaymentIntervalSeconds,
		"schedule.product_visibility_interval_seconds": c.Schedule.ProductVisibilityIntervalSeconds,
		"schedule.stale_order_threshold_seconds":       c.Schedule.StaleOrderThresholdSeconds,
	}
	for key, value := range intervals {
		if value <= 0 {
			return fmt.Errorf("core: %s must be positive", key)
		}
	}
	if c.Schedule.RunTimeoutSeconds < 0 || c.Schedule.BatchSize < 0 || c.Provider.TimeoutSeconds < 0 {
		return fmt.Errorf("core: timeouts and batch size must not be negative")
	}
	switch strings.TrimSpace(c.Database.Driver) {
	case "sqlite3", "sqlite", "postgres":
	default:
		return fmt.Errorf("core: database.driver %q is invalid", c.Database.Driver)
	}
	return nil
}

func (c ScheduleConfig) OrderCleanupInterval() time.Duration {
	return seconds(c.OrderCleanupIntervalSeconds, DefaultOrderCleanupInterval)
}

func (c ScheduleConfig) PendingPaymentInterval() time.Duration {
	return seconds(c.PendingPaymentIntervalSeconds, DefaultPendingPaymentInterval)
}

func (c ScheduleConfig) ProductVisibilityInterval() time.Duration {
	return seconds(c.ProductVisibilityIntervalSeconds, DefaultVisibilityInterval)
}

func (c ScheduleConfig) StaleOrderThreshold() time.Duration {
	return seconds(c.StaleOrderThresholdSeconds, DefaultStaleOrderThreshold)
}

func (c ScheduleConfig) RunTimeout() time.Duration {
	return seconds(c.RunTimeoutSeconds, DefaultRunTimeout)
}

func (c ScheduleConfig) Limit() int {
	if c.BatchSize <= 0 {
		return DefaultBatchSize
	}
	return c.BatchSize
}

func (c ProviderConfig) Timeout() time.Duration {
	return seconds(c.TimeoutSeconds, DefaultProviderTimeout)
}

func seconds(value int, fallback int) time.Duration {
	if value <= 0 {
		value = fallback
	}
	return time.Duration(value) * time.Second
}
