// File: internal/config/config.go
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/smartdevs17/fleet-alert-relay/internal/models"
)

// Config holds all configuration for the application
type Config struct {
	App          AppConfig          `mapstructure:"app"`
	Storage      StorageConfig      `mapstructure:"storage"`
	Redis        RedisConfig        `mapstructure:"redis"`
	MQTT         MQTTConfig         `mapstructure:"mqtt"`
	Queue        QueueConfig        `mapstructure:"queue"`
	Notification NotificationConfig `mapstructure:"notification"`
	Pipeline     PipelineConfig     `mapstructure:"pipeline"`
	Ingestion    IngestionConfig    `mapstructure:"ingestion"`
	Server       ServerConfig       `mapstructure:"server"`
	Auth         AuthConfig         `mapstructure:"auth"`
	Logging      LoggingConfig      `mapstructure:"logging"`
	Tenants      []TenantConfig     `mapstructure:"tenants"`
}

// AppConfig contains application-level configuration
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Version     string `mapstructure:"version"`
	Environment string `mapstructure:"environment"`
	Debug       bool   `mapstructure:"debug"`
}

// IsProduction reports whether callbacks must be strictly authenticated
func (a AppConfig) IsProduction() bool {
	switch strings.ToLower(a.Environment) {
	case "production", "prod", "staging":
		return true
	}
	return false
}

// StorageConfig contains database configuration
type StorageConfig struct {
	Type             string        `mapstructure:"type"` // sqlite, postgres, pgx
	ConnectionString string        `mapstructure:"connection_string"`
	MaxConnections   int           `mapstructure:"max_connections"`
	MaxIdleTime      time.Duration `mapstructure:"max_idle_time"`
}

// RedisConfig configures the dedupe-key store
type RedisConfig struct {
	Enabled   bool          `mapstructure:"enabled"`
	Addr      string        `mapstructure:"addr"`
	Password  string        `mapstructure:"password"`
	DB        int           `mapstructure:"db"`
	KeyPrefix string        `mapstructure:"key_prefix"`
	DedupeTTL time.Duration `mapstructure:"dedupe_ttl"`
}

// MQTTConfig configures the provider stream subscriber
type MQTTConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Broker   string `mapstructure:"broker"`
	ClientID string `mapstructure:"client_id"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	Topic    string `mapstructure:"topic"`
	QoS      byte   `mapstructure:"qos"`
}

// QueueConfig configures the asynchronous task queue
type QueueConfig struct {
	Workers        int           `mapstructure:"workers"`
	BufferSize     int           `mapstructure:"buffer_size"`
	MaxAttempts    int           `mapstructure:"max_attempts"`
	RetryDelay     time.Duration `mapstructure:"retry_delay"`
	MaxRetryDelay  time.Duration `mapstructure:"max_retry_delay"`
	DeadLetterSize int           `mapstructure:"dead_letter_size"`
}

// NotificationConfig configures dispatch and the transport providers
type NotificationConfig struct {
	ProviderBaseURL     string        `mapstructure:"provider_base_url"`
	CallbackBaseURL     string        `mapstructure:"callback_base_url"`
	RequestTimeout      time.Duration `mapstructure:"request_timeout"`
	BreakerMaxFailures  uint32        `mapstructure:"breaker_max_failures"`
	BreakerOpenTimeout  time.Duration `mapstructure:"breaker_open_timeout"`
	ReplyWindow         time.Duration `mapstructure:"reply_window"`
	DefaultTemplate     string        `mapstructure:"default_template"`
	TransportRateLimit  float64       `mapstructure:"transport_rate_limit"`
	TransportRateBurst  int           `mapstructure:"transport_rate_burst"`
	MaxRecipientsPerRun int           `mapstructure:"max_recipients_per_run"`
}

// PipelineConfig configures the external AI triage pipeline
type PipelineConfig struct {
	Enabled bool          `mapstructure:"enabled"`
	URL     string        `mapstructure:"url"`
	APIKey  string        `mapstructure:"api_key"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// IngestionConfig configures the provider webhook gateway
type IngestionConfig struct {
	WebhookToken   string  `mapstructure:"webhook_token"`
	DefaultTenant  string  `mapstructure:"default_tenant"`
	RateLimitQPS   float64 `mapstructure:"rate_limit_qps"`
	RateLimitBurst int     `mapstructure:"rate_limit_burst"`
}

// ServerConfig contains HTTP server configuration
type ServerConfig struct {
	Port          int           `mapstructure:"port"`
	Host          string        `mapstructure:"host"`
	ReadTimeout   time.Duration `mapstructure:"read_timeout"`
	WriteTimeout  time.Duration `mapstructure:"write_timeout"`
	EnableMetrics bool          `mapstructure:"enable_metrics"`
	EnableHealth  bool          `mapstructure:"enable_health"`
	PublicURL     string        `mapstructure:"public_url"`
}

// AuthConfig configures bearer token validation for UI endpoints
type AuthConfig struct {
	JWTSecret string `mapstructure:"jwt_secret"`
	Issuer    string `mapstructure:"issuer"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"` // json, text
	Output string `mapstructure:"output"` // stdout, file, discard
	File   string `mapstructure:"file"`
}

// TenantConfig is the per-tenant configuration block
type TenantConfig struct {
	ID             string                    `mapstructure:"id"`
	Name           string                    `mapstructure:"name"`
	ProviderOrgIDs []string                  `mapstructure:"provider_org_ids"`
	Features       map[string]bool           `mapstructure:"features"`
	Credentials    CredentialsConfig         `mapstructure:"credentials"`
	CallbackSecret string                    `mapstructure:"callback_secret"`
	Rules          models.RuleSet            `mapstructure:"rules"`
	Escalation     map[string]EscalationStep `mapstructure:"escalation"`
	Contacts       map[string][]ContactEntry `mapstructure:"contacts"`
	Vehicles       []VehicleEntry            `mapstructure:"vehicles"`
}

// CredentialsConfig holds a tenant's transport provider credentials
type CredentialsConfig struct {
	Active       bool   `mapstructure:"active"`
	AccountSID   string `mapstructure:"account_sid"`
	AuthToken    string `mapstructure:"auth_token"`
	SMSFrom      string `mapstructure:"sms_from"`
	WhatsAppFrom string `mapstructure:"whatsapp_from"`
	VoiceFrom    string `mapstructure:"voice_from"`
}

// EscalationStep is the default routing for one severity
type EscalationStep struct {
	Roles    []string         `mapstructure:"roles"`
	Channels []models.Channel `mapstructure:"channels"`
}

// ContactEntry is one reachable address for a role
type ContactEntry struct {
	Name     string         `mapstructure:"name"`
	Address  string         `mapstructure:"address"`
	Channel  models.Channel `mapstructure:"channel"`
	Priority int            `mapstructure:"priority"`
}

// VehicleEntry maps a provider vehicle id to this tenant
type VehicleEntry struct {
	ID   string `mapstructure:"id"`
	Name string `mapstructure:"name"`
}

// Load loads configuration from file and environment variables
func Load(configPath string) (*Config, error) {
	// .env is optional; real environment variables win over it
	_ = godotenv.Load()

	v := viper.New()
	v.SetConfigType("yaml")

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
	}

	v.SetEnvPrefix("FLEET_RELAY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if dbURL := os.Getenv("DATABASE_URL"); dbURL != "" {
		config.Storage.ConnectionString = dbURL
	}
	if redisAddr := os.Getenv("REDIS_ADDR"); redisAddr != "" {
		config.Redis.Addr = redisAddr
	}

	return &config, nil
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "fleet-alert-relay")
	v.SetDefault("app.version", "1.0.0")
	v.SetDefault("app.environment", "development")
	v.SetDefault("app.debug", false)

	v.SetDefault("storage.type", "sqlite")
	v.SetDefault("storage.connection_string", "./data/relay.db")
	v.SetDefault("storage.max_connections", 25)
	v.SetDefault("storage.max_idle_time", "15m")

	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.key_prefix", "relay:dedupe:")
	v.SetDefault("redis.dedupe_ttl", "24h")

	v.SetDefault("mqtt.enabled", false)
	v.SetDefault("mqtt.broker", "tcp://localhost:1883")
	v.SetDefault("mqtt.client_id", "fleet-alert-relay")
	v.SetDefault("mqtt.topic", "fleet/+/safety-events")
	v.SetDefault("mqtt.qos", 1)

	v.SetDefault("queue.workers", 8)
	v.SetDefault("queue.buffer_size", 256)
	v.SetDefault("queue.max_attempts", 5)
	v.SetDefault("queue.retry_delay", "2s")
	v.SetDefault("queue.max_retry_delay", "1m")
	v.SetDefault("queue.dead_letter_size", 1000)

	v.SetDefault("notification.provider_base_url", "https://api.twilio.com/2010-04-01")
	v.SetDefault("notification.callback_base_url", "http://localhost:8081")
	v.SetDefault("notification.request_timeout", "10s")
	v.SetDefault("notification.breaker_max_failures", 5)
	v.SetDefault("notification.breaker_open_timeout", "30s")
	v.SetDefault("notification.reply_window", "24h")
	v.SetDefault("notification.transport_rate_limit", 20)
	v.SetDefault("notification.transport_rate_burst", 40)
	v.SetDefault("notification.max_recipients_per_run", 50)

	v.SetDefault("pipeline.enabled", false)
	v.SetDefault("pipeline.timeout", "30s")

	v.SetDefault("ingestion.rate_limit_qps", 50)
	v.SetDefault("ingestion.rate_limit_burst", 100)

	v.SetDefault("server.port", 8081)
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.read_timeout", "10s")
	v.SetDefault("server.write_timeout", "10s")
	v.SetDefault("server.enable_metrics", true)
	v.SetDefault("server.enable_health", true)

	v.SetDefault("auth.issuer", "fleet-console")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.output", "stdout")
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Storage.ConnectionString == "" {
		return fmt.Errorf("storage connection string is required")
	}
	if c.Queue.Workers <= 0 {
		return fmt.Errorf("queue workers must be positive")
	}
	if c.Server.Port <= 0 {
		return fmt.Errorf("server port must be positive")
	}
	if c.Pipeline.Enabled && c.Pipeline.URL == "" {
		return fmt.Errorf("pipeline url is required when the pipeline is enabled")
	}
	if c.MQTT.Enabled && c.MQTT.Topic == "" {
		return fmt.Errorf("mqtt topic is required when mqtt is enabled")
	}

	seen := make(map[string]bool, len(c.Tenants))
	for i := range c.Tenants {
		t := &c.Tenants[i]
		if t.ID == "" {
			return fmt.Errorf("tenant %d: id is required", i)
		}
		if seen[t.ID] {
			return fmt.Errorf("tenant %s: duplicate id", t.ID)
		}
		seen[t.ID] = true
		if err := t.Rules.Validate(); err != nil {
			return fmt.Errorf("tenant %s: %w", t.ID, err)
		}
		for severity, step := range t.Escalation {
			for _, ch := range step.Channels {
				if !ch.Valid() {
					return fmt.Errorf("tenant %s: escalation %s: unknown channel %q", t.ID, severity, ch)
				}
			}
		}
	}
	return nil
}
