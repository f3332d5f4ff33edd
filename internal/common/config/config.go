// internal/common/config/config.go
package config

import "fmt"

// Config is the main application configuration struct.
type Config struct {
	App           AppConfig               `mapstructure:"app"`
	Server        ServerConfig            `mapstructure:"server"`
	Camunda       CamundaConfig           `mapstructure:"camunda"`
	Database      DatabaseConfig          `mapstructure:"database"`
	Workers       map[string]WorkerConfig `mapstructure:"workers"`
	Auth          AuthConfig              `mapstructure:"auth"`
	Security      SecurityConfig          `mapstructure:"security"`
	AI            AIConfig                `mapstructure:"ai"`
	Evolution     EvolutionConfig         `mapstructure:"evolution"`
	Realtime      RealtimeConfig          `mapstructure:"realtime"`
	Cache         CacheConfig             `mapstructure:"cache"`
	Scheduler     SchedulerConfig         `mapstructure:"scheduler"`
	Observability ObservabilityConfig     `mapstructure:"observability"`
	Logging       LoggingConfig           `mapstructure:"logging"`
	Notifications NotificationConfig      `mapstructure:"notifications"`
}

// --- Core App/Infrastructure Config ---
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Version     string `mapstructure:"version"`
	Environment string `mapstructure:"environment"`
}

type ServerConfig struct {
	Address         string `mapstructure:"address"`
	ReadTimeout     int    `mapstructure:"read_timeout"`     // milliseconds
	WriteTimeout    int    `mapstructure:"write_timeout"`    // milliseconds
	ShutdownTimeout int    `mapstructure:"shutdown_timeout"` // milliseconds
}

type CamundaConfig struct {
	Enabled        bool   `mapstructure:"enabled"`
	BrokerAddress  string `mapstructure:"broker_address"`
	MaxJobsActive  int    `mapstructure:"max_jobs_active"`
	Timeout        int    `mapstructure:"timeout"`         // milliseconds
	RequestTimeout int    `mapstructure:"request_timeout"` // milliseconds
}

type DatabaseConfig struct {
	Postgres      PostgresConfig      `mapstructure:"postgres"`
	Elasticsearch ElasticsearchConfig `mapstructure:"elasticsearch"`
	Redis         RedisConfig         `mapstructure:"redis"`
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
	AutoMigrate    bool   `mapstructure:"auto_migrate"`
}

// GetDSN returns the PostgreSQL connection string
func (p PostgresConfig) GetDSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		p.Host, p.Port, p.User, p.Password, p.Database, p.SSLMode,
	)
}

// GetURL returns the postgres:// form used by the migration driver
func (p PostgresConfig) GetURL() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		p.User, p.Password, p.Host, p.Port, p.Database, p.SSLMode,
	)
}

type ElasticsearchConfig struct {
	Enabled    bool     `mapstructure:"enabled"`
	Addresses  []string `mapstructure:"addresses"`
	Username   string   `mapstructure:"username"`
	Password   string   `mapstructure:"password"`
	SSLEnabled bool     `mapstructure:"ssl_enabled"`
	URL        string   `mapstructure:"url"`
	Index      string   `mapstructure:"contacts_index"`
}

// GetURL returns the first address or the URL field
func (e ElasticsearchConfig) GetURL() string {
	if e.URL != "" {
		return e.URL
	}
	if len(e.Addresses) > 0 {
		return e.Addresses[0]
	}
	return ""
}

type RedisConfig struct {
	Address  string `mapstructure:"address"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// WorkerConfig holds the core settings applicable to every worker.
type WorkerConfig struct {
	Enabled       bool `mapstructure:"enabled"`
	MaxJobsActive int  `mapstructure:"max_jobs_active"`
	Timeout       int  `mapstructure:"timeout"`     // milliseconds
	MaxRetries    int  `mapstructure:"max_retries"` // For error handling
}

// --- Specific Configuration Sections ---

// AuthConfig holds settings for API token issuance and verification.
type AuthConfig struct {
	JWTSecret string `mapstructure:"jwt_secret"`
	Issuer    string `mapstructure:"issuer"`
	TokenTTL  int    `mapstructure:"token_ttl"` // milliseconds
}

type SecurityConfig struct {
	EncryptionKey  string   `mapstructure:"encryption_key"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`
	RateLimit      struct {
		RequestsPerSecond float64 `mapstructure:"requests_per_second"`
		Burst             int     `mapstructure:"burst"`
	} `mapstructure:"rate_limit"`
}

// AIConfig holds settings for the conversation pipeline.
type AIConfig struct {
	WebhookSecret   string `mapstructure:"webhook_secret"`
	BaseURL         string `mapstructure:"base_url"`
	DefaultModel    string `mapstructure:"default_model"`
	Timeout         int    `mapstructure:"timeout"` // milliseconds
	HistoryLimit    int    `mapstructure:"history_limit"`
	DispatchURL     string `mapstructure:"dispatch_url"`
	DispatchSecret  string `mapstructure:"dispatch_secret"`
	DispatchTimeout int    `mapstructure:"dispatch_timeout"` // milliseconds
	Breaker         struct {
		MaxFailures uint32 `mapstructure:"max_failures"`
		OpenTimeout int    `mapstructure:"open_timeout"` // milliseconds
	} `mapstructure:"breaker"`
}

// EvolutionConfig holds settings for the WhatsApp gateway.
type EvolutionConfig struct {
	BaseURL           string  `mapstructure:"base_url"`
	APIKey            string  `mapstructure:"api_key"`
	WebhookURL        string  `mapstructure:"webhook_url"`
	Timeout           int     `mapstructure:"timeout"` // milliseconds
	RequestsPerSecond float64 `mapstructure:"requests_per_second"`
	Burst             int     `mapstructure:"burst"`
}

type RealtimeConfig struct {
	Transport     string `mapstructure:"transport"`      // redis | memory
	SweepInterval int    `mapstructure:"sweep_interval"` // milliseconds
	IdleTimeout   int    `mapstructure:"idle_timeout"`   // milliseconds
	SendBuffer    int    `mapstructure:"send_buffer"`
}

type CacheConfig struct {
	AccessTTL       int `mapstructure:"access_ttl"` // milliseconds
	MaxEntries      int `mapstructure:"max_entries"`
	CleanupInterval int `mapstructure:"cleanup_interval"` // milliseconds
	PlanTTL         int `mapstructure:"plan_ttl"`         // milliseconds
}

type SchedulerConfig struct {
	Enabled              bool   `mapstructure:"enabled"`
	ConversationIdleDays int    `mapstructure:"conversation_idle_days"`
	PlaygroundTTLHours   int    `mapstructure:"playground_ttl_hours"`
	IdleConversationSpec string `mapstructure:"idle_conversation_spec"`
	PlaygroundSpec       string `mapstructure:"playground_spec"`
	UsageResetSpec       string `mapstructure:"usage_reset_spec"`
}

type ObservabilityConfig struct {
	ServiceName string `mapstructure:"service_name"`
	Tracing     struct {
		Enabled        bool    `mapstructure:"enabled"`
		JaegerEndpoint string  `mapstructure:"jaeger_endpoint"`
		SampleRatio    float64 `mapstructure:"sample_ratio"`
	} `mapstructure:"tracing"`
}

// NotificationConfig holds settings for notification delivery.
type NotificationConfig struct {
	Email struct {
		Enabled   bool   `mapstructure:"enabled"`
		FromEmail string `mapstructure:"from_email"`
	} `mapstructure:"email"`
	SMS struct {
		Enabled           bool   `mapstructure:"enabled"`
		PriorityThreshold string `mapstructure:"priority_threshold"`
	} `mapstructure:"sms"`
	AWS struct {
		Region string `mapstructure:"region"`
	} `mapstructure:"aws"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	Output string `mapstructure:"output"`
}
