package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/knadh/koanf/parsers/toml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// EnvPrefix is the prefix for environment overrides.
// Sections are separated by a double underscore, e.g.
// WABOT_WHATSAPP__APP_SECRET -> whatsapp.app_secret
const EnvPrefix = "WABOT_"

// Storage backends
const (
	StorageMemory   = "memory"
	StorageRedis    = "redis"
	StoragePostgres = "postgres"
	StorageBolt     = "bolt"
	StorageDynamoDB = "dynamodb"
)

// AI providers
const (
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"
	ProviderGoogle    = "google"
)

// Config holds all configuration for the application
type Config struct {
	App      AppConfig      `koanf:"app"`
	Server   ServerConfig   `koanf:"server"`
	Database DatabaseConfig `koanf:"database"`
	Redis    RedisConfig    `koanf:"redis"`
	Storage  StorageConfig  `koanf:"storage"`
	WhatsApp WhatsAppConfig `koanf:"whatsapp"`
	AI       AIConfig       `koanf:"ai"`
	Chat     ChatConfig     `koanf:"chat"`
	Auth     AuthConfig     `koanf:"auth"`
	Admin    AdminConfig    `koanf:"admin"`
	Events   EventsConfig   `koanf:"events"`
	Secrets  SecretsConfig  `koanf:"secrets"`
	Worker   WorkerConfig   `koanf:"worker"`
}

type AppConfig struct {
	Name        string `koanf:"name"`
	Environment string `koanf:"environment"` // development, staging, production
	Debug       bool   `koanf:"debug"`
}

type ServerConfig struct {
	Host         string `koanf:"host"`
	Port         int    `koanf:"port"`
	ReadTimeout  int    `koanf:"read_timeout"`
	WriteTimeout int    `koanf:"write_timeout"`
	BasePath     string `koanf:"base_path"` // Base path for the dashboard when behind a proxy
}

type DatabaseConfig struct {
	URL             string `koanf:"url"` // Takes precedence over the discrete fields
	Host            string `koanf:"host"`
	Port            int    `koanf:"port"`
	User            string `koanf:"user"`
	Password        string `koanf:"password"`
	Name            string `koanf:"name"`
	SSLMode         string `koanf:"ssl_mode"`
	MaxOpenConns    int    `koanf:"max_open_conns"`
	MaxIdleConns    int    `koanf:"max_idle_conns"`
	ConnMaxLifetime int    `koanf:"conn_max_lifetime"`
}

type RedisConfig struct {
	Host     string `koanf:"host"`
	Port     int    `koanf:"port"`
	Password string `koanf:"password"`
	DB       int    `koanf:"db"`
}

// StorageConfig selects the key-value backend holding chats, sessions and OTPs.
type StorageConfig struct {
	Backend     string `koanf:"backend"` // memory, redis, postgres, bolt, dynamodb
	BoltPath    string `koanf:"bolt_path"`
	DynamoTable string `koanf:"dynamo_table"`
	Region      string `koanf:"region"`
}

type WhatsAppConfig struct {
	VerifyToken      string `koanf:"verify_token"`
	AppSecret        string `koanf:"app_secret"`
	RequireSignature bool   `koanf:"require_signature"`
	AccessToken      string `koanf:"access_token"`
	PhoneID          string `koanf:"phone_id"`
	BusinessID       string `koanf:"business_id"`
	APIVersion       string `koanf:"api_version"`
	BaseURL          string `koanf:"base_url"`
}

type AIConfig struct {
	Provider     string   `koanf:"provider"` // openai, anthropic, google
	APIKey       string   `koanf:"api_key"`
	Model        string   `koanf:"model"`
	BaseURL      string   `koanf:"base_url"`
	SystemPrompt string   `koanf:"system_prompt"`
	Temperature  *float64 `koanf:"temperature"` // nil means unset
	MaxTokens    int      `koanf:"max_tokens"`
	Timeout      int      `koanf:"timeout"` // seconds
}

type ChatConfig struct {
	AuthorizedNumbers  []string `koanf:"authorized_numbers"`
	AllowAll           bool     `koanf:"allow_all"`
	NotifyUnauthorized bool     `koanf:"notify_unauthorized"`
	HistoryLimit       int      `koanf:"history_limit"`
	RetentionDays      int      `koanf:"retention_days"`
	RateLimitPerMinute int      `koanf:"rate_limit_per_minute"`
	ProcessTimeout     int      `koanf:"process_timeout"` // seconds
}

type AuthConfig struct {
	Enabled          bool   `koanf:"enabled"`
	JWTSecret        string `koanf:"jwt_secret"`
	TokenExpiryHours int    `koanf:"token_expiry_hours"`
	BaseURL          string `koanf:"base_url"`        // Public URL used in OTP links
	OTPTTL           int    `koanf:"otp_ttl"`         // seconds
	ResendInterval   int    `koanf:"resend_interval"` // seconds
	MaxAttempts      int    `koanf:"max_attempts"`
}

type AdminConfig struct {
	PhoneNumbers []string `koanf:"phone_numbers"`
	APIKeyHashes []string `koanf:"api_key_hashes"` // bcrypt hashes
}

// EventsConfig configures the outbound event webhook.
type EventsConfig struct {
	URL     string            `koanf:"url"`
	Secret  string            `koanf:"secret"`
	Headers map[string]string `koanf:"headers"`
}

type SecretsConfig struct {
	SSMPrefix string `koanf:"ssm_prefix"`
	Region    string `koanf:"region"`
}

type WorkerConfig struct {
	PruneInterval int `koanf:"prune_interval"` // minutes
}

// envAliases maps plain environment names used by existing deployments to
// config keys. Prefixed variables always win.
var envAliases = map[string]string{
	"WHATSAPP_VERIFY_TOKEN":    "whatsapp.verify_token",
	"META_APP_SECRET":          "whatsapp.app_secret",
	"WHATSAPP_TOKEN":           "whatsapp.access_token",
	"WHATSAPP_PHONE_NUMBER_ID": "whatsapp.phone_id",
	"DATABASE_URL":             "database.url",
	"WEB_APP_URL":              "auth.base_url",
}

// Load loads configuration from file and environment variables
func Load(configPath string) (*Config, error) {
	k := koanf.New(".")

	// Config file is optional
	if configPath != "" {
		if _, err := os.Stat(configPath); err == nil {
			if err := k.Load(file.Provider(configPath), toml.Parser()); err != nil {
				return nil, fmt.Errorf("failed to load config file: %w", err)
			}
		}
	}

	for name, key := range envAliases {
		if v := os.Getenv(name); v != "" {
			if err := k.Set(key, v); err != nil {
				return nil, fmt.Errorf("failed to apply %s: %w", name, err)
			}
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", func(s string) string {
		return strings.ReplaceAll(strings.ToLower(strings.TrimPrefix(s, EnvPrefix)), "__", ".")
	}), nil); err != nil {
		return nil, fmt.Errorf("failed to load env: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	// Lists set through env arrive as one comma separated value
	cfg.Chat.AuthorizedNumbers = splitList(cfg.Chat.AuthorizedNumbers)
	cfg.Admin.PhoneNumbers = splitList(cfg.Admin.PhoneNumbers)
	cfg.Admin.APIKeyHashes = splitList(cfg.Admin.APIKeyHashes)

	setDefaults(&cfg)

	return &cfg, nil
}

// Validate reports configuration that would make the server unusable.
func (c *Config) Validate() error {
	switch c.Storage.Backend {
	case StorageMemory, StorageRedis, StoragePostgres, StorageBolt, StorageDynamoDB:
	default:
		return fmt.Errorf("unknown storage backend %q", c.Storage.Backend)
	}
	switch c.AI.Provider {
	case ProviderOpenAI, ProviderAnthropic, ProviderGoogle:
	default:
		return fmt.Errorf("unknown AI provider %q", c.AI.Provider)
	}
	if c.WhatsApp.VerifyToken == "" {
		return fmt.Errorf("whatsapp.verify_token is required")
	}
	if c.Storage.Backend == StorageDynamoDB && c.Storage.DynamoTable == "" {
		return fmt.Errorf("storage.dynamo_table is required for the dynamodb backend")
	}
	if c.Auth.Enabled && c.Auth.JWTSecret == "" {
		return fmt.Errorf("auth.jwt_secret is required when auth is enabled")
	}
	return nil
}

func splitList(in []string) []string {
	var out []string
	for _, item := range in {
		for _, part := range strings.Split(item, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}

func setDefaults(cfg *Config) {
	if cfg.App.Name == "" {
		cfg.App.Name = "WhatsApp AI"
	}
	if cfg.App.Environment == "" {
		cfg.App.Environment = "development"
	}
	if cfg.Server.Host == "" {
		cfg.Server.Host = "0.0.0.0"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.ReadTimeout == 0 {
		cfg.Server.ReadTimeout = 30
	}
	if cfg.Server.WriteTimeout == 0 {
		cfg.Server.WriteTimeout = 30
	}
	if cfg.Database.Port == 0 {
		cfg.Database.Port = 5432
	}
	if cfg.Database.SSLMode == "" {
		cfg.Database.SSLMode = "disable"
	}
	if cfg.Database.MaxOpenConns == 0 {
		cfg.Database.MaxOpenConns = 25
	}
	if cfg.Database.MaxIdleConns == 0 {
		cfg.Database.MaxIdleConns = 5
	}
	if cfg.Database.ConnMaxLifetime == 0 {
		cfg.Database.ConnMaxLifetime = 300
	}
	if cfg.Redis.Port == 0 {
		cfg.Redis.Port = 6379
	}
	if cfg.Storage.Backend == "" {
		cfg.Storage.Backend = StorageMemory
	}
	if cfg.Storage.BoltPath == "" {
		cfg.Storage.BoltPath = "./data/wabot.bolt"
	}
	if cfg.WhatsApp.APIVersion == "" {
		cfg.WhatsApp.APIVersion = "v22.0"
	}
	if cfg.AI.Provider == "" {
		cfg.AI.Provider = ProviderOpenAI
	}
	if cfg.AI.Model == "" {
		switch cfg.AI.Provider {
		case ProviderAnthropic:
			cfg.AI.Model = "claude-3-5-haiku-latest"
		case ProviderGoogle:
			cfg.AI.Model = "gemini-1.5-flash"
		default:
			cfg.AI.Model = "gpt-4o-mini"
		}
	}
	if cfg.AI.Temperature == nil {
		t := 0.7
		cfg.AI.Temperature = &t
	}
	if cfg.AI.MaxTokens == 0 {
		cfg.AI.MaxTokens = 500
	}
	if cfg.AI.Timeout == 0 {
		cfg.AI.Timeout = 60
	}
	if cfg.Chat.HistoryLimit == 0 {
		cfg.Chat.HistoryLimit = 20
	}
	if cfg.Chat.RetentionDays == 0 {
		cfg.Chat.RetentionDays = 30
	}
	if cfg.Chat.ProcessTimeout == 0 {
		cfg.Chat.ProcessTimeout = 60
	}
	if cfg.Auth.TokenExpiryHours == 0 {
		cfg.Auth.TokenExpiryHours = 24
	}
	if cfg.Auth.OTPTTL == 0 {
		cfg.Auth.OTPTTL = 300
	}
	if cfg.Auth.ResendInterval == 0 {
		cfg.Auth.ResendInterval = 60
	}
	if cfg.Auth.MaxAttempts == 0 {
		cfg.Auth.MaxAttempts = 5
	}
	if cfg.Auth.BaseURL == "" {
		cfg.Auth.BaseURL = fmt.Sprintf("http://localhost:%d", cfg.Server.Port)
	}
	cfg.Auth.BaseURL = strings.TrimSuffix(cfg.Auth.BaseURL, "/")
	if cfg.Worker.PruneInterval == 0 {
		cfg.Worker.PruneInterval = 60
	}
}
