// Package config loads runtime settings from defaults, an optional YAML file,
// a .env file and environment variables, in increasing order of precedence.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/meetsmatch/roommates/internal/cache"
	"github.com/meetsmatch/roommates/internal/database"
	"github.com/meetsmatch/roommates/internal/dynamo"
	"github.com/meetsmatch/roommates/internal/httpserver"
	"github.com/meetsmatch/roommates/internal/middleware"
	"github.com/meetsmatch/roommates/internal/narration"
	"github.com/meetsmatch/roommates/internal/notify"
	"github.com/meetsmatch/roommates/internal/services"
	"github.com/meetsmatch/roommates/internal/telemetry"
)

// Store drivers.
const (
	DriverMemory   = "memory"
	DriverPostgres = "postgres"
	DriverDynamoDB = "dynamodb"
)

// Config holds every runtime setting of the service and CLI.
type Config struct {
	Environment string                  `mapstructure:"environment"`
	Store       StoreConfig             `mapstructure:"store"`
	Database    database.Config         `mapstructure:"database"`
	Dynamo      dynamo.Config           `mapstructure:"dynamodb"`
	Redis       RedisConfig             `mapstructure:"redis"`
	HTTP        httpserver.Config       `mapstructure:"http"`
	Auth        middleware.AuthConfig   `mapstructure:"auth"`
	Matching    services.MatchingConfig `mapstructure:"matching"`
	Narration   narration.Config        `mapstructure:"narration"`
	Notify      notify.Config           `mapstructure:"notify"`
	Logging     telemetry.LogConfig     `mapstructure:"logging"`
	Telemetry   telemetry.Config        `mapstructure:"telemetry"`
}

// StoreConfig selects where profiles and matches live.
type StoreConfig struct {
	Driver string `mapstructure:"driver"`
	// ProfilesFile seeds the memory store, and the profile source of the
	// dynamodb driver, from a JSON array of profiles.
	ProfilesFile string `mapstructure:"profiles_file"`
}

// RedisConfig enables the shared cache.
type RedisConfig struct {
	Enabled           bool `mapstructure:"enabled"`
	cache.RedisConfig `mapstructure:",squash"`
}

// envBindings maps config keys to the conventional variable names used in
// deployment. Every key is also reachable as its upper-cased path, for
// example MATCHING_MIN_SCORE.
var envBindings = map[string][]string{
	"environment":                  {"ENVIRONMENT"},
	"store.driver":                 {"STORE_DRIVER"},
	"store.profiles_file":          {"PROFILES_FILE"},
	"database.host":                {"DB_HOST"},
	"database.port":                {"DB_PORT"},
	"database.user":                {"DB_USER"},
	"database.password":            {"DB_PASSWORD"},
	"database.name":                {"DB_NAME"},
	"database.sslmode":             {"DB_SSLMODE"},
	"dynamodb.table":               {"DYNAMODB_TABLE"},
	"dynamodb.conversations_table": {"DYNAMODB_CONVERSATIONS_TABLE"},
	"dynamodb.region":              {"AWS_REGION"},
	"dynamodb.endpoint":            {"DYNAMODB_ENDPOINT"},
	"redis.enabled":                {"REDIS_ENABLED"},
	"redis.host":                   {"REDIS_HOST"},
	"redis.port":                   {"REDIS_PORT"},
	"redis.password":               {"REDIS_PASSWORD"},
	"redis.db":                     {"REDIS_DB"},
	"http.port":                    {"HTTP_PORT", "PORT"},
	"auth.secret":                  {"JWT_SECRET"},
	"narration.api_key":            {"GEMINI_API_KEY"},
	"narration.model":              {"GEMINI_MODEL"},
	"notify.bot_token":             {"TELEGRAM_BOT_TOKEN"},
	"logging.level":                {"LOG_LEVEL"},
	"logging.format":               {"LOG_FORMAT"},
	"telemetry.enabled":            {"OTEL_ENABLED"},
	"telemetry.endpoint":           {"OTEL_EXPORTER_OTLP_ENDPOINT"},
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("environment", "development")

	v.SetDefault("store.driver", DriverMemory)
	v.SetDefault("store.profiles_file", "")

	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", "5432")
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.password", "")
	v.SetDefault("database.name", "roommates")
	v.SetDefault("database.sslmode", "disable")

	v.SetDefault("dynamodb.table", "roommate_matches")
	v.SetDefault("dynamodb.conversations_table", "roommate_conversations")
	v.SetDefault("dynamodb.region", "")
	v.SetDefault("dynamodb.endpoint", "")

	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.pool_size", 10)

	http := httpserver.DefaultConfig()
	v.SetDefault("http.host", http.Host)
	v.SetDefault("http.port", http.Port)
	v.SetDefault("http.read_timeout", http.ReadTimeout)
	v.SetDefault("http.write_timeout", http.WriteTimeout)
	v.SetDefault("http.shutdown_timeout", http.ShutdownTimeout)
	v.SetDefault("http.allowed_origins", http.AllowedOrigins)
	v.SetDefault("http.rate_limit.burst", http.RateLimit.Burst)
	v.SetDefault("http.rate_limit.refill_rate", http.RateLimit.RefillRate)
	v.SetDefault("http.response_cache", http.ResponseCache)

	v.SetDefault("auth.secret", "")
	v.SetDefault("auth.issuer", "roommates")
	v.SetDefault("auth.token_ttl", "1h")

	matching := services.DefaultMatchingConfig()
	v.SetDefault("matching.min_score", matching.MinScore)
	v.SetDefault("matching.max_promotion_retries", matching.MaxPromotionRetries)
	v.SetDefault("matching.retry_backoff", matching.RetryBackoff)
	v.SetDefault("matching.narration_timeout", matching.NarrationTimeout)

	v.SetDefault("narration.api_key", "")
	v.SetDefault("narration.model", "")
	v.SetDefault("notify.bot_token", "")
	v.SetDefault("notify.conversation_url", "")

	logging := telemetry.DefaultLogConfig()
	v.SetDefault("logging.level", string(logging.Level))
	v.SetDefault("logging.format", logging.Format)
	v.SetDefault("logging.output", logging.Output)
	v.SetDefault("logging.rotation", logging.Rotation)
	v.SetDefault("logging.max_size", logging.MaxSize)
	v.SetDefault("logging.max_backups", logging.MaxBackups)
	v.SetDefault("logging.max_age", logging.MaxAge)
	v.SetDefault("logging.compress", logging.Compress)

	otel := telemetry.DefaultConfig()
	v.SetDefault("telemetry.service_name", otel.ServiceName)
	v.SetDefault("telemetry.service_version", otel.ServiceVersion)
	v.SetDefault("telemetry.environment", otel.Environment)
	v.SetDefault("telemetry.endpoint", otel.OTLPEndpoint)
	v.SetDefault("telemetry.enabled", otel.Enabled)
	v.SetDefault("telemetry.sample_ratio", otel.SampleRatio)
	v.SetDefault("telemetry.metric_interval", otel.MetricInterval)
}

// Load reads configuration. configFile may be empty. A missing .env file is
// not an error.
func Load(configFile string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env file: %w", err)
	}
	return load(viper.New(), configFile)
}

func load(v *viper.Viper, configFile string) (*Config, error) {
	setDefaults(v)

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for key, names := range envBindings {
		if err := v.BindEnv(append([]string{key}, names...)...); err != nil {
			return nil, fmt.Errorf("failed to bind %s: %w", key, err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}

	config.Store.Driver = strings.ToLower(strings.TrimSpace(config.Store.Driver))
	if config.Telemetry.Environment == "" || config.Telemetry.Environment == "development" {
		config.Telemetry.Environment = config.Environment
	}
	config.Logging.Service = config.Telemetry.ServiceName

	return &config, nil
}

// Validate checks the settings every command depends on.
func (c *Config) Validate() error {
	switch c.Store.Driver {
	case DriverMemory:
	case DriverPostgres:
		if c.Database.Host == "" || c.Database.DBName == "" {
			return fmt.Errorf("database host and name are required for the %s driver", DriverPostgres)
		}
	case DriverDynamoDB:
		if c.Dynamo.Table == "" {
			return fmt.Errorf("dynamodb table is required for the %s driver", DriverDynamoDB)
		}
		if c.Dynamo.ConversationsTable == "" {
			return fmt.Errorf("dynamodb conversations table is required for the %s driver", DriverDynamoDB)
		}
		if c.Store.ProfilesFile == "" {
			return fmt.Errorf("profiles file is required for the %s driver", DriverDynamoDB)
		}
	default:
		return fmt.Errorf("unknown store driver %q", c.Store.Driver)
	}

	if c.HTTP.Port < 0 || c.HTTP.Port > 65535 {
		return fmt.Errorf("http port %d is out of range", c.HTTP.Port)
	}
	if c.Matching.MinScore < 0 || c.Matching.MinScore > 100 {
		return fmt.Errorf("matching min score %d is outside [0,100]", c.Matching.MinScore)
	}
	if f := c.Logging.Format; f != "json" && f != "text" {
		return fmt.Errorf("log format must be json or text, got %q", f)
	}
	return nil
}

// ValidateServe adds the settings only the HTTP service needs.
func (c *Config) ValidateServe() error {
	if err := c.Validate(); err != nil {
		return err
	}
	if strings.TrimSpace(c.Auth.Secret) == "" {
		return errors.New("auth secret is required, set JWT_SECRET")
	}
	return nil
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.Environment == "development" || c.Environment == "dev"
}
