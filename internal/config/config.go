// Package config loads exdfilter configuration from YAML, a .env file and
// EXDFILTER_* environment variables.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/raaihank/exdfilter/internal/pipeline"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "EXDFILTER"

var (
	mu     sync.Mutex
	active *viper.Viper
)

// LoadDotEnv loads KEY=VALUE pairs from the given files (".env" when none)
// into the process environment. Missing files are ignored and variables
// already set are kept.
func LoadDotEnv(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("failed to load %s: %w", f, err)
		}
	}
	return nil
}

// Load loads configuration from file and environment variables
func Load(configPath string) (*Config, error) {
	v := viper.New()
	setDefaults(v, GetDefaults())

	v.SetConfigName("exdfilter")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./configs")
	v.AddConfigPath("$HOME/.exdfilter/")

	// Environment variable overrides
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for _, key := range []string{"pipeline.locale", "pipeline.empty_file_policy"} {
		_ = v.BindEnv(key)
	}

	if configPath != "" {
		v.SetConfigFile(configPath)
	}

	if err := v.ReadInConfig(); err != nil {
		// Config file not found is not an error - we'll use defaults
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) || configPath != "" {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	config, err := decode(v)
	if err != nil {
		return nil, err
	}

	mu.Lock()
	active = v
	mu.Unlock()

	return config, nil
}

func decode(v *viper.Viper) (*Config, error) {
	config := &Config{}
	if err := v.Unmarshal(config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	config.Pipeline = withVariantDefaults(config.Pipeline)

	if err := validateConfig(config); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return config, nil
}

// withVariantDefaults fills the fields whose default depends on the variant.
func withVariantDefaults(c pipeline.Config) pipeline.Config {
	d := pipeline.DefaultConfig(c.Variant)
	if c.Locale == "" {
		c.Locale = d.Locale
	}
	if c.EmptyFilePolicy == "" {
		c.EmptyFilePolicy = d.EmptyFilePolicy
	}
	if len(c.HeaderKeywords) == 0 {
		c.HeaderKeywords = d.HeaderKeywords
	}
	return c
}

// setDefaults registers every default with v so environment variables can
// override keys the config file does not mention.
func setDefaults(v *viper.Viper, d *Config) {
	defaults := map[string]any{
		"paths.target":      d.Paths.Target,
		"paths.output":      d.Paths.Output,
		"paths.config_dir":  d.Paths.ConfigDir,
		"paths.token_store": d.Paths.TokenStore,
		"paths.presets":     d.Paths.Presets,
		"paths.report":      d.Paths.Report,

		"pipeline.variant":        string(d.Pipeline.Variant),
		"pipeline.retry_attempts": d.Pipeline.RetryAttempts,
		"pipeline.retry_backoff":  d.Pipeline.RetryBackoff,

		"anonymizer.enabled":     d.Anonymizer.Enabled,
		"anonymizer.subtree":     d.Anonymizer.Subtree,
		"anonymizer.text_offset": d.Anonymizer.TextOffset,
		"anonymizer.marker_word": d.Anonymizer.MarkerWord,
		"anonymizer.markers":     d.Anonymizer.Markers,
		"anonymizer.placeholder": d.Anonymizer.Placeholder,

		"rules.source":            d.Rules.Source,
		"rules.sheet_url":         d.Rules.SheetURL,
		"rules.timeout":           d.Rules.Timeout,
		"rules.database_url":      d.Rules.DatabaseURL,
		"rules.table":             d.Rules.Table,
		"rules.max_open_conns":    d.Rules.MaxOpenConns,
		"rules.conn_max_lifetime": d.Rules.ConnMaxLifetime,

		"tokens.enabled":                  d.Tokens.Enabled,
		"tokens.files":                    d.Tokens.Files,
		"tokens.http.enabled":             d.Tokens.HTTP.Enabled,
		"tokens.http.list_url":            d.Tokens.HTTP.ListURL,
		"tokens.http.raw_base_url":        d.Tokens.HTTP.RawBaseURL,
		"tokens.http.prefix":              d.Tokens.HTTP.Prefix,
		"tokens.http.timeout":             d.Tokens.HTTP.Timeout,
		"tokens.http.requests_per_second": d.Tokens.HTTP.RequestsPerSecond,
		"tokens.http.burst":               d.Tokens.HTTP.Burst,
		"tokens.redis.enabled":            d.Tokens.Redis.Enabled,
		"tokens.redis.url":                d.Tokens.Redis.URL,
		"tokens.redis.key":                d.Tokens.Redis.Key,
		"tokens.redis.max_connections":    d.Tokens.Redis.MaxConnections,
		"tokens.redis.ttl":                d.Tokens.Redis.TTL,

		"server.port":          d.Server.Port,
		"server.read_timeout":  d.Server.ReadTimeout,
		"server.write_timeout": d.Server.WriteTimeout,
		"server.idle_timeout":  d.Server.IdleTimeout,
		"server.api_token":     d.Server.APIToken,

		"websocket.enabled":           d.WebSocket.Enabled,
		"websocket.path":              d.WebSocket.Path,
		"websocket.max_connections":   d.WebSocket.MaxConnections,
		"websocket.read_buffer_size":  d.WebSocket.ReadBufferSize,
		"websocket.write_buffer_size": d.WebSocket.WriteBufferSize,
		"websocket.ping_interval":     d.WebSocket.PingInterval,
		"websocket.pong_timeout":      d.WebSocket.PongTimeout,
		"websocket.write_timeout":     d.WebSocket.WriteTimeout,
		"websocket.max_message_size":  d.WebSocket.MaxMessageSize,
		"websocket.allowed_origins":   d.WebSocket.AllowedOrigins,

		"logging.level":        d.Logging.Level,
		"logging.format":       d.Logging.Format,
		"logging.file.enabled": d.Logging.File.Enabled,
		"logging.file.path":    d.Logging.File.Path,
	}
	for key, value := range defaults {
		v.SetDefault(key, value)
	}
}

// validateConfig validates the loaded configuration
func validateConfig(config *Config) error {
	if config.Paths.Target == "" {
		return fmt.Errorf("paths.target must be set")
	}

	switch config.Pipeline.Variant {
	case pipeline.Localized, pipeline.Global:
	default:
		return fmt.Errorf("invalid pipeline variant: %s (must be localized or global)", config.Pipeline.Variant)
	}

	if config.Pipeline.EmptyFilePolicy != pipeline.KeepEmpty && config.Pipeline.EmptyFilePolicy != pipeline.DeleteEmpty {
		return fmt.Errorf("invalid empty file policy: %s (must be keep or delete)", config.Pipeline.EmptyFilePolicy)
	}

	if config.Pipeline.RetryAttempts < 1 {
		return fmt.Errorf("invalid retry attempts: %d", config.Pipeline.RetryAttempts)
	}

	if config.Anonymizer.Enabled && (config.Anonymizer.TextOffset == "" || config.Anonymizer.MarkerWord == "") {
		return fmt.Errorf("anonymizer requires text_offset and marker_word")
	}

	switch config.Rules.Source {
	case "":
	case "csv":
		if config.Rules.SheetURL == "" {
			return fmt.Errorf("rules.sheet_url is required for the csv source")
		}
	case "sql":
		if config.Rules.DatabaseURL == "" {
			return fmt.Errorf("rules.database_url is required for the sql source")
		}
	default:
		return fmt.Errorf("invalid rules source: %s (must be csv or sql)", config.Rules.Source)
	}

	if config.Tokens.HTTP.Enabled && config.Tokens.HTTP.ListURL == "" {
		return fmt.Errorf("tokens.http.list_url is required when the http feed is enabled")
	}

	if config.Tokens.Redis.Enabled && config.Tokens.Redis.URL == "" {
		return fmt.Errorf("tokens.redis.url is required when the redis feed is enabled")
	}

	if config.Server.Port <= 0 || config.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", config.Server.Port)
	}

	if config.Logging.Level != "debug" && config.Logging.Level != "info" && config.Logging.Level != "warn" && config.Logging.Level != "error" {
		return fmt.Errorf("invalid log level: %s (must be debug, info, warn, or error)", config.Logging.Level)
	}

	if config.Logging.Format != "json" && config.Logging.Format != "console" {
		return fmt.Errorf("invalid log format: %s (must be json or console)", config.Logging.Format)
	}

	return nil
}

// Watch re-reads the configuration file loaded by the last Load whenever it
// changes and passes valid configurations to callback. Invalid edits are
// reported to onError and otherwise ignored.
func Watch(callback func(*Config), onError func(error)) error {
	mu.Lock()
	v := active
	mu.Unlock()

	if v == nil || v.ConfigFileUsed() == "" {
		return fmt.Errorf("no configuration file to watch")
	}

	v.OnConfigChange(func(e fsnotify.Event) {
		config, err := decode(v)
		if err != nil {
			if onError != nil {
				onError(fmt.Errorf("reload %s: %w", e.Name, err))
			}
			return
		}
		callback(config)
	})
	v.WatchConfig()
	return nil
}
