package config

import (
	"time"

	"github.com/raaihank/exdfilter/internal/anonymizer"
	"github.com/raaihank/exdfilter/internal/pipeline"
)

// Config represents the main configuration structure
type Config struct {
	Paths      PathsConfig       `yaml:"paths" mapstructure:"paths"`
	Pipeline   pipeline.Config   `yaml:"pipeline" mapstructure:"pipeline"`
	Anonymizer anonymizer.Config `yaml:"anonymizer" mapstructure:"anonymizer"`
	Rules      RulesConfig       `yaml:"rules" mapstructure:"rules"`
	Tokens     TokensConfig      `yaml:"tokens" mapstructure:"tokens"`
	Server     ServerConfig      `yaml:"server" mapstructure:"server"`
	WebSocket  WebSocketConfig   `yaml:"websocket" mapstructure:"websocket"`
	Logging    LoggingConfig     `yaml:"logging" mapstructure:"logging"`
}

// PathsConfig locates the tree and the state documents
type PathsConfig struct {
	Target     string `yaml:"target" mapstructure:"target"`           // table tree the passes run on
	Output     string `yaml:"output" mapstructure:"output"`           // version root: data.json, validation target
	ConfigDir  string `yaml:"config_dir" mapstructure:"config_dir"`   // filter.json + managed_filter.tmp.json
	TokenStore string `yaml:"token_store" mapstructure:"token_store"` // rsv.json
	Presets    string `yaml:"presets" mapstructure:"presets"`         // preset.json
	Report     string `yaml:"report" mapstructure:"report"`           // validation.json
}

// RulesConfig selects the remote rule table
type RulesConfig struct {
	Source          string        `yaml:"source" mapstructure:"source"` // "", csv or sql
	SheetURL        string        `yaml:"sheet_url" mapstructure:"sheet_url"`
	Timeout         time.Duration `yaml:"timeout" mapstructure:"timeout"`
	DatabaseURL     string        `yaml:"database_url" mapstructure:"database_url"`
	Table           string        `yaml:"table" mapstructure:"table"`
	MaxOpenConns    int           `yaml:"max_open_conns" mapstructure:"max_open_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" mapstructure:"conn_max_lifetime"`
}

// TokensConfig contains token override feed configuration
type TokensConfig struct {
	Enabled bool            `yaml:"enabled" mapstructure:"enabled"`
	Files   []string        `yaml:"files" mapstructure:"files"` // local key|value files, highest priority
	HTTP    HTTPFeedConfig  `yaml:"http" mapstructure:"http"`
	Redis   RedisFeedConfig `yaml:"redis" mapstructure:"redis"`
}

// HTTPFeedConfig configures the override directory listing
type HTTPFeedConfig struct {
	Enabled           bool          `yaml:"enabled" mapstructure:"enabled"`
	ListURL           string        `yaml:"list_url" mapstructure:"list_url"`
	RawBaseURL        string        `yaml:"raw_base_url" mapstructure:"raw_base_url"`
	Prefix            string        `yaml:"prefix" mapstructure:"prefix"`
	Timeout           time.Duration `yaml:"timeout" mapstructure:"timeout"`
	RequestsPerSecond float64       `yaml:"requests_per_second" mapstructure:"requests_per_second"`
	Burst             int           `yaml:"burst" mapstructure:"burst"`
}

// RedisFeedConfig configures the Redis override mirror
type RedisFeedConfig struct {
	Enabled        bool          `yaml:"enabled" mapstructure:"enabled"`
	URL            string        `yaml:"url" mapstructure:"url"`
	Key            string        `yaml:"key" mapstructure:"key"`
	MaxConnections int           `yaml:"max_connections" mapstructure:"max_connections"`
	TTL            time.Duration `yaml:"ttl" mapstructure:"ttl"`
}

// ServerConfig contains HTTP server configuration
type ServerConfig struct {
	Port         int           `yaml:"port" mapstructure:"port"`
	ReadTimeout  time.Duration `yaml:"read_timeout" mapstructure:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout" mapstructure:"write_timeout"`
	IdleTimeout  time.Duration `yaml:"idle_timeout" mapstructure:"idle_timeout"`
	APIToken     string        `yaml:"api_token" mapstructure:"api_token"` // required for POST /api/runs when set
}

// WebSocketConfig contains WebSocket configuration
type WebSocketConfig struct {
	Enabled         bool          `yaml:"enabled" mapstructure:"enabled"`
	Path            string        `yaml:"path" mapstructure:"path"`
	MaxConnections  int           `yaml:"max_connections" mapstructure:"max_connections"`
	ReadBufferSize  int           `yaml:"read_buffer_size" mapstructure:"read_buffer_size"`
	WriteBufferSize int           `yaml:"write_buffer_size" mapstructure:"write_buffer_size"`
	PingInterval    time.Duration `yaml:"ping_interval" mapstructure:"ping_interval"`
	PongTimeout     time.Duration `yaml:"pong_timeout" mapstructure:"pong_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout" mapstructure:"write_timeout"`
	MaxMessageSize  int64         `yaml:"max_message_size" mapstructure:"max_message_size"`
	AllowedOrigins  []string      `yaml:"allowed_origins" mapstructure:"allowed_origins"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"` // json or console
	File   struct {
		Enabled bool   `yaml:"enabled" mapstructure:"enabled"`
		Path    string `yaml:"path" mapstructure:"path"`
	} `yaml:"file" mapstructure:"file"`
}

// GetDefaults returns a configuration with sensible defaults
func GetDefaults() *Config {
	cfg := &Config{
		Paths: PathsConfig{
			Target:     "output/rawexd",
			Output:     "output",
			ConfigDir:  "config",
			TokenStore: "config/rsv.json",
			Presets:    "config/preset.json",
			Report:     "output/validation.json",
		},
		Pipeline:   pipeline.DefaultConfig(pipeline.Localized),
		Anonymizer: anonymizer.DefaultConfig(),
		Rules: RulesConfig{
			Timeout:         30 * time.Second,
			Table:           "filter_rules",
			MaxOpenConns:    4,
			ConnMaxLifetime: 5 * time.Minute,
		},
		Tokens: TokensConfig{
			Enabled: true,
			HTTP: HTTPFeedConfig{
				Prefix:            "global_",
				Timeout:           30 * time.Second,
				RequestsPerSecond: 5,
				Burst:             1,
			},
			Redis: RedisFeedConfig{
				Key:            "exdfilter:overrides",
				MaxConnections: 10,
				TTL:            24 * time.Hour,
			},
		},
		Server: ServerConfig{
			Port:         8080,
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 30 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		WebSocket: WebSocketConfig{
			Enabled:         true,
			Path:            "/ws",
			MaxConnections:  100,
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			PingInterval:    54 * time.Second,
			PongTimeout:     60 * time.Second,
			WriteTimeout:    10 * time.Second,
			MaxMessageSize:  512,
			AllowedOrigins:  []string{"*"},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},
	}
	cfg.Logging.File.Path = "logs/exdfilter.log"
	return cfg
}
