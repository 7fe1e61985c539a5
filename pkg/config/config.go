// Package config provides configuration file support for embedbatch.
// It handles loading, validation, and environment variable interpolation
// for embedbatch.yaml configuration files.
package config

import (
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config represents the full embedbatch configuration.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Engine    EngineConfig    `mapstructure:"engine"`
	Embedding EmbeddingConfig `mapstructure:"embedding"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port         int           `mapstructure:"port"`
	Host         string        `mapstructure:"host"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// EngineConfig holds batch-engine tuning as it appears in a config file and
// is checked by Validate. The serve and mcp commands take the engine's wait
// time and batch size from MAX_WAIT_TIME/MAX_BATCH_SIZE via LoadEngineEnv
// (fatal on missing or unparseable values) plus the --max-wait-time and
// --max-batch-size flags; they do not read MaxWaitTimeMs, MaxBatchSize or
// ChannelSize from here. StrictErrors is read by serve.
type EngineConfig struct {
	MaxWaitTimeMs int  `mapstructure:"max_wait_time_ms"`
	MaxBatchSize  int  `mapstructure:"max_batch_size"`
	ChannelSize   int  `mapstructure:"channel_size"`
	StrictErrors  bool `mapstructure:"strict_errors"`
}

// EmbeddingConfig holds embedding provider settings.
type EmbeddingConfig struct {
	Provider string `mapstructure:"provider"`
	Model    string `mapstructure:"model"`
}

// TelemetryConfig holds observability settings.
type TelemetryConfig struct {
	Tracing TracingConfig `mapstructure:"tracing"`
}

// TracingConfig holds OpenTelemetry tracing settings.
type TracingConfig struct {
	Enabled    bool    `mapstructure:"enabled"`
	Exporter   string  `mapstructure:"exporter"`
	Endpoint   string  `mapstructure:"endpoint"`
	SampleRate float64 `mapstructure:"sample_rate"`
	Insecure   bool    `mapstructure:"insecure"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:         8080,
			Host:         "0.0.0.0",
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 60 * time.Second,
		},
		Engine: EngineConfig{
			MaxWaitTimeMs: 50,
			MaxBatchSize:  32,
			ChannelSize:   10000,
			StrictErrors:  false,
		},
		Embedding: EmbeddingConfig{
			Provider: "local",
			Model:    "text-embedding-3-small",
		},
		Telemetry: TelemetryConfig{
			Tracing: TracingConfig{
				Enabled:    false,
				Exporter:   "otlp",
				Endpoint:   "localhost:4317",
				SampleRate: 1.0,
				Insecure:   true,
			},
		},
	}
}

// Load reads configuration from the given viper instance and returns
// a validated Config. Environment variables in string values are
// interpolated using ${VAR} syntax.
func Load(v *viper.Viper) (*Config, error) {
	cfg := DefaultConfig()

	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	interpolateConfig(cfg)

	if err := Validate(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// LoadFromFile reads a specific config file and returns a validated Config.
func LoadFromFile(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	return Load(v)
}

// Validate checks the configuration for errors and returns a descriptive
// error if any field is invalid.
func Validate(cfg *Config) error {
	var errs []string

	if cfg.Server.Port < 0 || cfg.Server.Port > 65535 {
		errs = append(errs, fmt.Sprintf("server.port: must be between 0 and 65535, got %d", cfg.Server.Port))
	}
	if cfg.Server.ReadTimeout < 0 {
		errs = append(errs, "server.read_timeout: must be non-negative")
	}
	if cfg.Server.WriteTimeout < 0 {
		errs = append(errs, "server.write_timeout: must be non-negative")
	}

	if cfg.Engine.MaxWaitTimeMs < 0 {
		errs = append(errs, "engine.max_wait_time_ms: must be non-negative")
	}
	if cfg.Engine.MaxBatchSize < 1 {
		errs = append(errs, "engine.max_batch_size: must be at least 1")
	}
	if cfg.Engine.ChannelSize < 1 {
		errs = append(errs, "engine.channel_size: must be at least 1")
	}

	validProviders := map[string]bool{"openai": true, "local": true, "": true}
	if !validProviders[cfg.Embedding.Provider] {
		errs = append(errs, fmt.Sprintf("embedding.provider: unsupported provider %q (supported: openai, local)", cfg.Embedding.Provider))
	}

	validExporters := map[string]bool{"otlp": true, "stdout": true, "none": true, "": true}
	if !validExporters[cfg.Telemetry.Tracing.Exporter] {
		errs = append(errs, fmt.Sprintf("telemetry.tracing.exporter: unsupported exporter %q (supported: otlp, stdout, none)", cfg.Telemetry.Tracing.Exporter))
	}
	if cfg.Telemetry.Tracing.SampleRate < 0 || cfg.Telemetry.Tracing.SampleRate > 1 {
		errs = append(errs, fmt.Sprintf("telemetry.tracing.sample_rate: must be between 0 and 1, got %f", cfg.Telemetry.Tracing.SampleRate))
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors:\n  - %s", strings.Join(errs, "\n  - "))
	}

	return nil
}

// EngineEnv holds the two values the batching path treats as required at
// startup, independent of the Viper/config-file layer above.
type EngineEnv struct {
	MaxWaitTimeMs int
	MaxBatchSize  int
}

// LoadEngineEnv reads MAX_WAIT_TIME and MAX_BATCH_SIZE from the process
// environment. Both are required: a missing or unparseable value is a
// fatal startup condition, never a silently-defaulted one.
func LoadEngineEnv() (EngineEnv, error) {
	waitRaw, ok := os.LookupEnv("MAX_WAIT_TIME")
	if !ok {
		return EngineEnv{}, fmt.Errorf("MAX_WAIT_TIME is required")
	}
	wait, err := strconv.Atoi(waitRaw)
	if err != nil {
		return EngineEnv{}, fmt.Errorf("MAX_WAIT_TIME must be an integer, got %q: %w", waitRaw, err)
	}
	if wait < 0 {
		return EngineEnv{}, fmt.Errorf("MAX_WAIT_TIME must be non-negative, got %d", wait)
	}

	sizeRaw, ok := os.LookupEnv("MAX_BATCH_SIZE")
	if !ok {
		return EngineEnv{}, fmt.Errorf("MAX_BATCH_SIZE is required")
	}
	size, err := strconv.Atoi(sizeRaw)
	if err != nil {
		return EngineEnv{}, fmt.Errorf("MAX_BATCH_SIZE must be an integer, got %q: %w", sizeRaw, err)
	}
	if size < 1 {
		return EngineEnv{}, fmt.Errorf("MAX_BATCH_SIZE must be at least 1, got %d", size)
	}

	return EngineEnv{MaxWaitTimeMs: wait, MaxBatchSize: size}, nil
}

// envVarPattern matches ${VAR} or ${VAR:-default} syntax.
var envVarPattern = regexp.MustCompile(`\$\{([^}:]+)(?::-([^}]*))?\}`)

// InterpolateEnv replaces ${VAR} and ${VAR:-default} patterns in a string
// with the corresponding environment variable values.
func InterpolateEnv(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		parts := envVarPattern.FindStringSubmatch(match)
		if len(parts) < 2 {
			return match
		}

		varName := parts[1]
		defaultVal := ""
		if len(parts) >= 3 {
			defaultVal = parts[2]
		}

		if val, ok := os.LookupEnv(varName); ok {
			return val
		}
		if defaultVal != "" {
			return defaultVal
		}
		return match
	})
}

// interpolateConfig applies environment variable interpolation to all
// string fields in the config.
func interpolateConfig(cfg *Config) {
	cfg.Server.Host = InterpolateEnv(cfg.Server.Host)
	cfg.Embedding.Provider = InterpolateEnv(cfg.Embedding.Provider)
	cfg.Embedding.Model = InterpolateEnv(cfg.Embedding.Model)
	cfg.Telemetry.Tracing.Exporter = InterpolateEnv(cfg.Telemetry.Tracing.Exporter)
	cfg.Telemetry.Tracing.Endpoint = InterpolateEnv(cfg.Telemetry.Tracing.Endpoint)
}

// GenerateTemplate returns a YAML template string with all available
// configuration options and their defaults, suitable for writing to
// an embedbatch.yaml file.
func GenerateTemplate() string {
	return `# embedbatch configuration
# The engine's wait time and batch size come from MAX_WAIT_TIME and
# MAX_BATCH_SIZE in the environment (fatal at startup when missing) and the
# --max-wait-time/--max-batch-size flags. engine.max_wait_time_ms,
# engine.max_batch_size and engine.channel_size below are checked by
# "config validate" but not read by serve or mcp.

server:
  port: 8080
  host: 0.0.0.0
  read_timeout: 30s
  write_timeout: 60s

engine:
  max_wait_time_ms: 50
  max_batch_size: 32
  channel_size: 10000
  strict_errors: false

embedding:
  provider: local        # local or openai
  model: text-embedding-3-small

telemetry:
  tracing:
    enabled: false
    exporter: otlp       # otlp, stdout, or none
    endpoint: localhost:4317
    sample_rate: 1.0     # 0.0 to 1.0
    insecure: true
`
}
