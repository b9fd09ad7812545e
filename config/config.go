// Package config loads penf-linker configuration.
// Values come from defaults, then a YAML file, then PENF_LINKER_* environment
// variables (with a .env file loaded first), then command-line flags.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/otherjamesbrown/penf-linker/pkg/db"
	pferrors "github.com/otherjamesbrown/penf-linker/pkg/errors"
	"github.com/otherjamesbrown/penf-linker/pkg/linking/engine"
	"github.com/otherjamesbrown/penf-linker/pkg/linking/graph"
	"github.com/otherjamesbrown/penf-linker/pkg/linking/pipeline"
	"github.com/otherjamesbrown/penf-linker/pkg/linking/queues"
	"github.com/otherjamesbrown/penf-linker/pkg/linking/resolver"
	"github.com/otherjamesbrown/penf-linker/pkg/linking/trigger"
	"github.com/otherjamesbrown/penf-linker/pkg/logging"
)

// OutputFormat defines the supported output formats for CLI results.
type OutputFormat string

const (
	// OutputFormatText is human-readable plain text output.
	OutputFormatText OutputFormat = "text"
	// OutputFormatJSON is JSON-formatted output for machine processing.
	OutputFormatJSON OutputFormat = "json"
	// OutputFormatYAML is YAML-formatted output for machine processing.
	OutputFormatYAML OutputFormat = "yaml"
)

// Engine backends.
const (
	EngineRemote = "remote"
	EngineLocal  = "local"
)

// Queue backends.
const (
	QueueMemory = "memory"
	QueueRedis  = "redis"
)

// Default configuration values.
const (
	DefaultEngineURL     = "http://localhost:8080/enhancer"
	DefaultEngineTimeout = time.Minute
	DefaultHTTPAddr      = ":8090"
	DefaultHealthAddr    = ":8091"
	DefaultRedisAddr     = "localhost:6379"
	DefaultOutputFormat  = OutputFormatText
	DefaultConfigDir     = ".penf-linker"
	DefaultConfigFile    = "config.yaml"
)

// EngineConfig selects and configures the annotation engine.
type EngineConfig struct {
	// Backend is "remote" (HTTP engine) or "local" (in-process NER model).
	Backend string `yaml:"backend"`
	// URL is the remote engine endpoint.
	URL string `yaml:"url"`
	// Accept is the graph serialization requested from the engine.
	Accept string `yaml:"accept"`
	// Timeout bounds one engine request.
	Timeout time.Duration `yaml:"timeout"`
	// Retry is the attempt budget per request.
	Retry engine.RetryPolicy `yaml:"retry"`
	// ModelPath is the local token classification model directory.
	ModelPath string `yaml:"model_path,omitempty"`
}

// QueueConfig selects where tasks wait.
type QueueConfig struct {
	// Backend is "memory" (one process) or "redis" (shared). With redis,
	// any process may run analysis but only the holder of the serialization
	// lease writes links.
	Backend           string        `yaml:"backend"`
	RedisAddr         string        `yaml:"redis_addr"`
	RedisPassword     string        `yaml:"redis_password,omitempty"`
	RedisDB           int           `yaml:"redis_db"`
	VisibilityTimeout time.Duration `yaml:"visibility_timeout"`
	// LeaseTTL is how long the serialization lease outlives a dead holder.
	LeaseTTL time.Duration `yaml:"serialization_lease_ttl"`
	// PublishEvents announces task outcomes on Redis pub/sub.
	PublishEvents bool `yaml:"publish_events"`
}

// ServerConfig holds listen addresses.
type ServerConfig struct {
	HTTPAddr   string `yaml:"http_addr"`
	HealthAddr string `yaml:"health_addr"`
}

// TriggerConfig enables analysis on database change notifications.
type TriggerConfig struct {
	Enabled bool   `yaml:"enabled"`
	Channel string `yaml:"channel"`
}

// LinkerConfig is the complete penf-linker configuration.
type LinkerConfig struct {
	Engine   EngineConfig    `yaml:"engine"`
	Policy   resolver.Policy `yaml:"policy"`
	Pipeline pipeline.Config `yaml:"pipeline"`
	Queue    QueueConfig     `yaml:"queue"`
	Database db.Config       `yaml:"database"`
	Server   ServerConfig    `yaml:"server"`
	Logging  logging.Config  `yaml:"logging"`
	Trigger  TriggerConfig   `yaml:"trigger"`

	// Types maps engine type URIs to local entity types. Entries are added
	// to the built-in mapping.
	Types map[string]string `yaml:"types,omitempty"`

	// OutputFormat is the default CLI output format.
	OutputFormat OutputFormat `yaml:"output_format"`
}

// DefaultConfig returns a LinkerConfig with default values.
func DefaultConfig() *LinkerConfig {
	return &LinkerConfig{
		Engine: EngineConfig{
			Backend: EngineRemote,
			URL:     DefaultEngineURL,
			Accept:  graph.FormatRDFJSON,
			Timeout: DefaultEngineTimeout,
			Retry:   engine.DefaultRetryPolicy(),
		},
		Policy:   resolver.DefaultPolicy(),
		Pipeline: pipeline.DefaultConfig(),
		Queue: QueueConfig{
			Backend:           QueueMemory,
			RedisAddr:         DefaultRedisAddr,
			VisibilityTimeout: queues.DefaultConfigs()[queues.NameAnalysis].VisibilityTimeout,
			LeaseTTL:          queues.DefaultLeaseTTL,
		},
		Database: *db.DefaultConfig(),
		Server: ServerConfig{
			HTTPAddr:   DefaultHTTPAddr,
			HealthAddr: DefaultHealthAddr,
		},
		Logging:      *logging.DefaultConfig(),
		Trigger:      TriggerConfig{Channel: trigger.DefaultChannel},
		OutputFormat: DefaultOutputFormat,
	}
}

// ConfigDir returns the configuration directory path.
// Uses $PENF_LINKER_CONFIG_DIR if set, otherwise ~/.penf-linker
func ConfigDir() (string, error) {
	if dir := os.Getenv("PENF_LINKER_CONFIG_DIR"); dir != "" {
		return dir, nil
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("getting home directory: %w", err)
	}

	return filepath.Join(home, DefaultConfigDir), nil
}

// ConfigPath returns the full path to the configuration file.
func ConfigPath() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, DefaultConfigFile), nil
}

// LoadConfig loads the configuration. Configuration is loaded in this order
// (later sources override earlier):
// 1. Default values
// 2. Config file (path, or ~/.penf-linker/config.yaml when path is empty)
// 3. .env in the working directory, for variables not already set
// 4. Environment variables (PENF_LINKER_*, DB_*, DATABASE_URL, REDIS_ADDR)
func LoadConfig(path string) (*LinkerConfig, error) {
	cfg := DefaultConfig()

	explicit := path != ""
	if !explicit {
		var err error
		if path, err = ConfigPath(); err != nil {
			return nil, fmt.Errorf("getting config path: %w", err)
		}
	}

	if _, err := os.Stat(path); err == nil {
		if err := loadFromFile(cfg, path); err != nil {
			return nil, fmt.Errorf("loading config file: %w", err)
		}
	} else if explicit {
		return nil, fmt.Errorf("config file %s: %w", path, err)
	}

	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("loading .env: %w", err)
	}
	loadFromEnv(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// loadFromFile overlays a YAML file onto cfg. Keys absent from the file keep
// their current values.
func loadFromFile(cfg *LinkerConfig, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parsing config file: %w", err)
	}
	return nil
}

// loadFromEnv overlays environment variables onto the configuration.
// Unparseable values are ignored.
func loadFromEnv(cfg *LinkerConfig) {
	setString := func(name string, dst *string) {
		if v := os.Getenv(name); v != "" {
			*dst = v
		}
	}
	setBool := func(name string, dst *bool) {
		if v := os.Getenv(name); v != "" {
			if b, err := strconv.ParseBool(v); err == nil {
				*dst = b
			}
		}
	}
	setInt := func(name string, dst *int) {
		if v := os.Getenv(name); v != "" {
			if n, err := strconv.Atoi(v); err == nil {
				*dst = n
			}
		}
	}
	setDuration := func(name string, dst *time.Duration) {
		if v := os.Getenv(name); v != "" {
			if d, err := time.ParseDuration(v); err == nil {
				*dst = d
			}
		}
	}

	setString("PENF_LINKER_ENGINE_BACKEND", &cfg.Engine.Backend)
	setString("PENF_LINKER_ENGINE_URL", &cfg.Engine.URL)
	setString("PENF_LINKER_ENGINE_ACCEPT", &cfg.Engine.Accept)
	setDuration("PENF_LINKER_ENGINE_TIMEOUT", &cfg.Engine.Timeout)
	setInt("PENF_LINKER_ENGINE_ATTEMPTS", &cfg.Engine.Retry.MaxAttempts)
	setString("PENF_LINKER_ENGINE_MODEL_PATH", &cfg.Engine.ModelPath)

	setBool("PENF_LINKER_LINK_UNRECOGNIZED", &cfg.Policy.LinkToUnrecognizedEntities)
	setBool("PENF_LINKER_LINK_AMBIGUOUS", &cfg.Policy.LinkToAmbiguousEntities)
	setBool("PENF_LINKER_LINK_SHORT_NAMES", &cfg.Policy.LinkShortPersonNames)

	setInt("PENF_LINKER_ANALYSIS_WORKERS", &cfg.Pipeline.AnalysisWorkers)
	setDuration("PENF_LINKER_SHUTDOWN_TIMEOUT", &cfg.Pipeline.ShutdownTimeout)
	setDuration("PENF_LINKER_STATUS_TTL", &cfg.Pipeline.StatusTTL)
	setString("PENF_LINKER_SWEEP_SCHEDULE", &cfg.Pipeline.SweepSchedule)

	setString("PENF_LINKER_QUEUE_BACKEND", &cfg.Queue.Backend)
	setString("REDIS_ADDR", &cfg.Queue.RedisAddr)
	setString("PENF_LINKER_REDIS_ADDR", &cfg.Queue.RedisAddr)
	setString("PENF_LINKER_REDIS_PASSWORD", &cfg.Queue.RedisPassword)
	setBool("PENF_LINKER_PUBLISH_EVENTS", &cfg.Queue.PublishEvents)
	setDuration("PENF_LINKER_LEASE_TTL", &cfg.Queue.LeaseTTL)

	setString("PENF_LINKER_HTTP_ADDR", &cfg.Server.HTTPAddr)
	setString("PENF_LINKER_HEALTH_ADDR", &cfg.Server.HealthAddr)

	if v := os.Getenv("PENF_LINKER_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = logging.Level(strings.ToLower(v))
	}
	setBool("PENF_LINKER_LOG_JSON", &cfg.Logging.JSONFormat)
	setString("PENF_LINKER_LOG_FILE", &cfg.Logging.File.Path)

	setBool("PENF_LINKER_TRIGGER_ENABLED", &cfg.Trigger.Enabled)
	setString("PENF_LINKER_TRIGGER_CHANNEL", &cfg.Trigger.Channel)

	if v := os.Getenv("PENF_LINKER_OUTPUT_FORMAT"); v != "" {
		cfg.OutputFormat = OutputFormat(strings.ToLower(v))
	}

	cfg.Database.ApplyEnv()
}

// Validate checks that the configuration is valid.
func (c *LinkerConfig) Validate() error {
	switch c.Engine.Backend {
	case EngineRemote:
		if c.Engine.URL == "" {
			return invalid("engine.url is required for the remote backend")
		}
		if c.Engine.Timeout <= 0 {
			return invalid("engine.timeout must be positive")
		}
	case EngineLocal:
		if c.Engine.ModelPath == "" {
			return invalid("engine.model_path is required for the local backend")
		}
	default:
		return invalid("unknown engine.backend %q (must be remote or local)", c.Engine.Backend)
	}

	switch c.Queue.Backend {
	case QueueMemory:
	case QueueRedis:
		if c.Queue.RedisAddr == "" {
			return invalid("queue.redis_addr is required for the redis backend")
		}
		if c.Queue.LeaseTTL <= 0 {
			return invalid("queue.serialization_lease_ttl must be positive")
		}
	default:
		return invalid("unknown queue.backend %q (must be memory or redis)", c.Queue.Backend)
	}
	if c.Queue.PublishEvents && c.Queue.RedisAddr == "" {
		return invalid("queue.publish_events needs queue.redis_addr")
	}

	if err := c.Policy.Validate(); err != nil {
		return err
	}
	if err := c.Pipeline.Validate(); err != nil {
		return err
	}

	if c.Trigger.Enabled && c.Trigger.Channel == "" {
		return invalid("trigger.channel is required when the trigger is enabled")
	}

	if !c.OutputFormat.IsValid() {
		return invalid("invalid output_format: %q (must be text, json, or yaml)", c.OutputFormat)
	}

	return nil
}

func invalid(format string, args ...interface{}) error {
	return fmt.Errorf(format+": %w", append(args, pferrors.ErrValidation)...)
}

// TypeMapping returns the built-in type mapping extended by Types.
func (c *LinkerConfig) TypeMapping(defaults map[string]string) map[string]string {
	out := make(map[string]string, len(defaults)+len(c.Types))
	for k, v := range defaults {
		out[k] = v
	}
	for k, v := range c.Types {
		out[k] = v
	}
	return out
}

// IsValid checks if the output format is valid.
func (f OutputFormat) IsValid() bool {
	switch f {
	case OutputFormatText, OutputFormatJSON, OutputFormatYAML:
		return true
	default:
		return false
	}
}

// String returns the string representation of the output format.
func (f OutputFormat) String() string {
	return string(f)
}

// ExpandPath expands ~ to the user's home directory.
func ExpandPath(path string) (string, error) {
	if path == "" {
		return "", nil
	}
	if path[0] == '~' {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("getting home directory: %w", err)
		}
		return filepath.Join(home, path[1:]), nil
	}
	return path, nil
}
