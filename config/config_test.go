package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	pferrors "github.com/otherjamesbrown/penf-linker/pkg/errors"
)

// TestDefaultConfig verifies default configuration values.
func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Engine.Backend != EngineRemote {
		t.Errorf("Engine.Backend = %v, want %v", cfg.Engine.Backend, EngineRemote)
	}
	if cfg.Engine.URL != DefaultEngineURL {
		t.Errorf("Engine.URL = %v, want %v", cfg.Engine.URL, DefaultEngineURL)
	}
	if cfg.Queue.Backend != QueueMemory {
		t.Errorf("Queue.Backend = %v, want %v", cfg.Queue.Backend, QueueMemory)
	}
	if cfg.Pipeline.AnalysisWorkers != 4 {
		t.Errorf("Pipeline.AnalysisWorkers = %v, want 4", cfg.Pipeline.AnalysisWorkers)
	}
	if !cfg.Policy.LinkToUnrecognizedEntities {
		t.Error("Policy.LinkToUnrecognizedEntities should default to true")
	}
	if cfg.Trigger.Enabled {
		t.Error("Trigger should be disabled by default")
	}
	if cfg.Trigger.Channel != "document_changed" {
		t.Errorf("Trigger.Channel = %v, want document_changed", cfg.Trigger.Channel)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("default config should validate: %v", err)
	}
}

// TestOutputFormat_IsValid verifies output format validation.
func TestOutputFormat_IsValid(t *testing.T) {
	tests := []struct {
		format OutputFormat
		valid  bool
	}{
		{OutputFormatText, true},
		{OutputFormatJSON, true},
		{OutputFormatYAML, true},
		{"invalid", false},
		{"", false},
		{"JSON", false}, // Case sensitive
	}

	for _, tc := range tests {
		if got := tc.format.IsValid(); got != tc.valid {
			t.Errorf("OutputFormat(%q).IsValid() = %v, want %v", tc.format, got, tc.valid)
		}
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*LinkerConfig)
	}{
		{"unknown engine backend", func(c *LinkerConfig) { c.Engine.Backend = "carrier-pigeon" }},
		{"remote without url", func(c *LinkerConfig) { c.Engine.URL = "" }},
		{"local without model", func(c *LinkerConfig) { c.Engine.Backend = EngineLocal }},
		{"unknown queue backend", func(c *LinkerConfig) { c.Queue.Backend = "kafka" }},
		{"redis without addr", func(c *LinkerConfig) { c.Queue.Backend = QueueRedis; c.Queue.RedisAddr = "" }},
		{"redis without lease ttl", func(c *LinkerConfig) { c.Queue.Backend = QueueRedis; c.Queue.LeaseTTL = 0 }},
		{"zero workers", func(c *LinkerConfig) { c.Pipeline.AnalysisWorkers = 0 }},
		{"bad schedule", func(c *LinkerConfig) { c.Pipeline.SweepSchedule = "sometimes" }},
		{"bad policy", func(c *LinkerConfig) { c.Policy.AmbiguityCandidateThreshold = 1 }},
		{"trigger without channel", func(c *LinkerConfig) { c.Trigger.Enabled = true; c.Trigger.Channel = "" }},
		{"bad output format", func(c *LinkerConfig) { c.OutputFormat = "xml" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if !pferrors.IsValidation(err) {
				t.Errorf("Validate() = %v, want a validation error", err)
			}
		})
	}
}

// TestLoadConfig_FileAndEnv verifies file values, env overrides and defaults
// for keys the file leaves out.
func TestLoadConfig_FileAndEnv(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("PENF_LINKER_CONFIG_DIR", dir)
	t.Chdir(dir)

	content := `
engine:
  url: http://engine.internal/enhancer
  timeout: 30s
pipeline:
  analysis_workers: 8
  status_ttl: 1h
policy:
  link_to_ambiguous_entities: true
queue:
  backend: redis
types:
  http://schema.org/MusicGroup: Organization
`
	if err := os.WriteFile(filepath.Join(dir, DefaultConfigFile), []byte(content), 0600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("PENF_LINKER_ANALYSIS_WORKERS", "2")
	t.Setenv("PENF_LINKER_LOG_LEVEL", "DEBUG")
	t.Setenv("REDIS_ADDR", "redis.internal:6379")

	cfg, err := LoadConfig("")
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}

	if cfg.Engine.URL != "http://engine.internal/enhancer" {
		t.Errorf("Engine.URL = %v", cfg.Engine.URL)
	}
	if cfg.Engine.Timeout != 30*time.Second {
		t.Errorf("Engine.Timeout = %v, want 30s", cfg.Engine.Timeout)
	}
	if cfg.Engine.Retry.MaxAttempts != 2 {
		t.Errorf("Engine.Retry.MaxAttempts = %v, want default 2", cfg.Engine.Retry.MaxAttempts)
	}
	if cfg.Pipeline.AnalysisWorkers != 2 {
		t.Errorf("Pipeline.AnalysisWorkers = %v, want env value 2", cfg.Pipeline.AnalysisWorkers)
	}
	if cfg.Pipeline.StatusTTL != time.Hour {
		t.Errorf("Pipeline.StatusTTL = %v, want 1h", cfg.Pipeline.StatusTTL)
	}
	if !cfg.Policy.LinkToAmbiguousEntities || !cfg.Policy.LinkToUnrecognizedEntities {
		t.Errorf("Policy = %+v, want both link flags set", cfg.Policy)
	}
	if cfg.Queue.RedisAddr != "redis.internal:6379" {
		t.Errorf("Queue.RedisAddr = %v", cfg.Queue.RedisAddr)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("Logging.Level = %v, want debug", cfg.Logging.Level)
	}

	mapping := cfg.TypeMapping(map[string]string{"http://dbpedia.org/ontology/Person": "Person"})
	if mapping["http://schema.org/MusicGroup"] != "Organization" || mapping["http://dbpedia.org/ontology/Person"] != "Person" {
		t.Errorf("TypeMapping() = %v", mapping)
	}
}

func TestLoadConfig_DotEnv(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("PENF_LINKER_CONFIG_DIR", dir)
	t.Chdir(dir)
	// Registered so the variable set by .env is removed after the test.
	t.Setenv("PENF_LINKER_HTTP_ADDR", "")
	os.Unsetenv("PENF_LINKER_HTTP_ADDR")

	if err := os.WriteFile(filepath.Join(dir, ".env"), []byte("PENF_LINKER_HTTP_ADDR=:9999\n"), 0600); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadConfig("")
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}
	if cfg.Server.HTTPAddr != ":9999" {
		t.Errorf("Server.HTTPAddr = %v, want :9999 from .env", cfg.Server.HTTPAddr)
	}
}

func TestLoadConfig_Errors(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("PENF_LINKER_CONFIG_DIR", dir)
	t.Chdir(dir)

	if _, err := LoadConfig(filepath.Join(dir, "missing.yaml")); err == nil {
		t.Error("expected error for missing explicit config file")
	}

	bad := filepath.Join(dir, "bad.yaml")
	if err := os.WriteFile(bad, []byte("engine: [not, a, map]"), 0600); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadConfig(bad); err == nil {
		t.Error("expected error for malformed config file")
	}

	invalidFile := filepath.Join(dir, "invalid.yaml")
	if err := os.WriteFile(invalidFile, []byte("queue:\n  backend: kafka\n"), 0600); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadConfig(invalidFile); !pferrors.IsValidation(err) {
		t.Errorf("LoadConfig() = %v, want validation error", err)
	}
}

// TestExpandPath verifies home directory expansion.
func TestExpandPath(t *testing.T) {
	home, err := os.UserHomeDir()
	if err != nil {
		t.Skip("no home directory")
	}

	got, err := ExpandPath("~/models/ner")
	if err != nil {
		t.Fatal(err)
	}
	if want := filepath.Join(home, "models/ner"); got != want {
		t.Errorf("ExpandPath() = %v, want %v", got, want)
	}
	if got, _ := ExpandPath("/abs/path"); got != "/abs/path" {
		t.Errorf("ExpandPath(/abs/path) = %v", got)
	}
}
