package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Server.Port != 8080 {
		t.Errorf("expected default port 8080, got %d", cfg.Server.Port)
	}
	if cfg.Server.Host != "0.0.0.0" {
		t.Errorf("expected default host 0.0.0.0, got %s", cfg.Server.Host)
	}
	if cfg.Engine.MaxBatchSize != 32 {
		t.Errorf("expected default max_batch_size 32, got %d", cfg.Engine.MaxBatchSize)
	}
	if cfg.Engine.StrictErrors {
		t.Error("expected strict_errors false by default")
	}
	if cfg.Embedding.Provider != "local" {
		t.Errorf("expected default provider local, got %s", cfg.Embedding.Provider)
	}
	if cfg.Embedding.Model != "text-embedding-3-small" {
		t.Errorf("expected default model text-embedding-3-small, got %s", cfg.Embedding.Model)
	}
}

func TestValidate_ValidConfig(t *testing.T) {
	cfg := DefaultConfig()
	if err := Validate(cfg); err != nil {
		t.Errorf("default config should be valid: %v", err)
	}
}

func TestValidate_InvalidPort(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Server.Port = 70000
	err := Validate(cfg)
	if err == nil {
		t.Error("expected error for invalid port")
	}
}

func TestValidate_InvalidMaxBatchSize(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Engine.MaxBatchSize = 0
	err := Validate(cfg)
	if err == nil {
		t.Error("expected error for max_batch_size < 1")
	}
}

func TestValidate_InvalidMaxWaitTime(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Engine.MaxWaitTimeMs = -1
	err := Validate(cfg)
	if err == nil {
		t.Error("expected error for negative max_wait_time_ms")
	}
}

func TestValidate_InvalidProvider(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Embedding.Provider = "cohere"
	err := Validate(cfg)
	if err == nil {
		t.Error("expected error for unsupported provider")
	}
}

func TestValidate_InvalidExporter(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Telemetry.Tracing.Exporter = "jaeger"
	err := Validate(cfg)
	if err == nil {
		t.Error("expected error for unsupported exporter")
	}
}

func TestValidate_MultipleErrors(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Server.Port = -1
	cfg.Engine.MaxBatchSize = 0
	cfg.Engine.MaxWaitTimeMs = -5
	err := Validate(cfg)
	if err == nil {
		t.Error("expected multiple validation errors")
	}
}

func TestInterpolateEnv(t *testing.T) {
	t.Setenv("TEST_VAR", "hello")

	tests := []struct {
		input    string
		expected string
	}{
		{"${TEST_VAR}", "hello"},
		{"prefix-${TEST_VAR}-suffix", "prefix-hello-suffix"},
		{"${NONEXISTENT_VAR:-fallback}", "fallback"},
		{"${NONEXISTENT_VAR}", "${NONEXISTENT_VAR}"},
		{"no-vars-here", "no-vars-here"},
		{"${TEST_VAR:-default}", "hello"}, // env var exists, ignore default
	}

	for _, tt := range tests {
		result := InterpolateEnv(tt.input)
		if result != tt.expected {
			t.Errorf("InterpolateEnv(%q) = %q, want %q", tt.input, result, tt.expected)
		}
	}
}

func TestLoadFromFile(t *testing.T) {
	content := `
server:
  port: 9090
  host: 127.0.0.1

engine:
  max_wait_time_ms: 100
  max_batch_size: 64
  strict_errors: true

embedding:
  provider: openai
  model: text-embedding-3-large
`
	tmpDir := t.TempDir()
	cfgPath := filepath.Join(tmpDir, "embedbatch.yaml")
	if err := os.WriteFile(cfgPath, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}

	cfg, err := LoadFromFile(cfgPath)
	if err != nil {
		t.Fatalf("LoadFromFile failed: %v", err)
	}

	if cfg.Server.Port != 9090 {
		t.Errorf("expected port 9090, got %d", cfg.Server.Port)
	}
	if cfg.Server.Host != "127.0.0.1" {
		t.Errorf("expected host 127.0.0.1, got %s", cfg.Server.Host)
	}
	if cfg.Engine.MaxWaitTimeMs != 100 {
		t.Errorf("expected max_wait_time_ms 100, got %d", cfg.Engine.MaxWaitTimeMs)
	}
	if cfg.Engine.MaxBatchSize != 64 {
		t.Errorf("expected max_batch_size 64, got %d", cfg.Engine.MaxBatchSize)
	}
	if !cfg.Engine.StrictErrors {
		t.Error("expected strict_errors true")
	}
	if cfg.Embedding.Provider != "openai" {
		t.Errorf("expected provider openai, got %s", cfg.Embedding.Provider)
	}
	if cfg.Embedding.Model != "text-embedding-3-large" {
		t.Errorf("expected model text-embedding-3-large, got %s", cfg.Embedding.Model)
	}
}

func TestLoadFromFile_WithEnvInterpolation(t *testing.T) {
	t.Setenv("TEST_MODEL_NAME", "text-embedding-3-large")

	content := `
embedding:
  provider: openai
  model: ${TEST_MODEL_NAME}
`
	tmpDir := t.TempDir()
	cfgPath := filepath.Join(tmpDir, "embedbatch.yaml")
	if err := os.WriteFile(cfgPath, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}

	cfg, err := LoadFromFile(cfgPath)
	if err != nil {
		t.Fatalf("LoadFromFile failed: %v", err)
	}

	if cfg.Embedding.Model != "text-embedding-3-large" {
		t.Errorf("expected interpolated model, got %s", cfg.Embedding.Model)
	}
}

func TestLoadFromFile_InvalidFile(t *testing.T) {
	_, err := LoadFromFile("/nonexistent/path/embedbatch.yaml")
	if err == nil {
		t.Error("expected error for nonexistent file")
	}
}

func TestLoadFromFile_InvalidYAML(t *testing.T) {
	tmpDir := t.TempDir()
	cfgPath := filepath.Join(tmpDir, "embedbatch.yaml")
	if err := os.WriteFile(cfgPath, []byte("{{invalid yaml"), 0644); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}

	_, err := LoadFromFile(cfgPath)
	if err == nil {
		t.Error("expected error for invalid YAML")
	}
}

func TestLoadFromFile_InvalidValues(t *testing.T) {
	content := `
server:
  port: 99999
engine:
  max_batch_size: 0
`
	tmpDir := t.TempDir()
	cfgPath := filepath.Join(tmpDir, "embedbatch.yaml")
	if err := os.WriteFile(cfgPath, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}

	_, err := LoadFromFile(cfgPath)
	if err == nil {
		t.Error("expected validation error")
	}
}

func TestLoadFromFile_DefaultsPreserved(t *testing.T) {
	// Partial config should preserve defaults for unset fields
	content := `
server:
  port: 3000
`
	tmpDir := t.TempDir()
	cfgPath := filepath.Join(tmpDir, "embedbatch.yaml")
	if err := os.WriteFile(cfgPath, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}

	cfg, err := LoadFromFile(cfgPath)
	if err != nil {
		t.Fatalf("LoadFromFile failed: %v", err)
	}

	if cfg.Server.Port != 3000 {
		t.Errorf("expected port 3000, got %d", cfg.Server.Port)
	}
	// Defaults should be preserved for unset fields
	if cfg.Engine.MaxBatchSize != 32 {
		t.Errorf("expected default max_batch_size 32, got %d", cfg.Engine.MaxBatchSize)
	}
	if cfg.Embedding.Model != "text-embedding-3-small" {
		t.Errorf("expected default model, got %s", cfg.Embedding.Model)
	}
}

func TestGenerateTemplate(t *testing.T) {
	tmpl := GenerateTemplate()

	required := []string{
		"server:", "port:", "host:",
		"engine:", "max_wait_time_ms:", "max_batch_size:", "strict_errors:",
		"embedding:", "provider:", "model:",
		"telemetry:", "tracing:",
	}

	for _, s := range required {
		if !strings.Contains(tmpl, s) {
			t.Errorf("template missing %q", s)
		}
	}
}

func TestLoadEngineEnv(t *testing.T) {
	t.Setenv("MAX_WAIT_TIME", "50")
	t.Setenv("MAX_BATCH_SIZE", "32")

	env, err := LoadEngineEnv()
	if err != nil {
		t.Fatalf("LoadEngineEnv failed: %v", err)
	}
	if env.MaxWaitTimeMs != 50 {
		t.Errorf("expected max wait time 50, got %d", env.MaxWaitTimeMs)
	}
	if env.MaxBatchSize != 32 {
		t.Errorf("expected max batch size 32, got %d", env.MaxBatchSize)
	}
}

func TestLoadEngineEnv_Missing(t *testing.T) {
	t.Setenv("MAX_WAIT_TIME", "")
	os.Unsetenv("MAX_WAIT_TIME")
	os.Unsetenv("MAX_BATCH_SIZE")

	if _, err := LoadEngineEnv(); err == nil {
		t.Error("expected error when MAX_WAIT_TIME is missing")
	}
}

func TestLoadEngineEnv_Unparseable(t *testing.T) {
	t.Setenv("MAX_WAIT_TIME", "not-a-number")
	t.Setenv("MAX_BATCH_SIZE", "32")

	if _, err := LoadEngineEnv(); err == nil {
		t.Error("expected error for unparseable MAX_WAIT_TIME")
	}
}

func TestLoadEngineEnv_InvalidBatchSize(t *testing.T) {
	t.Setenv("MAX_WAIT_TIME", "50")
	t.Setenv("MAX_BATCH_SIZE", "0")

	if _, err := LoadEngineEnv(); err == nil {
		t.Error("expected error for MAX_BATCH_SIZE < 1")
	}
}
