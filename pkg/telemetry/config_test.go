// ABOUTME: Tests for telemetry configuration defaults, environment overrides, and validation
// ABOUTME: Uses t.Setenv so overrides never leak between tests

package telemetry

import (
	"strings"
	"testing"
	"time"
)

func TestDefaultConfigIsValid(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
	if cfg.Enabled {
		t.Errorf("telemetry should be disabled by default")
	}
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("PREVTERM_TELEMETRY_SERVICE_NAME", "prevterm-test")
	t.Setenv("PREVTERM_TELEMETRY_ENABLED", "true")
	t.Setenv("PREVTERM_TELEMETRY_EXPORTERS", "stdout, otlp")
	t.Setenv("PREVTERM_TELEMETRY_SAMPLE_RATE", "0.25")
	t.Setenv("PREVTERM_TELEMETRY_OTLP_ENDPOINT", "collector:4317")
	t.Setenv("PREVTERM_TELEMETRY_BATCH_TIMEOUT", "250ms")
	t.Setenv("PREVTERM_TELEMETRY_EXPORT_TIMEOUT", "not-a-duration")

	cfg := DefaultConfig()
	cfg.LoadFromEnv()

	if cfg.ServiceName != "prevterm-test" || !cfg.Enabled {
		t.Errorf("service name/enabled not loaded: %+v", cfg)
	}
	if len(cfg.Exporters) != 2 || cfg.Exporters[1] != "otlp" {
		t.Errorf("exporters = %v", cfg.Exporters)
	}
	if cfg.SampleRate != 0.25 || cfg.OTLPEndpoint != "collector:4317" {
		t.Errorf("sample rate/endpoint not loaded: %+v", cfg)
	}
	if cfg.BatchTimeout != 250*time.Millisecond {
		t.Errorf("batch timeout = %s", cfg.BatchTimeout)
	}
	if cfg.ExportTimeout != DefaultConfig().ExportTimeout {
		t.Errorf("malformed export timeout should be ignored, got %s", cfg.ExportTimeout)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"empty service", func(c *Config) { c.ServiceName = "" }, "service_name"},
		{"sample rate", func(c *Config) { c.SampleRate = 1.5 }, "sample_rate"},
		{"batch timeout", func(c *Config) { c.BatchTimeout = 0 }, "batch_timeout"},
		{"queue", func(c *Config) { c.MaxQueueSize = 0 }, "max_queue_size"},
		{"batch size", func(c *Config) { c.MaxExportBatchSize = c.MaxQueueSize + 1 }, "max_export_batch_size"},
		{"exporter", func(c *Config) { c.Exporters = []string{"jaeger"} }, "invalid exporter"},
		{"otlp endpoint", func(c *Config) { c.Exporters = []string{"otlp"}; c.OTLPEndpoint = "" }, "otlp_endpoint"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() = %v, want error containing %q", err, tt.wantErr)
			}
		})
	}
}
