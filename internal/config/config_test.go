package config

import (
	"os"
	"testing"
	"time"
)

func setRequired(t *testing.T) {
	t.Helper()
	t.Setenv("UPSTREAM_API_KEY", "test-upstream-key")
	t.Setenv("UPSTREAM_URL", "wss://stt.example.test/v1/stream")
}

func TestLoad(t *testing.T) {
	setRequired(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}

	if cfg.UpstreamAPIKey != "test-upstream-key" {
		t.Errorf("Expected UpstreamAPIKey 'test-upstream-key', got '%s'", cfg.UpstreamAPIKey)
	}
	if cfg.UpstreamURL != "wss://stt.example.test/v1/stream" {
		t.Errorf("Expected UpstreamURL to be read, got '%s'", cfg.UpstreamURL)
	}
}

func TestLoad_MissingRequired(t *testing.T) {
	os.Unsetenv("UPSTREAM_API_KEY")

	_, err := LoadFromEnv()
	if err == nil {
		t.Error("Expected error when UPSTREAM_API_KEY is missing")
	}
}

func TestLoad_Defaults(t *testing.T) {
	setRequired(t)

	cfg, err := LoadFromEnv()
	if err != nil {
		t.Fatalf("LoadFromEnv() failed: %v", err)
	}

	if cfg.Port != "8080" {
		t.Errorf("Expected default Port '8080', got '%s'", cfg.Port)
	}
	if cfg.GRPCHealthPort != "9090" {
		t.Errorf("Expected default GRPCHealthPort '9090', got '%s'", cfg.GRPCHealthPort)
	}
	if cfg.UpstreamProvider != UpstreamWebSocket {
		t.Errorf("Expected default UpstreamProvider 'websocket', got '%s'", cfg.UpstreamProvider)
	}
	if cfg.PoolSize != 3 {
		t.Errorf("Expected default PoolSize 3, got %d", cfg.PoolSize)
	}
	if cfg.PoolQueueDepth != 8 {
		t.Errorf("Expected default PoolQueueDepth 8, got %d", cfg.PoolQueueDepth)
	}
	if cfg.PoolReorderHold != 3000 {
		t.Errorf("Expected default PoolReorderHold 3000, got %d", cfg.PoolReorderHold)
	}
	if cfg.PoolFrameBytes != 3200 {
		t.Errorf("Expected default PoolFrameBytes 3200, got %d", cfg.PoolFrameBytes)
	}
	if cfg.TranslatorProvider != TranslatorNone {
		t.Errorf("Expected default TranslatorProvider 'none', got '%s'", cfg.TranslatorProvider)
	}
	if cfg.VADEnergyThreshold != 500.0 {
		t.Errorf("Expected default VADEnergyThreshold 500.0, got %f", cfg.VADEnergyThreshold)
	}
	if cfg.LiveMaxChars != 160 {
		t.Errorf("Expected default LiveMaxChars 160, got %d", cfg.LiveMaxChars)
	}
	if cfg.ListenerSendBuffer != 64 {
		t.Errorf("Expected default ListenerSendBuffer 64, got %d", cfg.ListenerSendBuffer)
	}
}

func TestConfig_ResilienceDefaults(t *testing.T) {
	setRequired(t)

	cfg, err := LoadFromEnv()
	if err != nil {
		t.Fatalf("LoadFromEnv() failed: %v", err)
	}

	if cfg.CircuitBreakerMaxFailures != 5 {
		t.Errorf("Expected default CircuitBreakerMaxFailures 5, got %d", cfg.CircuitBreakerMaxFailures)
	}
	if cfg.CircuitBreakerResetTimeout != 30 {
		t.Errorf("Expected default CircuitBreakerResetTimeout 30, got %d", cfg.CircuitBreakerResetTimeout)
	}
	if cfg.RetryMaxAttempts != 3 {
		t.Errorf("Expected default RetryMaxAttempts 3, got %d", cfg.RetryMaxAttempts)
	}
	if cfg.ReconnectMaxAttempts != 5 {
		t.Errorf("Expected default ReconnectMaxAttempts 5, got %d", cfg.ReconnectMaxAttempts)
	}
	if cfg.ReconnectMaxBackoff != 30000 {
		t.Errorf("Expected default ReconnectMaxBackoff 30000, got %d", cfg.ReconnectMaxBackoff)
	}
	if cfg.QuotaRetryLimit != 3 {
		t.Errorf("Expected default QuotaRetryLimit 3, got %d", cfg.QuotaRetryLimit)
	}
}

func TestConfig_ObservabilityDefaults(t *testing.T) {
	setRequired(t)
	os.Unsetenv("LOG_LEVEL")

	cfg, err := LoadFromEnv()
	if err != nil {
		t.Fatalf("LoadFromEnv() failed: %v", err)
	}

	if cfg.LogLevel != "info" {
		t.Errorf("Expected default LogLevel 'info', got '%s'", cfg.LogLevel)
	}
	if cfg.LogPretty {
		t.Error("Expected default LogPretty false, got true")
	}
	if !cfg.MetricsEnabled {
		t.Error("Expected default MetricsEnabled true, got false")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		env     map[string]string
		wantErr bool
	}{
		{"websocket without url", map[string]string{"UPSTREAM_URL": ""}, true},
		{"deepgram without url", map[string]string{"UPSTREAM_PROVIDER": "deepgram", "UPSTREAM_URL": ""}, false},
		{"unknown upstream", map[string]string{"UPSTREAM_PROVIDER": "carrier-pigeon"}, true},
		{"openai without key", map[string]string{"TRANSLATOR_PROVIDER": "openai"}, true},
		{"openai with key", map[string]string{"TRANSLATOR_PROVIDER": "openai", "OPENAI_API_KEY": "sk-test"}, false},
		{"gemini without key", map[string]string{"TRANSLATOR_PROVIDER": "gemini"}, true},
		{"unknown translator", map[string]string{"TRANSLATOR_PROVIDER": "babelfish"}, true},
		{"zero pool", map[string]string{"POOL_SIZE": "0"}, true},
		{"odd frame size", map[string]string{"POOL_FRAME_BYTES": "3201"}, true},
		{"overlap too long", map[string]string{"SEGMENT_OVERLAP_MS": "1000"}, true},
		{"max below min", map[string]string{"SEGMENT_MAX_MS": "500", "SEGMENT_OVERLAP_MS": "100"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			setRequired(t)
			for k, v := range tt.env {
				t.Setenv(k, v)
			}

			_, err := LoadFromEnv()
			if (err != nil) != tt.wantErr {
				t.Errorf("Expected error=%v, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestDurationHelpers(t *testing.T) {
	if Millis(1500) != 1500*time.Millisecond {
		t.Errorf("Expected 1.5s, got %v", Millis(1500))
	}
	if Seconds(30) != 30*time.Second {
		t.Errorf("Expected 30s, got %v", Seconds(30))
	}
}
