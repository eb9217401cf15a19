package config

import (
	"fmt"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Upstream providers
const (
	UpstreamWebSocket = "websocket"
	UpstreamDeepgram  = "deepgram"
)

// Translator providers
const (
	TranslatorNone   = "none"
	TranslatorOpenAI = "openai"
	TranslatorGemini = "gemini"
)

// Config holds all configuration for the caption relay
type Config struct {
	// Server configuration
	Port           string `envconfig:"PORT" default:"8080"`
	GRPCHealthPort string `envconfig:"GRPC_HEALTH_PORT" default:"9090"`

	// Upstream streaming recognition service
	UpstreamProvider string `envconfig:"UPSTREAM_PROVIDER" default:"websocket"` // websocket, deepgram
	UpstreamURL      string `envconfig:"UPSTREAM_URL" default:""`                // wss:// endpoint for the websocket provider
	UpstreamAPIKey   string `envconfig:"UPSTREAM_API_KEY" required:"true"`
	DeepgramModel    string `envconfig:"DEEPGRAM_MODEL" default:"nova-2"`

	// Session pool
	PoolSize             int `envconfig:"POOL_SIZE" default:"3"`
	PoolQueueDepth       int `envconfig:"POOL_QUEUE_DEPTH" default:"8"`
	PoolHandshakeTimeout int `envconfig:"POOL_HANDSHAKE_TIMEOUT" default:"5000"` // milliseconds
	PoolReorderHold      int `envconfig:"POOL_REORDER_HOLD" default:"3000"`      // milliseconds
	PoolChunkTimeout     int `envconfig:"POOL_CHUNK_TIMEOUT" default:"15000"`    // milliseconds
	PoolFrameBytes       int `envconfig:"POOL_FRAME_BYTES" default:"3200"`       // 100ms of 16kHz s16le

	// Worker reconnection
	ReconnectMaxAttempts int `envconfig:"RECONNECT_MAX_ATTEMPTS" default:"5"`
	ReconnectBackoff     int `envconfig:"RECONNECT_BACKOFF" default:"1000"`      // milliseconds
	ReconnectMaxBackoff  int `envconfig:"RECONNECT_MAX_BACKOFF" default:"30000"` // milliseconds
	QuotaRetryLimit      int `envconfig:"QUOTA_RETRY_LIMIT" default:"3"`         // quota/auth failures before a worker is declared dead

	// Translation
	TranslatorProvider   string `envconfig:"TRANSLATOR_PROVIDER" default:"none"` // none, openai, gemini
	OpenAIAPIKey         string `envconfig:"OPENAI_API_KEY" default:""`
	OpenAIModel          string `envconfig:"OPENAI_MODEL" default:"gpt-4o-mini"`
	GeminiAPIKey         string `envconfig:"GEMINI_API_KEY" default:""`
	GeminiModel          string `envconfig:"GEMINI_MODEL" default:"gemini-1.5-flash"`
	TranslateTimeout     int    `envconfig:"TRANSLATE_TIMEOUT" default:"10"` // seconds
	TranslateMaxInflight int    `envconfig:"TRANSLATE_MAX_INFLIGHT" default:"4"`

	// Resilience configuration
	RetryMaxAttempts           int `envconfig:"RETRY_MAX_ATTEMPTS" default:"3"`
	RetryInitialBackoff        int `envconfig:"RETRY_INITIAL_BACKOFF" default:"100"`        // milliseconds
	CircuitBreakerMaxFailures  int `envconfig:"CIRCUIT_BREAKER_MAX_FAILURES" default:"5"`   // failures before opening circuit
	CircuitBreakerResetTimeout int `envconfig:"CIRCUIT_BREAKER_RESET_TIMEOUT" default:"30"` // seconds before probing

	// Audio segmentation
	AudioSampleRate    int     `envconfig:"AUDIO_SAMPLE_RATE" default:"16000"`
	VADEnergyThreshold float64 `envconfig:"VAD_ENERGY_THRESHOLD" default:"500.0"` // RMS energy threshold
	VADSilenceFrames   int     `envconfig:"VAD_SILENCE_FRAMES" default:"15"`      // 20ms frames of silence that end speech
	SegmentMinMs       int     `envconfig:"SEGMENT_MIN_MS" default:"1000"`
	SegmentMaxMs       int     `envconfig:"SEGMENT_MAX_MS" default:"8000"`
	SegmentOverlapMs   int     `envconfig:"SEGMENT_OVERLAP_MS" default:"500"`
	SegmentIdleMs      int     `envconfig:"SEGMENT_IDLE_MS" default:"1500"`

	// Live captions and fanout
	LiveMaxChars       int `envconfig:"LIVE_MAX_CHARS" default:"160"`
	LiveMaxAgeMs       int `envconfig:"LIVE_MAX_AGE_MS" default:"5000"`
	ListenerSendBuffer int `envconfig:"LISTENER_SEND_BUFFER" default:"64"`
	StatsInterval      int `envconfig:"STATS_INTERVAL" default:"5"` // seconds

	// Observability configuration
	LogLevel       string `envconfig:"LOG_LEVEL" default:"info"`       // debug, info, warn, error
	LogPretty      bool   `envconfig:"LOG_PRETTY" default:"false"`     // pretty print logs (for development)
	MetricsEnabled bool   `envconfig:"METRICS_ENABLED" default:"true"` // expose /metrics
}

// Load reads configuration from environment variables
// It first attempts to load from .env file if it exists, then from environment
func Load() (*Config, error) {
	// Try to load .env file (ignore error if it doesn't exist)
	_ = godotenv.Load()
	return LoadFromEnv()
}

// LoadFromEnv loads configuration directly from environment variables
// without attempting to load .env file (useful for containerized deployments)
func LoadFromEnv() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks cross-field constraints envconfig cannot express.
func (c *Config) Validate() error {
	if c.UpstreamAPIKey == "" {
		return fmt.Errorf("UPSTREAM_API_KEY is required")
	}

	switch c.UpstreamProvider {
	case UpstreamWebSocket:
		if c.UpstreamURL == "" {
			return fmt.Errorf("UPSTREAM_URL is required for the websocket provider")
		}
	case UpstreamDeepgram:
	default:
		return fmt.Errorf("unknown UPSTREAM_PROVIDER %q", c.UpstreamProvider)
	}

	switch c.TranslatorProvider {
	case TranslatorNone:
	case TranslatorOpenAI:
		if c.OpenAIAPIKey == "" {
			return fmt.Errorf("OPENAI_API_KEY is required for the openai translator")
		}
	case TranslatorGemini:
		if c.GeminiAPIKey == "" {
			return fmt.Errorf("GEMINI_API_KEY is required for the gemini translator")
		}
	default:
		return fmt.Errorf("unknown TRANSLATOR_PROVIDER %q", c.TranslatorProvider)
	}

	if c.PoolSize < 1 {
		return fmt.Errorf("POOL_SIZE must be at least 1, got %d", c.PoolSize)
	}
	if c.PoolQueueDepth < 1 {
		return fmt.Errorf("POOL_QUEUE_DEPTH must be at least 1, got %d", c.PoolQueueDepth)
	}
	if c.PoolFrameBytes < 2 || c.PoolFrameBytes%2 != 0 {
		return fmt.Errorf("POOL_FRAME_BYTES must be a positive even number, got %d", c.PoolFrameBytes)
	}
	if c.SegmentMaxMs < c.SegmentMinMs {
		return fmt.Errorf("SEGMENT_MAX_MS (%d) must not be below SEGMENT_MIN_MS (%d)", c.SegmentMaxMs, c.SegmentMinMs)
	}
	if c.SegmentOverlapMs >= c.SegmentMinMs {
		return fmt.Errorf("SEGMENT_OVERLAP_MS (%d) must be below SEGMENT_MIN_MS (%d)", c.SegmentOverlapMs, c.SegmentMinMs)
	}
	if c.TranslateMaxInflight < 1 {
		c.TranslateMaxInflight = 1
	}
	return nil
}

// Millis converts a millisecond config value to a duration.
func Millis(ms int) time.Duration {
	return time.Duration(ms) * time.Millisecond
}

// Seconds converts a second config value to a duration.
func Seconds(s int) time.Duration {
	return time.Duration(s) * time.Second
}
