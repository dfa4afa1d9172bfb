package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Supported streaming providers
const (
	ProviderSoniox   = "soniox"
	ProviderDeepgram = "deepgram"
)

// Config holds all configuration for the caption gateway service
type Config struct {
	// Server configuration
	Port string `envconfig:"PORT" default:"4350"`

	// Storage: one run directory per process under RootDir
	RootDir    string `envconfig:"ROOT_DIR" default:"./storage"`
	CourseName string `envconfig:"COURSE_NAME" default:"course-default"`
	SaveAudio  bool   `envconfig:"SAVE_AUDIO" default:"true"`
	// Pending chunk writes before new chunks are dropped
	AudioQueueSize int `envconfig:"AUDIO_QUEUE_SIZE" default:"256"`

	// Language / translation
	DoTranslate    bool     `envconfig:"DO_TRANSLATE" default:"true"`
	TargetLanguage string   `envconfig:"TARGET_LANGUAGE" default:"zh"`
	LanguageHints  []string `envconfig:"LANGUAGE_HINTS" default:"ja"`
	// Language of the source caption pane. Empty means the first language hint.
	SourceLanguageOverride string `envconfig:"SOURCE_LANGUAGE" default:""`

	// Streaming provider selection
	STTProvider string `envconfig:"STT_PROVIDER" default:"soniox"` // soniox, deepgram

	// Soniox API configuration
	SonioxAPIKey string `envconfig:"SONIOX_API_KEY" default:""`
	SonioxWSURL  string `envconfig:"SONIOX_WS_URL" default:"wss://stt-rt.soniox.com/transcribe-websocket"`
	SonioxAPIURL string `envconfig:"SONIOX_API_URL" default:"https://api.soniox.com"`
	Model        string `envconfig:"MODEL" default:"stt-rt-preview"`
	AsyncModel   string `envconfig:"ASYNC_MODEL" default:"stt-async-preview"`

	// Deepgram API configuration (STT_PROVIDER=deepgram)
	DeepgramAPIKey string `envconfig:"DEEPGRAM_API_KEY" default:""`
	DeepgramModel  string `envconfig:"DEEPGRAM_MODEL" default:"nova-2"`

	// Segment finalization
	EnableEndpointDetection bool `envconfig:"ENABLE_ENDPOINT_DETECTION" default:"true"`
	SilenceFinalizeMs       int  `envconfig:"SILENCE_FINALIZE_MS" default:"2000"`
	MaxSegmentSec           int  `envconfig:"MAX_SEGMENT_SEC" default:"10"` // 0 disables
	FinalizeTickMs          int  `envconfig:"FINALIZE_TICK_MS" default:"500"`
	EmitEmptySegments       bool `envconfig:"EMIT_EMPTY_SEGMENTS" default:"false"`

	// Async (upload) transcription jobs
	JobPollIntervalMs int   `envconfig:"JOB_POLL_INTERVAL_MS" default:"2000"`
	JobProgressStep   int   `envconfig:"JOB_PROGRESS_STEP" default:"5"`
	JobMaxWaitSec     int   `envconfig:"JOB_MAX_WAIT_SEC" default:"1800"`
	MaxUploadMB       int64 `envconfig:"MAX_UPLOAD_MB" default:"200"`

	// Resilience configuration
	CircuitBreakerMaxFailures  int `envconfig:"CIRCUIT_BREAKER_MAX_FAILURES" default:"5"`   // Failures before opening circuit
	CircuitBreakerResetTimeout int `envconfig:"CIRCUIT_BREAKER_RESET_TIMEOUT" default:"30"` // Seconds before attempting recovery
	RetryMaxAttempts           int `envconfig:"RETRY_MAX_ATTEMPTS" default:"3"`             // Dial attempts per upstream connect
	RetryInitialBackoff        int `envconfig:"RETRY_INITIAL_BACKOFF" default:"100"`        // Initial backoff in milliseconds
	ReconnectMaxAttempts       int `envconfig:"RECONNECT_MAX_ATTEMPTS" default:"3"`         // Upstream reconnects after a provider drop
	ReconnectBackoff           int `envconfig:"RECONNECT_BACKOFF" default:"1000"`           // Reconnection backoff in milliseconds

	// Observability configuration
	LogLevel       string `envconfig:"LOG_LEVEL" default:"info"`       // Log level: debug, info, warn, error
	LogPretty      bool   `envconfig:"LOG_PRETTY" default:"false"`     // Pretty print logs (for development)
	MetricsEnabled bool   `envconfig:"METRICS_ENABLED" default:"true"` // Enable Prometheus metrics
	GRPCHealthPort string `envconfig:"GRPC_HEALTH_PORT" default:""`    // gRPC health service, disabled when empty
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

// Validate checks provider credentials and numeric bounds
func (c *Config) Validate() error {
	c.STTProvider = strings.ToLower(strings.TrimSpace(c.STTProvider))
	switch c.STTProvider {
	case ProviderSoniox:
		if c.SonioxAPIKey == "" {
			return fmt.Errorf("SONIOX_API_KEY is required")
		}
	case ProviderDeepgram:
		if c.DeepgramAPIKey == "" {
			return fmt.Errorf("DEEPGRAM_API_KEY is required")
		}
	default:
		return fmt.Errorf("unsupported STT_PROVIDER %q", c.STTProvider)
	}

	if c.SilenceFinalizeMs <= 0 {
		return fmt.Errorf("SILENCE_FINALIZE_MS must be positive")
	}
	if c.FinalizeTickMs <= 0 {
		return fmt.Errorf("FINALIZE_TICK_MS must be positive")
	}
	if c.MaxSegmentSec < 0 {
		return fmt.Errorf("MAX_SEGMENT_SEC must not be negative")
	}
	if c.JobPollIntervalMs <= 0 {
		return fmt.Errorf("JOB_POLL_INTERVAL_MS must be positive")
	}

	hints := c.LanguageHints[:0]
	for _, h := range c.LanguageHints {
		if h = strings.TrimSpace(h); h != "" {
			hints = append(hints, h)
		}
	}
	c.LanguageHints = hints
	return nil
}

// SourceLanguage is the language code routed to the source caption buffer
func (c *Config) SourceLanguage() string {
	if c.SourceLanguageOverride != "" {
		return c.SourceLanguageOverride
	}
	if len(c.LanguageHints) > 0 {
		return c.LanguageHints[0]
	}
	return ""
}

// TranslationTarget returns the target language, or "" when translation is off
func (c *Config) TranslationTarget() string {
	if !c.DoTranslate {
		return ""
	}
	return c.TargetLanguage
}

func (c *Config) SilenceThreshold() time.Duration {
	return time.Duration(c.SilenceFinalizeMs) * time.Millisecond
}

func (c *Config) MaxSegmentDuration() time.Duration {
	return time.Duration(c.MaxSegmentSec) * time.Second
}

func (c *Config) FinalizeTick() time.Duration {
	return time.Duration(c.FinalizeTickMs) * time.Millisecond
}

func (c *Config) JobPollInterval() time.Duration {
	return time.Duration(c.JobPollIntervalMs) * time.Millisecond
}

func (c *Config) JobMaxWait() time.Duration {
	return time.Duration(c.JobMaxWaitSec) * time.Second
}
