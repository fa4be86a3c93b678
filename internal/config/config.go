// Package config loads service configuration from the environment.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// STT providers.
const (
	ProviderRealtime = "realtime"
	ProviderGoogle   = "google"
	ProviderMock     = "mock"
)

// Config holds all service configuration.
type Config struct {
	Service       ServiceConfig
	STT           STTConfig
	Relay         RelayConfig
	Kafka         KafkaConfig
	Observability ObservabilityConfig
}

// ServiceConfig holds service-level settings.
type ServiceConfig struct {
	Principal       string
	HTTPPort        string
	GRPCPort        string
	ASRPath         string
	FrameworkURL    string // non-ASR traffic is proxied here when set
	ShutdownTimeout time.Duration
}

// STTConfig holds upstream recognition settings.
type STTConfig struct {
	Provider string // realtime, google, or mock

	// Realtime endpoint
	URL              string
	APIKey           string
	Model            string
	Language         string
	SampleRateHz     int
	AudioFormat      string
	Transport        string // base64 or binary
	ServerVAD        bool // false leaves turn segmentation to commits
	VADThreshold     float64
	VADSilenceMs     int
	HandshakeTimeout time.Duration

	// Google Speech-to-Text
	GoogleCredentialsFile string
	GoogleLanguageCode    string
	GoogleAudioEncoding   string
	GoogleInterimResults  bool
}

// RelayConfig holds per-session relay settings.
type RelayConfig struct {
	StopGrace        time.Duration
	DisconnectGrace  time.Duration
	MaxBufferedBytes int
	WriteTimeout     time.Duration
	ReadLimit        int64
	PingInterval     time.Duration
	AllowedOrigins   []string // empty allows any origin
}

// KafkaConfig holds Kafka publisher settings.
type KafkaConfig struct {
	Enabled      bool
	Brokers      []string
	TopicPartial string
	TopicFinal   string
	Principal    string
}

// ObservabilityConfig holds logging and metrics settings.
type ObservabilityConfig struct {
	LogLevel    string
	LogFormat   string
	MetricsAddr string
}

// Load reads configuration from environment variables. Invalid values fall
// back to defaults.
func Load() *Config {
	principal := envOrDefault("SERVICE_PRINCIPAL", "svc-asr-relay")

	return &Config{
		Service: ServiceConfig{
			Principal:       principal,
			HTTPPort:        envOrDefault("HTTP_PORT", "8080"),
			GRPCPort:        envOrDefault("GRPC_PORT", "50051"),
			ASRPath:         envOrDefault("ASR_PATH", "/ws/asr"),
			FrameworkURL:    os.Getenv("FRAMEWORK_URL"),
			ShutdownTimeout: envOrDefaultDuration("SHUTDOWN_TIMEOUT", 15*time.Second),
		},
		STT: STTConfig{
			Provider:         strings.ToLower(envOrDefault("STT_PROVIDER", ProviderRealtime)),
			URL:              envOrDefault("ASR_URL", "wss://dashscope.aliyuncs.com/api-ws/v1/realtime"),
			APIKey:           envOrDefault("ASR_API_KEY", os.Getenv("DASHSCOPE_API_KEY")),
			Model:            envOrDefault("ASR_MODEL", "qwen3-asr-flash-realtime"),
			Language:         envOrDefault("ASR_LANGUAGE", "zh"),
			SampleRateHz:     envOrDefaultInt("ASR_SAMPLE_RATE", 16000),
			AudioFormat:      envOrDefault("ASR_AUDIO_FORMAT", "pcm"),
			Transport:        envOrDefault("ASR_TRANSPORT", "base64"),
			ServerVAD:        envOrDefaultBool("ASR_SERVER_VAD", true),
			VADThreshold:     envOrDefaultFloat("ASR_VAD_THRESHOLD", 0.2),
			VADSilenceMs:     envOrDefaultInt("ASR_VAD_SILENCE_MS", 800),
			HandshakeTimeout: envOrDefaultDuration("ASR_HANDSHAKE_TIMEOUT", 10*time.Second),

			GoogleCredentialsFile: envOrDefault("STT_GOOGLE_CREDENTIALS_FILE", os.Getenv("GOOGLE_APPLICATION_CREDENTIALS")),
			GoogleLanguageCode:    envOrDefault("STT_LANGUAGE_CODE", "zh-CN"),
			GoogleAudioEncoding:   envOrDefault("STT_AUDIO_ENCODING", "LINEAR16"),
			GoogleInterimResults:  envOrDefaultBool("STT_INTERIM_RESULTS", true),
		},
		Relay: RelayConfig{
			StopGrace:        envOrDefaultDuration("RELAY_STOP_GRACE", 2*time.Second),
			DisconnectGrace:  envOrDefaultDuration("RELAY_DISCONNECT_GRACE", time.Second),
			MaxBufferedBytes: envOrDefaultInt("RELAY_MAX_BUFFERED_BYTES", 5*1024*1024),
			WriteTimeout:     envOrDefaultDuration("RELAY_WRITE_TIMEOUT", 5*time.Second),
			ReadLimit:        int64(envOrDefaultInt("RELAY_READ_LIMIT", 1024*1024)),
			PingInterval:     envOrDefaultDuration("RELAY_PING_INTERVAL", 30*time.Second),
			AllowedOrigins:   envOrDefaultList("RELAY_ALLOWED_ORIGINS", nil),
		},
		Kafka: KafkaConfig{
			Enabled:      envOrDefaultBool("KAFKA_ENABLED", false),
			Brokers:      envOrDefaultList("KAFKA_BROKERS", nil),
			TopicPartial: envOrDefault("KAFKA_TOPIC_PARTIAL", "asr.transcript.partial"),
			TopicFinal:   envOrDefault("KAFKA_TOPIC_FINAL", "asr.transcript.final"),
			Principal:    envOrDefault("KAFKA_PRINCIPAL", principal),
		},
		Observability: ObservabilityConfig{
			LogLevel:    envOrDefault("LOG_LEVEL", "info"),
			LogFormat:   envOrDefault("LOG_FORMAT", "json"),
			MetricsAddr: envOrDefault("METRICS_ADDR", ":9090"),
		},
	}
}

// HasCredential reports whether the configured provider has what it needs
// to authenticate upstream. Sessions are rejected without one.
func (c STTConfig) HasCredential() bool {
	switch c.Provider {
	case ProviderRealtime:
		return strings.TrimSpace(c.APIKey) != ""
	case ProviderGoogle:
		return strings.TrimSpace(c.GoogleCredentialsFile) != ""
	case ProviderMock:
		return true
	default:
		return false
	}
}

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envOrDefaultInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func envOrDefaultFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func envOrDefaultBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}

func envOrDefaultDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func envOrDefaultList(key string, def []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return def
	}
	return out
}
