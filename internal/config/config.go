// Package config loads service configuration from the environment.
package config

import (
	"os"
	"strconv"
	"strings"
)

// Configuration holds all service settings.
type Configuration struct {
	Service       ServiceConfig
	Auth          AuthConfig
	STT           STTConfig
	Transcode     TranscodeConfig
	Postgres      PostgresConfig
	Kafka         KafkaConfig
	Observability ObservabilityConfig
}

// ServiceConfig holds service identity and listener settings.
type ServiceConfig struct {
	Principal string
	HTTPPort  string
}

// AuthConfig holds token verification settings.
type AuthConfig struct {
	TokenSecret string
}

// STTConfig selects and tunes the transcription vendor.
type STTConfig struct {
	Vendor          string // assemblyai, google, mock
	TargetRateHz    int
	FrameDurationMs int
	LanguageCode    string
	AssemblyAIKey   string
	AssemblyAIURL   string
}

// TranscodeConfig holds decode pipeline settings.
type TranscodeConfig struct {
	FFmpegPath string
}

// PostgresConfig holds segment store settings.
type PostgresConfig struct {
	Enabled bool
	URL     string
}

// KafkaConfig holds event publisher settings.
type KafkaConfig struct {
	Enabled           bool
	Brokers           []string
	TopicFinal        string
	TopicArchive      string
	Principal         string
	ArchiveCollection string
}

// ObservabilityConfig holds logging settings.
type ObservabilityConfig struct {
	LogLevel string
}

// Load reads configuration from environment variables, applying defaults
// for anything unset.
func Load() *Configuration {
	principal := envOrDefault("SERVICE_PRINCIPAL", "svc-voice-relay")

	return &Configuration{
		Service: ServiceConfig{
			Principal: principal,
			HTTPPort:  envOrDefault("HTTP_PORT", "8080"),
		},
		Auth: AuthConfig{
			TokenSecret: os.Getenv("TOKEN_SECRET"),
		},
		STT: STTConfig{
			Vendor:          envOrDefault("STT_VENDOR", "assemblyai"),
			TargetRateHz:    envOrDefaultInt("STT_TARGET_RATE_HZ", 16000),
			FrameDurationMs: envOrDefaultInt("STT_FRAME_DURATION_MS", 20),
			LanguageCode:    envOrDefault("STT_LANGUAGE_CODE", "en-US"),
			AssemblyAIKey:   os.Getenv("ASSEMBLYAI_API_KEY"),
			AssemblyAIURL:   os.Getenv("ASSEMBLYAI_WS_URL"),
		},
		Transcode: TranscodeConfig{
			FFmpegPath: envOrDefault("FFMPEG_PATH", "ffmpeg"),
		},
		Postgres: PostgresConfig{
			Enabled: envOrDefaultBool("POSTGRES_ENABLED", false),
			URL:     os.Getenv("POSTGRES_URL"),
		},
		Kafka: KafkaConfig{
			Enabled:           envOrDefaultBool("KAFKA_ENABLED", false),
			Brokers:           envOrDefaultList("KAFKA_BROKERS", nil),
			TopicFinal:        envOrDefault("KAFKA_TOPIC_FINAL", "relay.transcript.final"),
			TopicArchive:      envOrDefault("KAFKA_TOPIC_ARCHIVE", "relay.transcript.archive"),
			Principal:         envOrDefault("KAFKA_PRINCIPAL", principal),
			ArchiveCollection: envOrDefault("KAFKA_ARCHIVE_COLLECTION", "conversations"),
		},
		Observability: ObservabilityConfig{
			LogLevel: envOrDefault("LOG_LEVEL", "info"),
		},
	}
}

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envOrDefaultInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func envOrDefaultBool(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(strings.ToLower(v))
	if err != nil {
		return def
	}
	return b
}

func envOrDefaultList(key string, def []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
