// Package config loads service configuration from the environment.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all service configuration.
type Config struct {
	Service       ServiceConfig
	Dictation     DictationConfig
	Extraction    ExtractionConfig
	Catalog       CatalogConfig
	Resolution    ResolutionConfig
	Kafka         KafkaConfig
	Observability ObservabilityConfig
}

// ServiceConfig holds service identity and listener ports.
type ServiceConfig struct {
	Principal string
	HTTPPort  string
	GRPCPort  string
}

// DictationConfig holds speech capture settings.
type DictationConfig struct {
	Provider       string // "mock" or "google"
	LanguageCode   string
	SampleRateHz   int
	AudioEncoding  string
	InterimResults bool
	MaxRetries     int
	RestartDelay   time.Duration
	MaxAudioBytes  int64
	MaxDuration    time.Duration
	BufferFrames   int
}

// ExtractionConfig selects and configures the draft extraction backend.
type ExtractionConfig struct {
	Provider      string // "http", "openai" or "rules"
	URL           string
	Token         string
	Timeout       time.Duration
	OpenAIKey     string
	OpenAIBaseURL string
	OpenAIModel   string
}

// CatalogConfig selects the catalog source.
type CatalogConfig struct {
	Source            string // "file" or "http"
	Path              string
	BaseURL           string
	Token             string
	PageSize          int
	Timeout           time.Duration
	RefreshInterval   time.Duration
	PhoneticThreshold float64
	FuzzyThreshold    float64
}

// ResolutionConfig holds entity resolution policy.
type ResolutionConfig struct {
	AutoAdoptThreshold int
}

// KafkaConfig holds event publishing settings.
type KafkaConfig struct {
	Enabled          bool
	Brokers          []string
	TopicTranscripts string
	TopicDrafts      string
	TopicInvoices    string
	Principal        string
}

// ObservabilityConfig holds logging and metrics settings.
type ObservabilityConfig struct {
	LogLevel    string
	LogFormat   string
	MetricsAddr string
}

// Load reads configuration from the environment. Invalid values fall back
// to their defaults.
func Load() *Config {
	principal := envOrDefault("SERVICE_PRINCIPAL", "svc-voice-invoice")

	return &Config{
		Service: ServiceConfig{
			Principal: principal,
			HTTPPort:  envOrDefault("HTTP_PORT", "8080"),
			GRPCPort:  envOrDefault("GRPC_PORT", "50051"),
		},
		Dictation: DictationConfig{
			Provider:       envOrDefault("STT_PROVIDER", "mock"),
			LanguageCode:   envOrDefault("STT_LANGUAGE_CODE", "en-IN"),
			SampleRateHz:   envOrDefaultInt("STT_SAMPLE_RATE_HZ", 16000),
			AudioEncoding:  envOrDefault("STT_AUDIO_ENCODING", "LINEAR16"),
			InterimResults: envOrDefaultBool("STT_INTERIM_RESULTS", true),
			MaxRetries:     envOrDefaultInt("DICTATION_MAX_RETRIES", 3),
			RestartDelay:   envOrDefaultDuration("DICTATION_RESTART_DELAY", 100*time.Millisecond),
			MaxAudioBytes:  int64(envOrDefaultInt("DICTATION_MAX_AUDIO_BYTES", 10*1024*1024)),
			MaxDuration:    envOrDefaultDuration("DICTATION_MAX_DURATION", 5*time.Minute),
			BufferFrames:   envOrDefaultInt("DICTATION_BUFFER_FRAMES", 64),
		},
		Extraction: ExtractionConfig{
			Provider:      envOrDefault("EXTRACTION_PROVIDER", "rules"),
			URL:           envOrDefault("EXTRACTION_URL", "http://localhost:3000/api/invoices/voice-draft"),
			Token:         os.Getenv("EXTRACTION_TOKEN"),
			Timeout:       envOrDefaultDuration("EXTRACTION_TIMEOUT", 30*time.Second),
			OpenAIKey:     os.Getenv("OPENAI_API_KEY"),
			OpenAIBaseURL: os.Getenv("OPENAI_BASE_URL"),
			OpenAIModel:   envOrDefault("OPENAI_MODEL", "gpt-4o-mini"),
		},
		Catalog: CatalogConfig{
			Source:            envOrDefault("CATALOG_SOURCE", "file"),
			Path:              envOrDefault("CATALOG_PATH", "catalog.yaml"),
			BaseURL:           os.Getenv("CATALOG_BASE_URL"),
			Token:             os.Getenv("CATALOG_TOKEN"),
			PageSize:          envOrDefaultInt("CATALOG_PAGE_SIZE", 100),
			Timeout:           envOrDefaultDuration("CATALOG_TIMEOUT", 10*time.Second),
			RefreshInterval:   envOrDefaultDuration("CATALOG_REFRESH_INTERVAL", 5*time.Minute),
			PhoneticThreshold: envOrDefaultFloat("CATALOG_PHONETIC_THRESHOLD", 0.85),
			FuzzyThreshold:    envOrDefaultFloat("CATALOG_FUZZY_THRESHOLD", 0.90),
		},
		Resolution: ResolutionConfig{
			AutoAdoptThreshold: envOrDefaultInt("RESOLUTION_AUTO_ADOPT_THRESHOLD", 1),
		},
		Kafka: KafkaConfig{
			Enabled:          envOrDefaultBool("KAFKA_ENABLED", false),
			Brokers:          envOrDefaultList("KAFKA_BROKERS", []string{"localhost:9092"}),
			TopicTranscripts: envOrDefault("KAFKA_TOPIC_TRANSCRIPTS", "invoice.dictation.transcripts"),
			TopicDrafts:      envOrDefault("KAFKA_TOPIC_DRAFTS", "invoice.drafts"),
			TopicInvoices:    envOrDefault("KAFKA_TOPIC_INVOICES", "invoice.finalized"),
			Principal:        envOrDefault("KAFKA_PRINCIPAL", principal),
		},
		Observability: ObservabilityConfig{
			LogLevel:    envOrDefault("LOG_LEVEL", "info"),
			LogFormat:   envOrDefault("LOG_FORMAT", "json"),
			MetricsAddr: envOrDefault("METRICS_ADDR", ":9090"),
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

// envOrDefaultList splits a comma-separated value, dropping empty entries.
func envOrDefaultList(key string, def []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	var out []string
	for _, s := range strings.Split(v, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	if len(out) == 0 {
		return def
	}
	return out
}
