// Package config provides configuration for the ema-support service.
package config

import (
	"os"
	"strconv"
	"time"

	orchestration "github.com/koscakluka/ema-support/core"
)

// Config holds the service configuration.
type Config struct {
	// Server settings
	HTTPAddr string
	// PublicHost is the host Twilio reaches the media stream on.
	PublicHost string

	// Call handling thresholds
	SilenceThreshold        time.Duration
	AbandonmentTimeout      time.Duration
	KBRelevanceThreshold    float64
	MaxKBAttempts           int
	KBTimeout               time.Duration
	SessionIdleCeiling      time.Duration
	TicketRetryCount        int
	MinTranscriptConfidence float64
	SweepInterval           time.Duration
	ReplayInterval          time.Duration

	// Agent messages
	GreetingText string
	ClarifyText  string
	HandoffText  string
	FarewellText string

	// Speech
	DeepgramAPIKey string
	DeepgramVoice  string

	// Knowledge base, Postgres takes precedence over the HTTP service.
	KBDatabaseURL string
	KBServiceURL  string
	KBAPIKey      string

	// Ticketing
	TicketingURL       string
	TicketingEmail     string
	TicketingPassword  string
	TicketingRequester int
	FallbackDBPath     string

	// Summarization
	GeminiAPIKey string
	GeminiModel  string

	// Logging
	LogLevel string
}

// Load loads configuration from environment variables. Values that are not
// set keep the orchestrator defaults.
func Load() *Config {
	defaults := orchestration.DefaultConfig()
	return &Config{
		HTTPAddr:   getEnv("HTTP_ADDR", ":8080"),
		PublicHost: getEnv("PUBLIC_HOST", ""),

		SilenceThreshold:        getEnvDuration("SILENCE_THRESHOLD_MS", defaults.SilenceThreshold),
		AbandonmentTimeout:      getEnvDuration("ABANDONMENT_TIMEOUT_MS", defaults.AbandonmentTimeout),
		KBRelevanceThreshold:    getEnvFloat("KB_RELEVANCE_THRESHOLD", defaults.KBRelevanceThreshold),
		MaxKBAttempts:           getEnvInt("MAX_KB_ATTEMPTS", defaults.MaxKBAttempts),
		KBTimeout:               getEnvDuration("KB_TIMEOUT_MS", defaults.KBTimeout),
		SessionIdleCeiling:      getEnvDuration("SESSION_IDLE_CEILING_MS", defaults.SessionIdleCeiling),
		TicketRetryCount:        getEnvInt("TICKET_RETRY_COUNT", defaults.TicketRetryCount),
		MinTranscriptConfidence: getEnvFloat("MIN_TRANSCRIPT_CONFIDENCE", defaults.MinTranscriptConfidence),
		SweepInterval:           getEnvDuration("REGISTRY_SWEEP_INTERVAL_MS", defaults.SweepInterval),
		ReplayInterval:          getEnvDuration("TICKET_REPLAY_INTERVAL_MS", time.Minute),

		GreetingText: getEnv("GREETING_TEXT", defaults.Messages.Greeting),
		ClarifyText:  getEnv("CLARIFY_TEXT", defaults.Messages.Clarify),
		HandoffText:  getEnv("HANDOFF_TEXT", defaults.Messages.Handoff),
		FarewellText: getEnv("FAREWELL_TEXT", defaults.Messages.Farewell),

		DeepgramAPIKey: getEnv("DEEPGRAM_API_KEY", ""),
		DeepgramVoice:  getEnv("DEEPGRAM_VOICE", "aura-2-thalia-en"),

		KBDatabaseURL: getEnv("KB_DATABASE_URL", ""),
		KBServiceURL:  getEnv("KB_SERVICE_URL", ""),
		KBAPIKey:      getEnv("KB_API_KEY", ""),

		TicketingURL:       getEnv("TICKETING_URL", ""),
		TicketingEmail:     getEnv("TICKETING_EMAIL", ""),
		TicketingPassword:  getEnv("TICKETING_PASSWORD", ""),
		TicketingRequester: getEnvInt("TICKETING_REQUESTER_ID", 0),
		FallbackDBPath:     getEnv("FALLBACK_DB_PATH", "ticket_fallback.db"),

		GeminiAPIKey: getEnv("GEMINI_API_KEY", ""),
		GeminiModel:  getEnv("GEMINI_MODEL", ""),

		LogLevel: getEnv("LOG_LEVEL", "info"),
	}
}

// Orchestration maps the loaded values onto the orchestrator configuration.
func (c *Config) Orchestration() orchestration.Config {
	config := orchestration.DefaultConfig()
	config.SilenceThreshold = c.SilenceThreshold
	config.AbandonmentTimeout = c.AbandonmentTimeout
	config.KBRelevanceThreshold = c.KBRelevanceThreshold
	config.MaxKBAttempts = c.MaxKBAttempts
	config.KBTimeout = c.KBTimeout
	config.SessionIdleCeiling = c.SessionIdleCeiling
	config.TicketRetryCount = c.TicketRetryCount
	config.MinTranscriptConfidence = c.MinTranscriptConfidence
	config.SweepInterval = c.SweepInterval
	config.Messages.Greeting = c.GreetingText
	config.Messages.Clarify = c.ClarifyText
	config.Messages.Handoff = c.HandoffText
	config.Messages.Farewell = c.FarewellText
	return config
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if intVal, err := strconv.Atoi(val); err == nil {
			return intVal
		}
	}
	return defaultVal
}

func getEnvFloat(key string, defaultVal float64) float64 {
	if val := os.Getenv(key); val != "" {
		if floatVal, err := strconv.ParseFloat(val, 64); err == nil {
			return floatVal
		}
	}
	return defaultVal
}

// getEnvDuration reads a positive whole number of milliseconds.
func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if intVal, err := strconv.Atoi(val); err == nil && intVal > 0 {
			return time.Duration(intVal) * time.Millisecond
		}
	}
	return defaultVal
}
