package app

import (
	"os"
	"strconv"
	"time"
)

type Config struct {
	HTTPAddr    string
	DatabaseURL string
	LogLevel    string
	SentryDSN   string

	// Voice AI provider (ElevenLabs conversational agent)
	ElevenLabsAPIKey  string
	ElevenLabsAgentID string
	ElevenLabsWSURL   string
	ElevenLabsAPIURL  string

	// Platform backend (job offers, guest interviews, reports)
	BackendBaseURL string

	// Agent defaults, overridable per session
	AgentLanguage    string
	AgentTemperature float64
	TTSStability     float64 // voice stability (0.0-1.0)
	TTSSpeed         float64 // speaking speed multiplier
	TTSSimilarity    float64 // voice similarity boost (0.0-1.0)

	// Media capture. "ffmpeg" drives local devices, "none" runs every
	// room muted with the camera off.
	MediaBackend string
	AudioDevice  string
	VideoDevice  string

	// Audio level sampling cadence for the room state stream.
	LevelInterval time.Duration

	// Durable room state. Empty means in-memory only.
	StateFilePath string

	// JWT Authentication
	JWTSecret string

	// Notifications
	DiscordWebhookURL string
}

func LoadConfigFromEnv() Config {
	return Config{
		HTTPAddr:    getenv("HTTP_ADDR", ":8080"),
		DatabaseURL: getenv("DATABASE_URL", ""),
		LogLevel:    getenv("LOG_LEVEL", "info"),
		SentryDSN:   getenv("SENTRY_DSN", ""),

		// Voice AI provider
		ElevenLabsAPIKey:  getenv("ELEVENLABS_API_KEY", ""),
		ElevenLabsAgentID: getenv("ELEVENLABS_AGENT_ID", ""),
		ElevenLabsWSURL:   getenv("ELEVENLABS_WS_URL", "wss://api.elevenlabs.io"),
		ElevenLabsAPIURL:  getenv("ELEVENLABS_API_URL", "https://api.elevenlabs.io"),

		BackendBaseURL: getenv("BACKEND_BASE_URL", "http://localhost:8000"),

		// Agent defaults
		AgentLanguage:    getenv("AGENT_LANGUAGE", "en"),
		AgentTemperature: getenvFloatClamped("AGENT_TEMPERATURE", 0.7, 0.0, 2.0),
		TTSStability:     getenvFloatClamped("TTS_STABILITY", 0.5, 0.0, 1.0),
		TTSSpeed:         getenvFloatClamped("TTS_SPEED", 1.0, 0.5, 2.0),
		TTSSimilarity:    getenvFloatClamped("TTS_SIMILARITY", 0.75, 0.0, 1.0),

		MediaBackend: getenv("MEDIA_BACKEND", "none"),
		AudioDevice:  getenv("AUDIO_DEVICE", "default"),
		VideoDevice:  getenv("VIDEO_DEVICE", "/dev/video0"),

		LevelInterval: time.Duration(getenvIntClamped("LEVEL_INTERVAL_MS", 100, 20, 1000)) * time.Millisecond,

		StateFilePath: getenv("STATE_FILE", ""),

		// Required - no fallback for security
		JWTSecret: os.Getenv("JWT_SECRET"),

		DiscordWebhookURL: getenv("DISCORD_WEBHOOK_URL", ""),
	}
}

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

// getenvIntClamped reads an int env var, falling back to def on
// missing or malformed values and clamping the result to [min, max].
func getenvIntClamped(k string, def, min, max int) int {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	if n < min {
		return min
	}
	if n > max {
		return max
	}
	return n
}

// getenvFloatClamped is getenvIntClamped for floats.
func getenvFloatClamped(k string, def, min, max float64) float64 {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return def
	}
	if f < min {
		return min
	}
	if f > max {
		return max
	}
	return f
}
