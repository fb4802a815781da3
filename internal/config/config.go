package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config contains all runtime settings for the voice assistant service.
type Config struct {
	BindAddr                 string
	ShutdownTimeout          time.Duration
	SessionInactivityTimeout time.Duration
	MetricsNamespace         string

	AllowAnyOrigin bool

	ASRMode    string
	ASRHTTPURL string
	ASRTimeout time.Duration

	TTSMode      string
	TTSHTTPURL   string
	TTSVoice     string
	TTSTimeout   time.Duration
	TTSChunkSize int

	AgentMode    string
	AgentHTTPURL string
	AgentTimeout time.Duration

	// Client-side voice activity tuning. Exposed as configuration because
	// the right threshold/timeout pair is deployment-dependent.
	VADEnergyThreshold float64
	VADSilenceWindow   time.Duration
	VADMinUtterance    time.Duration
	VADPollInterval    time.Duration

	DatabaseURL string
}

// Load reads environment variables and applies safe defaults.
func Load() (Config, error) {
	cfg := Config{
		BindAddr:         envOrDefault("APP_BIND_ADDR", ":8080"),
		MetricsNamespace: envOrDefault("APP_METRICS_NAMESPACE", "fintalk"),
		AllowAnyOrigin:   false,

		ASRMode:    envOrDefault("ASR_MODE", "auto"),
		ASRHTTPURL: trimmedEnv("ASR_HTTP_URL"),
		ASRTimeout: 15 * time.Second,

		TTSMode:    envOrDefault("TTS_MODE", "auto"),
		TTSHTTPURL: trimmedEnv("TTS_HTTP_URL"),
		// Default to a newsreader-style neural voice for briefings.
		TTSVoice:     envOrDefault("TTS_VOICE", "en-US-AriaNeural"),
		TTSTimeout:   20 * time.Second,
		TTSChunkSize: 8192,

		AgentMode:    envOrDefault("AGENT_MODE", "auto"),
		AgentHTTPURL: trimmedEnv("AGENT_HTTP_URL"),
		AgentTimeout: 30 * time.Second,

		VADEnergyThreshold: 0.02,
		VADSilenceWindow:   800 * time.Millisecond,
		VADMinUtterance:    500 * time.Millisecond,
		VADPollInterval:    150 * time.Millisecond,

		DatabaseURL:              trimmedEnv("DATABASE_URL"),
		ShutdownTimeout:          15 * time.Second,
		SessionInactivityTimeout: 2 * time.Minute,
	}

	var err error
	cfg.ShutdownTimeout, err = durationFromEnv("APP_SHUTDOWN_TIMEOUT", cfg.ShutdownTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.SessionInactivityTimeout, err = durationFromEnv("APP_SESSION_INACTIVITY_TIMEOUT", cfg.SessionInactivityTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.AllowAnyOrigin, err = boolFromEnv("APP_ALLOW_ANY_ORIGIN", cfg.AllowAnyOrigin)
	if err != nil {
		return Config{}, err
	}

	cfg.ASRTimeout, err = durationFromEnv("ASR_TIMEOUT", cfg.ASRTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.TTSTimeout, err = durationFromEnv("TTS_TIMEOUT", cfg.TTSTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.AgentTimeout, err = durationFromEnv("AGENT_TIMEOUT", cfg.AgentTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.TTSChunkSize, err = intFromEnv("TTS_CHUNK_SIZE", cfg.TTSChunkSize)
	if err != nil {
		return Config{}, err
	}

	cfg.VADEnergyThreshold, err = floatFromEnv("VAD_ENERGY_THRESHOLD", cfg.VADEnergyThreshold)
	if err != nil {
		return Config{}, err
	}
	cfg.VADSilenceWindow, err = durationFromEnv("VAD_SILENCE_WINDOW", cfg.VADSilenceWindow)
	if err != nil {
		return Config{}, err
	}
	cfg.VADMinUtterance, err = durationFromEnv("VAD_MIN_UTTERANCE", cfg.VADMinUtterance)
	if err != nil {
		return Config{}, err
	}
	cfg.VADPollInterval, err = durationFromEnv("VAD_POLL_INTERVAL", cfg.VADPollInterval)
	if err != nil {
		return Config{}, err
	}

	if cfg.SessionInactivityTimeout < 5*time.Second {
		return Config{}, fmt.Errorf("APP_SESSION_INACTIVITY_TIMEOUT must be at least 5s")
	}
	if cfg.TTSChunkSize <= 0 {
		return Config{}, fmt.Errorf("TTS_CHUNK_SIZE must be positive")
	}
	if cfg.VADEnergyThreshold <= 0 || cfg.VADEnergyThreshold >= 1 {
		return Config{}, fmt.Errorf("VAD_ENERGY_THRESHOLD must be in (0,1)")
	}
	if cfg.VADSilenceWindow <= 0 {
		return Config{}, fmt.Errorf("VAD_SILENCE_WINDOW must be positive")
	}
	if cfg.VADMinUtterance <= 0 {
		return Config{}, fmt.Errorf("VAD_MIN_UTTERANCE must be positive")
	}
	if cfg.VADPollInterval <= 0 {
		return Config{}, fmt.Errorf("VAD_POLL_INTERVAL must be positive")
	}

	return cfg, nil
}

func envOrDefault(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}

func trimmedEnv(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}

func durationFromEnv(key string, fallback time.Duration) (time.Duration, error) {
	v := trimmedEnv(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return d, nil
}

func intFromEnv(key string, fallback int) (int, error) {
	v := trimmedEnv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return n, nil
}

func floatFromEnv(key string, fallback float64) (float64, error) {
	v := trimmedEnv(key)
	if v == "" {
		return fallback, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return f, nil
}

func boolFromEnv(key string, fallback bool) (bool, error) {
	v := strings.ToLower(trimmedEnv(key))
	if v == "" {
		return fallback, nil
	}
	switch v {
	case "1", "true", "t", "yes", "y", "on":
		return true, nil
	case "0", "false", "f", "no", "n", "off":
		return false, nil
	default:
		return false, fmt.Errorf("%s parse error: expected bool", key)
	}
}
