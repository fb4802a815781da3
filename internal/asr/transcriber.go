package asr

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrUnavailable means the speech model or service could not be reached or
// produced no usable transcript. Callers surface it to the user; a fabricated
// transcript is never substituted.
var ErrUnavailable = errors.New("transcription unavailable")

// Transcriber converts one WAV utterance into text.
type Transcriber interface {
	Transcribe(ctx context.Context, wav []byte, sampleRate int) (string, error)
}

// Config controls transcriber construction.
type Config struct {
	Mode    string
	HTTPURL string
	Timeout time.Duration
}

// New builds a transcriber for the configured mode (auto|http|mock).
func New(cfg Config) (Transcriber, error) {
	mode := strings.ToLower(strings.TrimSpace(cfg.Mode))
	if mode == "" {
		mode = "auto"
	}

	switch mode {
	case "auto":
		if strings.TrimSpace(cfg.HTTPURL) != "" {
			return NewHTTPTranscriber(cfg.HTTPURL, cfg.Timeout), nil
		}
		return NewMock(), nil
	case "http":
		if strings.TrimSpace(cfg.HTTPURL) == "" {
			return nil, errors.New("asr HTTP url is required for http mode")
		}
		return NewHTTPTranscriber(cfg.HTTPURL, cfg.Timeout), nil
	case "mock":
		return NewMock(), nil
	default:
		return nil, fmt.Errorf("unsupported asr mode %q", cfg.Mode)
	}
}
