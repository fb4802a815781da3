package tts

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrSynthesisFailed means the speech engine errored before or during
// synthesis. In-flight streams are discarded, never padded with silence.
var ErrSynthesisFailed = errors.New("speech synthesis failed")

// Synthesizer turns reply text into one audio buffer plus its format tag.
// Chunking for transport happens downstream in the stream handler.
type Synthesizer interface {
	Synthesize(ctx context.Context, text string) ([]byte, string, error)
}

// Config controls synthesizer construction.
type Config struct {
	Mode    string
	HTTPURL string
	Voice   string
	Timeout time.Duration
}

// New builds a synthesizer for the configured mode (auto|http|mock).
func New(cfg Config) (Synthesizer, error) {
	mode := strings.ToLower(strings.TrimSpace(cfg.Mode))
	if mode == "" {
		mode = "auto"
	}

	switch mode {
	case "auto":
		if strings.TrimSpace(cfg.HTTPURL) != "" {
			return NewHTTPSynthesizer(cfg.HTTPURL, cfg.Voice, cfg.Timeout), nil
		}
		return NewMock(), nil
	case "http":
		if strings.TrimSpace(cfg.HTTPURL) == "" {
			return nil, errors.New("tts HTTP url is required for http mode")
		}
		return NewHTTPSynthesizer(cfg.HTTPURL, cfg.Voice, cfg.Timeout), nil
	case "mock":
		return NewMock(), nil
	default:
		return nil, fmt.Errorf("unsupported tts mode %q", cfg.Mode)
	}
}
