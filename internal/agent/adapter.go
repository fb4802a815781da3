package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Request is the normalized query forwarded to the news/stock agent.
type Request struct {
	UserID    string `json:"user_id"`
	SessionID string `json:"session_id"`
	TurnID    string `json:"turn_id"`
	InputText string `json:"input_text"`
}

// Response is the agent's natural-language reply.
type Response struct {
	Text string `json:"text"`
}

// Adapter bridges the voice runtime with the tool-calling agent. The agent's
// tool selection is opaque here: text in, reply text out.
type Adapter interface {
	Respond(ctx context.Context, req Request) (Response, error)
}

// Config controls adapter construction.
type Config struct {
	Mode    string
	HTTPURL string
	Timeout time.Duration
}

// New builds an adapter for the configured mode (auto|http|mock).
func New(cfg Config) (Adapter, error) {
	mode := strings.ToLower(strings.TrimSpace(cfg.Mode))
	if mode == "" {
		mode = "auto"
	}

	switch mode {
	case "auto":
		if strings.TrimSpace(cfg.HTTPURL) != "" {
			return NewHTTPAdapter(cfg.HTTPURL, cfg.Timeout), nil
		}
		return NewMockAdapter(), nil
	case "http":
		if strings.TrimSpace(cfg.HTTPURL) == "" {
			return nil, errors.New("agent HTTP url is required for http mode")
		}
		return NewHTTPAdapter(cfg.HTTPURL, cfg.Timeout), nil
	case "mock":
		return NewMockAdapter(), nil
	default:
		return nil, fmt.Errorf("unsupported agent mode %q", cfg.Mode)
	}
}
