package tts

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/fintalk-ai/fintalk/internal/reliability"
)

const (
	maxAttempts  = 2
	retryBackoff = 250 * time.Millisecond
	retryCap     = time.Second
)

// HTTPSynthesizer calls an edge-tts-style HTTP service that renders text to
// an audio buffer in one request.
type HTTPSynthesizer struct {
	url    string
	voice  string
	client *http.Client
}

func NewHTTPSynthesizer(url, voice string, timeout time.Duration) *HTTPSynthesizer {
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	return &HTTPSynthesizer{
		url:   strings.TrimSpace(url),
		voice: strings.TrimSpace(voice),
		client: &http.Client{
			Timeout: timeout,
		},
	}
}

type httpSynthesizeRequest struct {
	Text  string `json:"text"`
	Voice string `json:"voice,omitempty"`
}

func (s *HTTPSynthesizer) Synthesize(ctx context.Context, text string) ([]byte, string, error) {
	payload, err := json.Marshal(httpSynthesizeRequest{Text: text, Voice: s.voice})
	if err != nil {
		return nil, "", fmt.Errorf("marshal request: %w", err)
	}

	// Synthesis is the latency-critical leg of the turn, so only one retry
	// is attempted before surfacing the failure.
	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if attempt > 0 {
			timer := time.NewTimer(reliability.Backoff(attempt-1, retryBackoff, retryCap))
			select {
			case <-ctx.Done():
				timer.Stop()
				return nil, "", fmt.Errorf("%w: %v", ErrSynthesisFailed, ctx.Err())
			case <-timer.C:
			}
		}

		audio, format, err := s.synthesizeOnce(ctx, payload)
		if err == nil {
			return audio, format, nil
		}
		if ctx.Err() != nil {
			return nil, "", fmt.Errorf("%w: %v", ErrSynthesisFailed, ctx.Err())
		}
		lastErr = err
	}
	return nil, "", lastErr
}

func (s *HTTPSynthesizer) synthesizeOnce(ctx context.Context, payload []byte) ([]byte, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(payload))
	if err != nil {
		return nil, "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	res, err := s.client.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("%w: %v", ErrSynthesisFailed, err)
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(res.Body, 4<<10))
		return nil, "", fmt.Errorf("%w: http status %d: %s", ErrSynthesisFailed, res.StatusCode, strings.TrimSpace(string(body)))
	}

	audio, err := io.ReadAll(io.LimitReader(res.Body, 64<<20))
	if err != nil {
		return nil, "", fmt.Errorf("%w: read response: %v", ErrSynthesisFailed, err)
	}
	if len(audio) == 0 {
		return nil, "", fmt.Errorf("%w: empty audio buffer", ErrSynthesisFailed)
	}

	format := strings.TrimSpace(res.Header.Get("X-Audio-Format"))
	if format == "" {
		format = "mp3"
	}
	return audio, format, nil
}
