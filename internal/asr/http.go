package asr

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
	maxAttempts  = 3
	retryBackoff = 150 * time.Millisecond
	retryCap     = time.Second
)

// HTTPTranscriber posts one WAV utterance to a speech-recognition HTTP
// service (a SenseVoice-style endpoint) and reads the transcript back.
type HTTPTranscriber struct {
	url    string
	client *http.Client
}

func NewHTTPTranscriber(url string, timeout time.Duration) *HTTPTranscriber {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &HTTPTranscriber{
		url: strings.TrimSpace(url),
		client: &http.Client{
			Timeout: timeout,
		},
	}
}

type httpTranscribeResponse struct {
	Text string `json:"text"`
}

func (t *HTTPTranscriber) Transcribe(ctx context.Context, wav []byte, sampleRate int) (string, error) {
	body, err := t.post(ctx, wav, sampleRate)
	if err != nil {
		return "", err
	}

	var out httpTranscribeResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return "", fmt.Errorf("%w: decode response: %v", ErrUnavailable, err)
	}
	text := strings.TrimSpace(out.Text)
	if text == "" {
		return "", fmt.Errorf("%w: empty transcript", ErrUnavailable)
	}
	return text, nil
}

func (t *HTTPTranscriber) post(ctx context.Context, wav []byte, sampleRate int) ([]byte, error) {
	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if attempt > 0 {
			timer := time.NewTimer(reliability.Backoff(attempt-1, retryBackoff, retryCap))
			select {
			case <-ctx.Done():
				timer.Stop()
				return nil, fmt.Errorf("%w: %v", ErrUnavailable, ctx.Err())
			case <-timer.C:
			}
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.url, bytes.NewReader(wav))
		if err != nil {
			return nil, fmt.Errorf("create request: %w", err)
		}
		req.Header.Set("Content-Type", "audio/wav")
		req.Header.Set("X-Sample-Rate", fmt.Sprintf("%d", sampleRate))

		res, err := t.client.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return nil, fmt.Errorf("%w: %v", ErrUnavailable, ctx.Err())
			}
			lastErr = fmt.Errorf("%w: %v", ErrUnavailable, err)
			continue
		}
		body, readErr := io.ReadAll(io.LimitReader(res.Body, 1<<20))
		res.Body.Close()
		if readErr != nil {
			lastErr = fmt.Errorf("%w: read response: %v", ErrUnavailable, readErr)
			continue
		}
		if res.StatusCode >= 200 && res.StatusCode < 300 {
			return body, nil
		}
		lastErr = fmt.Errorf("%w: http status %d: %s", ErrUnavailable, res.StatusCode, strings.TrimSpace(string(body)))
		if !reliability.RetryableStatus(res.StatusCode) {
			return nil, lastErr
		}
	}
	return nil, lastErr
}
