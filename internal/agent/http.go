package agent

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
	retryBackoff = 200 * time.Millisecond
	retryCap     = 2 * time.Second
)

// HTTPAdapter forwards requests to an agent-compatible HTTP endpoint.
type HTTPAdapter struct {
	url    string
	client *http.Client
}

func NewHTTPAdapter(url string, timeout time.Duration) *HTTPAdapter {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &HTTPAdapter{
		url: strings.TrimSpace(url),
		client: &http.Client{
			Timeout: timeout,
		},
	}
}

func (a *HTTPAdapter) Respond(ctx context.Context, req Request) (Response, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return Response{}, fmt.Errorf("marshal request: %w", err)
	}

	body, err := a.post(ctx, payload)
	if err != nil {
		return Response{}, err
	}

	var out Response
	if err := json.Unmarshal(body, &out); err != nil {
		// Plain-text agents are allowed; take the body as the reply.
		text := strings.TrimSpace(string(body))
		if text == "" {
			return Response{}, fmt.Errorf("agent returned empty reply")
		}
		return Response{Text: text}, nil
	}
	if strings.TrimSpace(out.Text) == "" {
		return Response{}, fmt.Errorf("agent returned empty reply")
	}
	return out, nil
}

// post retries transient upstream failures; 4xx responses other than 429 are
// returned immediately.
func (a *HTTPAdapter) post(ctx context.Context, payload []byte) ([]byte, error) {
	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if attempt > 0 {
			if err := sleepCtx(ctx, reliability.Backoff(attempt-1, retryBackoff, retryCap)); err != nil {
				return nil, err
			}
		}

		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.url, bytes.NewReader(payload))
		if err != nil {
			return nil, fmt.Errorf("create request: %w", err)
		}
		httpReq.Header.Set("Content-Type", "application/json")

		res, err := a.client.Do(httpReq)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			lastErr = fmt.Errorf("send request: %w", err)
			continue
		}
		body, readErr := io.ReadAll(io.LimitReader(res.Body, 1<<20))
		res.Body.Close()
		if readErr != nil {
			lastErr = fmt.Errorf("read response: %w", readErr)
			continue
		}
		if res.StatusCode >= 200 && res.StatusCode < 300 {
			return body, nil
		}
		lastErr = fmt.Errorf("agent http status %d: %s", res.StatusCode, strings.TrimSpace(string(body)))
		if !reliability.RetryableStatus(res.StatusCode) {
			return nil, lastErr
		}
	}
	return nil, lastErr
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
