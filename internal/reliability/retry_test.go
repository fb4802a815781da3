package reliability

import (
	"testing"
	"time"
)

func TestRetryableStatus(t *testing.T) {
	for _, code := range []int{429, 500, 502, 503, 504} {
		if !RetryableStatus(code) {
			t.Fatalf("status %d should be retryable", code)
		}
	}
	for _, code := range []int{200, 201, 400, 401, 403, 404, 422} {
		if RetryableStatus(code) {
			t.Fatalf("status %d should not be retryable", code)
		}
	}
}

func TestBackoff(t *testing.T) {
	base := 100 * time.Millisecond
	max := time.Second

	if got := Backoff(0, base, max); got != base {
		t.Fatalf("attempt 0 = %s, want %s", got, base)
	}
	if got := Backoff(1, base, max); got != 200*time.Millisecond {
		t.Fatalf("attempt 1 = %s, want 200ms", got)
	}
	if got := Backoff(2, base, max); got != 400*time.Millisecond {
		t.Fatalf("attempt 2 = %s, want 400ms", got)
	}
	if got := Backoff(10, base, max); got != max {
		t.Fatalf("attempt 10 = %s, want cap %s", got, max)
	}
	if got := Backoff(-3, base, max); got != base {
		t.Fatalf("negative attempt = %s, want %s", got, base)
	}
}
