package main

import (
	"net/url"
	"testing"
)

func TestProbeEndpoint(t *testing.T) {
	cases := []struct {
		name   string
		wsURL  string
		userID string
	}{
		{"plain", "ws://127.0.0.1:8080/ws/voice", "probe-replay"},
		{"needs escaping", "ws://127.0.0.1:8080/ws/voice", "trader one/7&x=y"},
		{"existing query", "ws://host/ws/voice?trace=1", "probe-replay"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			endpoint, err := probeEndpoint(tc.wsURL, tc.userID)
			if err != nil {
				t.Fatalf("probeEndpoint() error = %v", err)
			}
			u, err := url.Parse(endpoint)
			if err != nil {
				t.Fatalf("result does not parse: %v", err)
			}
			if got := u.Query().Get("user_id"); got != tc.userID {
				t.Fatalf("user_id round-trips to %q, want %q", got, tc.userID)
			}
			base, _ := url.Parse(tc.wsURL)
			for key, want := range base.Query() {
				if got := u.Query().Get(key); got != want[0] {
					t.Fatalf("query param %s = %q, want %q preserved", key, got, want[0])
				}
			}
		})
	}
}

func TestProbeEndpointRejectsBadURL(t *testing.T) {
	if _, err := probeEndpoint("://no-scheme", "u"); err == nil {
		t.Fatalf("malformed url accepted")
	}
}
