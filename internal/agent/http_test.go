package agent

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

func TestHTTPAdapterJSONReply(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req Request
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if req.InputText != "how is tesla doing" {
			t.Errorf("InputText = %q", req.InputText)
		}
		json.NewEncoder(w).Encode(Response{Text: "tesla closed up two percent"})
	}))
	defer srv.Close()

	a := NewHTTPAdapter(srv.URL, 5*time.Second)
	res, err := a.Respond(context.Background(), Request{UserID: "u1", InputText: "how is tesla doing"})
	if err != nil {
		t.Fatalf("Respond() error = %v", err)
	}
	if res.Text != "tesla closed up two percent" {
		t.Fatalf("Text = %q", res.Text)
	}
}

func TestHTTPAdapterPlainTextReply(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("markets are closed today"))
	}))
	defer srv.Close()

	a := NewHTTPAdapter(srv.URL, 5*time.Second)
	res, err := a.Respond(context.Background(), Request{InputText: "hello"})
	if err != nil {
		t.Fatalf("Respond() error = %v", err)
	}
	if res.Text != "markets are closed today" {
		t.Fatalf("Text = %q", res.Text)
	}
}

func TestHTTPAdapterRetriesTransientFailure(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.Write([]byte("eventually"))
	}))
	defer srv.Close()

	a := NewHTTPAdapter(srv.URL, 5*time.Second)
	res, err := a.Respond(context.Background(), Request{InputText: "hello"})
	if err != nil {
		t.Fatalf("Respond() error = %v", err)
	}
	if res.Text != "eventually" || calls.Load() != 3 {
		t.Fatalf("Text=%q calls=%d", res.Text, calls.Load())
	}
}

func TestHTTPAdapterNoRetryOnClientError(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusUnprocessableEntity)
	}))
	defer srv.Close()

	a := NewHTTPAdapter(srv.URL, 5*time.Second)
	if _, err := a.Respond(context.Background(), Request{InputText: "hello"}); err == nil {
		t.Fatalf("Respond() accepted a 422")
	}
	if calls.Load() != 1 {
		t.Fatalf("calls = %d, want 1 for a 422", calls.Load())
	}
}

func TestHTTPAdapterEmptyReply(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("   "))
	}))
	defer srv.Close()

	a := NewHTTPAdapter(srv.URL, 5*time.Second)
	if _, err := a.Respond(context.Background(), Request{InputText: "hi"}); err == nil {
		t.Fatalf("Respond() accepted an empty reply")
	}
}

func TestMockAdapterFlavorsReplies(t *testing.T) {
	a := NewMockAdapter()
	res, err := a.Respond(context.Background(), Request{InputText: "latest news on apple"})
	if err != nil {
		t.Fatalf("Respond() error = %v", err)
	}
	if !strings.Contains(strings.ToLower(res.Text), "market") && !strings.Contains(strings.ToLower(res.Text), "briefing") {
		t.Fatalf("news question got unflavored reply: %q", res.Text)
	}

	res, err = a.Respond(context.Background(), Request{InputText: ""})
	if err != nil || res.Text == "" {
		t.Fatalf("empty input: %q %v", res.Text, err)
	}
}
