package httpx

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	clierr "github.com/ggonzalez94/bridgectl/internal/errors"
)

func TestDoJSONRetriesServerError(t *testing.T) {
	var count int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&count, 1)
		if n == 1 {
			w.WriteHeader(http.StatusInternalServerError)
			_, _ = w.Write([]byte(`{"error":"x"}`))
			return
		}
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	client := New(2*time.Second, 1, WithBackoffUnit(time.Millisecond))
	req, err := http.NewRequestWithContext(context.Background(), http.MethodGet, srv.URL, nil)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	var out map[string]any
	if _, err := client.DoJSON(context.Background(), req, &out); err != nil {
		t.Fatalf("DoJSON failed: %v", err)
	}
	if out["ok"] != true {
		t.Fatalf("unexpected response: %#v", out)
	}
}

func TestDoJSONServiceUnavailableUsesThreeAttemptsWithLinearDelay(t *testing.T) {
	var count int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&count, 1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	var delays []int
	client := New(2*time.Second, 2,
		WithBackoffUnit(time.Millisecond),
		WithRetryHook(func(_ string, attempt int, _ error) { delays = append(delays, attempt) }),
	)
	_, err := DoBodyJSON(context.Background(), client, http.MethodPost, srv.URL, []byte(`{"a":1}`), nil, &map[string]any{})
	if err == nil {
		t.Fatal("expected error after exhausting attempts")
	}
	if got := atomic.LoadInt32(&count); got != 3 {
		t.Fatalf("expected 3 attempts, got %d", got)
	}
	if len(delays) != 2 || delays[0] != 1 || delays[1] != 2 {
		t.Fatalf("unexpected retry sequence %v", delays)
	}
	typed, ok := clierr.As(err)
	if !ok || typed.Code != clierr.CodeProviderHTTP || typed.HTTPStatus != http.StatusServiceUnavailable {
		t.Fatalf("expected provider http 503 error, got %#v", err)
	}
	if client.backoff(2) != 2*time.Millisecond {
		t.Fatalf("expected linear backoff, got %s", client.backoff(2))
	}
}

func TestDoJSONBadRequestIsNotRetried(t *testing.T) {
	var count int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&count, 1)
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"message":"amount too low"}`))
	}))
	defer srv.Close()

	client := New(2*time.Second, 2, WithBackoffUnit(time.Millisecond))
	req, _ := http.NewRequestWithContext(context.Background(), http.MethodGet, srv.URL, nil)
	_, err := client.DoJSON(context.Background(), req, &map[string]any{})
	if err == nil {
		t.Fatal("expected error")
	}
	if got := atomic.LoadInt32(&count); got != 1 {
		t.Fatalf("expected a single attempt, got %d", got)
	}
	typed, ok := clierr.As(err)
	if !ok || typed.HTTPStatus != http.StatusBadRequest {
		t.Fatalf("expected 400 provider error, got %v", err)
	}
	if typed.Message != "provider returned status 400: amount too low" {
		t.Fatalf("unexpected message %q", typed.Message)
	}
}

func TestIsRetryable(t *testing.T) {
	cases := []struct {
		err  error
		want bool
	}{
		{clierr.HTTP(clierr.CodeProviderHTTP, 500, "x"), true},
		{clierr.HTTP(clierr.CodeRateLimited, 429, "x"), true},
		{clierr.HTTP(clierr.CodeProviderHTTP, 404, "x"), false},
		{clierr.HTTP(clierr.CodeAuth, 401, "x"), false},
		{clierr.New(clierr.CodeInvalidRoute, "no steps"), false},
		{errors.New("dial tcp: i/o timeout"), true},
		{errors.New("network is unreachable"), true},
		{errors.New("invalid signature"), false},
		{nil, false},
	}
	for _, tc := range cases {
		if got := IsRetryable(tc.err); got != tc.want {
			t.Fatalf("IsRetryable(%v) = %v, want %v", tc.err, got, tc.want)
		}
	}
}

func TestDoJSONStopsOnCancelledContext(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	client := New(2*time.Second, 2, WithBackoffUnit(time.Hour), WithRetryHook(func(string, int, error) { cancel() }))
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL, nil)
	_, err := client.DoJSON(ctx, req, nil)
	if err == nil || !errors.Is(err, context.Canceled) {
		t.Fatalf("expected cancellation error, got %v", err)
	}
}
