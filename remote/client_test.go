package remote

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"emperror.dev/errors"

	"github.com/priyxstudio/curator/internal/ratelimit"
)

func TestWithCustomHeaders(t *testing.T) {
	customHeaders := map[string]string{
		"X-MAL-CLIENT-ID": "test-client-id",
		"X-Custom-Header": "custom-value",
	}

	option := WithCustomHeaders(customHeaders)
	if option == nil {
		t.Fatal("WithCustomHeaders should not return nil")
	}

	client := New(
		"https://example.com",
		WithUserAgent("curator-test/1.0"),
		WithCustomHeaders(customHeaders),
	)

	if client == nil {
		t.Fatal("client should not be nil")
	}
	if client.headers["X-MAL-CLIENT-ID"] != "test-client-id" {
		t.Errorf("expected header to be set, got %q", client.headers["X-MAL-CLIENT-ID"])
	}
}

func TestWithCustomHeadersNil(t *testing.T) {
	option := WithCustomHeaders(nil)
	if option == nil {
		t.Fatal("WithCustomHeaders should not return nil even with nil input")
	}

	client := New("https://example.com", WithCustomHeaders(nil))
	if client == nil {
		t.Fatal("client should not be nil")
	}
}

func TestGetDecodesJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if ua := r.Header.Get("User-Agent"); ua != "curator-test/1.0" {
			t.Errorf("expected custom user agent, got %q", ua)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id": 5, "title": "Cowboy Bebop"}`))
	}))
	defer srv.Close()

	var out struct {
		ID    uint   `json:"id"`
		Title string `json:"title"`
	}
	client := New(srv.URL, WithUserAgent("curator-test/1.0"))
	if err := client.Get(context.Background(), "/anime/5", nil, &out); err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	if out.Title != "Cowboy Bebop" {
		t.Errorf("expected decoded title, got %q", out.Title)
	}
}

func TestGetNotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"not found"}`, http.StatusNotFound)
	}))
	defer srv.Close()

	var out map[string]interface{}
	client := New(srv.URL)
	err := client.Get(context.Background(), "/anime/999999", nil, &out)
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestRetriesOnTooManyRequests(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls == 1 {
			w.Header().Set("Retry-After", "0")
			http.Error(w, "slow down", http.StatusTooManyRequests)
			return
		}
		_, _ = w.Write([]byte(`{"ok": true}`))
	}))
	defer srv.Close()

	var out map[string]bool
	client := New(srv.URL, WithRetry(2, 10*time.Millisecond, 50*time.Millisecond))
	if err := client.Get(context.Background(), "/", nil, &out); err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	if calls != 2 {
		t.Errorf("expected 2 upstream calls, got %d", calls)
	}
}

func TestRateLimitedAfterRetryBudget(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "throttled", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	var out map[string]bool
	client := New(srv.URL, WithRetry(1, 5*time.Millisecond, 10*time.Millisecond))
	err := client.Get(context.Background(), "/", nil, &out)
	if err == nil {
		t.Fatal("expected an error once the retry budget is exhausted")
	}
	if _, ok := err.(*RateLimitedError); !ok {
		t.Fatalf("expected RateLimitedError, got %T: %v", err, err)
	}
}

func TestRequestsPassThroughRateLimiter(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	limiter := ratelimit.New("test", 1, time.Minute)
	client := New(srv.URL, WithRateLimiter(limiter))

	var out map[string]interface{}
	if err := client.Get(context.Background(), "/", nil, &out); err != nil {
		t.Fatalf("unexpected error: %s", err)
	}

	// The single token is spent, a second request must block until canceled.
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	if err := client.Get(ctx, "/other", nil, &out); err == nil {
		t.Fatal("expected second request to be blocked by the rate limiter")
	}
}

func TestCachedResponsesSkipUpstream(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		_, _ = w.Write([]byte(`{"title":"Trigun"}`))
	}))
	defer srv.Close()

	client := New(srv.URL, WithCache(time.Minute))
	var out map[string]string
	for i := 0; i < 3; i++ {
		if err := client.Get(context.Background(), "/search", nil, &out); err != nil {
			t.Fatalf("unexpected error: %s", err)
		}
	}
	if calls != 1 {
		t.Errorf("expected a single upstream call, got %d", calls)
	}
}
