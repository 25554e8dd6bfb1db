// Package remote implements the outbound HTTP client shared by the provider
// modules. Every request is gated by the owning module's rate limiter before
// it leaves the process, and upstream throttling responses are retried with
// exponential backoff.
package remote

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"emperror.dev/errors"
	"github.com/apex/log"
	"github.com/cenkalti/backoff/v4"
	json "github.com/goccy/go-json"
	gocache "github.com/patrickmn/go-cache"

	"github.com/priyxstudio/curator/internal/ratelimit"
)

// ErrNotFound is returned when the upstream responds with a 404 for the
// requested resource.
var ErrNotFound = errors.New("remote: resource not found")

// RateLimitedError is returned once the retry budget for a throttled request
// has been exhausted.
type RateLimitedError struct {
	RetryAfter time.Duration
	Message    string
}

func (e *RateLimitedError) Error() string {
	return "remote: rate limit exceeded: " + e.Message
}

// UnexpectedStatusError is returned for any response status the client has no
// specific handling for.
type UnexpectedStatusError struct {
	Status  int
	Message string
}

func (e *UnexpectedStatusError) Error() string {
	return "remote: unexpected status code " + strconv.Itoa(e.Status) + ": " + e.Message
}

// Client performs JSON requests against a single provider API.
type Client struct {
	baseURL    string
	httpClient *http.Client
	headers    map[string]string
	userAgent  string
	limiter    *ratelimit.Limiter

	maxRetries int
	baseDelay  time.Duration
	maxDelay   time.Duration

	cache    *gocache.Cache
	cacheTTL time.Duration
}

// ClientOption configures a Client at construction time.
type ClientOption func(*Client)

// New returns a client rooted at the given base URL.
func New(base string, opts ...ClientOption) *Client {
	c := &Client{
		baseURL:    strings.TrimSuffix(base, "/"),
		httpClient: &http.Client{Timeout: 30 * time.Second},
		headers:    make(map[string]string),
		userAgent:  "curator/1.0",
		maxRetries: 3,
		baseDelay:  time.Second,
		maxDelay:   time.Minute,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// WithCustomHeaders sets additional headers sent on every request. A nil map
// is handled gracefully so callers can pass through optional configuration.
func WithCustomHeaders(headers map[string]string) ClientOption {
	return func(c *Client) {
		for k, v := range headers {
			c.headers[k] = v
		}
	}
}

// WithHeader sets a single header sent on every request.
func WithHeader(key, value string) ClientOption {
	return func(c *Client) {
		if value != "" {
			c.headers[key] = value
		}
	}
}

// WithUserAgent overrides the User-Agent header.
func WithUserAgent(ua string) ClientOption {
	return func(c *Client) {
		if ua != "" {
			c.userAgent = ua
		}
	}
}

// WithTimeout sets the per-request timeout.
func WithTimeout(d time.Duration) ClientOption {
	return func(c *Client) {
		if d > 0 {
			c.httpClient = &http.Client{Timeout: d}
		}
	}
}

// WithRateLimiter gates every outbound request behind the given limiter.
func WithRateLimiter(l *ratelimit.Limiter) ClientOption {
	return func(c *Client) {
		c.limiter = l
	}
}

// WithRetry overrides the retry policy for throttled or failing upstreams.
func WithRetry(maxRetries int, baseDelay, maxDelay time.Duration) ClientOption {
	return func(c *Client) {
		if maxRetries >= 0 {
			c.maxRetries = maxRetries
		}
		if baseDelay > 0 {
			c.baseDelay = baseDelay
		}
		if maxDelay > 0 {
			c.maxDelay = maxDelay
		}
	}
}

// WithCache enables an in-memory cache for GET responses, useful for search
// endpoints that are hit repeatedly with the same query.
func WithCache(ttl time.Duration) ClientOption {
	return func(c *Client) {
		if ttl > 0 {
			c.cache = gocache.New(ttl, 2*ttl)
			c.cacheTTL = ttl
		}
	}
}

// Get performs a GET request against path and decodes the JSON response body
// into out. Cached responses are served without consuming a rate limit token.
func (c *Client) Get(ctx context.Context, path string, query url.Values, out interface{}) error {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	if c.cache != nil {
		if body, found := c.cache.Get(u); found {
			return json.Unmarshal(body.([]byte), out)
		}
	}

	body, err := c.do(ctx, http.MethodGet, u, nil)
	if err != nil {
		return err
	}
	if c.cache != nil {
		c.cache.Set(u, body, c.cacheTTL)
	}
	return json.Unmarshal(body, out)
}

// Download fetches an absolute URL and returns the raw response body. It is
// used for artwork files whose URLs point outside the client's base URL.
func (c *Client) Download(ctx context.Context, rawURL string) ([]byte, error) {
	return c.do(ctx, http.MethodGet, rawURL, nil)
}

// Post performs a POST request with a JSON body and decodes the JSON response
// into out.
func (c *Client) Post(ctx context.Context, path string, payload interface{}, out interface{}) error {
	b, err := json.Marshal(payload)
	if err != nil {
		return errors.Wrap(err, "remote: could not encode request body")
	}

	body, err := c.do(ctx, http.MethodPost, c.baseURL+path, b)
	if err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	return json.Unmarshal(body, out)
}

// do performs a single logical request, retrying throttled and transient
// upstream failures with exponential backoff. The Retry-After header, when
// present, takes precedence over the computed delay.
func (c *Client) do(ctx context.Context, method, url string, body []byte) ([]byte, error) {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = c.baseDelay
	bo.MaxInterval = c.maxDelay
	bo.Reset()

	for attempt := 0; ; attempt++ {
		if c.limiter != nil {
			if err := c.limiter.Acquire(ctx); err != nil {
				return nil, errors.Wrap(err, "remote: request canceled while waiting for rate limit")
			}
		}

		respBody, retryable, err := c.attempt(ctx, method, url, body)
		if err == nil {
			return respBody, nil
		}
		if !retryable || attempt >= c.maxRetries {
			return nil, err
		}

		delay := bo.NextBackOff()
		if delay == backoff.Stop {
			return nil, err
		}
		if rle, ok := err.(*RateLimitedError); ok && rle.RetryAfter > 0 {
			delay = rle.RetryAfter
		}

		log.WithFields(log.Fields{
			"url":     url,
			"attempt": attempt + 1,
			"delay":   delay.String(),
		}).Debug("retrying upstream request")

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}
}

// attempt performs one HTTP round trip. The second return value reports
// whether the error is worth retrying.
func (c *Client) attempt(ctx context.Context, method, url string, body []byte) ([]byte, bool, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return nil, false, errors.Wrap(err, "remote: could not build request")
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.userAgent)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range c.headers {
		req.Header.Set(k, v)
	}

	res, err := c.httpClient.Do(req)
	if err != nil {
		// Network level errors are worth a retry, the upstream may just be
		// briefly unreachable.
		return nil, true, errors.Wrap(err, "remote: request failed")
	}
	defer res.Body.Close()

	respBody, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, true, errors.Wrap(err, "remote: could not read response body")
	}

	switch {
	case res.StatusCode >= 200 && res.StatusCode < 300:
		return respBody, false, nil
	case res.StatusCode == http.StatusNotFound:
		return nil, false, errors.WithMessage(ErrNotFound, url)
	case res.StatusCode == http.StatusTooManyRequests || res.StatusCode == http.StatusForbidden:
		return nil, true, &RateLimitedError{
			RetryAfter: parseRetryAfter(res),
			Message:    strings.TrimSpace(string(respBody)),
		}
	case res.StatusCode >= 500:
		return nil, true, &UnexpectedStatusError{Status: res.StatusCode, Message: strings.TrimSpace(string(respBody))}
	default:
		return nil, false, &UnexpectedStatusError{Status: res.StatusCode, Message: strings.TrimSpace(string(respBody))}
	}
}

func parseRetryAfter(res *http.Response) time.Duration {
	v := res.Header.Get("Retry-After")
	if v == "" {
		return 0
	}
	secs, err := strconv.Atoi(v)
	if err != nil || secs < 0 {
		return 0
	}
	return time.Duration(secs) * time.Second
}
