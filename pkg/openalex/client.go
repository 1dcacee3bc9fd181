// Package openalex is a client for the OpenAlex bibliographic index. It is
// a pure adapter: it knows how to build filter expressions, page through
// works, resolve entities, and reconstruct abstracts, but holds no state
// beyond its connection pool and rate limiter.
package openalex

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"golang.org/x/time/rate"

	"github.com/paperscroll/backend/internal/domain"
	"github.com/paperscroll/backend/internal/logging"
)

const defaultBaseURL = "https://api.openalex.org"

// workSelect trims work payloads to the fields we map onto domain.Paper.
const workSelect = "id,title,display_name,abstract_inverted_index,primary_location,doi,publication_year,publication_date,cited_by_count,authorships"

const maxAttempts = 3

// Client is safe for concurrent use. All requests go through a shared
// token-bucket limiter sized to the polite-pool quota.
type Client struct {
	httpClient *http.Client
	baseURL    string
	mailto     string // polite pool identity
	limiter    *rate.Limiter
}

type Option func(*Client)

// WithBaseURL points the client at a different index, used by tests.
func WithBaseURL(u string) Option {
	return func(c *Client) { c.baseURL = u }
}

// WithLimiter overrides the default polite-pool limiter.
func WithLimiter(l *rate.Limiter) Option {
	return func(c *Client) { c.limiter = l }
}

// WithHTTPClient overrides the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// NewClient creates an OpenAlex client. mailto is optional but recommended:
// it identifies us to the polite pool for a higher quota.
func NewClient(mailto string, opts ...Option) *Client {
	c := &Client{
		httpClient: &http.Client{Timeout: 15 * time.Second},
		baseURL:    defaultBaseURL,
		mailto:     mailto,
		limiter:    rate.NewLimiter(rate.Limit(10), 10),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// get issues one GET against the index with retries. 429 and 5xx responses
// and transport errors are retried with exponential backoff; other 4xx are
// returned immediately. A 404 maps to domain.ErrNotFound.
func (c *Client) get(ctx context.Context, path string, params url.Values) ([]byte, error) {
	if c.mailto != "" {
		params.Set("mailto", c.mailto)
	}
	reqURL := fmt.Sprintf("%s%s?%s", c.baseURL, path, params.Encode())

	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if attempt > 0 {
			backoff := time.Duration(1<<attempt) * 250 * time.Millisecond
			backoff += time.Duration(rand.Int63n(int64(backoff / 2)))
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return nil, &domain.UpstreamError{Summary: path, Err: ctx.Err()}
			}
		}

		if err := c.limiter.Wait(ctx); err != nil {
			return nil, &domain.UpstreamError{Summary: path, Err: err}
		}

		body, retryable, err := c.doOnce(ctx, reqURL, path)
		if err == nil {
			return body, nil
		}
		if !retryable {
			return nil, err
		}
		lastErr = err
	}
	return nil, lastErr
}

func (c *Client) doOnce(ctx context.Context, reqURL, summary string) (_ []byte, retryable bool, _ error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, false, fmt.Errorf("failed to create request: %w", err)
	}
	ua := "paperscroll/1.0"
	if c.mailto != "" {
		ua = fmt.Sprintf("paperscroll/1.0 (mailto:%s)", c.mailto)
	}
	req.Header.Set("User-Agent", ua)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return nil, false, &domain.UpstreamError{Summary: summary, Err: err}
		}
		return nil, true, &domain.UpstreamError{Summary: summary, Err: err}
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, true, &domain.UpstreamError{Summary: summary, Err: err}
		}
		return body, false, nil
	case resp.StatusCode == http.StatusNotFound:
		return nil, false, domain.ErrNotFound
	case resp.StatusCode == http.StatusTooManyRequests:
		retryAfter, _ := strconv.Atoi(resp.Header.Get("Retry-After"))
		logging.FromContext(ctx).Warn("openalex rate limited", "path", summary, "retryAfter", retryAfter)
		return nil, true, &domain.UpstreamError{Status: resp.StatusCode, RetryAfter: retryAfter, Summary: summary}
	case resp.StatusCode >= 500:
		return nil, true, &domain.UpstreamError{Status: resp.StatusCode, Summary: summary}
	default:
		body, _ := io.ReadAll(resp.Body)
		return nil, false, &domain.UpstreamError{
			Status:  resp.StatusCode,
			Summary: fmt.Sprintf("%s: %s", summary, truncate(string(body), 200)),
		}
	}
}

func (c *Client) getJSON(ctx context.Context, path string, params url.Values, out any) error {
	body, err := c.get(ctx, path, params)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("failed to parse %s response: %w", path, err)
	}
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
