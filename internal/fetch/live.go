package fetch

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/arcresolve/arcresolve/internal/models"
	"github.com/charmbracelet/log"
	"golang.org/x/time/rate"
)

const (
	liveTimeout = 45 * time.Second
	maxLiveBody = 32 << 20
)

// Renderer loads a page in a real browser and returns its final HTML. It
// exists so the expensive rendering dependency stays behind an interface;
// LiveClient works without one.
type Renderer interface {
	Render(ctx context.Context, url string) (html string, err error)
}

// LiveClient fetches the current version of a URL directly from the web.
// This is the only non-idempotent tier: content may differ between calls.
type LiveClient struct {
	httpClient *http.Client
	renderer   Renderer
	limiter    *rate.Limiter
	logger     *log.Logger
}

// LiveOption adjusts a LiveClient at construction time.
type LiveOption func(*LiveClient)

// WithRenderer enables browser rendering for script-heavy pages.
func WithRenderer(r Renderer) LiveOption {
	return func(c *LiveClient) { c.renderer = r }
}

// WithLiveHTTPClient swaps the underlying HTTP client.
func WithLiveHTTPClient(hc *http.Client) LiveOption {
	return func(c *LiveClient) { c.httpClient = hc }
}

// WithRateLimit caps outgoing live fetches per second.
func WithRateLimit(perSecond float64) LiveOption {
	return func(c *LiveClient) { c.limiter = rate.NewLimiter(rate.Limit(perSecond), 1) }
}

// NewLiveClient creates a live fetcher. The logger may be nil.
func NewLiveClient(logger *log.Logger, opts ...LiveOption) *LiveClient {
	c := &LiveClient{
		httpClient: &http.Client{Timeout: liveTimeout},
		limiter:    rate.NewLimiter(rate.Limit(2), 2),
		logger:     logger,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Fetch retrieves the current content of target. When a renderer is
// configured it is used for HTML pages so script-generated content is
// included. A rate-limit response triggers one backoff-and-retry before the
// tier gives up.
func (c *LiveClient) Fetch(ctx context.Context, target string) ([]byte, string, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, "", &models.NetworkError{Op: "live fetch", Err: err}
	}

	body, mediaType, err := c.fetchOnce(ctx, target)
	if rl, ok := err.(*models.RateLimitError); ok {
		backoff := rl.RetryAfter
		if backoff <= 0 {
			backoff = 5 * time.Second
		}
		if c.logger != nil {
			c.logger.Warn("live fetch rate limited", "url", target, "backoff", backoff)
		}
		select {
		case <-ctx.Done():
			return nil, "", &models.NetworkError{Op: "live fetch", Err: ctx.Err()}
		case <-time.After(backoff):
		}
		body, mediaType, err = c.fetchOnce(ctx, target)
	}
	if err != nil {
		return nil, "", err
	}

	if c.renderer != nil && isHTMLType(mediaType) {
		html, renderErr := c.renderer.Render(ctx, target)
		if renderErr == nil && html != "" {
			return []byte(html), "text/html", nil
		}
		if c.logger != nil {
			c.logger.Warn("renderer failed, keeping plain fetch", "url", target, "err", renderErr)
		}
	}

	return body, mediaType, nil
}

func (c *LiveClient) fetchOnce(ctx context.Context, target string) ([]byte, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36")
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	req.Header.Set("Accept-Language", "en-US,en;q=0.9")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, "", &models.NetworkError{Op: "live fetch", Err: err}
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusGone:
		return nil, "", models.ErrNotFound
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, "", &models.RateLimitError{RetryAfter: retryAfter(resp)}
	case resp.StatusCode >= 400:
		return nil, "", fmt.Errorf("live fetch returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxLiveBody))
	if err != nil {
		return nil, "", &models.NetworkError{Op: "live read", Err: err}
	}

	return body, resp.Header.Get("Content-Type"), nil
}

func retryAfter(resp *http.Response) time.Duration {
	if v := resp.Header.Get("Retry-After"); v != "" {
		if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
			return time.Duration(secs) * time.Second
		}
	}
	return 0
}

func isHTMLType(mediaType string) bool {
	return mediaType == "" ||
		len(mediaType) >= 9 && mediaType[:9] == "text/html" ||
		len(mediaType) >= 21 && mediaType[:21] == "application/xhtml+xml"
}
