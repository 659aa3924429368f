// Package cdx resolves URLs and domain patterns to archive container
// pointers by querying a CDX index service. No container bytes are fetched
// here; callers get (file, offset, length) coordinates and fetch selectively.
package cdx

import (
	"bufio"
	"compress/gzip"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/arcresolve/arcresolve/internal/models"
	"github.com/charmbracelet/log"
	lru "github.com/hashicorp/golang-lru/v2"
)

const (
	defaultBaseURL = "https://index.commoncrawl.org"
	queryTimeout   = 120 * time.Second
	cacheSize      = 256
	maxRetries     = 3
)

// MatchType selects how the index matches the query pattern.
type MatchType string

const (
	MatchExact  MatchType = "exact"
	MatchPrefix MatchType = "prefix"
	MatchHost   MatchType = "host"
	MatchDomain MatchType = "domain"
)

// Filters narrows index results server-side.
type Filters struct {
	Status    int    // match this HTTP status only; 0 = any
	MediaType string // match this MIME type only; "" = any
}

// Client queries a CDX index service. Safe for concurrent use: the page
// cache tolerates racing populates (entries are pure, last write wins).
type Client struct {
	httpClient *http.Client
	baseURL    string
	logger     *log.Logger
	cache      *lru.Cache[string, []models.ArchivePointer]
}

// Option adjusts a Client at construction time.
type Option func(*Client)

// WithBaseURL points the client at a different index endpoint, mainly for
// tests.
func WithBaseURL(base string) Option {
	return func(c *Client) { c.baseURL = strings.TrimSuffix(base, "/") }
}

// WithHTTPClient swaps the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// NewClient creates a CDX index client. The logger may be nil.
func NewClient(logger *log.Logger, opts ...Option) *Client {
	cache, _ := lru.New[string, []models.ArchivePointer](cacheSize)
	c := &Client{
		httpClient: &http.Client{Timeout: queryTimeout},
		baseURL:    defaultBaseURL,
		logger:     logger,
		cache:      cache,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Query returns a lazy iterator over the pointers matching pattern. Pages
// are fetched on demand, so large result sets are never materialized at
// once. The iterator is restartable via Reset.
func (c *Client) Query(ctx context.Context, pattern string, match MatchType, archiveID string, filters Filters, limit int) *Iterator {
	return &Iterator{
		client:    c,
		ctx:       ctx,
		pattern:   pattern,
		match:     match,
		archiveID: archiveID,
		filters:   filters,
		limit:     limit,
		numPages:  -1,
	}
}

// Latest returns up to n pointers for the given URL, most recent capture
// first, restricted to successful captures. Callers that hit a revisit
// record move on to the next pointer.
func (c *Client) Latest(ctx context.Context, target string, archiveID string, n int) ([]models.ArchivePointer, error) {
	if n <= 0 {
		n = 5
	}
	params := c.queryParams(target, MatchExact, Filters{Status: 200}, n)
	params.Set("sort", "reverse")

	pointers, err := c.fetchPage(ctx, archiveID, params, -1)
	if err != nil {
		return nil, err
	}
	if len(pointers) == 0 {
		return nil, models.ErrNotFound
	}
	return pointers, nil
}

// UniqueContainerFiles resolves a domain down to the distinct container
// files its captures live in, preserving first-seen order. This is what lets
// callers fetch a handful of containers instead of a whole archive volume.
func (c *Client) UniqueContainerFiles(ctx context.Context, domain string, archiveID string) ([]string, error) {
	it := c.Query(ctx, domain, MatchDomain, archiveID, Filters{Status: 200}, 0)

	var files []string
	seen := make(map[string]bool)
	for it.Next() {
		p := it.Pointer()
		if p.ContainerFile == "" || seen[p.ContainerFile] {
			continue
		}
		seen[p.ContainerFile] = true
		files = append(files, p.ContainerFile)
	}
	if err := it.Err(); err != nil {
		return nil, err
	}
	return files, nil
}

func (c *Client) queryParams(pattern string, match MatchType, filters Filters, limit int) url.Values {
	params := url.Values{}
	params.Set("url", strings.TrimSpace(pattern))
	params.Set("output", "json")
	if match != "" && match != MatchExact {
		params.Set("matchType", string(match))
	}
	if filters.Status != 0 {
		params.Add("filter", "=status:"+strconv.Itoa(filters.Status))
	}
	if filters.MediaType != "" {
		params.Add("filter", "=mime:"+filters.MediaType)
	}
	if limit > 0 {
		params.Set("limit", strconv.Itoa(limit))
	}
	return params
}

// pageCount asks the index how many result pages the query spans.
func (c *Client) pageCount(ctx context.Context, archiveID string, params url.Values) (int, error) {
	p := url.Values{}
	for k, v := range params {
		p[k] = v
	}
	p.Set("showNumPages", "true")

	body, err := c.get(ctx, archiveID, p)
	if err != nil {
		return 0, err
	}

	var counted struct {
		Pages int `json:"pages"`
	}
	if err := json.Unmarshal(body, &counted); err != nil {
		// Some index deployments answer with the bare number.
		if n, convErr := strconv.Atoi(strings.TrimSpace(string(body))); convErr == nil {
			return n, nil
		}
		return 0, fmt.Errorf("failed to parse page count: %w", err)
	}
	return counted.Pages, nil
}

// fetchPage retrieves one page of pointers, consulting the cache first.
// page < 0 means an unpaginated request.
func (c *Client) fetchPage(ctx context.Context, archiveID string, params url.Values, page int) ([]models.ArchivePointer, error) {
	p := url.Values{}
	for k, v := range params {
		p[k] = v
	}
	if page >= 0 {
		p.Set("page", strconv.Itoa(page))
	}

	key := archiveID + "?" + p.Encode()
	if cached, ok := c.cache.Get(key); ok {
		return cached, nil
	}

	body, err := c.get(ctx, archiveID, p)
	if err != nil {
		return nil, err
	}

	pointers, err := parsePointers(body)
	if err != nil {
		return nil, err
	}

	// Entries are pure; a concurrent populate racing this one just wins.
	c.cache.Add(key, pointers)
	return pointers, nil
}

// get performs the index request with the client's own retry budget for
// rate limiting and transient server errors (backoff 2s, 4s, 8s).
func (c *Client) get(ctx context.Context, archiveID string, params url.Values) ([]byte, error) {
	rawURL := fmt.Sprintf("%s/%s-index?%s", c.baseURL, url.PathEscape(archiveID), params.Encode())

	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			backoff := time.Duration(2<<(attempt-1)) * time.Second
			if c.logger != nil {
				c.logger.Warn("index query retry", "backoff", backoff, "attempt", attempt, "maxRetries", maxRetries)
			}
			select {
			case <-ctx.Done():
				return nil, &models.NetworkError{Op: "index query", Err: ctx.Err()}
			case <-time.After(backoff):
			}
		}

		body, retryable, err := c.getOnce(ctx, rawURL)
		if err == nil {
			return body, nil
		}
		lastErr = err
		if !retryable {
			return nil, err
		}
	}
	return nil, fmt.Errorf("index query failed after %d retries: %w", maxRetries, lastErr)
}

func (c *Client) getOnce(ctx context.Context, rawURL string) (body []byte, retryable bool, err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, false, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36")
	req.Header.Set("Accept", "application/json, text/plain, */*")
	req.Header.Set("Accept-Encoding", "gzip")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, true, &models.NetworkError{Op: "index query", Err: err}
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, false, models.ErrNotFound
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode == http.StatusServiceUnavailable:
		return nil, true, &models.RateLimitError{}
	case resp.StatusCode != http.StatusOK:
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, false, fmt.Errorf("index returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	var reader io.Reader = resp.Body
	if strings.Contains(strings.ToLower(resp.Header.Get("Content-Encoding")), "gzip") {
		gz, err := gzip.NewReader(resp.Body)
		if err != nil {
			return nil, false, fmt.Errorf("failed to create gzip reader: %w", err)
		}
		defer gz.Close()
		reader = gz
	}

	body, err = io.ReadAll(reader)
	if err != nil {
		return nil, true, &models.NetworkError{Op: "index read", Err: err}
	}
	return body, false, nil
}

// cdxLine is one line-delimited JSON record from the index. Numeric fields
// arrive as strings.
type cdxLine struct {
	URL       string `json:"url"`
	Mime      string `json:"mime"`
	Status    string `json:"status"`
	Digest    string `json:"digest"`
	Length    string `json:"length"`
	Offset    string `json:"offset"`
	Filename  string `json:"filename"`
	Timestamp string `json:"timestamp"`
}

func parsePointers(body []byte) ([]models.ArchivePointer, error) {
	var pointers []models.ArchivePointer
	scanner := bufio.NewScanner(strings.NewReader(string(body)))
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var rec cdxLine
		if err := json.Unmarshal([]byte(line), &rec); err != nil {
			// A single bad line does not poison the page.
			continue
		}
		if rec.Filename == "" {
			continue
		}

		offset, err := strconv.ParseInt(rec.Offset, 10, 64)
		if err != nil || offset < 0 {
			continue
		}
		length, err := strconv.ParseInt(rec.Length, 10, 64)
		if err != nil || length <= 0 {
			continue
		}

		p := models.ArchivePointer{
			URL:           rec.URL,
			MediaType:     rec.Mime,
			Digest:        rec.Digest,
			ContainerFile: rec.Filename,
			ByteOffset:    offset,
			ByteLength:    length,
			Timestamp:     rec.Timestamp,
		}
		if code, err := strconv.Atoi(rec.Status); err == nil {
			p.HTTPStatus = code
		}
		pointers = append(pointers, p)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to scan index response: %w", err)
	}
	return pointers, nil
}
