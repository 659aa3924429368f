package fetch

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/arcresolve/arcresolve/internal/models"
	"github.com/charmbracelet/log"
)

const (
	defaultAvailabilityURL = "https://archive.org/wayback/available"
	snapshotTimeout        = 60 * time.Second
	// maxSnapshotBody caps raw capture downloads.
	maxSnapshotBody = 32 << 20
)

// SnapshotClient finds and fetches the closest saved capture of a URL from
// a snapshot-archive service.
type SnapshotClient struct {
	httpClient      *http.Client
	availabilityURL string
	logger          *log.Logger
}

// SnapshotOption adjusts a SnapshotClient at construction time.
type SnapshotOption func(*SnapshotClient)

// WithAvailabilityURL points the client at a different availability
// endpoint, mainly for tests.
func WithAvailabilityURL(u string) SnapshotOption {
	return func(c *SnapshotClient) { c.availabilityURL = u }
}

// WithSnapshotHTTPClient swaps the underlying HTTP client.
func WithSnapshotHTTPClient(hc *http.Client) SnapshotOption {
	return func(c *SnapshotClient) { c.httpClient = hc }
}

// NewSnapshotClient creates a snapshot-archive client. The logger may be
// nil.
func NewSnapshotClient(logger *log.Logger, opts ...SnapshotOption) *SnapshotClient {
	c := &SnapshotClient{
		httpClient:      &http.Client{Timeout: snapshotTimeout},
		availabilityURL: defaultAvailabilityURL,
		logger:          logger,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Capture identifies one saved snapshot of a URL.
type Capture struct {
	Timestamp string
	ReplayURL string
	Status    string
}

type availabilityResponse struct {
	ArchivedSnapshots struct {
		Closest struct {
			Available bool   `json:"available"`
			URL       string `json:"url"`
			Timestamp string `json:"timestamp"`
			Status    string `json:"status"`
		} `json:"closest"`
	} `json:"archived_snapshots"`
}

// Closest queries the availability service for the capture nearest to now.
// models.ErrNotFound means the URL was never captured.
func (c *SnapshotClient) Closest(ctx context.Context, target string) (*Capture, error) {
	reqURL := c.availabilityURL + "?url=" + url.QueryEscape(target)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &models.NetworkError{Op: "snapshot availability", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		return nil, &models.RateLimitError{}
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("availability service returned status %d", resp.StatusCode)
	}

	var avail availabilityResponse
	if err := json.NewDecoder(resp.Body).Decode(&avail); err != nil {
		return nil, fmt.Errorf("failed to parse availability response: %w", err)
	}

	closest := avail.ArchivedSnapshots.Closest
	if !closest.Available || closest.URL == "" {
		return nil, models.ErrNotFound
	}

	return &Capture{
		Timestamp: closest.Timestamp,
		ReplayURL: closest.URL,
		Status:    closest.Status,
	}, nil
}

// FetchRaw downloads the capture body via the replay URL with the raw-mode
// flag set, which suppresses the injected replay banner and rewriting.
// Returns the body and the declared media type.
func (c *SnapshotClient) FetchRaw(ctx context.Context, capture *Capture) ([]byte, string, error) {
	rawURL := rawReplayURL(capture.ReplayURL, capture.Timestamp)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, "", &models.NetworkError{Op: "snapshot fetch", Err: err}
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, "", models.ErrNotFound
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, "", &models.RateLimitError{}
	case resp.StatusCode != http.StatusOK:
		return nil, "", fmt.Errorf("snapshot replay returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxSnapshotBody))
	if err != nil {
		return nil, "", &models.NetworkError{Op: "snapshot read", Err: err}
	}

	return body, resp.Header.Get("Content-Type"), nil
}

// rawReplayURL appends the id_ mode flag to the timestamp segment of a
// replay URL, e.g. /web/20130919044612/http://x -> /web/20130919044612id_/http://x.
func rawReplayURL(replayURL, timestamp string) string {
	if timestamp == "" || strings.Contains(replayURL, timestamp+"id_") {
		return replayURL
	}
	return strings.Replace(replayURL, "/"+timestamp+"/", "/"+timestamp+"id_/", 1)
}
