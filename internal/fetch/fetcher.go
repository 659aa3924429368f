// Package fetch resolves URLs to usable content by cascading through
// retrieval tiers in strict cost-ascending order: bulk archive, snapshot
// archive, live fetch. Tier failures are recorded, never raised; terminal
// failure is a normal return value carrying the full attempt trail.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/arcresolve/arcresolve/internal/cdx"
	"github.com/arcresolve/arcresolve/internal/extract"
	"github.com/arcresolve/arcresolve/internal/models"
	"github.com/arcresolve/arcresolve/internal/warc"
	"github.com/charmbracelet/log"
)

const (
	defaultDataBaseURL    = "https://data.commoncrawl.org"
	defaultTierTimeout    = 60 * time.Second
	defaultCandidateLimit = 5
)

// Config carries the fetcher's tunables.
type Config struct {
	// ArchiveID names the bulk-archive crawl the CDX index is queried
	// against, e.g. "CC-MAIN-2024-33".
	ArchiveID string
	// DataBaseURL is the object host container files are range-fetched
	// from.
	DataBaseURL string
	// TierTimeout is each tier's own budget; overrunning it fails that
	// tier only.
	TierTimeout time.Duration
	// CandidateLimit bounds how many index pointers tier 1 tries before
	// giving up (revisit records are skipped, so more than one may be
	// needed).
	CandidateLimit int
}

func (c *Config) withDefaults() Config {
	out := *c
	if out.DataBaseURL == "" {
		out.DataBaseURL = defaultDataBaseURL
	}
	if out.TierTimeout <= 0 {
		out.TierTimeout = defaultTierTimeout
	}
	if out.CandidateLimit <= 0 {
		out.CandidateLimit = defaultCandidateLimit
	}
	return out
}

// Fetcher runs the tier cascade. All collaborators are injected at
// construction; the stats object is owned by this instance.
type Fetcher struct {
	cfg       Config
	index     *cdx.Client
	snapshots *SnapshotClient
	live      *LiveClient
	extractor *extract.Extractor
	ranges    *http.Client
	stats     *Stats
	logger    *log.Logger
}

// New creates a Fetcher. The logger may be nil.
func New(cfg Config, index *cdx.Client, snapshots *SnapshotClient, live *LiveClient, extractor *extract.Extractor, logger *log.Logger) *Fetcher {
	cfg = cfg.withDefaults()
	return &Fetcher{
		cfg:       cfg,
		index:     index,
		snapshots: snapshots,
		live:      live,
		extractor: extractor,
		ranges:    &http.Client{Timeout: cfg.TierTimeout},
		stats:     &Stats{},
		logger:    logger,
	}
}

// Stats returns a snapshot of this fetcher's per-tier counters.
func (f *Fetcher) Stats() StatsSnapshot {
	return f.stats.Snapshot()
}

type tierResult struct {
	content   string
	mediaType string
	partial   bool
	links     []models.RawLink
}

// Resolve runs the cascade for one URL. Tiers always run in the fixed order
// archive, snapshot, live; a tier's failure is recorded and the next tier
// tried. When all three fail the result has Tier "failed" and the per-tier
// trail explains why.
func (f *Fetcher) Resolve(ctx context.Context, target string) models.ResolvedContent {
	result := models.ResolvedContent{URL: target}

	tiers := []struct {
		tier models.Tier
		run  func(context.Context, string) (*tierResult, error)
	}{
		{models.TierArchive, f.tryArchive},
		{models.TierSnapshot, f.trySnapshot},
		{models.TierLive, f.tryLive},
	}

	for _, t := range tiers {
		f.stats.recordAttempt(t.tier)

		tierCtx, cancel := context.WithTimeout(ctx, f.cfg.TierTimeout)
		res, err := t.run(tierCtx, target)
		cancel()

		if err == nil {
			f.stats.recordHit(t.tier)
			result.Tier = t.tier
			result.Content = res.content
			result.MediaType = res.mediaType
			result.Partial = res.partial
			result.Links = res.links
			result.AttemptedTiers = append(result.AttemptedTiers, models.TierAttempt{Tier: t.tier, Outcome: "hit"})
			return result
		}

		f.stats.recordFailure(t.tier)
		if f.logger != nil {
			f.logger.Debug("tier failed", "tier", t.tier, "url", target, "err", err)
		}
		result.AttemptedTiers = append(result.AttemptedTiers, models.TierAttempt{
			Tier:    t.tier,
			Outcome: failureReason(err),
			Err:     err,
		})
	}

	result.Tier = models.TierFailed
	result.Err = fmt.Errorf("all tiers failed for %s", target)
	return result
}

// ResolveMany runs independent cascades concurrently under a bounded worker
// limit. Results are positioned by input index; there is no cross-URL
// ordering guarantee in time, but each URL's own tier order is preserved.
func (f *Fetcher) ResolveMany(ctx context.Context, urls []string, maxConcurrency int) []models.ResolvedContent {
	if maxConcurrency <= 0 {
		maxConcurrency = 4
	}

	results := make([]models.ResolvedContent, len(urls))
	sem := make(chan struct{}, maxConcurrency)
	var wg sync.WaitGroup

	for i, u := range urls {
		wg.Add(1)
		go func(i int, u string) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()
			results[i] = f.Resolve(ctx, u)
		}(i, u)
	}
	wg.Wait()

	return results
}

// tryArchive is tier 1: index lookup, byte-range container fetch, record
// parse, extraction. Revisit records are surfaced by the parser and skipped
// here in favor of the next candidate pointer.
func (f *Fetcher) tryArchive(ctx context.Context, target string) (*tierResult, error) {
	pointers, err := f.index.Latest(ctx, target, f.cfg.ArchiveID, f.cfg.CandidateLimit)
	if err != nil {
		return nil, fmt.Errorf("index lookup: %w", err)
	}

	var lastErr error
	for _, p := range pointers {
		segment, err := f.fetchRange(ctx, p)
		if err != nil {
			lastErr = err
			continue
		}

		rec := warc.Parse(segment)
		if rec.Err != nil {
			lastErr = rec.Err
			continue
		}
		if rec.Type == models.RecordRevisit {
			// Identical payload stored earlier under rec.RevisitOf; the
			// next candidate is the capture that actually has bytes.
			lastErr = fmt.Errorf("revisit record (refers to %s)", rec.RevisitOf)
			continue
		}
		if len(rec.Payload) == 0 {
			lastErr = fmt.Errorf("record has no payload")
			continue
		}

		mediaType := rec.MediaType
		if mediaType == "" {
			mediaType = p.MediaType
		}
		res := f.extractor.Extract(rec.Payload, mediaType)
		if !res.Success {
			lastErr = res.Err
			continue
		}
		links := rec.Links
		if len(links) == 0 {
			links = discoverLinks(rec.Payload, mediaType, target)
		}
		return &tierResult{content: res.Text, mediaType: mediaType, partial: res.Partial, links: links}, nil
	}

	if lastErr == nil {
		lastErr = models.ErrNotFound
	}
	return nil, lastErr
}

// fetchRange retrieves exactly one record's byte span from a container
// file.
func (f *Fetcher) fetchRange(ctx context.Context, p models.ArchivePointer) ([]byte, error) {
	rawURL := strings.TrimSuffix(f.cfg.DataBaseURL, "/") + "/" + strings.TrimPrefix(p.ContainerFile, "/")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create range request: %w", err)
	}
	req.Header.Set("Range", fmt.Sprintf("bytes=%d-%d", p.ByteOffset, p.ByteOffset+p.ByteLength-1))

	resp, err := f.ranges.Do(req)
	if err != nil {
		return nil, &models.NetworkError{Op: "container range fetch", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusPartialContent && resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("container fetch returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, p.ByteLength))
	if err != nil {
		return nil, &models.NetworkError{Op: "container range read", Err: err}
	}
	return body, nil
}

// trySnapshot is tier 2: closest capture via the availability service, raw
// replay fetch, extraction.
func (f *Fetcher) trySnapshot(ctx context.Context, target string) (*tierResult, error) {
	capture, err := f.snapshots.Closest(ctx, target)
	if err != nil {
		return nil, fmt.Errorf("snapshot lookup: %w", err)
	}

	body, mediaType, err := f.snapshots.FetchRaw(ctx, capture)
	if err != nil {
		return nil, fmt.Errorf("snapshot fetch: %w", err)
	}

	res := f.extractor.Extract(body, mediaType)
	if !res.Success {
		return nil, res.Err
	}
	return &tierResult{
		content:   res.Text,
		mediaType: mediaType,
		partial:   res.Partial,
		links:     discoverLinks(body, mediaType, target),
	}, nil
}

// tryLive is tier 3, the only non-idempotent tier.
func (f *Fetcher) tryLive(ctx context.Context, target string) (*tierResult, error) {
	body, mediaType, err := f.live.Fetch(ctx, target)
	if err != nil {
		return nil, fmt.Errorf("live fetch: %w", err)
	}

	res := f.extractor.Extract(body, mediaType)
	if !res.Success {
		return nil, res.Err
	}
	return &tierResult{
		content:   res.Text,
		mediaType: mediaType,
		partial:   res.Partial,
		links:     discoverLinks(body, mediaType, target),
	}, nil
}

// discoverLinks pulls outbound anchors from HTML payloads so callers can
// feed the link graph. Non-HTML content yields nothing.
func discoverLinks(payload []byte, mediaType, baseURL string) []models.RawLink {
	if !isHTMLType(mediaType) {
		return nil
	}
	links, err := extract.Links(payload, baseURL)
	if err != nil {
		return nil
	}
	return links
}

// failureReason condenses an error into the short outcome label kept in the
// attempt trail.
func failureReason(err error) string {
	switch {
	case errors.Is(err, models.ErrNotFound):
		return "not found"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	default:
		var rl *models.RateLimitError
		var parseErr *models.ParseError
		var decErr *models.DecompressionError
		var extErr *models.ExtractionError
		var netErr *models.NetworkError
		switch {
		case errors.As(err, &rl):
			return "rate limited"
		case errors.As(err, &parseErr), errors.As(err, &decErr):
			return "parse error"
		case errors.As(err, &extErr):
			return "extraction failed"
		case errors.As(err, &netErr):
			return "network error"
		}
		return "error"
	}
}
