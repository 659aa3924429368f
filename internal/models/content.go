package models

import "time"

// ArchivePointer locates exactly one archived capture inside a remote
// container file. Pointers are returned by the CDX index resolver and are
// immutable once produced.
type ArchivePointer struct {
	URL           string
	MediaType     string
	HTTPStatus    int    // 0 when the index has no status for the capture
	Digest        string // payload digest as reported by the index
	ContainerFile string // object path of the .warc.gz / .wat.gz file
	ByteOffset    int64
	ByteLength    int64
	Timestamp     string // 14-digit format: YYYYMMDDhhmmss
}

// RecordType classifies a parsed container record.
type RecordType int

const (
	// RecordResponse is a full capture with an embedded HTTP response.
	RecordResponse RecordType = iota
	// RecordRevisit references an earlier identical capture by digest
	// and carries no payload of its own.
	RecordRevisit
	// RecordOther covers metadata, request, warcinfo and anything else.
	RecordOther
)

// String returns the lowercase name used in logs and attempt trails.
func (t RecordType) String() string {
	switch t {
	case RecordResponse:
		return "response"
	case RecordRevisit:
		return "revisit"
	default:
		return "other"
	}
}

// Header is a single envelope header. Order is preserved because container
// records are re-serialized byte-exactly in some audit paths.
type Header struct {
	Key   string
	Value string
}

// RawLink is an outbound link projected from a metadata-only record's
// embedded link list.
type RawLink struct {
	Target string
	Anchor string
}

// ParsedRecord is the result of parsing one container record segment.
// Err is set instead of panicking on malformed input; callers must check it
// before using Payload.
type ParsedRecord struct {
	Type       RecordType
	Headers    []Header
	Payload    []byte
	MediaType  string
	HTTPStatus int
	TargetURL  string
	Digest     string
	// RevisitOf holds the digest of the earlier capture a revisit record
	// points back to. Empty for non-revisit records.
	RevisitOf string
	// Links holds the outbound links embedded in metadata-only records.
	Links []RawLink
	Err   error
}

// HeaderValue returns the first value of the named envelope header, or "".
func (r *ParsedRecord) HeaderValue(key string) string {
	for _, h := range r.Headers {
		if h.Key == key {
			return h.Value
		}
	}
	return ""
}

// ExtractionResult is the outcome of text extraction from a payload.
// Success=false is an expected outcome, not a fault; the original bytes stay
// with the caller untouched.
type ExtractionResult struct {
	Success  bool
	Text     string
	Metadata map[string]string
	// Partial marks results whose source bytes hit a known upstream
	// truncation boundary, so emptiness means "cut off", not "absent".
	Partial bool
	Err     error
}

// Tier names one retrieval tier of the cascade.
type Tier string

const (
	TierArchive  Tier = "archive"
	TierSnapshot Tier = "snapshot"
	TierLive     Tier = "live"
	TierFailed   Tier = "failed"
)

// TierAttempt records one tier's outcome inside a cascade.
type TierAttempt struct {
	Tier    Tier
	Outcome string // "hit", or a short failure reason
	Err     error
}

// ResolvedContent is the unit returned to callers of the cascading fetcher.
// Expected failure modes are values, never panics: Tier is TierFailed and
// AttemptedTiers carries per-tier diagnostics.
type ResolvedContent struct {
	URL            string
	Tier           Tier
	Content        string
	MediaType      string
	Partial        bool
	// Links carries the outbound links discovered while resolving, for
	// callers that feed the link graph store.
	Links          []RawLink
	Err            error
	AttemptedTiers []TierAttempt
}

// LinkEdge is one directed link observation. (SourceURL, TargetURL) is the
// uniqueness key; re-observing an edge replaces AnchorText and CrawlDate.
type LinkEdge struct {
	SourceURL  string
	TargetURL  string
	AnchorText string
	CrawlDate  time.Time
}

// URLRecord is the metadata row kept per known URL, upserted on each
// observation.
type URLRecord struct {
	URL       string
	Domain    string
	Title     string
	CrawlDate time.Time
}
