package fetch

import (
	"bytes"
	"compress/gzip"
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/arcresolve/arcresolve/internal/cdx"
	"github.com/arcresolve/arcresolve/internal/extract"
	"github.com/arcresolve/arcresolve/internal/models"
)

// warcSegment builds one gzipped response record the way a container file
// stores it.
func warcSegment(t *testing.T, warcType, uri, body string, extra map[string]string) []byte {
	t.Helper()
	httpBlock := ""
	if warcType == "response" {
		httpBlock = fmt.Sprintf("HTTP/1.1 200 OK\r\nContent-Type: text/html\r\nContent-Length: %d\r\n\r\n%s", len(body), body)
	}

	var rec bytes.Buffer
	rec.WriteString("WARC/1.0\r\n")
	fmt.Fprintf(&rec, "WARC-Type: %s\r\n", warcType)
	fmt.Fprintf(&rec, "WARC-Target-URI: %s\r\n", uri)
	for k, v := range extra {
		fmt.Fprintf(&rec, "%s: %s\r\n", k, v)
	}
	fmt.Fprintf(&rec, "Content-Length: %d\r\n\r\n%s", len(httpBlock), httpBlock)

	var gz bytes.Buffer
	zw := gzip.NewWriter(&gz)
	if _, err := zw.Write(rec.Bytes()); err != nil {
		t.Fatalf("gzip write: %v", err)
	}
	zw.Close()
	return gz.Bytes()
}

// testBackend wires httptest servers for all three tiers and returns a
// ready Fetcher.
type testBackend struct {
	index        *httptest.Server
	data         *httptest.Server
	availability *httptest.Server
	live         *httptest.Server

	// handlers swapped per test
	indexFn func(w http.ResponseWriter, r *http.Request)
	dataFn  func(w http.ResponseWriter, r *http.Request)
	availFn func(w http.ResponseWriter, r *http.Request)
	liveFn  func(w http.ResponseWriter, r *http.Request)
}

func newTestBackend(t *testing.T) *testBackend {
	t.Helper()
	b := &testBackend{}
	mk := func(fn *func(http.ResponseWriter, *http.Request)) *httptest.Server {
		return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if *fn == nil {
				http.NotFound(w, r)
				return
			}
			(*fn)(w, r)
		}))
	}
	b.index = mk(&b.indexFn)
	b.data = mk(&b.dataFn)
	b.availability = mk(&b.availFn)
	b.live = mk(&b.liveFn)
	t.Cleanup(func() {
		b.index.Close()
		b.data.Close()
		b.availability.Close()
		b.live.Close()
	})
	return b
}

func (b *testBackend) fetcher() *Fetcher {
	index := cdx.NewClient(nil, cdx.WithBaseURL(b.index.URL))
	snapshots := NewSnapshotClient(nil, WithAvailabilityURL(b.availability.URL))
	live := NewLiveClient(nil, WithRateLimit(1000))
	return New(Config{
		ArchiveID:   "TEST-2024",
		DataBaseURL: b.data.URL,
	}, index, snapshots, live, extract.New(nil), nil)
}

func indexLine(file string, offset, length int) string {
	return fmt.Sprintf(`{"url":"http://example.com/","mime":"text/html","status":"200","digest":"sha1:X","length":"%d","offset":"%d","filename":%q,"timestamp":"20240101000000"}`,
		length, offset, file)
}

func TestResolveArchiveHit(t *testing.T) {
	b := newTestBackend(t)
	segment := warcSegment(t, "response", "http://example.com/",
		`<html><body>archived words <a href="/next">next page</a></body></html>`, nil)

	b.indexFn = func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, indexLine("seg/file.warc.gz", 0, len(segment)))
	}
	b.dataFn = func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Range") == "" {
			t.Error("container fetch must use a byte-range request")
		}
		w.WriteHeader(http.StatusPartialContent)
		w.Write(segment)
	}

	res := b.fetcher().Resolve(context.Background(), "http://example.com/")
	if res.Tier != models.TierArchive {
		t.Fatalf("Tier = %v, want archive (trail: %+v)", res.Tier, res.AttemptedTiers)
	}
	if !strings.Contains(res.Content, "archived words") {
		t.Errorf("Content = %q", res.Content)
	}
	if len(res.AttemptedTiers) != 1 || res.AttemptedTiers[0].Outcome != "hit" {
		t.Errorf("AttemptedTiers = %+v", res.AttemptedTiers)
	}
	if len(res.Links) != 1 || res.Links[0].Target != "http://example.com/next" {
		t.Errorf("Links = %+v, want the resolved /next anchor", res.Links)
	}
}

func TestResolveSkipsRevisit(t *testing.T) {
	b := newTestBackend(t)
	revisit := warcSegment(t, "revisit", "http://example.com/", "", map[string]string{
		"WARC-Refers-To-Payload-Digest": "sha1:EARLIER",
	})
	response := warcSegment(t, "response", "http://example.com/", "<p>original capture</p>", nil)

	b.indexFn = func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, "%s\n%s",
			indexLine("seg/revisit.warc.gz", 0, len(revisit)),
			indexLine("seg/original.warc.gz", 0, len(response)))
	}
	b.dataFn = func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusPartialContent)
		if strings.Contains(r.URL.Path, "revisit") {
			w.Write(revisit)
		} else {
			w.Write(response)
		}
	}

	res := b.fetcher().Resolve(context.Background(), "http://example.com/")
	if res.Tier != models.TierArchive {
		t.Fatalf("Tier = %v, want archive (trail: %+v)", res.Tier, res.AttemptedTiers)
	}
	if !strings.Contains(res.Content, "original capture") {
		t.Errorf("Content = %q, want the non-revisit capture's text", res.Content)
	}
}

func TestResolveFallsBackToSnapshot(t *testing.T) {
	b := newTestBackend(t)
	// Index has nothing; snapshot archive has a capture.
	b.availFn = func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, `{"archived_snapshots":{"closest":{"available":true,"url":"%s/web/20240101000000/http://example.com/","timestamp":"20240101000000","status":"200"}}}`,
			b.availability.URL)
	}
	// The replay fetch goes back to the same test server.
	b.availFn = wrapAvailability(b)

	res := b.fetcher().Resolve(context.Background(), "http://example.com/")
	if res.Tier != models.TierSnapshot {
		t.Fatalf("Tier = %v, want snapshot (trail: %+v)", res.Tier, res.AttemptedTiers)
	}
	if !strings.Contains(res.Content, "snapshot words") {
		t.Errorf("Content = %q", res.Content)
	}

	// Order invariant: archive must have been tried first and failed.
	if len(res.AttemptedTiers) != 2 {
		t.Fatalf("AttemptedTiers = %+v", res.AttemptedTiers)
	}
	if res.AttemptedTiers[0].Tier != models.TierArchive || res.AttemptedTiers[0].Outcome == "hit" {
		t.Errorf("first attempt = %+v, want failed archive attempt", res.AttemptedTiers[0])
	}
	if res.AttemptedTiers[1].Tier != models.TierSnapshot || res.AttemptedTiers[1].Outcome != "hit" {
		t.Errorf("second attempt = %+v", res.AttemptedTiers[1])
	}
}

// wrapAvailability serves both the availability JSON and the raw replay
// content from one handler, asserting the raw-mode flag on replay requests.
func wrapAvailability(b *testBackend) func(http.ResponseWriter, *http.Request) {
	return func(w http.ResponseWriter, r *http.Request) {
		if strings.HasPrefix(r.URL.Path, "/web/") {
			if !strings.Contains(r.URL.Path, "id_") {
				http.Error(w, "replay fetch must suppress the viewer banner", http.StatusBadRequest)
				return
			}
			w.Header().Set("Content-Type", "text/html")
			fmt.Fprint(w, "<html><body>snapshot words</body></html>")
			return
		}
		fmt.Fprintf(w, `{"archived_snapshots":{"closest":{"available":true,"url":"%s/web/20240101000000/http://example.com/","timestamp":"20240101000000","status":"200"}}}`,
			b.availability.URL)
	}
}

func TestResolveAllTiersFail(t *testing.T) {
	b := newTestBackend(t)
	// Index 404s, availability reports nothing saved, live 404s.
	b.availFn = func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"archived_snapshots":{}}`)
	}
	b.liveFn = func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}

	f := b.fetcher()
	res := f.Resolve(context.Background(), b.live.URL+"/missing")

	if res.Tier != models.TierFailed {
		t.Fatalf("Tier = %v, want failed", res.Tier)
	}
	if res.Err == nil {
		t.Error("terminal failure must carry an error value")
	}
	if len(res.AttemptedTiers) != 3 {
		t.Fatalf("AttemptedTiers = %+v, want 3 entries", res.AttemptedTiers)
	}
	wantOrder := []models.Tier{models.TierArchive, models.TierSnapshot, models.TierLive}
	for i, attempt := range res.AttemptedTiers {
		if attempt.Tier != wantOrder[i] {
			t.Errorf("attempt[%d].Tier = %v, want %v", i, attempt.Tier, wantOrder[i])
		}
		if attempt.Err == nil {
			t.Errorf("attempt[%d] has no error detail", i)
		}
	}

	stats := f.Stats()
	for tier, ts := range map[string]TierStats{"archive": stats.Archive, "snapshot": stats.Snapshot, "live": stats.Live} {
		if ts.Attempts != 1 || ts.Failures != 1 || ts.Hits != 0 {
			t.Errorf("%s stats = %+v", tier, ts)
		}
	}
}

func TestResolveLiveHit(t *testing.T) {
	b := newTestBackend(t)
	b.availFn = func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"archived_snapshots":{}}`)
	}
	b.liveFn = func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		fmt.Fprint(w, "<html><body>live words</body></html>")
	}

	f := b.fetcher()
	res := f.Resolve(context.Background(), b.live.URL+"/page")
	if res.Tier != models.TierLive {
		t.Fatalf("Tier = %v, want live (trail: %+v)", res.Tier, res.AttemptedTiers)
	}
	if !strings.Contains(res.Content, "live words") {
		t.Errorf("Content = %q", res.Content)
	}

	stats := f.Stats()
	if stats.Live.Hits != 1 || stats.Live.HitRate != 1.0 {
		t.Errorf("live stats = %+v", stats.Live)
	}
}

func TestResolveMany(t *testing.T) {
	b := newTestBackend(t)
	var inFlight, peak atomic.Int64
	b.availFn = func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"archived_snapshots":{}}`)
	}
	b.liveFn = func(w http.ResponseWriter, r *http.Request) {
		cur := inFlight.Add(1)
		defer inFlight.Add(-1)
		for {
			p := peak.Load()
			if cur <= p || peak.CompareAndSwap(p, cur) {
				break
			}
		}
		w.Header().Set("Content-Type", "text/html")
		fmt.Fprintf(w, "<html><body>page %s</body></html>", r.URL.Path)
	}

	f := b.fetcher()
	urls := make([]string, 12)
	for i := range urls {
		urls[i] = fmt.Sprintf("%s/page-%d", b.live.URL, i)
	}

	results := f.ResolveMany(context.Background(), urls, 3)
	if len(results) != len(urls) {
		t.Fatalf("got %d results, want %d", len(results), len(urls))
	}
	for i, res := range results {
		if res.URL != urls[i] {
			t.Errorf("results[%d].URL = %q, want %q (results must keep input positions)", i, res.URL, urls[i])
		}
		if res.Tier != models.TierLive {
			t.Errorf("results[%d].Tier = %v (trail: %+v)", i, res.Tier, res.AttemptedTiers)
		}
	}

	if p := peak.Load(); p > 3 {
		t.Errorf("peak live concurrency = %d, want <= 3", p)
	}

	stats := f.Stats()
	if stats.Live.Attempts != int64(len(urls)) {
		t.Errorf("live attempts = %d, want %d", stats.Live.Attempts, len(urls))
	}
}

func TestArchiveIdempotent(t *testing.T) {
	b := newTestBackend(t)
	segment := warcSegment(t, "response", "http://example.com/", "<p>stable content</p>", nil)
	b.indexFn = func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, indexLine("seg/file.warc.gz", 0, len(segment)))
	}
	b.dataFn = func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusPartialContent)
		w.Write(segment)
	}

	f := b.fetcher()
	first := f.Resolve(context.Background(), "http://example.com/")
	second := f.Resolve(context.Background(), "http://example.com/")
	if first.Content != second.Content {
		t.Errorf("repeated archive resolution differed: %q vs %q", first.Content, second.Content)
	}
}

func TestRawReplayURL(t *testing.T) {
	tests := []struct {
		replay string
		ts     string
		want   string
	}{
		{
			"http://web.archive.org/web/20130919044612/http://example.com/",
			"20130919044612",
			"http://web.archive.org/web/20130919044612id_/http://example.com/",
		},
		{
			"http://web.archive.org/web/20130919044612id_/http://example.com/",
			"20130919044612",
			"http://web.archive.org/web/20130919044612id_/http://example.com/",
		},
		{"http://web.archive.org/web/x/http://example.com/", "", "http://web.archive.org/web/x/http://example.com/"},
	}
	for _, tt := range tests {
		if got := rawReplayURL(tt.replay, tt.ts); got != tt.want {
			t.Errorf("rawReplayURL(%q, %q) = %q, want %q", tt.replay, tt.ts, got, tt.want)
		}
	}
}

func TestResolveTierBudgetOverrun(t *testing.T) {
	b := newTestBackend(t)
	// The index stalls past the tier budget; the snapshot tier must still
	// get its own fresh budget and succeed.
	b.indexFn = func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(5 * time.Second):
		}
	}
	b.availFn = wrapAvailability(b)

	index := cdx.NewClient(nil, cdx.WithBaseURL(b.index.URL))
	snapshots := NewSnapshotClient(nil, WithAvailabilityURL(b.availability.URL))
	live := NewLiveClient(nil, WithRateLimit(1000))
	f := New(Config{
		ArchiveID:   "TEST-2024",
		DataBaseURL: b.data.URL,
		TierTimeout: 150 * time.Millisecond,
	}, index, snapshots, live, extract.New(nil), nil)

	res := f.Resolve(context.Background(), "http://example.com/")
	if res.Tier != models.TierSnapshot {
		t.Fatalf("Tier = %v, want snapshot (trail: %+v)", res.Tier, res.AttemptedTiers)
	}
	if len(res.AttemptedTiers) != 2 {
		t.Fatalf("AttemptedTiers = %+v", res.AttemptedTiers)
	}
	if res.AttemptedTiers[0].Tier != models.TierArchive || res.AttemptedTiers[0].Outcome != "timeout" {
		t.Errorf("first attempt = %+v, want archive timeout", res.AttemptedTiers[0])
	}
	if res.AttemptedTiers[1].Outcome != "hit" {
		t.Errorf("second attempt = %+v", res.AttemptedTiers[1])
	}

	stats := f.Stats()
	if stats.Archive.Failures != 1 || stats.Snapshot.Hits != 1 {
		t.Errorf("stats = %+v, want one archive failure and one snapshot hit", stats)
	}
}
