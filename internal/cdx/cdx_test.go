package cdx

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/arcresolve/arcresolve/internal/models"
)

func cdxLineJSON(url, file string, offset, length int) string {
	return fmt.Sprintf(`{"urlkey":"x","timestamp":"20240101000000","url":%q,"mime":"text/html","status":"200","digest":"sha1:AAA","length":"%d","offset":"%d","filename":%q}`,
		url, length, offset, file)
}

// newIndexServer serves a two-page CDX index for pattern queries and counts
// requests.
func newIndexServer(t *testing.T, requests *atomic.Int64) *httptest.Server {
	t.Helper()
	pages := [][]string{
		{
			cdxLineJSON("http://example.com/a", "crawl/seg1/file1.warc.gz", 0, 100),
			cdxLineJSON("http://example.com/b", "crawl/seg1/file1.warc.gz", 200, 100),
		},
		{
			cdxLineJSON("http://sub.example.com/c", "crawl/seg2/file2.warc.gz", 0, 100),
			"not json at all",
			cdxLineJSON("http://example.com/d", "crawl/seg1/file1.warc.gz", 400, 100),
		},
	}

	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		if !strings.HasPrefix(r.URL.Path, "/TEST-2024-index") {
			http.NotFound(w, r)
			return
		}
		q := r.URL.Query()
		if q.Get("showNumPages") == "true" {
			fmt.Fprintf(w, `{"pages": %d, "pageSize": 2}`, len(pages))
			return
		}
		page := 0
		if p := q.Get("page"); p != "" {
			fmt.Sscanf(p, "%d", &page)
		}
		if page >= len(pages) {
			http.Error(w, "page out of range", http.StatusBadRequest)
			return
		}
		fmt.Fprint(w, strings.Join(pages[page], "\n"))
	}))
}

func TestQueryPagination(t *testing.T) {
	var requests atomic.Int64
	srv := newIndexServer(t, &requests)
	defer srv.Close()

	client := NewClient(nil, WithBaseURL(srv.URL))
	it := client.Query(context.Background(), "example.com", MatchDomain, "TEST-2024", Filters{}, 0)

	var urls []string
	for it.Next() {
		urls = append(urls, it.Pointer().URL)
	}
	if err := it.Err(); err != nil {
		t.Fatalf("iterator error: %v", err)
	}

	want := []string{
		"http://example.com/a",
		"http://example.com/b",
		"http://sub.example.com/c",
		"http://example.com/d",
	}
	if len(urls) != len(want) {
		t.Fatalf("got %d pointers, want %d: %v", len(urls), len(want), urls)
	}
	for i := range want {
		if urls[i] != want[i] {
			t.Errorf("urls[%d] = %q, want %q", i, urls[i], want[i])
		}
	}
}

func TestQueryLimit(t *testing.T) {
	var requests atomic.Int64
	srv := newIndexServer(t, &requests)
	defer srv.Close()

	client := NewClient(nil, WithBaseURL(srv.URL))
	it := client.Query(context.Background(), "example.com", MatchDomain, "TEST-2024", Filters{}, 3)

	count := 0
	for it.Next() {
		count++
	}
	if err := it.Err(); err != nil {
		t.Fatalf("iterator error: %v", err)
	}
	if count != 3 {
		t.Errorf("got %d pointers, want 3", count)
	}
}

func TestIteratorReset(t *testing.T) {
	var requests atomic.Int64
	srv := newIndexServer(t, &requests)
	defer srv.Close()

	client := NewClient(nil, WithBaseURL(srv.URL))
	it := client.Query(context.Background(), "example.com", MatchDomain, "TEST-2024", Filters{}, 0)

	first := 0
	for it.Next() {
		first++
	}
	it.Reset()
	second := 0
	for it.Next() {
		second++
	}
	if first != second {
		t.Errorf("restarted iterator yielded %d pointers, first pass yielded %d", second, first)
	}
}

func TestPageCacheAvoidsRefetch(t *testing.T) {
	var requests atomic.Int64
	srv := newIndexServer(t, &requests)
	defer srv.Close()

	client := NewClient(nil, WithBaseURL(srv.URL))
	drain := func() {
		it := client.Query(context.Background(), "example.com", MatchDomain, "TEST-2024", Filters{}, 0)
		for it.Next() {
		}
		if err := it.Err(); err != nil {
			t.Fatalf("iterator error: %v", err)
		}
	}

	drain()
	after := requests.Load()
	drain()
	// Second drain still asks for the page count, but data pages come from
	// the cache.
	if got := requests.Load(); got != after+1 {
		t.Errorf("requests after cached drain = %d, want %d", got, after+1)
	}
}

func TestUniqueContainerFiles(t *testing.T) {
	var requests atomic.Int64
	srv := newIndexServer(t, &requests)
	defer srv.Close()

	client := NewClient(nil, WithBaseURL(srv.URL))
	files, err := client.UniqueContainerFiles(context.Background(), "example.com", "TEST-2024")
	if err != nil {
		t.Fatalf("UniqueContainerFiles failed: %v", err)
	}

	want := []string{"crawl/seg1/file1.warc.gz", "crawl/seg2/file2.warc.gz"}
	if len(files) != len(want) {
		t.Fatalf("files = %v, want %v", files, want)
	}
	for i := range want {
		if files[i] != want[i] {
			t.Errorf("files[%d] = %q, want %q", i, files[i], want[i])
		}
	}
}

func TestLatestNotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer srv.Close()

	client := NewClient(nil, WithBaseURL(srv.URL))
	_, err := client.Latest(context.Background(), "http://nowhere.example/", "TEST-2024", 3)
	if !errors.Is(err, models.ErrNotFound) {
		t.Errorf("error = %v, want ErrNotFound", err)
	}
}

func TestLatest(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if q.Get("sort") != "reverse" {
			t.Errorf("missing sort=reverse, got query %q", r.URL.RawQuery)
		}
		if q.Get("filter") != "=status:200" {
			t.Errorf("missing status filter, got query %q", r.URL.RawQuery)
		}
		fmt.Fprint(w, cdxLineJSON("http://example.com/", "crawl/seg1/file1.warc.gz", 0, 100))
	}))
	defer srv.Close()

	client := NewClient(nil, WithBaseURL(srv.URL))
	pointers, err := client.Latest(context.Background(), "http://example.com/", "TEST-2024", 3)
	if err != nil {
		t.Fatalf("Latest failed: %v", err)
	}
	if len(pointers) != 1 || pointers[0].ContainerFile != "crawl/seg1/file1.warc.gz" {
		t.Errorf("pointers = %+v", pointers)
	}
}

func TestParsePointersSkipsMalformed(t *testing.T) {
	body := strings.Join([]string{
		cdxLineJSON("http://a.example/", "f.warc.gz", 10, 20),
		`{"url":"http://b.example/","offset":"-5","length":"20","filename":"f.warc.gz"}`,
		`{"url":"http://c.example/","offset":"0","length":"0","filename":"f.warc.gz"}`,
		`{"url":"http://d.example/","offset":"0","length":"10"}`,
		"",
	}, "\n")

	pointers, err := parsePointers([]byte(body))
	if err != nil {
		t.Fatalf("parsePointers failed: %v", err)
	}
	if len(pointers) != 1 {
		t.Fatalf("got %d pointers, want 1 (invalid offset/length/filename dropped)", len(pointers))
	}
	if pointers[0].URL != "http://a.example/" {
		t.Errorf("pointer = %+v", pointers[0])
	}
}

func TestQueryEmptyResultSet(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("showNumPages") == "true" {
			fmt.Fprint(w, `{"pages": 1}`)
			return
		}
		// 200 with no matching lines: the sequence just ends.
	}))
	defer srv.Close()

	client := NewClient(nil, WithBaseURL(srv.URL))
	it := client.Query(context.Background(), "http://nothing.example/", MatchExact, "TEST-2024", Filters{}, 0)
	if it.Next() {
		t.Fatalf("Next = true for an empty result set, pointer %+v", it.Pointer())
	}
	if err := it.Err(); err != nil {
		t.Fatalf("Err = %v, want nil for an empty result set", err)
	}
}
