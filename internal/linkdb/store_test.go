package linkdb

import (
	"testing"
	"time"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(t.TempDir(), nil)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func day(n int) time.Time {
	return time.Date(2024, 1, n, 12, 0, 0, 0, time.UTC)
}

func TestOutlinkInlinkRoundTrip(t *testing.T) {
	store := openTestStore(t)

	err := store.AddURL(Record{
		URL:       "http://s.example/",
		Domain:    "s.example",
		Title:     "Source Page",
		CrawlDate: day(1),
		Outlinks: []Outlink{
			{Target: "http://t1.example/", Anchor: "one"},
			{Target: "http://t2.example/", Anchor: "two"},
		},
	})
	if err != nil {
		t.Fatalf("AddURL failed: %v", err)
	}

	out, err := store.GetOutlinks("http://s.example/")
	if err != nil {
		t.Fatalf("GetOutlinks failed: %v", err)
	}
	if len(out) != 2 {
		t.Fatalf("outlinks = %+v, want 2", out)
	}
	if out[0].Target != "http://t1.example/" || out[0].Anchor != "one" {
		t.Errorf("out[0] = %+v", out[0])
	}

	in, err := store.GetInlinks("http://t1.example/")
	if err != nil {
		t.Fatalf("GetInlinks failed: %v", err)
	}
	if len(in) != 1 || in[0].SourceURL != "http://s.example/" {
		t.Fatalf("inlinks = %+v", in)
	}
	if in[0].Title != "Source Page" || in[0].Domain != "s.example" {
		t.Errorf("inlink metadata = %+v", in[0])
	}
}

func TestUpsertInvariant(t *testing.T) {
	store := openTestStore(t)

	for i, anchor := range []string{"first", "second", "final"} {
		err := store.AddURL(Record{
			URL:       "http://s.example/",
			Domain:    "s.example",
			CrawlDate: day(i + 1),
			Outlinks:  []Outlink{{Target: "http://t.example/", Anchor: anchor}},
		})
		if err != nil {
			t.Fatalf("AddURL #%d failed: %v", i, err)
		}
	}

	out, err := store.GetOutlinks("http://s.example/")
	if err != nil {
		t.Fatalf("GetOutlinks failed: %v", err)
	}
	if len(out) != 1 {
		t.Fatalf("edge duplicated: %+v", out)
	}
	if out[0].Anchor != "final" {
		t.Errorf("anchor = %q, want most recently written", out[0].Anchor)
	}
}

func TestGetRelated(t *testing.T) {
	store := openTestStore(t)

	add := func(src string, n int, targets ...string) {
		t.Helper()
		var outs []Outlink
		for _, target := range targets {
			outs = append(outs, Outlink{Target: target})
		}
		if err := store.AddURL(Record{URL: src, Domain: "example", CrawlDate: day(n), Outlinks: outs}); err != nil {
			t.Fatalf("AddURL(%s) failed: %v", src, err)
		}
	}

	// s1 -> {a,b}; s2 -> {a,c}; s3 -> {a,b,c}
	add("http://s1.example/", 1, "http://a.example/", "http://b.example/")
	add("http://s2.example/", 2, "http://a.example/", "http://c.example/")
	add("http://s3.example/", 3, "http://a.example/", "http://b.example/", "http://c.example/")

	related, err := store.GetRelated("http://s1.example/", 2)
	if err != nil {
		t.Fatalf("GetRelated failed: %v", err)
	}
	if len(related) != 2 {
		t.Fatalf("related = %+v, want 2 entries", related)
	}
	if related[0].URL != "http://s3.example/" || related[0].SharedLinks != 2 {
		t.Errorf("related[0] = %+v, want s3 with 2 shared targets", related[0])
	}
	if related[1].URL != "http://s2.example/" || related[1].SharedLinks != 1 {
		t.Errorf("related[1] = %+v, want s2 with 1 shared target", related[1])
	}
	for _, r := range related {
		if r.URL == "http://s1.example/" {
			t.Error("GetRelated must exclude the queried URL")
		}
	}
}

func TestGetDomainLinks(t *testing.T) {
	store := openTestStore(t)

	if err := store.AddURL(Record{
		URL:       "http://page.mysite.example/x",
		Domain:    "mysite.example",
		CrawlDate: day(1),
		Outlinks:  []Outlink{{Target: "http://elsewhere.example/"}},
	}); err != nil {
		t.Fatalf("AddURL failed: %v", err)
	}
	if err := store.AddURL(Record{
		URL:       "http://other.example/",
		Domain:    "other.example",
		CrawlDate: day(2),
		Outlinks:  []Outlink{{Target: "https://www.mysite.example/page"}},
	}); err != nil {
		t.Fatalf("AddURL failed: %v", err)
	}

	out, err := store.GetDomainLinks("mysite.example", Outlinks)
	if err != nil {
		t.Fatalf("GetDomainLinks(out) failed: %v", err)
	}
	if len(out) != 1 || out[0].TargetURL != "http://elsewhere.example/" {
		t.Errorf("domain outlinks = %+v", out)
	}

	in, err := store.GetDomainLinks("mysite.example", Inlinks)
	if err != nil {
		t.Fatalf("GetDomainLinks(in) failed: %v", err)
	}
	if len(in) != 1 || in[0].SourceURL != "http://other.example/" {
		t.Errorf("domain inlinks = %+v", in)
	}
}

func TestSearch(t *testing.T) {
	store := openTestStore(t)

	records := []Record{
		{URL: "http://alpha.example/reports", Domain: "alpha.example", Title: "Annual Report", CrawlDate: day(1)},
		{URL: "http://beta.example/", Domain: "beta.example", Title: "Beta Home", CrawlDate: day(2)},
	}
	if err := store.AddURLsBatch(records); err != nil {
		t.Fatalf("AddURLsBatch failed: %v", err)
	}

	byTitle, err := store.Search("Annual")
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	if len(byTitle) != 1 || byTitle[0].URL != "http://alpha.example/reports" {
		t.Errorf("Search(Annual) = %+v", byTitle)
	}

	byURL, err := store.Search("beta.example")
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	if len(byURL) != 1 || byURL[0].Title != "Beta Home" {
		t.Errorf("Search(beta.example) = %+v", byURL)
	}
}

func TestBatchChunking(t *testing.T) {
	store := openTestStore(t)

	var records []Record
	for i := 0; i < batchChunkSize+50; i++ {
		records = append(records, Record{
			URL:       "http://bulk.example/page" + time.Date(2024, 1, 1, 0, 0, i, 0, time.UTC).Format("150405"),
			Domain:    "bulk.example",
			CrawlDate: day(1),
		})
	}
	if err := store.AddURLsBatch(records); err != nil {
		t.Fatalf("AddURLsBatch failed: %v", err)
	}

	results, err := store.Search("bulk.example")
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	if len(results) == 0 {
		t.Fatal("batch import wrote nothing")
	}
}

func TestManagerNamespaces(t *testing.T) {
	mgr := NewManager(t.TempDir(), nil)
	defer mgr.Close()

	a, err := mgr.Get("project-a")
	if err != nil {
		t.Fatalf("Get(project-a) failed: %v", err)
	}
	b, err := mgr.Get("project-b")
	if err != nil {
		t.Fatalf("Get(project-b) failed: %v", err)
	}

	if err := a.AddURL(Record{URL: "http://only-a.example/", Domain: "only-a.example", CrawlDate: day(1)}); err != nil {
		t.Fatalf("AddURL failed: %v", err)
	}

	got, err := b.Search("only-a")
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	if len(got) != 0 {
		t.Error("namespaces must be isolated")
	}

	again, err := mgr.Get("project-a")
	if err != nil {
		t.Fatalf("Get(project-a) again failed: %v", err)
	}
	if again != a {
		t.Error("manager must reuse the open store handle")
	}

	if _, err := mgr.Get("../escape"); err == nil {
		t.Error("namespace with path separators must be rejected")
	}
}

func TestGetInlinksNewestFirst(t *testing.T) {
	store := openTestStore(t)

	// Three sources link to the same target on different days.
	records := []Record{
		{URL: "http://old.example/", Domain: "old.example", CrawlDate: day(1),
			Outlinks: []Outlink{{Target: "http://t.example/"}}},
		{URL: "http://new.example/", Domain: "new.example", CrawlDate: day(3),
			Outlinks: []Outlink{{Target: "http://t.example/"}}},
		{URL: "http://mid.example/", Domain: "mid.example", CrawlDate: day(2),
			Outlinks: []Outlink{{Target: "http://t.example/"}}},
	}
	for _, rec := range records {
		if err := store.AddURL(rec); err != nil {
			t.Fatalf("AddURL failed: %v", err)
		}
	}

	in, err := store.GetInlinks("http://t.example/")
	if err != nil {
		t.Fatalf("GetInlinks failed: %v", err)
	}
	want := []string{"http://new.example/", "http://mid.example/", "http://old.example/"}
	if len(in) != len(want) {
		t.Fatalf("inlinks = %+v, want %d", in, len(want))
	}
	for i, w := range want {
		if in[i].SourceURL != w {
			t.Errorf("in[%d] = %s, want %s (newest first)", i, in[i].SourceURL, w)
		}
	}
}

func TestGetRelatedTieBreakByCrawlDate(t *testing.T) {
	store := openTestStore(t)

	// s2 and s3 each share exactly one target with s1; the later-crawled
	// s3 must win the tie.
	records := []Record{
		{URL: "http://s1.example/", Domain: "s1.example", CrawlDate: day(1),
			Outlinks: []Outlink{{Target: "http://a.example/"}, {Target: "http://b.example/"}}},
		{URL: "http://s2.example/", Domain: "s2.example", CrawlDate: day(2),
			Outlinks: []Outlink{{Target: "http://a.example/"}}},
		{URL: "http://s3.example/", Domain: "s3.example", CrawlDate: day(5),
			Outlinks: []Outlink{{Target: "http://b.example/"}}},
	}
	for _, rec := range records {
		if err := store.AddURL(rec); err != nil {
			t.Fatalf("AddURL failed: %v", err)
		}
	}

	related, err := store.GetRelated("http://s1.example/", 10)
	if err != nil {
		t.Fatalf("GetRelated failed: %v", err)
	}
	if len(related) != 2 {
		t.Fatalf("related = %+v, want 2", related)
	}
	if related[0].URL != "http://s3.example/" || related[1].URL != "http://s2.example/" {
		t.Errorf("order = [%s, %s], want most recently crawled first on equal counts",
			related[0].URL, related[1].URL)
	}
	if related[0].SharedLinks != 1 || related[1].SharedLinks != 1 {
		t.Errorf("shared counts = %+v, want 1 and 1", related)
	}
}
