package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/arcresolve/arcresolve/internal/cdx"
	"github.com/arcresolve/arcresolve/internal/config"
	"github.com/arcresolve/arcresolve/internal/extract"
	"github.com/arcresolve/arcresolve/internal/fetch"
	"github.com/arcresolve/arcresolve/internal/linkdb"
	"github.com/arcresolve/arcresolve/internal/models"
)

func main() {
	// Load .env file if it exists (silently ignore if not found)
	_ = godotenv.Load()

	urlFlag := flag.String("url", "", "Single URL to resolve")
	fileFlag := flag.String("file", "", "File of URLs to resolve, one per line")
	archiveFlag := flag.String("archive", "", "Archive crawl ID (overrides ARC_ARCHIVE_ID)")
	namespaceFlag := flag.String("store", "", "Link-graph namespace to persist discovered links into (optional)")
	concurrencyFlag := flag.Int("concurrency", 0, "Max concurrent resolutions in batch mode")
	textFlag := flag.Bool("text", false, "Print extracted text instead of the summary line")
	statsFlag := flag.Bool("stats", false, "Print per-tier fetch stats after resolving")
	flag.Parse()

	// Also accept the URL as a positional argument
	if *urlFlag == "" && flag.NArg() > 0 {
		*urlFlag = flag.Arg(0)
	}

	cfg := config.Load()
	if *archiveFlag != "" {
		cfg.ArchiveID = *archiveFlag
	}
	if *concurrencyFlag > 0 {
		cfg.MaxConcurrency = *concurrencyFlag
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		os.Exit(1)
	}
	logger := cfg.NewLogger()

	if *urlFlag == "" && *fileFlag == "" {
		fmt.Fprintln(os.Stderr, "usage: arcresolve [-url URL | -file urls.txt] [flags]")
		flag.PrintDefaults()
		os.Exit(1)
	}

	urls, err := collectURLs(*urlFlag, *fileFlag)
	if err != nil {
		logger.Error("failed to read URL list", "err", err)
		os.Exit(1)
	}
	if len(urls) == 0 {
		logger.Error("no URLs to resolve")
		os.Exit(1)
	}

	var cdxOpts []cdx.Option
	if cfg.IndexBaseURL != "" {
		cdxOpts = append(cdxOpts, cdx.WithBaseURL(cfg.IndexBaseURL))
	}
	index := cdx.NewClient(logger, cdxOpts...)

	var snapOpts []fetch.SnapshotOption
	if cfg.AvailabilityURL != "" {
		snapOpts = append(snapOpts, fetch.WithAvailabilityURL(cfg.AvailabilityURL))
	}
	snapshots := fetch.NewSnapshotClient(logger, snapOpts...)

	var liveOpts []fetch.LiveOption
	if cfg.RenderJS {
		liveOpts = append(liveOpts, fetch.WithRenderer(&fetch.ChromeRenderer{
			ChromePath: cfg.ChromePath,
			Logger:     logger,
		}))
	}
	live := fetch.NewLiveClient(logger, liveOpts...)

	fetcher := fetch.New(fetch.Config{
		ArchiveID:   cfg.ArchiveID,
		DataBaseURL: cfg.DataBaseURL,
		TierTimeout: cfg.TierTimeout,
	}, index, snapshots, live, extract.New(logger), logger)

	var store *linkdb.Store
	var manager *linkdb.Manager
	if *namespaceFlag != "" {
		manager = linkdb.NewManager(cfg.LinkDBRoot, logger)
		defer manager.Close()
		store, err = manager.Get(*namespaceFlag)
		if err != nil {
			logger.Error("failed to open link store", "namespace", *namespaceFlag, "err", err)
			os.Exit(1)
		}
	}

	ctx := context.Background()

	var results []models.ResolvedContent
	if len(urls) == 1 {
		results = []models.ResolvedContent{fetcher.Resolve(ctx, urls[0])}
	} else {
		results = fetcher.ResolveMany(ctx, urls, cfg.MaxConcurrency)
	}

	failed := 0
	for _, res := range results {
		printResult(res, *textFlag)
		if res.Err != nil {
			failed++
			continue
		}
		if store != nil && len(res.Links) > 0 {
			if err := store.AddURL(graphRecord(res)); err != nil {
				logger.Warn("failed to persist links", "url", res.URL, "err", err)
			}
		}
	}

	if *statsFlag {
		printStats(fetcher.Stats())
	}

	if failed == len(results) {
		os.Exit(1)
	}
}

func collectURLs(single, file string) ([]string, error) {
	var urls []string
	if single != "" {
		urls = append(urls, single)
	}
	if file != "" {
		f, err := os.Open(file)
		if err != nil {
			return nil, err
		}
		defer f.Close()

		scanner := bufio.NewScanner(f)
		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			if line == "" || strings.HasPrefix(line, "#") {
				continue
			}
			urls = append(urls, line)
		}
		if err := scanner.Err(); err != nil {
			return nil, err
		}
	}
	return urls, nil
}

func graphRecord(res models.ResolvedContent) linkdb.Record {
	domain, err := cdx.ExtractRootDomain(res.URL)
	if err != nil {
		domain = cdx.Hostname(res.URL)
	}
	rec := linkdb.Record{
		URL:       res.URL,
		Domain:    domain,
		CrawlDate: time.Now().UTC(),
	}
	for _, l := range res.Links {
		rec.Outlinks = append(rec.Outlinks, linkdb.Outlink{Target: l.Target, Anchor: l.Anchor})
	}
	return rec
}

func printResult(res models.ResolvedContent, fullText bool) {
	if res.Err != nil {
		fmt.Printf("✗ %s: %v\n", res.URL, res.Err)
		for _, at := range res.AttemptedTiers {
			fmt.Printf("    %-8s %s\n", at.Tier, at.Outcome)
		}
		return
	}

	partial := ""
	if res.Partial {
		partial = " (partial)"
	}
	fmt.Printf("✓ %s [%s, %s]%s: %d chars, %d links\n",
		res.URL, res.Tier, res.MediaType, partial, len(res.Content), len(res.Links))

	if fullText {
		fmt.Println(res.Content)
	}
}

func printStats(s fetch.StatsSnapshot) {
	fmt.Println("\nTier stats:")
	rows := []struct {
		name string
		t    fetch.TierStats
	}{
		{"archive", s.Archive},
		{"snapshot", s.Snapshot},
		{"live", s.Live},
	}
	for _, r := range rows {
		fmt.Printf("  %-8s attempts=%d hits=%d failures=%d hit_rate=%.2f\n",
			r.name, r.t.Attempts, r.t.Hits, r.t.Failures, r.t.HitRate)
	}
}
