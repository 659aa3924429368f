package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/joho/godotenv"

	"github.com/arcresolve/arcresolve/internal/config"
	"github.com/arcresolve/arcresolve/internal/extool"
	"github.com/arcresolve/arcresolve/internal/linkdb"
)

func main() {
	_ = godotenv.Load()

	namespaceFlag := flag.String("ns", "default", "Link-graph namespace")
	outlinksFlag := flag.String("outlinks", "", "Print outbound links for this URL")
	inlinksFlag := flag.String("inlinks", "", "Print inbound links for this URL")
	relatedFlag := flag.String("related", "", "Print co-citation related pages for this URL")
	topKFlag := flag.Int("top", 10, "Result cap for -related")
	domainFlag := flag.String("domain", "", "Print domain-level links for this domain")
	directionFlag := flag.String("direction", "out", "Domain link direction: out or in")
	searchFlag := flag.String("search", "", "Search known URLs by URL or title substring")
	ingestFlag := flag.String("ingest", "", "Comma-separated domains to bulk-extract and import via the extraction tool")
	keywordFlag := flag.String("keyword", "", "Outlink URL keyword filter for -ingest")
	maxFlag := flag.Int("max", 0, "Per-domain result cap for -ingest (0 = tool default)")
	exportFlag := flag.Bool("export", false, "Export the queried URL's links to a markdown file")
	flag.Parse()

	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		os.Exit(1)
	}
	logger := cfg.NewLogger()

	manager := linkdb.NewManager(cfg.LinkDBRoot, logger)
	defer manager.Close()

	store, err := manager.Get(*namespaceFlag)
	if err != nil {
		logger.Error("failed to open link store", "namespace", *namespaceFlag, "err", err)
		os.Exit(1)
	}

	switch {
	case *ingestFlag != "":
		domains := splitList(*ingestFlag)
		if err := ingest(store, domains, cfg, *keywordFlag, *maxFlag, logger); err != nil {
			logger.Error("ingest failed", "err", err)
			os.Exit(1)
		}

	case *outlinksFlag != "":
		links, err := store.GetOutlinks(*outlinksFlag)
		if err != nil {
			logger.Error("query failed", "err", err)
			os.Exit(1)
		}
		if *exportFlag {
			exportOutlinks(*outlinksFlag, links)
			return
		}
		fmt.Printf("Outlinks of %s: %d\n", *outlinksFlag, len(links))
		for _, l := range links {
			anchor := l.Anchor
			if anchor == "" {
				anchor = "-"
			}
			fmt.Printf("  %s  (%s)\n", l.Target, anchor)
		}

	case *inlinksFlag != "":
		links, err := store.GetInlinks(*inlinksFlag)
		if err != nil {
			logger.Error("query failed", "err", err)
			os.Exit(1)
		}
		fmt.Printf("Inlinks of %s: %d\n", *inlinksFlag, len(links))
		for _, l := range links {
			title := l.Title
			if title == "" {
				title = "-"
			}
			fmt.Printf("  %s  [%s] %s\n", l.SourceURL, l.Domain, title)
		}

	case *relatedFlag != "":
		pages, err := store.GetRelated(*relatedFlag, *topKFlag)
		if err != nil {
			logger.Error("query failed", "err", err)
			os.Exit(1)
		}
		fmt.Printf("Pages related to %s: %d\n", *relatedFlag, len(pages))
		for _, p := range pages {
			fmt.Printf("  %s  shared=%d last_crawl=%s\n", p.URL, p.SharedLinks, p.LastCrawlDate)
		}

	case *domainFlag != "":
		dir := linkdb.Outlinks
		if strings.EqualFold(*directionFlag, "in") {
			dir = linkdb.Inlinks
		}
		edges, err := store.GetDomainLinks(*domainFlag, dir)
		if err != nil {
			logger.Error("query failed", "err", err)
			os.Exit(1)
		}
		fmt.Printf("Domain %s (%s): %d edges\n", *domainFlag, *directionFlag, len(edges))
		for _, e := range edges {
			fmt.Printf("  %s -> %s\n", e.SourceURL, e.TargetURL)
		}

	case *searchFlag != "":
		records, err := store.Search(*searchFlag)
		if err != nil {
			logger.Error("query failed", "err", err)
			os.Exit(1)
		}
		fmt.Printf("URLs matching %q: %d\n", *searchFlag, len(records))
		for _, r := range records {
			title := r.Title
			if title == "" {
				title = "-"
			}
			fmt.Printf("  %s  [%s] %s\n", r.URL, r.Domain, title)
		}

	default:
		fmt.Fprintln(os.Stderr, "usage: linkgraph -ns NAME [-outlinks URL | -inlinks URL | -related URL | -domain D | -search TEXT | -ingest d1,d2]")
		flag.PrintDefaults()
		os.Exit(1)
	}
}

// ingest runs the bulk extraction tool over the given domains and imports
// its output into the store.
func ingest(store *linkdb.Store, domains []string, cfg config.Config, keyword string, max int, logger *log.Logger) error {
	if cfg.ExtractToolPath == "" {
		return fmt.Errorf("ARC_EXTRACT_TOOL is not set")
	}

	runner := &extool.Runner{BinaryPath: cfg.ExtractToolPath, Logger: logger}
	records, err := runner.ExtractDomains(context.Background(), domains, cfg.ArchiveID, extool.Options{
		URLKeyword: keyword,
		MaxResults: max,
	})
	if err != nil {
		return err
	}

	graph := extool.ToGraphRecords(records)
	if err := store.AddURLsBatch(graph); err != nil {
		return err
	}

	logger.Info("ingest complete", "domains", len(domains), "pages", len(graph), "edges", len(records))
	return nil
}

func exportOutlinks(url string, links []linkdb.Outlink) {
	timestamp := time.Now().Format("20060102-150405")
	filename := fmt.Sprintf("outlinks-export-%s.md", timestamp)
	f, err := os.Create(filename)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create file: %v\n", err)
		os.Exit(1)
	}
	defer f.Close()

	fmt.Fprintf(f, "# Outlink Export\n\n")
	fmt.Fprintf(f, "Generated: %s\n\n", time.Now().Format("2006-01-02 15:04:05"))
	fmt.Fprintf(f, "Source: %s\n\n", url)
	fmt.Fprintf(f, "Total Links: %d\n\n", len(links))

	if len(links) > 0 {
		fmt.Fprintf(f, "| Target | Anchor |\n")
		fmt.Fprintf(f, "|--------|--------|\n")
		for _, l := range links {
			anchor := l.Anchor
			if anchor == "" {
				anchor = "-"
			}
			fmt.Fprintf(f, "| %s | %s |\n", l.Target, anchor)
		}
	} else {
		fmt.Fprintf(f, "*No links found*\n")
	}

	fmt.Printf("✓ Exported to %s\n", filename)
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
