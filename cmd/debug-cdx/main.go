// Debug tool to test CDX index queries directly
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/charmbracelet/log"

	"github.com/arcresolve/arcresolve/internal/cdx"
	"github.com/arcresolve/arcresolve/internal/config"
)

func main() {
	target := "commoncrawl.org"
	if len(os.Args) > 1 {
		target = os.Args[1]
	}

	logger := log.NewWithOptions(os.Stderr, log.Options{
		Level:           log.DebugLevel,
		ReportTimestamp: true,
	})

	cfg := config.Load()
	fmt.Printf("Testing CDX lookup for: %s\n", target)
	fmt.Printf("Archive: %s\n", cfg.ArchiveID)

	var opts []cdx.Option
	if cfg.IndexBaseURL != "" {
		opts = append(opts, cdx.WithBaseURL(cfg.IndexBaseURL))
	}
	client := cdx.NewClient(logger, opts...)
	ctx := context.Background()

	// Latest captures for the exact URL
	fmt.Println("\n--- Latest captures ---")
	pointers, err := client.Latest(ctx, target, cfg.ArchiveID, 5)
	if err != nil {
		fmt.Printf("ERROR: %v\n", err)
	} else {
		for i, p := range pointers {
			fmt.Printf("  %d. %s (status: %d, %s)\n", i+1, p.URL, p.HTTPStatus, p.MediaType)
			fmt.Printf("     %s @ %d+%d\n", p.ContainerFile, p.ByteOffset, p.ByteLength)
		}
	}

	// Domain-wide container inventory
	fmt.Println("\n--- Unique container files (domain match) ---")
	domain, err := cdx.ExtractRootDomain(target)
	if err != nil {
		domain = cdx.Hostname(target)
	}
	files, err := client.UniqueContainerFiles(ctx, domain, cfg.ArchiveID)
	if err != nil {
		fmt.Printf("ERROR: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Files: %d\n", len(files))
	for i, f := range files {
		if i >= 10 {
			fmt.Printf("  ... and %d more\n", len(files)-10)
			break
		}
		fmt.Printf("  %s\n", f)
	}
}
