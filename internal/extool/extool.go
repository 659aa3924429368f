// Package extool drives an external bulk link-extraction binary. Extracting
// links from a whole container set is much faster in the dedicated tool
// than per-record parsing, so it runs as a subprocess with a structured
// output contract: line-delimited JSON on stdout, diagnostics on stderr,
// zero exit code on success.
package extool

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/arcresolve/arcresolve/internal/linkdb"
	"github.com/charmbracelet/log"
)

const defaultTimeout = 30 * time.Minute

// Options narrows what the tool extracts.
type Options struct {
	// URLKeyword keeps only outlinks whose URL contains this substring.
	URLKeyword string
	// MaxResults bounds results per domain; 0 means the tool's default.
	MaxResults int
}

// OutlinkRecord is one line of the tool's stdout.
type OutlinkRecord struct {
	SourceURL      string `json:"source_url"`
	SourceDomain   string `json:"source_domain"`
	TargetURL      string `json:"target_url"`
	AnchorText     string `json:"anchor_text"`
	DateDiscovered string `json:"date_discovered"`
}

// Runner invokes the extraction binary. The zero value is not usable; set
// BinaryPath.
type Runner struct {
	BinaryPath string
	// Timeout bounds one whole extraction run.
	Timeout time.Duration
	Logger  *log.Logger
}

// ExtractDomains runs the tool over the given domains within one archive
// crawl and parses its stdout. A non-zero exit code or an overrun timeout
// is an error; partial stdout from a failed run is discarded.
func (r *Runner) ExtractDomains(ctx context.Context, domains []string, archiveID string, opts Options) ([]OutlinkRecord, error) {
	if r.BinaryPath == "" {
		return nil, fmt.Errorf("extraction tool path not configured")
	}
	if len(domains) == 0 {
		return nil, fmt.Errorf("no domains given")
	}

	timeout := r.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	args := []string{"-archive", archiveID, "-domains", strings.Join(domains, ",")}
	if opts.URLKeyword != "" {
		args = append(args, "-keyword", opts.URLKeyword)
	}
	if opts.MaxResults > 0 {
		args = append(args, "-max", fmt.Sprint(opts.MaxResults))
	}

	cmd := exec.CommandContext(runCtx, r.BinaryPath, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if r.Logger != nil {
		r.Logger.Info("running extraction tool", "binary", r.BinaryPath, "domains", len(domains), "archive", archiveID)
	}

	if err := cmd.Run(); err != nil {
		if runCtx.Err() == context.DeadlineExceeded {
			return nil, fmt.Errorf("extraction tool timed out after %s", timeout)
		}
		if exitErr, ok := err.(*exec.ExitError); ok {
			return nil, fmt.Errorf("extraction tool exited with code %d: %s",
				exitErr.ExitCode(), strings.TrimSpace(stderr.String()))
		}
		return nil, fmt.Errorf("failed to run extraction tool: %w", err)
	}

	records, err := parseOutput(stdout.Bytes())
	if err != nil {
		return nil, err
	}
	if r.Logger != nil {
		r.Logger.Info("extraction tool finished", "records", len(records))
	}
	return records, nil
}

func parseOutput(out []byte) ([]OutlinkRecord, error) {
	var records []OutlinkRecord
	scanner := bufio.NewScanner(bytes.NewReader(out))
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var rec OutlinkRecord
		if err := json.Unmarshal([]byte(line), &rec); err != nil {
			return nil, fmt.Errorf("malformed tool output at line %d: %w", lineNo, err)
		}
		if rec.SourceURL == "" || rec.TargetURL == "" {
			continue
		}
		records = append(records, rec)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to scan tool output: %w", err)
	}
	return records, nil
}

// ToGraphRecords groups tool output by source page for bulk import into the
// link graph store.
func ToGraphRecords(records []OutlinkRecord) []linkdb.Record {
	bySource := make(map[string]*linkdb.Record)
	var order []string

	for _, rec := range records {
		page, ok := bySource[rec.SourceURL]
		if !ok {
			page = &linkdb.Record{
				URL:    rec.SourceURL,
				Domain: rec.SourceDomain,
			}
			if t, err := time.Parse("2006-01-02", rec.DateDiscovered); err == nil {
				page.CrawlDate = t
			}
			bySource[rec.SourceURL] = page
			order = append(order, rec.SourceURL)
		}
		page.Outlinks = append(page.Outlinks, linkdb.Outlink{
			Target: rec.TargetURL,
			Anchor: rec.AnchorText,
		})
	}

	out := make([]linkdb.Record, 0, len(order))
	for _, src := range order {
		out = append(out, *bySource[src])
	}
	return out
}
