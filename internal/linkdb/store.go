// Package linkdb is the durable link-graph store: one embedded SQLite
// database per logical namespace, write-ahead logging for one writer and
// many concurrent readers. It holds archival facts, not a cache; rows
// persist until explicitly removed.
package linkdb

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/arcresolve/arcresolve/internal/models"
	"github.com/charmbracelet/log"

	_ "modernc.org/sqlite"
)

const (
	dbFileName = "linkgraph.db"
	// batchChunkSize bounds one import transaction so bulk writes do not
	// starve concurrent readers.
	batchChunkSize = 500

	timeLayout = "2006-01-02T15:04:05Z"
)

// Outlink is one outbound edge observed on a page.
type Outlink struct {
	Target string
	Anchor string
}

// Record is one page observation: its metadata row plus the outbound edges
// found on it.
type Record struct {
	URL       string
	Domain    string
	Title     string
	CrawlDate time.Time
	Outlinks  []Outlink
}

// Inlink is one inbound edge with the linking page's metadata.
type Inlink struct {
	SourceURL string
	Title     string
	Domain    string
}

// RelatedPage is a co-citation candidate: a page sharing outlink targets
// with the queried URL.
type RelatedPage struct {
	URL          string
	SharedLinks  int
	LastCrawlDate string
}

// Direction selects which side of the graph a domain aggregate covers.
type Direction int

const (
	Outlinks Direction = iota
	Inlinks
)

// Store is a link-graph database for one namespace.
type Store struct {
	conn   *sql.DB
	logger *log.Logger

	// writeMu serializes the write path; readers go straight to the pool
	// and WAL keeps them unblocked.
	writeMu sync.Mutex
}

// Open creates or opens the store under the given namespace directory.
func Open(dir string, logger *log.Logger) (*Store, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, &models.StorageError{Op: "create namespace directory", Err: err}
	}

	conn, err := sql.Open("sqlite", filepath.Join(dir, dbFileName))
	if err != nil {
		return nil, &models.StorageError{Op: "open database", Err: err}
	}

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := conn.Exec(pragma); err != nil {
			conn.Close()
			return nil, &models.StorageError{Op: "configure database", Err: err}
		}
	}

	for _, schema := range []string{createLinksTable, createURLMetadataTable} {
		if _, err := conn.Exec(schema); err != nil {
			conn.Close()
			return nil, &models.StorageError{Op: "create schema", Err: err}
		}
	}

	return &Store{conn: conn, logger: logger}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.conn.Close()
}

// AddURL upserts the page's metadata row and one links row per outlink.
// Re-observing an edge replaces its anchor text and crawl date.
func (s *Store) AddURL(rec Record) error {
	return s.AddURLsBatch([]Record{rec})
}

// AddURLsBatch imports page observations in chunked transactions.
func (s *Store) AddURLsBatch(records []Record) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	for start := 0; start < len(records); start += batchChunkSize {
		end := start + batchChunkSize
		if end > len(records) {
			end = len(records)
		}
		if err := s.writeChunk(records[start:end]); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) writeChunk(records []Record) error {
	tx, err := s.conn.Begin()
	if err != nil {
		return &models.StorageError{Op: "begin transaction", Err: err}
	}
	defer tx.Rollback()

	metaStmt, err := tx.Prepare(upsertURLMetadata)
	if err != nil {
		return &models.StorageError{Op: "prepare metadata upsert", Err: err}
	}
	defer metaStmt.Close()

	linkStmt, err := tx.Prepare(upsertLink)
	if err != nil {
		return &models.StorageError{Op: "prepare link upsert", Err: err}
	}
	defer linkStmt.Close()

	for _, rec := range records {
		date := rec.CrawlDate
		if date.IsZero() {
			date = time.Now().UTC()
		}
		dateStr := date.UTC().Format(timeLayout)

		if _, err := metaStmt.Exec(rec.URL, rec.Domain, rec.Title, dateStr); err != nil {
			return &models.StorageError{Op: fmt.Sprintf("upsert metadata for %s", rec.URL), Err: err}
		}
		for _, out := range rec.Outlinks {
			if out.Target == "" || out.Target == rec.URL {
				continue
			}
			if _, err := linkStmt.Exec(rec.URL, out.Target, out.Anchor, dateStr); err != nil {
				return &models.StorageError{Op: fmt.Sprintf("upsert link %s -> %s", rec.URL, out.Target), Err: err}
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return &models.StorageError{Op: "commit transaction", Err: err}
	}
	return nil
}

// GetOutlinks returns the edges leaving url.
func (s *Store) GetOutlinks(url string) ([]Outlink, error) {
	rows, err := s.conn.Query(selectOutlinks, url)
	if err != nil {
		return nil, &models.StorageError{Op: "query outlinks", Err: err}
	}
	defer rows.Close()

	var links []Outlink
	for rows.Next() {
		var l Outlink
		if err := rows.Scan(&l.Target, &l.Anchor); err != nil {
			return nil, &models.StorageError{Op: "scan outlink", Err: err}
		}
		links = append(links, l)
	}
	return links, rows.Err()
}

// GetInlinks returns the pages linking to url, most recently crawled first.
func (s *Store) GetInlinks(url string) ([]Inlink, error) {
	rows, err := s.conn.Query(selectInlinks, url)
	if err != nil {
		return nil, &models.StorageError{Op: "query inlinks", Err: err}
	}
	defer rows.Close()

	var links []Inlink
	for rows.Next() {
		var l Inlink
		if err := rows.Scan(&l.SourceURL, &l.Title, &l.Domain); err != nil {
			return nil, &models.StorageError{Op: "scan inlink", Err: err}
		}
		links = append(links, l)
	}
	return links, rows.Err()
}

// GetRelated ranks pages by how many outlink targets they share with url,
// excluding url itself. Ties break toward the most recently crawled source.
func (s *Store) GetRelated(url string, topK int) ([]RelatedPage, error) {
	if topK <= 0 {
		topK = 10
	}
	rows, err := s.conn.Query(selectRelated, url, url, topK)
	if err != nil {
		return nil, &models.StorageError{Op: "query related pages", Err: err}
	}
	defer rows.Close()

	var related []RelatedPage
	for rows.Next() {
		var r RelatedPage
		if err := rows.Scan(&r.URL, &r.SharedLinks, &r.LastCrawlDate); err != nil {
			return nil, &models.StorageError{Op: "scan related page", Err: err}
		}
		related = append(related, r)
	}
	return related, rows.Err()
}

// GetDomainLinks aggregates edges for every URL under a domain.
func (s *Store) GetDomainLinks(domain string, dir Direction) ([]models.LinkEdge, error) {
	var rows *sql.Rows
	var err error
	switch dir {
	case Outlinks:
		rows, err = s.conn.Query(selectDomainOutlinks, domain)
	case Inlinks:
		// Inlink targets are not guaranteed a metadata row, so matching
		// falls back to URL shape: the domain itself and its subdomains.
		rows, err = s.conn.Query(selectDomainInlinks,
			"%//"+domain+"/%",
			"%//"+domain,
			"%."+domain+"/%",
			"%."+domain,
		)
	default:
		return nil, &models.StorageError{Op: "query domain links", Err: fmt.Errorf("unknown direction %d", dir)}
	}
	if err != nil {
		return nil, &models.StorageError{Op: "query domain links", Err: err}
	}
	defer rows.Close()

	var edges []models.LinkEdge
	for rows.Next() {
		var e models.LinkEdge
		var dateStr string
		if err := rows.Scan(&e.SourceURL, &e.TargetURL, &e.AnchorText, &dateStr); err != nil {
			return nil, &models.StorageError{Op: "scan domain link", Err: err}
		}
		e.CrawlDate, _ = time.Parse(timeLayout, dateStr)
		edges = append(edges, e)
	}
	return edges, rows.Err()
}

// Search matches queryText as a substring of stored URLs and titles.
func (s *Store) Search(queryText string) ([]models.URLRecord, error) {
	pattern := "%" + queryText + "%"
	rows, err := s.conn.Query(selectSearch, pattern, pattern)
	if err != nil {
		return nil, &models.StorageError{Op: "search", Err: err}
	}
	defer rows.Close()

	var results []models.URLRecord
	for rows.Next() {
		var r models.URLRecord
		var dateStr string
		if err := rows.Scan(&r.URL, &r.Domain, &r.Title, &dateStr); err != nil {
			return nil, &models.StorageError{Op: "scan search result", Err: err}
		}
		r.CrawlDate, _ = time.Parse(timeLayout, dateStr)
		results = append(results, r)
	}
	return results, rows.Err()
}
