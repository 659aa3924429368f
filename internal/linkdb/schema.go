package linkdb

const createLinksTable = `
CREATE TABLE IF NOT EXISTS links (
    source_url TEXT NOT NULL,
    target_url TEXT NOT NULL,
    anchor_text TEXT,
    crawl_date TEXT,
    PRIMARY KEY (source_url, target_url)
);

CREATE INDEX IF NOT EXISTS idx_links_source ON links(source_url);
CREATE INDEX IF NOT EXISTS idx_links_target ON links(target_url);
`

const createURLMetadataTable = `
CREATE TABLE IF NOT EXISTS url_metadata (
    url TEXT PRIMARY KEY,
    domain TEXT,
    title TEXT,
    crawl_date TEXT
);

CREATE INDEX IF NOT EXISTS idx_url_metadata_domain ON url_metadata(domain);
`

// Re-observing an edge or URL replaces the previous row; the store keeps
// exactly one row per (source, target) pair and per URL.
const upsertLink = `
INSERT OR REPLACE INTO links (source_url, target_url, anchor_text, crawl_date)
VALUES (?, ?, ?, ?)
`

const upsertURLMetadata = `
INSERT OR REPLACE INTO url_metadata (url, domain, title, crawl_date)
VALUES (?, ?, ?, ?)
`

const selectOutlinks = `
SELECT target_url, COALESCE(anchor_text, '') FROM links
WHERE source_url = ?
ORDER BY target_url ASC
`

const selectInlinks = `
SELECT l.source_url, COALESCE(m.title, ''), COALESCE(m.domain, '')
FROM links l
LEFT JOIN url_metadata m ON m.url = l.source_url
WHERE l.target_url = ?
ORDER BY l.crawl_date DESC
`

// Co-citation: sources that link to the same targets this URL links to,
// counted by how many targets they share, the URL itself excluded.
const selectRelated = `
SELECT l2.source_url,
       COUNT(DISTINCT l2.target_url) AS shared,
       MAX(COALESCE(l2.crawl_date, '')) AS latest
FROM links l1
JOIN links l2 ON l2.target_url = l1.target_url
WHERE l1.source_url = ? AND l2.source_url != ?
GROUP BY l2.source_url
ORDER BY shared DESC, latest DESC
LIMIT ?
`

const selectDomainOutlinks = `
SELECT l.source_url, l.target_url, COALESCE(l.anchor_text, ''), COALESCE(l.crawl_date, '')
FROM links l
JOIN url_metadata m ON m.url = l.source_url
WHERE m.domain = ?
ORDER BY l.crawl_date DESC
`

const selectDomainInlinks = `
SELECT source_url, target_url, COALESCE(anchor_text, ''), COALESCE(crawl_date, '')
FROM links
WHERE target_url LIKE ? OR target_url LIKE ? OR target_url LIKE ? OR target_url LIKE ?
ORDER BY crawl_date DESC
`

const selectSearch = `
SELECT url, COALESCE(domain, ''), COALESCE(title, ''), COALESCE(crawl_date, '')
FROM url_metadata
WHERE url LIKE ? OR title LIKE ?
ORDER BY crawl_date DESC
`
