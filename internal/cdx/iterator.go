package cdx

import (
	"context"
	"errors"

	"github.com/arcresolve/arcresolve/internal/models"
)

// Iterator streams ArchivePointers page by page, bufio.Scanner style:
//
//	it := client.Query(ctx, "example.com", cdx.MatchDomain, archiveID, cdx.Filters{}, 0)
//	for it.Next() {
//		p := it.Pointer()
//		...
//	}
//	if err := it.Err(); err != nil { ... }
type Iterator struct {
	client    *Client
	ctx       context.Context
	pattern   string
	match     MatchType
	archiveID string
	filters   Filters
	limit     int

	numPages int // -1 until the page count has been fetched
	page     int
	buf      []models.ArchivePointer
	pos      int
	served   int
	err      error
	done     bool
}

// Next advances to the next pointer. It returns false when the sequence is
// exhausted or an error occurred; check Err afterwards.
func (it *Iterator) Next() bool {
	if it.done || it.err != nil {
		return false
	}
	if it.limit > 0 && it.served >= it.limit {
		it.done = true
		return false
	}

	for it.pos >= len(it.buf) {
		if !it.fetchNextPage() {
			return false
		}
	}

	it.pos++
	it.served++
	return true
}

// Pointer returns the pointer produced by the last successful Next call.
func (it *Iterator) Pointer() models.ArchivePointer {
	return it.buf[it.pos-1]
}

// Err returns the first error encountered while streaming. An index that
// answers with an empty result set is not an error: Next just returns false
// with a nil Err. Only an index that reports the query itself as unknown
// surfaces models.ErrNotFound.
func (it *Iterator) Err() error {
	return it.err
}

// Reset rewinds the iterator to the start of the sequence. Already-fetched
// pages are served from the client cache.
func (it *Iterator) Reset() {
	it.numPages = -1
	it.page = 0
	it.buf = nil
	it.pos = 0
	it.served = 0
	it.err = nil
	it.done = false
}

func (it *Iterator) fetchNextPage() bool {
	if it.numPages < 0 {
		n, err := it.client.pageCount(it.ctx, it.archiveID, it.client.queryParams(it.pattern, it.match, it.filters, it.limit))
		if err != nil {
			// Indexes without pagination support still answer the plain
			// query; treat them as a single page.
			if errors.Is(err, models.ErrNotFound) {
				it.err = err
				it.done = true
				return false
			}
			n = 1
		}
		if n < 1 {
			n = 1
		}
		it.numPages = n
	}

	for it.page < it.numPages {
		params := it.client.queryParams(it.pattern, it.match, it.filters, it.limit)
		pagePointers, err := it.client.fetchPage(it.ctx, it.archiveID, params, it.pageParam())
		it.page++
		if err != nil {
			if errors.Is(err, models.ErrNotFound) {
				continue // page past the end on lenient deployments
			}
			it.err = err
			it.done = true
			return false
		}
		if len(pagePointers) > 0 {
			it.buf = pagePointers
			it.pos = 0
			return true
		}
	}

	it.done = true
	return false
}

// pageParam returns the page number for the request the iterator is about
// to make, or -1 when the whole query fits one unpaginated request.
func (it *Iterator) pageParam() int {
	if it.numPages <= 1 {
		return -1
	}
	return it.page
}
