// Package warc parses compressed web-archive container records.
//
// A container segment is one gzip member spanning exactly one record, as
// fetched by a byte-range request against a remote .warc.gz or .wat.gz file.
// Malformed input never panics; the returned record carries the error.
package warc

import (
	"bufio"
	"bytes"
	"compress/gzip"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strconv"
	"strings"

	"github.com/arcresolve/arcresolve/internal/models"
)

// maxRecordSize bounds decompressed record size to keep a hostile or corrupt
// length field from exhausting memory.
const maxRecordSize = 64 << 20 // 64 MiB

// Parse turns the raw bytes of one compressed container segment into a
// ParsedRecord. Callers must check record.Err before using Payload.
func Parse(data []byte) *models.ParsedRecord {
	gz, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return &models.ParsedRecord{Type: models.RecordOther, Err: &models.DecompressionError{Err: err}}
	}
	// One record per gzip member; a byte range can drag in the start of the
	// next member, which must not be read as part of this record.
	gz.Multistream(false)

	raw, err := io.ReadAll(io.LimitReader(gz, maxRecordSize))
	gz.Close()
	if err != nil {
		return &models.ParsedRecord{Type: models.RecordOther, Err: &models.DecompressionError{Err: err}}
	}

	return ParseUncompressed(raw)
}

// ParseUncompressed parses a record that is already decompressed, e.g. one
// replayed through a snapshot service that strips the gzip layer.
func ParseUncompressed(data []byte) *models.ParsedRecord {
	rec := &models.ParsedRecord{Type: models.RecordOther}
	parseRecord(data, rec)
	return rec
}

func parseRecord(raw []byte, rec *models.ParsedRecord) {
	r := bufio.NewReader(bytes.NewReader(raw))

	version, err := r.ReadString('\n')
	if err != nil {
		rec.Err = &models.ParseError{Reason: "missing version line"}
		return
	}
	version = strings.TrimRight(version, "\r\n")
	if !strings.HasPrefix(version, "WARC/") {
		rec.Err = &models.ParseError{Reason: fmt.Sprintf("unexpected version line %q", version)}
		return
	}

	headers, err := readHeaderBlock(r)
	if err != nil {
		rec.Err = &models.ParseError{Reason: err.Error()}
		return
	}
	rec.Headers = headers
	rec.TargetURL = rec.HeaderValue("WARC-Target-URI")
	rec.Digest = rec.HeaderValue("WARC-Payload-Digest")

	length, err := strconv.ParseInt(rec.HeaderValue("Content-Length"), 10, 64)
	if err != nil || length < 0 {
		rec.Err = &models.ParseError{Digest: rec.Digest, Reason: "missing or invalid Content-Length"}
		return
	}

	block := make([]byte, length)
	if _, err := io.ReadFull(r, block); err != nil {
		rec.Err = &models.ParseError{Digest: rec.Digest, Reason: fmt.Sprintf("content block shorter than declared length %d", length)}
		return
	}

	switch strings.ToLower(rec.HeaderValue("WARC-Type")) {
	case "response":
		rec.Type = models.RecordResponse
		parseResponseBlock(block, rec)
	case "revisit":
		rec.Type = models.RecordRevisit
		// A revisit stores no payload; it points back at the capture whose
		// digest matched at crawl time.
		rec.RevisitOf = rec.HeaderValue("WARC-Refers-To-Payload-Digest")
		if rec.RevisitOf == "" {
			rec.RevisitOf = rec.Digest
		}
	case "metadata":
		rec.Type = models.RecordOther
		parseMetadataBlock(block, rec)
	default:
		rec.Type = models.RecordOther
		rec.Payload = block
	}
}

// readHeaderBlock reads key:value lines up to the blank separator line,
// preserving order.
func readHeaderBlock(r *bufio.Reader) ([]models.Header, error) {
	var headers []models.Header
	for {
		line, err := r.ReadString('\n')
		if err != nil {
			return nil, fmt.Errorf("header block missing blank-line separator")
		}
		line = strings.TrimRight(line, "\r\n")
		if line == "" {
			return headers, nil
		}
		// Continuation lines fold into the previous header value.
		if (strings.HasPrefix(line, " ") || strings.HasPrefix(line, "\t")) && len(headers) > 0 {
			headers[len(headers)-1].Value += " " + strings.TrimSpace(line)
			continue
		}
		key, value, ok := strings.Cut(line, ":")
		if !ok {
			return nil, fmt.Errorf("malformed header line %q", line)
		}
		headers = append(headers, models.Header{
			Key:   strings.TrimSpace(key),
			Value: strings.TrimSpace(value),
		})
	}
}

// parseResponseBlock parses the embedded HTTP response transfer envelope and
// treats its body as the record payload.
func parseResponseBlock(block []byte, rec *models.ParsedRecord) {
	resp, err := http.ReadResponse(bufio.NewReader(bytes.NewReader(block)), nil)
	if err != nil {
		rec.Err = &models.ParseError{Digest: rec.Digest, Reason: fmt.Sprintf("embedded response envelope: %v", err)}
		return
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxRecordSize))
	if err != nil {
		rec.Err = &models.ParseError{Digest: rec.Digest, Reason: fmt.Sprintf("embedded response body: %v", err)}
		return
	}

	rec.HTTPStatus = resp.StatusCode
	rec.Payload = body
	if ct := resp.Header.Get("Content-Type"); ct != "" {
		if mt, _, err := mime.ParseMediaType(ct); err == nil {
			rec.MediaType = mt
		} else {
			rec.MediaType = ct
		}
	}
}
