// Package extract turns archived payload bytes into searchable text.
//
// Dispatch is a fixed media-type to strategy table. Every strategy degrades
// to ExtractionResult.Success=false on failure; nothing raises past the
// extractor boundary, and the caller keeps the original bytes either way.
package extract

import (
	"github.com/arcresolve/arcresolve/internal/models"
	"github.com/charmbracelet/log"
)

// TruncationBoundary is the upstream size cap applied to bulk-archive
// payloads. A payload of exactly this length was almost certainly cut off,
// so extraction results from it are flagged partial.
const TruncationBoundary = 1 << 20 // 1 MiB

type strategy func(payload []byte) (text string, metadata map[string]string, err error)

// Extractor dispatches payloads to per-format extraction strategies.
type Extractor struct {
	logger     *log.Logger
	strategies map[MediaType]strategy
}

// New creates an Extractor with the full strategy table. The logger may be
// nil.
func New(logger *log.Logger) *Extractor {
	e := &Extractor{logger: logger}
	e.strategies = map[MediaType]strategy{
		TypeHTML:         e.extractHTML,
		TypeText:         e.extractPlainText,
		TypePDF:          e.extractPDF,
		TypeWordDoc:      e.extractDocx,
		TypeSpreadsheet:  e.extractXlsx,
		TypePresentation: e.extractPptx,
		TypeLegacyOffice: e.extractLegacyOffice,
		TypeZipArchive:   e.listZipMembers,
		TypeTarArchive:   e.listTarMembers,
		TypeGzipArchive:  e.listGzipMember,
	}
	return e
}

// Extract produces text and metadata from payload bytes. declared is the
// media type reported upstream; it is reconciled against the payload's own
// magic bytes before dispatch.
func (e *Extractor) Extract(payload []byte, declared string) models.ExtractionResult {
	partial := len(payload) == TruncationBoundary
	mt := Detect(declared, payload)

	strat, ok := e.strategies[mt]
	if !ok {
		return models.ExtractionResult{
			Success: false,
			Partial: partial,
			Err:     &models.ExtractionError{MediaType: declared, Reason: "unsupported media type"},
		}
	}

	text, metadata, err := strat(payload)
	if err != nil {
		if e.logger != nil {
			e.logger.Debug("extraction failed", "type", mt.String(), "bytes", len(payload), "err", err)
		}
		return models.ExtractionResult{
			Success: false,
			Partial: partial,
			Err:     &models.ExtractionError{MediaType: mt.String(), Reason: "extraction failed", Err: err},
		}
	}

	if metadata == nil {
		metadata = map[string]string{}
	}
	metadata["format"] = mt.String()

	return models.ExtractionResult{
		Success:  true,
		Text:     text,
		Metadata: metadata,
		Partial:  partial,
	}
}
