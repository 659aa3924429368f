package extract

import (
	"archive/zip"
	"bytes"
	"mime"
	"strings"
)

// MediaType is the dispatch key for extraction strategies. New formats are
// added by extending the enum and the strategy table, not by string matching
// at call sites.
type MediaType int

const (
	TypeUnsupported MediaType = iota
	TypeHTML
	TypeText
	TypePDF
	TypeWordDoc      // OOXML .docx
	TypeSpreadsheet  // OOXML .xlsx
	TypePresentation // OOXML .pptx
	TypeLegacyOffice // OLE compound documents: .doc, .xls, .ppt
	TypeZipArchive
	TypeTarArchive
	TypeGzipArchive
)

func (t MediaType) String() string {
	switch t {
	case TypeHTML:
		return "html"
	case TypeText:
		return "text"
	case TypePDF:
		return "pdf"
	case TypeWordDoc:
		return "docx"
	case TypeSpreadsheet:
		return "xlsx"
	case TypePresentation:
		return "pptx"
	case TypeLegacyOffice:
		return "ole"
	case TypeZipArchive:
		return "zip"
	case TypeTarArchive:
		return "tar"
	case TypeGzipArchive:
		return "gzip"
	default:
		return "unsupported"
	}
}

var mimeTable = map[string]MediaType{
	"text/html":             TypeHTML,
	"application/xhtml+xml": TypeHTML,
	"text/plain":            TypeText,
	"text/css":              TypeText,
	"text/csv":              TypeText,
	"application/json":      TypeText,
	"application/xml":       TypeText,
	"text/xml":              TypeText,
	"application/pdf":       TypePDF,
	"application/vnd.openxmlformats-officedocument.wordprocessingml.document":   TypeWordDoc,
	"application/vnd.openxmlformats-officedocument.spreadsheetml.sheet":         TypeSpreadsheet,
	"application/vnd.openxmlformats-officedocument.presentationml.presentation": TypePresentation,
	"application/msword":            TypeLegacyOffice,
	"application/vnd.ms-excel":      TypeLegacyOffice,
	"application/vnd.ms-powerpoint": TypeLegacyOffice,
	"application/zip":               TypeZipArchive,
	"application/x-tar":             TypeTarArchive,
	"application/gzip":              TypeGzipArchive,
	"application/x-gzip":            TypeGzipArchive,
}

// Detect resolves the declared media type against the payload's magic bytes.
// The declared type wins when the two agree at the container level; sniffing
// settles OOXML-vs-plain-zip and fills in for missing or generic
// declarations.
func Detect(declared string, payload []byte) MediaType {
	declared = normalizeMime(declared)

	if t, ok := mimeTable[declared]; ok {
		// A zip container declared generically may still be an OOXML
		// document; the zip directory tells them apart.
		if t == TypeZipArchive {
			if oox := sniffOOXML(payload); oox != TypeUnsupported {
				return oox
			}
		}
		return t
	}

	return sniff(payload)
}

func normalizeMime(declared string) string {
	declared = strings.TrimSpace(strings.ToLower(declared))
	if declared == "" {
		return ""
	}
	if mt, _, err := mime.ParseMediaType(declared); err == nil {
		return mt
	}
	return declared
}

func sniff(payload []byte) MediaType {
	switch {
	case bytes.HasPrefix(payload, []byte("%PDF-")):
		return TypePDF
	case bytes.HasPrefix(payload, []byte{0xD0, 0xCF, 0x11, 0xE0, 0xA1, 0xB1, 0x1A, 0xE1}):
		return TypeLegacyOffice
	case bytes.HasPrefix(payload, []byte{0x1F, 0x8B}):
		return TypeGzipArchive
	case bytes.HasPrefix(payload, []byte("PK\x03\x04")):
		if oox := sniffOOXML(payload); oox != TypeUnsupported {
			return oox
		}
		return TypeZipArchive
	case isTar(payload):
		return TypeTarArchive
	case looksLikeHTML(payload):
		return TypeHTML
	case isMostlyText(payload):
		return TypeText
	default:
		return TypeUnsupported
	}
}

// sniffOOXML opens the zip directory and classifies by the well-known OOXML
// part paths. Returns TypeUnsupported for plain zips.
func sniffOOXML(payload []byte) MediaType {
	zr, err := zip.NewReader(bytes.NewReader(payload), int64(len(payload)))
	if err != nil {
		return TypeUnsupported
	}
	for _, f := range zr.File {
		switch {
		case strings.HasPrefix(f.Name, "word/"):
			return TypeWordDoc
		case strings.HasPrefix(f.Name, "xl/"):
			return TypeSpreadsheet
		case strings.HasPrefix(f.Name, "ppt/"):
			return TypePresentation
		}
	}
	return TypeUnsupported
}

func isTar(payload []byte) bool {
	return len(payload) > 262 && string(payload[257:262]) == "ustar"
}

func looksLikeHTML(payload []byte) bool {
	head := bytes.ToLower(bytes.TrimSpace(payload))
	if len(head) > 256 {
		head = head[:256]
	}
	return bytes.HasPrefix(head, []byte("<!doctype html")) ||
		bytes.HasPrefix(head, []byte("<html")) ||
		bytes.Contains(head, []byte("<head")) ||
		bytes.Contains(head, []byte("<body"))
}

// isMostlyText reports whether the first KiB is printable enough to treat
// the payload as plain text.
func isMostlyText(payload []byte) bool {
	if len(payload) == 0 {
		return false
	}
	sample := payload
	if len(sample) > 1024 {
		sample = sample[:1024]
	}
	printable := 0
	for _, b := range sample {
		if b == '\n' || b == '\r' || b == '\t' || (b >= 0x20 && b < 0x7F) || b >= 0x80 {
			printable++
		}
	}
	return printable*100/len(sample) >= 95
}
