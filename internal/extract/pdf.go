package extract

import (
	"bytes"
	"compress/zlib"
	"fmt"
	"io"
	"regexp"
	"strings"

	"github.com/ledongthuc/pdf"
)

// extractPDF tries structured extraction first, then falls back to a raw
// content-stream scan for malformed or unusual PDFs. Both failing is an
// error the caller degrades into success=false.
func (e *Extractor) extractPDF(payload []byte) (string, map[string]string, error) {
	text, meta, primaryErr := pdfStructured(payload)
	if primaryErr == nil && strings.TrimSpace(text) != "" {
		return text, meta, nil
	}

	if e.logger != nil {
		e.logger.Debug("primary PDF extraction yielded nothing, trying raw scan", "err", primaryErr)
	}

	text, scanErr := pdfRawScan(payload)
	if scanErr == nil && strings.TrimSpace(text) != "" {
		return text, map[string]string{"method": "raw-scan"}, nil
	}

	if primaryErr == nil {
		primaryErr = fmt.Errorf("no extractable text")
	}
	if scanErr == nil {
		scanErr = fmt.Errorf("no extractable text")
	}
	return "", nil, fmt.Errorf("both PDF methods failed: primary: %v; raw scan: %v", primaryErr, scanErr)
}

// pdfStructured walks the page tree. The underlying reader panics on some
// malformed files, so the panic is converted into the error return.
func pdfStructured(payload []byte) (text string, meta map[string]string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("PDF reader panic: %v", r)
		}
	}()

	reader, err := pdf.NewReader(bytes.NewReader(payload), int64(len(payload)))
	if err != nil {
		return "", nil, fmt.Errorf("failed to open PDF: %w", err)
	}

	meta = map[string]string{"pages": fmt.Sprint(reader.NumPage())}

	var b strings.Builder
	for i := 1; i <= reader.NumPage(); i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		content, err := page.GetPlainText(nil)
		if err != nil {
			continue
		}
		b.WriteString(content)
		b.WriteString("\n")
	}

	return b.String(), meta, nil
}

var (
	pdfStreamRe = regexp.MustCompile(`(?s)stream\r?\n(.*?)endstream`)
	pdfShowRe   = regexp.MustCompile(`\(((?:[^()\\]|\\.)*)\)\s*T[jJ]`)
	pdfEscRe    = regexp.MustCompile(`\\([()\\nrt])`)
)

// pdfRawScan decodes flate streams and pulls the arguments of text-show
// operators. Crude, but it recovers text from files the structured reader
// rejects.
func pdfRawScan(payload []byte) (string, error) {
	if !bytes.HasPrefix(payload, []byte("%PDF-")) {
		return "", fmt.Errorf("missing PDF signature")
	}

	var b strings.Builder
	for _, m := range pdfStreamRe.FindAllSubmatch(payload, -1) {
		data := m[1]
		if inflated, err := inflate(data); err == nil {
			data = inflated
		}
		for _, show := range pdfShowRe.FindAllSubmatch(data, -1) {
			s := pdfEscRe.ReplaceAllStringFunc(string(show[1]), func(esc string) string {
				switch esc[1] {
				case 'n':
					return "\n"
				case 'r':
					return "\r"
				case 't':
					return "\t"
				default:
					return string(esc[1])
				}
			})
			b.WriteString(s)
			b.WriteString(" ")
		}
	}

	text := strings.TrimSpace(b.String())
	if text == "" {
		return "", fmt.Errorf("no text-show operators found")
	}
	return text, nil
}

func inflate(data []byte) ([]byte, error) {
	zr, err := zlib.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	defer zr.Close()
	return io.ReadAll(io.LimitReader(zr, maxDecodedStream))
}

const maxDecodedStream = 16 << 20
