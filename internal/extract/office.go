package extract

import (
	"archive/zip"
	"bytes"
	"encoding/xml"
	"fmt"
	"io"
	"sort"
	"strings"
	"unicode/utf16"

	"github.com/richardlehane/mscfb"
	"github.com/richardlehane/msoleps"
	"github.com/xuri/excelize/v2"
)

// extractDocx reads the main document part of an OOXML word-processing file
// and concatenates its text runs.
func (e *Extractor) extractDocx(payload []byte) (string, map[string]string, error) {
	zr, err := zip.NewReader(bytes.NewReader(payload), int64(len(payload)))
	if err != nil {
		return "", nil, fmt.Errorf("failed to open docx container: %w", err)
	}

	text, err := ooxmlPartText(zr, func(name string) bool {
		return name == "word/document.xml"
	})
	if err != nil {
		return "", nil, err
	}
	if text == "" {
		return "", nil, fmt.Errorf("document part missing or empty")
	}
	return text, ooxmlCoreProps(zr), nil
}

// extractPptx concatenates the text runs of every slide, in slide order.
func (e *Extractor) extractPptx(payload []byte) (string, map[string]string, error) {
	zr, err := zip.NewReader(bytes.NewReader(payload), int64(len(payload)))
	if err != nil {
		return "", nil, fmt.Errorf("failed to open pptx container: %w", err)
	}

	text, err := ooxmlPartText(zr, func(name string) bool {
		return strings.HasPrefix(name, "ppt/slides/slide") && strings.HasSuffix(name, ".xml")
	})
	if err != nil {
		return "", nil, err
	}
	if text == "" {
		return "", nil, fmt.Errorf("no slide text found")
	}
	return text, ooxmlCoreProps(zr), nil
}

// extractXlsx renders each sheet's cells row by row, tab-separated.
func (e *Extractor) extractXlsx(payload []byte) (string, map[string]string, error) {
	f, err := excelize.OpenReader(bytes.NewReader(payload))
	if err != nil {
		return "", nil, fmt.Errorf("failed to open spreadsheet: %w", err)
	}
	defer f.Close()

	var b strings.Builder
	sheets := f.GetSheetList()
	for _, sheet := range sheets {
		rows, err := f.GetRows(sheet)
		if err != nil {
			continue
		}
		for _, row := range rows {
			line := strings.TrimSpace(strings.Join(row, "\t"))
			if line != "" {
				b.WriteString(line)
				b.WriteString("\n")
			}
		}
	}

	text := strings.TrimSpace(b.String())
	if text == "" {
		return "", nil, fmt.Errorf("spreadsheet has no cell values")
	}
	return text, map[string]string{"sheets": fmt.Sprint(len(sheets))}, nil
}

// ooxmlPartText collects the character data of <t> elements (w:t in
// wordprocessingml, a:t in drawingml) across the matching parts.
func ooxmlPartText(zr *zip.Reader, match func(string) bool) (string, error) {
	var names []string
	for _, f := range zr.File {
		if match(f.Name) {
			names = append(names, f.Name)
		}
	}
	sort.Strings(names)

	var b strings.Builder
	for _, name := range names {
		for _, f := range zr.File {
			if f.Name != name {
				continue
			}
			rc, err := f.Open()
			if err != nil {
				return "", fmt.Errorf("failed to open part %s: %w", name, err)
			}
			if err := collectTextNodes(rc, &b); err != nil {
				rc.Close()
				return "", fmt.Errorf("failed to parse part %s: %w", name, err)
			}
			rc.Close()
		}
	}
	return strings.TrimSpace(b.String()), nil
}

func collectTextNodes(r io.Reader, b *strings.Builder) error {
	dec := xml.NewDecoder(r)
	inText := 0
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		switch t := tok.(type) {
		case xml.StartElement:
			if t.Name.Local == "t" {
				inText++
			} else if t.Name.Local == "p" || t.Name.Local == "br" {
				b.WriteString("\n")
			}
		case xml.EndElement:
			if t.Name.Local == "t" && inText > 0 {
				inText--
				b.WriteString(" ")
			}
		case xml.CharData:
			if inText > 0 {
				b.Write(t)
			}
		}
	}
}

func ooxmlCoreProps(zr *zip.Reader) map[string]string {
	for _, f := range zr.File {
		if f.Name != "docProps/core.xml" {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return nil
		}
		defer rc.Close()

		var core struct {
			Title   string `xml:"title"`
			Creator string `xml:"creator"`
			Subject string `xml:"subject"`
		}
		if err := xml.NewDecoder(rc).Decode(&core); err != nil {
			return nil
		}
		meta := map[string]string{}
		if core.Title != "" {
			meta["title"] = core.Title
		}
		if core.Creator != "" {
			meta["author"] = core.Creator
		}
		if core.Subject != "" {
			meta["subject"] = core.Subject
		}
		return meta
	}
	return nil
}

// extractLegacyOffice walks an OLE compound file: summary properties become
// metadata, and text is salvaged from the document streams. Full binary
// format decoding is out of reach here; salvage keeps searchability.
func (e *Extractor) extractLegacyOffice(payload []byte) (string, map[string]string, error) {
	doc, err := mscfb.New(bytes.NewReader(payload))
	if err != nil {
		return "", nil, fmt.Errorf("failed to open compound file: %w", err)
	}

	metadata := map[string]string{}
	var b strings.Builder

	for entry, err := doc.Next(); err == nil; entry, err = doc.Next() {
		name := entry.Name
		data := make([]byte, entry.Size)
		n, _ := io.ReadFull(doc, data)
		data = data[:n]

		if name == "\x05SummaryInformation" {
			props := msoleps.New()
			if err := props.Reset(bytes.NewReader(data)); err == nil {
				for _, p := range props.Property {
					key := strings.ToLower(p.Name)
					if val := p.String(); val != "" && (key == "title" || key == "author" || key == "subject") {
						metadata[key] = val
					}
				}
			}
			continue
		}

		if name == "WordDocument" || name == "Workbook" || strings.HasPrefix(name, "PowerPoint") {
			b.WriteString(salvageText(data))
		}
	}

	text := strings.TrimSpace(b.String())
	if text == "" && len(metadata) == 0 {
		return "", nil, fmt.Errorf("no recoverable text or properties")
	}
	return text, metadata, nil
}

// salvageText pulls printable runs out of a binary stream, trying UTF-16LE
// first (the common case in legacy office formats) and Latin-1 as well.
func salvageText(data []byte) string {
	const minRun = 4
	var b strings.Builder

	// UTF-16LE runs: printable low byte, zero high byte.
	var run []uint16
	flush16 := func() {
		if len(run) >= minRun {
			b.WriteString(string(utf16.Decode(run)))
			b.WriteString(" ")
		}
		run = run[:0]
	}
	for i := 0; i+1 < len(data); i += 2 {
		u := uint16(data[i]) | uint16(data[i+1])<<8
		if u >= 0x20 && u < 0xFFFE && u != 0x7F {
			run = append(run, u)
		} else {
			flush16()
		}
	}
	flush16()

	if b.Len() >= minRun {
		return b.String()
	}

	// Fall back to single-byte printable runs.
	b.Reset()
	var ascii []byte
	flush8 := func() {
		if len(ascii) >= minRun {
			b.Write(ascii)
			b.WriteString(" ")
		}
		ascii = ascii[:0]
	}
	for _, c := range data {
		if c >= 0x20 && c < 0x7F {
			ascii = append(ascii, c)
		} else {
			flush8()
		}
	}
	flush8()
	return b.String()
}
