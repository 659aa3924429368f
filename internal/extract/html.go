package extract

import (
	"bytes"
	"fmt"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/arcresolve/arcresolve/internal/models"
	"golang.org/x/net/html/charset"
)

// extractHTML converts markup to plain text: scripts and styles are dropped,
// the visible text is whitespace-normalized, and title/description land in
// metadata.
func (e *Extractor) extractHTML(payload []byte) (string, map[string]string, error) {
	reader, err := charset.NewReader(bytes.NewReader(payload), "text/html")
	if err != nil {
		return "", nil, fmt.Errorf("failed to detect charset: %w", err)
	}

	doc, err := goquery.NewDocumentFromReader(reader)
	if err != nil {
		return "", nil, fmt.Errorf("failed to parse HTML: %w", err)
	}

	doc.Find("script, style, noscript, template").Remove()

	metadata := map[string]string{}
	if title := strings.TrimSpace(doc.Find("title").First().Text()); title != "" {
		metadata["title"] = title
	}
	if desc, ok := doc.Find(`meta[name="description"]`).First().Attr("content"); ok {
		metadata["description"] = strings.TrimSpace(desc)
	}

	body := doc.Find("body")
	var text string
	if body.Length() > 0 {
		text = body.Text()
	} else {
		text = doc.Text()
	}

	return strings.Join(strings.Fields(text), " "), metadata, nil
}

func (e *Extractor) extractPlainText(payload []byte) (string, map[string]string, error) {
	reader, err := charset.NewReader(bytes.NewReader(payload), "text/plain")
	if err != nil {
		return string(payload), nil, nil
	}
	buf := new(bytes.Buffer)
	if _, err := buf.ReadFrom(reader); err != nil {
		return "", nil, fmt.Errorf("failed to decode text: %w", err)
	}
	return buf.String(), nil, nil
}

// Links pulls outbound links and their anchor text from an HTML payload,
// resolving relative hrefs against baseURL. Fragment-only, javascript: and
// mailto: hrefs are skipped.
func Links(payload []byte, baseURL string) ([]models.RawLink, error) {
	base, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid base URL: %w", err)
	}

	reader, err := charset.NewReader(bytes.NewReader(payload), "text/html")
	if err != nil {
		return nil, fmt.Errorf("failed to detect charset: %w", err)
	}
	doc, err := goquery.NewDocumentFromReader(reader)
	if err != nil {
		return nil, fmt.Errorf("failed to parse HTML: %w", err)
	}

	var links []models.RawLink
	seen := make(map[string]bool)
	doc.Find("a[href]").Each(func(_ int, s *goquery.Selection) {
		href, _ := s.Attr("href")
		href = strings.TrimSpace(href)
		if href == "" || strings.HasPrefix(href, "#") ||
			strings.HasPrefix(href, "javascript:") || strings.HasPrefix(href, "mailto:") {
			return
		}
		ref, err := url.Parse(href)
		if err != nil {
			return
		}
		abs := base.ResolveReference(ref)
		if abs.Scheme != "http" && abs.Scheme != "https" {
			return
		}
		abs.Fragment = ""
		target := abs.String()
		if seen[target] {
			return
		}
		seen[target] = true
		links = append(links, models.RawLink{
			Target: target,
			Anchor: strings.Join(strings.Fields(s.Text()), " "),
		})
	})

	return links, nil
}
