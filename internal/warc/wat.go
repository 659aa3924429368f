package warc

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/arcresolve/arcresolve/internal/models"
)

// watEnvelope mirrors the nested shape of a metadata-only (WAT) record's
// JSON payload. Only the fields the resolver projects are declared.
type watEnvelope struct {
	Envelope struct {
		WARCHeaderMetadata struct {
			TargetURI string `json:"WARC-Target-URI"`
		} `json:"WARC-Header-Metadata"`
		PayloadMetadata struct {
			HTTPResponseMetadata struct {
				ResponseMessage struct {
					Status string `json:"Status"`
				} `json:"Response-Message"`
				Headers struct {
					ContentType string `json:"Content-Type"`
				} `json:"Headers"`
				HTMLMetadata struct {
					Head struct {
						Title string `json:"Title"`
					} `json:"Head"`
					Links []watLink `json:"Links"`
				} `json:"HTML-Metadata"`
			} `json:"HTTP-Response-Metadata"`
		} `json:"Payload-Metadata"`
	} `json:"Envelope"`
}

type watLink struct {
	URL  string `json:"url"`
	Href string `json:"href"`
	Text string `json:"text"`
	Path string `json:"path"`
}

// parseMetadataBlock projects a metadata-only record onto the same fields a
// response record provides, including the embedded outbound-link list when
// one is present.
func parseMetadataBlock(block []byte, rec *models.ParsedRecord) {
	if !strings.Contains(strings.ToLower(rec.HeaderValue("Content-Type")), "json") {
		// Plain metadata record without the structured projection.
		rec.Payload = block
		return
	}

	var env watEnvelope
	if err := json.Unmarshal(block, &env); err != nil {
		rec.Err = &models.ParseError{Digest: rec.Digest, Reason: fmt.Sprintf("metadata document: %v", err)}
		return
	}

	if uri := env.Envelope.WARCHeaderMetadata.TargetURI; uri != "" {
		rec.TargetURL = uri
	}
	meta := env.Envelope.PayloadMetadata.HTTPResponseMetadata
	if code, err := strconv.Atoi(meta.ResponseMessage.Status); err == nil {
		rec.HTTPStatus = code
	}
	if meta.Headers.ContentType != "" {
		rec.MediaType = meta.Headers.ContentType
	}

	for _, l := range meta.HTMLMetadata.Links {
		target := l.URL
		if target == "" {
			target = l.Href
		}
		if target == "" {
			continue
		}
		// Anchor-only link entries (path "A@/href") carry visible text.
		rec.Links = append(rec.Links, models.RawLink{Target: target, Anchor: strings.TrimSpace(l.Text)})
	}
	rec.Payload = block
}
