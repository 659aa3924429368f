package extract

import (
	"archive/tar"
	"archive/zip"
	"bytes"
	"compress/gzip"
	"fmt"
	"io"
	"strings"
)

// Generic archives are not unpacked; the member listing alone is what the
// investigation layer searches over.

func (e *Extractor) listZipMembers(payload []byte) (string, map[string]string, error) {
	zr, err := zip.NewReader(bytes.NewReader(payload), int64(len(payload)))
	if err != nil {
		return "", nil, fmt.Errorf("failed to read zip directory: %w", err)
	}

	names := make([]string, 0, len(zr.File))
	for _, f := range zr.File {
		names = append(names, f.Name)
	}
	return strings.Join(names, "\n"), map[string]string{"members": fmt.Sprint(len(names))}, nil
}

func (e *Extractor) listTarMembers(payload []byte) (string, map[string]string, error) {
	return tarListing(bytes.NewReader(payload))
}

// listGzipMember lists the single stored name when present; a gzipped tar
// is listed like a plain tar.
func (e *Extractor) listGzipMember(payload []byte) (string, map[string]string, error) {
	gz, err := gzip.NewReader(bytes.NewReader(payload))
	if err != nil {
		return "", nil, fmt.Errorf("failed to read gzip header: %w", err)
	}
	defer gz.Close()

	head := make([]byte, 512)
	n, _ := io.ReadFull(gz, head)
	if n > 262 && string(head[257:262]) == "ustar" {
		return tarListing(io.MultiReader(bytes.NewReader(head[:n]), gz))
	}

	name := gz.Name
	if name == "" {
		name = "(unnamed member)"
	}
	return name, map[string]string{"members": "1"}, nil
}

func tarListing(r io.Reader) (string, map[string]string, error) {
	tr := tar.NewReader(r)
	var names []string
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			if len(names) > 0 {
				break // truncated archive, keep what was listed
			}
			return "", nil, fmt.Errorf("failed to read tar entries: %w", err)
		}
		names = append(names, hdr.Name)
	}
	if len(names) == 0 {
		return "", nil, fmt.Errorf("tar archive has no entries")
	}
	return strings.Join(names, "\n"), map[string]string{"members": fmt.Sprint(len(names))}, nil
}
