// Package archive packages generated assets into a single zip for
// delivery.
package archive

import (
	"archive/zip"
	"bytes"
	"fmt"
)

// Asset is one file to include in the archive. Name may carry a category
// prefix, e.g. "backgrounds/bg_1.png".
type Asset struct {
	Name string
	Data []byte
}

// Build writes all assets into a deflate-compressed zip and returns its
// bytes.
func Build(assets []Asset) ([]byte, error) {
	buf := &bytes.Buffer{}
	zw := zip.NewWriter(buf)

	for _, asset := range assets {
		w, err := zw.Create(asset.Name)
		if err != nil {
			return nil, fmt.Errorf("add %s to archive: %w", asset.Name, err)
		}
		if _, err := w.Write(asset.Data); err != nil {
			return nil, fmt.Errorf("write %s: %w", asset.Name, err)
		}
	}

	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("finalize archive: %w", err)
	}
	return buf.Bytes(), nil
}
