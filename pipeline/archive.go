package pipeline

import (
	"archive/zip"
	"bytes"
	"encoding/hex"
	"fmt"
	"time"

	"golang.org/x/crypto/blake2b"
)

// digest is the hex BLAKE2b-256 of an archive.
func digest(archive []byte) string {
	sum := blake2b.Sum256(archive)
	return hex.EncodeToString(sum[:])
}

type entry struct {
	row  int
	name string
	data []byte // nil when overwritten by a later row
}

// writeArchive zips entries in order, all stamped with modified.
func writeArchive(entries []entry, modified time.Time) ([]byte, []Artifact, error) {
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	artifacts := make([]Artifact, 0, len(entries))
	for _, e := range entries {
		if e.data == nil {
			continue
		}
		w, err := zw.CreateHeader(&zip.FileHeader{
			Name:     e.name,
			Method:   zip.Deflate,
			Modified: modified,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("pipeline: archive %s: %w", e.name, err)
		}
		if _, err := w.Write(e.data); err != nil {
			return nil, nil, fmt.Errorf("pipeline: archive %s: %w", e.name, err)
		}
		artifacts = append(artifacts, Artifact{Row: e.row, Name: e.name, Size: len(e.data)})
	}
	if err := zw.Close(); err != nil {
		return nil, nil, fmt.Errorf("pipeline: close archive: %w", err)
	}
	return buf.Bytes(), artifacts, nil
}
