// Package pipeline implements the chunk embedding pipeline: locate archives,
// load and normalize frames, encode one batch per chunk, realign features to
// the original frame order, and persist output archives.
package pipeline

import (
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// ArchiveExt is the extension of input and output chunk archives.
const ArchiveExt = ".safetensors"

// EmbeddedSuffix marks an output archive's file stem.
const EmbeddedSuffix = "_embedded"

// Chunk is one unit of work: an input archive and its mirrored output path.
type Chunk struct {
	// Name identifies the chunk in logs and in the index store: the
	// sanitized path of the input archive relative to the source root.
	Name       string
	InputPath  string
	OutputPath string
}

// sanitize replaces the '|' separators that comma2k19 route names carry,
// which are unsafe in some tooling and filesystems.
func sanitize(s string) string {
	return strings.ReplaceAll(s, "|", "_")
}

// OutputName derives the output archive's relative path for an input archive
// at rel: directory structure mirrored, '|' sanitized, stem suffixed.
func OutputName(rel string) string {
	dir := sanitize(filepath.Dir(rel))
	stem := strings.TrimSuffix(filepath.Base(rel), filepath.Ext(rel))
	return filepath.Join(dir, sanitize(stem)+EmbeddedSuffix+ArchiveExt)
}

// Locate enumerates every chunk archive under srcRoot and pairs it with its
// mirrored output path under dstRoot. Chunks whose output already exists are
// filtered out; their count is returned separately. A maxChunks cap > 0
// truncates the enumeration before the filter, as a debug aid. Locate also
// ensures dstRoot exists.
func Locate(srcRoot, dstRoot string, maxChunks int) (pending []Chunk, alreadyDone int, err error) {
	var found []Chunk
	err = filepath.WalkDir(srcRoot, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !strings.EqualFold(filepath.Ext(path), ArchiveExt) {
			return nil
		}
		rel, err := filepath.Rel(srcRoot, path)
		if err != nil {
			return err
		}
		found = append(found, Chunk{
			Name:       sanitize(filepath.ToSlash(rel)),
			InputPath:  path,
			OutputPath: filepath.Join(dstRoot, OutputName(rel)),
		})
		return nil
	})
	if err != nil {
		return nil, 0, err
	}

	if err := os.MkdirAll(dstRoot, 0755); err != nil {
		return nil, 0, err
	}

	if maxChunks > 0 && len(found) > maxChunks {
		found = found[:maxChunks]
	}

	for _, c := range found {
		if _, err := os.Stat(c.OutputPath); err == nil {
			alreadyDone++
			continue
		}
		pending = append(pending, c)
	}
	return pending, alreadyDone, nil
}
