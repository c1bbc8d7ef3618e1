// Package scan is the stateless backend: every query walks the projects
// tree and re-parses the transcripts it finds.
package scan

import (
	"context"
	"io/fs"
	"path/filepath"
	"strings"
	"time"
)

const transcriptExt = ".jsonl"

// File is a transcript found on disk.
type File struct {
	Path    string
	ModTime time.Time
	Size    int64
}

// Discover lists every *.jsonl file under root in lexical order, skipping
// files last modified before since (when non-nil). Unreadable directories
// are skipped; an unreadable root yields no files.
func Discover(ctx context.Context, root string, since *time.Time) ([]File, error) {
	var files []File
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if err != nil {
			if d != nil && d.IsDir() && path != root {
				return fs.SkipDir
			}
			return nil
		}
		if d.IsDir() || !strings.HasSuffix(d.Name(), transcriptExt) {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return nil
		}
		if since != nil && info.ModTime().Before(*since) {
			return nil
		}
		files = append(files, File{Path: path, ModTime: info.ModTime().UTC(), Size: info.Size()})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return files, nil
}
