package storage

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/ghosthamlet/boost-torrent/metainfo"
)

// splitChunkSize is the buffer size used when copying a completed
// torrent's backing file out into its real multi-file layout.
const splitChunkSize = 4096

// Split copies the completed contents of t's backing file into the
// torrent's real file layout under rootDir, one destination file per
// metainfo.File entry, in splitChunkSize chunks. Only valid once t is
// Complete. The backing file is flushed before any read so every byte
// written by WritePiece is guaranteed visible to the copy.
func Split(t *Torrent, rootDir string) error {
	if !t.Complete() {
		return fmt.Errorf("cannot split an incomplete torrent")
	}
	if err := t.file.Sync(); err != nil {
		return fmt.Errorf("flush backing file: %w", err)
	}

	for _, f := range t.mi.Files() {
		dest := filepath.Join(rootDir, f.Path)
		if err := os.MkdirAll(filepath.Dir(dest), 0755); err != nil {
			return fmt.Errorf("create directory for %s: %w", dest, err)
		}
		if err := copyRange(t.file, dest, f.Offset, f.Length); err != nil {
			return fmt.Errorf("write %s: %w", dest, err)
		}
	}
	return nil
}

func copyRange(src *os.File, destPath string, offset, length int64) error {
	out, err := os.OpenFile(destPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return err
	}
	defer out.Close()

	section := io.NewSectionReader(src, offset, length)
	buf := make([]byte, splitChunkSize)
	// Wrapping out hides (*os.File).ReadFrom, which would otherwise bypass buf.
	if _, err := io.CopyBuffer(struct{ io.Writer }{out}, section, buf); err != nil {
		return err
	}
	return out.Sync()
}

// SanitizedRootDir re-exports metainfo.SanitizedRootDir for callers that
// only import storage.
func SanitizedRootDir(name string) string {
	return metainfo.SanitizedRootDir(name)
}
