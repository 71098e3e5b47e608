// Package metainfo parses .torrent metafiles and exposes the fields the
// rest of this module needs: the announce URL, the piece layout, and the
// file layout to write pieces into on disk.
//
// The struct shapes and the InfoHash-via-re-encoding idiom are grounded on
// uber-kraken's core.MetaInfo (core/metainfo.go), adapted from kraken's
// single-file content-addressed blob model to BEP 3's single/multi-file
// torrent layout.
package metainfo

import (
	"crypto/sha1"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/ghosthamlet/boost-torrent/bencode"
	"github.com/ghosthamlet/boost-torrent/core"
)

const pieceHashLen = 20

// fileEntry is one file within a multi-file torrent's "files" list.
type fileEntry struct {
	Length int64    `bencode:"length"`
	Path   []string `bencode:"path"`
}

// info is the bencoded "info" sub-dictionary. Field presence of Length vs.
// Files distinguishes single-file from multi-file torrents, per BEP 3.
type info struct {
	PieceLength int64       `bencode:"piece length"`
	Pieces      []byte      `bencode:"pieces"`
	Name        string      `bencode:"name"`
	Length      int64       `bencode:"length,omitempty"`
	Files       []fileEntry `bencode:"files,omitempty"`
}

// rawMetaInfo is the bencoded top-level dictionary of a .torrent file.
type rawMetaInfo struct {
	Announce string `bencode:"announce"`
	Info     info   `bencode:"info"`
}

// File describes one destination file within a torrent's layout, along
// with the byte range of the concatenated piece stream it occupies.
type File struct {
	Path   string
	Length int64
	Offset int64
}

// MetaInfo is a parsed .torrent metafile.
type MetaInfo struct {
	announce string
	info     info
	infoHash core.InfoHash
	files    []File
}

// Parse decodes a .torrent metafile from data.
func Parse(data []byte) (*MetaInfo, error) {
	var raw rawMetaInfo
	if err := bencode.Unmarshal(data, &raw); err != nil {
		return nil, core.Wrap(core.BencodeDecoding, err)
	}
	if raw.Info.PieceLength <= 0 {
		return nil, core.Errorf(core.TorrentFileMeta, "piece length must be positive")
	}
	if len(raw.Info.Pieces)%pieceHashLen != 0 {
		return nil, core.Errorf(core.TorrentFileMeta, "pieces field is not a multiple of %d bytes", pieceHashLen)
	}

	infoBytes, err := bencode.Marshal(raw.Info)
	if err != nil {
		return nil, core.Wrap(core.BencodeEncoding, err)
	}
	sum := sha1.Sum(infoBytes)
	var h core.InfoHash
	copy(h[:], sum[:])

	files, err := layoutFiles(raw.Info)
	if err != nil {
		return nil, err
	}

	return &MetaInfo{
		announce: raw.Announce,
		info:     raw.Info,
		infoHash: h,
		files:    files,
	}, nil
}

// layoutFiles computes the destination path and byte offset of every file
// in the torrent. Multi-file path segments are joined with the OS
// separator under the torrent's name as the root directory, per BEP 3.
func layoutFiles(inf info) ([]File, error) {
	if len(inf.Files) == 0 {
		return []File{{Path: inf.Name, Length: inf.Length, Offset: 0}}, nil
	}

	root := SanitizedRootDir(inf.Name)

	var files []File
	var offset int64
	for _, f := range inf.Files {
		if len(f.Path) == 0 {
			return nil, core.Errorf(core.TorrentFileMeta, "file entry has empty path")
		}
		segments := append([]string{root}, f.Path...)
		path := filepath.Join(segments...)
		if !strings.HasPrefix(path, root+string(filepath.Separator)) {
			return nil, core.Errorf(core.TorrentFileMeta, "file path %q escapes torrent root", filepath.Join(f.Path...))
		}
		files = append(files, File{Path: path, Length: f.Length, Offset: offset})
		offset += f.Length
	}
	return files, nil
}

// Announce returns the tracker announce URL.
func (mi *MetaInfo) Announce() string {
	return mi.announce
}

// InfoHash returns the torrent's info hash.
func (mi *MetaInfo) InfoHash() core.InfoHash {
	return mi.infoHash
}

// Name returns the torrent's suggested name (the single file's name, or
// the root directory name for a multi-file torrent).
func (mi *MetaInfo) Name() string {
	return mi.info.Name
}

// PieceLength returns the length in bytes of every piece except possibly
// the last.
func (mi *MetaInfo) PieceLength() int64 {
	return mi.info.PieceLength
}

// TotalLength returns the sum of all file lengths in the torrent.
func (mi *MetaInfo) TotalLength() int64 {
	var total int64
	for _, f := range mi.files {
		total += f.Length
	}
	return total
}

// NumPieces returns the number of pieces in the torrent.
func (mi *MetaInfo) NumPieces() int {
	return len(mi.info.Pieces) / pieceHashLen
}

// PieceLengthAt returns the length of piece i, accounting for the final
// piece being shorter than PieceLength when TotalLength isn't a multiple
// of it.
func (mi *MetaInfo) PieceLengthAt(i int) int64 {
	if i < 0 || i >= mi.NumPieces() {
		return 0
	}
	if i == mi.NumPieces()-1 {
		return mi.TotalLength() - mi.PieceLength()*int64(i)
	}
	return mi.PieceLength()
}

// PieceHash returns the expected SHA-1 hash of piece i.
func (mi *MetaInfo) PieceHash(i int) [pieceHashLen]byte {
	var h [pieceHashLen]byte
	copy(h[:], mi.info.Pieces[i*pieceHashLen:(i+1)*pieceHashLen])
	return h
}

// Files returns the destination file layout of the torrent.
func (mi *MetaInfo) Files() []File {
	return mi.files
}

// ReadFile loads and parses a .torrent metafile from disk.
func ReadFile(path string) (*MetaInfo, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, core.Wrap(core.FileOpen, err)
	}
	mi, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return mi, nil
}

// SanitizedRootDir returns the torrent's name with path separators
// stripped, suitable as the root directory a multi-file torrent is
// written under, guarding against a malicious or malformed name
// containing directory traversal segments.
func SanitizedRootDir(name string) string {
	name = filepath.Base(name)
	if name == "." || name == string(filepath.Separator) || strings.TrimSpace(name) == "" {
		return "download"
	}
	return name
}
