// Package storage manages the on-disk representation of a torrent: a
// single pre-allocated backing file addressed by piece offset during the
// download, later split into the torrent's real multi-file layout once
// complete.
//
// The piece status state machine (empty/dirty/complete, a per-piece
// RWMutex, tryMarkDirty's three-way return guarding against both a
// duplicate concurrent write and a write to an already-complete piece)
// and the atomic completed-piece counter are grounded directly on
// uber-kraken's lib/torrent/storage.LocalTorrent (localtorrent.go),
// adapted from kraken's FileStore-backed, metadata-tracked piece status
// (persisted across restarts) to an in-memory-only status since this
// module has no separate download/cache store to persist it in.
package storage

import (
	"bytes"
	"crypto/sha1"
	"errors"
	"fmt"
	"os"
	"sync"

	"go.uber.org/atomic"

	"github.com/ghosthamlet/boost-torrent/bitvector"
	"github.com/ghosthamlet/boost-torrent/metainfo"
)

// Errors returned by WritePiece.
var (
	ErrWritePieceConflict = errors.New("piece is already being written to")
	ErrPieceComplete      = errors.New("piece is already complete")
)

type pieceStatus int

const (
	statusEmpty pieceStatus = iota
	statusDirty
	statusComplete
)

type piece struct {
	mu     sync.RWMutex
	status pieceStatus
}

func (p *piece) complete() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.status == statusComplete
}

func (p *piece) dirty() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.status == statusDirty
}

// tryMarkDirty transitions an empty piece to dirty and returns (false,
// false) to signal the caller may proceed. Returns dirty=true if another
// writer already claimed the piece, or complete=true if it is done.
func (p *piece) tryMarkDirty() (dirty, complete bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	switch p.status {
	case statusEmpty:
		p.status = statusDirty
	case statusDirty:
		dirty = true
	case statusComplete:
		complete = true
	}
	return
}

func (p *piece) markEmpty() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.status = statusEmpty
}

func (p *piece) markComplete() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.status = statusComplete
}

// Torrent manages reads and writes to a torrent's pre-allocated backing
// file, addressed by piece index. Allows concurrent writes on distinct
// pieces and concurrent reads on all pieces.
type Torrent struct {
	mi          *metainfo.MetaInfo
	file        *os.File
	pieces      []*piece
	numComplete *atomic.Int32
}

// New creates a Torrent backed by a single pre-allocated file at path,
// sized to the torrent's total length.
func New(path string, mi *metainfo.MetaInfo) (*Torrent, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return nil, fmt.Errorf("open backing file: %w", err)
	}
	if err := f.Truncate(mi.TotalLength()); err != nil {
		f.Close()
		return nil, fmt.Errorf("allocate backing file: %w", err)
	}

	pieces := make([]*piece, mi.NumPieces())
	for i := range pieces {
		pieces[i] = &piece{}
	}

	return &Torrent{
		mi:          mi,
		file:        f,
		pieces:      pieces,
		numComplete: atomic.NewInt32(0),
	}, nil
}

// Close flushes and closes the backing file.
func (t *Torrent) Close() error {
	if err := t.file.Sync(); err != nil {
		return err
	}
	return t.file.Close()
}

// NumPieces returns the number of pieces in the torrent.
func (t *Torrent) NumPieces() int {
	return len(t.pieces)
}

// Complete reports whether every piece has been written and verified.
func (t *Torrent) Complete() bool {
	return int(t.numComplete.Load()) == len(t.pieces)
}

// Bitfield returns the torrent's current completion bitfield, one bit per
// piece, in the same big-endian-within-byte layout as the wire bitfield
// message.
func (t *Torrent) Bitfield() *bitvector.BitVector {
	bv := bitvector.New(len(t.pieces))
	for i, p := range t.pieces {
		if p.complete() {
			bv.Set(i)
		}
	}
	return bv
}

// HasPiece reports whether piece pi is complete.
func (t *Torrent) HasPiece(pi int) bool {
	p, err := t.getPiece(pi)
	if err != nil {
		return false
	}
	return p.complete()
}

// MissingPieces returns the indices of all pieces not yet complete.
func (t *Torrent) MissingPieces() []int {
	var missing []int
	for i, p := range t.pieces {
		if !p.complete() {
			missing = append(missing, i)
		}
	}
	return missing
}

func (t *Torrent) getPiece(pi int) (*piece, error) {
	if pi < 0 || pi >= len(t.pieces) {
		return nil, fmt.Errorf("invalid piece index %d: num pieces = %d", pi, len(t.pieces))
	}
	return t.pieces[pi], nil
}

func (t *Torrent) verifyPiece(pi int, data []byte) error {
	expected := t.mi.PieceHash(pi)
	sum := sha1.Sum(data)
	if !bytes.Equal(sum[:], expected[:]) {
		return errors.New("piece hash mismatch")
	}
	return nil
}

// WritePiece verifies and writes data for piece pi to the backing file,
// flushing before returning so a subsequent ReadPiece is guaranteed to
// observe the write.
func (t *Torrent) WritePiece(data []byte, pi int) error {
	p, err := t.getPiece(pi)
	if err != nil {
		return err
	}
	if int64(len(data)) != t.mi.PieceLengthAt(pi) {
		return fmt.Errorf("invalid piece data length: expected %d, got %d", t.mi.PieceLengthAt(pi), len(data))
	}

	if p.complete() {
		return ErrPieceComplete
	}
	if p.dirty() {
		return ErrWritePieceConflict
	}

	if err := t.verifyPiece(pi, data); err != nil {
		return fmt.Errorf("invalid piece: %w", err)
	}

	dirty, complete := p.tryMarkDirty()
	if dirty {
		return ErrWritePieceConflict
	} else if complete {
		return ErrPieceComplete
	}

	if err := t.writePiece(data, pi); err != nil {
		p.markEmpty()
		return fmt.Errorf("write piece: %w", err)
	}

	p.markComplete()
	t.numComplete.Inc()
	return nil
}

func (t *Torrent) writePiece(data []byte, pi int) error {
	offset := t.pieceOffset(pi)
	if _, err := t.file.WriteAt(data, offset); err != nil {
		return err
	}
	return t.file.Sync()
}

// ReadPiece returns the data for piece pi. Only valid once the piece is
// complete.
func (t *Torrent) ReadPiece(pi int) ([]byte, error) {
	p, err := t.getPiece(pi)
	if err != nil {
		return nil, err
	}
	if !p.complete() {
		return nil, errors.New("piece not complete")
	}

	data := make([]byte, t.mi.PieceLengthAt(pi))
	if _, err := t.file.ReadAt(data, t.pieceOffset(pi)); err != nil {
		return nil, fmt.Errorf("read piece: %w", err)
	}
	return data, nil
}

func (t *Torrent) pieceOffset(pi int) int64 {
	return t.mi.PieceLength() * int64(pi)
}
