// Package piece tracks the block-level download state of a single piece:
// which 16KiB blocks have been requested, which have been obtained, and
// when a peer has gone quiet long enough that outstanding requests should
// be retried against someone else.
//
// The RWMutex-guarded state plus an injected clock.Clock for staleness
// checks is grounded on uber-kraken's
// lib/torrent/scheduler/dispatch/piecerequest.Manager, which tracks the
// same kind of request/expiry bookkeeping at whole-piece granularity
// across peers. This package narrows that idea to block granularity
// within a single piece, matching the algorithm in this module's Rust
// predecessor (src/piece.rs): reset every outstanding-but-not-yet-obtained
// request once the piece has gone stale, rather than tracking a
// per-request expiry individually.
package piece

import (
	"crypto/sha1"
	"fmt"
	"sync"
	"time"

	"github.com/andres-erbsen/clock"

	"github.com/ghosthamlet/boost-torrent/bitvector"
)

// BlockSize is the size in bytes of a requested block, per common
// BitTorrent client convention (2^14).
const BlockSize = 16384

// StaleAfter is how long a piece can go without progress before its
// outstanding block requests are considered abandoned and reissued.
const StaleAfter = 500 * time.Millisecond

// Request describes a block to request from a peer: a byte offset within
// the piece and the number of bytes to request starting there.
type Request struct {
	Begin  int
	Length int
}

// Piece tracks the in-progress download state of one piece.
type Piece struct {
	mu sync.RWMutex

	clk   clock.Clock
	index int
	size  int
	hash  [20]byte

	obtained  *bitvector.BitVector
	requested *bitvector.BitVector
	data      []byte

	lastUpdated time.Time
}

func numBlocks(size int) int {
	n := size / BlockSize
	if size%BlockSize != 0 {
		n++
	}
	return n
}

// New creates a Piece of the given index, byte size, and expected SHA-1
// hash. size should equal PieceLength for every piece but the last, which
// may be shorter.
func New(clk clock.Clock, index, size int, hash [20]byte) *Piece {
	n := numBlocks(size)
	return &Piece{
		clk:         clk,
		index:       index,
		size:        size,
		hash:        hash,
		obtained:    bitvector.New(n),
		requested:   bitvector.New(n),
		data:        make([]byte, size),
		lastUpdated: clk.Now(),
	}
}

// Index returns the piece's index within the torrent.
func (p *Piece) Index() int {
	return p.index
}

// Size returns the piece's total length in bytes.
func (p *Piece) Size() int {
	return p.size
}

// IsComplete reports whether every block has been obtained.
func (p *Piece) IsComplete() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.obtained.AllSet()
}

// IsCorrect reports whether the assembled piece data matches its expected
// hash. Only meaningful once IsComplete is true.
func (p *Piece) IsCorrect() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	sum := sha1.Sum(p.data)
	return sum == p.hash
}

// Data returns the assembled piece bytes. The caller must not mutate the
// result.
func (p *Piece) Data() []byte {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.data
}

// blockBounds returns the byte offset and length of block i.
func (p *Piece) blockBounds(i int) (begin, length int) {
	begin = i * BlockSize
	length = BlockSize
	if p.size-begin < BlockSize {
		length = p.size - begin
	}
	return begin, length
}

// resetStaleRequests clears every requested-but-not-yet-obtained block so
// it becomes eligible for NextRequest again, without disturbing blocks
// that have already been obtained. Caller must hold p.mu.
func (p *Piece) resetStaleRequests() {
	if p.clk.Now().Sub(p.lastUpdated) <= StaleAfter {
		return
	}
	p.requested.Clear()
	for i := 0; i < p.requested.Len(); i++ {
		if p.obtained.Test(i) {
			p.requested.Set(i)
		}
	}
}

// NextRequest returns the next block to request, marking it requested. The
// second return value is false once every block is already requested (or
// complete).
func (p *Piece) NextRequest() (Request, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.obtained.AllSet() {
		return Request{}, false
	}

	p.resetStaleRequests()

	i := p.requested.FirstUnset()
	if i == -1 {
		return Request{}, false
	}

	begin, length := p.blockBounds(i)
	p.requested.Set(i)
	p.lastUpdated = p.clk.Now()
	return Request{Begin: begin, Length: length}, true
}

// AddBlock records a downloaded block at the given byte offset.
func (p *Piece) AddBlock(begin int, block []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if begin < 0 || begin+len(block) > p.size {
		return fmt.Errorf("piece %d: block [%d, %d) out of bounds for size %d",
			p.index, begin, begin+len(block), p.size)
	}
	if begin%BlockSize != 0 {
		return fmt.Errorf("piece %d: block begin %d is not block-aligned", p.index, begin)
	}

	copy(p.data[begin:], block)
	p.obtained.Set(begin / BlockSize)
	p.lastUpdated = p.clk.Now()
	return nil
}
