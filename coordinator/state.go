// Package coordinator owns the process-wide shared state of a single
// download: the completed-piece bitvector, the active and potential peer
// lists, in-flight piece managers, atomic byte counters, and the wrap-up
// flag, plus the three background workers that drive them (tracker
// refresh, peer pool, per-peer session). The goroutine/channel/RWMutex
// shape is grounded on uber-kraken's lib/torrent/scheduler.scheduler
// (lib/torrent/scheduler/scheduler.go): a done channel and sync.WaitGroup
// for shutdown, one RWMutex-guarded container per piece of shared state,
// never nested, matching that file's locking discipline of one container
// lock at a time.
package coordinator

import (
	"sync"

	"go.uber.org/atomic"

	"github.com/ghosthamlet/boost-torrent/bitvector"
	"github.com/ghosthamlet/boost-torrent/core"
	"github.com/ghosthamlet/boost-torrent/peer"
	"github.com/ghosthamlet/boost-torrent/piece"
	"github.com/ghosthamlet/boost-torrent/trackerclient"
)

// state holds every piece of process-wide shared state for one download.
// Each field is guarded by its own lock; a caller never holds more than one
// of these locks at a time.
type state struct {
	uploaded   *atomic.Int64
	downloaded *atomic.Int64
	wrapUp     *atomic.Bool

	completedMu sync.RWMutex
	completed   *bitvector.BitVector

	activeMu sync.RWMutex
	active   map[core.PeerID]*peer.Session

	potentialMu sync.Mutex
	potential   []trackerclient.Peer

	inFlightMu sync.RWMutex
	inFlight   map[int]*piece.Piece

	// outgoing counts sessions this process dialed, as opposed to accepted,
	// so the pool manager can cap only the outgoing half per spec.
	outgoing *atomic.Int32

	death chan core.PeerID
}

func newState(numPieces int) *state {
	return &state{
		uploaded:   atomic.NewInt64(0),
		downloaded: atomic.NewInt64(0),
		wrapUp:     atomic.NewBool(false),
		completed:  bitvector.New(numPieces),
		active:     make(map[core.PeerID]*peer.Session),
		inFlight:   make(map[int]*piece.Piece),
		outgoing:   atomic.NewInt32(0),
		// Buffered generously so a burst of simultaneous peer deaths never
		// blocks a session's own teardown path.
		death: make(chan core.PeerID, 256),
	}
}

func (s *state) isWrappingUp() bool {
	return s.wrapUp.Load()
}

func (s *state) beginWrapUp() {
	s.wrapUp.Store(true)
}

func (s *state) markCompleted(index int) {
	s.completedMu.Lock()
	defer s.completedMu.Unlock()
	s.completed.Set(index)
}

func (s *state) completedSnapshot() *bitvector.BitVector {
	s.completedMu.RLock()
	defer s.completedMu.RUnlock()
	cp, _ := bitvector.FromBytes(s.completed.Len(), append([]byte(nil), s.completed.Bytes()...))
	return cp
}

// bytesLeft computes the number of bytes still missing from totalSize,
// calling pieceLengthAt(i) for each completed piece rather than assuming a
// uniform piece length, since a torrent's final piece is usually shorter
// than the rest.
func (s *state) bytesLeft(totalSize int64, pieceLengthAt func(i int) int64) int64 {
	s.completedMu.RLock()
	defer s.completedMu.RUnlock()
	var done int64
	for i := 0; i < s.completed.Len(); i++ {
		if s.completed.Test(i) {
			done += pieceLengthAt(i)
		}
	}
	left := totalSize - done
	if left < 0 {
		left = 0
	}
	return left
}

func (s *state) addActive(sess *peer.Session, outgoing bool) {
	s.activeMu.Lock()
	s.active[sess.PeerID()] = sess
	s.activeMu.Unlock()
	if outgoing {
		s.outgoing.Inc()
	}
}

func (s *state) removeActive(id core.PeerID, outgoing bool) {
	s.activeMu.Lock()
	delete(s.active, id)
	s.activeMu.Unlock()
	if outgoing {
		s.outgoing.Dec()
	}
}

func (s *state) activeCount() int {
	s.activeMu.RLock()
	defer s.activeMu.RUnlock()
	return len(s.active)
}

// closeAllActive closes every currently active session. Closing a session
// unblocks its peerWorker's message loop (peer.Session.Close closes the
// receiver channel a worker ranges over), so this is how Stop forces every
// per-peer goroutine to exit instead of leaving it blocked on a read that
// will never complete. Sessions remove themselves from active on their own
// exit, so this takes a snapshot under the lock rather than holding it
// while calling out to Close.
func (s *state) closeAllActive() {
	s.activeMu.RLock()
	sessions := make([]*peer.Session, 0, len(s.active))
	for _, sess := range s.active {
		sessions = append(sessions, sess)
	}
	s.activeMu.RUnlock()

	for _, sess := range sessions {
		sess.Close()
	}
}

func (s *state) enqueuePotential(peers []trackerclient.Peer) {
	s.potentialMu.Lock()
	defer s.potentialMu.Unlock()
	s.potential = append(s.potential, peers...)
}

// popPotential removes and returns one address from the potential queue, or
// ok=false if it is empty. A popped address is never re-queued on dial
// failure, per the pool manager's contract.
func (s *state) popPotential() (trackerclient.Peer, bool) {
	s.potentialMu.Lock()
	defer s.potentialMu.Unlock()
	if len(s.potential) == 0 {
		return trackerclient.Peer{}, false
	}
	p := s.potential[0]
	s.potential = s.potential[1:]
	return p, true
}

func (s *state) setInFlight(index int, p *piece.Piece) {
	s.inFlightMu.Lock()
	defer s.inFlightMu.Unlock()
	s.inFlight[index] = p
}

func (s *state) getInFlight(index int) (*piece.Piece, bool) {
	s.inFlightMu.RLock()
	defer s.inFlightMu.RUnlock()
	p, ok := s.inFlight[index]
	return p, ok
}

func (s *state) clearInFlight(index int) {
	s.inFlightMu.Lock()
	defer s.inFlightMu.Unlock()
	delete(s.inFlight, index)
}

func (s *state) addUploaded(n int64) {
	s.uploaded.Add(n)
}

func (s *state) addDownloaded(n int64) {
	s.downloaded.Add(n)
}
