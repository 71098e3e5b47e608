package coordinator

import (
	"time"

	"github.com/andres-erbsen/clock"

	"github.com/ghosthamlet/boost-torrent/bitvector"
	"github.com/ghosthamlet/boost-torrent/log"
	"github.com/ghosthamlet/boost-torrent/metainfo"
	"github.com/ghosthamlet/boost-torrent/peer"
	"github.com/ghosthamlet/boost-torrent/piece"
	"github.com/ghosthamlet/boost-torrent/storage"
	"github.com/ghosthamlet/boost-torrent/wire"
)

// peerWorker drives one peer session's message loop: applying choke/
// interest/have/bitfield state transitions, routing received piece data
// into the in-flight piece manager, and issuing block requests while
// unchoked. One instance runs per active session, grounded on spec.md
// §4.6/§5's "dedicated thread per peer session performs blocking reads".
type peerWorker struct {
	sess     *peer.Session
	mi       *metainfo.MetaInfo
	store    *storage.Torrent
	state    *state
	clk      clock.Clock
	outgoing bool
	logger   *log.EventLogger
}

func newPeerWorker(
	sess *peer.Session,
	mi *metainfo.MetaInfo,
	store *storage.Torrent,
	s *state,
	clk clock.Clock,
	outgoing bool,
	logger *log.EventLogger) *peerWorker {

	return &peerWorker{
		sess: sess, mi: mi, store: store, state: s, clk: clk, outgoing: outgoing, logger: logger,
	}
}

// run starts the session's IO loops, announces our own bitfield, and
// services incoming messages until the session closes. Always notifies the
// death channel exactly once on exit, per spec.md's per-peer death
// notification contract.
func (w *peerWorker) run() {
	defer func() {
		w.state.death <- w.sess.PeerID()
		w.logger.PeerDisconnect(w.sess.PeerID(), nil)
	}()

	w.state.addActive(w.sess, w.outgoing)
	w.logger.PeerConnect(w.sess.PeerID(), w.outgoing)

	w.sess.Start()
	w.announceBitfield()
	w.requestLoop()

	for m := range w.sess.Receiver() {
		w.handle(m)
	}
}

func (w *peerWorker) announceBitfield() {
	bf := w.state.completedSnapshot()
	w.sess.Send(wire.NewBitfield(bf.Bytes()))
}

// requestLoop declares interest in the peer; it sends no requests itself.
// Requests are driven from handle() as unchoke/have/piece messages arrive,
// matching the session's blocking-read-driven design.
func (w *peerWorker) requestLoop() {
	w.sess.SetAmInterested(true)
	w.sess.Send(&wire.Message{ID: wire.MsgInterested})
}

func (w *peerWorker) handle(m *wire.Message) {
	switch m.ID {
	case wire.MsgChoke:
		w.sess.SetPeerChoking(true)
	case wire.MsgUnchoke:
		w.sess.SetPeerChoking(false)
		w.fillRequests()
	case wire.MsgInterested:
		w.sess.SetPeerInterested(true)
	case wire.MsgNotInterested:
		w.sess.SetPeerInterested(false)
	case wire.MsgHave:
		index, err := wire.ParseHave(m)
		if err == nil {
			w.sess.MarkHave(index)
			if !w.sess.PeerChoking() {
				w.fillRequests()
			}
		}
	case wire.MsgBitfield:
		bv, err := bitvector.FromBytes(w.mi.NumPieces(), m.Payload)
		if err == nil {
			w.sess.SetBitfield(bv)
		}
	case wire.MsgRequest:
		w.handleRequest(m)
	case wire.MsgPiece:
		w.handlePiece(m)
	case wire.MsgCancel:
		// Upload queue cancellation: this module serves requests
		// synchronously, so there is no queued send to cancel.
	}
}

func (w *peerWorker) handleRequest(m *wire.Message) {
	fields, err := wire.ParseRequest(m)
	if err != nil || w.sess.AmChoking() {
		return
	}
	data, err := w.store.ReadPiece(fields.Index)
	if err != nil {
		return
	}
	if fields.Begin+fields.Length > len(data) {
		return
	}
	block := data[fields.Begin : fields.Begin+fields.Length]
	if err := w.sess.Send(wire.NewPiece(fields.Index, fields.Begin, block)); err == nil {
		w.state.addUploaded(int64(len(block)))
	}
}

func (w *peerWorker) handlePiece(m *wire.Message) {
	fields, err := wire.ParsePiece(m)
	if err != nil {
		return
	}
	p, ok := w.state.getInFlight(fields.Index)
	if !ok {
		return
	}
	if err := p.AddBlock(fields.Begin, fields.Block); err != nil {
		return
	}
	w.state.addDownloaded(int64(len(fields.Block)))

	if !p.IsComplete() {
		w.requestNext(p)
		return
	}
	if !p.IsCorrect() {
		// Corrupt piece: discard and re-schedule from scratch, per spec.
		fresh := piece.New(w.clk, p.Index(), p.Size(), w.mi.PieceHash(p.Index()))
		w.state.setInFlight(p.Index(), fresh)
		w.requestNext(fresh)
		return
	}

	start := time.Now()
	if err := w.store.WritePiece(p.Data(), p.Index()); err == nil {
		w.state.markCompleted(p.Index())
		w.logger.PieceCompleted(p.Index(), w.sess.PeerID(), time.Since(start))
	}
	w.state.clearInFlight(p.Index())
	w.fillRequests()
}

func (w *peerWorker) requestNext(p *piece.Piece) {
	req, ok := p.NextRequest()
	if !ok {
		return
	}
	w.sess.Send(wire.NewRequest(p.Index(), req.Begin, req.Length))
}

// fillRequests picks the next missing, not-already-in-flight piece the peer
// has and starts requesting its blocks.
func (w *peerWorker) fillRequests() {
	if w.sess.PeerChoking() {
		return
	}
	bf := w.sess.Bitfield()
	for i := 0; i < w.mi.NumPieces(); i++ {
		if !bf.Test(i) || w.store.HasPiece(i) {
			continue
		}
		if _, ok := w.state.getInFlight(i); ok {
			continue
		}
		p := piece.New(w.clk, i, int(w.mi.PieceLengthAt(i)), w.mi.PieceHash(i))
		w.state.setInFlight(i, p)
		w.requestNext(p)
		return
	}
}
