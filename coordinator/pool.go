package coordinator

import (
	"context"
	"net"
	"time"

	"go.uber.org/zap"

	"github.com/ghosthamlet/boost-torrent/core"
	"github.com/ghosthamlet/boost-torrent/log"
	"github.com/ghosthamlet/boost-torrent/metainfo"
	"github.com/ghosthamlet/boost-torrent/peer"
	"github.com/ghosthamlet/boost-torrent/trackerclient"
)

const maxOutgoingPeers = 30

// dialFunc establishes and hands off a new outgoing peer session. Injected
// so the pool manager's topping-up logic is testable without a real TCP
// dial.
type dialFunc func(ctx context.Context, addr trackerclient.Peer) error

// poolManager maintains up to maxOutgoing outgoing sessions (maxOutgoingPeers
// unless the coordinator sets it from its Pool config), draining
// the potential-peer queue to fill the cap and topping it back up whenever a
// peer dies. Grounded on spec.md's peer-pool manager and, structurally, on
// the way uber-kraken's scheduler event loop serializes pool mutations
// through a single goroutine reading one event channel rather than locking
// a shared dial counter.
type poolManager struct {
	dial        dialFunc
	state       *state
	dialTimeout time.Duration
	logger      *log.EventLogger
	maxOutgoing int
}

func newPoolManager(dial dialFunc, s *state, dialTimeout time.Duration, logger *log.EventLogger) *poolManager {
	return &poolManager{
		dial:        dial,
		state:       s,
		dialTimeout: dialTimeout,
		logger:      logger,
		maxOutgoing: maxOutgoingPeers,
	}
}

// run drains the potential queue up to the outgoing cap, then services
// death notifications until the wrap-up flag is observed, topping back up
// after every removal.
func (m *poolManager) run(done <-chan struct{}) {
	m.fillToCapacity()

	for {
		select {
		case <-done:
			return
		case id := <-m.state.death:
			m.state.removeActive(id, true)
			m.fillToCapacity()
		}
	}
}

func (m *poolManager) fillToCapacity() {
	for int(m.state.outgoing.Load()) < m.maxOutgoing {
		addr, ok := m.state.popPotential()
		if !ok {
			return
		}
		// A popped address is tried at most once, win or lose; on failure it
		// is simply dropped rather than re-queued, per spec.
		ctx, cancel := context.WithTimeout(context.Background(), m.dialTimeout)
		err := m.dial(ctx, addr)
		cancel()
		if err != nil {
			m.logger.PeerDisconnect(core.PeerID{}, err)
		}
	}
}

// dialPeer performs a real outgoing TCP dial, BEP 3 handshake, and hands the
// resulting session to onConnect. It is the dialFunc a real coordinator
// wires into poolManager; tests substitute a fake.
func dialPeer(
	ctx context.Context,
	addr trackerclient.Peer,
	mi *metainfo.MetaInfo,
	localPeerID core.PeerID,
	handshakeTimeout time.Duration,
	logger *zap.SugaredLogger,
	onConnect func(*peer.Session)) error {

	d := net.Dialer{Timeout: handshakeTimeout}
	conn, err := d.DialContext(ctx, "tcp", addr.String())
	if err != nil {
		return err
	}

	conn.SetDeadline(time.Now().Add(handshakeTimeout))
	remoteID, err := outgoingHandshake(conn, mi.InfoHash(), localPeerID)
	if err != nil {
		conn.Close()
		return err
	}
	conn.SetDeadline(time.Time{})

	sess := peer.New(conn, remoteID, mi.NumPieces(), logger)
	onConnect(sess)
	return nil
}
