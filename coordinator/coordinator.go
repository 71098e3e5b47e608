// Package coordinator assembles the metafile parser, tracker client, peer
// sessions, piece manager, and torrent file writer into one running
// download, following the startup sequence and shutdown discipline of
// spec.md §4.9/§5 and the shape of uber-kraken's
// lib/torrent/scheduler.scheduler: parse input, generate identity, bind a
// listener, perform an initial announce, launch background workers, then
// tear down cooperatively via a wrap-up flag and sync.WaitGroup.
package coordinator

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/andres-erbsen/clock"
	"go.uber.org/zap"

	"github.com/ghosthamlet/boost-torrent/config"
	"github.com/ghosthamlet/boost-torrent/core"
	"github.com/ghosthamlet/boost-torrent/log"
	"github.com/ghosthamlet/boost-torrent/metainfo"
	"github.com/ghosthamlet/boost-torrent/peer"
	"github.com/ghosthamlet/boost-torrent/storage"
	"github.com/ghosthamlet/boost-torrent/trackerclient"
)

// Coordinator owns the lifetime of a single torrent download.
type Coordinator struct {
	cfg    config.Config
	mi     *metainfo.MetaInfo
	store  *storage.Torrent
	client trackerclient.Client

	localPeerID core.PeerID
	listener    net.Listener

	clk    clock.Clock
	logger *zap.SugaredLogger
	events *log.EventLogger

	state *state
	pool  *poolManager

	done chan struct{}

	// wg is held by every background goroutine the coordinator spawns: the
	// accept loop, the tracker worker, the pool manager, and one per peer
	// session. Stop waits on it before Run's deferred store close runs, so
	// no worker can touch the store after it is gone.
	wg sync.WaitGroup
}

// New builds a Coordinator for the metafile at metaPath, writing into a
// backing file at storagePath, without starting it.
func New(metaPath, storagePath string, cfg config.Config, logger *zap.SugaredLogger) (*Coordinator, error) {
	mi, err := metainfo.ReadFile(metaPath)
	if err != nil {
		return nil, err
	}

	store, err := storage.New(storagePath, mi)
	if err != nil {
		return nil, err
	}

	client, err := trackerclient.New(mi.Announce())
	if err != nil {
		return nil, err
	}

	localPeerID, err := core.GeneratePeerID(cfg.PeerIDPrefix)
	if err != nil {
		return nil, err
	}

	return &Coordinator{
		cfg:         cfg,
		mi:          mi,
		store:       store,
		client:      client,
		localPeerID: localPeerID,
		clk:         clock.New(),
		logger:      logger,
		events:      log.NewEventLogger(logger.Desugar(), mi.InfoHash()),
		state:       newState(mi.NumPieces()),
		done:        make(chan struct{}),
	}, nil
}

// Run executes the full startup sequence and blocks until the download
// completes or ctx is cancelled, then tears every worker down.
func (c *Coordinator) Run(ctx context.Context) error {
	defer c.store.Close()

	listener, err := net.Listen("tcp", ":0")
	if err != nil {
		return core.Wrap(core.TorrentFileAllocation, err)
	}
	c.listener = listener
	defer listener.Close()

	resp, err := c.initialAnnounce(ctx)
	if err != nil {
		return err
	}
	c.state.enqueuePotential(resp.Peers)

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.acceptLoop()
	}()

	tw := newTrackerWorker(c.client, c.mi.Announce(), c.announceRequest, c.state,
		time.Duration(resp.Interval)*time.Second, c.clk, c.events)
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		tw.run()
	}()

	c.pool = newPoolManager(c.makeDialFunc(), c.state, c.cfg.Pool.DialTimeout, c.events)
	c.pool.maxOutgoing = c.cfg.Pool.MaxOutgoingPeers
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.pool.run(c.done)
	}()

	select {
	case <-ctx.Done():
	case <-c.downloadComplete():
	}

	c.Stop()

	if c.store.Complete() && len(c.mi.Files()) > 1 {
		if err := storage.Split(c.store, storage.SanitizedRootDir(c.mi.Name())); err != nil {
			return err
		}
	}
	return nil
}

// Stop sets the wrap-up flag, closes every active session to unblock any
// peerWorker blocked on a read, and waits for every background goroutine
// the coordinator spawned to actually exit before returning. Run's deferred
// store close cannot run until Stop returns, so no worker can observe a
// closed store.
func (c *Coordinator) Stop() {
	c.state.beginWrapUp()
	close(c.done)
	if c.listener != nil {
		c.listener.Close()
	}
	c.state.closeAllActive()
	c.wg.Wait()
}

func (c *Coordinator) downloadComplete() <-chan struct{} {
	ch := make(chan struct{})
	go func() {
		defer close(ch)
		for !c.store.Complete() {
			if c.state.isWrappingUp() {
				return
			}
			c.clk.Sleep(time.Second)
		}
	}()
	return ch
}

func (c *Coordinator) initialAnnounce(ctx context.Context) (*trackerclient.AnnounceResponse, error) {
	req := c.announceRequest(trackerclient.EventStarted)
	resp, err := c.client.Announce(ctx, req)
	if err != nil {
		return nil, core.Wrap(core.TrackerHTTPProtocol, err)
	}
	return resp, nil
}

func (c *Coordinator) announceRequest(event trackerclient.Event) trackerclient.AnnounceRequest {
	var port uint16
	if c.listener != nil {
		port = uint16(c.listener.Addr().(*net.TCPAddr).Port)
	}
	return trackerclient.AnnounceRequest{
		InfoHash:   c.mi.InfoHash(),
		PeerID:     c.localPeerID,
		Port:       port,
		Uploaded:   c.state.uploaded.Load(),
		Downloaded: c.state.downloaded.Load(),
		Left:       c.state.bytesLeft(c.mi.TotalLength(), c.mi.PieceLengthAt),
		Event:      event,
		NumWant:    50,
	}
}

func (c *Coordinator) acceptLoop() {
	for {
		conn, err := c.listener.Accept()
		if err != nil {
			return
		}
		c.wg.Add(1)
		go func() {
			defer c.wg.Done()
			c.acceptPeer(conn)
		}()
	}
}

// acceptPeer runs the handshake and the resulting session's full message
// loop on the caller's goroutine; it is always invoked from a goroutine the
// caller already tracks in wg, so there is no further fan-out to track here.
func (c *Coordinator) acceptPeer(conn net.Conn) {
	conn.SetDeadline(time.Now().Add(c.cfg.Peer.HandshakeTimeout))
	remoteID, err := incomingHandshake(conn, c.mi.InfoHash(), c.localPeerID)
	if err != nil {
		c.events.PeerDisconnect(core.PeerID{}, err)
		conn.Close()
		return
	}
	conn.SetDeadline(time.Time{})

	sess := peer.New(conn, remoteID, c.mi.NumPieces(), c.logger)
	w := newPeerWorker(sess, c.mi, c.store, c.state, c.clk, false, c.events)
	w.run()
}

func (c *Coordinator) makeDialFunc() dialFunc {
	return func(ctx context.Context, addr trackerclient.Peer) error {
		return dialPeer(ctx, addr, c.mi, c.localPeerID, c.cfg.Peer.HandshakeTimeout, c.logger,
			func(sess *peer.Session) {
				w := newPeerWorker(sess, c.mi, c.store, c.state, c.clk, true, c.events)
				c.wg.Add(1)
				go func() {
					defer c.wg.Done()
					w.run()
				}()
			})
	}
}

// BoundPort returns the TCP port the coordinator is listening on for
// incoming peers, once Run has started.
func (c *Coordinator) BoundPort() (int, error) {
	if c.listener == nil {
		return 0, fmt.Errorf("coordinator not yet listening")
	}
	return c.listener.Addr().(*net.TCPAddr).Port, nil
}
