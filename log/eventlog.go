package log

import (
	"time"

	"go.uber.org/zap"

	"github.com/ghosthamlet/boost-torrent/core"
)

// EventLogger wraps structured log entries for significant download
// lifecycle events, distinct from the verbose developer-facing stderr log.
// These are intended to be consumed by a log-aggregation pipeline, following
// uber-kraken's torrentlog.Logger, which bridges individual downloads to
// cluster-level ELK queries: if an engineer sees a download stall in
// aggregate metrics, the event log for that info hash lets them reconstruct
// the download's timeline (which peers connected, which pieces completed,
// when the tracker stopped returning peers).
type EventLogger struct {
	zap *zap.Logger
}

// NewEventLogger creates an EventLogger writing JSON lines to the given
// zap.Logger, tagged with the torrent's info hash.
func NewEventLogger(base *zap.Logger, infoHash core.InfoHash) *EventLogger {
	return &EventLogger{zap: base.With(zap.String("info_hash", infoHash.String()))}
}

// NewNopEventLogger returns an EventLogger that discards everything, for tests.
func NewNopEventLogger() *EventLogger {
	return &EventLogger{zap: zap.NewNop()}
}

// PeerConnect logs a peer session coming up, outgoing or incoming.
func (l *EventLogger) PeerConnect(peerID core.PeerID, outgoing bool) {
	l.zap.Info(
		"Peer connect",
		zap.String("peer_id", peerID.String()),
		zap.Bool("outgoing", outgoing))
}

// PeerDisconnect logs a peer session tearing down.
func (l *EventLogger) PeerDisconnect(peerID core.PeerID, err error) {
	if err != nil {
		l.zap.Info(
			"Peer disconnect",
			zap.String("peer_id", peerID.String()),
			zap.Error(err))
		return
	}
	l.zap.Info("Peer disconnect", zap.String("peer_id", peerID.String()))
}

// PieceCompleted logs a piece finishing download and passing hash
// verification.
func (l *EventLogger) PieceCompleted(index int, fromPeer core.PeerID, elapsed time.Duration) {
	l.zap.Info(
		"Piece completed",
		zap.Int("piece_index", index),
		zap.String("from_peer", fromPeer.String()),
		zap.Duration("elapsed", elapsed))
}

// TrackerAnnounce logs the result of one tracker announce.
func (l *EventLogger) TrackerAnnounce(trackerURL string, numPeers int, interval time.Duration, err error) {
	if err != nil {
		l.zap.Warn(
			"Tracker announce failed",
			zap.String("tracker", trackerURL),
			zap.Error(err))
		return
	}
	l.zap.Info(
		"Tracker announce",
		zap.String("tracker", trackerURL),
		zap.Int("num_peers", numPeers),
		zap.Duration("interval", interval))
}

// DownloadComplete logs the torrent finishing download in full.
func (l *EventLogger) DownloadComplete(totalSize int64, elapsed time.Duration) {
	l.zap.Info(
		"Download complete",
		zap.Int64("total_size", totalSize),
		zap.Duration("elapsed", elapsed))
}

// Sync flushes the underlying zap logger.
func (l *EventLogger) Sync() {
	l.zap.Sync()
}
