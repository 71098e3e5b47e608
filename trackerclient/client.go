// Package trackerclient announces a torrent's progress to a BEP 3 HTTP or
// BEP 15 UDP tracker and parses the peer list it returns.
//
// The Announcer wrapper — a Config of default/max intervals, an
// atomically-updated current interval, and a clock.Timer-driven Ticker
// loop that emits tick events until its done channel closes — is
// grounded directly on uber-kraken's
// lib/torrent/scheduler/announcer.Announcer, which wraps its own
// tracker.announceclient.Client the same way. The wire formats
// (HTTP query string + bencoded response; UDP connect/announce
// datagrams) are hand-authored per BEP 3 / BEP 15, since kraken's own
// announce client speaks its own origin-cluster HTTP API rather than the
// BitTorrent tracker protocol.
package trackerclient

import (
	"context"
	"net"

	"github.com/ghosthamlet/boost-torrent/core"
)

// Event is an optional announce event reported to the tracker.
type Event string

// Announce events, per BEP 3.
const (
	EventNone      Event = ""
	EventStarted   Event = "started"
	EventStopped   Event = "stopped"
	EventCompleted Event = "completed"
)

// AnnounceRequest describes one announce call to a tracker.
type AnnounceRequest struct {
	InfoHash   core.InfoHash
	PeerID     core.PeerID
	Port       uint16
	Uploaded   int64
	Downloaded int64
	Left       int64
	Event      Event
	NumWant    int

	// TrackerID is the opaque tracker id handed back by a prior HTTP
	// announce, if any, echoed back per BEP 3 so the tracker can recognize
	// repeat announces from this client. Ignored by the UDP transport,
	// which has no such field.
	TrackerID string
}

// Peer is one peer returned by a tracker.
type Peer struct {
	IP   net.IP
	Port uint16
}

func (p Peer) String() string {
	return net.JoinHostPort(p.IP.String(), portString(p.Port))
}

// AnnounceResponse is the result of a successful announce.
type AnnounceResponse struct {
	Interval int64
	Peers    []Peer

	// Seeders and Leechers are the tracker's swarm-size snapshot: peers with
	// the complete file and peers still downloading, respectively. The UDP
	// transport always provides these (BEP 15 wire format); the HTTP
	// transport provides them only if the tracker's response includes
	// "complete"/"incomplete".
	Seeders  int64
	Leechers int64

	// TrackerID is the opaque id some HTTP trackers hand back for a client
	// to echo on subsequent announces. Empty when the tracker didn't send
	// one, or for the UDP transport, which has no equivalent field.
	TrackerID string
}

// Client announces to a tracker and returns the peers it hands out.
type Client interface {
	Announce(ctx context.Context, req AnnounceRequest) (*AnnounceResponse, error)
}

// New constructs the appropriate Client for announceURL's scheme
// ("http"/"https" or "udp").
func New(announceURL string) (Client, error) {
	scheme, err := urlScheme(announceURL)
	if err != nil {
		return nil, err
	}
	switch scheme {
	case "http", "https":
		return NewHTTPClient(announceURL), nil
	case "udp":
		return NewUDPClient(announceURL), nil
	default:
		return nil, core.Errorf(core.TrackerURLParse, "unsupported tracker scheme %q", scheme)
	}
}
