package coordinator

import (
	"io"

	"github.com/ghosthamlet/boost-torrent/core"
	"github.com/ghosthamlet/boost-torrent/wire"
)

// outgoingHandshake sends a handshake first, per spec.md's "the peer that
// initiates sends first" rule, then verifies the peer's reply.
func outgoingHandshake(conn io.ReadWriter, infoHash core.InfoHash, localPeerID core.PeerID) (core.PeerID, error) {
	if _, err := conn.Write(wire.NewHandshake(infoHash, localPeerID).Serialize()); err != nil {
		return core.PeerID{}, core.Wrap(core.BitTorrentTCPSend, err)
	}
	return verifyHandshake(conn, infoHash)
}

// incomingHandshake reads the initiating peer's handshake first, verifies
// it, then replies with our own.
func incomingHandshake(conn io.ReadWriter, infoHash core.InfoHash, localPeerID core.PeerID) (core.PeerID, error) {
	remoteID, err := verifyHandshake(conn, infoHash)
	if err != nil {
		return core.PeerID{}, err
	}
	if _, err := conn.Write(wire.NewHandshake(infoHash, localPeerID).Serialize()); err != nil {
		return core.PeerID{}, core.Wrap(core.BitTorrentTCPSend, err)
	}
	return remoteID, nil
}

func verifyHandshake(r io.Reader, expected core.InfoHash) (core.PeerID, error) {
	hs, err := wire.ReadHandshake(r)
	if err != nil {
		return core.PeerID{}, err
	}
	if hs.InfoHash != expected {
		return core.PeerID{}, core.Errorf(core.BitTorrentProtocol, "handshake info hash mismatch")
	}
	return hs.PeerID, nil
}
