// Package wire implements the BitTorrent peer wire protocol: the initial
// handshake exchange and the length-prefixed message stream that follows
// it.
//
// uber-kraken's own peer connection setup (lib/torrent/scheduler/conn)
// exchanges a protobuf-framed bitfield message over the wire instead of
// the BitTorrent handshake and binary message stream — kraken speaks its
// own P2P protocol, not BEP 3's. Here the wire encoding is the raw binary
// framing BEP 3 specifies, hand-rolled the way this module's other
// wire-format code (bencode, bitvector) is hand-rolled; ReadHandshake
// returns only the parsed *Handshake, and connection setup lives in the
// coordinator.
package wire

import (
	"bytes"
	"io"

	"github.com/ghosthamlet/boost-torrent/core"
)

// Pstr is the protocol identifier string sent in every handshake.
const Pstr = "BitTorrent protocol"

// HandshakeLen is the total length in bytes of a handshake message.
const HandshakeLen = 49 + len(Pstr)

// Handshake is the initial message exchanged by two peers before any
// other wire traffic.
type Handshake struct {
	InfoHash core.InfoHash
	PeerID   core.PeerID
}

// NewHandshake builds a Handshake for the given torrent and local peer id.
func NewHandshake(infoHash core.InfoHash, peerID core.PeerID) *Handshake {
	return &Handshake{InfoHash: infoHash, PeerID: peerID}
}

// Serialize encodes h into its 68-byte wire representation:
// <pstrlen><pstr><8 reserved bytes><info_hash><peer_id>.
func (h *Handshake) Serialize() []byte {
	buf := make([]byte, HandshakeLen)
	buf[0] = byte(len(Pstr))
	curr := 1
	curr += copy(buf[curr:], Pstr)
	curr += copy(buf[curr:], make([]byte, 8)) // reserved
	curr += copy(buf[curr:], h.InfoHash.Bytes())
	copy(buf[curr:], h.PeerID.Bytes())
	return buf
}

// ReadHandshake reads and parses a handshake from r. Uses io.ReadFull so
// that a peer that closes the connection mid-handshake surfaces
// io.ErrUnexpectedEOF rather than a short, silently-accepted read.
func ReadHandshake(r io.Reader) (*Handshake, error) {
	lengthBuf := make([]byte, 1)
	if _, err := io.ReadFull(r, lengthBuf); err != nil {
		return nil, core.Wrap(core.BitTorrentTCPRecv, err)
	}
	pstrlen := int(lengthBuf[0])
	if pstrlen == 0 {
		return nil, core.Errorf(core.BitTorrentProtocol, "handshake pstrlen cannot be 0")
	}

	rest := make([]byte, pstrlen+48)
	if _, err := io.ReadFull(r, rest); err != nil {
		return nil, core.Wrap(core.BitTorrentTCPRecv, err)
	}

	if !bytes.Equal(rest[:pstrlen], []byte(Pstr)) {
		return nil, core.Errorf(core.BitTorrentProtocol, "unrecognized protocol identifier %q", rest[:pstrlen])
	}

	var infoHash core.InfoHash
	copy(infoHash[:], rest[pstrlen+8:pstrlen+8+core.InfoHashLen])

	peerID, err := core.NewPeerIDFromBytes(rest[pstrlen+8+core.InfoHashLen:])
	if err != nil {
		return nil, core.Wrap(core.BitTorrentProtocol, err)
	}

	return &Handshake{InfoHash: infoHash, PeerID: peerID}, nil
}
