package trackerclient

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"net"
	"net/url"
	"time"

	"github.com/ghosthamlet/boost-torrent/core"
)

// udpProtocolID is the BEP 15 magic constant identifying a connect request.
const udpProtocolID uint64 = 0x41727101980

const (
	actionConnect  uint32 = 0
	actionAnnounce uint32 = 1
	actionError    uint32 = 3
)

// udpEntryLen is the size in bytes of one peer entry in a UDP announce
// response: 4 bytes of IPv4 address, 2 bytes of port.
const udpEntryLen = 6

// udpDatagramMax is the largest datagram this client expects back from a
// tracker: a fixed 20-byte header plus room for a generous peer list.
const udpDatagramMax = 20 + udpEntryLen*200

// UDPClient announces to a BEP 15 UDP tracker.
type UDPClient struct {
	announceURL string
	timeout     time.Duration
}

// NewUDPClient creates a UDPClient for the given udp:// announce URL.
func NewUDPClient(announceURL string) *UDPClient {
	return &UDPClient{announceURL: announceURL, timeout: 15 * time.Second}
}

// Announce performs a connect handshake followed by an announce request,
// per BEP 15.
func (c *UDPClient) Announce(ctx context.Context, req AnnounceRequest) (*AnnounceResponse, error) {
	u, err := url.Parse(c.announceURL)
	if err != nil {
		return nil, core.Wrap(core.TrackerURLParse, err)
	}

	conn, err := net.Dial("udp", u.Host)
	if err != nil {
		return nil, core.Wrap(core.TrackerHostResolve, err)
	}
	defer conn.Close()

	if deadline, ok := ctx.Deadline(); ok {
		conn.SetDeadline(deadline)
	} else {
		conn.SetDeadline(time.Now().Add(c.timeout))
	}

	connectionID, err := c.connect(conn)
	if err != nil {
		return nil, err
	}

	return c.announce(conn, connectionID, req)
}

func randomTransactionID() (uint32, error) {
	var b [4]byte
	if _, err := rand.Read(b[:]); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(b[:]), nil
}

func (c *UDPClient) connect(conn net.Conn) (uint64, error) {
	transactionID, err := randomTransactionID()
	if err != nil {
		return 0, core.Wrap(core.TrackerUDPProtocol, err)
	}

	req := make([]byte, 16)
	binary.BigEndian.PutUint64(req[0:8], udpProtocolID)
	binary.BigEndian.PutUint32(req[8:12], actionConnect)
	binary.BigEndian.PutUint32(req[12:16], transactionID)

	if _, err := conn.Write(req); err != nil {
		return 0, core.Wrap(core.TrackerUDPSend, err)
	}

	resp := make([]byte, udpDatagramMax)
	n, err := conn.Read(resp)
	if err != nil {
		return 0, core.Wrap(core.TrackerUDPRecv, err)
	}
	resp = resp[:n] // Stop at the datagram's actual length; UDP never returns a short read mid-datagram.

	if n < 16 {
		return 0, core.Errorf(core.TrackerUDPProtocol, "connect response too short: %d bytes", n)
	}

	action := binary.BigEndian.Uint32(resp[0:4])
	gotTransactionID := binary.BigEndian.Uint32(resp[4:8])
	if gotTransactionID != transactionID {
		return 0, core.Errorf(core.TrackerUDPProtocol, "connect response transaction id mismatch")
	}
	if action == actionError {
		return 0, core.Errorf(core.TrackerUDPProtocol, "tracker error: %s", string(resp[8:]))
	}
	if action != actionConnect {
		return 0, core.Errorf(core.TrackerUDPProtocol, "unexpected action %d in connect response", action)
	}

	return binary.BigEndian.Uint64(resp[8:16]), nil
}

func (c *UDPClient) announce(conn net.Conn, connectionID uint64, areq AnnounceRequest) (*AnnounceResponse, error) {
	transactionID, err := randomTransactionID()
	if err != nil {
		return nil, core.Wrap(core.TrackerUDPProtocol, err)
	}

	req := make([]byte, 98)
	binary.BigEndian.PutUint64(req[0:8], connectionID)
	binary.BigEndian.PutUint32(req[8:12], actionAnnounce)
	binary.BigEndian.PutUint32(req[12:16], transactionID)
	copy(req[16:36], areq.InfoHash.Bytes())
	copy(req[36:56], areq.PeerID.Bytes())
	binary.BigEndian.PutUint64(req[56:64], uint64(areq.Downloaded))
	binary.BigEndian.PutUint64(req[64:72], uint64(areq.Left))
	binary.BigEndian.PutUint64(req[72:80], uint64(areq.Uploaded))
	binary.BigEndian.PutUint32(req[80:84], udpEventCode(areq.Event))
	binary.BigEndian.PutUint32(req[84:88], 0) // IP address: 0 means "use sender's address".
	binary.BigEndian.PutUint32(req[88:92], 0) // Key: unused by this client.
	numWant := int32(-1)
	if areq.NumWant > 0 {
		numWant = int32(areq.NumWant)
	}
	binary.BigEndian.PutUint32(req[92:96], uint32(numWant))
	binary.BigEndian.PutUint16(req[96:98], areq.Port)

	if _, err := conn.Write(req); err != nil {
		return nil, core.Wrap(core.TrackerUDPSend, err)
	}

	resp := make([]byte, udpDatagramMax)
	n, err := conn.Read(resp)
	if err != nil {
		return nil, core.Wrap(core.TrackerUDPRecv, err)
	}
	resp = resp[:n]

	if n < 20 {
		return nil, core.Errorf(core.TrackerUDPProtocol, "announce response too short: %d bytes", n)
	}

	action := binary.BigEndian.Uint32(resp[0:4])
	gotTransactionID := binary.BigEndian.Uint32(resp[4:8])
	if gotTransactionID != transactionID {
		return nil, core.Errorf(core.TrackerUDPProtocol, "announce response transaction id mismatch")
	}
	if action == actionError {
		return nil, core.Errorf(core.TrackerUDPProtocol, "tracker error: %s", string(resp[8:]))
	}
	if action != actionAnnounce {
		return nil, core.Errorf(core.TrackerUDPProtocol, "unexpected action %d in announce response", action)
	}

	// Per BEP 15 the announce response header is action, transaction id,
	// interval, leechers, seeders (in that order), then the packed peer
	// list.
	interval := int64(binary.BigEndian.Uint32(resp[8:12]))
	leechers := int64(binary.BigEndian.Uint32(resp[12:16]))
	seeders := int64(binary.BigEndian.Uint32(resp[16:20]))
	peersData := resp[20:]
	if len(peersData)%udpEntryLen != 0 {
		return nil, core.Errorf(core.TrackerUDPProtocol, "peers field is not a multiple of %d bytes", udpEntryLen)
	}

	var peers []Peer
	for i := 0; i+udpEntryLen <= len(peersData); i += udpEntryLen {
		ip := net.IPv4(peersData[i], peersData[i+1], peersData[i+2], peersData[i+3])
		port := binary.BigEndian.Uint16(peersData[i+4 : i+6])
		peers = append(peers, Peer{IP: ip, Port: port})
	}

	return &AnnounceResponse{
		Interval: interval,
		Peers:    peers,
		Seeders:  seeders,
		Leechers: leechers,
	}, nil
}

func udpEventCode(e Event) uint32 {
	switch e {
	case EventCompleted:
		return 1
	case EventStarted:
		return 2
	case EventStopped:
		return 3
	default:
		return 0
	}
}
