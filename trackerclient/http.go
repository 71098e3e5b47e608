package trackerclient

import (
	"context"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"

	"github.com/ghosthamlet/boost-torrent/bencode"
	"github.com/ghosthamlet/boost-torrent/core"
)

// HTTPClient announces to a BEP 3 HTTP/HTTPS tracker.
type HTTPClient struct {
	announceURL string
	httpClient  *http.Client
}

// NewHTTPClient creates an HTTPClient for the given announce URL.
func NewHTTPClient(announceURL string) *HTTPClient {
	return &HTTPClient{
		announceURL: announceURL,
		httpClient:  &http.Client{},
	}
}

// Announce performs a single HTTP GET announce request.
func (c *HTTPClient) Announce(ctx context.Context, req AnnounceRequest) (*AnnounceResponse, error) {
	reqURL, err := c.buildURL(req)
	if err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, core.Wrap(core.TrackerHTTPConnect, err)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, core.Wrap(core.TrackerHTTPSend, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, core.Errorf(core.TrackerHTTPProtocol, "tracker returned status %d", resp.StatusCode)
	}

	// Decode into the BencodeValue tagged sum first, not a fixed struct: the
	// "peers" key may be a binary compact string or a bencoded list of
	// {ip, port, peer id?} dicts, two incompatible bencode types a single
	// struct field can't discriminate between on its own.
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, core.Wrap(core.TrackerHTTPRecv, err)
	}
	root, _, err := bencode.DecodeValue(body)
	if err != nil {
		return nil, core.Wrap(core.BencodeDecoding, err)
	}

	if reason, ok := root.GetString("failure reason"); ok && len(reason) > 0 {
		return nil, core.Errorf(core.TrackerHTTPProtocol, "tracker failure: %s", reason)
	}

	interval, _ := root.GetInt("interval")
	seeders, _ := root.GetInt("complete")
	leechers, _ := root.GetInt("incomplete")
	trackerID, _ := root.GetString("tracker id")

	peersValue, _ := root.Get("peers")
	peers, err := parsePeers(peersValue)
	if err != nil {
		return nil, err
	}

	return &AnnounceResponse{
		Interval:  interval,
		Peers:     peers,
		Seeders:   seeders,
		Leechers:  leechers,
		TrackerID: string(trackerID),
	}, nil
}

func parsePeers(v *bencode.Value) ([]Peer, error) {
	if v == nil {
		return nil, nil
	}
	switch v.Kind {
	case bencode.KindString:
		return parseCompactPeers(v.Str)
	case bencode.KindList:
		var peers []Peer
		for _, e := range v.List {
			if e.Kind != bencode.KindDict {
				continue
			}
			ip, _ := e.GetString("ip")
			port, _ := e.GetInt("port")
			peers = append(peers, Peer{IP: net.ParseIP(string(ip)), Port: uint16(port)})
		}
		return peers, nil
	default:
		return nil, core.Errorf(core.TrackerHTTPProtocol, "unrecognized peers field type")
	}
}

func parseCompactPeers(b []byte) ([]Peer, error) {
	const entryLen = 6
	if len(b)%entryLen != 0 {
		return nil, core.Errorf(core.TrackerHTTPProtocol, "compact peers field is not a multiple of %d bytes", entryLen)
	}
	var peers []Peer
	for i := 0; i+entryLen <= len(b); i += entryLen {
		ip := net.IPv4(b[i], b[i+1], b[i+2], b[i+3])
		port := uint16(b[i+4])<<8 | uint16(b[i+5])
		peers = append(peers, Peer{IP: ip, Port: port})
	}
	return peers, nil
}

func (c *HTTPClient) buildURL(req AnnounceRequest) (string, error) {
	u, err := url.Parse(c.announceURL)
	if err != nil {
		return "", core.Wrap(core.TrackerURLParse, err)
	}

	q := u.Query()
	q.Set("info_hash", string(req.InfoHash.Bytes()))
	q.Set("peer_id", string(req.PeerID.Bytes()))
	q.Set("port", strconv.Itoa(int(req.Port)))
	q.Set("uploaded", strconv.FormatInt(req.Uploaded, 10))
	q.Set("downloaded", strconv.FormatInt(req.Downloaded, 10))
	q.Set("left", strconv.FormatInt(req.Left, 10))
	q.Set("compact", "1")
	q.Set("no_peer_id", "1")
	if req.Event != EventNone {
		q.Set("event", string(req.Event))
	}
	if req.NumWant > 0 {
		q.Set("numwant", strconv.Itoa(req.NumWant))
	}
	if req.TrackerID != "" {
		q.Set("trackerid", req.TrackerID)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}
