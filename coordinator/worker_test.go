package coordinator

import (
	"crypto/sha1"
	"net"
	"testing"

	"github.com/andres-erbsen/clock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ghosthamlet/boost-torrent/bencode"
	"github.com/ghosthamlet/boost-torrent/bitvector"
	"github.com/ghosthamlet/boost-torrent/metainfo"
	"github.com/ghosthamlet/boost-torrent/peer"
	"github.com/ghosthamlet/boost-torrent/piece"
	"github.com/ghosthamlet/boost-torrent/storage"
	"github.com/ghosthamlet/boost-torrent/wire"
)

type workerTestInfo struct {
	PieceLength int64  `bencode:"piece length"`
	Pieces      []byte `bencode:"pieces"`
	Name        string `bencode:"name"`
	Length      int64  `bencode:"length,omitempty"`
}

type workerTestRawMetaInfo struct {
	Announce string         `bencode:"announce"`
	Info     workerTestInfo `bencode:"info"`
}

func buildWorkerMetaInfo(t *testing.T, pieceLength int64, data []byte) *metainfo.MetaInfo {
	t.Helper()
	var pieces []byte
	for off := int64(0); off < int64(len(data)); off += pieceLength {
		end := off + pieceLength
		if end > int64(len(data)) {
			end = int64(len(data))
		}
		sum := sha1.Sum(data[off:end])
		pieces = append(pieces, sum[:]...)
	}
	raw := workerTestRawMetaInfo{
		Announce: "http://tracker",
		Info: workerTestInfo{
			PieceLength: pieceLength,
			Pieces:      pieces,
			Name:        "out.bin",
			Length:      int64(len(data)),
		},
	}
	b, err := bencode.Marshal(raw)
	require.NoError(t, err)
	mi, err := metainfo.Parse(b)
	require.NoError(t, err)
	return mi
}

func newTestPeerWorker(t *testing.T, mi *metainfo.MetaInfo, clk clock.Clock) (*peerWorker, net.Conn) {
	t.Helper()
	local, remote := net.Pipe()
	t.Cleanup(func() { local.Close(); remote.Close() })

	store, err := storage.New(t.TempDir()+"/data", mi)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	sess := peer.New(local, testPeerIDN(9), mi.NumPieces(), zap.NewNop().Sugar())
	s := newState(mi.NumPieces())

	return newPeerWorker(sess, mi, store, s, clk, true, testEventLogger()), remote
}

func TestHandlePieceWritesCompletedPieceToStorage(t *testing.T) {
	data := []byte("0123456789abcdef") // 16 bytes, one piece
	mi := buildWorkerMetaInfo(t, 16, data)
	clk := clock.NewMock()
	w, remote := newTestPeerWorker(t, mi, clk)
	defer remote.Close()

	p := piece.New(clk, 0, int(mi.PieceLengthAt(0)), mi.PieceHash(0))
	w.state.setInFlight(0, p)

	w.handlePiece(wire.NewPiece(0, 0, data))

	require.True(t, w.store.HasPiece(0))
	_, ok := w.state.getInFlight(0)
	require.False(t, ok)

	got, err := w.store.ReadPiece(0)
	require.NoError(t, err)
	require.Equal(t, data, got)
}

func TestHandlePieceReschedulesOnCorruptData(t *testing.T) {
	data := []byte("0123456789abcdef")
	mi := buildWorkerMetaInfo(t, 16, data)
	clk := clock.NewMock()
	w, remote := newTestPeerWorker(t, mi, clk)
	defer remote.Close()

	p := piece.New(clk, 0, int(mi.PieceLengthAt(0)), mi.PieceHash(0))
	w.state.setInFlight(0, p)

	corrupt := []byte("!!!!!!!!!!!!!!!!")
	w.handlePiece(wire.NewPiece(0, 0, corrupt))

	require.False(t, w.store.HasPiece(0))
	fresh, ok := w.state.getInFlight(0)
	require.True(t, ok)
	require.False(t, fresh.IsComplete())
}

func TestFillRequestsSkipsPiecesAlreadyInFlightOrHeld(t *testing.T) {
	data := make([]byte, 32)
	mi := buildWorkerMetaInfo(t, 16, data)
	clk := clock.NewMock()
	w, remote := newTestPeerWorker(t, mi, clk)
	defer remote.Close()

	bv := bitvector.New(mi.NumPieces())
	bv.Set(0)
	bv.Set(1)
	w.sess.SetBitfield(bv)
	w.sess.SetPeerChoking(false)

	w.state.setInFlight(0, piece.New(clk, 0, 16, mi.PieceHash(0)))

	w.fillRequests()

	_, ok := w.state.getInFlight(1)
	require.True(t, ok, "fillRequests should pick the next piece not already in flight")
}

