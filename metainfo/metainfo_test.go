package metainfo

import (
	"crypto/sha1"
	"testing"

	"github.com/ghosthamlet/boost-torrent/bencode"
	"github.com/stretchr/testify/require"
)

func pieceSum(s string) []byte {
	h := sha1.Sum([]byte(s))
	return h[:]
}

func buildSingleFile(t *testing.T) []byte {
	t.Helper()
	pieces := append(append([]byte{}, pieceSum("piece0")...), pieceSum("piece1")...)
	raw := rawMetaInfo{
		Announce: "http://tracker.example.com/announce",
		Info: info{
			PieceLength: 16384,
			Pieces:      pieces,
			Name:        "test.txt",
			Length:      20000,
		},
	}
	b, err := bencode.Marshal(raw)
	require.NoError(t, err)
	return b
}

func TestParseSingleFile(t *testing.T) {
	require := require.New(t)

	mi, err := Parse(buildSingleFile(t))
	require.NoError(err)
	require.Equal("http://tracker.example.com/announce", mi.Announce())
	require.Equal("test.txt", mi.Name())
	require.Equal(int64(16384), mi.PieceLength())
	require.Equal(2, mi.NumPieces())
	require.Equal(int64(20000), mi.TotalLength())
	require.Len(mi.Files(), 1)
	require.Equal("test.txt", mi.Files()[0].Path)
}

func TestParseComputesStableInfoHash(t *testing.T) {
	data := buildSingleFile(t)
	mi1, err := Parse(data)
	require.NoError(t, err)
	mi2, err := Parse(data)
	require.NoError(t, err)
	require.Equal(t, mi1.InfoHash(), mi2.InfoHash())
}

func TestParseMultiFile(t *testing.T) {
	require := require.New(t)

	pieces := pieceSum("a")
	raw := rawMetaInfo{
		Announce: "udp://tracker.example.com:80",
		Info: info{
			PieceLength: 16384,
			Pieces:      pieces,
			Name:        "myroot",
			Files: []fileEntry{
				{Length: 100, Path: []string{"sub", "a.txt"}},
				{Length: 200, Path: []string{"b.txt"}},
			},
		},
	}
	b, err := bencode.Marshal(raw)
	require.NoError(err)

	mi, err := Parse(b)
	require.NoError(err)
	require.Len(mi.Files(), 2)
	require.Equal(int64(0), mi.Files()[0].Offset)
	require.Equal(int64(100), mi.Files()[1].Offset)
	require.Equal(int64(300), mi.TotalLength())
}

func TestParseRejectsMisalignedPieces(t *testing.T) {
	raw := rawMetaInfo{
		Announce: "http://t",
		Info: info{
			PieceLength: 10,
			Pieces:      []byte("not20aligned"),
			Name:        "x",
			Length:      5,
		},
	}
	b, err := bencode.Marshal(raw)
	require.NoError(t, err)
	_, err = Parse(b)
	require.Error(t, err)
}

func TestPieceLengthAtAccountsForShortFinalPiece(t *testing.T) {
	mi, err := Parse(buildSingleFile(t))
	require.NoError(t, err)
	require.Equal(t, int64(16384), mi.PieceLengthAt(0))
	require.Equal(t, int64(20000-16384), mi.PieceLengthAt(1))
}

func TestSanitizedRootDirRejectsTraversal(t *testing.T) {
	require.Equal(t, "etc", SanitizedRootDir("../../etc"))
	require.Equal(t, "download", SanitizedRootDir(""))
}
