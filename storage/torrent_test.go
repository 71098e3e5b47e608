package storage

import (
	"crypto/sha1"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ghosthamlet/boost-torrent/bencode"
	"github.com/ghosthamlet/boost-torrent/metainfo"
)

type testFileEntry struct {
	Length int64    `bencode:"length"`
	Path   []string `bencode:"path"`
}

type testInfo struct {
	PieceLength int64           `bencode:"piece length"`
	Pieces      []byte          `bencode:"pieces"`
	Name        string          `bencode:"name"`
	Length      int64           `bencode:"length,omitempty"`
	Files       []testFileEntry `bencode:"files,omitempty"`
}

type testRawMetaInfo struct {
	Announce string   `bencode:"announce"`
	Info     testInfo `bencode:"info"`
}

func buildMetaInfo(t *testing.T, pieceLength int64, data []byte) *metainfo.MetaInfo {
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
	raw := testRawMetaInfo{
		Announce: "http://tracker",
		Info: testInfo{
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

func TestWritePieceThenReadPieceRoundTrips(t *testing.T) {
	require := require.New(t)

	dir := t.TempDir()
	data := make([]byte, 100)
	for i := range data {
		data[i] = byte(i)
	}
	mi := buildMetaInfo(t, 40, data)

	tr, err := New(filepath.Join(dir, "backing"), mi)
	require.NoError(err)
	defer tr.Close()

	for i := 0; i < mi.NumPieces(); i++ {
		length := mi.PieceLengthAt(i)
		begin := int64(i) * mi.PieceLength()
		require.NoError(tr.WritePiece(data[begin:begin+length], i))
	}

	require.True(tr.Complete())

	for i := 0; i < mi.NumPieces(); i++ {
		got, err := tr.ReadPiece(i)
		require.NoError(err)
		length := mi.PieceLengthAt(i)
		begin := int64(i) * mi.PieceLength()
		require.Equal(data[begin:begin+length], got)
	}
}

func TestWritePieceRejectsBadHash(t *testing.T) {
	dir := t.TempDir()
	data := make([]byte, 40)
	mi := buildMetaInfo(t, 40, data)

	tr, err := New(filepath.Join(dir, "backing"), mi)
	require.NoError(t, err)
	defer tr.Close()

	bad := make([]byte, 40)
	bad[0] = 0xFF
	err = tr.WritePiece(bad, 0)
	require.Error(t, err)
}

func TestWritePieceRejectsDuplicateCompletion(t *testing.T) {
	dir := t.TempDir()
	data := make([]byte, 40)
	mi := buildMetaInfo(t, 40, data)

	tr, err := New(filepath.Join(dir, "backing"), mi)
	require.NoError(t, err)
	defer tr.Close()

	require.NoError(t, tr.WritePiece(data, 0))
	err = tr.WritePiece(data, 0)
	require.ErrorIs(t, err, ErrPieceComplete)
}

func TestReadPieceRejectsIncompletePiece(t *testing.T) {
	dir := t.TempDir()
	data := make([]byte, 40)
	mi := buildMetaInfo(t, 40, data)

	tr, err := New(filepath.Join(dir, "backing"), mi)
	require.NoError(t, err)
	defer tr.Close()

	_, err = tr.ReadPiece(0)
	require.Error(t, err)
}

func TestBitfieldReflectsCompletedPieces(t *testing.T) {
	require := require.New(t)
	dir := t.TempDir()
	data := make([]byte, 80)
	mi := buildMetaInfo(t, 40, data)

	tr, err := New(filepath.Join(dir, "backing"), mi)
	require.NoError(err)
	defer tr.Close()

	require.NoError(tr.WritePiece(data[0:40], 0))
	bv := tr.Bitfield()
	require.True(bv.Test(0))
	require.False(bv.Test(1))
}

func TestSplitWritesMultiFileLayout(t *testing.T) {
	require := require.New(t)
	dir := t.TempDir()

	pieces := append([]byte{}, make([]byte, 20)...)
	raw := testRawMetaInfo{
		Announce: "http://t",
		Info: testInfo{
			PieceLength: 16384,
			Pieces:      pieces,
			Name:        "root",
			Files: []testFileEntry{
				{Length: 5, Path: []string{"a.txt"}},
				{Length: 5, Path: []string{"sub", "b.txt"}},
			},
		},
	}
	b, err := bencode.Marshal(raw)
	require.NoError(err)
	mi, err := metainfo.Parse(b)
	require.NoError(err)

	tr, err := New(filepath.Join(dir, "backing"), mi)
	require.NoError(err)

	_, err = tr.file.WriteAt([]byte("helloworld"), 0)
	require.NoError(err)
	tr.numComplete.Store(1) // force Complete() true for the split-only test

	outDir := filepath.Join(dir, "out")
	require.NoError(Split(tr, outDir))

	a, err := os.ReadFile(filepath.Join(outDir, "root", "a.txt"))
	require.NoError(err)
	require.Equal("hello", string(a))

	sub, err := os.ReadFile(filepath.Join(outDir, "root", "sub", "b.txt"))
	require.NoError(err)
	require.Equal("world", string(sub))
}
