package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestDefaultFillsEveryConfigurableSubsystem(t *testing.T) {
	c := Default()
	require.Equal(t, 5*time.Second, c.Peer.HandshakeTimeout)
	require.Equal(t, 64, c.Peer.SenderBufferSize)
	require.Equal(t, 16384, c.Piece.BlockSize)
	require.Equal(t, 500*time.Millisecond, c.Piece.StaleAfter)
	require.Equal(t, 30, c.Pool.MaxOutgoingPeers)
	require.Equal(t, "-BT0001-", c.PeerIDPrefix)
}

func TestParseAppliesDefaultsToUnsetFields(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("pool:\n  max_outgoing_peers: 10\n"), 0644))

	c, err := Parse(path)
	require.NoError(t, err)
	require.Equal(t, 10, c.Pool.MaxOutgoingPeers)
	require.Equal(t, 16384, c.Piece.BlockSize) // untouched field still defaulted
}

func TestParseSurfacesMissingFile(t *testing.T) {
	_, err := Parse(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}
