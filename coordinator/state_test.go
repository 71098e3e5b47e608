package coordinator

import (
	"net"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ghosthamlet/boost-torrent/core"
	"github.com/ghosthamlet/boost-torrent/peer"
	"github.com/ghosthamlet/boost-torrent/trackerclient"
)

func testPeerIDN(n byte) core.PeerID {
	var id core.PeerID
	id[0] = n
	return id
}

func TestStateBytesLeftAccountsForShortFinalPiece(t *testing.T) {
	s := newState(3)
	lengths := []int64{10, 10, 4}
	pieceLengthAt := func(i int) int64 { return lengths[i] }

	require.EqualValues(t, 24, s.bytesLeft(24, pieceLengthAt))

	s.markCompleted(0)
	require.EqualValues(t, 14, s.bytesLeft(24, pieceLengthAt))

	s.markCompleted(2)
	require.EqualValues(t, 10, s.bytesLeft(24, pieceLengthAt))
}

func TestStatePopPotentialNeverReturnsSameAddressTwice(t *testing.T) {
	s := newState(1)
	s.enqueuePotential([]trackerclient.Peer{{Port: 1}, {Port: 2}})

	p1, ok := s.popPotential()
	require.True(t, ok)
	p2, ok := s.popPotential()
	require.True(t, ok)
	require.NotEqual(t, p1.Port, p2.Port)

	_, ok = s.popPotential()
	require.False(t, ok)
}

func TestStateActiveAddRemoveTracksOutgoingCount(t *testing.T) {
	s := newState(1)

	id := testPeerIDN(1)
	s.activeMu.Lock()
	s.active[id] = nil
	s.activeMu.Unlock()
	s.outgoing.Inc()

	require.EqualValues(t, 1, s.outgoing.Load())
	s.removeActive(id, true)
	require.EqualValues(t, 0, s.outgoing.Load())
	require.Equal(t, 0, s.activeCount())
}

func TestStateInFlightConcurrentAccess(t *testing.T) {
	s := newState(8)
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.setInFlight(i, nil)
			_, ok := s.getInFlight(i)
			require.True(t, ok)
			s.clearInFlight(i)
		}()
	}
	wg.Wait()
	for i := 0; i < 8; i++ {
		_, ok := s.getInFlight(i)
		require.False(t, ok)
	}
}

func TestStateWrapUpFlag(t *testing.T) {
	s := newState(1)
	require.False(t, s.isWrappingUp())
	s.beginWrapUp()
	require.True(t, s.isWrappingUp())
}

func TestStateCloseAllActiveUnblocksSessionReceivers(t *testing.T) {
	local, remote := net.Pipe()
	defer local.Close()
	defer remote.Close()

	sess := peer.New(local, testPeerIDN(1), 1, zap.NewNop().Sugar())
	sess.Start()

	s := newState(1)
	s.addActive(sess, false)

	s.closeAllActive()

	_, ok := <-sess.Receiver()
	require.False(t, ok, "receiver channel should close once the session is closed")
}
