package coordinator

import (
	"net"
	"sync"
	"testing"
	"time"

	"github.com/andres-erbsen/clock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ghosthamlet/boost-torrent/peer"
	"github.com/ghosthamlet/boost-torrent/storage"
)

// TestStopJoinsPeerWorkersBeforeStoreIsUsable exercises the mechanism Stop
// relies on: closing every active session unblocks each peerWorker's
// message loop, and a WaitGroup tracking those goroutines lets a caller
// know it is safe to close the store. Without closeAllActive, a peerWorker
// blocked on sess.Receiver() would never observe shutdown and the
// WaitGroup would hang forever.
func TestStopJoinsPeerWorkersBeforeStoreIsUsable(t *testing.T) {
	data := []byte("0123456789abcdef")
	mi := buildWorkerMetaInfo(t, 16, data)

	store, err := storage.New(t.TempDir()+"/data", mi)
	require.NoError(t, err)

	local, remote := net.Pipe()
	defer remote.Close()

	sess := peer.New(local, testPeerIDN(1), mi.NumPieces(), zap.NewNop().Sugar())
	s := newState(mi.NumPieces())
	w := newPeerWorker(sess, mi, store, s, clock.NewMock(), false, testEventLogger())

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		w.run()
	}()

	// Give run() a chance to reach its blocking receive before shutdown.
	require.Eventually(t, func() bool { return s.activeCount() == 1 }, time.Second, time.Millisecond)

	s.closeAllActive()

	joined := make(chan struct{})
	go func() {
		wg.Wait()
		close(joined)
	}()

	select {
	case <-joined:
	case <-time.After(time.Second):
		t.Fatal("peerWorker did not exit after its session was closed")
	}

	require.NoError(t, store.Close())
}
