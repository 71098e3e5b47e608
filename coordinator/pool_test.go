package coordinator

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ghosthamlet/boost-torrent/trackerclient"
)

func TestPoolManagerFillsUpToCapacity(t *testing.T) {
	s := newState(1)
	addrs := make([]trackerclient.Peer, 0, maxOutgoingPeers+5)
	for i := 0; i < maxOutgoingPeers+5; i++ {
		addrs = append(addrs, trackerclient.Peer{Port: uint16(i + 1)})
	}
	s.enqueuePotential(addrs)

	var mu sync.Mutex
	var dialed []trackerclient.Peer
	dial := func(ctx context.Context, addr trackerclient.Peer) error {
		mu.Lock()
		defer mu.Unlock()
		dialed = append(dialed, addr)
		s.outgoing.Inc()
		return nil
	}

	m := newPoolManager(dial, s, time.Second, testEventLogger())
	m.fillToCapacity()

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, dialed, maxOutgoingPeers)
}

func TestPoolManagerDoesNotRequeueFailedDial(t *testing.T) {
	s := newState(1)
	s.enqueuePotential([]trackerclient.Peer{{Port: 1}, {Port: 2}})

	var attempts int
	dial := func(ctx context.Context, addr trackerclient.Peer) error {
		attempts++
		return errors.New("connection refused")
	}

	m := newPoolManager(dial, s, time.Second, testEventLogger())
	m.fillToCapacity()

	require.Equal(t, 2, attempts)
	_, ok := s.popPotential()
	require.False(t, ok, "failed dial addresses must never be requeued")
}

func TestPoolManagerToppsUpOnDeath(t *testing.T) {
	s := newState(1)
	s.enqueuePotential([]trackerclient.Peer{{Port: 1}})

	dialCh := make(chan trackerclient.Peer, 8)
	dial := func(ctx context.Context, addr trackerclient.Peer) error {
		s.outgoing.Inc()
		dialCh <- addr
		return nil
	}

	m := newPoolManager(dial, s, time.Second, testEventLogger())
	done := make(chan struct{})
	go m.run(done)

	select {
	case <-dialCh:
	case <-time.After(time.Second):
		t.Fatal("pool manager never dialed the queued peer")
	}

	s.enqueuePotential([]trackerclient.Peer{{Port: 2}})
	s.death <- testPeerIDN(1)

	select {
	case <-dialCh:
	case <-time.After(time.Second):
		t.Fatal("pool manager did not top back up after a death notification")
	}

	close(done)
}
