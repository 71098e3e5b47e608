package coordinator

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/andres-erbsen/clock"
	"github.com/stretchr/testify/require"

	"github.com/ghosthamlet/boost-torrent/log"
	"github.com/ghosthamlet/boost-torrent/trackerclient"
)

type fakeTrackerClient struct {
	mu    sync.Mutex
	resps []*trackerclient.AnnounceResponse
	err   error
	calls int
}

func (f *fakeTrackerClient) Announce(ctx context.Context, req trackerclient.AnnounceRequest) (*trackerclient.AnnounceResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	if len(f.resps) == 0 {
		return &trackerclient.AnnounceResponse{}, nil
	}
	idx := f.calls - 1
	if idx >= len(f.resps) {
		idx = len(f.resps) - 1
	}
	return f.resps[idx], nil
}

func (f *fakeTrackerClient) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func testEventLogger() *log.EventLogger {
	return log.NewNopEventLogger()
}

func TestTrackerWorkerReannouncesAtInterval(t *testing.T) {
	clk := clock.NewMock()
	client := &fakeTrackerClient{
		resps: []*trackerclient.AnnounceResponse{
			{Interval: 5, Peers: []trackerclient.Peer{{Port: 1}}},
		},
	}
	s := newState(1)
	req := func(event trackerclient.Event) trackerclient.AnnounceRequest {
		return trackerclient.AnnounceRequest{Event: event}
	}

	w := newTrackerWorker(client, "http://tracker.example/announce", req, s, 5*time.Second, clk, testEventLogger())
	go w.run()

	require.Eventually(t, func() bool {
		clk.Add(time.Second)
		return client.callCount() >= 1
	}, time.Second, time.Millisecond)

	s.beginWrapUp()
}

func TestTrackerWorkerMergesReturnedPeersIntoPotentialQueue(t *testing.T) {
	clk := clock.NewMock()
	client := &fakeTrackerClient{
		resps: []*trackerclient.AnnounceResponse{
			{Interval: 1, Peers: []trackerclient.Peer{{Port: 7}, {Port: 8}}},
		},
	}
	s := newState(1)
	req := func(event trackerclient.Event) trackerclient.AnnounceRequest {
		return trackerclient.AnnounceRequest{Event: event}
	}

	w := newTrackerWorker(client, "http://tracker.example/announce", req, s, 1*time.Second, clk, testEventLogger())
	_, err := w.announce(trackerclient.EventNone)
	require.NoError(t, err)

	_, ok := s.popPotential()
	require.True(t, ok)
	_, ok = s.popPotential()
	require.True(t, ok)
	_, ok = s.popPotential()
	require.False(t, ok)
}

func TestTrackerWorkerStopsOnWrapUp(t *testing.T) {
	clk := clock.NewMock()
	client := &fakeTrackerClient{}
	s := newState(1)
	s.beginWrapUp()
	req := func(event trackerclient.Event) trackerclient.AnnounceRequest {
		return trackerclient.AnnounceRequest{Event: event}
	}

	w := newTrackerWorker(client, "http://tracker.example/announce", req, s, time.Second, clk, testEventLogger())

	done := make(chan struct{})
	go func() {
		w.run()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("trackerWorker.run did not exit after wrap-up")
	}
	require.Equal(t, 0, client.callCount())
}

func TestTrackerWorkerSurfacesAnnounceError(t *testing.T) {
	clk := clock.NewMock()
	client := &fakeTrackerClient{err: errors.New("connection refused")}
	s := newState(1)
	req := func(event trackerclient.Event) trackerclient.AnnounceRequest {
		return trackerclient.AnnounceRequest{Event: event}
	}

	w := newTrackerWorker(client, "http://tracker.example/announce", req, s, time.Second, clk, testEventLogger())
	_, err := w.announce(trackerclient.EventStarted)
	require.Error(t, err)
}

func TestTrackerWorkerBackoffGrowsOnRepeatedFailureAndResetsOnSuccess(t *testing.T) {
	clk := clock.NewMock()
	s := newState(1)
	req := func(event trackerclient.Event) trackerclient.AnnounceRequest {
		return trackerclient.AnnounceRequest{Event: event}
	}

	w := newTrackerWorker(&fakeTrackerClient{}, "http://tracker.example/announce", req, s, 30*time.Second, clk, testEventLogger())

	first := w.failureBackoff.NextBackOff()
	second := w.failureBackoff.NextBackOff()
	require.Greater(t, second, first, "backoff must grow on consecutive failures")

	w.failureBackoff.Reset()
	resetVal := w.failureBackoff.NextBackOff()
	require.Less(t, resetVal, second, "resetting must shrink the wait back toward the initial interval")
}
