package coordinator

import (
	"context"
	"time"

	"github.com/andres-erbsen/clock"
	"github.com/cenkalti/backoff"

	"github.com/ghosthamlet/boost-torrent/log"
	"github.com/ghosthamlet/boost-torrent/trackerclient"
)

// trackerWorker re-announces to the tracker at the interval the tracker
// itself returns, merging the resulting peer list into the potential queue.
// Grounded on spec.md's tracker-refresh worker: it sleeps in 1-second
// increments so the wrap-up flag is checked every second rather than only
// once per multi-minute interval, and a failed announce is logged and
// retried next cycle rather than torn down.
type trackerWorker struct {
	client     trackerclient.Client
	req        trackerRequestFunc
	state      *state
	interval   time.Duration
	clk        clock.Clock
	logger     *log.EventLogger
	trackerURL string

	// failureBackoff governs the wait before retrying after a failed
	// announce, growing on consecutive failures and resetting on success,
	// the way uber-kraken's tracker/metainfoclient.Client backs off a
	// flaky tracker rather than hammering it every interval.
	failureBackoff *backoff.ExponentialBackOff

	// trackerID is the opaque id the tracker handed back on a previous
	// announce, if any, echoed on every subsequent one per BEP 3.
	trackerID string
}

// trackerRequestFunc builds the next AnnounceRequest from current state; the
// coordinator supplies one that reads live uploaded/downloaded/left.
type trackerRequestFunc func(event trackerclient.Event) trackerclient.AnnounceRequest

func newTrackerWorker(
	client trackerclient.Client,
	trackerURL string,
	req trackerRequestFunc,
	s *state,
	initialInterval time.Duration,
	clk clock.Clock,
	logger *log.EventLogger) *trackerWorker {

	fb := &backoff.ExponentialBackOff{
		InitialInterval:     time.Second,
		RandomizationFactor: 0.2,
		Multiplier:          2,
		MaxInterval:         initialInterval,
		MaxElapsedTime:      0,
		Clock:               backoff.SystemClock,
	}
	fb.Reset()

	return &trackerWorker{
		client:         client,
		req:            req,
		state:          s,
		interval:       initialInterval,
		clk:            clk,
		logger:         logger,
		trackerURL:     trackerURL,
		failureBackoff: fb,
	}
}

// run sleeps in 1-second ticks up to the current wait, checking wrap-up
// each tick, then re-announces with event "none" and merges the returned
// peers. The wait is normally the tracker-issued interval; after a failed
// announce it shrinks to the next backoff duration instead, so a flaky
// tracker is retried sooner than a full interval away but never hammered
// on every tick. Exits once the wrap-up flag is set.
func (w *trackerWorker) run() {
	wait := w.interval
	for {
		slept := time.Duration(0)
		for slept < wait {
			if w.state.isWrappingUp() {
				return
			}
			w.clk.Sleep(time.Second)
			slept += time.Second
		}
		if w.state.isWrappingUp() {
			return
		}
		if _, err := w.announce(trackerclient.EventNone); err != nil {
			wait = w.failureBackoff.NextBackOff()
			continue
		}
		w.failureBackoff.Reset()
		wait = w.interval
	}
}

func (w *trackerWorker) announce(event trackerclient.Event) (*trackerclient.AnnounceResponse, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	req := w.req(event)
	req.TrackerID = w.trackerID
	resp, err := w.client.Announce(ctx, req)
	if err != nil {
		w.logger.TrackerAnnounce(w.trackerURL, 0, 0, err)
		return nil, err
	}

	w.state.enqueuePotential(resp.Peers)
	if resp.Interval > 0 {
		w.interval = time.Duration(resp.Interval) * time.Second
		w.failureBackoff.MaxInterval = w.interval
	}
	if resp.TrackerID != "" {
		w.trackerID = resp.TrackerID
	}
	w.logger.TrackerAnnounce(w.trackerURL, len(resp.Peers), w.interval, nil)
	return resp, nil
}
