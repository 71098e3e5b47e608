package trackerclient

import (
	"context"
	"time"

	"github.com/andres-erbsen/clock"
	"go.uber.org/atomic"
	"go.uber.org/zap"
)

// Config defines Announcer configuration.
type Config struct {
	DefaultInterval time.Duration `yaml:"default_interval"`
	MaxInterval     time.Duration `yaml:"max_interval"`
}

func (c Config) applyDefaults() Config {
	if c.DefaultInterval == 0 {
		c.DefaultInterval = 30 * time.Second
	}
	if c.MaxInterval == 0 {
		c.MaxInterval = 30 * time.Minute
	}
	return c
}

// Events receives the periodic tick an Announcer emits at its current
// interval.
type Events interface {
	AnnounceTick()
}

// Announcer is a thin wrapper around a Client which tracks the interval the
// tracker hands back on each announce and re-announces at that cadence.
type Announcer struct {
	config   Config
	client   Client
	events   Events
	interval *atomic.Int64
	timer    *clock.Timer
	logger   *zap.SugaredLogger
}

// NewAnnouncer creates a new Announcer.
func NewAnnouncer(
	config Config,
	client Client,
	events Events,
	clk clock.Clock,
	logger *zap.SugaredLogger) *Announcer {
	config = config.applyDefaults()
	return &Announcer{
		config:   config,
		client:   client,
		events:   events,
		interval: atomic.NewInt64(int64(config.DefaultInterval)),
		timer:    clk.Timer(config.DefaultInterval),
		logger:   logger,
	}
}

// DefaultAnnouncer creates an Announcer with default intervals.
func DefaultAnnouncer(
	client Client,
	events Events,
	clk clock.Clock,
	logger *zap.SugaredLogger) *Announcer {
	return NewAnnouncer(Config{}, client, events, clk, logger)
}

// Announce announces through the underlying client and returns the peers it
// hands out. Updates the announce interval if the tracker's response
// interval has changed.
func (a *Announcer) Announce(ctx context.Context, req AnnounceRequest) ([]Peer, error) {
	resp, err := a.client.Announce(ctx, req)
	if err != nil {
		return nil, err
	}

	interval := time.Duration(resp.Interval) * time.Second
	if interval == 0 {
		interval = a.config.DefaultInterval
	}
	if interval > a.config.MaxInterval {
		// The timer only resets on ticks, so an unreasonably high interval
		// from a misbehaving tracker would otherwise lock out future updates.
		interval = a.config.DefaultInterval
	}
	if a.interval.Swap(int64(interval)) != int64(interval) {
		a.logger.Infof("Announce interval updated to %s", interval)
	}
	return resp.Peers, nil
}

// Ticker emits AnnounceTick events at the current announce interval, which
// may be updated by Announce. Ticker exits when done is closed.
func (a *Announcer) Ticker(done <-chan struct{}) {
	for {
		select {
		case <-a.timer.C:
			a.events.AnnounceTick()
			a.timer.Reset(time.Duration(a.interval.Load()))
		case <-done:
			return
		}
	}
}
