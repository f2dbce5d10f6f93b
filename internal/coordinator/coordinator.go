// Package coordinator owns the periodically refreshed SolaX Cloud snapshot.
package coordinator

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/VeselaHouba/Home-assistant-Solax-cloud/internal/solax"
)

// Fetcher retrieves one snapshot from the remote API
type Fetcher interface {
	FetchRealtime(ctx context.Context) (solax.Snapshot, error)
}

// State is the published result of the most recent refresh. Snapshot and
// FetchedAt always describe the last successful fetch.
type State struct {
	Snapshot    solax.Snapshot
	FetchedAt   time.Time
	LastAttempt time.Time
	OK          bool
	Err         error
	Successes   uint64
	Failures    uint64
}

// HasData reports whether any fetch has succeeded since startup
func (s State) HasData() bool {
	return !s.Snapshot.IsZero()
}

type subscriber struct {
	id int
	fn func(State)
}

// Coordinator keeps the last-known-good snapshot and notifies subscribers
// after every refresh.
type Coordinator struct {
	fetcher Fetcher
	logger  *slog.Logger
	now     func() time.Time

	state  atomic.Pointer[State]
	flight singleflight.Group

	mu          sync.Mutex
	subscribers []subscriber
	nextID      int
}

// Option customises a Coordinator
type Option func(*Coordinator)

// WithLogger sets the logger used for refresh results
func WithLogger(logger *slog.Logger) Option {
	return func(c *Coordinator) {
		c.logger = logger
	}
}

// WithClock replaces time.Now
func WithClock(now func() time.Time) Option {
	return func(c *Coordinator) {
		c.now = now
	}
}

// New creates a Coordinator with an empty state
func New(fetcher Fetcher, opts ...Option) *Coordinator {
	c := &Coordinator{
		fetcher: fetcher,
		logger:  slog.Default(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.state.Store(&State{})
	return c
}

// Refresh performs one fetch. On success the stored snapshot is replaced;
// on failure the previous snapshot is kept and the error is returned.
// Concurrent callers share a single in-flight fetch.
func (c *Coordinator) Refresh(ctx context.Context) error {
	_, err, _ := c.flight.Do("refresh", func() (any, error) {
		return nil, c.refresh(ctx)
	})
	return err
}

func (c *Coordinator) refresh(ctx context.Context) error {
	started := c.now()
	snap, err := c.fetcher.FetchRealtime(ctx)

	prev := c.state.Load()
	next := *prev
	next.LastAttempt = started
	next.Err = err
	next.OK = err == nil

	if err != nil {
		next.Failures++
		c.logger.Warn("refresh failed, keeping last known data",
			"error", err,
			"last_success", prev.FetchedAt,
			"has_data", prev.HasData(),
		)
	} else {
		next.Snapshot = snap
		next.FetchedAt = c.now()
		next.Successes++
		c.logger.Debug("refresh succeeded",
			"fields", snap.Len(),
			"duration", next.FetchedAt.Sub(started),
		)
	}

	c.state.Store(&next)
	c.notify(next)
	return err
}

// Current returns the latest successfully fetched snapshot. The zero
// Snapshot is returned when no fetch has succeeded yet.
func (c *Coordinator) Current() solax.Snapshot {
	return c.state.Load().Snapshot
}

// State returns the full published state
func (c *Coordinator) State() State {
	return *c.state.Load()
}

// Subscribe registers fn to be called after every refresh, whether it
// succeeded or failed. The returned function removes the subscription.
func (c *Coordinator) Subscribe(fn func(State)) func() {
	c.mu.Lock()
	defer c.mu.Unlock()

	id := c.nextID
	c.nextID++
	c.subscribers = append(c.subscribers, subscriber{id: id, fn: fn})

	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		for i, s := range c.subscribers {
			if s.id == id {
				c.subscribers = append(c.subscribers[:i:i], c.subscribers[i+1:]...)
				return
			}
		}
	}
}

func (c *Coordinator) notify(state State) {
	c.mu.Lock()
	subs := make([]subscriber, len(c.subscribers))
	copy(subs, c.subscribers)
	c.mu.Unlock()

	for _, s := range subs {
		s.fn(state)
	}
}

// Run refreshes immediately and then on every tick of interval until ctx is
// done. Failures are retried on the same schedule indefinitely.
func (c *Coordinator) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	c.logger.Info("coordinator started", "interval", interval)
	_ = c.Refresh(ctx)

	for {
		select {
		case <-ctx.Done():
			c.logger.Debug("coordinator stopped")
			return
		case <-ticker.C:
			_ = c.Refresh(ctx)
		}
	}
}
