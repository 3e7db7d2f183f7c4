package coordinator

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/raterudder/indrav2h/pkg/log"
	"github.com/raterudder/indrav2h/pkg/types"
	"github.com/raterudder/indrav2h/pkg/v2h"
	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"
)

const (
	// DefaultInterval is how often the cloud is polled.
	DefaultInterval = 60 * time.Second

	// DefaultRequestCooldown is the minimum time between on-demand refreshes.
	DefaultRequestCooldown = 10 * time.Second
)

// RefreshFailedError is recorded when a poll cycle fails. The previous
// snapshot is kept.
type RefreshFailedError struct {
	Err error
}

func (e *RefreshFailedError) Error() string {
	return fmt.Sprintf("error communicating with Indra V2H API: %v", e.Err)
}

func (e *RefreshFailedError) Unwrap() error {
	return e.Err
}

// SnapshotStore receives every published snapshot.
type SnapshotStore interface {
	SaveSnapshot(ctx context.Context, entryID string, snap types.Snapshot) error
}

// RefreshObserver is told about every completed poll cycle.
type RefreshObserver interface {
	ObserveRefresh(entryID string, took time.Duration, err error)
}

// State of the coordinator.
type State int

const (
	StateIdle State = iota
	StateRefreshing
)

func (s State) String() string {
	if s == StateRefreshing {
		return "refreshing"
	}
	return "idle"
}

// Coordinator polls one account on a fixed interval, keeps the last good
// snapshot and notifies listeners after every cycle.
type Coordinator struct {
	entryID  string
	client   v2h.Client
	interval time.Duration
	cooldown time.Duration
	store    SnapshotStore
	observer RefreshObserver

	group    singleflight.Group
	snapshot atomic.Pointer[types.Snapshot]

	mu           sync.Mutex
	state        State
	lastErr      error
	lastSuccess  bool
	lastUpdate   time.Time
	listeners    map[int]func()
	nextListener int

	limiter *rate.Limiter
	pending *time.Timer
	stopped bool
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithInterval overrides DefaultInterval.
func WithInterval(d time.Duration) Option {
	return func(c *Coordinator) {
		c.interval = d
	}
}

// WithRequestCooldown overrides DefaultRequestCooldown. Zero disables
// debouncing of RequestRefresh.
func WithRequestCooldown(d time.Duration) Option {
	return func(c *Coordinator) {
		c.cooldown = d
	}
}

// WithSnapshotStore saves every published snapshot to s.
func WithSnapshotStore(s SnapshotStore) Option {
	return func(c *Coordinator) {
		c.store = s
	}
}

// WithObserver reports every refresh to o.
func WithObserver(o RefreshObserver) Option {
	return func(c *Coordinator) {
		c.observer = o
	}
}

// New returns an idle coordinator with no snapshot.
func New(entryID string, client v2h.Client, opts ...Option) *Coordinator {
	c := &Coordinator{
		entryID:   entryID,
		client:    client,
		interval:  DefaultInterval,
		cooldown:  DefaultRequestCooldown,
		listeners: make(map[int]func()),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.cooldown > 0 {
		c.limiter = rate.NewLimiter(rate.Every(c.cooldown), 1)
	}
	return c
}

// EntryID returns the entry the coordinator polls for.
func (c *Coordinator) EntryID() string {
	return c.entryID
}

// Client returns the adapter used for polling.
func (c *Coordinator) Client() v2h.Client {
	return c.client
}

// Interval returns the poll interval.
func (c *Coordinator) Interval() time.Duration {
	return c.interval
}

// Data returns the last published snapshot or nil if no poll has succeeded.
// The snapshot must not be modified.
func (c *Coordinator) Data() *types.Snapshot {
	return c.snapshot.Load()
}

// LastUpdateSuccess reports whether the most recent cycle succeeded.
func (c *Coordinator) LastUpdateSuccess() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastSuccess
}

// LastError returns the *RefreshFailedError of the most recent cycle or nil.
func (c *Coordinator) LastError() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastErr
}

// LastUpdate returns when the last successful cycle finished.
func (c *Coordinator) LastUpdate() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastUpdate
}

// State returns whether a refresh is in flight.
func (c *Coordinator) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// AddListener registers fn to be called after every completed cycle. The
// returned func removes it.
func (c *Coordinator) AddListener(fn func()) func() {
	c.mu.Lock()
	defer c.mu.Unlock()
	id := c.nextListener
	c.nextListener++
	c.listeners[id] = fn
	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		delete(c.listeners, id)
	}
}

// FirstRefresh performs the refresh done at entry setup.
func (c *Coordinator) FirstRefresh(ctx context.Context) error {
	log.Ctx(ctx).DebugContext(ctx, "performing first refresh")
	return c.Refresh(ctx)
}

// Refresh polls the cloud now. Callers that arrive while a refresh is in
// flight share its result. The poll is not canceled when ctx is, so a caller
// going away never shows up as a failed poll. After Stop it does nothing.
func (c *Coordinator) Refresh(ctx context.Context) error {
	if c.isStopped() {
		log.Ctx(ctx).DebugContext(ctx, "refresh skipped, coordinator stopped")
		return nil
	}
	ctx = context.WithoutCancel(ctx)
	_, err, _ := c.group.Do("refresh", func() (any, error) {
		return nil, c.refresh(ctx)
	})
	return err
}

func (c *Coordinator) isStopped() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stopped
}

// RequestRefresh asks for a refresh. The first request runs immediately;
// requests within the cooldown fold into one refresh at the end of it.
func (c *Coordinator) RequestRefresh(ctx context.Context) error {
	if c.limiter == nil {
		return c.Refresh(ctx)
	}

	c.mu.Lock()
	if c.stopped || c.pending != nil {
		c.mu.Unlock()
		return nil
	}
	delay := c.limiter.Reserve().Delay()
	if delay > 0 {
		bg := context.WithoutCancel(ctx)
		c.pending = time.AfterFunc(delay, func() {
			c.mu.Lock()
			c.pending = nil
			stopped := c.stopped
			c.mu.Unlock()
			if stopped {
				return
			}
			// errors are recorded and logged by refresh
			_ = c.Refresh(bg)
		})
		c.mu.Unlock()
		log.Ctx(ctx).DebugContext(ctx, "refresh request deferred", slog.Duration("delay", delay))
		return nil
	}
	c.mu.Unlock()
	return c.Refresh(ctx)
}

// Stop cancels a deferred refresh request. Refresh and RequestRefresh do
// nothing afterwards. Run stops the coordinator when it returns.
func (c *Coordinator) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stopped = true
	if c.pending != nil {
		c.pending.Stop()
		c.pending = nil
	}
}

// Run polls every interval until ctx is done.
func (c *Coordinator) Run(ctx context.Context) {
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()
	defer c.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Ctx(ctx).DebugContext(ctx, "coordinator stopped")
			return
		case <-ticker.C:
			// errors are recorded and logged by refresh
			_ = c.Refresh(ctx)
		}
	}
}

func (c *Coordinator) fetch(ctx context.Context) (*types.Snapshot, error) {
	// the device is refreshed on every poll
	c.client.Invalidate()

	device, err := c.client.GetDevice(ctx)
	if err != nil {
		return nil, fmt.Errorf("get device: %w", err)
	}
	stats, err := c.client.GetStatistics(ctx)
	if err != nil {
		return nil, fmt.Errorf("get statistics: %w", err)
	}
	if stats == nil {
		stats = types.Statistics{}
	}
	return &types.Snapshot{
		Device:     device,
		Statistics: stats,
		FetchedAt:  time.Now(),
	}, nil
}

func (c *Coordinator) refresh(ctx context.Context) error {
	c.mu.Lock()
	c.state = StateRefreshing
	wasSuccess := c.lastSuccess || c.lastErr == nil
	c.mu.Unlock()

	start := time.Now()
	snap, err := c.fetch(ctx)
	took := time.Since(start)

	var result error
	c.mu.Lock()
	c.state = StateIdle
	if err != nil {
		result = &RefreshFailedError{Err: err}
		c.lastErr = result
		c.lastSuccess = false
	} else {
		c.snapshot.Store(snap)
		c.lastErr = nil
		c.lastSuccess = true
		c.lastUpdate = snap.FetchedAt
	}
	listeners := make([]func(), 0, len(c.listeners))
	for _, fn := range c.listeners {
		listeners = append(listeners, fn)
	}
	c.mu.Unlock()

	if result != nil {
		log.Ctx(ctx).ErrorContext(ctx, "error fetching indra v2h data", slog.Any("error", err), slog.Duration("took", took))
	} else {
		if !wasSuccess {
			log.Ctx(ctx).InfoContext(ctx, "fetching indra v2h data recovered")
		}
		log.Ctx(ctx).DebugContext(ctx, "indra v2h data refreshed", slog.Duration("took", took))
		if c.store != nil {
			if err := c.store.SaveSnapshot(ctx, c.entryID, *snap); err != nil {
				log.Ctx(ctx).WarnContext(ctx, "failed to save snapshot", slog.Any("error", err))
			}
		}
	}
	if c.observer != nil {
		c.observer.ObserveRefresh(c.entryID, took, result)
	}

	for _, fn := range listeners {
		fn()
	}
	return result
}
