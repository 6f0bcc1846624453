package synccache

import (
	"context"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/dinodia/dinodia-core/internal/device"
	"github.com/dinodia/dinodia-core/internal/kvstore"
)

// defaultPollInterval is used when Config.PollInterval is zero.
const defaultPollInterval = 5 * time.Second

// Logger defines the logging interface used by the Cache.
type Logger interface {
	Debug(msg string, args ...any)
	Warn(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Warn(string, ...any)  {}

// Fetcher produces the canonical device list for a user and mode.
// Implemented by device.Pipeline.
type Fetcher interface {
	FetchDevices(ctx context.Context, userID string, mode device.Mode) ([]device.Snapshot, error)
}

// Entry is one cached device list. UpdatedAt reflects the moment the
// entry was written, including the empty entry written on refresh
// failure.
type Entry struct {
	Devices   []device.Snapshot `json:"devices"`
	UpdatedAt time.Time         `json:"updatedAt"`
}

// State is the payload delivered to subscribers: the current entry, the
// in-flight status of the key, and the last refresh error (nil after a
// success).
type State struct {
	Entry     *Entry
	InFlight  bool
	LastError error
}

// Callback receives cache state after every write to the observed key.
type Callback func(State)

// Config carries the cache's tunables.
type Config struct {
	// Namespace prefixes persisted storage keys.
	Namespace string

	// PollInterval is the fixed re-poll cadence for observed keys.
	// Zero means defaultPollInterval.
	PollInterval time.Duration

	// IsForeground reports whether the host application is in the
	// foreground. Polling ticks are suppressed while it returns false.
	// Nil means always foreground.
	IsForeground func() bool
}

// Cache is the device synchronization cache. It is safe for concurrent
// use; one instance serves the whole process.
type Cache struct {
	fetcher      Fetcher
	store        kvstore.Store
	namespace    string
	pollInterval time.Duration
	isForeground func() bool
	logger       Logger

	flights singleflight.Group

	mu        sync.Mutex
	entries   map[string]*Entry
	lastErr   map[string]error
	inFlight  map[string]bool
	seq       map[string]uint64
	subs      map[string]map[int]Callback
	pollStop  map[string]chan struct{}
	nextSubID int
}

// New creates a device synchronization cache over the given fetcher and
// durable store.
func New(fetcher Fetcher, store kvstore.Store, cfg Config) *Cache {
	fg := cfg.IsForeground
	if fg == nil {
		fg = func() bool { return true }
	}
	interval := cfg.PollInterval
	if interval <= 0 {
		interval = defaultPollInterval
	}
	return &Cache{
		fetcher:      fetcher,
		store:        store,
		namespace:    cfg.Namespace,
		pollInterval: interval,
		isForeground: fg,
		logger:       noopLogger{},
		entries:      make(map[string]*Entry),
		lastErr:      make(map[string]error),
		inFlight:     make(map[string]bool),
		seq:          make(map[string]uint64),
		subs:         make(map[string]map[int]Callback),
		pollStop:     make(map[string]chan struct{}),
	}
}

// SetLogger sets the logger for the cache.
func (c *Cache) SetLogger(logger Logger) {
	c.logger = logger
}

func cacheKey(userID string, mode device.Mode) string {
	return userID + "|" + string(mode)
}

// Snapshot returns the cached entry for the key, or nil when nothing has
// been loaded yet. The read is synchronous and never touches the network.
func (c *Cache) Snapshot(userID string, mode device.Mode) *Entry {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.entries[cacheKey(userID, mode)]
}

// LastError returns the error recorded by the most recent refresh of the
// key, or nil after a success.
func (c *Cache) LastError(userID string, mode device.Mode) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastErr[cacheKey(userID, mode)]
}

// InFlight reports whether a fetch for the key is currently outstanding.
func (c *Cache) InFlight(userID string, mode device.Mode) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.inFlight[cacheKey(userID, mode)]
}

type fetchResult struct {
	devices []device.Snapshot
}

// Refresh performs a full pipeline fetch for the key and applies the
// result, subject to two rules:
//
// At most one fetch is in flight per key. A Refresh arriving while one is
// outstanding awaits the same fetch instead of issuing a duplicate
// round-trip; the tracking entry clears only once the fetch settles.
//
// A non-background call is superseded when a newer non-background call
// for the same key starts before it applies; the superseded call discards
// its result instead of overwriting fresher state. Background calls skip
// the guard but still share in-flight fetches.
//
// Success writes memory and durable storage. Failure writes an empty,
// freshly timestamped entry so stale devices are never shown next to an
// error, and records the error. Durable-write failures are logged and
// swallowed.
func (c *Cache) Refresh(ctx context.Context, userID string, mode device.Mode, background bool) ([]device.Snapshot, error) {
	if !device.IsValidMode(mode) {
		return nil, device.ErrInvalidMode
	}
	key := cacheKey(userID, mode)

	var seq uint64
	if !background {
		c.mu.Lock()
		c.seq[key]++
		seq = c.seq[key]
		c.mu.Unlock()
	}

	v, err, _ := c.flights.Do(key, func() (any, error) {
		c.mu.Lock()
		c.inFlight[key] = true
		c.mu.Unlock()

		devices, fetchErr := c.fetcher.FetchDevices(ctx, userID, mode)

		c.mu.Lock()
		c.inFlight[key] = false
		c.mu.Unlock()

		if fetchErr != nil {
			return nil, fetchErr
		}
		return fetchResult{devices: devices}, nil
	})

	var devices []device.Snapshot
	if err == nil {
		devices = v.(fetchResult).devices
	}

	applied := c.apply(ctx, userID, mode, key, devices, err, background, seq)
	if !applied {
		c.logger.Debug("refresh superseded, discarding result",
			"user_id", userID, "mode", mode)
	}
	return devices, err
}

// apply writes an entry for the key, persists it, and notifies
// subscribers. A non-nil refreshErr produces the empty invalidation
// entry. The write is skipped, atomically with the supersession check,
// when a newer non-background refresh has started since seq was taken.
func (c *Cache) apply(ctx context.Context, userID string, mode device.Mode, key string, devices []device.Snapshot, refreshErr error, background bool, seq uint64) bool {
	entry := &Entry{Devices: devices, UpdatedAt: time.Now()}
	if refreshErr != nil {
		entry.Devices = []device.Snapshot{}
	}

	c.mu.Lock()
	if !background && c.seq[key] != seq {
		c.mu.Unlock()
		return false
	}
	c.entries[key] = entry
	c.lastErr[key] = refreshErr
	c.mu.Unlock()

	storageKey := kvstore.DevicesKey(c.namespace, userID, string(mode))
	if saveErr := c.store.Save(ctx, storageKey, entry); saveErr != nil {
		c.logger.Warn("persisting device snapshot failed",
			"key", storageKey, "error", saveErr)
	}

	c.notify(key)
	return true
}

// ClearUserMode drops the cached entry and the persisted snapshot for one
// key. Memory is always cleared; a durable-remove failure is logged and
// swallowed.
func (c *Cache) ClearUserMode(ctx context.Context, userID string, mode device.Mode) {
	key := cacheKey(userID, mode)

	c.mu.Lock()
	delete(c.entries, key)
	delete(c.lastErr, key)
	c.mu.Unlock()

	storageKey := kvstore.DevicesKey(c.namespace, userID, string(mode))
	if err := c.store.Remove(ctx, storageKey); err != nil {
		c.logger.Warn("removing persisted snapshot failed",
			"key", storageKey, "error", err)
	}

	c.notify(key)
}

// ClearUser drops cached and persisted snapshots for every mode of the
// user, typically on logout.
func (c *Cache) ClearUser(ctx context.Context, userID string) {
	for _, mode := range device.AllModes() {
		c.ClearUserMode(ctx, userID, mode)
	}
}

// SubscribeDevices registers fn for writes to the key and returns an
// unsubscribe func. The callback fires immediately with the current
// state.
//
// The first subscriber for a key loads any persisted snapshot for an
// optimistic initial render, triggers a background refresh, and starts a
// fixed-interval poller that fires only while the application is in the
// foreground. The last unsubscribe stops the poller.
func (c *Cache) SubscribeDevices(userID string, mode device.Mode, fn Callback) func() {
	key := cacheKey(userID, mode)

	c.mu.Lock()
	c.nextSubID++
	id := c.nextSubID
	first := len(c.subs[key]) == 0
	if c.subs[key] == nil {
		c.subs[key] = make(map[int]Callback)
	}
	c.subs[key][id] = fn
	var stop chan struct{}
	if first {
		stop = make(chan struct{})
		c.pollStop[key] = stop
	}
	c.mu.Unlock()

	fn(c.stateFor(key))

	if first {
		go c.primeKey(userID, mode, key)
		go c.poll(userID, mode, stop)
	}

	return func() {
		c.mu.Lock()
		delete(c.subs[key], id)
		last := len(c.subs[key]) == 0
		var stopCh chan struct{}
		if last {
			delete(c.subs, key)
			stopCh = c.pollStop[key]
			delete(c.pollStop, key)
		}
		c.mu.Unlock()
		if stopCh != nil {
			close(stopCh)
		}
	}
}

// primeKey seeds the key from durable storage, then refreshes in the
// background. A storage failure is a cache miss.
func (c *Cache) primeKey(userID string, mode device.Mode, key string) {
	ctx := context.Background()

	var persisted Entry
	found, err := c.store.Load(ctx, kvstore.DevicesKey(c.namespace, userID, string(mode)), &persisted)
	if err != nil {
		c.logger.Warn("loading persisted snapshot failed",
			"user_id", userID, "mode", mode, "error", err)
		found = false
	}
	if found {
		c.mu.Lock()
		if c.entries[key] == nil {
			c.entries[key] = &persisted
		}
		c.mu.Unlock()
		c.notify(key)
	}

	if _, err := c.Refresh(ctx, userID, mode, true); err != nil {
		c.logger.Debug("initial background refresh failed",
			"user_id", userID, "mode", mode, "error", err)
	}
}

// poll re-fetches the key at the configured interval while the
// application is in the foreground, until stop closes.
func (c *Cache) poll(userID string, mode device.Mode, stop chan struct{}) {
	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if !c.isForeground() {
				continue
			}
			if _, err := c.Refresh(context.Background(), userID, mode, true); err != nil {
				c.logger.Debug("poll refresh failed",
					"user_id", userID, "mode", mode, "error", err)
			}
		}
	}
}

// RefreshObserved background-refreshes every key that currently has
// subscribers. Used by push-style triggers (the statestream listener) to
// pull fresh state between polls.
func (c *Cache) RefreshObserved(ctx context.Context) {
	c.mu.Lock()
	keys := make([]string, 0, len(c.subs))
	for key := range c.subs {
		keys = append(keys, key)
	}
	c.mu.Unlock()

	for _, key := range keys {
		userID, mode, ok := splitKey(key)
		if !ok {
			continue
		}
		if _, err := c.Refresh(ctx, userID, mode, true); err != nil {
			c.logger.Debug("observed refresh failed",
				"user_id", userID, "mode", mode, "error", err)
		}
	}
}

func splitKey(key string) (string, device.Mode, bool) {
	i := strings.LastIndex(key, "|")
	if i < 0 {
		return "", "", false
	}
	return key[:i], device.Mode(key[i+1:]), true
}

func (c *Cache) stateFor(key string) State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return State{
		Entry:     c.entries[key],
		InFlight:  c.inFlight[key],
		LastError: c.lastErr[key],
	}
}

// notify delivers the current state to every subscriber of the key.
// Callbacks run outside the cache lock.
func (c *Cache) notify(key string) {
	state := c.stateFor(key)

	c.mu.Lock()
	callbacks := make([]Callback, 0, len(c.subs[key]))
	for _, fn := range c.subs[key] {
		callbacks = append(callbacks, fn)
	}
	c.mu.Unlock()

	for _, fn := range callbacks {
		fn(state)
	}
}
