package cache

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"tuya-ble-cloud/internal/domain/credential/model"
)

// Logger is the logging surface the cache needs.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// FillOutcome is what a fill function discovered.
type FillOutcome struct {
	Credentials map[model.Address]model.DeviceCredential
	// Failed counts devices whose metadata could not be fetched.
	Failed int
}

// FillFunc enumerates the devices reachable through client.
type FillFunc func(ctx context.Context, client Client) (FillOutcome, error)

// FillResult reports a Fill call.
type FillResult struct {
	Ran    bool
	Stored int
	Failed int
}

// Partial reports whether some devices were skipped.
func (r FillResult) Partial() bool { return r.Failed > 0 }

// DefaultFillTimeout bounds one shared fill run.
const DefaultFillTimeout = 2 * time.Minute

// Option configures a Cache.
type Option func(*Cache)

func WithExpiryPolicy(p ExpiryPolicy) Option {
	return func(c *Cache) {
		if p != nil {
			c.policy = p
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(c *Cache) {
		if now != nil {
			c.now = now
		}
	}
}

// WithFillTimeout sets the deadline of a shared fill run. It is independent
// of the callers' contexts.
func WithFillTimeout(d time.Duration) Option {
	return func(c *Cache) {
		if d > 0 {
			c.fillTimeout = d
		}
	}
}

func WithLogger(l Logger) Option {
	return func(c *Cache) {
		if l != nil {
			c.logger = l
		}
	}
}

// Cache maps login identity keys to entries. It is safe for concurrent use
// and runs at most one fill per entry at a time.
type Cache struct {
	mu      sync.RWMutex
	entries map[string]*Entry
	order   []string

	fills       singleflight.Group
	fillTimeout time.Duration
	policy      ExpiryPolicy
	now         func() time.Time
	logger      Logger
}

// New creates an empty cache.
func New(opts ...Option) *Cache {
	c := &Cache{
		entries:     make(map[string]*Entry),
		fillTimeout: DefaultFillTimeout,
		policy:      NeverExpire{},
		now:         time.Now,
		logger:      nopLogger{},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Get looks an entry up by identity key.
func (c *Cache) Get(key string) (*Entry, bool) {
	c.mu.RLock()
	e, ok := c.entries[key]
	c.mu.RUnlock()
	if !ok {
		return nil, false
	}
	if c.policy.Expired(e, c.now()) {
		c.logger.Info("Entry %s expired", e.Login().Redacted())
		c.Invalidate(key)
		return nil, false
	}
	return e, true
}

// Lookup finds the entry of a complete login identity.
func (c *Cache) Lookup(login model.LoginIdentity) (*Entry, bool) {
	if !login.Complete() {
		return nil, false
	}
	return c.Get(login.Key())
}

// FindByAddress returns the first entry, in insertion order, holding address.
func (c *Cache) FindByAddress(address model.Address) (*Entry, bool) {
	for _, key := range c.keys() {
		e, ok := c.Get(key)
		if !ok {
			continue
		}
		if _, found := e.Lookup(address); found {
			return e, true
		}
	}
	return nil, false
}

// GetOrCreate stores client for login. An existing entry keeps its
// credentials and has its session replaced; the previous session is closed.
func (c *Cache) GetOrCreate(login model.LoginIdentity, client Client) (*Entry, bool) {
	key := login.Key()

	c.mu.Lock()
	if e, ok := c.entries[key]; ok {
		c.mu.Unlock()
		if old := e.rebind(login, client); old != nil && old != client {
			_ = old.Close()
		}
		return e, false
	}
	e := newEntry(login, client, c.now())
	c.entries[key] = e
	c.order = append(c.order, key)
	c.mu.Unlock()

	c.logger.Debug("Created entry for %s", login.Redacted())
	return e, true
}

// Fill runs fn for the entry at key unless it is already filled and force is
// false. Concurrent calls for the same key share a single run.
//
// The shared run keeps the values of the first caller's ctx but not its
// cancellation, so a caller that gives up does not fail the others. A caller
// whose ctx ends stops waiting and gets ctx.Err(); the run carries on under
// its own fill timeout.
func (c *Cache) Fill(ctx context.Context, key string, force bool, fn FillFunc) (FillResult, error) {
	e, ok := c.Get(key)
	if !ok {
		return FillResult{}, ErrNoEntry
	}
	if e.Filled() && !force {
		return FillResult{}, nil
	}

	ch := c.fills.DoChan(key, func() (any, error) {
		if e.Filled() && !force {
			return FillResult{}, nil
		}
		fillCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.fillTimeout)
		defer cancel()

		outcome, err := fn(fillCtx, e.Client())
		if err != nil {
			return FillResult{}, err
		}
		e.store(outcome.Credentials, c.now())
		return FillResult{Ran: true, Stored: len(outcome.Credentials), Failed: outcome.Failed}, nil
	})

	select {
	case <-ctx.Done():
		c.logger.Debug("Stopped waiting for fill of %s: %v", e.Login().Redacted(), ctx.Err())
		return FillResult{}, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return FillResult{}, res.Err
		}
		if res.Shared {
			c.logger.Debug("Joined in-flight fill for %s", e.Login().Redacted())
		}
		return res.Val.(FillResult), nil
	}
}

// Invalidate removes the entry at key and closes its session.
func (c *Cache) Invalidate(key string) bool {
	c.mu.Lock()
	e, ok := c.entries[key]
	if ok {
		delete(c.entries, key)
		for i, k := range c.order {
			if k == key {
				c.order = append(c.order[:i:i], c.order[i+1:]...)
				break
			}
		}
	}
	c.mu.Unlock()

	if ok {
		if client := e.Client(); client != nil {
			_ = client.Close()
		}
	}
	return ok
}

// FirstLogin returns the login of the oldest entry.
func (c *Cache) FirstLogin() (model.LoginIdentity, bool) {
	for _, key := range c.keys() {
		if e, ok := c.Get(key); ok {
			return e.Login(), true
		}
	}
	return model.LoginIdentity{}, false
}

// EntrySnapshot is a copy of one entry's state.
type EntrySnapshot struct {
	Key         string
	Login       model.LoginIdentity
	Filled      bool
	Credentials []model.DeviceCredential
}

// Snapshot copies every live entry in insertion order.
func (c *Cache) Snapshot() []EntrySnapshot {
	keys := c.keys()
	out := make([]EntrySnapshot, 0, len(keys))
	for _, key := range keys {
		e, ok := c.Get(key)
		if !ok {
			continue
		}
		out = append(out, EntrySnapshot{
			Key:         key,
			Login:       e.Login(),
			Filled:      e.Filled(),
			Credentials: e.Credentials(),
		})
	}
	return out
}

// Len returns the number of entries.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Close releases every held session. Entries stay in place.
func (c *Cache) Close() error {
	c.mu.RLock()
	entries := make([]*Entry, 0, len(c.entries))
	for _, e := range c.entries {
		entries = append(entries, e)
	}
	c.mu.RUnlock()

	for _, e := range entries {
		if client := e.Client(); client != nil {
			_ = client.Close()
		}
	}
	return nil
}

func (c *Cache) keys() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]string(nil), c.order...)
}

type nopLogger struct{}

func (nopLogger) Debug(string, ...any) {}
func (nopLogger) Info(string, ...any)  {}
func (nopLogger) Warn(string, ...any)  {}
func (nopLogger) Error(string, ...any) {}
