// Package cache implements the wallet core's Request Cache (C2): a
// bounded, time-boxed store of previously-assembled TransactionViews
// keyed by txid, with FIFO eviction driven by a persisted insertion
// index. The Provider consults this cache before issuing a fresh
// blockchain.transaction.get call.
package cache

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/arcwallet/electrumwallet/core"
	"github.com/arcwallet/electrumwallet/kvstore"
)

// Config bounds the cache's size and entry lifetime. Defaults match
// spec.md §4.2.
type Config struct {
	MaxSize       int           `json:"maxSize"`
	Timeout       time.Duration `json:"timeout"`
	SweepInterval time.Duration `json:"sweepInterval"`
}

// NewConfig returns the spec.md §4.2 defaults: max_cache_size=10000,
// cache_timeout=300s.
func NewConfig() Config {
	return Config{
		MaxSize:       10_000,
		Timeout:       300 * time.Second,
		SweepInterval: 30 * time.Second,
	}
}

const indexKey = "cache_index"

type entry struct {
	View   *core.TransactionView
	Expiry time.Time
}

// Cache is the bounded, time-boxed, FIFO-evicting txid cache. store
// backs the persisted `cache_index` key so insertion order survives a
// restart; it may be a fresh in-memory kvstore.MemoryStore in tests.
type Cache struct {
	cfg   Config
	store kvstore.Store

	mu      sync.Mutex
	entries map[string]entry
	index   []string // cache_index: FIFO insertion order

	stopOnce sync.Once
	stopCh   chan struct{}
}

// New constructs a Cache backed by store and starts its periodic
// sweeper. Call Stop to release it.
func New(cfg Config, store kvstore.Store) (*Cache, error) {
	c := &Cache{
		cfg:     cfg,
		store:   store,
		entries: make(map[string]entry),
		stopCh:  make(chan struct{}),
	}
	if err := c.loadIndex(); err != nil {
		return nil, err
	}
	go c.sweepLoop()
	return c, nil
}

func (c *Cache) loadIndex() error {
	raw, ok, err := c.store.Get(indexKey)
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}
	var idx []string
	if err := json.Unmarshal(raw, &idx); err != nil {
		return err
	}
	c.index = idx
	return nil
}

func (c *Cache) persistIndexLocked() error {
	raw, err := json.Marshal(c.index)
	if err != nil {
		return err
	}
	return c.store.Put(indexKey, raw)
}

// Get returns the cached view for txid, if present. It does not apply
// the height==0 reuse rule: spec.md §4.2 assigns that decision to the
// Provider, not the cache.
func (c *Cache) Get(txid string) (*core.TransactionView, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[txid]
	if !ok {
		return nil, false
	}
	return e.View, true
}

// Set inserts or replaces the cached view for txid. If expiry is zero,
// it defaults to now + cfg.Timeout. Insertion at capacity evicts the
// FIFO head first.
func (c *Cache) Set(txid string, view *core.TransactionView, expiry time.Time) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if expiry.IsZero() {
		expiry = time.Now().Add(c.cfg.Timeout)
	}

	if _, exists := c.entries[txid]; !exists {
		if len(c.entries) >= c.cfg.MaxSize {
			if err := c.removeOldestLocked(); err != nil {
				return err
			}
		}
		c.index = append(c.index, txid)
	}
	c.entries[txid] = entry{View: view, Expiry: expiry}
	return c.persistIndexLocked()
}

// removeOldestLocked evicts the FIFO head of the index. Caller holds mu.
func (c *Cache) removeOldestLocked() error {
	for len(c.index) > 0 {
		oldest := c.index[0]
		c.index = c.index[1:]
		if _, ok := c.entries[oldest]; ok {
			delete(c.entries, oldest)
			return nil
		}
		// already evicted by the sweeper; keep popping.
	}
	return nil
}

// Clear empties the cache and its persisted index.
func (c *Cache) Clear() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]entry)
	c.index = nil
	return c.persistIndexLocked()
}

// Stop cancels the sweeper; it does not close the backing store. Get and
// Set keep working afterwards, but expired entries are no longer swept.
func (c *Cache) Stop() {
	c.stopOnce.Do(func() {
		close(c.stopCh)
	})
}

func (c *Cache) sweepLoop() {
	ticker := time.NewTicker(c.cfg.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-c.stopCh:
			return
		case <-ticker.C:
			c.sweepExpired()
		}
	}
}

func (c *Cache) sweepExpired() {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := time.Now()
	changed := false
	for txid, e := range c.entries {
		if now.After(e.Expiry) {
			delete(c.entries, txid)
			changed = true
		}
	}
	if !changed {
		return
	}
	kept := c.index[:0:0]
	for _, txid := range c.index {
		if _, ok := c.entries[txid]; ok {
			kept = append(kept, txid)
		}
	}
	c.index = kept
	_ = c.persistIndexLocked()
}

// Len reports the number of live entries, mostly useful for tests.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
