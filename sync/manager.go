// Package sync implements the wallet core's Sync Manager (C5): it
// drives gap-limit scans over the HD Path Walker, subscribes to every
// address a scan discovers, applies the resulting transactions to the
// Address Ledger, and maintains the UTXO set the Transaction Builder
// draws from.
package sync

import (
	"context"
	"encoding/json"
	"sort"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/arcwallet/electrumwallet/core"
	"github.com/arcwallet/electrumwallet/hdpath"
	"github.com/arcwallet/electrumwallet/keymgr"
	"github.com/arcwallet/electrumwallet/kvstore"
	"github.com/arcwallet/electrumwallet/ledger"
	"github.com/arcwallet/electrumwallet/provider"
	"github.com/arcwallet/electrumwallet/walleterr"
	"github.com/arcwallet/electrumwallet/walletlog"
)

const (
	storeSyncState = "sync-state"
	storeUTXOSet   = "utxo-set"

	keyExternalState = "external"
	keyInternalState = "internal"
)

// Config parameterizes one account's Sync Manager.
type Config struct {
	Purpose, Coin, Account uint32
	// MinBlockConfirm is M in spec.md §4.5's classification rule: the
	// confirmation count at or above which a transaction is considered
	// confirmed rather than pending. Defaults to 6.
	MinBlockConfirm int
	// GapLimit overrides hdpath.DefaultGapLimit when non-zero.
	GapLimit int
	// AllowMempoolSelfSpend lets utxoForAmount select unconfirmed UTXOs
	// of our own making (change outputs from our own recent sends);
	// spec.md §4.5 step 1 names this an optional policy choice.
	AllowMempoolSelfSpend bool
}

func (c Config) withDefaults() Config {
	if c.MinBlockConfirm <= 0 {
		c.MinBlockConfirm = 6
	}
	if c.GapLimit <= 0 {
		c.GapLimit = hdpath.DefaultGapLimit
	}
	return c
}

// Manager is the Sync Manager: it owns the Address Ledger, the watched
// script-hash lists, and the UTXO set, per spec.md §4's ownership rule.
type Manager struct {
	cfg      Config
	provider *provider.Provider
	km       keymgr.KeyManager
	ledger   *ledger.Ledger
	logger   walletlog.Logger

	syncStateStore kvstore.Store
	utxoStore      kvstore.Store

	currentBlock atomic.Int64
	isSyncing    atomic.Bool

	stopMu sync.Mutex
	stopCh chan struct{}

	watchedMu sync.Mutex
	watched   map[string]bool // address -> true, every address we have ever derived and watched

	utxoMu sync.Mutex
	utxos  map[string]*core.UTXO // "txid:vout" -> utxo
}

// New constructs a Manager. opener supplies the sync-state and UTXO-set
// namespaces; ledgr is the Address Ledger this Manager writes into.
func New(cfg Config, p *provider.Provider, km keymgr.KeyManager, ledgr *ledger.Ledger, opener kvstore.Opener, logger walletlog.Logger) (*Manager, error) {
	if logger == nil {
		logger = walletlog.Nop{}
	}
	syncStateStore, err := opener.Open(storeSyncState)
	if err != nil {
		return nil, walleterr.Wrap(walleterr.StoreCorrupt, "open sync-state store", err)
	}
	if err := syncStateStore.Init(); err != nil {
		return nil, walleterr.Wrap(walleterr.StoreCorrupt, "init sync-state store", err)
	}
	utxoStore, err := opener.Open(storeUTXOSet)
	if err != nil {
		return nil, walleterr.Wrap(walleterr.StoreCorrupt, "open utxo-set store", err)
	}
	if err := utxoStore.Init(); err != nil {
		return nil, walleterr.Wrap(walleterr.StoreCorrupt, "init utxo-set store", err)
	}

	m := &Manager{
		cfg:            cfg.withDefaults(),
		provider:       p,
		km:             km,
		ledger:         ledgr,
		logger:         logger,
		syncStateStore: syncStateStore,
		utxoStore:      utxoStore,
		watched:        make(map[string]bool),
		utxos:          make(map[string]*core.UTXO),
		stopCh:         make(chan struct{}),
	}
	return m, nil
}

// Init loads the persisted UTXO set from the store, per spec.md §4.5's
// init(). Persisted SyncState records (external/internal) are loaded
// lazily by SyncAccount itself, since each chain's state is only needed
// once that chain is actually scanned; the watched-address set is
// rebuilt incrementally as each scan re-derives and re-watches addresses
// up to its persisted gap.
func (m *Manager) Init() error {
	return m.loadUTXOSet()
}

func (m *Manager) loadUTXOSet() error {
	m.utxoMu.Lock()
	defer m.utxoMu.Unlock()
	return m.utxoStore.Entries(func(key string, value []byte) error {
		var u core.UTXO
		if err := json.Unmarshal(value, &u); err != nil {
			return err
		}
		m.utxos[key] = &u
		return nil
	}, kvstore.Range{})
}

// owns reports whether address belongs to this wallet: true once it has
// been registered with the Ledger via watchAddress.
func (m *Manager) owns(address string) bool {
	m.watchedMu.Lock()
	defer m.watchedMu.Unlock()
	return m.watched[address]
}

// StopSync requests that any in-progress or future scan stop at its next
// boundary (spec.md §5's cooperative cancellation). In-flight RPCs are
// not cancelled.
func (m *Manager) StopSync() {
	m.stopMu.Lock()
	defer m.stopMu.Unlock()
	select {
	case <-m.stopCh:
		// already stopped
	default:
		close(m.stopCh)
	}
}

// ResumeSync clears a prior StopSync request so the next syncAccount
// call runs to completion again.
func (m *Manager) ResumeSync() {
	m.stopMu.Lock()
	defer m.stopMu.Unlock()
	select {
	case <-m.stopCh:
		m.stopCh = make(chan struct{})
	default:
	}
}

func (m *Manager) stopRequested() bool {
	select {
	case <-m.stopCh:
		return true
	default:
		return false
	}
}

// withStop derives a context that is also cancelled by StopSync, so a
// blocking RPC inside a scan observes the stop request at its next
// suspension point rather than only between our own loop iterations.
func (m *Manager) withStop(parent context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)
	stopCh := m.stopCh
	go func() {
		select {
		case <-stopCh:
			cancel()
		case <-ctx.Done():
		}
	}()
	return ctx, cancel
}

func utxoKey(txid string, vout uint32) string {
	return txid + ":" + strconv.FormatUint(uint64(vout), 10)
}

// classifyBucket implements spec.md §4.5's confirmation classification.
func classifyBucket(height, tip int64, minBlockConfirm int) core.Bucket {
	if height == 0 {
		return core.BucketMempool
	}
	confirmations := tip - height + 1
	if confirmations > 0 && confirmations < int64(minBlockConfirm) {
		return core.BucketPending
	}
	return core.BucketConfirmed
}

// sortUTXOsForSelection orders candidates descending by value, then
// ascending by height (older/lower height first), the deterministic
// order spec.md §4.5 step 2 names as an example policy.
func sortUTXOsForSelection(candidates []*core.UTXO) {
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].Value != candidates[j].Value {
			return candidates[i].Value > candidates[j].Value
		}
		return candidates[i].Height < candidates[j].Height
	})
}
