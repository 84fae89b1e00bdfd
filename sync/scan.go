package sync

import (
	"context"
	"encoding/json"

	"github.com/arcwallet/electrumwallet/core"
	"github.com/arcwallet/electrumwallet/hdpath"
	"github.com/arcwallet/electrumwallet/walleterr"
)

// SyncOptions controls one SyncAccount run.
type SyncOptions struct {
	// Reset discards both chains' persisted SyncState before scanning,
	// restarting the gap-limit scan from index 0 on both.
	Reset bool
}

// SyncAccount runs a gap-limit scan on chain (spec.md §4.5): for every
// address the scan finds used, it is watched and its history+mempool
// transactions are applied to the ledger, deduplicated by txid. On
// completion the chain's SyncState is persisted so a later call resumes
// from the live edge of the gap rather than rescanning from index 0.
func (m *Manager) SyncAccount(ctx context.Context, chain core.Chain, opts SyncOptions) error {
	if !m.isSyncing.CompareAndSwap(false, true) {
		return walleterr.New(walleterr.Internal, "sync already in progress")
	}
	defer m.isSyncing.Store(false)

	if opts.Reset {
		if err := m.resetSyncStates(); err != nil {
			return err
		}
	}

	state, err := m.loadSyncState(chain)
	if err != nil {
		return err
	}

	start := core.Path{Purpose: m.cfg.Purpose, Coin: m.cfg.Coin, Account: m.cfg.Account, Change: chain, Index: 0}
	if state.GapEnd != (core.Path{}) {
		start = state.GapEnd
	}

	checker := newHistoryChecker(m.provider)
	scanner := hdpath.NewScanner(m.km, checker)
	scanner.GapLimit = m.cfg.GapLimit

	scanCtx, cancel := m.withStop(ctx)
	defer cancel()

	discovered, newState, scanErr := scanner.Scan(scanCtx, start)
	if scanErr != nil && !m.stopRequested() {
		return scanErr
	}

	for _, d := range discovered {
		if m.stopRequested() {
			break
		}
		if !d.Used {
			continue
		}
		if err := m.watchAddress(ctx, d.ScriptHash, d.Address, d.Path, chain); err != nil {
			return err
		}
		for _, tx := range checker.transactionsFor(d.ScriptHash) {
			if err := m.ApplyTransaction(tx); err != nil {
				return err
			}
		}
	}

	newState.Path = core.Path{Purpose: m.cfg.Purpose, Coin: m.cfg.Coin, Account: m.cfg.Account, Change: chain}
	return m.saveSyncState(chain, newState)
}

// WatchAddress persists sh/addr in the watched list for chain and
// subscribes to it through the Provider, per spec.md §4.5.
func (m *Manager) watchAddress(ctx context.Context, sh core.ScriptHash, addr string, path core.Path, _ core.Chain) error {
	m.watchedMu.Lock()
	alreadyWatched := m.watched[addr]
	m.watched[addr] = true
	m.watchedMu.Unlock()

	if err := m.ledger.RegisterAddress(addr, sh, path); err != nil {
		return err
	}
	if alreadyWatched {
		return nil
	}
	return m.provider.SubscribeToAddress(ctx, sh)
}

func (m *Manager) stateKey(chain core.Chain) string {
	if chain == core.ChainInternal {
		return keyInternalState
	}
	return keyExternalState
}

func (m *Manager) loadSyncState(chain core.Chain) (core.SyncState, error) {
	raw, found, err := m.syncStateStore.Get(m.stateKey(chain))
	if err != nil {
		return core.SyncState{}, walleterr.Wrap(walleterr.StoreCorrupt, "get sync state", err)
	}
	if !found {
		return core.SyncState{}, nil
	}
	var state core.SyncState
	if err := json.Unmarshal(raw, &state); err != nil {
		return core.SyncState{}, walleterr.Wrap(walleterr.StoreCorrupt, "decode sync state", err)
	}
	return state, nil
}

func (m *Manager) saveSyncState(chain core.Chain, state core.SyncState) error {
	raw, err := json.Marshal(state)
	if err != nil {
		return walleterr.Wrap(walleterr.StoreCorrupt, "encode sync state", err)
	}
	if err := m.syncStateStore.Put(m.stateKey(chain), raw); err != nil {
		return walleterr.Wrap(walleterr.StoreCorrupt, "put sync state", err)
	}
	return nil
}

func (m *Manager) resetSyncStates() error {
	if err := m.syncStateStore.Delete(keyExternalState); err != nil {
		return walleterr.Wrap(walleterr.StoreCorrupt, "reset external sync state", err)
	}
	if err := m.syncStateStore.Delete(keyInternalState); err != nil {
		return walleterr.Wrap(walleterr.StoreCorrupt, "reset internal sync state", err)
	}
	return nil
}
