package sync

import (
	"context"

	"github.com/arcwallet/electrumwallet/core"
	"github.com/arcwallet/electrumwallet/hdpath"
	"github.com/arcwallet/electrumwallet/walleterr"
)

// NextChangeAddress derives the next unused address on the internal
// chain, registers and watches it the same way syncAccount would once
// it observed history there, and advances the persisted internal
// SyncState past it so a later syncAccount run does not re-derive it
// as part of its own gap scan. The Transaction Builder calls this once
// per send to get a change output that the ledger will credit as soon
// as the broadcast transaction is applied.
func (m *Manager) NextChangeAddress(ctx context.Context) (core.Path, core.ScriptHash, string, error) {
	state, err := m.loadSyncState(core.ChainInternal)
	if err != nil {
		return core.Path{}, core.ScriptHash{}, "", err
	}

	path := core.Path{Purpose: m.cfg.Purpose, Coin: m.cfg.Coin, Account: m.cfg.Account, Change: core.ChainInternal, Index: 0}
	if state.GapEnd != (core.Path{}) {
		path = state.GapEnd
	}

	addrType := hdpath.GetAddressType(path)
	sh, addr, err := m.km.PathToScriptHash(path, addrType)
	if err != nil {
		return core.Path{}, core.ScriptHash{}, "", walleterr.Wrap(walleterr.Decode, "derive change address", err)
	}
	if err := m.watchAddress(ctx, sh, addr, path, core.ChainInternal); err != nil {
		return core.Path{}, core.ScriptHash{}, "", err
	}

	state.GapEnd = path.Bumped()
	state.Path = core.Path{Purpose: m.cfg.Purpose, Coin: m.cfg.Coin, Account: m.cfg.Account, Change: core.ChainInternal}
	if err := m.saveSyncState(core.ChainInternal, state); err != nil {
		return core.Path{}, core.ScriptHash{}, "", err
	}
	return path, sh, addr, nil
}
