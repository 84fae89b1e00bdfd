package sync

import (
	"encoding/json"

	"github.com/arcwallet/electrumwallet/core"
	"github.com/arcwallet/electrumwallet/walleterr"
)

// AmountRequest names a target amount for coin selection. Unit is
// informational ("sat" or "btc"); Amount is always interpreted as
// satoshis regardless, since core.Amount itself is satoshi-denominated.
type AmountRequest struct {
	Amount core.Amount
	Unit   string
}

// Selection is what utxoForAmount returns: the locked UTXOs chosen and
// their total value.
type Selection struct {
	UTXOs []core.UTXO
	Total core.Amount
}

// UTXOForAmount implements spec.md §4.5's coin selection: accumulate
// unlocked, confirmed (optionally mempool self-spend) candidates in
// descending-value/ascending-age order until the total meets target,
// then lock the chosen set so a concurrent build cannot also spend them.
// Fails with Insufficient if the candidate set is exhausted first.
func (m *Manager) UTXOForAmount(req AmountRequest) (Selection, error) {
	m.utxoMu.Lock()
	defer m.utxoMu.Unlock()

	tip := m.currentBlock.Load()
	candidates := make([]*core.UTXO, 0, len(m.utxos))
	for _, u := range m.utxos {
		if u.Locked {
			continue
		}
		bucket := classifyBucket(u.Height, tip, m.cfg.MinBlockConfirm)
		if bucket == core.BucketConfirmed || (m.cfg.AllowMempoolSelfSpend && bucket == core.BucketMempool) {
			candidates = append(candidates, u)
		}
	}
	sortUTXOsForSelection(candidates)

	var total core.Amount
	var selected []*core.UTXO
	for _, u := range candidates {
		selected = append(selected, u)
		total = total.Add(u.Value)
		if total >= req.Amount {
			break
		}
	}
	if total < req.Amount {
		return Selection{}, walleterr.New(walleterr.Insufficient, "insufficient confirmed funds for requested amount")
	}

	result := make([]core.UTXO, len(selected))
	for i, u := range selected {
		u.Locked = true
		result[i] = *u
		raw, err := json.Marshal(u)
		if err != nil {
			return Selection{}, walleterr.Wrap(walleterr.StoreCorrupt, "encode locked utxo", err)
		}
		if err := m.utxoStore.Put(utxoKey(u.TxID, u.Vout), raw); err != nil {
			return Selection{}, walleterr.Wrap(walleterr.StoreCorrupt, "persist locked utxo", err)
		}
	}
	return Selection{UTXOs: result, Total: total}, nil
}

// UnlockUTXO releases the locks held by a Selection previously returned
// from UTXOForAmount. success = true means the spend completed (the
// build broadcast, or was committed another way): the UTXOs are removed
// from the available set entirely, since they are now spent. success =
// false returns them to the unlocked, available pool.
func (m *Manager) UnlockUTXO(sel Selection, success bool) error {
	m.utxoMu.Lock()
	defer m.utxoMu.Unlock()

	for _, spent := range sel.UTXOs {
		key := utxoKey(spent.TxID, spent.Vout)
		if success {
			delete(m.utxos, key)
			if err := m.utxoStore.Delete(key); err != nil {
				return walleterr.Wrap(walleterr.StoreCorrupt, "delete spent utxo", err)
			}
			continue
		}
		u, ok := m.utxos[key]
		if !ok {
			continue
		}
		u.Locked = false
		raw, err := json.Marshal(u)
		if err != nil {
			return walleterr.Wrap(walleterr.StoreCorrupt, "encode unlocked utxo", err)
		}
		if err := m.utxoStore.Put(key, raw); err != nil {
			return walleterr.Wrap(walleterr.StoreCorrupt, "persist unlocked utxo", err)
		}
	}
	return nil
}
