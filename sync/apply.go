package sync

import (
	"encoding/json"

	"github.com/arcwallet/electrumwallet/core"
	"github.com/arcwallet/electrumwallet/ledger"
	"github.com/arcwallet/electrumwallet/walleterr"
)

// ApplyTransaction classifies tx's confirmation bucket against the
// current tip and applies it to the ledger and the UTXO set, per
// spec.md §4.5. Idempotent: applying the same tx twice at the same
// bucket leaves ledger and UTXO state unchanged.
func (m *Manager) ApplyTransaction(tx *core.TransactionView) error {
	bucket := classifyBucket(tx.Height, m.currentBlock.Load(), m.cfg.MinBlockConfirm)
	if err := m.ledger.ApplyTransaction(tx, bucket, m.owns); err != nil {
		return err
	}
	return m.updateUTXOSet(tx)
}

// updateUTXOSet removes UTXOs spent by tx's owned inputs and adds UTXOs
// created by tx's owned outputs. A locked UTXO already mid-spend is left
// untouched if the same output reappears (e.g. a resync replaying the
// same tx).
func (m *Manager) updateUTXOSet(tx *core.TransactionView) error {
	m.utxoMu.Lock()
	defer m.utxoMu.Unlock()

	for _, in := range tx.Inputs {
		if in.Unresolved || in.Coinbase || !m.owns(in.Address) {
			continue
		}
		key := utxoKey(in.PrevTxID, in.PrevVout)
		delete(m.utxos, key)
		if err := m.utxoStore.Delete(key); err != nil {
			return walleterr.Wrap(walleterr.StoreCorrupt, "delete spent utxo", err)
		}
	}

	for _, out := range tx.Outputs {
		if !out.StdOut || !m.owns(out.Address) {
			continue
		}
		key := utxoKey(tx.TxID, out.Vout)
		if existing, ok := m.utxos[key]; ok && existing.Locked {
			continue
		}
		path, _, err := m.ledger.AddressPath(out.Address)
		if err != nil {
			return err
		}
		utxo := &core.UTXO{
			TxID:       tx.TxID,
			Vout:       out.Vout,
			Value:      out.Value,
			WitnessHex: out.WitnessHex,
			Address:    out.Address,
			Path:       path,
			Height:     tx.Height,
		}
		m.utxos[key] = utxo
		raw, err := json.Marshal(utxo)
		if err != nil {
			return walleterr.Wrap(walleterr.StoreCorrupt, "encode utxo", err)
		}
		if err := m.utxoStore.Put(key, raw); err != nil {
			return walleterr.Wrap(walleterr.StoreCorrupt, "put utxo", err)
		}
	}
	return nil
}

// UpdateBlock sets the current tip height and reclassifies every known
// transaction's bucket against it, per spec.md §4.5. A reorg (height
// less than the current tip) is logged and refused: sync state is left
// untouched and ReorgDetected is returned, per spec.md's propagation
// rule. height equal to the current tip is a no-op.
func (m *Manager) UpdateBlock(height int64) error {
	current := m.currentBlock.Load()
	if height < current {
		m.logger.Warnf("sync: refusing block update, reorg detected (height=%d current=%d)", height, current)
		return walleterr.New(walleterr.ReorgDetected, "block height went backwards")
	}
	if height == current {
		return nil
	}
	m.currentBlock.Store(height)
	return m.reclassifyAll()
}

// reclassifyAll re-applies every transaction the ledger has stored at
// its bucket under the new tip height. This is safe to call repeatedly:
// a transaction whose bucket has not changed is re-applied as a no-op
// thanks to the Ledger's idempotent addIn/addOut/addFee.
func (m *Manager) reclassifyAll() error {
	txs, err := m.ledger.GetTransactions(ledger.HistoryOptions{})
	if err != nil {
		return err
	}
	for _, tx := range txs {
		if err := m.ApplyTransaction(tx); err != nil {
			return err
		}
	}
	return nil
}
