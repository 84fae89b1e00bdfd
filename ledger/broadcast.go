package ledger

import (
	"encoding/json"

	"github.com/arcwallet/electrumwallet/walleterr"
)

// BroadcastRecord is what the `broadcasted` namespace stores: enough to
// show an outgoing transaction in history before the network has
// confirmed (or even relayed) it back to us.
type BroadcastRecord struct {
	TxID string `json:"txid"`
	Hex  string `json:"hex"`
	// BroadcastAt is caller-supplied (e.g. Unix seconds) rather than
	// taken from time.Now here, keeping the ledger itself free of a
	// wall-clock dependency.
	BroadcastAt int64 `json:"broadcast_at"`
}

// RecordBroadcast persists rec under its txid. The Transaction Builder
// calls this after a successful Provider.BroadcastTransaction, once it
// has released its UTXO locks with UnlockUTXO(sel, true).
func (l *Ledger) RecordBroadcast(rec BroadcastRecord) error {
	payload, err := json.Marshal(rec)
	if err != nil {
		return walleterr.Wrap(walleterr.StoreCorrupt, "encode broadcast record", err)
	}
	if err := l.broadcastStore.Put(rec.TxID, payload); err != nil {
		return walleterr.Wrap(walleterr.StoreCorrupt, "put broadcast record", err)
	}
	return nil
}

// GetBroadcast returns the persisted record for txid, if any.
func (l *Ledger) GetBroadcast(txid string) (BroadcastRecord, bool, error) {
	raw, found, err := l.broadcastStore.Get(txid)
	if err != nil {
		return BroadcastRecord{}, false, walleterr.Wrap(walleterr.StoreCorrupt, "get broadcast record", err)
	}
	if !found {
		return BroadcastRecord{}, false, nil
	}
	var rec BroadcastRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return BroadcastRecord{}, false, walleterr.Wrap(walleterr.StoreCorrupt, "decode broadcast record", err)
	}
	return rec, true, nil
}
