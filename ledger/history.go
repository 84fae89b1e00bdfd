package ledger

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/arcwallet/electrumwallet/core"
	"github.com/arcwallet/electrumwallet/kvstore"
	"github.com/arcwallet/electrumwallet/walleterr"
)

// historyIndexKey renders the lexicographically-sortable `i:<height>:<txid>`
// key spec.md §4.6 names. Height is zero-padded so string comparison
// agrees with numeric ordering up to 20 digits, comfortably beyond any
// real block height.
func historyIndexKey(height int64, txid string) string {
	return fmt.Sprintf("i:%020d:%s", height, txid)
}

func reverseKey(txid string) string {
	return "tx:" + txid
}

// storeTx indexes tx under its current height, deleting any stale
// height-1 or height-0 key left over from before this txid moved
// buckets (mempool -> pending/confirmed, or a reorg bump). This is how a
// transaction "moves" in the index instead of appearing twice.
func (l *Ledger) storeTx(tx *core.TransactionView, _ core.Bucket) error {
	if prevRaw, found, err := l.historyStore.Get(reverseKey(tx.TxID)); err == nil && found {
		if prevHeight, convErr := strconv.ParseInt(string(prevRaw), 10, 64); convErr == nil && prevHeight != tx.Height {
			if err := l.historyStore.Delete(historyIndexKey(prevHeight, tx.TxID)); err != nil {
				return walleterr.Wrap(walleterr.StoreCorrupt, "delete stale history key", err)
			}
		}
	}
	for _, h := range [2]int64{0, tx.Height - 1} {
		if h != tx.Height {
			_ = l.historyStore.Delete(historyIndexKey(h, tx.TxID))
		}
	}

	payload, err := json.Marshal(tx)
	if err != nil {
		return walleterr.Wrap(walleterr.StoreCorrupt, "encode transaction view", err)
	}
	if err := l.historyStore.Put(historyIndexKey(tx.Height, tx.TxID), payload); err != nil {
		return walleterr.Wrap(walleterr.StoreCorrupt, "put history index", err)
	}
	if err := l.historyStore.Put(reverseKey(tx.TxID), []byte(strconv.FormatInt(tx.Height, 10))); err != nil {
		return walleterr.Wrap(walleterr.StoreCorrupt, "put reverse height lookup", err)
	}
	return nil
}

// HistoryOptions controls GetTransactions paging.
type HistoryOptions struct {
	Limit   int
	Offset  int
	Reverse bool
}

// GetTransactions range-scans the height-ordered index, skipping Offset
// entries and yielding up to Limit, in forward (oldest-first) or reverse
// (newest-first) block order.
func (l *Ledger) GetTransactions(opts HistoryOptions) ([]*core.TransactionView, error) {
	var views []*core.TransactionView
	skipped := 0
	err := l.historyStore.Entries(func(key string, value []byte) error {
		if len(key) < 2 || key[:2] != "i:" {
			return nil
		}
		if skipped < opts.Offset {
			skipped++
			return nil
		}
		var v core.TransactionView
		if err := json.Unmarshal(value, &v); err != nil {
			return err
		}
		views = append(views, &v)
		return nil
	}, kvstore.Range{Gt: "i:", Lt: "i;", Reverse: opts.Reverse, Limit: 0})
	if err != nil {
		return nil, walleterr.Wrap(walleterr.StoreCorrupt, "scan tx-history", err)
	}
	if opts.Limit > 0 && len(views) > opts.Limit {
		views = views[:opts.Limit]
	}
	return views, nil
}

// GetTxHeight returns every transaction view indexed at exactly height.
func (l *Ledger) GetTxHeight(height int64) ([]*core.TransactionView, error) {
	lo := fmt.Sprintf("i:%020d:", height)
	hi := fmt.Sprintf("i:%020d:", height+1)
	var views []*core.TransactionView
	err := l.historyStore.Entries(func(_ string, value []byte) error {
		var v core.TransactionView
		if err := json.Unmarshal(value, &v); err != nil {
			return err
		}
		views = append(views, &v)
		return nil
	}, kvstore.Range{Gt: lo, Lt: hi})
	if err != nil {
		return nil, walleterr.Wrap(walleterr.StoreCorrupt, "scan tx-history at height", err)
	}
	return views, nil
}

// GetTxHeightByID is the reverse lookup: the height currently indexed
// for txid, or found=false if the ledger has never stored it.
func (l *Ledger) GetTxHeightByID(txid string) (height int64, found bool, err error) {
	raw, found, err := l.historyStore.Get(reverseKey(txid))
	if err != nil {
		return 0, false, walleterr.Wrap(walleterr.StoreCorrupt, "get reverse height lookup", err)
	}
	if !found {
		return 0, false, nil
	}
	h, convErr := strconv.ParseInt(string(raw), 10, 64)
	if convErr != nil {
		return 0, false, walleterr.Wrap(walleterr.StoreCorrupt, "decode reverse height lookup", convErr)
	}
	return h, true, nil
}
