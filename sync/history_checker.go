package sync

import (
	"context"
	"sync"

	"github.com/arcwallet/electrumwallet/core"
	"github.com/arcwallet/electrumwallet/provider"
)

// historyChecker answers hdpath.Scanner's AddressChecker question by
// fetching both history and mempool transactions for a script hash, and
// retains the fetched views so syncAccount can apply them without a
// second round trip for addresses the scan finds used.
type historyChecker struct {
	provider *provider.Provider

	mu      sync.Mutex
	history map[string][]*core.TransactionView
	mempool map[string][]*core.TransactionView
}

func newHistoryChecker(p *provider.Provider) *historyChecker {
	return &historyChecker{
		provider: p,
		history:  make(map[string][]*core.TransactionView),
		mempool:  make(map[string][]*core.TransactionView),
	}
}

func (c *historyChecker) HasHistory(ctx context.Context, sh core.ScriptHash) (bool, error) {
	hist, err := c.provider.GetAddressHistory(ctx, sh, provider.HistoryOptions{Cache: true})
	if err != nil {
		return false, err
	}
	mem, err := c.provider.GetMempoolTx(ctx, sh, provider.HistoryOptions{Cache: true})
	if err != nil {
		return false, err
	}

	key := sh.String()
	c.mu.Lock()
	c.history[key] = hist
	c.mempool[key] = mem
	c.mu.Unlock()

	return len(hist) > 0 || len(mem) > 0, nil
}

// transactionsFor returns every view fetched for sh during HasHistory,
// history and mempool combined, deduplicated by txid.
func (c *historyChecker) transactionsFor(sh core.ScriptHash) []*core.TransactionView {
	key := sh.String()
	c.mu.Lock()
	defer c.mu.Unlock()

	seen := make(map[string]bool)
	var out []*core.TransactionView
	for _, views := range [2][]*core.TransactionView{c.history[key], c.mempool[key]} {
		for _, v := range views {
			if v == nil || seen[v.TxID] {
				continue
			}
			seen[v.TxID] = true
			out = append(out, v)
		}
	}
	return out
}
