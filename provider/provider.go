// Package provider implements the wallet core's Provider (C3): a typed
// facade over the raw Electrum RPC transport that exposes the
// higher-level calls the Sync Manager and Transaction Builder actually
// need, and assembles rich TransactionView objects by resolving every
// input back to the prior output it spends.
package provider

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/arcwallet/electrumwallet/core"
	"github.com/arcwallet/electrumwallet/electrum"
	"github.com/arcwallet/electrumwallet/electrum/cache"
	"github.com/arcwallet/electrumwallet/walleterr"
	"github.com/arcwallet/electrumwallet/walletlog"
)

const (
	methodHeadersSubscribe   = "blockchain.headers.subscribe"
	methodScriptHashSub      = "blockchain.scripthash.subscribe"
	methodGetHistory         = "blockchain.scripthash.get_history"
	methodGetMempool         = "blockchain.scripthash.get_mempool"
	methodGetBalance         = "blockchain.scripthash.get_balance"
	methodTransactionGet     = "blockchain.transaction.get"
	methodTransactionBroad   = "blockchain.transaction.broadcast"
)

// maxParallelFetches bounds how many blockchain.transaction.get calls a
// single getAddressHistory/getMempoolTx fan-out issues at once, so a long history does not open hundreds of concurrent RPCs over
// one TCP connection.
const maxParallelFetches = 8

// NewBlockEvent is emitted for the initial subscription reply and for
// every later headers push; a resubscribe after reconnect emits the
// current height again.
type NewBlockEvent struct {
	Height int64
}

// NewTxEvent is emitted when a subscribed script hash's status changes.
type NewTxEvent struct {
	ScriptHash string
	Status     string
}

// HistoryOptions controls getTransaction's cache behaviour when called
// from getAddressHistory/getMempoolTx.
type HistoryOptions struct {
	Cache bool
}

// GetTxOptions controls a single getTransaction call's cache behaviour.
type GetTxOptions struct {
	// Cache set to true lets a cached view be returned. The zero value
	// (false) forces a fetch even if a cached view is present.
	Cache bool
}

// ScriptHashEncoder resolves an Electrum script hash and encoded address
// for a UTXO's scriptPubKey when an output's address cannot be taken
// directly from the server's verbose decode (older servers omit it).
// Left as a minimal seam rather than importing an address-encoding
// dependency here: the network-specific address encoder is one of
// spec.md §1's external collaborators.
type ScriptHashEncoder interface {
	AddressForScript(scriptHex string) (string, error)
}

// Provider is the typed Electrum facade.
type Provider struct {
	transport *electrum.Transport
	cache     *cache.Cache
	encoder   ScriptHashEncoder
	logger    walletlog.Logger

	tipHeight atomic.Int64

	newBlocks chan NewBlockEvent
	newTxs    chan NewTxEvent

	subMu      sync.Mutex
	subscribed map[string]bool
}

// New constructs a Provider over an already-constructed Transport and
// Request Cache. encoder may be nil if the verbose transaction.get
// response always carries decoded addresses (true for modern Electrum
// servers); it is consulted only as a fallback.
func New(transport *electrum.Transport, c *cache.Cache, encoder ScriptHashEncoder, logger walletlog.Logger) *Provider {
	if logger == nil {
		logger = walletlog.Nop{}
	}
	p := &Provider{
		transport:  transport,
		cache:      c,
		encoder:    encoder,
		logger:     logger,
		newBlocks:  make(chan NewBlockEvent, 32),
		newTxs:     make(chan NewTxEvent, 256),
		subscribed: make(map[string]bool),
	}
	transport.OnReconnect(p.resubscribeAll)
	return p
}

// TipHeight returns the most recently observed chain tip height, or 0
// if SubscribeToBlocks has not yet completed its initial handshake.
func (p *Provider) TipHeight() int64 { return p.tipHeight.Load() }

// NewBlocks returns the channel new-block events are delivered on.
func (p *Provider) NewBlocks() <-chan NewBlockEvent { return p.newBlocks }

// NewTxEvents returns the channel new-tx events are delivered on, across
// every subscribed script hash.
func (p *Provider) NewTxEvents() <-chan NewTxEvent { return p.newTxs }

// SubscribeToBlocks subscribes to blockchain.headers.subscribe, seeds
// TipHeight from the initial reply, and emits new-block for every later
// push, per spec.md §4.3.
func (p *Provider) SubscribeToBlocks(ctx context.Context) error {
	initial, pushes, err := p.transport.Subscribe(ctx, methodHeadersSubscribe, nil, methodHeadersSubscribe)
	if err != nil {
		return err
	}
	var hdr headerNotification
	if err := json.Unmarshal(initial, &hdr); err != nil {
		return walleterr.Wrap(walleterr.Decode, "decode headers.subscribe reply", err)
	}
	p.tipHeight.Store(hdr.Height)
	p.newBlocks <- NewBlockEvent{Height: hdr.Height}

	go p.pumpHeaderPushes(pushes)
	return nil
}

func (p *Provider) pumpHeaderPushes(pushes <-chan json.RawMessage) {
	for raw := range pushes {
		// blockchain.headers.subscribe notifications wrap the header
		// object(s) in an array: [{height,hex}].
		var arr []headerNotification
		if err := json.Unmarshal(raw, &arr); err != nil || len(arr) == 0 {
			p.logger.Warnf("provider: malformed headers push: %v", err)
			continue
		}
		hdr := arr[len(arr)-1]
		p.tipHeight.Store(hdr.Height)
		p.newBlocks <- NewBlockEvent{Height: hdr.Height}
	}
}

// SubscribeToAddress registers a subscription for scriptHash; later
// pushes on blockchain.scripthash.subscribe emit new-tx with the script
// hash and its status, per spec.md §4.3. A script hash is subscribed at
// most once (spec.md §3 invariant); subsequent calls for an already
// subscribed hash are no-ops.
func (p *Provider) SubscribeToAddress(ctx context.Context, sh core.ScriptHash) error {
	key := sh.String()
	p.subMu.Lock()
	if p.subscribed[key] {
		p.subMu.Unlock()
		return nil
	}
	p.subscribed[key] = true
	p.subMu.Unlock()

	_, pushes, err := p.transport.Subscribe(ctx, methodScriptHashSub, []interface{}{key}, methodScriptHashSub)
	if err != nil {
		return err
	}
	go p.pumpScriptHashPushes(pushes)
	return nil
}

func (p *Provider) pumpScriptHashPushes(pushes <-chan json.RawMessage) {
	for raw := range pushes {
		var pair []string
		if err := json.Unmarshal(raw, &pair); err != nil || len(pair) != 2 {
			p.logger.Warnf("provider: malformed scripthash push: %v", err)
			continue
		}
		p.newTxs <- NewTxEvent{ScriptHash: pair[0], Status: pair[1]}
	}
}

// resubscribeAll re-issues every active script hash subscription after
// a reconnect, per spec.md §4.1's reconnection policy.
func (p *Provider) resubscribeAll(ctx context.Context) error {
	if err := p.SubscribeToBlocks(ctx); err != nil {
		return err
	}
	p.subMu.Lock()
	hashes := make([]string, 0, len(p.subscribed))
	for h := range p.subscribed {
		hashes = append(hashes, h)
	}
	p.subMu.Unlock()

	for _, h := range hashes {
		_, pushes, err := p.transport.Subscribe(ctx, methodScriptHashSub, []interface{}{h}, methodScriptHashSub)
		if err != nil {
			return err
		}
		go p.pumpScriptHashPushes(pushes)
	}
	return nil
}

// BroadcastTransaction forwards hexString to blockchain.transaction.broadcast.
func (p *Provider) BroadcastTransaction(ctx context.Context, hexString string) (string, error) {
	result, err := p.transport.Call(ctx, methodTransactionBroad, []interface{}{hexString})
	if err != nil {
		return "", err
	}
	var txid string
	if err := json.Unmarshal(result, &txid); err != nil {
		return "", walleterr.Wrap(walleterr.Decode, "decode broadcast reply", err)
	}
	return txid, nil
}

// ScriptHashBalance mirrors blockchain.scripthash.get_balance's result.
type ScriptHashBalance struct {
	Confirmed   core.Amount `json:"confirmed"`
	Unconfirmed core.Amount `json:"unconfirmed"`
}

// GetScriptHashBalance exercises blockchain.scripthash.get_balance, one
// of the methods spec.md §6 lists among those consumed.
func (p *Provider) GetScriptHashBalance(ctx context.Context, sh core.ScriptHash) (ScriptHashBalance, error) {
	result, err := p.transport.Call(ctx, methodGetBalance, []interface{}{sh.String()})
	if err != nil {
		return ScriptHashBalance{}, err
	}
	var bal ScriptHashBalance
	if err := json.Unmarshal(result, &bal); err != nil {
		return ScriptHashBalance{}, walleterr.Wrap(walleterr.Decode, "decode get_balance reply", err)
	}
	return bal, nil
}

// getAddressHistory/getMempoolTx share this fan-out: fetch the history
// list, then resolve every entry to a full TransactionView in parallel,
// bounded by maxParallelFetches via errgroup.
func (p *Provider) fetchHistory(ctx context.Context, method string, sh core.ScriptHash, opts HistoryOptions) ([]*core.TransactionView, error) {
	result, err := p.transport.Call(ctx, method, []interface{}{sh.String()})
	if err != nil {
		return nil, err
	}
	var entries []historyEntry
	if err := json.Unmarshal(result, &entries); err != nil {
		return nil, walleterr.Wrap(walleterr.Decode, "decode history reply", err)
	}

	views := make([]*core.TransactionView, len(entries))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxParallelFetches)
	for i, e := range entries {
		i, e := i, e
		g.Go(func() error {
			view, err := p.GetTransaction(gctx, e.TxHash, GetTxOptions{Cache: opts.Cache})
			if err != nil {
				return err
			}
			views[i] = view
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return views, nil
}

// GetAddressHistory fetches scriptHash's confirmed history, then fetches
// each referenced transaction in parallel, per spec.md §4.3.
func (p *Provider) GetAddressHistory(ctx context.Context, sh core.ScriptHash, opts HistoryOptions) ([]*core.TransactionView, error) {
	return p.fetchHistory(ctx, methodGetHistory, sh, opts)
}

// GetMempoolTx is GetAddressHistory's mempool counterpart.
func (p *Provider) GetMempoolTx(ctx context.Context, sh core.ScriptHash, opts HistoryOptions) ([]*core.TransactionView, error) {
	return p.fetchHistory(ctx, methodGetMempool, sh, opts)
}
