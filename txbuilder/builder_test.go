package txbuilder

import (
	"bufio"
	"context"
	"encoding/json"
	"net"
	"strconv"
	stdsync "sync"
	"testing"
	"time"

	"github.com/arcwallet/electrumwallet/core"
	"github.com/arcwallet/electrumwallet/electrum"
	"github.com/arcwallet/electrumwallet/electrum/cache"
	"github.com/arcwallet/electrumwallet/keymgr"
	"github.com/arcwallet/electrumwallet/kvstore"
	"github.com/arcwallet/electrumwallet/ledger"
	"github.com/arcwallet/electrumwallet/provider"
	walletsync "github.com/arcwallet/electrumwallet/sync"
	"github.com/arcwallet/electrumwallet/walleterr"
)

// fakeElectrum is the same scripted server shape as sync's fakeElectrum,
// extended with a blockchain.transaction.broadcast handler so Send can
// be exercised end to end.
type fakeElectrum struct {
	mu        stdsync.Mutex
	history   map[string][]map[string]interface{}
	mempool   map[string][]map[string]interface{}
	txs       map[string]map[string]interface{}
	tip       int64
	broadcast string // fixed txid returned by blockchain.transaction.broadcast
	gotHex    string // last hex string submitted for broadcast
}

func newFakeElectrum(t *testing.T) (*fakeElectrum, string) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	f := &fakeElectrum{
		history:   make(map[string][]map[string]interface{}),
		mempool:   make(map[string][]map[string]interface{}),
		txs:       make(map[string]map[string]interface{}),
		broadcast: "broadcasttxid0000000000000000000000000000000000000000000000000000",
	}
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		reader := bufio.NewReader(conn)
		for {
			line, err := reader.ReadBytes('\n')
			if err != nil {
				return
			}
			var req struct {
				ID     int64           `json:"id"`
				Method string          `json:"method"`
				Params json.RawMessage `json:"params"`
			}
			if err := json.Unmarshal(line, &req); err != nil {
				continue
			}
			result, errMsg := f.respond(req.Method, req.Params)
			var resp map[string]interface{}
			if errMsg != "" {
				resp = map[string]interface{}{"id": req.ID, "error": map[string]interface{}{"code": -1, "message": errMsg}}
			} else {
				resp = map[string]interface{}{"id": req.ID, "result": result}
			}
			out, _ := json.Marshal(resp)
			out = append(out, '\n')
			conn.Write(out)
		}
	}()
	return f, ln.Addr().String()
}

func (f *fakeElectrum) respond(method string, params json.RawMessage) (interface{}, string) {
	var args []interface{}
	_ = json.Unmarshal(params, &args)

	f.mu.Lock()
	defer f.mu.Unlock()

	switch method {
	case "server.version":
		return []string{"fake", "1.4"}, ""
	case "server.ping":
		return nil, ""
	case "blockchain.headers.subscribe":
		return map[string]interface{}{"height": f.tip, "hex": ""}, ""
	case "blockchain.scripthash.subscribe":
		return nil, ""
	case "blockchain.scripthash.get_history":
		sh, _ := args[0].(string)
		return f.history[sh], ""
	case "blockchain.scripthash.get_mempool":
		sh, _ := args[0].(string)
		return f.mempool[sh], ""
	case "blockchain.transaction.get":
		txid, _ := args[0].(string)
		if tx, ok := f.txs[txid]; ok {
			return tx, ""
		}
		return nil, "unknown txid"
	case "blockchain.transaction.broadcast":
		hexStr, _ := args[0].(string)
		f.gotHex = hexStr
		return f.broadcast, ""
	}
	return nil, "no handler for " + method
}

func verboseTx(txid string, confirmations int64, vouts []map[string]interface{}) map[string]interface{} {
	return map[string]interface{}{
		"txid":          txid,
		"confirmations": confirmations,
		"vin":           []map[string]interface{}{},
		"vout":          vouts,
	}
}

func newTestKeyManager(t *testing.T) *keymgr.HDKeyManager {
	t.Helper()
	seed := make([]byte, 32)
	for i := range seed {
		seed[i] = byte(3*i + 7)
	}
	km, err := keymgr.NewHDKeyManager(seed)
	if err != nil {
		t.Fatalf("NewHDKeyManager: %v", err)
	}
	if err := km.SetNetwork(keymgr.NetworkRegtest); err != nil {
		t.Fatalf("SetNetwork: %v", err)
	}
	return km
}

type testRig struct {
	builder  *Builder
	manager  *walletsync.Manager
	provider *provider.Provider
	ledger   *ledger.Ledger
	km       *keymgr.HDKeyManager
	fake     *fakeElectrum
}

func newTestRig(t *testing.T, cfg walletsync.Config) *testRig {
	t.Helper()
	f, addr := newFakeElectrum(t)
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		t.Fatalf("split: %v", err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		t.Fatalf("parse port: %v", err)
	}

	tr := electrum.New(electrum.NewConfig(host, port), nil)
	t.Cleanup(func() { tr.Close() })
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := tr.Connect(ctx); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	cacheStore := kvstore.NewMemoryStore()
	_ = cacheStore.Init()
	c, err := cache.New(cache.NewConfig(), cacheStore)
	if err != nil {
		t.Fatalf("cache.New: %v", err)
	}
	t.Cleanup(c.Stop)

	p := provider.New(tr, c, nil, nil)

	lgr, err := ledger.New(kvstore.NewMemoryOpener())
	if err != nil {
		t.Fatalf("ledger.New: %v", err)
	}

	km := newTestKeyManager(t)

	m, err := walletsync.New(cfg, p, km, lgr, kvstore.NewMemoryOpener(), nil)
	if err != nil {
		t.Fatalf("sync.New: %v", err)
	}
	if err := m.Init(); err != nil {
		t.Fatalf("Init: %v", err)
	}

	b, err := New(p, m, lgr, km, keymgr.NetworkRegtest, Config{}, nil)
	if err != nil {
		t.Fatalf("txbuilder.New: %v", err)
	}

	return &testRig{builder: b, manager: m, provider: p, ledger: lgr, km: km, fake: f}
}

// fundedRig builds a rig whose external index-0 address has a single
// confirmed UTXO of amount sats, discovered via a normal gap-limit
// sync, matching how the Sync Manager would learn of it in practice.
func fundedRig(t *testing.T, amount core.Amount) *testRig {
	t.Helper()
	cfg := walletsync.Config{Purpose: 84, Coin: 1, Account: 0, GapLimit: 3, MinBlockConfirm: 1}
	rig := newTestRig(t, cfg)

	start := core.Path{Purpose: 84, Coin: 1, Account: 0, Change: core.ChainExternal, Index: 0}
	addrType := core.AddressTypeForPurpose(84)
	sh0, addr0, err := rig.km.PathToScriptHash(start, addrType)
	if err != nil {
		t.Fatalf("PathToScriptHash: %v", err)
	}

	rig.fake.tip = 100
	rig.fake.history[sh0.String()] = []map[string]interface{}{
		{"tx_hash": "tx1", "height": 99},
	}
	rig.fake.txs["tx1"] = verboseTx("tx1", 2, []map[string]interface{}{
		{"value": float64(amount) / float64(core.SatoshisPerCoin), "n": 0, "scriptPubKey": map[string]interface{}{"address": addr0}},
	})

	ctx := context.Background()
	if err := rig.provider.SubscribeToBlocks(ctx); err != nil {
		t.Fatalf("SubscribeToBlocks: %v", err)
	}
	if err := rig.manager.UpdateBlock(100); err != nil {
		t.Fatalf("UpdateBlock: %v", err)
	}
	if err := rig.manager.SyncAccount(ctx, core.ChainExternal, walletsync.SyncOptions{}); err != nil {
		t.Fatalf("SyncAccount: %v", err)
	}
	return rig
}

func TestSendBuildsSignsAndBroadcasts(t *testing.T) {
	rig := fundedRig(t, 100_000)

	recipientPath := core.Path{Purpose: 84, Coin: 1, Account: 0, Change: core.ChainExternal, Index: 5}
	_, recipient, err := rig.km.PathToScriptHash(recipientPath, core.AddressP2WPKH)
	if err != nil {
		t.Fatalf("derive recipient: %v", err)
	}

	result, err := rig.builder.Send(context.Background(), SendRequest{ToAddress: recipient, Amount: 20_000, FeeRate: 2})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if result.TxID != rig.fake.broadcast {
		t.Fatalf("TxID = %q, want %q", result.TxID, rig.fake.broadcast)
	}
	if result.Fee != core.Amount(2*result.VSize) {
		t.Fatalf("Fee = %d, want fee_rate*vSize = %d", result.Fee, 2*result.VSize)
	}
	wantChange := core.Amount(100_000) - 20_000 - result.Fee
	if result.Change != wantChange {
		t.Fatalf("Change = %d, want %d", result.Change, wantChange)
	}
	if rig.fake.gotHex != result.Hex {
		t.Fatalf("server did not receive the returned hex")
	}

	rec, found, err := rig.ledger.GetBroadcast(result.TxID)
	if err != nil {
		t.Fatalf("GetBroadcast: %v", err)
	}
	if !found || rec.Hex != result.Hex {
		t.Fatalf("broadcast record not persisted correctly: %+v found=%v", rec, found)
	}

	if _, err := rig.manager.UTXOForAmount(walletsync.AmountRequest{Amount: 100_000}); err == nil {
		t.Fatal("expected the spent utxo to no longer be selectable")
	}
}

func TestSendRejectsFeeRateOutOfBounds(t *testing.T) {
	rig := fundedRig(t, 100_000)
	_, recipient, _ := rig.km.PathToScriptHash(core.Path{Purpose: 84, Coin: 1, Account: 0, Change: core.ChainExternal, Index: 5}, core.AddressP2WPKH)

	_, err := rig.builder.Send(context.Background(), SendRequest{ToAddress: recipient, Amount: 10_000, FeeRate: 0})
	if !walleterr.Is(err, walleterr.InvalidFee) {
		t.Fatalf("FeeRate=0: got %v, want InvalidFee", err)
	}

	_, err = rig.builder.Send(context.Background(), SendRequest{ToAddress: recipient, Amount: 10_000, FeeRate: DefaultMaxFeeRate + 1})
	if !walleterr.Is(err, walleterr.InvalidFee) {
		t.Fatalf("FeeRate over max: got %v, want InvalidFee", err)
	}
}

func TestSendRejectsDustAmount(t *testing.T) {
	rig := fundedRig(t, 100_000)
	_, recipient, _ := rig.km.PathToScriptHash(core.Path{Purpose: 84, Coin: 1, Account: 0, Change: core.ChainExternal, Index: 5}, core.AddressP2WPKH)

	_, err := rig.builder.Send(context.Background(), SendRequest{ToAddress: recipient, Amount: DustLimit, FeeRate: 2})
	if !walleterr.Is(err, walleterr.DustOutput) {
		t.Fatalf("got %v, want DustOutput", err)
	}
}

func TestSendFailsInsufficientAndReleasesLocks(t *testing.T) {
	rig := fundedRig(t, 5_000)
	_, recipient, _ := rig.km.PathToScriptHash(core.Path{Purpose: 84, Coin: 1, Account: 0, Change: core.ChainExternal, Index: 5}, core.AddressP2WPKH)

	_, err := rig.builder.Send(context.Background(), SendRequest{ToAddress: recipient, Amount: 1_000_000, FeeRate: 2})
	if !walleterr.Is(err, walleterr.Insufficient) {
		t.Fatalf("got %v, want Insufficient", err)
	}

	// The single utxo must have been released back to the available
	// pool rather than left locked by the failed build.
	sel, err := rig.manager.UTXOForAmount(walletsync.AmountRequest{Amount: 4_000})
	if err != nil {
		t.Fatalf("utxo should still be available after a failed build: %v", err)
	}
	if sel.Total != 5_000 {
		t.Fatalf("selection total = %d, want 5000", sel.Total)
	}
}
