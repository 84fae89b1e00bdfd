package provider

import (
	"bufio"
	"context"
	"encoding/json"
	"net"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/arcwallet/electrumwallet/core"
	"github.com/arcwallet/electrumwallet/electrum"
	"github.com/arcwallet/electrumwallet/electrum/cache"
	"github.com/arcwallet/electrumwallet/kvstore"
)

// fakeElectrum is a minimal scripted Electrum server: method name ->
// a function computing the JSON result for that call's params.
type fakeElectrum struct {
	mu       sync.Mutex
	handlers map[string]func(params json.RawMessage) (interface{}, string)
	conn     net.Conn
}

func newFakeElectrum(t *testing.T) (*fakeElectrum, string) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	f := &fakeElectrum{handlers: make(map[string]func(json.RawMessage) (interface{}, string))}
	f.handle("server.version", func(json.RawMessage) (interface{}, string) { return []string{"electrs", "1.4"}, "" })
	f.handle("server.ping", func(json.RawMessage) (interface{}, string) { return nil, "" })

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		f.mu.Lock()
		f.conn = conn
		f.mu.Unlock()
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
			f.mu.Lock()
			h, ok := f.handlers[req.Method]
			f.mu.Unlock()
			var resp map[string]interface{}
			if !ok {
				resp = map[string]interface{}{"id": req.ID, "error": map[string]interface{}{"code": -1, "message": "no handler for " + req.Method}}
			} else {
				result, errMsg := h(req.Params)
				if errMsg != "" {
					resp = map[string]interface{}{"id": req.ID, "error": map[string]interface{}{"code": -1, "message": errMsg}}
				} else {
					resp = map[string]interface{}{"id": req.ID, "result": result}
				}
			}
			out, _ := json.Marshal(resp)
			out = append(out, '\n')
			conn.Write(out)
		}
	}()
	return f, ln.Addr().String()
}

func (f *fakeElectrum) handle(method string, fn func(json.RawMessage) (interface{}, string)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handlers[method] = fn
}

func (f *fakeElectrum) push(method string, params interface{}) {
	f.mu.Lock()
	conn := f.conn
	f.mu.Unlock()
	if conn == nil {
		return
	}
	msg := map[string]interface{}{"method": method, "params": params}
	out, _ := json.Marshal(msg)
	out = append(out, '\n')
	conn.Write(out)
}

func newTestProvider(t *testing.T) (*Provider, *fakeElectrum) {
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

	store := kvstore.NewMemoryStore()
	_ = store.Init()
	c, err := cache.New(cache.NewConfig(), store)
	if err != nil {
		t.Fatalf("cache.New: %v", err)
	}
	t.Cleanup(c.Stop)

	return New(tr, c, nil, nil), f
}

func verboseTxJSON(txid string, confirmations int64, vins []map[string]interface{}, vouts []map[string]interface{}) map[string]interface{} {
	return map[string]interface{}{
		"txid":          txid,
		"confirmations": confirmations,
		"vin":           vins,
		"vout":          vouts,
	}
}

func TestGetTransactionResolvesParentOutput(t *testing.T) {
	p, f := newTestProvider(t)
	ctx := context.Background()

	// parent tx: one output of 1 BTC to addr-parent, confirmed at
	// height 99 (confirmations=2 against tip 100).
	f.handle("blockchain.transaction.get", func(params json.RawMessage) (interface{}, string) {
		var args []interface{}
		_ = json.Unmarshal(params, &args)
		txid, _ := args[0].(string)
		switch txid {
		case "parent":
			return verboseTxJSON("parent", 2, nil, []map[string]interface{}{
				{"value": 1.0, "n": 0, "scriptPubKey": map[string]interface{}{"address": "addr-parent"}},
			}), ""
		case "child":
			return verboseTxJSON("child", 1, []map[string]interface{}{
				{"txid": "parent", "vout": 0},
			}, []map[string]interface{}{
				{"value": 0.5, "n": 0, "scriptPubKey": map[string]interface{}{"address": "addr-recipient"}},
				{"value": 0.4999, "n": 1, "scriptPubKey": map[string]interface{}{"address": "addr-change"}},
			}), ""
		}
		return nil, "unknown txid"
	})

	// Set the tip height directly: this test exercises transaction
	// assembly, not the headers-subscribe handshake (covered by
	// TestSubscribeToBlocksSeedsTipHeight).
	p.tipHeight.Store(100)

	view, err := p.GetTransaction(ctx, "child", GetTxOptions{Cache: true})
	if err != nil {
		t.Fatalf("GetTransaction: %v", err)
	}
	if view.Height != 100 {
		t.Fatalf("height = %d, want 100 (tip 100 - (confirmations 1 - 1))", view.Height)
	}
	if len(view.Inputs) != 1 || view.Inputs[0].Address != "addr-parent" {
		t.Fatalf("inputs = %+v", view.Inputs)
	}
	wantSumIn := core.Amount(100_000_000)
	if view.Inputs[0].Value != wantSumIn {
		t.Fatalf("input value = %d, want %d", view.Inputs[0].Value, wantSumIn)
	}
	if len(view.Outputs) != 2 {
		t.Fatalf("outputs = %+v", view.Outputs)
	}
	// fee = sumIn - sumOut = 1.0 - (0.5+0.4999) = 0.0001 BTC = 10000 sat
	if view.Fee != 10_000 {
		t.Fatalf("fee = %d, want 10000", view.Fee)
	}
}

func TestGetTransactionCoinbase(t *testing.T) {
	p, f := newTestProvider(t)
	ctx := context.Background()
	p.tipHeight.Store(1)

	f.handle("blockchain.transaction.get", func(params json.RawMessage) (interface{}, string) {
		return verboseTxJSON("cb", 1, []map[string]interface{}{
			{"coinbase": "03abcdef"},
		}, []map[string]interface{}{
			{"value": 50.0, "n": 0, "scriptPubKey": map[string]interface{}{"address": "addr-miner"}},
		}), ""
	})

	view, err := p.GetTransaction(ctx, "cb", GetTxOptions{Cache: true})
	if err != nil {
		t.Fatalf("GetTransaction: %v", err)
	}
	if !view.Coinbase {
		t.Fatalf("expected Coinbase=true")
	}
	if view.Fee != 0 {
		t.Fatalf("coinbase fee should be 0, got %d", view.Fee)
	}
	if view.Subsidy != core.SubsidyAt(0) {
		t.Fatalf("subsidy = %d, want %d", view.Subsidy, core.SubsidyAt(0))
	}
}

func TestGetTransactionCachesConfirmedView(t *testing.T) {
	p, f := newTestProvider(t)
	ctx := context.Background()
	p.tipHeight.Store(10)

	calls := 0
	f.handle("blockchain.transaction.get", func(json.RawMessage) (interface{}, string) {
		calls++
		return verboseTxJSON("tx1", 5, nil, []map[string]interface{}{
			{"value": 1.0, "n": 0, "scriptPubKey": map[string]interface{}{"address": "addr1"}},
		}), ""
	})

	if _, err := p.GetTransaction(ctx, "tx1", GetTxOptions{Cache: true}); err != nil {
		t.Fatalf("GetTransaction 1: %v", err)
	}
	if _, err := p.GetTransaction(ctx, "tx1", GetTxOptions{Cache: true}); err != nil {
		t.Fatalf("GetTransaction 2: %v", err)
	}
	if calls != 1 {
		t.Fatalf("expected one server round-trip due to caching, got %d", calls)
	}
}

func TestSubscribeToBlocksSeedsTipHeight(t *testing.T) {
	p, f := newTestProvider(t)
	f.handle("blockchain.headers.subscribe", func(json.RawMessage) (interface{}, string) {
		return headerNotification{Height: 100}, ""
	})
	if err := p.SubscribeToBlocks(context.Background()); err != nil {
		t.Fatalf("SubscribeToBlocks: %v", err)
	}
	if got := p.TipHeight(); got != 100 {
		t.Fatalf("TipHeight() = %d, want 100", got)
	}
	select {
	case ev := <-p.NewBlocks():
		if ev.Height != 100 {
			t.Fatalf("got %+v", ev)
		}
	case <-time.After(time.Second):
		t.Fatal("expected initial new-block event")
	}
}

func TestBroadcastTransaction(t *testing.T) {
	p, f := newTestProvider(t)
	f.handle("blockchain.transaction.broadcast", func(json.RawMessage) (interface{}, string) {
		return "broadcast-txid", ""
	})
	txid, err := p.BroadcastTransaction(context.Background(), "deadbeef")
	if err != nil {
		t.Fatalf("BroadcastTransaction: %v", err)
	}
	if txid != "broadcast-txid" {
		t.Fatalf("txid = %q", txid)
	}
}

func TestSubscribeToAddressRoutesNewTx(t *testing.T) {
	p, f := newTestProvider(t)
	f.handle("blockchain.scripthash.subscribe", func(json.RawMessage) (interface{}, string) {
		return nil, ""
	})
	var sh core.ScriptHash
	sh[0] = 0xAB
	if err := p.SubscribeToAddress(context.Background(), sh); err != nil {
		t.Fatalf("SubscribeToAddress: %v", err)
	}

	f.push("blockchain.scripthash.subscribe", []string{sh.String(), "status123"})

	select {
	case ev := <-p.NewTxEvents():
		if ev.ScriptHash != sh.String() || ev.Status != "status123" {
			t.Fatalf("got %+v", ev)
		}
	case <-time.After(time.Second):
		t.Fatal("expected new-tx event")
	}
}
