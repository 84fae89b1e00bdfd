package ledger

import (
	"sort"
	"sync"

	"github.com/arcwallet/electrumwallet/core"
	"github.com/arcwallet/electrumwallet/kvstore"
	"github.com/arcwallet/electrumwallet/walleterr"
)

const (
	storeAddr        = "addr"
	storeTxHistory   = "tx-history"
	storeBroadcasted = "broadcasted"
)

// Ledger owns the three key-value namespaces spec.md §4.6 names: `addr`
// (per-address Balance bookkeeping), `tx-history` (the height-ordered
// transaction index), and `broadcasted` (outgoing transactions this
// wallet submitted itself). Per-address updates are serialised through
// a per-address mutex so read-modify-write sequences never interleave,
// matching §5's single-writer discipline for the Ledger.
type Ledger struct {
	addrStore   kvstore.Store
	historyStore kvstore.Store
	broadcastStore kvstore.Store

	locksMu sync.Mutex
	locks   map[string]*sync.Mutex
}

// New opens the three namespaces from opener and returns a ready Ledger.
func New(opener kvstore.Opener) (*Ledger, error) {
	addrStore, err := opener.Open(storeAddr)
	if err != nil {
		return nil, walleterr.Wrap(walleterr.StoreCorrupt, "open addr store", err)
	}
	if err := addrStore.Init(); err != nil {
		return nil, walleterr.Wrap(walleterr.StoreCorrupt, "init addr store", err)
	}
	historyStore, err := opener.Open(storeTxHistory)
	if err != nil {
		return nil, walleterr.Wrap(walleterr.StoreCorrupt, "open tx-history store", err)
	}
	if err := historyStore.Init(); err != nil {
		return nil, walleterr.Wrap(walleterr.StoreCorrupt, "init tx-history store", err)
	}
	broadcastStore, err := opener.Open(storeBroadcasted)
	if err != nil {
		return nil, walleterr.Wrap(walleterr.StoreCorrupt, "open broadcasted store", err)
	}
	if err := broadcastStore.Init(); err != nil {
		return nil, walleterr.Wrap(walleterr.StoreCorrupt, "init broadcasted store", err)
	}
	return &Ledger{
		addrStore:      addrStore,
		historyStore:   historyStore,
		broadcastStore: broadcastStore,
		locks:          make(map[string]*sync.Mutex),
	}, nil
}

func (l *Ledger) lockFor(address string) *sync.Mutex {
	l.locksMu.Lock()
	defer l.locksMu.Unlock()
	m, ok := l.locks[address]
	if !ok {
		m = &sync.Mutex{}
		l.locks[address] = m
	}
	return m
}

func (l *Ledger) loadEntry(address string, sh core.ScriptHash, path core.Path) (*AddressEntry, error) {
	raw, found, err := l.addrStore.Get(address)
	if err != nil {
		return nil, walleterr.Wrap(walleterr.StoreCorrupt, "get address entry", err)
	}
	if !found {
		return newAddressEntry(address, sh, path), nil
	}
	entry, err := unmarshalEntry(raw)
	if err != nil {
		return nil, walleterr.Wrap(walleterr.StoreCorrupt, "decode address entry", err)
	}
	return entry, nil
}

func (l *Ledger) saveEntry(entry *AddressEntry) error {
	raw, err := marshalEntry(entry)
	if err != nil {
		return walleterr.Wrap(walleterr.StoreCorrupt, "encode address entry", err)
	}
	if err := l.addrStore.Put(entry.Address, raw); err != nil {
		return walleterr.Wrap(walleterr.StoreCorrupt, "put address entry", err)
	}
	return nil
}

// GetBalance returns address's current three-bucket Balance, or the
// zero Balance if the address has never been touched.
func (l *Ledger) GetBalance(address string) (core.Balance, error) {
	m := l.lockFor(address)
	m.Lock()
	defer m.Unlock()
	entry, err := l.loadEntry(address, core.ScriptHash{}, core.Path{})
	if err != nil {
		return core.Balance{}, err
	}
	return entry.Balance(), nil
}

// Totals aggregates every known address's Balance into one, a
// supplemented view (SPEC_FULL.md §C) convenient for a wallet-level
// "total funds" display without the caller having to enumerate
// addresses itself.
func (l *Ledger) Totals() (core.Balance, error) {
	var total core.Balance
	err := l.addrStore.Entries(func(_ string, value []byte) error {
		entry, err := unmarshalEntry(value)
		if err != nil {
			return err
		}
		total = total.Combine(entry.Balance())
		return nil
	}, kvstore.Range{})
	if err != nil {
		return core.Balance{}, walleterr.Wrap(walleterr.StoreCorrupt, "aggregate balances", err)
	}
	return total, nil
}

// ApplyTransaction implements the confirmation state machine of spec.md
// §4.5: bucket has already been classified by the caller (the Sync
// Manager, which knows the current tip height); owns reports whether an
// address belongs to this wallet. Every owned output's value is credited
// to that address's In flow for the bucket; every owned input's prior
// value is debited to that address's Out flow. When every input is
// owned (the transaction is wholly the wallet's own, i.e. a self-spend
// or a send with change), the fee is attributed to the last owned
// output address, treated as the change address.
func (l *Ledger) ApplyTransaction(tx *core.TransactionView, bucket core.Bucket, owns func(address string) bool) error {
	deltas := make(map[string]*delta)
	var ownedOutputs []string

	for _, out := range tx.Outputs {
		if !out.StdOut || out.Address == "" || !owns(out.Address) {
			continue
		}
		d := deltas[out.Address]
		if d == nil {
			d = &delta{}
			deltas[out.Address] = d
		}
		d.in = d.in.Add(out.Value)
		d.touched = true
		ownedOutputs = append(ownedOutputs, out.Address)
	}

	wholly := len(tx.Inputs) > 0
	for _, in := range tx.Inputs {
		if in.Coinbase || in.Unresolved || in.Address == "" || !owns(in.Address) {
			wholly = false
			continue
		}
		d := deltas[in.Address]
		if d == nil {
			d = &delta{}
			deltas[in.Address] = d
		}
		d.out = d.out.Add(in.Value)
		d.touched = true
	}

	addresses := make([]string, 0, len(deltas))
	for addr := range deltas {
		addresses = append(addresses, addr)
	}
	sort.Strings(addresses) // stable lock order across addresses touched together

	for _, addr := range addresses {
		if err := l.applyAddressDelta(addr, tx.TxID, bucket, deltas[addr]); err != nil {
			return err
		}
	}

	if wholly && tx.Fee != 0 && len(ownedOutputs) > 0 {
		changeAddr := ownedOutputs[len(ownedOutputs)-1]
		m := l.lockFor(changeAddr)
		m.Lock()
		err := func() error {
			entry, err := l.loadEntry(changeAddr, core.ScriptHash{}, core.Path{})
			if err != nil {
				return err
			}
			entry.addFee(bucket, tx.TxID, tx.Fee)
			return l.saveEntry(entry)
		}()
		m.Unlock()
		if err != nil {
			return err
		}
	}

	return l.storeTx(tx, bucket)
}

type delta struct {
	in, out core.Amount
	touched bool
}

func (l *Ledger) applyAddressDelta(address, txid string, bucket core.Bucket, d *delta) error {
	m := l.lockFor(address)
	m.Lock()
	defer m.Unlock()

	entry, err := l.loadEntry(address, core.ScriptHash{}, core.Path{})
	if err != nil {
		return err
	}
	if d.in != 0 || d.touched {
		entry.addIn(bucket, txid, d.in)
	}
	if d.out != 0 {
		entry.addOut(bucket, txid, d.out)
	}
	return l.saveEntry(entry)
}

// RegisterAddress ensures address has a ledger entry carrying its
// derivation path and script hash, so a later UTXO scan can resolve the
// signing path without a side lookup. It is a no-op if the address
// already has an entry (its path/script hash are left unchanged).
func (l *Ledger) RegisterAddress(address string, sh core.ScriptHash, path core.Path) error {
	m := l.lockFor(address)
	m.Lock()
	defer m.Unlock()

	_, found, err := l.addrStore.Get(address)
	if err != nil {
		return walleterr.Wrap(walleterr.StoreCorrupt, "get address entry", err)
	}
	if found {
		return nil
	}
	return l.saveEntry(newAddressEntry(address, sh, path))
}

// AddressPath returns the derivation path registered for address, for
// UTXO signing.
func (l *Ledger) AddressPath(address string) (core.Path, bool, error) {
	raw, found, err := l.addrStore.Get(address)
	if err != nil {
		return core.Path{}, false, walleterr.Wrap(walleterr.StoreCorrupt, "get address entry", err)
	}
	if !found {
		return core.Path{}, false, nil
	}
	entry, err := unmarshalEntry(raw)
	if err != nil {
		return core.Path{}, false, walleterr.Wrap(walleterr.StoreCorrupt, "decode address entry", err)
	}
	return entry.Path, true, nil
}
