// Package ledger implements the wallet core's Address Ledger (C6): the
// per-address Balance bookkeeping and transaction history index that the
// Sync Manager writes into and the Transaction Builder reads a UTXO set
// out of.
package ledger

import (
	"encoding/json"

	"github.com/arcwallet/electrumwallet/core"
)

// record is one transaction's contribution to an address: which bucket
// it currently falls in, and the in/out/fee amounts it carries. Storing
// one record per txid (rather than accumulating directly into Balance)
// is what makes addIn/addOut/addFee idempotent: re-applying the same classification
// for a txid simply overwrites its record, and moving a txid from one
// bucket to another is a single assignment rather than a subtract-then-add
// pair that could race or double count.
type record struct {
	Bucket core.Bucket `json:"bucket"`
	Flow   core.Flow   `json:"flow"`
}

// AddressEntry is one address's full ledger state: its identity
// (needed to re-derive a UTXO's spending path) and every transaction
// that has touched it so far.
type AddressEntry struct {
	Address    string                `json:"address"`
	ScriptHash core.ScriptHash       `json:"script_hash"`
	Path       core.Path             `json:"path"`
	Records    map[string]record     `json:"records"`
}

func newAddressEntry(address string, sh core.ScriptHash, path core.Path) *AddressEntry {
	return &AddressEntry{Address: address, ScriptHash: sh, Path: path, Records: make(map[string]record)}
}

// Balance folds every per-txid record into the three-bucket Balance view.
func (e *AddressEntry) Balance() core.Balance {
	var b core.Balance
	for _, r := range e.Records {
		f := b.Bucket(r.Bucket).Add(r.Flow)
		b.SetBucket(r.Bucket, f)
	}
	return b
}

// addIn sets txid's In contribution (what this address received from
// txid) to amount and (re)classifies the record into bucket b. Calling
// this again with the same (bucket, txid, amount) is a no-op; calling it
// with a different bucket moves the txid's whole record to that bucket
// in one step, which is how a transaction migrates mempool -> pending ->
// confirmed without double-counting. Out and Fee are left untouched.
func (e *AddressEntry) addIn(b core.Bucket, txid string, amount core.Amount) {
	r := e.Records[txid]
	r.Bucket = b
	r.Flow.In = amount
	e.Records[txid] = r
}

// addOut is addIn's counterpart for what this address spent via txid.
func (e *AddressEntry) addOut(b core.Bucket, txid string, amount core.Amount) {
	r := e.Records[txid]
	r.Bucket = b
	r.Flow.Out = amount
	e.Records[txid] = r
}

// addFee is addIn's counterpart for the fee attributed to this address
// (the change address of a wholly-owned transaction) via txid.
func (e *AddressEntry) addFee(b core.Bucket, txid string, amount core.Amount) {
	r := e.Records[txid]
	r.Bucket = b
	r.Flow.Fee = amount
	e.Records[txid] = r
}

func marshalEntry(e *AddressEntry) ([]byte, error) {
	return json.Marshal(e)
}

func unmarshalEntry(data []byte) (*AddressEntry, error) {
	var e AddressEntry
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, err
	}
	if e.Records == nil {
		e.Records = make(map[string]record)
	}
	return &e, nil
}
