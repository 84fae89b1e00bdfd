package core

// TxInput is one resolved input of a TransactionView: the prevout it
// spends, resolved (where possible) to the address and value of that
// prior output.
type TxInput struct {
	PrevTxID string
	PrevVout uint32
	Address  string
	Value    Amount
	// Unresolved is true when the prior output could not be fetched
	// (e.g. the parent transaction is unknown to the connected server),
	// in which case Address and Value are zero.
	Unresolved bool
	// Coinbase is true for a synthesized block-reward input: Value
	// carries the subsidy for informational display only and is
	// excluded from the transaction's sumIn when computing fee.
	Coinbase bool
	// PrevHeight is the height of the transaction this input spends;
	// zero means that transaction is itself unconfirmed, which the
	// Provider surfaces via TransactionView.UnconfirmedInputs.
	PrevHeight int64
}

// TxOutput is one output of a TransactionView.
type TxOutput struct {
	Vout       uint32
	Address    string
	Value      Amount
	WitnessHex string
	TxID       string
	Height     int64
	// StdOut is false for non-standard scripts (e.g. OP_RETURN) that do
	// not decode to a single address; such outputs are recorded here but
	// omitted from a caller's "out" list.
	StdOut bool
}

// TransactionView is the Provider's assembled, application-level view of
// a transaction: raw wire data plus derived height, fee, and coinbase
// subsidy fields that require fetching and resolving every input's
// prior output.
type TransactionView struct {
	TxID     string
	Height   int64 // 0 = unconfirmed (mempool)
	Inputs   []TxInput
	Outputs  []TxOutput
	Fee      Amount
	Coinbase bool
	// Subsidy is set only when Coinbase is true: the block reward paid
	// by this transaction's sole input, per the halving schedule.
	Subsidy Amount
	// UnconfirmedInputs is true if any input spends an output whose own
	// transaction is itself unconfirmed (height 0).
	UnconfirmedInputs bool
}

// StdIn reports whether every input resolved to a concrete address.
func (t *TransactionView) StdIn() bool {
	for _, in := range t.Inputs {
		if in.Unresolved {
			return false
		}
	}
	return true
}

// UTXO is a single unspent output available for spending: the coordinates
// needed to reference it as an input, its value, and the derivation path
// of the address that owns it.
type UTXO struct {
	TxID            string
	Vout            uint32
	Value           Amount
	WitnessHex      string
	Address         string
	Path            Path
	AddressPubKey   []byte
	Height          int64 // 0 = unconfirmed
	// Locked is true while a Transaction Builder has reserved this UTXO
	// for an in-flight build; locked UTXOs are excluded from selection.
	Locked bool
}

// SyncState tracks one chain's (external or internal) gap-limit scan
// progress so a resumed scan can continue from where it left off instead
// of rederiving and requerying from index 0.
type SyncState struct {
	Path Path
	// Gap is the number of consecutive addresses with no history seen
	// so far in the current scan run.
	Gap int
	// GapEnd is the path of the first address in the current trailing
	// empty run (the address the next scan resumes scanning from).
	GapEnd Path
}
