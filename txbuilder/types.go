package txbuilder

import "github.com/arcwallet/electrumwallet/core"

// SendRequest names one outgoing payment.
type SendRequest struct {
	ToAddress string
	Amount    core.Amount
	// FeeRate is in satoshis per virtual byte.
	FeeRate core.Amount
}

// BuildResult is what a successful Send returns: the broadcast txid and
// hex, plus the numbers the caller may want to display or log.
type BuildResult struct {
	TxID   string
	Hex    string
	VSize  int64
	Fee    core.Amount
	Change core.Amount
}

// assembled is one pass's output: the signed, finalized transaction
// plus the figures the next pass (or the caller) needs.
type assembled struct {
	hex    string
	vSize  int64
	fee    core.Amount
	change core.Amount
}
