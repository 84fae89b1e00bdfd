package provider

// headerNotification mirrors one header object of
// blockchain.headers.subscribe: the subscribe result is a single such
// object, while a push carries them wrapped in an array.
type headerNotification struct {
	Height int64  `json:"height"`
	Hex    string `json:"hex"`
}

// verboseTx mirrors the decoded object blockchain.transaction.get
// returns when called with verbose=true: the same shape a full node's
// decoderawtransaction gives, plus confirmations.
type verboseTx struct {
	Txid          string         `json:"txid"`
	Confirmations int64          `json:"confirmations"`
	Vin           []verboseVin   `json:"vin"`
	Vout          []verboseVout  `json:"vout"`
}

type verboseVin struct {
	Txid     string `json:"txid"`
	Vout     uint32 `json:"vout"`
	Coinbase string `json:"coinbase"`
}

func (v verboseVin) isCoinbase() bool { return v.Coinbase != "" }

type verboseVout struct {
	Value        float64             `json:"value"`
	N            uint32              `json:"n"`
	ScriptPubKey verboseScriptPubKey `json:"scriptPubKey"`
}

type verboseScriptPubKey struct {
	Hex       string   `json:"hex"`
	Type      string   `json:"type"`
	Address   string   `json:"address"`
	Addresses []string `json:"addresses"`
}

func (s verboseScriptPubKey) address() (string, bool) {
	if s.Address != "" {
		return s.Address, true
	}
	if len(s.Addresses) == 1 {
		return s.Addresses[0], true
	}
	return "", false
}

// historyEntry mirrors one element of blockchain.scripthash.get_history
// and blockchain.scripthash.get_mempool's result arrays.
type historyEntry struct {
	TxHash string `json:"tx_hash"`
	Height int64  `json:"height"`
}
