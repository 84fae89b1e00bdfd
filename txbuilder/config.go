package txbuilder

import "github.com/arcwallet/electrumwallet/core"

// DustLimit is the minimum output value spec.md §4.7 treats as
// economical to spend later: 546 sat, the conventional P2PKH dust
// threshold.
const DustLimit core.Amount = 546

// DefaultMaxFeeRate bounds fee_rate when Config.MaxFeeRate is unset.
const DefaultMaxFeeRate core.Amount = 100_000

// Config parameterizes the Transaction Builder.
type Config struct {
	// MaxFeeRate is the upper bound a caller's fee_rate (sat/vByte) must
	// fall at or under. Defaults to DefaultMaxFeeRate.
	MaxFeeRate core.Amount
}

func (c Config) withDefaults() Config {
	if c.MaxFeeRate <= 0 {
		c.MaxFeeRate = DefaultMaxFeeRate
	}
	return c
}
