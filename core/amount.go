// Package core holds the data types shared by every component of the
// wallet core: the Amount, the Electrum script hash, HD paths,
// transaction views, UTXOs, and the scanner's sync state. None of these
// carry behaviour specific to one component; they are the nouns the
// rest of the module operates on.
package core

import "fmt"

// Amount is an exact integer-valued satoshi quantity (1e-8 of one coin).
// All arithmetic stays on int64; converting to a decimal coin amount is
// a pure formatting concern left to callers (String/Coins below).
type Amount int64

// SatoshisPerCoin is the number of satoshis in one whole coin.
const SatoshisPerCoin = 100_000_000

// Add returns a + b. No rounding is possible since both operands are
// already integers.
func (a Amount) Add(b Amount) Amount { return a + b }

// Sub returns a - b.
func (a Amount) Sub(b Amount) Amount { return a - b }

// Scale returns a multiplied by an integer factor, e.g. a fee rate times
// a vsize.
func (a Amount) Scale(factor int64) Amount { return Amount(int64(a) * factor) }

// Cmp returns -1, 0, or 1 as a is less than, equal to, or greater than b.
func (a Amount) Cmp(b Amount) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

// IsPositive reports whether the amount is strictly greater than zero.
func (a Amount) IsPositive() bool { return a > 0 }

// Coins formats the amount as a decimal coin value, e.g. "0.00005000".
func (a Amount) Coins() string {
	whole := int64(a) / SatoshisPerCoin
	frac := int64(a) % SatoshisPerCoin
	if frac < 0 {
		frac = -frac
	}
	return fmt.Sprintf("%d.%08d", whole, frac)
}

func (a Amount) String() string {
	return fmt.Sprintf("%d sat", int64(a))
}
