package core

// HalvingInterval is the number of blocks between block-reward halvings.
const HalvingInterval = 210_000

// InitialSubsidy is the block reward paid at height 0, before any halving.
const InitialSubsidy Amount = 50 * SatoshisPerCoin

// SubsidyAt returns the coinbase subsidy for a block at the given
// height: InitialSubsidy halved once per HalvingInterval blocks, floored
// at zero once the reward would shift out of the 64-bit range.
func SubsidyAt(height int64) Amount {
	halvings := height / HalvingInterval
	if halvings >= 64 {
		return 0
	}
	return Amount(int64(InitialSubsidy) >> uint(halvings))
}
