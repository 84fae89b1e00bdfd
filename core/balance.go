package core

// Bucket names a confirmation-status partition of an address's activity.
// An entry moves between buckets as the chain tip advances past it but
// never appears in more than one at a time.
type Bucket string

const (
	BucketMempool   Bucket = "mempool"
	BucketPending   Bucket = "pending"
	BucketConfirmed Bucket = "confirmed"
)

// Flow splits a bucket's Amount into what moved in, what moved out, and
// fees paid, mirroring the three ledger entries a single txid can
// contribute to an address.
type Flow struct {
	In  Amount
	Out Amount
	Fee Amount
}

// Net returns In - Out - Fee, the address's net change from this flow.
func (f Flow) Net() Amount { return f.In.Sub(f.Out).Sub(f.Fee) }

// Add returns the elementwise sum of f and g.
func (f Flow) Add(g Flow) Flow {
	return Flow{In: f.In.Add(g.In), Out: f.Out.Add(g.Out), Fee: f.Fee.Add(g.Fee)}
}

// Sub returns the elementwise difference f - g.
func (f Flow) Sub(g Flow) Flow {
	return Flow{In: f.In.Sub(g.In), Out: f.Out.Sub(g.Out), Fee: f.Fee.Sub(g.Fee)}
}

// Balance is the three-bucket view of a single address's activity.
type Balance struct {
	Mempool   Flow
	Pending   Flow
	Confirmed Flow
}

// Bucket returns the Flow for the named bucket.
func (b *Balance) Bucket(name Bucket) Flow {
	switch name {
	case BucketMempool:
		return b.Mempool
	case BucketPending:
		return b.Pending
	default:
		return b.Confirmed
	}
}

// SetBucket replaces the Flow stored under name.
func (b *Balance) SetBucket(name Bucket, f Flow) {
	switch name {
	case BucketMempool:
		b.Mempool = f
	case BucketPending:
		b.Pending = f
	default:
		b.Confirmed = f
	}
}

// Total returns the sum of all three buckets' net contribution.
func (b Balance) Total() Amount {
	return b.Mempool.Net().Add(b.Pending.Net()).Add(b.Confirmed.Net())
}

// Combine returns the elementwise sum of b and other, bucket by bucket.
func (b Balance) Combine(other Balance) Balance {
	return Balance{
		Mempool:   b.Mempool.Add(other.Mempool),
		Pending:   b.Pending.Add(other.Pending),
		Confirmed: b.Confirmed.Add(other.Confirmed),
	}
}
