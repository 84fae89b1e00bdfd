package hdpath

import (
	"context"

	"github.com/arcwallet/electrumwallet/core"
	"github.com/arcwallet/electrumwallet/keymgr"
	"github.com/arcwallet/electrumwallet/walleterr"
)

// AddressChecker reports whether a script hash has ever appeared in
// server-side history (confirmed or mempool). The Sync Manager supplies
// this, typically backed by Provider.GetAddressHistory/GetMempoolTx, so
// the walker itself stays free of any transport dependency.
type AddressChecker interface {
	HasHistory(ctx context.Context, sh core.ScriptHash) (bool, error)
}

// Discovered is one address the scan found, whether used or not: the
// caller (Sync Manager) decides what to do with the trailing empty run.
type Discovered struct {
	Path       core.Path
	ScriptHash core.ScriptHash
	Address    string
	Used       bool
}

// Scanner walks one account's external or internal chain, deriving
// consecutive addresses from a KeyManager and checking each against an
// AddressChecker, stopping once GapLimit consecutive addresses show no
// history.
type Scanner struct {
	KeyManager keymgr.KeyManager
	Checker    AddressChecker
	GapLimit   int
}

// NewScanner builds a Scanner with the spec-mandated default gap limit.
func NewScanner(km keymgr.KeyManager, checker AddressChecker) *Scanner {
	return &Scanner{KeyManager: km, Checker: checker, GapLimit: DefaultGapLimit}
}

// Scan walks start's chain forward, one index at a time, until GapLimit
// consecutive unused addresses are observed or ctx is cancelled. It
// returns every address it derived (used and unused) along with the
// resuming SyncState: Gap and GapEnd describe the trailing empty run so
// a later call to Scan(ctx, resumeState.GapEnd) continues from the first
// address of that run without rederiving the used addresses before it;
// the addresses of the empty run itself are derived and checked again.
func (s *Scanner) Scan(ctx context.Context, start core.Path) ([]Discovered, core.SyncState, error) {
	if s.GapLimit <= 0 {
		s.GapLimit = DefaultGapLimit
	}

	var discovered []Discovered
	gap := 0
	gapEnd := start
	path := start

	for gap < s.GapLimit {
		if err := ctx.Err(); err != nil {
			return discovered, core.SyncState{Path: start, Gap: gap, GapEnd: gapEnd}, err
		}

		addrType := GetAddressType(path)
		sh, addr, err := s.KeyManager.PathToScriptHash(path, addrType)
		if err != nil {
			return discovered, core.SyncState{}, walleterr.Wrap(walleterr.Internal, "derive script hash", err)
		}

		used, err := s.Checker.HasHistory(ctx, sh)
		if err != nil {
			return discovered, core.SyncState{}, err
		}

		discovered = append(discovered, Discovered{Path: path, ScriptHash: sh, Address: addr, Used: used})

		if used {
			gap = 0
			gapEnd = BumpIndex(path)
		} else {
			gap++
		}
		path = BumpIndex(path)
	}

	return discovered, core.SyncState{Path: start, Gap: gap, GapEnd: gapEnd}, nil
}

// UsedAddresses filters discovered down to the ones the scan found
// history for.
func UsedAddresses(discovered []Discovered) []Discovered {
	used := make([]Discovered, 0, len(discovered))
	for _, d := range discovered {
		if d.Used {
			used = append(used, d)
		}
	}
	return used
}
