// Package hdpath implements the wallet core's HD Path Walker (C4):
// deterministic derivation of the external/internal chain paths and the
// gap-limit address-usage scan that discovers how far a chain has
// actually been used.
package hdpath

import (
	"regexp"
	"strconv"

	"github.com/arcwallet/electrumwallet/core"
	"github.com/arcwallet/electrumwallet/walleterr"
)

// DefaultGapLimit is the number of consecutive empty addresses a scan
// must see before it concludes a chain's usage has ended, per spec.md
// §4.4.
const DefaultGapLimit = 20

var pathPattern = regexp.MustCompile(`^m/(\d+)'/(\d+)'/(\d+)'/([01])/(\d+)$`)

// BumpIndex returns path with its index advanced by one; a thin,
// spec.md-named wrapper over core.Path.Bumped.
func BumpIndex(path core.Path) core.Path {
	return path.Bumped()
}

// ParsePath decodes a rendered m/P'/C'/A'/ch/i path string back into its
// five components.
func ParsePath(s string) (core.Path, error) {
	m := pathPattern.FindStringSubmatch(s)
	if m == nil {
		return core.Path{}, walleterr.New(walleterr.Decode, "malformed HD path: "+s)
	}
	purpose, _ := strconv.ParseUint(m[1], 10, 32)
	coin, _ := strconv.ParseUint(m[2], 10, 32)
	account, _ := strconv.ParseUint(m[3], 10, 32)
	change, _ := strconv.ParseUint(m[4], 10, 32)
	index, _ := strconv.ParseUint(m[5], 10, 32)
	return core.Path{
		Purpose: uint32(purpose),
		Coin:    uint32(coin),
		Account: uint32(account),
		Change:  core.Chain(change),
		Index:   uint32(index),
	}, nil
}

// GetAddressType maps path's purpose field to its output script kind.
// A spec.md-named wrapper over core.AddressTypeForPurpose.
func GetAddressType(path core.Path) core.AddressType {
	return core.AddressTypeForPurpose(path.Purpose)
}
