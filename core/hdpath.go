package core

import "fmt"

// Chain distinguishes the external (receive) and internal (change)
// derivation branches of a single BIP32 account.
type Chain uint32

const (
	ChainExternal Chain = 0
	ChainInternal Chain = 1
)

func (c Chain) String() string {
	if c == ChainInternal {
		return "internal"
	}
	return "external"
}

// Path is the five-component derivation tuple m/purpose'/coin'/account'/change/index.
// Purpose, Coin, and Account are always hardened; Change and Index never are.
type Path struct {
	Purpose uint32
	Coin    uint32
	Account uint32
	Change  Chain
	Index   uint32
}

// String renders the path in the usual m/P'/C'/A'/ch/i notation.
func (p Path) String() string {
	return fmt.Sprintf("m/%d'/%d'/%d'/%d/%d", p.Purpose, p.Coin, p.Account, uint32(p.Change), p.Index)
}

// Bumped returns a copy of p with Index advanced by one. The scanner
// uses this to walk a chain without mutating the path it was handed.
func (p Path) Bumped() Path {
	p.Index++
	return p
}

// AddressType enumerates the output script kinds the HD Path Walker can
// derive addresses for.
type AddressType string

const (
	AddressP2PKH      AddressType = "p2pkh"
	AddressP2SHP2WPKH AddressType = "p2sh-p2wpkh"
	AddressP2WPKH     AddressType = "p2wpkh"
	AddressP2TR       AddressType = "p2tr"
)

// AddressTypeForPurpose maps a BIP43 purpose field to the output script
// kind it designates (BIP44/49/84/86).
func AddressTypeForPurpose(purpose uint32) AddressType {
	switch purpose {
	case 49:
		return AddressP2SHP2WPKH
	case 84:
		return AddressP2WPKH
	case 86:
		return AddressP2TR
	default:
		return AddressP2PKH
	}
}
