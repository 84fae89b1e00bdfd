// Package keymgr defines the key-derivation and signing capability the
// wallet core consumes but does not own: spec.md places BIP32/BIP39 and
// PSBT signing out of scope as an external collaborator, reached only
// through this interface. A minimal reference implementation ships
// alongside it (hdkeymanager.go) so the Transaction Builder's two-pass
// flow can be exercised end to end in tests without a production key
// source wired in.
package keymgr

import (
	"github.com/arcwallet/electrumwallet/core"
)

// Network names the chain parameters a KeyManager derives addresses
// under, matching spec.md §6's required name set.
type Network string

const (
	NetworkMainnet  Network = "mainnet"
	NetworkBitcoin  Network = "bitcoin"
	NetworkTestnet  Network = "testnet"
	NetworkSignet   Network = "signet"
	NetworkRegtest  Network = "regtest"
)

// KeyManager is the required capability set spec.md §6 names: switch
// network parameters, derive a path to its script hash and address, and
// expose the BIP32 fingerprint the PSBT needs to annotate its inputs.
// The manager also plays the role of PSBT signer: its Signer method
// returns a Signer scoped to one path.
type KeyManager interface {
	// SetNetwork selects the chain parameters used by subsequent
	// derivations. Derivations before any SetNetwork call use the
	// implementation's default network (mainnet for HDKeyManager).
	SetNetwork(n Network) error

	// PathToScriptHash derives the address at path (interpreted under
	// addrType's script kind) and returns its Electrum script hash
	// alongside the encoded address string.
	PathToScriptHash(path core.Path, addrType core.AddressType) (core.ScriptHash, string, error)

	// Fingerprint returns the master key's BIP32 fingerprint, the value
	// a PSBT input's BIP32 derivation field is keyed by.
	Fingerprint() ([4]byte, error)

	// PublicKey returns the compressed public key at path.
	PublicKey(path core.Path) ([]byte, error)

	// Signer returns a Signer scoped to the key at path.
	Signer(path core.Path) (Signer, error)
}

// Signer signs a single sighash with the private key at the path it was
// obtained for. It never exposes the private key itself.
type Signer interface {
	// Sign returns a DER-encoded ECDSA signature over hash, which the
	// caller has already reduced via the appropriate SIGHASH algorithm.
	Sign(hash []byte) ([]byte, error)
	// PublicKey returns the compressed public key matching this signer.
	PublicKey() []byte
}
