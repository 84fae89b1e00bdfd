package core

import (
	"crypto/sha256"
	"encoding/hex"
)

// ScriptHash is the 32-byte digest Electrum servers use as the
// subscription/lookup key for an output script: sha256(scriptPubKey)
// with the bytes reversed into little-endian display order.
type ScriptHash [32]byte

// NewScriptHash computes the Electrum script hash for a scriptPubKey.
func NewScriptHash(scriptPubKey []byte) ScriptHash {
	sum := sha256.Sum256(scriptPubKey)
	var reversed ScriptHash
	for i := range sum {
		reversed[i] = sum[len(sum)-1-i]
	}
	return reversed
}

func (s ScriptHash) String() string {
	return hex.EncodeToString(s[:])
}

// ScriptHashFromHex parses a hex-encoded script hash as returned by, or
// sent to, an Electrum server.
func ScriptHashFromHex(h string) (ScriptHash, error) {
	var s ScriptHash
	b, err := hex.DecodeString(h)
	if err != nil {
		return s, err
	}
	if len(b) != len(s) {
		return s, hex.ErrLength
	}
	copy(s[:], b)
	return s, nil
}
