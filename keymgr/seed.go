package keymgr

import (
	"crypto/rand"

	"github.com/tyler-smith/go-bip39"

	"github.com/arcwallet/electrumwallet/walleterr"
)

// GenerateSeed is a minimal reference adapter over go-bip39, standing in
// for the seed/mnemonic module spec.md places out of scope as an
// external collaborator. It exists only so tests and examples can
// produce a seed to hand NewHDKeyManager without a production mnemonic
// flow wired in; it is not part of the KeyManager interface itself.
//
// Modelled on internal/services/bip39service.BIP39Service.GenerateMnemonic
// and MnemonicToSeed.
func GenerateSeed(wordCount int, passphrase string) (mnemonic string, seed []byte, err error) {
	bits := 128
	switch wordCount {
	case 12:
		bits = 128
	case 15:
		bits = 160
	case 18:
		bits = 192
	case 21:
		bits = 224
	case 24:
		bits = 256
	default:
		return "", nil, walleterr.New(walleterr.Decode, "unsupported mnemonic word count")
	}

	entropy := make([]byte, bits/8)
	if _, err := rand.Read(entropy); err != nil {
		return "", nil, walleterr.Wrap(walleterr.Decode, "read entropy", err)
	}
	mnemonic, err = bip39.NewMnemonic(entropy)
	if err != nil {
		return "", nil, walleterr.Wrap(walleterr.Decode, "generate mnemonic", err)
	}
	seed = bip39.NewSeed(mnemonic, passphrase)
	return mnemonic, seed, nil
}
