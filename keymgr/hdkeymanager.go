package keymgr

import (
	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/ecdsa"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/txscript"

	"github.com/arcwallet/electrumwallet/core"
	"github.com/arcwallet/electrumwallet/walleterr"
)

// HDKeyManager is a reference KeyManager built directly on btcutil's
// hdkeychain, modelled on internal/services/hdkey.HDKeyService. It holds
// the whole derivation tree in memory; production deployments are
// expected to supply their own KeyManager backed by a hardware signer or
// an isolated seed process, per spec.md's external-collaborator scoping.
type HDKeyManager struct {
	master *hdkeychain.ExtendedKey
	params *chaincfg.Params
}

// NewHDKeyManager derives a master extended key from seed (16-64 bytes,
// as BIP32 requires) under mainnet parameters; call SetNetwork to
// switch.
func NewHDKeyManager(seed []byte) (*HDKeyManager, error) {
	if len(seed) < hdkeychain.MinSeedBytes || len(seed) > hdkeychain.MaxSeedBytes {
		return nil, walleterr.New(walleterr.Decode, "seed length out of BIP32 bounds")
	}
	master, err := hdkeychain.NewMaster(seed, &chaincfg.MainNetParams)
	if err != nil {
		return nil, walleterr.Wrap(walleterr.Decode, "derive master key", err)
	}
	return &HDKeyManager{master: master, params: &chaincfg.MainNetParams}, nil
}

// ParamsForNetwork exposes paramsFor to callers outside this package
// that need the same chain parameters a KeyManager derives under (the
// Transaction Builder decodes recipient addresses against them).
func ParamsForNetwork(n Network) (*chaincfg.Params, error) {
	return paramsFor(n)
}

func paramsFor(n Network) (*chaincfg.Params, error) {
	switch n {
	case NetworkMainnet, NetworkBitcoin:
		return &chaincfg.MainNetParams, nil
	case NetworkTestnet:
		return &chaincfg.TestNet3Params, nil
	case NetworkSignet:
		return &chaincfg.SigNetParams, nil
	case NetworkRegtest:
		return &chaincfg.RegressionNetParams, nil
	default:
		return nil, walleterr.New(walleterr.Decode, "unknown network "+string(n))
	}
}

func (m *HDKeyManager) SetNetwork(n Network) error {
	params, err := paramsFor(n)
	if err != nil {
		return err
	}
	m.params = params
	return nil
}

// derive walks path's five components from the master key, hardening
// purpose/coin/account and leaving change/index normal, following
// internal/services/hdkey.HDKeyService.DerivePath's iterative approach.
func (m *HDKeyManager) derive(path core.Path) (*hdkeychain.ExtendedKey, error) {
	components := []uint32{
		hdkeychain.HardenedKeyStart + path.Purpose,
		hdkeychain.HardenedKeyStart + path.Coin,
		hdkeychain.HardenedKeyStart + path.Account,
		uint32(path.Change),
		path.Index,
	}
	key := m.master
	for _, idx := range components {
		child, err := key.Derive(idx)
		if err != nil {
			return nil, walleterr.Wrap(walleterr.Decode, "derive child key", err)
		}
		key = child
	}
	return key, nil
}

func addressFor(key *hdkeychain.ExtendedKey, addrType core.AddressType, params *chaincfg.Params) (btcutil.Address, error) {
	pub, err := key.ECPubKey()
	if err != nil {
		return nil, err
	}
	compressed := pub.SerializeCompressed()
	pubKeyHash := btcutil.Hash160(compressed)

	switch addrType {
	case core.AddressP2PKH:
		return btcutil.NewAddressPubKeyHash(pubKeyHash, params)
	case core.AddressP2WPKH:
		return btcutil.NewAddressWitnessPubKeyHash(pubKeyHash, params)
	case core.AddressP2SHP2WPKH:
		witnessProg, err := btcutil.NewAddressWitnessPubKeyHash(pubKeyHash, params)
		if err != nil {
			return nil, err
		}
		script, err := txscript.PayToAddrScript(witnessProg)
		if err != nil {
			return nil, err
		}
		return btcutil.NewAddressScriptHash(script, params)
	case core.AddressP2TR:
		// Single-key P2TR with no script-path spends: the taproot output
		// key is the BIP-341 key-path-only tweak of the internal key,
		// which ComputeTaprootKeyNoScript computes with an empty script
		// tree.
		taprootKey := txscript.ComputeTaprootKeyNoScript(pub)
		return btcutil.NewAddressTaproot(taprootKey.SerializeCompressed()[1:], params)
	default:
		return btcutil.NewAddressPubKeyHash(pubKeyHash, params)
	}
}

func (m *HDKeyManager) PathToScriptHash(path core.Path, addrType core.AddressType) (core.ScriptHash, string, error) {
	key, err := m.derive(path)
	if err != nil {
		return core.ScriptHash{}, "", err
	}
	addr, err := addressFor(key, addrType, m.params)
	if err != nil {
		return core.ScriptHash{}, "", walleterr.Wrap(walleterr.Decode, "derive address", err)
	}
	script, err := txscript.PayToAddrScript(addr)
	if err != nil {
		return core.ScriptHash{}, "", walleterr.Wrap(walleterr.Decode, "build script", err)
	}
	return core.NewScriptHash(script), addr.EncodeAddress(), nil
}

func (m *HDKeyManager) Fingerprint() ([4]byte, error) {
	pub, err := m.master.ECPubKey()
	if err != nil {
		return [4]byte{}, walleterr.Wrap(walleterr.Decode, "master pubkey", err)
	}
	hash := btcutil.Hash160(pub.SerializeCompressed())
	var fp [4]byte
	copy(fp[:], hash[:4])
	return fp, nil
}

func (m *HDKeyManager) PublicKey(path core.Path) ([]byte, error) {
	key, err := m.derive(path)
	if err != nil {
		return nil, err
	}
	pub, err := key.ECPubKey()
	if err != nil {
		return nil, walleterr.Wrap(walleterr.Decode, "child pubkey", err)
	}
	return pub.SerializeCompressed(), nil
}

func (m *HDKeyManager) Signer(path core.Path) (Signer, error) {
	key, err := m.derive(path)
	if err != nil {
		return nil, err
	}
	priv, err := key.ECPrivKey()
	if err != nil {
		return nil, walleterr.Wrap(walleterr.Decode, "child privkey", err)
	}
	return &ecdsaSigner{priv: priv}, nil
}

type ecdsaSigner struct {
	priv *btcec.PrivateKey
}

func (s *ecdsaSigner) Sign(hash []byte) ([]byte, error) {
	sig := ecdsa.Sign(s.priv, hash)
	return sig.Serialize(), nil
}

func (s *ecdsaSigner) PublicKey() []byte {
	return s.priv.PubKey().SerializeCompressed()
}
