package txbuilder

import (
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/btcutil/psbt"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"

	"github.com/arcwallet/electrumwallet/core"
	"github.com/arcwallet/electrumwallet/hdpath"
	"github.com/arcwallet/electrumwallet/walleterr"
)

// signInput computes idx's BIP143 witness sighash and adds the
// resulting partial signature to the PSBT. Only the two witness-capable
// script kinds the reference KeyManager derives by default are
// supported: P2WPKH and its P2SH-nested form. A KeyManager configured
// for legacy P2PKH or taproot paths cannot be spent from by this
// Builder; see DESIGN.md.
func (b *Builder) signInput(updater *psbt.Updater, tx *wire.MsgTx, sigHashes *txscript.TxSigHashes, idx int, u core.UTXO) error {
	addrType := hdpath.GetAddressType(u.Path)

	pub, err := b.km.PublicKey(u.Path)
	if err != nil {
		return err
	}
	pubKeyHash := btcutil.Hash160(pub)
	scriptCodeAddr, err := btcutil.NewAddressPubKeyHash(pubKeyHash, b.params)
	if err != nil {
		return walleterr.Wrap(walleterr.Decode, "build script-code address", err)
	}
	scriptCode, err := txscript.PayToAddrScript(scriptCodeAddr)
	if err != nil {
		return walleterr.Wrap(walleterr.Decode, "build script code", err)
	}

	var redeemScript []byte
	switch addrType {
	case core.AddressP2WPKH:
		// scriptCode is already the correct BIP143 script; no redeem
		// script, since the prevout pays the witness program directly.
	case core.AddressP2SHP2WPKH:
		witnessProg, err := btcutil.NewAddressWitnessPubKeyHash(pubKeyHash, b.params)
		if err != nil {
			return walleterr.Wrap(walleterr.Decode, "build witness program address", err)
		}
		redeemScript, err = txscript.PayToAddrScript(witnessProg)
		if err != nil {
			return walleterr.Wrap(walleterr.Decode, "build redeem script", err)
		}
	default:
		return walleterr.New(walleterr.Decode, "unsupported address type for signing: "+string(addrType))
	}

	sigHash, err := txscript.CalcWitnessSigHash(scriptCode, sigHashes, txscript.SigHashAll, tx, idx, int64(u.Value))
	if err != nil {
		return walleterr.Wrap(walleterr.Decode, "compute witness sighash", err)
	}

	signer, err := b.km.Signer(u.Path)
	if err != nil {
		return err
	}
	sig, err := signer.Sign(sigHash)
	if err != nil {
		return walleterr.Wrap(walleterr.Decode, "sign input", err)
	}
	sigWithHashType := append(append([]byte{}, sig...), byte(txscript.SigHashAll))

	if _, err := updater.Sign(idx, sigWithHashType, signer.PublicKey(), redeemScript, nil); err != nil {
		return walleterr.Wrap(walleterr.Decode, "add partial signature", err)
	}
	return nil
}
