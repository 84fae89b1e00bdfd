// Package txbuilder implements the wallet core's Transaction Builder
// (C7): two-pass fee-aware PSBT assembly over a UTXO set the Sync
// Manager selects and locks, signed through the external KeyManager
// and broadcast through the Provider.
package txbuilder

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/hex"
	"time"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"github.com/btcsuite/btcd/btcutil/psbt"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"

	"github.com/arcwallet/electrumwallet/core"
	"github.com/arcwallet/electrumwallet/keymgr"
	"github.com/arcwallet/electrumwallet/ledger"
	"github.com/arcwallet/electrumwallet/provider"
	"github.com/arcwallet/electrumwallet/sync"
	"github.com/arcwallet/electrumwallet/walleterr"
	"github.com/arcwallet/electrumwallet/walletlog"
)

// Builder is the Transaction Builder. It coordinates four already-built
// components rather than owning any state of its own: the Sync Manager
// for coin selection and change-address derivation, the KeyManager for
// BIP32 derivation and signing, the Provider for broadcast, and the
// Ledger for the broadcast record.
type Builder struct {
	provider *provider.Provider
	sync     *sync.Manager
	ledger   *ledger.Ledger
	km       keymgr.KeyManager
	params   *chaincfg.Params
	cfg      Config
	logger   walletlog.Logger
}

// New constructs a Builder. network selects the chain parameters used
// to decode the recipient address; it must match the network km and
// sm were configured for.
func New(p *provider.Provider, sm *sync.Manager, lgr *ledger.Ledger, km keymgr.KeyManager, network keymgr.Network, cfg Config, logger walletlog.Logger) (*Builder, error) {
	params, err := keymgr.ParamsForNetwork(network)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = walletlog.Nop{}
	}
	return &Builder{
		provider: p,
		sync:     sm,
		ledger:   lgr,
		km:       km,
		params:   params,
		cfg:      cfg.withDefaults(),
		logger:   logger,
	}, nil
}

// Send builds, signs, and broadcasts a payment to req.ToAddress, per
// spec.md §4.7's two-pass probe/finalize algorithm.
func (b *Builder) Send(ctx context.Context, req SendRequest) (*BuildResult, error) {
	if req.FeeRate <= 0 || req.FeeRate > b.cfg.MaxFeeRate {
		return nil, walleterr.New(walleterr.InvalidFee, "fee rate must be within (0, max_fee_limit]")
	}
	if req.Amount <= DustLimit {
		return nil, walleterr.New(walleterr.DustOutput, "send amount at or below the dust limit")
	}
	if !req.Amount.IsPositive() {
		return nil, walleterr.New(walleterr.InvalidFee, "send amount must be strictly positive")
	}

	recipient, err := btcutil.DecodeAddress(req.ToAddress, b.params)
	if err != nil {
		return nil, walleterr.Wrap(walleterr.Decode, "decode recipient address", err)
	}
	recipientScript, err := txscript.PayToAddrScript(recipient)
	if err != nil {
		return nil, walleterr.Wrap(walleterr.Decode, "build recipient script", err)
	}

	_, _, changeAddr, err := b.sync.NextChangeAddress(ctx)
	if err != nil {
		return nil, err
	}
	changeAddress, err := btcutil.DecodeAddress(changeAddr, b.params)
	if err != nil {
		return nil, walleterr.Wrap(walleterr.Decode, "decode change address", err)
	}
	changeScript, err := txscript.PayToAddrScript(changeAddress)
	if err != nil {
		return nil, walleterr.Wrap(walleterr.Decode, "build change script", err)
	}

	// Probe pass: weight = 1, per spec.md §4.7 step 1.
	sel, err := b.sync.UTXOForAmount(sync.AmountRequest{Amount: req.Amount + req.FeeRate})
	if err != nil {
		return nil, err
	}
	probe, sel, err := b.probe(sel, req, recipientScript, changeScript)
	if err != nil {
		b.sync.UnlockUTXO(sel, false) //nolint:errcheck
		return nil, err
	}

	// Finalize pass: weight = vSize from the probe, per step 2.
	final, err := b.assemble(sel, req, recipientScript, changeScript, probe.vSize)
	if err != nil {
		b.sync.UnlockUTXO(sel, false) //nolint:errcheck
		return nil, err
	}
	if final.change != 0 && final.change < DustLimit {
		b.sync.UnlockUTXO(sel, false) //nolint:errcheck
		return nil, walleterr.New(walleterr.DustOutput, "finalize pass change below dust limit")
	}

	txid, err := b.provider.BroadcastTransaction(ctx, final.hex)
	if err != nil {
		b.sync.UnlockUTXO(sel, false) //nolint:errcheck
		return nil, walleterr.Wrap(walleterr.BroadcastFailed, "broadcast transaction", err)
	}

	if err := b.sync.UnlockUTXO(sel, true); err != nil {
		b.logger.Errorf("txbuilder: unlock utxos after broadcast of %s: %v", txid, err)
	}
	rec := ledger.BroadcastRecord{TxID: txid, Hex: final.hex, BroadcastAt: time.Now().Unix()}
	if err := b.ledger.RecordBroadcast(rec); err != nil {
		b.logger.Errorf("txbuilder: record broadcast %s: %v", txid, err)
	}

	return &BuildResult{TxID: txid, Hex: final.hex, VSize: final.vSize, Fee: final.fee, Change: final.change}, nil
}

// probe runs the weight=1 pass and, if the resulting change would be
// dust, releases the selection, requests a larger one covering the
// shortfall, and retries once. A second dust result fails with
// Insufficient and releases every lock, per spec.md §8's "re-request
// once, then fail" property.
func (b *Builder) probe(sel sync.Selection, req SendRequest, recipientScript, changeScript []byte) (*assembled, sync.Selection, error) {
	built, err := b.assemble(sel, req, recipientScript, changeScript, 1)
	if err != nil {
		return nil, sel, err
	}
	if built.change == 0 || built.change >= DustLimit {
		return built, sel, nil
	}

	if err := b.sync.UnlockUTXO(sel, false); err != nil {
		return nil, sel, err
	}
	retrySel, err := b.sync.UTXOForAmount(sync.AmountRequest{Amount: sel.Total + req.FeeRate})
	if err != nil {
		return nil, retrySel, err
	}
	built, err = b.assemble(retrySel, req, recipientScript, changeScript, 1)
	if err != nil {
		return nil, retrySel, err
	}
	if built.change != 0 && built.change < DustLimit {
		b.sync.UnlockUTXO(retrySel, false) //nolint:errcheck
		return nil, retrySel, walleterr.New(walleterr.Insufficient, "change remains below dust limit after retry")
	}
	return built, retrySel, nil
}

// assemble builds, signs, and finalizes one candidate transaction at a
// given fee weight (1 for the probe pass, the probe's measured vSize
// for the finalize pass), per spec.md §4.7.
func (b *Builder) assemble(sel sync.Selection, req SendRequest, recipientScript, changeScript []byte, weight int64) (*assembled, error) {
	fee := req.FeeRate.Scale(weight)
	change := sel.Total - req.Amount - fee
	if change < 0 {
		return nil, walleterr.New(walleterr.Insufficient, "selected utxos do not cover amount plus fee")
	}

	tx := wire.NewMsgTx(wire.TxVersion)
	prevOuts := make(map[wire.OutPoint]*wire.TxOut, len(sel.UTXOs))
	for _, u := range sel.UTXOs {
		hash, err := chainhash.NewHashFromStr(u.TxID)
		if err != nil {
			return nil, walleterr.Wrap(walleterr.Decode, "parse utxo txid", err)
		}
		outpoint := wire.NewOutPoint(hash, u.Vout)
		tx.AddTxIn(wire.NewTxIn(outpoint, nil, nil))

		pkScript, err := hex.DecodeString(u.WitnessHex)
		if err != nil {
			return nil, walleterr.Wrap(walleterr.Decode, "decode utxo script", err)
		}
		prevOuts[*outpoint] = wire.NewTxOut(int64(u.Value), pkScript)
	}

	tx.AddTxOut(wire.NewTxOut(int64(req.Amount), recipientScript))
	if change != 0 {
		tx.AddTxOut(wire.NewTxOut(int64(change), changeScript))
	}

	packet, err := psbt.NewFromUnsignedTx(tx)
	if err != nil {
		return nil, walleterr.Wrap(walleterr.Decode, "build psbt", err)
	}
	updater, err := psbt.NewUpdater(packet)
	if err != nil {
		return nil, walleterr.Wrap(walleterr.Decode, "build psbt updater", err)
	}

	fetcher := txscript.NewMultiPrevOutFetcher(prevOuts)
	sigHashes := txscript.NewTxSigHashes(tx, fetcher)

	fingerprintBytes, err := b.km.Fingerprint()
	if err != nil {
		return nil, err
	}
	fingerprint := binary.LittleEndian.Uint32(fingerprintBytes[:])

	for i, u := range sel.UTXOs {
		outpoint := tx.TxIn[i].PreviousOutPoint
		if err := updater.AddInWitnessUtxo(prevOuts[outpoint], i); err != nil {
			return nil, walleterr.Wrap(walleterr.Decode, "add witness utxo", err)
		}
		if err := updater.AddInSighashType(txscript.SigHashAll, i); err != nil {
			return nil, walleterr.Wrap(walleterr.Decode, "add sighash type", err)
		}

		pub, err := b.km.PublicKey(u.Path)
		if err != nil {
			return nil, err
		}
		if err := updater.AddInBip32Derivation(fingerprint, derivationPath(u.Path), pub, i); err != nil {
			return nil, walleterr.Wrap(walleterr.Decode, "add bip32 derivation", err)
		}

		if err := b.signInput(updater, tx, sigHashes, i, u); err != nil {
			return nil, err
		}
	}

	done, err := psbt.MaybeFinalizeAll(packet)
	if err != nil {
		return nil, walleterr.Wrap(walleterr.Decode, "finalize psbt", err)
	}
	if !done {
		return nil, walleterr.New(walleterr.Decode, "psbt inputs did not finalize")
	}

	finalTx, err := psbt.Extract(packet)
	if err != nil {
		return nil, walleterr.Wrap(walleterr.Decode, "extract final transaction", err)
	}

	var buf bytes.Buffer
	if err := finalTx.Serialize(&buf); err != nil {
		return nil, walleterr.Wrap(walleterr.Decode, "serialize final transaction", err)
	}

	// vSize per BIP141: weight = 3*stripped_size + total_size, vsize =
	// ceil(weight / 4). wire.MsgTx exposes both sizes directly so this
	// needs no extra dependency beyond what's already imported.
	stripped := finalTx.SerializeSizeStripped()
	total := finalTx.SerializeSize()
	txWeight := stripped*3 + total
	vSize := int64((txWeight + 3) / 4)

	return &assembled{
		hex:    hex.EncodeToString(buf.Bytes()),
		vSize:  vSize,
		fee:    fee,
		change: change,
	}, nil
}

// derivationPath renders p as the []uint32 BIP32 component list a PSBT
// input's derivation field expects, hardening purpose/coin/account the
// same way keymgr.HDKeyManager.derive does.
func derivationPath(p core.Path) []uint32 {
	return []uint32{
		hdkeychain.HardenedKeyStart + p.Purpose,
		hdkeychain.HardenedKeyStart + p.Coin,
		hdkeychain.HardenedKeyStart + p.Account,
		uint32(p.Change),
		p.Index,
	}
}
