package provider

import (
	"context"
	"encoding/json"
	"time"

	"github.com/btcsuite/btcd/btcutil"

	"github.com/arcwallet/electrumwallet/core"
	"github.com/arcwallet/electrumwallet/walleterr"
)

// GetTransaction assembles the rich TransactionView for txid, per
// spec.md §4.3: fetch the raw (verbose) transaction, compute its height
// from the server's confirmations count, resolve every output to an
// address (marking non-standard ones), and recursively resolve every
// input to the prior output it spends (synthesizing the coinbase
// subsidy where applicable).
func (p *Provider) GetTransaction(ctx context.Context, txid string, opts GetTxOptions) (*core.TransactionView, error) {
	useCache := opts.Cache
	if cached, ok := p.cache.Get(txid); ok && useCache {
		if cached.Height != 0 {
			return cached, nil
		}
		// height == 0 cached views are never served: they may confirm.
	}

	raw, err := p.transport.Call(ctx, methodTransactionGet, []interface{}{txid, true})
	if err != nil {
		return nil, err
	}
	var vtx verboseTx
	if err := json.Unmarshal(raw, &vtx); err != nil {
		return nil, walleterr.Wrap(walleterr.Decode, "decode transaction.get reply", err)
	}

	height := int64(0)
	if vtx.Confirmations > 0 {
		height = p.tipHeight.Load() - (vtx.Confirmations - 1)
	}

	outputs, sumOut, err := p.resolveOutputs(vtx.Vout, txid, height)
	if err != nil {
		return nil, err
	}

	inputs, sumIn, unconfirmedInputs, coinbase, err := p.resolveInputs(ctx, vtx.Vin, height)
	if err != nil {
		return nil, err
	}

	fee := sumIn.Sub(sumOut)
	if sumIn == 0 {
		fee = 0
	}

	view := &core.TransactionView{
		TxID:              txid,
		Height:            height,
		Inputs:            inputs,
		Outputs:           outputs,
		Fee:               fee,
		Coinbase:          coinbase,
		UnconfirmedInputs: unconfirmedInputs,
	}
	if coinbase && height > 0 {
		view.Subsidy = core.SubsidyAt(height - 1)
	}

	if err := p.cache.Set(txid, view, time.Time{}); err != nil {
		p.logger.Warnf("provider: cache.Set(%s) failed: %v", txid, err)
	}
	return view, nil
}

func (p *Provider) resolveOutputs(vouts []verboseVout, txid string, height int64) ([]core.TxOutput, core.Amount, error) {
	outputs := make([]core.TxOutput, 0, len(vouts))
	var sumOut core.Amount
	for _, vout := range vouts {
		amt, err := btcutil.NewAmount(vout.Value)
		if err != nil {
			return nil, 0, walleterr.Wrap(walleterr.Decode, "parse output value", err)
		}
		value := core.Amount(int64(amt))

		addr, ok := vout.ScriptPubKey.address()
		if !ok && p.encoder != nil {
			if resolved, err := p.encoder.AddressForScript(vout.ScriptPubKey.Hex); err == nil {
				addr, ok = resolved, true
			}
		}

		out := core.TxOutput{
			Vout:       vout.N,
			Address:    addr,
			Value:      value,
			WitnessHex: vout.ScriptPubKey.Hex,
			TxID:       txid,
			Height:     height,
			StdOut:     ok,
		}
		outputs = append(outputs, out)
		if ok {
			sumOut = sumOut.Add(value)
		}
	}
	return outputs, sumOut, nil
}

// resolveInputs recursively resolves each input to the prior output it
// spends via a nested GetTransaction call (itself cacheable). Inputs are
// resolved one at a time, in order.
func (p *Provider) resolveInputs(ctx context.Context, vins []verboseVin, height int64) ([]core.TxInput, core.Amount, bool, bool, error) {
	inputs := make([]core.TxInput, len(vins))
	var sumIn core.Amount
	unconfirmedInputs := false
	coinbase := false

	for i, vin := range vins {
		if vin.isCoinbase() {
			coinbase = true
			subsidy := core.Amount(0)
			if height > 0 {
				subsidy = core.SubsidyAt(height - 1)
			}
			inputs[i] = core.TxInput{Coinbase: true, Value: subsidy}
			continue
		}

		parent, err := p.GetTransaction(ctx, vin.Txid, GetTxOptions{Cache: true})
		if err != nil {
			inputs[i] = core.TxInput{PrevTxID: vin.Txid, PrevVout: vin.Vout, Unresolved: true}
			continue
		}
		if parent.Height == 0 {
			unconfirmedInputs = true
		}

		var prevOut *core.TxOutput
		for j := range parent.Outputs {
			if parent.Outputs[j].Vout == vin.Vout {
				prevOut = &parent.Outputs[j]
				break
			}
		}
		if prevOut == nil {
			inputs[i] = core.TxInput{PrevTxID: vin.Txid, PrevVout: vin.Vout, Unresolved: true}
			continue
		}

		inputs[i] = core.TxInput{
			PrevTxID:   vin.Txid,
			PrevVout:   vin.Vout,
			Address:    prevOut.Address,
			Value:      prevOut.Value,
			PrevHeight: parent.Height,
		}
		sumIn = sumIn.Add(prevOut.Value)
	}
	return inputs, sumIn, unconfirmedInputs, coinbase, nil
}
