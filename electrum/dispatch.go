package electrum

import (
	"encoding/json"
	"strings"

	"github.com/arcwallet/electrumwallet/walleterr"
)

// wireRequest is the outgoing JSON-RPC envelope.
type wireRequest struct {
	JSONRPC string      `json:"jsonrpc"`
	ID      int64       `json:"id"`
	Method  string      `json:"method"`
	Params  interface{} `json:"params"`
}

// wireError is the JSON-RPC error object an Electrum server returns.
type wireError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// wireFrame is the shape used to sniff an incoming frame before
// deciding whether it is an RPC reply or a subscription push, per
// spec.md §4.1's demultiplex rules. ID is a pointer so "id omitted" and
// "id: null" are distinguishable from "id: 0".
type wireFrame struct {
	ID     *int64          `json:"id"`
	Method string          `json:"method"`
	Params json.RawMessage `json:"params"`
	Result json.RawMessage `json:"result"`
	Error  *wireError      `json:"error"`
}

// pendingCall is one in-flight request awaiting its reply.
type pendingCall struct {
	method string
	result chan callResult
}

type callResult struct {
	payload json.RawMessage
	err     error
}

// RequestErrorEvent is emitted when a reply frame's id does not match
// any pending call (spec.md §4.1 rule 4): either the server replied
// twice, or replied after the caller's request already timed out and
// was removed from the pending table.
type RequestErrorEvent struct {
	Frame []byte
	Err   error
}

// dispatch implements spec.md §4.1's demultiplex rules for one decoded
// frame. It never returns an error itself: decode failures and orphaned
// replies are observations (emitted on requestErrors), not fatal to the
// connection.
func (t *Transport) dispatch(raw []byte) {
	var frame wireFrame
	if err := json.Unmarshal(raw, &frame); err != nil {
		t.emitRequestError(raw, walleterr.Wrap(walleterr.Decode, "non-JSON frame", err))
		return
	}

	if frame.Method != "" && strings.HasSuffix(frame.Method, ".subscribe") {
		t.routeSubscription(frame.Method, frame.Params)
		return
	}

	if frame.ID == nil {
		t.emitRequestError(raw, walleterr.New(walleterr.Decode, "frame has neither id nor subscribe method"))
		return
	}

	t.pendingMu.Lock()
	call, ok := t.pending[*frame.ID]
	if ok {
		delete(t.pending, *frame.ID)
	}
	t.pendingMu.Unlock()

	if !ok {
		t.emitRequestError(raw, walleterr.New(walleterr.Decode, "no pending call for id"))
		return
	}

	switch {
	case frame.Error != nil:
		call.result <- callResult{err: walleterr.RemoteError(call.method, frame.Error.Message, nil)}
	default:
		// result present, including a JSON null, is success.
		call.result <- callResult{payload: frame.Result}
	}
}

func (t *Transport) emitRequestError(raw []byte, err error) {
	t.logger.Warnf("electrum: request-error: %v", err)
	select {
	case t.requestErrors <- RequestErrorEvent{Frame: append([]byte(nil), raw...), Err: err}:
	default:
	}
}

func (t *Transport) routeSubscription(method string, params json.RawMessage) {
	t.subsMu.RLock()
	ch, ok := t.subscriptions[method]
	t.subsMu.RUnlock()
	if !ok {
		return
	}
	select {
	case ch <- params:
	default:
		t.logger.Warnf("electrum: subscription channel full for %s, dropping notification", method)
	}
}
