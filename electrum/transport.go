// Package electrum implements the persistent, newline-delimited
// JSON-RPC transport to an Electrum-style server: connection lifecycle,
// request/response multiplexing by id, and subscription push routing.
// It is the lowest of the wallet core's components (C1); the Provider
// package builds the typed Electrum facade on top of it.
package electrum

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/arcwallet/electrumwallet/walleterr"
	"github.com/arcwallet/electrumwallet/walletlog"
)

// Transport maintains one TCP connection to an Electrum server,
// multiplexing concurrent RPC calls over it by request id and routing
// subscription pushes to their registered channels. The demux and
// reconnect design follows src/chainadapter/rpc.WebSocketRPCClient,
// adapted from gorilla/websocket framing to raw newline-delimited TCP
// framing (see frame.go) and wrapped in an observable status machine.
type Transport struct {
	cfg    Config
	logger walletlog.Logger

	connMu sync.RWMutex
	conn   net.Conn

	status atomic.Int32

	requestID atomic.Int64

	pendingMu sync.Mutex
	pending   map[int64]*pendingCall

	subsMu        sync.RWMutex
	subscriptions map[string]chan json.RawMessage

	statusMu        sync.Mutex
	statusListeners []chan StatusEvent

	requestErrors chan RequestErrorEvent

	reconnecting atomic.Bool
	closeChan    chan struct{}
	closeOnce    sync.Once

	// resubscribe replays the Provider's active subscriptions after a
	// reconnect. Set via OnReconnect.
	resubscribe func(ctx context.Context) error
}

// New constructs a Transport in the DISCONNECTED state. Call Connect to
// dial.
func New(cfg Config, logger walletlog.Logger) *Transport {
	if logger == nil {
		logger = walletlog.Nop{}
	}
	t := &Transport{
		cfg:           cfg,
		logger:        logger,
		pending:       make(map[int64]*pendingCall),
		subscriptions: make(map[string]chan json.RawMessage),
		requestErrors: make(chan RequestErrorEvent, 64),
		closeChan:     make(chan struct{}),
	}
	t.status.Store(int32(Disconnected))
	return t
}

// Status returns the transport's current state-machine status.
func (t *Transport) Status() Status {
	return Status(t.status.Load())
}

// OnStatusChange registers a channel that receives every status
// transition. The returned channel is buffered (16 events); a transition
// that finds the buffer full is dropped for that listener, so a consumer
// should drain promptly.
func (t *Transport) OnStatusChange() <-chan StatusEvent {
	ch := make(chan StatusEvent, 16)
	t.statusMu.Lock()
	t.statusListeners = append(t.statusListeners, ch)
	t.statusMu.Unlock()
	return ch
}

// RequestErrors returns the channel spec.md §6 names `request-error`:
// frames that failed to decode, or replies whose id matched no pending
// call.
func (t *Transport) RequestErrors() <-chan RequestErrorEvent {
	return t.requestErrors
}

// OnReconnect registers a hook invoked after a successful (re)connect,
// used by the Provider to re-issue its active subscriptions per spec.md
// §4.1's reconnection policy.
func (t *Transport) OnReconnect(fn func(ctx context.Context) error) {
	t.resubscribe = fn
}

func (t *Transport) setStatus(s Status) {
	prev := Status(t.status.Swap(int32(s)))
	if prev == s {
		return
	}
	t.logger.Infof("electrum: status %s -> %s", prev, s)
	ev := StatusEvent{Prev: prev, New: s}
	t.statusMu.Lock()
	listeners := append([]chan StatusEvent(nil), t.statusListeners...)
	t.statusMu.Unlock()
	for _, ch := range listeners {
		select {
		case ch <- ev:
		default:
		}
	}
}

// Connect dials the configured host:port, performs the server.version
// handshake (SPEC_FULL.md §C.2), and starts the read loop and ping
// heartbeat (SPEC_FULL.md §C.1).
func (t *Transport) Connect(ctx context.Context) error {
	if t.Status() == Destroyed {
		return walleterr.New(walleterr.NotConnected, "transport is destroyed")
	}
	t.setStatus(Connecting)

	dialer := net.Dialer{Timeout: t.cfg.DialTimeout}
	addr := fmt.Sprintf("%s:%d", t.cfg.Host, t.cfg.Port)
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		t.setStatus(ErrorStatus)
		return walleterr.Wrap(walleterr.Transport, "dial "+addr, err)
	}

	t.connMu.Lock()
	t.conn = conn
	t.connMu.Unlock()

	t.setStatus(Connected)
	go t.readLoop(conn)
	go t.pingLoop(conn)

	if _, err := t.Call(ctx, "server.version", []interface{}{t.cfg.ClientVersion, t.cfg.ProtocolVersion}); err != nil {
		t.logger.Warnf("electrum: server.version handshake failed: %v", err)
	}

	if t.resubscribe != nil {
		if err := t.resubscribe(ctx); err != nil {
			t.logger.Warnf("electrum: resubscribe after connect failed: %v", err)
		}
	}
	return nil
}

// Call issues a single JSON-RPC request and blocks until the matching
// reply arrives, ctx is cancelled, or the transport is closed.
func (t *Transport) Call(ctx context.Context, method string, params interface{}) (json.RawMessage, error) {
	if t.Status() != Connected {
		return nil, walleterr.New(walleterr.NotConnected, "call attempted while not connected")
	}

	id := t.requestID.Add(1)
	call := &pendingCall{method: method, result: make(chan callResult, 1)}

	t.pendingMu.Lock()
	t.pending[id] = call
	t.pendingMu.Unlock()

	cleanup := func() {
		t.pendingMu.Lock()
		delete(t.pending, id)
		t.pendingMu.Unlock()
	}

	t.connMu.RLock()
	conn := t.conn
	t.connMu.RUnlock()
	if conn == nil {
		cleanup()
		return nil, walleterr.New(walleterr.NotConnected, "no active connection")
	}

	req := wireRequest{JSONRPC: "2.0", ID: id, Method: method, Params: params}
	line, err := json.Marshal(req)
	if err != nil {
		cleanup()
		return nil, walleterr.Wrap(walleterr.Decode, "encode request", err)
	}
	line = append(line, '\n')

	if _, err := conn.Write(line); err != nil {
		cleanup()
		go t.reconnect()
		return nil, walleterr.Wrap(walleterr.Transport, "write request", err)
	}

	select {
	case res := <-call.result:
		if res.err != nil {
			return nil, res.err
		}
		return res.payload, nil
	case <-ctx.Done():
		cleanup()
		return nil, ctx.Err()
	case <-t.closeChan:
		cleanup()
		return nil, walleterr.New(walleterr.Transport, "transport closed")
	}
}

// Subscribe issues the subscribing call (e.g. blockchain.headers.subscribe)
// and returns the channel that will carry every later push on
// pushMethod (e.g. the same "blockchain.headers.subscribe", which
// Electrum also uses as the notification method name). The initial
// reply to the subscribing call is returned separately so the caller
// can seed its initial state (e.g. current tip height).
func (t *Transport) Subscribe(ctx context.Context, method string, params interface{}, pushMethod string) (json.RawMessage, <-chan json.RawMessage, error) {
	t.subsMu.Lock()
	ch, exists := t.subscriptions[pushMethod]
	if !exists {
		ch = make(chan json.RawMessage, 128)
		t.subscriptions[pushMethod] = ch
	}
	t.subsMu.Unlock()

	initial, err := t.Call(ctx, method, params)
	if err != nil {
		return nil, nil, err
	}
	return initial, ch, nil
}

// failPending fails every in-flight call with Transport, per spec.md
// §4.1's reconnection policy ("in-flight requests at the time of
// disconnect are failed with Transport").
func (t *Transport) failPending(cause error) {
	t.pendingMu.Lock()
	pending := t.pending
	t.pending = make(map[int64]*pendingCall)
	t.pendingMu.Unlock()

	for _, call := range pending {
		call.result <- callResult{err: walleterr.Wrap(walleterr.Transport, "connection lost", cause)}
	}
}

func (t *Transport) readLoop(conn net.Conn) {
	reader := newFrameReader(conn)
	for {
		frame, err := reader.next()
		if err != nil {
			if t.Status() == Destroyed {
				return
			}
			t.failPending(err)
			t.setStatus(ErrorStatus)
			go t.reconnect()
			return
		}
		if len(frame) == 0 {
			continue
		}
		t.dispatch(frame)
	}
}

func (t *Transport) pingLoop(conn net.Conn) {
	if t.cfg.PingInterval <= 0 {
		return
	}
	ticker := time.NewTicker(t.cfg.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-t.closeChan:
			return
		case <-ticker.C:
			t.connMu.RLock()
			current := t.conn
			t.connMu.RUnlock()
			if current != conn {
				// a reconnect swapped the connection; this loop's
				// generation is stale.
				return
			}
			ctx, cancel := context.WithTimeout(context.Background(), t.cfg.DialTimeout)
			_, err := t.Call(ctx, "server.ping", nil)
			cancel()
			if err != nil {
				t.logger.Warnf("electrum: server.ping failed: %v", err)
			}
		}
	}
}

// reconnect implements spec.md §4.1: close the existing socket,
// transition DISCONNECTED -> CONNECTING -> CONNECTED, and re-issue any
// subscriptions via the OnReconnect hook. Exponential backoff mirrors
// src/chainadapter/rpc.WebSocketRPCClient.reconnect.
func (t *Transport) reconnect() {
	if !t.reconnecting.CompareAndSwap(false, true) {
		return
	}
	defer t.reconnecting.Store(false)

	t.setStatus(Disconnected)

	t.connMu.Lock()
	if t.conn != nil {
		t.conn.Close()
		t.conn = nil
	}
	t.connMu.Unlock()

	backoff := time.Second
	const maxBackoff = 60 * time.Second
	for {
		select {
		case <-t.closeChan:
			return
		case <-time.After(backoff):
		}
		if t.Status() == Destroyed {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), t.cfg.DialTimeout)
		err := t.Connect(ctx)
		cancel()
		if err == nil {
			return
		}
		backoff *= 2
		if backoff > maxBackoff {
			backoff = maxBackoff
		}
	}
}

// Close gracefully shuts the transport down: DESTROYED is terminal, no
// further Connect is possible.
func (t *Transport) Close() error {
	t.closeOnce.Do(func() {
		close(t.closeChan)
	})
	t.setStatus(Destroyed)
	t.failPending(walleterr.New(walleterr.Transport, "transport destroyed"))

	t.connMu.Lock()
	defer t.connMu.Unlock()
	if t.conn != nil {
		return t.conn.Close()
	}
	return nil
}
