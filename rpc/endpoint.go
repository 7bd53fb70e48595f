package rpc

import (
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/smolrpc/smolrpc/async"
	"github.com/smolrpc/smolrpc/codec"
	"github.com/smolrpc/smolrpc/rpc/wire"
)

// ErrHandshake wraps any failure surfaced at handshake time: a protocol
// name mismatch, a missing or mis-signatured method, or an explicit error
// hello from the peer. Both rpcclient and rpcserver treat it as
// reconnect-worthy on the client side and connection-closing on the
// server side, per spec.md §7.
type ErrHandshake struct {
	Message string
}

func (e *ErrHandshake) Error() string { return "smolrpc/rpc: handshake failed: " + e.Message }

type pendingCall struct {
	resolve func([]byte)
	reject  func(error)
}

type pendingInvocation struct {
	methodName string
	messageID  uint64
	args       []byte
	call       pendingCall
}

// Endpoint is the negotiated, running state of one connection: the method
// ID tables produced by the handshake, the table of calls awaiting a
// reply, and the dispatcher that routes inbound frames by method_id. Both
// rpcserver's per-connection client record and rpcclient.Client hold one,
// matching spec.md §4.5–§4.7's description of connection state as shared
// between the two roles.
type Endpoint struct {
	conn   *wire.Conn
	log    *zap.Logger
	client bool // true for a connection that sent the client hello

	ownProtocol *ProtocolDescriptor
	impl        any

	peerProtocolName string
	peerMethods      []MethodDescriptor

	mu                     sync.Mutex
	peerMethodIDByName     map[string]int32
	nextMessageID          uint64
	pending                map[uint64]pendingCall
	pendingBeforeHandshake []pendingInvocation
	handshakeComplete      bool

	// OnHandshakeComplete is invoked once, with a non-nil error only on
	// failure, after the handshake resolves in either direction.
	OnHandshakeComplete func(err error)
}

// NewEndpoint builds an unattached Endpoint. Call ServeServer or
// ServeClient next, depending on the connection's role, to wire it to
// conn and begin the handshake.
func NewEndpoint(log *zap.Logger, ownProtocol *ProtocolDescriptor, impl any, peerProtocolName string, peerMethods []MethodDescriptor) *Endpoint {
	return &Endpoint{
		log:                log,
		ownProtocol:        ownProtocol,
		impl:               impl,
		peerProtocolName:   peerProtocolName,
		peerMethods:        peerMethods,
		peerMethodIDByName: make(map[string]int32),
		pending:            make(map[uint64]pendingCall),
	}
}

// SetImpl assigns (or replaces) the implementation object dispatch routes
// invocations against. Used by rpcserver, which must hand a live *Endpoint
// to its ImplFactory before the implementation it returns exists, then
// attach the implementation afterward.
func (e *Endpoint) SetImpl(impl any) {
	e.mu.Lock()
	e.impl = impl
	e.mu.Unlock()
}

// ServeServer attaches the endpoint to conn in the listening-side role: it
// waits for a client hello, validates it against ownProtocol/peerMethods,
// and replies with a server hello (an error hello on mismatch).
func (e *Endpoint) ServeServer(conn *wire.Conn) {
	e.conn = conn
	e.client = false
	conn.OnHandshake = e.handleClientHello
	conn.OnMessage = e.dispatch
}

// ServeClient attaches the endpoint to conn in the connecting-side role: it
// immediately sends a client hello advertising ownProtocol and requesting
// peerMethods, then waits for the server hello.
func (e *Endpoint) ServeClient(conn *wire.Conn) error {
	e.conn = conn
	e.client = true
	conn.OnHandshake = e.handleServerHello
	conn.OnMessage = e.dispatch

	hello := &wire.ClientHello{
		Magic:                        wire.ClientMagic,
		RequestedServerProtocolName:  e.peerProtocolName,
		AdvertisedClientProtocolName: e.ownProtocol.Name,
		RequestedServerMethods:       namedSignatures(e.peerMethods),
		AdvertisedClientMethods:      e.ownProtocol.NamedSignatures(),
	}
	return conn.WriteHello(hello.Encode())
}

func namedSignatures(methods []MethodDescriptor) []wire.NamedSignature {
	out := make([]wire.NamedSignature, len(methods))
	for i, m := range methods {
		out[i] = wire.NamedSignature{Name: m.Name, Signature: m.Signature}
	}
	return out
}

// handleClientHello runs on the server side when the client's hello
// envelope arrives: verifies magic and protocol names, cross-checks
// signatures in both directions, and replies with either a server hello
// carrying assigned method IDs or an error hello, per spec.md §4.5.
func (e *Endpoint) handleClientHello(envelope []byte) {
	hello, err := wire.DecodeClientHello(envelope)
	if err != nil {
		e.log.Error("malformed client hello", zap.Error(err))
		e.conn.Close()
		if e.OnHandshakeComplete != nil {
			e.OnHandshakeComplete(fmt.Errorf("smolrpc/rpc: malformed client hello: %w", err))
		}
		return
	}
	if hello.Magic != wire.ClientMagic {
		e.failHandshake(fmt.Sprintf("bad client magic %x", hello.Magic))
		return
	}
	if hello.RequestedServerProtocolName != e.ownProtocol.Name {
		e.failHandshake(fmt.Sprintf("requested protocol %q does not match %q", hello.RequestedServerProtocolName, e.ownProtocol.Name))
		return
	}
	if hello.AdvertisedClientProtocolName != e.peerProtocolName {
		e.failHandshake(fmt.Sprintf("advertised client protocol %q does not match expected %q", hello.AdvertisedClientProtocolName, e.peerProtocolName))
		return
	}

	// The methods we intend to call on the client: look up by name in its
	// advertised list, verifying signatures char-for-char.
	advertised := make(map[string]string, len(hello.AdvertisedClientMethods))
	for _, m := range hello.AdvertisedClientMethods {
		advertised[m.Name] = m.Signature
	}
	for _, want := range e.peerMethods {
		got, ok := advertised[want.Name]
		if !ok {
			e.failHandshake(fmt.Sprintf("client does not advertise method %q", want.Name))
			return
		}
		if got != want.Signature {
			e.failHandshake(fmt.Sprintf("method %q signature mismatch: want %q, got %q", want.Name, want.Signature, got))
			return
		}
	}

	// The methods the client requested of us: look up by name in our own
	// table, assign IDs positionally in the order requested.
	ids := make([]int32, len(hello.RequestedServerMethods))
	for i, want := range hello.RequestedServerMethods {
		method, ok := e.ownProtocol.Find(want.Name)
		if !ok {
			e.failHandshake(fmt.Sprintf("unknown requested method %q", want.Name))
			return
		}
		if method.Signature != want.Signature {
			e.failHandshake(fmt.Sprintf("method %q signature mismatch: want %q, got %q", want.Name, want.Signature, method.Signature))
			return
		}
		ids[i] = int32(e.indexOfOwnMethod(want.Name))
	}

	// The server calls the client's methods by the positional index the
	// client advertised them in — the client hello carries no separate ID
	// table for its own methods, so that advertised order is what's
	// stable for the life of the connection.
	e.mu.Lock()
	for i, m := range hello.AdvertisedClientMethods {
		e.peerMethodIDByName[m.Name] = int32(i)
	}
	e.handshakeComplete = true
	toFlush := e.pendingBeforeHandshake
	e.pendingBeforeHandshake = nil
	e.mu.Unlock()

	reply := &wire.ServerHello{Magic: wire.ServerMagic, MethodIDs: ids}
	if err := e.conn.WriteHello(reply.Encode()); err != nil {
		e.log.Error("writing server hello", zap.Error(err))
		e.conn.Close()
		if e.OnHandshakeComplete != nil {
			e.OnHandshakeComplete(fmt.Errorf("smolrpc/rpc: writing server hello: %w", err))
		}
		return
	}

	for _, inv := range toFlush {
		e.conn.Invoke(e.peerMethodIDByName[inv.methodName], inv.messageID, inv.args)
	}
	if e.OnHandshakeComplete != nil {
		e.OnHandshakeComplete(nil)
	}
}

// indexOfOwnMethod returns the position of name in ownProtocol.Methods —
// the server's own stable local index, handed to the client as the ID it
// must use to invoke that method.
func (e *Endpoint) indexOfOwnMethod(name string) int {
	for i, m := range e.ownProtocol.Methods {
		if m.Name == name {
			return i
		}
	}
	return -1
}

func (e *Endpoint) failHandshake(message string) {
	e.log.Warn("handshake rejected", zap.String("reason", message))
	reply := &wire.ServerHello{Magic: wire.ServerMagic, ErrorMessage: message}
	e.conn.WriteHello(reply.Encode())
	e.conn.Close()
	if e.OnHandshakeComplete != nil {
		e.OnHandshakeComplete(&ErrHandshake{Message: message})
	}
}

// handleServerHello runs on the client side when the server's hello
// arrives: verifies magic, checks for an explicit error or a count
// mismatch (either is reconnect-worthy per spec.md §4.7), records the
// method-ID table, and flushes any calls queued before the handshake
// completed.
func (e *Endpoint) handleServerHello(envelope []byte) {
	hello, err := wire.DecodeServerHello(envelope)
	if err != nil {
		if e.OnHandshakeComplete != nil {
			e.OnHandshakeComplete(fmt.Errorf("smolrpc/rpc: malformed server hello: %w", err))
		}
		return
	}
	if hello.Magic != wire.ServerMagic {
		if e.OnHandshakeComplete != nil {
			e.OnHandshakeComplete(&ErrHandshake{Message: fmt.Sprintf("bad server magic %x", hello.Magic)})
		}
		return
	}
	if hello.ErrorMessage != "" {
		if e.OnHandshakeComplete != nil {
			e.OnHandshakeComplete(&ErrHandshake{Message: hello.ErrorMessage})
		}
		return
	}
	if len(hello.MethodIDs) != len(e.peerMethods) {
		if e.OnHandshakeComplete != nil {
			e.OnHandshakeComplete(&ErrHandshake{Message: fmt.Sprintf("server returned %d method IDs, requested %d", len(hello.MethodIDs), len(e.peerMethods))})
		}
		return
	}

	e.mu.Lock()
	for i, m := range e.peerMethods {
		e.peerMethodIDByName[m.Name] = hello.MethodIDs[i]
	}
	e.handshakeComplete = true
	toFlush := e.pendingBeforeHandshake
	e.pendingBeforeHandshake = nil
	e.mu.Unlock()

	for _, inv := range toFlush {
		e.conn.Invoke(e.peerMethodIDByName[inv.methodName], inv.messageID, inv.args)
	}
	if e.OnHandshakeComplete != nil {
		e.OnHandshakeComplete(nil)
	}
}

// dispatch routes one inbound frame by method_id: >=0 invokes a local
// thunk and replies; -1 fulfills a pending call; -2 rejects one. Any
// decode failure or routing miss is handled as spec.md §7 describes
// without closing the connection, except for frames that fail to decode
// at the transport layer at all (handled by Conn.ReadLoop's caller).
func (e *Endpoint) dispatch(msg *wire.Message) {
	switch {
	case msg.MethodID >= 0:
		e.dispatchInvocation(msg)
	case msg.MethodID == wire.ReplyMethodID:
		e.resolvePending(msg.MessageID, msg.Args, nil)
	case msg.MethodID == wire.ErrorMethodID:
		text, err := decodeErrorArgs(msg.Args)
		if err != nil {
			text = "smolrpc/rpc: malformed error payload"
		}
		e.resolvePending(msg.MessageID, nil, fmt.Errorf("smolrpc/rpc: peer error: %s", text))
	default:
		e.log.Warn("frame with unrecognized method_id", zap.Int32("method_id", msg.MethodID))
	}
}

func (e *Endpoint) dispatchInvocation(msg *wire.Message) {
	idx := int(msg.MethodID)
	if idx < 0 || idx >= len(e.ownProtocol.Methods) {
		e.conn.ReportError(msg.MessageID, "Unknown method")
		return
	}
	method := e.ownProtocol.Methods[idx]
	result := method.Thunk(e.impl, msg.Args)
	async.Subscribe(result, func(b []byte) {
		e.conn.Reply(msg.MessageID, b)
	}, func(err error) {
		e.conn.ReportError(msg.MessageID, err.Error())
	})
}

// resolvePending settles the promise registered under messageID, if any.
// A reply/error for an unknown message ID is logged and dropped — the
// call it once corresponded to is gone (already resolved, or the
// connection was re-established and the table was cleared).
func (e *Endpoint) resolvePending(messageID uint64, result []byte, err error) {
	e.mu.Lock()
	call, ok := e.pending[messageID]
	if ok {
		delete(e.pending, messageID)
	}
	e.mu.Unlock()
	if !ok {
		e.log.Warn("reply/error for unknown message_id", zap.Uint64("message_id", messageID))
		return
	}
	if err != nil {
		call.reject(err)
	} else {
		call.resolve(result)
	}
}

func decodeErrorArgs(args []byte) (string, error) {
	return codec.NewReader(args).ReadString()
}

// Invoke issues an outbound call to the peer method named methodName,
// returning a promise of the serialized reply. Before the handshake
// completes (client role only), the call is buffered and flushed in
// request order once the server hello arrives, per spec.md §4.6.
func (e *Endpoint) Invoke(methodName string, args []byte) *async.Promise[[]byte] {
	p := async.New[[]byte]()
	call := pendingCall{
		resolve: func(b []byte) { p.Fulfill(b) },
		reject:  func(err error) { p.Reject(err) },
	}

	e.mu.Lock()
	messageID := e.nextMessageID
	e.nextMessageID++
	e.pending[messageID] = call

	if !e.handshakeComplete {
		if !e.client {
			e.mu.Unlock()
			p.Reject(fmt.Errorf("smolrpc/rpc: server endpoint invoked before handshake completed"))
			return p
		}
		e.pendingBeforeHandshake = append(e.pendingBeforeHandshake, pendingInvocation{
			methodName: methodName,
			messageID:  messageID,
			args:       args,
			call:       call,
		})
		e.mu.Unlock()
		return p
	}
	methodID, ok := e.peerMethodIDByName[methodName]
	e.mu.Unlock()

	if !ok {
		p.Reject(fmt.Errorf("smolrpc/rpc: no negotiated method ID for %q", methodName))
		return p
	}
	if err := e.conn.Invoke(methodID, messageID, args); err != nil {
		p.Reject(err)
	}
	return p
}

// Close tears down the underlying connection.
func (e *Endpoint) Close() error {
	return e.conn.Close()
}
