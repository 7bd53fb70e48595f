// Package rpc implements the reflective, duplex invocation layer on top of
// package wire: declaring a protocol as data (name + signature + dispatch
// thunk per method, rather than as a code-generated interface), negotiating
// method IDs at handshake time from those declarations, and routing inbound
// frames to either a pending local promise (reply/error) or a registered
// thunk (invocation).
//
// This is the Go stand-in for the original's RPC_PROTOCOL/RPC_METHOD macro
// pair and reflective_protocol<Protocol, Group> template
// (rpc/include/rpc/reflection.hpp): Go has neither macros nor
// template-driven codegen, so a protocol here is an explicit
// ProtocolDescriptor value built by hand (or by small per-protocol
// constructor functions, as in internal/protocol/*) instead of being
// derived at compile time from annotated method declarations.
package rpc

import (
	"fmt"

	"github.com/smolrpc/smolrpc/async"
	"github.com/smolrpc/smolrpc/codec"
	"github.com/smolrpc/smolrpc/rpc/wire"
)

// MethodDescriptor names one method of a protocol and its canonical
// signature string — the only thing compared across peers at handshake
// time, per spec.md §1's "no version numbers, only structural signature
// comparison".
type MethodDescriptor struct {
	Name      string
	Signature string
}

// MethodThunk dispatches one inbound invocation: it decodes args out of the
// opaque payload, calls into the local implementation, and returns a
// promise of the serialized result — rejected instead of fulfilled on
// failure, reported back to the caller as an error frame instead of a
// reply once it settles.
//
// A thunk owns its own encode/decode of Args/Result against impl — it is
// the Go realization of what the original's codegen would have produced
// per RPC_METHOD declaration. Returning a promise rather than a value
// directly matches spec.md §4.3's "lifts the result into a promise (if not
// already)": an implementation whose method body itself invokes a peer
// method (the duplex callback case) has no value to return synchronously.
type MethodThunk func(impl any, args []byte) *async.Promise[[]byte]

// Method bundles a MethodDescriptor with its dispatch thunk. This is one
// row of a ProtocolDescriptor's method table.
type Method struct {
	MethodDescriptor
	Thunk MethodThunk
}

// ProtocolDescriptor is a named, ordered list of methods: the reflective
// stand-in for a C++ protocol class annotated with RPC_PROTOCOL. Order is
// significant: a method's index in Methods is the method ID the peer uses
// to invoke it, on every connection.
type ProtocolDescriptor struct {
	Name    string
	Methods []Method
}

// Find returns the method registered under name, or false.
func (p *ProtocolDescriptor) Find(name string) (Method, bool) {
	for _, m := range p.Methods {
		if m.Name == name {
			return m, true
		}
	}
	return Method{}, false
}

// NamedSignatures renders the descriptor's methods as the wire.NamedSignature
// list a hello envelope advertises.
func (p *ProtocolDescriptor) NamedSignatures() []wire.NamedSignature {
	out := make([]wire.NamedSignature, len(p.Methods))
	for i, m := range p.Methods {
		out[i] = wire.NamedSignature{Name: m.Name, Signature: m.Signature}
	}
	return out
}

// NewThunk builds a MethodThunk for a synchronous method — one whose
// implementation produces Resp directly, with no need to wait on a peer
// call of its own. It is the one generic helper standing in for what
// per-method codegen would otherwise produce: type-assert the opaque impl,
// decode Req, call, encode Resp.
func NewThunk[Impl, Req, Resp any](
	decodeReq func(*codec.Reader) (Req, error),
	encodeResp func(*codec.Writer, Resp),
	call func(Impl, Req) (Resp, error),
) MethodThunk {
	return NewAsyncThunk[Impl, Req, Resp](decodeReq, encodeResp, func(impl Impl, req Req) *async.Promise[Resp] {
		resp, err := call(impl, req)
		if err != nil {
			return async.Rejected[Resp](err)
		}
		return async.Resolved(resp)
	})
}

// NewAsyncThunk builds a MethodThunk for a method whose implementation
// itself returns a promise — the duplex callback case, where the method
// body invokes a peer method and the reply can only be sent once that
// inner call settles.
func NewAsyncThunk[Impl, Req, Resp any](
	decodeReq func(*codec.Reader) (Req, error),
	encodeResp func(*codec.Writer, Resp),
	call func(Impl, Req) *async.Promise[Resp],
) MethodThunk {
	return func(impl any, args []byte) *async.Promise[[]byte] {
		concrete, ok := impl.(Impl)
		if !ok {
			return async.Rejected[[]byte](fmt.Errorf("smolrpc/rpc: implementation does not satisfy %T", *new(Impl)))
		}
		r := codec.NewReader(args)
		req, err := decodeReq(r)
		if err != nil {
			return async.Rejected[[]byte](fmt.Errorf("smolrpc/rpc: decoding arguments: %w", err))
		}
		if err := r.Finish(); err != nil {
			return async.Rejected[[]byte](err)
		}
		inner := call(concrete, req)
		return async.Then(inner, func(resp Resp) ([]byte, error) {
			w := codec.NewWriter()
			encodeResp(w, resp)
			return w.Bytes(), nil
		})
	}
}
