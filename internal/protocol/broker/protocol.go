// Package broker declares the broker service's RPC-facing protocol.
// Grounded on broker/src/main.cpp's broker_impl, which declares no methods
// of its own — the broker's role in the original is purely as an
// always-up rendezvous point invokers dial into, with its actual message
// routing left unspecified by the distilled specification (out of scope
// per its Non-goals). The protocol descriptor here is deliberately empty,
// mirroring that: it exists to let a broker and an invoker complete a
// handshake and hold a live duplex connection open, not to carry traffic
// of its own yet.
package broker

import "github.com/smolrpc/smolrpc/rpc"

// ProtocolName is the name the broker advertises and the invoker requests
// at handshake time.
const ProtocolName = "smolrpc.broker"

// Impl is the broker's served implementation: a bare DuplexImpl, since the
// broker presently serves no methods of its own.
type Impl struct {
	rpc.DuplexImpl
}

// NewImpl returns an ImplFactory suitable for rpcserver.Config.NewImpl.
func NewImpl() func(peer *rpc.Endpoint) any {
	return func(peer *rpc.Endpoint) any {
		impl := &Impl{}
		impl.Endpoint = peer
		return impl
	}
}

// Protocol describes the broker's (currently empty) served method table.
func Protocol() *rpc.ProtocolDescriptor {
	return &rpc.ProtocolDescriptor{Name: ProtocolName}
}
