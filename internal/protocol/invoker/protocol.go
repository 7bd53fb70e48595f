// Package invoker declares the invoker service's RPC-facing protocol.
// Grounded on invoker/src/main.cpp's invoker_impl, which, like broker_impl,
// declares no methods of its own in the distilled source — the invoker's
// job-execution surface is left unspecified (out of scope per spec.md's
// Non-goals). The protocol descriptor here is empty for the same reason
// broker's is: it exists so the broker can call back into a connected
// invoker once that surface is specified, not to carry traffic yet.
package invoker

import "github.com/smolrpc/smolrpc/rpc"

// ProtocolName is the name the invoker advertises at handshake time.
const ProtocolName = "smolrpc.invoker"

// Impl is the invoker's served implementation: a bare DuplexImpl.
type Impl struct {
	rpc.DuplexImpl
}

// NewImpl returns an ImplFactory suitable for rpcclient.Config.NewImpl.
func NewImpl() func(peer *rpc.Endpoint) any {
	return func(peer *rpc.Endpoint) any {
		impl := &Impl{}
		impl.Endpoint = peer
		return impl
	}
}

// Protocol describes the invoker's (currently empty) served method table.
func Protocol() *rpc.ProtocolDescriptor {
	return &rpc.ProtocolDescriptor{Name: ProtocolName}
}
