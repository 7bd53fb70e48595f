package rpc

// DuplexImpl is the base type a protocol implementation embeds: it carries
// the negotiated Endpoint for the connection, giving the implementation a
// typed proxy to invoke the peer's protocol from inside its own method
// bodies — spec.md §4.3's "endpoint-local object providing both server
// methods for its own protocol and a typed proxy to invoke the peer's
// protocol", minus the server-methods half, which is supplied instead by
// the concrete implementation type's own methods (dispatched to via the
// thunks in its ProtocolDescriptor).
type DuplexImpl struct {
	Endpoint *Endpoint
}

// Peer returns the endpoint used to invoke the other side's protocol.
func (d *DuplexImpl) Peer() *Endpoint { return d.Endpoint }
