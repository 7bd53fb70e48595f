package rpc

import (
	"github.com/smolrpc/smolrpc/async"
	"github.com/smolrpc/smolrpc/codec"
)

// Call is the typed half of a peer proxy method: it encodes args with enc,
// invokes methodName on the endpoint's peer, and decodes the reply with
// dec, producing a Promise[Resp] instead of the raw Promise[[]byte]
// Endpoint.Invoke returns. Generated (or hand-written, per spec.md §9's
// registration-time-loop alternative) proxy methods are thin wrappers
// around this.
func Call[Resp any](e *Endpoint, methodName string, encode func(*codec.Writer), decode func(*codec.Reader) (Resp, error)) *async.Promise[Resp] {
	w := codec.NewWriter()
	encode(w)
	raw := e.Invoke(methodName, w.Bytes())
	return async.Then(raw, func(b []byte) (Resp, error) {
		var zero Resp
		r := codec.NewReader(b)
		resp, err := decode(r)
		if err != nil {
			return zero, err
		}
		if err := r.Finish(); err != nil {
			return zero, err
		}
		return resp, nil
	})
}
