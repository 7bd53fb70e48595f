// Package registry declares the registry service's RPC-facing protocol: a
// content-addressed store(data_class, id, bytes) -> bool and
// retrieve(data_class, id) -> bytes pair, wrapping internal/registrydemo's
// on-disk blob store. Grounded on common/include/common/registry.hpp's
// registry_impl, which the original's registry/src/main.cpp exposes
// directly as the registry_server's duplex_impl.
package registry

import (
	"github.com/smolrpc/smolrpc/async"
	"github.com/smolrpc/smolrpc/codec"
	"github.com/smolrpc/smolrpc/internal/registrydemo"
	"github.com/smolrpc/smolrpc/rpc"
)

// ProtocolName is the name advertised and requested at handshake time.
const ProtocolName = "smolrpc.registry"

// Impl is the registry's served implementation: a DuplexImpl (so a future
// peer protocol could be added without reshaping this type) wrapping a
// Store.
type Impl struct {
	rpc.DuplexImpl
	store *registrydemo.Store
}

// NewImpl returns an ImplFactory suitable for rpcserver.Config.NewImpl,
// closing over store.
func NewImpl(store *registrydemo.Store) func(peer *rpc.Endpoint) any {
	return func(peer *rpc.Endpoint) any {
		impl := &Impl{store: store}
		impl.Endpoint = peer
		return impl
	}
}

type storeRequest struct {
	DataClass string
	ID        uint64
	Data      []byte
}

func decodeStoreRequest(r *codec.Reader) (storeRequest, error) {
	dataClass, err := r.ReadString()
	if err != nil {
		return storeRequest{}, err
	}
	id, err := r.ReadUint64()
	if err != nil {
		return storeRequest{}, err
	}
	data, err := r.ReadBytes()
	if err != nil {
		return storeRequest{}, err
	}
	return storeRequest{DataClass: dataClass, ID: id, Data: data}, nil
}

func encodeStoreRequest(w *codec.Writer, req storeRequest) {
	w.WriteString(req.DataClass)
	w.WriteUint64(req.ID)
	w.WriteBytes(req.Data)
}

type retrieveRequest struct {
	DataClass string
	ID        uint64
}

func decodeRetrieveRequest(r *codec.Reader) (retrieveRequest, error) {
	dataClass, err := r.ReadString()
	if err != nil {
		return retrieveRequest{}, err
	}
	id, err := r.ReadUint64()
	if err != nil {
		return retrieveRequest{}, err
	}
	return retrieveRequest{DataClass: dataClass, ID: id}, nil
}

func encodeRetrieveRequest(w *codec.Writer, req retrieveRequest) {
	w.WriteString(req.DataClass)
	w.WriteUint64(req.ID)
}

func decodeBool(r *codec.Reader) (bool, error)    { return r.ReadBool() }
func encodeBool(w *codec.Writer, v bool)          { w.WriteBool(v) }
func decodeBytes(r *codec.Reader) ([]byte, error) { return r.ReadBytes() }
func encodeBytes(w *codec.Writer, b []byte)       { w.WriteBytes(b) }

func storeSignature() string {
	return codec.FunctionSignature(codec.TypeNameBool, codec.TypeNameString, codec.TypeNameUint64, codec.VecTypeName(codec.TypeNameByte))
}

func retrieveSignature() string {
	return codec.FunctionSignature(codec.VecTypeName(codec.TypeNameByte), codec.TypeNameString, codec.TypeNameUint64)
}

// StoreMethod and RetrieveMethod describe this protocol's two methods —
// used both inside Protocol (the server-method table) and by callers
// elsewhere in the tree that need to request them as peer methods.
func StoreMethod() rpc.MethodDescriptor {
	return rpc.MethodDescriptor{Name: "store", Signature: storeSignature()}
}

func RetrieveMethod() rpc.MethodDescriptor {
	return rpc.MethodDescriptor{Name: "retrieve", Signature: retrieveSignature()}
}

// Protocol describes the registry's served methods.
func Protocol() *rpc.ProtocolDescriptor {
	return &rpc.ProtocolDescriptor{
		Name: ProtocolName,
		Methods: []rpc.Method{
			{
				MethodDescriptor: StoreMethod(),
				Thunk: rpc.NewAsyncThunk[*Impl, storeRequest, bool](
					decodeStoreRequest, encodeBool,
					func(impl *Impl, req storeRequest) *async.Promise[bool] {
						return impl.store.Store(req.DataClass, req.ID, req.Data)
					},
				),
			},
			{
				MethodDescriptor: RetrieveMethod(),
				Thunk: rpc.NewAsyncThunk[*Impl, retrieveRequest, []byte](
					decodeRetrieveRequest, encodeBytes,
					func(impl *Impl, req retrieveRequest) *async.Promise[[]byte] {
						return impl.store.Retrieve(req.DataClass, req.ID)
					},
				),
			},
		},
	}
}

// Store is the typed proxy for calling the registry's store method on peer.
func Store(peer *rpc.Endpoint, dataClass string, id uint64, data []byte) *async.Promise[bool] {
	return rpc.Call[bool](peer, "store",
		func(w *codec.Writer) { encodeStoreRequest(w, storeRequest{DataClass: dataClass, ID: id, Data: data}) },
		decodeBool,
	)
}

// Retrieve is the typed proxy for calling the registry's retrieve method on
// peer. A missing entry comes back as an empty slice, since the server
// encodes it as an empty vec<byte>.
func Retrieve(peer *rpc.Endpoint, dataClass string, id uint64) *async.Promise[[]byte] {
	return rpc.Call[[]byte](peer, "retrieve",
		func(w *codec.Writer) { encodeRetrieveRequest(w, retrieveRequest{DataClass: dataClass, ID: id}) },
		decodeBytes,
	)
}
