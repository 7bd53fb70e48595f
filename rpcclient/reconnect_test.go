package rpcclient_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/smolrpc/smolrpc/async"
	"github.com/smolrpc/smolrpc/codec"
	"github.com/smolrpc/smolrpc/rpc"
	"github.com/smolrpc/smolrpc/rpcclient"
	"github.com/smolrpc/smolrpc/rpcserver"
)

type pingImpl struct{ rpc.DuplexImpl }

func pingProtocol() *rpc.ProtocolDescriptor {
	return &rpc.ProtocolDescriptor{
		Name: "ping_protocol",
		Methods: []rpc.Method{
			{
				MethodDescriptor: rpc.MethodDescriptor{Name: "ping_v1", Signature: "string(string)"},
				Thunk: rpc.NewThunk[*pingImpl, string, string](
					func(r *codec.Reader) (string, error) { return r.ReadString() },
					func(w *codec.Writer, s string) { w.WriteString(s) },
					func(impl *pingImpl, s string) (string, error) { return "pong:" + s, nil },
				),
			},
		},
	}
}

func TestClientConnectsAndReconnectsAfterServerRestart(t *testing.T) {
	sockPath := filepath.Join(t.TempDir(), "reconnect.sock")
	log := zap.NewNop()
	proto := pingProtocol()

	newServer := func() *rpcserver.Server {
		return rpcserver.New(rpcserver.Config{
			OwnProtocol:      proto,
			PeerProtocolName: "client_side",
			Logger:           log,
			NewImpl:          func(peer *rpc.Endpoint) any { return &pingImpl{rpc.DuplexImpl{Endpoint: peer}} },
		})
	}

	srv := newServer()
	srvCtx, srvCancel := context.WithCancel(context.Background())
	go srv.Bind(srvCtx, []string{sockPath})

	connected := make(chan *rpc.Endpoint, 4)
	cli := rpcclient.New(rpcclient.Config{
		Address:          sockPath,
		OwnProtocol:      &rpc.ProtocolDescriptor{Name: "client_side"},
		PeerProtocolName: proto.Name,
		PeerMethods:      []rpc.MethodDescriptor{{Name: "ping_v1", Signature: "string(string)"}},
		Logger:           log,
		NewImpl:          func(peer *rpc.Endpoint) any { return &pingImpl{rpc.DuplexImpl{Endpoint: peer}} },
		OnConnected:      func(e *rpc.Endpoint) { connected <- e },
	})

	cliCtx, cliCancel := context.WithCancel(context.Background())
	defer cliCancel()
	go cli.Run(cliCtx)

	var endpoint *rpc.Endpoint
	select {
	case endpoint = <-connected:
	case <-time.After(3 * time.Second):
		t.Fatal("client never connected")
	}

	got, err := async.Await(rpc.Call[string](endpoint, "ping_v1",
		func(w *codec.Writer) { w.WriteString("first") },
		func(r *codec.Reader) (string, error) { return r.ReadString() },
	))
	if err != nil {
		t.Fatalf("first call failed: %v", err)
	}
	if got != "pong:first" {
		t.Fatalf("got %q, want %q", got, "pong:first")
	}

	srv.Stop(2 * time.Second)
	srvCancel()

	srv2 := newServer()
	srv2Ctx, srv2Cancel := context.WithCancel(context.Background())
	defer srv2Cancel()
	go srv2.Bind(srv2Ctx, []string{sockPath})

	select {
	case endpoint = <-connected:
	case <-time.After(5 * time.Second):
		t.Fatal("client never reconnected after server restart")
	}

	got, err = async.Await(rpc.Call[string](endpoint, "ping_v1",
		func(w *codec.Writer) { w.WriteString("second") },
		func(r *codec.Reader) (string, error) { return r.ReadString() },
	))
	if err != nil {
		t.Fatalf("post-reconnect call failed: %v", err)
	}
	if got != "pong:second" {
		t.Fatalf("got %q, want %q", got, "pong:second")
	}

	srv2.Stop(2 * time.Second)
}
