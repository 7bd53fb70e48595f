package rpcserver_test

import (
	"context"
	"net"
	"path/filepath"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/smolrpc/smolrpc/async"
	"github.com/smolrpc/smolrpc/codec"
	"github.com/smolrpc/smolrpc/rpc"
	"github.com/smolrpc/smolrpc/rpc/wire"
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

func TestServerAcceptsAndDispatches(t *testing.T) {
	sockPath := filepath.Join(t.TempDir(), "test.sock")
	log := zap.NewNop()

	proto := pingProtocol()
	srv := rpcserver.New(rpcserver.Config{
		OwnProtocol:      proto,
		PeerProtocolName: "client_side",
		Logger:           log,
		NewImpl:          func(peer *rpc.Endpoint) any { return &pingImpl{rpc.DuplexImpl{Endpoint: peer}} },
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	bindErr := make(chan error, 1)
	go func() { bindErr <- srv.Bind(ctx, []string{sockPath}) }()

	var netConn net.Conn
	var err error
	for i := 0; i < 50; i++ {
		netConn, err = net.Dial("unix", sockPath)
		if err == nil {
			break
		}
		time.Sleep(20 * time.Millisecond)
	}
	if err != nil {
		t.Fatalf("dialing server: %v", err)
	}

	clientConn := wire.NewConn(netConn)
	client := rpc.NewEndpoint(log, &rpc.ProtocolDescriptor{Name: "client_side"}, &pingImpl{},
		proto.Name, []rpc.MethodDescriptor{{Name: "ping_v1", Signature: "string(string)"}})

	go clientConn.ReadLoop()

	handshakeDone := make(chan error, 1)
	client.OnHandshakeComplete = func(err error) { handshakeDone <- err }
	if err := client.ServeClient(clientConn); err != nil {
		t.Fatalf("ServeClient: %v", err)
	}

	select {
	case err := <-handshakeDone:
		if err != nil {
			t.Fatalf("handshake failed: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("handshake timed out")
	}

	result := rpc.Call[string](client, "ping_v1",
		func(w *codec.Writer) { w.WriteString("hello") },
		func(r *codec.Reader) (string, error) { return r.ReadString() },
	)
	got, err := async.Await(result)
	if err != nil {
		t.Fatalf("ping_v1 call failed: %v", err)
	}
	if got != "pong:hello" {
		t.Fatalf("got %q, want %q", got, "pong:hello")
	}

	if err := srv.Stop(2 * time.Second); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if err := <-bindErr; err != nil {
		t.Fatalf("Bind returned error after Stop: %v", err)
	}
}
