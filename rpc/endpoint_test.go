package rpc_test

import (
	"net"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/smolrpc/smolrpc/async"
	"github.com/smolrpc/smolrpc/codec"
	"github.com/smolrpc/smolrpc/rpc"
	"github.com/smolrpc/smolrpc/rpc/wire"
)

type echoImpl struct{ rpc.DuplexImpl }

func echoProtocol() *rpc.ProtocolDescriptor {
	return &rpc.ProtocolDescriptor{
		Name: "echo_protocol",
		Methods: []rpc.Method{
			{
				MethodDescriptor: rpc.MethodDescriptor{Name: "echo_v1", Signature: "string(string)"},
				Thunk: rpc.NewThunk[*echoImpl, string, string](
					func(r *codec.Reader) (string, error) { return r.ReadString() },
					func(w *codec.Writer, s string) { w.WriteString(s) },
					func(impl *echoImpl, s string) (string, error) { return "[" + s + "]", nil },
				),
			},
		},
	}
}

func callEcho(e *rpc.Endpoint, s string) *async.Promise[string] {
	return rpc.Call[string](e, "echo_v1",
		func(w *codec.Writer) { w.WriteString(s) },
		func(r *codec.Reader) (string, error) { return r.ReadString() },
	)
}

// harness wires a server endpoint serving echoProtocol against a client
// endpoint requesting it, over an in-process net.Pipe, and waits for the
// handshake to settle. Only a timeout fails the test here; a handshake
// error is recorded in handshakeErr for the test to check.
type harness struct {
	server, client *rpc.Endpoint
	serverConn     *wire.Conn
	clientConn     *wire.Conn
	handshakeErr   error
}

func newHarness(t *testing.T, requestedMethods []rpc.MethodDescriptor) *harness {
	t.Helper()
	proto := echoProtocol()
	a, b := net.Pipe()
	log := zap.NewNop()

	h := &harness{}
	h.server = rpc.NewEndpoint(log, proto, &echoImpl{}, "client_side", nil)
	h.client = rpc.NewEndpoint(log, &rpc.ProtocolDescriptor{Name: "client_side"}, &echoImpl{}, proto.Name, requestedMethods)

	h.serverConn = wire.NewConn(a)
	h.clientConn = wire.NewConn(b)
	h.server.ServeServer(h.serverConn)

	go h.serverConn.ReadLoop()
	go h.clientConn.ReadLoop()

	done := make(chan struct{})
	h.client.OnHandshakeComplete = func(err error) {
		h.handshakeErr = err
		close(done)
	}
	if err := h.client.ServeClient(h.clientConn); err != nil {
		t.Fatalf("ServeClient: %v", err)
	}

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("handshake timed out")
	}
	return h
}

func TestHandshakeAndEcho(t *testing.T) {
	h := newHarness(t, []rpc.MethodDescriptor{{Name: "echo_v1", Signature: "string(string)"}})
	if h.handshakeErr != nil {
		t.Fatalf("handshake failed: %v", h.handshakeErr)
	}

	got, err := async.Await(callEcho(h.client, "hi"))
	if err != nil {
		t.Fatalf("echo_v1 call failed: %v", err)
	}
	if got != "[hi]" {
		t.Fatalf("got %q, want %q", got, "[hi]")
	}
}

func TestHandshakeMismatchMissingMethod(t *testing.T) {
	h := newHarness(t, []rpc.MethodDescriptor{{Name: "not_a_real_method", Signature: "string(string)"}})
	if h.handshakeErr == nil {
		t.Fatal("expected handshake failure for an unknown requested method")
	}
	var hsErr *rpc.ErrHandshake
	if !isHandshakeErr(h.handshakeErr, &hsErr) {
		t.Fatalf("expected *rpc.ErrHandshake, got %T: %v", h.handshakeErr, h.handshakeErr)
	}
}

func TestHandshakeMismatchSignature(t *testing.T) {
	h := newHarness(t, []rpc.MethodDescriptor{{Name: "echo_v1", Signature: "string(uint64_t)"}})
	if h.handshakeErr == nil {
		t.Fatal("expected handshake failure for a signature mismatch")
	}
	if !strings.Contains(h.handshakeErr.Error(), "signature mismatch") {
		t.Fatalf("error %v does not mention signature mismatch", h.handshakeErr)
	}
}

func TestUnknownMethodIDGetsErrorReplyConnectionStaysOpen(t *testing.T) {
	h := newHarness(t, []rpc.MethodDescriptor{{Name: "echo_v1", Signature: "string(string)"}})
	if h.handshakeErr != nil {
		t.Fatalf("handshake failed: %v", h.handshakeErr)
	}

	reply := make(chan *wire.Message, 1)
	originalOnMessage := h.clientConn.OnMessage
	h.clientConn.OnMessage = func(m *wire.Message) {
		if m.MessageID == 12345 {
			reply <- m
			return
		}
		originalOnMessage(m)
	}
	if err := h.clientConn.Invoke(999, 12345, nil); err != nil {
		t.Fatalf("writing adversarial frame: %v", err)
	}

	select {
	case m := <-reply:
		if m.MethodID != wire.ErrorMethodID {
			t.Fatalf("method_id = %d, want %d", m.MethodID, wire.ErrorMethodID)
		}
		text, err := codec.NewReader(m.Args).ReadString()
		if err != nil {
			t.Fatalf("decoding error text: %v", err)
		}
		if text != "Unknown method" {
			t.Fatalf("error text = %q, want %q", text, "Unknown method")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for error reply")
	}

	got, err := async.Await(callEcho(h.client, "still alive"))
	if err != nil {
		t.Fatalf("connection should still be usable: %v", err)
	}
	if got != "[still alive]" {
		t.Fatalf("got %q, want %q", got, "[still alive]")
	}
}

func isHandshakeErr(err error, target **rpc.ErrHandshake) bool {
	he, ok := err.(*rpc.ErrHandshake)
	if ok {
		*target = he
	}
	return ok
}
