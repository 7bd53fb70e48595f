// Package rpcclient implements the connecting side of a smolrpc
// connection: dialing a server, running the handshake, and reconnecting
// with exponential backoff on any failure — spec.md §4.7/§8's backoff
// table (0, 1, 1, 1, 2, 4, 8, 16, 32, 64, 64, ... seconds), reset to zero
// whenever a connection completes its handshake. A connection that ends
// before its handshake completes counts as a failure, however it ended.
//
// Grounded on the teacher's client.Client/transport.ClientTransport split
// (one owned connection, a background read loop, a write mutex) adapted
// to this framework's single negotiated Endpoint per connection, plus a
// supervising goroutine that redials instead of the teacher's
// discovery-backed connection pool (spec.md's client talks to one
// configured address, not a load-balanced set).
package rpcclient

import (
	"context"
	"errors"
	"net"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/smolrpc/smolrpc/rpc"
	"github.com/smolrpc/smolrpc/rpc/wire"
)

// ImplFactory builds the per-connection protocol implementation, given a
// peer invoker bound to that connection — the client-side mirror of
// rpcserver.ImplFactory. A fresh implementation is built per reconnect,
// since a fresh Endpoint (with a fresh pending-call table) backs each
// connection attempt.
type ImplFactory func(peer *rpc.Endpoint) any

// Config configures one Client.
type Config struct {
	Address          string
	OwnProtocol      *rpc.ProtocolDescriptor
	PeerProtocolName string
	PeerMethods      []rpc.MethodDescriptor
	NewImpl          ImplFactory
	Logger           *zap.Logger

	// OnConnected, if set, is called (from the Run goroutine) every time a
	// new Endpoint finishes its handshake successfully — the hook for
	// code that wants to issue calls as soon as a fresh connection is
	// live, rather than polling Current.
	OnConnected func(*rpc.Endpoint)
}

// backoffSchedule implements spec.md's reconnect table: failure count k:
// k=0 → 0s, k in {1,2,3} → 1s, k in {4..9} → doubling (2,4,8,16,32,64s),
// k>=10 → capped at 64s.
func backoffSchedule(k int) time.Duration {
	switch {
	case k <= 0:
		return 0
	case k <= 3:
		return time.Second
	case k >= 9:
		return 64 * time.Second
	default:
		return time.Duration(1<<uint(k-3)) * time.Second
	}
}

// Client owns a single logical connection to cfg.Address, redialing with
// backoff whenever the connection drops or the handshake fails.
type Client struct {
	cfg Config
	log *zap.Logger

	mu       sync.Mutex
	endpoint *rpc.Endpoint
	failures int
}

// New builds a Client from cfg. cfg.Logger defaults to zap.NewNop() if nil.
func New(cfg Config) *Client {
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}
	return &Client{cfg: cfg, log: log}
}

// Current returns the Endpoint of the live connection, or nil if the
// client is between connection attempts.
func (c *Client) Current() *rpc.Endpoint {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.endpoint
}

// Run dials, handshakes, and serves cfg.Address in a loop until ctx is
// canceled, applying the backoff schedule between failed attempts and
// reconnecting immediately (no backoff) after a connection that completed
// its handshake later drops. It returns ctx.Err() when ctx is canceled.
func (c *Client) Run(ctx context.Context) error {
	for {
		c.mu.Lock()
		wait := backoffSchedule(c.failures)
		c.mu.Unlock()

		if wait > 0 {
			timer := time.NewTimer(wait)
			select {
			case <-timer.C:
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()
			}
		}

		handshakeOK, err := c.runOnce(ctx)

		c.mu.Lock()
		c.endpoint = nil
		if handshakeOK {
			c.failures = 0
		} else {
			c.failures++
		}
		failures := c.failures
		c.mu.Unlock()

		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err != nil {
			c.log.Warn("connection attempt ended",
				zap.Error(err),
				zap.Bool("handshake_completed", handshakeOK),
				zap.Int("consecutive_failures", failures),
				zap.Duration("next_backoff", backoffSchedule(failures)))
		}
	}
}

// runOnce performs exactly one dial-handshake-serve cycle. handshakeOK
// reports whether the handshake completed successfully, regardless of how
// the connection subsequently ended — the caller uses it to decide
// whether to reset the backoff counter.
func (c *Client) runOnce(ctx context.Context) (handshakeOK bool, err error) {
	network, resolved, err := wire.ResolveAddress(c.cfg.Address)
	if err != nil {
		return false, err
	}

	dialer := net.Dialer{}
	netConn, err := dialer.DialContext(ctx, network, resolved)
	if err != nil {
		return false, err
	}
	defer netConn.Close()

	conn := wire.NewConn(netConn)
	endpoint := rpc.NewEndpoint(c.log, c.cfg.OwnProtocol, nil, c.cfg.PeerProtocolName, c.cfg.PeerMethods)
	endpoint.SetImpl(c.cfg.NewImpl(endpoint))

	readDone := make(chan error, 1)
	go func() { readDone <- conn.ReadLoop() }()

	hsDone := make(chan error, 1)
	endpoint.OnHandshakeComplete = func(e error) { hsDone <- e }

	if err := endpoint.ServeClient(conn); err != nil {
		<-readDone
		return false, err
	}

	select {
	case e := <-hsDone:
		if e != nil {
			netConn.Close()
			<-readDone
			return false, e
		}
	case <-ctx.Done():
		netConn.Close()
		<-readDone
		return false, ctx.Err()
	case e := <-readDone:
		// The connection died before a hello ever arrived.
		if e == nil {
			e = errors.New("smolrpc/rpcclient: connection closed before handshake completed")
		}
		return false, e
	}

	c.mu.Lock()
	c.endpoint = endpoint
	c.mu.Unlock()
	if c.cfg.OnConnected != nil {
		c.cfg.OnConnected(endpoint)
	}

	select {
	case e := <-readDone:
		return true, e
	case <-ctx.Done():
		netConn.Close()
		return true, <-readDone
	}
}
