package wire

import (
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/smolrpc/smolrpc/codec"
)

// Conn wraps a stream transport (TCP or a local stream socket) with the
// handshake-then-framed parsing state machine of spec.md §4.4, plus the
// outbound framing helpers (Reply, ReportError, Invoke, WriteHello).
//
// Writes are serialized by an internal mutex so that frames from
// concurrent callers never interleave on the wire, since a
// goroutine-per-connection model (unlike the original single-threaded
// event loop) can have more than one writer reach a connection at once. A
// write blocks until the transport has accepted the whole message.
type Conn struct {
	rw io.ReadWriteCloser

	writeMu sync.Mutex

	handshakeFinished bool
	acc               []byte

	// OnHandshake and OnMessage are set by the owner (client or server
	// endpoint) before ReadLoop starts; they must not be reassigned
	// afterwards.
	OnHandshake func(helloEnvelope []byte)
	OnMessage   func(*Message)
}

// NewConn wraps rw. The caller must set OnHandshake/OnMessage and then
// call ReadLoop (typically in its own goroutine).
func NewConn(rw io.ReadWriteCloser) *Conn {
	return &Conn{rw: rw}
}

// Write enqueues a whole message (frame or hello) to the transport,
// atomically with respect to other writers on this Conn.
func (c *Conn) Write(data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_, err := c.rw.Write(data)
	return err
}

// WriteHello writes a client or server hello envelope.
func (c *Conn) WriteHello(envelope []byte) error {
	return c.Write(envelope)
}

// Reply sends a method_id=-1 frame: a successful reply to messageID.
func (c *Conn) Reply(messageID uint64, result []byte) error {
	m := &Message{MethodID: ReplyMethodID, MessageID: messageID, Args: result}
	return c.Write(m.Encode())
}

// ReportError sends a method_id=-2 frame: an error reply carrying a
// human-readable message.
func (c *Conn) ReportError(messageID uint64, text string) error {
	w := codec.NewWriter()
	w.WriteString(text)
	m := &Message{MethodID: ErrorMethodID, MessageID: messageID, Args: w.Bytes()}
	return c.Write(m.Encode())
}

// Invoke sends a frame invoking methodID on the peer.
func (c *Conn) Invoke(methodID int32, messageID uint64, args []byte) error {
	m := &Message{MethodID: methodID, MessageID: messageID, Args: args}
	return c.Write(m.Encode())
}

// Close tears down the underlying transport.
func (c *Conn) Close() error {
	return c.rw.Close()
}

// ErrBadMagic and ErrHelloTooLarge are the two handshake-framing failures
// spec.md §4.4 calls out by name; both close the connection.
var (
	ErrBadMagic      = errors.New("smolrpc/wire: invalid hello magic")
	ErrHelloTooLarge = errors.New("smolrpc/wire: hello_size exceeds the 8192-byte cap")
)

// ReadLoop reads from the transport until EOF or error, feeding bytes
// through the handshake-then-framed state machine and invoking
// OnHandshake/OnMessage as complete units become available. It returns the
// error that ended the loop (io.EOF on a clean peer close).
func (c *Conn) ReadLoop() error {
	buf := make([]byte, 64*1024)
	for {
		n, err := c.rw.Read(buf)
		if n > 0 {
			c.acc = append(c.acc, buf[:n]...)
			if ferr := c.feed(); ferr != nil {
				return ferr
			}
		}
		if err != nil {
			if err == io.EOF {
				return io.EOF
			}
			return err
		}
	}
}

// feed drains as much of the accumulated buffer as currently parses into
// complete units, dispatching each to OnHandshake or OnMessage in order.
func (c *Conn) feed() error {
	if !c.handshakeFinished {
		if len(c.acc) < 8 {
			return nil
		}
		var magic [4]byte
		copy(magic[:], c.acc[4:8])
		if !IsServerMagic(magic) && !IsClientMagic(magic) {
			return ErrBadMagic
		}

		r := codec.NewReader(c.acc[:4])
		helloSize, err := r.ReadUint32()
		if err != nil {
			return err
		}
		if helloSize > MaxHelloSize {
			return ErrHelloTooLarge
		}
		if uint32(len(c.acc)) < helloSize {
			return nil
		}

		envelope := make([]byte, helloSize)
		copy(envelope, c.acc[:helloSize])
		c.acc = c.acc[helloSize:]
		c.handshakeFinished = true
		c.OnHandshake(envelope)
	}

	for {
		if len(c.acc) < 4 {
			return nil
		}
		r := codec.NewReader(c.acc[:4])
		messageSize, err := r.ReadUint32()
		if err != nil {
			return err
		}
		if uint32(len(c.acc)) < messageSize {
			return nil
		}

		frame := make([]byte, messageSize)
		copy(frame, c.acc[:messageSize])
		c.acc = c.acc[messageSize:]

		message, err := DecodeMessage(frame)
		if err != nil {
			return fmt.Errorf("smolrpc/wire: decoding frame: %w", err)
		}
		c.OnMessage(message)
	}
}
