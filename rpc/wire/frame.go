// Package wire implements the smolrpc framing layer: the hello envelope,
// the rpc_message frame, and the length-prefixed handshake-then-framed
// parsing state machine that runs on top of any io.ReadWriteCloser.
//
// Every integer on the wire is big-endian regardless of host endianness,
// and every field is exactly as ordered in spec.md §3 — this package is
// the Go realization of that section plus §4.4.
package wire

import (
	"fmt"

	"github.com/smolrpc/smolrpc/codec"
)

// Magic bytes distinguish connection direction. The receiver compares
// case-insensitively but inspects case to confirm the peer's role.
var (
	ClientMagic = [4]byte{'S', 'M', 'O', 'L'}
	ServerMagic = [4]byte{'s', 'm', 'o', 'l'}
)

// MaxHelloSize bounds the hello envelope so a malicious or buggy peer can't
// force unbounded buffering before the handshake completes.
const MaxHelloSize = 8192

// ReplyMethodID and ErrorMethodID are the two negative method_id sentinels
// spec.md §3 reserves: a reply to a prior call, and an error reply.
const (
	ReplyMethodID = int32(-1)
	ErrorMethodID = int32(-2)
)

func isMagic(b [4]byte, want [4]byte) bool {
	for i := range b {
		if lower(b[i]) != lower(want[i]) {
			return false
		}
	}
	return true
}

func lower(c byte) byte {
	if c >= 'A' && c <= 'Z' {
		return c - 'A' + 'a'
	}
	return c
}

// IsClientMagic reports whether b is 'S','M','O','L' case-insensitively.
func IsClientMagic(b [4]byte) bool { return isMagic(b, ClientMagic) }

// IsServerMagic reports whether b is 's','m','o','l' case-insensitively.
func IsServerMagic(b [4]byte) bool { return isMagic(b, ServerMagic) }

// NamedSignature is one (method name, signature string) pair as carried in
// a hello's method lists.
type NamedSignature struct {
	Name      string
	Signature string
}

func writeNamedSignatures(w *codec.Writer, items []NamedSignature) {
	codec.WriteSlice(w, items, func(w *codec.Writer, item NamedSignature) {
		w.WriteString(item.Name)
		w.WriteString(item.Signature)
	})
}

func readNamedSignatures(r *codec.Reader) ([]NamedSignature, error) {
	return codec.ReadSlice(r, func(r *codec.Reader) (NamedSignature, error) {
		name, err := r.ReadString()
		if err != nil {
			return NamedSignature{}, err
		}
		sig, err := r.ReadString()
		if err != nil {
			return NamedSignature{}, err
		}
		return NamedSignature{Name: name, Signature: sig}, nil
	})
}

// ClientHello is the handshake prelude a connecting client sends.
type ClientHello struct {
	Magic                        [4]byte
	RequestedServerProtocolName  string
	AdvertisedClientProtocolName string
	RequestedServerMethods       []NamedSignature
	AdvertisedClientMethods      []NamedSignature
}

// Encode serializes the hello, filling in hello_size (the total length
// including the size field itself).
func (h *ClientHello) Encode() []byte {
	w := codec.NewWriter()
	w.WriteUint32(0) // placeholder, patched below
	w.WriteRaw(h.Magic[:])
	w.WriteString(h.RequestedServerProtocolName)
	w.WriteString(h.AdvertisedClientProtocolName)
	writeNamedSignatures(w, h.RequestedServerMethods)
	writeNamedSignatures(w, h.AdvertisedClientMethods)
	return patchSize(w.Bytes())
}

// DecodeClientHello parses a complete hello envelope, including its
// leading hello_size field (sliced off by the caller's framing loop per
// the exact hello_size it already decoded — see Conn.feed).
func DecodeClientHello(frame []byte) (*ClientHello, error) {
	r := codec.NewReader(frame)
	if _, err := r.ReadUint32(); err != nil { // hello_size, already used to slice frame
		return nil, err
	}
	magic, err := r.ReadRaw(4)
	if err != nil {
		return nil, err
	}
	protoName, err := r.ReadString()
	if err != nil {
		return nil, err
	}
	clientProtoName, err := r.ReadString()
	if err != nil {
		return nil, err
	}
	requested, err := readNamedSignatures(r)
	if err != nil {
		return nil, err
	}
	advertised, err := readNamedSignatures(r)
	if err != nil {
		return nil, err
	}
	if err := r.Finish(); err != nil {
		return nil, err
	}
	h := &ClientHello{
		RequestedServerProtocolName:  protoName,
		AdvertisedClientProtocolName: clientProtoName,
		RequestedServerMethods:       requested,
		AdvertisedClientMethods:      advertised,
	}
	copy(h.Magic[:], magic)
	return h, nil
}

// ServerHello is the handshake reply the listening server sends back.
type ServerHello struct {
	Magic        [4]byte
	ErrorMessage string
	MethodIDs    []int32
}

// Encode serializes the hello, filling in hello_size.
func (h *ServerHello) Encode() []byte {
	w := codec.NewWriter()
	w.WriteUint32(0)
	w.WriteRaw(h.Magic[:])
	w.WriteString(h.ErrorMessage)
	codec.WriteSlice(w, h.MethodIDs, func(w *codec.Writer, id int32) { w.WriteInt32(id) })
	return patchSize(w.Bytes())
}

// DecodeServerHello parses a complete hello envelope, including its
// leading hello_size field.
func DecodeServerHello(frame []byte) (*ServerHello, error) {
	r := codec.NewReader(frame)
	if _, err := r.ReadUint32(); err != nil {
		return nil, err
	}
	magic, err := r.ReadRaw(4)
	if err != nil {
		return nil, err
	}
	errMsg, err := r.ReadString()
	if err != nil {
		return nil, err
	}
	ids, err := codec.ReadSlice(r, func(r *codec.Reader) (int32, error) { return r.ReadInt32() })
	if err != nil {
		return nil, err
	}
	if err := r.Finish(); err != nil {
		return nil, err
	}
	h := &ServerHello{ErrorMessage: errMsg, MethodIDs: ids}
	copy(h.Magic[:], magic)
	return h, nil
}

func patchSize(buf []byte) []byte {
	size := uint32(len(buf))
	buf[0] = byte(size >> 24)
	buf[1] = byte(size >> 16)
	buf[2] = byte(size >> 8)
	buf[3] = byte(size)
	return buf
}

// HelloSize reads just the leading u32 size field of a hello/frame buffer.
func HelloSize(b []byte) (uint32, error) {
	if len(b) < 4 {
		return 0, fmt.Errorf("%w: need 4 bytes, have %d", codec.ErrInvalidValue, len(b))
	}
	r := codec.NewReader(b[:4])
	return r.ReadUint32()
}

// Message is the framed rpc_message of spec.md §3: method_id encodes
// intent (>=0 invoke, -1 reply, -2 error reply), message_id correlates
// requests with replies, and args is the opaque serialized payload.
type Message struct {
	MethodID  int32
	MessageID uint64
	Args      []byte
}

// Encode serializes the frame, filling in message_size (the total length
// including itself).
func (m *Message) Encode() []byte {
	w := codec.NewWriter()
	w.WriteUint32(0)
	w.WriteInt32(m.MethodID)
	w.WriteUint64(m.MessageID)
	w.WriteRaw(m.Args)
	return patchSize(w.Bytes())
}

// DecodeMessage parses a complete frame, including its leading
// message_size field (sliced off by the caller's framing loop per the
// exact message_size it already decoded — see Conn.feed).
func DecodeMessage(frame []byte) (*Message, error) {
	r := codec.NewReader(frame)
	if _, err := r.ReadUint32(); err != nil { // message_size, already used to slice frame
		return nil, err
	}
	methodID, err := r.ReadInt32()
	if err != nil {
		return nil, err
	}
	messageID, err := r.ReadUint64()
	if err != nil {
		return nil, err
	}
	args, err := r.ReadRaw(r.Remaining())
	if err != nil {
		return nil, err
	}
	return &Message{MethodID: methodID, MessageID: messageID, Args: args}, nil
}
