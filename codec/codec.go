// Package codec implements the binary serialization layer for smolrpc.
//
// It is a pair of operations, encode and decode, defined inductively over a
// small fixed type algebra: fixed-width big-endian integers, byte, string,
// and the composites vec<T>, variant<T0..Tn-1>, tuple/pair/struct (field
// concatenation) and array<T,N> (fixed length, no prefix). Composite helpers
// are generic so the calling protocol code reads like the inductive
// definition it mirrors, instead of hand-rolled byte shuffling per method.
//
// Every encodable type also has a canonical name (see the TypeName*
// constants and the VecTypeName/FunctionSignature family in typename.go) — these
// strings are concatenated into method signatures, the sole compatibility
// check performed at handshake time.
package codec

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// ErrInvalidValue is returned (possibly wrapped) whenever a decode fails
// because the input was short, malformed, or carried an out-of-range
// variant discriminant. Callers that need to distinguish a protocol error
// from a transport error should match on it with errors.Is.
var ErrInvalidValue = errors.New("smolrpc/codec: invalid serialized value")

// ErrTrailingData is returned when Finish observes unconsumed bytes after a
// top-level value has been decoded from a bounded buffer.
var ErrTrailingData = errors.New("smolrpc/codec: trailing bytes after decoded value")

// Writer accumulates an encoded value. The zero value is ready to use.
type Writer struct {
	buf []byte
}

// NewWriter returns an empty Writer.
func NewWriter() *Writer {
	return &Writer{}
}

// Bytes returns the bytes written so far. The returned slice aliases the
// Writer's internal buffer and must not be retained across further writes.
func (w *Writer) Bytes() []byte {
	return w.buf
}

func (w *Writer) WriteUint8(v uint8) {
	w.buf = append(w.buf, v)
}

func (w *Writer) WriteByte(v byte) error {
	w.buf = append(w.buf, v)
	return nil
}

func (w *Writer) WriteInt8(v int8) {
	w.WriteUint8(uint8(v))
}

func (w *Writer) WriteUint16(v uint16) {
	w.buf = binary.BigEndian.AppendUint16(w.buf, v)
}

func (w *Writer) WriteInt16(v int16) {
	w.WriteUint16(uint16(v))
}

func (w *Writer) WriteUint32(v uint32) {
	w.buf = binary.BigEndian.AppendUint32(w.buf, v)
}

func (w *Writer) WriteInt32(v int32) {
	w.WriteUint32(uint32(v))
}

func (w *Writer) WriteUint64(v uint64) {
	w.buf = binary.BigEndian.AppendUint64(w.buf, v)
}

func (w *Writer) WriteInt64(v int64) {
	w.WriteUint64(uint64(v))
}

// WriteBool serializes a boolean as a one-byte integer, per the wire
// grammar: bool is not a primitive of its own.
func (w *Writer) WriteBool(v bool) {
	if v {
		w.WriteUint8(1)
	} else {
		w.WriteUint8(0)
	}
}

// WriteString writes a length-prefixed (u64) run of raw bytes. Encoding is
// UTF-8 by convention; the wire format does not validate it.
func (w *Writer) WriteString(s string) {
	w.WriteUint64(uint64(len(s)))
	w.buf = append(w.buf, s...)
}

// WriteBytes writes a vec<byte>: a u64 length followed by the raw bytes.
func (w *Writer) WriteBytes(b []byte) {
	w.WriteUint64(uint64(len(b)))
	w.buf = append(w.buf, b...)
}

// WriteRaw appends bytes with no length prefix — used for fixed-size fields
// (hello magic) and for trailing payloads (the args field of an
// rpc_message, for instance) whose length is carried by an enclosing frame
// instead.
func (w *Writer) WriteRaw(b []byte) {
	w.buf = append(w.buf, b...)
}

// Reader consumes an encoded value from a fixed byte slice.
type Reader struct {
	data []byte
	pos  int
}

// NewReader wraps data for sequential decoding.
func NewReader(data []byte) *Reader {
	return &Reader{data: data}
}

// Remaining reports how many bytes are left unconsumed.
func (r *Reader) Remaining() int {
	return len(r.data) - r.pos
}

// Finish errors if any bytes remain — the trailing-bytes check spec.md
// requires after decoding a top-level value from a bounded buffer.
func (r *Reader) Finish() error {
	if r.Remaining() != 0 {
		return fmt.Errorf("%w: %d bytes left", ErrTrailingData, r.Remaining())
	}
	return nil
}

func (r *Reader) take(n int) ([]byte, error) {
	if r.Remaining() < n {
		return nil, fmt.Errorf("%w: need %d bytes, have %d", ErrInvalidValue, n, r.Remaining())
	}
	b := r.data[r.pos : r.pos+n]
	r.pos += n
	return b, nil
}

func (r *Reader) ReadUint8() (uint8, error) {
	b, err := r.take(1)
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

func (r *Reader) ReadByte() (byte, error) {
	return r.ReadUint8()
}

func (r *Reader) ReadInt8() (int8, error) {
	v, err := r.ReadUint8()
	return int8(v), err
}

func (r *Reader) ReadUint16() (uint16, error) {
	b, err := r.take(2)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint16(b), nil
}

func (r *Reader) ReadInt16() (int16, error) {
	v, err := r.ReadUint16()
	return int16(v), err
}

func (r *Reader) ReadUint32() (uint32, error) {
	b, err := r.take(4)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(b), nil
}

func (r *Reader) ReadInt32() (int32, error) {
	v, err := r.ReadUint32()
	return int32(v), err
}

func (r *Reader) ReadUint64() (uint64, error) {
	b, err := r.take(8)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint64(b), nil
}

func (r *Reader) ReadInt64() (int64, error) {
	v, err := r.ReadUint64()
	return int64(v), err
}

func (r *Reader) ReadBool() (bool, error) {
	v, err := r.ReadUint8()
	return v != 0, err
}

func (r *Reader) ReadString() (string, error) {
	n, err := r.ReadUint64()
	if err != nil {
		return "", err
	}
	b, err := r.take(int(n))
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func (r *Reader) ReadBytes() ([]byte, error) {
	n, err := r.ReadUint64()
	if err != nil {
		return nil, err
	}
	b, err := r.take(int(n))
	if err != nil {
		return nil, err
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out, nil
}

// ReadRaw consumes exactly n bytes with no length prefix.
func (r *Reader) ReadRaw(n int) ([]byte, error) {
	b, err := r.take(n)
	if err != nil {
		return nil, err
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out, nil
}

// WriteSlice encodes a vec<T>: a u64 length followed by each element
// encoded in order by enc.
func WriteSlice[T any](w *Writer, items []T, enc func(*Writer, T)) {
	w.WriteUint64(uint64(len(items)))
	for _, item := range items {
		enc(w, item)
	}
}

// ReadSlice decodes a vec<T> previously written by WriteSlice.
func ReadSlice[T any](r *Reader, dec func(*Reader) (T, error)) ([]T, error) {
	n, err := r.ReadUint64()
	if err != nil {
		return nil, err
	}
	items := make([]T, 0, n)
	for i := uint64(0); i < n; i++ {
		v, err := dec(r)
		if err != nil {
			return nil, err
		}
		items = append(items, v)
	}
	return items, nil
}

// WritePair encodes a pair<A,B>: the two fields concatenated in order.
func WritePair[A, B any](w *Writer, a A, b B, encA func(*Writer, A), encB func(*Writer, B)) {
	encA(w, a)
	encB(w, b)
}

// ReadPair decodes a pair<A,B> previously written by WritePair.
func ReadPair[A, B any](r *Reader, decA func(*Reader) (A, error), decB func(*Reader) (B, error)) (A, B, error) {
	var zeroA A
	var zeroB B
	a, err := decA(r)
	if err != nil {
		return zeroA, zeroB, err
	}
	b, err := decB(r)
	if err != nil {
		return zeroA, zeroB, err
	}
	return a, b, nil
}

// WriteArray encodes array<T,N>: N elements with no length prefix. The
// caller is responsible for ensuring items has exactly the declared length;
// WriteArray itself trusts the slice it is given.
func WriteArray[T any](w *Writer, items []T, enc func(*Writer, T)) {
	for _, item := range items {
		enc(w, item)
	}
}

// ReadArray decodes array<T,N> into a freshly allocated length-n slice.
func ReadArray[T any](r *Reader, n int, dec func(*Reader) (T, error)) ([]T, error) {
	items := make([]T, n)
	for i := 0; i < n; i++ {
		v, err := dec(r)
		if err != nil {
			return nil, err
		}
		items[i] = v
	}
	return items, nil
}

// WriteVariant encodes the discriminant byte of a variant<T0..Tn-1>; the
// caller writes the chosen branch's payload immediately after with its own
// encoder.
func WriteVariant(w *Writer, tag uint8) {
	w.WriteUint8(tag)
}

// ReadVariant decodes the discriminant byte of a variant<T0..Tn-1> and
// validates it against the branch count n, per spec: values >= n error.
func ReadVariant(r *Reader, n int) (uint8, error) {
	tag, err := r.ReadUint8()
	if err != nil {
		return 0, err
	}
	if int(tag) >= n {
		return 0, fmt.Errorf("%w: variant discriminant %d out of range [0,%d)", ErrInvalidValue, tag, n)
	}
	return tag, nil
}
