package codec

import (
	"errors"
	"testing"
)

func TestUint32RoundTrip(t *testing.T) {
	w := NewWriter()
	w.WriteUint32(0x01020304)
	got := w.Bytes()
	want := []byte{0x01, 0x02, 0x03, 0x04}
	if string(got) != string(want) {
		t.Fatalf("WriteUint32 endianness: got %x, want %x", got, want)
	}

	r := NewReader(got)
	v, err := r.ReadUint32()
	if err != nil {
		t.Fatalf("ReadUint32: %v", err)
	}
	if v != 0x01020304 {
		t.Fatalf("ReadUint32 = %x, want %x", v, 0x01020304)
	}
	if err := r.Finish(); err != nil {
		t.Fatalf("Finish: %v", err)
	}
}

func TestStringRoundTrip(t *testing.T) {
	w := NewWriter()
	w.WriteString("hello, world")
	r := NewReader(w.Bytes())
	got, err := r.ReadString()
	if err != nil {
		t.Fatalf("ReadString: %v", err)
	}
	if got != "hello, world" {
		t.Fatalf("ReadString = %q, want %q", got, "hello, world")
	}
	if err := r.Finish(); err != nil {
		t.Fatalf("Finish: %v", err)
	}
}

func TestSliceRoundTrip(t *testing.T) {
	in := []uint64{1, 2, 3, 4, 5}
	w := NewWriter()
	WriteSlice(w, in, func(w *Writer, v uint64) { w.WriteUint64(v) })

	r := NewReader(w.Bytes())
	out, err := ReadSlice(r, func(r *Reader) (uint64, error) { return r.ReadUint64() })
	if err != nil {
		t.Fatalf("ReadSlice: %v", err)
	}
	if len(out) != len(in) {
		t.Fatalf("len(out) = %d, want %d", len(out), len(in))
	}
	for i := range in {
		if out[i] != in[i] {
			t.Fatalf("out[%d] = %d, want %d", i, out[i], in[i])
		}
	}
}

func TestTrailingBytesError(t *testing.T) {
	w := NewWriter()
	w.WriteUint32(42)
	w.WriteUint8(0xff) // extra byte that the reader below won't consume

	r := NewReader(w.Bytes())
	if _, err := r.ReadUint32(); err != nil {
		t.Fatalf("ReadUint32: %v", err)
	}
	if err := r.Finish(); !errors.Is(err, ErrTrailingData) {
		t.Fatalf("Finish error = %v, want ErrTrailingData", err)
	}
}

func TestTruncatedBufferErrors(t *testing.T) {
	r := NewReader([]byte{0x00, 0x01})
	if _, err := r.ReadUint32(); !errors.Is(err, ErrInvalidValue) {
		t.Fatalf("ReadUint32 on short buffer: err = %v, want ErrInvalidValue", err)
	}
}

func TestVariantDiscriminantOutOfRange(t *testing.T) {
	w := NewWriter()
	WriteVariant(w, 3)
	r := NewReader(w.Bytes())
	if _, err := ReadVariant(r, 2); !errors.Is(err, ErrInvalidValue) {
		t.Fatalf("ReadVariant(n=2) on tag=3: err = %v, want ErrInvalidValue", err)
	}
}

func TestVariantRoundTrip(t *testing.T) {
	// variant<string, uint64_t>, branch 1 selected
	w := NewWriter()
	WriteVariant(w, 1)
	w.WriteUint64(9001)

	r := NewReader(w.Bytes())
	tag, err := ReadVariant(r, 2)
	if err != nil {
		t.Fatalf("ReadVariant: %v", err)
	}
	if tag != 1 {
		t.Fatalf("tag = %d, want 1", tag)
	}
	v, err := r.ReadUint64()
	if err != nil {
		t.Fatalf("ReadUint64: %v", err)
	}
	if v != 9001 {
		t.Fatalf("v = %d, want 9001", v)
	}
}

func TestSignatureCanonicalization(t *testing.T) {
	got := FunctionSignature(TypeNameBool, TypeNameString, TypeNameUint64, VecTypeName(TypeNameByte))
	want := "uint8_t(string, uint64_t, vec<byte>)"
	if got != want {
		t.Fatalf("FunctionSignature = %q, want %q", got, want)
	}
}

func TestArrayTypeName(t *testing.T) {
	if got, want := ArrayTypeName(TypeNameInt32, 4), "array<int32_t, 4>"; got != want {
		t.Fatalf("ArrayTypeName = %q, want %q", got, want)
	}
}
