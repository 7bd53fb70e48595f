package codec

import "strings"

// Canonical type-name strings per the wire grammar in spec.md §3. These are
// concatenated into method signatures — the sole versioning check performed
// during handshake (equal string ⇒ compatible).
const (
	TypeNameVoid   = "void"
	TypeNameByte   = "byte"
	TypeNameString = "string"
	TypeNameInt8   = "int8_t"
	TypeNameInt16  = "int16_t"
	TypeNameInt32  = "int32_t"
	TypeNameInt64  = "int64_t"
	TypeNameUint8  = "uint8_t"
	TypeNameUint16 = "uint16_t"
	TypeNameUint32 = "uint32_t"
	TypeNameUint64 = "uint64_t"

	// TypeNameBool is the rendering pinned for bool — it is not a wire
	// primitive of its own (see WriteBool/ReadBool), so its canonical
	// signature name is its one-byte integer backing type.
	TypeNameBool = TypeNameUint8
)

// JoinTypeNames renders a comma-and-space-joined type list, the grammar
// used inside vec<...>, variant<...>, tuple<...> and the argument list of a
// function signature.
func JoinTypeNames(names ...string) string {
	return strings.Join(names, ", ")
}

// VecTypeName renders vec<T>.
func VecTypeName(elem string) string {
	return "vec<" + elem + ">"
}

// VariantTypeName renders variant<T0, ..., Tn-1>.
func VariantTypeName(branches ...string) string {
	return "variant<" + JoinTypeNames(branches...) + ">"
}

// TupleTypeName renders tuple<T0, ..., Tn-1>.
func TupleTypeName(fields ...string) string {
	return "tuple<" + JoinTypeNames(fields...) + ">"
}

// PairTypeName renders pair<A, B>.
func PairTypeName(a, b string) string {
	return "pair<" + a + ", " + b + ">"
}

// ArrayTypeName renders array<T, N>.
func ArrayTypeName(elem string, n int) string {
	return "array<" + elem + ", " + itoa(n) + ">"
}

// FunctionSignature renders the canonical method signature R(A, B, ...)
// used as the sole compatibility check at handshake time.
func FunctionSignature(returnType string, argTypes ...string) string {
	return returnType + "(" + JoinTypeNames(argTypes...) + ")"
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}
