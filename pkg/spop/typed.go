package spop

import (
	"bufio"
	"fmt"
	"io"
	"net/netip"
)

// DataType tags the shape of a [TypedData] value, per the low nibble of its
// wire tag byte.
type DataType uint8

const (
	TypeNull DataType = iota
	TypeBool
	TypeInt32
	TypeUint32
	TypeInt64
	TypeUint64
	TypeIPv4
	TypeIPv6
	TypeString
	TypeBinary
)

const typeMask = 0x0f
const boolBit = 0x80

// TypedData is a single SPOP tagged-union value: exactly one of the Bool,
// Int32, ..., Binary fields is meaningful, selected by Type. NULL carries no
// payload at all.
type TypedData struct {
	Type   DataType
	Bool   bool
	Int32  int32
	Uint32 uint32
	Int64  int64
	Uint64 uint64
	IP     netip.Addr // TypeIPv4 or TypeIPv6.
	String string
	Binary []byte
}

func Null() TypedData                { return TypedData{Type: TypeNull} }
func Bool(v bool) TypedData          { return TypedData{Type: TypeBool, Bool: v} }
func Int32(v int32) TypedData        { return TypedData{Type: TypeInt32, Int32: v} }
func Uint32Value(v uint32) TypedData { return TypedData{Type: TypeUint32, Uint32: v} }
func Int64(v int64) TypedData        { return TypedData{Type: TypeInt64, Int64: v} }
func Uint64Value(v uint64) TypedData { return TypedData{Type: TypeUint64, Uint64: v} }
func IPv4(v netip.Addr) TypedData    { return TypedData{Type: TypeIPv4, IP: v} }
func IPv6(v netip.Addr) TypedData    { return TypedData{Type: TypeIPv6, IP: v} }
func String(v string) TypedData      { return TypedData{Type: TypeString, String: v} }
func Binary(v []byte) TypedData      { return TypedData{Type: TypeBinary, Binary: v} }

// Equal reports whether d and other carry the same type and value.
func (d TypedData) Equal(other TypedData) bool {
	if d.Type != other.Type {
		return false
	}
	switch d.Type {
	case TypeNull:
		return true
	case TypeBool:
		return d.Bool == other.Bool
	case TypeInt32:
		return d.Int32 == other.Int32
	case TypeUint32:
		return d.Uint32 == other.Uint32
	case TypeInt64:
		return d.Int64 == other.Int64
	case TypeUint64:
		return d.Uint64 == other.Uint64
	case TypeIPv4, TypeIPv6:
		return d.IP == other.IP
	case TypeString:
		return d.String == other.String
	case TypeBinary:
		return string(d.Binary) == string(other.Binary)
	default:
		return false
	}
}

// encodeTypedData appends the wire encoding of d to buf: a tag byte (with
// the BOOL value folded into its high bit) followed by the type's payload.
func encodeTypedData(buf []byte, d TypedData) []byte {
	tag := byte(d.Type)
	if d.Type == TypeBool && d.Bool {
		tag |= boolBit
	}
	buf = append(buf, tag)

	switch d.Type {
	case TypeNull, TypeBool:
		// No payload.
	case TypeInt32:
		buf = encodeVarint(buf, uint64(uint32(d.Int32)))
	case TypeUint32:
		buf = encodeVarint(buf, uint64(d.Uint32))
	case TypeInt64:
		buf = encodeVarint(buf, uint64(d.Int64))
	case TypeUint64:
		buf = encodeVarint(buf, d.Uint64)
	case TypeIPv4:
		a := d.IP.As4()
		buf = append(buf, a[:]...)
	case TypeIPv6:
		a := d.IP.As16()
		buf = append(buf, a[:]...)
	case TypeString:
		buf = encodeVarintString(buf, d.String)
	case TypeBinary:
		buf = encodeVarintBlob(buf, d.Binary)
	}

	return buf
}

// decodeTypedData reads one tag byte and its associated payload from r.
func decodeTypedData(r *bufio.Reader) (TypedData, error) {
	tagByte, err := r.ReadByte()
	if err != nil {
		return TypedData{}, fmt.Errorf("%w: typed-data tag: %w", ErrInsufficientBytes, err)
	}

	typ := DataType(tagByte & typeMask)
	if typ > TypeBinary {
		return TypedData{}, fmt.Errorf("%w: tag %#x", ErrInvalidType, tagByte)
	}

	switch typ {
	case TypeNull:
		return Null(), nil
	case TypeBool:
		return Bool(tagByte&boolBit != 0), nil
	case TypeInt32:
		v, err := decodeVarint(r)
		if err != nil {
			return TypedData{}, err
		}
		if v > 0xffffffff {
			return TypedData{}, fmt.Errorf("%w: int32 value out of range", ErrInvalidType)
		}
		return Int32(int32(uint32(v))), nil
	case TypeUint32:
		v, err := decodeVarint(r)
		if err != nil {
			return TypedData{}, err
		}
		if v > 0xffffffff {
			return TypedData{}, fmt.Errorf("%w: uint32 value out of range", ErrInvalidType)
		}
		return Uint32Value(uint32(v)), nil
	case TypeInt64:
		v, err := decodeVarint(r)
		if err != nil {
			return TypedData{}, err
		}
		return Int64(int64(v)), nil
	case TypeUint64:
		v, err := decodeVarint(r)
		if err != nil {
			return TypedData{}, err
		}
		return Uint64Value(v), nil
	case TypeIPv4:
		var b [4]byte
		if _, err := io.ReadFull(r, b[:]); err != nil {
			return TypedData{}, fmt.Errorf("%w: ipv4 payload: %w", ErrInsufficientBytes, err)
		}
		return IPv4(netip.AddrFrom4(b)), nil
	case TypeIPv6:
		var b [16]byte
		if _, err := io.ReadFull(r, b[:]); err != nil {
			return TypedData{}, fmt.Errorf("%w: ipv6 payload: %w", ErrInsufficientBytes, err)
		}
		return IPv6(netip.AddrFrom16(b)), nil
	case TypeString:
		s, err := decodeVarintString(r)
		if err != nil {
			return TypedData{}, err
		}
		return String(s), nil
	case TypeBinary:
		b, err := decodeVarintBlob(r)
		if err != nil {
			return TypedData{}, err
		}
		return Binary(b), nil
	}

	return TypedData{}, fmt.Errorf("%w: tag %#x", ErrInvalidType, tagByte)
}
