package tablekv

import (
	"encoding/binary"
	"slices"
	"time"
)

// KeyCodec encodes typed keys into byte strings whose lexicographic order
// matches the natural order of the keys. This order preservation is the
// invariant every range scan in the package depends on; a codec that breaks
// it corrupts scans silently.
type KeyCodec[K any] interface {
	// AppendKey appends the order-preserving encoding of key to buf.
	AppendKey(buf []byte, key K) []byte
	// DecodeKey decodes a previously encoded key. The data slice is only
	// valid for the duration of the call.
	DecodeKey(data []byte) (K, error)
}

// FixedKeyCodec is a KeyCodec whose encodings all have the same length.
// Fixed width is required for the leading component of composite index keys
// (timestamps), so that the remainder of a composite key can be sliced off
// without a delimiter.
type FixedKeyCodec[K any] interface {
	KeyCodec[K]
	// KeySize returns the encoded length in bytes.
	KeySize() int
}

const signBit64 = uint64(1) << 63
const signBit32 = uint32(1) << 31

// Uint64Key encodes uint64 keys as fixed 8-byte big-endian.
type Uint64Key struct{}

func (Uint64Key) AppendKey(buf []byte, key uint64) []byte {
	return appendUint64(buf, key)
}

func (Uint64Key) DecodeKey(data []byte) (uint64, error) {
	if len(data) != 8 {
		return 0, encErrf(data, 0, nil, "invalid uint64 key length: got %d bytes, wanted 8", len(data))
	}
	return binary.BigEndian.Uint64(data), nil
}

func (Uint64Key) KeySize() int { return 8 }

// Uint32Key encodes uint32 keys as fixed 4-byte big-endian.
type Uint32Key struct{}

func (Uint32Key) AppendKey(buf []byte, key uint32) []byte {
	return appendUint32(buf, key)
}

func (Uint32Key) DecodeKey(data []byte) (uint32, error) {
	if len(data) != 4 {
		return 0, encErrf(data, 0, nil, "invalid uint32 key length: got %d bytes, wanted 4", len(data))
	}
	return binary.BigEndian.Uint32(data), nil
}

func (Uint32Key) KeySize() int { return 4 }

// Int64Key encodes int64 keys as fixed 8-byte big-endian with the sign bit
// flipped, so negative keys sort before positive ones.
type Int64Key struct{}

func (Int64Key) AppendKey(buf []byte, key int64) []byte {
	return appendUint64(buf, uint64(key)^signBit64)
}

func (Int64Key) DecodeKey(data []byte) (int64, error) {
	if len(data) != 8 {
		return 0, encErrf(data, 0, nil, "invalid int64 key length: got %d bytes, wanted 8", len(data))
	}
	return int64(binary.BigEndian.Uint64(data) ^ signBit64), nil
}

func (Int64Key) KeySize() int { return 8 }

// Int32Key encodes int32 keys as fixed 4-byte big-endian with the sign bit
// flipped.
type Int32Key struct{}

func (Int32Key) AppendKey(buf []byte, key int32) []byte {
	return appendUint32(buf, uint32(key)^signBit32)
}

func (Int32Key) DecodeKey(data []byte) (int32, error) {
	if len(data) != 4 {
		return 0, encErrf(data, 0, nil, "invalid int32 key length: got %d bytes, wanted 4", len(data))
	}
	return int32(binary.BigEndian.Uint32(data) ^ signBit32), nil
}

func (Int32Key) KeySize() int { return 4 }

// StringKey encodes string keys as their raw bytes.
type StringKey struct{}

func (StringKey) AppendKey(buf []byte, key string) []byte {
	return appendString(buf, key)
}

func (StringKey) DecodeKey(data []byte) (string, error) {
	return string(data), nil
}

// BytesKey encodes []byte keys as-is. Decoded keys are copies; the store's
// buffers are not retained.
type BytesKey struct{}

func (BytesKey) AppendKey(buf []byte, key []byte) []byte {
	return appendRaw(buf, key)
}

func (BytesKey) DecodeKey(data []byte) ([]byte, error) {
	return slices.Clone(data), nil
}

// TimeKey encodes time.Time keys as fixed 8-byte big-endian nanoseconds
// since the Unix epoch, sign-flipped. Monotonic clock readings and location
// are not round-tripped; compare decoded times with Equal.
type TimeKey struct{}

func (TimeKey) AppendKey(buf []byte, key time.Time) []byte {
	return appendUint64(buf, uint64(key.UnixNano())^signBit64)
}

func (TimeKey) DecodeKey(data []byte) (time.Time, error) {
	if len(data) != 8 {
		return time.Time{}, encErrf(data, 0, nil, "invalid time key length: got %d bytes, wanted 8", len(data))
	}
	return time.Unix(0, int64(binary.BigEndian.Uint64(data)^signBit64)).UTC(), nil
}

func (TimeKey) KeySize() int { return 8 }

// FlatMarshaler is implemented by types that can append their own
// order-preserving encoding.
type FlatMarshaler interface {
	MarshalFlat(buf []byte) []byte
}

// FlatUnmarshaler is implemented by types that can decode themselves from an
// order-preserving encoding.
type FlatUnmarshaler interface {
	UnmarshalFlat(data []byte) error
}

// FlatKey returns a KeyCodec for any type implementing FlatMarshaler whose
// pointer implements FlatUnmarshaler. The type's MarshalFlat must be
// order-preserving.
func FlatKey[K FlatMarshaler, PK interface {
	*K
	FlatUnmarshaler
}]() KeyCodec[K] {
	return flatKeyCodec[K, PK]{}
}

type flatKeyCodec[K FlatMarshaler, PK interface {
	*K
	FlatUnmarshaler
}] struct{}

func (flatKeyCodec[K, PK]) AppendKey(buf []byte, key K) []byte {
	return key.MarshalFlat(buf)
}

func (flatKeyCodec[K, PK]) DecodeKey(data []byte) (K, error) {
	var key K
	if err := PK(&key).UnmarshalFlat(data); err != nil {
		return key, encErrf(data, 0, err, "decoding %T key", key)
	}
	return key, nil
}
