package tablekv

import (
	"bytes"
	"encoding/json"
	"reflect"
	"slices"
	"sort"

	"github.com/golang/snappy"
	"github.com/vmihailenco/msgpack/v5"
)

// ValueCodec encodes typed values into opaque byte strings. Round-trip is
// the only requirement; encoded bytes carry no order. When a codec is used
// with a ReversibleTable, equal values must encode to equal bytes
// (MsgpackValue and JSONValue satisfy this; so does any codec on types with
// a single canonical encoding).
type ValueCodec[V any] interface {
	// AppendValue appends the encoding of v to buf.
	AppendValue(buf []byte, v V) ([]byte, error)
	// DecodeValue decodes a previously encoded value. The data slice is only
	// valid for the duration of the call.
	DecodeValue(data []byte) (V, error)
}

// MsgpackValue encodes values with msgpack. Map keys are written in sorted
// order, so equal values encode to equal bytes: the encoder itself sorts
// map[string]string and map[string]interface{}, and any other map kind is
// ordered here by its encoded key bytes. Maps of those other kinds nested
// inside struct fields or interface values are not reached and stay
// unordered; do not use such values with a ReversibleTable.
type MsgpackValue[V any] struct{}

func (MsgpackValue[V]) AppendValue(buf []byte, v V) ([]byte, error) {
	bb := bytesBuilder{buf}
	enc := msgpack.GetEncoder()
	enc.Reset(&bb)
	enc.SetSortMapKeys(true)
	err := encodeCanonical(enc, reflect.ValueOf(&v).Elem())
	msgpack.PutEncoder(enc)
	if err != nil {
		return nil, encErrf(nil, 0, err, "failed to encode %T using msgpack", v)
	}
	return bb.Buf, nil
}

// encodeCanonical writes rv with map pairs in a deterministic order.
// SetSortMapKeys covers only map[string]string and map[string]interface{};
// every other map kind iterates in random order, so its pairs are sorted by
// encoded key bytes before writing. Map-typed values recurse.
func encodeCanonical(enc *msgpack.Encoder, rv reflect.Value) error {
	if rv.Kind() != reflect.Map {
		return enc.Encode(rv.Interface())
	}
	switch rv.Interface().(type) {
	case map[string]string, map[string]interface{}:
		return enc.Encode(rv.Interface())
	}
	if rv.IsNil() {
		return enc.EncodeNil()
	}
	type rawKey struct {
		raw []byte
		key reflect.Value
	}
	keys := rv.MapKeys()
	sorted := make([]rawKey, len(keys))
	for i, key := range keys {
		raw, err := msgpack.Marshal(key.Interface())
		if err != nil {
			return err
		}
		sorted[i] = rawKey{raw, key}
	}
	sort.Slice(sorted, func(i, j int) bool {
		return bytes.Compare(sorted[i].raw, sorted[j].raw) < 0
	})
	if err := enc.EncodeMapLen(rv.Len()); err != nil {
		return err
	}
	for _, k := range sorted {
		if err := enc.Encode(k.key.Interface()); err != nil {
			return err
		}
		if err := encodeCanonical(enc, rv.MapIndex(k.key)); err != nil {
			return err
		}
	}
	return nil
}

func (MsgpackValue[V]) DecodeValue(data []byte) (V, error) {
	var v V
	var r bytes.Reader
	r.Reset(data)
	dec := msgpack.GetDecoder()
	dec.Reset(&r)
	err := dec.Decode(&v)
	msgpack.PutDecoder(dec)
	if err != nil {
		return v, encErrf(data, 0, err, "failed to decode msgpack into %T", v)
	}
	return v, nil
}

// JSONValue encodes values as JSON.
type JSONValue[V any] struct{}

func (JSONValue[V]) AppendValue(buf []byte, v V) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, encErrf(nil, 0, err, "failed to encode %T to JSON", v)
	}
	return appendRaw(buf, raw), nil
}

func (JSONValue[V]) DecodeValue(data []byte) (V, error) {
	var v V
	if err := json.Unmarshal(data, &v); err != nil {
		return v, encErrf(data, 0, err, "failed to decode JSON into %T", v)
	}
	return v, nil
}

// StringValue stores strings as their raw bytes.
type StringValue struct{}

func (StringValue) AppendValue(buf []byte, v string) ([]byte, error) {
	return appendString(buf, v), nil
}

func (StringValue) DecodeValue(data []byte) (string, error) {
	return string(data), nil
}

// BytesValue stores byte slices as-is. Decoded values are copies.
type BytesValue struct{}

func (BytesValue) AppendValue(buf []byte, v []byte) ([]byte, error) {
	return appendRaw(buf, v), nil
}

func (BytesValue) DecodeValue(data []byte) ([]byte, error) {
	return slices.Clone(data), nil
}

// Snappy wraps a value codec with snappy block compression. Note that
// compressed bytes are not canonical across snappy versions, so Snappy is
// not suitable for ReversibleTable values.
func Snappy[V any](inner ValueCodec[V]) ValueCodec[V] {
	return snappyValue[V]{inner: inner}
}

type snappyValue[V any] struct {
	inner ValueCodec[V]
}

func (c snappyValue[V]) AppendValue(buf []byte, v V) ([]byte, error) {
	raw, err := c.inner.AppendValue(nil, v)
	if err != nil {
		return nil, err
	}
	return appendRaw(buf, snappy.Encode(nil, raw)), nil
}

func (c snappyValue[V]) DecodeValue(data []byte) (V, error) {
	raw, err := snappy.Decode(nil, data)
	if err != nil {
		var v V
		return v, encErrf(data, 0, err, "failed to decompress %T value", v)
	}
	return c.inner.DecodeValue(raw)
}
