package tablekv

import (
	"bytes"
	"errors"
	"testing"
	"time"
)

func TestUintKeyRoundTrip(t *testing.T) {
	for _, v := range []uint64{0, 1, 255, 256, 1 << 40, ^uint64(0)} {
		raw := Uint64Key{}.AppendKey(nil, v)
		if len(raw) != (Uint64Key{}).KeySize() {
			t.Fatalf("** encoded %d into %d bytes", v, len(raw))
		}
		got := must(Uint64Key{}.DecodeKey(raw))
		if got != v {
			t.Errorf("** round trip of %d = %d", v, got)
		}
	}
	for _, v := range []uint32{0, 1, 1 << 20, ^uint32(0)} {
		got := must(Uint32Key{}.DecodeKey(Uint32Key{}.AppendKey(nil, v)))
		if got != v {
			t.Errorf("** round trip of %d = %d", v, got)
		}
	}
}

func TestIntKeyOrderPreservation(t *testing.T) {
	vals := []int64{-1 << 62, -1000, -1, 0, 1, 1000, 1 << 62}
	var prev []byte
	for _, v := range vals {
		raw := Int64Key{}.AppendKey(nil, v)
		if got := must(Int64Key{}.DecodeKey(raw)); got != v {
			t.Errorf("** round trip of %d = %d", v, got)
		}
		if prev != nil && bytes.Compare(prev, raw) >= 0 {
			t.Errorf("** encoding of %d does not sort after its predecessor", v)
		}
		prev = raw
	}

	vals32 := []int32{-1 << 30, -1, 0, 1, 1 << 30}
	prev = nil
	for _, v := range vals32 {
		raw := Int32Key{}.AppendKey(nil, v)
		if got := must(Int32Key{}.DecodeKey(raw)); got != v {
			t.Errorf("** round trip of %d = %d", v, got)
		}
		if prev != nil && bytes.Compare(prev, raw) >= 0 {
			t.Errorf("** encoding of %d does not sort after its predecessor", v)
		}
		prev = raw
	}
}

func TestUintKeyOrderPreservation(t *testing.T) {
	vals := []uint64{0, 1, 255, 256, 1 << 32, ^uint64(0)}
	var prev []byte
	for _, v := range vals {
		raw := Uint64Key{}.AppendKey(nil, v)
		if prev != nil && bytes.Compare(prev, raw) >= 0 {
			t.Errorf("** encoding of %d does not sort after its predecessor", v)
		}
		prev = raw
	}
}

func TestStringAndBytesKeys(t *testing.T) {
	raw := StringKey{}.AppendKey(nil, "hello")
	deepEqual(t, raw, []byte("hello"))
	deepEqual(t, must(StringKey{}.DecodeKey(raw)), "hello")

	src := x("00 01 FF")
	raw = BytesKey{}.AppendKey(nil, src)
	got := must(BytesKey{}.DecodeKey(raw))
	deepEqual(t, got, src)
	// Decoded keys are copies, not aliases of the store's buffers.
	raw[0] = 0xAA
	deepEqual(t, got, x("00 01 FF"))
}

func TestTimeKey(t *testing.T) {
	epoch := time.Unix(0, 0).UTC()
	later := time.Date(2024, 3, 1, 12, 0, 0, 123456789, time.UTC)
	before := time.Date(1960, 1, 1, 0, 0, 0, 0, time.UTC)

	rawBefore := TimeKey{}.AppendKey(nil, before)
	rawEpoch := TimeKey{}.AppendKey(nil, epoch)
	rawLater := TimeKey{}.AppendKey(nil, later)
	if bytes.Compare(rawBefore, rawEpoch) >= 0 || bytes.Compare(rawEpoch, rawLater) >= 0 {
		t.Fatalf("** time encodings out of order")
	}

	got := must(TimeKey{}.DecodeKey(rawLater))
	if !got.Equal(later) {
		t.Errorf("** round trip of %v = %v", later, got)
	}
}

func TestKeyDecodeErrors(t *testing.T) {
	_, err := Uint64Key{}.DecodeKey(x("01 02 03"))
	var encErr *EncodingError
	if !errors.As(err, &encErr) {
		t.Fatalf("** DecodeKey error = %v, wanted an EncodingError", err)
	}
	if _, err := (Int32Key{}).DecodeKey(nil); err == nil {
		t.Errorf("** decoding an empty int32 key did not fail")
	}
	if _, err := (TimeKey{}).DecodeKey(x("00")); err == nil {
		t.Errorf("** decoding a short time key did not fail")
	}
}

type pair struct {
	A uint32
	B uint32
}

func (p pair) MarshalFlat(buf []byte) []byte {
	buf = appendUint32(buf, p.A)
	return appendUint32(buf, p.B)
}

func (p *pair) UnmarshalFlat(data []byte) error {
	if len(data) != 8 {
		return encErrf(data, 0, nil, "invalid pair key length: got %d bytes, wanted 8", len(data))
	}
	var err error
	p.A, err = Uint32Key{}.DecodeKey(data[:4])
	if err != nil {
		return err
	}
	p.B, err = Uint32Key{}.DecodeKey(data[4:])
	return err
}

func TestFlatKey(t *testing.T) {
	codec := FlatKey[pair]()
	p := pair{A: 7, B: 9}
	raw := codec.AppendKey(nil, p)
	deepEqual(t, must(codec.DecodeKey(raw)), p)

	lesser := codec.AppendKey(nil, pair{A: 7, B: 8})
	if bytes.Compare(lesser, raw) >= 0 {
		t.Errorf("** pair encodings out of order")
	}

	if _, err := codec.DecodeKey(x("00")); err == nil {
		t.Errorf("** decoding a short pair key did not fail")
	}
}
