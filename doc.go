/*
Package tablekv implements typed tables on top of an ordered key-value store
(in this case, on top of Bolt, with a transactional in-memory backend for
tests and ephemeral data).

We implement:

1. Tables, typed key→value collections with ordered range scans.

2. Timestamped tables, which additionally maintain a time index so that
records can be retrieved in timestamp order or within a timestamp range.

3. Reversible tables, which additionally maintain a reverse index so that
records can be retrieved by value as well as by key.

4. Batches, which apply any number of staged table mutations as a single
all-or-nothing unit, across any number of tables.

# Technical Details

**Buckets.**
Each table owns a root bucket named after the table, with a “data” sub-bucket
for records and, depending on the table kind, a “ts” or “rev” sub-bucket for
the secondary index. Buckets are never shared between tables; DB enforces
this at construction time.

**Consistency.**
Every mutation that touches both the data bucket and an index bucket runs
inside one writable storage transaction, so primary and secondary state
cannot diverge, not even across a crash mid-write. A failed mutation leaves
all buckets unchanged.

## Binary encoding

**Key encoding.**
Keys are encoded with order-preserving codecs: the byte-lexicographic order
of encoded keys matches the natural order of the typed keys. Integers are
fixed-width big-endian (signed integers with the sign bit flipped), strings
and byte slices are raw bytes, timestamps are fixed 8-byte nanosecond values.

**Value encoding.**
Values are encoded with an opaque codec, msgpack by default (with sorted map
keys, so equal values always encode to equal bytes). Value encodings carry no
order requirement.

**Time index.**
Key: encoded timestamp followed by the encoded primary key; value: the
encoded primary key. The timestamp component is fixed-width, so entries sort
by timestamp first and by key second. The record in the data bucket stores
the same fixed-width timestamp as a prefix of the value bytes.

**Reverse index.**
Key: encoded value followed by the encoded primary key; value: the encoded
primary key. Multiple keys may share a value; their index entries sort by
key.
*/
package tablekv
