package tablekv

const tsBucket = "ts"

// TimestampedTable is a Table that additionally maintains a time index, so
// entries can be looked up and scanned by timestamp as well as by key. The
// timestamp is supplied by the caller on every insert and stored with the
// value; re-inserting a key moves it to the new timestamp.
//
// The primary row stores the timestamp as a fixed-width prefix of the value
// bytes. The time index maps tsBytes ++ keyBytes to keyBytes, so entries
// sharing a timestamp sort by key. Both rows are updated in the same storage
// transaction; a reader never observes one without the other.
type TimestampedTable[K, V, T any] struct {
	db   *DB
	name string
	keyc KeyCodec[K]
	valc ValueCodec[V]
	tsc  FixedKeyCodec[T]
}

// NewTimestampedTable opens (creating if necessary) the named collection
// along with its time index. The timestamp codec must be fixed-width
// (Uint64Key, Int64Key, TimeKey and the like).
func NewTimestampedTable[K, V, T any](db *DB, name string, keyc KeyCodec[K], valc ValueCodec[V], tsc FixedKeyCodec[T]) (*TimestampedTable[K, V, T], error) {
	if err := db.claimCollection(name); err != nil {
		return nil, err
	}
	tbl := &TimestampedTable[K, V, T]{db: db, name: name, keyc: keyc, valc: valc, tsc: tsc}
	err := db.update(func(tx storageTx) error {
		if _, err := tx.CreateBucket(name, dataBucket); err != nil {
			return err
		}
		_, err := tx.CreateBucket(name, tsBucket)
		return err
	})
	if err != nil {
		return nil, err
	}
	return tbl, nil
}

func (tbl *TimestampedTable[K, V, T]) Name() string {
	return tbl.name
}

func (tbl *TimestampedTable[K, V, T]) bucketsIn(tx storageTx) (data, idx storageBucket, err error) {
	data = tx.Bucket(tbl.name, dataBucket)
	if data == nil {
		return nil, nil, tableErrf(tbl.name, "", nil, nil, "data bucket is missing")
	}
	idx = tx.Bucket(tbl.name, tsBucket)
	if idx == nil {
		return nil, nil, tableErrf(tbl.name, tsBucket, nil, nil, "time index bucket is missing")
	}
	return data, idx, nil
}

func (tbl *TimestampedTable[K, V, T]) splitRow(keyRaw, row []byte) (tsRaw, valRaw []byte, err error) {
	n := tbl.tsc.KeySize()
	if len(row) < n {
		return nil, nil, tableErrf(tbl.name, "", keyRaw, nil, "row is shorter than its timestamp prefix (%d bytes)", len(row))
	}
	return row[:n], row[n:], nil
}

// Get returns the value and timestamp stored under key.
func (tbl *TimestampedTable[K, V, T]) Get(key K) (V, T, bool, error) {
	var value V
	var ts T
	var found bool
	keyRaw := tbl.keyc.AppendKey(nil, key)
	err := tbl.db.view(func(tx storageTx) error {
		data, _, err := tbl.bucketsIn(tx)
		if err != nil {
			return err
		}
		row := data.Get(keyRaw)
		if row == nil {
			return nil
		}
		tsRaw, valRaw, err := tbl.splitRow(keyRaw, row)
		if err != nil {
			return err
		}
		ts, err = tbl.tsc.DecodeKey(tsRaw)
		if err != nil {
			return tableErrf(tbl.name, "", keyRaw, err, "decoding timestamp")
		}
		value, err = tbl.valc.DecodeValue(valRaw)
		if err != nil {
			return tableErrf(tbl.name, "", keyRaw, err, "decoding value")
		}
		found = true
		return nil
	})
	return value, ts, found, err
}

// Insert stores value under key at the given timestamp, returning the
// previous value and timestamp if the key was already present. The time
// index entry for the previous timestamp, if any, is retracted in the same
// transaction.
func (tbl *TimestampedTable[K, V, T]) Insert(key K, value V, ts T) (V, T, bool, error) {
	var prev V
	var prevTS T
	var replaced bool
	err := tbl.db.update(func(tx storageTx) error {
		return tbl.insertIn(tx, key, value, ts, &prev, &prevTS, &replaced)
	})
	return prev, prevTS, replaced, err
}

func (tbl *TimestampedTable[K, V, T]) insertIn(tx storageTx, key K, value V, ts T, prev *V, prevTS *T, replaced *bool) error {
	data, idx, err := tbl.bucketsIn(tx)
	if err != nil {
		return err
	}
	keyRaw := tbl.keyc.AppendKey(nil, key)

	if old := data.Get(keyRaw); old != nil {
		oldTSRaw, oldValRaw, err := tbl.splitRow(keyRaw, old)
		if err != nil {
			return err
		}
		if err := idx.Delete(append(append([]byte(nil), oldTSRaw...), keyRaw...)); err != nil {
			return tableErrf(tbl.name, tsBucket, keyRaw, err, "retracting time index entry")
		}
		if prev != nil {
			p, err := tbl.valc.DecodeValue(oldValRaw)
			if err != nil {
				return tableErrf(tbl.name, "", keyRaw, err, "decoding previous value")
			}
			pts, err := tbl.tsc.DecodeKey(oldTSRaw)
			if err != nil {
				return tableErrf(tbl.name, "", keyRaw, err, "decoding previous timestamp")
			}
			*prev, *prevTS, *replaced = p, pts, true
		}
	}

	row := tbl.tsc.AppendKey(nil, ts)
	tsRaw := row[:tbl.tsc.KeySize()]
	idxKey := append(append([]byte(nil), tsRaw...), keyRaw...)
	row, err = tbl.valc.AppendValue(row, value)
	if err != nil {
		return tableErrf(tbl.name, "", keyRaw, err, "encoding value")
	}
	if err := data.Put(keyRaw, row); err != nil {
		return tableErrf(tbl.name, "", keyRaw, err, "writing row")
	}
	if err := idx.Put(idxKey, keyRaw); err != nil {
		return tableErrf(tbl.name, tsBucket, keyRaw, err, "writing time index entry")
	}
	if tbl.db.verbose {
		tbl.db.logf("db: PUT %s/%v @ %v", tbl.name, key, ts)
	}
	return nil
}

// Remove deletes the entry under key along with its time index entry,
// returning the removed value and timestamp if the key was present.
func (tbl *TimestampedTable[K, V, T]) Remove(key K) (V, T, bool, error) {
	var prev V
	var prevTS T
	var removed bool
	err := tbl.db.update(func(tx storageTx) error {
		return tbl.removeIn(tx, key, &prev, &prevTS, &removed)
	})
	return prev, prevTS, removed, err
}

func (tbl *TimestampedTable[K, V, T]) removeIn(tx storageTx, key K, prev *V, prevTS *T, removed *bool) error {
	data, idx, err := tbl.bucketsIn(tx)
	if err != nil {
		return err
	}
	keyRaw := tbl.keyc.AppendKey(nil, key)
	old := data.Get(keyRaw)
	if old == nil {
		return nil
	}
	oldTSRaw, oldValRaw, err := tbl.splitRow(keyRaw, old)
	if err != nil {
		return err
	}
	if prev != nil {
		p, err := tbl.valc.DecodeValue(oldValRaw)
		if err != nil {
			return tableErrf(tbl.name, "", keyRaw, err, "decoding removed value")
		}
		pts, err := tbl.tsc.DecodeKey(oldTSRaw)
		if err != nil {
			return tableErrf(tbl.name, "", keyRaw, err, "decoding removed timestamp")
		}
		*prev, *prevTS, *removed = p, pts, true
	}
	// Copy the index key out before deleting the row; old aliases the
	// bucket's storage.
	idxKey := append(append([]byte(nil), oldTSRaw...), keyRaw...)
	if err := data.Delete(keyRaw); err != nil {
		return tableErrf(tbl.name, "", keyRaw, err, "deleting row")
	}
	if err := idx.Delete(idxKey); err != nil {
		return tableErrf(tbl.name, tsBucket, keyRaw, err, "retracting time index entry")
	}
	if tbl.db.verbose {
		tbl.db.logf("db: DEL %s/%v", tbl.name, key)
	}
	return nil
}

// BatchInsert stages an insert into b.
func (tbl *TimestampedTable[K, V, T]) BatchInsert(b *Batch, key K, value V, ts T) {
	b.add(func(tx storageTx) error {
		return tbl.insertIn(tx, key, value, ts, nil, nil, nil)
	})
}

// BatchRemove stages a removal into b.
func (tbl *TimestampedTable[K, V, T]) BatchRemove(b *Batch, key K) {
	b.add(func(tx storageTx) error {
		return tbl.removeIn(tx, key, nil, nil, nil)
	})
}

// tsRawRange converts a typed timestamp range into a raw range over the time
// index, whose keys carry the key bytes as a suffix. Bounds are widened to
// prefix boundaries via successor arithmetic. The second result is false when
// the range is provably empty (exclusive lower bound at the maximum encodable
// timestamp).
func (tbl *TimestampedTable[K, V, T]) tsRawRange(rng Range[T]) (RawRange, bool) {
	var raw RawRange
	if rng.hasLower {
		lo := tbl.tsc.AppendKey(nil, rng.lower)
		if !rng.lowerInc && !inc(lo) {
			return RawRange{}, false
		}
		raw.Lower, raw.LowerInc = lo, true
	}
	if rng.hasUpper {
		up := tbl.tsc.AppendKey(nil, rng.upper)
		if rng.upperInc {
			// Inclusive upper bound at the maximum encodable timestamp
			// degenerates to no upper bound at all.
			if inc(up) {
				raw.Upper, raw.UpperInc = up, false
			}
		} else {
			raw.Upper, raw.UpperInc = up, false
		}
	}
	raw.Reverse = rng.reverse
	return raw, true
}

// ScanByTime iterates over entries whose timestamps fall within rng, ordered
// by (timestamp, key), descending if the range is reversed. The iterator
// holds a read transaction until closed.
func (tbl *TimestampedTable[K, V, T]) ScanByTime(rng Range[T]) *TimeIter[K, V, T] {
	raw, ok := tbl.tsRawRange(rng)
	if !ok {
		return &TimeIter[K, V, T]{done: true}
	}
	tx, err := tbl.db.beginRead()
	if err != nil {
		return &TimeIter[K, V, T]{err: err, done: true}
	}
	data, idx, err := tbl.bucketsIn(tx)
	if err != nil {
		tx.Rollback()
		return &TimeIter[K, V, T]{err: err, done: true}
	}
	return &TimeIter[K, V, T]{
		tbl:    tbl,
		tx:     tx,
		cur:    raw.newCursor(idx.Cursor(), tbl.db.slogger),
		data:   data,
		byTime: true,
	}
}

// ScanByKey iterates over entries whose keys fall within rng, in key order.
// Each entry carries its timestamp.
func (tbl *TimestampedTable[K, V, T]) ScanByKey(rng Range[K]) *TimeIter[K, V, T] {
	tx, err := tbl.db.beginRead()
	if err != nil {
		return &TimeIter[K, V, T]{err: err, done: true}
	}
	data, _, err := tbl.bucketsIn(tx)
	if err != nil {
		tx.Rollback()
		return &TimeIter[K, V, T]{err: err, done: true}
	}
	raw := rng.raw(tbl.keyc)
	return &TimeIter[K, V, T]{
		tbl: tbl,
		tx:  tx,
		cur: raw.newCursor(data.Cursor(), tbl.db.slogger),
	}
}

func (tbl *TimestampedTable[K, V, T]) firstByTime(rng Range[T]) (T, K, bool, error) {
	iter := tbl.ScanByTime(rng)
	defer iter.Close()
	if iter.Next() {
		return iter.Time(), iter.Key(), true, nil
	}
	var ts T
	var key K
	return ts, key, false, iter.Err()
}

// MinTime returns the earliest timestamp in the table and the smallest key
// stored at it.
func (tbl *TimestampedTable[K, V, T]) MinTime() (T, K, bool, error) {
	return tbl.firstByTime(OO[T]())
}

// MaxTime returns the latest timestamp in the table and the largest key
// stored at it.
func (tbl *TimestampedTable[K, V, T]) MaxTime() (T, K, bool, error) {
	return tbl.firstByTime(OO[T]().Reversed())
}

// Stats reports the table's row and time index counts.
func (tbl *TimestampedTable[K, V, T]) Stats() (CollectionStats, error) {
	return tbl.db.CollectionStats(tbl.name)
}

// Count returns the number of entries in the table.
func (tbl *TimestampedTable[K, V, T]) Count() (int, error) {
	var n int
	err := tbl.db.view(func(tx storageTx) error {
		data, _, err := tbl.bucketsIn(tx)
		if err != nil {
			return err
		}
		n = data.KeyCount()
		return nil
	})
	return n, err
}

// TimeIter walks the results of a timestamped scan. Same contract as Iter:
// call Close unless the iterator is drained.
type TimeIter[K, V, T any] struct {
	tbl    *TimestampedTable[K, V, T]
	tx     storageTx
	cur    *RawRangeCursor
	data   storageBucket
	byTime bool
	key    K
	val    V
	ts     T
	err    error
	done   bool
}

func (iter *TimeIter[K, V, T]) Next() bool {
	if iter.done {
		return false
	}
	if !iter.cur.Next() {
		iter.Close()
		return false
	}
	if iter.byTime {
		return iter.resolveIndexEntry()
	}
	return iter.resolveRow()
}

// resolveIndexEntry decodes a time index entry and follows it to the primary
// row within the same transaction.
func (iter *TimeIter[K, V, T]) resolveIndexEntry() bool {
	tbl := iter.tbl
	idxKey := iter.cur.Key()
	n := tbl.tsc.KeySize()
	if len(idxKey) < n {
		iter.fail(tableErrf(tbl.name, tsBucket, idxKey, nil, "time index key is shorter than a timestamp (%d bytes)", len(idxKey)))
		return false
	}
	ts, err := tbl.tsc.DecodeKey(idxKey[:n])
	if err != nil {
		iter.fail(tableErrf(tbl.name, tsBucket, idxKey, err, "decoding indexed timestamp"))
		return false
	}
	keyRaw := idxKey[n:]
	key, err := tbl.keyc.DecodeKey(keyRaw)
	if err != nil {
		iter.fail(tableErrf(tbl.name, tsBucket, idxKey, err, "decoding indexed key"))
		return false
	}
	row := iter.data.Get(keyRaw)
	if row == nil {
		iter.fail(tableErrf(tbl.name, tsBucket, idxKey, nil, "time index entry has no row"))
		return false
	}
	_, valRaw, err := tbl.splitRow(keyRaw, row)
	if err != nil {
		iter.fail(err)
		return false
	}
	val, err := tbl.valc.DecodeValue(valRaw)
	if err != nil {
		iter.fail(tableErrf(tbl.name, "", keyRaw, err, "decoding value"))
		return false
	}
	iter.key, iter.val, iter.ts = key, val, ts
	return true
}

func (iter *TimeIter[K, V, T]) resolveRow() bool {
	tbl := iter.tbl
	keyRaw := iter.cur.Key()
	key, err := tbl.keyc.DecodeKey(keyRaw)
	if err != nil {
		iter.fail(tableErrf(tbl.name, "", keyRaw, err, "decoding key"))
		return false
	}
	tsRaw, valRaw, err := tbl.splitRow(keyRaw, iter.cur.Value())
	if err != nil {
		iter.fail(err)
		return false
	}
	ts, err := tbl.tsc.DecodeKey(tsRaw)
	if err != nil {
		iter.fail(tableErrf(tbl.name, "", keyRaw, err, "decoding timestamp"))
		return false
	}
	val, err := tbl.valc.DecodeValue(valRaw)
	if err != nil {
		iter.fail(tableErrf(tbl.name, "", keyRaw, err, "decoding value"))
		return false
	}
	iter.key, iter.val, iter.ts = key, val, ts
	return true
}

func (iter *TimeIter[K, V, T]) Key() K { return iter.key }

func (iter *TimeIter[K, V, T]) Value() V { return iter.val }

func (iter *TimeIter[K, V, T]) Time() T { return iter.ts }

func (iter *TimeIter[K, V, T]) Err() error { return iter.err }

func (iter *TimeIter[K, V, T]) Close() {
	if iter.done {
		return
	}
	iter.done = true
	if iter.tx != nil {
		iter.tx.Rollback()
	}
}

func (iter *TimeIter[K, V, T]) fail(err error) {
	iter.err = err
	iter.Close()
}

// TimeEntry is a key-value pair together with its timestamp.
type TimeEntry[K, V, T any] struct {
	Key   K
	Value V
	Time  T
}

// AllTimeEntries drains and closes iter, collecting every remaining entry.
func AllTimeEntries[K, V, T any](iter *TimeIter[K, V, T]) ([]TimeEntry[K, V, T], error) {
	defer iter.Close()
	var entries []TimeEntry[K, V, T]
	for iter.Next() {
		entries = append(entries, TimeEntry[K, V, T]{iter.Key(), iter.Value(), iter.Time()})
	}
	return entries, iter.Err()
}
