package tablekv

const revBucket = "rev"

// ReversibleTable is a Table that additionally maintains a reverse index
// from value bytes to keys, so the keys holding a given value can be looked
// up without a full scan. Multiple keys may hold the same value; GetByValue
// returns all of them in ascending key order.
//
// The reverse index maps valueBytes ++ keyBytes to keyBytes, relying on the
// value encoding being prefix-free so that a scan over the valueBytes prefix
// matches exactly one value. MsgpackValue qualifies (the format is
// self-delimiting); StringValue and BytesValue do not ("a" encodes to a
// prefix of "ab"), and neither do Snappy-wrapped codecs, whose output is not
// canonical.
//
// Both rows are updated in the same storage transaction; a reader never
// observes one without the other.
type ReversibleTable[K, V any] struct {
	db   *DB
	name string
	keyc KeyCodec[K]
	valc ValueCodec[V]
}

// NewReversibleTable opens (creating if necessary) the named collection
// along with its reverse index.
func NewReversibleTable[K, V any](db *DB, name string, keyc KeyCodec[K], valc ValueCodec[V]) (*ReversibleTable[K, V], error) {
	if err := db.claimCollection(name); err != nil {
		return nil, err
	}
	tbl := &ReversibleTable[K, V]{db: db, name: name, keyc: keyc, valc: valc}
	err := db.update(func(tx storageTx) error {
		if _, err := tx.CreateBucket(name, dataBucket); err != nil {
			return err
		}
		_, err := tx.CreateBucket(name, revBucket)
		return err
	})
	if err != nil {
		return nil, err
	}
	return tbl, nil
}

func (tbl *ReversibleTable[K, V]) Name() string {
	return tbl.name
}

func (tbl *ReversibleTable[K, V]) bucketsIn(tx storageTx) (data, idx storageBucket, err error) {
	data = tx.Bucket(tbl.name, dataBucket)
	if data == nil {
		return nil, nil, tableErrf(tbl.name, "", nil, nil, "data bucket is missing")
	}
	idx = tx.Bucket(tbl.name, revBucket)
	if idx == nil {
		return nil, nil, tableErrf(tbl.name, revBucket, nil, nil, "reverse index bucket is missing")
	}
	return data, idx, nil
}

// Get returns the value stored under key.
func (tbl *ReversibleTable[K, V]) Get(key K) (V, bool, error) {
	var value V
	var found bool
	keyRaw := tbl.keyc.AppendKey(nil, key)
	err := tbl.db.view(func(tx storageTx) error {
		data, _, err := tbl.bucketsIn(tx)
		if err != nil {
			return err
		}
		raw := data.Get(keyRaw)
		if raw == nil {
			return nil
		}
		value, err = tbl.valc.DecodeValue(raw)
		if err != nil {
			return tableErrf(tbl.name, "", keyRaw, err, "decoding value")
		}
		found = true
		return nil
	})
	return value, found, err
}

// Insert stores value under key, returning the previous value if the key was
// already present. The reverse index entry for the previous value, if any,
// is retracted in the same transaction.
func (tbl *ReversibleTable[K, V]) Insert(key K, value V) (V, bool, error) {
	var prev V
	var replaced bool
	err := tbl.db.update(func(tx storageTx) error {
		return tbl.insertIn(tx, key, value, &prev, &replaced)
	})
	return prev, replaced, err
}

func (tbl *ReversibleTable[K, V]) insertIn(tx storageTx, key K, value V, prev *V, replaced *bool) error {
	data, idx, err := tbl.bucketsIn(tx)
	if err != nil {
		return err
	}
	keyRaw := tbl.keyc.AppendKey(nil, key)

	if old := data.Get(keyRaw); old != nil {
		if err := idx.Delete(append(append([]byte(nil), old...), keyRaw...)); err != nil {
			return tableErrf(tbl.name, revBucket, keyRaw, err, "retracting reverse index entry")
		}
		if prev != nil {
			p, err := tbl.valc.DecodeValue(old)
			if err != nil {
				return tableErrf(tbl.name, "", keyRaw, err, "decoding previous value")
			}
			*prev, *replaced = p, true
		}
	}

	valRaw, err := tbl.valc.AppendValue(nil, value)
	if err != nil {
		return tableErrf(tbl.name, "", keyRaw, err, "encoding value")
	}
	if err := data.Put(keyRaw, valRaw); err != nil {
		return tableErrf(tbl.name, "", keyRaw, err, "writing value")
	}
	idxKey := append(append([]byte(nil), valRaw...), keyRaw...)
	if err := idx.Put(idxKey, keyRaw); err != nil {
		return tableErrf(tbl.name, revBucket, keyRaw, err, "writing reverse index entry")
	}
	if tbl.db.verbose {
		tbl.db.logf("db: PUT %s/%v", tbl.name, key)
	}
	return nil
}

// Remove deletes the entry under key along with its reverse index entry,
// returning the removed value if the key was present.
func (tbl *ReversibleTable[K, V]) Remove(key K) (V, bool, error) {
	var prev V
	var removed bool
	err := tbl.db.update(func(tx storageTx) error {
		return tbl.removeIn(tx, key, &prev, &removed)
	})
	return prev, removed, err
}

func (tbl *ReversibleTable[K, V]) removeIn(tx storageTx, key K, prev *V, removed *bool) error {
	data, idx, err := tbl.bucketsIn(tx)
	if err != nil {
		return err
	}
	keyRaw := tbl.keyc.AppendKey(nil, key)
	old := data.Get(keyRaw)
	if old == nil {
		return nil
	}
	if prev != nil {
		p, err := tbl.valc.DecodeValue(old)
		if err != nil {
			return tableErrf(tbl.name, "", keyRaw, err, "decoding removed value")
		}
		*prev, *removed = p, true
	}
	// Copy the index key out before deleting the row; old aliases the
	// bucket's storage.
	idxKey := append(append([]byte(nil), old...), keyRaw...)
	if err := data.Delete(keyRaw); err != nil {
		return tableErrf(tbl.name, "", keyRaw, err, "deleting value")
	}
	if err := idx.Delete(idxKey); err != nil {
		return tableErrf(tbl.name, revBucket, keyRaw, err, "retracting reverse index entry")
	}
	if tbl.db.verbose {
		tbl.db.logf("db: DEL %s/%v", tbl.name, key)
	}
	return nil
}

// BatchInsert stages an insert into b.
func (tbl *ReversibleTable[K, V]) BatchInsert(b *Batch, key K, value V) {
	b.add(func(tx storageTx) error {
		return tbl.insertIn(tx, key, value, nil, nil)
	})
}

// BatchRemove stages a removal into b.
func (tbl *ReversibleTable[K, V]) BatchRemove(b *Batch, key K) {
	b.add(func(tx storageTx) error {
		return tbl.removeIn(tx, key, nil, nil)
	})
}

// GetByValue iterates over the keys currently holding value, in ascending
// key order. The iterator holds a read transaction until closed.
func (tbl *ReversibleTable[K, V]) GetByValue(value V) *KeyIter[K] {
	valRaw, err := tbl.valc.AppendValue(nil, value)
	if err != nil {
		return &KeyIter[K]{err: tableErrf(tbl.name, revBucket, nil, err, "encoding value"), done: true}
	}
	tx, err := tbl.db.beginRead()
	if err != nil {
		return &KeyIter[K]{err: err, done: true}
	}
	_, idx, err := tbl.bucketsIn(tx)
	if err != nil {
		tx.Rollback()
		return &KeyIter[K]{err: err, done: true}
	}
	raw := RawPrefix(valRaw)
	return &KeyIter[K]{
		name: tbl.name,
		keyc: tbl.keyc,
		skip: len(valRaw),
		tx:   tx,
		cur:  raw.newCursor(idx.Cursor(), tbl.db.slogger),
	}
}

// Scan iterates over the entries whose keys fall within rng, in key order.
func (tbl *ReversibleTable[K, V]) Scan(rng Range[K]) *Iter[K, V] {
	tx, err := tbl.db.beginRead()
	if err != nil {
		return &Iter[K, V]{err: err, done: true}
	}
	data, _, err := tbl.bucketsIn(tx)
	if err != nil {
		tx.Rollback()
		return &Iter[K, V]{err: err, done: true}
	}
	raw := rng.raw(tbl.keyc)
	return &Iter[K, V]{
		name: tbl.name,
		keyc: tbl.keyc,
		valc: tbl.valc,
		tx:   tx,
		cur:  raw.newCursor(data.Cursor(), tbl.db.slogger),
	}
}

// Stats reports the table's row and reverse index counts.
func (tbl *ReversibleTable[K, V]) Stats() (CollectionStats, error) {
	return tbl.db.CollectionStats(tbl.name)
}

// Count returns the number of entries in the table.
func (tbl *ReversibleTable[K, V]) Count() (int, error) {
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

// KeyIter walks the keys matched by a reverse index lookup. Same contract as
// Iter: call Close unless the iterator is drained.
type KeyIter[K any] struct {
	name string
	keyc KeyCodec[K]
	skip int
	tx   storageTx
	cur  *RawRangeCursor
	key  K
	err  error
	done bool
}

func (iter *KeyIter[K]) Next() bool {
	if iter.done {
		return false
	}
	if !iter.cur.Next() {
		iter.Close()
		return false
	}
	idxKey := iter.cur.Key()
	if len(idxKey) < iter.skip {
		iter.fail(tableErrf(iter.name, revBucket, idxKey, nil, "reverse index key is shorter than its value prefix"))
		return false
	}
	key, err := iter.keyc.DecodeKey(idxKey[iter.skip:])
	if err != nil {
		iter.fail(tableErrf(iter.name, revBucket, idxKey, err, "decoding indexed key"))
		return false
	}
	iter.key = key
	return true
}

// Key returns the current key. Only valid after Next returned true.
func (iter *KeyIter[K]) Key() K { return iter.key }

// Err returns the first error encountered during the lookup, if any.
func (iter *KeyIter[K]) Err() error { return iter.err }

// Close releases the iterator's read transaction. Safe to call multiple
// times.
func (iter *KeyIter[K]) Close() {
	if iter.done {
		return
	}
	iter.done = true
	if iter.tx != nil {
		iter.tx.Rollback()
	}
}

func (iter *KeyIter[K]) fail(err error) {
	iter.err = err
	iter.Close()
}

// AllMatchedKeys drains and closes iter, collecting every remaining key.
func AllMatchedKeys[K any](iter *KeyIter[K]) ([]K, error) {
	defer iter.Close()
	var keys []K
	for iter.Next() {
		keys = append(keys, iter.Key())
	}
	return keys, iter.Err()
}
