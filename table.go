package tablekv

const dataBucket = "data"

// Table is a typed collection of key-value pairs stored under its own root
// bucket. Keys are stored via an order-preserving codec, so scans yield
// entries in key order regardless of insertion order.
type Table[K, V any] struct {
	db   *DB
	name string
	keyc KeyCodec[K]
	valc ValueCodec[V]
}

// NewTable opens (creating if necessary) the named collection. The name must
// not be shared with another table in the same DB.
func NewTable[K, V any](db *DB, name string, keyc KeyCodec[K], valc ValueCodec[V]) (*Table[K, V], error) {
	if err := db.claimCollection(name); err != nil {
		return nil, err
	}
	tbl := &Table[K, V]{db: db, name: name, keyc: keyc, valc: valc}
	err := db.update(func(tx storageTx) error {
		_, err := tx.CreateBucket(name, dataBucket)
		return err
	})
	if err != nil {
		return nil, err
	}
	return tbl, nil
}

func (tbl *Table[K, V]) Name() string {
	return tbl.name
}

func (tbl *Table[K, V]) dataIn(tx storageTx) (storageBucket, error) {
	data := tx.Bucket(tbl.name, dataBucket)
	if data == nil {
		return nil, tableErrf(tbl.name, "", nil, nil, "data bucket is missing")
	}
	return data, nil
}

// Get returns the value stored under key, and whether one exists.
func (tbl *Table[K, V]) Get(key K) (V, bool, error) {
	var value V
	var found bool
	keyRaw := tbl.keyc.AppendKey(nil, key)
	err := tbl.db.view(func(tx storageTx) error {
		data, err := tbl.dataIn(tx)
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
	if tbl.db.verbose {
		if found {
			tbl.db.logf("db: GET %s/%v", tbl.name, key)
		} else {
			tbl.db.logf("db: GET.MISSING %s/%v", tbl.name, key)
		}
	}
	return value, found, err
}

// Insert stores value under key, returning the previous value if the key was
// already present.
func (tbl *Table[K, V]) Insert(key K, value V) (V, bool, error) {
	var prev V
	var replaced bool
	err := tbl.db.update(func(tx storageTx) error {
		return tbl.insertIn(tx, key, value, &prev, &replaced)
	})
	return prev, replaced, err
}

func (tbl *Table[K, V]) insertIn(tx storageTx, key K, value V, prev *V, replaced *bool) error {
	data, err := tbl.dataIn(tx)
	if err != nil {
		return err
	}
	keyRaw := tbl.keyc.AppendKey(nil, key)
	if prev != nil {
		if old := data.Get(keyRaw); old != nil {
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
	if tbl.db.verbose {
		tbl.db.logf("db: PUT %s/%v", tbl.name, key)
	}
	return nil
}

// Remove deletes the entry under key, returning the removed value if the key
// was present. Removing a missing key is not an error.
func (tbl *Table[K, V]) Remove(key K) (V, bool, error) {
	var prev V
	var removed bool
	err := tbl.db.update(func(tx storageTx) error {
		return tbl.removeIn(tx, key, &prev, &removed)
	})
	return prev, removed, err
}

func (tbl *Table[K, V]) removeIn(tx storageTx, key K, prev *V, removed *bool) error {
	data, err := tbl.dataIn(tx)
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
	if err := data.Delete(keyRaw); err != nil {
		return tableErrf(tbl.name, "", keyRaw, err, "deleting value")
	}
	if tbl.db.verbose {
		tbl.db.logf("db: DEL %s/%v", tbl.name, key)
	}
	return nil
}

// BatchInsert stages an insert into b. The write happens when the batch is
// applied.
func (tbl *Table[K, V]) BatchInsert(b *Batch, key K, value V) {
	b.add(func(tx storageTx) error {
		return tbl.insertIn(tx, key, value, nil, nil)
	})
}

// BatchRemove stages a removal into b.
func (tbl *Table[K, V]) BatchRemove(b *Batch, key K) {
	b.add(func(tx storageTx) error {
		return tbl.removeIn(tx, key, nil, nil)
	})
}

// Scan iterates over the entries whose keys fall within rng, in key order
// (descending if the range is reversed). The iterator holds a read
// transaction until closed; callers must call Close unless they drain it.
func (tbl *Table[K, V]) Scan(rng Range[K]) *Iter[K, V] {
	tx, err := tbl.db.beginRead()
	if err != nil {
		return &Iter[K, V]{err: err, done: true}
	}
	data := tx.Bucket(tbl.name, dataBucket)
	if data == nil {
		tx.Rollback()
		return &Iter[K, V]{err: tableErrf(tbl.name, "", nil, nil, "data bucket is missing"), done: true}
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

func (tbl *Table[K, V]) first(rng Range[K]) (K, V, bool, error) {
	iter := tbl.Scan(rng)
	defer iter.Close()
	if iter.Next() {
		return iter.Key(), iter.Value(), true, nil
	}
	var key K
	var value V
	return key, value, false, iter.Err()
}

// Min returns the entry with the smallest key.
func (tbl *Table[K, V]) Min() (K, V, bool, error) {
	return tbl.first(OO[K]())
}

// Max returns the entry with the largest key.
func (tbl *Table[K, V]) Max() (K, V, bool, error) {
	return tbl.first(OO[K]().Reversed())
}

// Succ returns the entry with the smallest key strictly greater than key.
func (tbl *Table[K, V]) Succ(key K) (K, V, bool, error) {
	return tbl.first(EO(key))
}

// SuccIncl is like Succ but admits key itself.
func (tbl *Table[K, V]) SuccIncl(key K) (K, V, bool, error) {
	return tbl.first(IO(key))
}

// Pred returns the entry with the largest key strictly less than key.
func (tbl *Table[K, V]) Pred(key K) (K, V, bool, error) {
	return tbl.first(OE(key).Reversed())
}

// PredIncl is like Pred but admits key itself.
func (tbl *Table[K, V]) PredIncl(key K) (K, V, bool, error) {
	return tbl.first(OI(key).Reversed())
}

// Stats reports the table's row counts.
func (tbl *Table[K, V]) Stats() (CollectionStats, error) {
	return tbl.db.CollectionStats(tbl.name)
}

// Count returns the number of entries in the table.
func (tbl *Table[K, V]) Count() (int, error) {
	var n int
	err := tbl.db.view(func(tx storageTx) error {
		data, err := tbl.dataIn(tx)
		if err != nil {
			return err
		}
		n = data.KeyCount()
		return nil
	})
	return n, err
}

// Iter walks the results of a scan. Use it like:
//
//	iter := tbl.Scan(tablekv.IO("a"))
//	defer iter.Close()
//	for iter.Next() {
//	    use(iter.Key(), iter.Value())
//	}
//	if err := iter.Err(); err != nil { ... }
//
// Draining the iterator closes it automatically.
type Iter[K, V any] struct {
	name string
	keyc KeyCodec[K]
	valc ValueCodec[V]
	tx   storageTx
	cur  *RawRangeCursor
	key  K
	val  V
	err  error
	done bool
}

func (iter *Iter[K, V]) Next() bool {
	if iter.done {
		return false
	}
	if !iter.cur.Next() {
		iter.Close()
		return false
	}
	key, err := iter.keyc.DecodeKey(iter.cur.Key())
	if err != nil {
		iter.fail(tableErrf(iter.name, "", iter.cur.Key(), err, "decoding key"))
		return false
	}
	val, err := iter.valc.DecodeValue(iter.cur.Value())
	if err != nil {
		iter.fail(tableErrf(iter.name, "", iter.cur.Key(), err, "decoding value"))
		return false
	}
	iter.key, iter.val = key, val
	return true
}

// Key returns the current key. Only valid after Next returned true.
func (iter *Iter[K, V]) Key() K { return iter.key }

// Value returns the current value. Only valid after Next returned true.
func (iter *Iter[K, V]) Value() V { return iter.val }

// Err returns the first error encountered during the scan, if any.
func (iter *Iter[K, V]) Err() error { return iter.err }

// Close releases the iterator's read transaction. Safe to call multiple
// times.
func (iter *Iter[K, V]) Close() {
	if iter.done {
		return
	}
	iter.done = true
	if iter.tx != nil {
		iter.tx.Rollback()
	}
}

func (iter *Iter[K, V]) fail(err error) {
	iter.err = err
	iter.Close()
}

// Entry pairs a key with its value, for callers that want to collect a scan.
type Entry[K, V any] struct {
	Key   K
	Value V
}

// AllEntries drains and closes iter, collecting every remaining entry.
func AllEntries[K, V any](iter *Iter[K, V]) ([]Entry[K, V], error) {
	defer iter.Close()
	var entries []Entry[K, V]
	for iter.Next() {
		entries = append(entries, Entry[K, V]{iter.Key(), iter.Value()})
	}
	return entries, iter.Err()
}

// AllKeys drains and closes iter, collecting every remaining key.
func AllKeys[K, V any](iter *Iter[K, V]) ([]K, error) {
	defer iter.Close()
	var keys []K
	for iter.Next() {
		keys = append(keys, iter.Key())
	}
	return keys, iter.Err()
}
