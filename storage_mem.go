package tablekv

import (
	"bytes"
	"fmt"
	"slices"
	"sync"

	"github.com/tidwall/btree"
)

const memBucketSep = "\x00"

// memStorage is a transient in-memory storage backend. Each transaction gets
// a copy-on-write snapshot of every bucket tree, so rolled-back writes leave
// no trace and readers never observe a partially committed transaction.
type memStorage struct {
	mu      sync.Mutex
	cond    *sync.Cond
	buckets map[string]*btree.BTreeG[memKV]
	closed  bool
	writer  bool
}

func newMemStorage() storage {
	s := &memStorage{buckets: make(map[string]*btree.BTreeG[memKV])}
	s.cond = sync.NewCond(&s.mu)
	return s
}

type memKV struct {
	key   []byte
	value []byte
}

func memLess(a, b memKV) bool {
	return bytes.Compare(a.key, b.key) < 0
}

func (s *memStorage) BeginTx(writable bool) (storageTx, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, fmt.Errorf("storage closed")
	}
	if writable {
		for s.writer && !s.closed {
			s.cond.Wait()
		}
		if s.closed {
			return nil, fmt.Errorf("storage closed")
		}
		s.writer = true
	}

	snap := make(map[string]*btree.BTreeG[memKV], len(s.buckets))
	for k, b := range s.buckets {
		snap[k] = b.Copy()
	}

	return &memTx{
		writable: writable,
		base:     s,
		buckets:  snap,
	}, nil
}

func (s *memStorage) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.buckets = nil
	if s.cond != nil {
		s.cond.Broadcast()
	}
	return nil
}

type memTx struct {
	base     *memStorage
	writable bool
	buckets  map[string]*btree.BTreeG[memKV]
	closed   bool
}

func (tx *memTx) Writable() bool { return tx.writable }

func (tx *memTx) closeLocked() {
	if tx.closed {
		return
	}
	tx.closed = true
	if tx.writable {
		tx.base.writer = false
		tx.base.cond.Broadcast()
	}
}

func (tx *memTx) Bucket(name, sub string) storageBucket {
	if tx.closed {
		panic("tx is closed")
	}
	b := tx.buckets[memBucketKey(name, sub)]
	if b == nil {
		return nil
	}
	return memBucketHandle{tx: tx, tree: b}
}

func (tx *memTx) CreateBucket(name, sub string) (storageBucket, error) {
	if tx.closed {
		panic("tx is closed")
	}
	if !tx.writable {
		return nil, fmt.Errorf("tx not writable")
	}

	// Ensure the root exists for nested buckets (Bolt compatibility).
	rootKey := memBucketKey(name, "")
	if tx.buckets[rootKey] == nil {
		tx.buckets[rootKey] = btree.NewBTreeG(memLess)
	}

	key := memBucketKey(name, sub)
	b := tx.buckets[key]
	if b == nil {
		b = btree.NewBTreeG(memLess)
		tx.buckets[key] = b
	}
	return memBucketHandle{tx: tx, tree: b}, nil
}

func (tx *memTx) Commit() error {
	if tx.closed {
		return nil
	}
	if !tx.writable {
		return fmt.Errorf("tx not writable")
	}
	tx.base.mu.Lock()
	defer tx.base.mu.Unlock()
	if tx.base.closed {
		tx.closeLocked()
		return fmt.Errorf("storage closed")
	}
	tx.base.buckets = tx.buckets
	tx.closeLocked()
	return nil
}

func (tx *memTx) Rollback() error {
	tx.base.mu.Lock()
	defer tx.base.mu.Unlock()
	tx.closeLocked()
	return nil
}

func (tx *memTx) Size() int64 { return 0 }

func memBucketKey(name, sub string) string {
	return name + memBucketSep + sub
}

type memBucketHandle struct {
	tx   *memTx
	tree *btree.BTreeG[memKV]
}

func (b memBucketHandle) Get(key []byte) []byte {
	item, ok := b.tree.Get(memKV{key: key})
	if !ok {
		return nil
	}
	return item.value
}

func (b memBucketHandle) Put(key, value []byte) error {
	if !b.tx.writable {
		return fmt.Errorf("tx not writable")
	}
	b.tree.Set(memKV{key: slices.Clone(key), value: slices.Clone(value)})
	return nil
}

func (b memBucketHandle) Delete(key []byte) error {
	if !b.tx.writable {
		return fmt.Errorf("tx not writable")
	}
	b.tree.Delete(memKV{key: key})
	return nil
}

func (b memBucketHandle) Cursor() storageCursor {
	return &memCursor{tree: b.tree}
}

func (b memBucketHandle) KeyCount() int { return b.tree.Len() }

type cursorState int

const (
	curUnpositioned = cursorState(iota)
	curPositioned
	curBeforeFirst
	curAfterLast
)

// memCursor walks a bucket tree one step at a time. The tree snapshot is
// queried afresh on every step, so writes within the same transaction are
// visible mid-iteration, matching Bolt cursor behavior.
type memCursor struct {
	tree  *btree.BTreeG[memKV]
	state cursorState
	cur   []byte
}

func (c *memCursor) at(item memKV, ok bool) ([]byte, []byte) {
	if !ok {
		return nil, nil
	}
	c.state = curPositioned
	c.cur = item.key
	return item.key, item.value
}

func (c *memCursor) First() ([]byte, []byte) {
	item, ok := c.tree.Min()
	if !ok {
		c.state = curAfterLast
		return nil, nil
	}
	return c.at(item, true)
}

func (c *memCursor) Last() ([]byte, []byte) {
	item, ok := c.tree.Max()
	if !ok {
		c.state = curBeforeFirst
		return nil, nil
	}
	return c.at(item, true)
}

func (c *memCursor) Seek(seek []byte) ([]byte, []byte) {
	var found memKV
	var ok bool
	c.tree.Ascend(memKV{key: seek}, func(item memKV) bool {
		found, ok = item, true
		return false
	})
	if !ok {
		c.state = curAfterLast
		c.cur = nil
		return nil, nil
	}
	return c.at(found, true)
}

func (c *memCursor) SeekLast(prefix []byte) ([]byte, []byte) {
	if len(prefix) == 0 {
		return c.Last()
	}
	limit := append([]byte(nil), prefix...)
	if !inc(limit) {
		// All-0xFF prefix: nothing sorts above it.
		return c.Last()
	}
	return c.before(limit)
}

// before positions the cursor at the last key strictly less than limit.
func (c *memCursor) before(limit []byte) ([]byte, []byte) {
	var found memKV
	var ok bool
	c.tree.Descend(memKV{key: limit}, func(item memKV) bool {
		if bytes.Equal(item.key, limit) {
			return true
		}
		found, ok = item, true
		return false
	})
	if !ok {
		c.state = curBeforeFirst
		c.cur = nil
		return nil, nil
	}
	return c.at(found, true)
}

func (c *memCursor) Next() ([]byte, []byte) {
	switch c.state {
	case curUnpositioned, curBeforeFirst:
		return c.First()
	case curAfterLast:
		return nil, nil
	}
	var found memKV
	var ok bool
	c.tree.Ascend(memKV{key: c.cur}, func(item memKV) bool {
		if bytes.Equal(item.key, c.cur) {
			return true
		}
		found, ok = item, true
		return false
	})
	if !ok {
		c.state = curAfterLast
		return nil, nil
	}
	return c.at(found, true)
}

func (c *memCursor) Prev() ([]byte, []byte) {
	switch c.state {
	case curUnpositioned, curAfterLast:
		return c.Last()
	case curBeforeFirst:
		return nil, nil
	}
	var found memKV
	var ok bool
	c.tree.Descend(memKV{key: c.cur}, func(item memKV) bool {
		if bytes.Equal(item.key, c.cur) {
			return true
		}
		found, ok = item, true
		return false
	})
	if !ok {
		c.state = curBeforeFirst
		return nil, nil
	}
	return c.at(found, true)
}
