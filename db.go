package tablekv

import (
	"fmt"
	"log"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"go.etcd.io/bbolt"
)

// DB is an explicit handle to the underlying store. Tables hold a reference
// to their DB; the DB must outlive them. There is no implicit process-wide
// instance.
type DB struct {
	store   storage
	logf    func(format string, args ...any)
	slogger *slog.Logger
	verbose bool

	lastSize    atomic.Int64
	ReaderCount atomic.Int64
	WriterCount atomic.Int64
	ReadCount   atomic.Uint64
	WriteCount  atomic.Uint64

	tablesLock sync.Mutex
	tables     map[string]struct{}
}

type Options struct {
	Logf      func(format string, args ...any)
	Logger    *slog.Logger
	Verbose   bool
	IsTesting bool
	MmapSize  int
}

// Open opens a Bolt-backed database at path.
func Open(path string, opt Options) (*DB, error) {
	bopt := &bbolt.Options{}
	*bopt = *bbolt.DefaultOptions
	bopt.Timeout = 10 * time.Second
	if opt.IsTesting {
		bopt.NoSync = true
		bopt.NoFreelistSync = true
		bopt.InitialMmapSize = 1024 * 1024 * 5
	} else {
		bopt.InitialMmapSize = 1024 * 1024 * 1024
		bopt.FreelistType = bbolt.FreelistMapType
	}
	if opt.MmapSize != 0 {
		bopt.InitialMmapSize = opt.MmapSize
	}

	bdb, err := bbolt.Open(path, 0666, bopt)
	if err != nil {
		return nil, fmt.Errorf("tablekv: %w", err)
	}

	return newDB(newBoltStorage(bdb), opt), nil
}

// OpenMem opens a transient in-memory database, mainly for tests.
func OpenMem(opt Options) *DB {
	return newDB(newMemStorage(), opt)
}

func newDB(store storage, opt Options) *DB {
	logf := opt.Logf
	if logf == nil {
		logf = log.Printf
	}
	slogger := opt.Logger
	if slogger == nil {
		slogger = slog.Default()
	}
	return &DB{
		store:   store,
		logf:    logf,
		slogger: slogger,
		verbose: opt.Verbose,
		tables:  make(map[string]struct{}),
	}
}

// Size returns the database size in bytes as of the last committed write
// (0 for the in-memory backend).
func (db *DB) Size() int64 {
	return db.lastSize.Load()
}

func (db *DB) Close() error {
	return db.store.Close()
}

// claimCollection registers a table name as owned. Two tables must never be
// constructed over the same collection; their encodings would corrupt each
// other.
func (db *DB) claimCollection(name string) error {
	db.tablesLock.Lock()
	defer db.tablesLock.Unlock()
	if _, dup := db.tables[name]; dup {
		return fmt.Errorf("tablekv: collection %q is already owned by another table", name)
	}
	db.tables[name] = struct{}{}
	return nil
}

// view runs f inside a read-only transaction.
func (db *DB) view(f func(tx storageTx) error) error {
	tx, err := db.store.BeginTx(false)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	db.ReaderCount.Add(1)
	defer db.ReaderCount.Add(-1)
	db.ReadCount.Add(1)
	return f(tx)
}

// beginRead starts a read-only transaction for a scan; the scan's iterator
// owns it and rolls it back on Close.
func (db *DB) beginRead() (storageTx, error) {
	tx, err := db.store.BeginTx(false)
	if err != nil {
		return nil, err
	}
	db.ReadCount.Add(1)
	return tx, nil
}

// update runs f inside a writable transaction and commits it if f succeeds.
// Any error aborts the transaction, leaving every bucket unchanged.
func (db *DB) update(f func(tx storageTx) error) error {
	tx, err := db.store.BeginTx(true)
	if err != nil {
		return err
	}
	db.WriterCount.Add(1)
	defer db.WriterCount.Add(-1)
	if err := f(tx); err != nil {
		tx.Rollback()
		return err
	}
	size := tx.Size()
	if err := tx.Commit(); err != nil {
		tx.Rollback()
		return err
	}
	db.WriteCount.Add(1)
	db.lastSize.Store(size)
	return nil
}
