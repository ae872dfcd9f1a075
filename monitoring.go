package tablekv

// DBStats is a point-in-time snapshot of the DB's counters.
type DBStats struct {
	Size    int64
	Readers int64
	Writers int64
	Reads   uint64
	Writes  uint64
}

func (db *DB) Stats() DBStats {
	return DBStats{
		Size:    db.lastSize.Load(),
		Readers: db.ReaderCount.Load(),
		Writers: db.WriterCount.Load(),
		Reads:   db.ReadCount.Load(),
		Writes:  db.WriteCount.Load(),
	}
}

// CollectionStats reports row counts for a collection and its indexes. Index
// counts are zero for collections that do not carry the corresponding index.
type CollectionStats struct {
	Name             string
	Rows             int
	TimeIndexRows    int
	ReverseIndexRows int
}

// CollectionStats counts the rows of the named collection. Counts come from
// a single read transaction, so they are mutually consistent; for a healthy
// time or reverse index the index count always equals the row count.
func (db *DB) CollectionStats(name string) (CollectionStats, error) {
	stats := CollectionStats{Name: name}
	err := db.view(func(tx storageTx) error {
		data := tx.Bucket(name, dataBucket)
		if data == nil {
			return tableErrf(name, "", nil, nil, "data bucket is missing")
		}
		stats.Rows = data.KeyCount()
		if idx := tx.Bucket(name, tsBucket); idx != nil {
			stats.TimeIndexRows = idx.KeyCount()
		}
		if idx := tx.Bucket(name, revBucket); idx != nil {
			stats.ReverseIndexRows = idx.KeyCount()
		}
		return nil
	})
	return stats, err
}
