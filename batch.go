package tablekv

// Batch accumulates staged table mutations to be applied as a single
// all-or-nothing unit. Stage operations with the tables' Batch* methods,
// then submit once via DB.Apply. A Batch is not safe for concurrent use;
// build it on one goroutine and submit it once.
type Batch struct {
	stages []stagedOp
}

type stagedOp func(tx storageTx) error

func (b *Batch) add(op stagedOp) {
	b.stages = append(b.stages, op)
}

// Len returns the number of staged operations.
func (b *Batch) Len() int {
	return len(b.stages)
}

// Apply runs every staged operation of the batch inside one writable
// transaction and commits once. Either all operations land or none do: any
// failure rolls the whole transaction back and no bucket is modified.
// Operations run in the order they were staged.
func (db *DB) Apply(b *Batch) error {
	if len(b.stages) == 0 {
		return nil
	}
	return db.update(func(tx storageTx) error {
		for _, op := range b.stages {
			if err := op(tx); err != nil {
				return err
			}
		}
		return nil
	})
}
