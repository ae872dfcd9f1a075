package tablekv

import (
	"fmt"
	"strings"
)

// DumpCollection returns a textual dump of a collection's raw rows and index
// entries, one line per entry, for debugging and test failure output.
func (db *DB) DumpCollection(name string) (string, error) {
	var buf strings.Builder
	err := db.view(func(tx storageTx) error {
		for _, sub := range []string{dataBucket, tsBucket, revBucket} {
			b := tx.Bucket(name, sub)
			if b == nil {
				continue
			}
			cur := b.Cursor()
			for k, v := cur.First(); k != nil; k, v = cur.Next() {
				fmt.Fprintf(&buf, "%s/%s %s => %s\n", name, sub, hexstr(k), hexstr(v))
			}
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	return buf.String(), nil
}
