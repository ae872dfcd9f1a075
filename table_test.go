package tablekv

import (
	"encoding/hex"
	"os"
	"reflect"
	"strings"
	"testing"
)

type Account struct {
	Email string `msgpack:"e"`
	Name  string `msgpack:"n"`
}

func TestTableCRUD(t *testing.T) {
	for _, db := range setupBoth(t) {
		tbl := must(NewTable(db, "accounts", StringKey{}, MsgpackValue[Account]{}))

		a1 := Account{Email: "foo@example.com", Name: "foo"}
		a2 := Account{Email: "bar@example.com", Name: "bar"}

		_, replaced := must2(tbl.Insert("foo", a1))
		if replaced {
			t.Errorf("** first insert reported a previous value")
		}

		got, found := must2(tbl.Get("foo"))
		if !found {
			t.Fatalf("** Get(foo) found nothing")
		}
		deepEqual(t, got, a1)

		_, found = must2(tbl.Get("bar"))
		if found {
			t.Errorf("** Get(bar) found a value before insert")
		}

		prev, replaced := must2(tbl.Insert("foo", a2))
		if !replaced {
			t.Fatalf("** second insert did not report a previous value")
		}
		deepEqual(t, prev, a1)

		got, _ = must2(tbl.Get("foo"))
		deepEqual(t, got, a2)

		prev, removed := must2(tbl.Remove("foo"))
		if !removed {
			t.Fatalf("** Remove(foo) did not report a removed value")
		}
		deepEqual(t, prev, a2)

		_, found = must2(tbl.Get("foo"))
		if found {
			t.Errorf("** Get(foo) found a value after removal")
		}

		_, removed = must2(tbl.Remove("foo"))
		if removed {
			t.Errorf("** removing a missing key reported a removed value")
		}
	}
}

func TestTableScanOrder(t *testing.T) {
	for _, db := range setupBoth(t) {
		tbl := must(NewTable(db, "nums", Uint64Key{}, StringValue{}))

		// Inserted out of order; scans come back sorted.
		ensure2(tbl.Insert(3, "three"))
		ensure2(tbl.Insert(1, "one"))
		ensure2(tbl.Insert(2, "two"))

		keys := must(AllKeys(tbl.Scan(OO[uint64]())))
		deepEqual(t, keys, []uint64{1, 2, 3})

		keys = must(AllKeys(tbl.Scan(OO[uint64]().Reversed())))
		deepEqual(t, keys, []uint64{3, 2, 1})

		keys = must(AllKeys(tbl.Scan(IO(uint64(2)))))
		deepEqual(t, keys, []uint64{2, 3})

		keys = must(AllKeys(tbl.Scan(EO(uint64(2)))))
		deepEqual(t, keys, []uint64{3})

		keys = must(AllKeys(tbl.Scan(OI(uint64(2)))))
		deepEqual(t, keys, []uint64{1, 2})

		keys = must(AllKeys(tbl.Scan(OE(uint64(2)))))
		deepEqual(t, keys, []uint64{1})

		keys = must(AllKeys(tbl.Scan(II(uint64(1), uint64(2)))))
		deepEqual(t, keys, []uint64{1, 2})

		keys = must(AllKeys(tbl.Scan(EE(uint64(1), uint64(3)))))
		deepEqual(t, keys, []uint64{2})

		keys = must(AllKeys(tbl.Scan(IE(uint64(2), uint64(3)).Reversed())))
		deepEqual(t, keys, []uint64{2})

		entries := must(AllEntries(tbl.Scan(II(uint64(2), uint64(3)))))
		deepEqual(t, entries, []Entry[uint64, string]{{2, "two"}, {3, "three"}})
	}
}

func TestTableScanExclusiveStringBounds(t *testing.T) {
	db := OpenMem(Options{IsTesting: true})
	t.Cleanup(func() { db.Close() })
	tbl := must(NewTable(db, "strs", StringKey{}, StringValue{}))

	ensure2(tbl.Insert("a", "1"))
	ensure2(tbl.Insert("ab", "2"))
	ensure2(tbl.Insert("b", "3"))
	ensure2(tbl.Insert("ba", "4"))

	// Exclusive bounds exclude the exact key only, not its extensions.
	keys := must(AllKeys(tbl.Scan(EO("a"))))
	deepEqual(t, keys, []string{"ab", "b", "ba"})

	keys = must(AllKeys(tbl.Scan(OE("b"))))
	deepEqual(t, keys, []string{"a", "ab"})

	keys = must(AllKeys(tbl.Scan(OE("b").Reversed())))
	deepEqual(t, keys, []string{"ab", "a"})

	keys = must(AllKeys(tbl.Scan(OI("b").Reversed())))
	deepEqual(t, keys, []string{"b", "ab", "a"})
}

func TestTableMinMaxSuccPred(t *testing.T) {
	for _, db := range setupBoth(t) {
		tbl := must(NewTable(db, "nums", Int64Key{}, StringValue{}))

		if _, _, found := must3(tbl.Min()); found {
			t.Errorf("** Min of empty table reported an entry")
		}

		ensure2(tbl.Insert(-5, "neg"))
		ensure2(tbl.Insert(0, "zero"))
		ensure2(tbl.Insert(7, "pos"))

		k, v, found := must3(tbl.Min())
		if !found || k != -5 || v != "neg" {
			t.Errorf("** Min = (%v, %q, %v), wanted (-5, neg, true)", k, v, found)
		}
		k, v, found = must3(tbl.Max())
		if !found || k != 7 || v != "pos" {
			t.Errorf("** Max = (%v, %q, %v), wanted (7, pos, true)", k, v, found)
		}

		k, _, found = must3(tbl.Succ(-5))
		if !found || k != 0 {
			t.Errorf("** Succ(-5) = (%v, %v), wanted (0, true)", k, found)
		}
		k, _, found = must3(tbl.SuccIncl(-5))
		if !found || k != -5 {
			t.Errorf("** SuccIncl(-5) = (%v, %v), wanted (-5, true)", k, found)
		}
		_, _, found = must3(tbl.Succ(7))
		if found {
			t.Errorf("** Succ(7) found an entry past the maximum")
		}

		k, _, found = must3(tbl.Pred(0))
		if !found || k != -5 {
			t.Errorf("** Pred(0) = (%v, %v), wanted (-5, true)", k, found)
		}
		k, _, found = must3(tbl.PredIncl(0))
		if !found || k != 0 {
			t.Errorf("** PredIncl(0) = (%v, %v), wanted (0, true)", k, found)
		}
		k, _, found = must3(tbl.Pred(3))
		if !found || k != 0 {
			t.Errorf("** Pred(3) = (%v, %v), wanted (0, true)", k, found)
		}
		_, _, found = must3(tbl.Pred(-5))
		if found {
			t.Errorf("** Pred(-5) found an entry before the minimum")
		}

		n := must(tbl.Count())
		if n != 3 {
			t.Errorf("** Count = %d, wanted 3", n)
		}
	}
}

func TestTableIterManualClose(t *testing.T) {
	db := OpenMem(Options{IsTesting: true})
	t.Cleanup(func() { db.Close() })
	tbl := must(NewTable(db, "nums", Uint64Key{}, StringValue{}))
	ensure2(tbl.Insert(1, "one"))
	ensure2(tbl.Insert(2, "two"))

	iter := tbl.Scan(OO[uint64]())
	if !iter.Next() {
		t.Fatalf("** Next = false on non-empty table")
	}
	if iter.Key() != 1 || iter.Value() != "one" {
		t.Errorf("** first entry = (%v, %q)", iter.Key(), iter.Value())
	}
	iter.Close()
	if iter.Next() {
		t.Errorf("** Next = true after Close")
	}
	iter.Close() // double close is fine
	ensure(iter.Err())

	// A write is possible after closing mid-scan; the read tx is released.
	ensure2(tbl.Insert(3, "three"))
}

func TestTableCollectionClaim(t *testing.T) {
	db := OpenMem(Options{IsTesting: true})
	t.Cleanup(func() { db.Close() })
	must(NewTable(db, "dup", StringKey{}, StringValue{}))
	if _, err := NewTable(db, "dup", StringKey{}, StringValue{}); err == nil {
		t.Fatalf("** opening the same collection twice did not fail")
	}
	if _, err := NewReversibleTable(db, "dup", StringKey{}, MsgpackValue[string]{}); err == nil {
		t.Fatalf("** claiming the collection from another table kind did not fail")
	}
}

func TestDBStatsCounters(t *testing.T) {
	db := OpenMem(Options{IsTesting: true})
	t.Cleanup(func() { db.Close() })
	tbl := must(NewTable(db, "nums", Uint64Key{}, StringValue{}))
	ensure2(tbl.Insert(1, "one"))
	must2(tbl.Get(1))

	stats := db.Stats()
	if stats.Writes < 2 { // bucket creation + insert
		t.Errorf("** Writes = %d, wanted at least 2", stats.Writes)
	}
	if stats.Reads < 1 {
		t.Errorf("** Reads = %d, wanted at least 1", stats.Reads)
	}
}

func setupBolt(t testing.TB) *DB {
	t.Helper()

	dbFile := must(os.CreateTemp("", "tablekv_test_*.db"))
	t.Logf("DB: %s", dbFile.Name())
	dbFile.Close()
	t.Cleanup(func() { os.Remove(dbFile.Name()) })

	db := must(Open(dbFile.Name(), Options{
		IsTesting: true,
	}))
	t.Cleanup(func() { db.Close() })
	return db
}

func setupMem(t testing.TB) *DB {
	t.Helper()
	db := OpenMem(Options{IsTesting: true})
	t.Cleanup(func() { db.Close() })
	return db
}

// setupBoth returns both backends so each test exercises Bolt and the
// in-memory storage with identical expectations.
func setupBoth(t testing.TB) []*DB {
	return []*DB{setupBolt(t), setupMem(t)}
}

func deepEqual[T any](t testing.TB, a, e T) {
	if !reflect.DeepEqual(a, e) {
		t.Helper()
		t.Errorf("** got %v, wanted %v", a, e)
	}
}

func must2[T any](v T, ok bool, err error) (T, bool) {
	if err != nil {
		panic(err)
	}
	return v, ok
}

func must3[K, V any](k K, v V, ok bool, err error) (K, V, bool) {
	if err != nil {
		panic(err)
	}
	return k, v, ok
}

func ensure2[T any](_ T, _ bool, err error) {
	if err != nil {
		panic(err)
	}
}

func x(data string) []byte {
	data = strings.ReplaceAll(data, " ", "")
	return must(hex.DecodeString(data))
}
