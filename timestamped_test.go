package tablekv

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTimestampedInsertGetRemove(t *testing.T) {
	for _, db := range setupBoth(t) {
		tbl, err := NewTimestampedTable(db, "events", StringKey{}, StringValue{}, Uint64Key{})
		require.NoError(t, err)

		_, _, replaced, err := tbl.Insert("k1", "v1", 100)
		require.NoError(t, err)
		assert.False(t, replaced)

		v, ts, found, err := tbl.Get("k1")
		require.NoError(t, err)
		require.True(t, found)
		assert.Equal(t, "v1", v)
		assert.Equal(t, uint64(100), ts)

		prev, prevTS, replaced, err := tbl.Insert("k1", "v2", 200)
		require.NoError(t, err)
		require.True(t, replaced)
		assert.Equal(t, "v1", prev)
		assert.Equal(t, uint64(100), prevTS)

		prev, prevTS, removed, err := tbl.Remove("k1")
		require.NoError(t, err)
		require.True(t, removed)
		assert.Equal(t, "v2", prev)
		assert.Equal(t, uint64(200), prevTS)

		stats, err := tbl.Stats()
		require.NoError(t, err)
		assert.Equal(t, 0, stats.Rows)
		assert.Equal(t, 0, stats.TimeIndexRows)

		_, _, found, err = tbl.Get("k1")
		require.NoError(t, err)
		assert.False(t, found)

		_, _, removed, err = tbl.Remove("k1")
		require.NoError(t, err)
		assert.False(t, removed)
	}
}

func TestTimestampedScanByTime(t *testing.T) {
	for _, db := range setupBoth(t) {
		tbl, err := NewTimestampedTable(db, "events", StringKey{}, StringValue{}, Uint64Key{})
		require.NoError(t, err)

		mustInsertTS(t, tbl, "k1", "a", 100)
		mustInsertTS(t, tbl, "k2", "b", 50)
		mustInsertTS(t, tbl, "k3", "c", 150)

		entries, err := AllTimeEntries(tbl.ScanByTime(II(uint64(60), uint64(200))))
		require.NoError(t, err)
		require.Len(t, entries, 2)
		assert.Equal(t, "k1", entries[0].Key)
		assert.Equal(t, uint64(100), entries[0].Time)
		assert.Equal(t, "k3", entries[1].Key)
		assert.Equal(t, uint64(150), entries[1].Time)

		entries, err = AllTimeEntries(tbl.ScanByTime(OO[uint64]()))
		require.NoError(t, err)
		require.Len(t, entries, 3)
		assert.Equal(t, []string{"k2", "k1", "k3"}, timeKeys(entries))

		entries, err = AllTimeEntries(tbl.ScanByTime(OO[uint64]().Reversed()))
		require.NoError(t, err)
		assert.Equal(t, []string{"k3", "k1", "k2"}, timeKeys(entries))

		// Exclusive bounds exclude every entry at the boundary timestamp.
		entries, err = AllTimeEntries(tbl.ScanByTime(EE(uint64(50), uint64(150))))
		require.NoError(t, err)
		assert.Equal(t, []string{"k1"}, timeKeys(entries))

		entries, err = AllTimeEntries(tbl.ScanByTime(IE(uint64(50), uint64(150))))
		require.NoError(t, err)
		assert.Equal(t, []string{"k2", "k1"}, timeKeys(entries))

		entries, err = AllTimeEntries(tbl.ScanByTime(IO(uint64(151))))
		require.NoError(t, err)
		assert.Empty(t, entries)
	}
}

func TestTimestampedSameTimestampOrdersByKey(t *testing.T) {
	db := setupMem(t)
	tbl, err := NewTimestampedTable(db, "events", StringKey{}, StringValue{}, Uint64Key{})
	require.NoError(t, err)

	mustInsertTS(t, tbl, "b", "2", 100)
	mustInsertTS(t, tbl, "a", "1", 100)
	mustInsertTS(t, tbl, "c", "3", 100)

	entries, err := AllTimeEntries(tbl.ScanByTime(II(uint64(100), uint64(100))))
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c"}, timeKeys(entries))
}

func TestTimestampedReinsertMovesTimeIndexEntry(t *testing.T) {
	for _, db := range setupBoth(t) {
		tbl, err := NewTimestampedTable(db, "events", StringKey{}, StringValue{}, Uint64Key{})
		require.NoError(t, err)

		mustInsertTS(t, tbl, "k1", "a", 100)
		mustInsertTS(t, tbl, "k1", "b", 300)

		// The old timestamp must be gone from the index.
		entries, err := AllTimeEntries(tbl.ScanByTime(II(uint64(100), uint64(100))))
		require.NoError(t, err)
		assert.Empty(t, entries)

		entries, err = AllTimeEntries(tbl.ScanByTime(II(uint64(300), uint64(300))))
		require.NoError(t, err)
		require.Len(t, entries, 1)
		assert.Equal(t, "b", entries[0].Value)

		stats, err := db.CollectionStats("events")
		require.NoError(t, err)
		assert.Equal(t, 1, stats.Rows)
		assert.Equal(t, 1, stats.TimeIndexRows)
	}
}

func TestTimestampedMinMaxTime(t *testing.T) {
	db := setupMem(t)
	tbl, err := NewTimestampedTable(db, "events", StringKey{}, StringValue{}, Uint64Key{})
	require.NoError(t, err)

	_, _, found, err := tbl.MinTime()
	require.NoError(t, err)
	assert.False(t, found)

	mustInsertTS(t, tbl, "k1", "a", 100)
	mustInsertTS(t, tbl, "k2", "b", 50)
	mustInsertTS(t, tbl, "k3", "c", 150)

	ts, key, found, err := tbl.MinTime()
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, uint64(50), ts)
	assert.Equal(t, "k2", key)

	ts, key, found, err = tbl.MaxTime()
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, uint64(150), ts)
	assert.Equal(t, "k3", key)
}

func TestTimestampedScanByKey(t *testing.T) {
	db := setupMem(t)
	tbl, err := NewTimestampedTable(db, "events", StringKey{}, StringValue{}, Uint64Key{})
	require.NoError(t, err)

	mustInsertTS(t, tbl, "a", "1", 300)
	mustInsertTS(t, tbl, "b", "2", 100)
	mustInsertTS(t, tbl, "c", "3", 200)

	entries, err := AllTimeEntries(tbl.ScanByKey(IE("a", "c")))
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "a", entries[0].Key)
	assert.Equal(t, uint64(300), entries[0].Time)
	assert.Equal(t, "b", entries[1].Key)
	assert.Equal(t, uint64(100), entries[1].Time)

	n, err := tbl.Count()
	require.NoError(t, err)
	assert.Equal(t, 3, n)
}

func TestTimestampedWithTimeKey(t *testing.T) {
	db := setupMem(t)
	tbl, err := NewTimestampedTable(db, "events", StringKey{}, MsgpackValue[Account]{}, TimeKey{})
	require.NoError(t, err)

	t1 := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	t2 := time.Date(2024, 3, 1, 11, 0, 0, 0, time.UTC)
	a1 := Account{Email: "foo@example.com", Name: "foo"}
	a2 := Account{Email: "bar@example.com", Name: "bar"}

	_, _, _, err = tbl.Insert("foo", a1, t1)
	require.NoError(t, err)
	_, _, _, err = tbl.Insert("bar", a2, t2)
	require.NoError(t, err)

	entries, err := AllTimeEntries(tbl.ScanByTime(IO(t1.Add(30 * time.Minute))))
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "bar", entries[0].Key)
	assert.True(t, entries[0].Time.Equal(t2))
	assert.Equal(t, a2, entries[0].Value)
}

func TestTimestampedRangeAtEncodingLimits(t *testing.T) {
	db := setupMem(t)
	tbl, err := NewTimestampedTable(db, "events", StringKey{}, StringValue{}, Uint64Key{})
	require.NoError(t, err)

	maxTS := ^uint64(0)
	mustInsertTS(t, tbl, "k1", "a", maxTS)
	mustInsertTS(t, tbl, "k2", "b", 0)

	// Inclusive upper bound at the maximum encodable timestamp.
	entries, err := AllTimeEntries(tbl.ScanByTime(II(uint64(1), maxTS)))
	require.NoError(t, err)
	assert.Equal(t, []string{"k1"}, timeKeys(entries))

	// Exclusive lower bound at the maximum encodable timestamp is empty.
	entries, err = AllTimeEntries(tbl.ScanByTime(EO(maxTS)))
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func mustInsertTS[K, V, T any](t *testing.T, tbl *TimestampedTable[K, V, T], key K, value V, ts T) {
	t.Helper()
	_, _, _, err := tbl.Insert(key, value, ts)
	require.NoError(t, err)
}

func timeKeys[K, V, T any](entries []TimeEntry[K, V, T]) []K {
	keys := make([]K, 0, len(entries))
	for _, e := range entries {
		keys = append(keys, e.Key)
	}
	return keys
}
