package multiindex

import (
	"fmt"
	"path/filepath"
	"testing"

	"udbe/block"
	"udbe/blockcache"
	"udbe/blockio"
	"udbe/keycodec"
)

func newTestFile(t *testing.T) *MultiIndex {
	t.Helper()
	path := filepath.Join(t.TempDir(), "mi.udb")
	dev, err := blockio.OpenNew(path)
	if err != nil {
		t.Fatalf("OpenNew: %v", err)
	}
	t.Cleanup(func() { dev.Close() })
	bl := block.New(dev, blockcache.None())
	mi, err := CreateFile(bl)
	if err != nil {
		t.Fatalf("CreateFile: %v", err)
	}
	return mi
}

func strKey(s string, size int) []byte {
	b := make([]byte, size)
	copy(b, s)
	return b
}

func int32Key(v int32) []byte {
	return []byte{byte(v), byte(v >> 8), byte(v >> 16), byte(v >> 24)}
}

// walkKeys returns every key from First() to EOF, in chain order.
func walkKeys(t *testing.T, ix *Index) []string {
	t.Helper()
	var out []string
	if err := ix.First(); err != nil {
		t.Fatalf("First: %v", err)
	}
	for !ix.IsEOF() {
		key, _, err := ix.Current()
		if err != nil {
			t.Fatalf("Current: %v", err)
		}
		out = append(out, string(key))
		if err := ix.Next(); err != nil {
			t.Fatalf("Next: %v", err)
		}
	}
	return out
}

func TestStringKeysFanOutFive(t *testing.T) {
	mi := newTestFile(t)
	ix, err := mi.CreateIndex(IndexSpec{KeyType: keycodec.String, KeySize: 8, MaxItems: 5, Label: "names"})
	if err != nil {
		t.Fatalf("CreateIndex: %v", err)
	}

	names := []string{"delta", "alpha", "echo", "bravo", "charlie"}
	for i, name := range names {
		if err := ix.Insert(strKey(name, 8), int64(i*100)); err != nil {
			t.Fatalf("Insert(%q): %v", name, err)
		}
	}

	got := walkKeys(t, ix)
	want := []string{"alpha", "bravo", "charlie", "delta", "echo"}
	if len(got) != len(want) {
		t.Fatalf("got %d entries, want %d: %v", len(got), len(want), got)
	}
	for i := range want {
		trimmed := got[i][:len(want[i])]
		if trimmed != want[i] {
			t.Errorf("entry %d = %q, want %q", i, trimmed, want[i])
		}
	}
}

func TestUniqueIndexRejectsDuplicate(t *testing.T) {
	mi := newTestFile(t)
	ix, err := mi.CreateIndex(IndexSpec{KeyType: keycodec.Int32, KeySize: 4, MaxItems: 4, Unique: true})
	if err != nil {
		t.Fatalf("CreateIndex: %v", err)
	}
	if err := ix.Insert(int32Key(42), 1000); err != nil {
		t.Fatalf("first Insert: %v", err)
	}
	if err := ix.Insert(int32Key(42), 2000); err != ErrDuplicateKey {
		t.Fatalf("second Insert = %v, want ErrDuplicateKey", err)
	}
}

func TestSplitCascadeFanOutThree(t *testing.T) {
	mi := newTestFile(t)
	ix, err := mi.CreateIndex(IndexSpec{KeyType: keycodec.String, KeySize: 8, MaxItems: 3, Label: "cascade"})
	if err != nil {
		t.Fatalf("CreateIndex: %v", err)
	}

	for i := 1; i <= 50; i++ {
		key := fmt.Sprintf("Key%02d", i)
		if err := ix.Insert(strKey(key, 8), int64(i)); err != nil {
			t.Fatalf("Insert(%q): %v", key, err)
		}
	}
	if ix.Height() < 2 {
		t.Fatalf("expected at least 2 levels after 50 inserts at fan-out 3, got height=%d", ix.Height())
	}

	got := walkKeys(t, ix)
	if len(got) != 50 {
		t.Fatalf("got %d entries after 50 inserts, want 50", len(got))
	}
	for i := 0; i+1 < len(got); i++ {
		if got[i] >= got[i+1] {
			t.Fatalf("leaf chain out of order at %d: %q >= %q", i, got[i], got[i+1])
		}
	}
}

func TestInt32RandomOrderHundredValues(t *testing.T) {
	mi := newTestFile(t)
	ix, err := mi.CreateIndex(IndexSpec{KeyType: keycodec.Int32, KeySize: 4, MaxItems: 6})
	if err != nil {
		t.Fatalf("CreateIndex: %v", err)
	}

	// Deterministic pseudo-shuffle so the test needs no randomness.
	values := make([]int32, 100)
	for i := range values {
		values[i] = int32((i*37 + 11) % 100)
	}
	for _, v := range values {
		if err := ix.Insert(int32Key(v), int64(v)); err != nil && err != ErrDuplicateKey {
			t.Fatalf("Insert(%d): %v", v, err)
		}
	}

	if err := ix.First(); err != nil {
		t.Fatalf("First: %v", err)
	}
	count := 0
	var prev []byte
	for !ix.IsEOF() {
		key, _, err := ix.Current()
		if err != nil {
			t.Fatalf("Current: %v", err)
		}
		if prev != nil && ix.cmp.Compare(prev, key) > 0 {
			t.Fatalf("out of order: %v then %v", prev, key)
		}
		prev = key
		count++
		if err := ix.Next(); err != nil {
			t.Fatalf("Next: %v", err)
		}
	}
	if count != 100 {
		t.Fatalf("got %d entries, want 100", count)
	}
}

func TestDeleteRebalanceFanOutThree(t *testing.T) {
	mi := newTestFile(t)
	ix, err := mi.CreateIndex(IndexSpec{KeyType: keycodec.String, KeySize: 8, MaxItems: 3, AllowDelete: true})
	if err != nil {
		t.Fatalf("CreateIndex: %v", err)
	}

	for i := 1; i <= 20; i++ {
		key := fmt.Sprintf("Key%02d", i)
		if err := ix.Insert(strKey(key, 8), int64(i)); err != nil {
			t.Fatalf("Insert(%q): %v", key, err)
		}
	}

	for i := 1; i <= 20; i += 2 {
		key := fmt.Sprintf("Key%02d", i)
		if err := ix.Delete(strKey(key, 8)); err != nil {
			t.Fatalf("Delete(%q): %v", key, err)
		}
	}

	got := walkKeys(t, ix)
	if len(got) != 10 {
		t.Fatalf("got %d entries after deleting half, want 10: %v", len(got), got)
	}
	for i := 2; i <= 20; i += 2 {
		key := fmt.Sprintf("Key%02d", i)
		if err := ix.Find(strKey(key, 8)); err != nil {
			t.Fatalf("Find(%q) after deletes: %v", key, err)
		}
	}
	for i := 1; i <= 20; i += 2 {
		key := fmt.Sprintf("Key%02d", i)
		if err := ix.Find(strKey(key, 8)); err != ErrNotFound {
			t.Fatalf("Find(%q) after delete = %v, want ErrNotFound", key, err)
		}
	}
}

func TestDeleteRemovesEveryDuplicate(t *testing.T) {
	mi := newTestFile(t)
	ix, err := mi.CreateIndex(IndexSpec{KeyType: keycodec.String, KeySize: 8, MaxItems: 4, AllowDelete: true})
	if err != nil {
		t.Fatalf("CreateIndex: %v", err)
	}

	for i, v := range []int64{100, 200, 300} {
		if err := ix.Insert(strKey("dup", 8), v); err != nil {
			t.Fatalf("Insert duplicate %d: %v", i, err)
		}
	}
	if err := ix.Insert(strKey("other", 8), 999); err != nil {
		t.Fatalf("Insert other: %v", err)
	}

	if err := ix.Delete(strKey("dup", 8)); err != nil {
		t.Fatalf("Delete(dup): %v", err)
	}
	if err := ix.Find(strKey("dup", 8)); err != ErrNotFound {
		t.Fatalf("Find(dup) after Delete = %v, want ErrNotFound", err)
	}
	if err := ix.Find(strKey("other", 8)); err != nil {
		t.Fatalf("Find(other) after deleting dup: %v", err)
	}
	got := walkKeys(t, ix)
	if len(got) != 1 {
		t.Fatalf("got %d entries after deleting every duplicate, want 1: %v", len(got), got)
	}
}

func TestDeleteCurrentRemovesExactEntry(t *testing.T) {
	mi := newTestFile(t)
	ix, err := mi.CreateIndex(IndexSpec{KeyType: keycodec.Int32, KeySize: 4, MaxItems: 4, AllowDelete: true})
	if err != nil {
		t.Fatalf("CreateIndex: %v", err)
	}
	for _, v := range []int32{10, 20, 30, 40} {
		if err := ix.Insert(int32Key(v), int64(v)*10); err != nil {
			t.Fatalf("Insert(%d): %v", v, err)
		}
	}

	if err := ix.Find(int32Key(20)); err != nil {
		t.Fatalf("Find(20): %v", err)
	}
	dataPos, err := ix.DeleteCurrent()
	if err != nil {
		t.Fatalf("DeleteCurrent: %v", err)
	}
	if dataPos != 200 {
		t.Fatalf("DeleteCurrent returned %d, want 200", dataPos)
	}
	if err := ix.Find(int32Key(20)); err != ErrNotFound {
		t.Fatalf("Find(20) after DeleteCurrent = %v, want ErrNotFound", err)
	}
	for _, v := range []int32{10, 30, 40} {
		if err := ix.Find(int32Key(v)); err != nil {
			t.Fatalf("Find(%d) after deleting 20: %v", v, err)
		}
	}
}

func TestDeleteCurrentOnDuplicateKeepsTheRightOne(t *testing.T) {
	mi := newTestFile(t)
	ix, err := mi.CreateIndex(IndexSpec{KeyType: keycodec.String, KeySize: 8, MaxItems: 4, AllowDelete: true})
	if err != nil {
		t.Fatalf("CreateIndex: %v", err)
	}
	for _, v := range []int64{1, 2, 3} {
		if err := ix.Insert(strKey("dup", 8), v); err != nil {
			t.Fatalf("Insert duplicate %d: %v", v, err)
		}
	}

	// Find lands on the newest duplicate (value 3, per spec.md §4.4.5).
	if err := ix.Find(strKey("dup", 8)); err != nil {
		t.Fatalf("Find(dup): %v", err)
	}
	dataPos, err := ix.DeleteCurrent()
	if err != nil {
		t.Fatalf("DeleteCurrent: %v", err)
	}
	if dataPos != 3 {
		t.Fatalf("DeleteCurrent returned %d, want 3 (newest duplicate)", dataPos)
	}

	// The two older duplicates must still both be present on the chain.
	if err := ix.First(); err != nil {
		t.Fatalf("First: %v", err)
	}
	var seen []int64
	for !ix.IsEOF() {
		_, dp, err := ix.Current()
		if err != nil {
			t.Fatalf("Current: %v", err)
		}
		seen = append(seen, dp)
		if err := ix.Next(); err != nil {
			t.Fatalf("Next: %v", err)
		}
	}
	if len(seen) != 2 || seen[0] != 2 || seen[1] != 1 {
		t.Fatalf("remaining duplicates = %v, want [2 1]", seen)
	}
}

// TestDuplicateInsertNeverGrowsTheNode checks spec.md §4.4.3 step 4: a
// non-unique index's bottom node item is overwritten in place on a
// duplicate key, never joined by a second item, so a long duplicate run
// costs the tree nothing beyond the one leaf block per insert.
func TestDuplicateInsertNeverGrowsTheNode(t *testing.T) {
	mi := newTestFile(t)
	ix, err := mi.CreateIndex(IndexSpec{KeyType: keycodec.String, KeySize: 8, MaxItems: 3, AllowDelete: true})
	if err != nil {
		t.Fatalf("CreateIndex: %v", err)
	}

	const n = 12
	for v := int64(1); v <= n; v++ {
		if err := ix.Insert(strKey("dup", 8), v); err != nil {
			t.Fatalf("Insert duplicate %d: %v", v, err)
		}
		if ix.Height() != 1 {
			t.Fatalf("after %d duplicate inserts, height = %d, want 1 (duplicates must not grow the tree)", v, ix.Height())
		}
	}

	path, err := ix.locate(strKey("dup", 8))
	if err != nil {
		t.Fatalf("locate: %v", err)
	}
	// One item for "dup" plus the EOF sentinel's item.
	if used := path[len(path)-1].n.NumUsed; used != 2 {
		t.Fatalf("bottom node has %d items after %d duplicate inserts, want 2", used, n)
	}

	var chainLen int
	if err := ix.First(); err != nil {
		t.Fatalf("First: %v", err)
	}
	for !ix.IsEOF() {
		chainLen++
		if err := ix.Next(); err != nil {
			t.Fatalf("Next: %v", err)
		}
	}
	if chainLen != n {
		t.Fatalf("leaf chain has %d entries, want %d (all %d duplicates must still be reachable by scan)", chainLen, n, n)
	}
}

// TestDeleteCurrentOnShadowLeafLeavesHeadAlone exercises the
// DeleteCurrent path for a duplicate that is not the one any node item
// addresses: freeing it must only touch the leaf chain and leave the
// head item's child pointer and the tree shape untouched.
func TestDeleteCurrentOnShadowLeafLeavesHeadAlone(t *testing.T) {
	mi := newTestFile(t)
	ix, err := mi.CreateIndex(IndexSpec{KeyType: keycodec.String, KeySize: 8, MaxItems: 3, AllowDelete: true})
	if err != nil {
		t.Fatalf("CreateIndex: %v", err)
	}

	for _, v := range []int64{1, 2, 3, 4} {
		if err := ix.Insert(strKey("dup", 8), v); err != nil {
			t.Fatalf("Insert duplicate %d: %v", v, err)
		}
	}
	heightBefore := ix.Height()

	// Chain order is newest-first: 4, 3, 2, 1. Land the cursor on the
	// third entry (value 2), a shadow leaf well behind the head.
	if err := ix.First(); err != nil {
		t.Fatalf("First: %v", err)
	}
	for i := 0; i < 2; i++ {
		if err := ix.Next(); err != nil {
			t.Fatalf("Next at step %d: %v", i, err)
		}
	}
	_, dataPos, err := ix.Current()
	if err != nil {
		t.Fatalf("Current: %v", err)
	}
	if dataPos != 2 {
		t.Fatalf("cursor holds dataPos %d, want 2 (insertion order assumption wrong)", dataPos)
	}

	if _, err := ix.DeleteCurrent(); err != nil {
		t.Fatalf("DeleteCurrent: %v", err)
	}
	if ix.Height() != heightBefore {
		t.Fatalf("Height changed from %d to %d after deleting a shadow leaf", heightBefore, ix.Height())
	}

	// The head (newest, value 4) must still be found directly, and the
	// remaining chain must be newest-first with 2 removed.
	if err := ix.Find(strKey("dup", 8)); err != nil {
		t.Fatalf("Find(dup): %v", err)
	}
	_, headDataPos, err := ix.Current()
	if err != nil {
		t.Fatalf("Current after Find: %v", err)
	}
	if headDataPos != 4 {
		t.Fatalf("Find(dup) landed on dataPos %d, want 4 (the head must be untouched)", headDataPos)
	}

	var remaining []int64
	if err := ix.First(); err != nil {
		t.Fatalf("First after DeleteCurrent: %v", err)
	}
	for !ix.IsEOF() {
		_, dp, err := ix.Current()
		if err != nil {
			t.Fatalf("Current: %v", err)
		}
		remaining = append(remaining, dp)
		if err := ix.Next(); err != nil {
			t.Fatalf("Next: %v", err)
		}
	}
	want := []int64{4, 3, 1}
	if len(remaining) != len(want) {
		t.Fatalf("remaining = %v, want %v", remaining, want)
	}
	for i := range want {
		if remaining[i] != want[i] {
			t.Fatalf("remaining = %v, want %v", remaining, want)
		}
	}
}

func TestDeleteNotAllowedWithoutAttribute(t *testing.T) {
	mi := newTestFile(t)
	ix, err := mi.CreateIndex(IndexSpec{KeyType: keycodec.Byte, KeySize: 1, MaxItems: 4})
	if err != nil {
		t.Fatalf("CreateIndex: %v", err)
	}
	if err := ix.Insert([]byte{5}, 1); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if err := ix.Delete([]byte{5}); err != ErrDeleteNotAllowed {
		t.Fatalf("Delete = %v, want ErrDeleteNotAllowed", err)
	}
}

func TestPersistenceAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "persist.udb")

	dev, err := blockio.OpenNew(path)
	if err != nil {
		t.Fatalf("OpenNew: %v", err)
	}
	bl := block.New(dev, blockcache.None())
	mi, err := CreateFile(bl)
	if err != nil {
		t.Fatalf("CreateFile: %v", err)
	}
	if _, err := mi.CreateIndex(IndexSpec{KeyType: keycodec.String, KeySize: 8, MaxItems: 4, Label: "first"}); err != nil {
		t.Fatalf("CreateIndex first: %v", err)
	}
	if _, err := mi.CreateIndex(IndexSpec{KeyType: keycodec.String, KeySize: 8, MaxItems: 4, Label: "second"}); err != nil {
		t.Fatalf("CreateIndex second: %v", err)
	}

	first, err := mi.IndexByName("first")
	if err != nil {
		t.Fatalf("IndexByName(first): %v", err)
	}
	for i := 1; i <= 50; i++ {
		key := fmt.Sprintf("str%02d", i)
		if err := first.Insert(strKey(key, 8), int64(i)); err != nil {
			t.Fatalf("Insert(%q): %v", key, err)
		}
	}
	if err := mi.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	dev2, err := blockio.OpenExisting(path)
	if err != nil {
		t.Fatalf("OpenExisting: %v", err)
	}
	defer dev2.Close()
	bl2 := block.New(dev2, blockcache.None())
	mi2, err := OpenFile(bl2)
	if err != nil {
		t.Fatalf("OpenFile: %v", err)
	}
	if mi2.NumIndexes() != 2 {
		t.Fatalf("NumIndexes after reopen = %d, want 2", mi2.NumIndexes())
	}

	reopened, err := mi2.IndexByName("first")
	if err != nil {
		t.Fatalf("IndexByName(first) after reopen: %v", err)
	}
	got := walkKeys(t, reopened)
	if len(got) != 50 {
		t.Fatalf("got %d entries after reopen, want 50", len(got))
	}
	for i := 0; i+1 < len(got); i++ {
		if got[i] >= got[i+1] {
			t.Fatalf("reopened chain out of order at %d", i)
		}
	}

	second, err := mi2.IndexByName("second")
	if err != nil {
		t.Fatalf("IndexByName(second) after reopen: %v", err)
	}
	if err := second.First(); err != nil {
		t.Fatalf("First on empty reopened index: %v", err)
	}
	if !second.IsEOF() {
		t.Fatal("expected second index to still be empty after reopen")
	}
}

func TestStatsReportsEntryCountsPerIndex(t *testing.T) {
	mi := newTestFile(t)
	first, err := mi.CreateIndex(IndexSpec{KeyType: keycodec.Byte, KeySize: 1, MaxItems: 4, Label: "a"})
	if err != nil {
		t.Fatalf("CreateIndex: %v", err)
	}
	if _, err := mi.CreateIndex(IndexSpec{KeyType: keycodec.Bool, KeySize: 1, MaxItems: 4, Label: "b"}); err != nil {
		t.Fatalf("CreateIndex: %v", err)
	}
	for _, v := range []byte{1, 2, 3} {
		if err := first.Insert([]byte{v}, int64(v)); err != nil {
			t.Fatalf("Insert(%d): %v", v, err)
		}
	}

	stats, err := mi.Stats()
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if stats.NumIndexes != 2 {
		t.Fatalf("NumIndexes = %d, want 2", stats.NumIndexes)
	}
	if len(stats.Entries) != 2 || stats.Entries[0] != 3 || stats.Entries[1] != 0 {
		t.Fatalf("Entries = %v, want [3 0]", stats.Entries)
	}
}

func TestSetActiveIndexAndOrdinals(t *testing.T) {
	mi := newTestFile(t)
	if _, err := mi.CreateIndex(IndexSpec{KeyType: keycodec.Byte, KeySize: 1, MaxItems: 4}); err != nil {
		t.Fatalf("CreateIndex: %v", err)
	}
	if _, err := mi.CreateIndex(IndexSpec{KeyType: keycodec.Bool, KeySize: 1, MaxItems: 4}); err != nil {
		t.Fatalf("CreateIndex: %v", err)
	}
	if err := mi.SetActiveIndex(2); err != nil {
		t.Fatalf("SetActiveIndex(2): %v", err)
	}
	active, err := mi.Active()
	if err != nil {
		t.Fatalf("Active: %v", err)
	}
	if active.KeyType() != keycodec.Bool {
		t.Fatalf("active index key type = %v, want Bool", active.KeyType())
	}
	if err := mi.SetActiveIndex(0); err == nil {
		t.Fatal("expected error for out-of-range ordinal 0")
	}
}
