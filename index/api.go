package index

import (
	"cmp"

	"github.com/rivetdb/rivet/storage/rid"
)

// BatchInsert inserts every (key, value) pair, stopping at the first
// failure (typically a duplicate key) and reporting how many succeeded.
func (t *BPlusTree[K]) BatchInsert(keys []K, values []rid.RID) int {
	n := len(keys)
	if len(values) < n {
		n = len(values)
	}
	for i := 0; i < n; i++ {
		if !t.Insert(keys[i], values[i]) {
			return i
		}
	}
	return n
}

// GetKeyRange collects every RID for keys in [lo, hi], inclusive.
func GetKeyRange[K cmp.Ordered](t *BPlusTree[K], lo, hi K) []rid.RID {
	var out []rid.RID
	it := t.BeginAt(lo)
	defer it.Close()
	for !it.IsEnd() {
		if it.Key() > hi {
			break
		}
		out = append(out, it.Value())
		it.Next()
	}
	return out
}
