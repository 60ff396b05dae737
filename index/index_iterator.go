package index

import (
	"cmp"

	"github.com/rivetdb/rivet/buffer"
	"github.com/rivetdb/rivet/storage/disk"
	"github.com/rivetdb/rivet/storage/rid"
)

// Iterator walks a range of leaf entries in key order, front-to-back or
// back-to-front, handing latches off from one leaf to the next as it
// crosses a page boundary (spec.md §4.6). Zero value is not usable; get
// one from BPlusTree.Begin/End/BeginAt.
type Iterator[K cmp.Ordered] struct {
	bpm     *buffer.BufferPoolManager
	guard   *buffer.ReadPageGuard
	leaf    LeafPage[K]
	pos     int
	forward bool
	done    bool
}

// Begin returns an iterator positioned at the smallest key in the tree.
func (t *BPlusTree[K]) Begin() *Iterator[K] {
	t.rootLatch.RLock()
	rootID, ok := t.dir.GetRootID(t.name)
	if !ok || rootID == disk.InvalidPageID {
		t.rootLatch.RUnlock()
		return &Iterator[K]{done: true, forward: true}
	}
	guard := t.descendToLeftmostLeaf(rootID)
	t.rootLatch.RUnlock()
	if guard == nil {
		return &Iterator[K]{done: true, forward: true}
	}
	return t.newIterator(guard, 0, true)
}

// End returns an iterator positioned at the largest key in the tree, for
// backward iteration.
func (t *BPlusTree[K]) End() *Iterator[K] {
	t.rootLatch.RLock()
	rootID, ok := t.dir.GetRootID(t.name)
	if !ok || rootID == disk.InvalidPageID {
		t.rootLatch.RUnlock()
		return &Iterator[K]{done: true, forward: false}
	}
	guard := t.descendToRightmostLeaf(rootID)
	t.rootLatch.RUnlock()
	if guard == nil {
		return &Iterator[K]{done: true, forward: false}
	}
	leaf, err := decodeLeaf[K](guard.Data())
	if err != nil || len(leaf.Keys) == 0 {
		guard.Drop()
		return &Iterator[K]{done: true, forward: false}
	}
	return &Iterator[K]{bpm: t.bpm, guard: guard, leaf: leaf, pos: len(leaf.Keys) - 1, forward: false}
}

// BeginAt returns a forward iterator positioned at the first key >= key.
func (t *BPlusTree[K]) BeginAt(key K) *Iterator[K] {
	t.rootLatch.RLock()
	rootID, ok := t.dir.GetRootID(t.name)
	if !ok || rootID == disk.InvalidPageID {
		t.rootLatch.RUnlock()
		return &Iterator[K]{done: true, forward: true}
	}

	guard, ok := t.bpm.FetchPageRead(rootID)
	t.rootLatch.RUnlock()
	if !ok {
		return &Iterator[K]{done: true, forward: true}
	}

	for {
		hdr, err := probe(guard.Data())
		if err != nil {
			guard.Drop()
			return &Iterator[K]{done: true, forward: true}
		}
		if hdr.isLeaf() {
			break
		}
		internal, err := decodeInternal[K](guard.Data())
		if err != nil {
			guard.Drop()
			return &Iterator[K]{done: true, forward: true}
		}
		childID := internal.Lookup(key)
		childGuard, ok := t.bpm.FetchPageRead(childID)
		guard.Drop()
		if !ok {
			return &Iterator[K]{done: true, forward: true}
		}
		guard = childGuard
	}

	leaf, err := decodeLeaf[K](guard.Data())
	if err != nil {
		guard.Drop()
		return &Iterator[K]{done: true, forward: true}
	}
	pos, _ := leaf.searchIndex(key)
	if pos >= len(leaf.Keys) {
		return t.advancePastLeaf(guard, leaf, true)
	}
	return &Iterator[K]{bpm: t.bpm, guard: guard, leaf: leaf, pos: pos, forward: true}
}

func (t *BPlusTree[K]) newIterator(guard *buffer.ReadPageGuard, pos int, forward bool) *Iterator[K] {
	leaf, err := decodeLeaf[K](guard.Data())
	if err != nil {
		guard.Drop()
		return &Iterator[K]{done: true, forward: forward}
	}
	if len(leaf.Keys) == 0 {
		return t.advancePastLeaf(guard, leaf, forward)
	}
	return &Iterator[K]{bpm: t.bpm, guard: guard, leaf: leaf, pos: pos, forward: forward}
}

// advancePastLeaf hands the latch off to the next (forward) or previous
// (backward) leaf when the current one is exhausted or empty.
func (t *BPlusTree[K]) advancePastLeaf(guard *buffer.ReadPageGuard, leaf LeafPage[K], forward bool) *Iterator[K] {
	nextID := leaf.NextPageID
	if !forward {
		nextID = leaf.PrevPageID
	}
	guard.Drop()
	if nextID == disk.InvalidPageID {
		return &Iterator[K]{done: true, forward: forward}
	}
	nextGuard, ok := t.bpm.FetchPageRead(nextID)
	if !ok {
		return &Iterator[K]{done: true, forward: forward}
	}
	nextLeaf, err := decodeLeaf[K](nextGuard.Data())
	if err != nil {
		nextGuard.Drop()
		return &Iterator[K]{done: true, forward: forward}
	}
	if len(nextLeaf.Keys) == 0 {
		return t.advancePastLeaf(nextGuard, nextLeaf, forward)
	}
	pos := 0
	if !forward {
		pos = len(nextLeaf.Keys) - 1
	}
	return &Iterator[K]{bpm: t.bpm, guard: nextGuard, leaf: nextLeaf, pos: pos, forward: forward}
}

func (t *BPlusTree[K]) descendToLeftmostLeaf(rootID disk.PageID) *buffer.ReadPageGuard {
	guard, ok := t.bpm.FetchPageRead(rootID)
	if !ok {
		return nil
	}
	for {
		hdr, err := probe(guard.Data())
		if err != nil {
			guard.Drop()
			return nil
		}
		if hdr.isLeaf() {
			return guard
		}
		internal, err := decodeInternal[K](guard.Data())
		if err != nil {
			guard.Drop()
			return nil
		}
		childGuard, ok := t.bpm.FetchPageRead(internal.ValueAt(0))
		guard.Drop()
		if !ok {
			return nil
		}
		guard = childGuard
	}
}

func (t *BPlusTree[K]) descendToRightmostLeaf(rootID disk.PageID) *buffer.ReadPageGuard {
	guard, ok := t.bpm.FetchPageRead(rootID)
	if !ok {
		return nil
	}
	for {
		hdr, err := probe(guard.Data())
		if err != nil {
			guard.Drop()
			return nil
		}
		if hdr.isLeaf() {
			return guard
		}
		internal, err := decodeInternal[K](guard.Data())
		if err != nil {
			guard.Drop()
			return nil
		}
		childGuard, ok := t.bpm.FetchPageRead(internal.ValueAt(len(internal.Children) - 1))
		guard.Drop()
		if !ok {
			return nil
		}
		guard = childGuard
	}
}

// IsEnd reports whether the iterator has been exhausted.
func (it *Iterator[K]) IsEnd() bool {
	return it.done
}

// Key returns the current entry's key. Undefined once IsEnd is true.
func (it *Iterator[K]) Key() K { return it.leaf.Keys[it.pos] }

// Value returns the current entry's RID. Undefined once IsEnd is true.
func (it *Iterator[K]) Value() rid.RID { return it.leaf.Values[it.pos] }

// Next advances the iterator one entry in its scan direction, crossing
// into the neighboring leaf (and releasing the current one) as needed.
func (it *Iterator[K]) Next() {
	if it.done {
		return
	}

	if it.forward {
		it.pos++
		if it.pos < len(it.leaf.Keys) {
			return
		}
		next := it.advance(it.leaf.NextPageID, true)
		*it = *next
		return
	}

	it.pos--
	if it.pos >= 0 {
		return
	}
	next := it.advance(it.leaf.PrevPageID, false)
	*it = *next
}

func (it *Iterator[K]) advance(neighborID disk.PageID, forward bool) *Iterator[K] {
	it.guard.Drop()
	if neighborID == disk.InvalidPageID {
		return &Iterator[K]{done: true, forward: forward}
	}
	g, ok := it.bpm.FetchPageRead(neighborID)
	if !ok {
		return &Iterator[K]{done: true, forward: forward}
	}
	leaf, err := decodeLeaf[K](g.Data())
	if err != nil || len(leaf.Keys) == 0 {
		g.Drop()
		return &Iterator[K]{done: true, forward: forward}
	}
	pos := 0
	if !forward {
		pos = len(leaf.Keys) - 1
	}
	return &Iterator[K]{bpm: it.bpm, guard: g, leaf: leaf, pos: pos, forward: forward}
}

// Close releases the iterator's latch. Safe to call on an already
// exhausted iterator.
func (it *Iterator[K]) Close() {
	if it.guard != nil {
		it.guard.Drop()
		it.guard = nil
	}
}
