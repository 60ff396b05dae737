package index

import (
	"cmp"
	"sync"

	"github.com/rivetdb/rivet/buffer"
	"github.com/rivetdb/rivet/config"
	"github.com/rivetdb/rivet/headerpage"
	"github.com/rivetdb/rivet/logging"
	"github.com/rivetdb/rivet/storage/disk"
	"github.com/rivetdb/rivet/storage/rid"
)

// BPlusTree is a disk-resident concurrent B+tree index over key type K,
// mapping each key to a single RID. Concurrent readers and writers latch
// pages while descending (buffer.ReadPageGuard/WritePageGuard) and use
// latch crabbing to keep the width of what a writer holds as narrow as
// SafeOrNot allows (spec.md §5).
type BPlusTree[K cmp.Ordered] struct {
	name            string
	bpm             *buffer.BufferPoolManager
	dir             *headerpage.Directory
	leafMaxSize     int32
	internalMaxSize int32

	// rootLatch guards the root page id itself: acquired before the root
	// page is latched, released as soon as a descendant is confirmed safe
	// (write path) or right after the root is latched (read path).
	rootLatch sync.RWMutex
}

// New builds a B+tree index named name, rooted through dir's page-0
// directory and paged through bpm. leafMaxSize and internalMaxSize bound
// steady-state page occupancy (spec.md §3's Data Model size invariants).
func New[K cmp.Ordered](name string, bpm *buffer.BufferPoolManager, dir *headerpage.Directory, leafMaxSize, internalMaxSize int32) *BPlusTree[K] {
	return &BPlusTree[K]{
		name:            name,
		bpm:             bpm,
		dir:             dir,
		leafMaxSize:     leafMaxSize,
		internalMaxSize: internalMaxSize,
	}
}

// NewFromConfig builds a B+tree index named name using cfg's leaf/internal
// max sizes (spec.md §6's construction parameters, obtained via
// config.Load rather than a bare struct literal at every call site).
func NewFromConfig[K cmp.Ordered](cfg config.Config, name string, bpm *buffer.BufferPoolManager, dir *headerpage.Directory) *BPlusTree[K] {
	return New[K](name, bpm, dir, int32(cfg.LeafMaxSize), int32(cfg.InternalMaxSize))
}

// IsEmpty reports whether the index currently has no root.
func (t *BPlusTree[K]) IsEmpty() bool {
	t.rootLatch.RLock()
	defer t.rootLatch.RUnlock()
	rootID, ok := t.dir.GetRootID(t.name)
	return !ok || rootID == disk.InvalidPageID
}

func writeLeaf[K cmp.Ordered](g *buffer.WritePageGuard, p LeafPage[K]) {
	data, err := encodeLeaf(p)
	if err != nil {
		return
	}
	g.SetData(data)
}

func writeInternal[K cmp.Ordered](g *buffer.WritePageGuard, p InternalPage[K]) {
	data, err := encodeInternal(p)
	if err != nil {
		return
	}
	g.SetData(data)
}

func dropAllWrite(guards []*buffer.WritePageGuard) {
	for _, g := range guards {
		g.Drop()
	}
}

func leafSafe(h PageHeader, op opKind) bool {
	if op == opInsert {
		return h.Size < h.MaxSize-1
	}
	return h.Size > (h.MaxSize)/2
}

func internalSafe(h PageHeader, op opKind) bool {
	if op == opInsert {
		return h.Size < h.MaxSize
	}
	return h.Size > (h.MaxSize+1)/2
}

func isSafe(h PageHeader, op opKind) bool {
	if h.PageType == leafPage {
		return leafSafe(h, op)
	}
	return internalSafe(h, op)
}

// GetValue looks up key, crabbing read latches down the tree: a child's
// read latch is acquired before its parent's is released.
func (t *BPlusTree[K]) GetValue(key K) (rid.RID, bool) {
	t.rootLatch.RLock()
	rootID, ok := t.dir.GetRootID(t.name)
	if !ok || rootID == disk.InvalidPageID {
		t.rootLatch.RUnlock()
		return rid.RID{}, false
	}

	guard, ok := t.bpm.FetchPageRead(rootID)
	t.rootLatch.RUnlock()
	if !ok {
		return rid.RID{}, false
	}

	for {
		hdr, err := probe(guard.Data())
		if err != nil {
			guard.Drop()
			return rid.RID{}, false
		}
		if hdr.isLeaf() {
			break
		}

		internal, err := decodeInternal[K](guard.Data())
		if err != nil {
			guard.Drop()
			return rid.RID{}, false
		}
		childID := internal.Lookup(key)
		childGuard, ok := t.bpm.FetchPageRead(childID)
		guard.Drop()
		if !ok {
			return rid.RID{}, false
		}
		guard = childGuard
	}

	leaf, err := decodeLeaf[K](guard.Data())
	guard.Drop()
	if err != nil {
		return rid.RID{}, false
	}
	return leaf.Lookup(key)
}

// startNewTree allocates the index's very first page, a leaf holding
// (key, value), and records it as the root.
func (t *BPlusTree[K]) startNewTree(key K, value rid.RID) bool {
	var pageID disk.PageID
	guard, ok := t.bpm.NewPageWrite(&pageID)
	if !ok {
		return false
	}

	leaf := NewLeafPage[K](pageID, disk.InvalidPageID, t.leafMaxSize)
	leaf.Insert(key, value)
	writeLeaf(guard, leaf)
	guard.Drop()

	t.dir.InsertRecord(t.name, pageID)
	return true
}

// Insert adds (key, value), splitting leaves and internal pages up the
// tree as required. Returns false if key already exists.
func (t *BPlusTree[K]) Insert(key K, value rid.RID) bool {
	t.rootLatch.Lock()
	rootHeld := true
	unlockRoot := func() {
		if rootHeld {
			t.rootLatch.Unlock()
			rootHeld = false
		}
	}
	defer unlockRoot()

	rootID, ok := t.dir.GetRootID(t.name)
	if !ok || rootID == disk.InvalidPageID {
		return t.startNewTree(key, value)
	}

	curGuard, ok := t.bpm.FetchPageWrite(rootID)
	if !ok {
		return false
	}
	guards := []*buffer.WritePageGuard{curGuard}

	for {
		hdr, err := probe(curGuard.Data())
		if err != nil {
			dropAllWrite(guards)
			return false
		}
		if hdr.isLeaf() {
			break
		}

		internal, err := decodeInternal[K](curGuard.Data())
		if err != nil {
			dropAllWrite(guards)
			return false
		}
		childID := internal.Lookup(key)
		childGuard, ok := t.bpm.FetchPageWrite(childID)
		if !ok {
			dropAllWrite(guards)
			return false
		}
		childHdr, err := probe(childGuard.Data())
		if err != nil {
			childGuard.Drop()
			dropAllWrite(guards)
			return false
		}

		if isSafe(childHdr.PageHeader, opInsert) {
			dropAllWrite(guards)
			unlockRoot()
			guards = []*buffer.WritePageGuard{childGuard}
		} else {
			guards = append(guards, childGuard)
		}
		curGuard = childGuard
	}

	leafGuard := curGuard
	leaf, err := decodeLeaf[K](leafGuard.Data())
	if err != nil {
		dropAllWrite(guards)
		return false
	}

	if !leaf.Insert(key, value) {
		dropAllWrite(guards)
		unlockRoot()
		return false
	}

	if leaf.Size < leaf.MaxSize {
		writeLeaf(leafGuard, leaf)
		dropAllWrite(guards)
		unlockRoot()
		return true
	}

	// Leaf overflowed: split it and link the new sibling into the parent.
	var newLeafID disk.PageID
	newLeafGuard, ok := t.bpm.NewPageWrite(&newLeafID)
	if !ok {
		leaf.RemoveAndDeleteRecord(key)
		writeLeaf(leafGuard, leaf)
		dropAllWrite(guards)
		unlockRoot()
		return false
	}
	newLeaf := NewLeafPage[K](newLeafID, leaf.ParentPageID, leaf.MaxSize)
	leaf.MoveHalfTo(&newLeaf)
	writeLeaf(leafGuard, leaf)
	writeLeaf(newLeafGuard, newLeaf)
	upKey := newLeaf.Keys[0]
	t.fixLeafPrev(newLeaf.NextPageID, newLeafID)
	logging.Debug("leaf split", "index", t.name, "old_page_id", leaf.PageID, "new_page_id", newLeafID)

	oldLeafID := leaf.PageID
	ancestors := guards[:len(guards)-1]
	t.insertIntoParent(
		ancestors, oldLeafID, upKey, newLeafID,
		func(parentID disk.PageID) {
			leaf.ParentPageID = parentID
			writeLeaf(leafGuard, leaf)
		},
		func(parentID disk.PageID) {
			newLeaf.ParentPageID = parentID
			writeLeaf(newLeafGuard, newLeaf)
		},
	)

	newLeafGuard.Drop()
	dropAllWrite(guards)
	unlockRoot()
	return true
}

// insertIntoParent links (oldChildID, key, newChildID) into the parent
// found at the tail of ancestors, cascading a split up the tree if the
// parent itself overflows, or minting a new root if oldChildID was the
// root. setOldParent/setNewParent update the in-memory copies (and their
// still-latched guards) of the two children whose parent id changed.
func (t *BPlusTree[K]) insertIntoParent(
	ancestors []*buffer.WritePageGuard,
	oldChildID disk.PageID,
	key K,
	newChildID disk.PageID,
	setOldParent, setNewParent func(disk.PageID),
) {
	if len(ancestors) == 0 {
		var newRootID disk.PageID
		newRootGuard, ok := t.bpm.NewPageWrite(&newRootID)
		if !ok {
			return
		}
		newRoot := NewInternalPage[K](newRootID, disk.InvalidPageID, t.internalMaxSize)
		newRoot.PopulateNewRoot(oldChildID, key, newChildID)
		writeInternal(newRootGuard, newRoot)
		newRootGuard.Drop()
		logging.Debug("root split, new root minted", "index", t.name, "new_root_page_id", newRootID)

		setOldParent(newRootID)
		setNewParent(newRootID)
		t.dir.UpdateRecord(t.name, newRootID)
		return
	}

	parentGuard := ancestors[len(ancestors)-1]
	parent, err := decodeInternal[K](parentGuard.Data())
	if err != nil {
		return
	}

	parent.InsertAfter(oldChildID, key, newChildID)
	setNewParent(parent.PageID)

	if parent.Size <= parent.MaxSize {
		writeInternal(parentGuard, parent)
		return
	}

	// Parent overflowed: split it too.
	var newParentID disk.PageID
	newParentGuard, ok := t.bpm.NewPageWrite(&newParentID)
	if !ok {
		writeInternal(parentGuard, parent)
		return
	}
	newParent := NewInternalPage[K](newParentID, parent.ParentPageID, parent.MaxSize)
	moved, upKey := parent.MoveHalfTo(&newParent)
	logging.Debug("internal page split", "index", t.name, "old_page_id", parent.PageID, "new_page_id", newParentID)

	for _, childID := range moved {
		switch childID {
		case oldChildID:
			setOldParent(newParentID)
		case newChildID:
			setNewParent(newParentID)
		default:
			t.reparentChild(childID, newParentID)
		}
	}

	writeInternal(parentGuard, parent)
	writeInternal(newParentGuard, newParent)

	t.insertIntoParent(
		ancestors[:len(ancestors)-1], parent.PageID, upKey, newParentID,
		func(id disk.PageID) { parent.ParentPageID = id; writeInternal(parentGuard, parent) },
		func(id disk.PageID) { newParent.ParentPageID = id; writeInternal(newParentGuard, newParent) },
	)
	newParentGuard.Drop()
}

// fixLeafPrev patches leafID's PrevPageID after a split or merge changed
// which leaf now precedes it. A no-op if leafID is invalid (there was no
// right neighbor to begin with).
func (t *BPlusTree[K]) fixLeafPrev(leafID, newPrev disk.PageID) {
	if leafID == disk.InvalidPageID {
		return
	}
	g, ok := t.bpm.FetchPageWrite(leafID)
	if !ok {
		return
	}
	leaf, err := decodeLeaf[K](g.Data())
	if err == nil {
		leaf.PrevPageID = newPrev
		writeLeaf(g, leaf)
	}
	g.Drop()
}

// reparentChild updates a page's ParentPageID by fetching it fresh. Only
// safe to call on pages known not to already be latched by the caller.
func (t *BPlusTree[K]) reparentChild(childID, newParentID disk.PageID) {
	g, ok := t.bpm.FetchPageWrite(childID)
	if !ok {
		return
	}
	hdr, err := probe(g.Data())
	if err != nil {
		g.Drop()
		return
	}
	if hdr.isLeaf() {
		leaf, err := decodeLeaf[K](g.Data())
		if err == nil {
			leaf.ParentPageID = newParentID
			writeLeaf(g, leaf)
		}
	} else {
		internal, err := decodeInternal[K](g.Data())
		if err == nil {
			internal.ParentPageID = newParentID
			writeInternal(g, internal)
		}
	}
	g.Drop()
}

// Remove deletes key's entry, coalescing or redistributing underflowed
// pages with a sibling up the tree as required. Returns false if key was
// never present.
func (t *BPlusTree[K]) Remove(key K) bool {
	t.rootLatch.Lock()
	rootHeld := true
	unlockRoot := func() {
		if rootHeld {
			t.rootLatch.Unlock()
			rootHeld = false
		}
	}
	defer unlockRoot()

	rootID, ok := t.dir.GetRootID(t.name)
	if !ok || rootID == disk.InvalidPageID {
		return false
	}

	curGuard, ok := t.bpm.FetchPageWrite(rootID)
	if !ok {
		return false
	}
	guards := []*buffer.WritePageGuard{curGuard}

	for {
		hdr, err := probe(curGuard.Data())
		if err != nil {
			dropAllWrite(guards)
			return false
		}
		if hdr.isLeaf() {
			break
		}

		internal, err := decodeInternal[K](curGuard.Data())
		if err != nil {
			dropAllWrite(guards)
			return false
		}
		childID := internal.Lookup(key)
		childGuard, ok := t.bpm.FetchPageWrite(childID)
		if !ok {
			dropAllWrite(guards)
			return false
		}
		childHdr, err := probe(childGuard.Data())
		if err != nil {
			childGuard.Drop()
			dropAllWrite(guards)
			return false
		}

		if isSafe(childHdr.PageHeader, opRemove) {
			dropAllWrite(guards)
			unlockRoot()
			guards = []*buffer.WritePageGuard{childGuard}
		} else {
			guards = append(guards, childGuard)
		}
		curGuard = childGuard
	}

	leafGuard := curGuard
	leaf, err := decodeLeaf[K](leafGuard.Data())
	if err != nil {
		dropAllWrite(guards)
		return false
	}

	if !leaf.RemoveAndDeleteRecord(key) {
		dropAllWrite(guards)
		unlockRoot()
		return false
	}
	writeLeaf(leafGuard, leaf)

	ancestors := guards[:len(guards)-1]
	if len(ancestors) == 0 {
		// No ancestor is still latched: either the leaf is the root, which
		// has no minimum occupancy, or it was safe for removal and so
		// cannot have underflowed.
		if leaf.Size == 0 {
			t.dir.UpdateRecord(t.name, disk.InvalidPageID)
			leafGuard.Drop()
			t.bpm.DeletePage(leaf.PageID)
			guards = guards[:0]
		}
		dropAllWrite(guards)
		unlockRoot()
		return true
	}

	if leaf.Size >= leaf.minSize() {
		dropAllWrite(guards)
		unlockRoot()
		return true
	}

	t.coalesceOrRedistributeLeaf(ancestors, &leaf, leafGuard)
	dropAllWrite(guards)
	unlockRoot()
	return true
}

// coalesceOrRedistributeLeaf handles an underflowed leaf: borrow a key
// from a sibling that can spare one, or merge with a sibling and let the
// missing child propagate up through the parent chain.
func (t *BPlusTree[K]) coalesceOrRedistributeLeaf(ancestors []*buffer.WritePageGuard, leaf *LeafPage[K], leafGuard *buffer.WritePageGuard) {
	parentGuard := ancestors[len(ancestors)-1]
	parent, err := decodeInternal[K](parentGuard.Data())
	if err != nil {
		return
	}
	idx, ok := parent.ValueIndex(leaf.PageID)
	if !ok {
		return
	}

	if idx > 0 {
		leftID := parent.ValueAt(idx - 1)
		if leftGuard, ok := t.bpm.FetchPageWrite(leftID); ok {
			left, err := decodeLeaf[K](leftGuard.Data())
			if err == nil && left.Size > left.minSize() {
				left.MoveLastToFrontOf(leaf)
				parent.Keys[idx] = leaf.Keys[0]
				writeLeaf(leftGuard, left)
				writeLeaf(leafGuard, *leaf)
				writeInternal(parentGuard, parent)
				leftGuard.Drop()
				return
			}
			leftGuard.Drop()
		}
	}

	if idx < len(parent.Children)-1 {
		rightID := parent.ValueAt(idx + 1)
		if rightGuard, ok := t.bpm.FetchPageWrite(rightID); ok {
			right, err := decodeLeaf[K](rightGuard.Data())
			if err == nil && right.Size > right.minSize() {
				right.MoveFirstToEndOf(leaf)
				parent.Keys[idx+1] = right.Keys[0]
				writeLeaf(rightGuard, right)
				writeLeaf(leafGuard, *leaf)
				writeInternal(parentGuard, parent)
				rightGuard.Drop()
				return
			}
			rightGuard.Drop()
		}
	}

	// Neither sibling can donate: merge.
	if idx > 0 {
		leftID := parent.ValueAt(idx - 1)
		leftGuard, ok := t.bpm.FetchPageWrite(leftID)
		if !ok {
			return
		}
		left, err := decodeLeaf[K](leftGuard.Data())
		if err != nil {
			leftGuard.Drop()
			return
		}
		leaf.MoveAllTo(&left)
		writeLeaf(leftGuard, left)
		leftGuard.Drop()
		t.fixLeafPrev(left.NextPageID, left.PageID)
		logging.Debug("leaf merged into left sibling", "index", t.name, "removed_page_id", leaf.PageID, "survivor_page_id", left.PageID)

		leafGuard.Drop()
		t.bpm.DeletePage(leaf.PageID)

		parent.Remove(idx)
		t.afterChildRemoved(ancestors[:len(ancestors)-1], parentGuard, parent)
		return
	}

	rightID := parent.ValueAt(idx + 1)
	rightGuard, ok := t.bpm.FetchPageWrite(rightID)
	if !ok {
		return
	}
	right, err := decodeLeaf[K](rightGuard.Data())
	if err != nil {
		rightGuard.Drop()
		return
	}
	right.MoveAllTo(leaf)
	writeLeaf(leafGuard, *leaf)
	leafGuard.Drop() // the parent may reparent this leaf below
	t.fixLeafPrev(leaf.NextPageID, leaf.PageID)
	logging.Debug("leaf merged into right sibling", "index", t.name, "removed_page_id", right.PageID, "survivor_page_id", leaf.PageID)

	rightGuard.Drop()
	t.bpm.DeletePage(right.PageID)

	parent.Remove(idx + 1)
	t.afterChildRemoved(ancestors[:len(ancestors)-1], parentGuard, parent)
}

// afterChildRemoved reacts to parent having just lost a child: collapses
// the root if it is left with a single child or none, otherwise
// coalesces/redistributes parent with a sibling if it underflowed, else
// simply persists it.
func (t *BPlusTree[K]) afterChildRemoved(ancestors []*buffer.WritePageGuard, parentGuard *buffer.WritePageGuard, parent InternalPage[K]) {
	if len(ancestors) == 0 {
		switch {
		case parent.Size == 0:
			logging.Debug("root emptied", "index", t.name, "old_root_page_id", parent.PageID)
			t.dir.UpdateRecord(t.name, disk.InvalidPageID)
			parentGuard.Drop()
			t.bpm.DeletePage(parent.PageID)
		case parent.Size == 1:
			onlyChild := parent.OnlyChild()
			logging.Debug("root collapsed to only child", "index", t.name, "old_root_page_id", parent.PageID, "new_root_page_id", onlyChild)
			t.reparentChild(onlyChild, disk.InvalidPageID)
			t.dir.UpdateRecord(t.name, onlyChild)
			parentGuard.Drop()
			t.bpm.DeletePage(parent.PageID)
		default:
			writeInternal(parentGuard, parent)
		}
		return
	}

	if parent.Size >= parent.minSize() {
		writeInternal(parentGuard, parent)
		return
	}

	t.coalesceOrRedistributeInternal(ancestors, &parent, parentGuard)
}

// coalesceOrRedistributeInternal is coalesceOrRedistributeLeaf's twin one
// level up: it operates on InternalPage children instead of LeafPage
// entries, so moved children must have their ParentPageID updated.
func (t *BPlusTree[K]) coalesceOrRedistributeInternal(ancestors []*buffer.WritePageGuard, node *InternalPage[K], nodeGuard *buffer.WritePageGuard) {
	grandGuard := ancestors[len(ancestors)-1]
	grand, err := decodeInternal[K](grandGuard.Data())
	if err != nil {
		return
	}
	idx, ok := grand.ValueIndex(node.PageID)
	if !ok {
		return
	}

	if idx > 0 {
		leftID := grand.ValueAt(idx - 1)
		if leftGuard, ok := t.bpm.FetchPageWrite(leftID); ok {
			left, err := decodeInternal[K](leftGuard.Data())
			if err == nil && left.Size > left.minSize() {
				moved, newUpKey := left.MoveLastToFrontOf(node, grand.KeyAt(idx))
				t.reparentChild(moved, node.PageID)
				grand.Keys[idx] = newUpKey
				writeInternal(leftGuard, left)
				writeInternal(nodeGuard, *node)
				writeInternal(grandGuard, grand)
				leftGuard.Drop()
				return
			}
			leftGuard.Drop()
		}
	}

	if idx < len(grand.Children)-1 {
		rightID := grand.ValueAt(idx + 1)
		if rightGuard, ok := t.bpm.FetchPageWrite(rightID); ok {
			right, err := decodeInternal[K](rightGuard.Data())
			if err == nil && right.Size > right.minSize() {
				moved, newUpKey := right.MoveFirstToEndOf(node, grand.KeyAt(idx+1))
				t.reparentChild(moved, node.PageID)
				grand.Keys[idx+1] = newUpKey
				writeInternal(rightGuard, right)
				writeInternal(nodeGuard, *node)
				writeInternal(grandGuard, grand)
				rightGuard.Drop()
				return
			}
			rightGuard.Drop()
		}
	}

	if idx > 0 {
		leftID := grand.ValueAt(idx - 1)
		leftGuard, ok := t.bpm.FetchPageWrite(leftID)
		if !ok {
			return
		}
		left, err := decodeInternal[K](leftGuard.Data())
		if err != nil {
			leftGuard.Drop()
			return
		}
		moved := node.MoveAllTo(&left, grand.KeyAt(idx))
		for _, c := range moved {
			t.reparentChild(c, left.PageID)
		}
		writeInternal(leftGuard, left)
		leftGuard.Drop()

		nodeGuard.Drop()
		t.bpm.DeletePage(node.PageID)

		grand.Remove(idx)
		t.afterChildRemoved(ancestors[:len(ancestors)-1], grandGuard, grand)
		return
	}

	rightID := grand.ValueAt(idx + 1)
	rightGuard, ok := t.bpm.FetchPageWrite(rightID)
	if !ok {
		return
	}
	right, err := decodeInternal[K](rightGuard.Data())
	if err != nil {
		rightGuard.Drop()
		return
	}
	moved := right.MoveAllTo(node, grand.KeyAt(idx+1))
	for _, c := range moved {
		t.reparentChild(c, node.PageID)
	}
	writeInternal(nodeGuard, *node)
	nodeGuard.Drop() // a root collapse below may reparent this node

	rightGuard.Drop()
	t.bpm.DeletePage(right.PageID)

	grand.Remove(idx + 1)
	t.afterChildRemoved(ancestors[:len(ancestors)-1], grandGuard, grand)
}
