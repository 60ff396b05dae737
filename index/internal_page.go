package index

import (
	"cmp"
	"sort"

	"github.com/rivetdb/rivet/storage/disk"
)

// InternalPage routes keys to children. Keys and Children are parallel
// slices with Keys[0] an unused sentinel: Children[i] holds every key in
// [Keys[i], Keys[i+1]) (Keys[0] stands in for -infinity).
//
// Steady-state size (child count) is bounded to [ceil(MaxSize/2), MaxSize].
// Insert is allowed to push Size to MaxSize+1 transiently, which is the
// overflow signal a split acts on (spec.md §9: strict > against MaxSize).
type InternalPage[K cmp.Ordered] struct {
	PageHeader
	Keys     []K
	Children []disk.PageID
}

// NewInternalPage builds an empty internal page (no keys, no children),
// ready to become a new root via PopulateNewRoot or to receive a split's
// upper half via MoveHalfTo.
func NewInternalPage[K cmp.Ordered](pageID, parentID disk.PageID, maxSize int32) InternalPage[K] {
	return InternalPage[K]{
		PageHeader: newInternalHeader(pageID, parentID, maxSize),
	}
}

func (p *InternalPage[K]) minSize() int32 {
	return (p.MaxSize + 1) / 2
}

// PopulateNewRoot turns an empty internal page into a fresh root with
// exactly two children split by key.
func (p *InternalPage[K]) PopulateNewRoot(left disk.PageID, key K, right disk.PageID) {
	var zero K
	p.Keys = []K{zero, key}
	p.Children = []disk.PageID{left, right}
	p.Size = 2
}

// Lookup returns the child pointer key routes to.
func (p *InternalPage[K]) Lookup(key K) disk.PageID {
	i := sort.Search(len(p.Keys), func(i int) bool { return i > 0 && p.Keys[i] > key })
	return p.Children[i-1]
}

func (p *InternalPage[K]) KeyAt(i int) K            { return p.Keys[i] }
func (p *InternalPage[K]) ValueAt(i int) disk.PageID { return p.Children[i] }

func (p *InternalPage[K]) ValueIndex(childID disk.PageID) (int, bool) {
	for i, c := range p.Children {
		if c == childID {
			return i, true
		}
	}
	return -1, false
}

// InsertAfter inserts (key, newChildID) immediately after oldChildID,
// used to link a freshly split-off right sibling into its parent.
func (p *InternalPage[K]) InsertAfter(oldChildID disk.PageID, key K, newChildID disk.PageID) {
	i, ok := p.ValueIndex(oldChildID)
	if !ok {
		return
	}

	p.Keys = append(p.Keys, key)
	copy(p.Keys[i+2:], p.Keys[i+1:])
	p.Keys[i+1] = key

	p.Children = append(p.Children, newChildID)
	copy(p.Children[i+2:], p.Children[i+1:])
	p.Children[i+1] = newChildID

	p.Size++
}

// Remove deletes the (key, child) pair at index i.
func (p *InternalPage[K]) Remove(i int) {
	p.Keys = append(p.Keys[:i], p.Keys[i+1:]...)
	p.Children = append(p.Children[:i], p.Children[i+1:]...)
	p.Size--
}

// OnlyChild returns the sole remaining child, valid only when Size == 1.
func (p *InternalPage[K]) OnlyChild() disk.PageID {
	return p.Children[0]
}

// MoveHalfTo splits this (overflowing) internal page. The middle key is
// promoted to the caller (to be inserted into the parent as the new
// separator) rather than copied to either side; the child it was paired
// with becomes other's first child under the unused sentinel slot.
// Returns the children that moved, so the caller can update their
// ParentPageID.
func (p *InternalPage[K]) MoveHalfTo(other *InternalPage[K]) (moved []disk.PageID, upKey K) {
	total := len(p.Children)
	moveFrom := total / 2
	upKey = p.Keys[moveFrom]

	moved = append([]disk.PageID(nil), p.Children[moveFrom:]...)
	other.Children = append(other.Children, moved...)
	other.Keys = append(other.Keys, p.Keys[moveFrom:]...)
	var zero K
	other.Keys[0] = zero
	other.Size = int32(len(other.Children))

	p.Children = p.Children[:moveFrom]
	p.Keys = p.Keys[:moveFrom]
	p.Size = int32(len(p.Children))

	return moved, upKey
}

// MoveAllTo merges this page's children onto the end of other (the left
// sibling), using parentKey as the separator for this page's first child,
// which arrives under other's unused-sentinel convention no longer.
func (p *InternalPage[K]) MoveAllTo(other *InternalPage[K], parentKey K) []disk.PageID {
	moved := append([]disk.PageID(nil), p.Children...)

	keys := append([]K(nil), p.Keys...)
	keys[0] = parentKey

	other.Keys = append(other.Keys, keys...)
	other.Children = append(other.Children, p.Children...)
	other.Size = int32(len(other.Children))

	p.Keys = nil
	p.Children = nil
	p.Size = 0

	return moved
}

// MoveFirstToEndOf redistributes: this page is the right sibling donating
// its first child onto the end of other (the left sibling). Returns the
// moved child and the key the parent's separator must be updated to.
func (p *InternalPage[K]) MoveFirstToEndOf(other *InternalPage[K], parentKey K) (moved disk.PageID, newUpKey K) {
	moved = p.Children[0]
	newUpKey = p.Keys[1]

	other.Children = append(other.Children, moved)
	other.Keys = append(other.Keys, parentKey)
	other.Size++

	var zero K
	p.Children = p.Children[1:]
	p.Keys = p.Keys[1:]
	p.Keys[0] = zero
	p.Size--

	return moved, newUpKey
}

// MoveLastToFrontOf redistributes: this page is the left sibling donating
// its last child onto the front of other (the right sibling). Returns the
// moved child and the key the parent's separator must be updated to.
func (p *InternalPage[K]) MoveLastToFrontOf(other *InternalPage[K], parentKey K) (moved disk.PageID, newUpKey K) {
	last := len(p.Children) - 1
	moved = p.Children[last]
	newUpKey = p.Keys[last]

	newKeys := make([]K, len(other.Keys)+1)
	var zero K
	newKeys[0] = zero
	newKeys[1] = parentKey
	copy(newKeys[2:], other.Keys[1:])
	other.Keys = newKeys

	newChildren := make([]disk.PageID, len(other.Children)+1)
	newChildren[0] = moved
	copy(newChildren[1:], other.Children)
	other.Children = newChildren
	other.Size++

	p.Children = p.Children[:last]
	p.Keys = p.Keys[:last]
	p.Size--

	return moved, newUpKey
}

// SafeOrNot predicts whether op can be applied to this internal page
// without it needing to split (INSERT) or coalesce/redistribute (REMOVE).
// Internal pages tolerate Size == MaxSize; only Size > MaxSize overflows
// (spec.md §9's documented strict-> coalesce/overflow threshold), so the
// insert predicate is one looser than the leaf's.
func (p *InternalPage[K]) SafeOrNot(op opKind) bool {
	switch op {
	case opInsert:
		return p.Size < p.MaxSize
	case opRemove:
		return p.Size > p.minSize()
	default:
		return false
	}
}
