package index

import (
	"cmp"
	"sort"

	"github.com/rivetdb/rivet/storage/disk"
	"github.com/rivetdb/rivet/storage/rid"
)

// LeafPage holds the actual (key, RID) pairs, in ascending key order, plus
// Next/Prev sibling pointers so the tree can be scanned as a doubly
// linked list in either direction without touching internal pages
// (spec.md §3, §4.6).
//
// Steady-state size is bounded to [ceil((MaxSize-1)/2), MaxSize-1]; Insert
// is allowed to push Size to MaxSize transiently, which is exactly the
// signal that a split is due.
type LeafPage[K cmp.Ordered] struct {
	PageHeader
	NextPageID disk.PageID
	PrevPageID disk.PageID
	Keys       []K
	Values     []rid.RID
}

// NewLeafPage constructs an empty leaf ready to receive its first entries.
func NewLeafPage[K cmp.Ordered](pageID, parentID disk.PageID, maxSize int32) LeafPage[K] {
	return LeafPage[K]{
		PageHeader: newLeafHeader(pageID, parentID, maxSize),
		NextPageID: disk.InvalidPageID,
		PrevPageID: disk.InvalidPageID,
	}
}

// minSize is the lowest size a non-root leaf may hold before it must
// coalesce or redistribute with a sibling.
func (p *LeafPage[K]) minSize() int32 {
	return (p.MaxSize - 1 + 1) / 2
}

// searchIndex returns the position of the first key >= key, and whether
// that position is an exact match.
func (p *LeafPage[K]) searchIndex(key K) (int, bool) {
	i := sort.Search(len(p.Keys), func(i int) bool { return p.Keys[i] >= key })
	return i, i < len(p.Keys) && p.Keys[i] == key
}

// Lookup returns the RID stored for key, if present.
func (p *LeafPage[K]) Lookup(key K) (rid.RID, bool) {
	i, found := p.searchIndex(key)
	if !found {
		return rid.RID{}, false
	}
	return p.Values[i], true
}

// KeyAt returns the key at position i.
func (p *LeafPage[K]) KeyAt(i int) K { return p.Keys[i] }

// Insert places (key, value) in sorted position. Returns false without
// modifying the page if key is already present: leaves reject duplicates.
func (p *LeafPage[K]) Insert(key K, value rid.RID) bool {
	i, found := p.searchIndex(key)
	if found {
		return false
	}

	p.Keys = append(p.Keys, key)
	copy(p.Keys[i+1:], p.Keys[i:])
	p.Keys[i] = key

	p.Values = append(p.Values, value)
	copy(p.Values[i+1:], p.Values[i:])
	p.Values[i] = value

	p.Size++
	return true
}

// RemoveAndDeleteRecord deletes key's entry, if present.
func (p *LeafPage[K]) RemoveAndDeleteRecord(key K) bool {
	i, found := p.searchIndex(key)
	if !found {
		return false
	}

	p.Keys = append(p.Keys[:i], p.Keys[i+1:]...)
	p.Values = append(p.Values[:i], p.Values[i+1:]...)
	p.Size--
	return true
}

// MoveHalfTo splits this (overflowing) leaf, moving the upper
// ceil(Size/2) entries into other, which becomes the new right sibling.
func (p *LeafPage[K]) MoveHalfTo(other *LeafPage[K]) {
	total := len(p.Keys)
	moveFrom := total / 2

	other.Keys = append(other.Keys, p.Keys[moveFrom:]...)
	other.Values = append(other.Values, p.Values[moveFrom:]...)
	other.Size = int32(len(other.Keys))

	p.Keys = p.Keys[:moveFrom]
	p.Values = p.Values[:moveFrom]
	p.Size = int32(len(p.Keys))

	other.NextPageID = p.NextPageID
	other.PrevPageID = p.PageID
	p.NextPageID = other.PageID
}

// MoveAllTo merges this leaf's entries onto the end of other, used when
// this leaf is coalesced away entirely. other keeps this leaf's sibling
// pointer.
func (p *LeafPage[K]) MoveAllTo(other *LeafPage[K]) {
	other.Keys = append(other.Keys, p.Keys...)
	other.Values = append(other.Values, p.Values...)
	other.Size = int32(len(other.Keys))
	other.NextPageID = p.NextPageID

	p.Keys = nil
	p.Values = nil
	p.Size = 0
}

// MoveFirstToEndOf moves this leaf's smallest entry onto the end of other,
// used to redistribute when this leaf is the right sibling donating left.
func (p *LeafPage[K]) MoveFirstToEndOf(other *LeafPage[K]) {
	other.Keys = append(other.Keys, p.Keys[0])
	other.Values = append(other.Values, p.Values[0])
	other.Size++

	p.Keys = p.Keys[1:]
	p.Values = p.Values[1:]
	p.Size--
}

// MoveLastToFrontOf moves this leaf's largest entry onto the front of
// other, used to redistribute when this leaf is the left sibling donating
// right.
func (p *LeafPage[K]) MoveLastToFrontOf(other *LeafPage[K]) {
	last := len(p.Keys) - 1

	other.Keys = append(other.Keys, p.Keys[last])
	copy(other.Keys[1:], other.Keys[:len(other.Keys)-1])
	other.Keys[0] = p.Keys[last]

	other.Values = append(other.Values, p.Values[last])
	copy(other.Values[1:], other.Values[:len(other.Values)-1])
	other.Values[0] = p.Values[last]

	other.Size++

	p.Keys = p.Keys[:last]
	p.Values = p.Values[:last]
	p.Size--
}

// SafeOrNot predicts whether op can be applied to this leaf without it
// needing to split (INSERT) or coalesce/redistribute (REMOVE).
func (p *LeafPage[K]) SafeOrNot(op opKind) bool {
	switch op {
	case opInsert:
		return p.Size < p.MaxSize-1
	case opRemove:
		return p.Size > p.minSize()
	default:
		return false
	}
}
