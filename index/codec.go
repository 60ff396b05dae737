package index

import (
	"cmp"

	"github.com/rivetdb/rivet/storage/disk"
	"github.com/rivetdb/rivet/util"
)

// probe reads only the common header out of a page's raw bytes, enough to
// dispatch the page to decodeLeaf or decodeInternal. A never-written page
// decodes to a zeroed probeHeader (util.ToStruct treats all-zero buffers as
// the zero value rather than an unmarshal error).
func probe(data []byte) (probeHeader, error) {
	return util.ToStruct[probeHeader](data)
}

func decodeLeaf[K cmp.Ordered](data []byte) (LeafPage[K], error) {
	return util.ToStruct[LeafPage[K]](data)
}

func decodeInternal[K cmp.Ordered](data []byte) (InternalPage[K], error) {
	return util.ToStruct[InternalPage[K]](data)
}

func encodeLeaf[K cmp.Ordered](p LeafPage[K]) ([]byte, error) {
	return util.ToByteSlice(p)
}

func encodeInternal[K cmp.Ordered](p InternalPage[K]) ([]byte, error) {
	return util.ToByteSlice(p)
}

// newLeafHeader builds the header for a freshly allocated leaf page.
func newLeafHeader(pageID, parentID disk.PageID, maxSize int32) PageHeader {
	return PageHeader{
		PageType:     leafPage,
		Size:         0,
		MaxSize:      maxSize,
		ParentPageID: parentID,
		PageID:       pageID,
	}
}

// newInternalHeader builds the header for a freshly allocated internal
// page. Size starts at 0: the page has no children until PopulateNewRoot
// or a MoveHalfTo fills it.
func newInternalHeader(pageID, parentID disk.PageID, maxSize int32) PageHeader {
	return PageHeader{
		PageType:     internalPage,
		Size:         0,
		MaxSize:      maxSize,
		ParentPageID: parentID,
		PageID:       pageID,
	}
}
