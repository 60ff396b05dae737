package buffer

import (
	"sync"

	"github.com/rivetdb/rivet/storage/disk"
)

// frame is one in-memory slot holding at most one resident page. pinCount
// and dirty are protected by the owning BufferPoolManager's mutex; latch is
// the page's own reader/writer latch, independent of pin accounting, per
// spec.md §5.
type frame struct {
	id       int
	pageID   disk.PageID
	data     []byte
	pinCount int
	dirty    bool
	latch    sync.RWMutex
}

func newFrame(id int) *frame {
	return &frame{
		id:     id,
		pageID: disk.InvalidPageID,
		data:   make([]byte, disk.PageSize),
	}
}

func (f *frame) reset() {
	f.pageID = disk.InvalidPageID
	f.pinCount = 0
	f.dirty = false
	f.data = make([]byte, disk.PageSize)
}
