package buffer

import "github.com/rivetdb/rivet/storage/disk"

// ReadPageGuard and WritePageGuard are the teacher's RAII latch-holding
// pattern (buffer/page_guard.go), kept as the ergonomic layer the B+tree and
// iterator crab latches through, now built on top of the explicit
// Fetch/Unpin API rather than replacing it: acquiring a guard fetches
// (pinning) the page and takes its content latch; Drop releases the latch
// and unpins in the right order.
type ReadPageGuard struct {
	bpm   *BufferPoolManager
	frame *frame
}

type WritePageGuard struct {
	bpm   *BufferPoolManager
	frame *frame
}

// FetchPageRead pins pageID and takes its read latch. ok is false if the
// pool has no frame available.
func (b *BufferPoolManager) FetchPageRead(pageID disk.PageID) (*ReadPageGuard, bool) {
	f, ok := b.FetchPage(pageID)
	if !ok {
		return nil, false
	}
	f.latch.RLock()
	return &ReadPageGuard{bpm: b, frame: f}, true
}

// FetchPageWrite pins pageID and takes its write latch.
func (b *BufferPoolManager) FetchPageWrite(pageID disk.PageID) (*WritePageGuard, bool) {
	f, ok := b.FetchPage(pageID)
	if !ok {
		return nil, false
	}
	f.latch.Lock()
	return &WritePageGuard{bpm: b, frame: f}, true
}

// NewPageWrite allocates a fresh page and returns it already write-latched.
func (b *BufferPoolManager) NewPageWrite(outPageID *disk.PageID) (*WritePageGuard, bool) {
	f, ok := b.NewPage(outPageID)
	if !ok {
		return nil, false
	}
	f.latch.Lock()
	return &WritePageGuard{bpm: b, frame: f}, true
}

func (g *ReadPageGuard) PageID() disk.PageID { return g.frame.pageID }
func (g *ReadPageGuard) Data() []byte        { return g.frame.data }

// Drop releases the read latch and unpins the page. Calls after the first
// are no-ops.
func (g *ReadPageGuard) Drop() {
	if g == nil || g.frame == nil {
		return
	}
	f := g.frame
	g.frame = nil
	f.latch.RUnlock()
	g.bpm.UnpinPage(f.pageID, false)
}

func (g *WritePageGuard) PageID() disk.PageID { return g.frame.pageID }
func (g *WritePageGuard) Data() []byte        { return g.frame.data }

// SetData overwrites the page's content. The guard always unpins dirty on
// Drop, matching the teacher's write-guard convention: acquiring a write
// latch signals intent to mutate.
func (g *WritePageGuard) SetData(data []byte) {
	copy(g.frame.data, data)
}

// Drop releases the write latch and unpins the page, marking it dirty.
// Calls after the first are no-ops.
func (g *WritePageGuard) Drop() {
	if g == nil || g.frame == nil {
		return
	}
	f := g.frame
	g.frame = nil
	f.latch.Unlock()
	g.bpm.UnpinPage(f.pageID, true)
}
