// Package buffer implements the buffer pool manager: a fixed-size in-memory
// cache of fixed-size disk pages, with LRU-based frame replacement, pin
// reference counting, and write-back dirty tracking. Adapted from the
// teacher's buffer package: same frame/replacer/page-table shape, but the
// public surface follows spec.md §4.2's explicit Fetch/Unpin/Flush/Delete
// contract (non-blocking, bool-returning) rather than the teacher's
// RAII page-guard-with-condition-variable-blocking design. Page guards are
// kept as a thin ergonomic layer on top (page_guard.go), not the core API.
package buffer

import (
	"sync"

	"github.com/rivetdb/rivet/config"
	"github.com/rivetdb/rivet/logging"
	"github.com/rivetdb/rivet/storage/disk"
)

// DiskManager is the subset of storage/disk's Manager/Scheduler that the
// buffer pool manager consumes. LogManager is accepted for construction
// parity with spec.md §6 but is never invoked: durability and WAL replay
// are out of scope for this core.
type DiskManager interface {
	ReadPage(pageID disk.PageID) ([]byte, error)
	WritePage(pageID disk.PageID, data []byte) error
	AllocatePage() (disk.PageID, error)
	DeallocatePage(pageID disk.PageID)
}

// LogManager is an external collaborator this core never calls into.
type LogManager interface{}

// BufferPoolManager maps page ids to frames, handing out pinned frames on
// Fetch/New and writing dirty victims back on eviction. A single mutex
// serializes every public operation; the frame's own latch (see
// page_guard.go) is a separate, finer-grained lock over page content.
type BufferPoolManager struct {
	mu        sync.Mutex
	frames    []*frame
	freeList  []int
	pageTable map[disk.PageID]int
	replacer  *lruReplacer
	disk      DiskManager
	log       LogManager
}

// NewBufferPoolManager builds a pool of poolSize frames backed by
// diskManager. logManager may be nil; it is retained only for interface
// parity with spec.md §6.
func NewBufferPoolManager(poolSize int, diskManager DiskManager, logManager LogManager) *BufferPoolManager {
	frames := make([]*frame, poolSize)
	freeList := make([]int, poolSize)
	for i := 0; i < poolSize; i++ {
		frames[i] = newFrame(i)
		freeList[i] = i
	}

	return &BufferPoolManager{
		frames:    frames,
		freeList:  freeList,
		pageTable: make(map[disk.PageID]int, poolSize),
		replacer:  newLRUReplacer(poolSize),
		disk:      diskManager,
		log:       logManager,
	}
}

// NewFromConfig builds a pool sized by cfg.BufferPoolSize (spec.md §6's
// construction parameter, obtained via config.Load rather than a bare
// struct literal at every call site).
func NewFromConfig(cfg config.Config, diskManager DiskManager, logManager LogManager) *BufferPoolManager {
	return NewBufferPoolManager(cfg.BufferPoolSize, diskManager, logManager)
}

// getVictimFrameLocked implements "get replaceable frame": a free frame if
// any, else the replacer's victim, flushing it first if dirty. Returns
// (nil, false) if no frame can be obtained (every frame pinned).
func (b *BufferPoolManager) getVictimFrameLocked() (*frame, bool) {
	if len(b.freeList) > 0 {
		id := b.freeList[0]
		b.freeList = b.freeList[1:]
		return b.frames[id], true
	}

	frameID, ok := b.replacer.victim()
	if !ok {
		return nil, false
	}

	f := b.frames[frameID]
	if f.dirty {
		if err := b.disk.WritePage(f.pageID, f.data); err != nil {
			logging.Error("failed to flush victim frame", "frame_id", f.id, "page_id", f.pageID, "err", err)
		}
		f.dirty = false
	}
	delete(b.pageTable, f.pageID)

	return f, true
}

// FetchPage pins pageID's frame, reading it from disk on first fetch.
// Returns (nil, false) if every frame is pinned.
func (b *BufferPoolManager) FetchPage(pageID disk.PageID) (*frame, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if id, ok := b.pageTable[pageID]; ok {
		f := b.frames[id]
		f.pinCount++
		b.replacer.pin(f.id)
		return f, true
	}

	f, ok := b.getVictimFrameLocked()
	if !ok {
		return nil, false
	}

	data, err := b.disk.ReadPage(pageID)
	if err != nil {
		logging.Error("failed to read page", "page_id", pageID, "err", err)
		b.freeList = append(b.freeList, f.id)
		return nil, false
	}

	b.pageTable[pageID] = f.id
	f.pageID = pageID
	f.pinCount = 1
	f.dirty = false
	copy(f.data, data)
	b.replacer.pin(f.id)

	return f, true
}

// NewPage allocates a fresh page on disk, installs it pinned in a frame,
// and reports its id via outPageID. Returns (nil, false) if no frame is
// obtainable.
func (b *BufferPoolManager) NewPage(outPageID *disk.PageID) (*frame, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	f, ok := b.getVictimFrameLocked()
	if !ok {
		return nil, false
	}

	pageID, err := b.disk.AllocatePage()
	if err != nil {
		logging.Error("failed to allocate page", "err", err)
		b.freeList = append(b.freeList, f.id)
		return nil, false
	}

	b.pageTable[pageID] = f.id
	f.pageID = pageID
	f.pinCount = 1
	f.dirty = false
	f.data = make([]byte, disk.PageSize)
	b.replacer.pin(f.id)

	*outPageID = pageID
	return f, true
}

// UnpinPage decrements pageID's pin count, OR-merging isDirty into the
// frame's dirty bit. Non-resident pages are treated as an idempotent no-op
// and report success, per spec.md §9's documented (if surprising) contract.
// The only failure is unpinning a page whose pin count was already zero.
func (b *BufferPoolManager) UnpinPage(pageID disk.PageID, isDirty bool) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	id, ok := b.pageTable[pageID]
	if !ok {
		return true
	}

	f := b.frames[id]
	if f.pinCount <= 0 {
		return false
	}

	f.pinCount--
	if isDirty {
		f.dirty = true
	}
	if f.pinCount == 0 {
		b.replacer.unpin(f.id)
	}

	return true
}

// FlushPage writes a resident page's current contents to disk and clears
// its dirty bit. Returns false if the page is not resident.
func (b *BufferPoolManager) FlushPage(pageID disk.PageID) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	id, ok := b.pageTable[pageID]
	if !ok {
		return false
	}

	f := b.frames[id]
	if err := b.disk.WritePage(pageID, f.data); err != nil {
		logging.Error("failed to flush page", "page_id", pageID, "err", err)
		return false
	}
	f.dirty = false

	return true
}

// FlushAllPages flushes every resident page, iterating the page table
// (spec.md §9's documented correct semantics, not the frame array).
func (b *BufferPoolManager) FlushAllPages() {
	b.mu.Lock()
	pageIDs := make([]disk.PageID, 0, len(b.pageTable))
	for pageID := range b.pageTable {
		pageIDs = append(pageIDs, pageID)
	}
	b.mu.Unlock()

	for _, pageID := range pageIDs {
		b.FlushPage(pageID)
	}
}

// DeletePage removes pageID from the pool and deallocates it on disk. A
// pinned resident page cannot be deleted.
func (b *BufferPoolManager) DeletePage(pageID disk.PageID) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	id, ok := b.pageTable[pageID]
	if !ok {
		b.disk.DeallocatePage(pageID)
		return true
	}

	f := b.frames[id]
	if f.pinCount > 0 {
		return false
	}

	if f.dirty {
		if err := b.disk.WritePage(pageID, f.data); err != nil {
			logging.Error("failed to flush deleted page", "page_id", pageID, "err", err)
		}
		f.dirty = false
	}

	delete(b.pageTable, pageID)
	b.replacer.pin(f.id) // remove from replacer if present; no-op otherwise
	f.reset()
	b.freeList = append(b.freeList, f.id)
	b.disk.DeallocatePage(pageID)

	return true
}
