package disk

import (
	"fmt"
	"os"
	"sync"
)

// Manager is the DiskManager collaborator: raw page read/write/allocate/
// deallocate against a single backing file. Page ids are allocated
// monotonically increasing; deallocation is advisory (the slot is recycled,
// the id is never reissued).
type Manager struct {
	mu           sync.Mutex
	dbFile       *os.File
	pages        map[PageID]int64
	freeSlots    []int64
	pageCapacity int
	nextPageID   PageID
	nextOffset   int64
}

// NewManager wraps an already-open backing file.
func NewManager(file *os.File) *Manager {
	return &Manager{
		dbFile:       file,
		pageCapacity: DefaultPageCapacity,
		freeSlots:    []int64{},
		pages:        map[PageID]int64{},
	}
}

// ReadPage reads the current on-disk contents of pageID. A page that was
// allocated but never written reads back whatever its slot holds: zero
// bytes for a fresh slot, the old page's bytes for a recycled one.
func (dm *Manager) ReadPage(pageID PageID) ([]byte, error) {
	dm.mu.Lock()
	defer dm.mu.Unlock()

	offset, ok := dm.pages[pageID]
	if !ok {
		return nil, fmt.Errorf("read unallocated page %d", pageID)
	}

	buf := make([]byte, PageSize)
	if _, err := dm.dbFile.ReadAt(buf, offset); err != nil {
		return nil, fmt.Errorf("error reading from offset %d: %w", offset, err)
	}

	return buf, nil
}

// WritePage writes data (exactly PageSize bytes) to pageID's slot,
// allocating one if this is the first write to that id.
func (dm *Manager) WritePage(pageID PageID, data []byte) error {
	dm.mu.Lock()
	defer dm.mu.Unlock()

	offset, ok := dm.pages[pageID]
	if !ok {
		var err error
		offset, err = dm.allocateSlotLocked()
		if err != nil {
			return err
		}
		dm.pages[pageID] = offset
	}

	if _, err := dm.dbFile.WriteAt(data, offset); err != nil {
		return fmt.Errorf("error writing at offset %d: %w", offset, err)
	}

	return nil
}

// AllocatePage hands out the next monotonically increasing page id and
// reserves it a slot in the backing file.
func (dm *Manager) AllocatePage() (PageID, error) {
	dm.mu.Lock()
	defer dm.mu.Unlock()

	offset, err := dm.allocateSlotLocked()
	if err != nil {
		return InvalidPageID, err
	}

	pageID := dm.nextPageID
	dm.nextPageID++
	dm.pages[pageID] = offset

	return pageID, nil
}

// DeallocatePage recycles pageID's slot. Advisory only: no data is erased.
func (dm *Manager) DeallocatePage(pageID PageID) {
	dm.mu.Lock()
	defer dm.mu.Unlock()

	if offset, ok := dm.pages[pageID]; ok {
		dm.freeSlots = append(dm.freeSlots, offset)
		delete(dm.pages, pageID)
	}
}

func (dm *Manager) allocateSlotLocked() (int64, error) {
	if len(dm.freeSlots) > 0 {
		offset := dm.freeSlots[0]
		dm.freeSlots = dm.freeSlots[1:]
		return offset, nil
	}

	nextSlot := int(dm.nextOffset / PageSize)
	if nextSlot+1 > dm.pageCapacity {
		dm.pageCapacity *= 2
		if err := dm.dbFile.Truncate(int64(dm.pageCapacity) * PageSize); err != nil {
			return -1, fmt.Errorf("error resizing db file: %w", err)
		}
	}

	offset := dm.nextOffset
	dm.nextOffset += PageSize
	return offset, nil
}
