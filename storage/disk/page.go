// Package disk implements the DiskManager and DiskScheduler collaborators
// consumed by the buffer pool manager. Durability and crash recovery are
// out of scope; this package only owns raw page read/write/allocate/
// deallocate against a single backing file.
package disk

// PageID identifies a page on disk. INVALID_PAGE_ID is the sentinel for "no
// page".
type PageID int32

// InvalidPageID is the sentinel page id, matching spec.md's PageId.
const InvalidPageID PageID = -1

// PageSize is the fixed size, in bytes, of every page.
const PageSize = 4096

// DefaultPageCapacity is the number of pages the backing file starts with
// before it needs to grow.
const DefaultPageCapacity = 64
