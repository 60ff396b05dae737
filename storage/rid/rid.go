// Package rid defines the record identifier shared by the B+tree index (as
// leaf payload values) and the lock manager (as the granularity locks are
// taken at).
package rid

import (
	"fmt"

	"github.com/rivetdb/rivet/storage/disk"
)

// RID identifies a tuple by the page it lives on and its slot within that
// page. Equality is by both components.
type RID struct {
	PageID disk.PageID
	Slot   uint32
}

func New(pageID disk.PageID, slot uint32) RID {
	return RID{PageID: pageID, Slot: slot}
}

func (r RID) Equal(other RID) bool {
	return r.PageID == other.PageID && r.Slot == other.Slot
}

func (r RID) String() string {
	return fmt.Sprintf("%d:%d", r.PageID, r.Slot)
}
