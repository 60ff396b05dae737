package txn

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/rivetdb/rivet/storage/disk"
	"github.com/rivetdb/rivet/storage/rid"
)

func TestManagerBeginAssignsIncreasingIDs(t *testing.T) {
	mgr := NewManager()
	t1 := mgr.Begin(ReadCommitted)
	t2 := mgr.Begin(ReadCommitted)

	assert.NotEqual(t, t1.ID(), t2.ID())
	assert.Equal(t, Growing, t1.State())
	assert.Equal(t, Growing, t2.State())

	got, ok := mgr.Get(t1.ID())
	assert.True(t, ok)
	assert.Same(t, t1, got)
}

func TestManagerCommitRemovesFromActiveSet(t *testing.T) {
	mgr := NewManager()
	t1 := mgr.Begin(RepeatableRead)

	mgr.Commit(t1)

	assert.Equal(t, Committed, t1.State())
	_, ok := mgr.Get(t1.ID())
	assert.False(t, ok)
}

func TestManagerAbortRemovesFromActiveSet(t *testing.T) {
	mgr := NewManager()
	t1 := mgr.Begin(RepeatableRead)

	mgr.Abort(t1)

	assert.Equal(t, Aborted, t1.State())
	_, ok := mgr.Get(t1.ID())
	assert.False(t, ok)
}

func TestTransactionLockBookkeeping(t *testing.T) {
	mgr := NewManager()
	tr := mgr.Begin(RepeatableRead)
	r := rid.New(disk.PageID(1), 0)

	assert.False(t, tr.HoldsShared(r))
	tr.AddSharedLock(r)
	assert.True(t, tr.HoldsShared(r))

	tr.RemoveSharedLock(r)
	assert.False(t, tr.HoldsShared(r))

	tr.AddExclusiveLock(r)
	assert.True(t, tr.HoldsExclusive(r))
	assert.Contains(t, tr.HeldLocks(), r)

	tr.RemoveExclusiveLock(r)
	assert.False(t, tr.HoldsExclusive(r))
	assert.NotContains(t, tr.HeldLocks(), r)
}

func TestIsolationLevelAndStateStrings(t *testing.T) {
	assert.Equal(t, "READ_UNCOMMITTED", ReadUncommitted.String())
	assert.Equal(t, "READ_COMMITTED", ReadCommitted.String())
	assert.Equal(t, "REPEATABLE_READ", RepeatableRead.String())

	assert.Equal(t, "GROWING", Growing.String())
	assert.Equal(t, "SHRINKING", Shrinking.String())
	assert.Equal(t, "COMMITTED", Committed.String())
	assert.Equal(t, "ABORTED", Aborted.String())
}
