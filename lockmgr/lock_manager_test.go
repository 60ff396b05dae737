package lockmgr

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rivetdb/rivet/config"
	"github.com/rivetdb/rivet/storage/disk"
	"github.com/rivetdb/rivet/storage/rid"
	"github.com/rivetdb/rivet/txn"
)

func TestNewFromConfigStartsCycleDetectionWhenEnabled(t *testing.T) {
	cfg := config.Default()
	cfg.EnableCycleDetection = true
	cfg.CycleDetectionInterval = 10 * time.Millisecond

	lm := NewFromConfig(cfg)
	require.NotNil(t, lm.stopCh)
	lm.StopCycleDetection()
}

func TestNewFromConfigSkipsCycleDetectionWhenDisabled(t *testing.T) {
	cfg := config.Default()
	cfg.EnableCycleDetection = false

	lm := NewFromConfig(cfg)
	assert.Nil(t, lm.stopCh)
}

func newTxn(mgr *txn.Manager) *txn.Transaction {
	return mgr.Begin(txn.RepeatableRead)
}

func TestLockSharedIsConcurrentlyGrantable(t *testing.T) {
	lm := New()
	mgr := txn.NewManager()
	r := rid.New(disk.PageID(1), 0)

	t1 := newTxn(mgr)
	t2 := newTxn(mgr)

	require.NoError(t, lm.LockShared(t1, r))
	require.NoError(t, lm.LockShared(t2, r))

	assert.True(t, t1.HoldsShared(r))
	assert.True(t, t2.HoldsShared(r))
}

func TestLockExclusiveBlocksSubsequentShared(t *testing.T) {
	lm := New()
	mgr := txn.NewManager()
	r := rid.New(disk.PageID(1), 0)

	t1 := newTxn(mgr)
	t2 := newTxn(mgr)

	require.NoError(t, lm.LockExclusive(t1, r))

	granted := make(chan struct{})
	go func() {
		lm.LockShared(t2, r)
		close(granted)
	}()

	select {
	case <-granted:
		t.Fatal("shared lock granted while exclusive lock held")
	case <-time.After(50 * time.Millisecond):
	}

	require.NoError(t, lm.Unlock(t1, r))

	select {
	case <-granted:
	case <-time.After(time.Second):
		t.Fatal("shared lock never granted after exclusive released")
	}
}

// TestFIFOFairness checks that an exclusive request queued between two
// shared requesters blocks the second shared requester until it is
// satisfied and released, rather than letting the later shared request
// jump ahead.
func TestFIFOFairness(t *testing.T) {
	lm := New()
	mgr := txn.NewManager()
	r := rid.New(disk.PageID(1), 0)

	t1 := newTxn(mgr)
	t2 := newTxn(mgr)
	t3 := newTxn(mgr)

	require.NoError(t, lm.LockShared(t1, r))

	var order []string
	var mu sync.Mutex
	record := func(name string) {
		mu.Lock()
		order = append(order, name)
		mu.Unlock()
	}

	t2Blocked := make(chan struct{})
	go func() {
		lm.LockExclusive(t2, r)
		record("t2")
		close(t2Blocked)
	}()
	time.Sleep(20 * time.Millisecond)

	t3Blocked := make(chan struct{})
	go func() {
		lm.LockShared(t3, r)
		record("t3")
		close(t3Blocked)
	}()
	time.Sleep(20 * time.Millisecond)

	select {
	case <-t3Blocked:
		t.Fatal("t3 acquired shared lock ahead of queued exclusive request")
	default:
	}

	require.NoError(t, lm.Unlock(t1, r))
	<-t2Blocked
	require.NoError(t, lm.Unlock(t2, r))
	<-t3Blocked

	assert.Equal(t, []string{"t2", "t3"}, order)
}

func TestLockUpgradeSucceeds(t *testing.T) {
	lm := New()
	mgr := txn.NewManager()
	r := rid.New(disk.PageID(1), 0)

	t1 := newTxn(mgr)
	require.NoError(t, lm.LockShared(t1, r))
	require.NoError(t, lm.LockUpgrade(t1, r))

	assert.True(t, t1.HoldsExclusive(r))
	assert.False(t, t1.HoldsShared(r))
}

func TestConcurrentUpgradeConflictAborts(t *testing.T) {
	lm := New()
	mgr := txn.NewManager()
	r := rid.New(disk.PageID(1), 0)

	t1 := newTxn(mgr)
	t2 := newTxn(mgr)

	require.NoError(t, lm.LockShared(t1, r))
	require.NoError(t, lm.LockShared(t2, r))

	upgrading := make(chan struct{})
	go func() {
		lm.LockUpgrade(t1, r)
		close(upgrading)
	}()
	time.Sleep(20 * time.Millisecond)

	err := lm.LockUpgrade(t2, r)
	require.Error(t, err)
	assert.Equal(t, txn.Aborted, t2.State())

	require.NoError(t, lm.Unlock(t2, r))
	<-upgrading
}

func TestLockOnShrinkingTransactionAborts(t *testing.T) {
	lm := New()
	mgr := txn.NewManager()
	r1 := rid.New(disk.PageID(1), 0)
	r2 := rid.New(disk.PageID(2), 0)

	t1 := newTxn(mgr)
	require.NoError(t, lm.LockShared(t1, r1))
	require.NoError(t, lm.Unlock(t1, r1))
	assert.Equal(t, txn.Shrinking, t1.State())

	err := lm.LockShared(t1, r2)
	require.Error(t, err)
	assert.Equal(t, txn.Aborted, t1.State())
}

func TestReadCommittedSharedReleaseDoesNotEnterShrinking(t *testing.T) {
	lm := New()
	mgr := txn.NewManager()
	r1 := rid.New(disk.PageID(1), 0)
	r2 := rid.New(disk.PageID(2), 0)

	t1 := mgr.Begin(txn.ReadCommitted)
	require.NoError(t, lm.LockShared(t1, r1))
	require.NoError(t, lm.Unlock(t1, r1))
	assert.Equal(t, txn.Growing, t1.State())

	require.NoError(t, lm.LockShared(t1, r2))
}

func TestReadUncommittedRejectsSharedLock(t *testing.T) {
	lm := New()
	mgr := txn.NewManager()
	r := rid.New(disk.PageID(1), 0)

	t1 := mgr.Begin(txn.ReadUncommitted)
	err := lm.LockShared(t1, r)
	require.Error(t, err)
	assert.Equal(t, txn.Aborted, t1.State())
}

func TestDeadlockDetectionAbortsYoungestTransaction(t *testing.T) {
	lm := New()
	mgr := txn.NewManager()
	rA := rid.New(disk.PageID(1), 0)
	rB := rid.New(disk.PageID(2), 0)

	t1 := newTxn(mgr)
	t2 := newTxn(mgr)

	require.NoError(t, lm.LockExclusive(t1, rA))
	require.NoError(t, lm.LockExclusive(t2, rB))

	waitB := make(chan error, 1)
	go func() { waitB <- lm.LockExclusive(t1, rB) }()
	time.Sleep(20 * time.Millisecond)

	waitA := make(chan error, 1)
	go func() { waitA <- lm.LockExclusive(t2, rA) }()
	time.Sleep(20 * time.Millisecond)

	victim, found := lm.detectCycle()
	require.True(t, found)

	if t1.ID() > t2.ID() {
		assert.Equal(t, t1.ID(), victim)
	} else {
		assert.Equal(t, t2.ID(), victim)
	}

	lm.abortByID(victim)

	if victim == t1.ID() {
		err := <-waitB
		require.Error(t, err)
		require.NoError(t, lm.Unlock(t1, rA))
		require.NoError(t, <-waitA)
	} else {
		err := <-waitA
		require.Error(t, err)
		require.NoError(t, lm.Unlock(t2, rB))
		require.NoError(t, <-waitB)
	}
}

func TestStartStopCycleDetection(t *testing.T) {
	lm := New()
	lm.StartCycleDetection(10 * time.Millisecond)
	time.Sleep(30 * time.Millisecond)
	lm.StopCycleDetection()
}
