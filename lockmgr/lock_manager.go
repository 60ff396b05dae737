// Package lockmgr implements row-granularity strict two-phase locking with
// FIFO queueing and background wait-for-graph deadlock detection
// (spec.md §4.5, §5). It never inspects a row's contents, only the RID it
// is asked to guard, and never touches the buffer pool or disk: it is a
// pure in-memory concurrency primitive shared by every operation that
// reads or writes a row.
package lockmgr

import (
	"sync"
	"time"

	"github.com/rivetdb/rivet/config"
	"github.com/rivetdb/rivet/storage/rid"
	"github.com/rivetdb/rivet/txn"
	"github.com/rivetdb/rivet/util"
)

// Mode is the granted or requested lock mode.
type Mode int

const (
	Shared Mode = iota
	Exclusive
)

func (m Mode) String() string {
	if m == Exclusive {
		return "EXCLUSIVE"
	}
	return "SHARED"
}

// request is one entry in a row's FIFO wait queue.
type request struct {
	txn     *txn.Transaction
	mode    Mode
	granted bool
}

// queue is the FIFO of lock requests against a single RID, plus the
// condition variable waiters block on.
type queue struct {
	mu        sync.Mutex
	cond      *sync.Cond
	requests  []*request
	upgrading bool
}

func newQueue() *queue {
	q := &queue{}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// LockManager grants and releases row locks. A separate mutex per row
// (via its queue) keeps unrelated rows from contending with each other;
// the manager-wide mutex only protects the queues map itself.
type LockManager struct {
	mu     sync.Mutex
	queues map[rid.RID]*queue

	detectionInterval time.Duration
	stopCh            chan struct{}
	wg                sync.WaitGroup
}

// New builds an empty lock manager. Call StartCycleDetection to enable
// background deadlock detection.
func New() *LockManager {
	return &LockManager{queues: make(map[rid.RID]*queue)}
}

// NewFromConfig builds a lock manager and, if cfg.EnableCycleDetection is
// set, immediately starts its background wait-for-graph scan at
// cfg.CycleDetectionInterval (spec.md §6's construction parameters,
// obtained via config.Load rather than a bare struct literal at every
// call site).
func NewFromConfig(cfg config.Config) *LockManager {
	lm := New()
	if cfg.EnableCycleDetection {
		lm.StartCycleDetection(cfg.CycleDetectionInterval)
	}
	return lm
}

func (lm *LockManager) getQueue(r rid.RID) *queue {
	lm.mu.Lock()
	defer lm.mu.Unlock()

	q, ok := lm.queues[r]
	if !ok {
		q = newQueue()
		lm.queues[r] = q
	}
	return q
}

// tryGrant grants every ungranted request, in FIFO order, that is
// compatible with the locks currently held (by any already-granted
// request, wherever it sits in the queue) plus whatever this scan has
// granted so far, and stops at the first request it cannot grant. That
// stop is what makes an ungranted EXCLUSIVE request block every SHARED
// request queued after it, giving the queue its FIFO fairness (spec.md
// §5). Held state is computed from the whole queue up front rather than
// only the requests already visited, since LockUpgrade mutates a request
// in place without moving it to the back, so an already-granted
// conflicting request can sit behind the one being reconsidered.
func tryGrant(q *queue) {
	sharedHeld := false
	exclusiveHeld := false

	for _, r := range q.requests {
		if !r.granted {
			continue
		}
		if r.mode == Exclusive {
			exclusiveHeld = true
		} else {
			sharedHeld = true
		}
	}

	for _, r := range q.requests {
		if r.granted {
			continue
		}

		if r.mode == Shared {
			if exclusiveHeld {
				return
			}
			r.granted = true
			sharedHeld = true
			continue
		}

		if exclusiveHeld || sharedHeld {
			return
		}
		r.granted = true
		exclusiveHeld = true
		return
	}
}

func removeRequest(q *queue, target *request) {
	for i, r := range q.requests {
		if r == target {
			q.requests = append(q.requests[:i], q.requests[i+1:]...)
			return
		}
	}
}

func (lm *LockManager) abortForReason(t *txn.Transaction, reason util.AbortReason) error {
	t.SetState(txn.Aborted)
	return util.NewTransactionAbortedError(t.ID(), reason)
}

// LockShared acquires a shared lock on r for t, blocking until it is
// granted, t is aborted (by deadlock detection), or a 2PL precondition is
// violated.
func (lm *LockManager) LockShared(t *txn.Transaction, r rid.RID) error {
	return lm.acquire(t, r, Shared)
}

// LockExclusive acquires an exclusive lock on r for t.
func (lm *LockManager) LockExclusive(t *txn.Transaction, r rid.RID) error {
	return lm.acquire(t, r, Exclusive)
}

func (lm *LockManager) acquire(t *txn.Transaction, r rid.RID, mode Mode) error {
	if t.State() == txn.Aborted {
		return util.NewTransactionAbortedError(t.ID(), util.AbortDeadlock)
	}
	if t.State() == txn.Shrinking {
		return lm.abortForReason(t, util.AbortLockOnShrinking)
	}
	if mode == Shared && t.IsolationLevel() == txn.ReadUncommitted {
		return lm.abortForReason(t, util.AbortLockSharedOnReadUncommitted)
	}

	if mode == Shared && t.HoldsShared(r) {
		return nil
	}
	if t.HoldsExclusive(r) {
		return nil
	}

	q := lm.getQueue(r)
	q.mu.Lock()

	req := &request{txn: t, mode: mode}
	q.requests = append(q.requests, req)
	tryGrant(q)

	for !req.granted && t.State() != txn.Aborted {
		q.cond.Wait()
	}

	if t.State() == txn.Aborted {
		removeRequest(q, req)
		tryGrant(q)
		q.cond.Broadcast()
		q.mu.Unlock()
		return util.NewTransactionAbortedError(t.ID(), util.AbortDeadlock)
	}
	q.mu.Unlock()

	if mode == Shared {
		t.AddSharedLock(r)
	} else {
		t.AddExclusiveLock(r)
	}
	return nil
}

// LockUpgrade converts t's shared lock on r into an exclusive lock. Only
// one transaction may be upgrading against a given row at a time; a
// second concurrent upgrade attempt aborts rather than queues, since
// waiting would deadlock against the first upgrader's own shared lock.
func (lm *LockManager) LockUpgrade(t *txn.Transaction, r rid.RID) error {
	if t.State() == txn.Aborted {
		return util.NewTransactionAbortedError(t.ID(), util.AbortDeadlock)
	}
	if t.State() == txn.Shrinking {
		return lm.abortForReason(t, util.AbortLockOnShrinking)
	}
	if !t.HoldsShared(r) {
		return &util.CoreError{Message: "lock upgrade requires an existing shared lock"}
	}
	if t.HoldsExclusive(r) {
		return nil
	}

	q := lm.getQueue(r)
	q.mu.Lock()

	if q.upgrading {
		q.mu.Unlock()
		return lm.abortForReason(t, util.AbortUpgradeConflict)
	}
	q.upgrading = true

	var req *request
	for _, r2 := range q.requests {
		if r2.txn == t {
			req = r2
			break
		}
	}
	if req == nil {
		q.upgrading = false
		q.mu.Unlock()
		return &util.CoreError{Message: "no lock request found to upgrade"}
	}

	req.mode = Exclusive
	req.granted = false
	tryGrant(q)

	for !req.granted && t.State() != txn.Aborted {
		q.cond.Wait()
	}
	q.upgrading = false

	if t.State() == txn.Aborted {
		removeRequest(q, req)
		tryGrant(q)
		q.cond.Broadcast()
		q.mu.Unlock()
		return util.NewTransactionAbortedError(t.ID(), util.AbortDeadlock)
	}
	q.mu.Unlock()

	t.RemoveSharedLock(r)
	t.AddExclusiveLock(r)
	return nil
}

// Unlock releases t's lock on r, moving t from GROWING to SHRINKING
// unless it is releasing a shared lock under READ_COMMITTED (which never
// needed to hold shared locks past use).
func (lm *LockManager) Unlock(t *txn.Transaction, r rid.RID) error {
	wasShared := t.HoldsShared(r)

	q := lm.getQueue(r)
	q.mu.Lock()
	for _, req := range q.requests {
		if req.txn == t {
			removeRequest(q, req)
			break
		}
	}
	tryGrant(q)
	q.cond.Broadcast()
	q.mu.Unlock()

	if t.State() == txn.Growing {
		if !(wasShared && t.IsolationLevel() == txn.ReadCommitted) {
			t.SetState(txn.Shrinking)
		}
	}
	t.RemoveSharedLock(r)
	t.RemoveExclusiveLock(r)
	return nil
}
