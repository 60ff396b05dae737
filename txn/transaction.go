// Package txn defines the transaction handle the lock manager and index
// operate against. Transaction lifecycle (Begin/Commit/Abort) and
// visibility rules beyond lock bookkeeping are an external collaborator's
// responsibility; this package models only what row-level 2PL needs: an
// id, an isolation level, a two-phase state machine, and the sets of locks
// currently held.
package txn

import (
	"sync"

	"github.com/rivetdb/rivet/storage/rid"
)

// IsolationLevel controls which lock manager operations are permitted at
// what point in a transaction's lifecycle (spec.md §4.5's isolation
// interaction with shared-lock acquisition).
type IsolationLevel int

const (
	ReadUncommitted IsolationLevel = iota
	ReadCommitted
	RepeatableRead
)

func (l IsolationLevel) String() string {
	switch l {
	case ReadUncommitted:
		return "READ_UNCOMMITTED"
	case ReadCommitted:
		return "READ_COMMITTED"
	case RepeatableRead:
		return "REPEATABLE_READ"
	default:
		return "UNKNOWN"
	}
}

// State is the two-phase locking state machine every transaction moves
// through: GROWING while it can still acquire locks, SHRINKING once it
// has released its first, then a terminal state.
type State int

const (
	Growing State = iota
	Shrinking
	Committed
	Aborted
)

func (s State) String() string {
	switch s {
	case Growing:
		return "GROWING"
	case Shrinking:
		return "SHRINKING"
	case Committed:
		return "COMMITTED"
	case Aborted:
		return "ABORTED"
	default:
		return "UNKNOWN"
	}
}

// Transaction tracks one client's lock ownership. Its state and lock sets
// are read and written by the lock manager from several goroutines (the
// deadlock detector sets the state), so all access goes through the mutex
// rather than direct map manipulation from outside the package.
type Transaction struct {
	mu sync.Mutex

	id             int64
	isolationLevel IsolationLevel
	state          State
	sharedLocks    map[rid.RID]struct{}
	exclusiveLocks map[rid.RID]struct{}
}

func newTransaction(id int64, level IsolationLevel) *Transaction {
	return &Transaction{
		id:             id,
		isolationLevel: level,
		state:          Growing,
		sharedLocks:    make(map[rid.RID]struct{}),
		exclusiveLocks: make(map[rid.RID]struct{}),
	}
}

func (t *Transaction) ID() int64                     { return t.id }
func (t *Transaction) IsolationLevel() IsolationLevel { return t.isolationLevel }

func (t *Transaction) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

func (t *Transaction) SetState(s State) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.state = s
}

func (t *Transaction) AddSharedLock(r rid.RID) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.sharedLocks[r] = struct{}{}
}

func (t *Transaction) AddExclusiveLock(r rid.RID) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.exclusiveLocks[r] = struct{}{}
}

func (t *Transaction) RemoveSharedLock(r rid.RID) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.sharedLocks, r)
}

func (t *Transaction) RemoveExclusiveLock(r rid.RID) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.exclusiveLocks, r)
}

// HeldLocks returns a snapshot of every RID this transaction currently
// holds a lock on, shared or exclusive.
func (t *Transaction) HeldLocks() []rid.RID {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]rid.RID, 0, len(t.sharedLocks)+len(t.exclusiveLocks))
	for r := range t.sharedLocks {
		out = append(out, r)
	}
	for r := range t.exclusiveLocks {
		out = append(out, r)
	}
	return out
}

func (t *Transaction) HoldsShared(r rid.RID) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.sharedLocks[r]
	return ok
}

func (t *Transaction) HoldsExclusive(r rid.RID) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.exclusiveLocks[r]
	return ok
}
