package lockmgr

import (
	"sort"
	"time"

	"github.com/rivetdb/rivet/logging"
	"github.com/rivetdb/rivet/txn"
)

// StartCycleDetection launches a background goroutine that scans the
// wait-for graph every interval and aborts the youngest transaction in
// any cycle it finds, repeating within the same tick until the graph is
// acyclic (spec.md §5's deadlock detection requirement).
func (lm *LockManager) StartCycleDetection(interval time.Duration) {
	lm.stopCh = make(chan struct{})
	lm.detectionInterval = interval

	lm.wg.Add(1)
	go lm.runCycleDetection()
}

// StopCycleDetection halts the background scan and waits for it to exit.
func (lm *LockManager) StopCycleDetection() {
	if lm.stopCh == nil {
		return
	}
	close(lm.stopCh)
	lm.wg.Wait()
}

func (lm *LockManager) runCycleDetection() {
	defer lm.wg.Done()

	ticker := time.NewTicker(lm.detectionInterval)
	defer ticker.Stop()

	for {
		select {
		case <-lm.stopCh:
			return
		case <-ticker.C:
			for {
				victim, found := lm.detectCycle()
				if !found {
					break
				}
				logging.Warn("deadlock detected, aborting victim", "txn_id", victim)
				lm.abortByID(victim)
			}
		}
	}
}

// waitsFor is one edge txnID -> txnID: the first transaction is blocked
// behind the second holding (or ahead in queue for) the same row.
type waitsFor struct {
	from, to int64
}

// buildWaitForGraph inspects every row's queue and produces an edge from
// each ungranted requester to every granted holder it conflicts with. RIDs
// with no contention contribute no edges.
func (lm *LockManager) buildWaitForGraph() map[int64][]int64 {
	lm.mu.Lock()
	queues := make([]*queue, 0, len(lm.queues))
	for _, q := range lm.queues {
		queues = append(queues, q)
	}
	lm.mu.Unlock()

	graph := make(map[int64][]int64)

	for _, q := range queues {
		q.mu.Lock()
		var granted []*request
		var waiting []*request
		for _, r := range q.requests {
			if r.granted {
				granted = append(granted, r)
			} else {
				waiting = append(waiting, r)
			}
		}
		for _, w := range waiting {
			for _, g := range granted {
				if conflictsMode(w.mode, g.mode) {
					graph[w.txn.ID()] = append(graph[w.txn.ID()], g.txn.ID())
				}
			}
		}
		q.mu.Unlock()
	}

	for id, edges := range graph {
		sort.Slice(edges, func(i, j int) bool { return edges[i] < edges[j] })
		graph[id] = edges
	}
	return graph
}

func conflictsMode(a, b Mode) bool {
	return a == Exclusive || b == Exclusive
}

// detectCycle runs DFS over the wait-for graph with white/gray/black
// coloring. When it finds a back-edge into a gray node it selects the
// highest transaction id anywhere in the current recursion stack as the
// victim. The stack can include transactions on the path leading into the
// cycle, so the victim is not always a member of the cycle itself. Nodes
// are visited in ascending id order, which keeps detection deterministic
// across runs.
func (lm *LockManager) detectCycle() (int64, bool) {
	graph := lm.buildWaitForGraph()

	const (
		white = 0
		gray  = 1
		black = 2
	)

	color := make(map[int64]int)
	var stack []int64
	var victim int64
	found := false

	ids := make([]int64, 0, len(graph))
	for id := range graph {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	var visit func(id int64) bool
	visit = func(id int64) bool {
		color[id] = gray
		stack = append(stack, id)

		neighbors := graph[id]
		for _, next := range neighbors {
			switch color[next] {
			case white:
				if visit(next) {
					return true
				}
			case gray:
				max := next
				for _, s := range stack {
					if s > max {
						max = s
					}
				}
				victim = max
				found = true
				return true
			}
		}

		stack = stack[:len(stack)-1]
		color[id] = black
		return false
	}

	for _, id := range ids {
		if found {
			break
		}
		if color[id] == white {
			visit(id)
		}
	}

	return victim, found
}

// abortByID marks the transaction ABORTED and wakes every queue it has a
// pending request on so its acquire call can observe the state change and
// return AbortDeadlock.
func (lm *LockManager) abortByID(id int64) {
	lm.mu.Lock()
	queues := make([]*queue, 0, len(lm.queues))
	for _, q := range lm.queues {
		queues = append(queues, q)
	}
	lm.mu.Unlock()

	var victim *txn.Transaction
	for _, q := range queues {
		q.mu.Lock()
		for _, r := range q.requests {
			if r.txn.ID() == id {
				victim = r.txn
			}
		}
		q.mu.Unlock()
		if victim != nil {
			break
		}
	}
	if victim == nil {
		return
	}
	victim.SetState(txn.Aborted)

	for _, q := range queues {
		q.mu.Lock()
		q.cond.Broadcast()
		q.mu.Unlock()
	}
}
