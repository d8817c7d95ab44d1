package queue

import "fmt"

// level pairs a priority level with its PolicyQueue. levels is kept sorted
// ascending by Level so index order matches priority order (lower level =
// higher priority, spec.md §3).
type level struct {
	Level uint32
	Queue *PolicyQueue
}

// PriorityQueue is the composite admission queue over priority levels. It
// owns one PolicyQueue per level, a live speculative-batch Cursor, and the
// mark/restore snapshot used to back out of an abandoned batch attempt.
//
// PriorityQueue is not safe for concurrent use; spec.md §5 assumes a single
// scheduler loop per model serializes every call.
type PriorityQueue struct {
	levels  []level
	byLevel map[uint32]int

	size int

	// frontIdx/lastIdx bound the range of levels worth scanning on
	// Dequeue; Enqueue widens them. After each Dequeue, frontIdx moves up
	// to the first level still holding a payload, or to lastIdx once the
	// whole queue drains; lastIdx never narrows. This mirrors
	// front_priority_level_ / last_priority_level_ in the reference
	// implementation.
	frontIdx int
	lastIdx  int

	pendingCursor cursor
	currentMark   cursor
}

// NewPriorityQueue constructs a queue with a single priority level (0) and
// a neutral policy, behaving like a plain FIFO queue.
func NewPriorityQueue() *PriorityQueue {
	pq := &PriorityQueue{
		levels:  []level{{Level: 0, Queue: NewPolicyQueue(DefaultModelQueuePolicy())}},
		byLevel: map[uint32]int{0: 0},
	}
	pq.pendingCursor = newCursorAtHead()
	pq.currentMark = newCursorAtHead()
	pq.currentMark.valid = false
	return pq
}

// NewConfiguredPriorityQueue constructs a queue with priority levels
// 1..priorityLevels. Each level uses policyMap[level] if present, else
// defaultPolicy. Keys of policyMap outside 1..priorityLevels are ignored.
func NewConfiguredPriorityQueue(priorityLevels uint32, defaultPolicy ModelQueuePolicy, policyMap map[uint32]ModelQueuePolicy) (*PriorityQueue, error) {
	if priorityLevels == 0 {
		return nil, fmt.Errorf("priority queue: priorityLevels must be >= 1")
	}

	pq := &PriorityQueue{
		levels:  make([]level, priorityLevels),
		byLevel: make(map[uint32]int, priorityLevels),
	}

	for i := uint32(0); i < priorityLevels; i++ {
		lvl := i + 1
		policy := defaultPolicy
		if policyMap != nil {
			if p, ok := policyMap[lvl]; ok {
				policy = p
			}
		}
		pq.levels[i] = level{Level: lvl, Queue: NewPolicyQueue(policy)}
		pq.byLevel[lvl] = int(i)
	}

	pq.pendingCursor = newCursorAtHead()
	pq.currentMark = newCursorAtHead()
	pq.currentMark.valid = false
	return pq, nil
}

// Size is the number of live payloads (queue+delayed) across all priority
// levels; rejected payloads are excluded.
func (pq *PriorityQueue) Size() int { return pq.size }

// Enqueue admits payload under priorityLevel, which must be one of the
// levels the queue was constructed with.
func (pq *PriorityQueue) Enqueue(priorityLevel uint32, payload Payload) *Error {
	idx, ok := pq.byLevel[priorityLevel]
	if !ok {
		return errInvalidArgument(fmt.Sprintf("unknown priority level %d", priorityLevel))
	}

	if err := pq.levels[idx].Queue.Enqueue(payload); err != nil {
		return err
	}

	pq.size++
	if idx < pq.frontIdx {
		pq.frontIdx = idx
	}
	if idx > pq.lastIdx {
		pq.lastIdx = idx
	}
	pq.pendingCursor.valid = false
	return nil
}

// Dequeue removes and returns the front payload in priority order:
// live-everywhere-first (scanning priorities ascending for a nonempty live
// queue), then delayed-everywhere (same scan order over delayed queues).
func (pq *PriorityQueue) Dequeue() (Payload, *Error) {
	if pq.size == 0 {
		return nil, errUnavailable("priority queue is empty")
	}

	for i := pq.frontIdx; i <= pq.lastIdx; i++ {
		if pq.levels[i].Queue.UnexpiredSize() > 0 {
			p, err := pq.levels[i].Queue.Dequeue()
			if err != nil {
				return nil, err
			}
			pq.afterDequeue()
			return p, nil
		}
	}

	for i := pq.frontIdx; i <= pq.lastIdx; i++ {
		dq := pq.levels[i].Queue
		if len(dq.delayedQueue) > 0 {
			p := dq.delayedQueue[0]
			dq.delayedQueue = dq.delayedQueue[1:]
			pq.afterDequeue()
			return p, nil
		}
	}

	return nil, errUnavailable("priority queue is empty")
}

func (pq *PriorityQueue) afterDequeue() {
	pq.size--
	pq.pendingCursor.valid = false

	for i := pq.frontIdx; i <= pq.lastIdx; i++ {
		if pq.levels[i].Queue.Size() > 0 {
			pq.frontIdx = i
			return
		}
	}
	// Nothing live or delayed remains: front falls back to last.
	pq.frontIdx = pq.lastIdx
}

// ReleaseRejectedPayloads returns, indexed ascending by priority level, the
// rejected payloads released from each PolicyQueue.
func (pq *PriorityQueue) ReleaseRejectedPayloads() [][]Payload {
	out := make([][]Payload, len(pq.levels))
	for i, l := range pq.levels {
		out[i] = l.Queue.ReleaseRejectedQueue()
	}
	return out
}

// ResetCursor points the cursor at the head of the queue, representing an
// empty pending batch. It also invalidates the current mark.
func (pq *PriorityQueue) ResetCursor() {
	pq.pendingCursor = newCursorAtHead()
	pq.normalizeCursor()
	pq.currentMark.valid = false
}

// MarkCursor snapshots the cursor so it can later be restored with
// SetCursorToMark. The caller must not Enqueue, Dequeue or ResetCursor in
// between; doing so is undefined behavior, per spec.md §4.2.
func (pq *PriorityQueue) MarkCursor() {
	pq.currentMark = pq.pendingCursor
}

// SetCursorToMark restores the cursor to the last MarkCursor snapshot.
func (pq *PriorityQueue) SetCursorToMark() {
	pq.pendingCursor = pq.currentMark
}

// IsCursorValid reports whether the cursor is still valid, i.e. no
// Enqueue/Dequeue/ResetCursor happened since it was last positioned.
func (pq *PriorityQueue) IsCursorValid() bool {
	return pq.pendingCursor.valid
}

// PayloadAtCursor returns the payload at the cursor's current position.
// Undefined if CursorEnd() is true.
func (pq *PriorityQueue) PayloadAtCursor() Payload {
	c := &pq.pendingCursor
	return pq.levels[c.priorityIdx].Queue.At(c.queueIdx)
}

// OldestEnqueueTime returns the minimum arrival time folded into the
// pending batch, or math.MaxUint64 if nothing has been folded yet.
func (pq *PriorityQueue) OldestEnqueueTime() uint64 {
	return pq.pendingCursor.pendingBatchOldestEnqueueTimeNs
}

// ClosestTimeout returns the minimum nonzero deadline folded into the
// pending batch, or math.MaxUint64 if none of the folded payloads has one.
func (pq *PriorityQueue) ClosestTimeout() uint64 {
	return pq.pendingCursor.pendingBatchClosestTimeoutNs
}

// PendingBatchCount is the number of payloads folded into the pending
// batch since the last ResetCursor.
func (pq *PriorityQueue) PendingBatchCount() int {
	return pq.pendingCursor.pendingBatchCount
}

// CursorEnd reports whether the cursor has stepped over every live
// payload in the queue.
func (pq *PriorityQueue) CursorEnd() bool {
	return pq.pendingCursor.pendingBatchCount == pq.size
}

// AdvanceCursor folds the payload under the cursor into the pending-batch
// aggregates and steps to the next live payload. No-op at CursorEnd. Does
// not apply timeout policy; see ApplyPolicyAtCursor.
func (pq *PriorityQueue) AdvanceCursor() {
	if pq.CursorEnd() {
		return
	}

	c := &pq.pendingCursor
	cur := pq.levels[c.priorityIdx].Queue
	payload := cur.At(c.queueIdx)

	c.pendingBatchCount++
	if arrival := payload.ArrivalTimeNs(); arrival < c.pendingBatchOldestEnqueueTimeNs {
		c.pendingBatchOldestEnqueueTimeNs = arrival
	}
	if deadline := cur.TimeoutAt(c.queueIdx); deadline != 0 && deadline < c.pendingBatchClosestTimeoutNs {
		c.pendingBatchClosestTimeoutNs = deadline
	}

	pq.stepCursor()
}

// stepCursor advances queueIdx/atDelayedQueue/priorityIdx to the next
// logical position, skipping over priority levels that are entirely empty.
func (pq *PriorityQueue) stepCursor() {
	c := &pq.pendingCursor
	cur := pq.levels[c.priorityIdx].Queue

	c.queueIdx++
	if !c.atDelayedQueue && c.queueIdx == cur.UnexpiredSize() {
		c.atDelayedQueue = true
	}
	if c.queueIdx == cur.Size() {
		c.priorityIdx++
		c.queueIdx = 0
		c.atDelayedQueue = false
	}
	pq.normalizeCursor()
}

// normalizeCursor skips forward past priority levels with no payloads at
// all, so that PayloadAtCursor is always well-defined whenever !CursorEnd.
func (pq *PriorityQueue) normalizeCursor() {
	c := &pq.pendingCursor
	for c.priorityIdx < len(pq.levels) && pq.levels[c.priorityIdx].Queue.Size() == 0 {
		c.priorityIdx++
		c.queueIdx = 0
		c.atDelayedQueue = false
	}
}

// ApplyPolicyAtCursor applies PolicyQueue.ApplyPolicy at the cursor's
// current logical index, returning the total batch size of newly rejected
// payloads. This is the one mutation that does not invalidate the cursor.
func (pq *PriorityQueue) ApplyPolicyAtCursor(nowNs uint64) uint32 {
	if pq.CursorEnd() {
		return 0
	}

	c := &pq.pendingCursor
	cur := pq.levels[c.priorityIdx].Queue

	live, rejectedCount, rejectedBatchSize := cur.ApplyPolicy(c.queueIdx, nowNs)
	pq.size -= rejectedCount

	if live {
		if !c.atDelayedQueue && c.queueIdx >= cur.UnexpiredSize() {
			c.atDelayedQueue = true
		}
		return rejectedBatchSize
	}

	// Every payload from idx onward in this level was just rejected: step
	// to the next priority level, same tail as stepCursor, but without
	// folding anything (these payloads were rejected, not admitted).
	c.priorityIdx++
	c.queueIdx = 0
	c.atDelayedQueue = false
	pq.normalizeCursor()

	return rejectedBatchSize
}
