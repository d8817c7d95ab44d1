package queue

// PolicyQueue is the single-priority FIFO described in spec.md §4.1. It
// holds live payloads (queue, with a parallel deadline slice), a delayed
// sub-queue for payloads whose deadline expired under TimeoutActionDelay,
// and a rejected sub-queue awaiting release to the rejection sink.
type PolicyQueue struct {
	policy ModelQueuePolicy

	queue         []Payload
	timeoutAtNs   []uint64
	delayedQueue  []Payload
	rejectedQueue []Payload
}

// NewPolicyQueue constructs a PolicyQueue governed by policy.
func NewPolicyQueue(policy ModelQueuePolicy) *PolicyQueue {
	return &PolicyQueue{policy: policy}
}

// Enqueue computes the payload's deadline from the policy and appends it to
// the live queue. Fails with Unavailable if MaxQueueSize would be exceeded.
func (pq *PolicyQueue) Enqueue(p Payload) *Error {
	if pq.policy.MaxQueueSize > 0 && uint32(len(pq.queue)) >= pq.policy.MaxQueueSize {
		return errUnavailable("policy queue is full")
	}

	timeoutUS := pq.policy.DefaultTimeoutUS
	if pq.policy.AllowTimeoutOverride {
		// A payload-specified 0 means "no timeout" and overrides the
		// default, per spec.md §9's Open Question resolution.
		timeoutUS = p.TimeoutUS()
	}

	var deadline uint64
	if timeoutUS != 0 {
		deadline = p.ArrivalTimeNs() + timeoutUS*1000
	}

	pq.queue = append(pq.queue, p)
	pq.timeoutAtNs = append(pq.timeoutAtNs, deadline)
	return nil
}

// Dequeue pops the front of the live queue. It never looks at the delayed
// queue; interleaving live and delayed payloads is PriorityQueue's job.
func (pq *PolicyQueue) Dequeue() (Payload, *Error) {
	if len(pq.queue) == 0 {
		return nil, errUnavailable("policy queue is empty")
	}
	p := pq.queue[0]
	pq.queue = pq.queue[1:]
	pq.timeoutAtNs = pq.timeoutAtNs[1:]
	return p, nil
}

// ApplyPolicy realizes a timeout, if one is due, for the payload at
// logical index idx (the queue then delayedQueue view). A single call
// resolves at most one expiration — idx is re-examined by the caller on
// the next call, which is how a scheduler draining a run of back-to-back
// expired payloads observes them one at a time (spec.md §8 scenario 3).
// live reports whether idx still indexes a payload afterward.
func (pq *PolicyQueue) ApplyPolicy(idx int, nowNs uint64) (live bool, rejectedCount int, rejectedBatchSize uint32) {
	if idx >= len(pq.queue) {
		// Either the delayed region (never re-expires) or past the end.
		return idx < pq.Size(), 0, 0
	}

	deadline := pq.timeoutAtNs[idx]
	if deadline == 0 || nowNs < deadline {
		return true, 0, 0
	}

	p := pq.queue[idx]
	pq.queue = append(pq.queue[:idx], pq.queue[idx+1:]...)
	pq.timeoutAtNs = append(pq.timeoutAtNs[:idx], pq.timeoutAtNs[idx+1:]...)

	switch pq.policy.TimeoutAction {
	case TimeoutActionReject:
		pq.rejectedQueue = append(pq.rejectedQueue, p)
		rejectedCount = 1
		rejectedBatchSize = p.BatchSize()
	case TimeoutActionDelay:
		pq.delayedQueue = append(pq.delayedQueue, p)
	}

	return idx < pq.Size(), rejectedCount, rejectedBatchSize
}

// TimeoutAt returns the deadline (ns) of the live payload at idx, or 0 if
// idx is in the delayed region (delayed payloads have no further timeout).
func (pq *PolicyQueue) TimeoutAt(idx int) uint64 {
	if idx < len(pq.queue) {
		return pq.timeoutAtNs[idx]
	}
	return 0
}

// At returns the payload at logical index idx across queue++delayedQueue.
func (pq *PolicyQueue) At(idx int) Payload {
	if idx < len(pq.queue) {
		return pq.queue[idx]
	}
	return pq.delayedQueue[idx-len(pq.queue)]
}

// ReleaseRejectedQueue hands the rejected payloads to the caller, leaving
// the internal rejected queue empty.
func (pq *PolicyQueue) ReleaseRejectedQueue() []Payload {
	out := pq.rejectedQueue
	pq.rejectedQueue = nil
	return out
}

// Size is the number of live, unexpired-or-delayed payloads (rejected
// payloads are excluded).
func (pq *PolicyQueue) Size() int {
	return len(pq.queue) + len(pq.delayedQueue)
}

// UnexpiredSize is the number of payloads still in the live queue.
func (pq *PolicyQueue) UnexpiredSize() int {
	return len(pq.queue)
}
