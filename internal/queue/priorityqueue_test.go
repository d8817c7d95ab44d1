package queue

import "testing"

func TestPriorityQueueSimpleFIFO(t *testing.T) {
	pq := NewPriorityQueue()

	a := newTestPayload("a", 0, 0)
	b := newTestPayload("b", usToNs(1), 0)
	c := newTestPayload("c", usToNs(2), 0)

	for _, p := range []*testPayload{a, b, c} {
		if err := pq.Enqueue(0, p); err != nil {
			t.Fatalf("enqueue %s: %v", p.id, err)
		}
	}

	for _, want := range []*testPayload{a, b, c} {
		got, err := pq.Dequeue()
		if err != nil {
			t.Fatalf("dequeue: %v", err)
		}
		if got != Payload(want) {
			t.Fatalf("dequeue: got %v, want %v", got, want)
		}
	}
	if pq.Size() != 0 {
		t.Fatalf("size: got %d, want 0", pq.Size())
	}
}

func TestPriorityQueueMaxQueueSizeRejection(t *testing.T) {
	policy := ModelQueuePolicy{TimeoutAction: TimeoutActionReject, MaxQueueSize: 2}
	pq, err := NewConfiguredPriorityQueue(1, policy, nil)
	if err != nil {
		t.Fatal(err)
	}

	if err := pq.Enqueue(1, newTestPayload("a", 0, 0)); err != nil {
		t.Fatal(err)
	}
	if err := pq.Enqueue(1, newTestPayload("b", 0, 0)); err != nil {
		t.Fatal(err)
	}
	if err := pq.Enqueue(1, newTestPayload("c", 0, 0)); err == nil || err.Code != Unavailable {
		t.Fatalf("enqueue c: got %v, want Unavailable", err)
	}
	if pq.Size() != 2 {
		t.Fatalf("size: got %d, want 2", pq.Size())
	}
	for i, rejected := range pq.ReleaseRejectedPayloads() {
		if len(rejected) != 0 {
			t.Fatalf("level %d rejected payloads: got %d, want 0", i, len(rejected))
		}
	}
}

func TestPriorityQueueRejectTimeout(t *testing.T) {
	policy := ModelQueuePolicy{TimeoutAction: TimeoutActionReject, DefaultTimeoutUS: 100}
	pq, err := NewConfiguredPriorityQueue(1, policy, nil)
	if err != nil {
		t.Fatal(err)
	}

	a := newTestPayload("a", 0, 0)
	b := newTestPayload("b", usToNs(50), 0)
	_ = pq.Enqueue(1, a)
	_ = pq.Enqueue(1, b)

	now := usToNs(200)
	pq.ResetCursor()

	if got := pq.ApplyPolicyAtCursor(now); got != 1 {
		t.Fatalf("ApplyPolicyAtCursor #1: got rejectedBatchSize=%d, want 1 (A rejected)", got)
	}
	if pq.Size() != 1 {
		t.Fatalf("size after #1: got %d, want 1", pq.Size())
	}
	if !pq.IsCursorValid() {
		t.Fatalf("cursor should remain valid after ApplyPolicyAtCursor")
	}
	if got := pq.PayloadAtCursor(); got != Payload(b) {
		t.Fatalf("cursor should now point at B, got %v", got)
	}

	if got := pq.ApplyPolicyAtCursor(now); got != 1 {
		t.Fatalf("ApplyPolicyAtCursor #2: got rejectedBatchSize=%d, want 1 (B rejected)", got)
	}
	if pq.Size() != 0 {
		t.Fatalf("size after #2: got %d, want 0", pq.Size())
	}
	if !pq.CursorEnd() {
		t.Fatalf("cursor should be at end")
	}
}

func TestPriorityQueueDelayTimeout(t *testing.T) {
	policy := ModelQueuePolicy{TimeoutAction: TimeoutActionDelay, DefaultTimeoutUS: 100}
	pq, err := NewConfiguredPriorityQueue(1, policy, nil)
	if err != nil {
		t.Fatal(err)
	}

	a := newTestPayload("a", 0, 0)
	b := newTestPayload("b", usToNs(50), 0)
	_ = pq.Enqueue(1, a)
	_ = pq.Enqueue(1, b)

	now := usToNs(200)
	pq.ResetCursor()
	pq.ApplyPolicyAtCursor(now) // A expires, moves to delayed; cursor now at B (live)

	if got := pq.PayloadAtCursor(); got != Payload(b) {
		t.Fatalf("after ApplyPolicyAtCursor, cursor should point at B, got %v", got)
	}
	if pq.PendingBatchCount() != 0 {
		t.Fatalf("PendingBatchCount: got %d, want 0 (nothing folded yet)", pq.PendingBatchCount())
	}

	pq.AdvanceCursor() // folds B
	pq.AdvanceCursor() // folds A (now in delayed region)

	if !pq.CursorEnd() {
		t.Fatalf("CursorEnd: got false, want true")
	}
	if pq.PendingBatchCount() != 2 {
		t.Fatalf("PendingBatchCount: got %d, want 2", pq.PendingBatchCount())
	}
}

func TestPriorityQueuePriorityOverride(t *testing.T) {
	pq, err := NewConfiguredPriorityQueue(2, DefaultModelQueuePolicy(), nil)
	if err != nil {
		t.Fatal(err)
	}

	x := newTestPayload("x", 0, 0)
	y := newTestPayload("y", usToNs(1), 0)

	if err := pq.Enqueue(2, x); err != nil {
		t.Fatal(err)
	}
	if err := pq.Enqueue(1, y); err != nil {
		t.Fatal(err)
	}

	got, derr := pq.Dequeue()
	if derr != nil || got != Payload(y) {
		t.Fatalf("first dequeue: got %v, %v, want y", got, derr)
	}
	got, derr = pq.Dequeue()
	if derr != nil || got != Payload(x) {
		t.Fatalf("second dequeue: got %v, %v, want x", got, derr)
	}
}

func TestPriorityQueueMarkAndRestore(t *testing.T) {
	pq := NewPriorityQueue()

	a := newTestPayload("a", 0, 0)
	b := newTestPayload("b", usToNs(1), 0)
	c := newTestPayload("c", usToNs(2), 0)
	_ = pq.Enqueue(0, a)
	_ = pq.Enqueue(0, b)
	_ = pq.Enqueue(0, c)

	pq.ResetCursor()
	pq.AdvanceCursor() // folds A
	pq.MarkCursor()
	pq.AdvanceCursor() // folds B
	pq.AdvanceCursor() // folds C
	if pq.PendingBatchCount() != 3 {
		t.Fatalf("PendingBatchCount before restore: got %d, want 3", pq.PendingBatchCount())
	}

	pq.SetCursorToMark()
	if pq.PendingBatchCount() != 1 {
		t.Fatalf("PendingBatchCount after restore: got %d, want 1", pq.PendingBatchCount())
	}
	if got := pq.PayloadAtCursor(); got != Payload(b) {
		t.Fatalf("cursor after restore should point at B, got %v", got)
	}
}

func TestPriorityQueueResetCursorAggregates(t *testing.T) {
	pq := NewPriorityQueue()
	_ = pq.Enqueue(0, newTestPayload("a", 0, 0))

	pq.ResetCursor()
	if pq.PendingBatchCount() != 0 {
		t.Fatalf("PendingBatchCount: got %d, want 0", pq.PendingBatchCount())
	}
	if pq.OldestEnqueueTime() != noDeadline {
		t.Fatalf("OldestEnqueueTime: got %d, want sentinel", pq.OldestEnqueueTime())
	}
	if pq.ClosestTimeout() != noDeadline {
		t.Fatalf("ClosestTimeout: got %d, want sentinel", pq.ClosestTimeout())
	}
}

func TestPriorityQueueEnqueueInvalidatesCursor(t *testing.T) {
	pq := NewPriorityQueue()
	_ = pq.Enqueue(0, newTestPayload("a", 0, 0))
	pq.ResetCursor()
	if !pq.IsCursorValid() {
		t.Fatalf("cursor should be valid right after ResetCursor")
	}
	_ = pq.Enqueue(0, newTestPayload("b", usToNs(1), 0))
	if pq.IsCursorValid() {
		t.Fatalf("cursor should be invalidated by Enqueue")
	}
}

func TestPriorityQueueUnknownLevel(t *testing.T) {
	pq, err := NewConfiguredPriorityQueue(2, DefaultModelQueuePolicy(), nil)
	if err != nil {
		t.Fatal(err)
	}
	if err := pq.Enqueue(3, newTestPayload("a", 0, 0)); err == nil || err.Code != InvalidArgument {
		t.Fatalf("enqueue at unknown level: got %v, want InvalidArgument", err)
	}
}

func TestPriorityQueueLivePreferredOverDelayedOfLowerPriority(t *testing.T) {
	// Priority 1 has a delayed payload; priority 2 has a live one. Live
	// payloads of any priority must be preferred over delayed payloads of
	// any priority (spec.md §5).
	p1 := ModelQueuePolicy{TimeoutAction: TimeoutActionDelay, DefaultTimeoutUS: 10}
	p2 := DefaultModelQueuePolicy()
	pq, err := NewConfiguredPriorityQueue(2, DefaultModelQueuePolicy(), map[uint32]ModelQueuePolicy{1: p1, 2: p2})
	if err != nil {
		t.Fatal(err)
	}

	delayed := newTestPayload("delayed", 0, 0)
	live := newTestPayload("live", usToNs(1), 0)
	_ = pq.Enqueue(1, delayed)
	_ = pq.Enqueue(2, live)

	pq.ResetCursor()
	pq.ApplyPolicyAtCursor(usToNs(1000)) // moves "delayed" into priority 1's delayed queue

	got, derr := pq.Dequeue()
	if derr != nil {
		t.Fatal(derr)
	}
	if got != Payload(live) {
		t.Fatalf("dequeue: got %v, want live (priority 2, but live beats delayed priority 1)", got)
	}
}
