// Package sched is the scheduler loop that owns a model's admission queue
// end to end: draining its mailbox, realizing timeouts, assembling a
// shape-compatible batch under the cursor, dispatching it to a runner, and
// draining rejections into the policy store and activity ledger. It is
// grounded on the teacher's ticker-driven planner loop
// (internal/planner/planner.go), generalized from a cluster-wide
// unload/pressure scan to a per-model batch-assembly scan.
package sched

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/kestrun/inferqueue/internal/activity"
	"github.com/kestrun/inferqueue/internal/control"
	"github.com/kestrun/inferqueue/internal/metrics"
	"github.com/kestrun/inferqueue/internal/policystore"
	"github.com/kestrun/inferqueue/internal/queue"
	"github.com/kestrun/inferqueue/internal/runner"
)

// ModelConfig is the static configuration a ModelLoop is built from.
type ModelConfig struct {
	ModelID        string
	PriorityLevels uint32
	DefaultPolicy  queue.ModelQueuePolicy
	PolicyByLevel  map[uint32]queue.ModelQueuePolicy

	// TickInterval is how often the loop scans the queue for timeouts and
	// batch-assembly opportunities.
	TickInterval time.Duration

	// MaxBatchSize caps how many payloads one dispatched batch carries; 0
	// means only back-pressure from shape mismatches bounds it.
	MaxBatchSize uint32

	// MaxBatchDelay is how long the oldest payload in an under-full batch
	// may wait before the loop ships it anyway instead of holding out for
	// MaxBatchSize.
	MaxBatchDelay time.Duration

	// EnforceEqualShapeTensors and ShapePeek drive the batch-shape
	// tracker; both may be left nil/empty to skip shape gating entirely.
	EnforceEqualShapeTensors map[string]bool
	ShapePeek                queue.ShapePeekFunc

	// RunnerOfflineTTL bounds how stale a runner heartbeat may be and
	// still be considered for dispatch.
	RunnerOfflineTTL time.Duration
}

// ModelLoop owns one model's PriorityQueue and serializes every operation
// on it through a single goroutine, per spec.md §5.
type ModelLoop struct {
	cfg      ModelConfig
	pq       *queue.PriorityQueue
	mailbox  *Mailbox
	runners  *runner.Registry
	control  *control.RunnerControl
	policies *policystore.Store
	events   *activity.Log
	waits    *metrics.WaitTimeTracker
}

// NewModelLoop builds a ModelLoop. policies, events and waits may be nil to
// skip that ambient concern.
func NewModelLoop(cfg ModelConfig, runners *runner.Registry, ctrl *control.RunnerControl, policies *policystore.Store, events *activity.Log, waits *metrics.WaitTimeTracker) (*ModelLoop, error) {
	pq, err := queue.NewConfiguredPriorityQueue(cfg.PriorityLevels, cfg.DefaultPolicy, cfg.PolicyByLevel)
	if err != nil {
		return nil, err
	}
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = 10 * time.Millisecond
	}

	return &ModelLoop{
		cfg:      cfg,
		pq:       pq,
		mailbox:  NewMailbox(256),
		runners:  runners,
		control:  ctrl,
		policies: policies,
		events:   events,
		waits:    waits,
	}, nil
}

// Mailbox returns the channel external callers enqueue payloads through.
func (l *ModelLoop) Mailbox() *Mailbox { return l.mailbox }

// Run drives the loop until ctx is canceled.
func (l *ModelLoop) Run(ctx context.Context) {
	ticker := time.NewTicker(l.cfg.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case req := <-l.mailbox.enqueue:
			l.handleEnqueue(req)
		case <-ticker.C:
			l.tick()
		}
	}
}

func (l *ModelLoop) handleEnqueue(req enqueueRequest) {
	err := l.pq.Enqueue(req.priorityLevel, req.payload)
	if err != nil {
		l.recordRejection(req.payload, req.priorityLevel, policystore.ReasonMaxQueueSize)
	} else {
		l.logEvent(activity.EventEnqueued, req.priorityLevel, req.payload.CorrelationID(), "")
	}
	req.result <- err
}

// tick realizes timeouts, grows a batch under the cursor while it remains
// shape-compatible, and either commits (dequeues + dispatches) or backs off
// for another round, per spec.md §4.2's cursor protocol.
func (l *ModelLoop) tick() {
	now := time.Now()
	nowNs := uint64(now.UnixNano())

	l.pq.ResetCursor()

	var pendingShapes queue.PendingBatchShapes
	const shapePeekRunnerID int64 = 0 // the shape oracle is runner-agnostic before a runner is picked

	for !l.pq.CursorEnd() {
		l.pq.ApplyPolicyAtCursor(nowNs)
		if l.pq.CursorEnd() {
			break
		}

		payload := l.pq.PayloadAtCursor()

		if l.cfg.ShapePeek != nil {
			compatible := true
			if pendingShapes == nil {
				shapes, err := queue.InitPendingShape(shapePeekRunnerID, payload, l.cfg.EnforceEqualShapeTensors, l.cfg.ShapePeek)
				compatible = err == nil
				pendingShapes = shapes
			} else {
				compatible = queue.CompareWithPendingShape(shapePeekRunnerID, payload, l.cfg.ShapePeek, pendingShapes)
			}
			if !compatible {
				break
			}
		}

		l.pq.AdvanceCursor()

		if l.cfg.MaxBatchSize > 0 && uint32(l.pq.PendingBatchCount()) >= l.cfg.MaxBatchSize {
			break
		}
	}

	l.releaseRejected()

	count := l.pq.PendingBatchCount()
	if count == 0 {
		return
	}

	full := l.cfg.MaxBatchSize > 0 && uint32(count) >= l.cfg.MaxBatchSize
	oldest := l.pq.OldestEnqueueTime()
	aged := oldest != queue.NoDeadline && nowNs > oldest && time.Duration(nowNs-oldest) >= l.cfg.MaxBatchDelay

	if !full && !aged {
		// Not worth shipping yet: back off, leave the queue untouched, try
		// again next tick.
		l.pq.ResetCursor()
		return
	}

	l.commit(count, now)
}

func (l *ModelLoop) commit(count int, now time.Time) {
	payloads := make([]queue.Payload, 0, count)
	for i := 0; i < count; i++ {
		p, err := l.pq.Dequeue()
		if err != nil {
			log.Printf("sched: %s: dequeue during commit: %v", l.cfg.ModelID, err)
			break
		}
		payloads = append(payloads, p)
		l.observeWait(p, now)
		l.logEvent(activity.EventDequeued, 0, p.CorrelationID(), "")
	}
	if len(payloads) == 0 {
		return
	}

	runnerSnap, ok := l.runners.Pick(l.cfg.ModelID, now, l.cfg.RunnerOfflineTTL)
	if !ok {
		log.Printf("sched: %s: no runner available, rejecting batch of %d", l.cfg.ModelID, len(payloads))
		for _, p := range payloads {
			p.Reject(queue.NewUnavailableError("no runner available"))
		}
		return
	}

	batch := control.Batch{
		RequestID: fmt.Sprintf("%s-%d", l.cfg.ModelID, now.UnixNano()),
		ModelID:   l.cfg.ModelID,
		Payloads:  payloads,
	}
	if err := l.control.SendBatch(runnerSnap.RunnerID, batch); err != nil {
		log.Printf("sched: %s: send batch to runner %d: %v", l.cfg.ModelID, runnerSnap.RunnerID, err)
		for _, p := range payloads {
			p.Reject(err)
		}
	}
}

// observeWait folds a dequeued payload's queue time into the wait-time
// tracker. Payload does not carry the priority level it was admitted
// under (the queue only needs it at Enqueue time), so this records against
// level 0, an aggregate across the whole model rather than a per-level
// breakdown.
func (l *ModelLoop) observeWait(p queue.Payload, now time.Time) {
	if l.waits == nil {
		return
	}
	wait := time.Duration(uint64(now.UnixNano()) - p.ArrivalTimeNs())
	l.waits.ObserveDequeue(l.cfg.ModelID, 0, wait)
}

// releaseRejected drains every PolicyQueue's rejected sub-queue into the
// policy store's audit ledger and the activity log.
func (l *ModelLoop) releaseRejected() {
	byLevel := l.pq.ReleaseRejectedPayloads()
	for i, rejected := range byLevel {
		if len(rejected) == 0 {
			continue
		}
		level := uint32(i + 1)
		for _, p := range rejected {
			p.Reject(queue.NewDeadlineExceededError("payload timed out while queued"))
			l.recordRejection(p, level, policystore.ReasonTimeout)
		}
	}
}

func (l *ModelLoop) recordRejection(p queue.Payload, priorityLevel uint32, reason policystore.RejectionReason) {
	eventType := activity.EventRejectedMaxQueue
	if reason == policystore.ReasonTimeout {
		eventType = activity.EventRejectedTimeout
	}
	l.logEvent(eventType, priorityLevel, p.CorrelationID(), string(reason))

	if l.policies == nil {
		return
	}
	err := l.policies.RecordRejection(context.Background(), policystore.RejectionRecord{
		ModelID:       l.cfg.ModelID,
		PriorityLevel: priorityLevel,
		CorrelationID: p.CorrelationID(),
		Reason:        reason,
		AtUnixNano:    time.Now().UnixNano(),
	})
	if err != nil {
		log.Printf("sched: %s: record rejection: %v", l.cfg.ModelID, err)
	}
}

func (l *ModelLoop) logEvent(t activity.EventType, priorityLevel uint32, correlationID, note string) {
	if l.events == nil {
		return
	}
	l.events.Add(activity.Event{
		At:            time.Now(),
		Type:          t,
		ModelID:       l.cfg.ModelID,
		PriorityLevel: priorityLevel,
		CorrelationID: correlationID,
		Note:          note,
	})
}

// Scheduler owns one ModelLoop per model and runs each in its own
// goroutine, matching spec.md §5's "owned by a single scheduler loop per
// model" requirement.
type Scheduler struct {
	mu    sync.RWMutex
	loops map[string]*ModelLoop
	wg    sync.WaitGroup
}

// NewScheduler builds an empty Scheduler.
func NewScheduler() *Scheduler {
	return &Scheduler{loops: map[string]*ModelLoop{}}
}

// AddModel registers a model's loop and starts its goroutine under ctx.
func (s *Scheduler) AddModel(ctx context.Context, loop *ModelLoop) {
	s.mu.Lock()
	s.loops[loop.cfg.ModelID] = loop
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		loop.Run(ctx)
	}()
}

// Mailbox returns the mailbox for modelID, or nil if no such model was
// registered.
func (s *Scheduler) Mailbox(modelID string) *Mailbox {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if l, ok := s.loops[modelID]; ok {
		return l.mailbox
	}
	return nil
}

// Wait blocks until every model loop started via AddModel has returned,
// i.e. until the context each was started with is canceled.
func (s *Scheduler) Wait() {
	s.wg.Wait()
}
