package sched

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/kestrun/inferqueue/internal/activity"
	"github.com/kestrun/inferqueue/internal/control"
	"github.com/kestrun/inferqueue/internal/metrics"
	"github.com/kestrun/inferqueue/internal/queue"
	"github.com/kestrun/inferqueue/internal/runner"
)

type fakePayload struct {
	id        string
	arrivalNs uint64
	mu        sync.Mutex
	rejected  *queue.Error
}

func newFakePayload(id string, arrivalNs uint64) *fakePayload {
	return &fakePayload{id: id, arrivalNs: arrivalNs}
}

func (p *fakePayload) ArrivalTimeNs() uint64 { return p.arrivalNs }
func (p *fakePayload) TimeoutUS() uint64     { return 0 }
func (p *fakePayload) BatchSize() uint32     { return 1 }
func (p *fakePayload) CorrelationID() string { return p.id }
func (p *fakePayload) Reject(err *queue.Error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.rejected = err
}

func (p *fakePayload) rejection() *queue.Error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.rejected
}

type capturingNotifier struct{}

func (capturingNotifier) NotifyRunnerState(int64, string, runner.State) {}

func newTestLoop(t *testing.T, cfg ModelConfig) (*ModelLoop, *control.RunnerControl, *runner.Registry) {
	t.Helper()
	reg := runner.NewRegistry(0.2)
	ctrl := control.NewRunnerControl(reg, capturingNotifier{})

	loop, err := NewModelLoop(cfg, reg, ctrl, nil, activity.New(64), metrics.NewWaitTimeTracker(0.2))
	if err != nil {
		t.Fatalf("NewModelLoop: %v", err)
	}
	return loop, ctrl, reg
}

func TestModelLoopDispatchesFullBatch(t *testing.T) {
	cfg := ModelConfig{
		ModelID:          "m",
		PriorityLevels:   1,
		DefaultPolicy:    queue.DefaultModelQueuePolicy(),
		TickInterval:     5 * time.Millisecond,
		MaxBatchSize:     2,
		MaxBatchDelay:    time.Hour,
		RunnerOfflineTTL: time.Minute,
	}
	loop, ctrl, reg := newTestLoop(t, cfg)

	reg.Hello(1, "m", 4)
	mailbox := ctrl.Attach(int64(1), "m", 4)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go loop.Run(ctx)

	a := newFakePayload("a", uint64(time.Now().UnixNano()))
	b := newFakePayload("b", uint64(time.Now().UnixNano()))
	if err := loop.Mailbox().Enqueue(ctx, 1, a); err != nil {
		t.Fatalf("enqueue a: %v", err)
	}
	if err := loop.Mailbox().Enqueue(ctx, 1, b); err != nil {
		t.Fatalf("enqueue b: %v", err)
	}

	select {
	case batch := <-mailbox:
		if len(batch.Payloads) != 2 {
			t.Fatalf("dispatched batch size: got %d, want 2", len(batch.Payloads))
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for dispatched batch")
	}
}

func TestModelLoopRejectsOnMaxQueueSize(t *testing.T) {
	cfg := ModelConfig{
		ModelID:        "m",
		PriorityLevels: 1,
		DefaultPolicy:  queue.ModelQueuePolicy{TimeoutAction: queue.TimeoutActionReject, MaxQueueSize: 1},
		TickInterval:   time.Hour,
	}
	loop, _, _ := newTestLoop(t, cfg)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go loop.Run(ctx)

	a := newFakePayload("a", uint64(time.Now().UnixNano()))
	b := newFakePayload("b", uint64(time.Now().UnixNano()))

	if err := loop.Mailbox().Enqueue(ctx, 1, a); err != nil {
		t.Fatalf("enqueue a: %v", err)
	}
	err := loop.Mailbox().Enqueue(ctx, 1, b)
	if err == nil || err.Code != queue.Unavailable {
		t.Fatalf("enqueue b: got %v, want Unavailable", err)
	}
}

func TestModelLoopRejectsWhenNoRunnerAvailable(t *testing.T) {
	cfg := ModelConfig{
		ModelID:        "m",
		PriorityLevels: 1,
		DefaultPolicy:  queue.DefaultModelQueuePolicy(),
		TickInterval:   5 * time.Millisecond,
		MaxBatchSize:   1,
		MaxBatchDelay:  0,
	}
	loop, _, _ := newTestLoop(t, cfg)
	// No runner ever attaches.

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go loop.Run(ctx)

	a := newFakePayload("a", uint64(time.Now().UnixNano()))
	if err := loop.Mailbox().Enqueue(ctx, 1, a); err != nil {
		t.Fatalf("enqueue a: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if a.rejection() != nil {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("payload was never rejected despite no runner being available")
}

func TestSchedulerRoutesToTheRightModelsMailbox(t *testing.T) {
	s := NewScheduler()

	cfgA := ModelConfig{ModelID: "a", PriorityLevels: 1, DefaultPolicy: queue.DefaultModelQueuePolicy(), TickInterval: time.Hour}
	cfgB := ModelConfig{ModelID: "b", PriorityLevels: 1, DefaultPolicy: queue.DefaultModelQueuePolicy(), TickInterval: time.Hour}
	loopA, _, _ := newTestLoop(t, cfgA)
	loopB, _, _ := newTestLoop(t, cfgB)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s.AddModel(ctx, loopA)
	s.AddModel(ctx, loopB)

	if s.Mailbox("a") != loopA.Mailbox() {
		t.Fatal("Mailbox(a) did not return loop A's mailbox")
	}
	if s.Mailbox("b") != loopB.Mailbox() {
		t.Fatal("Mailbox(b) did not return loop B's mailbox")
	}
	if s.Mailbox("missing") != nil {
		t.Fatal("Mailbox(missing) should be nil")
	}

	cancel()
	s.Wait()
}
