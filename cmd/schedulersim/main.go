// Command schedulersim drives internal/sched's scheduler loop end to end
// with a simulated producer and simulated runners, standing in for the
// real transport and inference engine spec.md puts out of scope. It plays
// the role cmd/server played in the teacher: the process that wires every
// package together.
package main

import (
	"context"
	"log"
	"math/rand"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/kestrun/inferqueue/internal/activity"
	"github.com/kestrun/inferqueue/internal/control"
	"github.com/kestrun/inferqueue/internal/metrics"
	"github.com/kestrun/inferqueue/internal/policystore"
	"github.com/kestrun/inferqueue/internal/queue"
	"github.com/kestrun/inferqueue/internal/report"
	"github.com/kestrun/inferqueue/internal/runner"
	"github.com/kestrun/inferqueue/internal/sched"
)

const modelID = "llama-70b"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	dbPath := os.Getenv("POLICIES_DB_PATH")
	if dbPath == "" {
		dbPath = "policies.db"
	}
	policyStore, err := policystore.Open(dbPath)
	if err != nil {
		log.Fatalf("schedulersim: open policy store: %v", err)
	}
	defer policyStore.Close()

	events := activity.New(500)
	waits := metrics.NewWaitTimeTracker(0.2)
	registry := runner.NewRegistry(0.2)
	ctrl := control.NewRunnerControl(registry, nil)

	cfg := sched.ModelConfig{
		ModelID:          modelID,
		PriorityLevels:   uint32(envOrInt("PRIORITY_LEVELS", 3)),
		DefaultPolicy:    queue.DefaultModelQueuePolicy(),
		TickInterval:     time.Duration(envOrInt("TICK_INTERVAL_MS", 10)) * time.Millisecond,
		MaxBatchSize:     uint32(envOrInt("MAX_BATCH_SIZE", 8)),
		MaxBatchDelay:    time.Duration(envOrInt("MAX_BATCH_DELAY_MS", 50)) * time.Millisecond,
		RunnerOfflineTTL: time.Duration(envOrInt("RUNNER_OFFLINE_SECONDS", 5)) * time.Second,
	}
	cfg.PolicyByLevel = map[uint32]queue.ModelQueuePolicy{
		1: {TimeoutAction: queue.TimeoutActionReject, DefaultTimeoutUS: 200_000, MaxQueueSize: 256},
		2: {TimeoutAction: queue.TimeoutActionDelay, DefaultTimeoutUS: 500_000, MaxQueueSize: 512},
		3: {TimeoutAction: queue.TimeoutActionDelay, DefaultTimeoutUS: 2_000_000, MaxQueueSize: 1024},
	}

	loop, err := sched.NewModelLoop(cfg, registry, ctrl, policyStore, events, waits)
	if err != nil {
		log.Fatalf("schedulersim: new model loop: %v", err)
	}

	scheduler := sched.NewScheduler()
	scheduler.AddModel(ctx, loop)

	runnerCount := envOrInt("RUNNER_COUNT", 2)
	for i := 0; i < runnerCount; i++ {
		go runSimulatedRunner(ctx, int64(i+1), registry, ctrl)
	}

	go runSimulatedProducer(ctx, scheduler)

	reporter := report.NewReporter(os.Stdout)
	reportInterval := time.Duration(envOrInt("REPORT_INTERVAL_MS", 500)) * time.Millisecond
	ticker := time.NewTicker(reportInterval)
	defer ticker.Stop()

	log.Printf("schedulersim: model=%s priority_levels=%d runners=%d", modelID, cfg.PriorityLevels, runnerCount)

	for {
		select {
		case <-ctx.Done():
			log.Printf("schedulersim: shutting down")
			return
		case <-ticker.C:
			stats, ok := waits.Get(modelID, 0)
			rows := []report.ModelLevelSnapshot{{
				ModelID:      modelID,
				WaitStats:    stats,
				HasWaitStats: ok,
			}}
			reporter.Render(rows, events.List(), 5)
		}
	}
}

// runSimulatedProducer stands in for the transport layer spec.md puts out
// of scope: it generates synthetic payloads at a random rate and hands
// them to the scheduler's mailbox the way a request handler would.
func runSimulatedProducer(ctx context.Context, scheduler *sched.Scheduler) {
	mailbox := scheduler.Mailbox(modelID)
	if mailbox == nil {
		log.Printf("schedulersim: producer: no mailbox for model %s", modelID)
		return
	}

	for {
		wait := time.Duration(5+rand.Intn(20)) * time.Millisecond
		select {
		case <-ctx.Done():
			return
		case <-time.After(wait):
		}

		priorityLevel := uint32(1 + rand.Intn(3))
		p := newSimulatedPayload()

		go func() {
			if err := mailbox.Enqueue(ctx, priorityLevel, p); err != nil {
				log.Printf("schedulersim: producer: enqueue %s rejected: %v", p.CorrelationID(), err)
			}
		}()
	}
}

// runSimulatedRunner stands in for the inference engine: it attaches to
// the control plane, waits for dispatched batches, sleeps to simulate
// execution time, then reports the observed latency back to the registry.
func runSimulatedRunner(ctx context.Context, runnerID int64, registry *runner.Registry, ctrl *control.RunnerControl) {
	capacity := uint32(4)
	inbox := ctrl.Attach(runnerID, modelID, capacity)
	defer ctrl.Detach(runnerID)

	for {
		select {
		case <-ctx.Done():
			return
		case batch, ok := <-inbox:
			if !ok {
				return
			}
			start := time.Now()
			simulateExecution(batch)
			registry.ObserveBatchLatency(runnerID, time.Since(start))
			registry.Status(runnerID, 0)
		}
	}
}

func simulateExecution(b control.Batch) {
	time.Sleep(time.Duration(10+rand.Intn(40)) * time.Millisecond)
	_ = b
}

type simulatedPayload struct {
	correlationID string
	arrivalNs     uint64
}

func newSimulatedPayload() *simulatedPayload {
	return &simulatedPayload{
		correlationID: uuid.NewString(),
		arrivalNs:     uint64(time.Now().UnixNano()),
	}
}

func (p *simulatedPayload) ArrivalTimeNs() uint64 { return p.arrivalNs }
func (p *simulatedPayload) TimeoutUS() uint64     { return 0 }
func (p *simulatedPayload) BatchSize() uint32     { return 1 }
func (p *simulatedPayload) CorrelationID() string { return p.correlationID }
func (p *simulatedPayload) Reject(err *queue.Error) {
	log.Printf("schedulersim: payload %s rejected: %v", p.correlationID, err)
}

func envOrInt(k string, def int) int {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}
