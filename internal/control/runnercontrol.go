// Package control marshals dispatched batches to runner goroutines over
// in-process channels. It mirrors the Hello/Status/Ack attach-detach
// bookkeeping the teacher used for a gRPC control stream, but the wire
// itself is out of scope here: runners live in the same process.
package control

import (
	"fmt"
	"log"
	"sync"

	"github.com/kestrun/inferqueue/internal/queue"
	"github.com/kestrun/inferqueue/internal/runner"
)

// Batch is a dispatched batch of payloads handed to a runner for execution.
type Batch struct {
	RequestID string
	ModelID   string
	Payloads  []queue.Payload
}

// RunnerNotifier is told when a runner attaches or detaches, the way
// nodecontrol notified router gates of model readiness.
type RunnerNotifier interface {
	NotifyRunnerState(runnerID int64, modelID string, st runner.State)
}

// RunnerControl owns the mailbox channel of every attached runner and the
// shared registry their heartbeats update.
type RunnerControl struct {
	Registry *runner.Registry
	Notifier RunnerNotifier

	mu    sync.RWMutex
	inbox map[int64]chan Batch
}

// NewRunnerControl builds a RunnerControl backed by reg. notifier may be nil.
func NewRunnerControl(reg *runner.Registry, notifier RunnerNotifier) *RunnerControl {
	return &RunnerControl{
		Registry: reg,
		Notifier: notifier,
		inbox:    map[int64]chan Batch{},
	}
}

// Attach registers runnerID's mailbox and returns the channel its goroutine
// should range over to receive dispatched batches.
func (c *RunnerControl) Attach(runnerID int64, modelID string, capacity uint32) <-chan Batch {
	ch := make(chan Batch, 8)

	c.mu.Lock()
	c.inbox[runnerID] = ch
	c.mu.Unlock()

	c.Registry.Hello(runnerID, modelID, capacity)
	if c.Notifier != nil {
		c.Notifier.NotifyRunnerState(runnerID, modelID, runner.StateReady)
	}
	log.Printf("control: runner hello id=%d model=%s capacity=%d", runnerID, modelID, capacity)
	return ch
}

// Detach closes runnerID's mailbox and marks it offline in the registry.
func (c *RunnerControl) Detach(runnerID int64) {
	c.mu.Lock()
	ch, ok := c.inbox[runnerID]
	delete(c.inbox, runnerID)
	c.mu.Unlock()

	if ok {
		close(ch)
	}
	c.Registry.Offline(runnerID)
	log.Printf("control: runner detached id=%d", runnerID)
}

// Status forwards a runner's periodic status ping into the registry.
func (c *RunnerControl) Status(runnerID int64, inflight uint32) {
	c.Registry.Status(runnerID, inflight)
}

// SendBatch dispatches a batch to runnerID's mailbox. Unavailable is
// returned if the runner never attached, has detached, or its mailbox is
// saturated, mirroring nodecontrol.SendUnload's status.Errorf(Unavailable).
func (c *RunnerControl) SendBatch(runnerID int64, b Batch) *queue.Error {
	c.mu.RLock()
	ch := c.inbox[runnerID]
	c.mu.RUnlock()

	if ch == nil {
		return queue.NewUnavailableError(fmt.Sprintf("runner control: runner not attached: %d", runnerID))
	}

	select {
	case ch <- b:
		return nil
	default:
		return queue.NewUnavailableError(fmt.Sprintf("runner control: mailbox full: %d", runnerID))
	}
}
