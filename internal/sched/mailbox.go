package sched

import (
	"context"

	"github.com/kestrun/inferqueue/internal/queue"
)

// Mailbox is the external marshalling channel spec.md describes as
// "enqueues from transport threads are marshalled to this loop via an
// external mailbox, out of scope" — here it is in scope, since a
// simulation harness plays the transport's role instead of a real RPC
// server.
type Mailbox struct {
	enqueue chan enqueueRequest
}

type enqueueRequest struct {
	priorityLevel uint32
	payload       queue.Payload
	result        chan *queue.Error
}

// NewMailbox creates a Mailbox with the given channel depth.
func NewMailbox(depth int) *Mailbox {
	if depth <= 0 {
		depth = 64
	}
	return &Mailbox{enqueue: make(chan enqueueRequest, depth)}
}

// Enqueue hands a payload to the owning ModelLoop and blocks for the
// result, honoring ctx cancellation on either side of the round trip.
func (m *Mailbox) Enqueue(ctx context.Context, priorityLevel uint32, payload queue.Payload) *queue.Error {
	req := enqueueRequest{
		priorityLevel: priorityLevel,
		payload:       payload,
		result:        make(chan *queue.Error, 1),
	}

	select {
	case m.enqueue <- req:
	case <-ctx.Done():
		return queue.NewUnavailableError("mailbox: enqueue canceled before delivery")
	}

	select {
	case err := <-req.result:
		return err
	case <-ctx.Done():
		return queue.NewUnavailableError("mailbox: enqueue canceled awaiting result")
	}
}
