package policystore

import "github.com/kestrun/inferqueue/internal/queue"

// PolicyRecord is the durable form of queue.ModelQueuePolicy for one
// (model, priority level) pair.
type PolicyRecord struct {
	ModelID              string
	PriorityLevel        uint32
	TimeoutAction        queue.TimeoutAction
	DefaultTimeoutUS     uint64
	AllowTimeoutOverride bool
	MaxQueueSize         uint32
}

// ToPolicy converts the record to the in-memory policy the queue consumes.
func (r PolicyRecord) ToPolicy() queue.ModelQueuePolicy {
	return queue.ModelQueuePolicy{
		TimeoutAction:        r.TimeoutAction,
		DefaultTimeoutUS:     r.DefaultTimeoutUS,
		AllowTimeoutOverride: r.AllowTimeoutOverride,
		MaxQueueSize:         r.MaxQueueSize,
	}
}

// RejectionReason classifies why a payload was surfaced to the ledger.
type RejectionReason string

const (
	ReasonMaxQueueSize RejectionReason = "max_queue_size"
	ReasonTimeout      RejectionReason = "timeout"
)

// RejectionRecord is one audit row: a payload the queue rejected, kept for
// operators to inspect after the fact.
type RejectionRecord struct {
	ModelID       string
	PriorityLevel uint32
	CorrelationID string
	Reason        RejectionReason
	AtUnixNano    int64
}
