package queue

// Payload is an opaque reference to a pending inference request. The queue
// never interprets tensor contents; it only reads arrival time, timeout and
// batch size to make admission and ordering decisions. The queue itself
// never calls Reject; the code that drains ReleaseRejectedPayloads does.
//
// The priority a payload is admitted under is resolved by the caller before
// Enqueue is called; Payload does not carry a priority field.
type Payload interface {
	// ArrivalTimeNs is the monotonic arrival timestamp in nanoseconds.
	ArrivalTimeNs() uint64

	// TimeoutUS is the payload's requested timeout in microseconds, 0 if
	// the caller did not request one. Whether this value is honored
	// depends on ModelQueuePolicy.AllowTimeoutOverride.
	TimeoutUS() uint64

	// BatchSize is the number of logical samples this payload contributes
	// to a batch. Typically 1.
	BatchSize() uint32

	// CorrelationID is an opaque tracing identifier, never interpreted by
	// the queue itself.
	CorrelationID() string

	// Reject completes the payload with an error. It is called by the
	// caller, not the queue: internal/sched calls it with DeadlineExceeded
	// for payloads drained through ReleaseRejectedPayloads, and with
	// Unavailable for dequeued payloads it could not dispatch. A payload
	// refused by Enqueue (e.g. at MaxQueueSize) never reaches the rejected
	// queue; the Enqueue error is returned to the caller instead.
	Reject(err *Error)
}
