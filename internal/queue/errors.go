package queue

// Code classifies the error kinds the admission queue can surface, mirroring
// the status codes spec.md §6/§7 names. It intentionally does not reuse
// google.golang.org/grpc/codes: the gRPC transport is out of scope for this
// core (spec.md §1), and pulling in the package purely for its Code type
// would drag a wire-protocol dependency into a library that has none.
type Code int

const (
	OK Code = iota
	InvalidArgument
	Unavailable
	NotFound
	// DeadlineExceeded is not produced by the queue itself (timeouts are not
	// admission-time errors, spec.md §7) but is the code the rejection sink
	// attaches when completing a payload pulled off a timeout-rejected
	// queue, per spec.md §6.
	DeadlineExceeded
)

func (c Code) String() string {
	switch c {
	case OK:
		return "OK"
	case InvalidArgument:
		return "INVALID_ARGUMENT"
	case Unavailable:
		return "UNAVAILABLE"
	case NotFound:
		return "NOT_FOUND"
	case DeadlineExceeded:
		return "DEADLINE_EXCEEDED"
	default:
		return "UNKNOWN"
	}
}

// Error is the error type returned by every queue operation that can fail.
type Error struct {
	Code Code
	Msg  string
}

func (e *Error) Error() string {
	return e.Code.String() + ": " + e.Msg
}

func errInvalidArgument(msg string) *Error {
	return &Error{Code: InvalidArgument, Msg: msg}
}

func errUnavailable(msg string) *Error {
	return &Error{Code: Unavailable, Msg: msg}
}

func errNotFound(msg string) *Error {
	return &Error{Code: NotFound, Msg: msg}
}

// NewUnavailableError builds an Unavailable *Error for callers outside this
// package, e.g. internal/control when a runner's mailbox is gone.
func NewUnavailableError(msg string) *Error {
	return errUnavailable(msg)
}

// NewDeadlineExceededError builds a DeadlineExceeded *Error, the code a
// rejection sink attaches when completing a payload pulled off a
// timeout-rejected queue.
func NewDeadlineExceededError(msg string) *Error {
	return &Error{Code: DeadlineExceeded, Msg: msg}
}
