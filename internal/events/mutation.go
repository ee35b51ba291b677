package events

import "time"

// MutationReceived is emitted when a mutation operation enters the
// interceptor.
type MutationReceived struct {
	OperationName string
}

// MutationExtracted is emitted once extraction produced the operation's
// calls.
type MutationExtracted struct {
	OperationName string
	Fields        []string
}

// MutationDispatching is emitted when the calls start being handed to the
// sink.
type MutationDispatching struct {
	OperationName string
	Calls         int
}

// MutationRejected is emitted when extraction failed; nothing was
// dispatched.
type MutationRejected struct {
	OperationName string
	Err           error
}

// MutationCompleted is emitted after every call of the operation has been
// submitted to the sink. Submitted counts successful handoffs, not
// completed appends.
type MutationCompleted struct {
	OperationName string
	Submitted     int
	Duration      time.Duration
}

// SinkAppendStart is emitted before the backing sink records one call.
type SinkAppendStart struct {
	Stream    string
	EventType string
	Backend   string
}

// SinkAppendFinish is emitted after the backing sink reported the outcome
// of one append.
type SinkAppendFinish struct {
	Stream    string
	EventType string
	Backend   string
	Err       error
	Duration  time.Duration
}
