package events

import "time"

// GraphQLStart is emitted before an operation is intercepted and relayed.
type GraphQLStart struct {
	Query         string
	OperationName string
	OperationType string
}

// GraphQLFinish is emitted after the upstream response has been relayed or
// the operation was rejected.
type GraphQLFinish struct {
	Query         string
	OperationName string
	OperationType string
	Rejected      bool
	Errors        []error
	Duration      time.Duration
}
