package events

import "time"

// HTTPStart is emitted when an HTTP request is received. Payloads carry
// plain values so subscribers never hold a live request.
type HTTPStart struct {
	Method string
	Path   string
}

// HTTPFinish is emitted after the handler completes.
type HTTPFinish struct {
	Method   string
	Path     string
	Status   int
	Duration time.Duration
}
