// Package sink defines the persistence boundary for extracted mutation
// calls and the in-process implementations used for tests and local runs.
package sink

import (
	"context"
	"errors"
	"fmt"

	mutation "github.com/hanpama/mutagraph/internal/mutation"
)

// Sink accepts one mutation call and durably records it. The interface has
// exactly one method so production and test implementations substitute
// freely and callers carry no branch logic on implementation identity.
//
// Implementations must not reorder calls submitted for the same stream.
// Calls for different streams have no ordering relationship.
type Sink interface {
	Record(ctx context.Context, c mutation.Call) error
}

// ErrUnavailable reports a sink whose backing connection is not usable.
var ErrUnavailable = errors.New("sink: unavailable")

// TransportError wraps a failed append. It is a dispatch-phase error:
// logged and counted, never client-visible, never retried here.
type TransportError struct {
	Stream    string
	EventType string
	Err       error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("sink: append to stream %q failed: %v", e.Stream, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// SerializationError reports a call whose body could not be rendered to
// JSON. With validated upstream input this should not occur; it is treated
// as an invariant break terminal for that one call.
type SerializationError struct {
	FieldName string
	Err       error
}

func (e *SerializationError) Error() string {
	return fmt.Sprintf("sink: serialize call for field %q: %v", e.FieldName, e.Err)
}

func (e *SerializationError) Unwrap() error { return e.Err }
