package sink

import (
	"context"
	"sync"

	mutation "github.com/hanpama/mutagraph/internal/mutation"
)

// Recording captures submitted calls in submission order, always succeeds,
// and performs no I/O. Tests use it to assert the exact set, order, and
// shape of what the pipeline dispatched.
type Recording struct {
	mu    sync.Mutex
	calls []mutation.Call
}

var _ Sink = (*Recording)(nil)

func NewRecording() *Recording { return &Recording{} }

func (r *Recording) Record(_ context.Context, c mutation.Call) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, c)
	return nil
}

// Calls returns a snapshot of everything recorded so far.
func (r *Recording) Calls() []mutation.Call {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]mutation.Call(nil), r.calls...)
}

// CallsForStream returns the recorded calls destined for one stream, in
// submission order.
func (r *Recording) CallsForStream(stream string) []mutation.Call {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []mutation.Call
	for _, c := range r.calls {
		if c.Stream == stream {
			out = append(out, c)
		}
	}
	return out
}

func (r *Recording) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.calls)
}

func (r *Recording) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = nil
}
