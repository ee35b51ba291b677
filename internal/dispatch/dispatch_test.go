package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	cmp "github.com/google/go-cmp/cmp"
	testutil "github.com/prometheus/client_golang/prometheus/testutil"

	metrics "github.com/hanpama/mutagraph/internal/metrics"
	mutation "github.com/hanpama/mutagraph/internal/mutation"
	sink "github.com/hanpama/mutagraph/internal/sink"
)

func newCall(stream, field string) mutation.Call {
	return mutation.Call{
		FieldName: field,
		Arguments: mutation.Object{},
		Stream:    stream,
		EventType: "GraphQL.Test",
	}
}

func closeCtx(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

// blockingSink parks every Record until released, reporting entry on a
// channel so tests can observe the worker's progress.
type blockingSink struct {
	inner   *sink.Recording
	entered chan string
	release chan struct{}
}

func newBlockingSink() *blockingSink {
	return &blockingSink{
		inner:   sink.NewRecording(),
		entered: make(chan string, 8),
		release: make(chan struct{}),
	}
}

func (s *blockingSink) Record(ctx context.Context, c mutation.Call) error {
	s.entered <- c.Stream
	<-s.release
	return s.inner.Record(ctx, c)
}

func TestRecordReturnsBeforeAppend(t *testing.T) {
	backend := newBlockingSink()
	d := New(backend)

	if err := d.Record(context.Background(), newCall("graphql-mutation-a", "a")); err != nil {
		t.Fatalf("Record: %v", err)
	}
	<-backend.entered
	if got := backend.inner.Len(); got != 0 {
		t.Fatalf("append completed before release: %d calls", got)
	}
	backend.release <- struct{}{}
	if err := d.Close(closeCtx(t)); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if got := backend.inner.Len(); got != 1 {
		t.Fatalf("recorded %d calls, want 1", got)
	}
}

func TestSameStreamKeepsSubmissionOrder(t *testing.T) {
	rec := sink.NewRecording()
	d := New(rec)

	var want []string
	for i := 0; i < 40; i++ {
		field := fmt.Sprintf("field%02d", i)
		want = append(want, field)
		if err := d.Record(context.Background(), newCall("graphql-mutation-x", field)); err != nil {
			t.Fatalf("Record %d: %v", i, err)
		}
	}
	if err := d.Close(closeCtx(t)); err != nil {
		t.Fatalf("Close: %v", err)
	}

	var got []string
	for _, c := range rec.Calls() {
		got = append(got, c.FieldName)
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("append order mismatch (-want +got):\n%s", diff)
	}
}

// handshakeSink blocks appends for stream a until it has seen stream b,
// so the test deadlocks unless the two streams drain independently.
type handshakeSink struct {
	inner *sink.Recording
	bSeen chan struct{}
	once  sync.Once
}

func (s *handshakeSink) Record(ctx context.Context, c mutation.Call) error {
	if c.Stream == "graphql-mutation-b" {
		s.once.Do(func() { close(s.bSeen) })
	} else {
		<-s.bSeen
	}
	return s.inner.Record(ctx, c)
}

func TestDistinctStreamsDrainIndependently(t *testing.T) {
	backend := &handshakeSink{inner: sink.NewRecording(), bSeen: make(chan struct{})}
	d := New(backend)

	if err := d.Record(context.Background(), newCall("graphql-mutation-a", "a")); err != nil {
		t.Fatalf("Record a: %v", err)
	}
	if err := d.Record(context.Background(), newCall("graphql-mutation-b", "b")); err != nil {
		t.Fatalf("Record b: %v", err)
	}
	if err := d.Close(closeCtx(t)); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if got := len(backend.inner.CallsForStream("graphql-mutation-a")); got != 1 {
		t.Fatalf("stream a: %d calls, want 1", got)
	}
	if got := len(backend.inner.CallsForStream("graphql-mutation-b")); got != 1 {
		t.Fatalf("stream b: %d calls, want 1", got)
	}
}

func TestFullQueueDropsInsteadOfBlocking(t *testing.T) {
	backend := newBlockingSink()
	set := metrics.New()
	d := New(backend, WithQueueCapacity(1), WithMetrics(set))

	if err := d.Record(context.Background(), newCall("graphql-mutation-x", "first")); err != nil {
		t.Fatalf("Record first: %v", err)
	}
	<-backend.entered // worker holds first, queue is empty again
	if err := d.Record(context.Background(), newCall("graphql-mutation-x", "second")); err != nil {
		t.Fatalf("Record second: %v", err)
	}
	err := d.Record(context.Background(), newCall("graphql-mutation-x", "third"))
	if !errors.Is(err, ErrQueueFull) {
		t.Fatalf("Record third: got %v, want ErrQueueFull", err)
	}
	if got := testutil.ToFloat64(set.DispatchDropped); got != 1 {
		t.Fatalf("dropped counter = %v, want 1", got)
	}

	backend.release <- struct{}{}
	<-backend.entered
	backend.release <- struct{}{}
	if err := d.Close(closeCtx(t)); err != nil {
		t.Fatalf("Close: %v", err)
	}

	var got []string
	for _, c := range backend.inner.Calls() {
		got = append(got, c.FieldName)
	}
	if diff := cmp.Diff([]string{"first", "second"}, got); diff != "" {
		t.Fatalf("surviving calls (-want +got):\n%s", diff)
	}
}

func TestRecordAfterClose(t *testing.T) {
	d := New(sink.NewRecording())
	if err := d.Close(closeCtx(t)); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := d.Record(context.Background(), newCall("graphql-mutation-x", "late")); !errors.Is(err, ErrClosed) {
		t.Fatalf("Record after close: got %v, want ErrClosed", err)
	}
	if err := d.Close(closeCtx(t)); err != nil {
		t.Fatalf("second Close: %v", err)
	}
}

func TestCloseHonorsDeadline(t *testing.T) {
	backend := newBlockingSink()
	d := New(backend)

	if err := d.Record(context.Background(), newCall("graphql-mutation-x", "stuck")); err != nil {
		t.Fatalf("Record: %v", err)
	}
	<-backend.entered

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	if err := d.Close(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Close: got %v, want deadline error", err)
	}
	close(backend.release)
}

type failingSink struct{ err error }

func (s failingSink) Record(ctx context.Context, c mutation.Call) error { return s.err }

func TestBackendFailureIsCountedNotReturned(t *testing.T) {
	set := metrics.New()
	d := New(failingSink{err: errors.New("store down")}, WithMetrics(set), WithBackendName("stub"))

	if err := d.Record(context.Background(), newCall("graphql-mutation-x", "doomed")); err != nil {
		t.Fatalf("Record: %v", err)
	}
	if err := d.Close(closeCtx(t)); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if got := testutil.ToFloat64(set.SinkAppends.WithLabelValues("stub", "error")); got != 1 {
		t.Fatalf("error appends = %v, want 1", got)
	}
}
