package intercept

import (
	"context"
	"errors"
	"sync"
	"testing"

	cmp "github.com/google/go-cmp/cmp"
	testutil "github.com/prometheus/client_golang/prometheus/testutil"

	eventbus "github.com/hanpama/mutagraph/internal/eventbus"
	events "github.com/hanpama/mutagraph/internal/events"
	extractor "github.com/hanpama/mutagraph/internal/extractor"
	language "github.com/hanpama/mutagraph/internal/language"
	metrics "github.com/hanpama/mutagraph/internal/metrics"
	mutation "github.com/hanpama/mutagraph/internal/mutation"
	naming "github.com/hanpama/mutagraph/internal/naming"
	sink "github.com/hanpama/mutagraph/internal/sink"
)

func parse(t *testing.T, src string) *language.QueryDocument {
	t.Helper()
	doc, err := language.ParseQuery(src)
	if err != nil {
		t.Fatalf("ParseQuery: %v", err)
	}
	return doc
}

func TestInterceptSubmitsEachMutationField(t *testing.T) {
	rec := sink.NewRecording()
	i := New(extractor.New(naming.Default()), rec)

	doc := parse(t, `mutation Loan {
	  recordLoanRequested(input: {Amount: 500.0})  { loanId }
	  recordCreditChecked(input: {Approved: true}) { loanId }
	}`)
	res, err := i.Intercept(context.Background(), doc, "Loan", nil)
	if err != nil {
		t.Fatalf("Intercept: %v", err)
	}
	if res.State != StateCompleted {
		t.Fatalf("State = %v, want %v", res.State, StateCompleted)
	}

	var got []string
	for _, c := range rec.Calls() {
		got = append(got, c.FieldName)
	}
	want := []string{"recordLoanRequested", "recordCreditChecked"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("submitted fields (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(rec.Calls(), res.Calls); diff != "" {
		t.Fatalf("result calls differ from submitted (-sink +result):\n%s", diff)
	}
}

func TestInterceptRejectsBeforeSubmitting(t *testing.T) {
	rec := sink.NewRecording()
	set := metrics.New()
	i := New(extractor.New(naming.Default()), rec, WithMetrics(set))

	doc := parse(t, `mutation ($m: Metadata!) {
	  recordLoanRequested(input: {Amount: 500.0}) { loanId }
	  recordCreditChecked(metadata: $m)           { loanId }
	}`)
	res, err := i.Intercept(context.Background(), doc, "", mutation.Variables{})
	if err == nil {
		t.Fatal("Intercept succeeded, want unbound variable rejection")
	}
	var unbound *extractor.UnboundVariableError
	if !errors.As(err, &unbound) {
		t.Fatalf("error = %v, want UnboundVariableError", err)
	}
	if res.State != StateRejected {
		t.Fatalf("State = %v, want %v", res.State, StateRejected)
	}
	if rec.Len() != 0 {
		t.Fatalf("recorded %d calls, want 0", rec.Len())
	}
	if got := testutil.ToFloat64(set.OperationsRejected.WithLabelValues("unbound_variable")); got != 1 {
		t.Fatalf("rejected counter = %v, want 1", got)
	}
}

func TestInterceptQueryCompletesWithoutCalls(t *testing.T) {
	rec := sink.NewRecording()
	i := New(extractor.New(naming.Default()), rec)

	res, err := i.Intercept(context.Background(), parse(t, `query { loanApplication(loanId: "L1") { status } }`), "", nil)
	if err != nil {
		t.Fatalf("Intercept: %v", err)
	}
	if res.State != StateCompleted || len(res.Calls) != 0 {
		t.Fatalf("got %v with %d calls, want completed with none", res.State, len(res.Calls))
	}
	if rec.Len() != 0 {
		t.Fatalf("recorded %d calls, want 0", rec.Len())
	}
}

type failingSink struct{ err error }

func (s failingSink) Record(ctx context.Context, c mutation.Call) error { return s.err }

func TestSubmissionFailureStaysInternal(t *testing.T) {
	set := metrics.New()
	i := New(extractor.New(naming.Default()), failingSink{err: errors.New("queue full")}, WithMetrics(set))

	res, err := i.Intercept(context.Background(), parse(t, `mutation { recordLoanRequested(input: {Amount: 1}) { loanId } }`), "", nil)
	if err != nil {
		t.Fatalf("Intercept: %v", err)
	}
	if res.State != StateCompleted {
		t.Fatalf("State = %v, want %v", res.State, StateCompleted)
	}
	if got := testutil.ToFloat64(set.MutationsExtracted.WithLabelValues("recordLoanRequested")); got != 1 {
		t.Fatalf("extracted counter = %v, want 1", got)
	}
}

func TestInterceptPublishesLifecycle(t *testing.T) {
	eventbus.Use(eventbus.New())
	defer eventbus.Use(nil)

	var mu sync.Mutex
	var seen []string
	note := func(name string) {
		mu.Lock()
		seen = append(seen, name)
		mu.Unlock()
	}
	defer eventbus.Subscribe(func(ctx context.Context, e events.MutationReceived) { note("received") })()
	defer eventbus.Subscribe(func(ctx context.Context, e events.MutationExtracted) { note("extracted") })()
	defer eventbus.Subscribe(func(ctx context.Context, e events.MutationDispatching) { note("dispatching") })()
	defer eventbus.Subscribe(func(ctx context.Context, e events.MutationCompleted) { note("completed") })()
	defer eventbus.Subscribe(func(ctx context.Context, e events.MutationRejected) { note("rejected") })()

	i := New(extractor.New(naming.Default()), sink.NewRecording())
	if _, err := i.Intercept(context.Background(), parse(t, `mutation { recordLoanRequested(input: {Amount: 1}) { loanId } }`), "", nil); err != nil {
		t.Fatalf("Intercept: %v", err)
	}

	want := []string{"received", "extracted", "dispatching", "completed"}
	mu.Lock()
	defer mu.Unlock()
	if diff := cmp.Diff(want, seen); diff != "" {
		t.Fatalf("lifecycle (-want +got):\n%s", diff)
	}
}
