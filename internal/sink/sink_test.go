package sink

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"testing"

	"github.com/google/go-cmp/cmp"

	mutation "github.com/hanpama/mutagraph/internal/mutation"
)

func call(field, stream string) mutation.Call {
	return mutation.Call{
		FieldName: field,
		Arguments: mutation.Object{{Name: "id", Value: field}},
		Stream:    stream,
		EventType: "GraphQL." + field,
	}
}

func TestRecordingKeepsSubmissionOrder(t *testing.T) {
	r := NewRecording()
	ctx := context.Background()
	c1 := call("a", "s1")
	c2 := call("b", "s1")
	c3 := call("c", "s1")
	for _, c := range []mutation.Call{c1, c2, c3} {
		if err := r.Record(ctx, c); err != nil {
			t.Fatalf("Record: %v", err)
		}
	}
	got := r.Calls()
	if diff := cmp.Diff([]mutation.Call{c1, c2, c3}, got); diff != "" {
		t.Fatalf("recorded order mismatch (-want +got):\n%s", diff)
	}
}

func TestRecordingSnapshotIsIndependent(t *testing.T) {
	r := NewRecording()
	_ = r.Record(context.Background(), call("a", "s1"))
	snap := r.Calls()
	snap[0].FieldName = "mutated"
	if r.Calls()[0].FieldName != "a" {
		t.Fatal("snapshot mutation leaked into the recording")
	}
}

func TestRecordingCallsForStream(t *testing.T) {
	r := NewRecording()
	ctx := context.Background()
	_ = r.Record(ctx, call("a", "s1"))
	_ = r.Record(ctx, call("b", "s2"))
	_ = r.Record(ctx, call("c", "s1"))

	s1 := r.CallsForStream("s1")
	if len(s1) != 2 || s1[0].FieldName != "a" || s1[1].FieldName != "c" {
		t.Fatalf("CallsForStream(s1) = %+v", s1)
	}
	if len(r.CallsForStream("nope")) != 0 {
		t.Fatal("unknown stream returned calls")
	}
	r.Reset()
	if r.Len() != 0 {
		t.Fatal("Reset left calls behind")
	}
}

func TestLoggingRecordsBody(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))
	l := NewLogging(logger)
	if err := l.Record(context.Background(), call("recordLoanRequested", "graphql-mutation-recordLoanRequested")); err != nil {
		t.Fatalf("Record: %v", err)
	}
	out := buf.String()
	for _, want := range []string{"mutation recorded", "graphql-mutation-recordLoanRequested", "GraphQL.recordLoanRequested"} {
		if !bytes.Contains([]byte(out), []byte(want)) {
			t.Errorf("log output missing %q:\n%s", want, out)
		}
	}
}

func TestLoggingSerializationFailure(t *testing.T) {
	l := NewLogging(slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil)))
	bad := mutation.Call{
		FieldName: "broken",
		Arguments: mutation.Object{{Name: "fn", Value: func() {}}},
	}
	err := l.Record(context.Background(), bad)
	if err == nil {
		t.Fatal("expected serialization error")
	}
	var se *SerializationError
	if !errors.As(err, &se) {
		t.Fatalf("error is %T, want *SerializationError", err)
	}
	if se.FieldName != "broken" {
		t.Errorf("FieldName = %q", se.FieldName)
	}
}
