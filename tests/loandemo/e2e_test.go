package loandemo_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	dispatch "github.com/hanpama/mutagraph/internal/dispatch"
	extractor "github.com/hanpama/mutagraph/internal/extractor"
	intercept "github.com/hanpama/mutagraph/internal/intercept"
	language "github.com/hanpama/mutagraph/internal/language"
	mutation "github.com/hanpama/mutagraph/internal/mutation"
	naming "github.com/hanpama/mutagraph/internal/naming"
	server "github.com/hanpama/mutagraph/internal/server"
	sink "github.com/hanpama/mutagraph/internal/sink"
	upstream "github.com/hanpama/mutagraph/internal/upstream"
	"github.com/hanpama/mutagraph/tests/loandemo"
)

// gateway is a fully wired gateway in front of a live loandemo subgraph,
// recording every dispatched call.
type gateway struct {
	url      string
	recorded *sink.Recording
	subgraph *loandemo.Handler
}

func newGateway(t *testing.T) *gateway {
	t.Helper()
	return newGatewayWithSink(t, nil)
}

// newGatewayWithSink wires the pipeline with wrap(recording) as its sink so
// tests can interpose a dispatcher. A nil wrap uses the recording sink
// directly, making dispatch synchronous with the request.
func newGatewayWithSink(t *testing.T, wrap func(*sink.Recording) sink.Sink) *gateway {
	t.Helper()

	subgraph := loandemo.NewHandler()
	mux := http.NewServeMux()
	mux.Handle("/graphql", subgraph)
	up := httptest.NewServer(mux)
	t.Cleanup(up.Close)

	rec := sink.NewRecording()
	var s sink.Sink = rec
	if wrap != nil {
		s = wrap(rec)
	}

	sch, err := language.LoadSchema("loandemo.graphql", loandemo.Schema)
	require.NoError(t, err)

	x := extractor.New(naming.Default(), extractor.WithCorrelationPaths("metadata.correlationId"))
	h, err := server.New(
		intercept.New(x, s),
		upstream.New(up.URL+"/graphql"),
		sch,
	)
	require.NoError(t, err)

	gw := httptest.NewServer(h)
	t.Cleanup(gw.Close)
	return &gateway{url: gw.URL, recorded: rec, subgraph: subgraph}
}

func (g *gateway) post(t *testing.T, query string, vars any) (int, map[string]any) {
	t.Helper()
	payload := map[string]any{"query": query}
	if vars != nil {
		payload["variables"] = vars
	}
	body, err := json.Marshal(payload)
	require.NoError(t, err)

	res, err := http.Post(g.url, "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	defer res.Body.Close()

	raw, err := io.ReadAll(res.Body)
	require.NoError(t, err)
	var out map[string]any
	require.NoError(t, json.Unmarshal(raw, &out), "response body: %s", raw)
	return res.StatusCode, out
}

func dataField(t *testing.T, res map[string]any, key string) map[string]any {
	t.Helper()
	data, ok := res["data"].(map[string]any)
	require.True(t, ok, "no data object in %v", res)
	field, ok := data[key].(map[string]any)
	require.True(t, ok, "no %s object in %v", key, data)
	return field
}

func TestMutationWithLiteralArguments(t *testing.T) {
	g := newGateway(t)

	status, res := g.post(t, `mutation SubmitLoan {
		recordLoanRequested(input: {LoanRequestID: "L100", Amount: 25000.5, Name: "Ada"}) {
			loanId
			status
			amount
		}
	}`, nil)

	require.Equal(t, http.StatusOK, status)
	require.Nil(t, res["errors"])
	loan := dataField(t, res, "recordLoanRequested")
	require.Equal(t, "L100", loan["loanId"])
	require.Equal(t, "REQUESTED", loan["status"])
	require.Equal(t, 25000.5, loan["amount"])

	app, ok := g.subgraph.Application("L100")
	require.True(t, ok, "subgraph should have processed the mutation")
	require.Equal(t, "REQUESTED", app.Status)

	calls := g.recorded.Calls()
	require.Len(t, calls, 1)
	c := calls[0]
	require.Equal(t, "SubmitLoan", c.OperationName)
	require.Equal(t, "recordLoanRequested", c.FieldName)
	require.Equal(t, "graphql-mutation-recordLoanRequested", c.Stream)
	require.Equal(t, "GraphQL.RecordLoanRequested", c.EventType)
	require.Equal(t, []string{"loanId", "status", "amount"}, c.SelectedFields)

	// Argument order is the document's textual order, not alphabetical.
	args, err := json.Marshal(c.Arguments)
	require.NoError(t, err)
	require.Equal(t, `{"input":{"LoanRequestID":"L100","Amount":25000.5,"Name":"Ada"}}`, string(args))
}

func TestVariableIndirectionMatchesLiterals(t *testing.T) {
	g := newGateway(t)

	_, res := g.post(t, `mutation {
		recordLoanRequested(input: {LoanRequestID: "L200", Amount: 1000}) { loanId }
	}`, nil)
	require.Nil(t, res["errors"])

	// Raw JSON keeps the variable object's member order under our control;
	// the recorded arguments must come out byte-identical to the literal
	// form, member order included.
	_, res = g.post(t, `mutation Submit($input: LoanRequestInput!) {
		recordLoanRequested(input: $input) { loanId }
	}`, json.RawMessage(`{"input":{"LoanRequestID":"L200x","Amount":1000}}`))
	require.Nil(t, res["errors"])

	calls := g.recorded.Calls()
	require.Len(t, calls, 2)

	literal, err := json.Marshal(calls[0].Arguments)
	require.NoError(t, err)
	viaVars, err := json.Marshal(calls[1].Arguments)
	require.NoError(t, err)
	require.Equal(t,
		strings.Replace(string(literal), `"L200"`, `"L200x"`, 1),
		string(viaVars))
}

func TestUnboundVariableRejectsOperation(t *testing.T) {
	g := newGateway(t)

	status, res := g.post(t, `mutation Submit($input: LoanRequestInput!, $metadata: EventMetadata) {
		recordLoanRequested(input: $input, metadata: $metadata) { loanId }
	}`, map[string]any{
		"input": map[string]any{"LoanRequestID": "L300"},
	})

	require.Equal(t, http.StatusOK, status)
	require.Nil(t, res["data"])
	errs, ok := res["errors"].([]any)
	require.True(t, ok, "expected errors in %v", res)
	require.Len(t, errs, 1)
	first := errs[0].(map[string]any)
	require.Contains(t, first["message"], "metadata")
	ext := first["extensions"].(map[string]any)
	require.Equal(t, "UNBOUND_VARIABLE", ext["code"])

	// The operation never reached the store or the upstream.
	require.Zero(t, g.recorded.Len())
	_, ok = g.subgraph.Application("L300")
	require.False(t, ok, "rejected mutation must not execute upstream")
}

func TestMultipleMutationFieldsDispatchInOrder(t *testing.T) {
	g := newGateway(t)

	_, res := g.post(t, `mutation Process {
		recordLoanRequested(input: {LoanRequestID: "L400", Amount: 9000}) { loanId status }
		check: recordCreditChecked(input: {LoanRequestID: "L400", Score: 720}) { loanId status }
	}`, nil)
	require.Nil(t, res["errors"])

	calls := g.recorded.Calls()
	require.Len(t, calls, 2)
	require.Equal(t, "recordLoanRequested", calls[0].FieldName)
	require.Equal(t, "recordCreditChecked", calls[1].FieldName)
	require.Equal(t, "check", calls[1].Alias)
	require.NotEqual(t, calls[0].Stream, calls[1].Stream)
	require.Equal(t, "graphql-mutation-recordCreditChecked", calls[1].Stream)
	require.Equal(t, "GraphQL.RecordCreditChecked", calls[1].EventType)

	require.Len(t, g.recorded.CallsForStream("graphql-mutation-recordLoanRequested"), 1)
	require.Len(t, g.recorded.CallsForStream("graphql-mutation-recordCreditChecked"), 1)

	app, ok := g.subgraph.Application("L400")
	require.True(t, ok)
	require.Equal(t, "CREDIT_CHECKED", app.Status)
}

func TestQueriesPassThroughUntouched(t *testing.T) {
	g := newGateway(t)

	status, res := g.post(t, `query Inspect {
		loanApplication(loanId: "loan-0") { loanId status summary }
	}`, nil)

	require.Equal(t, http.StatusOK, status)
	require.Nil(t, res["errors"])
	loan := dataField(t, res, "loanApplication")
	require.Equal(t, "loan-0", loan["loanId"])
	require.Equal(t, "SUMMARIZED", loan["status"])
	require.Equal(t, "Stable income, low existing debt.", loan["summary"])

	require.Zero(t, g.recorded.Len(), "queries must not be recorded")
}

func TestDispatcherDeliversAfterResponse(t *testing.T) {
	var d *dispatch.Dispatcher
	g := newGatewayWithSink(t, func(rec *sink.Recording) sink.Sink {
		d = dispatch.New(rec, dispatch.WithBackendName("recording"))
		return d
	})

	_, res := g.post(t, `mutation Submit($input: LoanRequestInput!, $metadata: EventMetadata) {
		recordLoanRequested(input: $input, metadata: $metadata) { loanId status }
	}`, map[string]any{
		"input":    map[string]any{"LoanRequestID": "L500", "Amount": 100},
		"metadata": map[string]any{"correlationId": "corr-7"},
	})
	require.Nil(t, res["errors"])

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, d.Close(ctx))

	calls := g.recorded.Calls()
	require.Len(t, calls, 1)
	require.Equal(t, "corr-7", calls[0].CorrelationID)
	require.Equal(t, "graphql-mutation-recordLoanRequested", calls[0].Stream)
}

func TestDispatcherKeepsPerStreamOrder(t *testing.T) {
	var d *dispatch.Dispatcher
	g := newGatewayWithSink(t, func(rec *sink.Recording) sink.Sink {
		d = dispatch.New(rec)
		return d
	})

	for i := 0; i < 5; i++ {
		_, res := g.post(t, fmt.Sprintf(`mutation {
			recordLoanRequested(input: {LoanRequestID: "L60%d"}) { loanId }
		}`, i), nil)
		require.Nil(t, res["errors"])
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, d.Close(ctx))

	calls := g.recorded.CallsForStream("graphql-mutation-recordLoanRequested")
	require.Len(t, calls, 5)
	for i, c := range calls {
		input, ok := c.Arguments.Field("input")
		require.True(t, ok)
		obj, ok := input.(mutation.Object)
		require.True(t, ok)
		got, ok := obj.Field("LoanRequestID")
		require.True(t, ok)
		require.Equal(t, fmt.Sprintf("L60%d", i), got)
	}
}
