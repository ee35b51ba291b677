// Package loandemo is an in-memory loan-origination subgraph used as the
// upstream executor in end-to-end tests. It is runnable standalone via
// tests/loandemo/server for manual runs against a live gateway.
package loandemo

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"sort"
	"sync"
	"time"

	language "github.com/hanpama/mutagraph/internal/language"
)

// Schema is the subgraph's SDL. Gateways under test load it to validate
// operations before forwarding.
const Schema = `
type Query {
  loanApplication(loanId: ID!): LoanApplication
  loanApplications: [LoanApplication!]!
}

type Mutation {
  recordLoanRequested(input: LoanRequestInput!, metadata: EventMetadata): LoanApplication
  recordCreditChecked(input: CreditCheckInput!, metadata: EventMetadata): LoanApplication
  recordAutomatedSummary(input: AutomatedSummaryInput!, metadata: EventMetadata): LoanApplication
}

type LoanApplication {
  loanId: ID!
  status: String!
  amount: Float
  creditScore: Int
  summary: String
  requestedAt: String
  updatedAt: String
}

input LoanRequestInput {
  LoanRequestID: ID
  Amount: Float
  NationalID: String
  Name: String
}

input CreditCheckInput {
  LoanRequestID: ID!
  Score: Int
  CreditCheckedTimestamp: String
}

input AutomatedSummaryInput {
  LoanRequestID: ID!
  CreditScoreSummary: String
  RecommendedFurtherInvestigation: String
}

input EventMetadata {
  correlationId: String
  causationId: String
  transactionTimestamp: String
}
`

// Application states, in processing order.
const (
	StatusRequested     = "REQUESTED"
	StatusCreditChecked = "CREDIT_CHECKED"
	StatusSummarized    = "SUMMARIZED"
)

// Application is one loan application's current state.
type Application struct {
	LoanID      string
	Status      string
	Amount      json.Number
	CreditScore json.Number
	Summary     string
	RequestedAt string
	UpdatedAt   string
}

func (a *Application) clone() *Application {
	if a == nil {
		return nil
	}
	c := *a
	return &c
}

type store struct {
	mu           sync.RWMutex
	applications map[string]*Application
	nextID       int
}

func newStore() *store {
	s := &store{
		applications: make(map[string]*Application),
		nextID:       1,
	}
	s.seedData()
	return s
}

func (s *store) seedData() {
	now := time.Now().Format(time.RFC3339)
	seed := &Application{
		LoanID:      "loan-0",
		Status:      StatusSummarized,
		Amount:      json.Number("12500.0"),
		CreditScore: json.Number("710"),
		Summary:     "Stable income, low existing debt.",
		RequestedAt: now,
		UpdatedAt:   now,
	}
	s.applications[seed.LoanID] = seed
}

func (s *store) generateID() string {
	s.nextID++
	return fmt.Sprintf("loan-%d", s.nextID)
}

// Handler serves the subgraph's /graphql endpoint.
type Handler struct {
	store *store
}

func NewHandler() *Handler {
	return &Handler{store: newStore()}
}

// Application returns a copy of the stored application, for test
// assertions against the subgraph's own state.
func (h *Handler) Application(loanID string) (Application, bool) {
	h.store.mu.RLock()
	defer h.store.mu.RUnlock()
	app, ok := h.store.applications[loanID]
	if !ok {
		return Application{}, false
	}
	return *app, true
}

type graphqlRequest struct {
	Query         string          `json:"query"`
	OperationName string          `json:"operationName"`
	Variables     json.RawMessage `json:"variables"`
}

type graphqlError struct {
	Message string `json:"message"`
}

type graphqlResponse struct {
	Data   any            `json:"data"`
	Errors []graphqlError `json:"errors,omitempty"`
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	if r.Method != http.MethodPost {
		http.Error(w, "POST only", http.StatusMethodNotAllowed)
		return
	}
	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "failed to read body", http.StatusBadRequest)
		return
	}
	var req graphqlRequest
	if err := json.Unmarshal(body, &req); err != nil {
		http.Error(w, "invalid JSON", http.StatusBadRequest)
		return
	}

	res := h.execute(req)
	w.Header().Set("Content-Type", "application/json")
	out, _ := json.Marshal(res)
	_, _ = w.Write(out)

	log.Printf("loandemo op=%q duration=%s errors=%d", req.OperationName, time.Since(start), len(res.Errors))
}

func (h *Handler) execute(req graphqlRequest) graphqlResponse {
	doc, err := language.ParseQuery(req.Query)
	if err != nil {
		return graphqlResponse{Errors: []graphqlError{{Message: err.Error()}}}
	}
	op := doc.Operations.ForName(req.OperationName)
	if op == nil && len(doc.Operations) == 1 {
		op = doc.Operations[0]
	}
	if op == nil {
		return graphqlResponse{Errors: []graphqlError{{Message: "operation not found"}}}
	}

	vars, err := decodeVariables(req.Variables)
	if err != nil {
		return graphqlResponse{Errors: []graphqlError{{Message: "invalid variables"}}}
	}

	data := make(map[string]any, len(op.SelectionSet))
	for _, sel := range op.SelectionSet {
		field, ok := sel.(*language.Field)
		if !ok {
			continue
		}
		key := field.Name
		if field.Alias != "" {
			key = field.Alias
		}
		args, err := resolveArguments(field.Arguments, vars)
		if err != nil {
			return graphqlResponse{Errors: []graphqlError{{Message: err.Error()}}}
		}

		var value any
		switch op.Operation {
		case language.Mutation:
			value, err = h.resolveMutation(field.Name, args)
		case language.Query:
			value, err = h.resolveQuery(field.Name, args)
		default:
			err = fmt.Errorf("unsupported operation %s", op.Operation)
		}
		if err != nil {
			return graphqlResponse{Data: nil, Errors: []graphqlError{{Message: err.Error()}}}
		}
		data[key] = shape(value, field.SelectionSet)
	}
	return graphqlResponse{Data: data}
}

// Query resolvers

func (h *Handler) resolveQuery(field string, args map[string]any) (any, error) {
	switch field {
	case "loanApplication":
		h.store.mu.RLock()
		defer h.store.mu.RUnlock()
		id, _ := args["loanId"].(string)
		app, ok := h.store.applications[id]
		if !ok {
			return nil, nil
		}
		return app.clone(), nil
	case "loanApplications":
		h.store.mu.RLock()
		defer h.store.mu.RUnlock()
		ids := make([]string, 0, len(h.store.applications))
		for id := range h.store.applications {
			ids = append(ids, id)
		}
		sort.Strings(ids)
		apps := make([]*Application, len(ids))
		for i, id := range ids {
			apps[i] = h.store.applications[id].clone()
		}
		return apps, nil
	case "__typename":
		return "Query", nil
	default:
		return nil, fmt.Errorf("unknown query field %q", field)
	}
}

// Mutation resolvers

func (h *Handler) resolveMutation(field string, args map[string]any) (any, error) {
	input, _ := args["input"].(map[string]any)

	switch field {
	case "recordLoanRequested":
		h.store.mu.Lock()
		defer h.store.mu.Unlock()
		if input == nil {
			return nil, fmt.Errorf("input is required")
		}
		id, _ := input["LoanRequestID"].(string)
		if id == "" {
			id = h.store.generateID()
		}
		if _, exists := h.store.applications[id]; exists {
			return nil, fmt.Errorf("loan application %s already exists", id)
		}
		now := time.Now().Format(time.RFC3339)
		app := &Application{
			LoanID:      id,
			Status:      StatusRequested,
			RequestedAt: now,
			UpdatedAt:   now,
		}
		if amount, ok := input["Amount"].(json.Number); ok {
			app.Amount = amount
		}
		h.store.applications[id] = app
		return app.clone(), nil

	case "recordCreditChecked":
		h.store.mu.Lock()
		defer h.store.mu.Unlock()
		app, err := h.lookupLocked(input)
		if err != nil {
			return nil, err
		}
		if score, ok := input["Score"].(json.Number); ok {
			app.CreditScore = score
		}
		app.Status = StatusCreditChecked
		app.UpdatedAt = time.Now().Format(time.RFC3339)
		return app.clone(), nil

	case "recordAutomatedSummary":
		h.store.mu.Lock()
		defer h.store.mu.Unlock()
		app, err := h.lookupLocked(input)
		if err != nil {
			return nil, err
		}
		if summary, ok := input["CreditScoreSummary"].(string); ok {
			app.Summary = summary
		}
		app.Status = StatusSummarized
		app.UpdatedAt = time.Now().Format(time.RFC3339)
		return app.clone(), nil

	default:
		return nil, fmt.Errorf("unknown mutation field %q", field)
	}
}

func (h *Handler) lookupLocked(input map[string]any) (*Application, error) {
	if input == nil {
		return nil, fmt.Errorf("input is required")
	}
	id, _ := input["LoanRequestID"].(string)
	app, ok := h.store.applications[id]
	if !ok {
		return nil, fmt.Errorf("loan application %s not found", id)
	}
	return app, nil
}

// shape filters a resolved value down to the caller's selection set. Lists
// shape each element; scalars pass through.
func shape(value any, sel language.SelectionSet) any {
	switch v := value.(type) {
	case *Application:
		if v == nil {
			return nil
		}
		if len(sel) == 0 {
			return v.LoanID
		}
		out := make(map[string]any, len(sel))
		for _, s := range sel {
			f, ok := s.(*language.Field)
			if !ok {
				continue
			}
			key := f.Name
			if f.Alias != "" {
				key = f.Alias
			}
			out[key] = applicationField(v, f.Name)
		}
		return out
	case []*Application:
		out := make([]any, len(v))
		for i, app := range v {
			out[i] = shape(app, sel)
		}
		return out
	default:
		return v
	}
}

func applicationField(app *Application, name string) any {
	switch name {
	case "loanId":
		return app.LoanID
	case "status":
		return app.Status
	case "amount":
		if app.Amount == "" {
			return nil
		}
		return app.Amount
	case "creditScore":
		if app.CreditScore == "" {
			return nil
		}
		return app.CreditScore
	case "summary":
		if app.Summary == "" {
			return nil
		}
		return app.Summary
	case "requestedAt":
		return app.RequestedAt
	case "updatedAt":
		return app.UpdatedAt
	case "__typename":
		return "LoanApplication"
	default:
		return nil
	}
}

func decodeVariables(raw json.RawMessage) (map[string]any, error) {
	if len(raw) == 0 {
		return map[string]any{}, nil
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var vars map[string]any
	if err := dec.Decode(&vars); err != nil {
		return nil, err
	}
	if vars == nil {
		vars = map[string]any{}
	}
	return vars, nil
}

// resolveArguments converts a field's AST arguments to runtime values,
// substituting variables. The subgraph trusts the gateway's validation and
// only rejects references it cannot satisfy.
func resolveArguments(args language.ArgumentList, vars map[string]any) (map[string]any, error) {
	out := make(map[string]any, len(args))
	for _, a := range args {
		v, err := resolveValue(a.Value, vars)
		if err != nil {
			return nil, err
		}
		out[a.Name] = v
	}
	return out, nil
}

func resolveValue(v *language.Value, vars map[string]any) (any, error) {
	if v == nil {
		return nil, nil
	}
	switch v.Kind {
	case language.Variable:
		bound, ok := vars[v.Raw]
		if !ok {
			return nil, fmt.Errorf("variable $%s is not defined", v.Raw)
		}
		return bound, nil
	case language.IntValue, language.FloatValue:
		return json.Number(v.Raw), nil
	case language.StringValue, language.BlockValue, language.EnumValue:
		return v.Raw, nil
	case language.BooleanValue:
		return v.Raw == "true", nil
	case language.NullValue:
		return nil, nil
	case language.ListValue:
		out := make([]any, len(v.Children))
		for i, c := range v.Children {
			cv, err := resolveValue(c.Value, vars)
			if err != nil {
				return nil, err
			}
			out[i] = cv
		}
		return out, nil
	case language.ObjectValue:
		out := make(map[string]any, len(v.Children))
		for _, c := range v.Children {
			cv, err := resolveValue(c.Value, vars)
			if err != nil {
				return nil, err
			}
			out[c.Name] = cv
		}
		return out, nil
	default:
		return nil, fmt.Errorf("unsupported value kind %d", v.Kind)
	}
}
