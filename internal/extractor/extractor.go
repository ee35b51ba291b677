// Package extractor walks parsed GraphQL operations and produces one
// mutation.Call per top-level mutation field, with arguments fully
// variable-resolved and naming derived.
package extractor

import (
	"encoding/json"
	"fmt"
	"strings"

	language "github.com/hanpama/mutagraph/internal/language"
	mutation "github.com/hanpama/mutagraph/internal/mutation"
	naming "github.com/hanpama/mutagraph/internal/naming"
)

type Extractor struct {
	policy      naming.Policy
	correlation [][]string
}

type Option func(*Extractor)

// WithCorrelationPaths sets dotted argument paths probed for a correlation
// identifier, e.g. "input.loanId" or "metadata.correlationId". The first
// path that resolves to a non-empty string or number wins.
func WithCorrelationPaths(paths ...string) Option {
	return func(x *Extractor) {
		for _, p := range paths {
			if p == "" {
				continue
			}
			x.correlation = append(x.correlation, strings.Split(p, "."))
		}
	}
}

func New(policy naming.Policy, opts ...Option) *Extractor {
	x := &Extractor{policy: policy}
	for _, o := range opts {
		o(x)
	}
	return x
}

// Extract produces the calls for the selected operation of doc, in source
// order: one per top-level mutation field, flattening fragments at the
// mutation root. Operations of query or subscription kind, and documents
// without a matching operation, yield an empty result.
//
// Any resolution failure fails the whole operation; no partial sequences
// are returned.
func (x *Extractor) Extract(doc *language.QueryDocument, operationName string, vars mutation.Variables) ([]mutation.Call, error) {
	if doc == nil {
		return nil, nil
	}
	op := doc.Operations.ForName(operationName)
	if op == nil && len(doc.Operations) == 1 {
		op = doc.Operations[0]
	}
	if op == nil || op.Operation != language.Mutation {
		return nil, nil
	}

	fields, err := collectFields(doc, op.SelectionSet, map[string]bool{})
	if err != nil {
		return nil, err
	}
	calls := make([]mutation.Call, 0, len(fields))
	for _, f := range fields {
		args, err := materializeArguments(f.Arguments, vars)
		if err != nil {
			return nil, err
		}
		c := mutation.Call{
			OperationName:  op.Name,
			FieldName:      f.Name,
			Arguments:      args,
			SelectedFields: selectedFields(f.SelectionSet),
			CorrelationID:  x.correlationFrom(args),
		}
		if f.Alias != "" && f.Alias != f.Name {
			c.Alias = f.Alias
		}
		n := x.policy.Names(f.Name)
		c.Stream = n.Stream
		c.EventType = n.EventType
		calls = append(calls, c)
	}
	return calls, nil
}

// collectFields flattens the mutation root selection set in document order.
// Each named fragment is expanded at most once.
func collectFields(doc *language.QueryDocument, ss language.SelectionSet, seen map[string]bool) ([]*language.Field, error) {
	var fields []*language.Field
	for _, sel := range ss {
		switch s := sel.(type) {
		case *language.Field:
			fields = append(fields, s)
		case *language.InlineFragment:
			sub, err := collectFields(doc, s.SelectionSet, seen)
			if err != nil {
				return nil, err
			}
			fields = append(fields, sub...)
		case *language.FragmentSpread:
			if seen[s.Name] {
				continue
			}
			seen[s.Name] = true
			frag := doc.Fragments.ForName(s.Name)
			if frag == nil {
				return nil, fmt.Errorf("extractor: undefined fragment %q", s.Name)
			}
			sub, err := collectFields(doc, frag.SelectionSet, seen)
			if err != nil {
				return nil, err
			}
			fields = append(fields, sub...)
		}
	}
	return fields, nil
}

// selectedFields lists the response keys of the field's immediate
// sub-selection, in source order.
func selectedFields(ss language.SelectionSet) []string {
	if len(ss) == 0 {
		return nil
	}
	keys := make([]string, 0, len(ss))
	for _, sel := range ss {
		f, ok := sel.(*language.Field)
		if !ok {
			continue
		}
		if f.Alias != "" && f.Alias != f.Name {
			keys = append(keys, f.Alias)
		} else {
			keys = append(keys, f.Name)
		}
	}
	if len(keys) == 0 {
		return nil
	}
	return keys
}

func (x *Extractor) correlationFrom(args mutation.Object) string {
	for _, path := range x.correlation {
		v, ok := lookupPath(args, path)
		if !ok {
			continue
		}
		switch t := v.(type) {
		case string:
			if t != "" {
				return t
			}
		case json.Number:
			return t.String()
		}
	}
	return ""
}

func lookupPath(args mutation.Object, path []string) (any, bool) {
	var cur any = args
	for _, seg := range path {
		obj, ok := cur.(mutation.Object)
		if !ok {
			return nil, false
		}
		cur, ok = obj.Field(seg)
		if !ok {
			return nil, false
		}
	}
	return cur, true
}
