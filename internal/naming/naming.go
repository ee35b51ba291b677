// Package naming derives event-store addressing from GraphQL mutation field
// names: one stream per mutation field and a namespaced, human-readable
// event type.
package naming

import (
	"fmt"
	"strings"
	"unicode"
)

const (
	DefaultStreamPrefix  = "graphql-mutation-"
	DefaultTypeNamespace = "GraphQL."
)

// Policy maps a mutation field name to its stream and event-type
// identifiers. The mapping is pure and total in the field name: identical
// inputs always derive identical names. Empty prefix or namespace is
// allowed and means no prefix.
type Policy struct {
	StreamPrefix  string
	TypeNamespace string
}

// Default returns the policy used in production: streams
// "graphql-mutation-<field>" and event types "GraphQL.<PascalField>".
func Default() Policy {
	return Policy{StreamPrefix: DefaultStreamPrefix, TypeNamespace: DefaultTypeNamespace}
}

// Names holds the derived identifiers for one mutation field.
type Names struct {
	Stream    string
	EventType string
}

// Names derives the stream and event type for a field. The stream keeps the
// raw field name so all events of one mutation kind share one ordered
// stream; the event type uses a PascalCase rendering so a human scanning
// the store can map it back to the schema field without a lookup table.
func (p Policy) Names(field string) Names {
	return Names{
		Stream:    p.StreamPrefix + field,
		EventType: p.TypeNamespace + pascal(field),
	}
}

// CollisionError reports two distinct mutation fields deriving the same
// identifier under one policy.
type CollisionError struct {
	FieldA     string
	FieldB     string
	Identifier string
}

func (e *CollisionError) Error() string {
	return fmt.Sprintf("naming: mutation fields %q and %q both derive %q", e.FieldA, e.FieldB, e.Identifier)
}

// Validate checks the policy against the full set of declared mutation
// fields. It runs at schema-load time, never per request: an empty field
// name or two distinct fields sharing a derived stream or event type is a
// fatal configuration error.
func (p Policy) Validate(fields []string) error {
	streams := make(map[string]string, len(fields))
	types := make(map[string]string, len(fields))
	for _, f := range fields {
		if f == "" {
			return fmt.Errorf("naming: empty mutation field name")
		}
		n := p.Names(f)
		if prev, ok := streams[n.Stream]; ok && prev != f {
			return &CollisionError{FieldA: prev, FieldB: f, Identifier: n.Stream}
		}
		streams[n.Stream] = f
		if prev, ok := types[n.EventType]; ok && prev != f {
			return &CollisionError{FieldA: prev, FieldB: f, Identifier: n.EventType}
		}
		types[n.EventType] = f
	}
	return nil
}

// pascal upper-cases the first rune and every rune following a "_" or "-"
// separator, dropping the separators. camelCase field names keep their
// interior casing.
func pascal(field string) string {
	var b strings.Builder
	b.Grow(len(field))
	up := true
	for _, r := range field {
		if r == '_' || r == '-' {
			up = true
			continue
		}
		if up {
			b.WriteRune(unicode.ToUpper(r))
			up = false
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
