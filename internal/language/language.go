package language

import (
	"github.com/vektah/gqlparser/v2"
	"github.com/vektah/gqlparser/v2/ast"
	"github.com/vektah/gqlparser/v2/parser"
)

func ParseQuery(source string) (*QueryDocument, error) {
	doc, err := parser.ParseQuery(&ast.Source{Input: source})
	if err != nil {
		return nil, err
	}
	return doc, nil
}

func ParseSchema(name, source string) (*SchemaDocument, error) {
	doc, err := parser.ParseSchema(&ast.Source{Name: name, Input: source})
	if err != nil {
		return nil, err
	}
	return doc, nil
}

// LoadSchema parses and validates an SDL document, including the standard
// prelude, into a usable schema.
func LoadSchema(name, source string) (*Schema, error) {
	return gqlparser.LoadSchema(&ast.Source{Name: name, Input: source})
}

// LoadQuery parses source and validates it against schema.
func LoadQuery(schema *Schema, source string) (*QueryDocument, ErrorList) {
	return gqlparser.LoadQuery(schema, source)
}

// MutationFieldNames lists the mutation fields declared by the schema in
// declaration order, skipping introspection meta fields. Returns nil when
// the schema declares no mutation root.
func MutationFieldNames(s *Schema) []string {
	if s == nil || s.Mutation == nil {
		return nil
	}
	names := make([]string, 0, len(s.Mutation.Fields))
	for _, f := range s.Mutation.Fields {
		if len(f.Name) >= 2 && f.Name[:2] == "__" {
			continue
		}
		names = append(names, f.Name)
	}
	return names
}
