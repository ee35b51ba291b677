package extractor

import (
	"encoding/json"
	"fmt"
	"strings"

	language "github.com/hanpama/mutagraph/internal/language"
	mutation "github.com/hanpama/mutagraph/internal/mutation"
)

// UnboundVariableError reports a variable reference with no binding in the
// current operation. Extraction fails the whole operation on it: persisting
// a null in place of client-supplied data would corrupt the record.
type UnboundVariableError struct {
	Name string
}

func (e *UnboundVariableError) Error() string {
	return fmt.Sprintf("unbound variable $%s", e.Name)
}

// resolveValue converts an AST value into the ordered runtime model,
// substituting every variable reference with a deep copy of its binding.
// Pure function of its inputs.
func resolveValue(v *language.Value, vars mutation.Variables) (any, error) {
	if v == nil {
		return nil, nil
	}
	switch v.Kind {
	case language.Variable:
		name := v.Raw
		bound, ok := vars[name]
		if !ok {
			bound, ok = vars[strings.TrimPrefix(name, "$")]
		}
		if !ok {
			return nil, &UnboundVariableError{Name: strings.TrimPrefix(name, "$")}
		}
		return mutation.Copy(bound), nil
	case language.IntValue, language.FloatValue:
		return json.Number(v.Raw), nil
	case language.StringValue, language.BlockValue:
		return v.Raw, nil
	case language.BooleanValue:
		return v.Raw == "true", nil
	case language.NullValue:
		return nil, nil
	case language.EnumValue:
		return v.Raw, nil
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
		obj := make(mutation.Object, len(v.Children))
		for i, c := range v.Children {
			cv, err := resolveValue(c.Value, vars)
			if err != nil {
				return nil, err
			}
			obj[i] = mutation.Member{Name: c.Name, Value: cv}
		}
		return obj, nil
	default:
		return nil, fmt.Errorf("extractor: unsupported value kind %d", v.Kind)
	}
}

// materializeArguments builds the canonical argument mapping for one field
// invocation. Member order is the textual argument order, never sorted.
func materializeArguments(args language.ArgumentList, vars mutation.Variables) (mutation.Object, error) {
	out := make(mutation.Object, 0, len(args))
	for _, a := range args {
		v, err := resolveValue(a.Value, vars)
		if err != nil {
			return nil, err
		}
		out = append(out, mutation.Member{Name: a.Name, Value: v})
	}
	return out, nil
}
