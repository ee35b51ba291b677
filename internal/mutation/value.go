// Package mutation defines the value model for captured mutation calls.
//
// Argument trees are built from four shapes: scalars (nil, bool, string,
// json.Number), ordered sequences ([]any), and ordered mappings (Object).
// Ordering is load-bearing: the JSON body appended to the event store must
// render arguments and nested object members in the order the client wrote
// them, so mappings are member slices rather than Go maps.
package mutation

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Member is one name/value pair of an Object.
type Member struct {
	Name  string
	Value any
}

// Object is an ordered mapping with unique member names.
// It serializes as a JSON object in member order.
type Object []Member

// Field returns the value of the named member.
func (o Object) Field(name string) (any, bool) {
	for _, m := range o {
		if m.Name == name {
			return m.Value, true
		}
	}
	return nil, false
}

func (o Object) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, m := range o {
		if i > 0 {
			buf.WriteByte(',')
		}
		name, err := json.Marshal(m.Name)
		if err != nil {
			return nil, err
		}
		buf.Write(name)
		buf.WriteByte(':')
		val, err := json.Marshal(m.Value)
		if err != nil {
			return nil, err
		}
		buf.Write(val)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// Copy returns a deep copy of a value tree. Scalars are immutable and
// returned as-is.
func Copy(v any) any {
	switch t := v.(type) {
	case Object:
		out := make(Object, len(t))
		for i, m := range t {
			out[i] = Member{Name: m.Name, Value: Copy(m.Value)}
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = Copy(e)
		}
		return out
	default:
		return v
	}
}

// Variables holds an operation's variable bindings. Values use the same
// node shapes as argument trees.
type Variables map[string]any

// DecodeVariables decodes a JSON variables document, keeping the member
// order of every nested object. A missing or null document yields an empty
// binding set.
func DecodeVariables(data []byte) (Variables, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return Variables{}, nil
	}
	v, err := DecodeValue(data)
	if err != nil {
		return nil, err
	}
	switch t := v.(type) {
	case nil:
		return Variables{}, nil
	case Object:
		vars := make(Variables, len(t))
		for _, m := range t {
			vars[m.Name] = m.Value
		}
		return vars, nil
	default:
		return nil, fmt.Errorf("mutation: variables must be a JSON object, got %T", v)
	}
}

// DecodeValue decodes one JSON value into the ordered value model.
// Numbers become json.Number so literals survive re-serialization exactly.
func DecodeValue(data []byte) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	v, err := decodeValue(dec)
	if err != nil {
		return nil, err
	}
	if dec.More() {
		return nil, fmt.Errorf("mutation: trailing data after JSON value")
	}
	return v, nil
}

func decodeValue(dec *json.Decoder) (any, error) {
	tok, err := dec.Token()
	if err != nil {
		return nil, err
	}
	delim, ok := tok.(json.Delim)
	if !ok {
		// string, json.Number, bool or nil
		return tok, nil
	}
	switch delim {
	case '{':
		var obj Object
		for dec.More() {
			keyTok, err := dec.Token()
			if err != nil {
				return nil, err
			}
			key, ok := keyTok.(string)
			if !ok {
				return nil, fmt.Errorf("mutation: object key is %T, want string", keyTok)
			}
			val, err := decodeValue(dec)
			if err != nil {
				return nil, err
			}
			obj = append(obj, Member{Name: key, Value: val})
		}
		if _, err := dec.Token(); err != nil {
			return nil, err
		}
		return obj, nil
	case '[':
		list := []any{}
		for dec.More() {
			val, err := decodeValue(dec)
			if err != nil {
				return nil, err
			}
			list = append(list, val)
		}
		if _, err := dec.Token(); err != nil {
			return nil, err
		}
		return list, nil
	default:
		return nil, fmt.Errorf("mutation: unexpected token %v", delim)
	}
}
