package mutation

import "encoding/json"

// Call is the immutable record of one mutation field invocation. It is
// constructed once per top-level mutation field of an operation, handed to
// exactly one sink dispatch, and never mutated afterwards.
//
// Arguments holds exactly the argument object the caller supplied for the
// field, after variable substitution and nothing else: no defaulting, no
// renaming, no coercion. Stream and EventType are derived addressing, not
// part of the persisted body.
type Call struct {
	OperationName  string   `json:"operationName,omitempty"`
	FieldName      string   `json:"fieldName"`
	Alias          string   `json:"alias,omitempty"`
	CorrelationID  string   `json:"correlationId,omitempty"`
	Arguments      Object   `json:"arguments"`
	SelectedFields []string `json:"selectedFields,omitempty"`

	Stream    string `json:"-"`
	EventType string `json:"-"`
}

// Body renders the canonical JSON document appended to the event store.
func (c Call) Body() ([]byte, error) {
	return json.Marshal(c)
}
