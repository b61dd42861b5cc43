package worker

import (
	"encoding/json"
	"fmt"
)

// TaskType selects the kind of work in a request
type TaskType string

// enumeration of task types handled by the background context
const (
	TaskSearch           TaskType = "search"
	TaskFormatProduct    TaskType = "format-product"
	TaskHeavyComputation TaskType = "heavy-computation"
)

// result types sent back by the background context
const (
	ResultSearch      = "search-results"
	ResultFormatted   = "product-formatted"
	ResultComputation = "computation-result"
	ResultError       = "error"
)

// Request is the outbound message {type, payload, taskId}
type Request struct {
	Type    TaskType        `json:"type"`
	Payload json.RawMessage `json:"payload"`
	TaskID  int64           `json:"taskId"`
}

// Response is the inbound message {type, taskId, ...fields}
type Response struct {
	Type   string
	TaskID int64
	Fields map[string]json.RawMessage
}

// MarshalJSON flattens fields next to type and taskId
func (r Response) MarshalJSON() ([]byte, error) {
	out := make(map[string]json.RawMessage, len(r.Fields)+2)
	for k, v := range r.Fields {
		out[k] = v
	}
	typ, err := json.Marshal(r.Type)
	if err != nil {
		return nil, err
	}
	out["type"] = typ
	out["taskId"] = json.RawMessage(fmt.Sprintf("%d", r.TaskID))
	return json.Marshal(out)
}

// UnmarshalJSON splits type and taskId from the result fields
func (r *Response) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	res := Response{Fields: map[string]json.RawMessage{}}
	for k, v := range raw {
		switch k {
		case "type":
			if err := json.Unmarshal(v, &res.Type); err != nil {
				return fmt.Errorf("invalid type: %w", err)
			}
		case "taskId":
			if err := json.Unmarshal(v, &res.TaskID); err != nil {
				return fmt.Errorf("invalid taskId: %w", err)
			}
		default:
			res.Fields[k] = v
		}
	}
	*r = res
	return nil
}

// NewResponse makes a response with fields marshaled from values
func NewResponse(typ string, fields map[string]any) (Response, error) {
	res := Response{Type: typ, Fields: make(map[string]json.RawMessage, len(fields))}
	for k, v := range fields {
		data, err := json.Marshal(v)
		if err != nil {
			return Response{}, fmt.Errorf("can't marshal %s: %w", k, err)
		}
		res.Fields[k] = data
	}
	return res, nil
}

// Result is a response without the correlation id
type Result struct {
	Type   string
	Fields map[string]json.RawMessage
}

// IsError reports a typed error result, e.g. unknown task type
func (r Result) IsError() bool {
	return r.Type == ResultError
}

// Message returns the error message of an error result
func (r Result) Message() string {
	var msg string
	if raw, ok := r.Fields["message"]; ok {
		_ = json.Unmarshal(raw, &msg)
	}
	return msg
}

// Decode unmarshals a result field into v
func (r Result) Decode(field string, v any) error {
	raw, ok := r.Fields[field]
	if !ok {
		return fmt.Errorf("no field %q in %s result", field, r.Type)
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("can't decode %q: %w", field, err)
	}
	return nil
}
