package harness

import (
	"encoding/json"
	"fmt"
	"math"

	"github.com/tidwall/gjson"
)

// Event is a job description as delivered by the caller. Fields are read
// by gjson path ("bucket.input", "object.key") and only when a stage needs
// them.
type Event struct {
	raw  []byte
	root gjson.Result
}

// ParseEvent validates data as a JSON object.
func ParseEvent(data []byte) (*Event, error) {
	if !gjson.ValidBytes(data) {
		return nil, malformed("invalid JSON")
	}

	root := gjson.ParseBytes(data)
	if !root.IsObject() {
		return nil, malformed("event is %s, want object", root.Type)
	}

	return &Event{raw: append([]byte(nil), data...), root: root}, nil
}

// NewEvent builds an Event from an already decoded record.
func NewEvent(fields map[string]any) (*Event, error) {
	data, err := json.Marshal(fields)
	if err != nil {
		return nil, malformed("encode event: %v", err)
	}

	return ParseEvent(data)
}

// Has reports whether path is present.
func (e *Event) Has(path string) bool {
	return e.root.Get(path).Exists()
}

// String returns the non-empty string at path.
func (e *Event) String(path string) (string, error) {
	r := e.root.Get(path)
	if !r.Exists() {
		return "", malformed("missing field %q", path)
	}
	if r.Type != gjson.String {
		return "", malformed("field %q is %s, want string", path, r.Type)
	}
	if r.Str == "" {
		return "", malformed("field %q is empty", path)
	}

	return r.Str, nil
}

// Int returns the integral number at path.
func (e *Event) Int(path string) (int64, error) {
	r := e.root.Get(path)
	if !r.Exists() {
		return 0, malformed("missing field %q", path)
	}
	if r.Type != gjson.Number || r.Num != math.Trunc(r.Num) {
		return 0, malformed("field %q is %s, want integer", path, r.Raw)
	}

	return r.Int(), nil
}

// Float returns the number at path.
func (e *Event) Float(path string) (float64, error) {
	r := e.root.Get(path)
	if !r.Exists() {
		return 0, malformed("missing field %q", path)
	}
	if r.Type != gjson.Number {
		return 0, malformed("field %q is %s, want number", path, r.Raw)
	}

	return r.Num, nil
}

// Raw returns the event as received.
func (e *Event) Raw() []byte {
	return e.raw
}

func (e *Event) MarshalJSON() ([]byte, error) {
	if e == nil || e.raw == nil {
		return []byte("null"), nil
	}

	return e.raw, nil
}

func (e *Event) UnmarshalJSON(data []byte) error {
	parsed, err := ParseEvent(data)
	if err != nil {
		return fmt.Errorf("decode event: %w", err)
	}

	*e = *parsed

	return nil
}
