package docstore

import (
	"encoding/json"
	"fmt"
	"time"
)

// Kind identifies the type of a field value.
type Kind string

const (
	// KindString is a text value.
	KindString Kind = "string"
	// KindNumber is a numeric value (stored as float64, like JSON).
	KindNumber Kind = "number"
	// KindBool is a boolean value.
	KindBool Kind = "bool"
	// KindTime is a timestamp value.
	KindTime Kind = "timestamp"
	// KindNull is the explicit null value.
	KindNull Kind = "null"
)

// Value is a closed tagged union of the field types a document may hold.
//
// Restricting fields to this union keeps equality and round-trip semantics
// exact: what goes into a collection comes back field-for-field identical,
// with no open-ended dynamic shapes to compare fuzzily.
type Value struct {
	kind Kind
	str  string
	num  float64
	b    bool
	t    time.Time
}

// String creates a text value.
func String(s string) Value { return Value{kind: KindString, str: s} }

// Number creates a numeric value.
func Number(f float64) Value { return Value{kind: KindNumber, num: f} }

// Bool creates a boolean value.
func Bool(b bool) Value { return Value{kind: KindBool, b: b} }

// Time creates a timestamp value, truncated to millisecond precision so a
// persisted value compares equal to the original.
func Time(t time.Time) Value {
	return Value{kind: KindTime, t: t.UTC().Truncate(time.Millisecond)}
}

// Null creates the explicit null value.
func Null() Value { return Value{kind: KindNull} }

// Kind returns the value's type tag. The zero Value reports KindNull.
func (v Value) Kind() Kind {
	if v.kind == "" {
		return KindNull
	}
	return v.kind
}

// AsString returns the text payload and whether the value is a string.
func (v Value) AsString() (string, bool) { return v.str, v.kind == KindString }

// AsNumber returns the numeric payload and whether the value is a number.
func (v Value) AsNumber() (float64, bool) { return v.num, v.kind == KindNumber }

// AsBool returns the boolean payload and whether the value is a bool.
func (v Value) AsBool() (bool, bool) { return v.b, v.kind == KindBool }

// AsTime returns the timestamp payload and whether the value is a timestamp.
func (v Value) AsTime() (time.Time, bool) { return v.t, v.kind == KindTime }

// Equal reports exact equality of kind and payload.
func (v Value) Equal(o Value) bool {
	if v.Kind() != o.Kind() {
		return false
	}
	switch v.Kind() {
	case KindString:
		return v.str == o.str
	case KindNumber:
		return v.num == o.num
	case KindBool:
		return v.b == o.b
	case KindTime:
		return v.t.Equal(o.t)
	default:
		return true // two nulls
	}
}

// timestampWrapper is the wire shape for timestamps. JSON has no native
// timestamp type, so a tagged object keeps them distinguishable from
// plain strings on the way back in.
type timestampWrapper struct {
	Timestamp string `json:"$timestamp"`
}

// MarshalJSON encodes the value as its natural JSON scalar; timestamps
// become a {"$timestamp": RFC3339} object.
func (v Value) MarshalJSON() ([]byte, error) {
	switch v.Kind() {
	case KindString:
		return json.Marshal(v.str)
	case KindNumber:
		return json.Marshal(v.num)
	case KindBool:
		return json.Marshal(v.b)
	case KindTime:
		return json.Marshal(timestampWrapper{Timestamp: v.t.Format(time.RFC3339Nano)})
	default:
		return []byte("null"), nil
	}
}

// UnmarshalJSON decodes any scalar the union covers.
func (v *Value) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*v = Null()
		return nil
	}
	switch data[0] {
	case '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*v = String(s)
		return nil
	case 't', 'f':
		var b bool
		if err := json.Unmarshal(data, &b); err != nil {
			return err
		}
		*v = Bool(b)
		return nil
	case '{':
		var w timestampWrapper
		if err := json.Unmarshal(data, &w); err != nil {
			return fmt.Errorf("unsupported object value: %s", data)
		}
		t, err := time.Parse(time.RFC3339Nano, w.Timestamp)
		if err != nil {
			return fmt.Errorf("invalid timestamp value: %w", err)
		}
		*v = Time(t)
		return nil
	default:
		var f float64
		if err := json.Unmarshal(data, &f); err != nil {
			return fmt.Errorf("unsupported value: %s", data)
		}
		*v = Number(f)
		return nil
	}
}

// Fields is a document's named field mapping.
type Fields map[string]Value

// Clone returns a copy of the mapping. Values are immutable, so a shallow
// copy of the map suffices.
func (f Fields) Clone() Fields {
	if f == nil {
		return nil
	}
	c := make(Fields, len(f))
	for k, v := range f {
		c[k] = v
	}
	return c
}

// Equal reports field-for-field equality.
func (f Fields) Equal(o Fields) bool {
	if len(f) != len(o) {
		return false
	}
	for k, v := range f {
		ov, ok := o[k]
		if !ok || !v.Equal(ov) {
			return false
		}
	}
	return true
}
