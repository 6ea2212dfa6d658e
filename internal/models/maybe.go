package models

import "encoding/json"

// Kind tells how a registry reported a field
type Kind int

const (
	KindAbsent Kind = iota
	KindScalar
	KindList
)

func (k Kind) String() string {
	switch k {
	case KindScalar:
		return "scalar"
	case KindList:
		return "list"
	default:
		return "absent"
	}
}

// Maybe holds a registry field that may be missing, a single value, or
// several values in the order the registry returned them.
type Maybe[T any] struct {
	kind   Kind
	values []T
}

// Absent returns an empty field
func Absent[T any]() Maybe[T] {
	return Maybe[T]{}
}

// Scalar returns a field holding a single value
func Scalar[T any](v T) Maybe[T] {
	return Maybe[T]{kind: KindScalar, values: []T{v}}
}

// List returns a field holding values in order. No values means Absent.
func List[T any](vs ...T) Maybe[T] {
	if len(vs) == 0 {
		return Maybe[T]{}
	}
	values := make([]T, len(vs))
	copy(values, vs)
	return Maybe[T]{kind: KindList, values: values}
}

// Kind returns how the field was reported
func (m Maybe[T]) Kind() Kind {
	return m.kind
}

// IsList reports whether the registry returned several values
func (m Maybe[T]) IsList() bool {
	return m.kind == KindList
}

// First returns the scalar value or the first list element
func (m Maybe[T]) First() (T, bool) {
	if len(m.values) == 0 {
		var zero T
		return zero, false
	}
	return m.values[0], true
}

// Values returns a copy of the held values
func (m Maybe[T]) Values() []T {
	if len(m.values) == 0 {
		return nil
	}
	out := make([]T, len(m.values))
	copy(out, m.values)
	return out
}

// MarshalJSON encodes Absent as null, Scalar as the value and List as an array
func (m Maybe[T]) MarshalJSON() ([]byte, error) {
	switch m.kind {
	case KindScalar:
		return json.Marshal(m.values[0])
	case KindList:
		return json.Marshal(m.values)
	default:
		return []byte("null"), nil
	}
}
