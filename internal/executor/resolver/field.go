package resolver

import "encoding/json"

type fieldState uint8

const (
	stateUnset fieldState = iota
	stateNull
	stateValue
)

// Field is a tri-state value: Unset (no opinion), Null (explicitly reset to
// the default) or a Value.
type Field[T any] struct {
	state fieldState
	value T
}

// Unset returns a field that expresses no opinion.
func Unset[T any]() Field[T] { return Field[T]{} }

// Null returns a field explicitly reset to the default.
func Null[T any]() Field[T] { return Field[T]{state: stateNull} }

// Value returns a field holding v.
func Value[T any](v T) Field[T] { return Field[T]{state: stateValue, value: v} }

// FromPtr maps nil to Null and a non-nil pointer to its Value.
func FromPtr[T any](p *T) Field[T] {
	if p == nil {
		return Null[T]()
	}
	return Value(*p)
}

// IsSet reports whether the field is Null or a Value.
func (f Field[T]) IsSet() bool { return f.state != stateUnset }

// IsNull reports whether the field was explicitly reset.
func (f Field[T]) IsNull() bool { return f.state == stateNull }

// Get returns the value and whether one is held.
func (f Field[T]) Get() (T, bool) { return f.value, f.state == stateValue }

// Ptr returns a pointer to a copy of the value, or nil when Unset or Null.
func (f Field[T]) Ptr() *T {
	if f.state != stateValue {
		return nil
	}
	v := f.value
	return &v
}

func (f Field[T]) String() string {
	switch f.state {
	case stateNull:
		return "null"
	case stateValue:
		b, _ := json.Marshal(f.value)
		return string(b)
	default:
		return "unset"
	}
}

// MarshalJSON writes null for Unset and Null. Use omitempty-aware wrappers
// (see SelectionJSON) when the distinction must survive encoding.
func (f Field[T]) MarshalJSON() ([]byte, error) {
	if f.state != stateValue {
		return []byte("null"), nil
	}
	return json.Marshal(f.value)
}

// UnmarshalJSON decodes null as Null and anything else as a Value. A field
// absent from the input stays Unset.
func (f *Field[T]) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*f = Null[T]()
		return nil
	}
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	*f = Value(v)
	return nil
}
