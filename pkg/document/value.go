// Package document implements the tagged JSON value that backs a jsondb
// document tree: null, bool, number, string, ordered array, and ordered
// object. All other packages in this module traverse, clone, and compare
// documents exclusively through this type.
package document

import "fmt"

// Kind identifies which variant a [Value] holds.
type Kind uint8

const (
	Null Kind = iota
	Bool
	Number
	String
	Array
	Object
)

// String implements fmt.Stringer.
func (k Kind) String() string {
	switch k {
	case Null:
		return "null"
	case Bool:
		return "bool"
	case Number:
		return "number"
	case String:
		return "string"
	case Array:
		return "array"
	case Object:
		return "object"
	default:
		return fmt.Sprintf("Kind(%d)", uint8(k))
	}
}

// Value is a dynamically-typed JSON value.
//
// Numbers preserve the integer-vs-float distinction present in the source:
// an integer literal (or a value produced by [NewInt]) round-trips as an
// integer, never silently widened to float64. This matters because a
// float64 cannot exactly represent every int64, and JSON documents commonly
// carry identifiers or counters that must survive a store/reload cycle
// unchanged.
type Value struct {
	kind Kind

	b bool
	// isInt distinguishes an integer Number from a float Number.
	isInt bool
	i     int64
	f     float64
	s     string

	arr []*Value
	// keys preserves object key insertion order; obj holds the values.
	keys []string
	obj  map[string]*Value
}

// NewNull returns the JSON null value.
func NewNull() *Value { return &Value{kind: Null} }

// NewBool returns a JSON boolean value.
func NewBool(b bool) *Value { return &Value{kind: Bool, b: b} }

// NewInt returns a JSON number value that preserves integer representation.
func NewInt(i int64) *Value { return &Value{kind: Number, isInt: true, i: i} }

// NewFloat returns a JSON number value stored as a float64.
func NewFloat(f float64) *Value { return &Value{kind: Number, f: f} }

// NewString returns a JSON string value.
func NewString(s string) *Value { return &Value{kind: String, s: s} }

// NewArray returns a JSON array value containing the given elements in order.
// The slice is copied; callers may reuse it afterward.
func NewArray(elems ...*Value) *Value {
	v := &Value{kind: Array, arr: make([]*Value, len(elems))}
	copy(v.arr, elems)

	return v
}

// NewObject returns an empty JSON object value.
func NewObject() *Value {
	return &Value{kind: Object, obj: make(map[string]*Value)}
}

// Kind reports which variant v holds.
func (v *Value) Kind() Kind {
	if v == nil {
		return Null
	}

	return v.kind
}

// IsNull reports whether v is JSON null (or the nil pointer, which is
// treated as null throughout this package).
func (v *Value) IsNull() bool { return v == nil || v.kind == Null }

// Bool returns the boolean value and true if v is a [Bool].
func (v *Value) Bool() (bool, bool) {
	if v == nil || v.kind != Bool {
		return false, false
	}

	return v.b, true
}

// Int returns the value as an int64 and true if v is a [Number]. A float
// number is truncated toward zero.
func (v *Value) Int() (int64, bool) {
	if v == nil || v.kind != Number {
		return 0, false
	}

	if v.isInt {
		return v.i, true
	}

	return int64(v.f), true
}

// Float returns the value as a float64 and true if v is a [Number].
func (v *Value) Float() (float64, bool) {
	if v == nil || v.kind != Number {
		return 0, false
	}

	if v.isInt {
		return float64(v.i), true
	}

	return v.f, true
}

// IsIntNumber reports whether v is a [Number] stored as an integer.
func (v *Value) IsIntNumber() bool {
	return v != nil && v.kind == Number && v.isInt
}

// String returns the string value and true if v is a [String].
func (v *Value) String() (string, bool) {
	if v == nil || v.kind != String {
		return "", false
	}

	return v.s, true
}

// Len returns the number of elements (array) or keys (object). Returns 0
// for any other kind.
func (v *Value) Len() int {
	if v == nil {
		return 0
	}

	switch v.kind {
	case Array:
		return len(v.arr)
	case Object:
		return len(v.keys)
	default:
		return 0
	}
}

// Index returns the i-th array element, or nil if v is not an array or i is
// out of range.
func (v *Value) Index(i int) *Value {
	if v == nil || v.kind != Array || i < 0 || i >= len(v.arr) {
		return nil
	}

	return v.arr[i]
}

// Elements returns the array elements in order. Returns nil if v is not an
// array. The returned slice must not be mutated by the caller.
func (v *Value) Elements() []*Value {
	if v == nil || v.kind != Array {
		return nil
	}

	return v.arr
}

// AppendElement appends elem to an array value in place.
func (v *Value) AppendElement(elem *Value) {
	v.arr = append(v.arr, elem)
}

// SetIndex replaces the i-th array element in place. Panics if i is out of
// range; callers are expected to range-check via [Value.Len] first.
func (v *Value) SetIndex(i int, elem *Value) {
	v.arr[i] = elem
}

// RemoveIndex removes the i-th array element in place, preserving order of
// the remaining elements.
func (v *Value) RemoveIndex(i int) {
	v.arr = append(v.arr[:i], v.arr[i+1:]...)
}

// Get returns the value for key in an object, and true if the key is
// present. Returns (nil, false) if v is not an object or key is absent.
func (v *Value) Get(key string) (*Value, bool) {
	if v == nil || v.kind != Object {
		return nil, false
	}

	val, ok := v.obj[key]

	return val, ok
}

// Keys returns the object's keys in insertion order. Returns nil if v is
// not an object.
func (v *Value) Keys() []string {
	if v == nil || v.kind != Object {
		return nil
	}

	return v.keys
}

// Set inserts or overwrites key in an object value in place. Preserves the
// existing position of key if already present, otherwise appends it.
func (v *Value) Set(key string, val *Value) {
	if v.obj == nil {
		v.obj = make(map[string]*Value)
	}

	if _, exists := v.obj[key]; !exists {
		v.keys = append(v.keys, key)
	}

	v.obj[key] = val
}

// Delete removes key from an object value in place. Returns true if key was
// present.
func (v *Value) Delete(key string) bool {
	if v.kind != Object {
		return false
	}

	if _, ok := v.obj[key]; !ok {
		return false
	}

	delete(v.obj, key)

	for i, k := range v.keys {
		if k == key {
			v.keys = append(v.keys[:i], v.keys[i+1:]...)

			break
		}
	}

	return true
}

// Clone returns a deep copy of v. Passed by [Engine.Transaction] to user
// callbacks so they may mutate freely without affecting the live document.
func (v *Value) Clone() *Value {
	if v == nil {
		return nil
	}

	clone := &Value{kind: v.kind, b: v.b, isInt: v.isInt, i: v.i, f: v.f, s: v.s}

	if v.kind == Array {
		clone.arr = make([]*Value, len(v.arr))
		for i, e := range v.arr {
			clone.arr[i] = e.Clone()
		}
	}

	if v.kind == Object {
		clone.keys = make([]string, len(v.keys))
		copy(clone.keys, v.keys)

		clone.obj = make(map[string]*Value, len(v.obj))
		for k, val := range v.obj {
			clone.obj[k] = val.Clone()
		}
	}

	return clone
}

// Equal reports whether v and other are deeply structurally equal: same
// kind, same scalar value (an integer Number and a float Number with the
// same numeric value are NOT equal - 1 != 1.0, matching JSON-level identity
// rather than numeric identity), same array elements in order, and same
// object entries regardless of key order.
func Equal(v, other *Value) bool {
	vKind, otherKind := (*Value)(nil).kindOf(v), (*Value)(nil).kindOf(other)
	if vKind != otherKind {
		return false
	}

	switch vKind {
	case Null:
		return true
	case Bool:
		return v.b == other.b
	case Number:
		if v.isInt != other.isInt {
			return false
		}

		if v.isInt {
			return v.i == other.i
		}

		return v.f == other.f
	case String:
		return v.s == other.s
	case Array:
		if len(v.arr) != len(other.arr) {
			return false
		}

		for i := range v.arr {
			if !Equal(v.arr[i], other.arr[i]) {
				return false
			}
		}

		return true
	case Object:
		if len(v.keys) != len(other.keys) {
			return false
		}

		for k, val := range v.obj {
			otherVal, ok := other.obj[k]
			if !ok || !Equal(val, otherVal) {
				return false
			}
		}

		return true
	default:
		return false
	}
}

func (*Value) kindOf(v *Value) Kind {
	if v == nil {
		return Null
	}

	return v.kind
}

// FromGo converts a native Go value (as produced by encoding/json.Unmarshal
// into an any, or passed directly by a caller of [Engine.Set]) into a
// [Value]. Supported inputs: nil, bool, string, int/int64/float64,
// []any, map[string]any, and *Value (returned as-is).
func FromGo(v any) (*Value, error) {
	switch val := v.(type) {
	case nil:
		return NewNull(), nil
	case *Value:
		return val, nil
	case bool:
		return NewBool(val), nil
	case string:
		return NewString(val), nil
	case int:
		return NewInt(int64(val)), nil
	case int64:
		return NewInt(val), nil
	case float64:
		return NewFloat(val), nil
	case []any:
		out := NewArray()
		for _, e := range val {
			ev, err := FromGo(e)
			if err != nil {
				return nil, err
			}

			out.AppendElement(ev)
		}

		return out, nil
	case map[string]any:
		out := NewObject()
		for k, e := range val {
			ev, err := FromGo(e)
			if err != nil {
				return nil, err
			}

			out.Set(k, ev)
		}

		return out, nil
	default:
		return nil, fmt.Errorf("document: unsupported Go value of type %T", v)
	}
}

// ToGo converts v into a native Go value suitable for encoding/json or
// general inspection: nil, bool, string, int64, float64, []any, or
// map[string]any.
func ToGo(v *Value) any {
	if v == nil {
		return nil
	}

	switch v.kind {
	case Null:
		return nil
	case Bool:
		return v.b
	case Number:
		if v.isInt {
			return v.i
		}

		return v.f
	case String:
		return v.s
	case Array:
		out := make([]any, len(v.arr))
		for i, e := range v.arr {
			out[i] = ToGo(e)
		}

		return out
	case Object:
		out := make(map[string]any, len(v.keys))
		for _, k := range v.keys {
			out[k] = ToGo(v.obj[k])
		}

		return out
	default:
		return nil
	}
}
