// Package value defines the protocol-agnostic JSON-like tree used for every
// dynamic value in the gateway: request fields, subrequest results, and
// interpolation intermediates.
package value

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// Kind identifies a Value variant.
type Kind int

const (
	KindNull Kind = iota
	KindBool
	KindInteger
	KindFloat
	KindString
	KindArray
	KindObject
)

// String returns the name of the kind.
func (k Kind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindBool:
		return "bool"
	case KindInteger:
		return "integer"
	case KindFloat:
		return "float"
	case KindString:
		return "string"
	case KindArray:
		return "array"
	case KindObject:
		return "object"
	default:
		return "unknown"
	}
}

// Value is a node in the tree. The closed set of implementations is
// Null, Bool, Integer, Float, String, Array and *Object.
type Value interface {
	Kind() Kind
}

// Null is the absent value.
type Null struct{}

func (Null) Kind() Kind { return KindNull }

// Bool is a boolean value.
type Bool bool

func (Bool) Kind() Kind { return KindBool }

// Integer is a 64-bit signed integer value.
type Integer int64

func (Integer) Kind() Kind { return KindInteger }

// Float is a 64-bit floating point value.
type Float float64

func (Float) Kind() Kind { return KindFloat }

// String is a text value.
type String string

func (String) Kind() Kind { return KindString }

// Array is an ordered sequence of values.
type Array []Value

func (Array) Kind() Kind { return KindArray }

// Object is a mapping from string keys to values. Insertion order is
// preserved and reproduced by Encode.
type Object struct {
	keys   []string
	fields map[string]Value
}

// NewObject creates an empty object.
func NewObject() *Object {
	return &Object{fields: make(map[string]Value)}
}

func (*Object) Kind() Kind { return KindObject }

// Set stores a field, appending the key on first insertion.
func (o *Object) Set(key string, v Value) *Object {
	if o.fields == nil {
		o.fields = make(map[string]Value)
	}
	if _, ok := o.fields[key]; !ok {
		o.keys = append(o.keys, key)
	}
	o.fields[key] = v
	return o
}

// Get returns the field value and whether the key is present.
func (o *Object) Get(key string) (Value, bool) {
	if o == nil || o.fields == nil {
		return Null{}, false
	}
	v, ok := o.fields[key]
	if !ok {
		return Null{}, false
	}
	return v, true
}

// Has reports whether the key is present.
func (o *Object) Has(key string) bool {
	_, ok := o.Get(key)
	return ok
}

// Delete removes a field if present.
func (o *Object) Delete(key string) {
	if o == nil || o.fields == nil {
		return
	}
	if _, ok := o.fields[key]; !ok {
		return
	}
	delete(o.fields, key)
	for i, k := range o.keys {
		if k == key {
			o.keys = append(o.keys[:i], o.keys[i+1:]...)
			break
		}
	}
}

// Keys returns the keys in insertion order.
func (o *Object) Keys() []string {
	if o == nil {
		return nil
	}
	keys := make([]string, len(o.keys))
	copy(keys, o.keys)
	return keys
}

// Len returns the number of fields.
func (o *Object) Len() int {
	if o == nil {
		return 0
	}
	return len(o.keys)
}

// Equal reports structural equality. Values of different kinds are never
// equal; object comparison ignores key order.
func Equal(a, b Value) bool {
	if a == nil {
		a = Null{}
	}
	if b == nil {
		b = Null{}
	}
	if a.Kind() != b.Kind() {
		return false
	}
	switch av := a.(type) {
	case Null:
		return true
	case Bool:
		return av == b.(Bool)
	case Integer:
		return av == b.(Integer)
	case Float:
		return av == b.(Float)
	case String:
		return av == b.(String)
	case Array:
		bv := b.(Array)
		if len(av) != len(bv) {
			return false
		}
		for i := range av {
			if !Equal(av[i], bv[i]) {
				return false
			}
		}
		return true
	case *Object:
		bv := b.(*Object)
		if av.Len() != bv.Len() {
			return false
		}
		for _, k := range av.keys {
			bf, ok := bv.Get(k)
			if !ok || !Equal(av.fields[k], bf) {
				return false
			}
		}
		return true
	}
	return false
}

// FromAny converts a decoded Go value (as produced by encoding/json,
// database drivers, or the BSON decoder) into a Value. Map keys are sorted
// since Go maps carry no insertion order.
func FromAny(v any) Value {
	switch t := v.(type) {
	case nil:
		return Null{}
	case Value:
		return t
	case bool:
		return Bool(t)
	case string:
		return String(t)
	case []byte:
		return String(t)
	case int:
		return Integer(t)
	case int32:
		return Integer(t)
	case int64:
		return Integer(t)
	case uint64:
		return Integer(int64(t))
	case float32:
		return Float(t)
	case float64:
		return Float(t)
	case json.Number:
		return fromNumber(t)
	case []any:
		arr := make(Array, len(t))
		for i, e := range t {
			arr[i] = FromAny(e)
		}
		return arr
	case map[string]any:
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		obj := NewObject()
		for _, k := range keys {
			obj.Set(k, FromAny(t[k]))
		}
		return obj
	default:
		// Last resort for driver-specific types.
		return String(fmt.Sprint(v))
	}
}

// fromNumber converts a json.Number, keeping integral values integral.
func fromNumber(n json.Number) Value {
	s := n.String()
	if !strings.ContainsAny(s, ".eE") {
		if i, err := strconv.ParseInt(s, 10, 64); err == nil {
			return Integer(i)
		}
	}
	f, err := n.Float64()
	if err != nil {
		return String(s)
	}
	return Float(f)
}
