// Package value defines generic structured document used by the stitcher: an
// ordered JSON-like tree with codecs for JSON, BSON and YAML.
package value

import (
	"strconv"
)

// Kind is the type of the Value.
type Kind int

const (
	KindNull Kind = iota
	KindBool
	KindNumber
	KindString
	KindArray
	KindObject
)

func (k Kind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindBool:
		return "boolean"
	case KindNumber:
		return "number"
	case KindString:
		return "string"
	case KindArray:
		return "array"
	case KindObject:
		return "object"
	default:
		return "kind(" + strconv.Itoa(int(k)) + ")"
	}
}

// Value is a single node of the document tree. Concrete types are Null, Bool,
// Number, String, Array and *Object.
type Value interface {
	Kind() Kind
}

type (
	Null   struct{}
	Bool   bool
	String string
	// Number keeps JSON literal as it was read so numbers survive round trip
	// byte for byte.
	Number string
	Array  []Value
)

func (Null) Kind() Kind   { return KindNull }
func (Bool) Kind() Kind   { return KindBool }
func (String) Kind() Kind { return KindString }
func (Number) Kind() Kind { return KindNumber }
func (Array) Kind() Kind  { return KindArray }

// Member is a single key/value pair of an Object.
type Member struct {
	Key   string
	Value Value
}

// Object is a JSON object which remembers order of its keys.
type Object struct {
	members []Member
	index   map[string]int
}

// NewObject creates object with members in the order given. Later duplicates
// replace earlier values but keep the first position.
func NewObject(members ...Member) *Object {
	o := &Object{index: make(map[string]int, len(members))}
	for _, m := range members {
		o.Set(m.Key, m.Value)
	}
	return o
}

func (*Object) Kind() Kind { return KindObject }

// Len returns number of members.
func (o *Object) Len() int {
	if o == nil {
		return 0
	}
	return len(o.members)
}

// Members returns members in document order. Slice must not be modified.
func (o *Object) Members() []Member {
	if o == nil {
		return nil
	}
	return o.members
}

// Get returns value stored under key.
func (o *Object) Get(key string) (Value, bool) {
	if o == nil {
		return nil, false
	}
	i, ok := o.index[key]
	if !ok {
		return nil, false
	}
	return o.members[i].Value, true
}

// Set replaces value for existing key in place or appends new member.
func (o *Object) Set(key string, v Value) {
	if o.index == nil {
		o.index = make(map[string]int)
	}
	if i, ok := o.index[key]; ok {
		o.members[i].Value = v
		return
	}
	o.index[key] = len(o.members)
	o.members = append(o.members, Member{Key: key, Value: v})
}

// Clone makes deep copy of the value.
func Clone(v Value) Value {
	switch t := v.(type) {
	case *Object:
		if t == nil {
			return t
		}
		c := &Object{
			members: make([]Member, len(t.members)),
			index:   make(map[string]int, len(t.members)),
		}
		for i, m := range t.members {
			c.members[i] = Member{Key: m.Key, Value: Clone(m.Value)}
			c.index[m.Key] = i
		}
		return c
	case Array:
		if t == nil {
			return t
		}
		c := make(Array, len(t))
		for i, e := range t {
			c[i] = Clone(e)
		}
		return c
	default:
		// scalars are immutable
		return v
	}
}

// IsContainer reports whether value may have children.
func IsContainer(v Value) bool {
	if v == nil {
		return false
	}
	k := v.Kind()
	return k == KindObject || k == KindArray
}

// Equal compares two values structurally, object key order is significant.
func Equal(a, b Value) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	if a.Kind() != b.Kind() {
		return false
	}
	switch ta := a.(type) {
	case *Object:
		tb := b.(*Object)
		if ta.Len() != tb.Len() {
			return false
		}
		for i, m := range ta.Members() {
			n := tb.members[i]
			if m.Key != n.Key || !Equal(m.Value, n.Value) {
				return false
			}
		}
		return true
	case Array:
		tb := b.(Array)
		if len(ta) != len(tb) {
			return false
		}
		for i := range ta {
			if !Equal(ta[i], tb[i]) {
				return false
			}
		}
		return true
	default:
		return a == b
	}
}
