package tiny

import "vmkit/internal/object"

// HashKey is a comparable identity for a hash key. Strings are kept whole,
// so distinct keys never collide.
type HashKey struct {
	Type object.Type
	Int  int64
	Str  string
}

// Hashable values may key a Hash.
type Hashable interface {
	HashKey() HashKey
}

func (s *String) HashKey() HashKey  { return HashKey{Type: STRING_OBJ, Str: s.Value} }
func (i *Integer) HashKey() HashKey { return HashKey{Type: INTEGER_OBJ, Int: i.Value} }

func (b *Boolean) HashKey() HashKey {
	k := HashKey{Type: BOOLEAN_OBJ}
	if b.Value {
		k.Int = 1
	}
	return k
}

func HashKeyOf(o object.Object) (HashKey, bool) {
	h, ok := o.(Hashable)
	if !ok {
		return HashKey{}, false
	}
	return h.HashKey(), true
}
