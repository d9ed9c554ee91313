package amfvalue

// Trait is a record's shape descriptor (spec.md §3): a class alias (empty
// for an anonymous object), the dynamic/externalizable flags, and the
// ordered member list. The trait table in a session is an insertion-ordered
// append-only list of these, compared structurally.
type Trait struct {
	// Alias is the wire class name. Empty means "anonymous object".
	Alias string

	// Dynamic means the object may carry properties beyond Members.
	// AMF0 objects are always dynamic — AMF0 has no sealed/dynamic
	// distinction.
	Dynamic bool

	// Externalizable means a custom serializer owns the body; this
	// module never produces or consumes externalizable traits (it
	// fails closed with *UnsupportedError per spec.md §4.D).
	Externalizable bool

	// Members is the ordered list of sealed property names.
	Members []string
}

// Equal reports whether two traits are structurally identical, the
// equality spec.md §3 requires for trait-table interning and reuse.
func (t Trait) Equal(o Trait) bool {
	if t.Alias != o.Alias || t.Dynamic != o.Dynamic || t.Externalizable != o.Externalizable {
		return false
	}
	if len(t.Members) != len(o.Members) {
		return false
	}
	for i, m := range t.Members {
		if o.Members[i] != m {
			return false
		}
	}
	return true
}

// Anonymous reports whether the trait carries no class alias.
func (t Trait) Anonymous() bool {
	return t.Alias == ""
}
