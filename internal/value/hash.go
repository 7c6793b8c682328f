package value

// Hash maps field -> value, both byte strings. Insertion order is not
// an observable invariant, so a plain map suffices.
type Hash struct {
	fields map[string][]byte
}

func (*Hash) Kind() Kind { return KindHash }

func NewHash() *Hash {
	return &Hash{fields: make(map[string][]byte)}
}

func (h *Hash) Len() int { return len(h.fields) }

// Set stores field=val, returning true if the field was newly created.
func (h *Hash) Set(field string, val []byte) bool {
	_, existed := h.fields[field]
	h.fields[field] = val
	return !existed
}

func (h *Hash) Get(field string) ([]byte, bool) {
	v, ok := h.fields[field]
	return v, ok
}

func (h *Hash) Del(field string) bool {
	if _, ok := h.fields[field]; !ok {
		return false
	}
	delete(h.fields, field)
	return true
}

func (h *Hash) Exists(field string) bool {
	_, ok := h.fields[field]
	return ok
}

// All returns every field/value pair; order is unspecified.
func (h *Hash) All() map[string][]byte { return h.fields }

func (h *Hash) Fields() []string {
	out := make([]string, 0, len(h.fields))
	for f := range h.fields {
		out = append(out, f)
	}
	return out
}
