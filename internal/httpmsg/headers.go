package httpmsg

import "strings"

// Headers is a case-insensitive-lookup header mapping that preserves
// insertion order for reconstruction, per the Request data model: a
// duplicate header name overwrites the earlier value in place (last
// wins), it does not append a second entry. This matches the Request
// type's documented shape (a mapping, not a multi-map).
type Headers struct {
	order []string          // canonical (lowercased) names, first-seen order
	orig  map[string]string // canonical name -> original-case name as first seen
	vals  map[string]string // canonical name -> current value
}

// NewHeaders returns an empty Headers ready for use.
func NewHeaders() *Headers {
	return &Headers{
		orig: make(map[string]string),
		vals: make(map[string]string),
	}
}

// Set stores value under name, overwriting any prior value for the
// same name (case-insensitively) without disturbing its position in
// the insertion order.
func (h *Headers) Set(name, value string) {
	key := strings.ToLower(name)
	if _, exists := h.vals[key]; !exists {
		h.order = append(h.order, key)
		h.orig[key] = name
	}
	h.vals[key] = value
}

// Get returns the value stored for name, case-insensitively, or "" if
// absent.
func (h *Headers) Get(name string) string {
	return h.vals[strings.ToLower(name)]
}

// Has reports whether name is present, case-insensitively.
func (h *Headers) Has(name string) bool {
	_, ok := h.vals[strings.ToLower(name)]
	return ok
}

// Del removes name, case-insensitively.
func (h *Headers) Del(name string) {
	key := strings.ToLower(name)
	if _, ok := h.vals[key]; !ok {
		return
	}
	delete(h.vals, key)
	delete(h.orig, key)
	for i, k := range h.order {
		if k == key {
			h.order = append(h.order[:i], h.order[i+1:]...)
			break
		}
	}
}

// Each calls fn once per header, in original insertion order, with the
// original-case name it was first set with.
func (h *Headers) Each(fn func(name, value string)) {
	for _, key := range h.order {
		fn(h.orig[key], h.vals[key])
	}
}

// Len returns the number of distinct header names.
func (h *Headers) Len() int {
	return len(h.order)
}

// ContainsDirective reports whether the comma-separated value of
// header name contains directive as a case-insensitive substring. It
// is used for the Cache-Control no-store/no-cache/private checks,
// which the spec defines as substring matches rather than strict
// directive-list parsing.
func (h *Headers) ContainsDirective(name, directive string) bool {
	return strings.Contains(strings.ToLower(h.Get(name)), strings.ToLower(directive))
}
