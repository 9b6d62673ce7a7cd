package utils

// SeenFilter remembers strings that were already emitted.
// Not safe for concurrent use.
type SeenFilter struct {
	seen map[string]struct{}
}

// NewSeenFilter creates an empty filter.
func NewSeenFilter() *SeenFilter {
	return &SeenFilter{seen: make(map[string]struct{})}
}

// ShouldInclude returns true the first time s is offered and false afterwards.
func (f *SeenFilter) ShouldInclude(s string) bool {
	if _, ok := f.seen[s]; ok {
		return false
	}
	f.seen[s] = struct{}{}
	return true
}

// Unique returns items without repeats, keeping first occurrences in order.
func Unique(items []string) []string {
	f := NewSeenFilter()
	out := make([]string, 0, len(items))
	for _, s := range items {
		if f.ShouldInclude(s) {
			out = append(out, s)
		}
	}
	return out
}
