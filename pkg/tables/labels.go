package tables

import "github.com/bastiangx/pcserve/internal/utils"

// DefaultAxisTitles names the seven positions of a Medical and Surgical code.
// Tables in other sections declare their own titles, which take precedence.
var DefaultAxisTitles = [utils.CodeLength]string{
	"Section",
	"Body System",
	"Operation",
	"Body Part",
	"Approach",
	"Device",
	"Qualifier",
}

type labelKey struct {
	pos int
	ch  byte
}

type scopedKey struct {
	table string
	pos   int
	ch    byte
}

// LabelStore maps (axis position, character) to the human readable label.
// A label seen again with different text replaces the earlier one and is
// counted in Ambiguous.
type LabelStore struct {
	labels map[labelKey]string
	scoped map[scopedKey]string
	titles map[scopedKey]string

	// Ambiguous counts overwrites that changed a label's text.
	Ambiguous int
}

// NewLabelStore creates an empty store.
func NewLabelStore() *LabelStore {
	return &LabelStore{
		labels: make(map[labelKey]string),
		scoped: make(map[scopedKey]string),
		titles: make(map[scopedKey]string),
	}
}

// Set records label for (pos, ch), last writer wins.
func (s *LabelStore) Set(pos int, ch byte, label string) {
	k := labelKey{pos: pos, ch: ch}
	if prev, ok := s.labels[k]; ok && prev != label {
		s.Ambiguous++
	}
	s.labels[k] = label
}

// SetScoped records the label a table declares, keyed by the table's
// three-character prefix. It does not affect the global lookup.
func (s *LabelStore) SetScoped(table string, pos int, ch byte, label string) {
	s.scoped[scopedKey{table: table, pos: pos, ch: ch}] = label
}

// SetTitle records the axis title a table uses for pos.
func (s *LabelStore) SetTitle(table string, pos int, title string) {
	s.titles[scopedKey{table: table, pos: pos}] = title
}

// Label returns the last recorded label for (pos, ch).
func (s *LabelStore) Label(pos int, ch byte) (string, bool) {
	l, ok := s.labels[labelKey{pos: pos, ch: ch}]
	return l, ok
}

// ScopedLabel prefers the label declared by table and falls back to Label.
// Without any label the character itself is returned.
func (s *LabelStore) ScopedLabel(table string, pos int, ch byte) string {
	if table != "" {
		if l, ok := s.scoped[scopedKey{table: table, pos: pos, ch: ch}]; ok {
			return l
		}
	}
	if l, ok := s.Label(pos, ch); ok {
		return l
	}
	return string(ch)
}

// Title returns the axis title for pos as declared by table, or the default.
func (s *LabelStore) Title(table string, pos int) string {
	if t, ok := s.titles[scopedKey{table: table, pos: pos}]; ok && t != "" {
		return t
	}
	if pos >= 1 && pos <= utils.CodeLength {
		return DefaultAxisTitles[pos-1]
	}
	return ""
}

// Len returns the number of distinct (pos, ch) labels.
func (s *LabelStore) Len() int { return len(s.labels) }
