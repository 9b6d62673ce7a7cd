// Package tables holds the code-space engine: a seven-level trie of every
// code the reference tables make legal, plus the axis labels used to
// explain them.
//
// An Engine is built once from a tables document and is read-only
// afterwards, so a single instance can serve any number of goroutines.
// Lookups never fail on bad input; malformed codes simply come back invalid
// or not found.
package tables

import (
	"fmt"
	"strings"

	"github.com/bastiangx/pcserve/internal/utils"
)

// Stats describes what a build consumed and produced.
type Stats struct {
	Tables          int `json:"tables" msgpack:"tables"`
	Rows            int `json:"rows" msgpack:"rows"`
	SkippedRows     int `json:"skipped_rows" msgpack:"skipped_rows"`
	IgnoredValues   int `json:"ignored_values" msgpack:"ignored_values"`
	Codes           int `json:"codes" msgpack:"codes"`
	Nodes           int `json:"nodes" msgpack:"nodes"`
	AmbiguousLabels int `json:"ambiguous_labels" msgpack:"ambiguous_labels"`
}

// Engine answers validation and exploration queries over the code space.
type Engine struct {
	trie   *Trie
	labels *LabelStore
	stats  Stats
}

// AxisLabel is one position of a code with its decoded meaning.
type AxisLabel struct {
	Pos   int    `json:"pos" msgpack:"pos"`
	Char  string `json:"char" msgpack:"char"`
	Title string `json:"title" msgpack:"title"`
	Label string `json:"label" msgpack:"label"`
}

func (a AxisLabel) String() string {
	return fmt.Sprintf("%d:%s = %s", a.Pos, a.Char, a.Label)
}

// Explanation is the per-axis breakdown of a code, or a diagnostic when the
// code is not legal.
type Explanation struct {
	Code       string      `json:"code" msgpack:"code"`
	Valid      bool        `json:"valid" msgpack:"valid"`
	Axes       []AxisLabel `json:"axes,omitempty" msgpack:"axes,omitempty"`
	Diagnostic string      `json:"diagnostic,omitempty" msgpack:"diagnostic,omitempty"`
}

func (e Explanation) String() string {
	if !e.Valid {
		return e.Diagnostic
	}
	parts := make([]string, len(e.Axes))
	for i, a := range e.Axes {
		parts[i] = a.String()
	}
	return strings.Join(parts, " | ")
}

// ContinuationStatus classifies a partial code.
type ContinuationStatus int

const (
	// ContinuationNotFound means the token is malformed or not a prefix of any code.
	ContinuationNotFound ContinuationStatus = iota
	// ContinuationOpen means at least one legal character can follow.
	ContinuationOpen
	// ContinuationDeadEnd means the prefix exists but nothing follows it.
	ContinuationDeadEnd
)

func (s ContinuationStatus) String() string {
	switch s {
	case ContinuationOpen:
		return "open"
	case ContinuationDeadEnd:
		return "dead_end"
	default:
		return "not_found"
	}
}

// Continuation lists the legal next characters after a prefix.
type Continuation struct {
	Token   string             `json:"token" msgpack:"token"`
	Status  ContinuationStatus `json:"status" msgpack:"status"`
	Pos     int                `json:"pos,omitempty" msgpack:"pos,omitempty"`
	Options []AxisLabel        `json:"options,omitempty" msgpack:"options,omitempty"`
	Message string             `json:"message" msgpack:"message"`
}

// IsValid reports whether code is one of the legal codes in the tables.
func (e *Engine) IsValid(code string) bool {
	if e == nil {
		return false
	}
	c, ok := utils.NormalizeCode(code)
	if !ok || len(c) != utils.CodeLength {
		return false
	}
	n := e.trie.Walk(c)
	return n != nil && n.Terminal()
}

// IsPotentialPrefix reports whether token can still be completed into a
// legal code. Complete codes count as their own prefix.
func (e *Engine) IsPotentialPrefix(token string) bool {
	if e == nil {
		return false
	}
	t, ok := utils.NormalizeCode(token)
	if !ok || len(t) == 0 || len(t) > utils.CodeLength {
		return false
	}
	return e.trie.Walk(t) != nil
}

// Expand returns up to limit legal codes starting with prefix, sorted.
// An unknown or malformed prefix yields an empty slice.
func (e *Engine) Expand(prefix string, limit int) []string {
	p, ok := utils.NormalizeCode(prefix)
	if e == nil || !ok {
		return []string{}
	}
	return e.trie.Expand(p, limit)
}

// Explain decodes every axis of a legal code. Labels declared by the code's
// own table are preferred over the global last-writer-wins labels.
func (e *Engine) Explain(code string) Explanation {
	c, ok := utils.NormalizeCode(code)
	out := Explanation{Code: c}
	switch {
	case e == nil:
		out.Diagnostic = "No tables loaded."
		return out
	case !ok:
		out.Diagnostic = "Code contains characters outside 0-9 and A-Z."
		return out
	case len(c) != utils.CodeLength:
		out.Diagnostic = fmt.Sprintf("Needs %d characters, got %d.", utils.CodeLength, len(c))
		if e.IsPotentialPrefix(c) {
			out.Diagnostic += " " + e.NextChars(c).Message
		}
		return out
	case !e.IsValid(c):
		out.Diagnostic = "Not a legal code in the tables. " + e.nearestHint(c)
		return out
	}

	table := c[:3]
	out.Valid = true
	out.Axes = make([]AxisLabel, utils.CodeLength)
	for i := 0; i < utils.CodeLength; i++ {
		out.Axes[i] = e.axisLabel(table, i+1, c[i])
	}
	return out
}

// NextChars reports which characters may legally follow token.
func (e *Engine) NextChars(token string) Continuation {
	t, ok := utils.NormalizeCode(token)
	out := Continuation{Token: t}
	var n *Node
	if e != nil && ok {
		n = e.trie.Walk(t)
	}
	if n == nil {
		out.Message = "Prefix not in tables; try a shorter start."
		return out
	}
	if n.Leaf() {
		out.Status = ContinuationDeadEnd
		if n.Terminal() {
			out.Message = "Prefix is already a complete code."
		} else {
			out.Message = "Prefix is a dead end per tables."
		}
		return out
	}

	out.Status = ContinuationOpen
	out.Pos = len(t) + 1
	table := ""
	if len(t) >= 3 {
		table = t[:3]
	}
	parts := make([]string, 0, len(n.children))
	for _, ch := range n.Next() {
		al := e.axisLabel(table, out.Pos, ch)
		out.Options = append(out.Options, al)
		parts = append(parts, fmt.Sprintf("%d:%s=%s", al.Pos, al.Char, al.Label))
	}
	out.Message = "Next allowed chars: " + strings.Join(parts, ", ")
	return out
}

// nearestHint points at the longest existing prefix of an illegal code.
func (e *Engine) nearestHint(code string) string {
	for i := len(code) - 1; i > 0; i-- {
		if n := e.trie.Walk(code[:i]); n != nil {
			c := e.NextChars(code[:i])
			return fmt.Sprintf("Longest legal prefix is %s. %s", code[:i], c.Message)
		}
	}
	return "No legal code starts with " + code[:1] + "."
}

func (e *Engine) axisLabel(table string, pos int, ch byte) AxisLabel {
	return AxisLabel{
		Pos:   pos,
		Char:  string(ch),
		Title: e.labels.Title(table, pos),
		Label: e.labels.ScopedLabel(table, pos, ch),
	}
}

// Label is the global last-writer-wins label for (pos, ch).
func (e *Engine) Label(pos int, ch byte) (string, bool) {
	if e == nil {
		return "", false
	}
	return e.labels.Label(pos, ch)
}

// Stats returns the construction statistics.
func (e *Engine) Stats() Stats {
	if e == nil {
		return Stats{}
	}
	return e.stats
}
