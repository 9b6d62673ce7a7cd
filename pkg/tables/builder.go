package tables

import (
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/bastiangx/pcserve/internal/utils"
	"github.com/charmbracelet/log"
)

// ConstructionError is returned when the tables reference cannot be parsed.
// It never affects engines that were built earlier.
type ConstructionError struct {
	Reason string
	Err    error
}

func (e *ConstructionError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("tables: %s: %v", e.Reason, e.Err)
	}
	return "tables: " + e.Reason
}

func (e *ConstructionError) Unwrap() error { return e.Err }

type axisValue struct {
	ch    byte
	label string
}

type axis struct {
	pos    int
	title  string
	values []axisValue
}

// axisSet is the per-position view of one row, index 0 is position 1.
type axisSet [utils.CodeLength]*axis

func (s *axisSet) complete() bool {
	for _, a := range s {
		if a == nil || len(a.values) == 0 {
			return false
		}
	}
	return true
}

// tableKey is the three-character prefix when positions 1-3 are single valued.
func (s *axisSet) tableKey() string {
	var b [3]byte
	for i := 0; i < 3; i++ {
		if s[i] == nil || len(s[i].values) != 1 {
			return ""
		}
		b[i] = s[i].values[0].ch
	}
	return string(b[:])
}

type builder struct {
	trie   *Trie
	labels *LabelStore
	stats  Stats
}

// Build reads an ICD-10-PCS tabular document and returns the engine for it.
// Rows are combined with the axes declared on their table; every complete
// row expands into the cartesian product of its seven value sets.
func Build(r io.Reader) (*Engine, error) {
	b := &builder{trie: NewTrie(), labels: NewLabelStore()}
	if err := b.parse(xml.NewDecoder(r)); err != nil {
		return nil, err
	}
	if b.stats.Tables == 0 {
		return nil, &ConstructionError{Reason: "no pcsTable elements found"}
	}

	b.stats.Codes = b.trie.Len()
	b.stats.Nodes = b.trie.Nodes()
	b.stats.AmbiguousLabels = b.labels.Ambiguous
	log.Debug("tables built",
		"tables", b.stats.Tables,
		"rows", b.stats.Rows,
		"skipped", b.stats.SkippedRows,
		"codes", b.stats.Codes,
		"nodes", b.stats.Nodes,
		"ambiguousLabels", b.stats.AmbiguousLabels)
	return &Engine{trie: b.trie, labels: b.labels, stats: b.stats}, nil
}

// BuildBytes is Build over an in-memory document.
func BuildBytes(data []byte) (*Engine, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, &ConstructionError{Reason: "empty document"}
	}
	return Build(bytes.NewReader(data))
}

func (b *builder) parse(dec *xml.Decoder) error {
	var (
		inTable bool
		inRow   bool
		table   axisSet
		row     axisSet
		seen    bool
	)
	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return &ConstructionError{Reason: "malformed XML", Err: err}
		}
		seen = true

		switch t := tok.(type) {
		case xml.StartElement:
			switch t.Name.Local {
			case "pcsTable":
				inTable, table = true, axisSet{}
				b.stats.Tables++
			case "pcsRow":
				inRow, row = true, axisSet{}
			case "axis":
				a, err := b.decodeAxis(dec, t)
				if err != nil {
					return &ConstructionError{Reason: "malformed axis", Err: err}
				}
				if a == nil {
					continue
				}
				switch {
				case inRow:
					row[a.pos-1] = a
				case inTable:
					table[a.pos-1] = a
				}
			}
		case xml.EndElement:
			switch t.Name.Local {
			case "pcsRow":
				if inRow {
					b.addRow(table, row)
				}
				inRow = false
			case "pcsTable":
				inTable = false
			}
		}
	}
	if !seen {
		return &ConstructionError{Reason: "empty document"}
	}
	return nil
}

// decodeAxis consumes an <axis> element. Labels are recorded as they are
// read so the last occurrence in document order wins.
func (b *builder) decodeAxis(dec *xml.Decoder, start xml.StartElement) (*axis, error) {
	var raw struct {
		Pos    string `xml:"pos,attr"`
		Title  string `xml:"title"`
		Labels []struct {
			Code string `xml:"code,attr"`
			Text string `xml:",chardata"`
		} `xml:"label"`
	}
	if err := dec.DecodeElement(&raw, &start); err != nil {
		return nil, err
	}

	pos, err := strconv.Atoi(strings.TrimSpace(raw.Pos))
	if err != nil || pos < 1 || pos > utils.CodeLength {
		log.Debugf("ignoring axis with position %q", raw.Pos)
		b.stats.IgnoredValues++
		return nil, nil
	}

	a := &axis{pos: pos, title: strings.TrimSpace(raw.Title)}
	seen := utils.NewSeenFilter()
	for _, l := range raw.Labels {
		code, ok := utils.NormalizeCode(l.Code)
		if !ok || len(code) != 1 {
			b.stats.IgnoredValues++
			continue
		}
		text := strings.TrimSpace(l.Text)
		if text != "" {
			b.labels.Set(pos, code[0], text)
		}
		if seen.ShouldInclude(code) {
			a.values = append(a.values, axisValue{ch: code[0], label: text})
		}
	}
	return a, nil
}

func (b *builder) addRow(table, row axisSet) {
	b.stats.Rows++

	var eff axisSet
	for i := range eff {
		eff[i] = table[i]
		if row[i] != nil {
			eff[i] = row[i]
		}
	}
	if !eff.complete() {
		b.stats.SkippedRows++
		return
	}

	if key := eff.tableKey(); key != "" {
		for _, a := range eff {
			if a.title != "" {
				b.labels.SetTitle(key, a.pos, a.title)
			}
			for _, v := range a.values {
				if v.label != "" {
					b.labels.SetScoped(key, a.pos, v.ch, v.label)
				}
			}
		}
	}
	b.product(&eff)
}

// product inserts the cartesian product of the seven value sets, driving
// a fixed-width odometer instead of recursing.
func (b *builder) product(eff *axisSet) {
	var idx [utils.CodeLength]int
	var code [utils.CodeLength]byte
	for {
		for i, a := range eff {
			code[i] = a.values[idx[i]].ch
		}
		b.trie.Insert(string(code[:]))

		i := utils.CodeLength - 1
		for ; i >= 0; i-- {
			idx[i]++
			if idx[i] < len(eff[i].values) {
				break
			}
			idx[i] = 0
		}
		if i < 0 {
			return
		}
	}
}
