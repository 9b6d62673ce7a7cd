// Package definitions reads the operation definitions reference and renders
// human readable code descriptions from it.
package definitions

import (
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/bastiangx/pcserve/internal/utils"
	"github.com/bastiangx/pcserve/pkg/tables"
	"github.com/charmbracelet/log"
)

// operationAxis is the position holding the root operation.
const operationAxis = 3

// ConstructionError is returned when the definitions reference cannot be parsed.
type ConstructionError struct {
	Reason string
	Err    error
}

func (e *ConstructionError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("definitions: %s: %v", e.Reason, e.Err)
	}
	return "definitions: " + e.Reason
}

func (e *ConstructionError) Unwrap() error { return e.Err }

// Term is one defined operation.
type Term struct {
	Title       string `json:"title" msgpack:"title"`
	Definition  string `json:"definition" msgpack:"definition"`
	Explanation string `json:"explanation,omitempty" msgpack:"explanation,omitempty"`
}

// Definitions maps operation characters and titles to their definitions.
type Definitions struct {
	ops   map[byte]string
	terms map[string]Term
}

// Build parses a definitions document. Operation labels are read from
// <axis pos="3"><label code=".."> and defined terms from <terms> blocks
// under the same axis; later entries replace earlier ones.
func Build(r io.Reader) (*Definitions, error) {
	d := &Definitions{ops: make(map[byte]string), terms: make(map[string]Term)}
	dec := xml.NewDecoder(r)

	var axes []int
	root := false
	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, &ConstructionError{Reason: "malformed XML", Err: err}
		}

		switch t := tok.(type) {
		case xml.StartElement:
			root = true
			switch t.Name.Local {
			case "axis":
				pos := 0
				for _, a := range t.Attr {
					if a.Name.Local == "pos" {
						pos, _ = strconv.Atoi(strings.TrimSpace(a.Value))
					}
				}
				axes = append(axes, pos)
			case "label":
				if !inOperationAxis(axes) {
					continue
				}
				var l struct {
					Code string `xml:"code,attr"`
					Text string `xml:",chardata"`
				}
				if err := dec.DecodeElement(&l, &t); err != nil {
					return nil, &ConstructionError{Reason: "malformed label", Err: err}
				}
				code, ok := utils.NormalizeCode(l.Code)
				text := utils.NormalizeText(l.Text)
				if ok && len(code) == 1 && text != "" {
					d.ops[code[0]] = text
				}
			case "terms":
				if !inOperationAxis(axes) {
					continue
				}
				var raw struct {
					Title       string `xml:"title"`
					Definition  string `xml:"definition"`
					Explanation string `xml:"explanation"`
				}
				if err := dec.DecodeElement(&raw, &t); err != nil {
					return nil, &ConstructionError{Reason: "malformed terms", Err: err}
				}
				term := Term{
					Title:       utils.NormalizeText(raw.Title),
					Definition:  utils.NormalizeText(raw.Definition),
					Explanation: utils.NormalizeText(raw.Explanation),
				}
				if term.Title != "" && term.Definition != "" {
					d.terms[strings.ToLower(term.Title)] = term
				}
			}
		case xml.EndElement:
			if t.Name.Local == "axis" && len(axes) > 0 {
				axes = axes[:len(axes)-1]
			}
		}
	}
	if !root {
		return nil, &ConstructionError{Reason: "no root element"}
	}
	log.Debugf("definitions built: %d operation labels, %d terms", len(d.ops), len(d.terms))
	return d, nil
}

// BuildBytes is Build over an in-memory document.
func BuildBytes(data []byte) (*Definitions, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, &ConstructionError{Reason: "empty document"}
	}
	return Build(bytes.NewReader(data))
}

func inOperationAxis(axes []int) bool {
	return len(axes) > 0 && axes[len(axes)-1] == operationAxis
}

// Operation returns the definition for an operation, looked up by its label
// first and by its character second.
func (d *Definitions) Operation(ch byte, label string) string {
	if d == nil {
		return ""
	}
	if t, ok := d.terms[strings.ToLower(strings.TrimSpace(label))]; ok {
		return t.Definition
	}
	return d.ops[ch]
}

// Term looks up a defined term by title, case-insensitively.
func (d *Definitions) Term(title string) (Term, bool) {
	if d == nil {
		return Term{}, false
	}
	t, ok := d.terms[strings.ToLower(strings.TrimSpace(title))]
	return t, ok
}

// Len returns the number of operation labels and defined terms.
func (d *Definitions) Len() (ops, terms int) {
	if d == nil {
		return 0, 0
	}
	return len(d.ops), len(d.terms)
}

// Describe renders the seven axes of code, one per line, as
// "Title Char: Label". The operation line carries its definition when that
// adds something to the label. d may be nil.
func (d *Definitions) Describe(code string, engine *tables.Engine) string {
	c, _ := utils.NormalizeCode(code)
	if len(c) != utils.CodeLength {
		return "Needs 7 characters."
	}
	if engine == nil {
		return "No tables loaded."
	}
	ex := engine.Explain(c)
	if !ex.Valid {
		return ex.Diagnostic
	}

	lines := make([]string, len(ex.Axes))
	for i, a := range ex.Axes {
		line := fmt.Sprintf("%s %s: %s", a.Title, a.Char, a.Label)
		if a.Pos == operationAxis {
			if def := d.Operation(a.Char[0], a.Label); def != "" && def != a.Label {
				line += " - " + def
			}
		}
		lines[i] = line
	}
	return strings.Join(lines, "\n")
}
