// Package index builds the searchable synonym index: a flat, ordered corpus of
// hierarchical term paths ("Excision > Knee, Left") with the code fragments
// attached to each term.
//
// The corpus is searched through a Scorer, and a reverse trie maps code
// tokens back to the entries that carry them.
package index

import (
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/bastiangx/pcserve/internal/utils"
	"github.com/charmbracelet/log"
	"github.com/tchap/go-patricia/v2/patricia"
)

// PathSeparator joins the titles of an entry.
const PathSeparator = " > "

// ConstructionError is returned when the index reference cannot be parsed.
type ConstructionError struct {
	Reason string
	Err    error
}

func (e *ConstructionError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("index: %s: %v", e.Reason, e.Err)
	}
	return "index: " + e.Reason
}

func (e *ConstructionError) Unwrap() error { return e.Err }

// Entry is one titled node of the index hierarchy.
type Entry struct {
	Titles []string `json:"titles" msgpack:"titles"`
	Path   string   `json:"path" msgpack:"path"`
	Codes  []string `json:"codes" msgpack:"codes"`
	Uses   []string `json:"uses,omitempty" msgpack:"uses,omitempty"`
	Sees   []string `json:"sees,omitempty" msgpack:"sees,omitempty"`
}

// Stats describes what a build consumed and produced.
type Stats struct {
	Letters     int `json:"letters" msgpack:"letters"`
	MainTerms   int `json:"main_terms" msgpack:"main_terms"`
	Entries     int `json:"entries" msgpack:"entries"`
	CodeTokens  int `json:"code_tokens" msgpack:"code_tokens"`
	Untitled    int `json:"untitled" msgpack:"untitled"`
	Orphaned    int `json:"orphaned" msgpack:"orphaned"`
	UniqueCodes int `json:"unique_codes" msgpack:"unique_codes"`
}

// Index is immutable once built and safe for concurrent use.
type Index struct {
	entries []*Entry
	choices []string
	codes   *patricia.Trie
	scorer  Scorer
	stats   Stats
}

// Option configures an Index at build time.
type Option func(*Index)

// WithScorer replaces the default token-set scorer.
func WithScorer(s Scorer) Option {
	return func(ix *Index) {
		if s != nil {
			ix.scorer = s
		}
	}
}

// text collects all character data below an element, nested markup included.
type text string

func (t *text) UnmarshalXML(d *xml.Decoder, start xml.StartElement) error {
	var b strings.Builder
	depth := 0
	for {
		tok, err := d.Token()
		if err != nil {
			return err
		}
		switch v := tok.(type) {
		case xml.CharData:
			b.Write(v)
			b.WriteByte(' ')
		case xml.StartElement:
			depth++
		case xml.EndElement:
			if depth == 0 {
				*t = text(utils.NormalizeText(b.String()))
				return nil
			}
			depth--
		}
	}
}

type term struct {
	Title text   `xml:"title"`
	Code  []text `xml:"code"`
	Codes []text `xml:"codes"`
	Tab   []text `xml:"tab"`
	Use   []text `xml:"use"`
	See   []text `xml:"see"`
	Terms []term `xml:"term"`
}

// Build reads an ICD-10-PCS index document. Letter groupings are walked but
// not included in paths; untitled terms fold their codes and cross
// references into the nearest titled ancestor.
func Build(r io.Reader, opts ...Option) (*Index, error) {
	ix := &Index{codes: patricia.NewTrie(), scorer: TokenSetScorer{}}
	for _, opt := range opts {
		opt(ix)
	}

	dec := xml.NewDecoder(r)
	root := false
	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, &ConstructionError{Reason: "malformed XML", Err: err}
		}
		start, ok := tok.(xml.StartElement)
		if !ok {
			continue
		}
		root = true
		switch start.Name.Local {
		case "letter":
			ix.stats.Letters++
		case "mainTerm":
			var t term
			if err := dec.DecodeElement(&t, &start); err != nil {
				return nil, &ConstructionError{Reason: "malformed mainTerm", Err: err}
			}
			ix.stats.MainTerms++
			ix.walk(&t, nil, nil)
		}
	}
	if !root {
		return nil, &ConstructionError{Reason: "no root element"}
	}

	ix.finish()
	log.Debug("index built",
		"letters", ix.stats.Letters,
		"mainTerms", ix.stats.MainTerms,
		"entries", ix.stats.Entries,
		"codeTokens", ix.stats.CodeTokens,
		"untitled", ix.stats.Untitled)
	return ix, nil
}

// BuildBytes is Build over an in-memory document.
func BuildBytes(data []byte, opts ...Option) (*Index, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, &ConstructionError{Reason: "empty document"}
	}
	return Build(bytes.NewReader(data), opts...)
}

func (ix *Index) walk(t *term, titles []string, owner *Entry) {
	if title := string(t.Title); title != "" {
		path := make([]string, len(titles), len(titles)+1)
		copy(path, titles)
		path = append(path, title)
		owner = &Entry{Titles: path, Path: strings.Join(path, PathSeparator)}
		ix.entries = append(ix.entries, owner)
		titles = path
	} else {
		ix.stats.Untitled++
	}

	if owner != nil {
		for _, group := range [][]text{t.Code, t.Codes, t.Tab} {
			for _, c := range group {
				owner.Codes = append(owner.Codes, utils.SplitCodeTokens(string(c))...)
			}
		}
		owner.Uses = appendText(owner.Uses, t.Use)
		owner.Sees = appendText(owner.Sees, t.See)
	} else if len(t.Code)+len(t.Codes)+len(t.Tab)+len(t.Use)+len(t.See) > 0 {
		ix.stats.Orphaned++
	}

	for i := range t.Terms {
		ix.walk(&t.Terms[i], titles, owner)
	}
}

func appendText(dst []string, src []text) []string {
	for _, s := range src {
		if s != "" {
			dst = append(dst, string(s))
		}
	}
	return dst
}

// finish deduplicates tokens, fills the reverse code trie and the
// normalized search corpus.
func (ix *Index) finish() {
	ix.choices = make([]string, len(ix.entries))
	for id, e := range ix.entries {
		e.Codes = utils.Unique(e.Codes)
		ix.stats.CodeTokens += len(e.Codes)
		ix.choices[id] = strings.Join(utils.Tokenize(e.Path), " ")

		for _, c := range e.Codes {
			key := patricia.Prefix(c)
			if ids, ok := ix.codes.Get(key).([]int); ok {
				ix.codes.Set(key, append(ids, id))
				continue
			}
			ix.codes.Insert(key, []int{id})
			ix.stats.UniqueCodes++
		}
	}
	ix.stats.Entries = len(ix.entries)
}

// Len returns the number of entries in the corpus.
func (ix *Index) Len() int { return len(ix.entries) }

// Entry returns the i-th entry in corpus order.
func (ix *Index) Entry(i int) *Entry {
	if i < 0 || i >= len(ix.entries) {
		return nil
	}
	return ix.entries[i]
}

// Stats returns the construction statistics.
func (ix *Index) Stats() Stats { return ix.stats }
