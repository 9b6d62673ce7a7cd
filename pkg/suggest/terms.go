package suggest

import (
	"strings"
	"unicode/utf8"

	"github.com/bastiangx/pcserve/internal/utils"
	"github.com/surgebase/porter2"
	"golang.org/x/text/unicode/norm"
)

// TermKind says where a candidate search string came from.
type TermKind int

const (
	// TermAnchor is the whole text, bounded.
	TermAnchor TermKind = iota
	// TermChunk is a sentence-like span mentioning a vocabulary word.
	TermChunk
	// TermNgram is a 2 or 3 token window.
	TermNgram
)

func (k TermKind) String() string {
	switch k {
	case TermChunk:
		return "chunk"
	case TermNgram:
		return "ngram"
	default:
		return "anchor"
	}
}

// Term is one candidate search string.
type Term struct {
	Text string
	Kind TermKind
}

// vocabulary are high-signal fragments of operative notes: root operations
// and approach words. Matching is by prefix on the raw token or on its stem.
var vocabulary = []string{
	"arthro", "arthros", "debrid", "biopsy", "excision", "extraction",
	"resection", "fusion", "arthrodesis", "arthroplasty", "open",
	"percutaneous", "endoscopic", "arthroscopic", "laparosc", "insertion",
	"repair", "replacement", "supplement", "transfer", "bypass", "dilation",
	"drainage",
}

var vocabStems = func() []string {
	out := make([]string, len(vocabulary))
	for i, v := range vocabulary {
		out[i] = porter2.Stem(v)
	}
	return out
}()

// IsVocabulary reports whether a lowercase token matches the clinical vocabulary.
func IsVocabulary(token string) bool {
	if len(token) < 3 {
		return false
	}
	stem := porter2.Stem(token)
	for i, v := range vocabulary {
		if strings.HasPrefix(token, v) || strings.HasPrefix(stem, vocabStems[i]) {
			return true
		}
	}
	return false
}

// clean keeps ASCII letters, digits, '-', '/' and whitespace, collapsing the rest.
func clean(s string) string {
	b := []byte(s)
	for i, c := range b {
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9', c == '-', c == '/':
		default:
			b[i] = ' '
		}
	}
	return strings.Join(strings.Fields(string(b)), " ")
}

func hasVocabulary(s string) bool {
	for _, tok := range utils.Tokenize(s) {
		if IsVocabulary(tok) {
			return true
		}
	}
	return false
}

// ExtractTerms pulls candidate search strings out of free text: the whole
// text bounded to maxAnchor runes, then sentence chunks that mention the
// vocabulary, then up to maxNgrams 2- and 3-token windows with vocabulary
// windows first. Duplicates are dropped, order is kept.
func ExtractTerms(text string, maxAnchor, maxNgrams int) []Term {
	// chunks are cut before whitespace is collapsed so line breaks survive
	text = norm.NFKC.String(text)
	seen := utils.NewSeenFilter()
	var out []Term
	add := func(s string, k TermKind) {
		if s != "" && seen.ShouldInclude(strings.ToLower(s)) {
			out = append(out, Term{Text: s, Kind: k})
		}
	}

	whole := clean(text)
	if utf8.RuneCountInString(whole) > maxAnchor {
		whole = strings.TrimSpace(utils.Truncate(whole, maxAnchor))
	}
	add(whole, TermAnchor)

	for _, chunk := range strings.FieldsFunc(text, func(r rune) bool {
		return r == '.' || r == ';' || r == '\n'
	}) {
		c := clean(chunk)
		if len(c) >= 6 && hasVocabulary(c) {
			add(c, TermChunk)
		}
	}

	tokens := utils.Tokenize(whole)
	var flagged, plain []string
	for n := 2; n <= 3; n++ {
		for i := 0; i+n <= len(tokens); i++ {
			window := tokens[i : i+n]
			gram := strings.Join(window, " ")
			if hasVocabulary(gram) {
				flagged = append(flagged, gram)
			} else {
				plain = append(plain, gram)
			}
		}
	}
	grams := 0
	for _, g := range append(flagged, plain...) {
		if grams >= maxNgrams {
			break
		}
		before := len(out)
		add(g, TermNgram)
		if len(out) > before {
			grams++
		}
	}
	return out
}

// DetectApproaches returns the approach characters (fifth axis) the text
// names: open 0, percutaneous 3, endoscopic variants 4, external X.
func DetectApproaches(text string) map[byte]bool {
	out := make(map[byte]bool)
	tokens := utils.Tokenize(text)
	for i, tok := range tokens {
		switch {
		case porter2.Stem(tok) == "open":
			out['0'] = true
		case strings.HasPrefix(tok, "percutan"):
			if i+1 < len(tokens) && strings.HasPrefix(tokens[i+1], "endoscop") {
				out['4'] = true
			} else {
				out['3'] = true
			}
		case strings.HasPrefix(tok, "endoscop"),
			strings.HasPrefix(tok, "arthroscop"),
			strings.HasPrefix(tok, "laparoscop"):
			out['4'] = true
		case strings.HasPrefix(tok, "extern"):
			out['X'] = true
		}
	}
	return out
}
