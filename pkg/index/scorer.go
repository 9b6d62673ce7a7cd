package index

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/bastiangx/pcserve/internal/utils"
	"github.com/hbollon/go-edlib"
)

// Scorer rates how well choice matches query on a 0-100 scale.
// Implementations may return 0 for anything that cannot reach cutoff.
type Scorer interface {
	Score(query, choice string, cutoff int) int
}

// ScorerFunc adapts a plain function to Scorer.
type ScorerFunc func(query, choice string, cutoff int) int

func (f ScorerFunc) Score(query, choice string, cutoff int) int { return f(query, choice, cutoff) }

// Scorer names accepted by ScorerByName.
const (
	ScorerTokenSet    = "token_set"
	ScorerJaroWinkler = "jaro_winkler"
)

// ScorerByName maps a configured scorer name to an implementation.
// An empty name selects the token-set scorer.
func ScorerByName(name string) (Scorer, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", ScorerTokenSet:
		return TokenSetScorer{}, nil
	case ScorerJaroWinkler:
		return JaroWinklerScorer{}, nil
	}
	return nil, fmt.Errorf("unknown scorer %q", name)
}

// TokenSetScorer is an order-insensitive token overlap ratio. Both strings
// are lowercased and split into unique alphanumeric tokens; the shared tokens
// and the two leftovers are compared by indel similarity and the best of
// those comparisons wins. A query whose tokens are a subset of the choice's
// (or the reverse) scores 100.
type TokenSetScorer struct{}

func (TokenSetScorer) Score(query, choice string, cutoff int) int {
	a, b := tokenSet(query), tokenSet(choice)
	if len(a) == 0 || len(b) == 0 {
		return 0
	}

	var sect, onlyA, onlyB []string
	i, j := 0, 0
	for i < len(a) && j < len(b) {
		switch {
		case a[i] == b[j]:
			sect = append(sect, a[i])
			i++
			j++
		case a[i] < b[j]:
			onlyA = append(onlyA, a[i])
			i++
		default:
			onlyB = append(onlyB, b[j])
			j++
		}
	}
	onlyA = append(onlyA, a[i:]...)
	onlyB = append(onlyB, b[j:]...)

	if len(sect) > 0 && (len(onlyA) == 0 || len(onlyB) == 0) {
		return 100
	}

	diffA, diffB := strings.Join(onlyA, " "), strings.Join(onlyB, " ")
	lenA, lenB := utf8.RuneCountInString(diffA), utf8.RuneCountInString(diffB)
	sectLen := runeLen(sect)

	// "sect diffA" and "sect diffB" share the sect prefix, so only the
	// separator counts towards their length when sect is non-empty
	sep := 0
	if sectLen > 0 {
		sep = 1
	}
	sectA := sectLen + sep + lenA
	sectB := sectLen + sep + lenB

	best := 0.0
	if sectLen > 0 {
		best = max(
			indelRatio(sep+lenA, sectLen+sectA),
			indelRatio(sep+lenB, sectLen+sectB),
		)
	}

	// the full comparison can at most reach the ratio given by a perfect
	// overlap of the shorter leftover; skip the LCS when that cannot win
	total := sectA + sectB
	upper := indelRatio(lenA+lenB-2*min(lenA, lenB), total)
	if upper > best && upper >= float64(cutoff) {
		lcs := edlib.LCS(diffA, diffB)
		best = max(best, indelRatio(lenA+lenB-2*lcs, total))
	}

	score := int(math.Round(best))
	if score < cutoff {
		return 0
	}
	return score
}

// indelRatio converts an indel distance over total characters to 0-100.
func indelRatio(dist, total int) float64 {
	if total == 0 {
		return 100
	}
	return 100 * (1 - float64(dist)/float64(total))
}

func tokenSet(s string) []string {
	toks := utils.Unique(utils.Tokenize(s))
	sort.Strings(toks)
	return toks
}

func runeLen(toks []string) int {
	if len(toks) == 0 {
		return 0
	}
	n := len(toks) - 1
	for _, t := range toks {
		n += utf8.RuneCountInString(t)
	}
	return n
}

// JaroWinklerScorer scores whole lowercased strings with Jaro-Winkler
// similarity. It favours shared prefixes and suits short queries.
type JaroWinklerScorer struct{}

func (JaroWinklerScorer) Score(query, choice string, cutoff int) int {
	q := strings.Join(utils.Tokenize(query), " ")
	c := strings.Join(utils.Tokenize(choice), " ")
	if q == "" || c == "" {
		return 0
	}
	sim, err := edlib.StringsSimilarity(q, c, edlib.JaroWinkler)
	if err != nil {
		return 0
	}
	score := int(math.Round(float64(sim) * 100))
	if score < cutoff {
		return 0
	}
	return score
}
