package tables

import (
	"errors"
	"strings"
	"testing"

	"github.com/bastiangx/pcserve/internal/utils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExampleRowYieldsExactlyTwoCodes(t *testing.T) {
	e := mustBuild(t, exampleRow)

	assert.Equal(t, []string{"0JH60MZ", "0JH80MZ"}, e.Expand("", 100))
	assert.True(t, e.IsValid("0JH60MZ"))
	assert.True(t, e.IsValid("0JH80MZ"))
	assert.False(t, e.IsValid("0JH70MZ"))
	assert.Equal(t, []string{"0JH60MZ", "0JH80MZ"}, e.Expand("0JH", 10))
	assert.True(t, e.IsPotentialPrefix("0JH"))
	assert.False(t, e.IsPotentialPrefix("0JX"))

	st := e.Stats()
	assert.Equal(t, 1, st.Rows)
	assert.Equal(t, 0, st.SkippedRows)
	assert.Equal(t, 2, st.Codes)
}

func TestIsValidNormalizesInput(t *testing.T) {
	e := mustBuild(t, exampleRow)

	testCases := []struct {
		code string
		want bool
	}{
		{"0JH60MZ", true},
		{" 0jh60mz\t", true},
		{"0JH60M", false},
		{"0JH60MZZ", false},
		{"0JH6-MZ", false},
		{"", false},
		{"0JH60MZ\x00", false},
		{"0JH60Mı", false},
		{"ıJH60MZ", false},
	}
	for _, tc := range testCases {
		assert.Equal(t, tc.want, e.IsValid(tc.code), "%q", tc.code)
	}
}

func TestIsPotentialPrefix(t *testing.T) {
	e := mustBuild(t, exampleRow)

	for _, p := range []string{"0", "0J", "0jh", "0JH6", "0JH60MZ"} {
		assert.True(t, e.IsPotentialPrefix(p), p)
	}
	for _, p := range []string{"", "1", "0JH7", "0JH60MZZ", "0J?"} {
		assert.False(t, e.IsPotentialPrefix(p), p)
	}
}

func TestNonASCIIFoldingRunesAreRejected(t *testing.T) {
	e := mustBuild(t, officialLayout)
	require.True(t, e.IsValid("0SBC0ZZ"))

	// ſ uppercases to ASCII S under Unicode rules
	assert.False(t, e.IsValid("0ſBC0ZZ"))
	assert.False(t, e.IsPotentialPrefix("0ſ"))
	assert.Empty(t, e.Expand("0ſB", 10))
	assert.False(t, e.Explain("0ſBC0ZZ").Valid)
	assert.Empty(t, e.NextChars("0ſ").Options)
	assert.False(t, e.IsPotentialPrefix("0S\u212a"))

	row := [7][]string{{"0"}, {"S", "ſ"}, {"B"}, {"C"}, {"0"}, {"Z"}, {"Z"}}
	e = mustBuild(t, tablesXML(rowXML(row)))
	assert.Equal(t, 1, e.Stats().Codes)
	assert.Equal(t, 1, e.Stats().IgnoredValues)
}

func TestNilEngineIsEmpty(t *testing.T) {
	var e *Engine
	assert.False(t, e.IsValid("0JH60MZ"))
	assert.False(t, e.IsPotentialPrefix("0JH"))
	assert.Empty(t, e.Expand("0JH", 10))
	x := e.Explain("0JH60MZ")
	assert.False(t, x.Valid)
	assert.NotEmpty(t, x.Diagnostic)
	assert.Equal(t, ContinuationNotFound, e.NextChars("0JH").Status)
	_, ok := e.Label(1, '0')
	assert.False(t, ok)
	assert.Zero(t, e.Stats().Codes)
}

func TestRowMissingPositionFourContributesNothing(t *testing.T) {
	full := [7][]string{{"0"}, {"J"}, {"H"}, {"6", "8"}, {"0"}, {"M"}, {"Z"}}
	missing := full
	missing[3] = nil
	missing[0] = []string{"1"}

	e := mustBuild(t, tablesXML(rowXML(full), rowXML(missing)))
	assert.Equal(t, 2, e.Stats().Rows)
	assert.Equal(t, 1, e.Stats().SkippedRows)
	assert.Empty(t, e.Expand("1", 100))
	assert.False(t, e.IsPotentialPrefix("1"))
	assert.Equal(t, 2, e.Stats().Codes)
}

func TestTableLevelAxesAreInherited(t *testing.T) {
	e := mustBuild(t, officialLayout)

	assert.Equal(t, []string{"0SBC0ZZ", "0SBC4ZZ", "0SBD0ZZ", "0SBD4ZZ"}, e.Expand("0SB", 10))
	assert.True(t, e.IsValid("0JHC3NZ"))
	// the second row of the first table has no position 4 anywhere
	assert.False(t, e.IsPotentialPrefix("0SBC3"))
	st := e.Stats()
	assert.Equal(t, 2, st.Tables)
	assert.Equal(t, 3, st.Rows)
	assert.Equal(t, 1, st.SkippedRows)
	assert.Equal(t, 5, st.Codes)
}

func TestLabelConflictLastWriterWins(t *testing.T) {
	// "C" at position 4 means a knee in 0SB and the pelvic region in 0JH
	e := mustBuild(t, officialLayout)

	label, ok := e.Label(4, 'C')
	require.True(t, ok)
	assert.Equal(t, "Subcutaneous Tissue and Fascia, Pelvic Region", label)
	// every other repeated (pos, char) carries the same text
	assert.Equal(t, 1, e.Stats().AmbiguousLabels)

	// explain still uses the label declared by the code's own table
	ex := e.Explain("0SBC0ZZ")
	require.True(t, ex.Valid)
	assert.Equal(t, "Knee Joint, Right", ex.Axes[3].Label)
}

func TestLabelConflictCountsEveryRewrite(t *testing.T) {
	a := rowXML([7][]string{{"0"}, {"J"}, {"H"}, {"6"}, {"0"}, {"M"}, {"Z"}})
	b := strings.Replace(a, "label 4 6", "another label", 1)

	e := mustBuild(t, tablesXML(a, b, a))
	label, _ := e.Label(4, '6')
	assert.Equal(t, "label 4 6", label)
	assert.Equal(t, 2, e.Stats().AmbiguousLabels)
}

func TestBuildTwiceIsIdempotent(t *testing.T) {
	row := rowXML([7][]string{{"0"}, {"J"}, {"H"}, {"6", "8"}, {"0"}, {"M"}, {"Z"}})
	once := mustBuild(t, tablesXML(row))
	twice := mustBuild(t, tablesXML(row, row))

	assert.Equal(t, once.Expand("", 100), twice.Expand("", 100))
	assert.Equal(t, once.Stats().Nodes, twice.Stats().Nodes)
	assert.Equal(t, 2, twice.Stats().Codes)
}

// TestValidityMatchesInsertedSet checks every code over a small alphabet:
// valid exactly when generated by a row, potential prefix exactly when a
// prefix of a generated code.
func TestValidityMatchesInsertedSet(t *testing.T) {
	alphabet := []string{"0", "1", "A"}
	rows := []string{
		rowXML([7][]string{{"0"}, {"0", "1"}, {"A"}, {"0", "A"}, {"1"}, {"0"}, {"A", "1"}}),
		rowXML([7][]string{{"1"}, {"A"}, {"0", "1", "A"}, {"0"}, {"0"}, {"0"}, {"0"}}),
	}
	e := mustBuild(t, tablesXML(rows...))

	inserted := map[string]bool{}
	prefixes := map[string]bool{}
	for _, c := range e.Expand("", 1000) {
		inserted[c] = true
		for i := 1; i <= 7; i++ {
			prefixes[c[:i]] = true
		}
	}
	assert.Len(t, inserted, 8+3)

	var walk func(prefix string)
	walk = func(prefix string) {
		if len(prefix) > 0 {
			assert.Equal(t, prefixes[prefix], e.IsPotentialPrefix(prefix), prefix)
		}
		if len(prefix) == 7 {
			assert.Equal(t, inserted[prefix], e.IsValid(prefix), prefix)
			return
		}
		for _, c := range alphabet {
			walk(prefix + c)
		}
	}
	walk("")
}

func TestExpandProperties(t *testing.T) {
	e := mustBuild(t, officialLayout)
	for _, p := range []string{"", "0", "0S", "0SB", "0SBD", "0SBD4", "0JHC3NZ", "0X"} {
		for _, limit := range []int{1, 2, 3, 100} {
			got := e.Expand(p, limit)
			assert.LessOrEqual(t, len(got), limit)
			assert.IsNonDecreasing(t, got)
			for _, c := range got {
				assert.Len(t, c, utils.CodeLength)
				assert.True(t, strings.HasPrefix(c, p))
				assert.True(t, e.IsValid(c))
			}
		}
	}
	assert.Equal(t, []string{}, e.Expand("0S-", 10))
}

func TestExplain(t *testing.T) {
	e := mustBuild(t, exampleRow)

	ex := e.Explain("0jh60mz")
	require.True(t, ex.Valid)
	require.Len(t, ex.Axes, 7)
	assert.Equal(t, AxisLabel{Pos: 3, Char: "H", Title: "Operation", Label: "Insertion"}, ex.Axes[2])
	assert.Equal(t, "1:0 = Medical and Surgical | 2:J = Subcutaneous Tissue and Fascia | 3:H = Insertion | "+
		"4:6 = Subcutaneous Tissue and Fascia, Chest | 5:0 = Open | 6:M = Stimulator Generator, Single Array | 7:Z = No Qualifier",
		ex.String())

	bad := e.Explain("0JH70MZ")
	assert.False(t, bad.Valid)
	assert.Contains(t, bad.Diagnostic, "Not a legal code")
	assert.Contains(t, bad.Diagnostic, "Longest legal prefix is 0JH")

	short := e.Explain("0JH")
	assert.False(t, short.Valid)
	assert.Contains(t, short.Diagnostic, "Needs 7 characters")

	junk := e.Explain("0J#")
	assert.False(t, junk.Valid)
	assert.NotEmpty(t, junk.Diagnostic)
}

func TestNextChars(t *testing.T) {
	e := mustBuild(t, exampleRow)

	open := e.NextChars("0jh")
	assert.Equal(t, ContinuationOpen, open.Status)
	assert.Equal(t, 4, open.Pos)
	require.Len(t, open.Options, 2)
	assert.Equal(t, "6", open.Options[0].Char)
	assert.Equal(t, "Subcutaneous Tissue and Fascia, Abdomen", open.Options[1].Label)
	assert.Contains(t, open.Message, "4:6=")

	assert.Equal(t, ContinuationDeadEnd, e.NextChars("0JH60MZ").Status)
	assert.Equal(t, ContinuationNotFound, e.NextChars("0JX").Status)
	assert.Equal(t, ContinuationNotFound, e.NextChars("0J!").Status)
	assert.Equal(t, ContinuationOpen, e.NextChars("").Status)
}

func TestBuildErrors(t *testing.T) {
	testCases := []struct {
		name string
		doc  string
	}{
		{"empty", ""},
		{"whitespace", "   \n"},
		{"unclosed", "<ICD10PCS.tabular><pcsTable><pcsRow>"},
		{"no tables", "<ICD10PCS.tabular><version>2025</version></ICD10PCS.tabular>"},
		{"not xml", "definitely not xml"},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			e, err := BuildBytes([]byte(tc.doc))
			assert.Nil(t, e)
			var ce *ConstructionError
			assert.True(t, errors.As(err, &ce), "got %v", err)
		})
	}
}

func TestBuildIgnoresBadAxisValues(t *testing.T) {
	doc := `<ICD10PCS.tabular><pcsTable><pcsRow>
	<axis pos="1"><label code="0">s</label></axis>
	<axis pos="2"><label code="J">b</label><label code="JJ">wide</label><label code="*">star</label></axis>
	<axis pos="3"><label code="h">lower</label></axis>
	<axis pos="4"><label code="6">p</label></axis>
	<axis pos="5"><label code="0">a</label></axis>
	<axis pos="6"><label code="M">d</label></axis>
	<axis pos="7"><label code="Z">q</label></axis>
	<axis pos="9"><label code="Z">nowhere</label></axis>
	</pcsRow></pcsTable></ICD10PCS.tabular>`
	e := mustBuild(t, doc)
	assert.Equal(t, []string{"0JH60MZ"}, e.Expand("", 10))
	assert.Equal(t, 3, e.Stats().IgnoredValues)
}
