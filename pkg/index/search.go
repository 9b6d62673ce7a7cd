package index

import (
	"sort"
	"strings"

	"github.com/bastiangx/pcserve/internal/utils"
	"github.com/charmbracelet/log"
	"github.com/tchap/go-patricia/v2/patricia"
)

// Hit is one search result.
type Hit struct {
	Entry *Entry `json:"entry" msgpack:"entry"`
	Score int    `json:"score" msgpack:"score"`
}

// Search scores every entry path against query and returns the ones at or
// above cutoff, best first. Ties keep corpus order. An empty query, an empty
// corpus or a non-positive limit yield an empty result.
func (ix *Index) Search(query string, limit, cutoff int) []Hit {
	if ix == nil || limit <= 0 || len(ix.entries) == 0 {
		return []Hit{}
	}
	q := strings.Join(utils.Tokenize(query), " ")
	if q == "" {
		return []Hit{}
	}
	cutoff = max(0, min(cutoff, 100))

	hits := make([]Hit, 0, 16)
	for id, choice := range ix.choices {
		s := ix.scorer.Score(q, choice, cutoff)
		if s < cutoff || s == 0 {
			continue
		}
		hits = append(hits, Hit{Entry: ix.entries[id], Score: s})
	}
	sort.SliceStable(hits, func(i, j int) bool {
		return hits[i].Score > hits[j].Score
	})
	if len(hits) > limit {
		hits = hits[:limit]
	}
	return hits
}

// EntriesForCode returns, in corpus order, the entries carrying a code token
// that starts with code or that code itself starts with. Useful to show index
// evidence for a code or a partial code.
func (ix *Index) EntriesForCode(code string, limit int) []*Entry {
	c, ok := utils.NormalizeCode(code)
	if ix == nil || !ok || c == "" || limit <= 0 {
		return []*Entry{}
	}

	seen := make(map[int]struct{})
	collect := func(_ patricia.Prefix, item patricia.Item) error {
		for _, id := range item.([]int) {
			seen[id] = struct{}{}
		}
		return nil
	}
	if err := ix.codes.VisitSubtree(patricia.Prefix(c), collect); err != nil {
		log.Errorf("Error visiting code subtree: %v", err)
	}
	if err := ix.codes.VisitPrefixes(patricia.Prefix(c), collect); err != nil {
		log.Errorf("Error visiting code prefixes: %v", err)
	}

	ids := make([]int, 0, len(seen))
	for id := range seen {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	if len(ids) > limit {
		ids = ids[:limit]
	}
	out := make([]*Entry, len(ids))
	for i, id := range ids {
		out[i] = ix.entries[id]
	}
	return out
}
