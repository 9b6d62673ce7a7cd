// Package suggest turns free clinical text into ranked, table-validated codes.
//
// Candidate phrases are pulled from the text, searched against the synonym
// index, and the code fragments attached to the hits are validated or
// expanded through the tables engine. Nothing reaches the output unless the
// engine accepts it.
package suggest

import "github.com/bastiangx/pcserve/pkg/index"

// CodeSpace is the part of the tables engine the pipeline needs.
type CodeSpace interface {
	IsValid(code string) bool
	Expand(prefix string, limit int) []string
}

// Searcher is the part of the synonym index the pipeline needs.
type Searcher interface {
	Search(query string, limit, cutoff int) []index.Hit
}
