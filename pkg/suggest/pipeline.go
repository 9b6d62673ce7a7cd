package suggest

import (
	"context"
	"fmt"
	"runtime"
	"sort"

	"github.com/bastiangx/pcserve/internal/utils"
	"github.com/bastiangx/pcserve/pkg/index"
	"github.com/charmbracelet/log"
	"golang.org/x/sync/errgroup"
)

// Suggestion is one ranked, validated code.
type Suggestion struct {
	Code       string   `json:"code" msgpack:"code"`
	Confidence float64  `json:"confidence" msgpack:"confidence"`
	Validated  bool     `json:"validated" msgpack:"validated"`
	Why        string   `json:"why" msgpack:"why"`
	Evidence   []string `json:"evidence,omitempty" msgpack:"evidence,omitempty"`
}

// Options tunes the pipeline. Start from DefaultOptions.
type Options struct {
	TopHits       int
	NgramHits     int
	ScoreCutoff   int
	MaxTextAnchor int
	MaxNgrams     int
	ExpandLimit   int
	MaxCodes      int
	ExactBonus    float64
	ApproachBonus float64
	Workers       int
}

// DefaultOptions returns the stock tuning.
func DefaultOptions() Options {
	return Options{
		TopHits:       40,
		NgramHits:     5,
		ScoreCutoff:   70,
		MaxTextAnchor: 4000,
		MaxNgrams:     50,
		ExpandLimit:   80,
		MaxCodes:      100,
		ExactBonus:    0.2,
		ApproachBonus: 0.05,
		Workers:       4,
	}
}

func (o Options) sanitized() Options {
	d := DefaultOptions()
	if o.TopHits <= 0 {
		o.TopHits = d.TopHits
	}
	if o.NgramHits <= 0 {
		o.NgramHits = d.NgramHits
	}
	o.ScoreCutoff = max(0, min(o.ScoreCutoff, 100))
	if o.MaxTextAnchor <= 0 {
		o.MaxTextAnchor = d.MaxTextAnchor
	}
	if o.MaxNgrams < 0 {
		o.MaxNgrams = 0
	}
	if o.ExpandLimit <= 0 {
		o.ExpandLimit = d.ExpandLimit
	}
	if o.MaxCodes <= 0 {
		o.MaxCodes = d.MaxCodes
	}
	o.ExactBonus = max(0, o.ExactBonus)
	o.ApproachBonus = max(0, o.ApproachBonus)
	if o.Workers <= 0 {
		o.Workers = runtime.GOMAXPROCS(0)
	}
	return o
}

// Suggest surfaces legal codes for free text. It only fails when ctx is
// done before the searches finish; missing references yield no suggestions.
func Suggest(ctx context.Context, text string, engine CodeSpace, idx Searcher, opts Options) ([]Suggestion, error) {
	if engine == nil || idx == nil {
		return []Suggestion{}, nil
	}
	opts = opts.sanitized()

	terms := ExtractTerms(text, opts.MaxTextAnchor, opts.MaxNgrams)
	hits, err := searchAll(ctx, idx, terms, opts)
	if err != nil {
		return nil, err
	}

	r := newRanker(engine, opts, DetectApproaches(text))
	for _, hs := range hits {
		for _, h := range hs {
			r.consume(h)
		}
	}
	out := r.ranked()
	log.Debugf("suggest: %d terms, %d candidates, %d codes", len(terms), len(r.best), len(out))
	return out, nil
}

// searchAll runs the index searches concurrently and returns the hits in
// term order.
func searchAll(ctx context.Context, idx Searcher, terms []Term, opts Options) ([][]index.Hit, error) {
	results := make([][]index.Hit, len(terms))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(opts.Workers)
	for i, t := range terms {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			limit := opts.TopHits
			if t.Kind == TermNgram {
				limit = opts.NgramHits
			}
			results[i] = idx.Search(t.Text, limit, opts.ScoreCutoff)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return results, nil
}

type ranker struct {
	engine     CodeSpace
	opts       Options
	approaches map[byte]bool
	expanded   map[string][]string
	best       map[string]*Suggestion
}

func newRanker(engine CodeSpace, opts Options, approaches map[byte]bool) *ranker {
	return &ranker{
		engine:     engine,
		opts:       opts,
		approaches: approaches,
		expanded:   make(map[string][]string),
		best:       make(map[string]*Suggestion),
	}
}

func (r *ranker) consume(h index.Hit) {
	if h.Entry == nil {
		return
	}
	base := float64(h.Score) / 100
	for _, tok := range h.Entry.Codes {
		switch {
		case len(tok) == utils.CodeLength:
			if r.engine.IsValid(tok) {
				why := fmt.Sprintf("index %q (score %d) lists %s", h.Entry.Path, h.Score, tok)
				r.offer(tok, base+r.opts.ExactBonus, why, h.Entry)
			}
		case len(tok) >= 1:
			for _, code := range r.expand(tok) {
				conf := base
				if r.approaches[code[4]] {
					conf += r.opts.ApproachBonus
				}
				why := fmt.Sprintf("index %q (score %d) expands %s", h.Entry.Path, h.Score, tok)
				r.offer(code, conf, why, h.Entry)
			}
		}
	}
}

func (r *ranker) expand(tok string) []string {
	if codes, ok := r.expanded[tok]; ok {
		return codes
	}
	codes := r.engine.Expand(tok, r.opts.ExpandLimit)
	r.expanded[tok] = codes
	return codes
}

// offer keeps the highest confidence per code; the first offer wins ties.
func (r *ranker) offer(code string, conf float64, why string, e *index.Entry) {
	conf = min(conf, 1)
	if cur, ok := r.best[code]; ok && cur.Confidence >= conf {
		return
	}
	r.best[code] = &Suggestion{
		Code:       code,
		Confidence: conf,
		Validated:  true,
		Why:        why,
		Evidence:   evidence(e),
	}
}

func evidence(e *index.Entry) []string {
	out := []string{e.Path}
	for i, u := range e.Uses {
		if i == 2 {
			break
		}
		out = append(out, "use: "+u)
	}
	if len(e.Sees) > 0 {
		out = append(out, "see: "+e.Sees[0])
	}
	return out
}

func (r *ranker) ranked() []Suggestion {
	out := make([]Suggestion, 0, len(r.best))
	for _, s := range r.best {
		if r.engine.IsValid(s.Code) {
			out = append(out, *s)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Confidence != out[j].Confidence {
			return out[i].Confidence > out[j].Confidence
		}
		return out[i].Code < out[j].Code
	})
	if len(out) > r.opts.MaxCodes {
		out = out[:r.opts.MaxCodes]
	}
	return out
}
