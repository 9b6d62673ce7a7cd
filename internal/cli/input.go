// Package cli is the interactive prompt for trying codes, index searches and
// suggestions against the loaded references.
package cli

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"
	"unicode"

	"github.com/bastiangx/pcserve/internal/logger"
	"github.com/bastiangx/pcserve/internal/utils"
	"github.com/bastiangx/pcserve/pkg/dictionary"
	"github.com/bastiangx/pcserve/pkg/suggest"
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/log"
)

var (
	codeStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("75"))
	validStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("114")).Bold(true)
	errStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("203"))
	dimStyle   = lipgloss.NewStyle().Faint(true)
)

// InputHandler reads one line at a time and answers it:
//
//	0JH60MZ          validity plus the axis breakdown
//	0JH6             legal next characters plus a bounded expansion
//	? knee excision  index search
//	anything else    code suggestions for the text
type InputHandler struct {
	bundle       func() *dictionary.Bundle
	limit        int
	opts         suggest.Options
	in           io.Reader
	out          io.Writer
	logger       *log.Logger
	requestCount int
}

// NewInputHandler creates a prompt over stdin and stderr. bundle is called for
// every line so a reload is picked up without restarting.
func NewInputHandler(bundle func() *dictionary.Bundle, limit int, opts suggest.Options) *InputHandler {
	if limit <= 0 {
		limit = 24
	}
	return &InputHandler{
		bundle: bundle,
		limit:  limit,
		opts:   opts,
		in:     os.Stdin,
		out:    os.Stderr,
		logger: logger.New("cli"),
	}
}

// WithIO swaps the input and output streams.
func (h *InputHandler) WithIO(in io.Reader, out io.Writer) *InputHandler {
	h.in = in
	h.out = out
	return h
}

// Start runs the prompt until EOF or ctx is done.
func (h *InputHandler) Start(ctx context.Context) error {
	fmt.Fprintln(h.out, "pcserve CLI")
	fmt.Fprintln(h.out, "enter a code, a partial code, '? term' or free text (Ctrl+C to exit):")

	scanner := bufio.NewScanner(h.in)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for {
		fmt.Fprint(h.out, "> ")
		if !scanner.Scan() {
			fmt.Fprintln(h.out)
			return scanner.Err()
		}
		if err := ctx.Err(); err != nil {
			return nil
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		h.handleInput(ctx, line)
	}
}

func (h *InputHandler) handleInput(ctx context.Context, line string) {
	h.requestCount++
	b := h.bundle()
	if b == nil || b.Engine == nil {
		h.logger.Error("No references loaded")
		return
	}

	start := time.Now()
	switch {
	case strings.HasPrefix(line, "?"):
		h.search(b, strings.TrimSpace(strings.TrimPrefix(line, "?")))
	case isCodeLike(b, line):
		code, _ := utils.NormalizeCode(line)
		if len(code) == utils.CodeLength {
			h.explain(b, code)
		} else {
			h.partial(b, code)
		}
	default:
		h.suggest(ctx, b, line)
	}
	h.logger.Debugf("Took [ %v ] for '%s'", time.Since(start), utils.Truncate(line, 40))
}

// isCodeLike treats a single alphanumeric token of up to seven characters as
// a code when it has a digit or already walks the code space.
func isCodeLike(b *dictionary.Bundle, s string) bool {
	if len(s) > utils.CodeLength || strings.ContainsFunc(s, unicode.IsSpace) {
		return false
	}
	code, ok := utils.NormalizeCode(s)
	if !ok {
		return false
	}
	return strings.ContainsAny(code, "0123456789") || b.Engine.IsPotentialPrefix(code)
}

func (h *InputHandler) explain(b *dictionary.Bundle, code string) {
	x := b.Engine.Explain(code)
	if !x.Valid {
		fmt.Fprintf(h.out, "%s %s\n", codeStyle.Render(code), errStyle.Render("invalid"))
		fmt.Fprintln(h.out, "  "+x.Diagnostic)
		return
	}
	fmt.Fprintf(h.out, "%s %s\n", codeStyle.Render(code), validStyle.Render("valid"))
	if b.Definitions != nil {
		for _, l := range strings.Split(b.Definitions.Describe(code, b.Engine), "\n") {
			fmt.Fprintln(h.out, "  "+l)
		}
	} else {
		for _, a := range x.Axes {
			fmt.Fprintf(h.out, "  %d %s: %s\n", a.Pos, a.Char, a.Label)
		}
	}
	if b.Index != nil {
		for _, e := range b.Index.EntriesForCode(code, 3) {
			fmt.Fprintln(h.out, dimStyle.Render("  index: "+e.Path))
		}
	}
}

func (h *InputHandler) partial(b *dictionary.Bundle, token string) {
	next := b.Engine.NextChars(token)
	fmt.Fprintf(h.out, "%s %s\n", codeStyle.Render(token), next.Message)
	for _, o := range next.Options {
		fmt.Fprintf(h.out, "  %s  %s\n", codeStyle.Render(o.Char), o.Label)
	}
	codes := b.Engine.Expand(token, h.limit)
	if len(codes) == 0 {
		return
	}
	fmt.Fprintf(h.out, "first %d codes:\n", len(codes))
	for i, c := range codes {
		fmt.Fprintf(h.out, "%3d. %s\n", i+1, codeStyle.Render(c))
	}
}

func (h *InputHandler) search(b *dictionary.Bundle, query string) {
	if b.Index == nil {
		h.logger.Warn("No index loaded")
		return
	}
	hits := b.Index.Search(query, h.limit, h.opts.ScoreCutoff)
	if len(hits) == 0 {
		h.logger.Warnf("No index entries found for '%s'", query)
		return
	}
	fmt.Fprintf(h.out, "Found %d entries for '%s':\n", len(hits), query)
	for i, hit := range hits {
		fmt.Fprintf(h.out, "%3d. [%3d] %s  %s\n", i+1, hit.Score, hit.Entry.Path,
			codeStyle.Render(strings.Join(hit.Entry.Codes, " ")))
	}
}

func (h *InputHandler) suggest(ctx context.Context, b *dictionary.Bundle, text string) {
	if b.Index == nil {
		h.logger.Warn("No index loaded")
		return
	}
	opts := h.opts
	opts.MaxCodes = h.limit
	out, err := suggest.Suggest(ctx, text, b.Engine, b.Index, opts)
	if err != nil {
		h.logger.Errorf("Suggest: %v", err)
		return
	}
	if len(out) == 0 {
		h.logger.Warnf("No suggestions found for '%s'", utils.Truncate(text, 40))
		return
	}
	fmt.Fprintf(h.out, "Found %d suggestions:\n", len(out))
	for i, s := range out {
		fmt.Fprintf(h.out, "%3d. %s %.2f  %s\n", i+1, codeStyle.Render(s.Code), s.Confidence, dimStyle.Render(s.Why))
	}
}
