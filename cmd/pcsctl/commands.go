package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/bastiangx/pcserve/internal/logger"
	"github.com/bastiangx/pcserve/internal/utils"
	"github.com/bastiangx/pcserve/pkg/config"
	"github.com/bastiangx/pcserve/pkg/dictionary"
	"github.com/bastiangx/pcserve/pkg/index"
	"github.com/bastiangx/pcserve/pkg/suggest"
	"github.com/spf13/cobra"
)

type globalFlags struct {
	tables string
	index  string
	defs   string
	config string
	debug  bool
}

func newRootCmd() *cobra.Command {
	g := &globalFlags{}
	rootCmd := &cobra.Command{
		Use:           "pcsctl",
		Short:         "Validate, expand, explain and suggest ICD-10-PCS codes",
		SilenceUsage:  true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			logger.Setup(g.debug)
		},
	}
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&g.tables, "tables", "", "Tables XML file (default: discovered in the config data dir)")
	pf.StringVar(&g.index, "index", "", "Index XML file")
	pf.StringVar(&g.defs, "defs", "", "Definitions XML file")
	pf.StringVar(&g.config, "config", "", "Path to a config file")
	pf.BoolVar(&g.debug, "debug", false, "Enable debug logging")

	rootCmd.AddCommand(validateCmd(g))
	rootCmd.AddCommand(expandCmd(g))
	rootCmd.AddCommand(explainCmd(g))
	rootCmd.AddCommand(nextCmd(g))
	rootCmd.AddCommand(searchCmd(g))
	rootCmd.AddCommand(suggestCmd(g))
	rootCmd.AddCommand(statsCmd(g))
	return rootCmd
}

// load returns the config and the references named by the flags, falling
// back to discovery in the configured data directory.
func (g *globalFlags) load(ctx context.Context) (*config.Config, *dictionary.Bundle, error) {
	var cfg *config.Config
	if g.config != "" {
		cfg, _ = config.LoadConfigWithPriority(g.config, nil)
	} else if resolver, err := utils.NewPathResolver(); err == nil {
		cfg, _ = config.LoadConfigWithPriority("", resolver)
	} else {
		cfg = config.DefaultConfig()
	}

	registry := dictionary.NewRegistry(cfg.Data.CacheSize,
		dictionary.WithIndexOptions(index.WithScorer(cfg.Scorer())))

	if g.tables == "" {
		b, err := dictionary.NewLoader(cfg.Data.Dir, cfg.Patterns(), registry).Load(ctx)
		return cfg, b, err
	}
	files := map[dictionary.Kind]string{dictionary.KindTables: g.tables}
	if g.index != "" {
		files[dictionary.KindIndex] = g.index
	}
	if g.defs != "" {
		files[dictionary.KindDefinitions] = g.defs
	}
	b, err := dictionary.NewLoader(".", cfg.Patterns(), registry).LoadFiles(ctx, files)
	return cfg, b, err
}

func requireIndex(b *dictionary.Bundle) error {
	if b.Index == nil {
		return fmt.Errorf("no index loaded, pass --index")
	}
	return nil
}

func validateCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "validate CODE...",
		Short: "Report whether each code is legal",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, b, err := g.load(cmd.Context())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			invalid := 0
			for _, code := range args {
				ok := b.Engine.IsValid(code)
				if !ok {
					invalid++
				}
				fmt.Fprintf(out, "%s\t%t\n", strings.ToUpper(strings.TrimSpace(code)), ok)
			}
			if invalid > 0 {
				return fmt.Errorf("%d of %d codes are not legal", invalid, len(args))
			}
			return nil
		},
	}
}

func expandCmd(g *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "expand PREFIX",
		Short: "List legal codes under a prefix in order",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			n, _ := cmd.Flags().GetInt("limit")
			_, b, err := g.load(cmd.Context())
			if err != nil {
				return err
			}
			for _, c := range b.Engine.Expand(args[0], n) {
				fmt.Fprintln(cmd.OutOrStdout(), c)
			}
			return nil
		},
	}
	cmd.Flags().IntP("limit", "n", 50, "Maximum number of codes")
	return cmd
}

func explainCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "explain CODE",
		Short: "Break a code down into its axis labels",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, b, err := g.load(cmd.Context())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			x := b.Engine.Explain(args[0])
			if !x.Valid {
				fmt.Fprintln(out, x.Diagnostic)
				return fmt.Errorf("%s is not a legal code", x.Code)
			}
			if b.Definitions != nil {
				fmt.Fprintln(out, b.Definitions.Describe(x.Code, b.Engine))
			} else {
				for _, a := range x.Axes {
					fmt.Fprintln(out, a.String())
				}
			}
			if b.Index != nil {
				for _, e := range b.Index.EntriesForCode(x.Code, 5) {
					fmt.Fprintf(out, "index: %s\n", e.Path)
				}
			}
			return nil
		},
	}
}

func nextCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "next TOKEN",
		Short: "Show the legal characters that can follow a partial code",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, b, err := g.load(cmd.Context())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			next := b.Engine.NextChars(args[0])
			fmt.Fprintln(out, next.Message)
			for _, o := range next.Options {
				fmt.Fprintf(out, "%s\t%s\n", o.Char, o.Label)
			}
			return nil
		},
	}
}

func searchCmd(g *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "search QUERY",
		Short: "Fuzzy search the index",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, b, err := g.load(cmd.Context())
			if err != nil {
				return err
			}
			if err := requireIndex(b); err != nil {
				return err
			}
			n, _ := cmd.Flags().GetInt("limit")
			cutoff := cfg.Index.ScoreCutoff
			if cmd.Flags().Changed("cutoff") {
				cutoff, _ = cmd.Flags().GetInt("cutoff")
			}
			for _, h := range b.Index.Search(strings.Join(args, " "), n, cutoff) {
				fmt.Fprintf(cmd.OutOrStdout(), "%3d\t%s\t%s\n", h.Score, h.Entry.Path, strings.Join(h.Entry.Codes, " "))
			}
			return nil
		},
	}
	cmd.Flags().IntP("limit", "n", 20, "Maximum number of entries")
	cmd.Flags().Int("cutoff", 70, "Minimum score 0-100 (default from config)")
	return cmd
}

func suggestCmd(g *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "suggest [TEXT]",
		Short: "Suggest legal codes for free text",
		RunE: func(cmd *cobra.Command, args []string) error {
			file, _ := cmd.Flags().GetString("file")
			text, err := readText(cmd.InOrStdin(), file, args)
			if err != nil {
				return err
			}
			cfg, b, err := g.load(cmd.Context())
			if err != nil {
				return err
			}
			if err := requireIndex(b); err != nil {
				return err
			}
			opts := cfg.SuggestOptions()
			if n, _ := cmd.Flags().GetInt("limit"); n > 0 {
				opts.MaxCodes = n
			}
			out, err := suggest.Suggest(cmd.Context(), text, b.Engine, b.Index, opts)
			if err != nil {
				return err
			}
			for _, s := range out {
				fmt.Fprintf(cmd.OutOrStdout(), "%s\t%.2f\t%s\n", s.Code, s.Confidence, s.Why)
			}
			return nil
		},
	}
	cmd.Flags().StringP("file", "f", "", "Read the text from a file, - for stdin")
	cmd.Flags().IntP("limit", "n", 0, "Maximum number of codes (default from config)")
	return cmd
}

func readText(stdin io.Reader, file string, args []string) (string, error) {
	switch {
	case file == "-":
		b, err := io.ReadAll(stdin)
		return string(b), err
	case file != "":
		b, err := os.ReadFile(file)
		if err != nil {
			return "", fmt.Errorf("failed to read %s: %w", file, err)
		}
		return string(b), nil
	case len(args) > 0:
		return strings.Join(args, " "), nil
	}
	return "", fmt.Errorf("no text given, pass TEXT or --file")
}

func statsCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show counts for the loaded references",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			_, b, err := g.load(cmd.Context())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			st := b.Engine.Stats()
			fmt.Fprintf(out, "tables\t%d\nrows\t%d\nskipped_rows\t%d\ncodes\t%d\nnodes\t%d\nambiguous_labels\t%d\n",
				st.Tables, st.Rows, st.SkippedRows, st.Codes, st.Nodes, st.AmbiguousLabels)
			if b.Index != nil {
				is := b.Index.Stats()
				fmt.Fprintf(out, "index_entries\t%d\nindex_codes\t%d\n", is.Entries, is.UniqueCodes)
			}
			if b.Definitions != nil {
				ops, terms := b.Definitions.Len()
				fmt.Fprintf(out, "definitions\t%d ops, %d terms\n", ops, terms)
			}
			for _, k := range []dictionary.Kind{dictionary.KindTables, dictionary.KindIndex, dictionary.KindDefinitions} {
				if fp, ok := b.Fingerprints[k]; ok {
					fmt.Fprintf(out, "fingerprint.%s\t%s\n", k, fp)
				}
			}
			return nil
		},
	}
}
