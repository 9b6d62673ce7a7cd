// Copyright 2025 The pcserve Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

/*
Package main implements the ICD-10-PCS code server and its interactive CLI.

pcserve loads the published tables, index and definitions XML from a data
directory, builds a code trie over every legal seven character code and a
fuzzy searchable synonym index, and answers requests from another process over
MessagePack on stdin/stdout. The -c flag swaps IPC for an interactive prompt.

# Usage

Start the server against a data directory:

	pcserve -data /path/to/icd10pcs

Reload the references when the files change, with debug logging:

	pcserve -data /path/to/icd10pcs -watch -d

Run the interactive prompt:

	pcserve -c -limit 10

The data directory is searched for files matching the [data] patterns of the
config. By default any file below it named like *tables*.xml, *index*.xml or
*definitions*.xml is picked up. Only the tables are required.

# Configuration

Runtime configuration is read from pcserve.toml in the user config dir, or
the file named by -config:

	[server]
	max_limit = 200
	max_text = 20000

	[data]
	dir = "data/"
	watch = false
	cache_size = 6

	[index]
	score_cutoff = 70
	scorer = "token_set"

The config file is created with defaults if it doesn't exist. A file with a
bad value keeps every section that still parses.

# IPC Protocol

See package server for the message layout. In short:

	{"id": "r1", "op": "validate", "code": "0JH60MZ"}
	{"id": "r1", "status": "ok", "v": true, "t": 9}

# Command Line Flags

	-data string
	    Directory containing the reference XML files (default from config)
	-config string
	    Path to a config file
	-d  Enable debug mode with detailed logging
	-c  Run the interactive prompt instead of the IPC server
	-watch
	    Reload references when files in the data directory change
	-limit int
	    Number of results to show in the prompt (default from config)
	-version
	    Show current version
*/
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"

	"github.com/bastiangx/pcserve/internal/cli"
	"github.com/bastiangx/pcserve/internal/logger"
	"github.com/bastiangx/pcserve/internal/utils"
	"github.com/bastiangx/pcserve/pkg/config"
	"github.com/bastiangx/pcserve/pkg/dictionary"
	"github.com/bastiangx/pcserve/pkg/index"
	"github.com/bastiangx/pcserve/pkg/server"
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/log"
)

const (
	Version = "0.3.0"
	AppName = "pcserve"
	gh      = "https://github.com/bastiangx/pcserve"
)

// sigHandler is a simple handler for OS signals to exit normally.
func sigHandler(cancel context.CancelFunc) {
	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-c
		fmt.Fprintf(os.Stderr, "\nExiting...\n")
		cancel()
		os.Exit(0)
	}()
}

// main wires config, references and the chosen front end together.
// It does not implement logic for them and only manages the flow.
func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sigHandler(cancel)

	showVersion := flag.Bool("version", false, "Show current version")
	dataDir := flag.String("data", "", "Directory containing the reference XML files (default from config)")
	configPath := flag.String("config", "", "Path to a config file")
	debugMode := flag.Bool("d", false, "Toggle debug mode")
	cliMode := flag.Bool("c", false, "Run CLI -- useful for testing and debugging")
	watch := flag.Bool("watch", false, "Reload references when the data directory changes")
	limit := flag.Int("limit", 0, "Number of results to show in CLI mode (default from config)")
	flag.Parse()

	if *showVersion {
		printVersion()
		os.Exit(0)
	}

	logger.Setup(*debugMode)

	pathResolver, err := utils.NewPathResolver()
	if err != nil {
		log.Fatalf("Failed to initialize path resolver: %v", err)
	}
	cfg, activeConfig := config.LoadConfigWithPriority(*configPath, pathResolver)
	log.Debugf("Using config file: (%s)", config.GetActiveConfigPath(activeConfig))

	dir := cfg.Data.Dir
	if *dataDir != "" {
		dir = *dataDir
	}
	resolvedDataDir := pathResolver.GetDataDir(dir)
	log.Debugf("Using data dir at: %s", resolvedDataDir)

	registry := dictionary.NewRegistry(cfg.Data.CacheSize,
		dictionary.WithIndexOptions(index.WithScorer(cfg.Scorer())))
	loader := dictionary.NewLoader(resolvedDataDir, cfg.Patterns(), registry)
	bundle, err := loader.Load(ctx)
	if err != nil {
		log.Fatalf("Failed to load references: %v", err)
	}
	log.Debug("References loaded",
		"codes", bundle.Engine.Stats().Codes,
		"index", bundle.Index != nil,
		"definitions", bundle.Definitions != nil)

	var current atomic.Pointer[dictionary.Bundle]
	current.Store(bundle)
	var onReload []func(*dictionary.Bundle)
	onReload = append(onReload, func(b *dictionary.Bundle) { current.Store(b) })

	// CLI is mainly used for testing and dbg purposes.
	if *cliMode {
		n := *limit
		if n <= 0 {
			n = cfg.CLI.DefaultLimit
		}
		stop := startWatcher(ctx, *watch || cfg.Data.Watch, loader, bundle, onReload)
		defer stop()

		inputHandler := cli.NewInputHandler(current.Load, n, cfg.SuggestOptions())
		if err := inputHandler.Start(ctx); err != nil {
			log.Fatalf("CLI error: %v", err)
		}
		return
	}

	log.Debug("spawning IPC")
	srv := server.NewServer(bundle, registry, cfg, os.Stdin, os.Stdout)
	onReload = append(onReload, srv.Swap)
	stop := startWatcher(ctx, *watch || cfg.Data.Watch, loader, bundle, onReload)
	defer stop()

	showStartupInfo(resolvedDataDir, bundle)

	if err := srv.Start(ctx); err != nil {
		log.Errorf("Server stopped: %v", err)
		stop()
		os.Exit(1)
	}
}

// startWatcher starts reloading on file changes when enabled and returns the
// function that stops it.
func startWatcher(ctx context.Context, enabled bool, loader *dictionary.Loader, b *dictionary.Bundle, fns []func(*dictionary.Bundle)) func() {
	if !enabled {
		return func() {}
	}
	w, err := dictionary.NewWatcher(loader, b, dictionary.DefaultDebounce, func(nb *dictionary.Bundle) {
		for _, fn := range fns {
			fn(nb)
		}
	})
	if err != nil {
		log.Warnf("File watching disabled: %v", err)
		return func() {}
	}
	if err := w.Start(ctx); err != nil {
		log.Warnf("File watching disabled: %v", err)
		_ = w.Close()
		return func() {}
	}
	stopped := false
	return func() {
		if !stopped {
			stopped = true
			_ = w.Close()
		}
	}
}

func printVersion() {
	vlog := log.NewWithOptions(os.Stderr, log.Options{
		ReportCaller:    false,
		ReportTimestamp: false,
		Prefix:          "",
	})

	styles := log.DefaultStyles()
	styles.Values["version"] = lipgloss.NewStyle().Bold(true).
		Foreground(lipgloss.AdaptiveColor{Light: "#575279", Dark: "#e0def4"}).
		Background(lipgloss.AdaptiveColor{Light: "#f2e9e1", Dark: "#26233a"})
	styles.Values["gh"] = lipgloss.NewStyle().Italic(true).
		Foreground(lipgloss.AdaptiveColor{Light: "#575279", Dark: "#e0def4"})
	vlog.SetStyles(styles)

	vlog.Print("")
	vlog.Print("[ pcserve ] ICD-10-PCS codes, validated against the tables")
	vlog.Print("", "version", Version)
	vlog.Print("")
	vlog.Print("use -h or --help to see available options")
	vlog.Print("Github Repo", "gh", gh)
}

// showStartupInfo displays some basic info about the loaded references.
func showStartupInfo(dataDir string, b *dictionary.Bundle) {
	currentLevel := log.GetLevel()
	log.SetLevel(log.InfoLevel)

	st := b.Engine.Stats()
	println("=========")
	println(" pcserve ")
	println("=========")
	log.Infof("Version: %s", Version)
	log.Infof("Process ID: [ %d ]", os.Getpid())
	log.Infof("data dir: ( %s )", dataDir)
	log.Infof("tables: %d codes in %d tables", st.Codes, st.Tables)
	if b.Index != nil {
		log.Infof("index: %d entries", b.Index.Len())
	}
	log.Info("status: ready")
	println("=========")
	println("Press Ctrl+C to exit")

	log.SetLevel(currentLevel)
}
