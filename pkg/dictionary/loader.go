package dictionary

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/bastiangx/pcserve/pkg/definitions"
	"github.com/bastiangx/pcserve/pkg/index"
	"github.com/bastiangx/pcserve/pkg/tables"
	"github.com/bmatcuk/doublestar/v4"
	"github.com/charmbracelet/log"
)

// ErrNoTables is returned when no tables reference can be found.
var ErrNoTables = errors.New("no tables reference found")

// Patterns are doublestar globs, relative to the data directory, that
// locate each reference document.
type Patterns struct {
	Tables      string
	Index       string
	Definitions string
}

// DefaultPatterns match the file names of the published release.
func DefaultPatterns() Patterns {
	return Patterns{
		Tables:      "**/*tables*.xml",
		Index:       "**/*index*.xml",
		Definitions: "**/*definitions*.xml",
	}
}

func (p Patterns) forKind(k Kind) string {
	switch k {
	case KindTables:
		return p.Tables
	case KindIndex:
		return p.Index
	default:
		return p.Definitions
	}
}

// Bundle is one consistent set of built references. The index and the
// definitions are optional and may be nil.
type Bundle struct {
	Engine       *tables.Engine
	Index        *index.Index
	Definitions  *definitions.Definitions
	Files        map[Kind]string
	Fingerprints map[Kind]string
	LoadedAt     time.Time
}

// Same reports whether b and other were built from identical bytes.
func (b *Bundle) Same(other *Bundle) bool {
	if b == nil || other == nil {
		return b == other
	}
	if len(b.Fingerprints) != len(other.Fingerprints) {
		return false
	}
	for k, fp := range b.Fingerprints {
		if other.Fingerprints[k] != fp {
			return false
		}
	}
	return true
}

// Loader reads reference files from a data directory and builds them
// through a Registry.
type Loader struct {
	dir      string
	patterns Patterns
	registry *Registry
}

// NewLoader creates a loader for dir. A nil registry gets a private one.
func NewLoader(dir string, patterns Patterns, registry *Registry) *Loader {
	if registry == nil {
		registry = NewRegistry(6)
	}
	return &Loader{dir: dir, patterns: patterns, registry: registry}
}

// Dir returns the data directory.
func (l *Loader) Dir() string { return l.dir }

// Registry returns the registry builds go through.
func (l *Loader) Registry() *Registry { return l.registry }

// Matches reports whether a path relative to the data directory is one of the
// reference files.
func (l *Loader) Matches(rel string) bool {
	rel = filepath.ToSlash(rel)
	for _, k := range []Kind{KindTables, KindIndex, KindDefinitions} {
		if ok, err := doublestar.Match(l.patterns.forKind(k), rel); err == nil && ok {
			return true
		}
	}
	return false
}

// Discover finds the reference files in the data directory. The first match
// in lexical order wins when a pattern matches several files.
func (l *Loader) Discover() (map[Kind]string, error) {
	fsys := os.DirFS(l.dir)
	files := make(map[Kind]string)
	for _, k := range []Kind{KindTables, KindIndex, KindDefinitions} {
		pattern := l.patterns.forKind(k)
		if pattern == "" {
			continue
		}
		matches, err := doublestar.Glob(fsys, pattern, doublestar.WithFilesOnly())
		if err != nil {
			return nil, fmt.Errorf("bad %s pattern %q: %w", k, pattern, err)
		}
		if len(matches) == 0 {
			continue
		}
		sort.Strings(matches)
		if len(matches) > 1 {
			log.Warnf("%d files match %s pattern %q, using %s", len(matches), k, pattern, matches[0])
		}
		files[k] = filepath.Join(l.dir, filepath.FromSlash(matches[0]))
	}
	return files, nil
}

// Load discovers and builds the references in the data directory.
func (l *Loader) Load(ctx context.Context) (*Bundle, error) {
	files, err := l.Discover()
	if err != nil {
		return nil, err
	}
	return l.LoadFiles(ctx, files)
}

// LoadFiles builds the given reference files. The tables file is required.
func (l *Loader) LoadFiles(ctx context.Context, files map[Kind]string) (*Bundle, error) {
	if files[KindTables] == "" {
		return nil, fmt.Errorf("%w in %s", ErrNoTables, l.dir)
	}
	b := &Bundle{
		Files:        make(map[Kind]string),
		Fingerprints: make(map[Kind]string),
	}

	for _, k := range []Kind{KindTables, KindIndex, KindDefinitions} {
		path := files[k]
		if path == "" {
			continue
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read %s reference: %w", k, err)
		}

		var fp string
		switch k {
		case KindTables:
			b.Engine, fp, err = l.registry.Tables(data)
		case KindIndex:
			b.Index, fp, err = l.registry.Index(data)
		case KindDefinitions:
			b.Definitions, fp, err = l.registry.Definitions(data)
		}
		if err != nil {
			return nil, fmt.Errorf("failed to build %s from %s: %w", k, path, err)
		}
		b.Files[k] = path
		b.Fingerprints[k] = fp
	}

	b.LoadedAt = time.Now()
	log.Debugf("Loaded references from %s (%d files)", l.dir, len(b.Files))
	return b, nil
}
