// Package dictionary finds, builds and reloads the reference data: the tables
// engine, the synonym index and the optional definitions.
//
// Builds are memoized by a fingerprint of the reference bytes. Concurrent
// requests for the same bytes wait on one in-flight build instead of
// repeating it, and successful results stay in a small LRU so a reload with
// unchanged files costs a hash and a map lookup.
package dictionary

import (
	"strconv"
	"sync/atomic"

	"github.com/bastiangx/pcserve/pkg/definitions"
	"github.com/bastiangx/pcserve/pkg/index"
	"github.com/bastiangx/pcserve/pkg/tables"
	"github.com/cespare/xxhash/v2"
	"github.com/charmbracelet/log"
	"golang.org/x/sync/singleflight"
)

// Kind names a reference document.
type Kind string

const (
	KindTables      Kind = "tables"
	KindIndex       Kind = "index"
	KindDefinitions Kind = "definitions"
)

// Fingerprint is the hex xxhash64 of a reference document.
func Fingerprint(b []byte) string {
	return strconv.FormatUint(xxhash.Sum64(b), 16)
}

// RegistryStats counts registry activity since creation.
type RegistryStats struct {
	Builds    int64 `json:"builds" msgpack:"builds"`
	Failures  int64 `json:"failures" msgpack:"failures"`
	Hits      int64 `json:"hits" msgpack:"hits"`
	Shared    int64 `json:"shared" msgpack:"shared"`
	Evictions int64 `json:"evictions" msgpack:"evictions"`
	Cached    int   `json:"cached" msgpack:"cached"`
}

// Registry builds each distinct reference at most once while it stays cached.
// Safe for concurrent use.
type Registry struct {
	group singleflight.Group
	cache *handleCache

	builds   atomic.Int64
	failures atomic.Int64
	hits     atomic.Int64
	shared   atomic.Int64

	buildTables      func([]byte) (*tables.Engine, error)
	buildIndex       func([]byte) (*index.Index, error)
	buildDefinitions func([]byte) (*definitions.Definitions, error)
}

// RegistryOption configures a Registry.
type RegistryOption func(*Registry)

// WithIndexOptions passes options to every index build, e.g. the scorer.
func WithIndexOptions(opts ...index.Option) RegistryOption {
	return func(r *Registry) {
		r.buildIndex = func(b []byte) (*index.Index, error) {
			return index.BuildBytes(b, opts...)
		}
	}
}

// NewRegistry creates a registry that retains up to capacity built references.
func NewRegistry(capacity int, opts ...RegistryOption) *Registry {
	r := &Registry{
		cache:            newHandleCache(capacity),
		buildTables:      tables.BuildBytes,
		buildIndex:       func(b []byte) (*index.Index, error) { return index.BuildBytes(b) },
		buildDefinitions: definitions.BuildBytes,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Tables returns the engine for data and its fingerprint.
func (r *Registry) Tables(data []byte) (*tables.Engine, string, error) {
	v, fp, err := r.load(KindTables, data, func(b []byte) (any, error) { return r.buildTables(b) })
	if err != nil {
		return nil, fp, err
	}
	return v.(*tables.Engine), fp, nil
}

// Index returns the synonym index for data and its fingerprint.
func (r *Registry) Index(data []byte) (*index.Index, string, error) {
	v, fp, err := r.load(KindIndex, data, func(b []byte) (any, error) { return r.buildIndex(b) })
	if err != nil {
		return nil, fp, err
	}
	return v.(*index.Index), fp, nil
}

// Definitions returns the definitions for data and its fingerprint.
func (r *Registry) Definitions(data []byte) (*definitions.Definitions, string, error) {
	v, fp, err := r.load(KindDefinitions, data, func(b []byte) (any, error) { return r.buildDefinitions(b) })
	if err != nil {
		return nil, fp, err
	}
	return v.(*definitions.Definitions), fp, nil
}

func (r *Registry) load(kind Kind, data []byte, build func([]byte) (any, error)) (any, string, error) {
	fp := Fingerprint(data)
	key := string(kind) + ":" + fp
	if v, ok := r.cache.Get(key); ok {
		r.hits.Add(1)
		return v, fp, nil
	}

	v, err, shared := r.group.Do(key, func() (any, error) {
		if v, ok := r.cache.Get(key); ok {
			r.hits.Add(1)
			return v, nil
		}
		r.builds.Add(1)
		v, err := build(data)
		if err != nil {
			r.failures.Add(1)
			log.Warnf("%s build failed for %s: %v", kind, fp, err)
			return nil, err
		}
		r.cache.Put(key, v)
		log.Debugf("built %s %s", kind, fp)
		return v, nil
	})
	if shared {
		r.shared.Add(1)
	}
	return v, fp, err
}

// Stats returns the activity counters.
func (r *Registry) Stats() RegistryStats {
	return RegistryStats{
		Builds:    r.builds.Load(),
		Failures:  r.failures.Load(),
		Hits:      r.hits.Load(),
		Shared:    r.shared.Load(),
		Evictions: r.cache.Evictions(),
		Cached:    r.cache.Len(),
	}
}
