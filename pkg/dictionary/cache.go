package dictionary

import (
	"sync"

	"github.com/charmbracelet/log"
)

// handleCache keeps built references by key, evicting the least recently
// used entry once maxEntries is reached.
type handleCache struct {
	entries     map[string]any
	accessTime  map[string]int64
	accessCount int64
	evictions   int64
	maxEntries  int
	mu          sync.Mutex
}

func newHandleCache(maxEntries int) *handleCache {
	if maxEntries < 1 {
		maxEntries = 1
	}
	return &handleCache{
		entries:    make(map[string]any, maxEntries),
		accessTime: make(map[string]int64, maxEntries),
		maxEntries: maxEntries,
	}
}

func (hc *handleCache) Get(key string) (any, bool) {
	hc.mu.Lock()
	defer hc.mu.Unlock()

	v, ok := hc.entries[key]
	if ok {
		hc.markAccessed(key)
	}
	return v, ok
}

func (hc *handleCache) Put(key string, v any) {
	hc.mu.Lock()
	defer hc.mu.Unlock()

	if _, ok := hc.entries[key]; !ok && len(hc.entries) >= hc.maxEntries {
		hc.evictLRU()
	}
	hc.entries[key] = v
	hc.markAccessed(key)
}

func (hc *handleCache) Len() int {
	hc.mu.Lock()
	defer hc.mu.Unlock()
	return len(hc.entries)
}

func (hc *handleCache) Evictions() int64 {
	hc.mu.Lock()
	defer hc.mu.Unlock()
	return hc.evictions
}

func (hc *handleCache) markAccessed(key string) {
	hc.accessCount++
	hc.accessTime[key] = hc.accessCount
}

func (hc *handleCache) evictLRU() {
	var oldestKey string
	var oldestTime int64 = 9223372036854775807

	for key, accessTime := range hc.accessTime {
		if accessTime < oldestTime {
			oldestTime = accessTime
			oldestKey = key
		}
	}

	if oldestKey != "" {
		delete(hc.entries, oldestKey)
		delete(hc.accessTime, oldestKey)
		hc.evictions++
		log.Debugf("Evicted '%s' from reference cache", oldestKey)
	}
}
