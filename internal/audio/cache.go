package audio

import (
	"log/slog"
	"path/filepath"
	"sync/atomic"

	gocache "github.com/patrickmn/go-cache"
)

// SoundCache holds decoded clips keyed by resolved path. The announcement
// catalog is small and bounded by the registry, so entries live for the
// whole process and are never evicted.
type SoundCache struct {
	soundsPath string
	cache      *gocache.Cache
	logger     *slog.Logger

	hits   atomic.Uint64
	misses atomic.Uint64
}

// CacheStats is a point-in-time snapshot of cache effectiveness.
type CacheStats struct {
	Entries int    `json:"entries"`
	Hits    uint64 `json:"hits"`
	Misses  uint64 `json:"misses"`
}

func newSoundCache(soundsPath string, logger *slog.Logger) *SoundCache {
	return &SoundCache{
		soundsPath: soundsPath,
		cache:      gocache.New(gocache.NoExpiration, 0),
		logger:     logger,
	}
}

// Resolve maps a sound name to its on-disk path. Absolute names are used
// as-is so mixed catalogs keep working.
func (sc *SoundCache) Resolve(name string) string {
	if filepath.IsAbs(name) {
		return name
	}
	return filepath.Join(sc.soundsPath, name)
}

// Get returns the decoded clip for a sound name, decoding and caching it
// on first use.
func (sc *SoundCache) Get(name string) (*Clip, error) {
	path := sc.Resolve(name)
	if cached, ok := sc.cache.Get(path); ok {
		sc.hits.Add(1)
		return cached.(*Clip), nil
	}
	sc.misses.Add(1)

	clip, err := decodeFile(path)
	if err != nil {
		return nil, err
	}
	sc.cache.Set(path, clip, gocache.NoExpiration)
	return clip, nil
}

// Preload decodes every name not already cached. Failures are logged per
// name and do not abort the batch; a missing file simply stays playable
// nowhere until it is provisioned.
func (sc *SoundCache) Preload(names []string) {
	loaded, failed := 0, 0
	for _, name := range names {
		if name == "" {
			continue
		}
		if _, ok := sc.cache.Get(sc.Resolve(name)); ok {
			continue
		}
		if _, err := sc.Get(name); err != nil {
			failed++
			sc.logger.Warn("failed to preload sound", "name", name, "error", err)
			continue
		}
		loaded++
	}
	sc.logger.Info("sound preload finished",
		"requested", len(names),
		"loaded", loaded,
		"failed", failed,
		"cached", sc.cache.ItemCount())
}

// Stats returns cache counters for diagnostics and metrics.
func (sc *SoundCache) Stats() CacheStats {
	return CacheStats{
		Entries: sc.cache.ItemCount(),
		Hits:    sc.hits.Load(),
		Misses:  sc.misses.Load(),
	}
}
