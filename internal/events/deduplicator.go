package events

import (
	"crypto/sha256"
	"encoding/binary"
	"sync"
	"sync/atomic"
	"time"

	"log/slog"
)

// DeduplicationConfig holds configuration for error deduplication
type DeduplicationConfig struct {
	Enabled         bool
	TTL             time.Duration
	MaxEntries      int
	CleanupInterval time.Duration
}

// DefaultDeduplicationConfig returns default deduplication settings
func DefaultDeduplicationConfig() *DeduplicationConfig {
	return &DeduplicationConfig{
		Enabled:         true,
		TTL:             5 * time.Minute,
		MaxEntries:      1000,
		CleanupInterval: 1 * time.Minute,
	}
}

// ErrorDeduplicator suppresses repeats of the same error signature within a
// TTL window, so a flapping device or disk produces one operator-visible
// event instead of a stream.
type ErrorDeduplicator struct {
	config *DeduplicationConfig
	cache  map[uint64]*dedupeEntry
	mu     sync.Mutex

	// Metrics
	totalSeen       atomic.Uint64
	totalSuppressed atomic.Uint64
	cacheHits       atomic.Uint64
	cacheMisses     atomic.Uint64

	// Lifecycle
	stopCleanup chan struct{}
	cleanupDone chan struct{}
	stopped     atomic.Bool
	logger      *slog.Logger
}

// dedupeEntry tracks occurrences of one error signature
type dedupeEntry struct {
	firstSeen  time.Time
	lastSeen   time.Time
	count      int64
	suppressed int64
}

// NewErrorDeduplicator creates a new error deduplicator
func NewErrorDeduplicator(config *DeduplicationConfig, logger *slog.Logger) *ErrorDeduplicator {
	if config == nil {
		config = DefaultDeduplicationConfig()
	}

	ed := &ErrorDeduplicator{
		config:      config,
		cache:       make(map[uint64]*dedupeEntry),
		stopCleanup: make(chan struct{}),
		cleanupDone: make(chan struct{}),
		logger:      logger,
	}

	// Start cleanup goroutine if enabled
	if config.Enabled && config.CleanupInterval > 0 {
		go ed.cleanupLoop()
	}

	return ed
}

// ShouldProcess reports whether the event should be processed. A repeat of a
// signature already seen within the TTL window is suppressed; a signature
// idle past the TTL counts as a fresh occurrence again.
func (ed *ErrorDeduplicator) ShouldProcess(event ErrorEvent) bool {
	if ed == nil || !ed.config.Enabled {
		return true
	}

	ed.totalSeen.Add(1)
	hash := ed.signature(event)

	ed.mu.Lock()
	defer ed.mu.Unlock()

	now := time.Now()
	entry, exists := ed.cache[hash]

	if !exists {
		ed.cacheMisses.Add(1)

		if len(ed.cache) >= ed.config.MaxEntries {
			ed.evictOldest()
		}

		ed.cache[hash] = &dedupeEntry{
			firstSeen: now,
			lastSeen:  now,
			count:     1,
		}
		return true
	}

	ed.cacheHits.Add(1)

	if now.Sub(entry.lastSeen) > ed.config.TTL {
		// Expired, reset the entry
		entry.firstSeen = now
		entry.lastSeen = now
		entry.count = 1
		entry.suppressed = 0
		return true
	}

	// Duplicate within TTL window
	entry.lastSeen = now
	entry.count++
	entry.suppressed++
	ed.totalSuppressed.Add(1)

	// Log periodically (every 10 suppressions)
	if entry.suppressed%10 == 0 {
		ed.logger.Debug("suppressing duplicate error",
			"component", event.GetComponent(),
			"category", event.GetCategory(),
			"count", entry.count,
			"suppressed", entry.suppressed,
			"first_seen", entry.firstSeen,
		)
	}

	return false
}

// signature hashes the stable identity of an error: component, category,
// message, and the context fields that identify rather than vary between
// occurrences (operation, call_code, provider).
func (ed *ErrorDeduplicator) signature(event ErrorEvent) uint64 {
	h := sha256.New()

	h.Write([]byte(event.GetComponent()))
	h.Write([]byte(event.GetCategory()))
	h.Write([]byte(event.GetMessage()))

	if ctx := event.GetContext(); ctx != nil {
		if op, ok := ctx["operation"].(string); ok {
			h.Write([]byte(op))
		}
		if code, ok := ctx["call_code"].(string); ok {
			h.Write([]byte(code))
		}
		if provider, ok := ctx["provider"].(string); ok {
			h.Write([]byte(provider))
		}
	}

	sum := h.Sum(nil)
	return binary.BigEndian.Uint64(sum[:8])
}

// evictOldest removes the least recently seen signature. Caller holds mu.
// The cache is capped small enough that a scan beats LRU bookkeeping.
func (ed *ErrorDeduplicator) evictOldest() {
	var oldestHash uint64
	var oldestTime time.Time
	found := false

	for hash, entry := range ed.cache {
		if !found || entry.lastSeen.Before(oldestTime) {
			oldestHash = hash
			oldestTime = entry.lastSeen
			found = true
		}
	}

	if found {
		delete(ed.cache, oldestHash)
	}
}

// cleanupLoop periodically removes expired entries
func (ed *ErrorDeduplicator) cleanupLoop() {
	ticker := time.NewTicker(ed.config.CleanupInterval)
	defer ticker.Stop()
	defer close(ed.cleanupDone)

	for {
		select {
		case <-ticker.C:
			ed.cleanup()
		case <-ed.stopCleanup:
			return
		}
	}
}

// cleanup removes entries idle past the TTL
func (ed *ErrorDeduplicator) cleanup() {
	ed.mu.Lock()
	defer ed.mu.Unlock()

	now := time.Now()
	expired := 0

	for hash, entry := range ed.cache {
		if now.Sub(entry.lastSeen) > ed.config.TTL {
			delete(ed.cache, hash)
			expired++
		}
	}

	if expired > 0 {
		ed.logger.Debug("cleaned up expired deduplication entries",
			"expired", expired,
			"remaining", len(ed.cache),
		)
	}
}

// GetStats returns deduplication statistics
func (ed *ErrorDeduplicator) GetStats() DeduplicationStats {
	if ed == nil {
		return DeduplicationStats{}
	}

	ed.mu.Lock()
	cacheSize := len(ed.cache)
	ed.mu.Unlock()

	hits := ed.cacheHits.Load()
	misses := ed.cacheMisses.Load()
	hitRate := float64(0)

	if total := hits + misses; total > 0 {
		hitRate = float64(hits) / float64(total) * 100
	}

	return DeduplicationStats{
		TotalSeen:       ed.totalSeen.Load(),
		TotalSuppressed: ed.totalSuppressed.Load(),
		CacheSize:       cacheSize,
		CacheHits:       hits,
		CacheMisses:     misses,
		HitRate:         hitRate,
	}
}

// Shutdown stops the cleanup goroutine. Safe to call more than once.
func (ed *ErrorDeduplicator) Shutdown() {
	if ed == nil {
		return
	}

	if !ed.stopped.CompareAndSwap(false, true) {
		return
	}

	// Only wait for cleanup if it was started
	if ed.config.Enabled && ed.config.CleanupInterval > 0 {
		close(ed.stopCleanup)
		<-ed.cleanupDone
	}
}

// DeduplicationStats contains deduplication metrics
type DeduplicationStats struct {
	TotalSeen       uint64
	TotalSuppressed uint64
	CacheSize       int
	CacheHits       uint64
	CacheMisses     uint64
	HitRate         float64
}
