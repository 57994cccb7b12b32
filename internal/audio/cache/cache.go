package cache

import (
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"readaloud/internal/apperr"

	"github.com/sirupsen/logrus"
)

// Options configures an AudioCache.
type Options struct {
	Dir          string
	MaxSizeBytes int64
	MaxAge       time.Duration

	// Now overrides the clock, for tests.
	Now    func() time.Time
	Logger logrus.FieldLogger
}

// Stats is a snapshot of the cache state.
type Stats struct {
	TotalSizeBytes        int64   `json:"total_size_bytes"`
	EntryCount            int     `json:"entry_count"`
	OldestEntryAgeSeconds float64 `json:"oldest_entry_age_seconds"`
	MaxSizeBytes          int64   `json:"max_size_bytes"`
	MaxAgeSeconds         float64 `json:"max_age_seconds"`
}

// AudioCache maps (text, engine, voice, settings) to synthesized audio on disk.
//
// The index file is the single source of truth. Every operation that touches the
// index holds mu for its whole load-mutate-save sequence. Failures never reach
// synthesis: reads degrade to misses and writes return a CACHE error the caller
// is expected to log and ignore.
type AudioCache struct {
	dir          string
	indexPath    string
	maxSizeBytes int64
	maxAge       time.Duration
	now          func() time.Time
	log          logrus.FieldLogger
	writeFile    func(path string, data []byte) error

	mu    sync.Mutex
	index map[string]*Entry

	cleanupMu     sync.Mutex
	cleanupCancel func()
	cleanupDone   chan struct{}
}

// New opens (or creates) a cache directory. A corrupt index is logged and
// replaced by an empty one.
func New(opts Options) (*AudioCache, error) {
	if opts.Dir == "" {
		return nil, apperr.Configuration(nil, "cache directory is required")
	}
	if opts.MaxSizeBytes <= 0 {
		return nil, apperr.Configuration(nil, "cache max size must be positive, got %d", opts.MaxSizeBytes)
	}
	if opts.MaxAge <= 0 {
		return nil, apperr.Configuration(nil, "cache max age must be positive, got %v", opts.MaxAge)
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = logrus.StandardLogger()
	}

	if err := os.MkdirAll(opts.Dir, 0755); err != nil {
		return nil, apperr.Cache(err, "failed to create cache directory %s", opts.Dir)
	}

	c := &AudioCache{
		dir:          opts.Dir,
		indexPath:    filepath.Join(opts.Dir, indexFileName),
		maxSizeBytes: opts.MaxSizeBytes,
		maxAge:       opts.MaxAge,
		now:          opts.Now,
		log:          opts.Logger.WithField("component", "audio_cache"),
		writeFile:    writeFileAtomic,
	}

	index, err := loadIndex(c.indexPath)
	if err != nil {
		c.log.WithError(apperr.Cache(err, "discarding unreadable index")).Warn("Starting with an empty cache index")
	}
	c.index = index

	c.log.WithFields(logrus.Fields{
		"dir":     c.dir,
		"entries": len(c.index),
	}).Debug("Opened audio cache")

	return c, nil
}

// Dir returns the cache directory.
func (c *AudioCache) Dir() string {
	return c.dir
}

func (c *AudioCache) payloadPath(key string) string {
	return filepath.Join(c.dir, key+".mp3")
}

// Get returns the cached payload, or false on a miss. An entry whose payload is
// gone, or that is older than the max age, is removed from the index as a side
// effect. A hit bumps the last-access time and persists the index before returning.
func (c *AudioCache) Get(text, engine, voiceID string, settings map[string]interface{}) ([]byte, bool) {
	key := Key(text, engine, voiceID, settings)

	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.index[key]
	if !ok {
		return nil, false
	}

	now := c.now()
	path := c.payloadPath(key)

	if _, err := os.Stat(path); err != nil {
		c.log.WithField("key", key).Debug("Dropping index entry with missing payload")
		delete(c.index, key)
		c.persistLocked()
		return nil, false
	}

	if entry.age(now) > c.maxAge {
		c.log.WithField("key", key).Debug("Dropping expired cache entry")
		c.removeLocked(key)
		c.persistLocked()
		return nil, false
	}

	data, err := os.ReadFile(path)
	if err != nil {
		c.log.WithError(err).WithField("key", key).Warn("Failed to read cached audio")
		return nil, false
	}

	entry.LastAccessed = epochSeconds(now)
	c.persistLocked()

	return data, true
}

// Put stores audio and returns its key. When the new payload would push the
// cache over budget, the largest entries are evicted first until it fits.
// The payload is fully on disk before the index refers to it.
func (c *AudioCache) Put(text, engine, voiceID string, settings map[string]interface{}, audio []byte) (string, error) {
	key := Key(text, engine, voiceID, settings)
	size := int64(len(audio))

	c.mu.Lock()
	defer c.mu.Unlock()

	if size > c.maxSizeBytes {
		return key, apperr.Cache(nil, "payload of %d bytes exceeds cache budget of %d bytes", size, c.maxSizeBytes)
	}

	// A replaced entry must not count against its own replacement, and stays
	// indexed until the new payload is on disk.
	old, exists := c.index[key]
	if exists {
		delete(c.index, key)
	}
	evicted := 0
	if c.sizeLocked()+size > c.maxSizeBytes {
		evicted = c.evictLargestLocked(c.maxSizeBytes - size)
	}
	if exists {
		c.index[key] = old
	}

	if err := c.writeFile(c.payloadPath(key), audio); err != nil {
		if evicted > 0 {
			c.persistLocked()
		}
		return key, apperr.Cache(err, "failed to write cached audio")
	}

	now := epochSeconds(c.now())
	c.index[key] = &Entry{
		CreatedAt:    now,
		LastAccessed: now,
		Size:         size,
		Engine:       engine,
		VoiceID:      voiceID,
	}
	if err := c.saveLocked(); err != nil {
		return key, err
	}

	c.log.WithFields(logrus.Fields{
		"key":    key,
		"size":   size,
		"engine": engine,
	}).Debug("Cached audio")

	return key, nil
}

// Remove deletes a payload and its index entry. Removing an unknown key is a no-op.
func (c *AudioCache) Remove(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.removeLocked(key) {
		c.persistLocked()
	}
}

// Clear removes every entry. The cache directory itself is kept.
func (c *AudioCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	for key := range c.index {
		c.removeLocked(key)
	}
	c.persistLocked()
	c.log.Info("Cleared audio cache")
}

// Stats returns a snapshot of the cache.
func (c *AudioCache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	stats := Stats{
		TotalSizeBytes: c.sizeLocked(),
		EntryCount:     len(c.index),
		MaxSizeBytes:   c.maxSizeBytes,
		MaxAgeSeconds:  c.maxAge.Seconds(),
	}
	for _, entry := range c.index {
		if age := entry.age(now).Seconds(); age > stats.OldestEntryAgeSeconds {
			stats.OldestEntryAgeSeconds = age
		}
	}
	return stats
}

// Sweep removes expired entries, then evicts the largest entries while the
// cache is over budget. It is what the periodic cleanup runs.
func (c *AudioCache) Sweep() {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	removed := 0
	for key, entry := range c.index {
		if entry.age(now) > c.maxAge {
			c.removeLocked(key)
			removed++
		}
	}
	if c.sizeLocked() > c.maxSizeBytes {
		removed += c.evictLargestLocked(c.maxSizeBytes)
	}
	if removed > 0 {
		c.persistLocked()
		c.log.WithField("removed", removed).Info("Cache sweep finished")
	}
}

func (c *AudioCache) sizeLocked() int64 {
	var total int64
	for _, entry := range c.index {
		total += entry.Size
	}
	return total
}

// evictLargestLocked removes entries, largest first (oldest first among equal
// sizes), until the total size is at or below target. It returns the number removed.
func (c *AudioCache) evictLargestLocked(target int64) int {
	if c.sizeLocked() <= target {
		return 0
	}

	keys := make([]string, 0, len(c.index))
	for key := range c.index {
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool {
		a, b := c.index[keys[i]], c.index[keys[j]]
		if a.Size != b.Size {
			return a.Size > b.Size
		}
		if a.CreatedAt != b.CreatedAt {
			return a.CreatedAt < b.CreatedAt
		}
		return keys[i] < keys[j]
	})

	size := c.sizeLocked()
	removed := 0
	for _, key := range keys {
		if size <= target {
			break
		}
		size -= c.index[key].Size
		c.removeLocked(key)
		removed++
	}

	c.log.WithFields(logrus.Fields{
		"evicted": removed,
		"target":  target,
	}).Debug("Evicted largest cache entries")

	return removed
}

// removeLocked deletes the payload (ignoring a file that is already gone) and
// the index entry. It does not persist the index.
func (c *AudioCache) removeLocked(key string) bool {
	if _, ok := c.index[key]; !ok {
		return false
	}
	if err := os.Remove(c.payloadPath(key)); err != nil && !os.IsNotExist(err) {
		c.log.WithError(err).WithField("key", key).Warn("Failed to remove cached file")
	}
	delete(c.index, key)
	return true
}

func (c *AudioCache) saveLocked() error {
	if err := saveIndex(c.indexPath, c.index); err != nil {
		return apperr.Cache(err, "failed to save cache index")
	}
	return nil
}

// persistLocked saves the index and logs instead of failing.
func (c *AudioCache) persistLocked() {
	if err := c.saveLocked(); err != nil {
		c.log.WithError(err).Warn("Cache index not persisted")
	}
}

// Close stops the background cleanup.
func (c *AudioCache) Close() error {
	c.StopCleanup()
	return nil
}
