// Package cache keeps synthesized sentence audio on disk so repeated phrases
// ("Done.", confirmation prompts, apologies) skip the synthesizer.
package cache

import (
	"container/list"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
)

const fileExt = ".pcm"

// Cache is a disk-backed LRU of audio clips keyed by Key.
type Cache struct {
	mu       sync.Mutex
	dir      string
	maxBytes int64
	used     int64
	log      *slog.Logger
	order    *list.List // front is most recently used
	index    map[string]*list.Element

	hits, misses int
}

type clip struct {
	key  string
	size int64
}

// Stats reports cache occupancy and effectiveness.
type Stats struct {
	Entries int
	Bytes   int64
	Hits    int
	Misses  int
}

// New opens a Cache rooted at dir, creating it if needed, and indexes clips
// left by earlier runs oldest-first by modification time.
func New(dir string, maxBytes int64, logger *slog.Logger) (*Cache, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if maxBytes <= 0 {
		return nil, fmt.Errorf("cache: max size must be positive, got %d", maxBytes)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("cache: create dir: %w", err)
	}
	c := &Cache{
		dir:      dir,
		maxBytes: maxBytes,
		log:      logger.With("component", "cache"),
		order:    list.New(),
		index:    make(map[string]*list.Element),
	}
	if err := c.restore(); err != nil {
		return nil, err
	}
	return c, nil
}

// Get returns the clip stored under key.
func (c *Cache) Get(key string) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.index[key]
	if !ok {
		c.misses++
		return nil, false
	}
	data, err := os.ReadFile(c.path(key))
	if err != nil {
		c.log.Warn("cached clip unreadable, dropping", "key", key, "error", err)
		c.removeLocked(el)
		c.misses++
		return nil, false
	}
	c.order.MoveToFront(el)
	c.hits++
	return data, true
}

// Put stores data under key, evicting least recently used clips to stay
// within the size limit. Clips larger than the limit are not stored.
func (c *Cache) Put(key string, data []byte) error {
	size := int64(len(data))
	if size == 0 || size > c.maxBytes {
		return nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.index[key]; ok {
		c.removeLocked(el)
	}
	c.evictLocked(size)

	tmp, err := os.CreateTemp(c.dir, "clip-*.tmp")
	if err != nil {
		return fmt.Errorf("cache: create temp: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("cache: write: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("cache: close: %w", err)
	}
	if err := os.Rename(tmp.Name(), c.path(key)); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("cache: commit: %w", err)
	}

	c.index[key] = c.order.PushFront(&clip{key: key, size: size})
	c.used += size
	return nil
}

// Stats returns a snapshot of the cache counters.
func (c *Cache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Stats{
		Entries: c.order.Len(),
		Bytes:   c.used,
		Hits:    c.hits,
		Misses:  c.misses,
	}
}

// Key derives a stable file-safe key from the synthesis inputs.
func Key(engine, voiceID string, speed float64, text string) string {
	h := sha256.New()
	fmt.Fprintf(h, "engine=%s\nvoice=%s\nspeed=%s\n",
		engine, voiceID, strconv.FormatFloat(speed, 'f', 3, 64))
	h.Write([]byte(text))
	return hex.EncodeToString(h.Sum(nil))
}

func (c *Cache) path(key string) string {
	return filepath.Join(c.dir, key+fileExt)
}

// evictLocked drops clips from the back until needed more bytes fit.
func (c *Cache) evictLocked(needed int64) {
	for c.used+needed > c.maxBytes {
		el := c.order.Back()
		if el == nil {
			return
		}
		cl := el.Value.(*clip)
		c.removeLocked(el)
		c.log.Debug("evicted cached clip", "key", cl.key, "size", cl.size)
	}
}

func (c *Cache) removeLocked(el *list.Element) {
	cl := c.order.Remove(el).(*clip)
	delete(c.index, cl.key)
	c.used -= cl.size
	if err := os.Remove(c.path(cl.key)); err != nil && !os.IsNotExist(err) {
		c.log.Warn("remove cached clip", "key", cl.key, "error", err)
	}
}

func (c *Cache) restore() error {
	entries, err := os.ReadDir(c.dir)
	if err != nil {
		return fmt.Errorf("cache: read dir: %w", err)
	}

	type found struct {
		key  string
		size int64
		mod  int64
	}
	var clips []found
	for _, de := range entries {
		name := de.Name()
		if de.IsDir() {
			continue
		}
		if strings.HasSuffix(name, ".tmp") {
			os.Remove(filepath.Join(c.dir, name))
			continue
		}
		if !strings.HasSuffix(name, fileExt) {
			continue
		}
		info, err := de.Info()
		if err != nil {
			continue
		}
		clips = append(clips, found{
			key:  strings.TrimSuffix(name, fileExt),
			size: info.Size(),
			mod:  info.ModTime().UnixNano(),
		})
	}
	sort.Slice(clips, func(i, j int) bool { return clips[i].mod < clips[j].mod })

	for _, f := range clips {
		c.index[f.key] = c.order.PushFront(&clip{key: f.key, size: f.size})
		c.used += f.size
	}
	if len(clips) > 0 {
		c.log.Info("restored cached clips", "count", len(clips), "bytes", c.used)
		c.evictLocked(0)
	}
	return nil
}
