// Package lrucache is a bounded, content-addressed on-disk LRUdisk cache:
// values live at <root>/<key>, eviction order is tracked in memory and
// persisted to a <root>.cache sidecar, and a directory walk rebuilds the
// index from scratch if the sidecar is missing or stale (crash recovery).
// Grounded on the original implementation's plugins/base/src/lru_cache.rs
// (LruDiskCache/LinkedHashMap), generalizing the teacher's TTL-based
// internal/cache.Manager into eviction by total byte capacity.
package lrucache

import (
	"bytes"
	"container/list"
	"encoding/gob"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/klauspost/compress/zstd"

	"imaginator/internal/ierr"
	"imaginator/pkg/human"
)

// entry is one cache item: its byte size (for capacity accounting) and
// its position in the LRU list.
type entry struct {
	key  string
	size int64
}

// Cache is a single named, capacity-bounded LRU disk cache rooted at Dir.
type Cache struct {
	name     string
	dir      string
	capacity int64

	mu       sync.Mutex
	size     int64
	order    *list.List               // front = least recently used, back = most recently used
	elements map[string]*list.Element // key -> element in order, holding *entry

	// onEvict, if set, is called with the cache's name once for every
	// entry Insert evicts to make room — metrics wiring, not correctness.
	onEvict func(name string)
}

// OnEvict registers fn to be called on every eviction Insert performs.
func (c *Cache) OnEvict(fn func(name string)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onEvict = fn
}

// sidecarName is the index file persisted alongside the cache root,
// mirroring the original's "<root>.cache" bincode export.
func sidecarName(dir string) string { return dir + ".cache" }

// Open creates or loads the named cache rooted at dir with the given
// byte capacity. If a sidecar index exists it's loaded directly
// (import, in the original's terms); otherwise the directory is walked
// to rebuild the index from whatever files are already on disk — the
// walk order is arbitrary, not true LRU order, exactly as the original's
// `load` fallback warns.
func Open(name, dir string, capacity int64) (*Cache, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, ierr.Wrap(ierr.KindIO, err, "lrucache %s: create root", name)
	}
	c := &Cache{
		name:     name,
		dir:      dir,
		capacity: capacity,
		order:    list.New(),
		elements: make(map[string]*list.Element),
	}
	if err := c.importSidecar(); err != nil {
		if err := c.rebuildFromDir(); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// Get reads a value back by key, promoting it to most-recently-used.
func (c *Cache) Get(key string) ([]byte, error) {
	c.mu.Lock()
	el, ok := c.elements[key]
	if !ok {
		c.mu.Unlock()
		return nil, ierr.New(ierr.KindNotInCache, "lrucache %s: %q not in cache", c.name, key)
	}
	c.order.MoveToBack(el)
	c.mu.Unlock()

	data, err := os.ReadFile(c.path(key))
	if err != nil {
		return nil, ierr.Wrap(ierr.KindIO, err, "lrucache %s: read %q", c.name, key)
	}
	return data, nil
}

// Insert writes value under key, evicting least-recently-used entries
// from the front of the list until there's room. A value larger than
// the cache's entire capacity is rejected outright (KindDataTooBig),
// the same guard as the original's DataTooBigError.
func (c *Cache) Insert(key string, value []byte) error {
	size := int64(len(value))
	if size > c.capacity {
		return ierr.New(ierr.KindDataTooBig, "lrucache %s: value for %q (%s) exceeds capacity %s",
			c.name, key, human.FormatBytes(size), human.FormatBytes(c.capacity))
	}

	if err := os.MkdirAll(filepath.Dir(c.path(key)), 0o755); err != nil {
		return ierr.Wrap(ierr.KindIO, err, "lrucache %s: mkdir for %q", c.name, key)
	}
	tmp := c.path(key) + ".tmp"
	if err := os.WriteFile(tmp, value, 0o644); err != nil {
		return ierr.Wrap(ierr.KindIO, err, "lrucache %s: write %q", c.name, key)
	}
	if err := os.Rename(tmp, c.path(key)); err != nil {
		return ierr.Wrap(ierr.KindIO, err, "lrucache %s: rename %q", c.name, key)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if el, ok := c.elements[key]; ok {
		c.size -= el.Value.(*entry).size
		c.order.Remove(el)
	}
	for c.size+size > c.capacity {
		front := c.order.Front()
		if front == nil {
			break
		}
		victim := front.Value.(*entry)
		c.order.Remove(front)
		delete(c.elements, victim.key)
		c.size -= victim.size
		_ = os.Remove(c.path(victim.key))
		_ = os.Remove(c.path(victim.key) + ".meta")
		if c.onEvict != nil {
			c.onEvict(c.name)
		}
	}
	el := c.order.PushBack(&entry{key: key, size: size})
	c.elements[key] = el
	c.size += size
	return nil
}

// Contains reports whether key is present without promoting it.
func (c *Cache) Contains(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.elements[key]
	return ok
}

// Len returns the number of entries currently tracked.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.elements)
}

// Size returns the total bytes currently tracked.
func (c *Cache) Size() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.size
}

func (c *Cache) path(key string) string {
	return filepath.Join(c.dir, key)
}

// Path exposes the on-disk location of key, for callers (like the cache
// filter) that persist a sidecar file alongside the tracked payload
// without routing that sidecar's bytes through Insert's own accounting.
func (c *Cache) Path(key string) string {
	return c.path(key)
}

// sidecarRecord is the persisted shape of the LRU order, oldest first.
type sidecarRecord struct {
	Keys  []string
	Sizes []int64
}

// Export persists the current LRU order to the <root>.cache sidecar,
// zstd-compressed the way the original's bincode export is compact by
// construction — this index can otherwise grow to cover millions of
// entries in a long-lived cache.
func (c *Cache) Export() error {
	c.mu.Lock()
	rec := sidecarRecord{}
	for el := c.order.Front(); el != nil; el = el.Next() {
		e := el.Value.(*entry)
		rec.Keys = append(rec.Keys, e.key)
		rec.Sizes = append(rec.Sizes, e.size)
	}
	c.mu.Unlock()

	var raw bytes.Buffer
	if err := gob.NewEncoder(&raw).Encode(rec); err != nil {
		return ierr.Wrap(ierr.KindIO, err, "lrucache %s: encode sidecar", c.name)
	}
	enc, err := zstd.NewWriter(nil)
	if err != nil {
		return ierr.Wrap(ierr.KindIO, err, "lrucache %s: init zstd encoder", c.name)
	}
	defer enc.Close()
	compressed := enc.EncodeAll(raw.Bytes(), nil)

	tmp := sidecarName(c.dir) + ".tmp"
	if err := os.WriteFile(tmp, compressed, 0o644); err != nil {
		return ierr.Wrap(ierr.KindIO, err, "lrucache %s: write sidecar", c.name)
	}
	return os.Rename(tmp, sidecarName(c.dir))
}

func (c *Cache) importSidecar() error {
	raw, err := os.ReadFile(sidecarName(c.dir))
	if err != nil {
		return err
	}
	dec, err := zstd.NewReader(bytes.NewReader(raw))
	if err != nil {
		return fmt.Errorf("lrucache %s: init zstd decoder: %w", c.name, err)
	}
	defer dec.Close()
	decompressed, err := io.ReadAll(dec)
	if err != nil {
		return fmt.Errorf("lrucache %s: decompress sidecar: %w", c.name, err)
	}
	var rec sidecarRecord
	if err := gob.NewDecoder(bytes.NewReader(decompressed)).Decode(&rec); err != nil {
		return fmt.Errorf("lrucache %s: decode sidecar: %w", c.name, err)
	}
	c.order = list.New()
	c.elements = make(map[string]*list.Element)
	c.size = 0
	for i, key := range rec.Keys {
		if _, err := os.Stat(c.path(key)); err != nil {
			continue // sidecar references a file that no longer exists on disk
		}
		el := c.order.PushBack(&entry{key: key, size: rec.Sizes[i]})
		c.elements[key] = el
		c.size += rec.Sizes[i]
	}
	return nil
}

// rebuildFromDir walks the cache root and reconstructs the index from
// whatever value files are present. This is NOT true LRU order — it's
// whatever order filepath.WalkDir visits files in — matching the
// original's documented limitation of its directory-walk fallback.
func (c *Cache) rebuildFromDir() error {
	c.order = list.New()
	c.elements = make(map[string]*list.Element)
	c.size = 0
	return filepath.WalkDir(c.dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if d.IsDir() || filepath.Ext(path) == ".meta" {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(c.dir, path)
		if err != nil {
			return err
		}
		el := c.order.PushBack(&entry{key: rel, size: info.Size()})
		c.elements[rel] = el
		c.size += info.Size()
		return nil
	})
}
