// Package cache implements the "cache(sub, cache_name)" filter: it
// fingerprints the sub-filter call, replays a stored result on a hit, and
// otherwise executes the sub-filter, persists the result, and returns it.
// Grounded on the original implementation's plugins/base/src/cache.rs.
package cache

import (
	"crypto/sha1"
	"encoding/json"
	"fmt"
	"os"

	"golang.org/x/sync/singleflight"

	"imaginator/internal/engine"
	"imaginator/internal/ierr"
	"imaginator/internal/lrucache"
	"imaginator/internal/metrics"
	"imaginator/internal/pipeline"
	"imaginator/internal/registry"
	"imaginator/internal/results"
)

// metadata is the JSON sidecar persisted next to a cached payload,
// written directly to disk rather than through the cache's own
// byte-accounted Insert, matching the original's plain File::create.
type metadata struct {
	ContentType string   `json:"content_type"`
	DPI         *[2]float64 `json:"dpi,omitempty"`
}

// Handlers returns the "cache" filter, bound to the named caches
// assembled from configuration at startup. m may be nil, in which case
// hit/miss counters are simply not recorded.
func Handlers(caches map[string]*lrucache.Cache, m *metrics.Metrics) map[string]registry.Handler {
	h := &cacheHandler{caches: caches, flight: &singleflight.Group{}, metrics: m}
	return map[string]registry.Handler{"cache": h.handle}
}

type cacheHandler struct {
	caches map[string]*lrucache.Cache
	// flight collapses concurrent identical lookups into a single
	// sub-filter execution, closing the race the original's plain
	// LruDiskCache leaves open (see the "Cache races" design note).
	flight  *singleflight.Group
	metrics *metrics.Metrics
}

func (h *cacheHandler) handle(ctx *registry.Context, args []pipeline.FilterArg) (registry.Result, error) {
	if len(args) == 0 || args[0].Kind != pipeline.ArgImg {
		return nil, ierr.New(ierr.KindBadArgument, "argument 1 to `cache` must be an image").WithStatus(400)
	}
	name, err := engine.BindString("cache", args, 1)
	if err != nil {
		return nil, err
	}
	store, ok := h.caches[name]
	if !ok {
		return nil, ierr.New(ierr.KindBadArgument, "cache: no such configured cache %q", name).WithStatus(400)
	}

	key := shardedKey(fingerprint(args[0].String()))
	if data, err := store.Get(key); err == nil {
		meta, mErr := readMetadata(store, key)
		if mErr != nil {
			return nil, ierr.Wrap(ierr.KindIO, mErr, "cache: read metadata for %q", key)
		}
		res := &results.CacheResult{Bytes: data, Type: meta.ContentType}
		if meta.DPI != nil {
			res.DPIX, res.DPIY, res.HasDPI = meta.DPI[0], meta.DPI[1], true
		}
		ctx.AnnotateLastFilter(name)
		if h.metrics != nil {
			h.metrics.CacheHits.WithLabelValues(name).Inc()
		}
		return res, nil
	}
	if h.metrics != nil {
		h.metrics.CacheMisses.WithLabelValues(name).Inc()
	}

	sub := args[0].Img
	v, err, _ := h.flight.Do(name+"/"+key, func() (any, error) {
		res, err := engine.Exec(ctx.Clone(), sub)
		if err != nil {
			return nil, err
		}
		content, err := res.Content()
		if err != nil {
			return nil, err
		}
		if saveErr := save(store, key, res.ContentType(), content, res); saveErr != nil {
			fmt.Fprintln(os.Stderr, "cache: failed to persist entry:", saveErr)
		}
		return res, nil
	})
	if err != nil {
		return nil, err
	}
	ctx.AnnotateLastFilter(name)
	return v.(registry.Result), nil
}

// fingerprint hashes the debug-style rendering of a filter argument —
// here, a pipeline.Filter's String() form — exactly the way the
// original hashes format!("{:?}", args[0]).
func fingerprint(debug string) string {
	sum := sha1.Sum([]byte(debug))
	return fmt.Sprintf("%x", sum)
}

// shardedKey turns a 40-char hex fingerprint into the redesigned
// hh/hh/hh/tail directory layout, three two-hex-digit shards deep.
func shardedKey(fp string) string {
	return fp[0:2] + "/" + fp[2:4] + "/" + fp[4:6] + "/" + fp[6:]
}

func save(store *lrucache.Cache, key, contentType string, content []byte, res registry.Result) error {
	if err := store.Insert(key, content); err != nil {
		return err
	}
	meta := metadata{ContentType: contentType}
	if x, y, ok := res.DPI(); ok {
		meta.DPI = &[2]float64{x, y}
	}
	raw, err := json.Marshal(meta)
	if err != nil {
		return err
	}
	return os.WriteFile(store.Path(key)+".meta", raw, 0o644)
}

func readMetadata(store *lrucache.Cache, key string) (metadata, error) {
	raw, err := os.ReadFile(store.Path(key) + ".meta")
	if err != nil {
		return metadata{}, err
	}
	var meta metadata
	if err := json.Unmarshal(raw, &meta); err != nil {
		return metadata{}, err
	}
	return meta, nil
}
