package app

import (
	"io"
	"path/filepath"
	"testing"

	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"imaginator/internal/config"
	"imaginator/internal/lrucache"
	"imaginator/internal/metrics"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestNewCachesOpensEveryConfiguredCacheAndWiresEviction(t *testing.T) {
	dir := t.TempDir()
	cfg := &config.Config{
		Caches: map[string]config.CacheSpec{
			"thumbs": {Dir: filepath.Join(dir, "thumbs"), Size: config.ByteSize{Bytes: 24}},
		},
	}
	m := metrics.New(prometheus.NewRegistry())

	caches, err := newCaches(cfg, m, testLogger())
	if err != nil {
		t.Fatalf("newCaches: %v", err)
	}
	store, ok := caches["thumbs"]
	if !ok {
		t.Fatalf("expected a cache named %q", "thumbs")
	}

	if err := store.Insert("a/b/one", []byte("0123456789abcdef")); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if err := store.Insert("a/b/two", []byte("ghijklmnopqrstuv")); err != nil {
		t.Fatalf("insert: %v", err)
	}

	if got := testutil.ToFloat64(m.CacheEvictions.WithLabelValues("thumbs")); got != 1 {
		t.Fatalf("expected exactly one eviction once capacity was exceeded, got %v", got)
	}
}

func TestNewRegistryMergesEveryPlugin(t *testing.T) {
	cfg := &config.Config{AllowBuiltinFilters: true}
	m := metrics.New(prometheus.NewRegistry())

	reg, err := newRegistry(cfg, map[string]*lrucache.Cache{}, m)
	if err != nil {
		t.Fatalf("newRegistry: %v", err)
	}
	for _, name := range []string{"resize", "crop", "cache", "download"} {
		if _, ok := reg.Lookup(name); !ok {
			t.Fatalf("expected registry to contain filter %q", name)
		}
	}
}
