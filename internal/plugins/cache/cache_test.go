package cache

import (
	"path/filepath"
	"testing"

	"imaginator/internal/lrucache"
	"imaginator/internal/pipeline"
	"imaginator/internal/registry"
	"imaginator/internal/results"
)

func newRegistryWithEcho(t *testing.T, content string, contentType string) *registry.Context {
	t.Helper()
	reg := registry.New()
	echo := func(ctx *registry.Context, args []pipeline.FilterArg) (registry.Result, error) {
		return &results.ErrorResult{Status: 200, Message: content}, nil
	}
	_ = contentType
	if err := reg.Merge(map[string]registry.Handler{"echo": echo}); err != nil {
		t.Fatalf("merge: %v", err)
	}
	return registry.NewContext(reg, "")
}

func TestCacheMissExecutesSubFilterAndPersists(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "cache")
	store, err := lrucache.Open("thumbs", dir, 1<<20)
	if err != nil {
		t.Fatalf("open cache: %v", err)
	}
	handlers := Handlers(map[string]*lrucache.Cache{"thumbs": store}, nil)

	sub := &pipeline.Filter{Name: "echo"}
	args := []pipeline.FilterArg{
		{Kind: pipeline.ArgImg, Img: sub},
		{Kind: pipeline.ArgString, Str: "thumbs"},
	}

	ctx := newRegistryWithEcho(t, "payload-one", "text/plain")
	reg := ctx.Registry
	reg.Merge(map[string]registry.Handler{"cache": handlers["cache"]})

	res, err := handlers["cache"](ctx, args)
	if err != nil {
		t.Fatalf("cache miss: %v", err)
	}
	content, err := res.Content()
	if err != nil {
		t.Fatalf("content: %v", err)
	}
	if string(content) != "payload-one" {
		t.Fatalf("unexpected content: %q", content)
	}
	if store.Len() != 1 {
		t.Fatalf("expected one entry to be cached, got %d", store.Len())
	}
}

func TestCacheHitReplaysStoredEntry(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "cache")
	store, err := lrucache.Open("thumbs", dir, 1<<20)
	if err != nil {
		t.Fatalf("open cache: %v", err)
	}
	handlers := Handlers(map[string]*lrucache.Cache{"thumbs": store}, nil)

	sub := &pipeline.Filter{Name: "echo"}
	args := []pipeline.FilterArg{
		{Kind: pipeline.ArgImg, Img: sub},
		{Kind: pipeline.ArgString, Str: "thumbs"},
	}

	ctx := newRegistryWithEcho(t, "payload-two", "text/plain")
	ctx.Registry.Merge(map[string]registry.Handler{"cache": handlers["cache"]})

	if _, err := handlers["cache"](ctx, args); err != nil {
		t.Fatalf("first call: %v", err)
	}

	// A second context sharing the same sub-filter tree should hit the
	// cache rather than re-invoke "echo" — build a context whose "echo"
	// handler would fail if called, to prove the hit path skips it.
	reg2 := registry.New()
	failingEcho := func(ctx *registry.Context, args []pipeline.FilterArg) (registry.Result, error) {
		t.Fatalf("sub-filter should not be re-executed on a cache hit")
		return nil, nil
	}
	if err := reg2.Merge(map[string]registry.Handler{"echo": failingEcho}); err != nil {
		t.Fatalf("merge: %v", err)
	}
	if err := reg2.Merge(handlers); err != nil {
		t.Fatalf("merge cache handler: %v", err)
	}
	ctx2 := registry.NewContext(reg2, "")
	res, err := handlers["cache"](ctx2, args)
	if err != nil {
		t.Fatalf("cache hit: %v", err)
	}
	content, err := res.Content()
	if err != nil {
		t.Fatalf("content: %v", err)
	}
	if string(content) != "payload-two" {
		t.Fatalf("unexpected content on replay: %q", content)
	}
}

func TestCacheRejectsNonImageFirstArgument(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "cache")
	store, err := lrucache.Open("thumbs", dir, 1<<20)
	if err != nil {
		t.Fatalf("open cache: %v", err)
	}
	handlers := Handlers(map[string]*lrucache.Cache{"thumbs": store}, nil)
	ctx := registry.NewContext(registry.New(), "")
	args := []pipeline.FilterArg{
		{Kind: pipeline.ArgString, Str: "not-an-image"},
		{Kind: pipeline.ArgString, Str: "thumbs"},
	}
	if _, err := handlers["cache"](ctx, args); err == nil {
		t.Fatalf("expected error for non-image first argument")
	}
}

func TestCacheUnknownCacheNameFails(t *testing.T) {
	handlers := Handlers(map[string]*lrucache.Cache{}, nil)
	ctx := registry.NewContext(registry.New(), "")
	sub := &pipeline.Filter{Name: "echo"}
	args := []pipeline.FilterArg{
		{Kind: pipeline.ArgImg, Img: sub},
		{Kind: pipeline.ArgString, Str: "missing"},
	}
	if _, err := handlers["cache"](ctx, args); err == nil {
		t.Fatalf("expected error for unknown cache name")
	}
}
