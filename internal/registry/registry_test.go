package registry

import (
	"sync"
	"testing"

	"imaginator/internal/pipeline"
)

func TestRegistryMergeRejectsDuplicateNames(t *testing.T) {
	r := New()
	if err := r.Merge(map[string]Handler{"resize": nil}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := r.Merge(map[string]Handler{"resize": nil}); err == nil {
		t.Fatalf("expected conflict error, got nil")
	}
}

func TestRegistryLookup(t *testing.T) {
	r := New()
	_ = r.Merge(map[string]Handler{"noop": func(ctx *Context, args []pipeline.FilterArg) (Result, error) {
		return nil, nil
	}})
	if _, ok := r.Lookup("missing"); ok {
		t.Fatalf("expected lookup miss")
	}
	if _, ok := r.Lookup("noop"); !ok {
		t.Fatalf("expected lookup hit")
	}
}

func TestContextLogFilterRequiresTraceHeader(t *testing.T) {
	ctx := NewContext(New(), "")
	if err := ctx.LogFilter("resize"); err != nil {
		t.Fatalf("unexpected error with no trace header configured: %v", err)
	}
	if len(ctx.ResponseHeaders()) != 0 {
		t.Fatalf("expected no headers recorded")
	}
}

func TestContextLogFilterAccumulates(t *testing.T) {
	ctx := NewContext(New(), "X-Filters")
	if err := ctx.LogFilter("resize"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := ctx.LogFilter("crop"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	got := ctx.ResponseHeaders()["X-Filters"]
	if got != "resize,crop" {
		t.Fatalf("unexpected trace header: %q", got)
	}
}

func TestContextCloneSharesButGuardsConcurrentMutation(t *testing.T) {
	ctx := NewContext(New(), "X-Filters")
	a := ctx.Clone()
	b := ctx.Clone()

	var wg sync.WaitGroup
	errs := make([]error, 2)
	wg.Add(2)
	go func() { defer wg.Done(); errs[0] = a.LogFilter("resize") }()
	go func() { defer wg.Done(); errs[1] = b.LogFilter("crop") }()
	wg.Wait()

	// Both clones are concurrently alive (refs == 3: ctx, a, b), so
	// neither call may be allowed to win silently — this mirrors
	// Rc::get_mut failing in the original when ownership isn't unique.
	failures := 0
	for _, err := range errs {
		if err != nil {
			failures++
		}
	}
	if failures != 2 {
		t.Fatalf("expected both concurrent logs to fail while context is shared, got %d failures", failures)
	}
}

func TestContextAnnotateLastFilter(t *testing.T) {
	ctx := NewContext(New(), "X-Filters")
	_ = ctx.LogFilter("download")
	ctx.AnnotateLastFilter("s3")
	got := ctx.ResponseHeaders()["X-Filters"]
	if got != "download(s3)" {
		t.Fatalf("unexpected trace header: %q", got)
	}
}
