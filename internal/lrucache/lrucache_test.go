package lrucache

import (
	"path/filepath"
	"testing"

	"imaginator/internal/ierr"
)

func TestInsertAndGetRoundTrip(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "cache")
	c, err := Open("test", dir, 1<<20)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := c.Insert("a/b", []byte("hello")); err != nil {
		t.Fatalf("insert: %v", err)
	}
	got, err := c.Get("a/b")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if string(got) != "hello" {
		t.Fatalf("unexpected value: %q", got)
	}
}

func TestGetMissReturnsNotInCache(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "cache")
	c, err := Open("test", dir, 1<<20)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	_, err = c.Get("missing")
	ie, ok := ierr.As(err)
	if !ok || ie.Kind != ierr.KindNotInCache {
		t.Fatalf("expected not-in-cache error, got %v", err)
	}
}

func TestInsertEvictsLeastRecentlyUsed(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "cache")
	c, err := Open("test", dir, 10)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := c.Insert("a", []byte("01234")); err != nil {
		t.Fatalf("insert a: %v", err)
	}
	if err := c.Insert("b", []byte("56789")); err != nil {
		t.Fatalf("insert b: %v", err)
	}
	// touch "a" so "b" becomes the least-recently-used entry
	if _, err := c.Get("a"); err != nil {
		t.Fatalf("get a: %v", err)
	}
	if err := c.Insert("c", []byte("abcde")); err != nil {
		t.Fatalf("insert c: %v", err)
	}
	if c.Contains("b") {
		t.Fatalf("expected b to be evicted")
	}
	if !c.Contains("a") || !c.Contains("c") {
		t.Fatalf("expected a and c to remain")
	}
}

func TestInsertRejectsOversizedValue(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "cache")
	c, err := Open("test", dir, 4)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	err = c.Insert("a", []byte("12345"))
	ie, ok := ierr.As(err)
	if !ok || ie.Kind != ierr.KindDataTooBig {
		t.Fatalf("expected data-too-big error, got %v", err)
	}
}

func TestExportThenReopenRestoresIndex(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "cache")
	c, err := Open("test", dir, 1<<20)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := c.Insert("a/b", []byte("hello")); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if err := c.Export(); err != nil {
		t.Fatalf("export: %v", err)
	}
	reopened, err := Open("test", dir, 1<<20)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	if !reopened.Contains("a/b") {
		t.Fatalf("expected reopened cache to contain a/b")
	}
	if got, err := reopened.Get("a/b"); err != nil || string(got) != "hello" {
		t.Fatalf("unexpected get after reopen: %v %q", err, got)
	}
}

func TestRebuildFromDirWhenSidecarMissing(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "cache")
	c, err := Open("test", dir, 1<<20)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := c.Insert("x/y", []byte("payload")); err != nil {
		t.Fatalf("insert: %v", err)
	}
	// No Export() call — a fresh Open must recover via directory walk.
	reopened, err := Open("test", dir, 1<<20)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	if !reopened.Contains("x/y") {
		t.Fatalf("expected directory-walk recovery to find x/y")
	}
}
