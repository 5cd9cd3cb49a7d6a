package pipeline

import "testing"

func TestExpandAliasesSubstitutesArgs(t *testing.T) {
	cfg := AliasConfig{
		Templates: map[string]string{
			"thumb": "resize({0},{1},{1})",
		},
		AllowBuiltinFilters: true,
	}
	f, _, err := Parse("thumb(download(x),64)")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	got, err := ExpandAliases(cfg, f)
	if err != nil {
		t.Fatalf("expand: %v", err)
	}
	want, _, err := Parse("resize(download(x),64,64)")
	if err != nil {
		t.Fatalf("parse want: %v", err)
	}
	if got.String() != want.String() {
		t.Fatalf("got %s, want %s", got.String(), want.String())
	}
}

func TestExpandAliasesRecursesIntoChildrenFirst(t *testing.T) {
	cfg := AliasConfig{
		Templates: map[string]string{
			"square": "resize({0},100,100)",
		},
		AllowBuiltinFilters: true,
	}
	f, _, err := Parse("crop(square(download(x)),0,0,50,50)")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	got, err := ExpandAliases(cfg, f)
	if err != nil {
		t.Fatalf("expand: %v", err)
	}
	want, _, err := Parse("crop(resize(download(x),100,100),0,0,50,50)")
	if err != nil {
		t.Fatalf("parse want: %v", err)
	}
	if got.String() != want.String() {
		t.Fatalf("got %s, want %s", got.String(), want.String())
	}
}

func TestExpandAliasesUnknownFilterRejectedWithoutBuiltinFlag(t *testing.T) {
	cfg := AliasConfig{Templates: map[string]string{}, AllowBuiltinFilters: false}
	f, _, err := Parse("resize(x,1,2)")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if _, err := ExpandAliases(cfg, f); err == nil {
		t.Fatalf("expected error for unknown filter when builtins disallowed")
	}
}

func TestExpandAliasesTemplateNotReexpanded(t *testing.T) {
	// A template that names another alias at its root is not itself
	// re-walked for alias expansion — only its {N} placeholders are
	// substituted. Single-pass expansion, see ExpandAliases doc.
	cfg := AliasConfig{
		Templates: map[string]string{
			"a": "b({0})",
			"b": "resize({0},1,1)",
		},
		AllowBuiltinFilters: true,
	}
	f, _, err := Parse("a(x)")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	got, err := ExpandAliases(cfg, f)
	if err != nil {
		t.Fatalf("expand: %v", err)
	}
	if got.Name != "b" {
		t.Fatalf("expected un-reexpanded root %q, got %q", "b", got.Name)
	}
}
