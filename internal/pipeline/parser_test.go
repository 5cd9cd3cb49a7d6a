package pipeline

import (
	"testing"

	"imaginator/internal/ierr"
)

func TestParseSimpleFilter(t *testing.T) {
	f, trailing, err := Parse("resize(100,200)")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if f.Name != "resize" || len(f.Args) != 2 {
		t.Fatalf("unexpected filter: %#v", f)
	}
	if f.Args[0].Kind != ArgInt || f.Args[0].Int != 100 {
		t.Fatalf("unexpected arg 0: %#v", f.Args[0])
	}
	if f.Args[1].Kind != ArgInt || f.Args[1].Int != 200 {
		t.Fatalf("unexpected arg 1: %#v", f.Args[1])
	}
	if trailing != "" {
		t.Fatalf("unexpected trailing: %q", trailing)
	}
}

func TestParseNestedFilter(t *testing.T) {
	f, _, err := Parse("resize(download(s3:foo.jpg),100,200)")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if f.Name != "resize" || len(f.Args) != 3 {
		t.Fatalf("unexpected filter: %#v", f)
	}
	if f.Args[0].Kind != ArgImg {
		t.Fatalf("expected nested image arg, got %#v", f.Args[0])
	}
	inner := f.Args[0].Img
	if inner.Name != "download" || len(inner.Args) != 1 {
		t.Fatalf("unexpected nested filter: %#v", inner)
	}
	if inner.Args[0].Kind != ArgString || inner.Args[0].Str != "s3:foo.jpg" {
		t.Fatalf("unexpected download arg: %#v", inner.Args[0])
	}
}

func TestParseChainRewrite(t *testing.T) {
	chained, _, err := Parse("download(x):resize(100,200):crop(0,0,10,10)")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	nested, _, err := Parse("crop(resize(download(x),100,200),0,0,10,10)")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if chained.String() != nested.String() {
		t.Fatalf("chain rewrite mismatch:\n  chained=%s\n  nested =%s", chained.String(), nested.String())
	}
}

func TestParseUnits(t *testing.T) {
	f, _, err := Parse("resize(50px,0.5w,10hcm,2vin)")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := []struct {
		kind ArgKind
		unit SizeUnit
	}{
		{ArgInt, UnitPx},
		{ArgFloat, UnitWidth},
		{ArgInt, UnitHCm},
		{ArgInt, UnitVIn},
	}
	for i, w := range want {
		if f.Args[i].Kind != w.kind || f.Args[i].Unit != w.unit {
			t.Fatalf("arg %d: got kind=%v unit=%v, want kind=%v unit=%v", i, f.Args[i].Kind, f.Args[i].Unit, w.kind, w.unit)
		}
	}
}

func TestParseEmptyIsIncomplete(t *testing.T) {
	_, _, err := Parse("")
	assertKind(t, err, ierr.KindIncompleteURL)
}

func TestParseMissingCloseParenIsIncomplete(t *testing.T) {
	_, _, err := Parse("resize(100,200")
	assertKind(t, err, ierr.KindIncompleteURL)
}

func TestParseUnbalancedParenInString(t *testing.T) {
	_, _, err := Parse("download(a,)")
	assertKind(t, err, ierr.KindParseError)
}

func TestParseTrailingSlashIsPreserved(t *testing.T) {
	f, trailing, err := Parse("resize(100,200)/my/image.jpg")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if f.Name != "resize" {
		t.Fatalf("unexpected filter: %#v", f)
	}
	if trailing != "/my/image.jpg" {
		t.Fatalf("unexpected trailing: %q", trailing)
	}
}

func TestParseRemainingDataIsRejected(t *testing.T) {
	_, _, err := Parse("resize(100,200)garbage")
	assertKind(t, err, ierr.KindRemainingData)
}

func TestParseStringArgWithNestedParens(t *testing.T) {
	f, _, err := Parse("download(s3:foo(bar).jpg)")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if f.Args[0].Kind != ArgString || f.Args[0].Str != "s3:foo(bar).jpg" {
		t.Fatalf("unexpected arg: %#v", f.Args[0])
	}
}

func assertKind(t *testing.T, err error, want ierr.Kind) {
	t.Helper()
	if err == nil {
		t.Fatalf("expected error of kind %v, got nil", want)
	}
	ie, ok := ierr.As(err)
	if !ok {
		t.Fatalf("expected *ierr.Error, got %T (%v)", err, err)
	}
	if ie.Kind != want {
		t.Fatalf("expected kind %v, got %v (%v)", want, ie.Kind, err)
	}
}
