package download

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"testing"

	"imaginator/internal/config"
	"imaginator/internal/pipeline"
	"imaginator/internal/registry"
)

type fakeFetcher struct {
	body   []byte
	status int
	err    error
	gotURL string
}

func (f *fakeFetcher) Fetch(ctx context.Context, url string) ([]byte, int, error) {
	f.gotURL = url
	return f.body, f.status, f.err
}

func encodePNG(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	draw := color.NRGBA{R: 10, G: 20, B: 30, A: 255}
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, draw)
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode png: %v", err)
	}
	return buf.Bytes()
}

func newConfig() *config.Config {
	cfg := &config.Config{}
	cfg.Domains = map[string]string{"s3": "https://bucket.example.com/"}
	return cfg
}

func TestDownloadExpandsDomainPrefix(t *testing.T) {
	fetcher := &fakeFetcher{body: encodePNG(t, 4, 4), status: 200}
	handlers := Handlers(newConfig(), fetcher)
	ctx := registry.NewContext(registry.New(), "")
	args := []pipeline.FilterArg{{Kind: pipeline.ArgString, Str: "s3:path/to/img.png"}}

	res, err := handlers["download"](ctx, args)
	if err != nil {
		t.Fatalf("download: %v", err)
	}
	if fetcher.gotURL != "https://bucket.example.com/path/to/img.png" {
		t.Fatalf("unexpected resolved url: %s", fetcher.gotURL)
	}
	if res.StatusCode() != 200 {
		t.Fatalf("unexpected status: %d", res.StatusCode())
	}
	img, err := res.Image()
	if err != nil {
		t.Fatalf("decode image: %v", err)
	}
	if img.Width() != 4 || img.Height() != 4 {
		t.Fatalf("unexpected dimensions: %dx%d", img.Width(), img.Height())
	}
}

func TestDownloadLeavesUnknownPrefixUntouched(t *testing.T) {
	fetcher := &fakeFetcher{body: encodePNG(t, 2, 2), status: 200}
	handlers := Handlers(newConfig(), fetcher)
	ctx := registry.NewContext(registry.New(), "")
	args := []pipeline.FilterArg{{Kind: pipeline.ArgString, Str: "https://elsewhere.example.com/a.png"}}

	if _, err := handlers["download"](ctx, args); err != nil {
		t.Fatalf("download: %v", err)
	}
	if fetcher.gotURL != "https://elsewhere.example.com/a.png" {
		t.Fatalf("expected url to pass through unchanged, got %s", fetcher.gotURL)
	}
}

func TestDownloadNonOKStatusBecomesErrorResult(t *testing.T) {
	fetcher := &fakeFetcher{body: []byte("not found"), status: 404}
	handlers := Handlers(newConfig(), fetcher)
	ctx := registry.NewContext(registry.New(), "")
	args := []pipeline.FilterArg{{Kind: pipeline.ArgString, Str: "https://example.com/missing.png"}}

	res, err := handlers["download"](ctx, args)
	if err != nil {
		t.Fatalf("download should not error on a non-200 response: %v", err)
	}
	if res.StatusCode() != 404 {
		t.Fatalf("expected status 404, got %d", res.StatusCode())
	}
}

func TestDownloadAppliesDPIOverride(t *testing.T) {
	fetcher := &fakeFetcher{body: encodePNG(t, 8, 8), status: 200}
	handlers := Handlers(newConfig(), fetcher)
	ctx := registry.NewContext(registry.New(), "")
	args := []pipeline.FilterArg{
		{Kind: pipeline.ArgString, Str: "https://example.com/a.png"},
		{Kind: pipeline.ArgInt, Int: 150},
	}
	res, err := handlers["download"](ctx, args)
	if err != nil {
		t.Fatalf("download: %v", err)
	}
	x, y, ok := res.DPI()
	if !ok || x != 150 || y != 150 {
		t.Fatalf("expected dpi override of 150, got %v %v %v", x, y, ok)
	}
}

func TestDownloadRejectsUnsupportedFormat(t *testing.T) {
	cfg := newConfig()
	cfg.Image.SupportedFormats = []string{"jpeg"}
	fetcher := &fakeFetcher{body: encodePNG(t, 4, 4), status: 200}
	handlers := Handlers(cfg, fetcher)
	ctx := registry.NewContext(registry.New(), "")
	args := []pipeline.FilterArg{{Kind: pipeline.ArgString, Str: "https://example.com/a.png"}}

	if _, err := handlers["download"](ctx, args); err == nil {
		t.Fatalf("expected unsupported format error for a png with only jpeg allowed")
	}
}
