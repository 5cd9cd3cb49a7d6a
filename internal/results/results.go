// Package results implements the registry.Result variants shared by the
// built-in filters, the download filter, and the cache filter. Grounded
// on the original implementation's FilterResult impls for img::Image,
// DownloadResult/DownloadError (plugins/base/src/download.rs), and
// CacheEntry (plugins/base/src/cache.rs).
package results

import (
	"fmt"

	"imaginator/internal/imagebackend"
)

// ImageResult wraps a decoded, possibly-transformed image as a filter result.
type ImageResult struct {
	Img     *imagebackend.Image
	Quality int
}

func (r *ImageResult) ContentType() string { return r.Img.Format().ContentType() }
func (r *ImageResult) StatusCode() int     { return 200 }
func (r *ImageResult) Content() ([]byte, error) {
	return r.Img.Bytes(), nil
}
func (r *ImageResult) Image() (*imagebackend.Image, error) { return r.Img, nil }
func (r *ImageResult) DPI() (float64, float64, bool) {
	x, y, err := r.Img.Resolution()
	if err != nil {
		return 0, 0, false
	}
	return x, y, true
}

// CacheResult replays a previously-stored cache entry: its content type
// and (optional) DPI come from the metadata sidecar, and the raw bytes
// are decoded into an Image lazily, only if a downstream filter asks.
type CacheResult struct {
	Bytes      []byte
	Type       string
	DPIX, DPIY float64
	HasDPI     bool
}

func (r *CacheResult) ContentType() string            { return r.Type }
func (r *CacheResult) StatusCode() int                 { return 200 }
func (r *CacheResult) Content() ([]byte, error)        { return r.Bytes, nil }
func (r *CacheResult) DPI() (float64, float64, bool)   { return r.DPIX, r.DPIY, r.HasDPI }
func (r *CacheResult) Image() (*imagebackend.Image, error) {
	var dpi *float64
	if r.HasDPI {
		dpi = &r.DPIX
	}
	return imagebackend.Decode(r.Bytes, dpi)
}

// DownloadResult carries a fetched body through the pipeline without
// decoding it up front — ContentType sniffs cheaply via Ping, Image
// decodes fully only when a downstream filter actually needs pixels.
type DownloadResult struct {
	Bytes []byte
	// DPIOverride overrides the image's resolution when set, the same
	// optional second argument the original's download filter accepts.
	DPIOverride *float64
}

func (r *DownloadResult) ContentType() string {
	format, ok := imagebackend.Ping(r.Bytes)
	if !ok {
		return "application/octet-stream"
	}
	return format.ContentType()
}
func (r *DownloadResult) StatusCode() int          { return 200 }
func (r *DownloadResult) Content() ([]byte, error) { return r.Bytes, nil }
func (r *DownloadResult) DPI() (float64, float64, bool) {
	if r.DPIOverride == nil {
		return 0, 0, false
	}
	return *r.DPIOverride, *r.DPIOverride, true
}
func (r *DownloadResult) Image() (*imagebackend.Image, error) {
	return imagebackend.Decode(r.Bytes, r.DPIOverride)
}

// ErrorResult carries a non-image, non-200 outcome (e.g. a failed
// download) as a first-class Result rather than a Go error, so the HTTP
// handler's status-code mapping has exactly one place to look.
type ErrorResult struct {
	Status  int
	Message string
}

func (r *ErrorResult) ContentType() string     { return "text/plain" }
func (r *ErrorResult) StatusCode() int         { return r.Status }
func (r *ErrorResult) Content() ([]byte, error) { return []byte(r.Message), nil }
func (r *ErrorResult) Image() (*imagebackend.Image, error) {
	return nil, fmt.Errorf("results: %d response carries no image", r.Status)
}
func (r *ErrorResult) DPI() (float64, float64, bool) { return 0, 0, false }
