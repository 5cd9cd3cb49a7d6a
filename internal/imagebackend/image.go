// Package imagebackend is the opaque image-processing collaborator the
// rest of the system treats as a black box: decode, encode, resize, crop,
// compose, and colour-manage pixels. It wraps github.com/h2non/bimg
// (libvips) for codec and resize work, generalizing the teacher's
// internal/processor.Processor, and falls back to the standard
// image/draw package for pixel compositing the same way
// processor.resizeWithCanvas stages a canvas through image/png.
package imagebackend

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/png"
	"math"

	"github.com/h2non/bimg"
)

// defaultDPI is assumed for any image whose resolution wasn't supplied
// by the caller (the download filter's optional dpi argument, or a
// cache-sidecar replay) — 72 is the conventional raster default.
const defaultDPI = 72.0

// Image is a decoded, mutable in-memory image. Every mutating method
// re-encodes img.buf in place and refreshes the cached dimensions.
type Image struct {
	buf        []byte
	format     Format
	width      int
	height     int
	xdpi, ydpi float64
}

// Decode loads an encoded payload. dpiOverride, if non-nil, seeds the
// resolution used for cm/in unit resolution; otherwise defaultDPI is used.
func Decode(data []byte, dpiOverride *float64) (*Image, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("imagebackend: empty payload")
	}
	size, err := bimg.NewImage(data).Size()
	if err != nil {
		return nil, fmt.Errorf("imagebackend: decode: %w", err)
	}
	typeName := bimg.DetermineImageTypeName(data)
	format, ok := ParseFormat(typeName)
	if !ok {
		format = FormatJPEG
	}
	xdpi, ydpi := defaultDPI, defaultDPI
	if dpiOverride != nil {
		xdpi, ydpi = *dpiOverride, *dpiOverride
	}
	return &Image{buf: data, format: format, width: size.Width, height: size.Height, xdpi: xdpi, ydpi: ydpi}, nil
}

// Ping sniffs an encoded payload's format without fully decoding it.
func Ping(data []byte) (Format, bool) {
	return ParseFormat(bimg.DetermineImageTypeName(data))
}

func (img *Image) Width() int    { return img.width }
func (img *Image) Height() int   { return img.height }
func (img *Image) Format() Format { return img.format }
func (img *Image) Bytes() []byte { return img.buf }

// Resolution returns the image's horizontal/vertical DPI, used by the
// argument binder to turn "hcm"/"vcm"/"hin"/"vin" units into pixels.
func (img *Image) Resolution() (float64, float64, error) {
	return img.xdpi, img.ydpi, nil
}

// SetResolution overrides the DPI used for subsequent unit resolution —
// the "cm"/"dpi" filters call this directly.
func (img *Image) SetResolution(x, y float64) { img.xdpi, img.ydpi = x, y }

func (img *Image) replace(encoded []byte, format Format) error {
	size, err := bimg.NewImage(encoded).Size()
	if err != nil {
		return fmt.Errorf("imagebackend: re-decode after transform: %w", err)
	}
	img.buf = encoded
	img.width, img.height = size.Width, size.Height
	img.format = format
	return nil
}

// Resize scales the image to exactly width x height, embedding (padding,
// not cropping) when the target exceeds the source in both dimensions —
// bimg/libvips would otherwise upscale by blurring a crop; the teacher's
// processor.resizeWithCanvas works around this the same way.
func (img *Image) Resize(width, height int) error {
	if width <= 0 && height <= 0 {
		return fmt.Errorf("imagebackend: resize requires at least one positive dimension")
	}
	if width > img.width && height > img.height && width > 0 && height > 0 {
		return img.resizeWithCanvas(width, height)
	}
	opts := bimg.Options{Width: width, Height: height, StripMetadata: true, Interlace: true}
	if width > 0 && height > 0 {
		opts.Embed = false
		opts.Crop = true
		opts.Gravity = bimg.GravityCentre
	} else {
		opts.Embed = true
	}
	out, err := bimg.NewImage(img.buf).Process(opts)
	if err != nil {
		return fmt.Errorf("imagebackend: resize: %w", err)
	}
	return img.replace(out, img.format)
}

func (img *Image) resizeWithCanvas(width, height int) error {
	stage, err := bimg.NewImage(img.buf).Process(bimg.Options{Type: bimg.PNG, StripMetadata: true})
	if err != nil {
		return fmt.Errorf("imagebackend: stage canvas source: %w", err)
	}
	decoded, err := png.Decode(bytes.NewReader(stage))
	if err != nil {
		return fmt.Errorf("imagebackend: decode canvas source: %w", err)
	}
	canvas := image.NewNRGBA(image.Rect(0, 0, width, height))
	if img.format == FormatJPEG {
		draw.Draw(canvas, canvas.Bounds(), &image.Uniform{C: color.White}, image.Point{}, draw.Src)
	}
	srcBounds := decoded.Bounds()
	left := int(math.Max(0, float64(width-srcBounds.Dx())/2))
	top := int(math.Max(0, float64(height-srcBounds.Dy())/2))
	dest := image.Rect(left, top, left+srcBounds.Dx(), top+srcBounds.Dy())
	draw.Draw(canvas, dest, decoded, srcBounds.Min, draw.Over)

	var buf bytes.Buffer
	if err := png.Encode(&buf, canvas); err != nil {
		return fmt.Errorf("imagebackend: encode canvas: %w", err)
	}
	out, err := bimg.NewImage(buf.Bytes()).Process(bimg.Options{Type: bimg.PNG, StripMetadata: true})
	if err != nil {
		return fmt.Errorf("imagebackend: finalize canvas: %w", err)
	}
	return img.replace(out, FormatPNG)
}

// FitIn scales the image down to fit within width x height, preserving
// aspect ratio, without cropping or upscaling.
func (img *Image) FitIn(width, height int) error {
	opts := bimg.Options{Width: width, Height: height, Embed: false, Force: false, StripMetadata: true}
	out, err := bimg.NewImage(img.buf).Process(opts)
	if err != nil {
		return fmt.Errorf("imagebackend: fit-in: %w", err)
	}
	return img.replace(out, img.format)
}

// Crop extracts the width x height region anchored at gravity.
func (img *Image) Crop(width, height int, gravity Gravity) error {
	opts := bimg.Options{Width: width, Height: height, Crop: true, Gravity: bimgGravity(gravity), StripMetadata: true}
	out, err := bimg.NewImage(img.buf).Process(opts)
	if err != nil {
		return fmt.Errorf("imagebackend: crop: %w", err)
	}
	return img.replace(out, img.format)
}

// CropRect extracts the width x height region at the absolute offset
// (x, y), done in Go pixel space since bimg's region extract wants
// top/left bound to its crop-then-resize pipeline rather than a bare
// rectangular slice. Used by the "crop" filter, which works in absolute
// coordinates rather than Crop's gravity anchor.
func (img *Image) CropRect(x, y, width, height int) error {
	decoded, err := img.decodeGo()
	if err != nil {
		return err
	}
	rect := image.Rect(x, y, x+width, y+height).Intersect(decoded.Bounds())
	canvas := image.NewNRGBA(image.Rect(0, 0, width, height))
	draw.Draw(canvas, image.Rect(0, 0, rect.Dx(), rect.Dy()), decoded, rect.Min, draw.Src)
	return img.encodeGo(canvas, img.format)
}

// ExtendAt grows the canvas to width x height, placing the existing
// image at absolute offset (x, y) — negative or out-of-bounds offsets
// clip rather than panic, since draw.Draw intersects with the
// destination rectangle. Used by the "extend" filter, whose original
// semantics position the source at an arbitrary offset rather than
// anchoring it with a named gravity.
func (img *Image) ExtendAt(x, y, width, height int, backgroundHex string) error {
	decoded, err := img.decodeGo()
	if err != nil {
		return err
	}
	canvas := image.NewNRGBA(image.Rect(0, 0, width, height))
	if backgroundHex != "" {
		c, err := parseHexColor(backgroundHex)
		if err != nil {
			return err
		}
		draw.Draw(canvas, canvas.Bounds(), &image.Uniform{C: color.NRGBA{R: c.R, G: c.G, B: c.B, A: 255}}, image.Point{}, draw.Src)
	}
	srcBounds := decoded.Bounds()
	dest := image.Rect(x, y, x+srcBounds.Dx(), y+srcBounds.Dy())
	draw.Draw(canvas, dest, decoded, srcBounds.Min, draw.Over)
	return img.encodeGo(canvas, img.format)
}

// Clone returns an independent copy of img, used by filters (like
// "canvas") that need several differently-mutated derivatives of the
// same source image.
func (img *Image) Clone() *Image {
	buf := make([]byte, len(img.buf))
	copy(buf, img.buf)
	return &Image{buf: buf, format: img.format, width: img.width, height: img.height, xdpi: img.xdpi, ydpi: img.ydpi}
}

// Resample rescales the image so its pixel dimensions change to match
// new xdpi/ydpi at the same physical size, then records the new
// resolution — the same "resize in service of a dpi change" the
// original's resample filter performs.
func (img *Image) Resample(xdpi, ydpi float64) error {
	origX, origY, _ := img.Resolution()
	newW := int(float64(img.width) * xdpi / origX)
	newH := int(float64(img.height) * ydpi / origY)
	opts := bimg.Options{Width: newW, Height: newH, Force: true, StripMetadata: true}
	out, err := bimg.NewImage(img.buf).Process(opts)
	if err != nil {
		return fmt.Errorf("imagebackend: resample: %w", err)
	}
	if err := img.replace(out, img.format); err != nil {
		return err
	}
	img.SetResolution(xdpi, ydpi)
	return nil
}

// Extend pads the canvas out to width x height, anchoring the existing
// content at gravity and filling new area with backgroundHex (or, if
// empty, mirroring the edge pixels).
func (img *Image) Extend(width, height int, gravity Gravity, backgroundHex string) error {
	opts := bimg.Options{Width: width, Height: height, Embed: true, Gravity: bimgGravity(gravity), StripMetadata: true}
	if backgroundHex != "" {
		c, err := parseHexColor(backgroundHex)
		if err != nil {
			return err
		}
		opts.Background = c
		opts.Extend = bimg.ExtendBackground
	} else {
		opts.Extend = bimg.ExtendMirror
	}
	out, err := bimg.NewImage(img.buf).Process(opts)
	if err != nil {
		return fmt.Errorf("imagebackend: extend: %w", err)
	}
	return img.replace(out, img.format)
}

// Trim removes uniform-colour borders, within the given fuzz tolerance.
func (img *Image) Trim(fuzz float64) error {
	out, err := bimg.NewImage(img.buf).Process(bimg.Options{Trim: true, StripMetadata: true})
	_ = fuzz // bimg's trim threshold isn't independently tunable; kept for signature parity with the original filter
	if err != nil {
		return fmt.Errorf("imagebackend: trim: %w", err)
	}
	return img.replace(out, img.format)
}

// Compose overlays other onto img at (x, y) using op.
func (img *Image) Compose(other *Image, x, y int, op CompositeOperator) error {
	dst, err := img.decodeGo()
	if err != nil {
		return err
	}
	src, err := other.decodeGo()
	if err != nil {
		return err
	}
	canvas := image.NewNRGBA(dst.Bounds())
	draw.Draw(canvas, canvas.Bounds(), dst, image.Point{}, draw.Src)
	blend := draw.Over
	if op == CompositeAtop {
		blend = draw.Over // bimg/libvips lacks a distinct "atop" compositor in this wrapper; approximate with over
	}
	dest := src.Bounds().Add(image.Pt(x, y))
	draw.Draw(canvas, dest, src, src.Bounds().Min, blend)
	return img.encodeGo(canvas, img.format)
}

// Flip mirrors the image vertically (top/bottom).
func (img *Image) Flip() error {
	out, err := bimg.NewImage(img.buf).Process(bimg.Options{Flip: true, StripMetadata: true})
	if err != nil {
		return fmt.Errorf("imagebackend: flip: %w", err)
	}
	return img.replace(out, img.format)
}

// Flop mirrors the image horizontally (left/right).
func (img *Image) Flop() error {
	out, err := bimg.NewImage(img.buf).Process(bimg.Options{Flop: true, StripMetadata: true})
	if err != nil {
		return fmt.Errorf("imagebackend: flop: %w", err)
	}
	return img.replace(out, img.format)
}

// Sepia applies a sepia tone by desaturating then tinting brown, done in
// Go pixel space since bimg exposes no sepia primitive.
func (img *Image) Sepia() error {
	decoded, err := img.decodeGo()
	if err != nil {
		return err
	}
	bounds := decoded.Bounds()
	canvas := image.NewNRGBA(bounds)
	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			r, g, b, a := decoded.At(x, y).RGBA()
			rf, gf, bf := float64(r>>8), float64(g>>8), float64(b>>8)
			sr := math.Min(255, rf*0.393+gf*0.769+bf*0.189)
			sg := math.Min(255, rf*0.349+gf*0.686+bf*0.168)
			sb := math.Min(255, rf*0.272+gf*0.534+bf*0.131)
			canvas.Set(x, y, color.NRGBA{R: uint8(sr), G: uint8(sg), B: uint8(sb), A: uint8(a >> 8)})
		}
	}
	return img.encodeGo(canvas, img.format)
}

// SetColorspace reinterprets the image in the given colour space.
func (img *Image) SetColorspace(cs Colorspace) error {
	var ic bimg.Interpretation
	switch cs {
	case ColorspaceGrayscale:
		ic = bimg.InterpretationBW
	case ColorspaceCMYK:
		ic = bimg.InterpretationCMYK
	default:
		ic = bimg.InterpretationSRGB
	}
	out, err := bimg.NewImage(img.buf).Process(bimg.Options{Interpretation: ic, StripMetadata: true})
	if err != nil {
		return fmt.Errorf("imagebackend: colorspace: %w", err)
	}
	return img.replace(out, img.format)
}

// SetAlphaChannel adds, strips, or leaves the alpha plane untouched.
func (img *Image) SetAlphaChannel(a AlphaChannel) error {
	if a == AlphaNoOp {
		return nil
	}
	out, err := bimg.NewImage(img.buf).Process(bimg.Options{Flatten: a == AlphaOff, StripMetadata: true})
	if err != nil {
		return fmt.Errorf("imagebackend: alpha: %w", err)
	}
	return img.replace(out, img.format)
}

// SetCompression re-encodes the image as WebP, losslessly or lossy at
// the given quality; the result is WebP whatever the input format was.
func (img *Image) SetCompression(c CompressionType, quality int) error {
	opts := bimg.Options{Type: bimg.WEBP, StripMetadata: true}
	if c == CompressionLossless {
		opts.Lossless = true
	} else {
		opts.Quality = quality
	}
	out, err := bimg.NewImage(img.buf).Process(opts)
	if err != nil {
		return fmt.Errorf("imagebackend: compression: %w", err)
	}
	return img.replace(out, FormatWebP)
}

// SetBackground sets the background colour used by subsequent flatten /
// extend operations when the image carries transparency.
func (img *Image) SetBackground(hex string) error {
	c, err := parseHexColor(hex)
	if err != nil {
		return err
	}
	out, err := bimg.NewImage(img.buf).Process(bimg.Options{Background: c, Flatten: true, StripMetadata: true})
	if err != nil {
		return fmt.Errorf("imagebackend: background: %w", err)
	}
	return img.replace(out, img.format)
}

// SetProfile validates that the image's current colour space matches
// the requested one before any further transform is applied.
func (img *Image) SetProfile(cs Colorspace) error {
	meta, err := bimg.NewImage(img.buf).Metadata()
	if err != nil {
		return fmt.Errorf("imagebackend: profile: read metadata: %w", err)
	}
	want, _ := ParseColorspace(meta.Space)
	if want != "" && want != cs {
		return fmt.Errorf("imagebackend: profile: image colorspace %q does not match requested %q", meta.Space, cs)
	}
	return nil
}

// SetFormat re-encodes the image as format with the given quality (JPEG/
// WebP/AVIF) or compression level (PNG).
func (img *Image) SetFormat(format Format, quality int) error {
	opts := bimg.Options{StripMetadata: true}
	switch format {
	case FormatJPEG:
		opts.Type = bimg.JPEG
		opts.Quality = quality
	case FormatPNG:
		opts.Type = bimg.PNG
		opts.Compression = quality
	case FormatWebP:
		opts.Type = bimg.WEBP
		opts.Quality = quality
	case FormatAVIF:
		opts.Type = bimg.AVIF
		opts.Quality = quality
	default:
		return fmt.Errorf("imagebackend: unsupported output format %q", format)
	}
	out, err := bimg.NewImage(img.buf).Process(opts)
	if err != nil {
		return fmt.Errorf("imagebackend: format: %w", err)
	}
	return img.replace(out, format)
}

func (img *Image) decodeGo() (image.Image, error) {
	stage, err := bimg.NewImage(img.buf).Process(bimg.Options{Type: bimg.PNG, StripMetadata: true})
	if err != nil {
		return nil, fmt.Errorf("imagebackend: stage for pixel access: %w", err)
	}
	decoded, err := png.Decode(bytes.NewReader(stage))
	if err != nil {
		return nil, fmt.Errorf("imagebackend: decode staged png: %w", err)
	}
	return decoded, nil
}

func (img *Image) encodeGo(canvas image.Image, format Format) error {
	var buf bytes.Buffer
	if err := png.Encode(&buf, canvas); err != nil {
		return fmt.Errorf("imagebackend: encode pixel result: %w", err)
	}
	out, err := bimg.NewImage(buf.Bytes()).Process(bimg.Options{Type: bimg.PNG, StripMetadata: true})
	if err != nil {
		return fmt.Errorf("imagebackend: finalize pixel result: %w", err)
	}
	return img.replace(out, format)
}

func bimgGravity(g Gravity) bimg.Gravity {
	switch g {
	case GravityNorth:
		return bimg.GravityNorth
	case GravitySouth:
		return bimg.GravitySouth
	case GravityEast:
		return bimg.GravityEast
	case GravityWest:
		return bimg.GravityWest
	default:
		return bimg.GravityCentre
	}
}

func parseHexColor(hex string) (bimg.Color, error) {
	hex = trimHash(hex)
	if len(hex) != 6 {
		return bimg.Color{}, fmt.Errorf("imagebackend: invalid color %q", hex)
	}
	var r, g, b int
	if _, err := fmt.Sscanf(hex, "%02x%02x%02x", &r, &g, &b); err != nil {
		return bimg.Color{}, fmt.Errorf("imagebackend: invalid color %q: %w", hex, err)
	}
	return bimg.Color{R: uint8(r), G: uint8(g), B: uint8(b)}, nil
}

func trimHash(s string) string {
	if len(s) > 0 && s[0] == '#' {
		return s[1:]
	}
	return s
}
