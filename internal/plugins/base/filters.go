// Package base is the built-in filter plug-in: resize, crop, compose,
// colour/format transforms and the handful of composite filters
// ("canvas", "pattern", "repeat"); "pattern" calls back into the engine.
// Grounded on the original implementation's plugins/base/src/lib.rs.
package base

import (
	"fmt"

	"imaginator/internal/config"
	"imaginator/internal/engine"
	"imaginator/internal/ierr"
	"imaginator/internal/imagebackend"
	"imaginator/internal/pipeline"
	"imaginator/internal/registry"
	"imaginator/internal/results"
)

// defaultQuality is used by "format"/"compression" when the call site
// doesn't name one explicitly — the original's set_format/set_compression
// take the encoder's own built-in default in that case; bimg requires an
// explicit value, so this is the closest stand-in.
const defaultQuality = 85

// cmPerInch mirrors internal/engine's conversion constant; the canvas
// and cm filters resolve physical units the same way the argument
// binder does, just inline rather than through BindImageFloat.
const cmPerInch = 0.3937008

// Handlers returns the built-in filter set, ready to Merge into a
// registry.Registry. cfg supplies the max-width/max-height clamps that
// resize/fit-in/resample enforce.
func Handlers(cfg *config.ImageConfig) map[string]registry.Handler {
	return map[string]registry.Handler{
		"resize":      resizeFilter(cfg),
		"fit-in":      fitInFilter(cfg),
		"resample":    resampleFilter(cfg),
		"crop":        cropFilter,
		"extend":      extendFilter,
		"trim":        trimFilter,
		"compose":     composeFilter,
		"format":      formatFilter,
		"colorspace":  colorspaceFilter,
		"profile":     profileFilter,
		"compression": compressionFilter,
		"alpha":       alphaFilter,
		"flip":        flipFilter,
		"flop":        flopFilter,
		"cm":          cmFilter,
		"dpi":         dpiFilter,
		"sepia":       sepiaFilter,
		"gravity":     gravityFilter,
		"bg":          backgroundFilter,
		"repeat":      repeatFilter,
		"canvas":      canvasFilter,
		"pattern":     patternFilter,
	}
}

// imageResultOf wraps img as the standard success Result every filter
// below returns once its mutation succeeds.
func imageResultOf(img *imagebackend.Image) (registry.Result, error) {
	return &results.ImageResult{Img: img, Quality: defaultQuality}, nil
}

func clampDims(cfg *config.ImageConfig, w, h int64) (int64, int64) {
	if cfg != nil && cfg.MaxWidth > 0 && w > cfg.MaxWidth {
		w = cfg.MaxWidth
	}
	if cfg != nil && cfg.MaxHeight > 0 && h > cfg.MaxHeight {
		h = cfg.MaxHeight
	}
	return w, h
}

// fillMissingDim resolves a 0 width or height against the other
// dimension and the image's aspect ratio, matching resize/fit-in's
// "w==0 means derive from h" convention.
func fillMissingDim(img *imagebackend.Image, w, h int64) (int64, int64) {
	ratio := float64(img.Width()) / float64(img.Height())
	if w == 0 && h != 0 {
		w = int64(float64(h) * ratio)
	}
	if h == 0 && w != 0 {
		h = int64(float64(w) / ratio)
	}
	return w, h
}

func resizeFilter(cfg *config.ImageConfig) registry.Handler {
	return func(ctx *registry.Context, args []pipeline.FilterArg) (registry.Result, error) {
		img, err := engine.BindImageArg(ctx, "resize", args, 0)
		if err != nil {
			return nil, err
		}
		w, err := engine.BindImageInt("resize", args, 1, img)
		if err != nil {
			return nil, err
		}
		h, err := engine.BindImageInt("resize", args, 2, img)
		if err != nil {
			return nil, err
		}
		w, h = clampDims(cfg, w, h)
		w, h = fillMissingDim(img, w, h)
		if err := img.Resize(int(w), int(h)); err != nil {
			return nil, ierr.Wrap(ierr.KindBackend, err, "resize")
		}
		return imageResultOf(img)
	}
}

func fitInFilter(cfg *config.ImageConfig) registry.Handler {
	return func(ctx *registry.Context, args []pipeline.FilterArg) (registry.Result, error) {
		img, err := engine.BindImageArg(ctx, "fit-in", args, 0)
		if err != nil {
			return nil, err
		}
		w, err := engine.BindImageInt("fit-in", args, 1, img)
		if err != nil {
			return nil, err
		}
		h, err := engine.BindImageInt("fit-in", args, 2, img)
		if err != nil {
			return nil, err
		}
		w, h = clampDims(cfg, w, h)
		w, h = fillMissingDim(img, w, h)
		if err := img.FitIn(int(w), int(h)); err != nil {
			return nil, ierr.Wrap(ierr.KindBackend, err, "fit-in")
		}
		return imageResultOf(img)
	}
}

func resampleFilter(cfg *config.ImageConfig) registry.Handler {
	return func(ctx *registry.Context, args []pipeline.FilterArg) (registry.Result, error) {
		img, err := engine.BindImageArg(ctx, "resample", args, 0)
		if err != nil {
			return nil, err
		}
		xdpi, err := engine.BindFloat("resample", args, 1)
		if err != nil {
			return nil, err
		}
		ydpi, err := engine.BindFloat("resample", args, 2)
		if err != nil {
			return nil, err
		}
		origX, origY, _ := img.Resolution()
		if cfg != nil && cfg.MaxWidth > 0 && int64(float64(img.Width())*xdpi/origX) > cfg.MaxWidth {
			return nil, ierr.New(ierr.KindBadArgument, "resample: horizontal resolution %g would exceed max width %d", xdpi, cfg.MaxWidth).WithStatus(400)
		}
		if cfg != nil && cfg.MaxHeight > 0 && int64(float64(img.Height())*ydpi/origY) > cfg.MaxHeight {
			return nil, ierr.New(ierr.KindBadArgument, "resample: vertical resolution %g would exceed max height %d", ydpi, cfg.MaxHeight).WithStatus(400)
		}
		if err := img.Resample(xdpi, ydpi); err != nil {
			return nil, ierr.Wrap(ierr.KindBackend, err, "resample")
		}
		return imageResultOf(img)
	}
}

func cropFilter(ctx *registry.Context, args []pipeline.FilterArg) (registry.Result, error) {
	img, err := engine.BindImageArg(ctx, "crop", args, 0)
	if err != nil {
		return nil, err
	}
	x, err := engine.BindImageInt("crop", args, 1, img)
	if err != nil {
		return nil, err
	}
	y, err := engine.BindImageInt("crop", args, 2, img)
	if err != nil {
		return nil, err
	}
	w, err := engine.BindImageInt("crop", args, 3, img)
	if err != nil {
		return nil, err
	}
	h, err := engine.BindImageInt("crop", args, 4, img)
	if err != nil {
		return nil, err
	}
	if err := img.CropRect(int(x), int(y), int(w), int(h)); err != nil {
		return nil, ierr.Wrap(ierr.KindBackend, err, "crop")
	}
	return imageResultOf(img)
}

// extendFilter's (x, y) and (w, h) give the final canvas's top-left and
// bottom-right corners in the source image's coordinate space, matching the
// original's "w = w - x; h = h - y" derivation.
func extendFilter(ctx *registry.Context, args []pipeline.FilterArg) (registry.Result, error) {
	img, err := engine.BindImageArg(ctx, "extend", args, 0)
	if err != nil {
		return nil, err
	}
	x, err := engine.BindImageInt("extend", args, 1, img)
	if err != nil {
		return nil, err
	}
	y, err := engine.BindImageInt("extend", args, 2, img)
	if err != nil {
		return nil, err
	}
	w, err := engine.BindImageInt("extend", args, 3, img)
	if err != nil {
		return nil, err
	}
	h, err := engine.BindImageInt("extend", args, 4, img)
	if err != nil {
		return nil, err
	}
	width, height := w-x, h-y
	if err := img.ExtendAt(int(-x), int(-y), int(width), int(height), ""); err != nil {
		return nil, ierr.Wrap(ierr.KindBackend, err, "extend")
	}
	return imageResultOf(img)
}

func trimFilter(ctx *registry.Context, args []pipeline.FilterArg) (registry.Result, error) {
	img, err := engine.BindImageArg(ctx, "trim", args, 0)
	if err != nil {
		return nil, err
	}
	if err := img.Trim(15.0); err != nil {
		return nil, ierr.Wrap(ierr.KindBackend, err, "trim")
	}
	return imageResultOf(img)
}

func composeFilter(ctx *registry.Context, args []pipeline.FilterArg) (registry.Result, error) {
	dst, err := engine.BindImageArg(ctx, "compose", args, 0)
	if err != nil {
		return nil, err
	}
	src, err := engine.BindImageArg(ctx, "compose", args, 1)
	if err != nil {
		return nil, err
	}
	op, err := engine.BindEnum("compose", "composite operator", args, 2, imagebackend.ParseCompositeOperator)
	if err != nil {
		return nil, err
	}
	x, err := engine.BindImageInt("compose", args, 3, dst)
	if err != nil {
		return nil, err
	}
	y, err := engine.BindImageInt("compose", args, 4, dst)
	if err != nil {
		return nil, err
	}
	if err := dst.Compose(src, int(x), int(y), op); err != nil {
		return nil, ierr.Wrap(ierr.KindBackend, err, "compose")
	}
	return imageResultOf(dst)
}

func formatFilter(ctx *registry.Context, args []pipeline.FilterArg) (registry.Result, error) {
	img, err := engine.BindImageArg(ctx, "format", args, 0)
	if err != nil {
		return nil, err
	}
	format, err := engine.BindEnum("format", "image format", args, 1, imagebackend.ParseFormat)
	if err != nil {
		return nil, err
	}
	if err := img.SetFormat(format, defaultQuality); err != nil {
		return nil, ierr.Wrap(ierr.KindBackend, err, "format")
	}
	return imageResultOf(img)
}

func colorspaceFilter(ctx *registry.Context, args []pipeline.FilterArg) (registry.Result, error) {
	img, err := engine.BindImageArg(ctx, "colorspace", args, 0)
	if err != nil {
		return nil, err
	}
	cs, err := engine.BindEnum("colorspace", "colorspace", args, 1, imagebackend.ParseColorspace)
	if err != nil {
		return nil, err
	}
	if err := img.SetColorspace(cs); err != nil {
		return nil, ierr.Wrap(ierr.KindBackend, err, "colorspace")
	}
	return imageResultOf(img)
}

// profileFilter validates the image is already in the named source
// colorspace, then reinterprets it as dest — a simplified stand-in for
// the original's full ICC profile transform, which this backend has no
// primitive for.
func profileFilter(ctx *registry.Context, args []pipeline.FilterArg) (registry.Result, error) {
	img, err := engine.BindImageArg(ctx, "profile", args, 0)
	if err != nil {
		return nil, err
	}
	source, err := engine.BindEnum("profile", "colorspace", args, 1, imagebackend.ParseColorspace)
	if err != nil {
		return nil, err
	}
	dest, err := engine.BindEnum("profile", "colorspace", args, 2, imagebackend.ParseColorspace)
	if err != nil {
		return nil, err
	}
	if err := img.SetProfile(source); err != nil {
		return nil, ierr.Wrap(ierr.KindBadArgument, err, "profile").WithStatus(400)
	}
	if err := img.SetColorspace(dest); err != nil {
		return nil, ierr.Wrap(ierr.KindBackend, err, "profile")
	}
	return imageResultOf(img)
}

func compressionFilter(ctx *registry.Context, args []pipeline.FilterArg) (registry.Result, error) {
	img, err := engine.BindImageArg(ctx, "compression", args, 0)
	if err != nil {
		return nil, err
	}
	c, err := engine.BindEnum("compression", "compression type", args, 1, imagebackend.ParseCompressionType)
	if err != nil {
		return nil, err
	}
	if err := img.SetCompression(c, defaultQuality); err != nil {
		return nil, ierr.Wrap(ierr.KindBackend, err, "compression")
	}
	return imageResultOf(img)
}

func alphaFilter(ctx *registry.Context, args []pipeline.FilterArg) (registry.Result, error) {
	img, err := engine.BindImageArg(ctx, "alpha", args, 0)
	if err != nil {
		return nil, err
	}
	a, err := engine.BindEnum("alpha", "alpha channel", args, 1, imagebackend.ParseAlphaChannel)
	if err != nil {
		return nil, err
	}
	if err := img.SetAlphaChannel(a); err != nil {
		return nil, ierr.Wrap(ierr.KindBackend, err, "alpha")
	}
	return imageResultOf(img)
}

func flipFilter(ctx *registry.Context, args []pipeline.FilterArg) (registry.Result, error) {
	img, err := engine.BindImageArg(ctx, "flip", args, 0)
	if err != nil {
		return nil, err
	}
	if err := img.Flip(); err != nil {
		return nil, ierr.Wrap(ierr.KindBackend, err, "flip")
	}
	return imageResultOf(img)
}

func flopFilter(ctx *registry.Context, args []pipeline.FilterArg) (registry.Result, error) {
	img, err := engine.BindImageArg(ctx, "flop", args, 0)
	if err != nil {
		return nil, err
	}
	if err := img.Flop(); err != nil {
		return nil, ierr.Wrap(ierr.KindBackend, err, "flop")
	}
	return imageResultOf(img)
}

func cmFilter(ctx *registry.Context, args []pipeline.FilterArg) (registry.Result, error) {
	img, err := engine.BindImageArg(ctx, "cm", args, 0)
	if err != nil {
		return nil, err
	}
	x, err := engine.BindFloat("cm", args, 1)
	if err != nil {
		return nil, err
	}
	y, err := engine.BindFloat("cm", args, 2)
	if err != nil {
		return nil, err
	}
	xIn, yIn := x*cmPerInch, y*cmPerInch
	xdpi := float64(img.Width()) / xIn
	ydpi := float64(img.Height()) / yIn
	img.SetResolution(xdpi, ydpi)
	return imageResultOf(img)
}

func dpiFilter(ctx *registry.Context, args []pipeline.FilterArg) (registry.Result, error) {
	img, err := engine.BindImageArg(ctx, "dpi", args, 0)
	if err != nil {
		return nil, err
	}
	h, err := engine.BindFloat("dpi", args, 1)
	if err != nil {
		return nil, err
	}
	v, err := engine.BindFloat("dpi", args, 2)
	if err != nil {
		return nil, err
	}
	img.SetResolution(h, v)
	return imageResultOf(img)
}

func sepiaFilter(ctx *registry.Context, args []pipeline.FilterArg) (registry.Result, error) {
	img, err := engine.BindImageArg(ctx, "sepia", args, 0)
	if err != nil {
		return nil, err
	}
	// threshold (args[1]) is accepted for call-site compatibility but the
	// Go pixel-space sepia tint isn't independently tunable.
	if _, err := engine.BindFloat("sepia", args, 1); err != nil {
		return nil, err
	}
	if err := img.Sepia(); err != nil {
		return nil, ierr.Wrap(ierr.KindBackend, err, "sepia")
	}
	return imageResultOf(img)
}

func gravityFilter(ctx *registry.Context, args []pipeline.FilterArg) (registry.Result, error) {
	img, err := engine.BindImageArg(ctx, "gravity", args, 0)
	if err != nil {
		return nil, err
	}
	if _, err := engine.BindEnum("gravity", "gravity", args, 1, imagebackend.ParseGravity); err != nil {
		return nil, err
	}
	return imageResultOf(img)
}

func backgroundFilter(ctx *registry.Context, args []pipeline.FilterArg) (registry.Result, error) {
	img, err := engine.BindImageArg(ctx, "bg", args, 0)
	if err != nil {
		return nil, err
	}
	hex, err := engine.BindString("bg", args, 1)
	if err != nil {
		return nil, err
	}
	if err := img.SetBackground(hex); err != nil {
		return nil, ierr.Wrap(ierr.KindBadArgument, err, "bg").WithStatus(400)
	}
	return imageResultOf(img)
}

func repeatFilter(ctx *registry.Context, args []pipeline.FilterArg) (registry.Result, error) {
	img, err := engine.BindImageArg(ctx, "repeat", args, 0)
	if err != nil {
		return nil, err
	}
	countX, err := engine.BindImageInt("repeat", args, 1, img)
	if err != nil {
		return nil, err
	}
	countY, err := engine.BindImageInt("repeat", args, 2, img)
	if err != nil {
		return nil, err
	}
	offsetX, err := engine.BindImageInt("repeat", args, 3, img)
	if err != nil {
		return nil, err
	}
	offsetY, err := engine.BindImageInt("repeat", args, 4, img)
	if err != nil {
		return nil, err
	}
	source := img.Clone()
	for x := int64(1); x < countX; x++ {
		if err := img.Compose(source, int(x*offsetX), 0, imagebackend.CompositeOver); err != nil {
			return nil, ierr.Wrap(ierr.KindBackend, err, "repeat")
		}
	}
	for y := int64(1); y < countY; y++ {
		if err := img.Compose(source, 0, int(y*offsetY), imagebackend.CompositeOver); err != nil {
			return nil, ierr.Wrap(ierr.KindBackend, err, "repeat")
		}
	}
	return imageResultOf(img)
}

// patternFilter shrinks img into a width x height cell and tiles that
// cell over the original image area, re-entering the grammar to fit,
// extend, and repeat it — built the same way the
// original composes fit-in/extend/repeat into one generated sub-pipeline
// string rather than calling each Image method directly.
func patternFilter(ctx *registry.Context, args []pipeline.FilterArg) (registry.Result, error) {
	img, err := engine.BindImageArg(ctx, "pattern", args, 0)
	if err != nil {
		return nil, err
	}
	width, err := engine.BindImageInt("pattern", args, 1, img)
	if err != nil {
		return nil, err
	}
	height, err := engine.BindImageInt("pattern", args, 2, img)
	if err != nil {
		return nil, err
	}
	if width <= 0 || height <= 0 {
		return nil, ierr.New(ierr.KindBadArgument, "pattern: cell size must be positive").WithStatus(400)
	}
	qtyX := (int64(img.Width()) + width - 1) / width
	qtyY := (int64(img.Height()) + height - 1) / height
	sub := fmt.Sprintf("fit-in(%d,%d):extend(0,0,%d,%d):repeat(%d,%d,%d,%d)",
		width, height, img.Width(), img.Height(), qtyX, qtyY, width, height)
	return engine.ExecFromPartialURL(ctx, img, sub)
}

// canvasFilter builds a seamless mirror-tiled border around img: it
// trims a stray 1px edge, builds flipped/flopped/flip-flopped copies,
// extends the canvas outward by the requested physical border, and
// composes the three mirrored copies into the eight surrounding cells.
// Grounded directly on the original's canvas filter (lib.rs).
func canvasFilter(ctx *registry.Context, args []pipeline.FilterArg) (registry.Result, error) {
	img, err := engine.BindImageArg(ctx, "canvas", args, 0)
	if err != nil {
		return nil, err
	}
	borderX, err := engine.BindFloat("canvas", args, 1)
	if err != nil {
		return nil, err
	}
	borderY, err := engine.BindFloat("canvas", args, 2)
	if err != nil {
		return nil, err
	}
	if err := img.ExtendAt(-1, -1, img.Width()-2, img.Height()-2, ""); err != nil {
		return nil, ierr.Wrap(ierr.KindBackend, err, "canvas")
	}

	flipped := img.Clone()
	if err := flipped.Flip(); err != nil {
		return nil, ierr.Wrap(ierr.KindBackend, err, "canvas")
	}
	flopped := img.Clone()
	if err := flopped.Flop(); err != nil {
		return nil, ierr.Wrap(ierr.KindBackend, err, "canvas")
	}
	flipflopped := img.Clone()
	if err := flipflopped.Flip(); err != nil {
		return nil, ierr.Wrap(ierr.KindBackend, err, "canvas")
	}
	if err := flipflopped.Flop(); err != nil {
		return nil, ierr.Wrap(ierr.KindBackend, err, "canvas")
	}

	xdpi, ydpi, _ := img.Resolution()
	w, h := img.Width(), img.Height()
	xBorder := int(xdpi * borderX * cmPerInch)
	yBorder := int(ydpi * borderY * cmPerInch)

	if err := img.ExtendAt(xBorder, yBorder, w+xBorder*2, h+yBorder*2, ""); err != nil {
		return nil, ierr.Wrap(ierr.KindBackend, err, "canvas")
	}
	compositions := []struct {
		src  *imagebackend.Image
		x, y int
	}{
		{flopped, xBorder - w, yBorder},
		{flopped, xBorder + w, yBorder},
		{flipped, xBorder, yBorder - h},
		{flipped, xBorder, yBorder + h},
		{flipflopped, xBorder - w, yBorder + h},
		{flipflopped, xBorder + w, yBorder - h},
		{flipflopped, xBorder - w, yBorder - h},
		{flipflopped, xBorder + w, yBorder + h},
	}
	for _, c := range compositions {
		if err := img.Compose(c.src, c.x, c.y, imagebackend.CompositeOver); err != nil {
			return nil, ierr.Wrap(ierr.KindBackend, err, "canvas")
		}
	}
	return imageResultOf(img)
}
