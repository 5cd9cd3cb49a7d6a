package imagebackend

import "strings"

// Format is an image codec the backend can decode or encode.
type Format string

const (
	FormatJPEG Format = "jpeg"
	FormatPNG  Format = "png"
	FormatWebP Format = "webp"
	FormatAVIF Format = "avif"
	FormatTIFF Format = "tiff"
	FormatGIF  Format = "gif"
)

// ContentType maps a Format to its HTTP Content-Type.
func (f Format) ContentType() string {
	switch f {
	case FormatJPEG:
		return "image/jpeg"
	case FormatPNG:
		return "image/png"
	case FormatWebP:
		return "image/webp"
	case FormatAVIF:
		return "image/avif"
	case FormatTIFF:
		return "image/tiff"
	case FormatGIF:
		return "image/gif"
	default:
		return "application/octet-stream"
	}
}

// ParseFormat resolves a case-insensitive format name (or libvips type
// name) to a Format, matching spec 4.5's "fixed vocabulary" argument rule.
func ParseFormat(s string) (Format, bool) {
	switch strings.ToLower(s) {
	case "jpeg", "jpg":
		return FormatJPEG, true
	case "png":
		return FormatPNG, true
	case "webp":
		return FormatWebP, true
	case "avif", "heif", "heic":
		return FormatAVIF, true
	case "tiff", "tif":
		return FormatTIFF, true
	case "gif":
		return FormatGIF, true
	default:
		return "", false
	}
}

// Gravity picks the anchor point used by crop/extend/canvas operations.
type Gravity string

const (
	GravityCenter Gravity = "center"
	GravityNorth  Gravity = "north"
	GravitySouth  Gravity = "south"
	GravityEast   Gravity = "east"
	GravityWest   Gravity = "west"
)

func ParseGravity(s string) (Gravity, bool) {
	switch strings.ToLower(s) {
	case "center", "centre":
		return GravityCenter, true
	case "north":
		return GravityNorth, true
	case "south":
		return GravitySouth, true
	case "east":
		return GravityEast, true
	case "west":
		return GravityWest, true
	default:
		return "", false
	}
}

// Colorspace is a libvips interpretation the profile/colorspace filters
// can request.
type Colorspace string

const (
	ColorspaceSRGB      Colorspace = "srgb"
	ColorspaceGrayscale Colorspace = "grayscale"
	ColorspaceCMYK      Colorspace = "cmyk"
)

func ParseColorspace(s string) (Colorspace, bool) {
	switch strings.ToLower(s) {
	case "srgb", "rgb":
		return ColorspaceSRGB, true
	case "grayscale", "gray", "grey":
		return ColorspaceGrayscale, true
	case "cmyk":
		return ColorspaceCMYK, true
	default:
		return "", false
	}
}

// CompressionType selects the lossless/lossy strategy used by the
// "compression" filter for formats that support more than one.
type CompressionType string

const (
	CompressionLossy    CompressionType = "lossy"
	CompressionLossless CompressionType = "lossless"
)

func ParseCompressionType(s string) (CompressionType, bool) {
	switch strings.ToLower(s) {
	case "lossy":
		return CompressionLossy, true
	case "lossless":
		return CompressionLossless, true
	default:
		return "", false
	}
}

// AlphaChannel controls whether an encoded image keeps its alpha plane.
type AlphaChannel string

const (
	AlphaOn    AlphaChannel = "on"
	AlphaOff   AlphaChannel = "off"
	AlphaNoOp  AlphaChannel = "noop"
)

func ParseAlphaChannel(s string) (AlphaChannel, bool) {
	switch strings.ToLower(s) {
	case "on", "true":
		return AlphaOn, true
	case "off", "false":
		return AlphaOff, true
	case "noop", "no-op":
		return AlphaNoOp, true
	default:
		return "", false
	}
}

// CompositeOperator is the blend mode used by compose/canvas/pattern.
type CompositeOperator string

const (
	CompositeOver CompositeOperator = "over"
	CompositeAtop CompositeOperator = "atop"
)

func ParseCompositeOperator(s string) (CompositeOperator, bool) {
	switch strings.ToLower(s) {
	case "over", "":
		return CompositeOver, true
	case "atop":
		return CompositeAtop, true
	default:
		return "", false
	}
}

// ResolutionUnit names the physical unit a "cm"/"dpi" filter works in.
type ResolutionUnit string

const (
	ResolutionPixelsPerInch ResolutionUnit = "ppi"
	ResolutionPixelsPerCm   ResolutionUnit = "ppcm"
)
