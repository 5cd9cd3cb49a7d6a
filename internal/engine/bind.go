package engine

import (
	"strings"

	"imaginator/internal/ierr"
	"imaginator/internal/imagebackend"
	"imaginator/internal/pipeline"
	"imaginator/internal/registry"
)

// cmPerInch is the conversion factor from centimeters to inches used to
// resolve "hcm"/"vcm" units against an image's DPI, carried over from
// the original implementation's parse_size (common/src/filter.rs).
const cmPerInch = 0.3937008

// BindString requires args[i] to be a plain string (not a nested image
// or a number) and returns its value.
func BindString(name string, args []pipeline.FilterArg, i int) (string, error) {
	a, err := argAt(name, args, i)
	if err != nil {
		return "", err
	}
	if a.Kind != pipeline.ArgString {
		return "", badArg(name, i, "a string")
	}
	return a.Str, nil
}

// BindInt requires args[i] to be an integer with no unit (a
// "context-free" argument per spec 4.5, resolvable without an image).
func BindInt(name string, args []pipeline.FilterArg, i int) (int64, error) {
	a, err := argAt(name, args, i)
	if err != nil {
		return 0, err
	}
	if a.Kind != pipeline.ArgInt || a.Unit != pipeline.UnitNone {
		return 0, badArg(name, i, "an integer")
	}
	return a.Int, nil
}

// BindFloat requires args[i] to be a context-free float or int (units
// other than none/px are rejected).
func BindFloat(name string, args []pipeline.FilterArg, i int) (float64, error) {
	a, err := argAt(name, args, i)
	if err != nil {
		return 0, err
	}
	switch {
	case a.Kind == pipeline.ArgFloat && (a.Unit == pipeline.UnitNone || a.Unit == pipeline.UnitPx):
		return a.Float, nil
	case a.Kind == pipeline.ArgInt && (a.Unit == pipeline.UnitNone || a.Unit == pipeline.UnitPx):
		return float64(a.Int), nil
	default:
		return 0, badArg(name, i, "a number")
	}
}

// BindImageInt resolves args[i] against img: a unit suffix like "w"/"h"/
// "hcm"/"vin" scales the numeric value by the image's width, height, or
// DPI before truncating to an integer pixel count.
func BindImageInt(name string, args []pipeline.FilterArg, i int, img *imagebackend.Image) (int64, error) {
	a, err := argAt(name, args, i)
	if err != nil {
		return 0, err
	}
	switch a.Kind {
	case pipeline.ArgInt:
		if a.Unit == pipeline.UnitNone || a.Unit == pipeline.UnitPx {
			return a.Int, nil
		}
		v, err := resolveUnit(float64(a.Int), a.Unit, img)
		return int64(v), err
	case pipeline.ArgFloat:
		v, err := resolveUnit(a.Float, a.Unit, img)
		return int64(v), err
	default:
		return 0, badArg(name, i, "an integer")
	}
}

// BindImageFloat is BindImageInt without the final truncation.
func BindImageFloat(name string, args []pipeline.FilterArg, i int, img *imagebackend.Image) (float64, error) {
	a, err := argAt(name, args, i)
	if err != nil {
		return 0, err
	}
	switch a.Kind {
	case pipeline.ArgInt:
		if a.Unit == pipeline.UnitNone || a.Unit == pipeline.UnitPx {
			return float64(a.Int), nil
		}
		return resolveUnit(float64(a.Int), a.Unit, img)
	case pipeline.ArgFloat:
		return resolveUnit(a.Float, a.Unit, img)
	default:
		return 0, badArg(name, i, "a number")
	}
}

func resolveUnit(val float64, unit pipeline.SizeUnit, img *imagebackend.Image) (float64, error) {
	switch unit {
	case pipeline.UnitNone, pipeline.UnitPx:
		return val, nil
	case pipeline.UnitWidth:
		return val * float64(img.Width()), nil
	case pipeline.UnitHeight:
		return val * float64(img.Height()), nil
	case pipeline.UnitHCm, pipeline.UnitVCm, pipeline.UnitHIn, pipeline.UnitVIn:
		xdpi, ydpi, err := img.Resolution()
		if err != nil {
			return 0, ierr.Wrap(ierr.KindBadArgument, err, "resolving %s unit", unit)
		}
		switch unit {
		case pipeline.UnitHCm:
			return val * cmPerInch * xdpi, nil
		case pipeline.UnitVCm:
			return val * cmPerInch * ydpi, nil
		case pipeline.UnitHIn:
			return val * xdpi, nil
		default: // UnitVIn
			return val * ydpi, nil
		}
	default:
		return val, nil
	}
}

// BindImageArg resolves args[i] to an *imagebackend.Image: recursively
// executing a nested filter call (ArgImg), or unwrapping an
// already-resolved image spliced in by partial-URL re-entry (ArgResolvedImg).
func BindImageArg(ctx *registry.Context, name string, args []pipeline.FilterArg, i int) (*imagebackend.Image, error) {
	a, err := argAt(name, args, i)
	if err != nil {
		return nil, err
	}
	switch a.Kind {
	case pipeline.ArgImg:
		res, err := Exec(ctx.Clone(), a.Img)
		if err != nil {
			return nil, err
		}
		return res.Image()
	case pipeline.ArgResolvedImg:
		img, ok := a.Resolved.(*imagebackend.Image)
		if !ok {
			return nil, badArg(name, i, "an image")
		}
		return img, nil
	default:
		return nil, badArg(name, i, "an image")
	}
}

// BindEnum resolves args[i] (a plain string, matched case-insensitively)
// against a fixed vocabulary via parse.
func BindEnum[T any](name, typeName string, args []pipeline.FilterArg, i int, parse func(string) (T, bool)) (T, error) {
	var zero T
	a, err := argAt(name, args, i)
	if err != nil {
		return zero, err
	}
	if a.Kind != pipeline.ArgString {
		return zero, badArg(name, i, typeName)
	}
	v, ok := parse(strings.ToLower(a.Str))
	if !ok {
		return zero, ierr.New(ierr.KindUnknownEnumValue, "argument %d to `%s`: unknown %s %q", i+1, name, typeName, a.Str)
	}
	return v, nil
}

// OptInt binds an optional integer argument, returning ok=false if the
// argument list is too short (used for trailing-optional args like
// download's dpi override).
func OptInt(name string, args []pipeline.FilterArg, i int) (val int64, ok bool, err error) {
	if i >= len(args) {
		return 0, false, nil
	}
	v, err := BindInt(name, args, i)
	if err != nil {
		return 0, false, err
	}
	return v, true, nil
}

func argAt(name string, args []pipeline.FilterArg, i int) (pipeline.FilterArg, error) {
	if i >= len(args) {
		return pipeline.FilterArg{}, badArg(name, i, "present")
	}
	return args[i], nil
}

func badArg(name string, i int, want string) error {
	return ierr.New(ierr.KindBadArgument, "argument %d to `%s` must be %s", i+1, name, want).WithStatus(400)
}
