// Package pipeline turns a URL path into a Filter tree: it owns the
// grammar (Parse), the HMAC-SHA1 signature check (ParseURL/sign.go) and
// the alias-template expander (ExpandAliases). It knows nothing about
// images or execution — those live in internal/engine.
package pipeline

import "fmt"

// SizeUnit is the unit suffix attached to a numeric filter argument,
// resolved against a source image's pixel dimensions or DPI at bind time.
type SizeUnit int

const (
	UnitNone SizeUnit = iota
	UnitPx
	UnitWidth
	UnitHeight
	UnitHCm
	UnitVCm
	UnitHIn
	UnitVIn
)

func (u SizeUnit) String() string {
	switch u {
	case UnitPx:
		return "px"
	case UnitWidth:
		return "w"
	case UnitHeight:
		return "h"
	case UnitHCm:
		return "hcm"
	case UnitVCm:
		return "vcm"
	case UnitHIn:
		return "hin"
	case UnitVIn:
		return "vin"
	default:
		return ""
	}
}

// ArgKind tags the active member of a FilterArg.
type ArgKind int

const (
	ArgInt ArgKind = iota
	ArgFloat
	ArgString
	ArgImg
	// ArgResolvedImg marks an argument whose image has already been
	// produced, bypassing re-execution. Used by partial-URL re-entry
	// to splice an already-decoded source image into a sub-pipeline.
	ArgResolvedImg
)

// FilterArg is one positional argument of a Filter call. Exactly one of
// Int/Float/Str/Img/Resolved is meaningful, selected by Kind.
type FilterArg struct {
	Kind     ArgKind
	Int      int64
	Float    float64
	Unit     SizeUnit
	Str      string
	Img      *Filter
	Resolved any
}

// Filter is one node of the pipeline AST: a name plus its arguments,
// some of which may themselves be nested Filter nodes (ArgImg).
type Filter struct {
	Name string
	Args []FilterArg
}

func (f *Filter) String() string {
	if f == nil {
		return "<nil>"
	}
	parts := make([]string, len(f.Args))
	for i, a := range f.Args {
		parts[i] = a.String()
	}
	s := f.Name + "("
	for i, p := range parts {
		if i > 0 {
			s += ","
		}
		s += p
	}
	return s + ")"
}

func (a FilterArg) String() string {
	switch a.Kind {
	case ArgInt:
		return fmt.Sprintf("%d%s", a.Int, a.Unit)
	case ArgFloat:
		return fmt.Sprintf("%g%s", a.Float, a.Unit)
	case ArgString:
		return a.Str
	case ArgImg:
		return a.Img.String()
	case ArgResolvedImg:
		return "<resolved image>"
	default:
		return "<invalid arg>"
	}
}
