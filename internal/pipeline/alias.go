package pipeline

import (
	"regexp"
	"strconv"

	"imaginator/internal/ierr"
)

// AliasConfig carries the alias-template table and whether filter names
// that aren't aliases may pass through unexpanded.
type AliasConfig struct {
	Templates           map[string]string
	AllowBuiltinFilters bool
}

var placeholderRe = regexp.MustCompile(`\{(\d+)\}`)

// ExpandAliases rewrites f into its fully-expanded form. Expansion is a
// single pass: children are expanded first (so an alias invoked as a
// nested image argument is resolved before its parent), and the parent's
// alias template is then substituted in — but the template's own body is
// NOT re-walked for further alias names, only for {N} placeholders. A
// template that names another alias at its root is therefore left
// un-expanded; see DESIGN.md for why this matches the original
// implementation's apply_filter_aliases / apply_alias_args split.
func ExpandAliases(cfg AliasConfig, f *Filter) (*Filter, error) {
	expandedArgs := make([]FilterArg, len(f.Args))
	for i, a := range f.Args {
		if a.Kind == ArgImg {
			child, err := ExpandAliases(cfg, a.Img)
			if err != nil {
				return nil, err
			}
			expandedArgs[i] = FilterArg{Kind: ArgImg, Img: child}
		} else {
			expandedArgs[i] = a
		}
	}
	node := &Filter{Name: f.Name, Args: expandedArgs}

	template, isAlias := cfg.Templates[node.Name]
	if !isAlias {
		if !cfg.AllowBuiltinFilters {
			return nil, ierr.New(ierr.KindUnknownFilter, "unknown filter: %s", node.Name).WithStatus(400)
		}
		return node, nil
	}

	templateFilter, _, err := Parse(template)
	if err != nil {
		return nil, ierr.Wrap(ierr.KindParseError, err, "invalid alias template for %q", node.Name)
	}
	return substituteAliasArgs(templateFilter, node.Args)
}

// substituteAliasArgs walks the template tree, replacing every String
// argument matching "{N}" with the N-th argument of the call site
// (0-indexed, already chain-prepended if the alias was invoked via ':').
func substituteAliasArgs(template *Filter, callerArgs []FilterArg) (*Filter, error) {
	out := make([]FilterArg, len(template.Args))
	for i, a := range template.Args {
		switch a.Kind {
		case ArgImg:
			sub, err := substituteAliasArgs(a.Img, callerArgs)
			if err != nil {
				return nil, err
			}
			out[i] = FilterArg{Kind: ArgImg, Img: sub}
		case ArgString:
			if m := placeholderRe.FindStringSubmatch(a.Str); m != nil {
				idx, _ := strconv.Atoi(m[1])
				if idx >= len(callerArgs) {
					return nil, ierr.New(ierr.KindBadArgument, "alias template references missing argument {%d}", idx)
				}
				out[i] = callerArgs[idx]
			} else {
				out[i] = a
			}
		default:
			out[i] = a
		}
	}
	return &Filter{Name: template.Name, Args: out}, nil
}
