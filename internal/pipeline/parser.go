package pipeline

import (
	"strconv"
	"strings"

	"imaginator/internal/ierr"
)

// Parse reads a decoded pipeline expression — "filter(args):filter(args)"
// followed by an optional "/trailing" suffix — and returns the resulting
// AST plus the trailing remainder. It is a hand-written recursive-descent
// parser, the Go shape of the nom combinators in the original
// implementation's common/src/url.rs.
func Parse(input string) (*Filter, string, error) {
	if input == "" {
		return nil, "", ierr.New(ierr.KindIncompleteURL, "incomplete url")
	}
	p := &parser{s: input}
	f, err := p.parseFilterChain()
	if err != nil {
		return nil, "", err
	}
	trailing := ""
	if p.i < len(p.s) && p.s[p.i] == '/' {
		trailing = p.s[p.i:]
		p.i = len(p.s)
	}
	if p.i != len(p.s) {
		return nil, "", ierr.New(ierr.KindRemainingData, "Url parse error. Remaining data: %s", p.s[p.i:])
	}
	return f, trailing, nil
}

type parser struct {
	s string
	i int
}

// parseFilterChain implements "pipeline := filter_call (':' filter_call)*",
// where each ':' prepends the running result as the image argument (index 0)
// of the next filter — a(x):b(y):c(z) parses the same as c(b(a(x),y),z).
func (p *parser) parseFilterChain() (*Filter, error) {
	current, err := p.parseOneFilter()
	if err != nil {
		return nil, err
	}
	for p.i < len(p.s) && p.s[p.i] == ':' {
		p.i++
		next, err := p.parseOneFilter()
		if err != nil {
			return nil, err
		}
		next.Args = append([]FilterArg{{Kind: ArgImg, Img: current}}, next.Args...)
		current = next
	}
	return current, nil
}

func (p *parser) parseOneFilter() (*Filter, error) {
	nameStart := p.i
	for p.i < len(p.s) && p.s[p.i] != '(' {
		p.i++
	}
	if p.i >= len(p.s) {
		return nil, ierr.New(ierr.KindIncompleteURL, "incomplete url")
	}
	name := p.s[nameStart:p.i]
	p.i++ // consume '('

	var args []FilterArg
	if p.i < len(p.s) && p.s[p.i] == ')' {
		// empty argument list
	} else {
		for {
			arg, err := p.parseArg()
			if err != nil {
				return nil, err
			}
			args = append(args, arg)
			if p.i < len(p.s) && p.s[p.i] == ',' {
				p.i++
				continue
			}
			break
		}
	}
	if p.i >= len(p.s) || p.s[p.i] != ')' {
		return nil, ierr.New(ierr.KindIncompleteURL, "incomplete url")
	}
	p.i++ // consume ')'
	return &Filter{Name: name, Args: args}, nil
}

// parseArg tries, in order, a signed float with unit, a signed int with
// unit, and finally a nested filter call or raw string — mirroring the
// alt_complete(float, int, url_or_filter) combinator in the original grammar.
func (p *parser) parseArg() (FilterArg, error) {
	if a, ok := p.tryFloat(); ok {
		return a, nil
	}
	if a, ok := p.tryInt(); ok {
		return a, nil
	}
	return p.parseImgOrString()
}

func isDigit(b byte) bool { return b >= '0' && b <= '9' }

func (p *parser) tryFloat() (FilterArg, bool) {
	start := p.i
	i := p.i
	neg := false
	if i < len(p.s) && (p.s[i] == '+' || p.s[i] == '-') {
		neg = p.s[i] == '-'
		i++
	}
	intStart := i
	for i < len(p.s) && isDigit(p.s[i]) {
		i++
	}
	intPart := p.s[intStart:i]
	if i >= len(p.s) || p.s[i] != '.' {
		p.i = start
		return FilterArg{}, false
	}
	i++ // consume '.'
	fracStart := i
	for i < len(p.s) && isDigit(p.s[i]) {
		i++
	}
	fracPart := p.s[fracStart:i]
	if intPart == "" && fracPart == "" {
		p.i = start
		return FilterArg{}, false
	}
	numStr := intPart
	if numStr == "" {
		numStr = "0"
	}
	numStr += "."
	if fracPart == "" {
		numStr += "0"
	} else {
		numStr += fracPart
	}
	val, err := strconv.ParseFloat(numStr, 64)
	if err != nil {
		p.i = start
		return FilterArg{}, false
	}
	if neg {
		val = -val
	}
	p.i = i
	unit := p.parseUnit()
	return FilterArg{Kind: ArgFloat, Float: val, Unit: unit}, true
}

func (p *parser) tryInt() (FilterArg, bool) {
	start := p.i
	i := p.i
	neg := false
	if i < len(p.s) && p.s[i] == '-' {
		neg = true
		i++
	}
	digitsStart := i
	for i < len(p.s) && isDigit(p.s[i]) {
		i++
	}
	if i == digitsStart {
		p.i = start
		return FilterArg{}, false
	}
	val, err := strconv.ParseInt(p.s[digitsStart:i], 10, 64)
	if err != nil {
		p.i = start
		return FilterArg{}, false
	}
	if neg {
		val = -val
	}
	p.i = i
	unit := p.parseUnit()
	return FilterArg{Kind: ArgInt, Int: val, Unit: unit}, true
}

var unitTable = []struct {
	s string
	u SizeUnit
}{
	{"px", UnitPx},
	{"hcm", UnitHCm},
	{"vcm", UnitVCm},
	{"hin", UnitHIn},
	{"vin", UnitVIn},
	{"w", UnitWidth},
	{"h", UnitHeight},
}

func (p *parser) parseUnit() SizeUnit {
	for _, e := range unitTable {
		if strings.HasPrefix(p.s[p.i:], e.s) {
			p.i += len(e.s)
			return e.u
		}
	}
	return UnitNone
}

// parseImgOrString decides, by scanning ahead for the next '(' and the
// next ':' in the remainder of the input, whether this argument is a
// nested filter call or a raw string — matching url_or_filter's
// lookahead rule in the original grammar.
func (p *parser) parseImgOrString() (FilterArg, error) {
	rest := p.s[p.i:]
	parenIdx := strings.IndexByte(rest, '(')
	colonIdx := strings.IndexByte(rest, ':')
	useFilter := parenIdx != -1 && (colonIdx == -1 || parenIdx < colonIdx)
	if useFilter {
		f, err := p.parseOneFilter()
		if err != nil {
			return FilterArg{}, err
		}
		return FilterArg{Kind: ArgImg, Img: f}, nil
	}
	return p.parseRawString()
}

// parseRawString consumes characters up to the next top-level ',' or ')',
// tracking nested parens so that a string argument may itself contain
// balanced "(" ")" pairs (e.g. a domain-prefixed download URL).
func (p *parser) parseRawString() (FilterArg, error) {
	var sb strings.Builder
	depth := 0
	for {
		if p.i >= len(p.s) {
			return FilterArg{}, ierr.New(ierr.KindParseError, "parse error: unterminated string argument")
		}
		c := p.s[p.i]
		switch {
		case c == ',' && depth == 0:
			return FilterArg{Kind: ArgString, Str: sb.String()}, nil
		case c == '(':
			depth++
			sb.WriteByte(c)
		case c == ')' && depth > 0:
			depth--
			sb.WriteByte(c)
		case c == ')' && sb.Len() == 0:
			return FilterArg{}, ierr.New(ierr.KindParseError, "parse error: unbalanced parenthesis")
		case c == ')':
			return FilterArg{Kind: ArgString, Str: sb.String()}, nil
		default:
			sb.WriteByte(c)
		}
		p.i++
	}
}
