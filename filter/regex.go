package filter

import (
	"fmt"
	"regexp"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"
)

// regexpCacheSize bounds the compiled patterns kept for MatchRegexp.
const regexpCacheSize = 256

var regexpCache *lru.Cache[string, *regexp.Regexp]

func init() {
	var err error
	regexpCache, err = lru.New[string, *regexp.Regexp](regexpCacheSize)
	if err != nil {
		panic("filter: regexp cache initialization failed: " + err.Error())
	}
}

// MatchRegexp reports whether value matches pattern. It backs the SQL
// REGEXP operator emitted by the translator: SQLite evaluates
// `value REGEXP pattern` as regexp(pattern, value). NULL never matches.
func MatchRegexp(pattern string, value any) (bool, error) {
	if value == nil {
		return false, nil
	}

	re, ok := regexpCache.Get(pattern)
	if !ok {
		var err error
		re, err = regexp.Compile(pattern)
		if err != nil {
			return false, err
		}
		regexpCache.Add(pattern, re)
	}

	switch v := value.(type) {
	case string:
		return re.MatchString(v), nil
	case []byte:
		return re.Match(v), nil
	default:
		return re.MatchString(fmt.Sprint(v)), nil
	}
}

// pattern is a regular expression taken from a filter value.
type pattern struct {
	expr   string
	flags  string
	global bool
}

// parsePattern accepts a compiled *regexp.Regexp, a "/expr/flags" literal or
// a bare expression. options adds flags to any of them.
func parsePattern(v any, options string) (pattern, bool) {
	switch p := v.(type) {
	case *regexp.Regexp:
		if p == nil {
			return pattern{}, false
		}
		return newPattern(p.String(), options), true

	case string:
		if expr, flags, ok := splitLiteral(p); ok {
			return newPattern(expr, flags+options), true
		}
		return newPattern(p, options), true

	default:
		return pattern{}, false
	}
}

func newPattern(expr, flags string) pattern {
	p := pattern{expr: expr}
	for _, f := range flags {
		switch f {
		case 'i', 'm', 's':
			if !strings.ContainsRune(p.flags, f) {
				p.flags += string(f)
			}
		case 'g':
			p.global = true
		}
	}
	return p
}

// splitLiteral splits "/expr/flags" into its parts.
func splitLiteral(s string) (string, string, bool) {
	if len(s) < 2 || s[0] != '/' {
		return "", "", false
	}

	end := strings.LastIndexByte(s, '/')
	if end == 0 {
		return "", "", false
	}

	flags := s[end+1:]
	if strings.Trim(flags, "gimsuy") != "" {
		return "", "", false
	}
	return s[1:end], flags, true
}

// String renders the pattern with Go inline flags.
func (p pattern) String() string {
	if p.flags == "" {
		return p.expr
	}
	return "(?" + p.flags + ")" + p.expr
}
