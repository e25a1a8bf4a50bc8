// Package namepattern renders display names such as "{$_id}_{$filename}"
// against the fields of a stored file.
package namepattern

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
)

var placeholder = regexp.MustCompile(`\{\$([^}]+)\}`)

// Render replaces every {$path} in pattern with the value found at the dotted
// path in fields. Unresolved placeholders are left as they are and logged.
func Render(pattern string, fields map[string]any, logger *zap.Logger) string {
	if logger == nil {
		logger = zap.NewNop()
	}

	return placeholder.ReplaceAllStringFunc(pattern, func(match string) string {
		path := match[2 : len(match)-1]

		value, ok := Lookup(fields, path)
		if !ok {
			logger.Warn("name pattern path is undefined", zap.String("path", path))
			return match
		}
		return format(value)
	})
}

// Lookup resolves a dotted path through nested maps.
func Lookup(fields map[string]any, path string) (any, bool) {
	var current any = fields

	for _, key := range strings.Split(path, ".") {
		m, ok := current.(map[string]any)
		if !ok {
			return nil, false
		}
		current, ok = m[key]
		if !ok {
			return nil, false
		}
	}

	if current == nil {
		return nil, false
	}
	return current, true
}

func format(v any) string {
	switch x := v.(type) {
	case string:
		return x
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case time.Time:
		return x.UTC().Format(time.RFC3339Nano)
	case fmt.Stringer:
		return x.String()
	default:
		return fmt.Sprint(x)
	}
}
