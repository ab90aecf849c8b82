package rules

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

var (
	placeholderRe = regexp.MustCompile(`\{\{\s*([^{}]+?)\s*\}\}`)
	wholeRe       = regexp.MustCompile(`^\{\{\s*([^{}]+?)\s*\}\}$`)
)

// Resolve substitutes {{path.to.value}} placeholders in value against the
// context. Strings made up of exactly one placeholder resolve to the raw
// looked-up value (preserving lists and maps); strings with embedded
// placeholders resolve to strings; maps and slices are resolved recursively
// preserving shape; other values pass through unchanged. A missing path
// resolves to nil (whole placeholder) or the empty string (embedded), never
// an error.
func Resolve(value any, ctx map[string]any) any {
	switch v := value.(type) {
	case string:
		return resolveString(v, ctx)
	case map[string]any:
		out := make(map[string]any, len(v))
		for k, item := range v {
			out[k] = Resolve(item, ctx)
		}
		return out
	case []any:
		out := make([]any, len(v))
		for i, item := range v {
			out[i] = Resolve(item, ctx)
		}
		return out
	default:
		return value
	}
}

func resolveString(s string, ctx map[string]any) any {
	if m := wholeRe.FindStringSubmatch(s); m != nil {
		val, _ := Lookup(m[1], ctx)
		return val
	}
	if !strings.Contains(s, "{{") {
		return s
	}
	return placeholderRe.ReplaceAllStringFunc(s, func(ph string) string {
		path := wholeRe.FindStringSubmatch(ph)[1]
		val, ok := Lookup(path, ctx)
		if !ok || val == nil {
			return ""
		}
		return fmt.Sprintf("%v", val)
	})
}

// Lookup walks a dotted path into the context. Map segments are keys and
// slice segments are numeric indexes. The second return reports whether the
// full path exists.
func Lookup(path string, ctx map[string]any) (any, bool) {
	var current any = ctx
	for _, seg := range strings.Split(path, ".") {
		switch c := current.(type) {
		case map[string]any:
			v, ok := c[seg]
			if !ok {
				return nil, false
			}
			current = v
		case []any:
			idx, err := strconv.Atoi(seg)
			if err != nil || idx < 0 || idx >= len(c) {
				return nil, false
			}
			current = c[idx]
		default:
			return nil, false
		}
	}
	return current, true
}
