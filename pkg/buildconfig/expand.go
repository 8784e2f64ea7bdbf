package buildconfig

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/replicate/buildahutil/pkg/bherrors"
)

// maxExpansionIters bounds the [% ... %] rewrite loop. Each iteration
// resolves every delimiter pair against the config root in one pass;
// hitting the cap with delimiters still present means the referenced keys
// form a cycle (or never resolve), which we treat as fatal rather than
// the "silently return partial" option the original design left open —
// emitting a string with literal "[% %]" markers still embedded is worse
// for a caller than failing loudly (see DESIGN.md).
const maxExpansionIters = 10

var delimiterRe = regexp.MustCompile(`\[%\s*([^%]+?)\s*%\]`)

// expandScalar repeatedly substitutes "[% dotted.path %]" references
// against root until none remain or maxExpansionIters is hit.
func expandScalar(root Tree, value string) (string, error) {
	current := value
	for i := 0; i < maxExpansionIters; i++ {
		if !strings.Contains(current, "[%") {
			return current, nil
		}
		next := delimiterRe.ReplaceAllStringFunc(current, func(match string) string {
			sub := delimiterRe.FindStringSubmatch(match)
			path := strings.TrimSpace(sub[1])
			resolved, ok := navigate(root, strings.Split(path, ".")...)
			if !ok {
				return match
			}
			return stringify(resolved)
		})
		if next == current {
			// No delimiter resolved to a different string this pass —
			// further iterations would just repeat the same result, so
			// the remaining references never resolve.
			break
		}
		current = next
	}
	if strings.Contains(current, "[%") {
		return "", bherrors.Expansion(value, maxExpansionIters)
	}
	return current, nil
}

// expandValue applies expandScalar to a scalar, or element-wise to a
// sequence; other leaf types (callables installed via init_config, maps)
// pass through unexpanded, per spec.md §4.D.
func expandValue(root Tree, v interface{}) (interface{}, error) {
	switch t := v.(type) {
	case string:
		return expandScalar(root, t)
	case []interface{}:
		out := make([]interface{}, len(t))
		for i, elem := range t {
			e, err := expandValue(root, elem)
			if err != nil {
				return nil, err
			}
			out[i] = e
		}
		return out, nil
	case []string:
		out := make([]interface{}, len(t))
		for i, elem := range t {
			e, err := expandScalar(root, elem)
			if err != nil {
				return nil, err
			}
			out[i] = e
		}
		return out, nil
	default:
		return v, nil
	}
}

func stringify(v interface{}) string {
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprintf("%v", v)
}
