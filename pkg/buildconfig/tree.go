package buildconfig

import (
	"fmt"

	"github.com/mcuadros/go-lookup"
)

// Tree is the merged configuration, always a map decoded from YAML or HCL.
// Everything downstream (stage lookups, get_config navigation) treats it as
// a plain nested map/slice/scalar structure.
type Tree map[string]interface{}

// navigate walks path through t using mcuadros/go-lookup's dotted-path
// lookup, joining the segments into one dotted path for a single lookup.
// A missing key at any depth yields (nil, false); which segment was
// missing is not reported.
func navigate(t Tree, path ...string) (interface{}, bool) {
	if len(path) == 0 {
		return map[string]interface{}(t), true
	}
	joined := path[0]
	for _, p := range path[1:] {
		joined += "." + p
	}
	v, err := lookup.LookupString(map[string]interface{}(t), joined)
	if err != nil {
		return nil, false
	}
	return v.Interface(), true
}

func asMap(v interface{}) (map[string]interface{}, bool) {
	switch m := v.(type) {
	case map[string]interface{}:
		return m, true
	case Tree:
		return map[string]interface{}(m), true
	case map[interface{}]interface{}:
		out := make(map[string]interface{}, len(m))
		for k, val := range m {
			out[fmt.Sprintf("%v", k)] = val
		}
		return out, true
	default:
		return nil, false
	}
}

// firstMapping implements spec's data-file loading rule: a mapping is used
// directly; a sequence is used via its first element if that element is
// itself a mapping.
func firstMapping(decoded interface{}) (map[string]interface{}, error) {
	if m, ok := asMap(decoded); ok {
		return m, nil
	}
	if seq, ok := decoded.([]interface{}); ok && len(seq) > 0 {
		if m, ok := asMap(seq[0]); ok {
			return m, nil
		}
	}
	return nil, fmt.Errorf("data file does not decode to a mapping, or a sequence whose first element is a mapping")
}
