package buildconfig

import (
	"github.com/imdario/mergo"
)

// merge overlays init (the caller's init_config map, which may hold
// function values as leaves) onto base (the decoded data file tree, or an
// empty map if no data file was named). init wins on every conflicting
// key, per spec: "overlay all keys of the init map (init wins)".
func merge(base map[string]interface{}, init map[string]interface{}) (map[string]interface{}, error) {
	dst := map[string]interface{}{}
	for k, v := range base {
		dst[k] = v
	}
	if err := mergo.Merge(&dst, init, mergo.WithOverride); err != nil {
		return nil, err
	}
	return dst, nil
}
