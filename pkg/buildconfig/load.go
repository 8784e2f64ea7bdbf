package buildconfig

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/OpenPeeDeeP/xdg"
	"gopkg.in/yaml.v2"

	"github.com/replicate/buildahutil/pkg/bherrors"
)

// loadDataFile decodes the data file at path (selecting YAML or HCL by
// extension) into a mapping, applying the "mapping, or sequence whose
// first element is a mapping" rule from spec.md §4.D. An empty path means
// no data file was named; merge then overlays init_config onto an empty
// tree.
func loadDataFile(path string) (map[string]interface{}, error) {
	if path == "" {
		return map[string]interface{}{}, nil
	}

	contents, err := os.ReadFile(path)
	if err != nil {
		return nil, bherrors.Config("failed to read configuration file %s: %s", path, err)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".hcl":
		return loadHCL(contents, path)
	default:
		var decoded interface{}
		if err := yaml.Unmarshal(contents, &decoded); err != nil {
			return nil, bherrors.Config("failed to parse %s: %s", path, err)
		}
		if decoded == nil {
			return map[string]interface{}{}, nil
		}
		m, err := firstMapping(normalizeYAML(decoded))
		if err != nil {
			return nil, bherrors.Config("%s: %s", path, err)
		}
		return m, nil
	}
}

// normalizeYAML converts gopkg.in/yaml.v2's map[interface{}]interface{}
// nodes into map[string]interface{}, recursively, so the rest of the
// package (mergo, go-lookup, the JSON schema round trip) only ever sees
// JSON-shaped values regardless of the source format.
func normalizeYAML(v interface{}) interface{} {
	switch t := v.(type) {
	case map[interface{}]interface{}:
		out := make(map[string]interface{}, len(t))
		for k, val := range t {
			out[stringify(k)] = normalizeYAML(val)
		}
		return out
	case map[string]interface{}:
		out := make(map[string]interface{}, len(t))
		for k, val := range t {
			out[k] = normalizeYAML(val)
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(t))
		for i, elem := range t {
			out[i] = normalizeYAML(elem)
		}
		return out
	default:
		return v
	}
}

// findDataFile resolves which data file to load. An explicit path
// (from --config) that names an existing file is used as is. Otherwise,
// when defaultBasename is set (pkg/orchestrator sets it to "buildahutil"),
// the XDG config home is checked for <defaultBasename>.yml, .yaml and
// .hcl, in that order. When neither applies, cwdPath is returned
// unchanged: an empty path means no data file is loaded, and a named but
// missing file fails when it is read. The working directory is not
// searched for a default file.
func findDataFile(cwdPath string, defaultBasename string) string {
	if cwdPath != "" {
		if _, err := os.Stat(cwdPath); err == nil {
			return cwdPath
		}
	}
	if defaultBasename == "" {
		return cwdPath
	}
	app := xdg.New("", defaultBasename)
	for _, ext := range []string{".yml", ".yaml", ".hcl"} {
		candidate := filepath.Join(app.ConfigHome(), defaultBasename+ext)
		if _, err := os.Stat(candidate); err == nil {
			return candidate
		}
	}
	return cwdPath
}
