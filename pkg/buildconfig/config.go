// Package buildconfig implements the process-wide configuration tree:
// merging a user init map over an optional YAML/HCL data file, validating
// the result, computing the shared timestamp_str, and serving expanded
// reads through a single instance the rest of the driver treats as a
// read-only singleton once stages begin running.
package buildconfig

import (
	"os"
	"sync"
	"time"

	"github.com/replicate/buildahutil/pkg/bherrors"
)

const timestampFormat = "2006-01-02-15-04-05"

type instance struct {
	mu sync.Mutex

	init            map[string]interface{}
	dataFilePath    string
	defaultBasename string

	built        bool
	tree         Tree
	debug        int
	timestampStr string
	configFiles  []string
}

var global = &instance{}

// InitConfig records the embedding program's initialization map. It must
// be called before the first GetConfig/RequiredConfig/GetDebug access;
// calling it again after the tree has been built is a programming error.
func InitConfig(init map[string]interface{}) error {
	global.mu.Lock()
	defer global.mu.Unlock()
	if global.built {
		return bherrors.CallContract("InitConfig called after the configuration tree was already built")
	}
	global.init = init
	return nil
}

// SetDataFilePath records the structured data file to merge under the
// init map, resolved by the orchestrator from --config or the default
// search path before the tree is built.
func SetDataFilePath(path string) {
	global.mu.Lock()
	defer global.mu.Unlock()
	global.dataFilePath = path
}

// SetDefaultBasename records the basename used to search
// OpenPeeDeeP/xdg's config-home directory when no --config path resolves
// to an existing file.
func SetDefaultBasename(name string) {
	global.mu.Lock()
	defer global.mu.Unlock()
	global.defaultBasename = name
}

// GetDebug returns the current debug verbosity.
func GetDebug() (int, error) {
	if err := ensureBuilt(); err != nil {
		return 0, err
	}
	global.mu.Lock()
	defer global.mu.Unlock()
	return global.debug, nil
}

// SetDebug sets the debug verbosity.
func SetDebug(level int) {
	global.mu.Lock()
	defer global.mu.Unlock()
	global.debug = level
}

// TimestampStr returns the run's shared timestamp, computed once when the
// tree is built.
func TimestampStr() (string, error) {
	if err := ensureBuilt(); err != nil {
		return "", err
	}
	global.mu.Lock()
	defer global.mu.Unlock()
	return global.timestampStr, nil
}

// ConfigFiles returns the paths recorded as _config_files: the data file
// actually loaded (if any). The freshness gate (pkg/artifact) compares
// these mtimes against each stage's archive.
func ConfigFiles() ([]string, error) {
	if err := ensureBuilt(); err != nil {
		return nil, err
	}
	global.mu.Lock()
	defer global.mu.Unlock()
	out := make([]string, len(global.configFiles))
	copy(out, global.configFiles)
	return out, nil
}

// RequiredConfig fails fatally if any of keys is missing from the
// top-level tree.
func RequiredConfig(keys ...string) error {
	if err := ensureBuilt(); err != nil {
		return err
	}
	global.mu.Lock()
	defer global.mu.Unlock()
	for _, k := range keys {
		if _, ok := global.tree[k]; !ok {
			return bherrors.Config("required configuration key %q is missing", k)
		}
	}
	return nil
}

// GetConfig navigates the tree by path, applying [% %] template expansion
// to scalar and sequence leaves. Non-scalar, non-sequence leaves (maps,
// and any callables installed via init_config) are returned as-is.
func GetConfig(path ...string) (interface{}, error) {
	if err := ensureBuilt(); err != nil {
		return nil, err
	}
	global.mu.Lock()
	tree := global.tree
	global.mu.Unlock()

	v, ok := navigate(tree, path...)
	if !ok {
		return nil, nil
	}
	return expandValue(tree, v)
}

// ExpandValue applies the same [% %] template expansion GetConfig applies
// to a tree leaf, against the already-built configuration root. It lets
// other packages (pkg/stage) hold onto a raw sub-tree value — e.g. a
// stage's own entry in stages.<name> — and expand individual fields from
// it without re-navigating the whole path each time.
func ExpandValue(v interface{}) (interface{}, error) {
	if err := ensureBuilt(); err != nil {
		return nil, err
	}
	global.mu.Lock()
	tree := global.tree
	global.mu.Unlock()
	return expandValue(tree, v)
}

// SetOpt writes value at config.opts.<key> in the already-built tree.
// This is the one sanctioned mutation of the tree after ensureBuilt has
// run, backing the added_opts CLI flags pkg/orchestrator registers: a
// flag's pflag.Value.Set calls this so a stage's func_exec can read the
// result back via GetConfig("opts", key).
func SetOpt(key string, value interface{}) error {
	if err := ensureBuilt(); err != nil {
		return err
	}
	global.mu.Lock()
	defer global.mu.Unlock()
	opts, ok := global.tree["opts"].(map[string]interface{})
	if !ok {
		opts = map[string]interface{}{}
		global.tree["opts"] = opts
	}
	opts[key] = value
	return nil
}

func ensureBuilt() error {
	global.mu.Lock()
	defer global.mu.Unlock()
	if global.built {
		return nil
	}

	dataPath := findDataFile(global.dataFilePath, global.defaultBasename)

	base, err := loadDataFile(dataPath)
	if err != nil {
		return err
	}

	merged, err := merge(base, global.init)
	if err != nil {
		return bherrors.Config("failed to merge configuration: %s", err)
	}

	if err := validateSchema(merged); err != nil {
		return err
	}

	timestampStr, err := resolveTimestampStr(merged)
	if err != nil {
		return err
	}

	global.tree = Tree(merged)
	global.timestampStr = timestampStr
	if dataPath != "" {
		global.configFiles = []string{dataPath}
	}
	global.built = true
	return nil
}

// resolveTimestampStr implements spec's re-entry rule: reuse
// <BASENAME>_TIMESTAMP_STR from the environment if the inner re-exec set
// it, otherwise format now and export it for the child process this
// outer invocation is about to spawn.
func resolveTimestampStr(tree map[string]interface{}) (string, error) {
	basename, _ := tree["basename"].(string)
	if basename == "" {
		return "", bherrors.Config("configuration is missing required key %q", "basename")
	}
	envVar := envVarForBasename(basename)
	if existing := os.Getenv(envVar); existing != "" {
		return existing, nil
	}
	ts := time.Now().Local().Format(timestampFormat)
	if err := os.Setenv(envVar, ts); err != nil {
		return "", bherrors.Config("failed to export %s: %s", envVar, err)
	}
	return ts, nil
}

func envVarForBasename(basename string) string {
	return upperSnake(basename) + "_TIMESTAMP_STR"
}

func upperSnake(s string) string {
	out := make([]byte, 0, len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c >= 'a' && c <= 'z':
			out = append(out, c-'a'+'A')
		case (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9'):
			out = append(out, c)
		default:
			out = append(out, '_')
		}
	}
	return string(out)
}

// TestReset undoes ensureBuilt's memoization for tests in other packages
// that build a configuration tree per test case. Production code never
// calls this: the package otherwise behaves as a genuine process-wide
// singleton.
func TestReset() { reset() }

func reset() {
	global.mu.Lock()
	defer global.mu.Unlock()
	global.init = nil
	global.dataFilePath = ""
	global.defaultBasename = ""
	global.built = false
	global.tree = nil
	global.debug = 0
	global.timestampStr = ""
	global.configFiles = nil
}
