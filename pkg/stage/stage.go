// Package stage models a single build stage: a read-only view over its
// slice of the configuration tree, plus the runtime-only fields (mount
// point) that only exist once execution has entered the stage's
// namespace. Accessors are plain methods rather than generated from the
// schema, so the set a caller can rely on is visible in this file instead
// of reconstructed from reflection.
package stage

import (
	"reflect"

	"github.com/replicate/buildahutil/pkg/bherrors"
	"github.com/replicate/buildahutil/pkg/buildconfig"
)

// ExecFunc is the in-namespace build callback a stage's func_exec key
// must hold. It receives the handle for the stage currently running so it
// can read expanded config and use h.MountPoint() to operate on the
// container's filesystem.
type ExecFunc func(h *Handle) error

// Handle is a per-stage, per-invocation runtime object. Outer and inner
// runs of the same stage are two separate processes, each constructing
// their own handle; container_name is derived the same way in both, which
// is what keeps them pointing at the same working container.
type Handle struct {
	name          string
	containerName string
	mountPoint    string
	tree          map[string]interface{}
}

// New constructs a handle for stage name, reading its entry from
// stages.<name> in the configuration singleton.
//
// This constructor is for pkg/orchestrator's use only: it is the sole
// place a stage's lifecycle is driven end to end. User callbacks (the
// func_exec/func_deps values stages.<name> supplies) receive a *Handle
// as an argument instead of constructing their own, and should treat it
// as read-only aside from the mutations exposed here.
func New(name string) (*Handle, error) {
	if name == "" {
		return nil, bherrors.CallContract("stage name must not be empty")
	}

	basenameRaw, err := buildconfig.GetConfig("basename")
	if err != nil {
		return nil, err
	}
	basename, _ := basenameRaw.(string)
	if basename == "" {
		return nil, bherrors.Config("configuration is missing required key %q", "basename")
	}

	stageRaw, err := buildconfig.GetConfig("stages", name)
	if err != nil {
		return nil, err
	}
	if stageRaw == nil {
		return nil, bherrors.Config("stage %q not found in configuration", name)
	}
	tree, ok := stageRaw.(map[string]interface{})
	if !ok {
		return nil, bherrors.Config("stage %q configuration must be a mapping", name)
	}

	if _, ok := tree["from"]; !ok {
		return nil, bherrors.Config("stage %q is missing required key %q", name, "from")
	}
	if _, ok := tree["func_exec"]; !ok {
		return nil, bherrors.Config("stage %q is missing required key %q", name, "func_exec")
	}

	return &Handle{
		name:          name,
		containerName: basename + "_" + name,
		tree:          tree,
	}, nil
}

// GetName returns the stage's name.
func (h *Handle) GetName() string { return h.name }

// ContainerName returns basename + "_" + name, stable across the outer
// and inner runs of this stage.
func (h *Handle) ContainerName() string { return h.containerName }

// SetMountPoint records the container's mount point once the orchestrator
// has entered the namespace. It is absent (empty string, MountPoint's
// second return false) outside the namespace.
func (h *Handle) SetMountPoint(path string) { h.mountPoint = path }

// MountPoint returns the container's mount point and whether it is set.
func (h *Handle) MountPoint() (string, bool) { return h.mountPoint, h.mountPoint != "" }

// GetFrom returns the stage's required base image reference.
func (h *Handle) GetFrom() (string, error) {
	v, _, err := h.get("from")
	if err != nil {
		return "", err
	}
	s, ok := v.(string)
	if !ok {
		return "", bherrors.Config("stage %q: %q must be a string", h.name, "from")
	}
	return s, nil
}

// GetFuncExec returns the stage's required in-namespace build callback.
func (h *Handle) GetFuncExec() (ExecFunc, error) {
	v, _, err := h.get("func_exec")
	if err != nil {
		return nil, err
	}
	fn, ok := v.(ExecFunc)
	if !ok {
		return nil, bherrors.Config("stage %q: %q must be a stage.ExecFunc", h.name, "func_exec")
	}
	return fn, nil
}

// GetFuncDeps returns the stage's optional pre-consume callback.
func (h *Handle) GetFuncDeps() (ExecFunc, bool, error) {
	v, present, err := h.get("func_deps")
	if err != nil || !present {
		return nil, present, err
	}
	fn, ok := v.(ExecFunc)
	if !ok {
		return nil, true, bherrors.Config("stage %q: %q must be a stage.ExecFunc", h.name, "func_deps")
	}
	return fn, true, nil
}

// GetConsumes returns the names of stages whose archives this stage
// imports.
func (h *Handle) GetConsumes() ([]string, error) { return h.getStringSlice("consumes") }

// GetDepends returns the names of stages this stage must run after,
// without importing an archive from them.
func (h *Handle) GetDepends() ([]string, error) { return h.getStringSlice("depends") }

// GetProduces returns the absolute directory paths this stage archives at
// stage end.
func (h *Handle) GetProduces() ([]string, error) { return h.getStringSlice("produces") }

// GetCommit returns the stage's commit image name(s), and whether commit
// was set at all.
func (h *Handle) GetCommit() ([]string, bool, error) {
	v, present, err := h.get("commit")
	if err != nil || !present {
		return nil, present, err
	}
	names, err := toStringSlice(v)
	if err != nil {
		return nil, true, bherrors.Config("stage %q: %q: %s", h.name, "commit", err)
	}
	return names, true, nil
}

// GetUser returns the "name[=uid][:group[=gid]]" user spec to create
// before consume, if set.
func (h *Handle) GetUser() (string, bool, error) {
	return h.getOptionalString("user")
}

// GetUserHome returns the optional home directory for GetUser's user.
func (h *Handle) GetUserHome() (string, bool, error) {
	return h.getOptionalString("user_home")
}

// GetMnt is an alias for MountPoint, named to match the accessor set this
// package's contract enumerates.
func (h *Handle) GetMnt() (string, bool) { return h.MountPoint() }

// GetIgnore returns the stage's inline gitignore-style exclusion
// patterns for its produces directories, if any.
func (h *Handle) GetIgnore() ([]string, error) { return h.getStringSlice("ignore") }

// GetIgnoreFile returns the path (relative to the project root) of a file
// holding gitignore-style exclusion patterns, if set.
func (h *Handle) GetIgnoreFile() (string, bool, error) {
	return h.getOptionalString("ignore_file")
}

func (h *Handle) get(key string) (interface{}, bool, error) {
	raw, ok := h.tree[key]
	if !ok {
		return nil, false, nil
	}
	expanded, err := buildconfig.ExpandValue(raw)
	if err != nil {
		return nil, true, err
	}
	return expanded, true, nil
}

func (h *Handle) getOptionalString(key string) (string, bool, error) {
	v, present, err := h.get(key)
	if err != nil || !present {
		return "", present, err
	}
	s, ok := v.(string)
	if !ok {
		return "", true, bherrors.Config("stage %q: %q must be a string", h.name, key)
	}
	return s, true, nil
}

func (h *Handle) getStringSlice(key string) ([]string, error) {
	v, present, err := h.get(key)
	if err != nil {
		return nil, err
	}
	if !present {
		return nil, nil
	}
	out, err := toStringSlice(v)
	if err != nil {
		return nil, bherrors.Config("stage %q: %q: %s", h.name, key, err)
	}
	return out, nil
}

// toStringSlice accepts either a single scalar string (treated as a
// length-one sequence, matching pkg/grammar's convention for the same
// shape of value) or a slice of strings.
func toStringSlice(v interface{}) ([]string, error) {
	if s, ok := v.(string); ok {
		return []string{s}, nil
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Slice {
		return nil, bherrors.CallContract("expected a string or sequence of strings, got %T", v)
	}
	out := make([]string, 0, rv.Len())
	for i := 0; i < rv.Len(); i++ {
		s, ok := rv.Index(i).Interface().(string)
		if !ok {
			return nil, bherrors.CallContract("element %d is not a string, got %T", i, rv.Index(i).Interface())
		}
		out = append(out, s)
	}
	return out, nil
}
