package builder

import (
	"github.com/replicate/buildahutil/pkg/grammar"
	"github.com/replicate/buildahutil/pkg/process"
)

// Bud runs `builder bud`, building an image directly from a Dockerfile in
// contextDir. Used only for base-image maintenance; the stage pipeline
// itself always goes through From/Run/Commit.
func Bud(params map[string]interface{}, contextDir string) error {
	if tag, ok := params["tag"].(string); ok {
		if err := validateReference("bud", tag); err != nil {
			return err
		}
	}
	schema := grammar.Schema{
		ArgInit:  []string{"bud"},
		ArgStr:   []string{"file", "tag"},
		ArgArray: []string{"build-arg", "label"},
		ArgFlag:  []string{"no-cache", "pull", "squash"},
	}
	res, err := translate(schema, params)
	if err != nil {
		return err
	}
	argv := append(res.Argv, contextDir)
	_, err = run(process.Options{}, argv)
	return err
}

// Containers lists containers known to the builder.
func Containers(params map[string]interface{}) (string, error) {
	schema := grammar.Schema{
		ArgInit: []string{"containers"},
		ArgStr:  []string{"format"},
		ArgFlag: []string{"all", "quiet"},
	}
	res, err := translate(schema, params)
	if err != nil {
		return "", err
	}
	return run(process.Options{CaptureOutput: true}, res.Argv)
}

// From creates a new working container named by params["name"] from
// image, e.g. `builder from --name=<container_name> <image>`.
func From(params map[string]interface{}, image string) (string, error) {
	if err := validateReference("from", image); err != nil {
		return "", err
	}
	schema := grammar.Schema{
		ArgInit: []string{"from"},
		ArgStr:  []string{"name", "pull"},
	}
	res, err := translate(schema, params)
	if err != nil {
		return "", err
	}
	argv := append(res.Argv, image)
	return run(process.Options{CaptureOutput: true}, argv)
}

// Info captures and parses `builder info`. Per the expanded spec's
// resolution of the source's open question, info's parameters are
// ignored entirely: the source assigns a mapping to a scalar variable on
// this path before use, so treating it as unimplemented rather than
// replicating the bug is the documented choice (see DESIGN.md).
func Info(_ map[string]interface{}) (map[string]interface{}, error) {
	out, err := run(process.Options{CaptureOutput: true}, []string{"info"})
	if err != nil {
		return nil, err
	}
	return parseInfo(out)
}

// Mount mounts the named containers and returns the builder's output
// (one "<name> <mountpoint>" pair per line for multiple names).
func Mount(params map[string]interface{}, names ...string) (string, error) {
	schema := grammar.Schema{ArgInit: []string{"mount"}}
	res, err := translate(schema, params)
	if err != nil {
		return "", err
	}
	argv := append(res.Argv, names...)
	return run(process.Options{CaptureOutput: true}, argv)
}

// Rm removes the named containers, or every container when params["all"]
// is set.
func Rm(params map[string]interface{}, names ...string) error {
	schema := grammar.Schema{
		ArgInit:   []string{"rm"},
		Exclusive: []string{"all"},
		ArgFlag:   []string{"all"},
	}
	res, err := translate(schema, params)
	if err != nil {
		return err
	}
	argv := res.Argv
	if !containsFlag(argv, "--all") {
		argv = append(argv, names...)
	}
	_, err = run(process.Options{SuppressOutput: true}, argv)
	return err
}

// Rmi removes the named images, all images, or prunes dangling images,
// per the same all/prune exclusivity spec.md documents.
func Rmi(params map[string]interface{}, names ...string) error {
	schema := grammar.Schema{
		ArgInit:   []string{"rmi"},
		Exclusive: []string{"all", "prune"},
		ArgFlag:   []string{"all", "prune", "force"},
	}
	res, err := translate(schema, params)
	if err != nil {
		return err
	}
	argv := res.Argv
	if !containsFlag(argv, "--all") && !containsFlag(argv, "--prune") {
		argv = append(argv, names...)
	}
	_, err = run(process.Options{SuppressOutput: true}, argv)
	return err
}

// Tag applies one or more tags to image.
func Tag(params map[string]interface{}, tags ...string) error {
	schema := grammar.Schema{
		ArgInit: []string{"tag"},
		Extract: []string{"image"},
	}
	res, err := translate(schema, params)
	if err != nil {
		return err
	}
	image, _ := res.Extracted["image"].(string)
	if err := validateReference("tag", image); err != nil {
		return err
	}
	argv := append(res.Argv, image)
	argv = append(argv, orderTags(tags)...)
	_, err = run(process.Options{SuppressOutput: true}, argv)
	return err
}

// Umount unmounts the named containers, or every mounted container when
// params["all"] is set. Per spec.md's open question, this follows the
// documented grammar.Translate(schema, params) call order, not the
// swapped order one source variant used.
func Umount(params map[string]interface{}, names ...string) error {
	schema := grammar.Schema{
		ArgInit:   []string{"umount"},
		Exclusive: []string{"all"},
		ArgFlag:   []string{"all"},
	}
	res, err := translate(schema, params)
	if err != nil {
		return err
	}
	argv := res.Argv
	if !containsFlag(argv, "--all") {
		argv = append(argv, names...)
	}
	_, err = run(process.Options{SuppressOutput: true}, argv)
	return err
}

// Unshare re-enters the builder's mount namespace and execs cmd there.
// This is the primitive by which the outer driver re-enters itself as
// the inner worker: params["container"] and params["envname"] are
// extracted; unshare takes no other flags in this grammar, so any other
// param is rejected by grammar.Translate as unrecognized.
func Unshare(params map[string]interface{}, cmd ...string) error {
	schema := grammar.Schema{
		ArgInit: []string{"unshare"},
		Extract: []string{"container", "envname"},
	}
	res, err := translate(schema, params)
	if err != nil {
		return err
	}
	container, _ := res.Extracted["container"].(string)
	envname, _ := res.Extracted["envname"].(string)

	mountArg := container
	if envname != "" {
		mountArg = envname + "=" + container
	}
	argv := append(res.Argv, "--mount", mountArg, "--")
	argv = append(argv, cmd...)

	_, err = run(process.Options{}, argv)
	return err
}

func containsFlag(argv []string, flag string) bool {
	for _, a := range argv {
		if a == flag {
			return true
		}
	}
	return false
}
