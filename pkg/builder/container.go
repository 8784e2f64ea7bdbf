package builder

import (
	"reflect"

	"github.com/replicate/buildahutil/pkg/bherrors"
	"github.com/replicate/buildahutil/pkg/grammar"
	"github.com/replicate/buildahutil/pkg/process"
)

// Container is a thin handle over a builder-managed working container's
// name. Callers build one from pkg/stage.Handle's ContainerName; this
// type deliberately does not depend on pkg/stage, so the stage model can
// depend on pkg/builder without a cycle.
type Container struct {
	Name string
}

// addHistory is prefixed onto every per-container wrapper's ArgInit, so
// the resulting image layer carries provenance of the command that
// produced it.
var addHistory = []string{"--add-history"}

func (c Container) withContainer(argv []string) []string {
	return append(argv, c.Name)
}

// Add extracts the archive at src into the container at dest. The
// builder handles the extraction; src is typically a producing stage's
// artifact archive (see pkg/artifact).
func (c Container) Add(params map[string]interface{}, src, dest string) error {
	schema := grammar.Schema{
		ArgInit: append([]string{"add"}, addHistory...),
		ArgStr:  []string{"chown"},
	}
	res, err := translate(schema, params)
	if err != nil {
		return err
	}
	argv := c.withContainer(res.Argv)
	argv = append(argv, src, dest)
	_, err = run(process.Options{SuppressOutput: true}, argv)
	return err
}

// Commit commits the container to imageName, emitting "--<flag> value"
// for the documented subset of the builder's commit flags. Unknown
// flags are rejected by grammar.Translate rather than silently passed
// through, per spec.md's open question about this subcommand.
func (c Container) Commit(params map[string]interface{}, imageName string) (string, error) {
	if err := validateReference("commit", imageName); err != nil {
		return "", err
	}
	schema := grammar.Schema{
		ArgInit: append([]string{"commit"}, addHistory...),
		ArgStr:  []string{"author", "message", "format", "timestamp"},
		ArgFlag: []string{"squash", "rm", "quiet"},
	}
	res, err := translate(schema, params)
	if err != nil {
		return "", err
	}
	argv := c.withContainer(res.Argv)
	argv = append(argv, imageName)
	return run(process.Options{CaptureOutput: true}, argv)
}

// Config applies `builder config` settings. entrypoint and cmd use the
// list-literal grammar; env, label, port, and volume repeat the flag.
func (c Container) Config(params map[string]interface{}) error {
	schema := grammar.Schema{
		ArgInit:  append([]string{"config"}, addHistory...),
		ArgStr:   []string{"user", "workingdir", "stop-signal"},
		ArgArray: []string{"env", "label", "port", "volume"},
		ArgList:  []string{"entrypoint", "cmd"},
	}
	res, err := translate(schema, params)
	if err != nil {
		return err
	}
	argv := c.withContainer(res.Argv)
	_, err = run(process.Options{SuppressOutput: true}, argv)
	return err
}

// Copy copies src into the container at dest, without the URL-fetch or
// extraction behavior of Add.
func (c Container) Copy(params map[string]interface{}, src, dest string) error {
	schema := grammar.Schema{
		ArgInit: append([]string{"copy"}, addHistory...),
		ArgStr:  []string{"chown"},
	}
	res, err := translate(schema, params)
	if err != nil {
		return err
	}
	argv := c.withContainer(res.Argv)
	argv = append(argv, src, dest)
	_, err = run(process.Options{SuppressOutput: true}, argv)
	return err
}

// From rebuilds this container's filesystem from image, keeping the same
// container name. It is the per-container counterpart of the package
// function From, used when a stage needs to re-pull its base layer
// without discarding the handle's identity.
func (c Container) From(params map[string]interface{}, image string) (string, error) {
	if err := validateReference("from", image); err != nil {
		return "", err
	}
	schema := grammar.Schema{
		ArgInit: append([]string{"from"}, addHistory...),
		ArgStr:  []string{"pull"},
	}
	res, err := translate(schema, params)
	if err != nil {
		return "", err
	}
	argv := append(res.Argv, "--name", c.Name, image)
	return run(process.Options{CaptureOutput: true}, argv)
}

// Mount mounts the container and returns its mount point path.
func (c Container) Mount(params map[string]interface{}) (string, error) {
	schema := grammar.Schema{ArgInit: []string{"mount"}}
	res, err := translate(schema, params)
	if err != nil {
		return "", err
	}
	argv := c.withContainer(res.Argv)
	return run(process.Options{CaptureOutput: true}, argv)
}

// Run executes cmds inside the container. cmds is one of: a single
// scalar (one-word command), a single []string (one command, multiple
// words), or a [][]string (many commands, each run separately with the
// same params re-applied per command).
func (c Container) Run(params map[string]interface{}, cmds interface{}) error {
	commands, err := normalizeCommands(cmds)
	if err != nil {
		return err
	}
	schema := grammar.Schema{
		ArgInit: append([]string{"run"}, addHistory...),
		ArgStr:  []string{"user", "workingdir"},
		ArgArray: []string{"volume"},
		ArgFlag: []string{"tty"},
	}
	for _, command := range commands {
		localParams := cloneParams(params)
		res, err := translate(schema, localParams)
		if err != nil {
			return err
		}
		argv := c.withContainer(res.Argv)
		argv = append(argv, "--")
		argv = append(argv, command...)
		if _, err := run(process.Options{}, argv); err != nil {
			return err
		}
	}
	return nil
}

// Umount unmounts the container.
func (c Container) Umount(params map[string]interface{}) error {
	schema := grammar.Schema{ArgInit: []string{"umount"}}
	res, err := translate(schema, params)
	if err != nil {
		return err
	}
	argv := c.withContainer(res.Argv)
	_, err = run(process.Options{SuppressOutput: true}, argv)
	return err
}

func cloneParams(params map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(params))
	for k, v := range params {
		out[k] = v
	}
	return out
}

func normalizeCommands(cmds interface{}) ([][]string, error) {
	rv := reflect.ValueOf(cmds)
	if rv.Kind() != reflect.Slice {
		s, ok := asScalarCommand(cmds)
		if !ok {
			return nil, bherrors.CallContract("run: cmds must be a scalar, []string, or [][]string, got %T", cmds)
		}
		return [][]string{{s}}, nil
	}

	if rv.Len() == 0 {
		return nil, nil
	}

	// []string: one command, multiple words.
	if _, ok := cmds.([]string); ok {
		return [][]string{cmds.([]string)}, nil
	}

	// [][]string: many commands.
	if many, ok := cmds.([][]string); ok {
		return many, nil
	}

	// []interface{} wrapping either strings (one command) or []string
	// (many commands) — the shape YAML/HCL decoding tends to produce.
	first := rv.Index(0).Interface()
	if _, ok := asScalarCommand(first); ok {
		words := make([]string, rv.Len())
		for i := 0; i < rv.Len(); i++ {
			w, ok := asScalarCommand(rv.Index(i).Interface())
			if !ok {
				return nil, bherrors.CallContract("run: cmds element %d is not a scalar", i)
			}
			words[i] = w
		}
		return [][]string{words}, nil
	}

	out := make([][]string, 0, rv.Len())
	for i := 0; i < rv.Len(); i++ {
		sub, err := normalizeCommands(rv.Index(i).Interface())
		if err != nil {
			return nil, err
		}
		out = append(out, sub...)
	}
	return out, nil
}

func asScalarCommand(v interface{}) (string, bool) {
	s, ok := v.(string)
	return s, ok
}
