// Package bherrors defines the closed set of fatal error kinds the driver
// can raise. Every error that reaches the top-level boundary in
// pkg/orchestrator is one of these, so the boundary can format a single
// "<basename> failed: ..." diagnostic without inspecting arbitrary errors.
package bherrors

import "fmt"

// ConfigError covers a missing required field, wrong shape, a reference to
// an unknown stage, a dependency cycle, or a schema violation.
type ConfigError struct {
	Msg string
}

func (e *ConfigError) Error() string { return e.Msg }

func Config(format string, args ...interface{}) error {
	return &ConfigError{Msg: fmt.Sprintf(format, args...)}
}

// CallContractError covers a wrapper called with an unknown parameter, a
// scalar parameter given a sequence, or an exclusive parameter combined
// with others.
type CallContractError struct {
	Msg string
}

func (e *CallContractError) Error() string { return e.Msg }

func CallContract(format string, args ...interface{}) error {
	return &CallContractError{Msg: fmt.Sprintf(format, args...)}
}

// SubprocessError covers spawn failure, death by signal, or a nonzero exit
// with no caller-supplied nonzero callback.
type SubprocessError struct {
	Name     string
	ExitCode int
	Signaled bool
	Msg      string
}

func (e *SubprocessError) Error() string {
	if e.Signaled {
		return fmt.Sprintf("%s: died with signal: %s", e.Name, e.Msg)
	}
	return fmt.Sprintf("%s: exited %d: %s", e.Name, e.ExitCode, e.Msg)
}

func Subprocess(name string, exitCode int, signaled bool, format string, args ...interface{}) error {
	return &SubprocessError{Name: name, ExitCode: exitCode, Signaled: signaled, Msg: fmt.Sprintf(format, args...)}
}

// ArtifactError covers a missing input archive at consume time, or any
// other artifact-pipeline failure.
type ArtifactError struct {
	Stage   string
	Archive string
	Msg     string
}

func (e *ArtifactError) Error() string {
	return fmt.Sprintf("stage %q artifact %q: %s", e.Stage, e.Archive, e.Msg)
}

func Artifact(stage, archive, format string, args ...interface{}) error {
	return &ArtifactError{Stage: stage, Archive: archive, Msg: fmt.Sprintf(format, args...)}
}

// ExpansionError covers template expansion that did not converge within
// the iteration cap. Per the expanded spec's resolution of the source's
// open question, this is fatal rather than a silent partial expansion.
type ExpansionError struct {
	Value string
	Iters int
}

func (e *ExpansionError) Error() string {
	return fmt.Sprintf("template expansion of %q did not converge within %d passes", e.Value, e.Iters)
}

func Expansion(value string, iters int) error {
	return &ExpansionError{Value: value, Iters: iters}
}

// Kind returns a short tag identifying which of the five error kinds err
// is, or "" if err is not one of them.
func Kind(err error) string {
	switch err.(type) {
	case *ConfigError:
		return "config"
	case *CallContractError:
		return "call_contract"
	case *SubprocessError:
		return "subprocess"
	case *ArtifactError:
		return "artifact"
	case *ExpansionError:
		return "expansion"
	default:
		return ""
	}
}
