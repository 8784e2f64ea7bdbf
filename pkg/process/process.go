// Package process executes external commands (the builder, the archiver,
// vendor-neutral shell tools) with output capture/suppression, an
// exit-code policy driven by caller-supplied callbacks, and a secured,
// PATH-free executable search.
//
// The driver runs unprivileged but shells out to security-sensitive
// tools, so Locate never consults PATH: a writable directory ahead of
// the real binary in PATH could otherwise substitute an attacker's
// binary for "buildah" or "tar".
package process

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"
	"syscall"

	goerrors "github.com/go-errors/errors"
	"github.com/jesseduffield/kill"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"

	"github.com/replicate/buildahutil/pkg/bherrors"
	"github.com/replicate/buildahutil/pkg/console"
)

// searchPath is the fixed, secure list of directories consulted when
// $<NAME>_PROG is unset. PATH is never consulted.
var searchPath = []string{"/usr/bin", "/sbin", "/usr/sbin", "/bin"}

var (
	locateMu    sync.Mutex
	locateCache = map[string]string{}
)

// Locate resolves a program name to an absolute path via
// $<NAME>_PROG (uppercased, each non-alnum character replaced by '_') if it is set
// and executable, else the first executable match in searchPath. The
// result is cached process-wide.
func Locate(name string) (string, error) {
	locateMu.Lock()
	if p, ok := locateCache[name]; ok {
		locateMu.Unlock()
		return p, nil
	}
	locateMu.Unlock()

	envName := envVarName(name)
	if override := os.Getenv(envName); override != "" {
		if isExecutable(override) {
			locateMu.Lock()
			locateCache[name] = override
			locateMu.Unlock()
			return override, nil
		}
		return "", bherrors.Subprocess(name, -1, false,
			"%s=%q is set but is not an executable file", envName, override)
	}

	for _, dir := range searchPath {
		candidate := dir + "/" + name
		if isExecutable(candidate) {
			locateMu.Lock()
			locateCache[name] = candidate
			locateMu.Unlock()
			return candidate, nil
		}
	}

	return "", bherrors.Subprocess(name, -1, false,
		"%q not found in %s (PATH is not consulted); set %s to override", name, strings.Join(searchPath, ", "), envName)
}

func envVarName(name string) string {
	var b strings.Builder
	for _, r := range strings.ToUpper(name) {
		if (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		} else {
			b.WriteRune('_')
		}
	}
	b.WriteString("_PROG")
	return b.String()
}

// isExecutable asks the kernel directly (via unix.Access) rather than
// inspecting os.Stat's mode bits, since those can disagree with the
// effective permission once ACLs or capabilities are in play.
func isExecutable(path string) bool {
	fi, err := os.Stat(path)
	if err != nil || fi.IsDir() {
		return false
	}
	return unix.Access(path, unix.X_OK) == nil
}

// Options controls a single invocation of Run.
type Options struct {
	// Name labels the command in diagnostics; defaults to argv[0].
	Name string
	// Dir is the working directory for the child; empty means inherit.
	Dir string
	// Env overrides the child's environment; nil means inherit os.Environ().
	Env []string
	Stdin          io.Reader
	Stdout         io.Writer
	Stderr         io.Writer
	CaptureOutput  bool
	SuppressOutput bool
	SuppressError  bool
	// SaveRetcode, if non-nil, receives the child's exit code (or -1 if
	// it died to a signal) regardless of the Nonzero/Zero policy below.
	SaveRetcode *int
	// Nonzero is invoked with the exit code when the child exits nonzero.
	// Its absence makes a nonzero exit a fatal SubprocessError.
	Nonzero func(code int) error
	// Zero is invoked when the child exits zero.
	Zero func() error
}

var (
	activeMu  sync.Mutex
	active    = map[int]*exec.Cmd{}
)

// KillActive force-terminates every process group currently spawned by
// Run. The orchestrator's SIGINT/SIGTERM handler calls this before
// exiting with status 130 or 143, so an interrupted outer run cannot leave a
// builder or archiver child running under the stage's now-dead parent.
func KillActive() {
	activeMu.Lock()
	cmds := make([]*exec.Cmd, 0, len(active))
	for _, c := range active {
		cmds = append(cmds, c)
	}
	activeMu.Unlock()

	for _, c := range cmds {
		if c.Process == nil {
			continue
		}
		if err := kill.Kill(c); err != nil {
			log.WithError(err).WithField("pid", c.Process.Pid).Debug("failed to kill process tree")
		}
	}
}

// Run executes argv as a direct process — never through a shell —
// inheriting the environment unless Options.Env overrides it, and blocks
// until it exits. When CaptureOutput is set the child's standard output
// is returned as capturedOutput.
func Run(opts Options, argv []string) (capturedOutput string, err error) {
	if len(argv) == 0 {
		return "", bherrors.CallContract("process.Run: empty argv")
	}

	name := opts.Name
	if name == "" {
		name = argv[0]
	}

	cmd := exec.Command(argv[0], argv[1:]...)
	cmd.Dir = opts.Dir
	cmd.Stdin = opts.Stdin
	if opts.Env != nil {
		cmd.Env = opts.Env
	}
	// New process group so the orchestrator can terminate the whole tree
	// (builder re-exec's this binary, which itself spawns the archiver)
	// on interrupt, instead of only the direct child.
	kill.PrepareForChildren(cmd)

	var outBuf bytes.Buffer
	stdout := opts.Stdout
	if stdout == nil {
		stdout = os.Stdout
	}
	stderr := opts.Stderr
	if stderr == nil {
		stderr = os.Stderr
	}

	switch {
	case opts.SuppressOutput:
		cmd.Stdout = io.Discard
	case opts.CaptureOutput:
		cmd.Stdout = &outBuf
	default:
		cmd.Stdout = stdout
	}
	if opts.SuppressError {
		cmd.Stderr = io.Discard
	} else {
		cmd.Stderr = stderr
	}

	log.WithFields(log.Fields{"name": name, "argv": cmd.Args}).Debug("exec")
	console.Debug("%s", "$ "+strings.Join(cmd.Args, " "))

	if startErr := cmd.Start(); startErr != nil {
		return "", bherrors.Subprocess(name, -1, false, "failed to start: %s", goerrors.Wrap(startErr, 1))
	}

	activeMu.Lock()
	active[cmd.Process.Pid] = cmd
	activeMu.Unlock()
	defer func() {
		activeMu.Lock()
		delete(active, cmd.Process.Pid)
		activeMu.Unlock()
	}()

	waitErr := cmd.Wait()

	code := 0
	signaled := false
	if waitErr != nil {
		if exitErr, ok := waitErr.(*exec.ExitError); ok {
			if status, ok := exitErr.Sys().(syscall.WaitStatus); ok && status.Signaled() {
				signaled = true
				code = -1
			} else {
				code = exitErr.ExitCode()
			}
		} else {
			return "", bherrors.Subprocess(name, -1, false, "%s", waitErr)
		}
	}

	if opts.SaveRetcode != nil {
		*opts.SaveRetcode = code
	}

	if opts.CaptureOutput {
		capturedOutput = outBuf.String()
	}

	if signaled {
		return capturedOutput, bherrors.Subprocess(name, code, true, "%s", waitErr)
	}

	if code != 0 {
		if opts.Nonzero != nil {
			if cbErr := opts.Nonzero(code); cbErr != nil {
				return capturedOutput, cbErr
			}
			return capturedOutput, nil
		}
		return capturedOutput, bherrors.Subprocess(name, code, false, "exited with status %d", code)
	}

	if opts.Zero != nil {
		if cbErr := opts.Zero(); cbErr != nil {
			return capturedOutput, cbErr
		}
	}

	return capturedOutput, nil
}

// MustFormat renders argv the way it would appear on a shell line, purely
// for diagnostics; it does not escape for actual shell execution since
// argv is never passed through a shell.
func MustFormat(argv []string) string {
	return fmt.Sprintf("%s", strings.Join(argv, " "))
}
