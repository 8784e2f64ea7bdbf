// Package orchestrator implements the outer/inner dispatch spec.md §4.H
// describes: the outer process sequences stages per pkg/dag's plan and
// re-execs itself into each stage's mount namespace; the inner process
// (--internal=<stage>) runs that stage's func_deps, consume, func_exec,
// and produce steps, in that order, and exits.
package orchestrator

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/replicate/buildahutil/pkg/artifact"
	"github.com/replicate/buildahutil/pkg/bherrors"
	"github.com/replicate/buildahutil/pkg/builder"
	"github.com/replicate/buildahutil/pkg/buildconfig"
	"github.com/replicate/buildahutil/pkg/console"
	"github.com/replicate/buildahutil/pkg/dag"
	"github.com/replicate/buildahutil/pkg/metrics"
	"github.com/replicate/buildahutil/pkg/process"
	"github.com/replicate/buildahutil/pkg/selfexe"
	"github.com/replicate/buildahutil/pkg/stage"
)

// mountEnvName is the environment variable the outer process sets (via
// builder unshare --mount) to hand the container's mount path to the
// inner process. Fixed, not derived from basename, per spec.md §6.
const mountEnvName = "BUILDAHUTIL_MOUNT"

// Execute runs the driver end to end and returns the process exit code.
// init is the embedding program's initialization map (stage definitions,
// their func_exec/func_deps callbacks, added_opts, cache settings).
func Execute(init map[string]interface{}) int {
	// label prefixes the failure diagnostic with the configured basename,
	// or "buildahutil" when the configuration cannot supply one.
	label := func() string {
		if v, err := buildconfig.GetConfig("basename"); err == nil {
			if s, ok := v.(string); ok && s != "" {
				return s
			}
		}
		return "buildahutil"
	}
	cmd, err := newRootCommand(init)
	if err != nil {
		console.Fatal("%s failed: %s", label(), err)
		return 1
	}
	if err := cmd.Execute(); err != nil {
		console.Fatal("%s failed: %s", label(), err)
		return 1
	}
	return 0
}

func dispatch(ctx context.Context, internalStage string) error {
	basename, err := requireBasename()
	if err != nil {
		return err
	}

	if internalStage != "" {
		return runInner(ctx, basename, internalStage)
	}
	return runOuter(ctx, basename)
}

func requireBasename() (string, error) {
	v, err := buildconfig.GetConfig("basename")
	if err != nil {
		return "", err
	}
	s, _ := v.(string)
	if s == "" {
		return "", bherrors.Config("configuration is missing required key %q", "basename")
	}
	return s, nil
}

// remoteConfig reads the optional top-level cache key; absence or a
// driver other than "s3" disables the remote mirror entirely.
func remoteConfig() (artifact.RemoteConfig, error) {
	raw, err := buildconfig.GetConfig("cache")
	if err != nil {
		return artifact.RemoteConfig{}, err
	}
	if raw == nil {
		return artifact.RemoteConfig{}, nil
	}
	m, ok := raw.(map[string]interface{})
	if !ok {
		return artifact.RemoteConfig{}, bherrors.Config("%q must be a mapping", "cache")
	}
	driver, _ := m["driver"].(string)
	if driver != "s3" {
		return artifact.RemoteConfig{}, nil
	}
	bucket, _ := m["bucket"].(string)
	prefix, _ := m["prefix"].(string)
	region, _ := m["region"].(string)
	return artifact.RemoteConfig{Enabled: true, Bucket: bucket, Prefix: prefix, Region: region}, nil
}

// runInner implements the stage body spec.md §4.G/§4.H assign to the
// process running inside the stage's mount namespace.
func runInner(ctx context.Context, basename, name string) error {
	h, err := stage.New(name)
	if err != nil {
		return err
	}

	mountPoint := os.Getenv(mountEnvName)
	if mountPoint == "" {
		return bherrors.CallContract("inner mode requires %s to be set", mountEnvName)
	}
	h.SetMountPoint(mountPoint)

	remote, err := remoteConfig()
	if err != nil {
		return err
	}

	if fn, ok, err := h.GetFuncDeps(); err != nil {
		return err
	} else if ok {
		if err := fn(h); err != nil {
			return err
		}
	}

	if err := artifact.Consume(ctx, h, basename, remote); err != nil {
		return err
	}

	fn, err := h.GetFuncExec()
	if err != nil {
		return err
	}
	if err := fn(h); err != nil {
		return err
	}

	projectDir, err := os.Getwd()
	if err != nil {
		return bherrors.Config("failed to resolve working directory: %s", err)
	}
	return artifact.Produce(ctx, h, basename, projectDir, remote)
}

// buildPlan computes the stage execution order from every stage's
// consumes ∪ depends relation, per spec.md §4.F.
func buildPlan() ([]string, error) {
	raw, err := buildconfig.GetConfig("stages")
	if err != nil {
		return nil, err
	}
	stagesMap, ok := raw.(map[string]interface{})
	if !ok {
		return nil, bherrors.Config("%q must be a mapping", "stages")
	}

	nodes := make([]string, 0, len(stagesMap))
	deps := make(map[string][]string, len(stagesMap))
	for name := range stagesMap {
		h, err := stage.New(name)
		if err != nil {
			return nil, err
		}
		consumes, err := h.GetConsumes()
		if err != nil {
			return nil, err
		}
		depends, err := h.GetDepends()
		if err != nil {
			return nil, err
		}
		nodes = append(nodes, name)
		deps[name] = append(append([]string{}, consumes...), depends...)
	}

	order, _, err := dag.Plan(nodes, deps)
	return order, err
}

// runOuter sequences every stage per buildPlan's order, managing the
// per-invocation log directory, progress display, and metrics dump.
func runOuter(ctx context.Context, basename string) error {
	order, err := buildPlan()
	if err != nil {
		return err
	}

	timestampStr, err := buildconfig.TimestampStr()
	if err != nil {
		return err
	}
	logRoot := fmt.Sprintf("log-%s", basename)
	logDir := filepath.Join(logRoot, timestampStr)
	if err := os.MkdirAll(logDir, 0o755); err != nil {
		return bherrors.Config("failed to create %s: %s", logDir, err)
	}

	currentLink := filepath.Join(logRoot, "current")
	_ = os.Remove(currentLink)
	if err := os.Symlink(timestampStr, currentLink); err != nil {
		console.Warn("failed to update %s symlink: %s", currentLink, err)
	}

	m := metrics.New()
	bars, showProgress := newProgress(order)

	idx, err := artifact.OpenFreshnessIndex(logRoot)
	if err != nil {
		console.Warn("failed to open freshness index: %s", err)
	} else {
		defer idx.Close()
	}

	stopSignals := installSignalHandler()
	defer stopSignals()

	var firstErr error
	for _, name := range order {
		outcome, err := runStageOuter(ctx, basename, name, logDir, m, idx)
		if showProgress {
			bars.finished(name, outcome)
		}
		if err != nil {
			firstErr = err
			break
		}
	}

	if showProgress {
		bars.wait()
	}

	if err := m.Dump(filepath.Join(logDir, "metrics.prom")); err != nil {
		console.Warn("failed to write %s: %s", filepath.Join(logDir, "metrics.prom"), err)
	}

	return firstErr
}

// runStageOuter implements spec.md §4.H's per-stage dispatch: freshness
// gate, stale-container removal, container creation, re-exec into the
// namespace, and commit/tag on return, all under scoped stdout/stderr
// redirection into this stage's log file. idx is the per-invocation
// freshness diagnostic index; it may be nil if opening it failed, in
// which case the gate still runs off the live filesystem comparison
// alone and simply records nothing.
func runStageOuter(ctx context.Context, basename, name, logDir string, m *metrics.Metrics, idx *artifact.FreshnessIndex) (metrics.Outcome, error) {
	h, err := stage.New(name)
	if err != nil {
		return metrics.OutcomeFailed, err
	}

	logFile, err := os.Create(filepath.Join(logDir, name))
	if err != nil {
		return metrics.OutcomeFailed, bherrors.Config("failed to create log file for stage %q: %s", name, err)
	}
	defer logFile.Close()

	origStdout, origStderr := os.Stdout, os.Stderr
	os.Stdout, os.Stderr = logFile, logFile
	restoreConsole := console.Redirect(logFile)
	defer func() {
		os.Stdout, os.Stderr = origStdout, origStderr
		restoreConsole()
	}()

	start := time.Now()

	produces, err := h.GetProduces()
	if err != nil {
		return metrics.OutcomeFailed, err
	}
	if len(produces) > 0 {
		archive := artifact.ArchivePath(basename, name)
		configFiles, err := buildconfig.ConfigFiles()
		if err != nil {
			return metrics.OutcomeFailed, err
		}
		fresh, err := artifact.IsFresh(archive, configFiles)
		if err != nil {
			return metrics.OutcomeFailed, err
		}

		if idx != nil {
			if !fresh {
				if prev, found, explainErr := idx.Explain(name); explainErr != nil {
					console.Debug("failed to explain freshness index for %q: %s", name, explainErr)
				} else if found {
					console.Debug("%s: stale; previous archive mtime %s", name, prev.ArchiveModTime)
				}
			}
			if archiveInfo, statErr := os.Stat(archive); statErr == nil {
				configModTimes, cmErr := artifact.ConfigModTimes(configFiles)
				if cmErr != nil {
					console.Debug("failed to resolve config mtimes for %q: %s", name, cmErr)
				} else if recErr := idx.Record(name, archiveInfo.ModTime(), configModTimes); recErr != nil {
					console.Debug("failed to record freshness index for %q: %s", name, recErr)
				}
			}
		}

		if fresh {
			console.Info("%s: up to date", name)
			m.RecordStage(name, metrics.OutcomeSkipped, 0)
			return metrics.OutcomeSkipped, nil
		}
	}

	// Best-effort: a stage's container from a previous, interrupted run
	// may not exist at all, which is not itself a failure.
	if err := builder.Rm(map[string]interface{}{}, h.ContainerName()); err != nil {
		console.Debug("rm of stale container %q: %s", h.ContainerName(), err)
	}

	from, err := h.GetFrom()
	if err != nil {
		return metrics.OutcomeFailed, err
	}
	if _, err := builder.From(map[string]interface{}{"name": h.ContainerName()}, from); err != nil {
		m.RecordStage(name, metrics.OutcomeFailed, time.Since(start).Seconds())
		return metrics.OutcomeFailed, err
	}

	selfPath, err := selfexe.Path()
	if err != nil {
		return metrics.OutcomeFailed, err
	}
	debugLevel, err := buildconfig.GetDebug()
	if err != nil {
		return metrics.OutcomeFailed, err
	}
	innerArgv := []string{selfPath, "--internal=" + name}
	if debugLevel > 0 {
		innerArgv = append(innerArgv, fmt.Sprintf("--debug=%d", debugLevel))
	}

	unshareParams := map[string]interface{}{
		"container": h.ContainerName(),
		"envname":   mountEnvName,
	}
	if err := builder.Unshare(unshareParams, innerArgv...); err != nil {
		m.RecordStage(name, metrics.OutcomeFailed, time.Since(start).Seconds())
		return metrics.OutcomeFailed, err
	}

	if len(produces) > 0 {
		if info, err := os.Stat(artifact.ArchivePath(basename, name)); err == nil {
			m.RecordArchiveSize(name, info.Size())
		}
	}

	commitNames, present, err := h.GetCommit()
	if err != nil {
		return metrics.OutcomeFailed, err
	}
	if present && len(commitNames) > 0 {
		container := builder.Container{Name: h.ContainerName()}
		if _, err := container.Commit(map[string]interface{}{}, commitNames[0]); err != nil {
			m.RecordStage(name, metrics.OutcomeFailed, time.Since(start).Seconds())
			return metrics.OutcomeFailed, err
		}
		if len(commitNames) > 1 {
			if err := builder.Tag(map[string]interface{}{"image": commitNames[0]}, commitNames[1:]...); err != nil {
				m.RecordStage(name, metrics.OutcomeFailed, time.Since(start).Seconds())
				return metrics.OutcomeFailed, err
			}
		}
	}

	m.RecordStage(name, metrics.OutcomeBuilt, time.Since(start).Seconds())
	return metrics.OutcomeBuilt, nil
}

// installSignalHandler arranges for SIGINT/SIGTERM to kill every
// subprocess this invocation has spawned before the process itself
// exits with the conventional 128+signal status, so a re-exec'd inner
// process or an in-flight archiver is never orphaned under its now-dead
// parent.
func installSignalHandler() (stop func()) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	done := make(chan struct{})
	go func() {
		select {
		case sig := <-sigCh:
			process.KillActive()
			code := 130
			if sig == syscall.SIGTERM {
				code = 143
			}
			os.Exit(code)
		case <-done:
		}
	}()

	return func() {
		signal.Stop(sigCh)
		close(done)
	}
}
