package artifact

import (
	"context"
	"os"
	"strings"

	"github.com/replicate/buildahutil/pkg/bherrors"
	"github.com/replicate/buildahutil/pkg/process"
	"github.com/replicate/buildahutil/pkg/stage"
)

// Program is the external archiver's executable name.
const Program = "tar"

// RemoteConfig carries the optional cache.driver=s3 settings a Produce
// call mirrors its finished archive to.
type RemoteConfig struct {
	Enabled bool
	Bucket  string
	Prefix  string
	Region  string
}

// Produce implements spec.md §4.G's Produce steps, plus the ignore
// pattern filtering and S3 mirroring this repository's expanded spec
// adds. It is a no-op when the stage declares no produces entries.
func Produce(ctx context.Context, h *stage.Handle, basename, projectDir string, remote RemoteConfig) error {
	dirs, err := h.GetProduces()
	if err != nil {
		return err
	}
	if len(dirs) == 0 {
		return nil
	}

	mountPoint, ok := h.MountPoint()
	if !ok {
		return bherrors.CallContract("produce called for stage %q outside the mount namespace", h.GetName())
	}

	archive := ArchivePath(basename, h.GetName())
	if _, err := os.Stat(archive); err == nil {
		if err := os.Rename(archive, archive+".bak"); err != nil {
			return bherrors.Artifact(h.GetName(), archive, "failed to back up existing archive: %s", err)
		}
	}

	inline, err := h.GetIgnore()
	if err != nil {
		return err
	}
	ignoreFile, _, err := h.GetIgnoreFile()
	if err != nil {
		return err
	}
	matcher, err := loadPatterns(projectDir, inline, ignoreFile)
	if err != nil {
		return err
	}

	var argv []string
	var manifestPath string
	if matcher != nil {
		files := []string{}
		for _, dir := range dirs {
			rel := strings.TrimPrefix(dir, "/")
			found, err := listFiles(mountPoint, rel, matcher)
			if err != nil {
				return err
			}
			files = append(files, found...)
		}
		manifestPath = archive + ".files"
		if err := os.WriteFile(manifestPath, []byte(strings.Join(files, "\n")+"\n"), 0o644); err != nil {
			return bherrors.Artifact(h.GetName(), archive, "failed to write archive manifest: %s", err)
		}
		defer os.Remove(manifestPath)
		argv = []string{
			"--create", "--bzip2", "--preserve-permissions", "--sparse",
			"--file=" + archive, "--directory=" + mountPoint, "--files-from=" + manifestPath,
		}
	} else {
		stripped := make([]string, len(dirs))
		for i, d := range dirs {
			stripped[i] = strings.TrimPrefix(d, "/")
		}
		argv = append([]string{
			"--create", "--bzip2", "--preserve-permissions", "--sparse",
			"--file=" + archive, "--directory=" + mountPoint,
		}, stripped...)
	}

	path, err := process.Locate(Program)
	if err != nil {
		return err
	}
	full := append([]string{path}, argv...)

	_, err = process.Run(process.Options{
		Name: Program,
		Nonzero: func(code int) error {
			// Exit status 1 is tar's overlayfs-related false positive for
			// "file changed as we read it"; anything above is fatal.
			if code <= 1 {
				return nil
			}
			return bherrors.Artifact(h.GetName(), archive, "%s exited with status %d", Program, code)
		},
	}, full)
	if err != nil {
		return err
	}

	if remote.Enabled {
		cache, err := NewRemoteCache(ctx, remote.Bucket, remote.Prefix, remote.Region)
		if err != nil {
			return err
		}
		if err := cache.Upload(ctx, archive, archive); err != nil {
			return err
		}
	}

	return nil
}
