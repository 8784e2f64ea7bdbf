package artifact

import (
	"context"
	"os"
	"regexp"

	"github.com/replicate/buildahutil/pkg/bherrors"
	"github.com/replicate/buildahutil/pkg/builder"
	"github.com/replicate/buildahutil/pkg/process"
	"github.com/replicate/buildahutil/pkg/stage"
)

// userSpecRe parses the "name[=uid][:group[=gid]]" grammar spec.md §4.G
// documents for a stage's user key.
var userSpecRe = regexp.MustCompile(`^([^=:]+)(?:=(\d+))?(?::([^=]+)(?:=(\d+))?)?$`)

type userSpec struct {
	name  string
	uid   string
	group string
	gid   string
}

func parseUserSpec(spec string) (userSpec, error) {
	m := userSpecRe.FindStringSubmatch(spec)
	if m == nil {
		return userSpec{}, bherrors.Config("invalid user spec %q", spec)
	}
	return userSpec{name: m[1], uid: m[2], group: m[3], gid: m[4]}, nil
}

// Consume implements spec.md §4.G's Consume steps: optionally pre-create
// a user/group inside the container's filesystem, then import every
// consumed stage's archive.
func Consume(ctx context.Context, h *stage.Handle, basename string, remote RemoteConfig) error {
	mountPoint, ok := h.MountPoint()
	if !ok {
		return bherrors.CallContract("consume called for stage %q outside the mount namespace", h.GetName())
	}

	userRaw, present, err := h.GetUser()
	if err != nil {
		return err
	}
	if present {
		userHome, _, err := h.GetUserHome()
		if err != nil {
			return err
		}
		if err := createUser(mountPoint, userRaw, userHome); err != nil {
			return err
		}
	}

	names, err := h.GetConsumes()
	if err != nil {
		return err
	}

	for _, name := range names {
		archive := ArchivePath(basename, name)
		if _, err := os.Stat(archive); err != nil {
			if !os.IsNotExist(err) {
				return bherrors.Artifact(h.GetName(), archive, "failed to stat archive: %s", err)
			}
			if !remote.Enabled {
				return bherrors.Artifact(h.GetName(), archive, "archive for consumed stage %q is missing", name)
			}
			cache, err := NewRemoteCache(ctx, remote.Bucket, remote.Prefix, remote.Region)
			if err != nil {
				return err
			}
			found, err := cache.Download(ctx, archive, archive)
			if err != nil {
				return err
			}
			if !found {
				return bherrors.Artifact(h.GetName(), archive, "archive for consumed stage %q is missing locally and in the remote cache", name)
			}
		}

		container := builder.Container{Name: h.ContainerName()}
		if err := container.Add(map[string]interface{}{}, archive, "/"); err != nil {
			return err
		}
	}

	return nil
}

func createUser(mountPoint, spec, home string) error {
	u, err := parseUserSpec(spec)
	if err != nil {
		return err
	}

	chroot, err := process.Locate("chroot")
	if err != nil {
		return err
	}

	if u.group != "" {
		groupadd, err := process.Locate("groupadd")
		if err != nil {
			return err
		}
		argv := []string{chroot, mountPoint, groupadd}
		if u.gid != "" {
			argv = append(argv, "-g", u.gid)
		}
		argv = append(argv, u.group)
		if _, err := process.Run(process.Options{Name: "groupadd"}, argv); err != nil {
			return err
		}
	}

	useradd, err := process.Locate("useradd")
	if err != nil {
		return err
	}
	argv := []string{chroot, mountPoint, useradd}
	if u.uid != "" {
		argv = append(argv, "-u", u.uid)
	}
	if u.group != "" {
		argv = append(argv, "-g", u.group)
	}
	if home != "" {
		argv = append(argv, "-d", home, "-m")
	}
	argv = append(argv, u.name)

	_, err = process.Run(process.Options{Name: "useradd"}, argv)
	return err
}
