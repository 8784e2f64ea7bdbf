package artifact

import (
	"os"
	"time"

	"github.com/replicate/buildahutil/pkg/selfexe"
)

// ArchivePath returns the archive path for stage under basename, in the
// invocation's current working directory.
func ArchivePath(basename, stageName string) string {
	return basename + "_" + stageName + ".tar.bz2"
}

// IsFresh implements the outer freshness gate of spec.md §4.G: the
// archive at archivePath is fresh iff it exists and is newer than both
// the running driver executable and every file in configFiles. A missing
// archive is never fresh (the stage always runs to create it).
func IsFresh(archivePath string, configFiles []string) (bool, error) {
	archiveInfo, err := os.Stat(archivePath)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}

	exePath, err := selfexe.Path()
	if err != nil {
		return false, err
	}
	exeInfo, err := os.Stat(exePath)
	if err != nil {
		return false, err
	}
	if !archiveInfo.ModTime().After(exeInfo.ModTime()) {
		return false, nil
	}

	for _, f := range configFiles {
		info, err := os.Stat(f)
		if err != nil {
			return false, err
		}
		if !archiveInfo.ModTime().After(info.ModTime()) {
			return false, nil
		}
	}

	return true, nil
}

// ConfigModTimes resolves configFiles' mtimes for recording in the
// freshness index.
func ConfigModTimes(configFiles []string) (map[string]time.Time, error) {
	out := make(map[string]time.Time, len(configFiles))
	for _, f := range configFiles {
		info, err := os.Stat(f)
		if err != nil {
			return nil, err
		}
		out[f] = info.ModTime()
	}
	return out, nil
}
