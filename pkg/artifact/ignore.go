package artifact

import (
	"os"
	"path/filepath"

	gitignore "github.com/sabhiram/go-gitignore"

	"github.com/replicate/buildahutil/pkg/bherrors"
)

// loadPatterns compiles a stage's ignore/ignore_file entries into a
// matcher. A nil matcher (both inputs empty) means "archive everything",
// matching spec.md's stated absence behavior.
func loadPatterns(projectDir string, inline []string, ignoreFile string) (*gitignore.GitIgnore, error) {
	if len(inline) == 0 && ignoreFile == "" {
		return nil, nil
	}
	if ignoreFile != "" {
		path := ignoreFile
		if !filepath.IsAbs(path) {
			path = filepath.Join(projectDir, ignoreFile)
		}
		if _, err := os.Stat(path); err != nil {
			return nil, bherrors.Config("ignore_file %s: %s", ignoreFile, err)
		}
		m, err := gitignore.CompileIgnoreFileAndLines(path, inline...)
		if err != nil {
			return nil, bherrors.Config("failed to compile ignore_file %s: %s", ignoreFile, err)
		}
		return m, nil
	}
	return gitignore.CompileIgnoreLines(inline...), nil
}

// listFiles walks dir (relative to mountPoint) and returns every regular
// file's path relative to mountPoint that the matcher does not exclude.
// A nil matcher matches nothing, in which case the caller should use the
// plain directory form instead of calling listFiles at all.
func listFiles(mountPoint, dir string, matcher *gitignore.GitIgnore) ([]string, error) {
	abs := filepath.Join(mountPoint, dir)
	out := []string{}
	err := filepath.Walk(abs, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(mountPoint, path)
		if err != nil {
			return err
		}
		if matcher != nil && matcher.MatchesPath(rel) {
			return nil
		}
		out = append(out, rel)
		return nil
	})
	if err != nil {
		return nil, bherrors.Artifact("", "", "failed to walk %s: %s", abs, err)
	}
	return out, nil
}
