// Package selfexe resolves the running binary's own absolute path.
//
// The outer driver re-executes itself inside the builder's mount
// namespace (builder unshare -- <self> --internal=<stage> ...). argv[0]
// cannot be trusted for this: it may be a relative path, a symlink such
// as a PATH shim, or simply wrong once the process has been re-exec'd by
// another tool. os.Executable, resolved through any symlinks, is the
// portable way to get a path that still works after that re-exec.
package selfexe

import (
	"os"
	"path/filepath"
	"sync"
)

var (
	once sync.Once
	path string
	err  error
)

// Path returns the absolute, symlink-resolved path to the running binary.
// The result is cached for the life of the process.
func Path() (string, error) {
	once.Do(func() {
		var p string
		p, err = os.Executable()
		if err != nil {
			return
		}
		resolved, rerr := filepath.EvalSymlinks(p)
		if rerr != nil {
			// Not every platform/sandbox allows EvalSymlinks on the
			// executable path (e.g. a deleted-but-running binary); fall
			// back to the unresolved absolute path rather than fail
			// outright.
			path = p
			return
		}
		path = resolved
	})
	return path, err
}
