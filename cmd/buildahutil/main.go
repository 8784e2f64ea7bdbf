// Command buildahutil is the compiled entry point for the driver pkg/orchestrator
// implements. It ships with no stage definitions of its own: an
// embedding project supplies those, along with any func_exec/func_deps
// callbacks and added_opts, by building its own thin main package that
// calls orchestrator.Execute with its own initialization map in place of
// nil below.
package main

import (
	"os"

	"github.com/replicate/buildahutil/pkg/orchestrator"
)

func main() {
	os.Exit(orchestrator.Execute(nil))
}
