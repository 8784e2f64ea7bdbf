package orchestrator

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/replicate/buildahutil/pkg/metrics"
)

// TestFinishedUpdatesLabelValue exercises the real constructor: when run
// under a tty (or a harness that fakes one) newProgress returns bars whose
// labels finished must update per outcome. Under a plain pipe, as in most
// CI, isTerminal is false and there is nothing further to assert here.
func TestFinishedUpdatesLabelValue(t *testing.T) {
	b, ok := newProgress([]string{"build"})
	if !ok {
		t.Skip("newProgress requires a terminal; skipping under non-tty test runner")
	}
	require.NotNil(t, b)

	b.finished("build", metrics.OutcomeBuilt)
	label, ok := b.labels["build"]
	require.True(t, ok)
	assert.Equal(t, "built", label.Load())

	// Unknown stage names are ignored rather than panicking.
	b.finished("missing", metrics.OutcomeFailed)
}
