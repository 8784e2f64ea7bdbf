package dag

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPlanOrdersByDependency(t *testing.T) {
	nodes := []string{"c", "a", "b"}
	deps := map[string][]string{
		"b": {"a"},
		"c": {"b"},
	}
	order, index, err := Plan(nodes, deps)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c"}, order)
	assert.Equal(t, 0, index["a"])
	assert.Equal(t, 1, index["b"])
	assert.Equal(t, 2, index["c"])
}

func TestPlanBreaksTiesLexicographically(t *testing.T) {
	nodes := []string{"z", "y", "x"}
	order, _, err := Plan(nodes, map[string][]string{})
	require.NoError(t, err)
	assert.Equal(t, []string{"x", "y", "z"}, order)
}

func TestPlanDetectsCycle(t *testing.T) {
	nodes := []string{"a", "b"}
	deps := map[string][]string{
		"a": {"b"},
		"b": {"a"},
	}
	_, _, err := Plan(nodes, deps)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "dependency cycle involving")
}

func TestPlanRejectsUnknownDependency(t *testing.T) {
	nodes := []string{"a"}
	deps := map[string][]string{"a": {"ghost"}}
	_, _, err := Plan(nodes, deps)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ghost")
}

func TestPlanDiamondDependency(t *testing.T) {
	nodes := []string{"d", "b", "c", "a"}
	deps := map[string][]string{
		"b": {"a"},
		"c": {"a"},
		"d": {"b", "c"},
	}
	order, _, err := Plan(nodes, deps)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c", "d"}, order)
}
