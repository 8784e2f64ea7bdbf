// Package dag computes a stage execution order from each stage's
// dependency set (consumes ∪ depends), via Kahn's algorithm with
// lexicographic tie-breaking for determinism.
package dag

import (
	"sort"

	"github.com/replicate/buildahutil/pkg/bherrors"
)

// Plan returns an order over nodes such that every entry of deps[n]
// precedes n, breaking ties between simultaneously-available nodes
// lexicographically. deps[n] lists names that must precede n; every name
// it contains must also appear in nodes.
//
// It also returns an index mapping each node to its position in order,
// for later sorting of anything keyed by stage name.
func Plan(nodes []string, deps map[string][]string) (order []string, index map[string]int, err error) {
	nodeSet := make(map[string]struct{}, len(nodes))
	for _, n := range nodes {
		nodeSet[n] = struct{}{}
	}
	for n, ds := range deps {
		if _, ok := nodeSet[n]; !ok {
			continue
		}
		for _, d := range ds {
			if _, ok := nodeSet[d]; !ok {
				return nil, nil, bherrors.Config("stage %q depends on unknown stage %q", n, d)
			}
		}
	}

	indegree := make(map[string]int, len(nodes))
	successors := make(map[string][]string, len(nodes))
	for _, n := range nodes {
		indegree[n] = 0
	}
	for _, n := range nodes {
		for _, d := range deps[n] {
			indegree[n]++
			successors[d] = append(successors[d], n)
		}
	}

	available := make([]string, 0, len(nodes))
	for _, n := range nodes {
		if indegree[n] == 0 {
			available = append(available, n)
		}
	}
	sort.Strings(available)

	order = make([]string, 0, len(nodes))
	for len(available) > 0 {
		next := available[0]
		available = available[1:]
		order = append(order, next)

		newlyAvailable := []string{}
		succs := successors[next]
		sort.Strings(succs)
		for _, s := range succs {
			indegree[s]--
			if indegree[s] == 0 {
				newlyAvailable = append(newlyAvailable, s)
			}
		}
		if len(newlyAvailable) > 0 {
			available = append(available, newlyAvailable...)
			sort.Strings(available)
		}
	}

	if len(order) != len(nodes) {
		remaining := make([]string, 0, len(nodes)-len(order))
		for _, n := range nodes {
			if indegree[n] > 0 {
				remaining = append(remaining, n)
			}
		}
		sort.Strings(remaining)
		return nil, nil, bherrors.Config("dependency cycle involving %v", remaining)
	}

	index = make(map[string]int, len(order))
	for i, n := range order {
		index[n] = i
	}
	return order, index, nil
}
