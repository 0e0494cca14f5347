package placement

import (
	"sort"

	"github.com/seastack/bosun/pkg/types"
)

// Candidates filters the topology snapshot down to the locations that
// satisfy the pod group's placement rule and ranks them deterministically:
// fewest active instances of the same group first, then lowest resource
// fragmentation, then node ID as the final tie-break.
//
// An empty result is not an error. It means "no feasible location right
// now"; callers retry when the topology changes.
func Candidates(group *types.PodGroupSpec, topo *types.ClusterTopology, existing []*types.PodInstance) []*types.Node {
	if topo == nil || len(topo.Nodes) == 0 {
		return nil
	}

	perNode := countByNode(group.Name, existing)

	var feasible []*types.Node
	for _, node := range topo.Nodes {
		if satisfies(group, node, perNode[node.ID]) {
			feasible = append(feasible, node)
		}
	}

	sort.SliceStable(feasible, func(i, j int) bool {
		a, b := feasible[i], feasible[j]
		if perNode[a.ID] != perNode[b.ID] {
			return perNode[a.ID] < perNode[b.ID]
		}
		fa, fb := fragmentation(a), fragmentation(b)
		if fa != fb {
			return fa < fb
		}
		return a.ID < b.ID
	})

	return feasible
}

// satisfies evaluates the placement rule for one node.
func satisfies(group *types.PodGroupSpec, node *types.Node, groupInstances int) bool {
	rule := group.Placement
	if rule == nil {
		return true
	}
	if rule.MaxPerNode > 0 && groupInstances >= rule.MaxPerNode {
		return false
	}
	for key, want := range rule.Attributes {
		if node.Attributes[key] != want {
			return false
		}
	}
	if rule.Network != "" && !node.HasNetwork(rule.Network) {
		return false
	}
	return true
}

// countByNode counts active instances of the group per node.
func countByNode(group string, instances []*types.PodInstance) map[string]int {
	counts := make(map[string]int)
	for _, inst := range instances {
		if inst.Group == group && inst.State.Active() {
			counts[inst.NodeID]++
		}
	}
	return counts
}

func fragmentation(node *types.Node) float64 {
	if node.Resources == nil {
		return 0
	}
	return node.Resources.Fragmentation()
}
