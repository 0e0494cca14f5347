package resman

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/seastack/bosun/pkg/types"
)

// StaticTopology synthesizes n uniform virtual nodes for in-process
// operation with the loopback driver.
func StaticTopology(n int) *types.ClusterTopology {
	topo := &types.ClusterTopology{CapturedAt: time.Now()}
	for i := 0; i < n; i++ {
		topo.Nodes = append(topo.Nodes, &types.Node{
			ID:       fmt.Sprintf("node-%d", i),
			Hostname: fmt.Sprintf("node-%d.local", i),
			Networks: []string{"default"},
			Resources: &types.NodeResources{
				CPUCores: 16,
				MemoryMB: 65536,
				DiskMB:   1048576,
			},
			PortRange: types.PortRange{Begin: 20000, End: 29999},
		})
	}
	return topo
}

type topologyDoc struct {
	Nodes []struct {
		ID         string            `yaml:"id"`
		Hostname   string            `yaml:"hostname"`
		Attributes map[string]string `yaml:"attributes"`
		Networks   []string          `yaml:"networks"`
		CPUs       float64           `yaml:"cpus"`
		MemoryMB   int64             `yaml:"memory"`
		DiskMB     int64             `yaml:"disk"`
		Ports      struct {
			Begin int `yaml:"begin"`
			End   int `yaml:"end"`
		} `yaml:"ports"`
	} `yaml:"nodes"`
}

// LoadTopology reads a cluster topology document from a YAML file.
func LoadTopology(path string) (*types.ClusterTopology, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var doc topologyDoc
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("parsing topology %s: %w", path, err)
	}
	if len(doc.Nodes) == 0 {
		return nil, fmt.Errorf("topology %s declares no nodes", path)
	}

	topo := &types.ClusterTopology{CapturedAt: time.Now()}
	for _, n := range doc.Nodes {
		if n.ID == "" {
			return nil, fmt.Errorf("topology %s: node without an id", path)
		}
		hostname := n.Hostname
		if hostname == "" {
			hostname = n.ID
		}
		ports := types.PortRange{Begin: n.Ports.Begin, End: n.Ports.End}
		if ports.Begin == 0 {
			ports = types.PortRange{Begin: 20000, End: 29999}
		}
		topo.Nodes = append(topo.Nodes, &types.Node{
			ID:         n.ID,
			Hostname:   hostname,
			Attributes: n.Attributes,
			Networks:   n.Networks,
			Resources: &types.NodeResources{
				CPUCores: n.CPUs,
				MemoryMB: n.MemoryMB,
				DiskMB:   n.DiskMB,
			},
			PortRange: ports,
		})
	}
	return topo, nil
}
