package instance

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/seastack/bosun/pkg/events"
	"github.com/seastack/bosun/pkg/metrics"
	"github.com/seastack/bosun/pkg/placement"
	"github.com/seastack/bosun/pkg/provision"
	"github.com/seastack/bosun/pkg/resman"
	"github.com/seastack/bosun/pkg/types"
)

// ProvisionOrdinal places and launches one ordinal slot of a pod group.
// Callers must hold the group lock. Placement and capacity failures are
// returned as their retryable sentinel errors; the caller decides whether
// that blocks a phase or waits for the next reconciliation tick.
func (m *Manager) ProvisionOrdinal(ctx context.Context, group string, ordinal int) (*types.PodInstance, error) {
	model := m.Model()
	groupSpec := model.PodGroup(group)
	if groupSpec == nil {
		return nil, fmt.Errorf("unknown pod group %q", group)
	}

	inst, err := m.slot(group, ordinal, model.Generation(), model.GroupHash(group))
	if err != nil {
		return nil, err
	}

	topo := m.topology()
	all, err := m.store.ListInstances()
	if err != nil {
		return nil, err
	}

	candidates := placement.Candidates(groupSpec, topo, all)
	if len(candidates) == 0 {
		metrics.PlacementBlockedTotal.WithLabelValues(group).Inc()
		return nil, fmt.Errorf("%w: pod group %s instance %s: no feasible location in %d-node topology",
			types.ErrPlacementUnsatisfiable, group, inst.ID, len(topo.Nodes))
	}

	peerEnv := m.peerEnv(all, topo)

	// Walk candidates in rank order until one can carry the reservation.
	var lastErr error
	for _, node := range candidates {
		launches, ports, provErr := m.provisionTasks(groupSpec, inst, node, all, peerEnv)
		if provErr != nil {
			if errors.Is(provErr, types.ErrResourceInsufficient) {
				lastErr = provErr
				continue
			}
			return nil, provErr
		}

		inst.NodeID = node.ID
		inst.Ports = ports
		inst.State = types.InstanceStateProvisioning
		inst.Readiness = types.ReadinessUnknown
		inst.Error = ""
		if len(launches) > 0 {
			inst.LaunchID = launches[0].ID
			inst.LaunchIDs = make([]string, 0, len(launches))
			for _, launch := range launches {
				inst.LaunchIDs = append(inst.LaunchIDs, launch.ID)
			}
			if launches[0].Volume != nil {
				inst.VolumeID = launches[0].Volume.ID
			}
		}
		if err := m.putInstance(inst); err != nil {
			return nil, err
		}

		if err := m.submitLaunches(ctx, inst, launches); err != nil {
			inst.Error = err.Error()
			_ = m.putInstance(inst)
			return nil, err
		}

		m.broker.Emit(events.EventInstanceLaunch, "", map[string]string{
			"pod_group": group, "instance_id": inst.ID, "node_id": node.ID,
		})
		m.logger.Info().Str("instance_id", inst.ID).Str("node_id", node.ID).Msg("instance launched")
		return inst, nil
	}

	metrics.PlacementBlockedTotal.WithLabelValues(group).Inc()
	return nil, lastErr
}

// slot fetches or creates the instance record for an ordinal.
func (m *Manager) slot(group string, ordinal int, generation uint64, hash string) (*types.PodInstance, error) {
	id := types.InstanceID(group, ordinal)
	inst, err := m.store.GetInstance(id)
	if err != nil {
		inst = &types.PodInstance{
			ID:        id,
			Group:     group,
			Ordinal:   ordinal,
			State:     types.InstanceStateProvisioning,
			Readiness: types.ReadinessUnknown,
			CreatedAt: time.Now(),
		}
	}
	inst.Generation = generation
	inst.ConfigHash = hash
	return inst, nil
}

// provisionTasks derives one launch request per task of the pod, sharing
// the node's reserved-port set so two tasks never claim the same port.
func (m *Manager) provisionTasks(groupSpec *types.PodGroupSpec, inst *types.PodInstance, node *types.Node, all []*types.PodInstance, peerEnv map[string]string) ([]*types.LaunchRequest, map[string]int, error) {
	used := usedPorts(node.ID, inst.ID, all)
	ports := make(map[string]int)
	var launches []*types.LaunchRequest

	for _, task := range groupSpec.Tasks {
		launch, err := m.prov.Provision(provision.Request{
			Group:     groupSpec,
			Task:      task,
			Instance:  inst,
			Node:      node,
			UsedPorts: used,
			ExtraEnv:  peerEnv,
		})
		if err != nil {
			return nil, nil, err
		}
		for _, p := range launch.Ports {
			used[p.Port] = true
			ports[p.EnvKey] = p.Port
		}
		if launch.TLS != nil && m.issuer != nil {
			cert, key, ca, err := m.issuer.Issue(launch.TLS.Identity, inst.ID, []string{inst.ID, node.Hostname})
			if err != nil {
				return nil, nil, fmt.Errorf("issuing transport certificate for %s: %w", inst.ID, err)
			}
			launch.TLS.CertPEM, launch.TLS.KeyPEM, launch.TLS.CAPEM = cert, key, ca
		}
		launches = append(launches, launch)
	}
	return launches, ports, nil
}

// submitLaunches hands the requests to the resource manager, retrying
// each with capped exponential backoff. Exhausted retries escalate as
// ErrResourceManagerUnavailable; the process keeps running.
func (m *Manager) submitLaunches(ctx context.Context, inst *types.PodInstance, launches []*types.LaunchRequest) error {
	for _, launch := range launches {
		backoff := resman.DefaultBackoff()
		var err error
		for attempt := 0; attempt < m.policy.LaunchRetries; attempt++ {
			if err = m.driver.Launch(ctx, launch); err == nil {
				break
			}
			metrics.LaunchFailuresTotal.Inc()
			select {
			case <-time.After(backoff.Next()):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		if err != nil {
			return fmt.Errorf("%w: pod group %s instance %s: %v",
				types.ErrResourceManagerUnavailable, inst.Group, inst.ID, err)
		}
		metrics.LaunchesTotal.Inc()
	}
	return nil
}

// usedPorts collects host ports reserved by other instances on the node.
func usedPorts(nodeID, selfID string, all []*types.PodInstance) map[int]bool {
	used := make(map[int]bool)
	for _, other := range all {
		if other.NodeID != nodeID || other.ID == selfID || !other.State.Active() {
			continue
		}
		for _, port := range other.Ports {
			used[port] = true
		}
	}
	return used
}

// peerEnv exposes the transport endpoints of every pod group as dynamic
// environment values, e.g. MASTER_TRANSPORT_ENDPOINTS for the master
// group. New instances bootstrap against their peers through these.
func (m *Manager) peerEnv(all []*types.PodInstance, topo *types.ClusterTopology) map[string]string {
	model := m.Model()
	env := make(map[string]string)

	for _, group := range model.PodGroups() {
		endpoints := make([]string, 0, group.Count)
		for _, inst := range all {
			if inst.Group != group.Name || !inst.State.Active() {
				continue
			}
			port, ok := transportPort(group, inst)
			if !ok {
				continue
			}
			host := inst.NodeID
			if node := topo.Node(inst.NodeID); node != nil {
				host = node.Hostname
			}
			endpoints = append(endpoints, fmt.Sprintf("%s:%d", host, port))
		}
		if len(endpoints) == 0 {
			continue
		}
		sort.Strings(endpoints)
		key := strings.ToUpper(strings.ReplaceAll(group.Name, "-", "_")) + "_TRANSPORT_ENDPOINTS"
		env[key] = strings.Join(endpoints, ",")
	}
	return env
}

func transportPort(group *types.PodGroupSpec, inst *types.PodInstance) (int, bool) {
	for _, task := range group.Tasks {
		for _, port := range task.Ports {
			if port.Name != "transport" {
				continue
			}
			if assigned, ok := inst.Ports[port.EnvKey]; ok {
				return assigned, true
			}
		}
	}
	return 0, false
}
