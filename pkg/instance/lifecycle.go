package instance

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/seastack/bosun/pkg/events"
	"github.com/seastack/bosun/pkg/types"
)

// EnsureOrdinal converges one ordinal slot: a missing or failed slot is
// provisioned, a slot launched from a stale group configuration is
// rolling-replaced, and a healthy up-to-date slot is left alone.
// Callers must hold the group lock. The returned bool reports whether a
// launch happened.
func (m *Manager) EnsureOrdinal(ctx context.Context, group string, ordinal int) (*types.PodInstance, bool, error) {
	id := types.InstanceID(group, ordinal)
	inst, err := m.store.GetInstance(id)
	if err == nil && inst.State.Active() {
		switch {
		case inst.State == types.InstanceStateDraining:
			// A drain interrupted before its terminal status update keeps
			// the old task alive. Finish the teardown before reusing the
			// slot, or the old and new launches would briefly coexist.
			if err := m.stop(ctx, inst, types.InstanceStateDecommissioned); err != nil {
				return nil, false, err
			}
		case m.NeedsUpdate(inst):
			// Stale configuration: tear the old task down before
			// relaunching so the group never exceeds its desired count.
			// Surge replacement (overlap above zero) would need launches
			// the slot record cannot track yet; refuse rather than strand
			// the old task at the resource manager.
			if m.policy.RollingOverlap > 0 {
				return nil, false, fmt.Errorf("%w: pod group %s: rolling overlap %d is not supported",
					types.ErrPolicyViolation, group, m.policy.RollingOverlap)
			}
			if err := m.stop(ctx, inst, types.InstanceStateReplaced); err != nil {
				return nil, false, err
			}
		default:
			return inst, false, nil
		}
	}

	launched, err := m.ProvisionOrdinal(ctx, group, ordinal)
	if err != nil {
		return nil, false, err
	}
	return launched, true, nil
}

// ScaleTo converges the group's active instance count to desiredCount.
// Callers must hold the group lock. Scale-down removes the highest
// ordinals first and respects the group's minimum safe count.
func (m *Manager) ScaleTo(ctx context.Context, group string, desiredCount int) error {
	if desiredCount < 0 {
		return fmt.Errorf("%w: pod group %s: negative count %d", types.ErrInvalidSpec, group, desiredCount)
	}

	if err := m.DecommissionAbove(ctx, group, desiredCount); err != nil {
		return err
	}

	for ordinal := 0; ordinal < desiredCount; ordinal++ {
		if _, _, err := m.EnsureOrdinal(ctx, group, ordinal); err != nil {
			return err
		}
	}
	return nil
}

// DecommissionAbove removes every active instance whose ordinal is at or
// beyond limit, highest first. Callers must hold the group lock.
func (m *Manager) DecommissionAbove(ctx context.Context, group string, limit int) error {
	instances, err := m.store.ListInstancesByGroup(group)
	if err != nil {
		return err
	}
	var excess []*types.PodInstance
	for _, inst := range instances {
		if inst.Ordinal >= limit && inst.State.Active() {
			excess = append(excess, inst)
		}
	}
	sort.Slice(excess, func(i, j int) bool { return excess[i].Ordinal > excess[j].Ordinal })

	for _, inst := range excess {
		if err := m.decommission(ctx, inst); err != nil {
			return err
		}
	}
	return nil
}

// Replace kills a failed or misbehaving instance and provisions a fresh
// one in the same slot. Callers must hold the group lock.
func (m *Manager) Replace(ctx context.Context, instanceID string) error {
	inst, err := m.store.GetInstance(instanceID)
	if err != nil {
		return err
	}

	if inst.State.Active() {
		if err := m.stop(ctx, inst, types.InstanceStateReplaced); err != nil {
			return err
		}
	}

	if _, err := m.ProvisionOrdinal(ctx, inst.Group, inst.Ordinal); err != nil {
		return err
	}
	m.broker.Emit(events.EventInstanceReplace, "", map[string]string{
		"pod_group": inst.Group, "instance_id": inst.ID,
	})
	return nil
}

// Decommission gracefully removes an instance: the group must stay at or
// above its configured minimum safe count, otherwise the request is
// rejected with a policy error instead of silently shrinking a quorum.
// Callers must hold the group lock.
func (m *Manager) Decommission(ctx context.Context, instanceID string) error {
	inst, err := m.store.GetInstance(instanceID)
	if err != nil {
		return err
	}
	if !inst.State.Active() {
		return nil
	}

	if min := m.policy.MinSafeCount[inst.Group]; min > 0 {
		active, err := m.ActiveCount(inst.Group)
		if err != nil {
			return err
		}
		if active-1 < min {
			return fmt.Errorf("%w: decommissioning %s would leave pod group %s with %d instances, minimum safe count is %d",
				types.ErrPolicyViolation, inst.ID, inst.Group, active-1, min)
		}
	}

	return m.decommission(ctx, inst)
}

// decommission drains and releases one instance without policy checks.
func (m *Manager) decommission(ctx context.Context, inst *types.PodInstance) error {
	inst.State = types.InstanceStateDraining
	if err := m.putInstance(inst); err != nil {
		return err
	}
	m.gate.Unwatch(inst.ID)

	if err := m.driver.Kill(ctx, inst.ID, m.policy.DrainTimeout); err != nil {
		m.logger.Warn().Err(err).Str("instance_id", inst.ID).Msg("kill request failed, releasing anyway")
	}

	// Wait for the status stream to confirm the drain, bounded by the
	// drain timeout. A silent resource manager does not wedge the caller.
	deadline := time.Now().Add(m.policy.DrainTimeout)
	for time.Now().Before(deadline) {
		current, err := m.store.GetInstance(inst.ID)
		if err != nil || current.State == types.InstanceStateDecommissioned {
			break
		}
		select {
		case <-time.After(50 * time.Millisecond):
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	current, err := m.store.GetInstance(inst.ID)
	if err == nil && current.State != types.InstanceStateDecommissioned {
		current.State = types.InstanceStateDecommissioned
		if err := m.putInstance(current); err != nil {
			return err
		}
	}

	m.broker.Emit(events.EventInstanceDecomm, "", map[string]string{
		"pod_group": inst.Group, "instance_id": inst.ID,
	})
	m.logger.Info().Str("instance_id", inst.ID).Msg("instance decommissioned")
	return nil
}

// stop tears an instance down on the resource manager and records the
// terminal state without the graceful drain ceremony.
func (m *Manager) stop(ctx context.Context, inst *types.PodInstance, terminal types.InstanceState) error {
	m.gate.Unwatch(inst.ID)
	if err := m.driver.Kill(ctx, inst.ID, 0); err != nil {
		m.logger.Warn().Err(err).Str("instance_id", inst.ID).Msg("kill request failed")
	}
	inst.State = terminal
	inst.Readiness = types.ReadinessUnknown
	return m.putInstance(inst)
}

// AwaitReady blocks until the instance reports Healthy, fails, or the
// context ends. It polls the store rather than subscribing so concurrent
// waiters stay independent.
func (m *Manager) AwaitReady(ctx context.Context, instanceID string) error {
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	for {
		inst, err := m.store.GetInstance(instanceID)
		if err != nil {
			return err
		}
		switch {
		case inst.State == types.InstanceStateReady:
			return nil
		case inst.State == types.InstanceStateFailed:
			return fmt.Errorf("%w: instance %s: %s", types.ErrReadinessTimeout, instanceID, inst.Error)
		case inst.State.Terminal():
			return fmt.Errorf("instance %s left the cluster while awaiting readiness", instanceID)
		}

		select {
		case <-ticker.C:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
