package instance

import (
	"fmt"

	"github.com/seastack/bosun/pkg/events"
	"github.com/seastack/bosun/pkg/metrics"
	"github.com/seastack/bosun/pkg/readiness"
	"github.com/seastack/bosun/pkg/types"
)

// statusPump consumes the resource manager's status-update stream and
// folds task state transitions into instance records.
func (m *Manager) statusPump() {
	defer m.wg.Done()
	for {
		select {
		case update, ok := <-m.driver.Updates():
			if !ok {
				return
			}
			m.applyStatus(update)
		case <-m.stopCh:
			return
		}
	}
}

func (m *Manager) applyStatus(update types.StatusUpdate) {
	inst, err := m.store.GetInstance(update.InstanceID)
	if err != nil {
		return
	}
	// Updates for a superseded launch arrive after a replace; ignore them.
	// Any launch of the current provision counts: a multi-task pod fails
	// when any of its tasks does.
	if update.LaunchID != "" && inst.LaunchID != "" && !inst.OwnsLaunch(update.LaunchID) {
		return
	}

	switch update.State {
	case types.RunStateStaging:
		if inst.State == types.InstanceStateProvisioning {
			inst.State = types.InstanceStateStaging
			_ = m.putInstance(inst)
		}

	case types.RunStateRunning:
		if inst.State == types.InstanceStateStaging || inst.State == types.InstanceStateProvisioning {
			inst.State = types.InstanceStateRunning
			_ = m.putInstance(inst)
			m.gate.Watch(inst, m.readinessCheck(inst.Group))
		}

	case types.RunStateFinished:
		if inst.State == types.InstanceStateDraining {
			inst.State = types.InstanceStateDecommissioned
			_ = m.putInstance(inst)
		} else if inst.State.Active() {
			// A RUNNING-goal task has no legitimate exit.
			m.markFailed(inst, "task exited: "+update.Message)
		}

	case types.RunStateFailed, types.RunStateLost:
		if inst.State == types.InstanceStateDraining {
			inst.State = types.InstanceStateDecommissioned
			_ = m.putInstance(inst)
		} else if inst.State.Active() {
			m.markFailed(inst, update.Message)
		}
	}
}

// readinessPump consumes the gate's report stream.
func (m *Manager) readinessPump() {
	defer m.wg.Done()
	for {
		select {
		case report, ok := <-m.gate.Reports():
			if !ok {
				return
			}
			m.applyReadiness(report)
		case <-m.stopCh:
			return
		}
	}
}

func (m *Manager) applyReadiness(report readiness.Report) {
	inst, err := m.store.GetInstance(report.InstanceID)
	if err != nil || !inst.State.Active() {
		return
	}
	// A report buffered before a replace carries the old launch; applying
	// it would mark the fresh record ready without a probe. Ignore it.
	if report.LaunchID != "" && report.LaunchID != inst.LaunchID {
		return
	}

	inst.Readiness = report.State
	if report.Failed {
		m.gate.Unwatch(inst.ID)
		m.markFailed(inst, fmt.Sprintf("readiness probe failed %d consecutive times: %s", report.ConsecutiveFailures, report.Message))
		return
	}

	if report.State == types.ReadinessHealthy && inst.State != types.InstanceStateReady {
		inst.State = types.InstanceStateReady
		_ = m.putInstance(inst)
		m.broker.Emit(events.EventInstanceReady, "", map[string]string{
			"pod_group": inst.Group, "instance_id": inst.ID,
		})
		m.logger.Info().Str("instance_id", inst.ID).Msg("instance ready")
		return
	}

	if report.State != types.ReadinessHealthy && inst.State == types.InstanceStateReady {
		inst.State = types.InstanceStateRunning
	}
	_ = m.putInstance(inst)
}

func (m *Manager) markFailed(inst *types.PodInstance, reason string) {
	inst.State = types.InstanceStateFailed
	inst.Readiness = types.ReadinessUnhealthy
	inst.Error = reason
	_ = m.putInstance(inst)
	metrics.InstanceFailuresTotal.WithLabelValues(inst.Group).Inc()
	m.broker.Emit(events.EventInstanceFailed, reason, map[string]string{
		"pod_group": inst.Group, "instance_id": inst.ID,
	})
	m.logger.Warn().Str("pod_group", inst.Group).Str("instance_id", inst.ID).Str("reason", reason).Msg("instance failed")
}

// readinessCheck returns the group's probe, if any task declares one.
func (m *Manager) readinessCheck(group string) *types.ReadinessCheck {
	groupSpec := m.Model().PodGroup(group)
	if groupSpec == nil {
		return nil
	}
	for _, task := range groupSpec.Tasks {
		if task.Readiness != nil {
			return task.Readiness
		}
	}
	return nil
}
