package provision

import (
	"fmt"
	"sort"
	"strconv"

	"github.com/google/uuid"

	"github.com/seastack/bosun/pkg/spec"
	"github.com/seastack/bosun/pkg/types"
)

// Provisioner turns a task spec plus an allocated location into a concrete
// launch request. It is stateless and reentrant; all inputs arrive per call.
type Provisioner struct {
	// Templates resolves a configuration template name to its loaded text.
	Templates func(name string) (string, bool)
}

// Request carries everything one provisioning call needs.
type Request struct {
	Group    *types.PodGroupSpec
	Task     *types.TaskSpec
	Instance *types.PodInstance
	Node     *types.Node

	// UsedPorts are host ports already reserved on the node.
	UsedPorts map[int]bool

	// ExtraEnv carries dynamic peer values resolved by the caller, such as
	// the master transport endpoints the data nodes bootstrap against.
	ExtraEnv map[string]string
}

// Provision deterministically derives the resource, port, and volume
// reservations for one task on one node. A location that cannot satisfy
// the reservations fails with types.ErrResourceInsufficient, which callers
// treat as a placement failure, never a crash.
func (p *Provisioner) Provision(req Request) (*types.LaunchRequest, error) {
	group, task, inst, node := req.Group, req.Task, req.Instance, req.Node

	if err := checkCapacity(task, node); err != nil {
		return nil, err
	}

	ports, err := assignPorts(task, node, req.UsedPorts)
	if err != nil {
		return nil, err
	}

	env := materializeEnv(task, inst, node, ports, req.ExtraEnv)

	launch := &types.LaunchRequest{
		ID:         uuid.New().String(),
		InstanceID: inst.ID,
		NodeID:     node.ID,
		Command:    task.Command,
		Env:        env,
		CPUs:       task.CPUs,
		MemoryMB:   task.MemoryMB,
		Ports:      ports,
		URIs:       append([]string(nil), group.URIs...),
		RLimits:    group.RLimits,
	}

	if task.Volume != nil {
		launch.DiskMB = task.Volume.SizeMB
		launch.Volume = reserveVolume(task.Volume, inst)
	}

	for _, cfg := range task.Configs {
		text, ok := p.lookupTemplate(cfg.Template)
		if !ok {
			return nil, fmt.Errorf("pod %s instance %s: config %q references unknown template %q",
				group.Name, inst.ID, cfg.Name, cfg.Template)
		}
		launch.Configs = append(launch.Configs, types.ConfigFile{
			Name:     cfg.Name,
			DestPath: cfg.DestPath,
			// Dynamic values (assigned ports, peer endpoints) are substituted
			// into the rendered artifact the same way they reach the env.
			Content: spec.Resolve(text, env),
		})
	}

	if task.Transport != nil {
		launch.TLS = tlsMaterial(task.Transport)
		env["TRANSPORT_TLS_ENABLED"] = "true"
		env["TRANSPORT_TLS_IDENTITY"] = task.Transport.Identity
	}

	return launch, nil
}

func (p *Provisioner) lookupTemplate(name string) (string, bool) {
	if p.Templates == nil {
		return "", false
	}
	return p.Templates(name)
}

// checkCapacity verifies the node's free resources cover the reservation.
func checkCapacity(task *types.TaskSpec, node *types.Node) error {
	res := node.Resources
	if res == nil {
		return fmt.Errorf("%w: node %s has no resource inventory", types.ErrResourceInsufficient, node.ID)
	}
	if res.CPUCores-res.CPUUsed < task.CPUs {
		return fmt.Errorf("%w: node %s: need %.2f cpus, %.2f free",
			types.ErrResourceInsufficient, node.ID, task.CPUs, res.CPUCores-res.CPUUsed)
	}
	if res.MemoryMB-res.MemoryUsed < task.MemoryMB {
		return fmt.Errorf("%w: node %s: need %d MB memory, %d MB free",
			types.ErrResourceInsufficient, node.ID, task.MemoryMB, res.MemoryMB-res.MemoryUsed)
	}
	if task.Volume != nil && res.DiskMB-res.DiskUsed < task.Volume.SizeMB {
		return fmt.Errorf("%w: node %s: need %d MB disk, %d MB free",
			types.ErrResourceInsufficient, node.ID, task.Volume.SizeMB, res.DiskMB-res.DiskUsed)
	}
	return nil
}

// assignPorts resolves every declared port to a concrete number: fixed
// ports are taken as declared, dynamic ports come from the node's port
// range. Assignment order follows the declaration so repeated calls with
// the same inputs yield the same result.
func assignPorts(task *types.TaskSpec, node *types.Node, used map[int]bool) ([]types.PortReservation, error) {
	if len(task.Ports) == 0 {
		return nil, nil
	}

	taken := make(map[int]bool, len(used)+len(task.Ports))
	for p := range used {
		taken[p] = true
	}

	var out []types.PortReservation
	for _, port := range task.Ports {
		assigned := port.Port
		if port.Mode == types.PortModeDynamic {
			assigned = nextFreePort(node.PortRange, taken)
			if assigned == 0 {
				return nil, fmt.Errorf("%w: node %s: no free port in range %d-%d",
					types.ErrResourceInsufficient, node.ID, node.PortRange.Begin, node.PortRange.End)
			}
		} else if taken[assigned] {
			return nil, fmt.Errorf("%w: node %s: fixed port %d already reserved",
				types.ErrResourceInsufficient, node.ID, assigned)
		}
		taken[assigned] = true
		out = append(out, types.PortReservation{
			Name:   port.Name,
			EnvKey: port.EnvKey,
			Port:   assigned,
			VIP:    port.VIP,
		})
	}
	return out, nil
}

func nextFreePort(r types.PortRange, taken map[int]bool) int {
	for p := r.Begin; p <= r.End; p++ {
		if p > 0 && !taken[p] {
			return p
		}
	}
	return 0
}

// materializeEnv builds the task environment: declared values first, then
// assigned ports under their env keys, then instance identity, then the
// caller's dynamic peer values. Later layers win on collision.
func materializeEnv(task *types.TaskSpec, inst *types.PodInstance, node *types.Node, ports []types.PortReservation, extra map[string]string) map[string]string {
	env := make(map[string]string, len(task.Env)+len(ports)+len(extra)+4)
	for k, v := range task.Env {
		env[k] = v
	}
	for _, p := range ports {
		env[p.EnvKey] = strconv.Itoa(p.Port)
	}
	env["POD_GROUP"] = inst.Group
	env["POD_INSTANCE_INDEX"] = strconv.Itoa(inst.Ordinal)
	env["POD_INSTANCE_ID"] = inst.ID
	env["NODE_HOSTNAME"] = node.Hostname

	keys := make([]string, 0, len(extra))
	for k := range extra {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		env[k] = extra[k]
	}
	return env
}

// reserveVolume claims a volume for the instance, reusing the existing
// handle on replacement so data survives a task restart on the same node.
func reserveVolume(vol *types.VolumeSpec, inst *types.PodInstance) *types.VolumeReservation {
	id := inst.VolumeID
	if id == "" {
		id = uuid.New().String()
	}
	return &types.VolumeReservation{
		ID:      id,
		Path:    vol.Path,
		Type:    vol.Type,
		SizeMB:  vol.SizeMB,
		Profile: vol.Profile,
	}
}

// tlsMaterial derives the sandbox paths for a task's transport encryption
// identity. Credential generation itself belongs to the managed
// application's secret store, not the orchestrator.
func tlsMaterial(t *types.TransportEncryption) *types.TLSMaterial {
	return &types.TLSMaterial{
		Identity: t.Identity,
		CertPath: fmt.Sprintf(".ssl/%s.crt", t.Identity),
		KeyPath:  fmt.Sprintf(".ssl/%s.key", t.Identity),
		CAPath:   ".ssl/ca.crt",
	}
}
