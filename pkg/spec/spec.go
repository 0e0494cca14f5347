package spec

import (
	"encoding/json"
	"fmt"
	"hash/fnv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/seastack/bosun/pkg/types"
)

// Model is the immutable in-memory representation of one loaded
// configuration generation. All accessors are read-only; a configuration
// update produces a fresh Model with a higher generation.
type Model struct {
	name       string
	generation uint64
	groups     map[string]*types.PodGroupSpec
	order      []string
	plans      map[string]*types.PlanSpec
	planOrder  []string
	templates  map[string]string
	hashes     map[string]string
}

// Load parses and validates a raw specification document, resolving
// template variables once up front. vars override variables declared in
// the document itself. Any structural problem fails with a wrapped
// types.ErrInvalidSpec; Load has no side effects.
func Load(raw []byte, vars map[string]string, generation uint64) (*Model, error) {
	var doc rawSpec
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("%w: %v", types.ErrInvalidSpec, err)
	}

	merged := make(map[string]string, len(doc.Variables)+len(vars))
	for k, v := range doc.Variables {
		merged[k] = v
	}
	for k, v := range vars {
		merged[k] = v
	}

	if err := validate(&doc); err != nil {
		return nil, err
	}

	m := &Model{
		name:       doc.Name,
		generation: generation,
		groups:     make(map[string]*types.PodGroupSpec, doc.Pods.Len()),
		plans:      make(map[string]*types.PlanSpec),
		templates:  make(map[string]string, len(doc.Templates)),
		hashes:     make(map[string]string, doc.Pods.Len()),
	}

	for name, text := range doc.Templates {
		m.templates[name] = Resolve(text, merged)
	}

	for _, name := range doc.Pods.Keys() {
		pod, _ := doc.Pods.Get(name)
		group := buildGroup(name, &pod, merged, generation)
		m.groups[name] = group
		m.order = append(m.order, name)
		m.hashes[name] = hashGroup(group)
	}

	for _, name := range doc.Plans.Keys() {
		plan, _ := doc.Plans.Get(name)
		m.plans[name] = buildPlan(name, &plan)
		m.planOrder = append(m.planOrder, name)
	}

	// The deploy and update plans always exist: a spec that omits them gets
	// the default one-phase-per-pod-group rollout in declaration order.
	for _, name := range []string{"deploy", "update"} {
		if _, ok := m.plans[name]; ok {
			continue
		}
		m.plans[name] = defaultPlan(name, m.order)
		m.planOrder = append(m.planOrder, name)
	}

	return m, nil
}

// Name returns the service name.
func (m *Model) Name() string { return m.name }

// Generation returns the configuration generation this model was loaded as.
func (m *Model) Generation() uint64 { return m.generation }

// PodGroups returns all pod group specs in declaration order.
func (m *Model) PodGroups() []*types.PodGroupSpec {
	out := make([]*types.PodGroupSpec, 0, len(m.order))
	for _, name := range m.order {
		out = append(out, m.groups[name])
	}
	return out
}

// PodGroup returns the named pod group spec, or nil.
func (m *Model) PodGroup(name string) *types.PodGroupSpec {
	return m.groups[name]
}

// Plans returns the declared plan names in declaration order.
func (m *Model) Plans() []string {
	out := make([]string, len(m.planOrder))
	copy(out, m.planOrder)
	return out
}

// Plan returns the named plan spec, or nil.
func (m *Model) Plan(name string) *types.PlanSpec {
	return m.plans[name]
}

// Template returns the resolved text of a named configuration template.
func (m *Model) Template(name string) (string, bool) {
	text, ok := m.templates[name]
	return text, ok
}

// GroupHash returns a fingerprint of the group's task content. Count and
// generation are excluded so a count-only revision leaves running
// instances untouched during an update.
func (m *Model) GroupHash(name string) string {
	return m.hashes[name]
}

func buildGroup(name string, pod *rawPod, vars map[string]string, generation uint64) *types.PodGroupSpec {
	group := &types.PodGroupSpec{
		Name:       name,
		Count:      pod.Count,
		URIs:       append([]string(nil), pod.URIs...),
		Generation: generation,
	}
	if pod.Network != "" {
		group.Network = &types.NetworkSpec{Name: pod.Network}
	}
	if pod.Placement != nil {
		group.Placement = &types.PlacementRule{
			MaxPerNode: pod.Placement.MaxPerNode,
			Attributes: pod.Placement.Attributes,
			Network:    pod.Placement.Network,
		}
	}
	if len(pod.RLimits) > 0 {
		group.RLimits = make(map[string]types.RLimit, len(pod.RLimits))
		for k, l := range pod.RLimits {
			group.RLimits[k] = types.RLimit{Soft: l.Soft, Hard: l.Hard}
		}
	}
	for _, taskName := range pod.Tasks.Keys() {
		task, _ := pod.Tasks.Get(taskName)
		group.Tasks = append(group.Tasks, buildTask(taskName, &task, vars))
	}
	return group
}

func buildTask(name string, task *rawTask, vars map[string]string) *types.TaskSpec {
	spec := &types.TaskSpec{
		Name:     name,
		Goal:     types.GoalRunning,
		CPUs:     task.CPUs,
		MemoryMB: task.MemoryMB,
		Command:  Resolve(task.Command, vars),
	}
	if task.Goal != "" {
		spec.Goal = types.TaskGoal(task.Goal)
	}
	if len(task.Env) > 0 {
		spec.Env = make(map[string]string, len(task.Env))
		for k, v := range task.Env {
			spec.Env[k] = Resolve(v, vars)
		}
	}
	for _, portName := range task.Ports.Keys() {
		port, _ := task.Ports.Get(portName)
		p := &types.PortSpec{
			Name:   portName,
			EnvKey: port.EnvKey,
			Port:   port.Port,
			Mode:   types.PortModeFixed,
		}
		if port.Port == 0 {
			p.Mode = types.PortModeDynamic
		}
		if port.VIP != nil {
			p.VIP = &types.VIPSpec{Prefix: port.VIP.Prefix, Port: port.VIP.Port}
		}
		spec.Ports = append(spec.Ports, p)
	}
	if task.Volume != nil {
		volType := types.VolumeTypeRoot
		if task.Volume.Type != "" {
			volType = types.VolumeType(task.Volume.Type)
		}
		spec.Volume = &types.VolumeSpec{
			Path:    task.Volume.Path,
			Type:    volType,
			SizeMB:  task.Volume.SizeMB,
			Profile: task.Volume.Profile,
		}
	}
	for _, cfgName := range task.Configs.Keys() {
		cfg, _ := task.Configs.Get(cfgName)
		spec.Configs = append(spec.Configs, &types.ConfigArtifact{
			Name:     cfgName,
			Template: cfg.Template,
			DestPath: cfg.Dest,
		})
	}
	if task.Readiness != nil {
		spec.Readiness = &types.ReadinessCheck{
			Command:  Resolve(task.Readiness.Command, vars),
			Interval: time.Duration(task.Readiness.Interval) * time.Second,
			Delay:    time.Duration(task.Readiness.Delay) * time.Second,
			Timeout:  time.Duration(task.Readiness.Timeout) * time.Second,
		}
		if task.Readiness.HTTP != nil {
			spec.Readiness.HTTP = &types.HTTPCheck{
				PortEnv: task.Readiness.HTTP.PortEnv,
				Path:    task.Readiness.HTTP.Path,
			}
		}
		if task.Readiness.TCP != nil {
			spec.Readiness.TCP = &types.TCPCheck{PortEnv: task.Readiness.TCP.PortEnv}
		}
	}
	if task.Transport != nil {
		spec.Transport = &types.TransportEncryption{Identity: task.Transport.Name}
	}
	return spec
}

func buildPlan(name string, plan *rawPlan) *types.PlanSpec {
	defaultStrategy := types.StrategySerial
	if plan.Strategy != "" {
		defaultStrategy = types.Strategy(plan.Strategy)
	}
	out := &types.PlanSpec{Name: name, Strategy: defaultStrategy}
	for _, phaseName := range plan.Phases.Keys() {
		phase, _ := plan.Phases.Get(phaseName)
		strategy := defaultStrategy
		if phase.Strategy != "" {
			strategy = types.Strategy(phase.Strategy)
		}
		out.Phases = append(out.Phases, &types.PhaseSpec{
			Name:     phaseName,
			Pod:      phase.Pod,
			Strategy: strategy,
		})
	}
	return out
}

func defaultPlan(name string, groups []string) *types.PlanSpec {
	out := &types.PlanSpec{Name: name, Strategy: types.StrategySerial}
	for _, group := range groups {
		out.Phases = append(out.Phases, &types.PhaseSpec{
			Name:     fmt.Sprintf("%s-%s", group, name),
			Pod:      group,
			Strategy: types.StrategySerial,
		})
	}
	return out
}

func hashGroup(group *types.PodGroupSpec) string {
	clone := *group
	clone.Count = 0
	clone.Generation = 0
	data, err := json.Marshal(&clone)
	if err != nil {
		return ""
	}
	h := fnv.New64a()
	h.Write(data)
	return fmt.Sprintf("%016x", h.Sum64())
}
