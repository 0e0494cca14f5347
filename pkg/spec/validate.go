package spec

import (
	"fmt"

	"github.com/go-playground/validator/v10"

	"github.com/seastack/bosun/pkg/types"
)

var fieldValidator = validator.New(validator.WithRequiredStructEnabled())

// validate runs the struct-tag rules over every section of the document
// and the cross-section checks the tags cannot express. All failures wrap
// types.ErrInvalidSpec with enough context to locate the offending entry.
func validate(doc *rawSpec) error {
	if doc.Name == "" {
		return fmt.Errorf("%w: missing service name", types.ErrInvalidSpec)
	}
	if doc.Pods.Len() == 0 {
		return fmt.Errorf("%w: no pod groups declared", types.ErrInvalidSpec)
	}

	type vipKey struct {
		network string
		prefix  string
		port    int
	}
	vips := make(map[vipKey]string)

	for _, podName := range doc.Pods.Keys() {
		pod, _ := doc.Pods.Get(podName)
		if err := fieldValidator.Struct(&pod); err != nil {
			return fmt.Errorf("%w: pod %q: %v", types.ErrInvalidSpec, podName, err)
		}
		if pod.Placement != nil {
			if err := fieldValidator.Struct(pod.Placement); err != nil {
				return fmt.Errorf("%w: pod %q placement: %v", types.ErrInvalidSpec, podName, err)
			}
		}
		if pod.Tasks.Len() == 0 {
			return fmt.Errorf("%w: pod %q has no tasks", types.ErrInvalidSpec, podName)
		}
		for _, taskName := range pod.Tasks.Keys() {
			task, _ := pod.Tasks.Get(taskName)
			if err := validateTask(doc, podName, taskName, &task); err != nil {
				return err
			}
			for _, portName := range task.Ports.Keys() {
				port, _ := task.Ports.Get(portName)
				if port.VIP == nil {
					continue
				}
				key := vipKey{network: pod.Network, prefix: port.VIP.Prefix, port: port.VIP.Port}
				if owner, dup := vips[key]; dup && owner != podName {
					return fmt.Errorf("%w: pod %q port %q: VIP %s:%d already claimed by pod %q",
						types.ErrInvalidSpec, podName, portName, port.VIP.Prefix, port.VIP.Port, owner)
				}
				vips[key] = podName
			}
		}
	}

	for _, planName := range doc.Plans.Keys() {
		plan, _ := doc.Plans.Get(planName)
		if err := fieldValidator.Struct(&plan); err != nil {
			return fmt.Errorf("%w: plan %q: %v", types.ErrInvalidSpec, planName, err)
		}
		if plan.Phases.Len() == 0 {
			return fmt.Errorf("%w: plan %q has no phases", types.ErrInvalidSpec, planName)
		}
		for _, phaseName := range plan.Phases.Keys() {
			phase, _ := plan.Phases.Get(phaseName)
			if err := fieldValidator.Struct(&phase); err != nil {
				return fmt.Errorf("%w: plan %q phase %q: %v", types.ErrInvalidSpec, planName, phaseName, err)
			}
			if _, ok := doc.Pods.Get(phase.Pod); !ok {
				return fmt.Errorf("%w: plan %q phase %q references undeclared pod %q",
					types.ErrInvalidSpec, planName, phaseName, phase.Pod)
			}
		}
	}

	return nil
}

func validateTask(doc *rawSpec, podName, taskName string, task *rawTask) error {
	if err := fieldValidator.Struct(task); err != nil {
		return fmt.Errorf("%w: pod %q task %q: %v", types.ErrInvalidSpec, podName, taskName, err)
	}

	envKeys := make(map[string]string, task.Ports.Len())
	for _, portName := range task.Ports.Keys() {
		port, _ := task.Ports.Get(portName)
		if err := fieldValidator.Struct(&port); err != nil {
			return fmt.Errorf("%w: pod %q task %q port %q: %v", types.ErrInvalidSpec, podName, taskName, portName, err)
		}
		if port.VIP != nil {
			if err := fieldValidator.Struct(port.VIP); err != nil {
				return fmt.Errorf("%w: pod %q task %q port %q vip: %v", types.ErrInvalidSpec, podName, taskName, portName, err)
			}
		}
		if owner, dup := envKeys[port.EnvKey]; dup {
			return fmt.Errorf("%w: pod %q task %q: ports %q and %q share env key %q",
				types.ErrInvalidSpec, podName, taskName, owner, portName, port.EnvKey)
		}
		envKeys[port.EnvKey] = portName
	}

	if task.Volume != nil {
		if err := fieldValidator.Struct(task.Volume); err != nil {
			return fmt.Errorf("%w: pod %q task %q volume: %v", types.ErrInvalidSpec, podName, taskName, err)
		}
	}
	if task.Readiness != nil {
		if err := fieldValidator.Struct(task.Readiness); err != nil {
			return fmt.Errorf("%w: pod %q task %q readiness-check: %v", types.ErrInvalidSpec, podName, taskName, err)
		}
		kinds := 0
		if task.Readiness.Command != "" {
			kinds++
		}
		if task.Readiness.HTTP != nil {
			kinds++
			if err := fieldValidator.Struct(task.Readiness.HTTP); err != nil {
				return fmt.Errorf("%w: pod %q task %q readiness-check http: %v", types.ErrInvalidSpec, podName, taskName, err)
			}
			if _, ok := envKeys[task.Readiness.HTTP.PortEnv]; !ok {
				return fmt.Errorf("%w: pod %q task %q readiness-check http: port env key %q is not declared by any port",
					types.ErrInvalidSpec, podName, taskName, task.Readiness.HTTP.PortEnv)
			}
		}
		if task.Readiness.TCP != nil {
			kinds++
			if err := fieldValidator.Struct(task.Readiness.TCP); err != nil {
				return fmt.Errorf("%w: pod %q task %q readiness-check tcp: %v", types.ErrInvalidSpec, podName, taskName, err)
			}
			if _, ok := envKeys[task.Readiness.TCP.PortEnv]; !ok {
				return fmt.Errorf("%w: pod %q task %q readiness-check tcp: port env key %q is not declared by any port",
					types.ErrInvalidSpec, podName, taskName, task.Readiness.TCP.PortEnv)
			}
		}
		if kinds != 1 {
			return fmt.Errorf("%w: pod %q task %q readiness-check: exactly one of cmd, http, or tcp must be set",
				types.ErrInvalidSpec, podName, taskName)
		}
	}
	if task.Transport != nil {
		if err := fieldValidator.Struct(task.Transport); err != nil {
			return fmt.Errorf("%w: pod %q task %q transport-encryption: %v", types.ErrInvalidSpec, podName, taskName, err)
		}
	}

	for _, cfgName := range task.Configs.Keys() {
		cfg, _ := task.Configs.Get(cfgName)
		if err := fieldValidator.Struct(&cfg); err != nil {
			return fmt.Errorf("%w: pod %q task %q config %q: %v", types.ErrInvalidSpec, podName, taskName, cfgName, err)
		}
		if _, ok := doc.Templates[cfg.Template]; !ok {
			return fmt.Errorf("%w: pod %q task %q config %q references undeclared template %q",
				types.ErrInvalidSpec, podName, taskName, cfgName, cfg.Template)
		}
	}

	return nil
}
