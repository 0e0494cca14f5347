package spec

// Raw document structures for the declarative service specification.
// Field tags carry both the YAML names and the validator rules applied
// during Load; structural checks that cross sections (port env keys,
// VIP collisions, template references) live in validate.go.

type rawSpec struct {
	Name      string            `yaml:"name" validate:"required"`
	Variables map[string]string `yaml:"variables"`
	Templates map[string]string `yaml:"templates"`
	Pods      orderedMap[rawPod]  `yaml:"pods" validate:"required"`
	Plans     orderedMap[rawPlan] `yaml:"plans"`
}

type rawPod struct {
	Count     int                 `yaml:"count" validate:"gte=0"`
	Placement *rawPlacement       `yaml:"placement"`
	Network   string              `yaml:"network"`
	URIs      []string            `yaml:"uris"`
	RLimits   map[string]rawLimit `yaml:"rlimits"`
	Tasks     orderedMap[rawTask] `yaml:"tasks" validate:"required"`
}

type rawPlacement struct {
	MaxPerNode int               `yaml:"max-per-node" validate:"gte=0"`
	Attributes map[string]string `yaml:"attributes"`
	Network    string            `yaml:"network"`
}

type rawLimit struct {
	Soft int64 `yaml:"soft"`
	Hard int64 `yaml:"hard"`
}

type rawTask struct {
	Goal      string              `yaml:"goal" validate:"omitempty,oneof=RUNNING"`
	CPUs      float64             `yaml:"cpus" validate:"gt=0"`
	MemoryMB  int64               `yaml:"memory" validate:"gt=0"`
	Ports     orderedMap[rawPort] `yaml:"ports"`
	Volume    *rawVolume          `yaml:"volume"`
	Command   string              `yaml:"cmd" validate:"required"`
	Env       map[string]string   `yaml:"env"`
	Configs   orderedMap[rawConfig] `yaml:"configs"`
	Readiness *rawReadiness       `yaml:"readiness-check"`
	Transport *rawTransport       `yaml:"transport-encryption"`
}

type rawPort struct {
	Port   int     `yaml:"port" validate:"gte=0,lte=65535"`
	EnvKey string  `yaml:"env-key" validate:"required"`
	VIP    *rawVIP `yaml:"vip"`
}

type rawVIP struct {
	Prefix string `yaml:"prefix" validate:"required"`
	Port   int    `yaml:"port" validate:"gt=0,lte=65535"`
}

type rawVolume struct {
	Path    string `yaml:"path" validate:"required"`
	Type    string `yaml:"type" validate:"omitempty,oneof=ROOT MOUNT"`
	SizeMB  int64  `yaml:"size" validate:"gt=0"`
	Profile string `yaml:"profile"`
}

type rawConfig struct {
	Template string `yaml:"template" validate:"required"`
	Dest     string `yaml:"dest" validate:"required"`
}

type rawReadiness struct {
	Command  string        `yaml:"cmd"`
	HTTP     *rawHTTPCheck `yaml:"http"`
	TCP      *rawTCPCheck  `yaml:"tcp"`
	Interval int           `yaml:"interval" validate:"gt=0"` // seconds
	Delay    int           `yaml:"delay" validate:"gte=0"`
	Timeout  int           `yaml:"timeout" validate:"gt=0"`
}

type rawHTTPCheck struct {
	PortEnv string `yaml:"port-env" validate:"required"`
	Path    string `yaml:"path"`
}

type rawTCPCheck struct {
	PortEnv string `yaml:"port-env" validate:"required"`
}

type rawTransport struct {
	Name string `yaml:"name" validate:"required"`
}

type rawPlan struct {
	Strategy string               `yaml:"strategy" validate:"omitempty,oneof=serial parallel"`
	Phases   orderedMap[rawPhase] `yaml:"phases" validate:"required"`
}

type rawPhase struct {
	Strategy string `yaml:"strategy" validate:"omitempty,oneof=serial parallel"`
	Pod      string `yaml:"pod" validate:"required"`
}
