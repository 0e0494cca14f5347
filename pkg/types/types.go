package types

import (
	"fmt"
	"time"
)

// PodGroupSpec describes one named group of homogeneous pod instances
// (e.g. all "data" nodes). Specs are immutable once loaded; a revision
// produces a new spec carrying a higher Generation.
type PodGroupSpec struct {
	Name       string
	Count      int
	Placement  *PlacementRule
	Network    *NetworkSpec
	URIs       []string
	RLimits    map[string]RLimit
	Tasks      []*TaskSpec
	Generation uint64
}

// Task returns the task spec with the given name, or nil.
func (g *PodGroupSpec) Task(name string) *TaskSpec {
	for _, t := range g.Tasks {
		if t.Name == name {
			return t
		}
	}
	return nil
}

// NetworkSpec describes the network a pod group joins.
type NetworkSpec struct {
	Name string // virtual network name, empty = host networking
}

// RLimit is a soft/hard resource limit pair passed through to launched tasks.
type RLimit struct {
	Soft int64
	Hard int64
}

// TaskGoal is the desired terminal behavior of a task.
type TaskGoal string

const (
	GoalRunning TaskGoal = "RUNNING"
)

// TaskSpec describes a single task within a pod.
type TaskSpec struct {
	Name      string
	Goal      TaskGoal
	CPUs      float64
	MemoryMB  int64
	Ports     []*PortSpec
	Volume    *VolumeSpec
	Command   string
	Env       map[string]string
	Configs   []*ConfigArtifact
	Readiness *ReadinessCheck
	Transport *TransportEncryption // nil = plaintext
}

// PortMode selects how a port number is chosen.
type PortMode string

const (
	PortModeFixed   PortMode = "fixed"   // use the declared port number
	PortModeDynamic PortMode = "dynamic" // orchestrator picks a free port
)

// PortSpec is a named port requirement. EnvKey is the environment variable
// the assigned port number is exported under; it must be unique within a task.
type PortSpec struct {
	Name   string
	EnvKey string
	Port   int // 0 with PortModeDynamic
	Mode   PortMode
	VIP    *VIPSpec // optional externally addressable endpoint
}

// VIPSpec is a virtual endpoint (prefix + port) advertised on the pod
// group's virtual network. Prefix/port pairs must be unique across pod
// groups sharing a network.
type VIPSpec struct {
	Prefix string
	Port   int
}

// VolumeType selects the backing for a task volume.
type VolumeType string

const (
	VolumeTypeRoot  VolumeType = "ROOT"  // carved out of the node's root disk
	VolumeTypeMount VolumeType = "MOUNT" // dedicated mount point
)

// VolumeSpec is a task's persistent storage requirement.
type VolumeSpec struct {
	Path    string
	Type    VolumeType
	SizeMB  int64
	Profile string // optional named disk profile
}

// ConfigArtifact maps a logical configuration name to a template and the
// path it is rendered to inside the task sandbox.
type ConfigArtifact struct {
	Name     string
	Template string // template name declared at the spec top level
	DestPath string
}

// ReadinessCheck describes the probe that gates an instance's Healthy
// state. Exactly one of Command, HTTP, or TCP is set. For command checks
// a zero exit status means healthy.
type ReadinessCheck struct {
	Command  string
	HTTP     *HTTPCheck
	TCP      *TCPCheck
	Interval time.Duration
	Delay    time.Duration // grace period before the first probe
	Timeout  time.Duration
}

// HTTPCheck probes over HTTP. The target port is resolved from the
// instance's assigned ports by env key; 2xx and 3xx statuses are healthy.
type HTTPCheck struct {
	PortEnv string
	Path    string
}

// TCPCheck probes by opening a connection to the named port.
type TCPCheck struct {
	PortEnv string
}

// TransportEncryption requests TLS material for a task's transport layer.
type TransportEncryption struct {
	Identity string // named identity the material is issued for
}

// InstanceState is the lifecycle state of a pod instance.
type InstanceState string

const (
	InstanceStateProvisioning   InstanceState = "provisioning"
	InstanceStateStaging        InstanceState = "staging"
	InstanceStateRunning        InstanceState = "running"
	InstanceStateReady          InstanceState = "ready"
	InstanceStateFailed         InstanceState = "failed"
	InstanceStateDraining       InstanceState = "draining"
	InstanceStateReplaced       InstanceState = "replaced"
	InstanceStateDecommissioned InstanceState = "decommissioned"
)

// Active reports whether the state counts toward a group's running total.
func (s InstanceState) Active() bool {
	switch s {
	case InstanceStateProvisioning, InstanceStateStaging, InstanceStateRunning, InstanceStateReady, InstanceStateDraining:
		return true
	}
	return false
}

// Terminal reports whether the instance has left the cluster for good.
func (s InstanceState) Terminal() bool {
	return s == InstanceStateReplaced || s == InstanceStateDecommissioned
}

// ReadinessState is the gate's view of an instance.
type ReadinessState string

const (
	ReadinessUnknown   ReadinessState = "unknown"
	ReadinessHealthy   ReadinessState = "healthy"
	ReadinessUnhealthy ReadinessState = "unhealthy"
)

// PodInstance is one running (or transitioning) member of a pod group.
// Owned exclusively by the instance manager; other components observe only.
type PodInstance struct {
	ID         string // "<group>-<ordinal>"
	Group      string
	Ordinal    int
	State      InstanceState
	NodeID     string
	Ports      map[string]int // env key -> assigned port
	VolumeID   string
	Readiness  ReadinessState
	Generation uint64
	ConfigHash string // hash of the group spec the instance was launched from
	LaunchID   string   // primary (first task) launch of the current provision
	LaunchIDs  []string // every task launch of the current provision
	Error      string
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// OwnsLaunch reports whether the launch belongs to the instance's current
// provision. Multi-task pods carry one launch per task.
func (i *PodInstance) OwnsLaunch(launchID string) bool {
	if launchID == i.LaunchID {
		return true
	}
	for _, id := range i.LaunchIDs {
		if id == launchID {
			return true
		}
	}
	return false
}

// InstanceID builds the canonical instance identifier.
func InstanceID(group string, ordinal int) string {
	return fmt.Sprintf("%s-%d", group, ordinal)
}

// PlacementRule constrains where a pod group's instances may land.
// An unsatisfiable rule blocks the affected phase; it never fails it.
type PlacementRule struct {
	MaxPerNode int               // 0 = unlimited
	Attributes map[string]string // node attributes that must all match
	Network    string            // required network label on the node
}

// Node is one schedulable member of the cluster topology snapshot.
type Node struct {
	ID         string
	Hostname   string
	Attributes map[string]string
	Networks   []string
	Resources  *NodeResources
	PortRange  PortRange
}

// HasNetwork reports whether the node carries the named network label.
func (n *Node) HasNetwork(name string) bool {
	for _, nw := range n.Networks {
		if nw == name {
			return true
		}
	}
	return false
}

// NodeResources tracks capacity and current reservations on a node.
type NodeResources struct {
	CPUCores   float64
	MemoryMB   int64
	DiskMB     int64
	CPUUsed    float64
	MemoryUsed int64
	DiskUsed   int64
}

// Fragmentation is the used fraction of the node's scarcest resource,
// used as a placement tie-break (lower is better).
func (r *NodeResources) Fragmentation() float64 {
	frag := 0.0
	if r.CPUCores > 0 {
		frag = r.CPUUsed / r.CPUCores
	}
	if r.MemoryMB > 0 {
		if f := float64(r.MemoryUsed) / float64(r.MemoryMB); f > frag {
			frag = f
		}
	}
	if r.DiskMB > 0 {
		if f := float64(r.DiskUsed) / float64(r.DiskMB); f > frag {
			frag = f
		}
	}
	return frag
}

// PortRange is the span of host ports available for dynamic assignment.
type PortRange struct {
	Begin int
	End   int
}

// ClusterTopology is an explicit point-in-time snapshot of the cluster,
// passed into the placement evaluator per call. Never a shared singleton.
type ClusterTopology struct {
	Nodes      []*Node
	CapturedAt time.Time
}

// Node returns the node with the given ID, or nil.
func (t *ClusterTopology) Node(id string) *Node {
	for _, n := range t.Nodes {
		if n.ID == id {
			return n
		}
	}
	return nil
}

// LaunchRequest is the concrete reservation handed to the resource manager
// for one task of one pod instance.
type LaunchRequest struct {
	ID         string
	InstanceID string
	NodeID     string
	Command    string
	Env        map[string]string
	CPUs       float64
	MemoryMB   int64
	DiskMB     int64
	Ports      []PortReservation
	Volume     *VolumeReservation
	URIs       []string
	RLimits    map[string]RLimit
	Configs    []ConfigFile
	TLS        *TLSMaterial
}

// PortReservation is a concrete port assignment.
type PortReservation struct {
	Name   string
	EnvKey string
	Port   int
	VIP    *VIPSpec
}

// VolumeReservation is a concrete volume claim with its handle.
type VolumeReservation struct {
	ID      string
	Path    string
	Type    VolumeType
	SizeMB  int64
	Profile string
}

// ConfigFile is a rendered configuration artifact shipped with a launch.
type ConfigFile struct {
	Name     string
	DestPath string
	Content  string
}

// TLSMaterial points a task at its transport encryption identity. The PEM
// payloads are populated when the orchestrator runs with a certificate
// authority; the paths are where the material lands in the task sandbox.
type TLSMaterial struct {
	Identity string
	CertPath string
	KeyPath  string
	CAPath   string

	CertPEM []byte
	KeyPEM  []byte
	CAPEM   []byte
}

// RunState is the resource manager's view of a launched task.
type RunState string

const (
	RunStateStaging  RunState = "staging"
	RunStateRunning  RunState = "running"
	RunStateFinished RunState = "finished"
	RunStateFailed   RunState = "failed"
	RunStateLost     RunState = "lost"
)

// StatusUpdate is one entry of the resource manager's status stream.
type StatusUpdate struct {
	InstanceID string
	LaunchID   string
	State      RunState
	Message    string
	Timestamp  time.Time
}
