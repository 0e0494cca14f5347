package provision

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/seastack/bosun/pkg/types"
)

func testNode() *types.Node {
	return &types.Node{
		ID:       "node-0",
		Hostname: "node-0.local",
		Resources: &types.NodeResources{
			CPUCores: 4,
			MemoryMB: 8192,
			DiskMB:   102400,
		},
		PortRange: types.PortRange{Begin: 20000, End: 20002},
	}
}

func testRequest() Request {
	return Request{
		Group: &types.PodGroupSpec{Name: "data"},
		Task: &types.TaskSpec{
			Name:     "server",
			Goal:     types.GoalRunning,
			CPUs:     1,
			MemoryMB: 1024,
			Command:  "./bin/server",
		},
		Instance: &types.PodInstance{ID: "data-0", Group: "data", Ordinal: 0},
		Node:     testNode(),
	}
}

func TestProvisionPorts(t *testing.T) {
	p := &Provisioner{}
	req := testRequest()
	req.Task.Ports = []*types.PortSpec{
		{Name: "transport", EnvKey: "PORT_TRANSPORT", Port: 9300, Mode: types.PortModeFixed},
		{Name: "http", EnvKey: "PORT_HTTP", Mode: types.PortModeDynamic},
		{Name: "admin", EnvKey: "PORT_ADMIN", Mode: types.PortModeDynamic},
	}
	req.UsedPorts = map[int]bool{20000: true}

	launch, err := p.Provision(req)
	require.NoError(t, err)
	require.Len(t, launch.Ports, 3)

	assert.Equal(t, 9300, launch.Ports[0].Port)
	// Dynamic assignment skips reserved ports and earlier assignments.
	assert.Equal(t, 20001, launch.Ports[1].Port)
	assert.Equal(t, 20002, launch.Ports[2].Port)

	assert.Equal(t, "9300", launch.Env["PORT_TRANSPORT"])
	assert.Equal(t, "20001", launch.Env["PORT_HTTP"])
}

func TestProvisionFixedPortConflict(t *testing.T) {
	p := &Provisioner{}
	req := testRequest()
	req.Task.Ports = []*types.PortSpec{
		{Name: "transport", EnvKey: "PORT_TRANSPORT", Port: 9300, Mode: types.PortModeFixed},
	}
	req.UsedPorts = map[int]bool{9300: true}

	_, err := p.Provision(req)
	require.Error(t, err)
	assert.True(t, errors.Is(err, types.ErrResourceInsufficient))
}

func TestProvisionPortRangeExhausted(t *testing.T) {
	p := &Provisioner{}
	req := testRequest()
	req.Task.Ports = []*types.PortSpec{
		{Name: "a", EnvKey: "PORT_A", Mode: types.PortModeDynamic},
		{Name: "b", EnvKey: "PORT_B", Mode: types.PortModeDynamic},
		{Name: "c", EnvKey: "PORT_C", Mode: types.PortModeDynamic},
		{Name: "d", EnvKey: "PORT_D", Mode: types.PortModeDynamic},
	}

	_, err := p.Provision(req)
	require.Error(t, err)
	assert.True(t, errors.Is(err, types.ErrResourceInsufficient))
}

func TestProvisionCapacity(t *testing.T) {
	tests := []struct {
		name   string
		adjust func(*Request)
	}{
		{
			name:   "cpu exhausted",
			adjust: func(r *Request) { r.Node.Resources.CPUUsed = 3.5 },
		},
		{
			name:   "memory exhausted",
			adjust: func(r *Request) { r.Node.Resources.MemoryUsed = 8000 },
		},
		{
			name: "disk exhausted",
			adjust: func(r *Request) {
				r.Task.Volume = &types.VolumeSpec{Path: "data", Type: types.VolumeTypeRoot, SizeMB: 200000}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := &Provisioner{}
			req := testRequest()
			tt.adjust(&req)

			_, err := p.Provision(req)
			require.Error(t, err)
			assert.True(t, errors.Is(err, types.ErrResourceInsufficient))
		})
	}
}

func TestProvisionEnv(t *testing.T) {
	p := &Provisioner{}
	req := testRequest()
	req.Task.Env = map[string]string{"ROLE": "data"}
	req.ExtraEnv = map[string]string{"MASTER_TRANSPORT_ENDPOINTS": "node-1.local:9300"}

	launch, err := p.Provision(req)
	require.NoError(t, err)

	assert.Equal(t, "data", launch.Env["ROLE"])
	assert.Equal(t, "data", launch.Env["POD_GROUP"])
	assert.Equal(t, "0", launch.Env["POD_INSTANCE_INDEX"])
	assert.Equal(t, "data-0", launch.Env["POD_INSTANCE_ID"])
	assert.Equal(t, "node-0.local", launch.Env["NODE_HOSTNAME"])
	assert.Equal(t, "node-1.local:9300", launch.Env["MASTER_TRANSPORT_ENDPOINTS"])
}

func TestProvisionConfigRendering(t *testing.T) {
	templates := map[string]string{
		"server-config": "port={{PORT_HTTP}}\npeers={{MASTER_TRANSPORT_ENDPOINTS}}\n",
	}
	p := &Provisioner{Templates: func(name string) (string, bool) {
		text, ok := templates[name]
		return text, ok
	}}

	req := testRequest()
	req.Task.Ports = []*types.PortSpec{
		{Name: "http", EnvKey: "PORT_HTTP", Mode: types.PortModeDynamic},
	}
	req.Task.Configs = []*types.ConfigArtifact{
		{Name: "main", Template: "server-config", DestPath: "conf/server.yml"},
	}
	req.ExtraEnv = map[string]string{"MASTER_TRANSPORT_ENDPOINTS": "a:9300,b:9300"}

	launch, err := p.Provision(req)
	require.NoError(t, err)
	require.Len(t, launch.Configs, 1)

	cfg := launch.Configs[0]
	assert.Equal(t, "conf/server.yml", cfg.DestPath)
	assert.Equal(t, "port=20000\npeers=a:9300,b:9300\n", cfg.Content)
}

func TestProvisionUnknownTemplate(t *testing.T) {
	p := &Provisioner{Templates: func(string) (string, bool) { return "", false }}
	req := testRequest()
	req.Task.Configs = []*types.ConfigArtifact{
		{Name: "main", Template: "ghost", DestPath: "conf/x"},
	}

	_, err := p.Provision(req)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown template")
}

func TestProvisionVolumeReuse(t *testing.T) {
	p := &Provisioner{}
	req := testRequest()
	req.Task.Volume = &types.VolumeSpec{Path: "data", Type: types.VolumeTypeMount, SizeMB: 1024}

	launch, err := p.Provision(req)
	require.NoError(t, err)
	require.NotNil(t, launch.Volume)
	assert.NotEmpty(t, launch.Volume.ID)
	assert.Equal(t, int64(1024), launch.DiskMB)

	// A replacement in the same slot keeps the volume handle, so the new
	// task finds its predecessor's data.
	req.Instance.VolumeID = launch.Volume.ID
	relaunch, err := p.Provision(req)
	require.NoError(t, err)
	assert.Equal(t, launch.Volume.ID, relaunch.Volume.ID)
}

func TestProvisionTransportEncryption(t *testing.T) {
	p := &Provisioner{}
	req := testRequest()
	req.Task.Transport = &types.TransportEncryption{Identity: "node"}

	launch, err := p.Provision(req)
	require.NoError(t, err)
	require.NotNil(t, launch.TLS)
	assert.Equal(t, ".ssl/node.crt", launch.TLS.CertPath)
	assert.Equal(t, "true", launch.Env["TRANSPORT_TLS_ENABLED"])
	assert.Equal(t, "node", launch.Env["TRANSPORT_TLS_IDENTITY"])
}
