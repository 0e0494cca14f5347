package readiness

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"time"

	"github.com/seastack/bosun/pkg/types"
)

// ExecProber runs the readiness command through the shell. Exit status
// zero means healthy. The instance's assigned ports are exported into the
// probe's environment under their declared env keys so a check can reach
// the instance's actual endpoint (e.g. curl -s localhost:$PORT_HTTP).
type ExecProber struct{}

// Probe implements Prober.
func (e *ExecProber) Probe(ctx context.Context, inst *types.PodInstance, check *types.ReadinessCheck) Result {
	start := time.Now()

	if check.Command == "" {
		return Result{Healthy: false, Message: "no probe command", CheckedAt: start}
	}

	cmd := exec.CommandContext(ctx, "sh", "-c", check.Command)
	cmd.Env = append(os.Environ(), probeEnv(inst)...)

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	err := cmd.Run()
	result := Result{
		Healthy:   err == nil,
		CheckedAt: start,
		Duration:  time.Since(start),
	}

	if ctx.Err() == context.DeadlineExceeded {
		result.Healthy = false
		result.TimedOut = true
		result.Message = fmt.Sprintf("probe timed out after %v", check.Timeout)
		return result
	}

	if err != nil {
		result.Message = err.Error()
		if stderr.Len() > 0 {
			msg := stderr.String()
			if len(msg) > 200 {
				msg = msg[:200]
			}
			result.Message = fmt.Sprintf("%v: %s", err, msg)
		}
	}
	return result
}

func probeEnv(inst *types.PodInstance) []string {
	env := make([]string, 0, len(inst.Ports)+1)
	for key, port := range inst.Ports {
		env = append(env, key+"="+strconv.Itoa(port))
	}
	env = append(env, "POD_INSTANCE_ID="+inst.ID)
	return env
}
