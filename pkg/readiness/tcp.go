package readiness

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/seastack/bosun/pkg/types"
)

// TCPProber probes by opening a connection to the instance's port. A
// successful dial is healthy; nothing is written on the connection.
type TCPProber struct {
	Host string
}

// Probe implements Prober.
func (t *TCPProber) Probe(ctx context.Context, inst *types.PodInstance, check *types.ReadinessCheck) Result {
	start := time.Now()

	port, ok := inst.Ports[check.TCP.PortEnv]
	if !ok {
		return Result{Message: fmt.Sprintf("no port assigned under %s", check.TCP.PortEnv), CheckedAt: start}
	}

	host := t.Host
	if host == "" {
		host = "127.0.0.1"
	}
	addr := net.JoinHostPort(host, strconv.Itoa(port))

	var dialer net.Dialer
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	result := Result{CheckedAt: start, Duration: time.Since(start)}
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			result.TimedOut = true
			result.Message = fmt.Sprintf("probe timed out after %v", check.Timeout)
			return result
		}
		result.Message = err.Error()
		return result
	}
	conn.Close()

	result.Healthy = true
	result.Message = "connected to " + addr
	return result
}
