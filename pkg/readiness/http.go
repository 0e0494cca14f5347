package readiness

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/seastack/bosun/pkg/types"
)

// HTTPProber probes an instance endpoint over HTTP. The target port comes
// from the instance's assigned ports; 2xx and 3xx statuses are healthy.
// Host is where the orchestrator reaches instance ports, 127.0.0.1 by
// default.
type HTTPProber struct {
	Host   string
	Client *http.Client
}

// Probe implements Prober.
func (h *HTTPProber) Probe(ctx context.Context, inst *types.PodInstance, check *types.ReadinessCheck) Result {
	start := time.Now()

	port, ok := inst.Ports[check.HTTP.PortEnv]
	if !ok {
		return Result{Message: fmt.Sprintf("no port assigned under %s", check.HTTP.PortEnv), CheckedAt: start}
	}
	path := check.HTTP.Path
	if path == "" {
		path = "/"
	}
	url := fmt.Sprintf("http://%s:%d%s", h.host(), port, path)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return Result{Message: err.Error(), CheckedAt: start, Duration: time.Since(start)}
	}

	resp, err := h.client().Do(req)
	result := Result{CheckedAt: start}
	if err != nil {
		result.Duration = time.Since(start)
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			result.TimedOut = true
			result.Message = fmt.Sprintf("probe timed out after %v", check.Timeout)
			return result
		}
		result.Message = err.Error()
		return result
	}
	defer resp.Body.Close()

	result.Duration = time.Since(start)
	result.Healthy = resp.StatusCode >= 200 && resp.StatusCode < 400
	result.Message = fmt.Sprintf("HTTP %d %s", resp.StatusCode, http.StatusText(resp.StatusCode))
	return result
}

func (h *HTTPProber) host() string {
	if h.Host != "" {
		return h.Host
	}
	return "127.0.0.1"
}

func (h *HTTPProber) client() *http.Client {
	if h.Client != nil {
		return h.Client
	}
	return http.DefaultClient
}
