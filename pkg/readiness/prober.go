package readiness

import (
	"context"

	"github.com/seastack/bosun/pkg/types"
)

// NewProber returns the standard prober: each check is routed to the
// implementation for its kind.
func NewProber() Prober {
	return &router{
		exec: &ExecProber{},
		http: &HTTPProber{},
		tcp:  &TCPProber{},
	}
}

type router struct {
	exec Prober
	http Prober
	tcp  Prober
}

func (r *router) Probe(ctx context.Context, inst *types.PodInstance, check *types.ReadinessCheck) Result {
	switch {
	case check.HTTP != nil:
		return r.http.Probe(ctx, inst, check)
	case check.TCP != nil:
		return r.tcp.Probe(ctx, inst, check)
	default:
		return r.exec.Probe(ctx, inst, check)
	}
}
