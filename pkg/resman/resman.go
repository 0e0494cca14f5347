package resman

import (
	"context"
	"time"

	"github.com/seastack/bosun/pkg/types"
)

// Driver is the orchestrator's view of the underlying cluster resource
// manager. The orchestrator is a consumer of this protocol, never an
// implementer: it hands over accepted launch requests and kill requests
// and watches the status-update stream for the results.
type Driver interface {
	// Launch submits an accepted launch request. An error means the
	// resource manager did not acknowledge the request; callers retry with
	// backoff and treat persistent failure as
	// types.ErrResourceManagerUnavailable.
	Launch(ctx context.Context, req *types.LaunchRequest) error

	// Kill requests termination of an instance's task, allowing up to
	// grace for a clean shutdown before the task is force-killed.
	Kill(ctx context.Context, instanceID string, grace time.Duration) error

	// Updates is the status-update stream: one entry per observed task
	// state transition.
	Updates() <-chan types.StatusUpdate

	// Close releases the driver's resources.
	Close() error
}
