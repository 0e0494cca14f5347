package resman

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/seastack/bosun/pkg/types"
)

// Loopback is an in-process Driver that acknowledges every launch and
// walks tasks through staging -> running on a timer. It backs local
// single-node runs and the test suites; a production deployment swaps in
// a driver speaking the real resource-manager protocol.
type Loopback struct {
	// StartDelay is how long a launched task stays in staging.
	StartDelay time.Duration

	mu       sync.Mutex
	launches map[string]*types.LaunchRequest // launch ID -> request
	updates  chan types.StatusUpdate
	closed   bool

	// LaunchErr, when set, is returned by Launch. Used to exercise
	// resource-manager unavailability handling.
	LaunchErr error
}

// NewLoopback creates a loopback driver.
func NewLoopback() *Loopback {
	return &Loopback{
		StartDelay: 10 * time.Millisecond,
		launches:   make(map[string]*types.LaunchRequest),
		updates:    make(chan types.StatusUpdate, 256),
	}
}

// Launch implements Driver. A pod's tasks arrive as separate requests
// sharing one instance ID; each is tracked and reported independently.
func (l *Loopback) Launch(ctx context.Context, req *types.LaunchRequest) error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return fmt.Errorf("driver closed")
	}
	if l.LaunchErr != nil {
		err := l.LaunchErr
		l.mu.Unlock()
		return err
	}
	l.launches[req.ID] = req
	delay := l.StartDelay
	l.mu.Unlock()

	l.emit(types.StatusUpdate{
		InstanceID: req.InstanceID,
		LaunchID:   req.ID,
		State:      types.RunStateStaging,
		Timestamp:  time.Now(),
	})

	go func() {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return
		}
		l.mu.Lock()
		_, ok := l.launches[req.ID]
		l.mu.Unlock()
		if !ok {
			return // killed while staging
		}
		l.emit(types.StatusUpdate{
			InstanceID: req.InstanceID,
			LaunchID:   req.ID,
			State:      types.RunStateRunning,
			Timestamp:  time.Now(),
		})
	}()

	return nil
}

// Kill implements Driver. Every launch belonging to the instance is torn
// down and reported finished.
func (l *Loopback) Kill(ctx context.Context, instanceID string, grace time.Duration) error {
	for _, req := range l.take(instanceID) {
		l.emit(types.StatusUpdate{
			InstanceID: instanceID,
			LaunchID:   req.ID,
			State:      types.RunStateFinished,
			Timestamp:  time.Now(),
		})
	}
	return nil
}

// Fail reports the instance's launches as failed, the way a crashed task
// would appear on the status stream.
func (l *Loopback) Fail(instanceID, message string) {
	for _, req := range l.take(instanceID) {
		l.emit(types.StatusUpdate{
			InstanceID: instanceID,
			LaunchID:   req.ID,
			State:      types.RunStateFailed,
			Message:    message,
			Timestamp:  time.Now(),
		})
	}
}

// take removes and returns all launches tracked for an instance.
func (l *Loopback) take(instanceID string) []*types.LaunchRequest {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []*types.LaunchRequest
	for id, req := range l.launches {
		if req.InstanceID == instanceID {
			out = append(out, req)
			delete(l.launches, id)
		}
	}
	return out
}

// Running reports whether the driver currently tracks any launch for the
// instance.
func (l *Loopback) Running(instanceID string) bool {
	return l.LaunchCount(instanceID) > 0
}

// LaunchCount reports how many launches the driver tracks for the instance.
func (l *Loopback) LaunchCount(instanceID string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for _, req := range l.launches {
		if req.InstanceID == instanceID {
			n++
		}
	}
	return n
}

// Updates implements Driver.
func (l *Loopback) Updates() <-chan types.StatusUpdate {
	return l.updates
}

// Close implements Driver.
func (l *Loopback) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.closed {
		l.closed = true
		close(l.updates)
	}
	return nil
}

func (l *Loopback) emit(update types.StatusUpdate) {
	l.mu.Lock()
	closed := l.closed
	l.mu.Unlock()
	if closed {
		return
	}
	select {
	case l.updates <- update:
	default:
	}
}
