// Package transition interpolates layer alpha over a fixed number of frames.
package transition

import (
	"context"
	"sync"
	"time"

	logging "github.com/ipfs/go-log/v2"
)

var logger = logging.Logger("fogmask/transition")

// FPS is the frame rate transitions are stepped at.
const FPS = 60

// FrameInterval is the delay between two frames.
const FrameInterval = time.Second / FPS

// Task moves a value from Start to End over Duration.
type Task struct {
	Start    float64
	End      float64
	Duration time.Duration
}

// Frames is the bounded number of steps the task takes. Zero means the end
// value applies at once.
func (t Task) Frames() int {
	if t.Duration <= 0 {
		return 0
	}
	return int((int64(t.Duration)*FPS + int64(time.Second) - 1) / int64(time.Second))
}

// Value returns the value after frame steps.
func (t Task) Value(frame int) float64 {
	n := t.Frames()
	if frame >= n || n == 0 {
		return t.End
	}
	if frame <= 0 {
		return t.Start
	}
	return t.Start + (t.End-t.Start)*float64(frame)/float64(n)
}

// ApplyFunc receives every interpolated value, the final one included.
type ApplyFunc func(v float64)

// Runner runs at most one task at a time. Starting a task cancels the one in
// flight.
type Runner struct {
	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// Run starts task in the background. When animate is false the end value
// is applied synchronously instead.
func (r *Runner) Run(ctx context.Context, task Task, animate bool, apply ApplyFunc) {
	r.Cancel()

	if !animate || task.Frames() == 0 || task.Start == task.End {
		apply(task.End)
		return
	}

	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})

	r.mu.Lock()
	r.cancel = cancel
	r.done = done
	r.mu.Unlock()

	go func() {
		defer close(done)
		ticker := time.NewTicker(FrameInterval)
		defer ticker.Stop()

		n := task.Frames()
		for frame := 1; frame <= n; frame++ {
			select {
			case <-ctx.Done():
				logger.Debugf("transition to %.2f cancelled at frame %d/%d", task.End, frame, n)
				return
			case <-ticker.C:
				apply(task.Value(frame))
			}
		}
	}()
}

// Cancel stops the running task, if any, and waits for it to exit. The last
// applied value stays in place.
func (r *Runner) Cancel() {
	r.mu.Lock()
	cancel, done := r.cancel, r.done
	r.cancel, r.done = nil, nil
	r.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}
}

// Wait blocks until the running task finishes or is cancelled.
func (r *Runner) Wait() {
	r.mu.Lock()
	done := r.done
	r.mu.Unlock()

	if done != nil {
		<-done
	}
}
