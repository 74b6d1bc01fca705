package tracking

import (
	"context"
	"sync"
	"time"
)

// loop runs tick repeatedly, waiting interval after each tick completes so a
// slow tick delays the next one instead of overlapping it.
type loop struct {
	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

func (l *loop) start(parent context.Context, interval time.Duration, tick func(ctx context.Context)) {
	l.stop()

	ctx, cancel := context.WithCancel(parent)
	done := make(chan struct{})

	l.mu.Lock()
	l.cancel = cancel
	l.done = done
	l.mu.Unlock()

	go func() {
		defer close(done)
		timer := time.NewTimer(0)
		defer timer.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-timer.C:
			}
			tick(ctx)
			timer.Reset(interval)
		}
	}()
}

// stop cancels the loop and waits for the in-flight tick to return.
func (l *loop) stop() {
	l.mu.Lock()
	cancel, done := l.cancel, l.done
	l.cancel, l.done = nil, nil
	l.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}

func (l *loop) running() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.cancel != nil
}
