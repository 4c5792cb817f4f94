// Package eventloop provides the single control goroutine that owns all
// streaming session state. Work arriving from transport reads, capture
// devices, decoders and players is posted here and executed one task at a
// time, in post order.
package eventloop

import (
	"context"
	"sync"

	"github.com/d1nch8g/convo/queue"
)

// Loop is a serial task executor. The zero value is not usable; call New.
type Loop struct {
	mu      sync.Mutex
	tasks   *queue.Queue[func()]
	stopped bool

	wake chan struct{}
	done chan struct{}
	once sync.Once
}

// New creates a loop. Tasks may be posted before Run is called; they execute
// once Run starts.
func New() *Loop {
	return &Loop{
		tasks: queue.New[func()](),
		wake:  make(chan struct{}, 1),
		done:  make(chan struct{}),
	}
}

// Post schedules fn on the loop goroutine. It never blocks. It returns false
// if the loop has already stopped, in which case fn will never run; a true
// result guarantees fn runs, even if the loop is stopping.
func (l *Loop) Post(fn func()) bool {
	l.mu.Lock()
	if l.stopped {
		l.mu.Unlock()
		return false
	}
	l.tasks.Enqueue(fn)
	l.mu.Unlock()

	select {
	case l.wake <- struct{}{}:
	default:
	}
	return true
}

// Call schedules fn and waits until it has run. It returns false if the loop
// stopped before fn could run. Call must not be used from a task running on
// the loop itself.
func (l *Loop) Call(fn func()) bool {
	ran := make(chan struct{})
	if !l.Post(func() {
		fn()
		close(ran)
	}) {
		return false
	}

	select {
	case <-ran:
		return true
	case <-l.done:
		// The task may have run just before the loop exited.
		select {
		case <-ran:
			return true
		default:
			return false
		}
	}
}

// Done is closed once Run has returned.
func (l *Loop) Done() <-chan struct{} {
	return l.done
}

// Run executes posted tasks on the calling goroutine until ctx is cancelled.
// Once ctx is done the loop refuses new posts and runs the tasks it had
// already accepted, so a successful Post always executes. Run must be
// called at most once.
func (l *Loop) Run(ctx context.Context) error {
	defer l.once.Do(func() { close(l.done) })

	for {
		l.mu.Lock()
		batch := l.tasks.Drain()
		l.mu.Unlock()

		for _, fn := range batch {
			fn()
		}
		if len(batch) > 0 && ctx.Err() == nil {
			continue
		}

		select {
		case <-ctx.Done():
			l.shutdown()
			return ctx.Err()
		case <-l.wake:
		}
	}
}

// shutdown stops accepting posts and drains what was accepted. Tasks run
// here may still post; those posts are refused.
func (l *Loop) shutdown() {
	l.mu.Lock()
	l.stopped = true
	rest := l.tasks.Drain()
	l.mu.Unlock()

	for _, fn := range rest {
		fn()
	}
}

// Dispatcher schedules a function on the control goroutine and reports
// whether it was accepted. (*Loop).Post satisfies it.
type Dispatcher func(fn func()) bool
