package audio

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/d1nch8g/convo/eventloop"
	"github.com/d1nch8g/convo/logging"
)

// ErrAlreadyStarted is returned by Start on a running capture.
var ErrAlreadyStarted = errors.New("capture already started")

// Handlers receive capture events. They always run on the dispatcher's
// goroutine and never after Stop.
type Handlers struct {
	// Ready reports the acquisition outcome.
	Ready func(err error)
	// Chunk receives each captured chunk.
	Chunk func(chunk []byte)
	// Failed reports a device failure after a successful Ready. No further
	// events follow.
	Failed func(err error)
}

// Capture turns a microphone into a sequence of chunks, one per device
// read. Its methods must be called from the dispatcher's goroutine. A
// Capture may be restarted after Stop; a restart does not acquire the
// device until the previous run has closed it.
type Capture struct {
	source   Source
	dispatch eventloop.Dispatcher
	logger   *zap.Logger

	gen      uint64 // bumped on every Start and Stop; stale callbacks compare against it
	running  bool
	cancel   context.CancelFunc
	released chan struct{} // closed once the latest run holds no device
}

func NewCapture(source Source, dispatch eventloop.Dispatcher, logger *zap.Logger) *Capture {
	return &Capture{
		source:   source,
		dispatch: dispatch,
		logger:   logging.OrNop(logger),
	}
}

// Active reports whether the capture is acquiring or streaming.
func (c *Capture) Active() bool {
	return c.running
}

// Released returns a channel that is closed once the latest run has closed
// its device, or has given up acquiring one. It may be waited on from any
// goroutine.
func (c *Capture) Released() <-chan struct{} {
	if c.released == nil {
		c.released = make(chan struct{})
		close(c.released)
	}
	return c.released
}

// Start acquires the device in the background and streams chunks to h
// until Stop is called or the device fails.
func (c *Capture) Start(h Handlers) error {
	if c.running {
		return ErrAlreadyStarted
	}
	c.gen++
	gen := c.gen
	c.running = true

	ctx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel

	prev := c.Released()
	released := make(chan struct{})
	c.released = released

	// finish ends a run that never reached the pump.
	finish := func(dev Device) {
		if dev != nil {
			c.release(dev)
		}
		close(released)
	}

	go func() {
		<-prev
		dev, err := c.source.Acquire(ctx)
		accepted := c.dispatch(func() {
			if gen != c.gen {
				finish(dev)
				return
			}
			if err != nil {
				finish(nil)
				c.halt()
				h.Ready(err)
				return
			}
			go c.pump(ctx, gen, dev, released, h)
			h.Ready(nil)
		})
		if !accepted {
			finish(dev)
		}
	}()
	return nil
}

// Stop halts chunk production and releases the device. Safe to call at
// any time, including before Start.
func (c *Capture) Stop() {
	if !c.running {
		return
	}
	c.halt()
}

func (c *Capture) halt() {
	c.running = false
	c.gen++
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
}

// pump owns dev: it reads until cancelled, then closes it and signals
// released.
func (c *Capture) pump(ctx context.Context, gen uint64, dev Device, released chan struct{}, h Handlers) {
	defer close(released)
	defer c.release(dev)

	for {
		chunk, err := dev.Read()
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			c.dispatch(func() {
				if gen != c.gen {
					return
				}
				c.halt()
				h.Failed(err)
			})
			return
		}
		if len(chunk) == 0 {
			continue
		}
		if !c.dispatch(func() {
			if gen == c.gen {
				h.Chunk(chunk)
			}
		}) {
			return
		}
	}
}

func (c *Capture) release(dev Device) {
	if err := dev.Close(); err != nil {
		c.logger.Warn("failed to release capture device", zap.Error(err))
	}
}
