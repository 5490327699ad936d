// Package fade ramps an audio sink's gain.
package fade

import (
	"context"
	"errors"
	"sync"
	"time"
)

// Floor is the starting gain for a fade-in. Zero would make some sinks drop the stream.
const Floor = 0.01

// ErrFadeInFlight is returned when a fade-out is requested while another runs.
var ErrFadeInFlight = errors.New("fade: fade-out already in progress")

type GainSetter interface {
	SetGain(level float64) error
}

type Stopper interface {
	GainSetter
	Stop() error
}

// Ramp moves gain linearly from -> to over d in steps increments. Write errors
// are ignored so a sink disappearing mid-ramp is harmless.
func Ramp(ctx context.Context, sink GainSetter, from, to float64, d time.Duration, steps int) {
	if sink == nil {
		return
	}
	if steps < 1 || d <= 0 {
		_ = sink.SetGain(to)
		return
	}
	interval := d / time.Duration(steps)
	delta := (to - from) / float64(steps)
	timer := time.NewTimer(interval)
	defer timer.Stop()
	for i := 1; i <= steps; i++ {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}
		level := from + delta*float64(i)
		if i == steps {
			level = to
		}
		_ = sink.SetGain(level)
		timer.Reset(interval)
	}
}

// Controller serializes fades for one guild.
type Controller struct {
	mu         sync.Mutex
	fadingOut  bool
	cancelFade context.CancelFunc
	fadeDone   chan struct{}
}

func NewController() *Controller {
	return &Controller{}
}

// FadeIn starts an asynchronous ramp from Floor to target. A later FadeOut or
// FadeIn cancels it. done is closed when the ramp ends.
func (c *Controller) FadeIn(sink GainSetter, target float64, d time.Duration, steps int) (done <-chan struct{}) {
	ctx, cancel := context.WithCancel(context.Background())
	ch := make(chan struct{})
	c.mu.Lock()
	c.stopFadeInLocked()
	c.cancelFade = cancel
	c.fadeDone = ch
	c.mu.Unlock()

	go func() {
		defer close(ch)
		defer cancel()
		_ = sink.SetGain(Floor)
		Ramp(ctx, sink, Floor, target, d, steps)
	}()
	return ch
}

// FadeOut ramps the sink down and stops it. Only one fade-out may run at a
// time; a second request hard-stops the sink and returns ErrFadeInFlight.
func (c *Controller) FadeOut(ctx context.Context, sink Stopper, from float64, d time.Duration, steps int) error {
	if sink == nil {
		return nil
	}
	c.mu.Lock()
	if c.fadingOut {
		c.mu.Unlock()
		_ = sink.Stop()
		return ErrFadeInFlight
	}
	c.fadingOut = true
	c.stopFadeInLocked()
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		c.fadingOut = false
		c.mu.Unlock()
	}()

	Ramp(ctx, sink, from, 0, d, steps)
	return sink.Stop()
}

// CancelFadeIn stops a running fade-in after its last write, so a gain set
// afterwards sticks.
func (c *Controller) CancelFadeIn() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stopFadeInLocked()
}

// stopFadeInLocked cancels a running fade-in and waits for its last write.
func (c *Controller) stopFadeInLocked() {
	if c.cancelFade == nil {
		return
	}
	c.cancelFade()
	<-c.fadeDone
	c.cancelFade = nil
	c.fadeDone = nil
}

// Busy reports whether a fade-out is running.
func (c *Controller) Busy() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.fadingOut
}
