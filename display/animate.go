package display

import (
	"math"
	"sync"
	"time"

	"github.com/pgaskin/gammad/colorramp"
)

// Step bounds for each animated property. Temperature is moved in coarser
// steps than brightness.
var (
	temperatureStep = stepBounds{min: 1, max: 10}
	brightnessStep  = stepBounds{min: 0.001, max: 0.005}
)

type stepBounds struct {
	min, max float64
}

// intervals computes the number of intervals, the per-interval step, and the
// wait between intervals for animating diff over seconds.
func (b stepBounds) intervals(diff, seconds float64) (count int, step float64, wait time.Duration) {
	raw := math.Copysign(math.Max(b.min, math.Min(b.max, math.Abs(diff)/seconds)), diff)
	count = max(int(math.Round(diff/raw)), 1)
	step = diff / float64(count)
	wait = time.Duration(seconds / float64(count) * float64(time.Second))
	return
}

// ChangeToColor changes the color of all outputs to target, blocking until
// every output's color is exactly target. If seconds is not zero, the
// temperature and brightness are animated over that duration, concurrently for
// every output. Outputs already at target are left alone, and outputs added
// while it runs start at target.
func (e *Engine) ChangeToColor(target colorramp.Color, seconds float64) {
	e.mu.Lock()
	e.target = &target
	e.mu.Unlock()

	defer func() {
		e.mu.Lock()
		e.target = nil
		e.mu.Unlock()
	}()

	var wg sync.WaitGroup
	for _, o := range e.snapshot() {
		if o.Color() == target {
			continue
		}
		wg.Go(func() {
			e.animate(o, target, seconds)
		})
	}
	wg.Wait()
}

func (e *Engine) animate(o *Output, target colorramp.Color, seconds float64) {
	if seconds > 0 {
		start := o.Color()

		var wg sync.WaitGroup
		if diff := float64(target.Temperature - start.Temperature); diff != 0 {
			wg.Go(func() {
				e.animateProperty(o, temperatureStep, float64(start.Temperature), diff, seconds, func(c *colorramp.Color, v float64) {
					c.Temperature = int(math.Round(v))
				})
			})
		}
		if diff := target.Brightness - start.Brightness; diff != 0 {
			wg.Go(func() {
				e.animateProperty(o, brightnessStep, start.Brightness, diff, seconds, func(c *colorramp.Color, v float64) {
					c.Brightness = v
				})
			})
		}
		wg.Wait()
	}

	// exact final value without any accumulated rounding error
	o.mu.Lock()
	changed := o.setColorLocked(target)
	o.mu.Unlock()
	if changed {
		e.notify()
	}
}

// animateProperty moves a single property from start by diff. The last
// interval is left to the caller, which sets the exact target.
func (e *Engine) animateProperty(o *Output, bounds stepBounds, start, diff, seconds float64, set func(*colorramp.Color, float64)) {
	count, step, wait := bounds.intervals(diff, seconds)
	for i := 1; i <= count; i++ {
		select {
		case <-time.After(wait):
		case <-e.stopped:
			return
		}
		if i == count {
			break
		}
		o.mu.Lock()
		c := o.color
		set(&c, start+step*float64(i))
		changed := o.setColorLocked(c)
		o.mu.Unlock()
		if changed {
			e.notify()
		}
	}
}
