// Package display keeps the gamma ramps of a set of outputs in sync with
// their colors, and animates color changes.
package display

import (
	"cmp"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"math"
	"slices"
	"sync"

	"github.com/pgaskin/gammad/colorramp"
)

// Startup errors.
var (
	ErrUnsupportedCompositor = errors.New("compositor does not support wlr-gamma-control-unstable-v1")
	ErrNoOutput              = errors.New("no outputs found")
)

// Control is the protocol side of a single output.
type Control interface {
	// SetGamma uploads a gamma table containing the red, green, and blue
	// ramps concatenated. An error is fatal for the whole engine.
	SetGamma(table []uint16) error

	// Destroy releases the protocol objects. It is called at most once.
	Destroy()
}

// Output is a single physical output.
type Output struct {
	id      uint32
	control Control

	mu       sync.Mutex
	name     string
	rampSize int
	color    colorramp.Color
	changed  bool // color has not been uploaded yet
}

// ID returns the registry name of the output.
func (o *Output) ID() uint32 {
	return o.id
}

// Color returns the current color of the output.
func (o *Output) Color() colorramp.Color {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.color
}

// setColorLocked must be called with o.mu held.
func (o *Output) setColorLocked(c colorramp.Color) bool {
	if o.color == c {
		return false
	}
	o.color = c
	o.changed = true
	return true
}

// OutputInfo is a snapshot of an output's state.
type OutputInfo struct {
	ID       uint32
	Name     string
	RampSize int
	Color    colorramp.Color
	Pending  bool
}

// Engine tracks outputs and uploads their gamma ramps when their color
// changes.
//
// The methods which add, remove, or upload to outputs are only called from the
// goroutine owning the protocol connection. Everything else is safe for
// concurrent use.
type Engine struct {
	logger *slog.Logger
	fill   func(r, g, b []uint16, c colorramp.Color)

	mu      sync.RWMutex // protects the outputs map and target, not the outputs
	outputs map[uint32]*Output
	target  *colorramp.Color // set while ChangeToColor is running

	changed chan struct{}

	stopOnce sync.Once
	stopped  chan struct{} // closed to abandon running transitions
}

// New creates a new Engine. If logger is nil, logs are discarded.
func New(logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Engine{
		logger:  logger,
		fill:    colorramp.Fill[uint16],
		outputs: make(map[uint32]*Output),
		changed: make(chan struct{}, 1),
		stopped: make(chan struct{}),
	}
}

// Changed notifies when an output has a color which wasn't uploaded yet.
// Notifications are coalesced; the buffer size is 1.
func (e *Engine) Changed() <-chan struct{} {
	return e.changed
}

func (e *Engine) notify() {
	select {
	case e.changed <- struct{}{}:
	default:
	}
}

func (e *Engine) output(id uint32) *Output {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.outputs[id]
}

// snapshot returns the current outputs sorted by id.
func (e *Engine) snapshot() []*Output {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return slices.SortedFunc(maps.Values(e.outputs), func(a, b *Output) int {
		return cmp.Compare(a.id, b.id)
	})
}

// Len returns the number of outputs.
func (e *Engine) Len() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.outputs)
}

// Outputs returns information about the current outputs.
func (e *Engine) Outputs() []OutputInfo {
	outputs := e.snapshot()
	infos := make([]OutputInfo, len(outputs))
	for i, o := range outputs {
		o.mu.Lock()
		infos[i] = OutputInfo{
			ID:       o.id,
			Name:     o.name,
			RampSize: o.rampSize,
			Color:    o.color,
			Pending:  o.changed,
		}
		o.mu.Unlock()
	}
	return infos
}

// Color returns the mean temperature and brightness of all outputs, or the
// default color if there are none. The gamma and inversion are taken from the
// first output.
func (e *Engine) Color() colorramp.Color {
	outputs := e.snapshot()
	if len(outputs) == 0 {
		return colorramp.Default
	}
	var (
		temperature int
		brightness  float64
		c           colorramp.Color
	)
	for i, o := range outputs {
		oc := o.Color()
		if i == 0 {
			c = oc
		}
		temperature += oc.Temperature
		brightness += oc.Brightness
	}
	c.Temperature = temperature / len(outputs)
	c.Brightness = brightness / float64(len(outputs))
	return c
}

// AddOutput starts tracking a newly bound output. Its color is initialized to
// the current aggregate color so it matches the other outputs, or to the
// target of a running [Engine.ChangeToColor]. If an output with the same id
// exists, it is destroyed first.
func (e *Engine) AddOutput(id uint32, control Control) *Output {
	o := &Output{
		id:      id,
		control: control,
		color:   e.Color(),
		changed: true,
	}

	e.mu.Lock()
	if e.target != nil {
		o.color = *e.target
	}
	old := e.outputs[id]
	e.outputs[id] = o
	e.mu.Unlock()

	if old != nil {
		old.control.Destroy()
	}
	e.logger.Debug("display: new output", "output", id, "color", o.color)
	return o
}

// SetOutputName sets the human-readable name of an output.
func (e *Engine) SetOutputName(id uint32, name string) {
	if o := e.output(id); o != nil {
		o.mu.Lock()
		o.name = name
		o.mu.Unlock()
		e.logger.Debug("display: output name", "output", id, "name", name)
	}
}

// SetRampSize sets the gamma ramp size of an output, uploading the current
// color immediately if the size changed.
func (e *Engine) SetRampSize(id uint32, size int) error {
	o := e.output(id)
	if o == nil {
		return nil
	}

	o.mu.Lock()
	resized := size != 0 && size != o.rampSize
	o.rampSize = size
	if resized {
		o.changed = true // the new ramp is empty
	}
	o.mu.Unlock()

	e.logger.Debug("display: output ramp size", "output", id, "size", size)
	if resized {
		return e.upload(o)
	}
	return nil
}

// RemoveOutput stops tracking an output and destroys it. It does nothing if
// the output isn't tracked.
func (e *Engine) RemoveOutput(id uint32) {
	if e.remove(id) {
		e.logger.Debug("display: output removed", "output", id)
	}
}

// FailOutput is like RemoveOutput, but for when the compositor revoked gamma
// control for the output.
func (e *Engine) FailOutput(id uint32) {
	if e.remove(id) {
		e.logger.Warn("display: gamma control failed for output (is another program controlling it?)", "output", id)
	}
}

func (e *Engine) remove(id uint32) bool {
	// remove it first so nothing else can reach it while it's destroyed
	e.mu.Lock()
	o, ok := e.outputs[id]
	delete(e.outputs, id)
	e.mu.Unlock()

	if ok {
		o.control.Destroy()
	}
	return ok
}

// Apply uploads the gamma ramps of all outputs with a pending color change.
func (e *Engine) Apply() error {
	var errs []error
	for _, o := range e.snapshot() {
		if err := e.upload(o); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// upload uploads the gamma ramp for o if it has a pending change and the ramp
// size is known.
func (e *Engine) upload(o *Output) error {
	o.mu.Lock()
	if !o.changed || o.rampSize == 0 {
		o.mu.Unlock()
		return nil
	}
	var (
		c    = o.color
		size = o.rampSize
	)
	o.changed = false
	o.mu.Unlock()

	table := make([]uint16, size*3)
	e.fill(table[:size], table[size:size*2], table[size*2:], c)
	if err := o.control.SetGamma(table); err != nil {
		return fmt.Errorf("output %d: set gamma: %w", o.id, err)
	}
	return nil
}

// Stop makes running and future transitions return without waiting for the
// remaining intervals. It may be called from any goroutine.
func (e *Engine) Stop() {
	e.stopOnce.Do(func() {
		close(e.stopped)
	})
}

// Close stops transitions and destroys all outputs.
func (e *Engine) Close() {
	e.Stop()
	e.mu.Lock()
	outputs := e.outputs
	e.outputs = make(map[uint32]*Output)
	e.mu.Unlock()

	for _, o := range outputs {
		o.control.Destroy()
	}
}

// SetTemperature immediately sets the temperature of all outputs.
func (e *Engine) SetTemperature(temperature int) {
	temperature = min(max(temperature, colorramp.MinTemperature), colorramp.MaxTemperature)
	e.update(func(c *colorramp.Color) {
		c.Temperature = temperature
	})
}

// SetBrightness immediately sets the brightness of all outputs.
func (e *Engine) SetBrightness(brightness float64) {
	brightness = math.Max(0, math.Min(1, brightness))
	e.update(func(c *colorramp.Color) {
		c.Brightness = brightness
	})
}

// UpdateTemperature adds delta to the temperature of all outputs, returning
// true if any output was changed.
func (e *Engine) UpdateTemperature(delta int) bool {
	return e.update(func(c *colorramp.Color) {
		c.Temperature = min(max(c.Temperature+delta, colorramp.MinTemperature), colorramp.MaxTemperature)
	})
}

// UpdateBrightness adds delta to the brightness of all outputs, returning true
// if any output was changed.
func (e *Engine) UpdateBrightness(delta float64) bool {
	return e.update(func(c *colorramp.Color) {
		c.Brightness = math.Max(0, math.Min(1, c.Brightness+delta))
	})
}

func (e *Engine) update(fn func(*colorramp.Color)) bool {
	var updated bool
	for _, o := range e.snapshot() {
		o.mu.Lock()
		c := o.color
		fn(&c)
		if o.setColorLocked(c) {
			updated = true
		}
		o.mu.Unlock()
	}
	if updated {
		e.notify()
	}
	return updated
}
