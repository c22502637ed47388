//go:build linux

package display

import (
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	wl "github.com/friedelschoen/wayland"
	"github.com/pgaskin/gammad/wayland"
	"github.com/pgaskin/gammad/wayland/zwlr"
)

// outputVersion is the highest wl_output version we understand. Version 4
// added the name event.
const outputVersion = 4

// Wayland drives an Engine using wlr-gamma-control-unstable-v1. Only one
// client may control the gamma of an output at a time; the others will get a
// failed event, which is logged.
type Wayland struct {
	conn   *wayland.Connection
	engine *Engine
	logger *slog.Logger

	// only accessed within conn.Do
	manager *zwlr.GammaControlManagerV1
	pending []*wlOutput // bound before startup finished
	started bool

	stop     chan struct{}
	stopOnce sync.Once
	done     chan struct{}
}

// NewWayland connects to the named display (or $WAYLAND_DISPLAY if empty),
// binds the gamma control manager and every output, and starts uploading
// gamma ramps from engine whenever it changes. The returned channel receives
// the error which closed the connection, or nil if it was closed by
// [Wayland.Close].
func NewWayland(display string, engine *Engine, logger *slog.Logger) (*Wayland, <-chan error, error) {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	conn, err := wayland.Connect(display)
	if err != nil {
		return nil, nil, fmt.Errorf("connect to wayland display: %w", err)
	}

	w := &Wayland{
		conn:   conn,
		engine: engine,
		logger: logger,
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
	if err := w.start(); err != nil {
		conn.Close()
		return nil, nil, err
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- conn.Closed()
	}()
	go w.upload()

	return w, errCh, nil
}

func (w *Wayland) start() error {
	if err := w.conn.Registry(wl.RegistryListener{
		Global:       w.registryGlobal,
		GlobalRemove: w.registryGlobalRemove,
	}); err != nil {
		return err
	}

	// collect the initial globals
	if err := w.conn.Roundtrip(); err != nil {
		return err
	}

	if err := w.conn.Do(func() error {
		if w.manager == nil {
			return ErrUnsupportedCompositor
		}
		if len(w.pending) == 0 {
			return ErrNoOutput
		}
		for _, o := range w.pending {
			w.addOutputLocked(o)
		}
		w.pending = nil
		w.started = true
		return nil
	}); err != nil {
		return err
	}

	// wait for the gamma sizes so the initial ramps are uploaded before we
	// return
	return w.conn.Roundtrip()
}

// upload applies pending colors on the connection until stopped or until the
// connection is closed.
func (w *Wayland) upload() {
	defer close(w.done)
	for {
		select {
		case <-w.stop:
			return
		case <-w.engine.Changed():
			if err := w.conn.Do(w.engine.Apply); err != nil {
				return // fatal, so the connection has been closed
			}
		}
	}
}

// Close restores the original gamma ramps of all outputs and closes the
// connection.
func (w *Wayland) Close() {
	w.engine.Stop()
	w.stopOnce.Do(func() {
		close(w.stop)
	})
	<-w.done
	_ = w.conn.Do(func() error {
		w.engine.Close()
		return nil
	})
	w.conn.Close()
}

func (w *Wayland) registryGlobal(data any, self wl.Registry, name uint32, iface string, version uint32) error {
	return w.conn.Do(func() error {
		switch iface {
		case zwlr.GammaControlManagerV1Interface.Name:
			if w.manager == nil {
				w.manager = new(zwlr.GammaControlManagerV1(self.Bind(name, &zwlr.GammaControlManagerV1Interface, 1)))
				w.logger.Debug("display: bound gamma control manager", "version", version)
			}

		case wl.OutputInterface.Name:
			version = min(version, outputVersion)
			o := &wlOutput{
				id:      name,
				version: version,
				output:  new(wl.Output(self.Bind(name, &wl.OutputInterface, version))),
			}
			o.output.SetListener(wl.OutputListener{
				Name: func(data any, self wl.Output, name string) error {
					return w.conn.Do(func() error {
						w.engine.SetOutputName(o.id, name)
						return nil
					})
				},
			}, nil)
			if w.started {
				w.addOutputLocked(o)
			} else {
				// defer it until we know whether we have a gamma control
				// manager
				w.pending = append(w.pending, o)
			}
		}
		return nil
	})
}

func (w *Wayland) registryGlobalRemove(data any, self wl.Registry, name uint32) error {
	return w.conn.Do(func() error {
		w.pending = slices.DeleteFunc(w.pending, func(o *wlOutput) bool {
			if o.id == name {
				o.Destroy()
				return true
			}
			return false
		})
		w.engine.RemoveOutput(name)
		return nil
	})
}

// addOutputLocked gets a gamma control for o and adds it to the engine. It
// must be called within conn.Do.
func (w *Wayland) addOutputLocked(o *wlOutput) {
	o.control = new(w.manager.GetGammaControl(*o.output))
	o.control.SetListener(zwlr.GammaControlV1Listener{
		GammaSize: func(data any, self zwlr.GammaControlV1, size uint32) error {
			return w.conn.Do(func() error {
				if err := o.resize(int(size)); err != nil {
					return fmt.Errorf("output %d: %w", o.id, err)
				}
				return w.engine.SetRampSize(o.id, int(size))
			})
		},
		Failed: func(data any, self zwlr.GammaControlV1) error {
			return w.conn.Do(func() error {
				w.engine.FailOutput(o.id)
				return nil
			})
		},
	}, nil)
	w.engine.AddOutput(o.id, o)
}

// wlOutput implements Control for a single wl_output. All methods must be
// called within conn.Do.
type wlOutput struct {
	id      uint32
	version uint32
	output  *wl.Output
	control *zwlr.GammaControlV1
	ramp    *wayland.Ramp
}

func (o *wlOutput) resize(size int) error {
	if o.ramp != nil && o.ramp.Size() == size {
		return nil
	}
	if o.ramp != nil {
		o.ramp.Close()
		o.ramp = nil
	}
	if size == 0 {
		return nil
	}
	ramp, err := wayland.NewRamp(size)
	if err != nil {
		return fmt.Errorf("create gamma ramp: %w", err)
	}
	o.ramp = ramp
	return nil
}

// SetGamma implements Control.
func (o *wlOutput) SetGamma(table []uint16) error {
	if o.ramp == nil || o.control == nil {
		return errors.New("no gamma ramp")
	}
	if err := o.ramp.Write(table); err != nil {
		return err
	}
	o.control.SetGamma(o.ramp.Fd()) // if the compositor rejects it, we'll get a failed event
	return nil
}

// Destroy implements Control.
func (o *wlOutput) Destroy() {
	if o.control != nil {
		o.control.Destroy() // restores the original gamma
		o.control = nil
	}
	if o.output != nil {
		if o.version >= 3 {
			o.output.Release()
		}
		o.output = nil
	}
	if o.ramp != nil {
		o.ramp.Close()
		o.ramp = nil
	}
}
