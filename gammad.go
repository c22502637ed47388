// Package gammad switches the color of displays between day and night
// according to a schedule.
package gammad

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/pgaskin/gammad/colorramp"
	"github.com/pgaskin/gammad/config"
	"github.com/pgaskin/gammad/display"
	"github.com/pgaskin/gammad/schedule"
	"github.com/pgaskin/gammad/solar"
)

// Display is the part of [display.Engine] driven by the daemon.
type Display interface {
	Outputs() []display.OutputInfo
	ChangeToColor(target colorramp.Color, seconds float64)
}

var _ Display = (*display.Engine)(nil)

// Daemon drives a Display from a schedule. It is not safe for concurrent use,
// except for [Daemon.Reload].
type Daemon struct {
	display  Display
	logger   *slog.Logger
	clock    schedule.Clock
	onSwitch func(schedule.Mode, colorramp.Color)
	reload   chan *config.Config
	after    func(time.Duration) <-chan time.Time

	transition chan struct{} // closed when the last ChangeToColor returns
}

// Option configures a [Daemon].
type Option func(*Daemon)

// WithLogger sets the logger. If nil, logs are discarded.
func WithLogger(l *slog.Logger) Option {
	return func(d *Daemon) {
		d.logger = l
	}
}

// WithClock overrides the clock used for scheduling.
func WithClock(c schedule.Clock) Option {
	return func(d *Daemon) {
		d.clock = c
	}
}

// OnSwitch sets a function called after every transition completes.
func OnSwitch(fn func(mode schedule.Mode, color colorramp.Color)) Option {
	return func(d *Daemon) {
		d.onSwitch = fn
	}
}

// New creates a new Daemon for disp.
func New(disp Display, opt ...Option) *Daemon {
	d := &Daemon{
		display: disp,
		clock:   schedule.SystemClock{},
		reload:  make(chan *config.Config, 1),
		after:   time.After,
	}
	for _, o := range opt {
		o(d)
	}
	if d.logger == nil {
		d.logger = slog.New(slog.DiscardHandler)
	}
	return d
}

// Reload replaces the configuration used by a running [Daemon.Run] and
// reschedules. If a reload is already pending, it is replaced.
func (d *Daemon) Reload(cfg *config.Config) {
	for {
		select {
		case d.reload <- cfg:
			return
		default:
		}
		select {
		case <-d.reload:
		default:
		}
	}
}

// Run applies the color for the current mode, then waits for the next mode
// switch and repeats until ctx is canceled (in which case nil is returned) or
// fatal receives an error. The first color is applied immediately and later
// ones use the configured transition.
func (d *Daemon) Run(ctx context.Context, cfg *config.Config, fatal <-chan error) error {
	if len(d.display.Outputs()) == 0 {
		d.logger.Warn("no outputs")
	}
	first := true
	for {
		sched, err := schedule.New(cfg.Schedule, cfg.Location, schedule.WithClock(d.clock), schedule.WithLogger(d.logger))
		if err != nil {
			return fmt.Errorf("create schedule: %w", err)
		}

		var (
			mode  = sched.Mode()
			delay = sched.Delay()
		)
	run:
		for {
			transition := cfg.Transition
			if first {
				transition, first = 0, false
			}
			if !d.apply(ctx, cfg, mode, delay, transition) {
				return nil
			}

			select {
			case <-ctx.Done():
				return nil
			case err := <-fatal:
				return err
			case cfg = <-d.reload:
				d.logger.Info("config reloaded")
				break run
			case <-d.after(delay):
			}

			if mode, delay, err = sched.Next(); err != nil {
				if !errors.Is(err, solar.ErrNoSolarEvent) {
					return err
				}
				d.logger.Warn("failed to compute next switch, retrying later", "error", err, "retry", schedule.RetryDelay)
				delay = schedule.RetryDelay
			}
		}
	}
}

// Wait blocks until a transition which was still running when [Daemon.Run]
// returned is done. For a [display.Engine], call [display.Engine.Stop] first to
// end it early.
func (d *Daemon) Wait() {
	if d.transition != nil {
		<-d.transition
	}
}

// apply changes the display to the color for mode. It returns false if ctx is
// canceled before the transition is done.
func (d *Daemon) apply(ctx context.Context, cfg *config.Config, mode schedule.Mode, delay time.Duration, transition float64) bool {
	var (
		color = cfg.Color(mode)
		now   = d.clock.Now()
		until = now.Add(delay)
	)
	d.logger.Info("switching mode",
		"mode", mode,
		"color", color,
		"transition", time.Duration(transition*float64(time.Second)),
		"until", until.Format(time.DateTime),
		"next", humanize.RelTime(now, until, "from now", "ago"))

	if loc := cfg.Location; loc != nil {
		d.logger.Debug("solar elevation", "degrees", solar.Elevation(loc.Latitude(), loc.Longitude(), now))
	}

	done := make(chan struct{})
	d.transition = done
	go func() {
		defer close(done)
		d.display.ChangeToColor(color, transition)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		return false
	}

	if d.onSwitch != nil {
		d.onSwitch(mode, color)
	}
	return true
}
