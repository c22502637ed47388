// Package schedule decides whether the day or night color profile should be
// active, and when the next switch happens.
package schedule

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/pgaskin/gammad/solar"
)

// ErrLocationRequired is returned when a schedule depends on the sun but no
// coordinates were provided.
var ErrLocationRequired = errors.New("location is required for auto and relative schedules")

// RetryDelay is the delay used when the next switch cannot be computed.
const RetryDelay = time.Hour

// Mode is the active color profile.
type Mode int

const (
	Day Mode = iota
	Night
)

func (m Mode) String() string {
	switch m {
	case Day:
		return "day"
	case Night:
		return "night"
	default:
		return "Mode(?)"
	}
}

// Clock provides the current time. The location of the returned time is used
// as the local time zone.
type Clock interface {
	Now() time.Time
}

// SystemClock is the wall clock in [time.Local].
type SystemClock struct{}

func (SystemClock) Now() time.Time {
	return time.Now()
}

// Date is a calendar day.
type Date struct {
	Year  int
	Month time.Month
	Day   int
}

// DateOf returns the calendar day of t in its location.
func DateOf(t time.Time) Date {
	y, m, d := t.Date()
	return Date{y, m, d}
}

// AddDays returns the date n days later.
func (d Date) AddDays(n int) Date {
	return DateOf(time.Date(d.Year, d.Month, d.Day+n, 12, 0, 0, 0, time.UTC))
}

func (d Date) String() string {
	return fmt.Sprintf("%04d-%02d-%02d", d.Year, d.Month, d.Day)
}

// TimeFunc returns the instant of a switch on a calendar day.
type TimeFunc func(Date) (time.Time, error)

// Resolve binds a schedule entry to a [TimeFunc]. The event selects the solar
// event used by auto and relative entries, and loc is only used by fixed
// entries. It returns [ErrLocationRequired] if coords is nil but needed.
func Resolve(e Entry, event solar.Event, coords *Coordinates, loc *time.Location) (TimeFunc, error) {
	switch e.Kind {
	case Fixed:
		t := e.Time
		return func(d Date) (time.Time, error) {
			return time.Date(d.Year, d.Month, d.Day, t.Hour, t.Minute, t.Second, 0, loc).UTC(), nil
		}, nil
	case Auto, Relative:
		if coords == nil {
			return nil, ErrLocationRequired
		}
		var (
			lat, lng = coords.lat, coords.lng
			offset   = e.Offset
		)
		if e.Kind == Auto {
			offset = 0
		}
		return func(d Date) (time.Time, error) {
			t, err := solar.EventTime(lat, lng, d.Year, d.Month, d.Day, event)
			if err != nil {
				return time.Time{}, fmt.Errorf("%s on %s at %.4f,%.4f: %w", event, d, lat, lng, err)
			}
			return t.Add(offset), nil
		}, nil
	default:
		return nil, fmt.Errorf("invalid schedule kind %d", e.Kind)
	}
}

// Scheduler tracks the current mode and the delay until the next switch. It is
// not safe for concurrent use.
type Scheduler struct {
	clock  Clock
	logger *slog.Logger

	day   TimeFunc
	night TimeFunc

	mode  Mode
	delay time.Duration
}

// Option configures a [Scheduler].
type Option func(*Scheduler)

// WithClock overrides the clock (defaults to [SystemClock]).
func WithClock(c Clock) Option {
	return func(s *Scheduler) {
		s.clock = c
	}
}

// WithLogger sets the logger for warnings. If nil, logs are discarded.
func WithLogger(l *slog.Logger) Option {
	return func(s *Scheduler) {
		s.logger = l
	}
}

// New resolves the schedule and computes the current mode. Coordinates are
// required unless both entries are fixed. If the sun does not rise or set
// today, the scheduler starts in day mode with [RetryDelay].
func New(sched Schedule, coords *Coordinates, opt ...Option) (*Scheduler, error) {
	s := &Scheduler{
		clock: SystemClock{},
	}
	for _, o := range opt {
		o(s)
	}
	if s.logger == nil {
		s.logger = slog.New(slog.DiscardHandler)
	}

	loc := s.clock.Now().Location()

	var err error
	if s.day, err = Resolve(sched.Day, solar.Sunrise, coords, loc); err != nil {
		return nil, fmt.Errorf("day schedule: %w", err)
	}
	if s.night, err = Resolve(sched.Night, solar.Sunset, coords, loc); err != nil {
		return nil, fmt.Errorf("night schedule: %w", err)
	}

	s.mode, s.delay = Day, RetryDelay
	if _, _, err := s.Next(); err != nil {
		if !errors.Is(err, solar.ErrNoSolarEvent) {
			return nil, err
		}
		s.logger.Warn("schedule: failed to compute next switch, retrying later", "error", err, "retry", RetryDelay)
	}
	return s, nil
}

// Mode returns the current mode.
func (s *Scheduler) Mode() Mode {
	return s.mode
}

// Delay returns the delay from the last evaluation until the next switch.
func (s *Scheduler) Delay() time.Duration {
	return s.delay
}

// Next re-evaluates the mode and delay against the current time. If it fails
// (i.e., [solar.ErrNoSolarEvent]), the previous mode and delay are kept.
func (s *Scheduler) Next() (Mode, time.Duration, error) {
	mode, delay, err := s.evaluate(s.clock.Now())
	if err != nil {
		return s.mode, s.delay, err
	}
	s.mode, s.delay = mode, delay
	return mode, delay, nil
}

// Until returns the instant of the next switch relative to now.
func (s *Scheduler) Until(now time.Time) time.Time {
	return now.Add(s.delay)
}

func (s *Scheduler) evaluate(now time.Time) (Mode, time.Duration, error) {
	date := DateOf(now)

	dayTime, err := s.day(date)
	if err != nil {
		return 0, 0, err
	}
	nightTime, err := s.night(date)
	if err != nil {
		return 0, 0, err
	}

	if dayTime.After(nightTime) {
		s.logger.Warn("schedule: day starts after night",
			"day", dayTime.In(now.Location()).Format("15:04"),
			"night", nightTime.In(now.Location()).Format("15:04"))
	}

	var (
		mode  Mode
		until time.Time
	)
	switch {
	case now.Before(dayTime):
		mode, until = Night, dayTime
	case now.Before(nightTime):
		mode, until = Day, nightTime
	default:
		if until, err = s.day(date.AddDays(1)); err != nil {
			return 0, 0, err
		}
		mode = Night
	}

	// +1ms so we never wake up right before the switch
	return mode, time.Duration(until.Sub(now).Milliseconds()+1) * time.Millisecond, nil
}
