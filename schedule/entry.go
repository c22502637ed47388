package schedule

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ErrOutOfRange is returned for coordinates outside of the valid range.
var ErrOutOfRange = errors.New("coordinates out of range")

// Coordinates is a validated location on earth.
type Coordinates struct {
	lat, lng float64
}

// NewCoordinates validates the latitude in [-90, 90] and the east-positive
// longitude in [-180, 180].
func NewCoordinates(lat, lng float64) (Coordinates, error) {
	if !(lat >= -90 && lat <= 90) {
		return Coordinates{}, fmt.Errorf("%w: latitude %v not in [-90, 90]", ErrOutOfRange, lat)
	}
	if !(lng >= -180 && lng <= 180) {
		return Coordinates{}, fmt.Errorf("%w: longitude %v not in [-180, 180]", ErrOutOfRange, lng)
	}
	return Coordinates{lat, lng}, nil
}

func (c Coordinates) Latitude() float64  { return c.lat }
func (c Coordinates) Longitude() float64 { return c.lng }

func (c Coordinates) String() string {
	return strconv.FormatFloat(c.lat, 'f', -1, 64) + "," + strconv.FormatFloat(c.lng, 'f', -1, 64)
}

// Kind is the type of a schedule [Entry].
type Kind int

const (
	Auto     Kind = iota // at sunrise or sunset
	Fixed                // at a local time of day
	Relative             // offset from sunrise or sunset
)

func (k Kind) String() string {
	switch k {
	case Auto:
		return "auto"
	case Fixed:
		return "fixed"
	case Relative:
		return "relative"
	default:
		return "Kind(" + strconv.Itoa(int(k)) + ")"
	}
}

// TimeOfDay is a wall clock time.
type TimeOfDay struct {
	Hour, Minute, Second int
}

func (t TimeOfDay) String() string {
	return fmt.Sprintf("%02d:%02d", t.Hour, t.Minute)
}

// Entry is the time of a single mode switch.
type Entry struct {
	Kind   Kind
	Time   TimeOfDay     // for Fixed
	Offset time.Duration // for Relative
}

// AutoEntry switches at sunrise (day) or sunset (night).
func AutoEntry() Entry {
	return Entry{Kind: Auto}
}

// FixedEntry switches at the specified local time every day.
func FixedEntry(hour, minute int) Entry {
	return Entry{Kind: Fixed, Time: TimeOfDay{Hour: hour, Minute: minute}}
}

// RelativeEntry switches at an offset from sunrise (day) or sunset (night).
func RelativeEntry(offset time.Duration) Entry {
	return Entry{Kind: Relative, Offset: offset}
}

// NeedsLocation returns true if the entry depends on the position of the sun.
func (e Entry) NeedsLocation() bool {
	return e.Kind != Fixed
}

func (e Entry) String() string {
	switch e.Kind {
	case Fixed:
		return e.Time.String()
	case Relative:
		sign, off := "+", e.Offset
		if off < 0 {
			sign, off = "-", -off
		}
		return fmt.Sprintf("%s%02d:%02d", sign, int(off/time.Hour), int(off%time.Hour/time.Minute))
	default:
		return e.Kind.String()
	}
}

// ParseEntry parses "auto", a fixed "HH:MM", or a relative "+HH:MM" or
// "-HH:MM".
func ParseEntry(s string) (Entry, error) {
	if s == "auto" {
		return AutoEntry(), nil
	}
	var (
		orig = s
		sign time.Duration
	)
	switch {
	case strings.HasPrefix(s, "+"):
		sign, s = 1, s[1:]
	case strings.HasPrefix(s, "-"):
		sign, s = -1, s[1:]
	}
	hs, ms, ok := strings.Cut(s, ":")
	if !ok || len(hs) != 2 || len(ms) != 2 {
		return Entry{}, fmt.Errorf("invalid schedule %q: expected auto, HH:MM, or ±HH:MM", orig)
	}
	h, err := strconv.ParseUint(hs, 10, 8)
	if err != nil || h > 23 {
		return Entry{}, fmt.Errorf("invalid schedule %q: bad hour", orig)
	}
	m, err := strconv.ParseUint(ms, 10, 8)
	if err != nil || m > 59 {
		return Entry{}, fmt.Errorf("invalid schedule %q: bad minute", orig)
	}
	if sign == 0 {
		return FixedEntry(int(h), int(m)), nil
	}
	return RelativeEntry(sign * (time.Duration(h)*time.Hour + time.Duration(m)*time.Minute)), nil
}

// MarshalText implements [encoding.TextMarshaler].
func (e Entry) MarshalText() ([]byte, error) {
	return []byte(e.String()), nil
}

// UnmarshalText implements [encoding.TextUnmarshaler].
func (e *Entry) UnmarshalText(b []byte) error {
	v, err := ParseEntry(string(b))
	if err != nil {
		return err
	}
	*e = v
	return nil
}

// Schedule is the pair of times the day and night modes start at.
type Schedule struct {
	Day   Entry
	Night Entry
}

// NeedsLocation returns true if any entry depends on the position of the sun.
func (s Schedule) NeedsLocation() bool {
	return s.Day.NeedsLocation() || s.Night.NeedsLocation()
}
