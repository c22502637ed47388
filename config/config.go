// Package config loads the daemon configuration from a TOML file.
//
//	[schedule]
//	day = "auto"      # auto | HH:MM | +HH:MM | -HH:MM
//	night = "auto"
//
//	[location]        # required unless both entries are fixed
//	latitude = -1.2
//	longitude = 36.8
//
//	[day]
//	temperature = 6500
//	brightness = 1.0
//	gamma = 1.0
//	inverted = false
//
//	[night]           # unset keys inherit from [day], temperature is at most 4500
//	temperature = 3500
//	brightness = 0.9
//
//	[animation]
//	transition = 2.0  # seconds
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
	"github.com/pgaskin/gammad/colorramp"
	"github.com/pgaskin/gammad/schedule"
)

// NightTemperature is the default night temperature.
const NightTemperature = 4500

// MaxTransition is the longest transition allowed, in seconds.
const MaxTransition = 3600

// Config is a validated configuration.
type Config struct {
	Schedule   schedule.Schedule
	Location   *schedule.Coordinates // nil if not set
	Day        colorramp.Color
	Night      colorramp.Color
	Transition float64 // seconds
}

// Default returns the configuration used when there is no config file.
func Default() *Config {
	night := colorramp.Default
	night.Temperature = NightTemperature
	return &Config{
		Schedule: schedule.Schedule{
			Day:   schedule.FixedEntry(7, 0),
			Night: schedule.FixedEntry(19, 0),
		},
		Day:   colorramp.Default,
		Night: night,
	}
}

// Color returns the color for mode.
func (c *Config) Color(mode schedule.Mode) colorramp.Color {
	if mode == schedule.Night {
		return c.Night
	}
	return c.Day
}

// TransitionDuration returns the transition as a [time.Duration].
func (c *Config) TransitionDuration() time.Duration {
	return time.Duration(c.Transition * float64(time.Second))
}

// DefaultPath returns $XDG_CONFIG_HOME/gammad/config.toml, falling back to
// ~/.config.
func DefaultPath() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "gammad", "config.toml"), nil
}

// Load reads and parses the config file at path. If it does not exist,
// [Default] is returned.
func Load(path string) (*Config, error) {
	buf, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return Default(), nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}
	cfg, err := Parse(buf)
	if err != nil {
		return nil, fmt.Errorf("parse config %q: %w", path, err)
	}
	return cfg, nil
}

type rawConfig struct {
	Schedule struct {
		Day   *string `toml:"day"`
		Night *string `toml:"night"`
	} `toml:"schedule"`
	Location *struct {
		Latitude  *float64 `toml:"latitude"`
		Longitude *float64 `toml:"longitude"`
	} `toml:"location"`
	Day       rawColor `toml:"day"`
	Night     rawColor `toml:"night"`
	Animation struct {
		Transition *float64 `toml:"transition"`
	} `toml:"animation"`
}

type rawColor struct {
	Temperature *int     `toml:"temperature"`
	Brightness  *float64 `toml:"brightness"`
	Gamma       *float64 `toml:"gamma"`
	Inverted    *bool    `toml:"inverted"`
}

// Parse parses and validates a config file. Unknown keys are an error. All
// validation errors are returned together. Unset schedule entries default to
// the ones in [Default].
func Parse(buf []byte) (*Config, error) {
	var raw rawConfig
	if err := toml.NewDecoder(bytes.NewReader(buf)).DisallowUnknownFields().Decode(&raw); err != nil {
		var sme *toml.StrictMissingError
		if errors.As(err, &sme) {
			keys := make([]string, len(sme.Errors))
			for i, e := range sme.Errors {
				keys[i] = strings.Join(e.Key(), ".")
			}
			return nil, fmt.Errorf("unknown keys: %s", strings.Join(keys, ", "))
		}
		return nil, err
	}

	var (
		cfg  = Default()
		errs []error
	)

	entry := func(key string, s *string, e *schedule.Entry) {
		if s == nil {
			return
		}
		v, err := schedule.ParseEntry(*s)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", key, err))
			return
		}
		*e = v
	}
	entry("schedule.day", raw.Schedule.Day, &cfg.Schedule.Day)
	entry("schedule.night", raw.Schedule.Night, &cfg.Schedule.Night)

	if l := raw.Location; l != nil {
		switch {
		case l.Latitude == nil:
			errs = append(errs, errors.New("location.latitude: missing"))
		case l.Longitude == nil:
			errs = append(errs, errors.New("location.longitude: missing"))
		default:
			c, err := schedule.NewCoordinates(*l.Latitude, *l.Longitude)
			if err != nil {
				errs = append(errs, fmt.Errorf("location: %w", err))
			} else {
				cfg.Location = &c
			}
		}
	}
	if cfg.Location == nil && raw.Location == nil && cfg.Schedule.NeedsLocation() {
		errs = append(errs, fmt.Errorf("location: %w", schedule.ErrLocationRequired))
	}

	cfg.Day = raw.Day.merge("day", colorramp.Default, &errs)
	night := cfg.Day
	night.Temperature = min(night.Temperature, NightTemperature)
	cfg.Night = raw.Night.merge("night", night, &errs)

	if t := raw.Animation.Transition; t != nil {
		if !(*t >= 0 && *t <= MaxTransition) {
			errs = append(errs, fmt.Errorf("animation.transition: %v not in [0, %d]", *t, MaxTransition))
		} else {
			cfg.Transition = *t
		}
	}

	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (r rawColor) merge(table string, base colorramp.Color, errs *[]error) colorramp.Color {
	c := base
	if v := r.Temperature; v != nil {
		if *v < colorramp.MinTemperature || *v > colorramp.MaxTemperature {
			*errs = append(*errs, fmt.Errorf("%s.temperature: %d not in [%d, %d]", table, *v, colorramp.MinTemperature, colorramp.MaxTemperature))
		} else {
			c.Temperature = *v
		}
	}
	if v := r.Brightness; v != nil {
		if !(*v >= 0 && *v <= 1) {
			*errs = append(*errs, fmt.Errorf("%s.brightness: %v not in [0, 1]", table, *v))
		} else {
			c.Brightness = *v
		}
	}
	if v := r.Gamma; v != nil {
		if !(*v >= 0) {
			*errs = append(*errs, fmt.Errorf("%s.gamma: %v is negative", table, *v))
		} else {
			c.Gamma = *v
		}
	}
	if v := r.Inverted; v != nil {
		c.Inverted = *v
	}
	return c
}
