// Package solar computes sunrise and sunset times.
package solar

import (
	"errors"
	"math"
	"time"

	"github.com/nathan-osman/go-sunrise"
)

// ErrNoSolarEvent is returned when the sun does not rise or set on the
// requested day (polar day or night).
var ErrNoSolarEvent = errors.New("no sunrise or sunset on this day")

// Event is a solar event.
type Event int

const (
	Sunrise Event = iota
	Sunset
)

func (e Event) String() string {
	switch e {
	case Sunrise:
		return "sunrise"
	case Sunset:
		return "sunset"
	default:
		return "Event(?)"
	}
}

// Times computes sunrise and sunset in UTC for the calendar day at the
// provided coordinates (degrees, east-positive longitude). The result only
// depends on the arguments.
func Times(lat, lng float64, year int, month time.Month, day int) (rise, set time.Time, err error) {
	var (
		noon      = sunrise.MeanSolarNoon(lng, year, month, day)
		anomaly   = sunrise.SolarMeanAnomaly(noon)
		center    = sunrise.EquationOfCenter(anomaly)
		longitude = sunrise.EclipticLongitude(anomaly, center, noon)
		transit   = sunrise.SolarTransit(noon, anomaly, longitude)
		hourAngle = sunrise.HourAngle(lat, sunrise.Declination(longitude))
	)
	if hourAngle == math.MaxFloat64 || hourAngle == -math.MaxFloat64 || math.IsNaN(hourAngle) {
		return time.Time{}, time.Time{}, ErrNoSolarEvent
	}
	return sunrise.JulianDayToTime(transit - hourAngle/360), sunrise.JulianDayToTime(transit + hourAngle/360), nil
}

// EventTime returns the time of a single event from [Times].
func EventTime(lat, lng float64, year int, month time.Month, day int, event Event) (time.Time, error) {
	rise, set, err := Times(lat, lng, year, month, day)
	if err != nil {
		return time.Time{}, err
	}
	if event == Sunset {
		return set, nil
	}
	return rise, nil
}

// Elevation returns the elevation of the sun above the horizon in degrees.
func Elevation(lat, lng float64, t time.Time) float64 {
	return sunrise.Elevation(lat, lng, t)
}
