// Package colorramp fills gamma ramps for a color temperature and brightness.
package colorramp

import (
	"math"
	"strconv"
)

// Temperature limits.
const (
	MinTemperature     = 1000
	MaxTemperature     = 10000
	NeutralTemperature = 6500
)

// Color is the display color of an output.
type Color struct {
	Temperature int     // kelvin
	Brightness  float64 // [0, 1]
	Gamma       float64 // 0 is the same as 1
	Inverted    bool
}

// Default is the neutral color.
var Default = Color{
	Temperature: NeutralTemperature,
	Brightness:  1,
	Gamma:       1,
}

func (c Color) String() string {
	b := strconv.AppendInt(nil, int64(c.Temperature), 10)
	b = append(b, "K "...)
	b = strconv.AppendFloat(b, c.Brightness*100, 'f', -1, 64)
	b = append(b, '%')
	if c.Gamma != 0 && c.Gamma != 1 {
		b = append(b, " γ"...)
		b = strconv.AppendFloat(b, c.Gamma, 'f', -1, 64)
	}
	if c.Inverted {
		b = append(b, " inverted"...)
	}
	return string(b)
}

// WhitePoint computes the RGB multipliers in [0, 1] for a color temperature
// using Tanner Helland's blackbody approximation. It is exactly neutral at
// [NeutralTemperature].
func WhitePoint(temperature int) [3]float64 {
	if temperature == NeutralTemperature {
		return [3]float64{1, 1, 1}
	}
	t := float64(min(max(temperature, MinTemperature), 40000)) / 100

	var r, g, b float64
	if t <= 66 {
		r = 255
		g = 99.4708025861*math.Log(t) - 161.1195681661
	} else {
		r = 329.698727446 * math.Pow(t-60, -0.1332047592)
		g = 288.1221695283 * math.Pow(t-60, -0.0755148492)
	}
	switch {
	case t >= 66:
		b = 255
	case t <= 19:
		b = 0
	default:
		b = 138.5177312231*math.Log(t-10) - 305.0447927307
	}

	// normalize so the brightest channel at 6500K is 1
	return [3]float64{
		clamp(r / 255),
		clamp(g / 255),
		clamp(b / 255),
	}
}

// Fill fills the red, green, and blue ramps for c. The ramps may have
// different lengths. The output only depends on the arguments, and each value
// is non-decreasing in the brightness.
func Fill[C ~uint8 | ~uint16 | ~uint32](r, g, b []C, c Color) {
	white := WhitePoint(c.Temperature)
	brightness := clamp(c.Brightness)
	for i, ramp := range [3][]C{r, g, b} {
		fill(ramp, white[i]*brightness, c.Gamma, c.Inverted)
	}
}

func fill[C ~uint8 | ~uint16 | ~uint32](ramp []C, scale, gamma float64, inverted bool) {
	n := len(ramp)
	if n == 0 {
		return
	}
	maxValue := float64(^C(0))
	for index := range ramp {
		var v float64
		if n > 1 {
			v = float64(index) / float64(n-1)
		}
		if inverted {
			v = 1 - v
		}
		v *= scale
		if gamma > 0 && gamma != 1 {
			v = math.Pow(v, 1/gamma)
		}
		ramp[index] = C(v * maxValue)
	}
}

func clamp(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}
