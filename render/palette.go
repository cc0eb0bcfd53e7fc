package render

import (
	"fmt"
	"image/color"
	"math"
	"strings"

	"uk.ac.bris.cs/mandelbrot/mandel"
)

// Scale divides iteration counts into [0, 1).
const Scale = float64(mandel.MaxIterations + 1)

// Palette maps a normalised iteration count to a colour.
type Palette func(v float64) color.RGBA

var black = color.RGBA{A: 255}

// inSet reports whether v is the normalised iteration cap.
func inSet(v float64) bool {
	return v >= float64(mandel.MaxIterations)/Scale
}

// HSV sweeps hue with the escape time and paints points of the set black.
func HSV(v float64) color.RGBA {
	if inSet(v) {
		return black
	}
	return hsv(math.Mod(0.6+4*math.Sqrt(v), 1), 0.85, 1)
}

// Gray is a linear ramp from black (immediate escape) to white.
func Gray(v float64) color.RGBA {
	g := uint8(math.Round(255 * math.Min(math.Max(v, 0), 1)))
	return color.RGBA{g, g, g, 255}
}

var wheel = []color.RGBA{
	{255, 0, 0, 255},
	{255, 255, 0, 255},
	{0, 255, 0, 255},
	{0, 255, 255, 255},
	{0, 0, 255, 255},
	{255, 0, 255, 255},
}

// Wheel cycles six saturated colours by iteration count.
func Wheel(v float64) color.RGBA {
	if inSet(v) {
		return black
	}
	n := int(math.Round(v * Scale))
	return wheel[n%len(wheel)]
}

// ParsePalette returns the palette called name: "hsv", "gray" or "wheel".
func ParsePalette(name string) (Palette, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "hsv":
		return HSV, nil
	case "gray", "grey":
		return Gray, nil
	case "wheel":
		return Wheel, nil
	}
	return nil, fmt.Errorf("render: unknown palette %q", name)
}

func hsv(h, s, v float64) color.RGBA {
	h = math.Mod(h, 1)
	i := int(h * 6)
	f := h*6 - float64(i)
	p := v * (1 - s)
	q := v * (1 - f*s)
	t := v * (1 - (1-f)*s)

	var r, g, b float64
	switch i % 6 {
	case 0:
		r, g, b = v, t, p
	case 1:
		r, g, b = q, v, p
	case 2:
		r, g, b = p, v, t
	case 3:
		r, g, b = p, q, v
	case 4:
		r, g, b = t, p, v
	case 5:
		r, g, b = v, p, q
	}
	return color.RGBA{uint8(r * 255), uint8(g * 255), uint8(b * 255), 255}
}
