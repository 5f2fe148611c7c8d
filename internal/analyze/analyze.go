// Package analyze inspects raw challenge images and derives the color
// profile that steers candidate generation: dominant background color
// class, mean brightness, and luminance contrast.
package analyze

import (
	"bytes"
	"fmt"
	"image"
	_ "image/gif"  // Register GIF format decoder
	_ "image/jpeg" // Register JPEG format decoder
	_ "image/png"  // Register PNG format decoder

	"github.com/lucasb-eyer/go-colorful"
)

// Color is the coarse background color class of a challenge image.
// The class picks which color channel isolates the foreground text best.
type Color string

const (
	Yellow Color = "yellow"
	Green  Color = "green"
	Blue   Color = "blue"
	Pink   Color = "pink"
	Red    Color = "red"
	Gray   Color = "gray"
)

// graySaturationFloor forces the gray class for washed-out images whose
// channel means carry no usable hue information.
const graySaturationFloor = 0.12

// Profile describes a challenge image's color statistics. It is computed
// fresh per image and never mutated.
type Profile struct {
	// Dominant is the background color class.
	Dominant Color

	// MeanR, MeanG, MeanB are the per-channel means (0-255).
	MeanR float64
	MeanG float64
	MeanB float64

	// MeanBrightness is the mean BT.601 luminance (0-255).
	MeanBrightness float64

	// Contrast is max minus min luminance (0-255). Low values indicate a
	// washed-out image that needs the backup channel candidate.
	Contrast float64
}

// BackgroundHex renders the mean background color as "#RRGGBB" for
// observability records.
func (p Profile) BackgroundHex() string {
	c := colorful.Color{R: p.MeanR / 255, G: p.MeanG / 255, B: p.MeanB / 255}
	return c.Clamped().Hex()
}

// AnalyzeBytes decodes a raw image buffer and analyzes it. The decoded
// image is returned alongside the profile so callers do not decode twice.
// A decode failure is the analyzer's only error path.
func AnalyzeBytes(data []byte) (Profile, image.Image, error) {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return Profile{}, nil, fmt.Errorf("failed to decode challenge image: %w", err)
	}
	return Analyze(img), img, nil
}

// Analyze computes the color profile of a decoded image. Pure function:
// one pass over the pixels, no side effects.
func Analyze(img image.Image) Profile {
	bounds := img.Bounds()

	var sumR, sumG, sumB, sumLum float64
	minLum, maxLum := 255.0, 0.0

	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			r, g, b, _ := img.At(x, y).RGBA()
			rf := float64(r >> 8)
			gf := float64(g >> 8)
			bf := float64(b >> 8)

			sumR += rf
			sumG += gf
			sumB += bf

			lum := 0.299*rf + 0.587*gf + 0.114*bf
			sumLum += lum
			if lum < minLum {
				minLum = lum
			}
			if lum > maxLum {
				maxLum = lum
			}
		}
	}

	n := float64(bounds.Dx() * bounds.Dy())
	if n == 0 {
		return Profile{Dominant: Gray}
	}

	p := Profile{
		MeanR:          sumR / n,
		MeanG:          sumG / n,
		MeanB:          sumB / n,
		MeanBrightness: sumLum / n,
		Contrast:       maxLum - minLum,
	}
	p.Dominant = classify(p)
	return p
}

// classify buckets the channel means into a background color class.
// Thresholds are tuned for the small pastel rasters the portal serves;
// anything without a clear hue falls through to gray.
func classify(p Profile) Color {
	c := colorful.Color{R: p.MeanR / 255, G: p.MeanG / 255, B: p.MeanB / 255}
	_, s, _ := c.Clamped().Hsv()
	if s < graySaturationFloor {
		return Gray
	}

	r, g, b := p.MeanR, p.MeanG, p.MeanB
	switch {
	case r >= 140 && g >= 130 && b < g-40:
		// High red and green with depressed blue.
		return Yellow
	case r >= 150 && b >= 110 && r > g+30 && b > g+10:
		// High red with a notable blue component and lower green.
		return Pink
	case r >= 130 && r > g+50 && r > b+50:
		return Red
	case g >= 120 && g > r+25 && g > b+25:
		return Green
	case b >= 120 && b > r+25 && b > g+25:
		return Blue
	default:
		return Gray
	}
}
