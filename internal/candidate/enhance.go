package candidate

import (
	"image"
	"image/color"

	"github.com/anthonynsimon/bild/adjust"
	"github.com/anthonynsimon/bild/channel"
	"github.com/anthonynsimon/bild/effect"
	"github.com/anthonynsimon/bild/histogram"
	"github.com/anthonynsimon/bild/segment"

	"captcha-engine/internal/analyze"
)

const (
	// brightSourceFloor splits sources into bright and dim bands for the
	// adaptive threshold offset.
	brightSourceFloor = 150.0
	offsetBright      = 14
	offsetDim         = 6

	// backgroundCeil and foregroundFloor bound the acceptable background
	// pixel fraction of a binarized candidate. Outside these bounds the
	// binarization destroyed signal and must not be emitted as-is.
	backgroundCeil  = 0.90
	foregroundFloor = 0.05
)

// primaryChannelName maps a background color class to the channel that
// separates foreground text from it best.
func primaryChannelName(c analyze.Color) string {
	switch c {
	case analyze.Yellow:
		return "blue"
	case analyze.Green, analyze.Blue:
		return "red"
	case analyze.Red, analyze.Pink:
		return "green"
	default:
		return "luminance"
	}
}

// backupChannelName maps a background color class to the channel opposite
// the primary pick, used when the source is too washed out to trust one
// plane alone.
func backupChannelName(c analyze.Color) string {
	switch c {
	case analyze.Yellow:
		return "red"
	case analyze.Green:
		return "blue"
	case analyze.Blue:
		return "green"
	case analyze.Red, analyze.Pink:
		return "blue"
	default:
		return "luminance"
	}
}

func extractPlane(img image.Image, c analyze.Color, backup bool) *image.Gray {
	name := primaryChannelName(c)
	if backup {
		name = backupChannelName(c)
	}
	switch name {
	case "red":
		return channel.Extract(img, channel.Red)
	case "green":
		return channel.Extract(img, channel.Green)
	case "blue":
		return channel.Extract(img, channel.Blue)
	default:
		return luminancePlane(img)
	}
}

// channelBinarized is the color-guided candidate: extract the plane picked
// for the background class, equalize it, then binarize with a threshold
// offset that tracks source brightness. The result is validated before it
// is emitted.
func channelBinarized(img image.Image, prof analyze.Profile) image.Image {
	plane := extractPlane(img, prof.Dominant, false)
	equalized := equalizeGray(plane)
	binary := segment.Threshold(equalized, thresholdLevel(equalized, prof.MeanBrightness))
	return validateBinary(binary, equalized)
}

// backupChannel extracts the symmetric plane and applies a strong contrast
// stretch instead of binarizing. Only emitted for low-contrast sources.
func backupChannel(img image.Image, prof analyze.Profile) image.Image {
	plane := extractPlane(img, prof.Dominant, true)
	return adjust.Contrast(plane, 0.6)
}

// denoise suppresses thin crossing lines: median filter to break them up,
// then an aggressive unsharp mask to restore glyph edges.
func denoise(img image.Image) image.Image {
	gray := luminancePlane(img)
	filtered := effect.Median(gray, 3)
	return effect.UnsharpMask(filtered, 8, 1.5)
}

// validateBinary measures the background fraction of a binarized image.
// Over backgroundCeil the threshold erased the text, so the unthresholded
// equalized plane is used instead. Under foregroundFloor the polarity
// flipped, so the image is negated.
func validateBinary(binary *image.Gray, equalized *image.Gray) image.Image {
	ratio := lightRatio(binary, darkCutoff)
	switch {
	case ratio > backgroundCeil:
		return equalized
	case ratio < foregroundFloor:
		return effect.Invert(binary)
	default:
		return binary
	}
}

// thresholdLevel derives the binarization level from the equalized plane's
// mean, pushed up for bright sources so halo pixels land in the background.
func thresholdLevel(equalized *image.Gray, meanBrightness float64) uint8 {
	hist := histogram.NewRGBAHistogram(equalized)

	var sum, count int
	for v, n := range hist.R.Bins {
		sum += v * n
		count += n
	}
	if count == 0 {
		return 128
	}
	mean := float64(sum) / float64(count)

	offset := float64(offsetDim)
	if meanBrightness >= brightSourceFloor {
		offset = offsetBright
	}
	return uint8(clamp(mean+offset, 0, 255))
}

// equalizeGray spreads the plane's intensity distribution across the full
// range using the cumulative histogram.
func equalizeGray(src *image.Gray) *image.Gray {
	bounds := src.Bounds()
	total := bounds.Dx() * bounds.Dy()
	if total == 0 {
		return src
	}

	cum := histogram.NewRGBAHistogram(src).R.Cumulative()

	cdfMin := 0
	for _, v := range cum.Bins {
		if v > 0 {
			cdfMin = v
			break
		}
	}
	denom := total - cdfMin
	if denom <= 0 {
		return src
	}

	var lut [256]uint8
	for i, v := range cum.Bins {
		lut[i] = uint8(clamp(float64(v-cdfMin)/float64(denom)*255.0+0.5, 0, 255))
	}

	out := image.NewGray(bounds)
	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			out.SetGray(x, y, color.Gray{Y: lut[src.GrayAt(x, y).Y]})
		}
	}
	return out
}

// luminancePlane converts to grayscale with BT.601 weights.
func luminancePlane(img image.Image) *image.Gray {
	if g, ok := img.(*image.Gray); ok {
		return g
	}
	bounds := img.Bounds()
	out := image.NewGray(bounds)
	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			r, g, b, _ := img.At(x, y).RGBA()
			lum := 0.299*float64(r>>8) + 0.587*float64(g>>8) + 0.114*float64(b>>8)
			out.SetGray(x, y, color.Gray{Y: uint8(clamp(lum, 0, 255))})
		}
	}
	return out
}

func clamp(value, min, max float64) float64 {
	if value < min {
		return min
	}
	if value > max {
		return max
	}
	return value
}
