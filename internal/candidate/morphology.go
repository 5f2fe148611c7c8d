package candidate

import (
	"image"
	"image/color"
)

// darkCutoff separates foreground strokes from background in the dilation
// passes and ratio measurements.
const darkCutoff = 128

// gapRepaired reconnects glyph strokes broken by noise-line removal: the
// denoised plane is run through two sequential dark dilation passes.
func gapRepaired(img image.Image) image.Image {
	gray := luminancePlane(denoise(img))
	return dilateDark(dilateDark(gray))
}

// dilateDark recolors every light pixel with at least one dark pixel in
// its 4-neighborhood to foreground black. One pass grows strokes by one
// pixel in each cardinal direction.
func dilateDark(src *image.Gray) *image.Gray {
	bounds := src.Bounds()
	out := image.NewGray(bounds)
	copy(out.Pix, src.Pix)

	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			if src.GrayAt(x, y).Y < darkCutoff {
				continue
			}
			if hasDarkNeighbor(src, x, y) {
				out.SetGray(x, y, color.Gray{Y: 0})
			}
		}
	}
	return out
}

func hasDarkNeighbor(src *image.Gray, x, y int) bool {
	bounds := src.Bounds()
	offsets := [4][2]int{{0, -1}, {0, 1}, {-1, 0}, {1, 0}}
	for _, d := range offsets {
		nx, ny := x+d[0], y+d[1]
		if nx < bounds.Min.X || nx >= bounds.Max.X || ny < bounds.Min.Y || ny >= bounds.Max.Y {
			continue
		}
		if src.GrayAt(nx, ny).Y < darkCutoff {
			return true
		}
	}
	return false
}

// lightRatio returns the fraction of pixels at or above cutoff.
func lightRatio(g *image.Gray, cutoff uint8) float64 {
	bounds := g.Bounds()
	total := bounds.Dx() * bounds.Dy()
	if total == 0 {
		return 0
	}
	light := 0
	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			if g.GrayAt(x, y).Y >= cutoff {
				light++
			}
		}
	}
	return float64(light) / float64(total)
}
