package candidate

import (
	"bytes"
	"fmt"
	"image"
	"image/png"

	"github.com/disintegration/imaging"

	"captcha-engine/internal/analyze"
)

// DefaultContrastFloor is the source contrast below which the generator
// appends the symmetric-channel backup candidate.
const DefaultContrastFloor = 90.0

// Candidate is one preprocessed variant of a challenge image, ready for
// recognition. Candidates are ordered by expected yield; earlier variants
// are tried first.
type Candidate struct {
	// Label is a short stable identifier ("baseline", "channel", ...)
	// used in logs and attempt records.
	Label string

	// Desc describes the processing chain in human terms.
	Desc string

	// Image is the processed raster.
	Image image.Image

	// PNG is the encoded form handed to recognition backends.
	PNG []byte

	// Profile is the color profile of the source image the candidate
	// was derived from.
	Profile analyze.Profile

	// ContrastScore is the luminance contrast of the processed raster,
	// used to pick the sharpest variant for external escalation.
	ContrastScore float64
}

// Generator builds recognition candidates from decoded challenge images.
type Generator struct {
	// ContrastFloor gates the symmetric-channel backup candidate.
	ContrastFloor float64
}

// NewGenerator returns a generator with default tuning.
func NewGenerator() *Generator {
	return &Generator{ContrastFloor: DefaultContrastFloor}
}

// Generate produces the ordered candidate set for img. Individual variants
// that fail to build or encode are dropped; an error is returned only when
// every variant fails.
func (g *Generator) Generate(img image.Image, prof analyze.Profile) ([]Candidate, error) {
	if img == nil || img.Bounds().Empty() {
		return nil, fmt.Errorf("cannot generate candidates for empty image")
	}

	type build struct {
		label string
		desc  string
		fn    func() image.Image
	}

	builds := []build{
		{
			label: "baseline",
			desc:  "mild blur then sharpen",
			fn:    func() image.Image { return baseline(img) },
		},
		{
			label: "channel",
			desc:  fmt.Sprintf("%s channel, equalized, adaptive threshold", primaryChannelName(prof.Dominant)),
			fn:    func() image.Image { return channelBinarized(img, prof) },
		},
		{
			label: "contrast",
			desc:  "high-contrast luminance",
			fn:    func() image.Image { return highContrast(img) },
		},
		{
			label: "denoise",
			desc:  "median filtered, unsharp masked grayscale",
			fn:    func() image.Image { return denoise(img) },
		},
		{
			label: "dilate",
			desc:  "denoised with two dark dilation passes",
			fn:    func() image.Image { return gapRepaired(img) },
		},
	}

	if prof.Contrast < g.contrastFloor() {
		builds = append(builds, build{
			label: "backup",
			desc:  fmt.Sprintf("%s channel, strong contrast stretch", backupChannelName(prof.Dominant)),
			fn:    func() image.Image { return backupChannel(img, prof) },
		})
	}

	out := make([]Candidate, 0, len(builds))
	for _, b := range builds {
		processed := b.fn()
		if processed == nil || processed.Bounds().Empty() {
			continue
		}
		encoded, err := encodePNG(processed)
		if err != nil {
			continue
		}
		out = append(out, Candidate{
			Label:         b.label,
			Desc:          b.desc,
			Image:         processed,
			PNG:           encoded,
			Profile:       prof,
			ContrastScore: analyze.Analyze(processed).Contrast,
		})
	}

	if len(out) == 0 {
		return nil, fmt.Errorf("all candidate variants failed for %s image", prof.Dominant)
	}
	return out, nil
}

func (g *Generator) contrastFloor() float64 {
	if g.ContrastFloor > 0 {
		return g.ContrastFloor
	}
	return DefaultContrastFloor
}

// baseline softens sensor noise with a light blur, then restores edge
// definition with a sharpen pass. The full color image is preserved.
func baseline(img image.Image) image.Image {
	blurred := imaging.Blur(img, 0.6)
	return imaging.Sharpen(blurred, 1.0)
}

// highContrast flattens the image to luminance and stretches contrast so
// faint strokes separate from the background.
func highContrast(img image.Image) image.Image {
	gray := imaging.Grayscale(img)
	return imaging.AdjustContrast(gray, 40)
}

func encodePNG(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("failed to encode candidate: %w", err)
	}
	return buf.Bytes(), nil
}
