package ocr

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/png"

	"github.com/nfnt/resize"
	"github.com/otiai10/gosseract/v2"
)

// minRecognitionHeight is the raster height Tesseract works well at.
// Candidates smaller than this are upscaled proportionally before a pass.
const minRecognitionHeight = 64

// Tesseract is a Recognizer backed by a single gosseract client. It is
// not safe for concurrent use; run it through a Pool.
type Tesseract struct {
	client *gosseract.Client
}

// NewTesseract builds a configured engine. The whitelist is applied once
// here; only the segmentation mode changes between passes.
func NewTesseract() (*Tesseract, error) {
	client := gosseract.NewClient()

	if err := client.SetLanguage("eng"); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to set OCR language: %w", err)
	}

	// Disable dictionary-based word correction. Challenge strings are
	// random alphanumerics, and the language model would "fix" them
	// toward English words.
	_ = client.SetVariable("load_system_dawg", "false")
	_ = client.SetVariable("load_freq_dawg", "false")

	if err := client.SetWhitelist(Whitelist); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to set character whitelist: %w", err)
	}

	return &Tesseract{client: client}, nil
}

// Close releases the underlying Tesseract resources.
func (t *Tesseract) Close() error {
	if t.client != nil {
		return t.client.Close()
	}
	return nil
}

// Recognize runs one pass over an encoded image under the given
// segmentation mode.
func (t *Tesseract) Recognize(ctx context.Context, encoded []byte, mode Mode) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}
	if len(encoded) == 0 {
		return Result{}, fmt.Errorf("empty image buffer")
	}

	if err := t.client.SetPageSegMode(pageSegMode(mode)); err != nil {
		return Result{}, fmt.Errorf("failed to set segmentation mode %s: %w", mode, err)
	}
	if err := t.client.SetImageFromBytes(upscaleSmall(encoded)); err != nil {
		return Result{}, fmt.Errorf("failed to set image: %w", err)
	}

	text, err := t.client.Text()
	if err != nil {
		return Result{}, fmt.Errorf("OCR failed: %w", err)
	}

	res := Result{Text: text}

	// Aggregate score from word-level boxes; symbol-level boxes carry the
	// per-token fallback. Box extraction failing is not fatal, the pass
	// just reports zero confidence.
	if words, err := t.client.GetBoundingBoxes(gosseract.RIL_WORD); err == nil && len(words) > 0 {
		var sum float64
		for _, w := range words {
			sum += w.Confidence
		}
		res.Confidence = sum / float64(len(words))
	}
	if symbols, err := t.client.GetBoundingBoxes(gosseract.RIL_SYMBOL); err == nil {
		for _, s := range symbols {
			res.TokenConfs = append(res.TokenConfs, s.Confidence)
		}
	}

	return res, nil
}

func pageSegMode(m Mode) gosseract.PageSegMode {
	switch m {
	case ModeWord:
		return gosseract.PSM_SINGLE_WORD
	case ModeChar:
		return gosseract.PSM_SINGLE_CHAR
	case ModeSparse:
		return gosseract.PSM_SPARSE_TEXT
	case ModeSparseOSD:
		return gosseract.PSM_SPARSE_TEXT_OSD
	case ModeVertical:
		return gosseract.PSM_SINGLE_BLOCK_VERT_TEXT
	default:
		return gosseract.PSM_SINGLE_LINE
	}
}

// upscaleSmall re-encodes undersized rasters at minRecognitionHeight.
// Any decode or encode problem falls back to the original bytes.
func upscaleSmall(encoded []byte) []byte {
	img, _, err := image.Decode(bytes.NewReader(encoded))
	if err != nil {
		return encoded
	}
	h := img.Bounds().Dy()
	if h == 0 || h >= minRecognitionHeight {
		return encoded
	}

	w := img.Bounds().Dx() * minRecognitionHeight / h
	scaled := resize.Resize(uint(w), minRecognitionHeight, img, resize.Bilinear)

	var buf bytes.Buffer
	if err := png.Encode(&buf, scaled); err != nil {
		return encoded
	}
	return buf.Bytes()
}
