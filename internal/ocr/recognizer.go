package ocr

import (
	"context"
	"strings"

	"captcha-engine/internal/correct"
)

// Whitelist is the character set the engine is allowed to emit. Challenge
// strings contain only uppercase letters and digits.
const Whitelist = correct.Alphabet

// Mode is a page segmentation strategy for one recognition pass.
type Mode string

const (
	ModeLine      Mode = "line"
	ModeWord      Mode = "word"
	ModeChar      Mode = "char"
	ModeSparse    Mode = "sparse"
	ModeSparseOSD Mode = "sparse-osd"
	ModeVertical  Mode = "vertical"
)

// Modes returns the default strategy order the ensemble iterates.
func Modes() []Mode {
	return []Mode{ModeLine, ModeWord, ModeChar, ModeSparse, ModeSparseOSD, ModeVertical}
}

// Result is the raw engine output of a single pass. Text is unprocessed;
// the ensemble cleans it before ranking.
type Result struct {
	// Text is the recognized text as the engine returned it.
	Text string

	// Confidence is the engine's aggregate score (0-100), zero when the
	// engine provided none.
	Confidence float64

	// TokenConfs are per-symbol confidences (0-100) used as a fallback
	// when the aggregate is missing.
	TokenConfs []float64
}

// Recognizer performs one recognition pass over an encoded image.
// Implementations need not be safe for concurrent use; callers serialize
// through a Pool.
type Recognizer interface {
	Recognize(ctx context.Context, encoded []byte, mode Mode) (Result, error)
}

// Attempt is one cleaned (candidate, strategy) recognition outcome.
type Attempt struct {
	// Text is uppercased and stripped to the whitelist alphabet.
	Text string

	// Confidence is 0-100, already penalized if the length was coerced.
	Confidence float64

	// CandidateLabel names the preprocessing variant that produced the
	// recognized image.
	CandidateLabel string

	// Mode is the segmentation strategy of this pass.
	Mode Mode

	// Padded records that Text was coerced to the target length from a
	// three or five character read.
	Padded bool
}

// IsNoResult reports whether the attempt carries no usable text. The zero
// Attempt doubles as the ensemble's explicit no-result marker.
func (a Attempt) IsNoResult() bool { return a.Text == "" }

// CleanText uppercases s and strips every rune outside the whitelist.
func CleanText(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range strings.ToUpper(s) {
		if (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		}
	}
	return b.String()
}
