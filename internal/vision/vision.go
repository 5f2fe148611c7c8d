// Package vision escalates challenges the local ensemble is not confident
// about to an external vision model. The engine treats any client error or
// refusal as "no opinion" and keeps its local guess.
package vision

import (
	"context"
	"regexp"
	"strings"

	"captcha-engine/internal/correct"
)

// NoAnswer is the token the model is instructed to return when it cannot
// read the challenge. It is never accepted as a solution.
const NoAnswer = "NO_ANSWER"

// APIConfidence is assigned to accepted external answers. The models
// expose no native confidence signal, so an accepted answer carries a
// fixed high score.
const APIConfidence = 90.0

// confidentThreshold gates escalation: at or above it the local result is
// trusted and no external call is made.
const confidentThreshold = 85.0

// solvePrompt demands a machine-checkable reply: exactly four whitelist
// characters or the refusal token.
const solvePrompt = "This image shows a CAPTCHA of exactly 4 characters drawn from A-Z and 0-9. " +
	"Reply with the 4 characters only, no spaces, quotes or punctuation. " +
	"If you cannot read them, reply exactly " + NoAnswer + "."

var answerRe = regexp.MustCompile(`^[A-Z0-9]{4}$`)

// Client solves a challenge image with an external vision model.
type Client interface {
	SolveImage(ctx context.Context, png []byte) (string, error)
}

// Confident reports whether a local recognition result is strong enough
// to skip escalation: the pre-correction text must already have the
// canonical length and the confidence must reach the threshold.
func Confident(text string, confidence float64) bool {
	return confidence >= confidentThreshold && len(text) == correct.Length
}

// ParseAnswer normalizes a raw model reply and reports whether it is an
// acceptable solution. Refusals, prose, and wrong-length replies are all
// rejected.
func ParseAnswer(raw string) (string, bool) {
	text := strings.ToUpper(strings.TrimSpace(raw))
	if text == NoAnswer {
		return "", false
	}
	if !answerRe.MatchString(text) {
		return "", false
	}
	return text, true
}
