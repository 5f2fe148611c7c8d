package resolver

import (
	"context"
	"fmt"
	"path/filepath"

	"captcha-engine/internal/analyze"
	"captcha-engine/internal/candidate"
	"captcha-engine/internal/correct"
	"captcha-engine/internal/ocr"
	"captcha-engine/internal/vision"
)

// readout is the recognition step's product: the text to submit plus the
// provenance recorded in the terminal Result.
type readout struct {
	text           string
	confidence     float64
	method         string
	candidateLabel string
	mode           ocr.Mode
	padded         bool
	color          string
}

// recognize turns capture bytes into submittable text. Decode failures
// propagate to the caller; every later stage degrades instead of failing.
func (e *Engine) recognize(ctx context.Context, s *session, raw []byte) (readout, error) {
	prof, img, err := analyze.AnalyzeBytes(raw)
	if err != nil {
		return readout{}, err
	}

	cands, err := e.gen.Generate(img, prof)
	if err != nil {
		return readout{}, fmt.Errorf("candidate generation: %w", err)
	}
	if e.cfg.DumpDir != "" {
		dir := filepath.Join(e.cfg.DumpDir, s.id, fmt.Sprintf("attempt_%02d", s.attempts))
		if err := candidate.SaveAll(dir, cands); err != nil {
			e.logger.Printf("session %s: candidate dump failed: %v", s.id, err)
		}
	}

	winner, attempts := e.ens.Run(ctx, cands)
	e.logger.Printf("session %s: recognized color=%s candidates=%d attempts=%d text_confidence=%.1f",
		s.id, prof.Dominant, len(cands), len(attempts), winner.Confidence)

	ro := readout{
		text:           correct.Apply(winner.Text, winner.Confidence),
		confidence:     winner.Confidence,
		method:         MethodOCR,
		candidateLabel: winner.CandidateLabel,
		mode:           winner.Mode,
		padded:         winner.Padded || len(winner.Text) != correct.Length,
		color:          string(prof.Dominant),
	}

	if !vision.Confident(winner.Text, winner.Confidence) && e.fallback != nil {
		if answer, label, ok := e.escalate(ctx, s, cands, winner); ok {
			ro.text = answer
			ro.confidence = vision.APIConfidence
			ro.method = MethodAPI
			ro.padded = false
			if ro.candidateLabel == "" {
				ro.candidateLabel = label
			}
		}
	}
	return ro, nil
}

// escalate sends a candidate buffer to the external vision model.
// Failures are logged and swallowed; the local result stands.
func (e *Engine) escalate(ctx context.Context, s *session, cands []candidate.Candidate, winner ocr.Attempt) (string, string, bool) {
	buf, label := escalationBuffer(cands, winner)
	if len(buf) == 0 {
		return "", "", false
	}

	vctx, cancel := context.WithTimeout(ctx, e.cfg.StepTimeout)
	defer cancel()

	answer, err := e.fallback.SolveImage(vctx, buf)
	if err != nil {
		e.logger.Printf("session %s: vision escalation failed: %v", s.id, err)
		return "", "", false
	}
	e.logger.Printf("session %s: vision escalation answered from candidate %s", s.id, label)
	return answer, label, true
}

// escalationBuffer picks the image worth a paid model call: the winner's
// own source when known, otherwise the highest-contrast candidate.
func escalationBuffer(cands []candidate.Candidate, winner ocr.Attempt) ([]byte, string) {
	for _, c := range cands {
		if c.Label == winner.CandidateLabel {
			return c.PNG, c.Label
		}
	}
	best := -1
	for i, c := range cands {
		if best < 0 || c.ContrastScore > cands[best].ContrastScore {
			best = i
		}
	}
	if best < 0 {
		return nil, ""
	}
	return cands[best].PNG, cands[best].Label
}
