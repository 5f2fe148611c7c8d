package ocr

import (
	"context"
	"sync"

	"captcha-engine/internal/candidate"
	"captcha-engine/internal/correct"
)

const (
	// earlyExitConfidence short-circuits the ensemble once an exact-length
	// attempt scores above it.
	earlyExitConfidence = 70.0

	// lengthPenalty discounts attempts whose length had to be coerced.
	lengthPenalty = 0.8
)

// Ensemble iterates candidates against segmentation strategies and ranks
// the attempts.
type Ensemble struct {
	pool  *Pool
	modes []Mode
}

// NewEnsemble returns an ensemble using the default strategy order.
func NewEnsemble(pool *Pool) *Ensemble {
	return &Ensemble{pool: pool, modes: Modes()}
}

// Run recognizes every candidate under every strategy and returns the
// selected winner plus all gathered attempts. Failed pairs are dropped;
// when nothing usable is read the winner is the no-result marker. With
// more than one pooled client the candidates are processed concurrently.
func (e *Ensemble) Run(ctx context.Context, cands []candidate.Candidate) (Attempt, []Attempt) {
	runCtx, stop := context.WithCancel(ctx)
	defer stop()

	var mu sync.Mutex
	var attempts []Attempt
	add := func(a Attempt) {
		mu.Lock()
		attempts = append(attempts, a)
		mu.Unlock()
	}

	if e.pool.Size() > 1 && len(cands) > 1 {
		var wg sync.WaitGroup
		for _, c := range cands {
			wg.Add(1)
			go func(c candidate.Candidate) {
				defer wg.Done()
				e.runCandidate(runCtx, c, add, stop)
			}(c)
		}
		wg.Wait()
	} else {
		for _, c := range cands {
			if runCtx.Err() != nil {
				break
			}
			e.runCandidate(runCtx, c, add, stop)
		}
	}

	return Select(attempts), attempts
}

// runCandidate tries every strategy on one candidate, appending usable
// attempts via add. stop is invoked once an attempt is good enough to end
// the whole ensemble early.
func (e *Ensemble) runCandidate(ctx context.Context, c candidate.Candidate, add func(Attempt), stop func()) {
	for _, mode := range e.modes {
		if ctx.Err() != nil {
			return
		}

		var res Result
		err := e.pool.Do(ctx, func(r Recognizer) error {
			var rerr error
			res, rerr = r.Recognize(ctx, c.PNG, mode)
			return rerr
		})
		if err != nil {
			// This pair is omitted; the ensemble keeps going.
			continue
		}

		text := CleanText(res.Text)
		if text == "" {
			continue
		}

		conf := res.Confidence
		if conf == 0 && len(res.TokenConfs) > 0 {
			var sum float64
			for _, tc := range res.TokenConfs {
				sum += tc
			}
			conf = sum / float64(len(res.TokenConfs))
		}

		add(Attempt{
			Text:           text,
			Confidence:     conf,
			CandidateLabel: c.Label,
			Mode:           mode,
		})

		if len(text) == correct.Length && conf > earlyExitConfidence {
			stop()
			return
		}
	}
}

// Select ranks attempts: exact-length text beats any other length
// regardless of confidence; within a length class higher confidence wins
// and ties keep the earlier attempt. Off-by-one lengths are coerced to
// the target length at a confidence penalty and used only when no
// exact-length attempt exists. No usable attempt yields the zero Attempt.
func Select(attempts []Attempt) Attempt {
	var exact, near Attempt
	for _, a := range attempts {
		switch len(a.Text) {
		case correct.Length:
			if exact.IsNoResult() || a.Confidence > exact.Confidence {
				exact = a
			}
		case correct.Length - 1, correct.Length + 1:
			n := coerceLength(a)
			if near.IsNoResult() || n.Confidence > near.Confidence {
				near = n
			}
		}
	}
	if !exact.IsNoResult() {
		return exact
	}
	return near
}

func coerceLength(a Attempt) Attempt {
	text, changed := correct.EnforceLength(a.Text)
	if !changed {
		return a
	}
	a.Text = text
	a.Confidence *= lengthPenalty
	a.Padded = true
	return a
}
