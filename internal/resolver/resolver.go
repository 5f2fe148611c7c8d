package resolver

import (
	"context"
	"crypto/sha256"
	"errors"
	"log"
	"os"
	"sync"
	"time"

	"captcha-engine/internal/candidate"
	"captcha-engine/internal/config"
	"captcha-engine/internal/correct"
	"captcha-engine/internal/ocr"
	"captcha-engine/internal/stats"
	"captcha-engine/internal/vision"
)

// State names the resolution loop's position. Exposed for logs only; the
// loop itself owns all transitions.
type State string

const (
	StateIdle        State = "idle"
	StateCapturing   State = "capturing"
	StateRecognizing State = "recognizing"
	StateSubmitting  State = "submitting"
	StateAwaiting    State = "awaiting-outcome"
)

// Status is the terminal outcome of a resolution.
type Status string

const (
	// StatusAccepted means the challenge UI disappeared after a submission.
	StatusAccepted Status = "accepted"

	// StatusFailed means the attempt or wall-clock budget ran out.
	StatusFailed Status = "failed"

	// StatusExternal means the challenge went away through no action of
	// this engine, or the caller canceled the session.
	StatusExternal Status = "external"
)

// Methods describing where the submitted text came from.
const (
	MethodOCR    = "ocr"
	MethodAPI    = "api"
	MethodManual = "manual"
)

const manualConfidence = 100.0

// errChallengeGone marks a capture that failed because the challenge UI
// is no longer present.
var errChallengeGone = errors.New("challenge no longer visible")

// HostUI is the surface the engine drives. It is a shared single-threaded
// resource; the engine never runs two sessions against it concurrently.
type HostUI interface {
	// Capture returns the current challenge image bytes, or empty when no
	// image is available.
	Capture(ctx context.Context) ([]byte, error)

	// IsChallengeVisible reports whether the challenge UI is present.
	IsChallengeVisible(ctx context.Context) bool

	// Submit fills the answer field and confirms.
	Submit(ctx context.Context, text string) error
}

// Result is the terminal report of one resolution. Failure is a normal,
// reportable outcome; Text always matches ^[A-Z0-9]{4}$ regardless of
// Status.
type Result struct {
	Text           string
	Confidence     float64
	Method         string
	Status         Status
	AttemptsUsed   int
	CandidateLabel string
	Mode           ocr.Mode
	Color          string
	Padded         bool
	Latency        time.Duration
}

// Accepted reports whether the challenge was solved by this engine.
func (r Result) Accepted() bool { return r.Status == StatusAccepted }

// Options carries optional Engine collaborators. Zero values select
// defaults.
type Options struct {
	// Fallback escalates unconfident local results; nil disables escalation.
	Fallback vision.Client

	// Sink receives one record per finished resolution, in addition to
	// the engine's own collector.
	Sink stats.Sink

	// Collector accumulates cross-session counters.
	Collector *stats.Collector

	Config *config.Config
	Logger *log.Logger
}

// Engine resolves challenges against one host UI.
type Engine struct {
	ui        HostUI
	gen       *candidate.Generator
	ens       *ocr.Ensemble
	fallback  vision.Client
	sink      stats.Sink
	collector *stats.Collector
	cfg       *config.Config
	logger    *log.Logger

	mu       sync.Mutex
	sessions map[string]*session
}

// New builds an engine around a host UI and a recognizer pool.
func New(ui HostUI, pool *ocr.Pool, opts Options) *Engine {
	cfg := opts.Config
	if cfg == nil {
		cfg = config.Load()
	}
	collector := opts.Collector
	if collector == nil {
		collector = &stats.Collector{}
	}
	sink := stats.Sink(collector)
	if opts.Sink != nil {
		sink = stats.Tee(collector, opts.Sink)
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.New(os.Stderr, "", log.LstdFlags)
	}

	return &Engine{
		ui:        ui,
		gen:       candidate.NewGenerator(),
		ens:       ocr.NewEnsemble(pool),
		fallback:  opts.Fallback,
		sink:      sink,
		collector: collector,
		cfg:       cfg,
		logger:    logger,
		sessions:  make(map[string]*session),
	}
}

// Stats returns a snapshot of the cross-session counters.
func (e *Engine) Stats() stats.Snapshot { return e.collector.Snapshot() }

// Resolve runs the resolution loop for a session until a terminal status
// or until ctx is done. The returned error is reserved for malformed
// capture data; every expected failure mode lands in the Result.
func (e *Engine) Resolve(ctx context.Context, sessionID string) (Result, error) {
	s, err := e.startSession(sessionID)
	if err != nil {
		return Result{}, err
	}
	defer s.deactivate()

	ctx, cancel := context.WithTimeout(ctx, e.cfg.Budget)
	defer cancel()

	start := time.Now()
	state := StateCapturing

	var (
		fresh     []byte
		last      readout
		submitted string
		subHash   [sha256.Size]byte
	)

	for {
		if text, ok := s.takeManual(); ok {
			return e.finishManual(ctx, s, text, start), nil
		}
		if err := ctx.Err(); err != nil {
			return e.finish(s, last, statusFor(err), start), nil
		}
		if s.attempts >= e.cfg.MaxAttempts {
			e.logger.Printf("session %s: attempt budget exhausted after %d attempts", s.id, s.attempts)
			return e.finish(s, last, StatusFailed, start), nil
		}

		switch state {
		case StateCapturing:
			s.attempts++
			raw, err := e.captureFresh(ctx, s)
			if errors.Is(err, errChallengeGone) {
				return e.finish(s, last, StatusExternal, start), nil
			}
			if err != nil {
				// Stale frame or capture timeout; try again on a fresh
				// attempt.
				continue
			}
			fresh = raw
			state = StateRecognizing

		case StateRecognizing:
			ro, err := e.recognize(ctx, s, fresh)
			if err != nil {
				return Result{}, err
			}
			last = ro
			subHash = s.captureHash()
			state = StateSubmitting

		case StateSubmitting:
			text := avoidRejected(last.text, s.rejectedSet())
			if text != last.text {
				e.logger.Printf("session %s: text already rejected, submitting variant", s.id)
				last.text = text
			}

			sctx, scancel := context.WithTimeout(ctx, e.cfg.StepTimeout)
			err := e.ui.Submit(sctx, text)
			scancel()
			if err != nil {
				s.attempts++
				e.logger.Printf("session %s: submit failed: %v", s.id, err)
				continue
			}
			submitted = text
			state = StateAwaiting

		case StateAwaiting:
			switch e.awaitOutcome(ctx, s, subHash) {
			case outcomeAccepted:
				return e.finish(s, last, StatusAccepted, start), nil
			case outcomeRejected:
				s.recordRejected(submitted)
				e.collector.AddRejection()
				e.logger.Printf("session %s: submission rejected, recapturing", s.id)
				state = StateCapturing
			case outcomeSame:
				// No outcome signal; treat as a dropped submission and
				// resubmit on a fresh attempt.
				s.attempts++
				state = StateSubmitting
			case outcomeTransient:
				s.attempts++
			}
		}
	}
}

type outcome int

const (
	outcomeAccepted outcome = iota
	outcomeRejected
	outcomeSame
	outcomeTransient
)

// awaitOutcome waits for the UI to settle after a submission and reads
// the verdict: challenge gone means accepted, a different image means
// rejected, the identical image means the submission did not register.
func (e *Engine) awaitOutcome(ctx context.Context, s *session, submittedHash [sha256.Size]byte) outcome {
	if !sleepCtx(ctx, e.cfg.SettleDelay) {
		return outcomeTransient
	}

	octx, cancel := context.WithTimeout(ctx, e.cfg.StepTimeout)
	defer cancel()

	if !e.ui.IsChallengeVisible(octx) {
		return outcomeAccepted
	}
	raw, err := e.ui.Capture(octx)
	if err != nil || len(raw) == 0 {
		return outcomeTransient
	}
	if sha256.Sum256(raw) != submittedHash {
		return outcomeRejected
	}
	return outcomeSame
}

// captureFresh polls the UI for an image that differs from the previous
// capture. Identical bytes mean no new information has arrived, so it
// waits briefly and retries within the step timeout.
func (e *Engine) captureFresh(ctx context.Context, s *session) ([]byte, error) {
	cctx, cancel := context.WithTimeout(ctx, e.cfg.StepTimeout)
	defer cancel()

	for {
		if err := cctx.Err(); err != nil {
			return nil, err
		}

		raw, err := e.ui.Capture(cctx)
		if err != nil || len(raw) == 0 {
			if !e.ui.IsChallengeVisible(cctx) {
				return nil, errChallengeGone
			}
			if !sleepCtx(cctx, e.cfg.CaptureRetryDelay) {
				return nil, cctx.Err()
			}
			continue
		}

		sum := sha256.Sum256(raw)
		if sum == s.captureHash() {
			if !sleepCtx(cctx, e.cfg.CaptureRetryDelay) {
				return nil, cctx.Err()
			}
			continue
		}

		s.setCapture(raw, sum)
		return raw, nil
	}
}

// finishManual submits caller-provided text and completes the session.
// The manual path does not wait for an outcome; the caller took over.
func (e *Engine) finishManual(ctx context.Context, s *session, text string, start time.Time) Result {
	sctx, cancel := context.WithTimeout(ctx, e.cfg.StepTimeout)
	defer cancel()
	if err := e.ui.Submit(sctx, text); err != nil {
		e.logger.Printf("session %s: manual submit failed: %v", s.id, err)
	}
	return e.finish(s, readout{text: text, confidence: manualConfidence, method: MethodManual}, StatusAccepted, start)
}

// finish builds the terminal Result, enforcing the output invariant one
// last time, and emits the observability record.
func (e *Engine) finish(s *session, ro readout, status Status, start time.Time) Result {
	text := ro.text
	if !correct.Valid(text) {
		text, _ = correct.EnforceLength(ocr.CleanText(text))
	}
	method := ro.method
	if method == "" {
		method = MethodOCR
	}

	res := Result{
		Text:           text,
		Confidence:     ro.confidence,
		Method:         method,
		Status:         status,
		AttemptsUsed:   s.attempts,
		CandidateLabel: ro.candidateLabel,
		Mode:           ro.mode,
		Color:          ro.color,
		Padded:         ro.padded || text != ro.text,
		Latency:        time.Since(start),
	}

	e.sink.Emit(stats.Record{
		Confidence: res.Confidence,
		Candidate:  res.CandidateLabel,
		Accepted:   res.Accepted(),
		Attempts:   res.AttemptsUsed,
		Color:      res.Color,
		Method:     res.Method,
		Latency:    res.Latency,
	})
	e.logger.Printf("session %s: %s method=%s text_confidence=%.1f attempts=%d latency=%s",
		s.id, res.Status, res.Method, res.Confidence, res.AttemptsUsed, res.Latency.Round(time.Millisecond))
	return res
}

func statusFor(err error) Status {
	if errors.Is(err, context.DeadlineExceeded) {
		return StatusFailed
	}
	return StatusExternal
}

// sleepCtx sleeps for d unless ctx ends first; it reports whether the
// full duration elapsed.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}

// avoidRejected returns text, or the closest variant not yet rejected,
// bumping characters from the last position leftward. A session never
// resubmits a rejected string verbatim.
func avoidRejected(text string, rejected map[string]struct{}) string {
	if _, hit := rejected[text]; !hit {
		return text
	}
	b := []byte(text)
	for pos := len(b) - 1; pos >= 0; pos-- {
		orig := b[pos]
		idx := alphabetIndex(orig)
		for step := 1; step < len(correct.Alphabet); step++ {
			b[pos] = correct.Alphabet[(idx+step)%len(correct.Alphabet)]
			if _, hit := rejected[string(b)]; !hit {
				return string(b)
			}
		}
		b[pos] = orig
	}
	return text
}

func alphabetIndex(c byte) int {
	for i := 0; i < len(correct.Alphabet); i++ {
		if correct.Alphabet[i] == c {
			return i
		}
	}
	return 0
}
