// Command solvetest runs the recognition pipeline over challenge images
// from disk. It prints per-stage diagnostics for each file, which makes it
// the tool for tuning preprocessing against a folder of saved challenges.
//
// Usage: solvetest [options] <challenge.png> [challenge2.png ...]
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"captcha-engine/internal/analyze"
	"captcha-engine/internal/candidate"
	"captcha-engine/internal/config"
	"captcha-engine/internal/correct"
	"captcha-engine/internal/ocr"
	"captcha-engine/internal/vision"
)

// fileResult aggregates one file's run for the summary and JSON output.
type fileResult struct {
	Path       string  `json:"path"`
	Color      string  `json:"color"`
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence"`
	Method     string  `json:"method"`
	Candidate  string  `json:"candidate"`
	Mode       string  `json:"mode"`
	Padded     bool    `json:"padded"`
	Attempts   int     `json:"attempts"`
	ElapsedMS  int64   `json:"elapsed_ms"`
	Err        string  `json:"error,omitempty"`
}

var (
	flagVerbose = flag.Bool("v", false, "Verbose output (per-attempt rows)")
	flagDump    = flag.String("dump", "", "Dump candidate PNGs into this directory, one subdirectory per image")
	flagVision  = flag.Bool("vision", false, "Escalate unconfident reads to the vision provider configured via environment")
	flagJSON    = flag.String("json", "", "Write results to a JSON file")
)

func main() {
	flag.Parse()

	if flag.NArg() < 1 {
		fmt.Fprintf(os.Stderr, "Usage: %s [options] <challenge.png> [challenge2.png ...]\n", os.Args[0])
		flag.PrintDefaults()
		os.Exit(1)
	}

	cfg := config.Load()

	pool, err := ocr.NewPool(cfg.PoolSize, func() (ocr.Recognizer, error) {
		return ocr.NewTesseract()
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error creating recognizer pool: %v\n", err)
		os.Exit(1)
	}
	defer pool.Close()

	var fallback vision.Client
	if *flagVision {
		switch cfg.VisionProvider {
		case "gemini":
			if cfg.GeminiAPIKey != "" {
				fallback = vision.NewGemini(cfg.GeminiAPIKey, cfg.GeminiModel)
			}
		case "openai":
			if cfg.OpenAIAPIKey != "" {
				fallback = vision.NewOpenAI(cfg.OpenAIAPIKey, cfg.OpenAIModel)
			}
		}
		if fallback == nil {
			fmt.Fprintln(os.Stderr, "Error: -vision requires CAPTCHA_VISION_PROVIDER plus the matching API key")
			os.Exit(1)
		}
	}

	gen := candidate.NewGenerator()
	ens := ocr.NewEnsemble(pool)

	var results []fileResult
	for i, path := range flag.Args() {
		fmt.Printf("\n[%d/%d] %s\n", i+1, flag.NArg(), path)
		r := solveFile(gen, ens, fallback, cfg, path)
		if r.Err != "" {
			fmt.Fprintf(os.Stderr, "Error solving %s: %s\n", path, r.Err)
		}
		results = append(results, r)
	}

	printSummary(results)

	if *flagJSON != "" {
		if err := outputJSON(results, *flagJSON); err != nil {
			fmt.Fprintf(os.Stderr, "Error writing JSON: %v\n", err)
		} else {
			fmt.Printf("\nResults written to: %s\n", *flagJSON)
		}
	}

	for _, r := range results {
		if r.Err != "" {
			os.Exit(1)
		}
	}
}

func solveFile(gen *candidate.Generator, ens *ocr.Ensemble, fallback vision.Client, cfg *config.Config, path string) fileResult {
	r := fileResult{Path: path}

	raw, err := os.ReadFile(path)
	if err != nil {
		r.Err = err.Error()
		return r
	}

	prof, img, err := analyze.AnalyzeBytes(raw)
	if err != nil {
		r.Err = err.Error()
		return r
	}
	r.Color = string(prof.Dominant)
	fmt.Printf("  Profile: color=%s background=%s brightness=%.1f contrast=%.1f\n",
		prof.Dominant, prof.BackgroundHex(), prof.MeanBrightness, prof.Contrast)

	cands, err := gen.Generate(img, prof)
	if err != nil {
		r.Err = err.Error()
		return r
	}
	fmt.Printf("  Candidates: %d\n", len(cands))
	if *flagVerbose {
		for i, c := range cands {
			fmt.Printf("    %2d. %-10s contrast=%6.1f  %s\n", i+1, c.Label, c.ContrastScore, c.Desc)
		}
	}

	if *flagDump != "" {
		dir := filepath.Join(*flagDump, strings.TrimSuffix(filepath.Base(path), filepath.Ext(path)))
		if err := candidate.SaveAll(dir, cands); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: could not dump candidates: %v\n", err)
		} else {
			fmt.Printf("  Dumped candidates to %s\n", dir)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Budget)
	defer cancel()

	start := time.Now()
	winner, attempts := ens.Run(ctx, cands)
	elapsed := time.Since(start)

	r.Attempts = len(attempts)
	r.ElapsedMS = elapsed.Milliseconds()

	if *flagVerbose {
		fmt.Printf("  Attempts (%d):\n", len(attempts))
		for _, a := range attempts {
			marker := ""
			if a.Padded {
				marker = " (padded)"
			}
			fmt.Printf("    %-10s %-10s %-6q conf=%5.1f%s\n",
				a.CandidateLabel, a.Mode, a.Text, a.Confidence, marker)
		}
	}

	r.Text = correct.Apply(winner.Text, winner.Confidence)
	r.Confidence = winner.Confidence
	r.Method = "ocr"
	r.Candidate = winner.CandidateLabel
	r.Mode = string(winner.Mode)
	r.Padded = winner.Padded || len(winner.Text) != correct.Length

	if fallback != nil && !vision.Confident(winner.Text, winner.Confidence) {
		fmt.Printf("  Local read %q (%.1f) below gate, escalating...\n", winner.Text, winner.Confidence)
		answer, verr := escalate(ctx, fallback, cfg, cands, winner)
		if verr != nil {
			fmt.Fprintf(os.Stderr, "Warning: vision escalation failed: %v\n", verr)
		} else {
			r.Text = answer
			r.Confidence = vision.APIConfidence
			r.Method = "api"
			r.Padded = false
		}
	}

	if !correct.Valid(r.Text) {
		r.Text, _ = correct.EnforceLength(ocr.CleanText(r.Text))
		r.Padded = true
	}

	fmt.Printf("  RESULT text=%s confidence=%.1f method=%s candidate=%s mode=%s attempts=%d elapsed=%s\n",
		r.Text, r.Confidence, r.Method, r.Candidate, r.Mode, r.Attempts, elapsed.Round(time.Millisecond))
	return r
}

func escalate(ctx context.Context, fallback vision.Client, cfg *config.Config, cands []candidate.Candidate, winner ocr.Attempt) (string, error) {
	// Prefer the winner's own source image, else the sharpest variant.
	var buf []byte
	for _, c := range cands {
		if c.Label == winner.CandidateLabel {
			buf = c.PNG
			break
		}
	}
	if buf == nil {
		best := 0
		for i, c := range cands {
			if c.ContrastScore > cands[best].ContrastScore {
				best = i
			}
		}
		buf = cands[best].PNG
	}

	vctx, cancel := context.WithTimeout(ctx, cfg.StepTimeout)
	defer cancel()
	return fallback.SolveImage(vctx, buf)
}

func printSummary(results []fileResult) {
	fmt.Println("\n" + strings.Repeat("=", 80))
	fmt.Println("SUMMARY")
	fmt.Println(strings.Repeat("=", 80))

	var solved, escalated, padded, failed int
	var confSum float64
	for _, r := range results {
		switch {
		case r.Err != "":
			failed++
			continue
		case r.Method == "api":
			escalated++
		}
		if r.Padded {
			padded++
		}
		solved++
		confSum += r.Confidence
	}

	fmt.Printf("\nFiles: %d total\n", len(results))
	fmt.Printf("  Solved:    %d\n", solved)
	fmt.Printf("  Escalated: %d\n", escalated)
	fmt.Printf("  Padded:    %d\n", padded)
	fmt.Printf("  Failed:    %d\n", failed)
	if solved > 0 {
		fmt.Printf("\nMean confidence: %.1f\n", confSum/float64(solved))
	}
}

func outputJSON(results []fileResult, path string) error {
	data, err := json.MarshalIndent(results, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}
