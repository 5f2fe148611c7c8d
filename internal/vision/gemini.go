package vision

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"
)

// Gemini solves challenge images with a Gemini vision model.
type Gemini struct {
	APIKey string
	Model  string
}

// NewGemini returns a client for the given model, e.g. "gemini-1.5-flash".
func NewGemini(apiKey, model string) *Gemini {
	return &Gemini{
		APIKey: strings.TrimSpace(apiKey),
		Model:  strings.TrimSpace(model),
	}
}

// SolveImage sends the candidate buffer with the narrow solve prompt and
// returns the validated four character answer. Transient API errors are
// retried with a short backoff before giving up.
func (g *Gemini) SolveImage(ctx context.Context, png []byte) (string, error) {
	if g.APIKey == "" {
		return "", errors.New("GEMINI_API_KEY is empty")
	}
	cl, err := genai.NewClient(ctx, option.WithAPIKey(g.APIKey))
	if err != nil {
		return "", err
	}
	defer cl.Close()

	m := cl.GenerativeModel(g.Model)
	if m == nil {
		return "", fmt.Errorf("gemini: model is nil")
	}
	m.GenerationConfig = genai.GenerationConfig{
		Temperature: ptrFloat32(0),
	}
	m.SystemInstruction = &genai.Content{
		Parts: []genai.Part{genai.Text(solvePrompt)},
	}

	parts := []genai.Part{
		genai.Text("Read the CAPTCHA."),
		&genai.Blob{MIMEType: "image/png", Data: png},
	}

	var lastErr error
	for attempt := 1; attempt <= 3; attempt++ {
		resp, err := m.GenerateContent(ctx, parts...)
		if err != nil {
			lastErr = err
			time.Sleep(time.Duration(attempt) * 300 * time.Millisecond)
			continue
		}
		raw := firstText(resp)
		if raw == "" {
			return "", fmt.Errorf("gemini solve: empty response")
		}
		answer, ok := ParseAnswer(raw)
		if !ok {
			return "", fmt.Errorf("gemini solve: unusable reply %q", strings.TrimSpace(raw))
		}
		return answer, nil
	}
	return "", lastErr
}

func firstText(resp *genai.GenerateContentResponse) string {
	if resp == nil || len(resp.Candidates) == 0 {
		return ""
	}
	for _, c := range resp.Candidates {
		if c.Content == nil {
			continue
		}
		for _, p := range c.Content.Parts {
			if t, ok := p.(genai.Text); ok {
				return string(t)
			}
		}
	}
	return ""
}

func ptrFloat32(v float32) *float32 { return &v }
