package vision

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// OpenAI solves challenge images through the Responses API.
type OpenAI struct {
	APIKey string
	Model  string

	httpc   *http.Client
	baseURL string
}

// NewOpenAI returns a client for the given model, e.g. "gpt-4o-mini".
func NewOpenAI(apiKey, model string) *OpenAI {
	return &OpenAI{
		APIKey:  strings.TrimSpace(apiKey),
		Model:   strings.TrimSpace(model),
		httpc:   &http.Client{Timeout: 60 * time.Second},
		baseURL: "https://api.openai.com/v1/responses",
	}
}

// SolveImage posts the candidate buffer as a data URL and validates the
// model's reply.
func (o *OpenAI) SolveImage(ctx context.Context, png []byte) (string, error) {
	if o.APIKey == "" {
		return "", errors.New("OPENAI_API_KEY is empty")
	}

	dataURL := "data:image/png;base64," + base64.StdEncoding.EncodeToString(png)
	body := map[string]any{
		"model": o.Model,
		"input": []any{
			map[string]any{
				"role": "system",
				"content": []any{
					map[string]any{"type": "input_text", "text": solvePrompt},
				},
			},
			map[string]any{
				"role": "user",
				"content": []any{
					map[string]any{"type": "input_text", "text": "Read the CAPTCHA."},
					map[string]any{"type": "input_image", "image_url": dataURL},
				},
			},
		},
		"temperature": 0,
	}

	payload, _ := json.Marshal(body)
	req, err := http.NewRequestWithContext(ctx, "POST", o.baseURL, bytes.NewReader(payload))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+o.APIKey)

	resp, err := o.httpc.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		x, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("openai solve %d: %s", resp.StatusCode, strings.TrimSpace(string(x)))
	}

	raw, _ := io.ReadAll(resp.Body)
	out := extractResponsesText(raw)
	if out == "" {
		return "", fmt.Errorf("openai solve: empty output; body=%s", truncateBytes(raw, 512))
	}

	answer, ok := ParseAnswer(out)
	if !ok {
		return "", fmt.Errorf("openai solve: unusable reply %q", strings.TrimSpace(out))
	}
	return answer, nil
}

// extractResponsesText pulls model text from the Responses API envelope.
// It prefers the convenience `output_text` field and otherwise joins any
// text segments found under output[i].content[j].
func extractResponsesText(raw []byte) string {
	type content struct {
		Type string `json:"type"`
		Text string `json:"text"`
	}
	type output struct {
		Content []content `json:"content"`
	}
	var env struct {
		Output     []output `json:"output"`
		OutputText string   `json:"output_text"`
	}
	if err := json.Unmarshal(raw, &env); err != nil {
		return ""
	}

	if s := strings.TrimSpace(env.OutputText); s != "" {
		return s
	}

	var b strings.Builder
	for _, o := range env.Output {
		for _, c := range o.Content {
			if strings.TrimSpace(c.Text) == "" {
				continue
			}
			if c.Type == "output_text" || c.Type == "text" || c.Type == "" {
				if b.Len() > 0 {
					b.WriteByte('\n')
				}
				b.WriteString(c.Text)
			}
		}
	}
	return b.String()
}

func truncateBytes(b []byte, n int) string {
	if len(b) > n {
		return string(b[:n]) + "..."
	}
	return string(b)
}
