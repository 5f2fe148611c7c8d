package server

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"captcha-engine/internal/candidate"
	"captcha-engine/internal/correct"
	"captcha-engine/internal/ocr"
	"captcha-engine/internal/vision"
)

// solveTimeout bounds a single challenge_solve call, covering the full
// ensemble sweep plus an optional vision escalation.
const solveTimeout = 90 * time.Second

// ToolCallParams represents the parameters for a tools/call MCP request.
type ToolCallParams struct {
	// Name is the tool to invoke (e.g., "challenge_load", "challenge_solve").
	Name string `json:"name"`

	// Arguments contains the tool-specific parameters as JSON.
	Arguments json.RawMessage `json:"arguments"`
}

// handleToolsCall processes a tools/call request and executes the specified tool.
//
// The response wraps the tool result in MCP's content format:
//
//	{
//	  "content": [{"type": "text", "text": "<JSON result>"}]
//	}
//
// Tool execution errors return a JSON-RPC error response with code -32000.
func (s *Server) handleToolsCall(req *MCPRequest) *MCPResponse {
	var params ToolCallParams
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return s.errorResponse(req.ID, -32602, "Invalid params", err.Error())
	}

	result, err := s.executeTool(params.Name, params.Arguments)
	if err != nil {
		return s.errorResponse(req.ID, -32000, "Tool execution failed", err.Error())
	}

	return &MCPResponse{
		JSONRPC: "2.0",
		ID:      req.ID,
		Result: map[string]interface{}{
			"content": []map[string]interface{}{
				{
					"type": "text",
					"text": mustMarshalJSON(result),
				},
			},
		},
	}
}

// executeTool dispatches tool execution to the appropriate handler function.
//
// Each tool handler:
//  1. Unmarshals arguments from JSON
//  2. Applies default values for optional parameters
//  3. Loads challenges from the store as needed
//  4. Runs the relevant pipeline stage
//  5. Returns the result or error
func (s *Server) executeTool(name string, args json.RawMessage) (interface{}, error) {
	switch name {
	case "challenge_load":
		return s.handleChallengeLoad(args)
	case "challenge_analyze":
		return s.handleChallengeAnalyze(args)
	case "challenge_candidates":
		return s.handleChallengeCandidates(args)
	case "challenge_solve":
		return s.handleChallengeSolve(args)
	default:
		return nil, fmt.Errorf("unknown tool: %s", name)
	}
}

// errorResponse creates a JSON-RPC error response with the given details.
func (s *Server) errorResponse(id interface{}, code int, message, data string) *MCPResponse {
	return &MCPResponse{
		JSONRPC: "2.0",
		ID:      id,
		Error: &MCPError{
			Code:    code,
			Message: message,
			Data:    data,
		},
	}
}

// mustMarshalJSON converts a value to pretty-printed JSON string.
// Panics are suppressed; on marshal failure, returns an empty string.
func mustMarshalJSON(v interface{}) string {
	b, _ := json.MarshalIndent(v, "", "  ")
	return string(b)
}

// formatFromPath guesses the image format from the file extension.
func formatFromPath(path string) string {
	ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(path)), ".")
	if ext == "jpg" {
		ext = "jpeg"
	}
	return ext
}

// === Challenge Handlers ===

type challengePathArgs struct {
	Path string `json:"path"`
}

func (s *Server) handleChallengeLoad(args json.RawMessage) (interface{}, error) {
	var a challengePathArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return nil, err
	}
	c, err := s.store.Load(a.Path)
	if err != nil {
		return nil, err
	}

	bounds := c.img.Bounds()
	return map[string]interface{}{
		"path":            a.Path,
		"width":           bounds.Dx(),
		"height":          bounds.Dy(),
		"format":          formatFromPath(a.Path),
		"file_size_bytes": len(c.raw),
		"dominant_color":  string(c.profile.Dominant),
		"background_hex":  c.profile.BackgroundHex(),
		"contrast":        c.profile.Contrast,
		"mean_brightness": c.profile.MeanBrightness,
	}, nil
}

func (s *Server) handleChallengeAnalyze(args json.RawMessage) (interface{}, error) {
	var a challengePathArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return nil, err
	}
	c, err := s.store.Load(a.Path)
	if err != nil {
		return nil, err
	}

	bounds := c.img.Bounds()
	return map[string]interface{}{
		"path":            a.Path,
		"width":           bounds.Dx(),
		"height":          bounds.Dy(),
		"dominant_color":  string(c.profile.Dominant),
		"background_hex":  c.profile.BackgroundHex(),
		"mean_red":        c.profile.MeanR,
		"mean_green":      c.profile.MeanG,
		"mean_blue":       c.profile.MeanB,
		"mean_brightness": c.profile.MeanBrightness,
		"contrast":        c.profile.Contrast,
	}, nil
}

type challengeCandidatesArgs struct {
	Path    string `json:"path"`
	DumpDir string `json:"dump_dir"`
}

func (s *Server) handleChallengeCandidates(args json.RawMessage) (interface{}, error) {
	var a challengeCandidatesArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return nil, err
	}
	c, err := s.store.Load(a.Path)
	if err != nil {
		return nil, err
	}

	cands, err := s.gen.Generate(c.img, c.profile)
	if err != nil {
		return nil, err
	}

	list := make([]map[string]interface{}, len(cands))
	for i, cand := range cands {
		list[i] = map[string]interface{}{
			"label":       cand.Label,
			"description": cand.Desc,
			"contrast":    cand.ContrastScore,
		}
	}

	result := map[string]interface{}{
		"path":       a.Path,
		"count":      len(cands),
		"candidates": list,
	}
	if a.DumpDir != "" {
		if err := candidate.SaveAll(a.DumpDir, cands); err != nil {
			return nil, err
		}
		result["dumped_to"] = a.DumpDir
	}
	return result, nil
}

type challengeSolveArgs struct {
	Path      string `json:"path"`
	UseVision bool   `json:"use_vision"`
}

func (s *Server) handleChallengeSolve(args json.RawMessage) (interface{}, error) {
	var a challengeSolveArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return nil, err
	}
	if a.UseVision && s.fallback == nil {
		return nil, fmt.Errorf("use_vision requested but no vision provider is configured")
	}
	c, err := s.store.Load(a.Path)
	if err != nil {
		return nil, err
	}

	cands, err := s.gen.Generate(c.img, c.profile)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(context.Background(), solveTimeout)
	defer cancel()

	winner, attempts := s.ens.Run(ctx, cands)
	text := correct.Apply(winner.Text, winner.Confidence)
	confidence := winner.Confidence
	method := "ocr"
	padded := winner.Padded || len(winner.Text) != correct.Length

	if a.UseVision && !vision.Confident(winner.Text, winner.Confidence) {
		buf := escalationPNG(cands, winner)
		if len(buf) == 0 {
			return nil, fmt.Errorf("no candidate buffer available for vision escalation")
		}
		answer, err := s.fallback.SolveImage(ctx, buf)
		if err != nil {
			return nil, fmt.Errorf("vision escalation failed: %w", err)
		}
		text = answer
		confidence = vision.APIConfidence
		method = "api"
		padded = false
	}

	if !correct.Valid(text) {
		text, _ = correct.EnforceLength(ocr.CleanText(text))
		padded = true
	}

	return map[string]interface{}{
		"path":       a.Path,
		"text":       text,
		"confidence": confidence,
		"method":     method,
		"candidate":  winner.CandidateLabel,
		"mode":       string(winner.Mode),
		"color":      string(c.profile.Dominant),
		"padded":     padded,
		"attempts":   len(attempts),
	}, nil
}

// escalationPNG picks the candidate buffer to send to the vision provider:
// the winner's own candidate when it produced one, otherwise the variant
// with the strongest contrast.
func escalationPNG(cands []candidate.Candidate, winner ocr.Attempt) []byte {
	for _, c := range cands {
		if c.Label == winner.CandidateLabel {
			return c.PNG
		}
	}
	best := -1
	for i, c := range cands {
		if best < 0 || c.ContrastScore > cands[best].ContrastScore {
			best = i
		}
	}
	if best < 0 {
		return nil
	}
	return cands[best].PNG
}
