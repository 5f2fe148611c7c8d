package server

import (
	"context"
	"encoding/json"
	"errors"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"captcha-engine/internal/ocr"
	"captcha-engine/internal/vision"
)

// writeChallengeFile renders a synthetic challenge (four dark strokes on
// a yellow background) into dir and returns its path.
func writeChallengeFile(t *testing.T, dir string) string {
	t.Helper()

	img := image.NewRGBA(image.Rect(0, 0, 120, 40))
	bg := color.RGBA{R: 230, G: 220, B: 120, A: 255}
	for y := 0; y < 40; y++ {
		for x := 0; x < 120; x++ {
			img.SetRGBA(x, y, bg)
		}
	}
	ink := color.RGBA{R: 30, G: 30, B: 30, A: 255}
	for i := 0; i < 4; i++ {
		for y := 8; y < 32; y++ {
			for x := 14 + i*26; x < 17+i*26; x++ {
				img.SetRGBA(x, y, ink)
			}
		}
	}

	path := filepath.Join(dir, "challenge.png")
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("failed to create challenge file: %v", err)
	}
	defer f.Close()
	if err := png.Encode(f, img); err != nil {
		t.Fatalf("failed to encode challenge: %v", err)
	}
	return path
}

// stubRecognizer returns the same scripted result for every pass.
type stubRecognizer struct {
	text string
	conf float64
}

func (r *stubRecognizer) Recognize(context.Context, []byte, ocr.Mode) (ocr.Result, error) {
	return ocr.Result{Text: r.text, Confidence: r.conf}, nil
}

type stubVision struct {
	mu     sync.Mutex
	answer string
	err    error
	calls  int
}

func (v *stubVision) SolveImage(context.Context, []byte) (string, error) {
	v.mu.Lock()
	v.calls++
	v.mu.Unlock()
	if v.err != nil {
		return "", v.err
	}
	return v.answer, nil
}

func (v *stubVision) callCount() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.calls
}

func newTestServer(t *testing.T, rec ocr.Recognizer, fallback vision.Client) *Server {
	t.Helper()
	pool, err := ocr.NewPool(1, func() (ocr.Recognizer, error) { return rec, nil })
	if err != nil {
		t.Fatalf("NewPool() error = %v", err)
	}
	t.Cleanup(func() { pool.Close() })
	return New(pool, fallback)
}

// callTool runs one tools/call round trip through handleToolsCall.
func callTool(t *testing.T, s *Server, name string, args map[string]interface{}) *MCPResponse {
	t.Helper()
	params := map[string]interface{}{
		"name":      name,
		"arguments": args,
	}
	paramsJSON, err := json.Marshal(params)
	if err != nil {
		t.Fatalf("failed to marshal params: %v", err)
	}
	return s.handleToolsCall(&MCPRequest{
		JSONRPC: "2.0",
		ID:      1,
		Params:  paramsJSON,
	})
}

// toolResult unwraps the content envelope and decodes the inner JSON text.
func toolResult(t *testing.T, resp *MCPResponse) map[string]interface{} {
	t.Helper()
	if resp == nil {
		t.Fatal("handleToolsCall returned nil")
	}
	if resp.Error != nil {
		t.Fatalf("Unexpected error: %v", resp.Error)
	}
	result, ok := resp.Result.(map[string]interface{})
	if !ok {
		t.Fatal("Result should be a map")
	}
	content, ok := result["content"].([]map[string]interface{})
	if !ok || len(content) == 0 {
		t.Fatal("Result should contain a content list")
	}
	text, ok := content[0]["text"].(string)
	if !ok {
		t.Fatal("content[0].text should be a string")
	}

	var decoded map[string]interface{}
	if err := json.Unmarshal([]byte(text), &decoded); err != nil {
		t.Fatalf("failed to decode tool result: %v", err)
	}
	return decoded
}

func TestHandleToolsCall_ChallengeLoad(t *testing.T) {
	s := newTestServer(t, &stubRecognizer{text: "AB12", conf: 95}, nil)
	imgPath := writeChallengeFile(t, t.TempDir())

	resp := callTool(t, s, "challenge_load", map[string]interface{}{
		"path": imgPath,
	})
	got := toolResult(t, resp)

	if got["width"] != float64(120) || got["height"] != float64(40) {
		t.Errorf("dimensions: got %vx%v, want 120x40", got["width"], got["height"])
	}
	if got["format"] != "png" {
		t.Errorf("format: got %v, want png", got["format"])
	}
	if got["dominant_color"] != "yellow" {
		t.Errorf("dominant_color: got %v, want yellow", got["dominant_color"])
	}
	size, ok := got["file_size_bytes"].(float64)
	if !ok || size <= 0 {
		t.Errorf("file_size_bytes: got %v, want > 0", got["file_size_bytes"])
	}
}

func TestHandleToolsCall_ChallengeAnalyze(t *testing.T) {
	s := newTestServer(t, &stubRecognizer{text: "AB12", conf: 95}, nil)
	imgPath := writeChallengeFile(t, t.TempDir())

	resp := callTool(t, s, "challenge_analyze", map[string]interface{}{
		"path": imgPath,
	})
	got := toolResult(t, resp)

	if got["dominant_color"] != "yellow" {
		t.Errorf("dominant_color: got %v, want yellow", got["dominant_color"])
	}
	contrast, ok := got["contrast"].(float64)
	if !ok || contrast < 100 {
		t.Errorf("contrast: got %v, want >= 100 for inked challenge", got["contrast"])
	}
	brightness, ok := got["mean_brightness"].(float64)
	if !ok || brightness < 150 || brightness > 255 {
		t.Errorf("mean_brightness: got %v, want in [150,255]", got["mean_brightness"])
	}
	hex, ok := got["background_hex"].(string)
	if !ok || len(hex) != 7 || hex[0] != '#' {
		t.Errorf("background_hex: got %v, want #RRGGBB", got["background_hex"])
	}
}

func TestHandleToolsCall_ChallengeCandidates(t *testing.T) {
	s := newTestServer(t, &stubRecognizer{text: "AB12", conf: 95}, nil)
	imgPath := writeChallengeFile(t, t.TempDir())

	resp := callTool(t, s, "challenge_candidates", map[string]interface{}{
		"path": imgPath,
	})
	got := toolResult(t, resp)

	count, ok := got["count"].(float64)
	if !ok || count != 5 {
		t.Errorf("count: got %v, want 5 for a high-contrast challenge", got["count"])
	}

	cands, ok := got["candidates"].([]interface{})
	if !ok {
		t.Fatal("candidates should be a list")
	}
	if len(cands) != int(count) {
		t.Errorf("candidates length %d does not match count %v", len(cands), count)
	}
	first, ok := cands[0].(map[string]interface{})
	if !ok {
		t.Fatal("candidate entries should be maps")
	}
	if first["label"] != "baseline" {
		t.Errorf("first candidate label: got %v, want baseline", first["label"])
	}
	if _, ok := got["dumped_to"]; ok {
		t.Error("dumped_to should be absent when dump_dir is not given")
	}
}

func TestHandleToolsCall_ChallengeCandidates_DumpDir(t *testing.T) {
	s := newTestServer(t, &stubRecognizer{text: "AB12", conf: 95}, nil)
	dir := t.TempDir()
	imgPath := writeChallengeFile(t, dir)
	dumpDir := filepath.Join(dir, "dump")

	resp := callTool(t, s, "challenge_candidates", map[string]interface{}{
		"path":     imgPath,
		"dump_dir": dumpDir,
	})
	got := toolResult(t, resp)

	if got["dumped_to"] != dumpDir {
		t.Errorf("dumped_to: got %v, want %s", got["dumped_to"], dumpDir)
	}
	entries, err := os.ReadDir(dumpDir)
	if err != nil {
		t.Fatalf("failed to read dump dir: %v", err)
	}
	if len(entries) != int(got["count"].(float64)) {
		t.Errorf("dump contains %d files, want %v", len(entries), got["count"])
	}
}

func TestHandleToolsCall_ChallengeSolve(t *testing.T) {
	s := newTestServer(t, &stubRecognizer{text: "ab12", conf: 95}, nil)
	imgPath := writeChallengeFile(t, t.TempDir())

	resp := callTool(t, s, "challenge_solve", map[string]interface{}{
		"path": imgPath,
	})
	got := toolResult(t, resp)

	if got["text"] != "AB12" {
		t.Errorf("text: got %v, want AB12", got["text"])
	}
	if got["method"] != "ocr" {
		t.Errorf("method: got %v, want ocr", got["method"])
	}
	if got["confidence"] != float64(95) {
		t.Errorf("confidence: got %v, want 95", got["confidence"])
	}
	if got["padded"] != false {
		t.Errorf("padded: got %v, want false", got["padded"])
	}
	if got["color"] != "yellow" {
		t.Errorf("color: got %v, want yellow", got["color"])
	}
	if label, ok := got["candidate"].(string); !ok || label == "" {
		t.Errorf("candidate: got %v, want a label", got["candidate"])
	}
	if attempts, ok := got["attempts"].(float64); !ok || attempts < 1 {
		t.Errorf("attempts: got %v, want >= 1", got["attempts"])
	}
}

func TestHandleToolsCall_ChallengeSolve_VisionEscalation(t *testing.T) {
	fallback := &stubVision{answer: "ZX42"}
	s := newTestServer(t, &stubRecognizer{text: "ab1", conf: 50}, fallback)
	imgPath := writeChallengeFile(t, t.TempDir())

	resp := callTool(t, s, "challenge_solve", map[string]interface{}{
		"path":       imgPath,
		"use_vision": true,
	})
	got := toolResult(t, resp)

	if got["text"] != "ZX42" {
		t.Errorf("text: got %v, want ZX42", got["text"])
	}
	if got["method"] != "api" {
		t.Errorf("method: got %v, want api", got["method"])
	}
	if got["confidence"] != vision.APIConfidence {
		t.Errorf("confidence: got %v, want %v", got["confidence"], vision.APIConfidence)
	}
	if got["padded"] != false {
		t.Errorf("padded: got %v, want false", got["padded"])
	}
	if fallback.callCount() != 1 {
		t.Errorf("vision calls: got %d, want 1", fallback.callCount())
	}
}

func TestHandleToolsCall_ChallengeSolve_ConfidentSkipsVision(t *testing.T) {
	fallback := &stubVision{answer: "QQQQ"}
	s := newTestServer(t, &stubRecognizer{text: "QK7M", conf: 91}, fallback)
	imgPath := writeChallengeFile(t, t.TempDir())

	resp := callTool(t, s, "challenge_solve", map[string]interface{}{
		"path":       imgPath,
		"use_vision": true,
	})
	got := toolResult(t, resp)

	if got["text"] != "QK7M" {
		t.Errorf("text: got %v, want QK7M", got["text"])
	}
	if got["method"] != "ocr" {
		t.Errorf("method: got %v, want ocr", got["method"])
	}
	if fallback.callCount() != 0 {
		t.Errorf("vision calls: got %d, want 0", fallback.callCount())
	}
}

func TestHandleToolsCall_ChallengeSolve_VisionNotConfigured(t *testing.T) {
	s := newTestServer(t, &stubRecognizer{text: "ab1", conf: 50}, nil)
	imgPath := writeChallengeFile(t, t.TempDir())

	resp := callTool(t, s, "challenge_solve", map[string]interface{}{
		"path":       imgPath,
		"use_vision": true,
	})

	if resp.Error == nil {
		t.Fatal("Expected error when use_vision is set without a provider")
	}
	if resp.Error.Code != -32000 {
		t.Errorf("Error code: got %d, want -32000", resp.Error.Code)
	}
}

func TestHandleToolsCall_ChallengeSolve_VisionFailure(t *testing.T) {
	fallback := &stubVision{err: errors.New("quota exhausted")}
	s := newTestServer(t, &stubRecognizer{text: "ab1", conf: 50}, fallback)
	imgPath := writeChallengeFile(t, t.TempDir())

	resp := callTool(t, s, "challenge_solve", map[string]interface{}{
		"path":       imgPath,
		"use_vision": true,
	})

	if resp.Error == nil {
		t.Fatal("Expected error when the vision provider fails")
	}
	if resp.Error.Code != -32000 {
		t.Errorf("Error code: got %d, want -32000", resp.Error.Code)
	}
}

func TestHandleToolsCall_NonExistentFile(t *testing.T) {
	s := newTestServer(t, &stubRecognizer{text: "AB12", conf: 95}, nil)

	resp := callTool(t, s, "challenge_load", map[string]interface{}{
		"path": "/nonexistent/challenge.png",
	})

	if resp.Error == nil {
		t.Fatal("Expected error for non-existent file")
	}
	if resp.Error.Code != -32000 {
		t.Errorf("Error code: got %d, want -32000", resp.Error.Code)
	}
}

func TestHandleToolsCall_InvalidTool(t *testing.T) {
	s := newTestServer(t, &stubRecognizer{text: "AB12", conf: 95}, nil)

	resp := callTool(t, s, "nonexistent_tool", map[string]interface{}{})

	if resp.Error == nil {
		t.Fatal("Expected error for unknown tool")
	}
	if resp.Error.Code != -32000 {
		t.Errorf("Error code: got %d, want -32000", resp.Error.Code)
	}
}

func TestHandleToolsCall_InvalidParams(t *testing.T) {
	s := newTestServer(t, &stubRecognizer{text: "AB12", conf: 95}, nil)

	req := &MCPRequest{
		JSONRPC: "2.0",
		ID:      1,
		Params:  json.RawMessage(`invalid json`),
	}

	resp := s.handleToolsCall(req)

	if resp.Error == nil {
		t.Fatal("Expected error for invalid JSON params")
	}
	if resp.Error.Code != -32602 {
		t.Errorf("Error code: got %d, want -32602", resp.Error.Code)
	}
}

func TestExecuteTool_AllTools(t *testing.T) {
	s := newTestServer(t, &stubRecognizer{text: "AB12", conf: 95}, nil)
	imgPath := writeChallengeFile(t, t.TempDir())

	// Test each tool to ensure executeTool correctly dispatches
	toolTests := []struct {
		name string
		args map[string]interface{}
	}{
		{"challenge_load", map[string]interface{}{"path": imgPath}},
		{"challenge_analyze", map[string]interface{}{"path": imgPath}},
		{"challenge_candidates", map[string]interface{}{"path": imgPath}},
		{"challenge_solve", map[string]interface{}{"path": imgPath}},
	}

	for _, tt := range toolTests {
		t.Run(tt.name, func(t *testing.T) {
			argsJSON, _ := json.Marshal(tt.args)
			result, err := s.executeTool(tt.name, argsJSON)
			if err != nil {
				t.Fatalf("executeTool(%s) failed: %v", tt.name, err)
			}
			if result == nil {
				t.Errorf("executeTool(%s) returned nil result", tt.name)
			}
		})
	}
}

func TestExecuteTool_UnknownTool(t *testing.T) {
	s := newTestServer(t, &stubRecognizer{text: "AB12", conf: 95}, nil)

	_, err := s.executeTool("unknown_tool", json.RawMessage(`{}`))
	if err == nil {
		t.Error("executeTool should fail for unknown tool")
	}
}

func TestExecuteTool_InvalidJSON(t *testing.T) {
	s := newTestServer(t, &stubRecognizer{text: "AB12", conf: 95}, nil)

	_, err := s.executeTool("challenge_load", json.RawMessage(`{invalid`))
	if err == nil {
		t.Error("executeTool should fail for invalid JSON")
	}
}

func TestChallengeStore_ReadThrough(t *testing.T) {
	store := newChallengeStore()
	imgPath := writeChallengeFile(t, t.TempDir())

	first, err := store.Load(imgPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if first.profile.Dominant != "yellow" {
		t.Errorf("profile.Dominant = %v, want yellow", first.profile.Dominant)
	}

	second, err := store.Load(imgPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if first != second {
		t.Error("second Load should return the cached entry")
	}

	store.Evict(imgPath)
	third, err := store.Load(imgPath)
	if err != nil {
		t.Fatalf("Load() after Evict error = %v", err)
	}
	if third == first {
		t.Error("Load after Evict should re-read the file")
	}

	store.Clear()
	if _, err := store.Load(imgPath); err != nil {
		t.Fatalf("Load() after Clear error = %v", err)
	}
}

func TestChallengeStore_MissingFile(t *testing.T) {
	store := newChallengeStore()
	if _, err := store.Load("/nonexistent/challenge.png"); err == nil {
		t.Error("Load should fail for a missing file")
	}
}

func TestFormatFromPath(t *testing.T) {
	tests := []struct {
		path string
		want string
	}{
		{"/tmp/challenge.png", "png"},
		{"/tmp/challenge.JPG", "jpeg"},
		{"/tmp/challenge.jpeg", "jpeg"},
		{"/tmp/challenge.gif", "gif"},
		{"/tmp/challenge", ""},
	}

	for _, tt := range tests {
		if got := formatFromPath(tt.path); got != tt.want {
			t.Errorf("formatFromPath(%q) = %q, want %q", tt.path, got, tt.want)
		}
	}
}
