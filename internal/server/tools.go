package server

// Tool represents an MCP tool definition
type Tool struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	InputSchema map[string]interface{} `json:"inputSchema"`
}

// GetToolDefinitions returns all available tools
func GetToolDefinitions() []Tool {
	return []Tool{
		{
			Name:        "challenge_load",
			Description: "Load a challenge image file and return its dimensions, format and color profile summary. The file is cached for subsequent operations.",
			InputSchema: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"path": map[string]interface{}{
						"type":        "string",
						"description": "Absolute path to the challenge image file",
					},
				},
				"required": []string{"path"},
			},
		},
		{
			Name:        "challenge_analyze",
			Description: "Return the full color profile of a challenge image: dominant color, per-channel means, brightness and contrast. This is the profile that steers preprocessing.",
			InputSchema: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"path": map[string]interface{}{
						"type":        "string",
						"description": "Absolute path to the challenge image file",
					},
				},
				"required": []string{"path"},
			},
		},
		{
			Name:        "challenge_candidates",
			Description: "Run the preprocessing generator over a challenge image and list the produced variants in recognition order. Optionally dump each variant as a PNG file for inspection.",
			InputSchema: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"path": map[string]interface{}{
						"type":        "string",
						"description": "Absolute path to the challenge image file",
					},
					"dump_dir": map[string]interface{}{
						"type":        "string",
						"description": "Optional directory to write candidate PNGs into. Created if missing.",
					},
				},
				"required": []string{"path"},
			},
		},
		{
			Name:        "challenge_solve",
			Description: "Run the full recognition pass over a challenge image and return the best read with its confidence, the winning candidate and page segmentation mode.",
			InputSchema: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"path": map[string]interface{}{
						"type":        "string",
						"description": "Absolute path to the challenge image file",
					},
					"use_vision": map[string]interface{}{
						"type":        "boolean",
						"description": "Escalate to the vision provider when the local read is not confident (default false)",
						"default":     false,
					},
				},
				"required": []string{"path"},
			},
		},
	}
}

// handleToolsList returns the list of available tools
func (s *Server) handleToolsList(req *MCPRequest) *MCPResponse {
	return &MCPResponse{
		JSONRPC: "2.0",
		ID:      req.ID,
		Result: map[string]interface{}{
			"tools": GetToolDefinitions(),
		},
	}
}
