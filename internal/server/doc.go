// Package server implements the MCP (Model Context Protocol) server that
// exposes the captcha pipeline as diagnostic tools.
//
// The server speaks JSON-RPC 2.0 over stdio:
//   - Input: JSON-RPC requests on stdin (one per line)
//   - Output: JSON-RPC responses on stdout
//
// Supported MCP methods:
//   - initialize: Protocol handshake
//   - tools/list: Enumerate available tools
//   - tools/call: Execute a tool with arguments
//   - ping: Health check
//
// # Available Tools
//
// Four tools operate on challenge image files given by path:
//
//   - challenge_load: Load a challenge file and report its dimensions,
//     format and color profile summary
//   - challenge_analyze: Return the full color profile used to steer
//     preprocessing (dominant color, channel means, contrast, brightness)
//   - challenge_candidates: Run the preprocessing generator and list the
//     produced variants, optionally dumping them as PNG files
//   - challenge_solve: Run the full recognition pass over one file and
//     return the best read with its confidence and provenance
//
// # Challenge Caching
//
// The server maintains an in-memory cache of loaded challenges. Files are
// cached by path, so repeated tool calls against the same path decode and
// profile the image only once. The cache persists for the lifetime of the
// server process.
//
// # Error Handling
//
// Tool execution errors are returned as JSON-RPC error responses with:
//   - code: -32000 (tool execution failure) or standard JSON-RPC codes
//   - message: Human-readable error description
//   - data: Additional error details (typically the Go error string)
//
// # Usage
//
// The server is typically started by an MCP client:
//
//	srv := server.New(pool, fallback)
//	if err := srv.Run(); err != nil {
//	    log.Fatal(err)
//	}
package server
