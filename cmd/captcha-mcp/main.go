package main

import (
	"fmt"
	"log"
	"os"

	"captcha-engine/internal/config"
	"captcha-engine/internal/ocr"
	"captcha-engine/internal/server"
	"captcha-engine/internal/vision"
)

// Version information - set by ldflags during build
var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

func main() {
	// Handle --version and -v flags
	if len(os.Args) > 1 {
		switch os.Args[1] {
		case "--version", "-v", "version":
			fmt.Printf("captcha-mcp %s\n", Version)
			fmt.Printf("  Build time: %s\n", BuildTime)
			fmt.Printf("  Git commit: %s\n", GitCommit)
			return
		case "--help", "-h", "help":
			fmt.Println("captcha-mcp - MCP server for captcha challenge diagnostics")
			fmt.Println()
			fmt.Println("Usage: captcha-mcp [options]")
			fmt.Println()
			fmt.Println("Options:")
			fmt.Println("  --version, -v    Print version information")
			fmt.Println("  --help, -h       Print this help message")
			fmt.Println()
			fmt.Println("Environment variables:")
			fmt.Println("  CAPTCHA_POOL_SIZE=N             Recognition worker count (default 1)")
			fmt.Println("  CAPTCHA_VISION_PROVIDER=NAME    gemini, openai or off (default gemini)")
			fmt.Println("  GEMINI_API_KEY=KEY              Enables the Gemini fallback")
			fmt.Println("  OPENAI_API_KEY=KEY              Enables the OpenAI fallback")
			fmt.Println("  CAPTCHA_MCP_LOG_LEVEL=debug     Enable debug logging")
			fmt.Println()
			fmt.Println("This server communicates via MCP protocol over stdin/stdout.")
			fmt.Println("Configure it in your MCP client.")
			return
		}
	}

	// Configure logging to stderr (stdout is for MCP protocol)
	log.SetOutput(os.Stderr)
	log.SetFlags(log.Ldate | log.Ltime | log.Lshortfile)

	logLevel := os.Getenv("CAPTCHA_MCP_LOG_LEVEL")
	if logLevel == "debug" {
		log.Printf("Captcha MCP Server v%s (built %s, commit %s)", Version, BuildTime, GitCommit)
	}

	cfg := config.Load()

	pool, err := ocr.NewPool(cfg.PoolSize, func() (ocr.Recognizer, error) {
		return ocr.NewTesseract()
	})
	if err != nil {
		log.Fatalf("Recognizer pool error: %v", err)
	}
	defer pool.Close()

	var fallback vision.Client
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

	srv := server.New(pool, fallback)
	if err := srv.Run(); err != nil {
		log.Fatalf("Server error: %v", err)
	}
}
