// Package config loads engine settings from the environment. Every value
// has a default; API keys stay empty when unset, which disables the
// matching vision fallback provider.
package config

import (
	"os"
	"strconv"
	"time"
)

type Config struct {
	// PoolSize is the number of pooled recognition clients. One keeps
	// the ensemble strictly sequential.
	PoolSize int

	// DumpDir, when set, receives candidate PNGs for every resolution.
	DumpDir string

	// VisionProvider picks the fallback client: "gemini", "openai" or
	// "off".
	VisionProvider string

	GeminiAPIKey string
	GeminiModel  string
	OpenAIAPIKey string
	OpenAIModel  string

	// MaxAttempts bounds the capture/recognize/submit loop per session.
	MaxAttempts int

	// Budget is the wall-clock limit for one session.
	Budget time.Duration

	// StepTimeout bounds each capture, submit and fallback call.
	StepTimeout time.Duration

	// SettleDelay is the pause before checking the submission outcome.
	SettleDelay time.Duration

	// CaptureRetryDelay is the pause before re-capturing a stale image.
	CaptureRetryDelay time.Duration
}

func Load() *Config {
	return &Config{
		PoolSize: getEnvInt("CAPTCHA_POOL_SIZE", 1),
		DumpDir:  getEnv("CAPTCHA_DUMP_DIR", ""),

		VisionProvider: getEnv("CAPTCHA_VISION_PROVIDER", "gemini"),
		GeminiAPIKey:   getEnv("GEMINI_API_KEY", ""),
		GeminiModel:    getEnv("GEMINI_MODEL", "gemini-2.5-flash"),
		OpenAIAPIKey:   getEnv("OPENAI_API_KEY", ""),
		OpenAIModel:    getEnv("OPENAI_MODEL", "gpt-4o-mini"),

		MaxAttempts:       getEnvInt("CAPTCHA_MAX_ATTEMPTS", 20),
		Budget:            getEnvDuration("CAPTCHA_BUDGET", 3*time.Minute),
		StepTimeout:       getEnvDuration("CAPTCHA_STEP_TIMEOUT", 15*time.Second),
		SettleDelay:       getEnvDuration("CAPTCHA_SETTLE_DELAY", 1200*time.Millisecond),
		CaptureRetryDelay: getEnvDuration("CAPTCHA_CAPTURE_RETRY", 400*time.Millisecond),
	}
}

func getEnv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func getEnvInt(k string, def int) int {
	if v := os.Getenv(k); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
	}
	return def
}

func getEnvDuration(k string, def time.Duration) time.Duration {
	if v := os.Getenv(k); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			return d
		}
	}
	return def
}
