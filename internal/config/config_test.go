package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	for _, k := range []string{"CAPTCHA_POOL_SIZE", "CAPTCHA_MAX_ATTEMPTS", "CAPTCHA_BUDGET", "CAPTCHA_VISION_PROVIDER"} {
		t.Setenv(k, "")
	}
	cfg := Load()

	if cfg.PoolSize != 1 {
		t.Errorf("PoolSize = %d, want 1", cfg.PoolSize)
	}
	if cfg.MaxAttempts != 20 {
		t.Errorf("MaxAttempts = %d, want 20", cfg.MaxAttempts)
	}
	if cfg.Budget != 3*time.Minute {
		t.Errorf("Budget = %v, want 3m", cfg.Budget)
	}
	if cfg.VisionProvider != "gemini" {
		t.Errorf("VisionProvider = %q, want gemini", cfg.VisionProvider)
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("CAPTCHA_POOL_SIZE", "3")
	t.Setenv("CAPTCHA_MAX_ATTEMPTS", "7")
	t.Setenv("CAPTCHA_BUDGET", "45s")
	t.Setenv("CAPTCHA_VISION_PROVIDER", "openai")

	cfg := Load()
	if cfg.PoolSize != 3 {
		t.Errorf("PoolSize = %d, want 3", cfg.PoolSize)
	}
	if cfg.MaxAttempts != 7 {
		t.Errorf("MaxAttempts = %d, want 7", cfg.MaxAttempts)
	}
	if cfg.Budget != 45*time.Second {
		t.Errorf("Budget = %v, want 45s", cfg.Budget)
	}
	if cfg.VisionProvider != "openai" {
		t.Errorf("VisionProvider = %q, want openai", cfg.VisionProvider)
	}
}

func TestLoadIgnoresMalformedValues(t *testing.T) {
	t.Setenv("CAPTCHA_POOL_SIZE", "zero")
	t.Setenv("CAPTCHA_BUDGET", "-5s")

	cfg := Load()
	if cfg.PoolSize != 1 {
		t.Errorf("PoolSize = %d, want default 1 for malformed value", cfg.PoolSize)
	}
	if cfg.Budget != 3*time.Minute {
		t.Errorf("Budget = %v, want default 3m for negative value", cfg.Budget)
	}
}
