package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.MaxLoginAttempts != 5 {
		t.Fatalf("unexpected MaxLoginAttempts: %d", cfg.MaxLoginAttempts)
	}
	if cfg.AccountLockoutTime != 30*time.Minute {
		t.Fatalf("unexpected AccountLockoutTime: %v", cfg.AccountLockoutTime)
	}
	if cfg.LoginAttemptWindow != 15*time.Minute {
		t.Fatalf("unexpected LoginAttemptWindow: %v", cfg.LoginAttemptWindow)
	}
	if cfg.ProductsPerPage != 12 {
		t.Fatalf("unexpected ProductsPerPage: %d", cfg.ProductsPerPage)
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("MAX_LOGIN_ATTEMPTS", "3")
	t.Setenv("SESSION_TIMEOUT", "600")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.MaxLoginAttempts != 3 {
		t.Fatalf("unexpected MaxLoginAttempts: %d", cfg.MaxLoginAttempts)
	}
	if cfg.SessionTimeout != 10*time.Minute {
		t.Fatalf("unexpected SessionTimeout: %v", cfg.SessionTimeout)
	}
}

func TestValidateRequiresSecretInRelease(t *testing.T) {
	cfg := &Config{
		GinMode:           "release",
		MaxLoginAttempts:  5,
		PasswordMinLength: 8,
	}
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected validation error without a session secret in release mode")
	}
}
