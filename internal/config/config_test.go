package config

import "testing"

func TestLoadDoesNotInjectWeakAuthDefaults(t *testing.T) {
	t.Setenv("AUTH_SECRET", "")

	cfg := Load()
	if cfg.AuthSecret != "" {
		t.Fatalf("expected empty AUTH_SECRET when unset, got %q", cfg.AuthSecret)
	}
}

func TestLoadDefaults(t *testing.T) {
	t.Setenv("PORT", "")
	t.Setenv("ACCESS_TOKEN_TTL_MINUTES", "")
	t.Setenv("REPORT_CACHE_TTL_SECONDS", "")

	cfg := Load()
	if cfg.Port != "8080" {
		t.Errorf("Port = %q, want 8080", cfg.Port)
	}
	if cfg.AccessTokenTTLMinutes != 480 {
		t.Errorf("AccessTokenTTLMinutes = %d, want 480", cfg.AccessTokenTTLMinutes)
	}
	if cfg.ReportCacheTTLSeconds != 30 {
		t.Errorf("ReportCacheTTLSeconds = %d, want 30", cfg.ReportCacheTTLSeconds)
	}
	if cfg.Address() != ":8080" {
		t.Errorf("Address() = %q, want :8080", cfg.Address())
	}
}

func TestLoadRejectsBadTTLs(t *testing.T) {
	t.Setenv("ACCESS_TOKEN_TTL_MINUTES", "-5")
	t.Setenv("REPORT_CACHE_TTL_SECONDS", "abc")

	cfg := Load()
	if cfg.AccessTokenTTLMinutes != 480 {
		t.Errorf("AccessTokenTTLMinutes = %d, want fallback 480", cfg.AccessTokenTTLMinutes)
	}
	if cfg.ReportCacheTTLSeconds != 30 {
		t.Errorf("ReportCacheTTLSeconds = %d, want fallback 30", cfg.ReportCacheTTLSeconds)
	}
}

func TestLoadReadsOverrides(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("AUTH_SECRET", "  some-long-secret-value-padded-out  ")
	t.Setenv("REDIS_ADDR", "127.0.0.1:6379")
	t.Setenv("REDIS_DB", "2")

	cfg := Load()
	if cfg.Port != "9090" {
		t.Errorf("Port = %q, want 9090", cfg.Port)
	}
	if cfg.AuthSecret != "some-long-secret-value-padded-out" {
		t.Errorf("AuthSecret = %q, want trimmed value", cfg.AuthSecret)
	}
	if cfg.RedisAddr != "127.0.0.1:6379" || cfg.RedisDB != 2 {
		t.Errorf("redis config = %q/%d", cfg.RedisAddr, cfg.RedisDB)
	}
}
