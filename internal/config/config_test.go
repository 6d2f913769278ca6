package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

const secret = "0123456789abcdef0123456789abcdef"

func lookupFrom(m map[string]string) func(string) (string, bool) {
	return func(k string) (string, bool) {
		v, ok := m[k]
		return v, ok
	}
}

func TestDefaults(t *testing.T) {
	cfg, err := FromLookup(lookupFrom(map[string]string{"MEDCONSULT_JWT_SECRET": secret}))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.HTTPAddr != ":8080" || cfg.DSN != "" || cfg.TokenTTL != 24*time.Hour {
		t.Fatalf("unexpected defaults %+v", cfg)
	}
	if len(cfg.PublicPrefixes) != 1 || cfg.PublicPrefixes[0] != "/api/auth/" {
		t.Fatalf("unexpected public prefixes %v", cfg.PublicPrefixes)
	}
	cfg.PublicPaths[0] = "/mutated"
	if DefaultPublicPaths[0] == "/mutated" {
		t.Fatal("defaults must be copied")
	}
}

func TestOverridesAndLists(t *testing.T) {
	cfg, err := FromLookup(lookupFrom(map[string]string{
		"MEDCONSULT_JWT_SECRET":   secret,
		"MEDCONSULT_PUBLIC_PATHS": " /a , ,/b ",
		"MEDCONSULT_TOKEN_TTL":    "90m",
		"MEDCONSULT_SEED_DEMO":    "true",
		"MEDCONSULT_NOTIFY_QUEUE": "8",
	}))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if strings.Join(cfg.PublicPaths, "|") != "/a|/b" {
		t.Fatalf("unexpected list %v", cfg.PublicPaths)
	}
	if cfg.TokenTTL != 90*time.Minute || !cfg.SeedDemo || cfg.NotifyQueue != 8 {
		t.Fatalf("overrides not applied: %+v", cfg)
	}
}

func TestValidation(t *testing.T) {
	if _, err := FromLookup(lookupFrom(nil)); err == nil || !strings.Contains(err.Error(), "JWT_SECRET is required") {
		t.Fatalf("expected missing secret error, got %v", err)
	}
	_, err := FromLookup(lookupFrom(map[string]string{
		"MEDCONSULT_JWT_SECRET":   "short",
		"MEDCONSULT_NOTIFY_QUEUE": "lots",
	}))
	if err == nil || !strings.Contains(err.Error(), "NOTIFY_QUEUE") {
		t.Fatalf("expected parse error, got %v", err)
	}
}

func TestLoadReadsDotEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "test.env")
	content := "MEDCONSULT_JWT_SECRET=" + secret + "\nMEDCONSULT_HTTP_ADDR=:9999\n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write env: %v", err)
	}
	t.Setenv("MEDCONSULT_JWT_SECRET", "")
	os.Unsetenv("MEDCONSULT_JWT_SECRET")
	t.Setenv("MEDCONSULT_HTTP_ADDR", ":7000")

	cfg, err := Load(path, filepath.Join(dir, "missing.env"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.JWTSecret != secret {
		t.Fatalf("secret not read from file")
	}
	if cfg.HTTPAddr != ":7000" {
		t.Fatalf("process environment must win, got %q", cfg.HTTPAddr)
	}
}
