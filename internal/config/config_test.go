package config_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"khidma/internal/config"
)

func TestGenerateDefaultParses(t *testing.T) {
	cfg, err := config.FromYAML([]byte(config.GenerateDefault("secret-123")))
	if err != nil {
		t.Fatalf("generated config invalid: %v", err)
	}
	if cfg.Auth.JWTSecret != "secret-123" {
		t.Fatalf("jwt secret %q", cfg.Auth.JWTSecret)
	}
	if cfg.Speech.Language == "" {
		t.Fatal("default language missing")
	}
}

func TestFromYAMLValidation(t *testing.T) {
	cases := []struct {
		name string
		yaml string
		want string
	}{
		{"missing base url", `
model:
  name: gpt-4o-mini
speech:
  language: ar-SA
auth:
  jwt_secret: s
`, "base_url is required"},
		{"non-http base url", `
model:
  base_url: ftp://example.com
  name: gpt-4o-mini
speech:
  language: ar-SA
auth:
  jwt_secret: s
`, "http(s)"},
		{"bad recognizer scheme", `
model:
  base_url: https://api.example.com/v1
  name: gpt-4o-mini
speech:
  recognizer_url: https://not-a-socket
  language: ar-SA
auth:
  jwt_secret: s
`, "ws(s)"},
		{"missing jwt secret", `
model:
  base_url: https://api.example.com/v1
  name: gpt-4o-mini
speech:
  language: ar-SA
`, "jwt_secret"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := config.FromYAML([]byte(tc.yaml))
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("error %q does not mention %q", err, tc.want)
			}
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	dir := t.TempDir()
	if _, err := config.Load(dir); err == nil || !strings.Contains(err.Error(), "config init") {
		t.Fatalf("expected hint to run config init, got %v", err)
	}
	cfg, err := config.LoadOptional(dir)
	if err != nil || cfg != nil {
		t.Fatalf("optional load: cfg=%v err=%v", cfg, err)
	}
}

func TestLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := config.Path(dir)
	if filepath.Base(path) != "khidma.yml" {
		t.Fatalf("config path %s", path)
	}
	if err := os.WriteFile(path, []byte(config.GenerateDefault("s1")), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	cfg, err := config.Load(dir)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Model.BaseURL == "" || cfg.Auth.JWTSecret != "s1" {
		t.Fatalf("round trip: %+v", cfg)
	}
}
