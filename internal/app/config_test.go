package app

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestEnvHelpers(t *testing.T) {
	t.Setenv("AFFILINK_T_STR", "  value ")
	t.Setenv("AFFILINK_T_BOOL", "nope")
	t.Setenv("AFFILINK_T_INT", "-4")
	t.Setenv("AFFILINK_T_DUR", "90s")
	t.Setenv("AFFILINK_T_CSV", " a, ,b ,")

	if got := EnvString("AFFILINK_T_STR", "def"); got != "value" {
		t.Fatalf("EnvString=%q", got)
	}
	if got := EnvBool("AFFILINK_T_BOOL", true); !got {
		t.Fatalf("EnvBool should fall back on garbage")
	}
	if got := EnvInt("AFFILINK_T_INT", 7); got != 7 {
		t.Fatalf("EnvInt should reject negatives, got %d", got)
	}
	if got := EnvDuration("AFFILINK_T_DUR", time.Second); got != 90*time.Second {
		t.Fatalf("EnvDuration=%v", got)
	}
	got := EnvCSV("AFFILINK_T_CSV", nil)
	if strings.Join(got, "|") != "a|b" {
		t.Fatalf("EnvCSV=%v", got)
	}
	if got := EnvCSV("AFFILINK_T_MISSING", []string{"x"}); len(got) != 1 || got[0] != "x" {
		t.Fatalf("EnvCSV default=%v", got)
	}
}

func TestLoadDotEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	if err := os.WriteFile(path, []byte("AFFILINK_T_DOTENV=from-file\nAFFILINK_T_PRESET=from-file\n"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	t.Setenv("AFFILINK_T_PRESET", "from-env")
	t.Setenv("AFFILINK_T_DOTENV", "")
	os.Unsetenv("AFFILINK_T_DOTENV")

	if err := LoadDotEnv(path); err != nil {
		t.Fatalf("LoadDotEnv: %v", err)
	}
	if got := os.Getenv("AFFILINK_T_DOTENV"); got != "from-file" {
		t.Fatalf("dotenv value=%q", got)
	}
	if got := os.Getenv("AFFILINK_T_PRESET"); got != "from-env" {
		t.Fatalf("existing env must win, got %q", got)
	}

	if err := LoadDotEnv(filepath.Join(dir, "missing.env")); err != nil {
		t.Fatalf("missing file should be ignored: %v", err)
	}
}

func TestDashboardURL(t *testing.T) {
	t.Parallel()

	cases := []struct {
		base, explicit, path, want string
	}{
		{"https://app.example.com", "", "/brand/dashboard", "https://app.example.com/brand/dashboard"},
		{"https://app.example.com", "", "brand/dashboard", "https://app.example.com/brand/dashboard"},
		{"https://app.example.com", "https://dash.example.com/home", "/ignored", "https://dash.example.com/home"},
	}
	for _, tc := range cases {
		if got := dashboardURL(tc.base, tc.explicit, tc.path); got != tc.want {
			t.Fatalf("dashboardURL(%q,%q,%q)=%q want %q", tc.base, tc.explicit, tc.path, got, tc.want)
		}
	}
}

func TestConfigCallbackURLs(t *testing.T) {
	t.Parallel()

	cfg := Config{PublicURL: "https://affilink.example.com"}
	if got := cfg.CallbackURL(); got != "https://affilink.example.com/shopify/callback" {
		t.Fatalf("CallbackURL=%q", got)
	}
	if got := cfg.WebhookURL(); got != "https://affilink.example.com/webhooks/shopify/orders-paid" {
		t.Fatalf("WebhookURL=%q", got)
	}
}
