package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestLoadYAMLAndEnvPriority(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "api.yaml")
	doc := `
server_addr: ":9090"
database:
  url: postgres://file/db
moderation:
  deleted_is_terminal: true
ws:
  send_buffer_size: 32
`
	if err := os.WriteFile(path, []byte(doc), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("APP_ENV", "production")
	t.Setenv("CONFIG_PATH", path)
	t.Setenv("DATABASE_URL", "postgres://env/db")
	t.Setenv("INTAKE_RATE_PER_MINUTE", "9")

	cfg := Load()
	if cfg.ServerAddr != ":9090" {
		t.Errorf("ServerAddr = %q", cfg.ServerAddr)
	}
	if cfg.Database.URL != "postgres://env/db" {
		t.Errorf("env must win over yaml, got %q", cfg.Database.URL)
	}
	if !cfg.Moderation.DeletedIsTerminal {
		t.Error("deleted_is_terminal not loaded")
	}
	if cfg.WS.SendBufferSize != 32 || cfg.WS.PongTimeout != 60 {
		t.Errorf("ws = %+v, want yaml value and default kept", cfg.WS)
	}
	if cfg.RateLimit.IntakePerMinute != 9 {
		t.Errorf("IntakePerMinute = %d", cfg.RateLimit.IntakePerMinute)
	}
	if cfg.Blob.MaxUploadSize() != 10<<20 {
		t.Errorf("MaxUploadSize = %d", cfg.Blob.MaxUploadSize())
	}
}

func TestLoadEnvFromKeepsExisting(t *testing.T) {
	t.Setenv("SUPPORT_TEST_KEPT", "outer")
	t.Setenv("SUPPORT_TEST_NEW", "")
	loadEnvFrom(strings.NewReader(`
# comment
SUPPORT_TEST_KEPT=inner
SUPPORT_TEST_NEW="quoted value"
`))
	if got := os.Getenv("SUPPORT_TEST_KEPT"); got != "outer" {
		t.Errorf("existing value overwritten: %q", got)
	}
	if got := os.Getenv("SUPPORT_TEST_NEW"); got != "quoted value" {
		t.Errorf("SUPPORT_TEST_NEW = %q", got)
	}
}

func TestEnvBoolFallback(t *testing.T) {
	t.Setenv("SUPPORT_TEST_BOOL", "maybe")
	if !envBool("SUPPORT_TEST_BOOL", true) {
		t.Error("unparseable value must fall back")
	}
}
