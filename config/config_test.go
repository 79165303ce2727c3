package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeTestConfig(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeTestConfig(t, `
identity:
  private_key_path: /keys/id.hex
transport:
  base_url: https://example.test
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Storage.Backend != "memory" {
		t.Fatalf("expected default storage backend memory, got %q", cfg.Storage.Backend)
	}
	if cfg.Sync.PageSize != 100 {
		t.Fatalf("expected default page size 100, got %d", cfg.Sync.PageSize)
	}
	if cfg.Sync.PollIntervalSeconds != 30 {
		t.Fatalf("expected default poll interval 30, got %d", cfg.Sync.PollIntervalSeconds)
	}
	if cfg.Logging.Level != "info" {
		t.Fatalf("expected default logging level info, got %q", cfg.Logging.Level)
	}
}

func TestLoadRequiresIdentityAndBaseURL(t *testing.T) {
	path := writeTestConfig(t, `
storage:
  backend: memory
`)
	if _, err := Load(path); err == nil {
		t.Fatal("expected error for missing identity.private_key_path and transport.base_url")
	}
}

func TestLoadRequiresStorageDirForFileBackend(t *testing.T) {
	path := writeTestConfig(t, `
identity:
  private_key_path: /keys/id.hex
transport:
  base_url: https://example.test
storage:
  backend: file
`)
	if _, err := Load(path); err == nil {
		t.Fatal("expected error for file backend without storage.dir")
	}
}

func TestLoadRejectsUnknownLoggingLevel(t *testing.T) {
	path := writeTestConfig(t, `
identity:
  private_key_path: /keys/id.hex
transport:
  base_url: https://example.test
logging:
  level: verbose
`)
	if _, err := Load(path); err == nil {
		t.Fatal("expected error for unknown logging level")
	}
}

func TestLoadExpandsEnvVars(t *testing.T) {
	t.Setenv("HASHLEDGER_TEST_BASE_URL", "https://from-env.test")
	path := writeTestConfig(t, `
identity:
  private_key_path: /keys/id.hex
transport:
  base_url: ${HASHLEDGER_TEST_BASE_URL}
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Transport.BaseURL != "https://from-env.test" {
		t.Fatalf("expected env var expansion, got %q", cfg.Transport.BaseURL)
	}
}
