package hconfig

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadEmbeddedDefaultWhenNoFileFound(t *testing.T) {
	dir := t.TempDir()
	wd, _ := os.Getwd()
	t.Chdir(dir)
	defer t.Chdir(wd)

	cfg := Load("")
	if cfg.GetHTTPPort() != 1900 {
		t.Fatalf("expected default http_port 1900, got %d", cfg.GetHTTPPort())
	}
	if cfg.GetACLEnabled() {
		t.Fatal("expected acl.enabled to default to false")
	}
	if _, err := os.Stat(filepath.Join(dir, localConfigName)); err != nil {
		t.Fatalf("expected the default config to be persisted locally: %v", err)
	}
}

func TestLoadExplicitFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "custom.yml")
	os.WriteFile(path, []byte("host:\n  http_port: 9001\n"), 0644)

	cfg := Load(path)
	if cfg.GetHTTPPort() != 9001 {
		t.Fatalf("expected http_port 9001 from the explicit file, got %d", cfg.GetHTTPPort())
	}
}

func TestEnvOverride(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "custom.yml")
	os.WriteFile(path, []byte("host:\n  http_port: 9001\n"), 0644)

	t.Setenv("HALYARD_CONFIG__HOST__HTTP_PORT", "9100")
	cfg := Load(path)
	if cfg.GetHTTPPort() != 9100 {
		t.Fatalf("expected env override to win, got %d", cfg.GetHTTPPort())
	}
}

func TestSetValuePersists(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "custom.yml")
	os.WriteFile(path, []byte("host:\n  http_port: 9001\n"), 0644)

	cfg := Load(path)
	cfg.SetValue([]string{"host", "base_url"}, "http://10.0.0.5:1900")
	if cfg.GetBaseURL() != "http://10.0.0.5:1900" {
		t.Fatalf("expected the in-memory value to update immediately")
	}

	reloaded := Load(path)
	if reloaded.GetBaseURL() != "http://10.0.0.5:1900" {
		t.Fatalf("expected the persisted value to survive a reload, got %q", reloaded.GetBaseURL())
	}
}

func TestGetDeviceUDNGeneratesAndPersists(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "custom.yml")
	os.WriteFile(path, []byte("host:\n  http_port: 9001\n"), 0644)

	cfg := Load(path)
	udn1 := cfg.GetDeviceUDN("mediaserver", "living-room")
	udn2 := cfg.GetDeviceUDN("mediaserver", "living-room")
	if udn1 != udn2 {
		t.Fatalf("expected the same UDN across calls, got %q then %q", udn1, udn2)
	}

	reloaded := Load(path)
	if got := reloaded.GetDeviceUDN("mediaserver", "living-room"); got != udn1 {
		t.Fatalf("expected the UDN to survive a reload, got %q want %q", got, udn1)
	}
}
