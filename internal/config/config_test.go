package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, "model: some/model\n")
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Model != "some/model" {
		t.Fatalf("model = %q", cfg.Model)
	}
	if cfg.BaseURL != "https://openrouter.ai/api/v1" {
		t.Fatalf("base url default missing: %q", cfg.BaseURL)
	}
	if cfg.MaxToolIterations != 25 {
		t.Fatalf("max_tool_iterations default = %d", cfg.MaxToolIterations)
	}
	if cfg.TreeDebounce() != 300*time.Millisecond {
		t.Fatalf("tree debounce default = %s", cfg.TreeDebounce())
	}
	if cfg.RequestTimeout() != 90*time.Second {
		t.Fatalf("request timeout default = %s", cfg.RequestTimeout())
	}
}

func TestLoadRejectsBadTemperature(t *testing.T) {
	path := writeConfig(t, "temperature: 3.5\n")
	if _, err := Load(path); err == nil || !strings.Contains(err.Error(), "temperature") {
		t.Fatalf("err = %v", err)
	}
}

func TestLoadUserConfigMissingFileUsesDefaults(t *testing.T) {
	t.Setenv("MONOLITH_CONFIG_PATH", filepath.Join(t.TempDir(), "nope.yaml"))
	cfg, err := LoadUserConfig()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Model != DefaultModel {
		t.Fatalf("model = %q, want default", cfg.Model)
	}
}

func TestAPIKeyFallsBackToEnv(t *testing.T) {
	t.Setenv("MONOLITH_API_KEY", "sk-test")
	path := writeConfig(t, "model: m\n")
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.APIKey != "sk-test" {
		t.Fatalf("api key = %q", cfg.APIKey)
	}
}

func TestOverrideWorkspaceRootMakesAbsolute(t *testing.T) {
	var cfg Config
	cfg.OverrideWorkspaceRoot("relative/dir")
	if !filepath.IsAbs(cfg.WorkspaceRoot) {
		t.Fatalf("root not absolute: %q", cfg.WorkspaceRoot)
	}
	cfg.OverrideWorkspaceRoot("")
	if cfg.WorkspaceRoot == "" {
		t.Fatal("empty override must not clear the root")
	}
}

func TestGetConfigDirEnvOverride(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("MONOLITH_CONFIG_DIR", dir)
	if got := GetConfigDir(); got != dir {
		t.Fatalf("config dir = %q, want %q", got, dir)
	}
}
