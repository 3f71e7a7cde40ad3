package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

// isolate moves the test into an empty directory with no user config and
// clears every environment variable the package reads.
func isolate(t *testing.T) string {
	t.Helper()
	tempDir := t.TempDir()
	wd, err := os.Getwd()
	if err != nil {
		t.Fatalf("failed to get working directory: %v", err)
	}
	if err := os.Chdir(tempDir); err != nil {
		t.Fatalf("failed to change directory: %v", err)
	}
	t.Cleanup(func() { _ = os.Chdir(wd) })

	t.Setenv("XDG_CONFIG_HOME", filepath.Join(tempDir, "xdg"))
	t.Setenv("HOME", filepath.Join(tempDir, "home"))
	for _, k := range []string{
		"PORT", "CUKEDASH_PORT", "HEADLESS", "CUKEDASH_HEADLESS",
		"CUKEDASH_FEATURES_DIR", "CUKEDASH_WORK_DIR", "CUKEDASH_RESULTS_FILE",
		"CUKEDASH_HISTORY_DB", "CUKEDASH_KILL_GRACE", "CUKEDASH_LOG_LEVEL", "CUKEDASH_LOG_FORMAT",
		"JIRA_URL", "JIRA_EMAIL", "JIRA_API_TOKEN", "JIRA_FILTER_ID", "JIRA_PROJECT_KEY",
	} {
		t.Setenv(k, "")
	}
	return tempDir
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}
}

func TestGetConfigPath_ReturnsLocalConfig_When_FileExists(t *testing.T) {
	tempDir := isolate(t)
	writeFile(t, filepath.Join(tempDir, ".cukedash.yaml"), "port: 4000\n")

	if got := getConfigPath(""); got != ".cukedash.yaml" {
		t.Fatalf("expected local config path, got %q", got)
	}
}

func TestGetConfigPath_UsesXDGPath_When_LocalMissing(t *testing.T) {
	tempDir := isolate(t)
	configPath := filepath.Join(tempDir, "xdg", "cukedash", ".cukedash.yaml")
	writeFile(t, configPath, "port: 4000\n")

	if got := getConfigPath(""); got != configPath {
		t.Fatalf("expected XDG config path %q, got %q", configPath, got)
	}
}

func TestGetConfigPath_ReturnsEmpty_When_NoConfigAvailable(t *testing.T) {
	isolate(t)

	if got := getConfigPath(""); got != "" {
		t.Fatalf("expected empty path, got %q", got)
	}
}

func TestGetConfigPath_PrefersExplicitPath(t *testing.T) {
	tempDir := isolate(t)
	writeFile(t, filepath.Join(tempDir, ".cukedash.yaml"), "port: 4000\n")

	if got := getConfigPath("/etc/other.yaml"); got != "/etc/other.yaml" {
		t.Fatalf("expected explicit path, got %q", got)
	}
}

func TestLoadConfig_ReturnsDefaults_When_NoFile(t *testing.T) {
	isolate(t)

	cfg, path, err := LoadConfig("")
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if path != "" {
		t.Errorf("path = %q, want empty", path)
	}
	if cfg.Port != DefaultPort || cfg.ResultsFile != DefaultResultsFile || cfg.KillGrace != DefaultKillGrace {
		t.Errorf("unexpected defaults: %+v", cfg)
	}
	if cfg.Headless == nil || !*cfg.Headless {
		t.Errorf("headless should default to true")
	}
}

func TestLoadConfig_MergesFileOntoDefaults(t *testing.T) {
	tempDir := isolate(t)
	writeFile(t, filepath.Join(tempDir, ".cukedash.yaml"), `
port: 8080
headless: false
kill_grace: 2s
runner:
  config_file: ci.cucumber.json
jira:
  url: https://example.atlassian.net
  project_key: SHOP
`)

	cfg, path, err := LoadConfig("")
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if path != ".cukedash.yaml" {
		t.Errorf("path = %q", path)
	}
	if cfg.Port != 8080 {
		t.Errorf("port = %d, want 8080", cfg.Port)
	}
	if *cfg.Headless {
		t.Errorf("headless should be false from file")
	}
	if cfg.KillGrace != 2*time.Second {
		t.Errorf("kill_grace = %s", cfg.KillGrace)
	}
	if cfg.Runner.Command != DefaultRunnerCommand {
		t.Errorf("runner.command = %q, want default", cfg.Runner.Command)
	}
	wantArgs := []string{"cucumber-js", "--config", "ci.cucumber.json"}
	if len(cfg.Runner.Args) != 3 || cfg.Runner.Args[2] != wantArgs[2] {
		t.Errorf("runner.args = %v, want %v", cfg.Runner.Args, wantArgs)
	}
	if cfg.Jira.ProjectKey != "SHOP" {
		t.Errorf("jira.project_key = %q", cfg.Jira.ProjectKey)
	}
	if cfg.FeaturesDir != DefaultFeaturesDir {
		t.Errorf("features_dir = %q, want default", cfg.FeaturesDir)
	}
}

func TestLoadConfig_ReturnsError_When_ExplicitFileMissing(t *testing.T) {
	isolate(t)

	if _, _, err := LoadConfig("missing.yaml"); err == nil {
		t.Fatal("expected error for missing explicit config")
	}
}

func TestLoadConfig_ReturnsError_When_YAMLMalformed(t *testing.T) {
	tempDir := isolate(t)
	writeFile(t, filepath.Join(tempDir, ".cukedash.yaml"), "port: [unterminated\n")

	if _, _, err := LoadConfig(""); err == nil {
		t.Fatal("expected parse error")
	}
}
